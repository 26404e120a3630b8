package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/tee-key-broker/api/kbshandler"
	"github.com/ruteri/tee-key-broker/cmd/flags"
	"github.com/ruteri/tee-key-broker/httpserver"
	"github.com/ruteri/tee-key-broker/secrets"
	"github.com/ruteri/tee-key-broker/sessions"
	"github.com/ruteri/tee-key-broker/storage"
	"github.com/urfave/cli/v2"
)

var kbsFlags []cli.Flag = append([]cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for the key broker API",
	},
	&cli.StringFlag{
		Name:  "session-store",
		Value: "mem://",
		Usage: "session store URI",
	},
	&cli.DurationFlag{
		Name:  "session-ttl",
		Value: sessions.DefaultSessionTTL,
		Usage: "deadline for a guest to complete attestation and collect its secret",
	},
	flags.PolicyStoreFlag,
	flags.VaultAddrFlag,
	flags.VaultTokenFlag,
	flags.VaultMountFlag,
	flags.VaultPrefixFlag,
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "kbs-server",
		Usage: "Serve the key broker attestation API",
		Flags: kbsFlags,
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String("listen-addr")
			sessionStoreURI := cCtx.String("session-store")
			sessionTTL := cCtx.Duration("session-ttl")
			policyStoreURI := cCtx.String(flags.PolicyStoreFlag.Name)
			vaultAddr := cCtx.String(flags.VaultAddrFlag.Name)
			vaultToken := cCtx.String(flags.VaultTokenFlag.Name)
			vaultMount := cCtx.String(flags.VaultMountFlag.Name)
			vaultPrefix := cCtx.String(flags.VaultPrefixFlag.Name)

			logger := flags.SetupLogger(cCtx)

			if vaultToken == "" {
				logger.Error("vault-token is required")
				return cli.Exit("vault-token is required", 1)
			}

			secretBackend, err := secrets.NewVaultBackend(vaultAddr, vaultToken, vaultMount, vaultPrefix, logger)
			if err != nil {
				logger.Error("Failed to create Vault backend", "err", err)
				return err
			}
			logger.Info("Secret backend configured", "location", secretBackend.LocationURI())

			storageFactory := storage.NewFactory(logger)

			sessionStore, err := storageFactory.SessionStoreFor(sessionStoreURI)
			if err != nil {
				logger.Error("Failed to create session store", "err", err)
				return err
			}

			policyStore, err := storageFactory.PolicyStoreFor(policyStoreURI)
			if err != nil {
				logger.Error("Failed to create policy store", "err", err)
				return err
			}

			manager := sessions.NewManager(sessionStore, policyStore, secretBackend, sessionTTL, logger)
			handler := kbshandler.NewHandler(manager, logger)

			cfg := flags.ConfigureServer(cCtx, logger, listenAddr)
			server, err := httpserver.New(cfg, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server", "sessionTTL", sessionTTL.String())
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
