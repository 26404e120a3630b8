// Command provision seeds the key broker's external collaborators: it writes
// secret values into Vault, installs a read-scoped Vault ACL policy and token
// for the broker, and publishes policy records to the policy store. This is
// deployment glue; the session engine itself never writes secrets or
// policies.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/ruteri/tee-key-broker/cmd/flags"
	"github.com/ruteri/tee-key-broker/cryptoutils"
	"github.com/ruteri/tee-key-broker/interfaces"
	"github.com/ruteri/tee-key-broker/storage"
	"github.com/urfave/cli/v2"
)

// PolicyWriter is satisfied by the file and S3 policy stores.
type PolicyWriter interface {
	WritePolicy(ctx context.Context, policy *interfaces.Policy) error
}

func main() {
	app := &cli.App{
		Name:  "kbs-provision",
		Usage: "Provision secrets, access tokens, and policy records for the key broker",
		Flags: []cli.Flag{
			flags.VaultAddrFlag,
			flags.VaultTokenFlag,
			flags.VaultMountFlag,
			flags.VaultPrefixFlag,
			flags.PolicyStoreFlag,
			flags.LogJsonFlag,
			flags.LogDebugFlag,
			flags.LogUidFlag,
			flags.LogServiceFlag,
		},
		Commands: []*cli.Command{
			{
				Name:  "secret",
				Usage: "write a secret value into the Vault KV v2 mount",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true, Usage: "secret identifier"},
					&cli.StringFlag{Name: "value", Required: true, Usage: "secret value"},
				},
				Action: writeSecret,
			},
			{
				Name:   "token",
				Usage:  "install a read-only ACL policy for the broker path and mint a scoped token",
				Action: mintReadToken,
			},
			{
				Name:  "policy",
				Usage: "publish a policy record to the policy store",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true, Usage: "secret identifier the policy guards"},
					&cli.StringFlag{Name: "firmware-digest", Required: true, Usage: "expected firmware digest, 64-char hex"},
					&cli.StringFlag{Name: "kernel-digest", Required: true, Usage: "expected kernel digest, 64-char hex"},
					&cli.StringFlag{Name: "initrd-digest", Required: true, Usage: "expected initrd digest, 64-char hex"},
					&cli.UintFlag{Name: "build-id", Required: true, Usage: "exact platform build the guest must run"},
					&cli.UintFlag{Name: "min-api-major", Value: 0},
					&cli.UintFlag{Name: "min-api-minor", Value: 0},
					&cli.UintFlag{Name: "max-api-major", Value: 255},
					&cli.UintFlag{Name: "max-api-minor", Value: 255},
					&cli.UintFlag{Name: "required-flags", Value: 0, Usage: "platform policy flags the guest must declare"},
				},
				Action: writePolicy,
			},
			{
				Name:   "demo",
				Usage:  "seed the demo secret and its policy record (secret id 'fakeid', value 'test', build 3)",
				Action: seedDemo,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func vaultClient(cCtx *cli.Context) (*vault.Client, error) {
	config := vault.DefaultConfig()
	config.Address = cCtx.String(flags.VaultAddrFlag.Name)

	client, err := vault.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	token := cCtx.String(flags.VaultTokenFlag.Name)
	if token == "" {
		return nil, fmt.Errorf("vault-token is required for provisioning")
	}
	client.SetToken(token)
	return client, nil
}

func secretDataPath(cCtx *cli.Context, id string) string {
	return fmt.Sprintf("%s/data/%s/%s",
		cCtx.String(flags.VaultMountFlag.Name),
		cCtx.String(flags.VaultPrefixFlag.Name), id)
}

func writeSecretValue(cCtx *cli.Context, id, value string) error {
	client, err := vaultClient(cCtx)
	if err != nil {
		return err
	}

	secretID, err := interfaces.NewSecretID(id)
	if err != nil {
		return err
	}

	_, err = client.Logical().WriteWithContext(cCtx.Context, secretDataPath(cCtx, secretID.String()),
		map[string]interface{}{
			"data": map[string]interface{}{
				"secret": value,
			},
		})
	if err != nil {
		return fmt.Errorf("failed to write secret: %w", err)
	}
	return nil
}

func writeSecret(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	id := cCtx.String("id")

	if err := writeSecretValue(cCtx, id, cCtx.String("value")); err != nil {
		return err
	}

	logger.Info("Secret provisioned", "secret_id", id)
	return nil
}

// mintReadToken installs an ACL policy granting read-only access to the
// broker's secret path and creates a token carrying only that policy. The
// broker runs with this token, not the provisioning token.
func mintReadToken(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	client, err := vaultClient(cCtx)
	if err != nil {
		return err
	}

	mount := cCtx.String(flags.VaultMountFlag.Name)
	prefix := cCtx.String(flags.VaultPrefixFlag.Name)
	policyName := "kbs-read"

	rules := fmt.Sprintf("path \"%s/data/%s/*\" {\n  capabilities = [\"read\"]\n}\n", mount, prefix)
	if err := client.Sys().PutPolicyWithContext(cCtx.Context, policyName, rules); err != nil {
		return fmt.Errorf("failed to install ACL policy: %w", err)
	}

	secret, err := client.Auth().Token().CreateWithContext(cCtx.Context, &vault.TokenCreateRequest{
		Policies:    []string{policyName},
		NoParent:    true,
		DisplayName: "kbs-server",
	})
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}

	logger.Info("Read-only token minted", "policy", policyName)
	fmt.Println(secret.Auth.ClientToken)
	return nil
}

func policyWriter(cCtx *cli.Context) (PolicyWriter, error) {
	factory := storage.NewFactory(flags.SetupLogger(cCtx))
	store, err := factory.PolicyStoreFor(cCtx.String(flags.PolicyStoreFlag.Name))
	if err != nil {
		return nil, err
	}

	writer, ok := store.(PolicyWriter)
	if !ok {
		return nil, fmt.Errorf("policy store does not support provisioning writes")
	}
	return writer, nil
}

func writePolicy(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	secretID, err := interfaces.NewSecretID(cCtx.String("id"))
	if err != nil {
		return err
	}

	firmware, err := cryptoutils.NewMeasurementDigestFromHex(cCtx.String("firmware-digest"))
	if err != nil {
		return fmt.Errorf("invalid firmware digest: %w", err)
	}
	kernel, err := cryptoutils.NewMeasurementDigestFromHex(cCtx.String("kernel-digest"))
	if err != nil {
		return fmt.Errorf("invalid kernel digest: %w", err)
	}
	initrd, err := cryptoutils.NewMeasurementDigestFromHex(cCtx.String("initrd-digest"))
	if err != nil {
		return fmt.Errorf("invalid initrd digest: %w", err)
	}

	policy := &interfaces.Policy{
		SecretID:       secretID,
		FirmwareDigest: firmware,
		KernelDigest:   kernel,
		InitrdDigest:   initrd,
		BuildID:        uint8(cCtx.Uint("build-id")),
		MinAPIMajor:    uint8(cCtx.Uint("min-api-major")),
		MinAPIMinor:    uint8(cCtx.Uint("min-api-minor")),
		MaxAPIMajor:    uint8(cCtx.Uint("max-api-major")),
		MaxAPIMinor:    uint8(cCtx.Uint("max-api-minor")),
		RequiredFlags:  uint32(cCtx.Uint("required-flags")),
	}

	writer, err := policyWriter(cCtx)
	if err != nil {
		return err
	}
	if err := writer.WritePolicy(cCtx.Context, policy); err != nil {
		return err
	}

	logger.Info("Policy record published", "secret_id", secretID.String())
	return nil
}

// seedDemo provisions the demo fixture: secret id "fakeid" holding the value
// "test", unlockable by a guest running build 3 with no required flags.
func seedDemo(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	if err := writeSecretValue(cCtx, "fakeid", "test"); err != nil {
		return err
	}

	policy := &interfaces.Policy{
		SecretID:       "fakeid",
		FirmwareDigest: cryptoutils.ComputeMeasurementDigest([]byte("demo-firmware")),
		KernelDigest:   cryptoutils.ComputeMeasurementDigest([]byte("demo-kernel")),
		InitrdDigest:   cryptoutils.ComputeMeasurementDigest([]byte("demo-initrd")),
		BuildID:        3,
		MaxAPIMajor:    255,
		MaxAPIMinor:    255,
	}

	writer, err := policyWriter(cCtx)
	if err != nil {
		return err
	}
	if err := writer.WritePolicy(cCtx.Context, policy); err != nil {
		return err
	}

	logger.Info("Demo fixture provisioned", "secret_id", "fakeid")
	return nil
}
