package kbshandler

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ruteri/tee-key-broker/api"
	"github.com/ruteri/tee-key-broker/interfaces"
)

// Client is the guest-side counterpart of the protocol handler.
type Client struct {
	// ServerAddr is the base URL of the key broker server.
	ServerAddr string

	// HTTPClient defaults to http.DefaultClient when nil.
	HTTPClient *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// StartSession opens an attestation session and returns the challenge.
func (c *Client) StartSession(ctx context.Context, secretID interfaces.SecretID, guestCtx interfaces.GuestContext) (*api.StartSessionResponse, error) {
	body, err := json.Marshal(api.StartSessionRequest{
		SecretID:     secretID.String(),
		GuestContext: guestCtx,
	})
	if err != nil {
		return nil, err
	}

	var parsed api.StartSessionResponse
	if err := c.post(ctx, fmt.Sprintf("%s/kbs/v0/session", c.ServerAddr), body, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

// SubmitMeasurement submits the guest's launch digest and returns the verdict.
func (c *Client) SubmitMeasurement(ctx context.Context, sessionID string, digest []byte) (bool, error) {
	body, err := json.Marshal(api.SubmitMeasurementRequest{
		Digest: hex.EncodeToString(digest),
	})
	if err != nil {
		return false, err
	}

	var parsed api.SubmitMeasurementResponse
	url := fmt.Sprintf("%s/kbs/v0/session/%s/measurement", c.ServerAddr, sessionID)
	if err := c.post(ctx, url, body, &parsed); err != nil {
		return false, err
	}
	return parsed.Verified, nil
}

// FetchSecret collects the secret of a verified session.
func (c *Client) FetchSecret(ctx context.Context, sessionID string) ([]byte, error) {
	url := fmt.Sprintf("%s/kbs/v0/session/%s/secret", c.ServerAddr, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not request secret endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError("secret", resp)
	}

	return io.ReadAll(resp.Body)
}

func (c *Client) post(ctx context.Context, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("could not request session endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError("session", resp)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func responseError(endpoint string, resp *http.Response) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s endpoint returned non-200 response: %d", endpoint, resp.StatusCode)
	}
	return fmt.Errorf("%s endpoint returned error %d: %s", endpoint, resp.StatusCode, string(bodyBytes))
}
