package tokenhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ruteri/seedless-backup/interfaces"
)

// Client fetches realm tokens from a token issuer. It implements interfaces.TokenIssuer.
type Client struct {
	BaseURL string
	AppName string
	Client  *http.Client
}

func NewClient(baseURL, appName string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		AppName: appName,
		Client:  http.DefaultClient,
	}
}

func (c *Client) IssueToken(ctx context.Context, realmID string, identity interfaces.Identity) (string, error) {
	email, err := interfaces.NormalizeEmail(identity.Email)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(&CreateJWTRequest{
		RealmID: realmID,
		Email:   email,
		Source:  SourceGoogleAuth,
		AppName: c.AppName,
	})
	if err != nil {
		return "", fmt.Errorf("could not encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/create-jwt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("could not request token: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("could not read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token issuer returned %d for realm %s: %s", resp.StatusCode, realmID, strings.TrimSpace(string(respBody)))
	}

	return strings.TrimSpace(string(respBody)), nil
}
