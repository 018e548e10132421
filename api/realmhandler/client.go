package realmhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ruteri/seedless-backup/interfaces"
	"github.com/ruteri/seedless-backup/realms"
)

// Client talks to one realm over HTTP. It implements interfaces.RealmConn and
// maps realm status codes back onto the typed errors the share store expects.
type Client struct {
	BaseURL string
	Client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimSuffix(baseURL, "/"), Client: http.DefaultClient}
}

// Dial adapts NewClient for realms.Connect.
func Dial(realm realms.RealmConfig) interfaces.RealmConn {
	return NewClient(realm.Address)
}

func (c *Client) Register(ctx context.Context, token, secretID string, req *interfaces.RealmRegisterRequest) error {
	_, err := c.do(ctx, http.MethodPut, c.secretURL(secretID, ""), token, req)
	return err
}

func (c *Client) Recover(ctx context.Context, token, secretID string, req *interfaces.RealmRecoverRequest) (*interfaces.RealmRecoverResponse, error) {
	body, err := c.do(ctx, http.MethodPost, c.secretURL(secretID, "/recover"), token, req)
	if err != nil {
		return nil, err
	}

	var resp interfaces.RealmRecoverResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("could not parse realm response: %w", err)
	}
	return &resp, nil
}

func (c *Client) Delete(ctx context.Context, token, secretID string) error {
	_, err := c.do(ctx, http.MethodDelete, c.secretURL(secretID, ""), token, nil)
	return err
}

func (c *Client) secretURL(secretID, suffix string) string {
	return fmt.Sprintf("%s/v1/secrets/%s%s", c.BaseURL, url.PathEscape(secretID), suffix)
}

func (c *Client) do(ctx context.Context, method, target, token string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("could not encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.Client == nil {
		c.Client = http.DefaultClient
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not reach realm: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read realm response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	var errResp ErrorResponse
	_ = json.Unmarshal(body, &errResp)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return nil, realms.ErrUnauthorized
	case http.StatusForbidden:
		return nil, interfaces.WrongPinError(errResp.GuessesRemaining)
	case http.StatusLocked:
		return nil, interfaces.NewError(interfaces.KindLocked, "too many incorrect PIN attempts", nil)
	case http.StatusNotFound:
		return nil, realms.ErrNotRegistered
	case http.StatusTooManyRequests:
		return nil, realms.ErrRateLimited
	case http.StatusBadRequest:
		return nil, interfaces.ValidationError("realm rejected request: %s", errResp.Message)
	default:
		return nil, fmt.Errorf("realm returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
