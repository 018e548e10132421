package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/seedless-backup/interfaces"
)

// IdempotencyKeyHeader carries the idempotency key of a backup PUT.
const IdempotencyKeyHeader = "Idempotency-Key"

// DataAPIBackend is a BackupStore backed by a remote backup data API.
//
//	PUT /v1/apps/{appId}/backups/{uid}/wallets/{walletId}   (Idempotency-Key header)
//	GET /v1/apps/{appId}/backups/{uid}/wallets/{walletId}   404 when missing
//	GET /v1/apps/{appId}/backups/{uid}/wallets
type DataAPIBackend struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

func NewDataAPIBackend(baseURL string, log *slog.Logger) *DataAPIBackend {
	return &DataAPIBackend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

func (d *DataAPIBackend) PutBackup(ctx context.Context, key interfaces.BackupKey, payload *interfaces.BackupPayload, idempotencyKey string) error {
	// Validate locally so bad input never reaches the network.
	rec, err := newRecord(key, payload, idempotencyKey)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("could not encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, d.walletURL(key), bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyKeyHeader, idempotencyKey)

	_, _, err = d.do(req)
	return err
}

func (d *DataAPIBackend) ListBackups(ctx context.Context, appID, uid string) ([]interfaces.BackupSummary, error) {
	if err := validateListArgs(appID, uid); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.walletsURL(appID, uid), nil)
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}

	body, _, err := d.do(req)
	if err != nil {
		return nil, err
	}

	summaries, err := decodeSummaries(body)
	if err != nil {
		return nil, fmt.Errorf("could not parse backup listing: %w", err)
	}
	return summaries, nil
}

func (d *DataAPIBackend) GetBackup(ctx context.Context, key interfaces.BackupKey) (*interfaces.BackupRecord, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.walletURL(key), nil)
	if err != nil {
		return nil, false, fmt.Errorf("could not initialize request: %w", err)
	}

	body, header, err := d.do(req)
	if errors.Is(err, interfaces.ErrBackupNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var payload interfaces.BackupPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false, fmt.Errorf("could not parse backup: %w", err)
	}

	return &interfaces.BackupRecord{
		AppID:          key.AppID,
		UID:            key.UID,
		IdempotencyKey: header.Get(IdempotencyKeyHeader),
		Payload:        payload,
	}, true, nil
}

// Available checks the server's liveness endpoint.
func (d *DataAPIBackend) Available(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(pctx, http.MethodGet, d.baseURL+"/livez", nil)
	if err != nil {
		return false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Debug("Data API unavailable", slog.String("url", d.baseURL), "err", err)
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (d *DataAPIBackend) Name() string {
	if u, err := url.Parse(d.baseURL); err == nil && u.Host != "" {
		return "dataapi-" + u.Host
	}
	return "dataapi"
}

func (d *DataAPIBackend) walletsURL(appID, uid string) string {
	return fmt.Sprintf("%s/v1/apps/%s/backups/%s/wallets", d.baseURL, url.PathEscape(appID), url.PathEscape(uid))
}

func (d *DataAPIBackend) walletURL(key interfaces.BackupKey) string {
	return d.walletsURL(key.AppID, key.UID) + "/" + url.PathEscape(key.WalletID)
}

func (d *DataAPIBackend) do(req *http.Request) ([]byte, http.Header, error) {
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("could not read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, resp.Header, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil, interfaces.ErrBackupNotFound
	case resp.StatusCode == http.StatusBadRequest:
		var errResp struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &errResp)
		return nil, nil, interfaces.ValidationError("backup rejected: %s", errResp.Message)
	case resp.StatusCode >= 500:
		return nil, nil, fmt.Errorf("%w: status %d", interfaces.ErrBackendUnavailable, resp.StatusCode)
	default:
		return nil, nil, fmt.Errorf("data API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

// decodeSummaries accepts both a bare array and an {"items": [...]} envelope.
func decodeSummaries(body []byte) ([]interfaces.BackupSummary, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []interfaces.BackupSummary{}, nil
	}

	if trimmed[0] == '[' {
		var out []interfaces.BackupSummary
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	var wrapped struct {
		Items []interfaces.BackupSummary `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Items == nil {
		return []interfaces.BackupSummary{}, nil
	}
	return wrapped.Items, nil
}
