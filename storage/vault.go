package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/seedless-backup/interfaces"
)

// VaultBackend stores backup records in a HashiCorp Vault KV v2 secrets engine.
//
// Records live at {mount}/data/{path}/apps/{appId}/backups/{uid}/wallets/{walletId}
// under the "record" field, and are listed through the matching metadata path.
type VaultBackend struct {
	client    *api.Client
	mountPath string
	dataPath  string
	log       *slog.Logger

	mu sync.Mutex
}

// NewVaultBackend creates a new Vault storage backend authenticated with a token.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount (e.g. "secret")
//   - dataPath: path within the mount (e.g. "seedless")
//   - token: Vault token; empty falls back to VAULT_TOKEN
func NewVaultBackend(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{
		Timeout: 30 * time.Second,
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	return &VaultBackend{
		client:    client,
		mountPath: strings.Trim(mountPath, "/"),
		dataPath:  strings.Trim(dataPath, "/"),
		log:       log,
	}, nil
}

func (b *VaultBackend) PutBackup(ctx context.Context, key interfaces.BackupKey, payload *interfaces.BackupPayload, idempotencyKey string) error {
	rec, err := newRecord(key, payload, idempotencyKey)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	existing, err := b.readRecord(ctx, key)
	if err != nil && !errors.Is(err, interfaces.ErrBackupNotFound) {
		return err
	}
	if isReplay(existing, rec) {
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	start := time.Now()
	secretPath := b.kvPath("data", objectPath(b.dataPath, key))
	_, err = b.client.Logical().WriteWithContext(ctx, secretPath, map[string]interface{}{
		"data": map[string]interface{}{
			"record": string(data),
		},
	})
	if err != nil {
		b.log.Error("Failed to write to Vault",
			slog.String("path", secretPath),
			"err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored backup in Vault",
		slog.String("key", key.String()),
		slog.Duration("duration", time.Since(start)))

	return nil
}

func (b *VaultBackend) ListBackups(ctx context.Context, appID, uid string) ([]interfaces.BackupSummary, error) {
	if err := validateListArgs(appID, uid); err != nil {
		return nil, err
	}

	listPath := b.kvPath("metadata", walletsPrefix(b.dataPath, appID, uid))
	secret, err := b.client.Logical().ListWithContext(ctx, listPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return []interfaces.BackupSummary{}, nil
	}

	rawKeys, _ := secret.Data["keys"].([]interface{})
	records := make([]*interfaces.BackupRecord, 0, len(rawKeys))
	for _, raw := range rawKeys {
		name, ok := raw.(string)
		if !ok || !strings.HasSuffix(name, ".json") {
			continue
		}
		key := interfaces.BackupKey{AppID: appID, UID: uid, WalletID: strings.TrimSuffix(name, ".json")}
		rec, err := b.readRecord(ctx, key)
		if errors.Is(err, interfaces.ErrBackupNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return summarize(records), nil
}

func (b *VaultBackend) GetBackup(ctx context.Context, key interfaces.BackupKey) (*interfaces.BackupRecord, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}

	rec, err := b.readRecord(ctx, key)
	if errors.Is(err, interfaces.ErrBackupNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Available checks that Vault is reachable, initialized and unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}

	if !health.Initialized || health.Sealed {
		b.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}

	return true
}

func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

func (b *VaultBackend) kvPath(kind, p string) string {
	return path.Join(b.mountPath, kind, p)
}

func (b *VaultBackend) readRecord(ctx context.Context, key interfaces.BackupKey) (*interfaces.BackupRecord, error) {
	secretPath := b.kvPath("data", objectPath(b.dataPath, key))
	secret, err := b.client.Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrBackupNotFound
	}

	// Deleted KV v2 versions come back with nil data.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, interfaces.ErrBackupNotFound
	}

	content, ok := data["record"].(string)
	if !ok {
		return nil, fmt.Errorf("record field missing in Vault data at %s", secretPath)
	}

	var rec interfaces.BackupRecord
	if err := json.Unmarshal([]byte(content), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record at %s: %w", secretPath, err)
	}
	return &rec, nil
}
