package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ruteri/seedless-backup/interfaces"
)

// FileBackend stores backup records as JSON documents on the local file system.
// Layout: {baseDir}/apps/{appId}/backups/{uid}/wallets/{walletId}.json
type FileBackend struct {
	baseDir string
	log     *slog.Logger

	// serializes the read-compare-write in PutBackup
	mu sync.Mutex
}

// NewFileBackend creates a new file storage backend rooted at baseDir.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileBackend{
		baseDir: baseDir,
		log:     log,
	}, nil
}

func (b *FileBackend) PutBackup(ctx context.Context, key interfaces.BackupKey, payload *interfaces.BackupPayload, idempotencyKey string) error {
	rec, err := newRecord(key, payload, idempotencyKey)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	filePath := b.recordPath(key)
	existing, err := b.readRecord(filePath)
	if err != nil && !errors.Is(err, interfaces.ErrBackupNotFound) {
		return err
	}
	if isReplay(existing, rec) {
		b.log.Debug("Idempotent replay of backup", slog.String("key", key.String()))
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to a temporary file first so a crash never leaves a torn record.
	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".backup-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}

	b.log.Debug("Stored backup in file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return nil
}

func (b *FileBackend) ListBackups(ctx context.Context, appID, uid string) ([]interfaces.BackupSummary, error) {
	if err := validateListArgs(appID, uid); err != nil {
		return nil, err
	}

	dir := filepath.Join(b.baseDir, filepath.FromSlash(walletsPrefix("", appID, uid)))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []interfaces.BackupSummary{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list directory: %w", err)
	}

	var records []*interfaces.BackupRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := b.readRecord(filepath.Join(dir, entry.Name()))
		if err != nil {
			b.log.Warn("Skipping unreadable backup record",
				slog.String("file", entry.Name()),
				"err", err)
			continue
		}
		records = append(records, rec)
	}

	return summarize(records), nil
}

func (b *FileBackend) GetBackup(ctx context.Context, key interfaces.BackupKey) (*interfaces.BackupRecord, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}

	rec, err := b.readRecord(b.recordPath(key))
	if errors.Is(err, interfaces.ErrBackupNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Available checks if the file backend is accessible by verifying the base directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

func (b *FileBackend) recordPath(key interfaces.BackupKey) string {
	return filepath.Join(b.baseDir, filepath.FromSlash(objectPath("", key)))
}

func (b *FileBackend) readRecord(filePath string) (*interfaces.BackupRecord, error) {
	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, interfaces.ErrBackupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var rec interfaces.BackupRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", filePath, err)
	}
	return &rec, nil
}
