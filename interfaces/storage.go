package interfaces

import (
	"context"
	"errors"
)

var (
	// ErrBackupNotFound is used internally by backends; BackupStore.GetBackup reports absence through its bool result.
	ErrBackupNotFound = errors.New("backup not found")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a backend URI is malformed or unsupported.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// BackupStore persists backup records keyed by (appId, uid, walletId).
//
// PutBackup is idempotent under idempotencyKey: an identical retry leaves the
// stored record unchanged (including CreatedAt); a different payload fully
// overwrites it. GetBackup returns exists=false with a nil error when the
// record is missing.
type BackupStore interface {
	PutBackup(ctx context.Context, key BackupKey, payload *BackupPayload, idempotencyKey string) error
	ListBackups(ctx context.Context, appID, uid string) ([]BackupSummary, error)
	GetBackup(ctx context.Context, key BackupKey) (*BackupRecord, bool, error)

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string
}
