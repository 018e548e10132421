package localvault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const activeWalletKey = "active_wallet"

// SQLiteBlobStore keeps vault blobs in a local SQLite database.
type SQLiteBlobStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the vault database at path.
// Use ":memory:" for a throwaway store.
func OpenSQLite(path string) (*SQLiteBlobStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS vault_entries (
		wallet_id TEXT PRIMARY KEY,
		blob BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS vault_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteBlobStore{db: db}, nil
}

func (s *SQLiteBlobStore) Put(ctx context.Context, walletID string, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vault_entries (wallet_id, blob, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(wallet_id) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`,
		walletID, blob, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store vault entry: %w", err)
	}
	return nil
}

func (s *SQLiteBlobStore) Get(ctx context.Context, walletID string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM vault_entries WHERE wallet_id = ?`, walletID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vault entry: %w", err)
	}
	return blob, nil
}

func (s *SQLiteBlobStore) Delete(ctx context.Context, walletID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vault_entries WHERE wallet_id = ?`, walletID); err != nil {
		return fmt.Errorf("failed to delete vault entry: %w", err)
	}
	return nil
}

func (s *SQLiteBlobStore) SetActive(ctx context.Context, walletID string) error {
	var err error
	if walletID == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM vault_metadata WHERE key = ?`, activeWalletKey)
	} else {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO vault_metadata (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			activeWalletKey, walletID, time.Now().Unix())
	}
	if err != nil {
		return fmt.Errorf("failed to update active wallet: %w", err)
	}
	return nil
}

func (s *SQLiteBlobStore) Active(ctx context.Context) (string, error) {
	var walletID string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM vault_metadata WHERE key = ?`, activeWalletKey).Scan(&walletID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read active wallet: %w", err)
	}
	return walletID, nil
}

func (s *SQLiteBlobStore) Close() error {
	return s.db.Close()
}
