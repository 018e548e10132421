package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ruteri/seedless-backup/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPayload(walletID string, createdAt time.Time, fill byte) *interfaces.BackupPayload {
	return &interfaces.BackupPayload{
		EncryptedMnemonic: interfaces.Envelope{
			Ciphertext: []byte{fill, fill, fill},
			Nonce:      make([]byte, 12),
			AuthTag:    make([]byte, 16),
			Algorithm:  interfaces.EnvelopeAlgorithm,
		},
		BackendKeyShare: []byte{fill, 1},
		ShareBLength:    33,
		WalletID:        walletID,
		CreatedAt:       createdAt,
		Threshold:       2,
		TotalShares:     2,
	}
}

// backupStoreContract runs the behaviour every BackupStore must share.
func backupStoreContract(t *testing.T, newStore func(t *testing.T) interfaces.BackupStore) {
	ctx := context.Background()
	t0 := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("get missing", func(t *testing.T) {
		store := newStore(t)
		rec, exists, err := store.GetBackup(ctx, interfaces.BackupKey{AppID: "app", UID: "u1", WalletID: "w1"})
		require.NoError(t, err)
		assert.False(t, exists)
		assert.Nil(t, rec)
	})

	t.Run("list empty", func(t *testing.T) {
		store := newStore(t)
		list, err := store.ListBackups(ctx, "app", "u1")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("put and get", func(t *testing.T) {
		store := newStore(t)
		key := interfaces.BackupKey{AppID: "app", UID: "u1", WalletID: "w1"}
		require.NoError(t, store.PutBackup(ctx, key, testPayload("w1", t0, 7), "idem-1"))

		rec, exists, err := store.GetBackup(ctx, key)
		require.NoError(t, err)
		require.True(t, exists)
		assert.Equal(t, key, rec.Key())
		assert.Equal(t, "idem-1", rec.IdempotencyKey)
		assert.Equal(t, []byte{7, 7, 7}, rec.Payload.EncryptedMnemonic.Ciphertext)
		assert.True(t, t0.Equal(rec.Payload.CreatedAt))
		assert.Equal(t, interfaces.BackupArchitecture, rec.Payload.Architecture)
	})

	t.Run("identical retry keeps original record", func(t *testing.T) {
		store := newStore(t)
		key := interfaces.BackupKey{AppID: "app", UID: "u1", WalletID: "w1"}
		require.NoError(t, store.PutBackup(ctx, key, testPayload("w1", t0, 7), "idem-1"))
		require.NoError(t, store.PutBackup(ctx, key, testPayload("w1", t0.Add(time.Hour), 7), "idem-1"))

		rec, exists, err := store.GetBackup(ctx, key)
		require.NoError(t, err)
		require.True(t, exists)
		assert.True(t, t0.Equal(rec.Payload.CreatedAt))

		list, err := store.ListBackups(ctx, "app", "u1")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("different payload overwrites", func(t *testing.T) {
		store := newStore(t)
		key := interfaces.BackupKey{AppID: "app", UID: "u1", WalletID: "w1"}
		require.NoError(t, store.PutBackup(ctx, key, testPayload("w1", t0, 7), "idem-1"))
		require.NoError(t, store.PutBackup(ctx, key, testPayload("w1", t0.Add(time.Hour), 9), "idem-1"))

		rec, _, err := store.GetBackup(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte{9, 9, 9}, rec.Payload.EncryptedMnemonic.Ciphertext)
		assert.True(t, t0.Add(time.Hour).Equal(rec.Payload.CreatedAt))
	})

	t.Run("list is ordered oldest first and scoped", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.PutBackup(ctx, interfaces.BackupKey{AppID: "app", UID: "u1", WalletID: "newer"}, testPayload("newer", t0.Add(time.Minute), 1), "a"))
		require.NoError(t, store.PutBackup(ctx, interfaces.BackupKey{AppID: "app", UID: "u1", WalletID: "older"}, testPayload("older", t0, 2), "b"))
		require.NoError(t, store.PutBackup(ctx, interfaces.BackupKey{AppID: "app", UID: "u2", WalletID: "other"}, testPayload("other", t0, 3), "c"))
		require.NoError(t, store.PutBackup(ctx, interfaces.BackupKey{AppID: "other-app", UID: "u1", WalletID: "x"}, testPayload("x", t0, 4), "d"))

		list, err := store.ListBackups(ctx, "app", "u1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "older", list[0].WalletID)
		assert.Equal(t, "newer", list[1].WalletID)
	})

	t.Run("validation", func(t *testing.T) {
		store := newStore(t)
		key := interfaces.BackupKey{AppID: "app", UID: "u1", WalletID: "w1"}

		bad := testPayload("w1", t0, 1)
		bad.Threshold = 3
		assert.ErrorIs(t, store.PutBackup(ctx, key, bad, "idem"), interfaces.ErrValidation)
		assert.ErrorIs(t, store.PutBackup(ctx, key, testPayload("w1", t0, 1), ""), interfaces.ErrValidation)
		assert.ErrorIs(t, store.PutBackup(ctx, key, testPayload("w2", t0, 1), "idem"), interfaces.ErrValidation)
		assert.ErrorIs(t, store.PutBackup(ctx, key, nil, "idem"), interfaces.ErrValidation)

		traversal := interfaces.BackupKey{AppID: "app", UID: "..", WalletID: "w1"}
		assert.ErrorIs(t, store.PutBackup(ctx, traversal, testPayload("w1", t0, 1), "idem"), interfaces.ErrValidation)
		_, _, err := store.GetBackup(ctx, interfaces.BackupKey{AppID: "app", UID: "u1", WalletID: "a/b"})
		assert.ErrorIs(t, err, interfaces.ErrValidation)
		_, err = store.ListBackups(ctx, "app", "")
		assert.ErrorIs(t, err, interfaces.ErrValidation)
	})
}

func TestMemoryStore(t *testing.T) {
	backupStoreContract(t, func(t *testing.T) interfaces.BackupStore {
		return NewMemoryStore("memory")
	})
}

func TestFileBackend(t *testing.T) {
	backupStoreContract(t, func(t *testing.T) interfaces.BackupStore {
		store, err := NewFileBackend(t.TempDir(), testLogger())
		require.NoError(t, err)
		return store
	})
}

func TestFileBackend_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	key := interfaces.BackupKey{AppID: "app", UID: "u1", WalletID: "w1"}

	first, err := NewFileBackend(dir, testLogger())
	require.NoError(t, err)
	require.NoError(t, first.PutBackup(ctx, key, testPayload("w1", time.Now().UTC(), 5), "idem"))

	second, err := NewFileBackend(dir, testLogger())
	require.NoError(t, err)
	rec, exists, err := second.GetBackup(ctx, key)
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, []byte{5, 1}, rec.Payload.BackendKeyShare)
	assert.True(t, second.Available(ctx))
}
