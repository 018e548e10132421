package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ruteri/seedless-backup/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_StoreFor(t *testing.T) {
	factory := NewFactory(testLogger())
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name     string
		uri      string
		wantType interface{}
		wantName string
		wantErr  bool
	}{
		{name: "memory", uri: "memory://primary", wantType: &MemoryStore{}, wantName: "primary"},
		{name: "file", uri: "file://" + filepath.Join(dir, "backups"), wantType: &FileBackend{}, wantName: "file-backups"},
		{name: "s3", uri: "s3://AKIA:secret@my-bucket/seedless?region=eu-west-1", wantType: &S3Backend{}, wantName: "s3-my-bucket"},
		{name: "s3 custom endpoint", uri: "s3://my-bucket/?endpoint=http://localhost:9000", wantType: &S3Backend{}, wantName: "s3-my-bucket"},
		{name: "vault", uri: "vault://s.token@vault.local:8200/kv/wallets?tls=false", wantType: &VaultBackend{}, wantName: "vault-kv-wallets"},
		{name: "vault defaults", uri: "vault://vault.local:8200", wantType: &VaultBackend{}, wantName: "vault-secret-seedless"},
		{name: "data api", uri: "https://backups.example.com", wantType: &DataAPIBackend{}, wantName: "dataapi-backups.example.com"},
		{name: "s3 without bucket", uri: "s3:///prefix", wantErr: true},
		{name: "unknown scheme", uri: "ipfs://localhost:5001", wantErr: true},
		{name: "malformed", uri: "://nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := factory.StoreFor(ctx, tt.uri)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, store)
			assert.Equal(t, tt.wantName, store.Name())
		})
	}
}

func TestFactory_Fallback(t *testing.T) {
	factory := NewFactory(testLogger())
	ctx := context.Background()

	store, err := factory.Fallback(ctx, "memory://primary", "", "memory://secondary")
	require.NoError(t, err)
	assert.Equal(t, "fallback:[primary,secondary]", store.Name())

	_, err = factory.Fallback(ctx)
	assert.Error(t, err)

	_, err = factory.Fallback(ctx, "memory://primary", "gopher://nope")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}

func TestObjectPath(t *testing.T) {
	key := interfaces.BackupKey{AppID: "jelli-wallet", UID: "u1", WalletID: "w1"}
	assert.Equal(t, "apps/jelli-wallet/backups/u1/wallets/w1.json", objectPath("", key))
	assert.Equal(t, "prod/apps/jelli-wallet/backups/u1/wallets/w1.json", objectPath("prod", key))
}
