package localvault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/ruteri/seedless-backup/cryptoutils"
	"github.com/ruteri/seedless-backup/interfaces"
)

const (
	// MinPasswordLength is counted in characters, not bytes.
	MinPasswordLength = 6

	blobVersion = 1
	blobAEAD    = "xchacha20poly1305"
)

// KDFConfig sets the Argon2id cost for newly sealed entries. Existing entries
// carry their own parameters.
type KDFConfig struct {
	MemoryKiB uint32 `yaml:"memory_kib"`
	Time      uint32 `yaml:"time"`
	Threads   uint8  `yaml:"threads"`
}

var DefaultKDF = KDFConfig{MemoryKiB: 64 * 1024, Time: 3, Threads: 4}

type sealedBlob struct {
	Version  int                   `json:"version"`
	WalletID string                `json:"wallet_id"`
	KDF      cryptoutils.KDFParams `json:"kdf"`
	AEAD     string                `json:"aead"`
	Sealed   []byte                `json:"sealed"`
}

// Vault caches wallet seeds on the device, sealed under a password.
// An entry only opens under the exact (password, walletId) pair it was stored with.
type Vault struct {
	blobs BlobStore
	kdf   KDFConfig
	log   *slog.Logger
}

func New(blobs BlobStore, kdf KDFConfig, log *slog.Logger) *Vault {
	return &Vault{blobs: blobs, kdf: kdf, log: log}
}

// ValidatePassword checks the local password policy.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return interfaces.ValidationError("password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

// Store seals seed under password and makes walletID the active wallet.
func (v *Vault) Store(ctx context.Context, walletID string, seed []byte, password string) error {
	if err := v.store(ctx, walletID, seed, password); err != nil {
		return err
	}
	if err := v.blobs.SetActive(ctx, walletID); err != nil {
		return err
	}

	v.log.Info("Stored wallet in local vault", slog.String("wallet_id", walletID))
	return nil
}

// Load opens the entry for walletID. A wrong password fails with KindIntegrityFailure.
func (v *Vault) Load(ctx context.Context, walletID, password string) ([]byte, error) {
	if walletID == "" {
		return nil, interfaces.ValidationError("wallet id is required")
	}

	raw, err := v.blobs.Get(ctx, walletID)
	if err != nil {
		return nil, err
	}

	var blob sealedBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, interfaces.NewError(interfaces.KindIntegrityFailure, "vault entry is corrupt", err)
	}
	if blob.Version != blobVersion || blob.AEAD != blobAEAD {
		return nil, interfaces.NewError(interfaces.KindIntegrityFailure, "unsupported vault entry format", nil)
	}
	if blob.WalletID != walletID {
		return nil, interfaces.NewError(interfaces.KindIntegrityFailure, "vault entry belongs to another wallet", nil)
	}

	key := cryptoutils.DerivePasswordKey([]byte(password), walletID, blob.KDF)
	defer cryptoutils.WipeBytes(key)

	seed, err := cryptoutils.OpenX(key, blob.Sealed, blobAAD(walletID))
	if err != nil {
		return nil, interfaces.NewError(interfaces.KindIntegrityFailure, "incorrect password", err)
	}
	return seed, nil
}

// Delete removes the entry and clears the active pointer if it pointed at walletID.
func (v *Vault) Delete(ctx context.Context, walletID string) error {
	if err := v.blobs.Delete(ctx, walletID); err != nil {
		return err
	}

	active, err := v.blobs.Active(ctx)
	if err != nil {
		return err
	}
	if active == walletID {
		if err := v.blobs.SetActive(ctx, ""); err != nil {
			return err
		}
	}

	v.log.Info("Removed wallet from local vault", slog.String("wallet_id", walletID))
	return nil
}

// ChangePassword re-seals the entry under newPassword with a fresh salt.
func (v *Vault) ChangePassword(ctx context.Context, walletID, oldPassword, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	seed, err := v.Load(ctx, walletID, oldPassword)
	if err != nil {
		return err
	}
	defer cryptoutils.WipeBytes(seed)

	return v.store(ctx, walletID, seed, newPassword)
}

func (v *Vault) ActiveWallet(ctx context.Context) (string, error) {
	return v.blobs.Active(ctx)
}

// SetActive points the active wallet at an existing entry.
func (v *Vault) SetActive(ctx context.Context, walletID string) error {
	if _, err := v.blobs.Get(ctx, walletID); err != nil {
		return err
	}
	return v.blobs.SetActive(ctx, walletID)
}

func (v *Vault) store(ctx context.Context, walletID string, seed []byte, password string) error {
	if walletID == "" {
		return interfaces.ValidationError("wallet id is required")
	}
	if len(seed) == 0 {
		return interfaces.ValidationError("seed is empty")
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}

	params, err := cryptoutils.NewPasswordKDF(v.kdf.MemoryKiB, v.kdf.Time, v.kdf.Threads)
	if err != nil {
		return err
	}

	key := cryptoutils.DerivePasswordKey([]byte(password), walletID, params)
	defer cryptoutils.WipeBytes(key)

	sealed, err := cryptoutils.SealX(key, seed, blobAAD(walletID))
	if err != nil {
		return fmt.Errorf("failed to seal vault entry: %w", err)
	}

	raw, err := json.Marshal(sealedBlob{
		Version:  blobVersion,
		WalletID: walletID,
		KDF:      params,
		AEAD:     blobAEAD,
		Sealed:   sealed,
	})
	if err != nil {
		return fmt.Errorf("failed to encode vault entry: %w", err)
	}

	return v.blobs.Put(ctx, walletID, raw)
}

func blobAAD(walletID string) []byte {
	return []byte("seedless/vault/v1:" + walletID)
}

// IsNotFound reports whether err means the wallet has no local entry.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
