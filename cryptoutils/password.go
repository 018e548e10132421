package cryptoutils

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	xchacha "golang.org/x/crypto/chacha20poly1305"
)

// KDFParams are the Argon2id parameters stored alongside each sealed blob.
type KDFParams struct {
	M    uint32 `json:"m"`
	T    uint32 `json:"t"`
	P    uint8  `json:"p"`
	Salt []byte `json:"salt"`
}

// DefaultPasswordKDF returns mobile-grade parameters with a fresh random salt.
func DefaultPasswordKDF() (KDFParams, error) {
	return NewPasswordKDF(64*1024, 3, 4)
}

func NewPasswordKDF(m, t uint32, p uint8) (KDFParams, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return KDFParams{}, fmt.Errorf("failed to generate salt: %w", err)
	}
	return KDFParams{M: m, T: t, P: p, Salt: salt}, nil
}

// DerivePasswordKey derives a 32-byte key from password bound to bindingContext
// (the wallet id): the same password yields unrelated keys for different wallets.
func DerivePasswordKey(password []byte, bindingContext string, p KDFParams) []byte {
	h := sha256.New()
	h.Write(p.Salt)
	h.Write([]byte(bindingContext))
	return argon2.IDKey(password, h.Sum(nil), p.T, p.M, p.P, xchacha.KeySize)
}

// SealX encrypts plaintext with XChaCha20-Poly1305. Output is nonce||ciphertext.
func SealX(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := xchacha.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, xchacha.NonceSizeX, xchacha.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// OpenX reverses SealX.
func OpenX(key, sealed, aad []byte) ([]byte, error) {
	aead, err := xchacha.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < xchacha.NonceSizeX+aead.Overhead() {
		return nil, errors.New("ciphertext too short")
	}
	nonce := sealed[:xchacha.NonceSizeX]
	return aead.Open(nil, nonce, sealed[xchacha.NonceSizeX:], aad)
}
