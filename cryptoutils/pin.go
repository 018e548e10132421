package cryptoutils

import (
	"crypto/hmac"
	"crypto/sha256"

	"golang.org/x/crypto/argon2"
)

// PinKDFParams tunes the Argon2id hardening of a PIN before it leaves the device.
type PinKDFParams struct {
	Time      uint32 `yaml:"time"`
	MemoryKiB uint32 `yaml:"memory_kib"`
	Threads   uint8  `yaml:"threads"`
}

// DefaultPinKDF matches the hardening cost used by mobile clients.
var DefaultPinKDF = PinKDFParams{Time: 32, MemoryKiB: 16 * 1024, Threads: 1}

// DeriveAccessKey hardens pin into a 32-byte access key, salted by the
// normalized email and contextInfo. The same inputs always yield the same key.
func DeriveAccessKey(pin []byte, normalizedEmail, contextInfo string, params PinKDFParams) []byte {
	h := sha256.New()
	h.Write([]byte("seedless/pin/v1"))
	h.Write([]byte{0})
	h.Write([]byte(normalizedEmail))
	h.Write([]byte{0})
	h.Write([]byte(contextInfo))
	salt := h.Sum(nil)

	return argon2.IDKey(pin, salt, params.Time, params.MemoryKiB, params.Threads, 32)
}

// RealmPinProof derives the per-realm PIN proof from an access key, so no two
// realms see the same value.
func RealmPinProof(accessKey []byte, realmID string) []byte {
	mac := hmac.New(sha256.New, accessKey)
	mac.Write([]byte("realm:"))
	mac.Write([]byte(realmID))
	return mac.Sum(nil)
}
