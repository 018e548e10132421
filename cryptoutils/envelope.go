package cryptoutils

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/ruteri/seedless-backup/interfaces"
)

const (
	// PadWidth is the fixed plaintext width, so ciphertext length does not leak word count.
	PadWidth = 256

	// EnvelopeKeySize is the size of the single-use AES-256 key that gets split.
	EnvelopeKeySize = 32

	gcmNonceSize = 12
	gcmTagSize   = 16
)

// Pad copies plaintext into a zero-filled buffer of the given width.
// The plaintext must be non-empty and free of NUL bytes, since the first NUL
// marks the end of the content on Unpad.
func Pad(plaintext []byte, width int) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, interfaces.ValidationError("plaintext must not be empty")
	}
	if len(plaintext) > width {
		return nil, interfaces.ValidationError("plaintext of %d bytes exceeds pad width %d", len(plaintext), width)
	}
	if bytes.IndexByte(plaintext, 0) >= 0 {
		return nil, interfaces.ValidationError("plaintext must not contain NUL bytes")
	}

	buf := make([]byte, width)
	copy(buf, plaintext)
	return buf, nil
}

// Unpad truncates padded at the first NUL. A NUL at offset 0 means the
// reconstruction produced garbage and is reported as an error, never as an empty value.
func Unpad(padded []byte) ([]byte, error) {
	if len(padded) == 0 || padded[0] == 0 {
		return nil, interfaces.NewError(interfaces.KindShareMismatch, "the backup could not be reconstructed",
			errors.New("recovered plaintext is empty"))
	}

	end := bytes.IndexByte(padded, 0)
	if end < 0 {
		end = len(padded)
	}
	out := make([]byte, end)
	copy(out, padded[:end])
	return out, nil
}

// EncryptAndSplit encrypts paddedPlaintext under a fresh AES-256-GCM key and
// splits that key into totalShares shares, any threshold of which recover it.
// Only the 2-of-2 configuration is supported.
func EncryptAndSplit(paddedPlaintext []byte, threshold, totalShares int) (*interfaces.Envelope, []interfaces.KeyShare, error) {
	if threshold != interfaces.Threshold || totalShares != interfaces.TotalShares {
		return nil, nil, interfaces.ValidationError("unsupported share configuration %d-of-%d", threshold, totalShares)
	}
	if len(paddedPlaintext) == 0 {
		return nil, nil, interfaces.ValidationError("plaintext must not be empty")
	}

	key := make([]byte, EnvelopeKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, nil, fmt.Errorf("failed to generate key: %w", err)
	}
	defer WipeBytes(key)

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	sealed := aesGCM.Seal(nil, nonce, paddedPlaintext, []byte(interfaces.EnvelopeAlgorithm))
	tagStart := len(sealed) - gcmTagSize

	shares, err := SplitSecret(key, totalShares, threshold)
	if err != nil {
		return nil, nil, err
	}

	return &interfaces.Envelope{
		Ciphertext: sealed[:tagStart:tagStart],
		Nonce:      nonce,
		AuthTag:    sealed[tagStart:],
		Algorithm:  interfaces.EnvelopeAlgorithm,
	}, shares, nil
}

// CombineAndDecrypt reconstructs the envelope key from shares and decrypts.
// A failed reconstruction is KindShareMismatch; a failed AEAD check is KindIntegrityFailure.
func CombineAndDecrypt(envelope *interfaces.Envelope, shares []interfaces.KeyShare, threshold int) ([]byte, error) {
	if envelope == nil {
		return nil, interfaces.ValidationError("envelope is required")
	}
	if envelope.Algorithm != interfaces.EnvelopeAlgorithm {
		return nil, interfaces.NewError(interfaces.KindIntegrityFailure, "the backup uses an unsupported format",
			fmt.Errorf("algorithm %q", envelope.Algorithm))
	}

	key, err := CombineShares(shares, threshold)
	if err != nil {
		return nil, err
	}
	defer WipeBytes(key)

	if len(key) != EnvelopeKeySize {
		return nil, interfaces.NewError(interfaces.KindShareMismatch, "key shares do not belong together",
			fmt.Errorf("reconstructed key has %d bytes", len(key)))
	}
	if len(envelope.Nonce) != gcmNonceSize || len(envelope.AuthTag) != gcmTagSize {
		return nil, interfaces.NewError(interfaces.KindIntegrityFailure, "the backup is corrupted",
			errors.New("malformed nonce or tag"))
	}

	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(envelope.Ciphertext)+len(envelope.AuthTag))
	sealed = append(sealed, envelope.Ciphertext...)
	sealed = append(sealed, envelope.AuthTag...)

	plaintext, err := aesGCM.Open(nil, envelope.Nonce, sealed, []byte(interfaces.EnvelopeAlgorithm))
	if err != nil {
		return nil, interfaces.NewError(interfaces.KindIntegrityFailure, "the backup could not be decrypted", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}
