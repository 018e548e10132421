package cryptoutils

import (
	"bytes"
	"crypto/rand"
	mrand "math/rand"
	"strings"
	"testing"

	"github.com/ruteri/seedless-backup/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestPadUnpadRoundTrip(t *testing.T) {
	rng := mrand.New(mrand.NewSource(42))

	for i := 0; i < 200; i++ {
		n := 1 + rng.Intn(PadWidth)
		plaintext := make([]byte, n)
		for j := range plaintext {
			plaintext[j] = byte(1 + rng.Intn(255))
		}

		padded, err := Pad(plaintext, PadWidth)
		require.NoError(t, err)
		require.Len(t, padded, PadWidth)

		unpadded, err := Unpad(padded)
		require.NoError(t, err)
		require.Equal(t, plaintext, unpadded)
	}
}

func TestPadRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name      string
		plaintext []byte
	}{
		{name: "empty", plaintext: nil},
		{name: "too long", plaintext: bytes.Repeat([]byte("a"), PadWidth+1)},
		{name: "embedded NUL", plaintext: []byte("abc\x00def")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Pad(tt.plaintext, PadWidth)
			assert.ErrorIs(t, err, interfaces.ErrValidation)
		})
	}
}

func TestUnpadLeadingNULIsFailure(t *testing.T) {
	_, err := Unpad(make([]byte, PadWidth))
	assert.ErrorIs(t, err, interfaces.ErrShareMismatch)

	_, err = Unpad(nil)
	assert.ErrorIs(t, err, interfaces.ErrShareMismatch)
}

func TestUnpadFullWidth(t *testing.T) {
	full := bytes.Repeat([]byte("x"), PadWidth)
	padded, err := Pad(full, PadWidth)
	require.NoError(t, err)

	out, err := Unpad(padded)
	require.NoError(t, err)
	assert.Equal(t, full, out)
}

func TestEncryptAndSplitRoundTrip(t *testing.T) {
	padded, err := Pad([]byte(testMnemonic), PadWidth)
	require.NoError(t, err)

	envelope, shares, err := EncryptAndSplit(padded, 2, 2)
	require.NoError(t, err)
	require.Len(t, shares, 2)

	assert.Equal(t, interfaces.EnvelopeAlgorithm, envelope.Algorithm)
	assert.Len(t, envelope.Nonce, 12)
	assert.Len(t, envelope.AuthTag, 16)
	assert.Len(t, envelope.Ciphertext, PadWidth)
	for _, share := range shares {
		assert.Len(t, share.Bytes, EnvelopeKeySize+1)
	}

	t.Run("in order", func(t *testing.T) {
		out, err := CombineAndDecrypt(envelope, shares, 2)
		require.NoError(t, err)
		assert.Equal(t, padded, out)
	})

	t.Run("reversed order", func(t *testing.T) {
		out, err := CombineAndDecrypt(envelope, []interfaces.KeyShare{shares[1], shares[0]}, 2)
		require.NoError(t, err)
		assert.Equal(t, padded, out)
	})

	t.Run("unpadded mnemonic", func(t *testing.T) {
		out, err := CombineAndDecrypt(envelope, shares, 2)
		require.NoError(t, err)
		mnemonic, err := Unpad(out)
		require.NoError(t, err)
		assert.Equal(t, testMnemonic, string(mnemonic))
	})
}

func TestCombineAndDecryptTampering(t *testing.T) {
	padded, err := Pad([]byte(testMnemonic), PadWidth)
	require.NoError(t, err)
	envelope, shares, err := EncryptAndSplit(padded, 2, 2)
	require.NoError(t, err)

	t.Run("ciphertext byte flipped", func(t *testing.T) {
		tampered := *envelope
		tampered.Ciphertext = append([]byte(nil), envelope.Ciphertext...)
		tampered.Ciphertext[17] ^= 0x01

		_, err := CombineAndDecrypt(&tampered, shares, 2)
		assert.ErrorIs(t, err, interfaces.ErrIntegrityFailure)
	})

	t.Run("tag byte flipped", func(t *testing.T) {
		tampered := *envelope
		tampered.AuthTag = append([]byte(nil), envelope.AuthTag...)
		tampered.AuthTag[0] ^= 0x80

		_, err := CombineAndDecrypt(&tampered, shares, 2)
		assert.ErrorIs(t, err, interfaces.ErrIntegrityFailure)
	})

	t.Run("share from another backup", func(t *testing.T) {
		_, otherShares, err := EncryptAndSplit(padded, 2, 2)
		require.NoError(t, err)

		// Index collisions make the combination malformed; otherwise the key is wrong.
		_, err = CombineAndDecrypt(envelope, []interfaces.KeyShare{shares[0], otherShares[1]}, 2)
		require.Error(t, err)
		kind := interfaces.KindOf(err)
		assert.True(t, kind == interfaces.KindIntegrityFailure || kind == interfaces.KindShareMismatch, kind.String())
	})

	t.Run("single share", func(t *testing.T) {
		_, err := CombineAndDecrypt(envelope, shares[:1], 2)
		assert.ErrorIs(t, err, interfaces.ErrShareMismatch)
	})

	t.Run("duplicate share", func(t *testing.T) {
		_, err := CombineAndDecrypt(envelope, []interfaces.KeyShare{shares[0], shares[0]}, 2)
		assert.ErrorIs(t, err, interfaces.ErrShareMismatch)
	})

	t.Run("truncated share", func(t *testing.T) {
		short := interfaces.KeyShare{Index: shares[1].Index, Bytes: shares[1].Bytes[1:]}
		_, err := CombineAndDecrypt(envelope, []interfaces.KeyShare{shares[0], short}, 2)
		assert.ErrorIs(t, err, interfaces.ErrShareMismatch)
	})

	t.Run("unsupported algorithm", func(t *testing.T) {
		other := *envelope
		other.Algorithm = "ChaCha20"
		_, err := CombineAndDecrypt(&other, shares, 2)
		assert.ErrorIs(t, err, interfaces.ErrIntegrityFailure)
	})
}

func TestEncryptAndSplitRejectsOtherThresholds(t *testing.T) {
	padded, err := Pad([]byte("seed"), PadWidth)
	require.NoError(t, err)

	_, _, err = EncryptAndSplit(padded, 2, 3)
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	_, _, err = EncryptAndSplit(padded, 3, 5)
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}

func TestSplitSecretThreshold(t *testing.T) {
	secret := make([]byte, 128)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	shares, err := SplitSecret(secret, 3, 2)
	require.NoError(t, err)
	require.Len(t, shares, 3)

	for _, pair := range [][2]int{{0, 1}, {1, 2}, {2, 0}} {
		got, err := CombineShares([]interfaces.KeyShare{shares[pair[0]], shares[pair[1]]}, 2)
		require.NoError(t, err)
		assert.Equal(t, secret, got)
	}

	_, err = SplitSecret(secret, 3, 1)
	assert.ErrorIs(t, err, interfaces.ErrValidation)
	_, err = SplitSecret(nil, 2, 2)
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}

func TestPadHidesMnemonicLength(t *testing.T) {
	short, err := Pad([]byte("word"), PadWidth)
	require.NoError(t, err)
	long, err := Pad([]byte(strings.Repeat("word ", 24)), PadWidth)
	require.NoError(t, err)

	envShort, _, err := EncryptAndSplit(short, 2, 2)
	require.NoError(t, err)
	envLong, _, err := EncryptAndSplit(long, 2, 2)
	require.NoError(t, err)

	assert.Equal(t, len(envShort.Ciphertext), len(envLong.Ciphertext))
}
