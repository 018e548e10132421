package interfaces

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKindMatching(t *testing.T) {
	err := fmt.Errorf("recover failed: %w", WrongPinError(2))

	assert.True(t, errors.Is(err, ErrWrongPin))
	assert.False(t, errors.Is(err, ErrLocked))
	assert.Equal(t, KindWrongPin, KindOf(err))

	var typed *Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, 2, typed.GuessesRemaining)
	assert.Contains(t, typed.Message, "2 attempts remaining")
}

func TestErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewError(KindRepositoryError, "could not save backup", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrRepository)
	assert.Equal(t, ErrorKind(0), KindOf(cause))
}

func TestRetryable(t *testing.T) {
	for _, kind := range []ErrorKind{KindValidation, KindAuthFailure, KindWrongPin, KindIntegrityFailure, KindShareMismatch, KindRepositoryError, KindQuorumTimeout} {
		assert.True(t, kind.Retryable(), kind.String())
	}
	assert.False(t, KindLocked.Retryable())
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "mixed case with spaces", input: " User@Example.com ", want: "user@example.com"},
		{name: "already normalized", input: "user@example.com", want: "user@example.com"},
		{name: "tabs and newline", input: "\tUSER@example.COM\n", want: "user@example.com"},
		{name: "blank", input: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeEmail(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBackupPayloadValidate(t *testing.T) {
	valid := func() *BackupPayload {
		return &BackupPayload{
			EncryptedMnemonic: Envelope{Ciphertext: []byte{1}, Nonce: []byte{2}, AuthTag: []byte{3}, Algorithm: EnvelopeAlgorithm},
			BackendKeyShare:   []byte{4},
			ShareBLength:      33,
			WalletID:          "w1",
			Threshold:         Threshold,
			TotalShares:       TotalShares,
		}
	}

	require.NoError(t, valid().Validate())

	p := valid()
	p.Threshold = 3
	p.TotalShares = 5
	assert.ErrorIs(t, p.Validate(), ErrValidation)

	p = valid()
	p.BackendKeyShare = nil
	assert.ErrorIs(t, p.Validate(), ErrValidation)

	p = valid()
	p.EncryptedMnemonic.AuthTag = nil
	assert.ErrorIs(t, p.Validate(), ErrValidation)
}

func TestIdempotencyKeyFor(t *testing.T) {
	assert.Equal(t, "backup:uid-1:wallet-9", IdempotencyKeyFor("uid-1", "wallet-9"))
}
