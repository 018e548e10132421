package realms

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/seedless-backup/interfaces"
)

const (
	maxShareSize   = 1024
	maxGuessLimit  = 100
	pinProofLength = sha256.Size
)

var (
	// ErrNotRegistered is returned by a realm that holds no secret for the subject.
	ErrNotRegistered = errors.New("no secret registered")

	// ErrUnauthorized is returned when a realm rejects the presented token.
	ErrUnauthorized = errors.New("realm rejected credentials")

	// ErrRateLimited is returned when a realm throttles the subject.
	ErrRateLimited = errors.New("realm rate limited the request")
)

type record struct {
	version    []byte
	share      []byte
	salt       []byte
	commitment []byte
	guessLimit int
	remaining  int
}

// Oracle is the realm side of the PIN-gated share store. It keeps one record
// per (subject, secretID), checks PIN proofs against a salted commitment and
// counts wrong guesses. A record whose counter reaches zero stays locked until
// it is registered again.
type Oracle struct {
	realmID string
	mu      sync.Mutex
	records map[string]*record
	log     *slog.Logger
}

func NewOracle(realmID string, log *slog.Logger) *Oracle {
	return &Oracle{
		realmID: realmID,
		records: make(map[string]*record),
		log:     log,
	}
}

func (o *Oracle) RealmID() string {
	return o.realmID
}

func recordKey(subject, secretID string) string {
	return subject + "/" + secretID
}

// Register stores a share, overwriting any previous registration and resetting the guess counter.
func (o *Oracle) Register(subject, secretID string, req *interfaces.RealmRegisterRequest) error {
	if subject == "" || secretID == "" {
		return interfaces.ValidationError("subject and secret id are required")
	}
	if len(req.Version) == 0 {
		return interfaces.ValidationError("registration version is required")
	}
	if len(req.Share) == 0 || len(req.Share) > maxShareSize {
		return interfaces.ValidationError("share must be between 1 and %d bytes", maxShareSize)
	}
	if len(req.PinProof) != pinProofLength {
		return interfaces.ValidationError("pin proof must be %d bytes", pinProofLength)
	}
	if req.GuessLimit < 1 || req.GuessLimit > maxGuessLimit {
		return interfaces.ValidationError("guess limit must be between 1 and %d", maxGuessLimit)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	rec := &record{
		version:    bytes.Clone(req.Version),
		share:      bytes.Clone(req.Share),
		salt:       salt,
		commitment: commit(salt, req.PinProof),
		guessLimit: req.GuessLimit,
		remaining:  req.GuessLimit,
	}

	o.mu.Lock()
	o.records[recordKey(subject, secretID)] = rec
	o.mu.Unlock()

	o.log.Info("Registered secret", slog.String("realm", o.realmID), slog.Int("guess_limit", req.GuessLimit))
	return nil
}

// Recover releases the share if pinProof matches. A mismatch consumes one guess.
func (o *Oracle) Recover(subject, secretID string, pinProof []byte) (*interfaces.RealmRecoverResponse, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.records[recordKey(subject, secretID)]
	if !ok {
		return nil, ErrNotRegistered
	}
	if rec.remaining <= 0 {
		return nil, interfaces.NewError(interfaces.KindLocked, "too many incorrect PIN attempts", nil)
	}

	if subtle.ConstantTimeCompare(commit(rec.salt, pinProof), rec.commitment) != 1 {
		rec.remaining--
		o.log.Info("PIN mismatch", slog.String("realm", o.realmID), slog.Int("remaining", rec.remaining))
		if rec.remaining == 0 {
			return nil, interfaces.NewError(interfaces.KindLocked, "too many incorrect PIN attempts", nil)
		}
		return nil, interfaces.WrongPinError(rec.remaining)
	}

	rec.remaining = rec.guessLimit
	return &interfaces.RealmRecoverResponse{
		Version: bytes.Clone(rec.version),
		Share:   bytes.Clone(rec.share),
	}, nil
}

// Delete removes the registration. Deleting a missing record is not an error.
func (o *Oracle) Delete(subject, secretID string) error {
	o.mu.Lock()
	delete(o.records, recordKey(subject, secretID))
	o.mu.Unlock()
	return nil
}

func commit(salt, pinProof []byte) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write(pinProof)
	return h.Sum(nil)
}
