package interfaces

import (
	"fmt"
	"strings"
	"time"
)

const (
	// Threshold and TotalShares are fixed: the envelope key is always split 2-of-2.
	Threshold   = 2
	TotalShares = 2

	// EnvelopeAlgorithm identifies the AEAD used for seed envelopes.
	EnvelopeAlgorithm = "AES-256-GCM"

	// BackupArchitecture tags records produced by this version of the protocol.
	BackupArchitecture = "mnemonic-2of2"

	// DefaultAppID is the application namespace used when none is configured.
	DefaultAppID = "jelli-wallet"
)

// Identity is the opaque (uid, email) pair yielded by the identity provider.
type Identity struct {
	UID   string
	Email string
}

// NormalizeEmail trims surrounding whitespace and lowercases the address.
// Register and recover must both go through it or the realm secret ends up
// under a different identity key.
func NormalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return "", ValidationError("email is required")
	}
	return normalized, nil
}

func (id Identity) Validate() error {
	if strings.TrimSpace(id.UID) == "" {
		return ValidationError("user id is required")
	}
	if _, err := NormalizeEmail(id.Email); err != nil {
		return err
	}
	return nil
}

// Envelope is one AEAD-encrypted payload. The tag is kept apart from the ciphertext.
type Envelope struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	AuthTag    []byte `json:"auth_tag"`
	Algorithm  string `json:"algorithm"`
}

// KeyShare is one fragment of a threshold-split key.
type KeyShare struct {
	Index int    `json:"index"`
	Bytes []byte `json:"bytes"`
}

// BackupKey addresses one backup record.
type BackupKey struct {
	AppID    string
	UID      string
	WalletID string
}

func (k BackupKey) Validate() error {
	if k.AppID == "" || k.UID == "" || k.WalletID == "" {
		return ValidationError("app id, user id and wallet id are required")
	}
	for _, part := range []string{k.AppID, k.UID, k.WalletID} {
		if !validKeySegment(part) {
			return ValidationError("invalid key segment %q", part)
		}
	}
	return nil
}

// validKeySegment rejects values that would escape a path-based layout.
func validKeySegment(s string) bool {
	return s != "." && s != ".." && !strings.ContainsAny(s, "/\\?#")
}

func (k BackupKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.AppID, k.UID, k.WalletID)
}

// IdempotencyKeyFor returns the idempotency key used when persisting a backup.
func IdempotencyKeyFor(uid, walletID string) string {
	return fmt.Sprintf("backup:%s:%s", uid, walletID)
}

// BackupPayload is the body of a backup PUT.
type BackupPayload struct {
	EncryptedMnemonic Envelope  `json:"encrypted_mnemonic"`
	BackendKeyShare   []byte    `json:"backend_key_share"`
	ShareBLength      int       `json:"share_b_length"`
	WalletID          string    `json:"wallet_id"`
	CreatedAt         time.Time `json:"created_at"`
	Threshold         int       `json:"threshold"`
	TotalShares       int       `json:"total_shares"`
	Architecture      string    `json:"architecture,omitempty"`
}

func (p *BackupPayload) Validate() error {
	if p.Threshold != Threshold || p.TotalShares != TotalShares {
		return ValidationError("unsupported share configuration %d-of-%d", p.Threshold, p.TotalShares)
	}
	if len(p.EncryptedMnemonic.Ciphertext) == 0 || len(p.EncryptedMnemonic.Nonce) == 0 || len(p.EncryptedMnemonic.AuthTag) == 0 {
		return ValidationError("envelope is incomplete")
	}
	if len(p.BackendKeyShare) == 0 {
		return ValidationError("backend key share is required")
	}
	if p.ShareBLength <= 0 {
		return ValidationError("share B length must be positive")
	}
	return nil
}

// BackupRecord is a stored backup together with its addressing and idempotency metadata.
type BackupRecord struct {
	AppID          string        `json:"app_id"`
	UID            string        `json:"uid"`
	IdempotencyKey string        `json:"idempotency_key"`
	Payload        BackupPayload `json:"payload"`
}

func (r *BackupRecord) Key() BackupKey {
	return BackupKey{AppID: r.AppID, UID: r.UID, WalletID: r.Payload.WalletID}
}

// BackupSummary is one entry of a backup listing.
type BackupSummary struct {
	WalletID  string    `json:"wallet_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RealmAuthToken is a session-scoped credential for one realm.
type RealmAuthToken struct {
	RealmID string
	Token   string
}
