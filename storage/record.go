package storage

import (
	"bytes"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/ruteri/seedless-backup/interfaces"
)

// newRecord validates a put request and builds the record to store.
func newRecord(key interfaces.BackupKey, payload *interfaces.BackupPayload, idempotencyKey string) (*interfaces.BackupRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, interfaces.ValidationError("payload is required")
	}
	if idempotencyKey == "" {
		return nil, interfaces.ValidationError("idempotency key is required")
	}
	if payload.WalletID != "" && payload.WalletID != key.WalletID {
		return nil, interfaces.ValidationError("payload wallet id %q does not match %q", payload.WalletID, key.WalletID)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	p := *payload
	p.WalletID = key.WalletID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Architecture == "" {
		p.Architecture = interfaces.BackupArchitecture
	}

	return &interfaces.BackupRecord{
		AppID:          key.AppID,
		UID:            key.UID,
		IdempotencyKey: idempotencyKey,
		Payload:        p,
	}, nil
}

// isReplay reports whether incoming repeats existing under the same idempotency
// key. CreatedAt is ignored so a retry keeps the original timestamp.
func isReplay(existing, incoming *interfaces.BackupRecord) bool {
	if existing == nil || existing.IdempotencyKey != incoming.IdempotencyKey {
		return false
	}
	a, b := existing.Payload, incoming.Payload
	return bytes.Equal(a.EncryptedMnemonic.Ciphertext, b.EncryptedMnemonic.Ciphertext) &&
		bytes.Equal(a.EncryptedMnemonic.Nonce, b.EncryptedMnemonic.Nonce) &&
		bytes.Equal(a.EncryptedMnemonic.AuthTag, b.EncryptedMnemonic.AuthTag) &&
		a.EncryptedMnemonic.Algorithm == b.EncryptedMnemonic.Algorithm &&
		bytes.Equal(a.BackendKeyShare, b.BackendKeyShare) &&
		a.ShareBLength == b.ShareBLength &&
		a.WalletID == b.WalletID &&
		a.Threshold == b.Threshold &&
		a.TotalShares == b.TotalShares
}

// summarize sorts records oldest first, so "pick first" is deterministic.
func summarize(records []*interfaces.BackupRecord) []interfaces.BackupSummary {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i].Payload, records[j].Payload
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.WalletID < b.WalletID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	out := make([]interfaces.BackupSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, interfaces.BackupSummary{WalletID: rec.Payload.WalletID, CreatedAt: rec.Payload.CreatedAt})
	}
	return out
}

// objectPath is the key layout shared by the object-style backends.
func objectPath(prefix string, key interfaces.BackupKey) string {
	return path.Join(walletsPrefix(prefix, key.AppID, key.UID), key.WalletID+".json")
}

func walletsPrefix(prefix, appID, uid string) string {
	return path.Join(prefix, "apps", appID, "backups", uid, "wallets")
}

func validateListArgs(appID, uid string) error {
	if appID == "" || uid == "" {
		return interfaces.ValidationError("app id and user id are required")
	}
	return interfaces.BackupKey{AppID: appID, UID: uid, WalletID: "list"}.Validate()
}

func backendError(name, op string, err error) error {
	return fmt.Errorf("%s %s: %w", name, op, err)
}
