package storage

import (
	"context"
	"sync"

	"github.com/ruteri/seedless-backup/interfaces"
)

// MemoryStore is an in-process BackupStore. Used in tests and single-node development.
type MemoryStore struct {
	name    string
	mu      sync.RWMutex
	records map[interfaces.BackupKey]*interfaces.BackupRecord
}

func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{name: name, records: make(map[interfaces.BackupKey]*interfaces.BackupRecord)}
}

func (m *MemoryStore) PutBackup(ctx context.Context, key interfaces.BackupKey, payload *interfaces.BackupPayload, idempotencyKey string) error {
	rec, err := newRecord(key, payload, idempotencyKey)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if isReplay(m.records[key], rec) {
		return nil
	}
	m.records[key] = rec
	return nil
}

func (m *MemoryStore) ListBackups(ctx context.Context, appID, uid string) ([]interfaces.BackupSummary, error) {
	if err := validateListArgs(appID, uid); err != nil {
		return nil, err
	}

	m.mu.RLock()
	var matched []*interfaces.BackupRecord
	for key, rec := range m.records {
		if key.AppID == appID && key.UID == uid {
			matched = append(matched, rec)
		}
	}
	m.mu.RUnlock()

	return summarize(matched), nil
}

func (m *MemoryStore) GetBackup(ctx context.Context, key interfaces.BackupKey) (*interfaces.BackupRecord, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, false, nil
	}
	out := *rec
	return &out, true, nil
}

func (m *MemoryStore) Available(ctx context.Context) bool {
	return true
}

func (m *MemoryStore) Name() string {
	return m.name
}
