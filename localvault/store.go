package localvault

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no vault entry exists for a wallet.
var ErrNotFound = errors.New("vault entry not found")

// BlobStore persists sealed vault blobs and the active-wallet pointer.
// It never sees plaintext.
type BlobStore interface {
	Put(ctx context.Context, walletID string, blob []byte) error
	// Get returns ErrNotFound when walletID has no entry.
	Get(ctx context.Context, walletID string) ([]byte, error)
	Delete(ctx context.Context, walletID string) error

	// SetActive records walletID as the active wallet; "" clears the pointer.
	SetActive(ctx context.Context, walletID string) error
	Active(ctx context.Context) (string, error)
}

type MemoryBlobStore struct {
	mu     sync.RWMutex
	blobs  map[string][]byte
	active string
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Put(ctx context.Context, walletID string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[walletID] = append([]byte(nil), blob...)
	return nil
}

func (m *MemoryBlobStore) Get(ctx context.Context, walletID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[walletID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), blob...), nil
}

func (m *MemoryBlobStore) Delete(ctx context.Context, walletID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, walletID)
	return nil
}

func (m *MemoryBlobStore) SetActive(ctx context.Context, walletID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = walletID
	return nil
}

func (m *MemoryBlobStore) Active(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active, nil
}
