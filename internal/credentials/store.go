package credentials

import (
	"context"
	"errors"
	"sync"

	"crosspost/internal/model"
)

// ErrNotFound is returned when no credential is stored for a
// (user, platform) pair.
var ErrNotFound = errors.New("credential not found")

// Store persists credentials per (user, platform) pair.
type Store interface {
	Get(ctx context.Context, userID string, p model.Platform) (*model.Credential, error)
	Put(ctx context.Context, cred *model.Credential) error
	Delete(ctx context.Context, userID string, p model.Platform) error
}

// MemoryStore is an in-process Store used by tests and single-node setups.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*model.Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]*model.Credential)}
}

func memKey(userID string, p model.Platform) string {
	return userID + "/" + string(p)
}

func (m *MemoryStore) Get(ctx context.Context, userID string, p model.Platform) (*model.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.creds[memKey(userID, p)]
	if !ok {
		return nil, ErrNotFound
	}
	return cred.Clone(), nil
}

func (m *MemoryStore) Put(ctx context.Context, cred *model.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[memKey(cred.UserID, cred.Platform)] = cred.Clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, userID string, p model.Platform) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, memKey(userID, p))
	return nil
}
