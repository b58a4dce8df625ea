package watchlist

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory watchlist store for demo/development mode.
type MemoryStore struct {
	accounts map[string]*WatchedAccount
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory watchlist store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*WatchedAccount),
	}
}

func (m *MemoryStore) Create(_ context.Context, account *WatchedAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[account.Handle]; ok {
		return ErrAlreadyWatched
	}
	cp := *account
	m.accounts[account.Handle] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, handle string) (*WatchedAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[handle]
	if !ok {
		return nil, ErrNotWatched
	}
	// Return a copy to prevent races on the shared pointer
	cp := *account
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, account *WatchedAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[account.Handle]; !ok {
		return ErrNotWatched
	}
	cp := *account
	m.accounts[account.Handle] = &cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[handle]; !ok {
		return ErrNotWatched
	}
	delete(m.accounts, handle)
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]*WatchedAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*WatchedAccount, 0, len(m.accounts))
	for _, a := range m.accounts {
		cp := *a
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Handle < result[j].Handle
	})
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
