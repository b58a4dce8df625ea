package session

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory session store for demo/development mode.
type MemoryStore struct {
	sessions map[string]*LiveSession
	chunks   map[string][]*StreamChunk // sessionID → chunks in append order
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*LiveSession),
		chunks:   make(map[string][]*StreamChunk),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, session *LiveSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session.Status == StatusActive {
		for _, s := range m.sessions {
			if s.Handle == session.Handle && s.Status == StatusActive {
				return ErrSessionAlreadyActive
			}
		}
	}

	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*LiveSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	// Return a copy to prevent races on the shared pointer
	cp := *session
	return &cp, nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, session *LiveSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.ID]; !ok {
		return ErrSessionNotFound
	}
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *MemoryStore) GetActiveByHandle(_ context.Context, handle string) (*LiveSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sessions {
		if s.Handle == handle && s.Status == StatusActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrSessionNotFound
}

func (m *MemoryStore) ListByHandle(_ context.Context, handle string, limit int) ([]*LiveSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*LiveSession
	for _, s := range m.sessions {
		if s.Handle == handle {
			cp := *s
			result = append(result, &cp)
		}
	}

	// Sort by start time descending
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.After(result[j].StartTime)
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListActive(_ context.Context) ([]*LiveSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*LiveSession
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			cp := *s
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Handle < result[j].Handle
	})
	return result, nil
}

func (m *MemoryStore) CreateChunk(_ context.Context, chunk *StreamChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Enforce unique (session_id, chunk_number)
	for _, existing := range m.chunks[chunk.SessionID] {
		if existing.ChunkNumber == chunk.ChunkNumber {
			return ErrSessionNotActive
		}
	}

	cp := *chunk
	m.chunks[chunk.SessionID] = append(m.chunks[chunk.SessionID], &cp)
	return nil
}

func (m *MemoryStore) ListChunks(_ context.Context, sessionID string, limit int) ([]*StreamChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chunks := m.chunks[sessionID]
	if len(chunks) > limit {
		chunks = chunks[:limit]
	}

	// Return copies
	result := make([]*StreamChunk, len(chunks))
	for i, c := range chunks {
		cp := *c
		result[i] = &cp
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
