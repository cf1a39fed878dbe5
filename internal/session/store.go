package session

import (
	"context"
	"sync"
)

// SaveResult of an optimistic save.
type SaveResult int

const (
	// Saved means the session was written and its revision advanced.
	Saved SaveResult = iota
	// SaveConflict means another writer advanced the session first; the
	// caller must reload and retry or abandon.
	SaveConflict
)

func (r SaveResult) String() string {
	if r == Saved {
		return "saved"
	}
	return "conflict"
}

// Store persists sessions with revision-checked writes.
type Store interface {
	// Load returns the session, ok=false when it does not exist.
	Load(ctx context.Context, conversationID string) (Session, bool, error)
	// Save writes s if its Revision matches the stored one (zero for a
	// new session) and advances the revision on success.
	Save(ctx context.Context, s Session) (SaveResult, error)
	// Active returns every non-terminal session, for the timeout sweeper.
	Active(ctx context.Context) ([]Session, error)
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Load(_ context.Context, conversationID string) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[conversationID]
	return s, ok, nil
}

func (m *MemoryStore) Save(_ context.Context, s Session) (SaveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sessions[s.ConversationID]
	if ok && stored.Revision != s.Revision {
		return SaveConflict, nil
	}
	if !ok && s.Revision != 0 {
		return SaveConflict, nil
	}
	s.Revision++
	m.sessions[s.ConversationID] = s
	return Saved, nil
}

func (m *MemoryStore) Active(_ context.Context) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if !s.Terminal() {
			out = append(out, s)
		}
	}
	return out, nil
}
