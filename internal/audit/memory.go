package audit

import (
	"context"
	"sync"
)

// MemoryLog keeps chains in process memory. Used by tests and by runs
// that do not need durability.
type MemoryLog struct {
	mu     sync.Mutex
	chains map[string][]Record
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{chains: make(map[string][]Record)}
}

func (l *MemoryLog) Append(_ context.Context, rec Record, expectedPrev string) (AppendResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	chain := l.chains[rec.ConversationID]
	head := ""
	if len(chain) > 0 {
		head = chain[len(chain)-1].Hash
	}
	if head != expectedPrev {
		return Conflict, nil
	}
	l.chains[rec.ConversationID] = append(chain, rec)
	return Appended, nil
}

func (l *MemoryLog) Latest(_ context.Context, conversationID string) (Record, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	chain := l.chains[conversationID]
	if len(chain) == 0 {
		return Record{}, false, nil
	}
	return chain[len(chain)-1], true, nil
}

func (l *MemoryLog) History(_ context.Context, conversationID string, limit int) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	chain := l.chains[conversationID]
	if limit > 0 && len(chain) > limit {
		chain = chain[len(chain)-limit:]
	}
	out := make([]Record, len(chain))
	copy(out, chain)
	return out, nil
}
