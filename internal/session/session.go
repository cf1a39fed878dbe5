package session

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"chatflow/internal/fsm"
	"chatflow/internal/intent"
)

// Turn is one message in the rolling context window.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Session is the persisted state of one conversation: FSM state, intent
// queue, a bounded window of recent turns, and lifecycle timestamps.
// Only the Manager mutates sessions; everything else gets copies.
type Session struct {
	ConversationID string          `json:"conversation_id"`
	State          fsm.State       `json:"state"`
	Intents        intent.Snapshot `json:"intents"`
	Window         []Turn          `json:"window,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	LastActivity   time.Time       `json:"last_activity"`
	// Outcome is set exactly once, when the session reaches a terminal
	// state. Empty until then.
	Outcome fsm.State `json:"outcome,omitempty"`
	// Revision guards optimistic-concurrency saves. Zero means the
	// session has never been persisted.
	Revision int64 `json:"revision"`
}

// ConversationID derives the opaque conversation identifier from a user
// identity. The raw identity never appears in stored state or logs; only
// the salted hash does.
func ConversationID(salt, userIdentity string) string {
	sum := sha256.Sum256([]byte(salt + "\x00" + userIdentity))
	return hex.EncodeToString(sum[:])
}

// Terminal reports whether the session has ended.
func (s *Session) Terminal() bool { return s.Outcome != "" }

// AppendTurn adds a turn to the rolling window, trimming oldest-first to
// keep at most max entries.
func (s *Session) AppendTurn(role, content string, at time.Time, max int) {
	s.Window = append(s.Window, Turn{Role: role, Content: content, At: at})
	if max > 0 && len(s.Window) > max {
		s.Window = s.Window[len(s.Window)-max:]
	}
}

// ContextLines renders the window for the decision stages, oldest first.
func (s *Session) ContextLines() []string {
	out := make([]string, 0, len(s.Window))
	for _, t := range s.Window {
		out = append(out, t.Role+": "+t.Content)
	}
	return out
}
