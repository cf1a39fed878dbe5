package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"chatflow/internal/audit"
	"chatflow/internal/fsm"
)

// maxWriteAttempts bounds reload-and-retry on optimistic-concurrency
// conflicts. Exceeding it surfaces as an internal failure.
const maxWriteAttempts = 3

// Manager owns session lifecycle: load-or-create, timeout enforcement,
// and persistence. It is the only component that writes sessions; the
// pipeline hands mutations back as closures applied under retry.
type Manager struct {
	store      Store
	auditLog   audit.Log
	inactivity time.Duration
	lifetime   time.Duration
	now        func() time.Time
}

func NewManager(store Store, auditLog audit.Log, inactivity, lifetime time.Duration) *Manager {
	return &Manager{
		store:      store,
		auditLog:   auditLog,
		inactivity: inactivity,
		lifetime:   lifetime,
		now:        time.Now,
	}
}

// WithClock overrides time for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// NewSession builds a fresh, unpersisted session.
func (m *Manager) NewSession(conversationID string) Session {
	now := m.now().UTC()
	return Session{
		ConversationID: conversationID,
		State:          fsm.StateInitial,
		CreatedAt:      now,
		LastActivity:   now,
	}
}

// LoadOrCreate returns the stored session or a fresh one.
func (m *Manager) LoadOrCreate(ctx context.Context, conversationID string) (Session, error) {
	s, ok, err := m.store.Load(ctx, conversationID)
	if err != nil {
		return Session{}, fmt.Errorf("load session %s: %w", conversationID, err)
	}
	if !ok {
		return m.NewSession(conversationID), nil
	}
	return s, nil
}

// TimeoutEvent reports which lifecycle timer, if any, has fired for s.
// The hard-lifetime timer wins over the inactivity timer.
func (m *Manager) TimeoutEvent(s Session) (fsm.Event, bool) {
	if s.Terminal() {
		return "", false
	}
	now := m.now()
	if m.lifetime > 0 && now.Sub(s.CreatedAt) >= m.lifetime {
		return fsm.EventLifetimeExpired, true
	}
	if m.inactivity > 0 && now.Sub(s.LastActivity) >= m.inactivity {
		return fsm.EventInactivityTimeout, true
	}
	return "", false
}

// Expire force-transitions s through the given timer event, persists the
// terminal outcome and records it in the audit trail.
func (m *Manager) Expire(ctx context.Context, s Session, event fsm.Event) (Session, error) {
	out := fsm.Dispatch(s.State, event)
	if !out.Valid {
		return s, fmt.Errorf("timer event %s invalid from state %s", event, s.State)
	}
	saved, err := m.Persist(ctx, s, func(cur *Session) {
		cur.State = out.Next
		cur.Outcome = out.Next
		cur.LastActivity = m.now().UTC()
	})
	if err != nil {
		return s, err
	}
	if _, err := m.RecordAudit(ctx, s.ConversationID, fmt.Sprintf("state_transition %s -> %s on %s", s.State, out.Next, event)); err != nil {
		log.Printf("session: audit append failed for expiry of %s: %v", s.ConversationID, err)
	}
	return saved, nil
}

// Persist applies the turn's mutation and saves. On a revision conflict
// the session is reloaded and the mutation reapplied, up to
// maxWriteAttempts; the loser of a sustained race gets an error.
func (m *Manager) Persist(ctx context.Context, base Session, apply func(*Session)) (Session, error) {
	cur := base
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		s := cur
		apply(&s)
		res, err := m.store.Save(ctx, s)
		if err != nil {
			return Session{}, fmt.Errorf("save session %s: %w", s.ConversationID, err)
		}
		if res == Saved {
			s.Revision++
			return s, nil
		}
		log.Printf("session: save conflict for %s (attempt %d), reloading", base.ConversationID, attempt+1)
		reloaded, ok, err := m.store.Load(ctx, base.ConversationID)
		if err != nil {
			return Session{}, fmt.Errorf("reload session %s: %w", base.ConversationID, err)
		}
		if !ok {
			reloaded = m.NewSession(base.ConversationID)
		}
		if reloaded.Terminal() {
			return Session{}, fmt.Errorf("session %s was closed by a concurrent writer", base.ConversationID)
		}
		cur = reloaded
	}
	return Session{}, fmt.Errorf("session %s: save conflicts exhausted %d attempts", base.ConversationID, maxWriteAttempts)
}

// RecordAudit appends a hash-chained audit event for the conversation,
// retrying with a fresh head on optimistic-concurrency conflicts.
func (m *Manager) RecordAudit(ctx context.Context, conversationID, action string) (audit.Record, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		head, ok, err := m.auditLog.Latest(ctx, conversationID)
		if err != nil {
			return audit.Record{}, fmt.Errorf("read audit head for %s: %w", conversationID, err)
		}
		prev := ""
		if ok {
			prev = head.Hash
		}
		rec := audit.Seal(audit.Record{
			EventID:        uuid.NewString(),
			ConversationID: conversationID,
			Actor:          audit.ActorSystem,
			Action:         action,
			Timestamp:      m.now().UTC(),
		}, prev)
		res, err := m.auditLog.Append(ctx, rec, prev)
		if err != nil {
			return audit.Record{}, fmt.Errorf("append audit event for %s: %w", conversationID, err)
		}
		if res == audit.Appended {
			return rec, nil
		}
		log.Printf("audit: append conflict for %s (attempt %d), re-reading head", conversationID, attempt+1)
	}
	return audit.Record{}, fmt.Errorf("audit append for %s: conflicts exhausted %d attempts", conversationID, maxWriteAttempts)
}
