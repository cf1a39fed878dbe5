package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"chatflow/internal/audit"
	"chatflow/internal/fsm"
)

func TestConversationIDHidesIdentity(t *testing.T) {
	id := ConversationID("salt", "+5511912345678")
	if strings.Contains(id, "5511912345678") {
		t.Fatalf("conversation id leaks raw identity: %q", id)
	}
	if id != ConversationID("salt", "+5511912345678") {
		t.Fatalf("conversation id not deterministic")
	}
	if id == ConversationID("other-salt", "+5511912345678") {
		t.Fatalf("salt should change the derived id")
	}
}

func TestAppendTurnTrimsWindow(t *testing.T) {
	s := Session{}
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		s.AppendTurn("user", strings.Repeat("x", i+1), at, 4)
	}
	if len(s.Window) != 4 {
		t.Fatalf("window not trimmed: %d", len(s.Window))
	}
	if s.Window[0].Content != "xxx" {
		t.Fatalf("oldest retained turn wrong: %q", s.Window[0].Content)
	}
}

func TestMemoryStoreOptimisticSave(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	s := Session{ConversationID: "c-1", State: fsm.StateInitial}
	if res, err := store.Save(ctx, s); err != nil || res != Saved {
		t.Fatalf("initial save: res=%v err=%v", res, err)
	}

	loaded, ok, err := store.Load(ctx, "c-1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if loaded.Revision != 1 {
		t.Fatalf("revision after first save: %d", loaded.Revision)
	}

	// A stale writer (still at revision 0) must conflict.
	if res, _ := store.Save(ctx, s); res != SaveConflict {
		t.Fatalf("stale save should conflict, got %v", res)
	}
	if res, _ := store.Save(ctx, loaded); res != Saved {
		t.Fatalf("fresh save should succeed")
	}
}

func TestManagerTimeoutEvents(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mgr := NewManager(NewMemoryStore(), audit.NewMemoryLog(), 30*time.Minute, 24*time.Hour).
		WithClock(func() time.Time { return now })

	s := mgr.NewSession("c-1")
	if _, fired := mgr.TimeoutEvent(s); fired {
		t.Fatalf("fresh session should not time out")
	}

	s.LastActivity = now.Add(-31 * time.Minute)
	if ev, fired := mgr.TimeoutEvent(s); !fired || ev != fsm.EventInactivityTimeout {
		t.Fatalf("want inactivity timeout, got %v fired=%v", ev, fired)
	}

	s.CreatedAt = now.Add(-25 * time.Hour)
	if ev, fired := mgr.TimeoutEvent(s); !fired || ev != fsm.EventLifetimeExpired {
		t.Fatalf("lifetime must win over inactivity, got %v", ev)
	}

	s.Outcome = fsm.StateSelfServed
	if _, fired := mgr.TimeoutEvent(s); fired {
		t.Fatalf("terminal session must not time out again")
	}
}

func TestManagerExpirePersistsAndAudits(t *testing.T) {
	store := NewMemoryStore()
	alog := audit.NewMemoryLog()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mgr := NewManager(store, alog, 30*time.Minute, 24*time.Hour).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	s := mgr.NewSession("c-1")
	s.State = fsm.StateTriage
	saved, err := mgr.Persist(ctx, s, func(*Session) {})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	expired, err := mgr.Expire(ctx, saved, fsm.EventInactivityTimeout)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired.Outcome != fsm.StateFollowUpScheduled {
		t.Fatalf("want follow_up_scheduled outcome, got %s", expired.Outcome)
	}

	stored, ok, _ := store.Load(ctx, "c-1")
	if !ok || !stored.Terminal() {
		t.Fatalf("expiry not persisted: %+v", stored)
	}

	history, _ := alog.History(ctx, "c-1", 0)
	if len(history) != 1 || !strings.Contains(history[0].Action, "INACTIVITY_TIMEOUT") {
		t.Fatalf("expiry not audited: %+v", history)
	}
}

func TestPersistRetriesOnConflict(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store, audit.NewMemoryLog(), 0, 0)
	ctx := context.Background()

	s := mgr.NewSession("c-1")
	first, err := mgr.Persist(ctx, s, func(cur *Session) { cur.State = fsm.StateTriage })
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	// Another worker advances the session; our stale copy must be
	// reloaded and the mutation reapplied on top.
	if res, _ := store.Save(ctx, first); res != Saved {
		t.Fatalf("concurrent save setup failed")
	}
	out, err := mgr.Persist(ctx, first, func(cur *Session) { cur.State = fsm.StateCollectingInfo })
	if err != nil {
		t.Fatalf("persist after conflict: %v", err)
	}
	if out.State != fsm.StateCollectingInfo {
		t.Fatalf("mutation lost after retry: %+v", out)
	}
	stored, _, _ := store.Load(ctx, "c-1")
	if stored.Revision != 3 {
		t.Fatalf("want revision 3 after three saves, got %d", stored.Revision)
	}
}

func TestSweeperExpiresIdleSessions(t *testing.T) {
	store := NewMemoryStore()
	alog := audit.NewMemoryLog()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mgr := NewManager(store, alog, 30*time.Minute, 24*time.Hour).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	idle := mgr.NewSession("idle")
	idle.State = fsm.StateTriage
	idle.LastActivity = now.Add(-2 * time.Hour)
	if _, err := mgr.Persist(ctx, idle, func(*Session) {}); err != nil {
		t.Fatalf("seed idle: %v", err)
	}
	fresh := mgr.NewSession("fresh")
	fresh.State = fsm.StateTriage
	if _, err := mgr.Persist(ctx, fresh, func(*Session) {}); err != nil {
		t.Fatalf("seed fresh: %v", err)
	}

	sw := NewSweeper(mgr, store, "@every 1m")
	if err := sw.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	idleStored, _, _ := store.Load(ctx, "idle")
	if idleStored.Outcome != fsm.StateFollowUpScheduled {
		t.Fatalf("idle session not expired: %+v", idleStored)
	}
	freshStored, _, _ := store.Load(ctx, "fresh")
	if freshStored.Terminal() {
		t.Fatalf("fresh session wrongly expired: %+v", freshStored)
	}
}
