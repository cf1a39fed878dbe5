package fsm

import "testing"

func TestDispatchInitialText(t *testing.T) {
	out := Dispatch(StateInitial, EventUserSentText)
	if !out.Valid {
		t.Fatalf("expected valid transition")
	}
	if out.Next != StateTriage {
		t.Fatalf("want %s, got %s", StateTriage, out.Next)
	}
	if len(out.Actions) == 0 {
		t.Fatalf("expected actions, got none")
	}
}

func TestDispatchUnmappedPair(t *testing.T) {
	out := Dispatch(StateInitial, EventUserDeclined)
	if out.Valid {
		t.Fatalf("unmapped pair must be invalid")
	}
	if out.Next != StateInitial {
		t.Fatalf("invalid dispatch must hold state, got %s", out.Next)
	}
	if len(out.Actions) != 0 {
		t.Fatalf("invalid dispatch must carry no actions: %v", out.Actions)
	}
}

func TestTerminalStatesHaveNoTransitions(t *testing.T) {
	for _, s := range States() {
		if !IsTerminal(s) {
			continue
		}
		for _, e := range Events() {
			out := Dispatch(s, e)
			if out.Valid {
				t.Fatalf("terminal %s accepted event %s -> %s", s, e, out.Next)
			}
			if len(out.Actions) != 0 {
				t.Fatalf("terminal %s produced actions for %s: %v", s, e, out.Actions)
			}
		}
	}
}

func TestTimerEventsFromEveryNonTerminal(t *testing.T) {
	for _, s := range States() {
		if IsTerminal(s) {
			continue
		}
		if out := Dispatch(s, EventInactivityTimeout); !out.Valid || out.Next != StateFollowUpScheduled {
			t.Fatalf("inactivity from %s: %+v", s, out)
		}
		if out := Dispatch(s, EventLifetimeExpired); !out.Valid || out.Next != StateSelfServed {
			t.Fatalf("lifetime from %s: %+v", s, out)
		}
		if out := Dispatch(s, EventInternalError); !out.Valid || out.Next != StateFailedInternal {
			t.Fatalf("internal error from %s: %+v", s, out)
		}
	}
}

func TestDispatchIsPure(t *testing.T) {
	first := Dispatch(StateTriage, EventUserAskedQuestion)
	// Mutating the returned actions must not leak into the table.
	if len(first.Actions) > 0 {
		first.Actions[0] = Action("MUTATED")
	}
	second := Dispatch(StateTriage, EventUserAskedQuestion)
	if len(second.Actions) > 0 && second.Actions[0] == Action("MUTATED") {
		t.Fatalf("dispatch leaked caller mutation into the transition table")
	}
	if second.Next != StateGeneratingResponse || !second.Valid {
		t.Fatalf("unexpected outcome: %+v", second)
	}
}

func TestKnownEvent(t *testing.T) {
	if !KnownEvent(EventUserSentText) {
		t.Fatalf("USER_SENT_TEXT should be known")
	}
	if KnownEvent(Event("MADE_UP")) {
		t.Fatalf("made-up event should not be known")
	}
}
