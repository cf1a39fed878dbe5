package fsm

import "time"

// State of a conversation. Terminal states end the conversation's active
// lifecycle and have no outgoing transitions.
type State string

const (
	StateInitial            State = "initial"
	StateTriage             State = "triage"
	StateCollectingInfo     State = "collecting_info"
	StateGeneratingResponse State = "generating_response"

	StateHandedOffToHuman  State = "handed_off_to_human"
	StateSelfServed        State = "self_served"
	StateRoutedExternally  State = "routed_externally"
	StateFollowUpScheduled State = "follow_up_scheduled"
	StateDuplicateOrSpam   State = "duplicate_or_spam"
	StateUnsupported       State = "unsupported"
	StateFailedInternal    State = "failed_internal"
)

// Event classifies what happened in a turn. Events are produced by the
// detection stage (or its fallback) and by the lifecycle timers.
type Event string

const (
	EventUserSentText       Event = "USER_SENT_TEXT"
	EventUserAskedQuestion  Event = "USER_ASKED_QUESTION"
	EventUserProvidedInfo   Event = "USER_PROVIDED_INFO"
	EventUserRequestedHuman Event = "USER_REQUESTED_HUMAN"
	EventUserConfirmed      Event = "USER_CONFIRMED"
	EventUserDeclined       Event = "USER_DECLINED"
	EventOffTopicDetected   Event = "OFF_TOPIC_DETECTED"
	EventSpamDetected       Event = "SPAM_DETECTED"
	EventUnsupportedContent Event = "UNSUPPORTED_CONTENT"
	EventInactivityTimeout  Event = "INACTIVITY_TIMEOUT"
	EventLifetimeExpired    Event = "LIFETIME_EXPIRED"
	EventInternalError      Event = "INTERNAL_ERROR"
)

// Action is a declarative instruction emitted alongside a transition.
// The engine never executes actions; callers interpret them.
type Action string

const (
	ActionSendMessage      Action = "SEND_MESSAGE"
	ActionSaveState        Action = "SAVE_STATE"
	ActionNotifyHuman      Action = "NOTIFY_HUMAN"
	ActionScheduleFollowUp Action = "SCHEDULE_FOLLOW_UP"
	ActionCloseSession     Action = "CLOSE_SESSION"
)

// Outcome is the result of a dispatch. Invalid transitions are ordinary
// data (Valid=false, empty actions), never a panic or an error.
type Outcome struct {
	Next    State
	Actions []Action
	Valid   bool
}

// TransitionRecord captures one committed transition for the audit trail.
// It is immutable after creation.
type TransitionRecord struct {
	From    State
	Event   Event
	To      State
	Actions []Action
	At      time.Time
}

type transitionKey struct {
	from  State
	event Event
}

type transition struct {
	next    State
	actions []Action
}

var terminalStates = map[State]bool{
	StateHandedOffToHuman:  true,
	StateSelfServed:        true,
	StateRoutedExternally:  true,
	StateFollowUpScheduled: true,
	StateDuplicateOrSpam:   true,
	StateUnsupported:       true,
	StateFailedInternal:    true,
}

var transitions = map[transitionKey]transition{
	{StateInitial, EventUserSentText}:       {StateTriage, []Action{ActionSendMessage, ActionSaveState}},
	{StateInitial, EventUserAskedQuestion}:  {StateTriage, []Action{ActionSendMessage, ActionSaveState}},
	{StateInitial, EventUserRequestedHuman}: {StateHandedOffToHuman, []Action{ActionNotifyHuman, ActionSendMessage, ActionSaveState, ActionCloseSession}},

	{StateTriage, EventUserSentText}:       {StateTriage, []Action{ActionSendMessage, ActionSaveState}},
	{StateTriage, EventUserAskedQuestion}:  {StateGeneratingResponse, []Action{ActionSendMessage, ActionSaveState}},
	{StateTriage, EventUserProvidedInfo}:   {StateCollectingInfo, []Action{ActionSendMessage, ActionSaveState}},
	{StateTriage, EventUserRequestedHuman}: {StateHandedOffToHuman, []Action{ActionNotifyHuman, ActionSendMessage, ActionSaveState, ActionCloseSession}},
	{StateTriage, EventOffTopicDetected}:   {StateRoutedExternally, []Action{ActionSendMessage, ActionSaveState, ActionCloseSession}},
	{StateTriage, EventSpamDetected}:       {StateDuplicateOrSpam, []Action{ActionSaveState, ActionCloseSession}},
	{StateTriage, EventUnsupportedContent}: {StateUnsupported, []Action{ActionSendMessage, ActionSaveState, ActionCloseSession}},

	{StateCollectingInfo, EventUserSentText}:       {StateCollectingInfo, []Action{ActionSendMessage, ActionSaveState}},
	{StateCollectingInfo, EventUserProvidedInfo}:   {StateCollectingInfo, []Action{ActionSendMessage, ActionSaveState}},
	{StateCollectingInfo, EventUserAskedQuestion}:  {StateGeneratingResponse, []Action{ActionSendMessage, ActionSaveState}},
	{StateCollectingInfo, EventUserConfirmed}:      {StateGeneratingResponse, []Action{ActionSendMessage, ActionSaveState}},
	{StateCollectingInfo, EventUserRequestedHuman}: {StateHandedOffToHuman, []Action{ActionNotifyHuman, ActionSendMessage, ActionSaveState, ActionCloseSession}},

	{StateGeneratingResponse, EventUserSentText}:       {StateGeneratingResponse, []Action{ActionSendMessage, ActionSaveState}},
	{StateGeneratingResponse, EventUserAskedQuestion}:  {StateGeneratingResponse, []Action{ActionSendMessage, ActionSaveState}},
	{StateGeneratingResponse, EventUserProvidedInfo}:   {StateCollectingInfo, []Action{ActionSendMessage, ActionSaveState}},
	{StateGeneratingResponse, EventUserConfirmed}:      {StateSelfServed, []Action{ActionSendMessage, ActionSaveState, ActionCloseSession}},
	{StateGeneratingResponse, EventUserDeclined}:       {StateTriage, []Action{ActionSendMessage, ActionSaveState}},
	{StateGeneratingResponse, EventUserRequestedHuman}: {StateHandedOffToHuman, []Action{ActionNotifyHuman, ActionSendMessage, ActionSaveState, ActionCloseSession}},
}

func init() {
	// Timer and failure events apply uniformly from every non-terminal state.
	for _, s := range []State{StateInitial, StateTriage, StateCollectingInfo, StateGeneratingResponse} {
		transitions[transitionKey{s, EventInactivityTimeout}] = transition{StateFollowUpScheduled, []Action{ActionScheduleFollowUp, ActionSaveState, ActionCloseSession}}
		transitions[transitionKey{s, EventLifetimeExpired}] = transition{StateSelfServed, []Action{ActionSaveState, ActionCloseSession}}
		transitions[transitionKey{s, EventInternalError}] = transition{StateFailedInternal, []Action{ActionSendMessage, ActionSaveState, ActionCloseSession}}
	}
}

// Dispatch maps (current state, event) to the next state and its actions.
// It is pure: no I/O, no mutation of shared state. Unmapped pairs and any
// event against a terminal state come back with Valid=false.
func Dispatch(current State, event Event) Outcome {
	if terminalStates[current] {
		return Outcome{Next: current, Valid: false}
	}
	tr, ok := transitions[transitionKey{current, event}]
	if !ok {
		return Outcome{Next: current, Valid: false}
	}
	actions := make([]Action, len(tr.actions))
	copy(actions, tr.actions)
	return Outcome{Next: tr.next, Actions: actions, Valid: true}
}

// IsTerminal reports whether s ends the conversation lifecycle.
func IsTerminal(s State) bool { return terminalStates[s] }

// States returns every known state, non-terminal first.
func States() []State {
	return []State{
		StateInitial, StateTriage, StateCollectingInfo, StateGeneratingResponse,
		StateHandedOffToHuman, StateSelfServed, StateRoutedExternally,
		StateFollowUpScheduled, StateDuplicateOrSpam, StateUnsupported, StateFailedInternal,
	}
}

// Events returns every known event.
func Events() []Event {
	return []Event{
		EventUserSentText, EventUserAskedQuestion, EventUserProvidedInfo,
		EventUserRequestedHuman, EventUserConfirmed, EventUserDeclined,
		EventOffTopicDetected, EventSpamDetected, EventUnsupportedContent,
		EventInactivityTimeout, EventLifetimeExpired, EventInternalError,
	}
}

// KnownEvent reports whether e is part of the event vocabulary. The
// detection stage uses it to reject made-up classifications.
func KnownEvent(e Event) bool {
	for _, known := range Events() {
		if e == known {
			return true
		}
	}
	return false
}
