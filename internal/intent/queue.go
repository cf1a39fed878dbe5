package intent

import "time"

// Type is the classified purpose of a turn.
type Type string

const (
	TypeEntryUnknown   Type = "ENTRY_UNKNOWN"
	TypeQuestion       Type = "QUESTION"
	TypeProvideDetails Type = "PROVIDE_DETAILS"
	TypeTalkToHuman    Type = "TALK_TO_HUMAN"
	TypeScheduleVisit  Type = "SCHEDULE_VISIT"
	TypeOffTopic       Type = "OFF_TOPIC"
	TypeSpam           Type = "SPAM"
)

// KnownType reports whether t is part of the intent vocabulary. The
// detection stage uses it to reject made-up classifications.
func KnownType(t Type) bool {
	switch t {
	case TypeEntryUnknown, TypeQuestion, TypeProvideDetails, TypeTalkToHuman,
		TypeScheduleVisit, TypeOffTopic, TypeSpam:
		return true
	}
	return false
}

// Intent is one classified purpose with its detection confidence.
type Intent struct {
	Type       Type      `json:"type"`
	Confidence float64   `json:"confidence"`
	DetectedAt time.Time `json:"detected_at"`
}

// Admission is the result of offering an intent to the queue.
type Admission int

const (
	AcceptedActive Admission = iota
	AcceptedQueued
	RejectedFull
)

func (a Admission) String() string {
	switch a {
	case AcceptedActive:
		return "accepted_active"
	case AcceptedQueued:
		return "accepted_queued"
	default:
		return "rejected_full"
	}
}

// Overflow is the injectable decision when the queue is full. The default
// rejects; deployments with value-ranked intents can evict instead.
type Overflow int

const (
	OverflowReject Overflow = iota
	OverflowEvictOldestQueued
)

// OverflowPolicy decides what to do with an incoming intent when the
// queue is at capacity.
type OverflowPolicy func(active Intent, queued []Intent, incoming Intent) Overflow

// RejectOverflow is the default policy: a full queue turns intents away.
func RejectOverflow(Intent, []Intent, Intent) Overflow { return OverflowReject }

// DefaultCapacity bounds active + queued intents.
const DefaultCapacity = 3

// Queue holds at most one active intent and a FIFO of pending ones.
// Not safe for concurrent use; each session owns exactly one queue.
type Queue struct {
	capacity int
	active   *Intent
	queued   []Intent
	policy   OverflowPolicy
}

// NewQueue creates a queue with the given capacity (active + queued).
// A nil policy falls back to RejectOverflow; capacity < 1 falls back to
// DefaultCapacity.
func NewQueue(capacity int, policy OverflowPolicy) *Queue {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if policy == nil {
		policy = RejectOverflow
	}
	return &Queue{capacity: capacity, policy: policy}
}

// Admit offers an intent. The first intent into an empty queue becomes
// active; later ones queue in arrival order until capacity is hit.
func (q *Queue) Admit(in Intent) Admission {
	if q.active == nil {
		cp := in
		q.active = &cp
		return AcceptedActive
	}
	if q.size() >= q.capacity {
		if q.policy(*q.active, q.Queued(), in) == OverflowEvictOldestQueued && len(q.queued) > 0 {
			q.queued = append(q.queued[1:], in)
			return AcceptedQueued
		}
		return RejectedFull
	}
	q.queued = append(q.queued, in)
	return AcceptedQueued
}

// Active returns the current active intent, if any.
func (q *Queue) Active() (Intent, bool) {
	if q.active == nil {
		return Intent{}, false
	}
	return *q.active, true
}

// Advance retires the active intent and promotes the oldest queued one.
// It returns the new active intent, or ok=false when the queue drained.
func (q *Queue) Advance() (Intent, bool) {
	if len(q.queued) == 0 {
		q.active = nil
		return Intent{}, false
	}
	next := q.queued[0]
	q.queued = q.queued[1:]
	q.active = &next
	return next, true
}

// Queued returns a copy of the pending intents, oldest first.
func (q *Queue) Queued() []Intent {
	out := make([]Intent, len(q.queued))
	copy(out, q.queued)
	return out
}

// Len counts active plus queued intents.
func (q *Queue) Len() int { return q.size() }

func (q *Queue) size() int {
	n := len(q.queued)
	if q.active != nil {
		n++
	}
	return n
}

// Snapshot is the persistable form of a queue.
type Snapshot struct {
	Active *Intent  `json:"active,omitempty"`
	Queued []Intent `json:"queued,omitempty"`
}

// Snapshot captures the queue state for persistence.
func (q *Queue) Snapshot() Snapshot {
	s := Snapshot{}
	if q.active != nil {
		cp := *q.active
		s.Active = &cp
	}
	if len(q.queued) > 0 {
		s.Queued = q.Queued()
	}
	return s
}

// FromSnapshot rebuilds a queue from its persisted form. Intents beyond
// capacity are dropped oldest-last to restore the invariant.
func FromSnapshot(capacity int, policy OverflowPolicy, s Snapshot) *Queue {
	q := NewQueue(capacity, policy)
	if s.Active != nil {
		cp := *s.Active
		q.active = &cp
	}
	for _, in := range s.Queued {
		if q.size() >= q.capacity {
			break
		}
		q.queued = append(q.queued, in)
	}
	return q
}
