// Package pipeline processes one inbound chat event end to end: dedup
// claim, session load, the three decision stages in strict order (event
// detection, reply generation, shape selection) with an FSM commit
// between the first two, outbound handoff, audit append and session
// save. Stage order is enforced by construction: each stage's input is
// built only from the previous stage's resolved result.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"chatflow/internal/decider"
	"chatflow/internal/dedup"
	"chatflow/internal/fsm"
	"chatflow/internal/intent"
	"chatflow/internal/sanitize"
	"chatflow/internal/session"
)

// FallbackConfidence is the sentinel carried by fallback results. It can
// never collide with a genuine model confidence in [0,1].
const FallbackConfidence = -1.0

// FallbackReply is the safe generic reply used when reply generation is
// unavailable or not confident enough.
const FallbackReply = "Thanks for your message! One of our team members will get back to you shortly."

// neutralFailureReply is what the user sees on an unrecoverable internal
// failure. Internal details never reach the user.
const neutralFailureReply = "Sorry, something went wrong on our side. Please try again in a moment."

// Inbound is one already-verified, already-normalized chat event.
type Inbound struct {
	// MessageID is the channel-assigned id, used as the dedup key.
	MessageID string
	// UserID is the raw channel identity; it is hashed with the
	// configured salt before anything is stored or logged.
	UserID string
	// ChatID is the recipient handle for the outbound reply.
	ChatID     int64
	Text       string
	ReceivedAt time.Time
}

// Outbound is a fully-shaped message ready for the delivery collaborator.
type Outbound struct {
	ChatID     int64
	Text       string
	Shape      decider.Shape
	Options    []string
	NeedsHuman bool
}

// Sender delivers a shaped message. Retry and rate limiting are the
// collaborator's responsibility, not this pipeline's.
type Sender interface {
	Send(ctx context.Context, msg Outbound) error
}

// Config is the externally supplied tuning surface.
type Config struct {
	IdentitySalt   string
	DedupTTL       time.Duration
	CallTimeout    time.Duration
	EventThreshold float64
	ReplyThreshold float64
	ShapeThreshold float64
	WindowSize     int
	QueueCapacity  int
	OverflowPolicy intent.OverflowPolicy
}

// Pipeline wires the guard, the session manager, the decision-maker and
// the delivery collaborator into one turn processor. One logical worker
// runs one event end to end; instances are safe to share across workers.
type Pipeline struct {
	guard  dedup.Guard
	mgr    *session.Manager
	dec    *decider.Decider
	sender Sender
	cfg    Config
	now    func() time.Time
	trace  func(step string)
}

func New(guard dedup.Guard, mgr *session.Manager, dec *decider.Decider, sender Sender, cfg Config) *Pipeline {
	return &Pipeline{
		guard:  guard,
		mgr:    mgr,
		dec:    dec,
		sender: sender,
		cfg:    cfg,
		now:    time.Now,
		trace:  func(string) {},
	}
}

// WithClock overrides time for tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// WithTrace installs a hook invoked at every pipeline step, in order.
func (p *Pipeline) WithTrace(trace func(step string)) *Pipeline {
	p.trace = trace
	return p
}

// Process handles one inbound event. Duplicates and fail-closed dedup
// outages return nil: they are not errors, the turn is simply not
// processed again. A non-nil error means the turn failed internally and
// was surfaced to the operator.
func (p *Pipeline) Process(ctx context.Context, in Inbound) error {
	p.trace("dedup")
	switch p.guard.Claim(ctx, in.MessageID, p.cfg.DedupTTL) {
	case dedup.Duplicate:
		log.Printf("pipeline: duplicate delivery of %s, skipping", in.MessageID)
		return nil
	case dedup.Unavailable:
		log.Printf("pipeline: dedup store unavailable for %s, failing closed", in.MessageID)
		return nil
	}

	convID := session.ConversationID(p.cfg.IdentitySalt, in.UserID)
	p.trace("session_load")
	sess, err := p.mgr.LoadOrCreate(ctx, convID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess.Terminal() {
		log.Printf("pipeline: conversation %s already closed (%s), ignoring %s", convID, sess.Outcome, in.MessageID)
		return nil
	}
	if event, fired := p.mgr.TimeoutEvent(sess); fired {
		if _, err := p.mgr.Expire(ctx, sess, event); err != nil {
			return fmt.Errorf("expire session: %w", err)
		}
		log.Printf("pipeline: conversation %s expired via %s before turn %s", convID, event, in.MessageID)
		return nil
	}

	// Stage A: event/intent detection.
	p.trace("stage_a")
	detection, fallbackA := p.detectEvent(ctx, sess, in.Text)

	// FSM commit. The committed state is authoritative for the rest of
	// the turn; an invalid transition holds state and flags review.
	p.trace("fsm_commit")
	outcome := fsm.Dispatch(sess.State, detection.Event)
	needsHuman := false
	if !outcome.Valid {
		log.Printf("pipeline: invalid transition (%s, %s) for %s, holding state", sess.State, detection.Event, convID)
		outcome = fsm.Outcome{Next: sess.State, Actions: []fsm.Action{fsm.ActionSendMessage, fsm.ActionSaveState}}
		needsHuman = true
	}

	queue := intent.FromSnapshot(p.cfg.QueueCapacity, p.cfg.OverflowPolicy, sess.Intents)
	admission := queue.Admit(intent.Intent{
		Type:       detection.Intent,
		Confidence: detection.Confidence,
		DetectedAt: p.now().UTC(),
	})
	if admission == intent.RejectedFull {
		log.Printf("pipeline: intent queue full for %s, rejected %s", convID, detection.Intent)
	}
	if fsm.IsTerminal(outcome.Next) {
		queue.Advance()
	}

	var reply decider.ReplyGeneration
	var shape decider.ShapeSelection
	send := hasAction(outcome.Actions, fsm.ActionSendMessage)
	if send {
		// Stage B: reply generation, strictly after the FSM commit.
		p.trace("stage_b")
		var fallbackB bool
		reply, fallbackB = p.generateReply(ctx, detection.Intent, outcome.Next, sess)
		needsHuman = needsHuman || fallbackB

		// Stage C: shape selection, built only from Stage B's resolved
		// result, never from an in-flight call.
		p.trace("stage_c")
		shape = p.selectShape(ctx, reply.Reply)

		p.trace("handoff")
		msg := Outbound{
			ChatID:     in.ChatID,
			Text:       reply.Reply,
			Shape:      shape.Shape,
			Options:    shape.Options,
			NeedsHuman: needsHuman || hasAction(outcome.Actions, fsm.ActionNotifyHuman),
		}
		if err := p.sender.Send(ctx, msg); err != nil {
			// Delivery owns its retries; record and move on so state
			// and audit stay consistent with what we attempted.
			log.Printf("pipeline: outbound send failed for %s: %v", convID, err)
		}
	}

	p.trace("audit_append")
	action := fmt.Sprintf("state_transition %s -> %s on %s", sess.State, outcome.Next, detection.Event)
	if fallbackA {
		action += " fallback_used=true"
	}
	if _, err := p.mgr.RecordAudit(ctx, convID, action); err != nil {
		return p.failTurn(ctx, in, sess, fmt.Errorf("audit append: %w", err))
	}

	p.trace("session_save")
	now := p.now().UTC()
	_, err = p.mgr.Persist(ctx, sess, func(cur *session.Session) {
		cur.State = outcome.Next
		cur.Intents = queue.Snapshot()
		cur.AppendTurn("user", sanitize.Mask(in.Text), now, p.cfg.WindowSize)
		if send {
			cur.AppendTurn("assistant", reply.Reply, now, p.cfg.WindowSize)
		}
		cur.LastActivity = now
		if fsm.IsTerminal(outcome.Next) {
			cur.Outcome = outcome.Next
		}
	})
	if err != nil {
		return p.failTurn(ctx, in, sess, fmt.Errorf("persist session: %w", err))
	}
	return nil
}

// detectEvent runs Stage A under the call timeout. Unavailable, disabled
// or under-threshold results fall back to the conservative default
// pairing with the sentinel confidence.
func (p *Pipeline) detectEvent(ctx context.Context, sess session.Session, text string) (decider.EventDetection, bool) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	det, err := p.dec.DetectEvent(callCtx, decider.DetectInput{
		Text:    text,
		Context: sess.ContextLines(),
		State:   sess.State,
	})
	if err == nil && det.Confidence >= p.cfg.EventThreshold {
		return det, false
	}
	logFallback("a", sess.ConversationID, err, det.Confidence)
	return decider.EventDetection{
		Event:      fsm.EventUserSentText,
		Intent:     intent.TypeEntryUnknown,
		Confidence: FallbackConfidence,
	}, true
}

// generateReply runs Stage B. Its fallback supplies a safe generic reply
// and flags the turn for human review.
func (p *Pipeline) generateReply(ctx context.Context, it intent.Type, state fsm.State, sess session.Session) (decider.ReplyGeneration, bool) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	gen, err := p.dec.GenerateReply(callCtx, decider.ReplyInput{
		Intent:  it,
		State:   state,
		Context: sess.ContextLines(),
	})
	if err == nil && gen.Confidence >= p.cfg.ReplyThreshold {
		// Mask the model's output before it is reused or persisted, in
		// case it echoes identifiers it was never supposed to see.
		gen.Reply = sanitize.Mask(gen.Reply)
		return gen, false
	}
	logFallback("b", sess.ConversationID, err, gen.Confidence)
	return decider.ReplyGeneration{
		Reply:         FallbackReply,
		SuggestedNext: state,
		Confidence:    FallbackConfidence,
	}, true
}

// selectShape runs Stage C. Its fallback maps option count to shape
// deterministically.
func (p *Pipeline) selectShape(ctx context.Context, replyText string) decider.ShapeSelection {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	sel, err := p.dec.SelectShape(callCtx, decider.ShapeInput{Reply: replyText})
	if err == nil && sel.Confidence >= p.cfg.ShapeThreshold {
		return sel
	}
	logFallback("c", "", err, sel.Confidence)
	return decider.ShapeSelection{
		Shape:      decider.ShapeFromOptionCount(0),
		Confidence: FallbackConfidence,
	}
}

// failTurn forces the conversation into the internal-failure terminal
// outcome with a neutral user-facing message. The original error is
// returned for operator alerting; no automatic retry of the turn.
func (p *Pipeline) failTurn(ctx context.Context, in Inbound, sess session.Session, cause error) error {
	log.Printf("pipeline: turn %s failed internally: %v", in.MessageID, cause)
	_ = p.sender.Send(ctx, Outbound{ChatID: in.ChatID, Text: neutralFailureReply, Shape: decider.ShapePlainText})
	if out := fsm.Dispatch(sess.State, fsm.EventInternalError); out.Valid {
		now := p.now().UTC()
		if _, err := p.mgr.Persist(ctx, sess, func(cur *session.Session) {
			cur.State = out.Next
			cur.Outcome = out.Next
			cur.LastActivity = now
		}); err != nil {
			log.Printf("pipeline: could not persist failure outcome for %s: %v", sess.ConversationID, err)
		}
		if _, err := p.mgr.RecordAudit(ctx, sess.ConversationID, fmt.Sprintf("state_transition %s -> %s on %s", sess.State, out.Next, fsm.EventInternalError)); err != nil {
			log.Printf("pipeline: could not audit failure outcome for %s: %v", sess.ConversationID, err)
		}
	}
	return cause
}

func hasAction(actions []fsm.Action, want fsm.Action) bool {
	for _, a := range actions {
		if a == want {
			return true
		}
	}
	return false
}

func logFallback(stage, convID string, err error, confidence float64) {
	reason := "low confidence"
	if err != nil {
		reason = err.Error()
	}
	log.Printf("pipeline: stage=%s fallback_used=true conversation=%s reason=%q confidence=%.2f", stage, convID, reason, confidence)
}
