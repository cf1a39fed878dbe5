// Package decider calls the external decision-maker with strict JSON
// prompts and parses its three result contracts: event detection, reply
// generation and shape selection. It never decides what a good reply is;
// it only asks, validates, and reports confidence.
package decider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"chatflow/internal/fsm"
	"chatflow/internal/intent"
	"chatflow/internal/llm"
	"chatflow/internal/sanitize"
)

// ErrDisabled is returned by every call when the decision-maker runs in
// disabled mode. Disabled is a first-class operating mode: callers
// short-circuit straight to their deterministic fallback.
var ErrDisabled = errors.New("decision-maker disabled")

// Shape of an outbound reply.
type Shape string

const (
	ShapePlainText     Shape = "plain_text"
	ShapeBoundedChoice Shape = "bounded_choice"
	ShapeOpenList      Shape = "open_list"
)

// ShapeFromOptionCount is the deterministic fallback mapping when shape
// selection fails: no options means plain text, a handful becomes a
// bounded choice, more becomes an open list.
func ShapeFromOptionCount(n int) Shape {
	switch {
	case n == 0:
		return ShapePlainText
	case n <= 3:
		return ShapeBoundedChoice
	default:
		return ShapeOpenList
	}
}

type DetectInput struct {
	Text    string
	Context []string
	State   fsm.State
}

type EventDetection struct {
	Event      fsm.Event   `json:"event"`
	Intent     intent.Type `json:"intent"`
	Confidence float64     `json:"confidence"`
}

type ReplyInput struct {
	Intent  intent.Type
	State   fsm.State
	Context []string
}

type ReplyGeneration struct {
	Reply         string    `json:"reply"`
	SuggestedNext fsm.State `json:"suggested_next_state"`
	Confidence    float64   `json:"confidence"`
}

type ShapeInput struct {
	Reply   string
	Options []string
}

type ShapeSelection struct {
	Shape      Shape    `json:"shape"`
	Options    []string `json:"options"`
	Confidence float64  `json:"confidence"`
}

// Decider wraps a chat client behind the three typed decision calls.
type Decider struct {
	client  llm.Client
	enabled bool
}

func New(client llm.Client, enabled bool) *Decider {
	return &Decider{client: client, enabled: enabled}
}

// Enabled reports the operating mode.
func (d *Decider) Enabled() bool { return d.enabled && d.client != nil }

// DetectEvent classifies the user's turn into an FSM event and an intent.
// All free text is masked before it leaves the process.
func (d *Decider) DetectEvent(ctx context.Context, in DetectInput) (EventDetection, error) {
	if !d.Enabled() {
		return EventDetection{}, ErrDisabled
	}
	msgs := []llm.Message{
		{Role: "system", Content: detectPrompt()},
		{Role: "user", Content: buildTurn(in.State, in.Context, in.Text)},
	}
	resp, err := d.client.Generate(ctx, msgs)
	if err != nil {
		return EventDetection{}, fmt.Errorf("event detection call failed: %w", err)
	}
	det, ok := parseDetection(resp.Content)
	if !ok {
		return EventDetection{}, fmt.Errorf("event detection returned invalid schema: %q", truncate(resp.Content))
	}
	return det, nil
}

// GenerateReply produces the reply text for the committed state.
func (d *Decider) GenerateReply(ctx context.Context, in ReplyInput) (ReplyGeneration, error) {
	if !d.Enabled() {
		return ReplyGeneration{}, ErrDisabled
	}
	msgs := []llm.Message{
		{Role: "system", Content: replyPrompt()},
		{Role: "user", Content: buildReplyInput(in)},
	}
	resp, err := d.client.Generate(ctx, msgs)
	if err != nil {
		return ReplyGeneration{}, fmt.Errorf("reply generation call failed: %w", err)
	}
	gen, ok := parseReply(resp.Content)
	if !ok {
		return ReplyGeneration{}, fmt.Errorf("reply generation returned invalid schema: %q", truncate(resp.Content))
	}
	return gen, nil
}

// SelectShape chooses how the already-generated reply should be rendered.
func (d *Decider) SelectShape(ctx context.Context, in ShapeInput) (ShapeSelection, error) {
	if !d.Enabled() {
		return ShapeSelection{}, ErrDisabled
	}
	msgs := []llm.Message{
		{Role: "system", Content: shapePrompt()},
		{Role: "user", Content: buildShapeInput(in)},
	}
	resp, err := d.client.Generate(ctx, msgs)
	if err != nil {
		return ShapeSelection{}, fmt.Errorf("shape selection call failed: %w", err)
	}
	sel, ok := parseShape(resp.Content)
	if !ok {
		return ShapeSelection{}, fmt.Errorf("shape selection returned invalid schema: %q", truncate(resp.Content))
	}
	if len(sel.Options) == 0 {
		sel.Options = in.Options
	}
	return sel, nil
}

func detectPrompt() string {
	return "You classify one turn of a customer conversation. " +
		"Given the current state, recent context and the user's message, return strictly JSON " +
		`{"event": "...", "intent": "...", "confidence": 0.0}. ` +
		"Allowed events: " + joinEvents() + ". " +
		"Allowed intents: " + joinIntents() + ". " +
		"Confidence is your own certainty in [0,1]. No prose, JSON only."
}

func replyPrompt() string {
	return "You write the assistant's next reply in a customer conversation. " +
		"Given the active intent, the committed conversation state and recent context, return strictly JSON " +
		`{"reply": "...", "suggested_next_state": "...", "confidence": 0.0}. ` +
		"Keep the reply short, neutral and helpful. Never include personal identifiers. No prose outside the JSON."
}

func shapePrompt() string {
	return "You choose the rendering shape for an already-written reply. " +
		"Return strictly JSON " +
		`{"shape": "plain_text|bounded_choice|open_list", "options": ["..."], "confidence": 0.0}. ` +
		"Use bounded_choice only when the reply offers a small fixed set of options. No prose outside the JSON."
}

func buildTurn(state fsm.State, context []string, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "state: %s\n", state)
	for _, line := range sanitize.MaskAll(context) {
		fmt.Fprintf(&b, "context: %s\n", line)
	}
	fmt.Fprintf(&b, "message: %s", sanitize.Mask(text))
	return b.String()
}

func buildReplyInput(in ReplyInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "intent: %s\nstate: %s\n", in.Intent, in.State)
	for _, line := range sanitize.MaskAll(in.Context) {
		fmt.Fprintf(&b, "context: %s\n", line)
	}
	return strings.TrimRight(b.String(), "\n")
}

func buildShapeInput(in ShapeInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "reply: %s\n", sanitize.Mask(in.Reply))
	for _, opt := range sanitize.MaskAll(in.Options) {
		fmt.Fprintf(&b, "option: %s\n", opt)
	}
	return strings.TrimRight(b.String(), "\n")
}

func parseDetection(s string) (EventDetection, bool) {
	var det EventDetection
	if err := json.Unmarshal([]byte(extractJSON(s)), &det); err != nil {
		return EventDetection{}, false
	}
	if !fsm.KnownEvent(det.Event) || !intent.KnownType(det.Intent) {
		return EventDetection{}, false
	}
	if det.Confidence < 0 || det.Confidence > 1 {
		return EventDetection{}, false
	}
	return det, true
}

func parseReply(s string) (ReplyGeneration, bool) {
	var gen ReplyGeneration
	if err := json.Unmarshal([]byte(extractJSON(s)), &gen); err != nil {
		return ReplyGeneration{}, false
	}
	if strings.TrimSpace(gen.Reply) == "" {
		return ReplyGeneration{}, false
	}
	if gen.Confidence < 0 || gen.Confidence > 1 {
		return ReplyGeneration{}, false
	}
	return gen, true
}

func parseShape(s string) (ShapeSelection, bool) {
	var sel ShapeSelection
	if err := json.Unmarshal([]byte(extractJSON(s)), &sel); err != nil {
		return ShapeSelection{}, false
	}
	switch sel.Shape {
	case ShapePlainText, ShapeBoundedChoice, ShapeOpenList:
	default:
		return ShapeSelection{}, false
	}
	if sel.Confidence < 0 || sel.Confidence > 1 {
		return ShapeSelection{}, false
	}
	return sel, true
}

// extractJSON tolerates models that wrap the JSON in code fences.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			return s[i : j+1]
		}
	}
	return s
}

func joinEvents() string {
	var names []string
	for _, e := range fsm.Events() {
		names = append(names, string(e))
	}
	return strings.Join(names, ", ")
}

func joinIntents() string {
	return strings.Join([]string{
		string(intent.TypeEntryUnknown), string(intent.TypeQuestion),
		string(intent.TypeProvideDetails), string(intent.TypeTalkToHuman),
		string(intent.TypeScheduleVisit), string(intent.TypeOffTopic), string(intent.TypeSpam),
	}, ", ")
}

func truncate(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
