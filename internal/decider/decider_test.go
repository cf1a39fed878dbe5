package decider

import (
	"context"
	"errors"
	"strings"
	"testing"

	"chatflow/internal/fsm"
	"chatflow/internal/intent"
	"chatflow/internal/llm"
)

type fakeClient struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeClient) Generate(_ context.Context, messages []llm.Message) (llm.Response, error) {
	for _, m := range messages {
		f.prompts = append(f.prompts, m.Content)
	}
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Content: f.reply, Model: "fake"}, nil
}

func TestDisabledModeShortCircuits(t *testing.T) {
	d := New(&fakeClient{}, false)
	if _, err := d.DetectEvent(context.Background(), DetectInput{Text: "oi"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("want ErrDisabled, got %v", err)
	}
	if _, err := d.GenerateReply(context.Background(), ReplyInput{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("want ErrDisabled, got %v", err)
	}
	if _, err := d.SelectShape(context.Background(), ShapeInput{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("want ErrDisabled, got %v", err)
	}
}

func TestDetectEventParsesResult(t *testing.T) {
	fc := &fakeClient{reply: `{"event":"USER_ASKED_QUESTION","intent":"QUESTION","confidence":0.87}`}
	d := New(fc, true)
	det, err := d.DetectEvent(context.Background(), DetectInput{Text: "what time do you open?", State: fsm.StateTriage})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if det.Event != fsm.EventUserAskedQuestion || det.Intent != intent.TypeQuestion || det.Confidence != 0.87 {
		t.Fatalf("unexpected detection: %+v", det)
	}
}

func TestDetectEventRejectsUnknownEnum(t *testing.T) {
	fc := &fakeClient{reply: `{"event":"MADE_UP","intent":"QUESTION","confidence":0.9}`}
	d := New(fc, true)
	if _, err := d.DetectEvent(context.Background(), DetectInput{Text: "hi"}); err == nil {
		t.Fatalf("made-up event must be rejected")
	}
}

func TestDetectEventMasksIdentifiers(t *testing.T) {
	fc := &fakeClient{reply: `{"event":"USER_SENT_TEXT","intent":"ENTRY_UNKNOWN","confidence":0.5}`}
	d := New(fc, true)
	_, err := d.DetectEvent(context.Background(), DetectInput{
		Text:    "my email is leak@example.com",
		Context: []string{"earlier: doc 123.456.789-09"},
		State:   fsm.StateTriage,
	})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	joined := strings.Join(fc.prompts, "\n")
	if strings.Contains(joined, "leak@example.com") || strings.Contains(joined, "123.456.789-09") {
		t.Fatalf("identifier leaked to decision-maker: %q", joined)
	}
}

func TestGenerateReplyToleratesCodeFence(t *testing.T) {
	fc := &fakeClient{reply: "```json\n{\"reply\":\"We open at 9am.\",\"suggested_next_state\":\"generating_response\",\"confidence\":0.8}\n```"}
	d := New(fc, true)
	gen, err := d.GenerateReply(context.Background(), ReplyInput{Intent: intent.TypeQuestion, State: fsm.StateGeneratingResponse})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gen.Reply != "We open at 9am." || gen.Confidence != 0.8 {
		t.Fatalf("unexpected generation: %+v", gen)
	}
}

func TestSelectShapeKeepsOfferedOptions(t *testing.T) {
	fc := &fakeClient{reply: `{"shape":"bounded_choice","confidence":0.9}`}
	d := New(fc, true)
	sel, err := d.SelectShape(context.Background(), ShapeInput{Reply: "pick one", Options: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Shape != ShapeBoundedChoice || len(sel.Options) != 2 {
		t.Fatalf("unexpected selection: %+v", sel)
	}
}

func TestShapeFromOptionCount(t *testing.T) {
	cases := map[int]Shape{0: ShapePlainText, 1: ShapeBoundedChoice, 3: ShapeBoundedChoice, 4: ShapeOpenList}
	for n, want := range cases {
		if got := ShapeFromOptionCount(n); got != want {
			t.Fatalf("options=%d: want %s, got %s", n, want, got)
		}
	}
}
