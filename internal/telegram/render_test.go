package telegram

import (
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chatflow/internal/decider"
	"chatflow/internal/pipeline"
)

func TestBuildPlainText(t *testing.T) {
	out := BuildMessage(pipeline.Outbound{ChatID: 7, Text: "hello", Shape: decider.ShapePlainText})
	if out.ChatID != 7 || out.Text != "hello" {
		t.Fatalf("unexpected message: %+v", out)
	}
	if out.ReplyMarkup != nil {
		t.Fatalf("plain text should carry no keyboard")
	}
}

func TestBuildBoundedChoice(t *testing.T) {
	out := BuildMessage(pipeline.Outbound{
		ChatID:  7,
		Text:    "pick one",
		Shape:   decider.ShapeBoundedChoice,
		Options: []string{"morning", "afternoon"},
	})
	kb, ok := out.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("bounded choice should carry an inline keyboard, got %T", out.ReplyMarkup)
	}
	if len(kb.InlineKeyboard) != 2 {
		t.Fatalf("want 2 keyboard rows, got %d", len(kb.InlineKeyboard))
	}
	if kb.InlineKeyboard[0][0].Text != "morning" {
		t.Fatalf("unexpected first option: %+v", kb.InlineKeyboard[0][0])
	}
}

func TestBuildOpenList(t *testing.T) {
	out := BuildMessage(pipeline.Outbound{
		ChatID:  7,
		Text:    "we offer:",
		Shape:   decider.ShapeOpenList,
		Options: []string{"a", "b", "c", "d"},
	})
	if !strings.Contains(out.Text, "1. a") || !strings.Contains(out.Text, "4. d") {
		t.Fatalf("open list not numbered: %q", out.Text)
	}
	if out.ReplyMarkup != nil {
		t.Fatalf("open list should carry no keyboard")
	}
}
