package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chatflow/internal/decider"
	"chatflow/internal/pipeline"
)

// BuildMessage renders a shaped outbound message onto a Telegram message:
// plain text as-is, bounded choices as an inline keyboard, open lists as
// numbered lines.
func BuildMessage(msg pipeline.Outbound) tgbotapi.MessageConfig {
	switch msg.Shape {
	case decider.ShapeBoundedChoice:
		out := tgbotapi.NewMessage(msg.ChatID, msg.Text)
		var rows [][]tgbotapi.InlineKeyboardButton
		for i, opt := range msg.Options {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(opt, fmt.Sprintf("opt:%d", i)),
			))
		}
		if len(rows) > 0 {
			out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
		}
		return out
	case decider.ShapeOpenList:
		var b strings.Builder
		b.WriteString(msg.Text)
		for i, opt := range msg.Options {
			fmt.Fprintf(&b, "\n%d. %s", i+1, opt)
		}
		return tgbotapi.NewMessage(msg.ChatID, b.String())
	default:
		return tgbotapi.NewMessage(msg.ChatID, msg.Text)
	}
}
