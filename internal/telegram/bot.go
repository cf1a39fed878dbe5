package telegram

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chatflow/internal/pipeline"
)

// api is the subset of the bot client the adapter needs; tests stub it.
type api interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
}

// Bot adapts Telegram to the conversation pipeline: updates in, shaped
// replies out. Signature verification is Telegram's own; by the time an
// update reaches us it is already authenticated transport.
type Bot struct {
	api      api
	pipeline *pipeline.Pipeline
}

func New(botToken string, p *pipeline.Pipeline) (*Bot, error) {
	client, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	return &Bot{api: client, pipeline: p}, nil
}

// NewWithAPI wires a custom client (tests).
func NewWithAPI(client api, p *pipeline.Pipeline) *Bot {
	return &Bot{api: client, pipeline: p}
}

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			b.handleIncomingMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	in := pipeline.Inbound{
		// Message ids are only unique per chat, so the dedup key
		// includes both.
		MessageID:  fmt.Sprintf("tg:%d:%d", msg.Chat.ID, msg.MessageID),
		UserID:     strconv.FormatInt(msg.From.ID, 10),
		ChatID:     msg.Chat.ID,
		Text:       msg.Text,
		ReceivedAt: time.Unix(int64(msg.Date), 0).UTC(),
	}
	if err := b.pipeline.Process(ctx, in); err != nil {
		log.Printf("telegram: processing %s failed: %v", in.MessageID, err)
	}
}

// Send implements pipeline.Sender, rendering the shaped message onto
// Telegram primitives.
func (b *Bot) Send(_ context.Context, msg pipeline.Outbound) error {
	out := BuildMessage(msg)
	if _, err := b.api.Send(out); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
