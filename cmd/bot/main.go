package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"chatflow/internal/audit"
	"chatflow/internal/config"
	"chatflow/internal/decider"
	"chatflow/internal/dedup"
	"chatflow/internal/intent"
	"chatflow/internal/llm"
	"chatflow/internal/pipeline"
	"chatflow/internal/session"
	"chatflow/internal/telegram"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()

	guard, err := newGuard(cfg)
	if err != nil {
		log.Fatalf("failed to init dedup guard: %v", err)
	}

	auditLog, store, err := newStores(cfg)
	if err != nil {
		log.Fatalf("failed to init stores: %v", err)
	}

	dec, err := newDecider(cfg)
	if err != nil {
		log.Fatalf("failed to init decision-maker: %v", err)
	}

	mgr := session.NewManager(store, auditLog, cfg.Inactivity, cfg.Lifetime)

	var bot *telegram.Bot
	p := pipeline.New(guard, mgr, dec, senderFunc(func(ctx context.Context, msg pipeline.Outbound) error {
		return bot.Send(ctx, msg)
	}), pipeline.Config{
		IdentitySalt:   cfg.IdentitySalt,
		DedupTTL:       cfg.DedupTTL,
		CallTimeout:    cfg.DeciderTimeout,
		EventThreshold: cfg.EventThreshold,
		ReplyThreshold: cfg.ReplyThreshold,
		ShapeThreshold: cfg.ShapeThreshold,
		WindowSize:     cfg.WindowSize,
		QueueCapacity:  cfg.QueueCapacity,
		OverflowPolicy: intent.RejectOverflow,
	})

	bot, err = telegram.New(cfg.TelegramBotToken, p)
	if err != nil {
		log.Fatalf("failed to create bot: %v", err)
	}

	sweeper := session.NewSweeper(mgr, store, cfg.SweepSchedule)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("failed to start sweeper: %v", err)
	}
	defer sweeper.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("chatflow started (decider=%s enabled=%v dedup=%s store=%s)",
		cfg.DeciderProvider, cfg.DeciderEnabled, cfg.DedupBackend, cfg.StoreBackend)
	bot.Start(ctx)
}

// senderFunc lets the pipeline hand off to the bot that is constructed
// after it.
type senderFunc func(ctx context.Context, msg pipeline.Outbound) error

func (f senderFunc) Send(ctx context.Context, msg pipeline.Outbound) error { return f(ctx, msg) }

func newGuard(cfg *config.Config) (dedup.Guard, error) {
	switch cfg.DedupBackend {
	case "memory":
		return dedup.NewMemory(), nil
	case "redis":
		return dedup.NewRedis(cfg.RedisAddr), nil
	default:
		return nil, fmt.Errorf("unknown dedup backend: %s", cfg.DedupBackend)
	}
}

func newStores(cfg *config.Config) (audit.Log, session.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		auditLog, err := audit.NewFileLog(cfg.AuditFilePath)
		if err != nil {
			return nil, nil, err
		}
		return auditLog, session.NewMemoryStore(), nil
	case "sqlite":
		auditLog, err := audit.NewSQLiteLog(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		store, err := session.NewSQLiteStoreWithDB(auditLog.DB())
		if err != nil {
			return nil, nil, err
		}
		return auditLog, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend: %s", cfg.StoreBackend)
	}
}

func newDecider(cfg *config.Config) (*decider.Decider, error) {
	if !cfg.DeciderEnabled {
		return decider.New(nil, false), nil
	}
	factory := &llm.Factory{
		OpenaiAPIKey:     cfg.OpenAIAPIKey,
		OpenaiBaseURL:    cfg.OpenAIBaseURL,
		OpenaiModel:      cfg.OpenAIModel,
		YandexOAuthToken: cfg.YandexOAuth,
		YandexFolderID:   cfg.YandexFolderID,
	}
	client, err := factory.CreateClient(cfg.DeciderProvider)
	if err != nil {
		return nil, err
	}
	return decider.New(client, true), nil
}
