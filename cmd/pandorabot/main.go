package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	coreconfig "github.com/danpetrov/pandorabot/core/config"
	coredatabase "github.com/danpetrov/pandorabot/core/database"
	"github.com/danpetrov/pandorabot/core/logger"
	"github.com/danpetrov/pandorabot/internal/conversation"
	"github.com/danpetrov/pandorabot/internal/ingest"
	"github.com/danpetrov/pandorabot/internal/recognition"
	"github.com/danpetrov/pandorabot/internal/records"
	"github.com/danpetrov/pandorabot/internal/telegram"
	"github.com/danpetrov/pandorabot/internal/vk"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("pandorabot: %v", err)
	}
}

func run() error {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := coreconfig.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.InitLogger(cfg); err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer func() {
		if err := logger.Shutdown(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Relational records are optional; the conversation works without them.
	var (
		vkRecords *records.Repo
		tgRecords *records.Repo
	)
	if cfg.Database.Host != "" {
		db, err := coredatabase.Connect(cfg.Database, logger.DB)
		if err != nil {
			return fmt.Errorf("database initialization failed: %w", err)
		}
		defer db.Close()
		if err := coredatabase.RunMigrations(cfg.Database, logger.MIG); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		vkRecords = records.New(db, "vk")
		tgRecords = records.New(db, "telegram")
	}

	vkStore, tgStore := buildStores(cfg)

	ingestor := ingest.New(ingest.Options{MaxRetries: 2})
	defer ingestor.Close()
	go sweepLoop(ctx, ingestor, cfg.Conversation)

	var recognizer recognition.Recognizer
	if cfg.Recognition.URL != "" {
		recognizer = recognition.NewHTTPClient(cfg.Recognition.URL, &http.Client{Timeout: cfg.Recognition.Timeout.Std()})
	} else {
		logger.L.Warn("no recognition service configured; using stub recognizer",
			slog.String("component", "app"))
		recognizer = recognition.NewStub()
	}

	vkEngine := conversation.NewEngine(conversation.Options{
		Store:      vkStore,
		Ingestor:   ingestor,
		Recognizer: recognizer,
		Recorder:   nilRecorder(vkRecords),
		MediaRoot:  cfg.Conversation.MediaRoot,
	})

	vkClient := vk.NewClient(vk.ClientConfig{
		Token:      cfg.VK.Token,
		APIVersion: cfg.VK.APIVersion,
		Endpoint:   cfg.VK.Endpoint,
	})
	webhook := vk.NewWebhook(vk.WebhookConfig{
		GroupID:      cfg.VK.GroupID,
		Secret:       cfg.VK.Secret,
		Confirmation: cfg.VK.Confirmation,
	}, vkClient, vkEngine, nilMessageLogger(vkRecords))

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Listen, cfg.HTTP.Port),
		Handler:           webhook.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.WEB.Info("webhook listening",
			slog.String("event", "listen"),
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("webhook server: %w", err)
		}
	}()

	if cfg.Telegram.Enabled {
		tgEngine := conversation.NewEngine(conversation.Options{
			Store:      tgStore,
			Ingestor:   ingestor,
			Recognizer: recognizer,
			Recorder:   nilRecorder(tgRecords),
			MediaRoot:  cfg.Conversation.MediaRoot,
		})
		go func() {
			if err := telegram.Run(ctx, telegram.RunOptions{
				Token:                  cfg.Telegram.Token,
				LongPollTimeoutSeconds: cfg.Telegram.LongPollTimeoutSeconds,
				Engine:                 tgEngine,
				Messages:               nilMessageLogger(tgRecords),
			}); err != nil {
				errCh <- fmt.Errorf("telegram transport: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}

	logger.L.Info("shutting down...",
		slog.String("component", "app"),
		slog.String("event", "shutdown"),
	)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WEB.Error("webhook shutdown failed",
			slog.String("event", "shutdown"),
			slog.String("err", err.Error()),
		)
	}

	return runErr
}

// buildStores selects Redis-backed stores when an address is configured and
// falls back to in-memory stores for local development.
func buildStores(cfg *coreconfig.Config) (conversation.Store, conversation.Store) {
	ttl := cfg.Conversation.SessionTTL.Std()
	if cfg.Redis.Addr == "" {
		return conversation.NewMemoryStore(ttl), conversation.NewMemoryStore(ttl)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return conversation.NewRedisStore(client, "vk", ttl),
		conversation.NewRedisStore(client, "telegram", ttl)
}

// sweepLoop reclaims screenshots whose conversations were evicted by TTL.
func sweepLoop(ctx context.Context, ing *ingest.Ingestor, cfg coreconfig.ConversationConfig) {
	interval := cfg.SessionTTL.Std() / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ing.Sweep(cfg.MediaRoot, 2*cfg.SessionTTL.Std())
		}
	}
}

// nilRecorder keeps a typed nil *records.Repo from becoming a non-nil interface.
func nilRecorder(r *records.Repo) conversation.ResultRecorder {
	if r == nil {
		return nil
	}
	return r
}

func nilMessageLogger(r *records.Repo) vk.MessageLogger {
	if r == nil {
		return nil
	}
	return r
}
