package telegram

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/danpetrov/pandorabot/core/logger"
	"github.com/danpetrov/pandorabot/internal/conversation"
)

// RunOptions controls the behaviour of Run.
type RunOptions struct {
	Token                  string
	LongPollTimeoutSeconds int

	Engine   *conversation.Engine
	Messages MessageLogger
}

// Run composes and runs the Telegram transport until the context is done.
func Run(ctx context.Context, opts RunOptions) error {
	if opts.Engine == nil {
		return errors.New("telegram: nil engine provided")
	}

	timeoutSec := opts.LongPollTimeoutSeconds
	if timeoutSec <= 0 {
		timeoutSec = 10
	}

	settings := tele.Settings{
		Token:  opts.Token,
		Poller: &tele.LongPoller{Timeout: time.Duration(timeoutSec) * time.Second},
		Client: buildHTTPClient(),
	}

	bot, err := tele.NewBot(settings)
	if err != nil {
		return err
	}

	bot.Use(recoverMiddleware)
	bot.Use(loggingMiddleware)

	handle := func(c tele.Context) error {
		m := c.Message()
		sender := c.Sender()
		if m == nil || sender == nil {
			return nil
		}

		hctx := logger.WithRID(ctx, logger.BuildRID("tg", int64(m.ID), sender.ID))
		hctx = logger.WithUserID(hctx, sender.ID)

		if opts.Messages != nil {
			if err := opts.Messages.LogMessage(hctx, sender.ID, false, m.Text); err != nil {
				logger.Warn(hctx, "tg", "message.log.failed",
					slog.Int64("user_id", sender.ID),
					slog.String("err", err.Error()),
				)
			}
		}

		parsed, parseErr := ParseIncomingMessage(bot, m)
		opts.Engine.Process(hctx, NewAdapter(c, opts.Messages), sender.ID, parsed, parseErr)
		return nil
	}

	bot.Handle(tele.OnText, handle)
	bot.Handle(tele.OnPhoto, handle)
	bot.Handle(tele.OnMedia, handle)

	logger.Info(ctx, "tg", "mode",
		slog.String("mode", "polling"),
		slog.Int("timeout_seconds", timeoutSec),
	)

	runDone := make(chan struct{})
	go func() {
		bot.Start()
		close(runDone)
	}()

	select {
	case <-ctx.Done():
		bot.Stop()
		<-runDone
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	case <-runDone:
		return nil
	}
}

// recoverMiddleware catches panics in handlers and prevents the bot from crashing.
func recoverMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		defer func() {
			if r := recover(); r != nil {
				logger.TG.Error("panic recovered",
					slog.String("event", "tg.panic"),
					slog.Any("err", r),
					slog.String("stack", string(debug.Stack())),
				)
			}
		}()
		return next(c)
	}
}

// loggingMiddleware logs a single receipt line per update.
func loggingMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		upd := c.Update()
		attrs := []slog.Attr{
			slog.Int("update_id", upd.ID),
		}
		if sender := c.Sender(); sender != nil {
			attrs = append(attrs, slog.Int64("user_id", sender.ID))
		}
		if t := c.Text(); t != "" {
			attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(t, 256)))
		}
		logger.LogEvent(context.Background(), logger.TG, slog.LevelDebug, "update.received", attrs...)
		return next(c)
	}
}

// buildHTTPClient returns an HTTP client tuned for Telegram API long polling.
func buildHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{
		// Long polling holds the request open for the poll timeout, so the
		// client timeout must sit above it.
		Timeout:   90 * time.Second,
		Transport: transport,
	}
}
