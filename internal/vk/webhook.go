package vk

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/danpetrov/pandorabot/core/logger"
	"github.com/danpetrov/pandorabot/internal/conversation"
)

const maxCallbackBody = 1 << 20

// WebhookConfig holds the callback verification parameters.
type WebhookConfig struct {
	GroupID      int64
	Secret       string
	Confirmation string
}

// Webhook receives callback events from the VK API and feeds message_new
// events into the conversation engine. For non-confirmation events it always
// acknowledges with "ok", even when processing fails, so the provider has no
// cause to retry aggressively.
type Webhook struct {
	cfg      WebhookConfig
	client   *Client
	engine   *conversation.Engine
	messages MessageLogger
}

// NewWebhook constructs the callback boundary. messages may be nil.
func NewWebhook(cfg WebhookConfig, client *Client, engine *conversation.Engine, messages MessageLogger) *Webhook {
	return &Webhook{cfg: cfg, client: client, engine: engine, messages: messages}
}

// Router returns the HTTP routes of the webhook.
func (w *Webhook) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Post("/vk/callback", w.handleCallback)
	return r
}

type callbackEvent struct {
	Type    string `json:"type"`
	GroupID int64  `json:"group_id"`
	Secret  string `json:"secret"`
	Object  struct {
		Message *Message `json:"message"`
	} `json:"object"`
}

func (w *Webhook) handleCallback(rw http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxCallbackBody))
	if err != nil {
		logger.Warn(req.Context(), "web", "callback.body.failed",
			slog.String("err", err.Error()),
		)
		respondText(rw, http.StatusOK, "ok")
		return
	}

	var ev callbackEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		logger.Error(req.Context(), "web", "callback.malformed",
			slog.String("err", err.Error()),
			slog.String("payload", logger.SanitizeLimit(string(body), 1024)),
		)
		respondText(rw, http.StatusOK, "ok")
		return
	}

	if ev.GroupID != w.cfg.GroupID {
		respondText(rw, http.StatusInternalServerError, "Incorrect VK group id!")
		return
	}

	if ev.Type == "confirmation" {
		respondText(rw, http.StatusOK, w.cfg.Confirmation)
		return
	}

	if ev.Secret != w.cfg.Secret {
		logger.Error(req.Context(), "web", "callback.secret.invalid")
		respondText(rw, http.StatusForbidden, "Invalid secret key!")
		return
	}

	if ev.Type == "message_new" {
		w.handleMessageNew(req, body, ev.Object.Message)
	}

	respondText(rw, http.StatusOK, "ok")
}

// handleMessageNew processes a single inbound message. A failure here must
// never leak past the acknowledgement, so panics are contained too.
func (w *Webhook) handleMessageNew(req *http.Request, raw []byte, msg *Message) {
	ctx := req.Context()

	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "web", "callback.panic",
				slog.Any("err", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	if msg == nil || msg.FromID == 0 {
		logger.Error(ctx, "web", "callback.invalid_data",
			slog.String("payload", logger.SanitizeLimit(string(raw), 1024)),
		)
		return
	}

	rid := logger.BuildRID("vk", w.cfg.GroupID, msg.FromID)
	ctx = logger.WithRID(ctx, rid)
	ctx = logger.WithUserID(ctx, msg.FromID)

	if w.messages != nil {
		if err := w.messages.LogMessage(ctx, msg.FromID, false, msg.Text); err != nil {
			logger.Warn(ctx, "web", "message.log.failed",
				slog.Int64("user_id", msg.FromID),
				slog.String("err", err.Error()),
			)
		}
	}

	adapter := NewAdapter(w.client, msg.FromID, w.messages)
	parsed, parseErr := adapter.ParseIncomingMessage(msg)
	w.engine.Process(ctx, adapter, msg.FromID, parsed, parseErr)
}

func respondText(rw http.ResponseWriter, status int, body string) {
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.WriteHeader(status)
	_, _ = rw.Write([]byte(body))
}
