// Package telegram implements the Telegram transport for the conversation
// engine on top of telebot long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/danpetrov/pandorabot/core/logger"
	"github.com/danpetrov/pandorabot/internal/attach"
	"github.com/danpetrov/pandorabot/internal/conversation"
	"github.com/danpetrov/pandorabot/internal/homm3"
)

// MessageLogger records in/outbound message lines; failures are non-fatal.
type MessageLogger interface {
	LogMessage(ctx context.Context, platformID int64, outgoing bool, text string) error
}

// Adapter binds one update's sender to the conversation transport contract.
type Adapter struct {
	c        tele.Context
	messages MessageLogger
}

// NewAdapter constructs the transport for the current update. messages may be nil.
func NewAdapter(c tele.Context, messages MessageLogger) *Adapter {
	return &Adapter{c: c, messages: messages}
}

// ParseIncomingMessage normalizes the update into the engine's message shape.
// Telegram delivers albums as separate messages, so the too-many-attachments
// case cannot occur on this transport; a lone non-photo medium maps to the
// invalid-attachment outcome.
func ParseIncomingMessage(b *tele.Bot, m *tele.Message) (conversation.ParsedMessage, error) {
	if m == nil {
		return conversation.ParsedMessage{}, nil
	}

	if m.Photo == nil {
		if m.Media() != nil {
			return conversation.ParsedMessage{}, attach.ErrInvalidAttachmentType
		}
		return conversation.ParsedMessage{Text: m.Text}, nil
	}

	file, err := b.FileByID(m.Photo.FileID)
	if err != nil {
		return conversation.ParsedMessage{}, fmt.Errorf("resolve photo file: %w", err)
	}
	url := fmt.Sprintf("%s/file/bot%s/%s", b.URL, b.Token, file.FilePath)

	text := m.Text
	if text == "" {
		text = m.Caption
	}
	return conversation.ParsedMessage{Text: text, ScreenshotURL: url}, nil
}

// Send delivers plain text, optionally stripping the current keyboard.
func (a *Adapter) Send(ctx context.Context, message string, opts ...conversation.SendOptions) error {
	for _, opt := range opts {
		if opt.RemoveKeyboard {
			return a.send(ctx, message, &tele.ReplyMarkup{RemoveKeyboard: true})
		}
	}
	return a.send(ctx, message, nil)
}

// InquireForGuardNumber asks how many units guard the box.
func (a *Adapter) InquireForGuardNumber(ctx context.Context) error {
	return a.send(ctx, "Please, choose the number of guards from the below",
		replyButtons(chunk(homm3.GuardNumbers[:6], 2)))
}

// InquireForTown asks for the main town of the zone holding the box.
func (a *Adapter) InquireForTown(ctx context.Context) error {
	return a.send(ctx, "Please, choose the town from the below",
		replyButtons(chunk(homm3.SortedTowns(), 3)))
}

// SendResults delivers the recognition outcome and drops the keyboard.
func (a *Adapter) SendResults(ctx context.Context, message string) error {
	return a.send(ctx, message, &tele.ReplyMarkup{RemoveKeyboard: true})
}

func (a *Adapter) send(ctx context.Context, message string, markup *tele.ReplyMarkup) error {
	var err error
	if markup != nil {
		err = a.c.Send(message, markup)
	} else {
		err = a.c.Send(message)
	}
	if err != nil {
		return err
	}
	if a.messages != nil {
		if logErr := a.messages.LogMessage(ctx, a.c.Sender().ID, true, message); logErr != nil {
			logger.Warn(ctx, "tg", "message.log.failed",
				slog.Int64("user_id", a.c.Sender().ID),
				slog.String("err", logErr.Error()),
			)
		}
	}
	return nil
}
