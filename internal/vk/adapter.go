package vk

import (
	"context"
	"log/slog"

	"github.com/danpetrov/pandorabot/core/logger"
	"github.com/danpetrov/pandorabot/internal/attach"
	"github.com/danpetrov/pandorabot/internal/conversation"
)

// Message is the object.message payload of a message_new callback event.
type Message struct {
	FromID      int64               `json:"from_id"`
	Text        string              `json:"text"`
	Attachments []attach.Attachment `json:"attachments"`
}

// MessageLogger records in/outbound message lines; failures are non-fatal.
type MessageLogger interface {
	LogMessage(ctx context.Context, platformID int64, outgoing bool, text string) error
}

// Adapter binds one VK user to the conversation transport contract.
type Adapter struct {
	client   *Client
	userID   int64
	messages MessageLogger
}

// NewAdapter constructs the transport for a single user. messages may be nil.
func NewAdapter(client *Client, userID int64, messages MessageLogger) *Adapter {
	return &Adapter{client: client, userID: userID, messages: messages}
}

// ParseIncomingMessage normalizes a raw message, delegating attachment
// classification; its error kinds pass through unchanged.
func (a *Adapter) ParseIncomingMessage(msg *Message) (conversation.ParsedMessage, error) {
	screenshot, err := attach.Classify(msg.Attachments)
	if err != nil {
		return conversation.ParsedMessage{}, err
	}
	return conversation.ParsedMessage{
		Text:          msg.Text,
		ScreenshotURL: screenshot,
	}, nil
}

// Send delivers plain text, optionally stripping the current keyboard.
func (a *Adapter) Send(ctx context.Context, message string, opts ...conversation.SendOptions) error {
	kb := ""
	for _, opt := range opts {
		if opt.RemoveKeyboard {
			kb = removeKeyboardPayload
		}
	}
	return a.send(ctx, message, kb)
}

// InquireForGuardNumber asks how many units guard the box.
func (a *Adapter) InquireForGuardNumber(ctx context.Context) error {
	return a.send(ctx, "Please, choose the number of guards from the below", guardNumberKeyboard())
}

// InquireForTown asks for the main town of the zone holding the box.
func (a *Adapter) InquireForTown(ctx context.Context) error {
	return a.send(ctx, "Please, choose the town from the below", townKeyboard())
}

// SendResults delivers the recognition outcome and drops the keyboard.
func (a *Adapter) SendResults(ctx context.Context, message string) error {
	return a.send(ctx, message, removeKeyboardPayload)
}

func (a *Adapter) send(ctx context.Context, message, keyboard string) error {
	if err := a.client.SendMessage(ctx, a.userID, message, keyboard); err != nil {
		return err
	}
	if a.messages != nil {
		if err := a.messages.LogMessage(ctx, a.userID, true, message); err != nil {
			logger.Warn(ctx, "vk", "message.log.failed",
				slog.Int64("user_id", a.userID),
				slog.String("err", err.Error()),
			)
		}
	}
	return nil
}
