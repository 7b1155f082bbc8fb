// Package conversation implements the finite-state machine that walks a user
// through the Pandora's Box question sequence: screenshot, guard count, town.
package conversation

import (
	"context"
	"time"
)

// Status identifies the question the conversation is waiting on.
type Status string

const (
	// StatusAwaitingGuardNumber means the screenshot was accepted and the
	// guard-count question is pending.
	StatusAwaitingGuardNumber Status = "awaiting_guard_number"
	// StatusAwaitingTown means the guard count was accepted and the town
	// question is pending.
	StatusAwaitingTown Status = "awaiting_town"
)

// State is the per-user conversation record. Absence of a record, or a record
// with an empty Status, means no conversation is in progress.
type State struct {
	Status         Status    `json:"status"`
	GuardNumber    string    `json:"guard_number,omitempty"`
	Town           string    `json:"town,omitempty"`
	ScreenshotPath string    `json:"screenshot_path,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ParsedMessage is the normalized inbound message every transport produces.
type ParsedMessage struct {
	Text          string
	ScreenshotURL string
}

// SendOptions adjusts delivery of an outbound message.
type SendOptions struct {
	// RemoveKeyboard strips any previously rendered choice keyboard.
	RemoveKeyboard bool
}

// Conversation is the capability set every platform transport provides for a
// single user. The engine depends only on this interface.
type Conversation interface {
	// Send delivers plain text to the user.
	Send(ctx context.Context, message string, opts ...SendOptions) error
	// InquireForGuardNumber renders the guard-count choice prompt.
	InquireForGuardNumber(ctx context.Context) error
	// InquireForTown renders the town choice prompt.
	InquireForTown(ctx context.Context) error
	// SendResults delivers the final output with no further choice UI.
	SendResults(ctx context.Context, message string) error
}
