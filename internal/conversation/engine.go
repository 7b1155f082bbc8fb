package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/danpetrov/pandorabot/core/logger"
	"github.com/danpetrov/pandorabot/internal/attach"
	"github.com/danpetrov/pandorabot/internal/homm3"
	"github.com/danpetrov/pandorabot/internal/recognition"
)

// CancelText is the only cancellation trigger; matched exactly.
const CancelText = "Cancel"

const (
	msgHelp = "To use chatbot, please, send a screenshot contains Pandora's Box with guard " +
		"and objects around it, then follow the instructions. Enjoy!"
	msgTooManyAttachments = "Please, send only one screenshot. If you want to calculate many " +
		"boxes on different screens, then send it separately"
	msgAttachPicture    = "Please, attach a picture to your message"
	msgCancelled        = "Ok, if you want to start again just send us a picture!"
	msgGuardIncorrect   = "Sorry, the number of guards is incorrect"
	msgTownIncorrect    = "Sorry, the town is incorrect"
	msgCalculateFailure = "Sorry, something went wrong while calculating your box. " +
		"Please try again with a new screenshot"
)

// Ingestor accepts screenshot download jobs without blocking the reply path.
// Discard tells it a destination path belongs to a finished conversation so
// an in-flight download for it is not kept.
type Ingestor interface {
	Enqueue(ctx context.Context, srcURL, destPath string) error
	Discard(destPath string)
}

// ResultRecorder persists completed requests; failures are non-fatal.
type ResultRecorder interface {
	SaveResult(ctx context.Context, userID int64, screenshotPath, guardNumber, town, result string) error
}

// Engine drives the question sequence for every user. It owns the per-user
// critical section around store reads and writes.
type Engine struct {
	store      Store
	locks      *keyedMutex
	ingestor   Ingestor
	recognizer recognition.Recognizer
	recorder   ResultRecorder
	mediaRoot  string
}

// Options configures an Engine. Recorder is optional.
type Options struct {
	Store      Store
	Ingestor   Ingestor
	Recognizer recognition.Recognizer
	Recorder   ResultRecorder
	MediaRoot  string
}

// NewEngine wires the engine from its collaborators.
func NewEngine(opts Options) *Engine {
	return &Engine{
		store:      opts.Store,
		locks:      newKeyedMutex(),
		ingestor:   opts.Ingestor,
		recognizer: opts.Recognizer,
		recorder:   opts.Recorder,
		mediaRoot:  opts.MediaRoot,
	}
}

// Process handles one inbound message for a user. parseErr carries the
// transport's attachment classification outcome; validation errors are
// answered with a corrective instruction and never advance state. Process
// never returns an error: every failure is resolved or logged here.
func (e *Engine) Process(ctx context.Context, conv Conversation, userID int64, msg ParsedMessage, parseErr error) {
	switch {
	case errors.Is(parseErr, attach.ErrTooManyAttachments):
		e.send(ctx, conv, msgTooManyAttachments)
		return
	case errors.Is(parseErr, attach.ErrInvalidAttachmentType):
		e.send(ctx, conv, msgAttachPicture)
		return
	case parseErr != nil:
		logger.Error(ctx, "engine", "parse.failed",
			slog.Int64("user_id", userID),
			slog.String("err", parseErr.Error()),
		)
		return
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	st, found, err := e.store.Get(ctx, userID)
	if err != nil {
		logger.Error(ctx, "engine", "state.get.failed",
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
		return
	}

	switch {
	case !found || st.Status == "":
		e.handleNew(ctx, conv, userID, msg)
	case msg.Text == CancelText:
		e.cancel(ctx, conv, userID, st)
	case st.Status == StatusAwaitingGuardNumber:
		e.handleGuardNumber(ctx, conv, userID, st, msg.Text)
	case st.Status == StatusAwaitingTown:
		e.handleTown(ctx, conv, userID, st, msg.Text)
	default:
		e.send(ctx, conv, msgHelp, SendOptions{RemoveKeyboard: true})
	}
}

func (e *Engine) handleNew(ctx context.Context, conv Conversation, userID int64, msg ParsedMessage) {
	if msg.ScreenshotURL == "" {
		e.send(ctx, conv, msgHelp, SendOptions{RemoveKeyboard: true})
		return
	}

	destPath := e.screenshotPath(userID, msg.ScreenshotURL)
	st := State{
		Status:         StatusAwaitingGuardNumber,
		ScreenshotPath: destPath,
		UpdatedAt:      time.Now(),
	}
	if err := e.store.Set(ctx, userID, st); err != nil {
		logger.Error(ctx, "engine", "state.set.failed",
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
		return
	}

	// The download runs in the background; a fetch failure must not stall
	// or corrupt the conversation, so only the enqueue is checked here.
	if err := e.ingestor.Enqueue(ctx, msg.ScreenshotURL, destPath); err != nil {
		logger.Error(ctx, "engine", "ingest.enqueue.failed",
			slog.Int64("user_id", userID),
			slog.String("url", logger.SanitizeLimit(msg.ScreenshotURL, 256)),
			slog.String("err", err.Error()),
		)
	}

	if err := conv.InquireForGuardNumber(ctx); err != nil {
		e.logSendError(ctx, userID, "inquire_guard_number", err)
	}
}

func (e *Engine) handleGuardNumber(ctx context.Context, conv Conversation, userID int64, st State, text string) {
	if !homm3.ValidGuardNumber(text) {
		e.send(ctx, conv, msgGuardIncorrect)
		if err := conv.InquireForGuardNumber(ctx); err != nil {
			e.logSendError(ctx, userID, "inquire_guard_number", err)
		}
		return
	}

	st.GuardNumber = text
	st.Status = StatusAwaitingTown
	st.UpdatedAt = time.Now()
	if err := e.store.Set(ctx, userID, st); err != nil {
		logger.Error(ctx, "engine", "state.set.failed",
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
		return
	}
	if err := conv.InquireForTown(ctx); err != nil {
		e.logSendError(ctx, userID, "inquire_town", err)
	}
}

func (e *Engine) handleTown(ctx context.Context, conv Conversation, userID int64, st State, text string) {
	if !homm3.ValidTown(text) {
		e.send(ctx, conv, msgTownIncorrect)
		if err := conv.InquireForTown(ctx); err != nil {
			e.logSendError(ctx, userID, "inquire_town", err)
		}
		return
	}

	st.Town = text
	st.UpdatedAt = time.Now()

	result, err := e.recognizer.Calculate(ctx, recognition.Request{
		ScreenshotPath: st.ScreenshotPath,
		GuardNumber:    st.GuardNumber,
		Town:           st.Town,
	})
	if err != nil {
		logger.Error(ctx, "engine", "recognition.failed",
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
		e.send(ctx, conv, msgCalculateFailure, SendOptions{RemoveKeyboard: true})
		e.finish(ctx, userID, st)
		return
	}

	if err := conv.SendResults(ctx, result); err != nil {
		e.logSendError(ctx, userID, "send_results", err)
	}

	if e.recorder != nil {
		if err := e.recorder.SaveResult(ctx, userID, st.ScreenshotPath, st.GuardNumber, st.Town, result); err != nil {
			logger.Warn(ctx, "engine", "record.save.failed",
				slog.Int64("user_id", userID),
				slog.String("err", err.Error()),
			)
		}
	}

	e.finish(ctx, userID, st)
}

func (e *Engine) cancel(ctx context.Context, conv Conversation, userID int64, st State) {
	e.finish(ctx, userID, st)
	e.send(ctx, conv, msgCancelled, SendOptions{RemoveKeyboard: true})
}

// finish removes the stored record and the backing screenshot file.
func (e *Engine) finish(ctx context.Context, userID int64, st State) {
	if err := e.store.Delete(ctx, userID); err != nil {
		logger.Error(ctx, "engine", "state.delete.failed",
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
	}
	if st.ScreenshotPath == "" {
		return
	}
	e.ingestor.Discard(st.ScreenshotPath)
	if err := os.Remove(st.ScreenshotPath); err != nil && !os.IsNotExist(err) {
		logger.Warn(ctx, "engine", "screenshot.remove.failed",
			slog.Int64("user_id", userID),
			slog.String("path", st.ScreenshotPath),
			slog.String("err", err.Error()),
		)
	}
}

// screenshotPath derives the local storage path from the URL's final path
// segment, prefixed with the user id so concurrent users cannot collide.
func (e *Engine) screenshotPath(userID int64, rawURL string) string {
	name := ""
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
	}
	if name == "" || name == "." || name == "/" {
		name = "screenshot.jpg"
	}
	return filepath.Join(e.mediaRoot, fmt.Sprintf("%d_%s", userID, name))
}

func (e *Engine) send(ctx context.Context, conv Conversation, message string, opts ...SendOptions) {
	if err := conv.Send(ctx, message, opts...); err != nil {
		e.logSendError(ctx, logger.UserIDFrom(ctx), "send", err)
	}
}

func (e *Engine) logSendError(ctx context.Context, userID int64, action string, err error) {
	logger.Error(ctx, "engine", "send.failed",
		slog.Int64("user_id", userID),
		slog.String("action", action),
		slog.String("err", err.Error()),
	)
}
