package conversation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpetrov/pandorabot/internal/attach"
	"github.com/danpetrov/pandorabot/internal/recognition"
)

type sentMessage struct {
	text           string
	removeKeyboard bool
}

type fakeConversation struct {
	sent         []sentMessage
	guardPrompts int
	townPrompts  int
	results      []string
}

func (f *fakeConversation) Send(_ context.Context, message string, opts ...SendOptions) error {
	msg := sentMessage{text: message}
	for _, opt := range opts {
		if opt.RemoveKeyboard {
			msg.removeKeyboard = true
		}
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeConversation) InquireForGuardNumber(context.Context) error {
	f.guardPrompts++
	return nil
}

func (f *fakeConversation) InquireForTown(context.Context) error {
	f.townPrompts++
	return nil
}

func (f *fakeConversation) SendResults(_ context.Context, message string) error {
	f.results = append(f.results, message)
	return nil
}

type ingestJob struct {
	srcURL   string
	destPath string
}

type fakeIngestor struct {
	enqueued  []ingestJob
	discarded []string
}

func (f *fakeIngestor) Enqueue(_ context.Context, srcURL, destPath string) error {
	f.enqueued = append(f.enqueued, ingestJob{srcURL: srcURL, destPath: destPath})
	return nil
}

func (f *fakeIngestor) Discard(destPath string) {
	f.discarded = append(f.discarded, destPath)
}

type fakeRecognizer struct {
	result string
	err    error
	got    []recognition.Request
}

func (f *fakeRecognizer) Calculate(_ context.Context, req recognition.Request) (string, error) {
	f.got = append(f.got, req)
	return f.result, f.err
}

type savedResult struct {
	userID                             int64
	screenshotPath, guard, town, value string
}

type fakeRecorder struct {
	saved []savedResult
}

func (f *fakeRecorder) SaveResult(_ context.Context, userID int64, screenshotPath, guardNumber, town, result string) error {
	f.saved = append(f.saved, savedResult{userID, screenshotPath, guardNumber, town, result})
	return nil
}

type engineFixture struct {
	engine     *Engine
	store      Store
	conv       *fakeConversation
	ingestor   *fakeIngestor
	recognizer *fakeRecognizer
	recorder   *fakeRecorder
	mediaRoot  string
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()
	fx := &engineFixture{
		store:      NewMemoryStore(time.Hour),
		conv:       &fakeConversation{},
		ingestor:   &fakeIngestor{},
		recognizer: &fakeRecognizer{result: "Estimated value: 5000 gold"},
		recorder:   &fakeRecorder{},
		mediaRoot:  t.TempDir(),
	}
	fx.engine = NewEngine(Options{
		Store:      fx.store,
		Ingestor:   fx.ingestor,
		Recognizer: fx.recognizer,
		Recorder:   fx.recorder,
		MediaRoot:  fx.mediaRoot,
	})
	return fx
}

const testUser int64 = 42

func (fx *engineFixture) mustState(t *testing.T) State {
	t.Helper()
	st, found, err := fx.store.Get(context.Background(), testUser)
	require.NoError(t, err)
	require.True(t, found)
	return st
}

func (fx *engineFixture) mustAbsent(t *testing.T) {
	t.Helper()
	_, found, err := fx.store.Get(context.Background(), testUser)
	require.NoError(t, err)
	require.False(t, found)
}

func TestHelpWhenNoScreenshot(t *testing.T) {
	fx := newFixture(t)

	fx.engine.Process(context.Background(), fx.conv, testUser, ParsedMessage{Text: "hi"}, nil)

	fx.mustAbsent(t)
	require.Len(t, fx.conv.sent, 1)
	assert.Contains(t, fx.conv.sent[0].text, "send a screenshot")
	assert.True(t, fx.conv.sent[0].removeKeyboard)
}

func TestCancelWithoutRecordSendsHelp(t *testing.T) {
	fx := newFixture(t)

	fx.engine.Process(context.Background(), fx.conv, testUser, ParsedMessage{Text: CancelText}, nil)

	fx.mustAbsent(t)
	require.Len(t, fx.conv.sent, 1)
	assert.Contains(t, fx.conv.sent[0].text, "send a screenshot")
	assert.Empty(t, fx.ingestor.discarded)
}

func TestScreenshotStartsConversation(t *testing.T) {
	fx := newFixture(t)

	fx.engine.Process(context.Background(), fx.conv, testUser,
		ParsedMessage{ScreenshotURL: "http://x/img.jpg"}, nil)

	st := fx.mustState(t)
	assert.Equal(t, StatusAwaitingGuardNumber, st.Status)
	assert.Equal(t, filepath.Join(fx.mediaRoot, "42_img.jpg"), st.ScreenshotPath)

	require.Len(t, fx.ingestor.enqueued, 1)
	assert.Equal(t, "http://x/img.jpg", fx.ingestor.enqueued[0].srcURL)
	assert.Equal(t, st.ScreenshotPath, fx.ingestor.enqueued[0].destPath)

	assert.Equal(t, 1, fx.conv.guardPrompts)
	assert.Empty(t, fx.conv.sent)
}

func TestParseErrorsSendCorrections(t *testing.T) {
	fx := newFixture(t)

	fx.engine.Process(context.Background(), fx.conv, testUser, ParsedMessage{}, attach.ErrTooManyAttachments)
	require.Len(t, fx.conv.sent, 1)
	assert.Contains(t, fx.conv.sent[0].text, "only one screenshot")

	fx.engine.Process(context.Background(), fx.conv, testUser, ParsedMessage{}, attach.ErrInvalidAttachmentType)
	require.Len(t, fx.conv.sent, 2)
	assert.Contains(t, fx.conv.sent[1].text, "attach a picture")

	fx.mustAbsent(t)
}

func TestInvalidGuardNumberRepeatsPrompt(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.store.Set(context.Background(), testUser, State{
		Status: StatusAwaitingGuardNumber,
	}))

	fx.engine.Process(context.Background(), fx.conv, testUser, ParsedMessage{Text: "nonsense"}, nil)

	st := fx.mustState(t)
	assert.Equal(t, StatusAwaitingGuardNumber, st.Status)
	assert.Empty(t, st.GuardNumber)
	require.Len(t, fx.conv.sent, 1)
	assert.Contains(t, fx.conv.sent[0].text, "number of guards is incorrect")
	assert.Equal(t, 1, fx.conv.guardPrompts)
}

func TestValidGuardNumberAdvances(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.store.Set(context.Background(), testUser, State{
		Status: StatusAwaitingGuardNumber,
	}))

	fx.engine.Process(context.Background(), fx.conv, testUser, ParsedMessage{Text: "Lots (20-49)"}, nil)

	st := fx.mustState(t)
	assert.Equal(t, StatusAwaitingTown, st.Status)
	assert.Equal(t, "Lots (20-49)", st.GuardNumber)
	assert.Equal(t, 1, fx.conv.townPrompts)
	assert.Empty(t, fx.conv.sent)
}

func TestInvalidTownRepeatsPrompt(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.store.Set(context.Background(), testUser, State{
		Status:      StatusAwaitingTown,
		GuardNumber: "Lots (20-49)",
	}))

	fx.engine.Process(context.Background(), fx.conv, testUser, ParsedMessage{Text: "Atlantis"}, nil)

	st := fx.mustState(t)
	assert.Equal(t, StatusAwaitingTown, st.Status)
	assert.Empty(t, st.Town)
	require.Len(t, fx.conv.sent, 1)
	assert.Contains(t, fx.conv.sent[0].text, "town is incorrect")
	assert.Equal(t, 1, fx.conv.townPrompts)
}

func TestValidTownCompletesConversation(t *testing.T) {
	fx := newFixture(t)
	screenshot := filepath.Join(fx.mediaRoot, "img.jpg")
	require.NoError(t, os.WriteFile(screenshot, []byte("png"), 0o644))
	require.NoError(t, fx.store.Set(context.Background(), testUser, State{
		Status:         StatusAwaitingTown,
		GuardNumber:    "Lots (20-49)",
		ScreenshotPath: screenshot,
	}))

	fx.engine.Process(context.Background(), fx.conv, testUser, ParsedMessage{Text: "Castle"}, nil)

	fx.mustAbsent(t)
	assert.NoFileExists(t, screenshot)

	require.Len(t, fx.recognizer.got, 1)
	assert.Equal(t, recognition.Request{
		ScreenshotPath: screenshot,
		GuardNumber:    "Lots (20-49)",
		Town:           "Castle",
	}, fx.recognizer.got[0])

	require.Len(t, fx.conv.results, 1)
	assert.Equal(t, "Estimated value: 5000 gold", fx.conv.results[0])

	require.Len(t, fx.recorder.saved, 1)
	assert.Equal(t, savedResult{
		userID:         testUser,
		screenshotPath: screenshot,
		guard:          "Lots (20-49)",
		town:           "Castle",
		value:          "Estimated value: 5000 gold",
	}, fx.recorder.saved[0])
}

func TestRecognitionFailureStillFinishes(t *testing.T) {
	fx := newFixture(t)
	fx.recognizer.err = errors.New("recognition down")
	require.NoError(t, fx.store.Set(context.Background(), testUser, State{
		Status:      StatusAwaitingTown,
		GuardNumber: "Few (1-4)",
	}))

	fx.engine.Process(context.Background(), fx.conv, testUser, ParsedMessage{Text: "Cove"}, nil)

	fx.mustAbsent(t)
	assert.Empty(t, fx.conv.results)
	require.Len(t, fx.conv.sent, 1)
	assert.Contains(t, fx.conv.sent[0].text, "something went wrong")
	assert.True(t, fx.conv.sent[0].removeKeyboard)
	assert.Empty(t, fx.recorder.saved)
}

func TestCancelClearsRecordAndFile(t *testing.T) {
	fx := newFixture(t)
	screenshot := filepath.Join(fx.mediaRoot, "img.jpg")
	require.NoError(t, os.WriteFile(screenshot, []byte("png"), 0o644))
	require.NoError(t, fx.store.Set(context.Background(), testUser, State{
		Status:         StatusAwaitingGuardNumber,
		ScreenshotPath: screenshot,
	}))

	fx.engine.Process(context.Background(), fx.conv, testUser, ParsedMessage{Text: CancelText}, nil)

	fx.mustAbsent(t)
	assert.NoFileExists(t, screenshot)
	assert.Equal(t, []string{screenshot}, fx.ingestor.discarded)
	require.Len(t, fx.conv.sent, 1)
	assert.Contains(t, fx.conv.sent[0].text, "start again")
	assert.True(t, fx.conv.sent[0].removeKeyboard)

	// Repeated cancel on the now-absent record falls through to help, not an error.
	fx.engine.Process(context.Background(), fx.conv, testUser, ParsedMessage{Text: CancelText}, nil)
	require.Len(t, fx.conv.sent, 2)
	assert.Contains(t, fx.conv.sent[1].text, "send a screenshot")
}

func TestCancelAvailableFromTownStep(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.store.Set(context.Background(), testUser, State{
		Status:      StatusAwaitingTown,
		GuardNumber: "Pack (10-19)",
	}))

	fx.engine.Process(context.Background(), fx.conv, testUser, ParsedMessage{Text: CancelText}, nil)

	fx.mustAbsent(t)
	assert.Empty(t, fx.recognizer.got)
}

func TestCancelIsExactMatch(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.store.Set(context.Background(), testUser, State{
		Status: StatusAwaitingGuardNumber,
	}))

	fx.engine.Process(context.Background(), fx.conv, testUser, ParsedMessage{Text: "cancel"}, nil)

	st := fx.mustState(t)
	assert.Equal(t, StatusAwaitingGuardNumber, st.Status)
}
