package vk

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpetrov/pandorabot/internal/conversation"
	"github.com/danpetrov/pandorabot/internal/recognition"
)

type sentMessage struct {
	UserID   string
	Message  string
	Keyboard string
}

// fakeAPI captures messages.send calls the way the VK group API would
// receive them.
type fakeAPI struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/method/messages.send" {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		f.mu.Lock()
		f.sent = append(f.sent, sentMessage{
			UserID:   r.PostFormValue("user_id"),
			Message:  r.PostFormValue("message"),
			Keyboard: r.PostFormValue("keyboard"),
		})
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":1}`))
	})
}

func (f *fakeAPI) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type noopIngestor struct{}

func (noopIngestor) Enqueue(context.Context, string, string) error { return nil }
func (noopIngestor) Discard(string)                                {}

type webhookFixture struct {
	server *httptest.Server
	api    *fakeAPI
	store  conversation.Store
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()

	api := &fakeAPI{}
	apiServer := httptest.NewServer(api.handler())
	t.Cleanup(apiServer.Close)

	client := NewClient(ClientConfig{
		Token:      "token",
		APIVersion: "5.103",
		Endpoint:   apiServer.URL,
	})

	store := conversation.NewMemoryStore(time.Hour)
	engine := conversation.NewEngine(conversation.Options{
		Store:      store,
		Ingestor:   noopIngestor{},
		Recognizer: recognition.NewStub(),
		MediaRoot:  t.TempDir(),
	})

	wh := NewWebhook(WebhookConfig{
		GroupID:      111,
		Secret:       "hush",
		Confirmation: "confirmed-abc",
	}, client, engine, nil)

	server := httptest.NewServer(wh.Router())
	t.Cleanup(server.Close)

	return &webhookFixture{server: server, api: api, store: store}
}

func (f *webhookFixture) post(t *testing.T, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(f.server.URL+"/vk/callback", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(raw)
}

func TestWebhookConfirmation(t *testing.T) {
	f := newWebhookFixture(t)

	status, body := f.post(t, `{"type":"confirmation","group_id":111}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "confirmed-abc", body)
}

func TestWebhookGroupMismatch(t *testing.T) {
	f := newWebhookFixture(t)

	status, body := f.post(t, `{"type":"confirmation","group_id":222}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Incorrect VK group id!", body)
}

func TestWebhookInvalidSecret(t *testing.T) {
	f := newWebhookFixture(t)

	status, body := f.post(t, `{"type":"message_new","group_id":111,"secret":"wrong"}`)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Invalid secret key!", body)
	assert.Empty(t, f.api.messages())
}

func TestWebhookMalformedPayload(t *testing.T) {
	f := newWebhookFixture(t)

	status, body := f.post(t, `{"type":`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)
}

func TestWebhookUnknownEventType(t *testing.T) {
	f := newWebhookFixture(t)

	status, body := f.post(t, `{"type":"message_reply","group_id":111,"secret":"hush"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)
	assert.Empty(t, f.api.messages())
}

func TestWebhookMessageNewWithoutMessage(t *testing.T) {
	f := newWebhookFixture(t)

	status, body := f.post(t, `{"type":"message_new","group_id":111,"secret":"hush","object":{}}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)
	assert.Empty(t, f.api.messages())
}

func TestWebhookScreenshotStartsConversation(t *testing.T) {
	f := newWebhookFixture(t)

	status, body := f.post(t, `{
		"type": "message_new",
		"group_id": 111,
		"secret": "hush",
		"object": {"message": {
			"from_id": 42,
			"text": "",
			"attachments": [{"type": "photo", "photo": {"sizes": [
				{"type": "s", "url": "http://img/s.jpg"},
				{"type": "x", "url": "http://img/x.jpg"}
			]}}]
		}}
	}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body)

	st, found, err := f.store.Get(context.Background(), 42)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, conversation.StatusAwaitingGuardNumber, st.Status)

	sent := f.api.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "42", sent[0].UserID)
	assert.Contains(t, sent[0].Message, "number of guards")
	assert.Contains(t, sent[0].Keyboard, "Few (1-4)")
	assert.Contains(t, sent[0].Keyboard, "Cancel")
}

func TestWebhookTextWithoutScreenshotGetsHelp(t *testing.T) {
	f := newWebhookFixture(t)

	status, body := f.post(t, `{
		"type": "message_new",
		"group_id": 111,
		"secret": "hush",
		"object": {"message": {"from_id": 42, "text": "hello"}}
	}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body)

	_, found, err := f.store.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, found)

	sent := f.api.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Message, "screenshot")
}
