package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkgate-io/zkgate/internal/chatsessionstore"
	"github.com/zkgate-io/zkgate/internal/kv"
	"github.com/zkgate-io/zkgate/internal/llmrouter"
	"github.com/zkgate-io/zkgate/internal/skills"
)

type scriptedModel struct {
	responses []llmrouter.Completion
	calls     int
}

func (m *scriptedModel) Complete(_ context.Context, _ []llmrouter.Message, _ []llmrouter.ToolSpec) (llmrouter.Completion, error) {
	resp := m.responses[m.calls]
	m.calls++
	return resp, nil
}

type scriptedDispatcher struct {
	result interface{}
	err    error
}

func (d *scriptedDispatcher) Dispatch(_ context.Context, _ skills.Skill, _ map[string]interface{}) (interface{}, error) {
	return d.result, d.err
}

func newTestAdapter(model llmrouter.ChatModel, dispatcher llmrouter.Dispatcher) *Adapter {
	return &Adapter{
		Model:     model,
		Core:      dispatcher,
		Sessions:  chatsessionstore.New(kv.NewMemoryStore(0), time.Hour),
		Now:       func() time.Time { return time.Unix(1000, 0) },
		ModelName: "zkgate-chat",
	}
}

func router(a *Adapter) http.Handler {
	r := chi.NewRouter()
	a.Routes(r)
	return r
}

func postChat(t *testing.T, handler http.Handler, sessionID, secret string, body completionRequest) *httptest.ResponseRecorder {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(encoded))
	if sessionID != "" {
		req.Header.Set(HeaderSessionID, sessionID)
	}
	if secret != "" {
		req.Header.Set(HeaderSessionSecret, secret)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatCompletionsRejectsMissingSecretHeader(t *testing.T) {
	a := newTestAdapter(&scriptedModel{}, &scriptedDispatcher{})
	rec := postChat(t, router(a), "", "", completionRequest{Messages: []chatMessage{{Role: "user", Content: "hi"}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatCompletionsBootstrapsNewSessionWhenNoIDHeader(t *testing.T) {
	model := &scriptedModel{responses: []llmrouter.Completion{
		{Message: llmrouter.Message{Role: "assistant", Content: "hello there"}},
	}}
	a := newTestAdapter(model, &scriptedDispatcher{})

	rec := postChat(t, router(a), "", "s3cret", completionRequest{Messages: []chatMessage{{Role: "user", Content: "hi"}}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(HeaderSessionID))

	var resp completionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello there", resp.Choices[0].Message.Content)
}

func TestChatCompletionsRejectsMismatchedSecretOnExistingSession(t *testing.T) {
	model := &scriptedModel{responses: []llmrouter.Completion{
		{Message: llmrouter.Message{Role: "assistant", Content: "hello there"}},
	}}
	a := newTestAdapter(model, &scriptedDispatcher{})
	handler := router(a)

	first := postChat(t, handler, "chat_1", "correct-secret", completionRequest{Messages: []chatMessage{{Role: "user", Content: "hi"}}})
	require.Equal(t, http.StatusOK, first.Code)

	model.calls = 0
	second := postChat(t, handler, "chat_1", "wrong-secret", completionRequest{Messages: []chatMessage{{Role: "user", Content: "hi again"}}})
	assert.Equal(t, http.StatusBadRequest, second.Code)
}

func TestChatCompletionsReusesExistingSessionHistory(t *testing.T) {
	model := &scriptedModel{responses: []llmrouter.Completion{
		{Message: llmrouter.Message{Role: "assistant", Content: "first reply"}},
		{Message: llmrouter.Message{Role: "assistant", Content: "second reply"}},
	}}
	a := newTestAdapter(model, &scriptedDispatcher{})
	handler := router(a)

	postChat(t, handler, "chat_1", "s3cret", completionRequest{Messages: []chatMessage{{Role: "user", Content: "hi"}}})
	postChat(t, handler, "chat_1", "s3cret", completionRequest{Messages: []chatMessage{{Role: "user", Content: "follow up"}}})

	session, err := a.Sessions.Get(context.Background(), "chat_1")
	require.NoError(t, err)
	// user/assistant pairs from both turns should all be present.
	require.Len(t, session.History, 4)
	assert.Equal(t, "hi", session.History[0].Content)
	assert.Equal(t, "first reply", session.History[1].Content)
	assert.Equal(t, "follow up", session.History[2].Content)
	assert.Equal(t, "second reply", session.History[3].Content)
}

func TestChatCompletionsAnnotatesFinalContentWithToolResultAndQRURL(t *testing.T) {
	model := &scriptedModel{responses: []llmrouter.Completion{
		{ToolCalls: []llmrouter.ToolCall{{ID: "call_1", Name: "request_signing", Arguments: map[string]interface{}{}}}},
		{Message: llmrouter.Message{Role: "assistant", Content: "here is your signing link"}},
	}}
	dispatcher := &scriptedDispatcher{result: map[string]interface{}{"signing_url": "https://example.com/sign/1"}}
	a := newTestAdapter(model, dispatcher)

	rec := postChat(t, router(a), "chat_1", "s3cret", completionRequest{Messages: []chatMessage{{Role: "user", Content: "start a request"}}})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp completionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	content := resp.Choices[0].Message.Content
	assert.Contains(t, content, "here is your signing link")
	assert.Contains(t, content, "signing_url_qr_url")
	assert.Contains(t, content, "qrserver.com")
	assert.NotContains(t, content, `"proof"`)
}

func TestChatCompletionsStreamEmitsStepAndDoneFrames(t *testing.T) {
	model := &scriptedModel{responses: []llmrouter.Completion{
		{ToolCalls: []llmrouter.ToolCall{{ID: "call_1", Name: "check_status", Arguments: map[string]interface{}{}}}},
		{Message: llmrouter.Message{Role: "assistant", Content: "you're all set"}},
	}}
	dispatcher := &scriptedDispatcher{result: map[string]interface{}{"phase": "ready"}}
	a := newTestAdapter(model, dispatcher)

	rec := postChat(t, router(a), "chat_1", "s3cret", completionRequest{
		Messages: []chatMessage{{Role: "user", Content: "what's my status"}},
		Stream:   true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: step")
	assert.Contains(t, body, `"tool":"check_status"`)
	assert.Contains(t, body, "you're all set")
	assert.Contains(t, body, "data: [DONE]")
}
