// Package chat implements the OpenAI-compatible chat-completions surface
// at /v1/chat/completions, per spec.md §4.11: session managed by two
// request headers (id + secret, the secret hashed server-side), a bounded
// tool-calling loop via internal/llmrouter, streaming "step" SSE events
// for each tool call, and a final annotated skill-result block appended
// to the assistant's response content.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zkgate-io/zkgate/internal/apperrors"
	"github.com/zkgate-io/zkgate/internal/chatsessionstore"
	"github.com/zkgate-io/zkgate/internal/coredata"
	"github.com/zkgate-io/zkgate/internal/llmrouter"
	"github.com/zkgate-io/zkgate/internal/logging"
)

// Session id/secret headers, per spec.md's "session managed by two request
// headers" chat-completions design note. The first request for a given id
// bootstraps the session with that secret's hash; every later request must
// present the same secret.
const (
	HeaderSessionID     = "X-Chat-Session-Id"
	HeaderSessionSecret = "X-Chat-Session-Secret"
)

const streamHeartbeat = 15 * time.Second

// Adapter wires the chat-completions surface to a ChatModel, Skill Core
// (via the same Dispatcher boundary internal/llmrouter and internal/worker
// already narrow to), and the Chat Session store.
type Adapter struct {
	Model    llmrouter.ChatModel
	Core     llmrouter.Dispatcher
	Sessions *chatsessionstore.Store
	Logger   *logging.Logger

	Now   func() time.Time
	NewID func(prefix string) string

	// ModelName is echoed back in every response's "model" field.
	ModelName string
}

func (a *Adapter) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *Adapter) newID(prefix string) string {
	if a.NewID != nil {
		return a.NewID(prefix)
	}
	return fmt.Sprintf("%s%d", prefix, time.Now().UnixNano())
}

// Routes mounts the chat-completions endpoint.
func (a *Adapter) Routes(r chi.Router) {
	r.Post("/v1/chat/completions", a.handleChatCompletions)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type choice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message,omitempty"`
	Delta        chatMessage `json:"delta,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

type completionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
}

// handleChatCompletions resolves (or bootstraps) the caller's Chat
// Session, replays its stored history plus the new request messages
// through the bounded tool-calling loop, persists the turns that loop
// produced, and writes either a single JSON response or an SSE stream
// depending on the request's "stream" field.
func (a *Adapter) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.NewInvalidParamsError("body", "malformed JSON body"))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, apperrors.NewInvalidParamsError("messages", "messages must be non-empty"))
		return
	}

	secret := r.Header.Get(HeaderSessionSecret)
	if secret == "" {
		writeError(w, apperrors.NewInvalidParamsError(HeaderSessionSecret, "header is required"))
		return
	}

	session, err := a.resolveSession(r.Context(), r.Header.Get(HeaderSessionID), secret)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set(HeaderSessionID, session.ID)

	now := a.now()
	for _, m := range req.Messages {
		session.Append(coredata.ChatTurn{Role: m.Role, Content: m.Content, Timestamp: now})
	}

	if req.Stream {
		a.streamCompletion(w, r, session, now)
		return
	}
	a.blockingCompletion(w, r, session, now)
}

// resolveSession loads an existing Chat Session or bootstraps a new one
// keyed by the caller-supplied id (or a generated one, if absent) the
// first time that secret is seen.
func (a *Adapter) resolveSession(ctx context.Context, id, secret string) (*coredata.ChatSession, error) {
	if id == "" {
		id = a.newID("chat_")
		now := a.now()
		session := &coredata.ChatSession{ID: id, SecretHash: chatsessionstore.HashSecret(secret), CreatedAt: now, UpdatedAt: now}
		if err := a.Sessions.Create(ctx, session); err != nil {
			return nil, err
		}
		return session, nil
	}

	session, err := a.Sessions.Get(ctx, id)
	if err != nil {
		if coded, ok := err.(apperrors.Coded); ok && coded.Code() == "NotFound" {
			now := a.now()
			created := &coredata.ChatSession{ID: id, SecretHash: chatsessionstore.HashSecret(secret), CreatedAt: now, UpdatedAt: now}
			if createErr := a.Sessions.Create(ctx, created); createErr != nil {
				return nil, createErr
			}
			return created, nil
		}
		return nil, err
	}

	if !chatsessionstore.SecretMatches(session, secret) {
		return nil, apperrors.NewInvalidParamsError(HeaderSessionSecret, "does not match the secret recorded for this session")
	}
	return session, nil
}

// historyToMessages translates a Chat Session's persisted turns into the
// router's message shape.
func historyToMessages(history []coredata.ChatTurn) []llmrouter.Message {
	messages := make([]llmrouter.Message, 0, len(history))
	for _, turn := range history {
		messages = append(messages, llmrouter.Message{
			Role:       turn.Role,
			Content:    turn.Content,
			ToolCallID: turn.ToolCallID,
			Name:       turn.Name,
		})
	}
	return messages
}

// recordTranscript appends the router's new turns (assistant tool-call
// requests, tool results, and the final assistant message) onto the Chat
// Session's history, so a later request can replay the conversation.
// Where a single router turn requested more than one simultaneous tool
// call, only the first is recorded — multi-call turns are rare and the
// persisted record only needs to preserve conversational continuity, not
// a full replay of that turn's internal bookkeeping.
func recordTranscript(session *coredata.ChatSession, transcript []llmrouter.Message, now time.Time) {
	for _, msg := range transcript {
		switch {
		case len(msg.ToolCalls) > 0:
			call := msg.ToolCalls[0]
			session.Append(coredata.ChatTurn{Role: "assistant", Name: call.Name, ToolCallID: call.ID, Timestamp: now})
		case msg.Role == "tool":
			session.Append(coredata.ChatTurn{Role: "tool", Name: msg.Name, ToolCallID: msg.ToolCallID, Content: msg.Content, Timestamp: now})
		default:
			session.Append(coredata.ChatTurn{Role: msg.Role, Content: msg.Content, Timestamp: now})
		}
	}
}

// lastToolResult returns the most recent tool-role message in transcript,
// if any, so the response content can be annotated with that skill's
// summary result.
func lastToolResult(transcript []llmrouter.Message) (llmrouter.Message, bool) {
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role == "tool" {
			return transcript[i], true
		}
	}
	return llmrouter.Message{}, false
}

// annotateContent appends a small result block to content, derived from
// the last tool call's JSON result, per spec.md's "summary fields only —
// proof bytes are not echoed; QR-image URLs are derived for any URL
// outputs" note. Proof bytes are already stripped upstream by
// internal/llmrouter before the result ever reaches this package; this
// function's only remaining job is the QR-URL derivation.
func annotateContent(content string, toolMsg llmrouter.Message) string {
	var fields map[string]interface{}
	if json.Unmarshal([]byte(toolMsg.Content), &fields) != nil {
		return content
	}
	if _, isError := fields["error"]; isError {
		return content
	}

	enriched := make(map[string]interface{}, len(fields)*2)
	for k, v := range fields {
		enriched[k] = v
		if s, ok := v.(string); ok && (strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")) {
			enriched[k+"_qr_url"] = qrImageURL(s)
		}
	}

	block := map[string]interface{}{"skill": toolMsg.Name, "result": enriched}
	body, err := json.Marshal(block)
	if err != nil {
		return content
	}
	return fmt.Sprintf("%s\n\n---\n%s", content, body)
}

// qrImageURL derives a scannable QR code image for a URL output, via a
// public QR-rendering endpoint rather than this service rendering images
// itself.
func qrImageURL(target string) string {
	return "https://api.qrserver.com/v1/create-qr-code/?size=200x200&data=" + url.QueryEscape(target)
}

func (a *Adapter) buildRouter(onStep llmrouter.StepObserver) *llmrouter.Router {
	return &llmrouter.Router{Model: a.Model, Core: a.Core, OnStep: onStep}
}

func (a *Adapter) blockingCompletion(w http.ResponseWriter, r *http.Request, session *coredata.ChatSession, now time.Time) {
	router := a.buildRouter(nil)
	reply, transcript, err := router.Run(r.Context(), historyToMessages(session.History))
	if err != nil {
		writeError(w, err)
		return
	}

	content := reply.Content
	if toolMsg, ok := lastToolResult(transcript); ok {
		content = annotateContent(content, toolMsg)
	}

	recordTranscript(session, transcript, now)
	if err := a.Sessions.Update(r.Context(), session); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, completionResponse{
		ID:      a.newID("chatcmpl_"),
		Object:  "chat.completion",
		Created: now.Unix(),
		Model:   a.ModelName,
		Choices: []choice{{Index: 0, Message: chatMessage{Role: "assistant", Content: content}, FinishReason: "stop"}},
	})
}

type stepEvent struct {
	Tool string `json:"tool"`
	OK   bool   `json:"ok"`
}

func (a *Adapter) streamCompletion(w http.ResponseWriter, r *http.Request, session *coredata.ChatSession, now time.Time) {
	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	router := a.buildRouter(func(call llmrouter.ToolCall, _ interface{}, stepErr error) {
		writeSSEEvent(w, "step", stepEvent{Tool: call.Name, OK: stepErr == nil})
		if canFlush {
			flusher.Flush()
		}
	})

	reply, transcript, err := router.Run(r.Context(), historyToMessages(session.History))
	if err != nil {
		writeSSEEvent(w, "error", map[string]string{"error": err.Error()})
		fmt.Fprint(w, "data: [DONE]\n\n")
		if canFlush {
			flusher.Flush()
		}
		return
	}

	content := reply.Content
	if toolMsg, ok := lastToolResult(transcript); ok {
		content = annotateContent(content, toolMsg)
	}

	recordTranscript(session, transcript, now)
	_ = a.Sessions.Update(r.Context(), session)

	chunk := completionResponse{
		ID:      a.newID("chatcmpl_"),
		Object:  "chat.completion.chunk",
		Created: now.Unix(),
		Model:   a.ModelName,
		Choices: []choice{{Index: 0, Delta: chatMessage{Role: "assistant", Content: content}, FinishReason: "stop"}},
	}
	body, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", body)
	fmt.Fprint(w, "data: [DONE]\n\n")
	if canFlush {
		flusher.Flush()
	}
}

func writeSSEEvent(w http.ResponseWriter, event string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type wireErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "InternalError"
	if coded, ok := err.(apperrors.Coded); ok {
		code = coded.Code()
		status = statusForCode(code)
	}
	writeJSON(w, status, wireErrorBody{Code: code, Message: err.Error()})
}

func statusForCode(code string) int {
	switch code {
	case "InvalidParams", "InvalidStateTransition":
		return http.StatusBadRequest
	case "NotFound":
		return http.StatusNotFound
	case "RateLimited":
		return http.StatusTooManyRequests
	case "UnreachableDependency":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
