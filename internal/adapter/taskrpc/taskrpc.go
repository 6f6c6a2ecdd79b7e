// Package taskrpc implements the Task JSON-RPC surface at /a2a, per
// spec.md §4.11/§6: message/send (blocking), message/stream (SSE),
// tasks/get (with optional historyLength trim), tasks/cancel, and
// tasks/resubscribe. A message part carrying a "skill" field is queued as a
// task for the Task Worker; a free-form text part is resolved (and, since the LLM Router
// has no separate resolve-only mode, executed) through
// internal/llmrouter before the task record is ever created.
package taskrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zkgate-io/zkgate/internal/apperrors"
	"github.com/zkgate-io/zkgate/internal/coredata"
	"github.com/zkgate-io/zkgate/internal/eventbus"
	"github.com/zkgate-io/zkgate/internal/llmrouter"
	"github.com/zkgate-io/zkgate/internal/logging"
	"github.com/zkgate-io/zkgate/internal/payment"
	"github.com/zkgate-io/zkgate/internal/taskstore"
)

// paymentHeaderName is the x402 middleware convention for carrying a
// base64-encoded CBOR payment authorization on a paid request.
const paymentHeaderName = "X-PAYMENT"

// JSON-RPC error codes, per spec.md §6.
const (
	codeMalformed           = -32600
	codeMethodNotFound      = -32601
	codeInvalidParams       = -32602
	codeInternal            = -32603
	codeTaskNotFound        = -32001
	codeInvalidTransition   = -32002
	defaultBlockTimeout     = 120 * time.Second
	defaultStreamHeartbeat  = 15 * time.Second
)

// TextRouter is the subset of llmrouter.Router the adapter needs for
// free-form text parts, narrowed the same way every other adapter narrows
// its dependency.
type TextRouter interface {
	Run(ctx context.Context, history []llmrouter.Message) (llmrouter.Message, []llmrouter.Message, error)
}

// Adapter wires the Task JSON-RPC surface to the Task Store and Event Bus.
type Adapter struct {
	Tasks  *taskstore.Store
	Bus    *eventbus.Bus
	Router TextRouter
	Logger *logging.Logger

	// PaymentStore, when set, makes message/send and message/stream record
	// an incoming X-PAYMENT header as a pending PaymentRecord (spec.md
	// §4.8) for the Settlement Worker to pick up. Left nil, no recording
	// happens — matching PaymentRequired=false services that never see a
	// payment header to begin with.
	PaymentStore *payment.Store
	// Network is the config network name this service settles against,
	// mirroring skills.Core.Network and rest.Adapter.Network.
	Network string
	// PriceDisplay is the amount string (e.g. "$0.10") recorded on every
	// payment, mirroring skills.Core.PriceDisplay.
	PriceDisplay string

	Now             func() time.Time
	NewID           func(prefix string) string
	BlockTimeout    time.Duration
	StreamHeartbeat time.Duration
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

func (a *Adapter) blockTimeout() time.Duration {
	if a.BlockTimeout > 0 {
		return a.BlockTimeout
	}
	return defaultBlockTimeout
}

func (a *Adapter) streamHeartbeat() time.Duration {
	if a.StreamHeartbeat > 0 {
		return a.StreamHeartbeat
	}
	return defaultStreamHeartbeat
}

// recordPayment decodes an X-PAYMENT header, if present, into a pending
// PaymentRecord tied to taskID. Per spec.md §4.8, parse failures are logged
// but not fatal: the upstream HTTP gate has already validated funds before
// this adapter ever sees the request.
func (a *Adapter) recordPayment(ctx context.Context, r *http.Request, taskID string) {
	if a.PaymentStore == nil {
		return
	}
	wire := r.Header.Get(paymentHeaderName)
	if wire == "" {
		return
	}

	auth, scheme, err := payment.DecodeHeaderWire(wire)
	if err != nil {
		if a.Logger != nil {
			a.Logger.Warn("failed to decode payment header", map[string]interface{}{"task_id": taskID, "error": err.Error()})
		}
		return
	}

	now := a.now()
	record := &coredata.PaymentRecord{
		ID:           a.newID("pay_"),
		TaskID:       taskID,
		PayerAddress: auth.From,
		Amount:       a.PriceDisplay,
		Network:      coredata.NormalizeNetwork(a.Network),
		Status:       coredata.PaymentRecordPending,
		Scheme:       scheme,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.PaymentStore.Create(ctx, record); err != nil && a.Logger != nil {
		a.Logger.Warn("failed to record payment", map[string]interface{}{"task_id": taskID, "error": err.Error()})
	}
}

// Routes mounts the single JSON-RPC endpoint.
func (a *Adapter) Routes(r chi.Router) {
	r.Post("/a2a", a.handleRPC)
}

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// rpcResponse is a JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Part is one entry in an incoming message's parts list: either a typed
// "data" part carrying a skill name and its params, or a free-form "text"
// part routed through the LLM Router.
type Part struct {
	Kind string                 `json:"kind"`
	Data map[string]interface{} `json:"data,omitempty"`
	Text string                 `json:"text,omitempty"`
}

type messageIn struct {
	Parts []Part `json:"parts"`
}

type sendParams struct {
	ContextID string    `json:"context_id,omitempty"`
	Message   messageIn `json:"message"`
}

type getParams struct {
	ID            string `json:"id"`
	HistoryLength *int   `json:"historyLength,omitempty"`
}

type idParams struct {
	ID string `json:"id"`
}

func (a *Adapter) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, nil, codeMalformed, "malformed JSON-RPC request")
		return
	}

	switch req.Method {
	case "message/send":
		a.handleMessageSend(w, r, req)
	case "message/stream":
		a.handleMessageStream(w, r, req)
	case "tasks/get":
		a.handleTasksGet(w, r, req)
	case "tasks/cancel":
		a.handleTasksCancel(w, r, req)
	case "tasks/resubscribe":
		a.handleTasksResubscribe(w, r, req)
	default:
		writeRPCError(w, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}
}

// resolvePart turns one incoming part into a (skill, params, executed)
// triple. "data" parts carry their skill name directly and are returned
// unexecuted, for the Task Worker to dispatch asynchronously. "text" parts
// are resolved AND executed here, since llmrouter.Router has no
// resolve-only mode — its transcript's last tool call becomes the task's
// synchronous outcome.
func (a *Adapter) resolvePart(ctx context.Context, part Part) (skill string, params map[string]interface{}, outcome *syncOutcome, err error) {
	switch part.Kind {
	case "data":
		name, ok := part.Data["skill"].(string)
		if !ok || name == "" {
			return "", nil, nil, apperrors.NewInvalidParamsError("skill", "data part must carry a non-empty 'skill' field")
		}
		rest := make(map[string]interface{}, len(part.Data))
		for k, v := range part.Data {
			if k != "skill" {
				rest[k] = v
			}
		}
		return name, rest, nil, nil

	case "text":
		if a.Router == nil {
			return "", nil, nil, apperrors.NewInvalidParamsError("message", "this service has no text-routing configured; submit a data part instead")
		}
		reply, transcript, runErr := a.Router.Run(ctx, []llmrouter.Message{{Role: "user", Content: part.Text}})
		if runErr != nil {
			return "", nil, nil, runErr
		}
		return "", nil, synthesizeOutcome(reply, transcript), nil

	default:
		return "", nil, nil, apperrors.NewInvalidParamsError("kind", fmt.Sprintf("unknown part kind %q", part.Kind))
	}
}

// syncOutcome captures a text part's already-executed result, so the task
// record can be created directly in its terminal state.
type syncOutcome struct {
	reply     llmrouter.Message
	skillName string
	failed    bool
	artifact  *coredata.Artifact
}

func synthesizeOutcome(reply llmrouter.Message, transcript []llmrouter.Message) *syncOutcome {
	out := &syncOutcome{reply: reply}
	for _, turn := range transcript {
		if turn.Role != "tool" {
			continue
		}
		out.skillName = turn.Name
		var errBody map[string]string
		if json.Unmarshal([]byte(turn.Content), &errBody) == nil {
			if _, hasErr := errBody["error"]; hasErr {
				out.failed = true
			}
		}
		var data interface{}
		_ = json.Unmarshal([]byte(turn.Content), &data)
		out.artifact = &coredata.Artifact{Name: turn.Name + "_result", Data: data}
	}
	return out
}

func (a *Adapter) handleMessageSend(w http.ResponseWriter, r *http.Request, req rpcRequest) {
	var params sendParams
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params.Message.Parts) == 0 {
		writeRPCError(w, req.ID, codeInvalidParams, "message/send requires a message with at least one part")
		return
	}

	contextID := params.ContextID
	if contextID == "" {
		contextID = a.newID("ctx_")
	}
	taskID := a.newID("task_")
	now := a.now()
	a.recordPayment(r.Context(), r, taskID)

	skillName, skillParams, outcome, err := a.resolvePart(r.Context(), params.Message.Parts[0])
	if err != nil {
		writeRPCError(w, req.ID, codeInvalidParams, err.Error())
		return
	}

	if outcome != nil {
		task := a.buildSyncTask(taskID, contextID, outcome, now)
		if submitErr := a.Tasks.Submit(r.Context(), task); submitErr != nil {
			writeRPCError(w, req.ID, codeInternal, submitErr.Error())
			return
		}
		writeRPCResult(w, req.ID, task)
		return
	}

	task := coredata.NewTask(taskID, contextID, skillName, skillParams, now)
	events, unsubscribe := a.Bus.Subscribe(taskID)
	defer unsubscribe()

	if err := a.Tasks.Submit(r.Context(), task); err != nil {
		writeRPCError(w, req.ID, codeInternal, err.Error())
		return
	}
	_ = a.Tasks.LinkContext(r.Context(), contextID, taskID)

	final := a.awaitTerminal(r.Context(), taskID, events)
	writeRPCResult(w, req.ID, final)
}

// buildSyncTask builds a task already in its terminal state for a text
// part that ran synchronously through the LLM Router.
func (a *Adapter) buildSyncTask(taskID, contextID string, outcome *syncOutcome, now time.Time) *coredata.Task {
	skill := outcome.skillName
	if skill == "" {
		skill = "chat"
	}
	task := coredata.NewTask(taskID, contextID, skill, nil, now)
	task.History = append(task.History, coredata.Message{Role: "assistant", Content: outcome.reply.Content, Timestamp: now})
	if outcome.artifact != nil {
		task.Artifacts = append(task.Artifacts, *outcome.artifact)
	}
	state := coredata.TaskCompleted
	if outcome.failed {
		state = coredata.TaskFailed
	}
	task.Status = coredata.TaskStatus{State: state, Timestamp: now}
	return task
}

// awaitTerminal blocks until a task_complete event arrives for taskID, the
// configured timeout elapses, or the request context is canceled —
// whichever comes first — then returns the task's current persisted
// state. A task that finishes between Submit and Subscribe (a narrow race
// this method also guards against) is caught by the immediate re-check
// below rather than hanging until the timeout.
func (a *Adapter) awaitTerminal(ctx context.Context, taskID string, events <-chan eventbus.Event) *coredata.Task {
	if task, err := a.Tasks.Get(ctx, taskID); err == nil && task.IsTerminal() {
		return task
	}

	timer := time.NewTimer(a.blockTimeout())
	defer timer.Stop()

	for {
		select {
		case evt := <-events:
			if evt.Final {
				if task, err := a.Tasks.Get(ctx, taskID); err == nil {
					return task
				}
			}
		case <-timer.C:
			task, _ := a.Tasks.Get(ctx, taskID)
			return task
		case <-ctx.Done():
			task, _ := a.Tasks.Get(ctx, taskID)
			return task
		}
	}
}

func (a *Adapter) handleMessageStream(w http.ResponseWriter, r *http.Request, req rpcRequest) {
	var params sendParams
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params.Message.Parts) == 0 {
		writeRPCError(w, req.ID, codeInvalidParams, "message/stream requires a message with at least one part")
		return
	}

	contextID := params.ContextID
	if contextID == "" {
		contextID = a.newID("ctx_")
	}
	taskID := a.newID("task_")
	now := a.now()
	a.recordPayment(r.Context(), r, taskID)

	skillName, skillParams, outcome, err := a.resolvePart(r.Context(), params.Message.Parts[0])
	if err != nil {
		writeRPCError(w, req.ID, codeInvalidParams, err.Error())
		return
	}

	if outcome != nil {
		task := a.buildSyncTask(taskID, contextID, outcome, now)
		if submitErr := a.Tasks.Submit(r.Context(), task); submitErr != nil {
			writeRPCError(w, req.ID, codeInternal, submitErr.Error())
			return
		}
		a.streamSingleFrame(w, req.ID, task)
		return
	}

	task := coredata.NewTask(taskID, contextID, skillName, skillParams, now)
	events, unsubscribe := a.Bus.Subscribe(taskID)
	defer unsubscribe()

	if err := a.Tasks.Submit(r.Context(), task); err != nil {
		writeRPCError(w, req.ID, codeInternal, err.Error())
		return
	}
	_ = a.Tasks.LinkContext(r.Context(), contextID, taskID)

	a.streamEvents(w, r, req.ID, taskID, events)
}

func (a *Adapter) handleTasksGet(w http.ResponseWriter, r *http.Request, req rpcRequest) {
	var params getParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		writeRPCError(w, req.ID, codeInvalidParams, "tasks/get requires an id")
		return
	}

	task, err := a.Tasks.Get(r.Context(), params.ID)
	if err != nil {
		writeTaskLookupError(w, req.ID, err)
		return
	}

	if params.HistoryLength != nil && *params.HistoryLength >= 0 && *params.HistoryLength < len(task.History) {
		trimmed := *task
		trimmed.History = task.History[len(task.History)-*params.HistoryLength:]
		writeRPCResult(w, req.ID, &trimmed)
		return
	}

	writeRPCResult(w, req.ID, task)
}

func (a *Adapter) handleTasksCancel(w http.ResponseWriter, r *http.Request, req rpcRequest) {
	var params idParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		writeRPCError(w, req.ID, codeInvalidParams, "tasks/cancel requires an id")
		return
	}

	task, err := a.Tasks.Transition(r.Context(), params.ID, coredata.TaskCanceled, "canceled by caller", a.now())
	if err != nil {
		if _, notFound := lookupErr(err); notFound {
			writeRPCError(w, req.ID, codeTaskNotFound, err.Error())
			return
		}
		writeRPCError(w, req.ID, codeInvalidTransition, "Invalid status transition")
		return
	}

	a.Bus.PublishTaskComplete(task)
	writeRPCResult(w, req.ID, task)
}

func (a *Adapter) handleTasksResubscribe(w http.ResponseWriter, r *http.Request, req rpcRequest) {
	var params idParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		writeRPCError(w, req.ID, codeInvalidParams, "tasks/resubscribe requires an id")
		return
	}

	task, err := a.Tasks.Get(r.Context(), params.ID)
	if err != nil {
		writeTaskLookupError(w, req.ID, err)
		return
	}

	if task.IsTerminal() {
		writeRPCResult(w, req.ID, task)
		return
	}

	events, unsubscribe := a.Bus.Subscribe(params.ID)
	defer unsubscribe()
	a.streamEvents(w, r, req.ID, params.ID, events)
}

// streamSingleFrame writes one SSE frame and closes the stream, for a task
// that was already resolved synchronously before streaming began.
func (a *Adapter) streamSingleFrame(w http.ResponseWriter, id interface{}, task *coredata.Task) {
	flusher, ok := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	writeSSEResult(w, id, task)
	if ok {
		flusher.Flush()
	}
}

// streamEvents relays bus events for taskID as SSE frames until a final
// event arrives, the client disconnects, or a heartbeat-spaced idle period
// requires a comment frame to keep the connection alive.
func (a *Adapter) streamEvents(w http.ResponseWriter, r *http.Request, id interface{}, taskID string, events <-chan eventbus.Event) {
	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	heartbeat := time.NewTicker(a.streamHeartbeat())
	defer heartbeat.Stop()

	for {
		select {
		case evt := <-events:
			writeSSEResult(w, id, evt)
			if canFlush {
				flusher.Flush()
			}
			if evt.Final {
				return
			}
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSEResult(w http.ResponseWriter, id interface{}, result interface{}) {
	body, err := json.Marshal(rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", body)
}

func writeRPCResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func writeRPCError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}

func writeTaskLookupError(w http.ResponseWriter, id interface{}, err error) {
	if _, notFound := lookupErr(err); notFound {
		writeRPCError(w, id, codeTaskNotFound, err.Error())
		return
	}
	writeRPCError(w, id, codeInternal, err.Error())
}

func lookupErr(err error) (apperrors.Coded, bool) {
	coded, ok := err.(apperrors.Coded)
	if !ok {
		return nil, false
	}
	return coded, coded.Code() == "NotFound"
}
