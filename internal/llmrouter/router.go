// Package llmrouter is the adapter-only concern that turns free-form chat
// messages into skill invocations, per spec.md §4.11's design note: Skill
// Core never depends on an LLM, so everything here sits behind a narrow
// interface and is reachable only from the chat-completions adapter (and,
// for the "text" message part, the Task JSON-RPC adapter).
package llmrouter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zkgate-io/zkgate/internal/apperrors"
	"github.com/zkgate-io/zkgate/internal/skills"
)

// MaxFunctionCalls bounds how many tool-call round trips one chat turn may
// make, per spec.md §4.11.
const MaxFunctionCalls = 5

// ToolCall is one function call an LLM response requested.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// Message is one turn in the conversation handed to/from a ChatModel. It
// mirrors the OpenAI chat-completions message shape closely enough that an
// adapter can translate directly without an intermediate type.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// ToolSpec describes one callable tool in the shape an LLM provider's
// function-calling API expects.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Completion is one model turn: either a final assistant message, or a
// request to call one or more tools.
type Completion struct {
	Message   Message
	ToolCalls []ToolCall
}

// ChatModel is the only LLM dependency this package exposes. Skill Core
// never implements or depends on it; only the chat-completions adapter
// constructs a concrete one.
type ChatModel interface {
	Complete(ctx context.Context, messages []Message, tools []ToolSpec) (Completion, error)
}

// Dispatcher is the subset of skills.Core the router needs, narrowed to an
// interface for the same reason internal/worker narrows it.
type Dispatcher interface {
	Dispatch(ctx context.Context, skill skills.Skill, params map[string]interface{}) (interface{}, error)
}

// StepObserver receives one notification per tool-call round trip, letting
// the chat-completions adapter emit spec.md §4.11's SSE "step" events
// without the router knowing anything about SSE.
type StepObserver func(call ToolCall, result interface{}, err error)

// Router converts a user message plus history into a bounded sequence of
// tool calls against Skill Core, stopping at MaxFunctionCalls and refusing
// every proof-producing skill call after the first successful one, per
// spec.md's "at most one proof-producing tool call per request" rule.
type Router struct {
	Model ChatModel
	Core  Dispatcher

	// OnStep is called after every tool invocation, if set.
	OnStep StepObserver
}

// toolSpecs builds the tool-calling schema for every known skill. Parameter
// shapes are intentionally loose (object, no required list) since Skill
// Core itself is the source of truth for field validation.
func toolSpecs() []ToolSpec {
	descriptions := map[skills.Skill]string{
		skills.SkillRequestSigning:       "Start a new proof request: creates a signing session and returns a URL the user must visit to authorize it.",
		skills.SkillCheckStatus:          "Check the phase of a previously created request (signing, payment, ready, or expired).",
		skills.SkillRequestPayment:       "Get the payment URL and price for a request whose signing step is complete.",
		skills.SkillGenerateProof:        "Generate a zero-knowledge proof for a completed, paid request (or directly, when payment is disabled).",
		skills.SkillVerifyProof:          "Verify a previously generated proof against its on-chain verifier contract.",
		skills.SkillGetSupportedCircuits: "List the circuits this service can prove, and the verifier contract deployed for each on a given chain.",
	}

	specs := make([]ToolSpec, 0, len(skills.AllSkills))
	for _, s := range skills.AllSkills {
		specs = append(specs, ToolSpec{
			Name:        string(s),
			Description: descriptions[s],
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		})
	}
	return specs
}

// Run executes the bounded tool-call loop for one chat turn: it alternates
// between asking the model for a completion and, if the model requested
// tool calls, dispatching each one and feeding the results back, until the
// model returns a plain assistant message or MaxFunctionCalls is reached.
// Once a generate_proof call has succeeded this turn, any further
// generate_proof call gets an error tool result instead of being dispatched.
func (r *Router) Run(ctx context.Context, history []Message) (Message, []Message, error) {
	messages := append([]Message(nil), history...)
	var transcript []Message
	proofCallMade := false
	calls := 0

	for {
		completion, err := r.Model.Complete(ctx, messages, toolSpecs())
		if err != nil {
			return Message{}, transcript, apperrors.WrapInternalError("chat model call failed", err)
		}

		if len(completion.ToolCalls) == 0 {
			transcript = append(transcript, completion.Message)
			return completion.Message, transcript, nil
		}

		assistantTurn := Message{Role: "assistant", ToolCalls: completion.ToolCalls}
		messages = append(messages, assistantTurn)
		transcript = append(transcript, assistantTurn)

		for _, call := range completion.ToolCalls {
			if calls >= MaxFunctionCalls {
				return r.finalizeOnLimit(ctx, messages, transcript)
			}

			skill := skills.Skill(call.Name)
			if !skill.Known() {
				toolMsg := Message{Role: "tool", ToolCallID: call.ID, Name: call.Name, Content: `{"error":"unknown tool"}`}
				messages = append(messages, toolMsg)
				transcript = append(transcript, toolMsg)
				continue
			}

			if skill == skills.SkillGenerateProof && proofCallMade {
				toolMsg := Message{
					Role:       "tool",
					ToolCallID: call.ID,
					Name:       call.Name,
					Content:    `{"error":"at most one proof-producing call is allowed per turn"}`,
				}
				messages = append(messages, toolMsg)
				transcript = append(transcript, toolMsg)
				calls++
				continue
			}

			result, dispatchErr := r.Core.Dispatch(ctx, skill, call.Arguments)
			calls++
			if skill == skills.SkillGenerateProof && dispatchErr == nil {
				proofCallMade = true
			}

			if r.OnStep != nil {
				r.OnStep(call, result, dispatchErr)
			}

			toolMsg := toolResultMessage(call, result, dispatchErr)
			messages = append(messages, toolMsg)
			transcript = append(transcript, toolMsg)
		}
	}
}

// finalizeOnLimit asks the model for one last completion with tool calling
// implicitly exhausted (no more tool results will be supplied), so the
// reply the user sees still closes out the turn instead of silently
// truncating.
func (r *Router) finalizeOnLimit(ctx context.Context, messages []Message, transcript []Message) (Message, []Message, error) {
	completion, err := r.Model.Complete(ctx, messages, nil)
	if err != nil {
		return Message{}, transcript, apperrors.WrapInternalError("chat model call failed", err)
	}
	transcript = append(transcript, completion.Message)
	return completion.Message, transcript, nil
}

// toolResultMessage renders a skill outcome (or error) as a tool-result
// message to feed back into the model, per spec.md §4.11's rule that proof
// bytes are never echoed — the raw field is dropped from the encoded JSON.
func toolResultMessage(call ToolCall, result interface{}, err error) Message {
	if err != nil {
		code := "Error"
		if coded, ok := err.(apperrors.Coded); ok {
			code = coded.Code()
		}
		body, _ := json.Marshal(map[string]string{"error": err.Error(), "code": code})
		return Message{Role: "tool", ToolCallID: call.ID, Name: call.Name, Content: string(body)}
	}

	body, marshalErr := json.Marshal(redactProofBytes(result))
	if marshalErr != nil {
		body = []byte(fmt.Sprintf(`{"error":%q}`, marshalErr.Error()))
	}
	return Message{Role: "tool", ToolCallID: call.ID, Name: call.Name, Content: string(body)}
}

// redactProofBytes drops a GenerateProofResult's raw Proof field before it
// reaches the model, per spec.md §4.11: "proof bytes are not echoed".
func redactProofBytes(result interface{}) interface{} {
	proof, ok := result.(*skills.GenerateProofResult)
	if !ok {
		return result
	}
	redacted := *proof
	redacted.Proof = nil
	return &redacted
}
