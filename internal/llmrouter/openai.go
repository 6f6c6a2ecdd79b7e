package llmrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zkgate-io/zkgate/internal/apperrors"
)

// OpenAIChatModel is a ChatModel backed by an OpenAI-compatible chat
// completions endpoint, called with the same bare net/http-plus-JSON style
// as internal/facilitator.Client rather than a provider SDK, since nothing
// in this service's dependency stack already brings one in.
type OpenAIChatModel struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOpenAIChatModel constructs a ChatModel that calls baseURL (normally
// https://api.openai.com/v1) using apiKey as a bearer token.
func NewOpenAIChatModel(apiKey, baseURL, model string, timeout time.Duration) *OpenAIChatModel {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIChatModel{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type openAIFunctionSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type openAIToolSpec struct {
	Type     string              `json:"type"`
	Function openAIFunctionSpec  `json:"function"`
}

type openAIToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIToolCall struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Function openAIToolCallFunction `json:"function"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Tools    []openAIToolSpec `json:"tools,omitempty"`
}

type openAIChoice struct {
	Message openAIMessage `json:"message"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func toOpenAIMessages(messages []Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages))
	for _, m := range messages {
		om := openAIMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			om.ToolCalls = append(om.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIToolCallFunction{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func toOpenAITools(tools []ToolSpec) []openAIToolSpec {
	out := make([]openAIToolSpec, 0, len(tools))
	for _, t := range tools {
		out = append(out, openAIToolSpec{
			Type: "function",
			Function: openAIFunctionSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// Complete implements ChatModel.
func (m *OpenAIChatModel) Complete(ctx context.Context, messages []Message, tools []ToolSpec) (Completion, error) {
	reqBody := openAIRequest{
		Model:    m.model,
		Messages: toOpenAIMessages(messages),
		Tools:    toOpenAITools(tools),
	}
	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return Completion{}, apperrors.WrapInternalError("failed to marshal chat completion request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/chat/completions", bytes.NewReader(encoded))
	if err != nil {
		return Completion{}, apperrors.WrapInternalError("failed to build chat completion request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Completion{}, apperrors.WrapUnreachableDependencyError(
			apperrors.NewUnreachableDependencyError("llm_provider", "chat completion request failed"), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, apperrors.WrapInternalError("failed to read chat completion response", err)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Completion{}, apperrors.WrapInternalError("failed to unmarshal chat completion response", err)
	}
	if parsed.Error != nil {
		return Completion{}, apperrors.NewUnreachableDependencyError("llm_provider", parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK || len(parsed.Choices) == 0 {
		return Completion{}, apperrors.NewUnreachableDependencyError("llm_provider", fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	msg := parsed.Choices[0].Message
	out := Completion{Message: Message{Role: msg.Role, Content: msg.Content}}
	for _, tc := range msg.ToolCalls {
		var args map[string]interface{}
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return out, nil
}
