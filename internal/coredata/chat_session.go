package coredata

import (
	"fmt"
	"time"
)

// ChatTurn is one message in the OpenAI-compatible chat history, including
// the tool-call bookkeeping the LLM router needs to replay a conversation.
type ChatTurn struct {
	Role       string    `json:"role"`
	Content    string    `json:"content,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	Name       string    `json:"name,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// maxChatHistoryTurns bounds how many turns a ChatSession retains; the
// oldest turns are dropped once the boundary is crossed, keeping the most
// recent system/user/assistant exchange intact.
const maxChatHistoryTurns = 40

// ChatSession is the durable record behind one chat-completions conversation,
// per spec.md's chat adapter design: a stable session id, the secret used to
// authorize skill calls on the caller's behalf, and a bounded turn history.
type ChatSession struct {
	ID         string     `json:"id"`
	SecretHash string     `json:"secret_hash"`
	History    []ChatTurn `json:"history"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Validate checks the structural invariants of a ChatSession.
func (c *ChatSession) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.SecretHash == "" {
		return fmt.Errorf("secret_hash is required")
	}
	return nil
}

// Append adds a turn to the history, trimming from the front once the
// session exceeds maxChatHistoryTurns so the history stays bounded without
// ever dropping the most recent exchange. The cut point is advanced past
// any leading "tool" turn so a tool-result is never kept without the
// assistant tool-call message that produced it.
func (c *ChatSession) Append(turn ChatTurn) {
	c.History = append(c.History, turn)
	if overflow := len(c.History) - maxChatHistoryTurns; overflow > 0 {
		for overflow < len(c.History) && c.History[overflow].Role == "tool" {
			overflow++
		}
		c.History = c.History[overflow:]
	}
	c.UpdatedAt = turn.Timestamp
}
