// Package conversation defines the conversation data model, the persisted
// content codec, the turn sanitizer, and the PostgreSQL store.
//
// A conversation is owned by exactly one principal and holds an ordered
// sequence of turns. Turn content is role-dependent: user turns carry plain
// text, assistant turns carry an ordered list of segments (text or tool
// calls), tool turns carry the resolved results for a preceding assistant
// turn's tool calls.
package conversation

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a turn.
type Role string

// Valid turn roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Segment types within an assistant turn.
const (
	SegmentText     = "text"
	SegmentToolCall = "tool-call"
)

// ToolCall is a model-emitted request to invoke a named tool.
type ToolCall struct {
	Name   string          `json:"name"`
	CallID string          `json:"callId"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// Segment is one ordered element of an assistant turn: either text or a
// tool call, never both.
type Segment struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ToolCall *ToolCall `json:"toolCall,omitempty"`
}

// TextSegment builds a text segment.
func TextSegment(text string) Segment {
	return Segment{Type: SegmentText, Text: text}
}

// ToolCallSegment builds a tool-call segment.
func ToolCallSegment(call ToolCall) Segment {
	return Segment{Type: SegmentToolCall, ToolCall: &call}
}

// ToolResult is one resolved tool invocation within a tool turn.
type ToolResult struct {
	Type     string          `json:"type"`
	CallID   string          `json:"callId"`
	ToolName string          `json:"toolName"`
	Result   json.RawMessage `json:"result"`
}

// Turn is one message-equivalent unit in a conversation.
// Exactly one of Text, Segments, Results is populated, per Role.
type Turn struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           Role
	Text           string       // RoleUser
	Segments       []Segment    // RoleAssistant
	Results        []ToolResult // RoleTool
	CreatedAt      time.Time
}

// Conversation owns an ordered sequence of turns.
type Conversation struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Title     string
	CreatedAt time.Time
}

// titleMaxLength bounds synthesized conversation titles.
const titleMaxLength = 50

// TitleFromText synthesizes a conversation title from the first user turn.
func TitleFromText(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= titleMaxLength {
		return text
	}
	return string(runes[:titleMaxLength])
}
