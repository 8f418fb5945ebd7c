package chat

import (
	"encoding/json"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/costera/costera/internal/conversation"
)

// Message is one client-supplied turn in a chat request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a parsed chat submission. The client supplies the conversation
// id so retried submissions target the same conversation.
type Request struct {
	ConversationID uuid.UUID
	Messages       []Message
	ModelID        string
}

// lastUserText returns the text of the trailing user message, or "" when the
// request does not end with one.
func (r *Request) lastUserText() string {
	if len(r.Messages) == 0 {
		return ""
	}
	last := r.Messages[len(r.Messages)-1]
	if last.Role != string(conversation.RoleUser) {
		return ""
	}
	return last.Content
}

// toModelMessages converts persisted turns into the model's message shape.
// The stored history is already sanitized, so every tool-call segment has a
// matching result in a later tool turn.
func toModelMessages(turns []conversation.Turn) []*ai.Message {
	out := make([]*ai.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case conversation.RoleUser:
			out = append(out, ai.NewUserMessage(ai.NewTextPart(t.Text)))

		case conversation.RoleAssistant:
			parts := make([]*ai.Part, 0, len(t.Segments))
			for _, seg := range t.Segments {
				switch seg.Type {
				case conversation.SegmentText:
					parts = append(parts, ai.NewTextPart(seg.Text))
				case conversation.SegmentToolCall:
					parts = append(parts, ai.NewToolRequestPart(&ai.ToolRequest{
						Name:  seg.ToolCall.Name,
						Ref:   seg.ToolCall.CallID,
						Input: decodeJSON(seg.ToolCall.Args),
					}))
				}
			}
			if len(parts) > 0 {
				out = append(out, ai.NewMessage(ai.RoleModel, nil, parts...))
			}

		case conversation.RoleTool:
			parts := make([]*ai.Part, 0, len(t.Results))
			for _, r := range t.Results {
				parts = append(parts, ai.NewToolResponsePart(&ai.ToolResponse{
					Name:   r.ToolName,
					Ref:    r.CallID,
					Output: decodeJSON(r.Result),
				}))
			}
			if len(parts) > 0 {
				out = append(out, ai.NewMessage(ai.RoleTool, nil, parts...))
			}
		}
	}
	return out
}

// decodeJSON turns stored raw JSON back into the loose value shape the model
// layer works with. Undecodable content degrades to the raw string.
func decodeJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
