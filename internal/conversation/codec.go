package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Encode converts a turn's content to its persisted string form.
//
// Rules:
//   - user turn: plain text stored as-is
//   - assistant turn: JSON array of segments; a turn that is plain text only
//     is normalized to a single text segment first
//   - tool turn: JSON array of tool-result entries
func Encode(t *Turn) (string, error) {
	switch t.Role {
	case RoleUser:
		return t.Text, nil

	case RoleAssistant:
		segments := t.Segments
		if len(segments) == 0 && t.Text != "" {
			segments = []Segment{TextSegment(t.Text)}
		}
		data, err := json.Marshal(segments)
		if err != nil {
			return "", fmt.Errorf("encoding assistant segments: %w", err)
		}
		return string(data), nil

	case RoleTool:
		results := t.Results
		for i := range results {
			results[i].Type = "tool-result"
		}
		data, err := json.Marshal(results)
		if err != nil {
			return "", fmt.Errorf("encoding tool results: %w", err)
		}
		return string(data), nil

	default:
		return "", fmt.Errorf("unknown role %q", t.Role)
	}
}

// Decode populates a turn's content from its persisted string form.
// Decode never fails for display paths: malformed stored content degrades to
// a plain rendering (assistant: one text segment carrying the raw string;
// tool: no results) rather than erroring.
func Decode(role Role, stored string) Turn {
	t := Turn{Role: role}

	switch role {
	case RoleUser:
		t.Text = stored

	case RoleAssistant:
		var segments []Segment
		if err := json.Unmarshal([]byte(stored), &segments); err != nil || !validSegments(segments) {
			if strings.TrimSpace(stored) == "" {
				return t
			}
			t.Segments = []Segment{TextSegment(stored)}
			return t
		}
		t.Segments = segments

	case RoleTool:
		var results []ToolResult
		if err := json.Unmarshal([]byte(stored), &results); err != nil {
			return t
		}
		t.Results = results
	}

	return t
}

// validSegments rejects decoded values that parsed as JSON but are not
// segment lists (e.g. an assistant turn stored as a bare JSON string).
func validSegments(segments []Segment) bool {
	for _, s := range segments {
		switch s.Type {
		case SegmentText:
		case SegmentToolCall:
			if s.ToolCall == nil {
				return false
			}
		default:
			return false
		}
	}
	return true
}
