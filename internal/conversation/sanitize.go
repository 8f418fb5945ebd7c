package conversation

// Sanitize removes assistant tool-call segments that never received a
// matching tool result, so persisted history never references a call id a
// client could not resolve. Turns left without content are dropped entirely.
//
// The input order is preserved; the input slice is not modified.
func Sanitize(turns []Turn) []Turn {
	resolved := make(map[string]struct{})
	for _, t := range turns {
		if t.Role != RoleTool {
			continue
		}
		for _, r := range t.Results {
			resolved[r.CallID] = struct{}{}
		}
	}

	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case RoleAssistant:
			segments := make([]Segment, 0, len(t.Segments))
			for _, s := range t.Segments {
				if s.Type == SegmentToolCall {
					if _, ok := resolved[s.ToolCall.CallID]; !ok {
						continue
					}
				}
				segments = append(segments, s)
			}
			if len(segments) == 0 && t.Text == "" {
				continue
			}
			t.Segments = segments
			out = append(out, t)

		case RoleTool:
			if len(t.Results) == 0 {
				continue
			}
			out = append(out, t)

		default:
			out = append(out, t)
		}
	}
	return out
}
