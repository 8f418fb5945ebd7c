// Package stream abstracts "a sequence of out-of-band UI events plus text
// deltas" away from the transport. The turn controller emits the same event
// sequence regardless of client; the two Sink implementations differ only in
// delivery: LiveSink flushes each event over SSE as it is produced,
// BufferedSink accumulates everything for a single JSON response.
package stream

import "context"

// Kind names a controller-level event.
type Kind string

// Controller-level event kinds.
const (
	// KindTextDelta carries a chunk of assistant (or generative tool) text.
	KindTextDelta Kind = "delta"

	// KindToolCall announces that a tool invocation started.
	KindToolCall Kind = "tool-call"

	// KindToolResult announces that a tool invocation resolved.
	KindToolResult Kind = "tool-result"

	// KindDocumentID announces the id of a newly created document.
	KindDocumentID Kind = "document-id"

	// KindDocumentTitle announces a document title.
	KindDocumentTitle Kind = "document-title"

	// KindClear tells the client to reset its render buffer before the
	// generative tool's text deltas arrive.
	KindClear Kind = "clear"

	// KindSuggestion carries one suggestion as it is produced.
	KindSuggestion Kind = "suggestion"

	// KindFinish marks the end of a generation (whole turn or one
	// generative tool, distinguished by CallID).
	KindFinish Kind = "finish"

	// KindError carries a terminal error once streaming has begun.
	KindError Kind = "error"
)

// Event is a transient unit of delivery. It lives for the duration of one
// request and is never persisted.
type Event struct {
	Kind Kind `json:"kind"`

	// CallID tags events emitted from inside a tool execution with the
	// originating tool call. Empty for top-level assistant deltas.
	CallID string `json:"callId,omitempty"`

	// Text is the payload for KindTextDelta.
	Text string `json:"text,omitempty"`

	// Data is the structured payload for annotation events.
	Data any `json:"data,omitempty"`
}

// Sink receives the controller's event sequence.
//
// Emit after Finish, or after the underlying transport is gone, must be a
// no-op rather than an error: in-flight tool executions are allowed to
// complete after a client disconnect, and their events are simply dropped.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
	Finish(ctx context.Context) error
}
