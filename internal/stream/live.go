package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// LiveSink streams events to the client as SSE frames, one named event per
// controller event, flushed immediately.
//
// Safe for concurrent use: sibling tool calls within a step emit from
// separate goroutines.
type LiveSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

// NewLiveSink prepares w for SSE streaming and sets the stream headers.
// Returns an error if the writer cannot flush incrementally.
func NewLiveSink(w http.ResponseWriter) (*LiveSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &LiveSink{w: w, flusher: flusher}, nil
}

// Emit writes one SSE frame: "event: <kind>\ndata: <json>\n\n".
// After the client disconnects or Finish is called, Emit is a no-op.
func (s *LiveSink) Emit(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	select {
	case <-ctx.Done():
		s.closed = true
		return nil
	default:
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
		// Write failure means the connection is gone; drop further events.
		s.closed = true
		return nil
	}
	s.flusher.Flush()
	return nil
}

// Finish emits the terminal finish frame and closes the sink.
func (s *LiveSink) Finish(ctx context.Context) error {
	if err := s.Emit(ctx, Event{Kind: KindFinish}); err != nil {
		return err
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
