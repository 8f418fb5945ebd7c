package stream

import (
	"context"
	"strings"
	"sync"
)

// BufferedSink accumulates the full event sequence in memory. The caller
// blocks until generation finishes, then the delivery adapter serializes the
// sanitized final turns into one JSON body; the buffered events back the
// delivery-parity guarantee between web and mobile.
type BufferedSink struct {
	mu       sync.Mutex
	events   []Event
	finished bool
}

// NewBufferedSink creates an empty buffered sink.
func NewBufferedSink() *BufferedSink {
	return &BufferedSink{}
}

// Emit appends the event. A no-op once finished.
func (s *BufferedSink) Emit(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return nil
	}
	s.events = append(s.events, ev)
	return nil
}

// Finish records the terminal finish event and seals the sink.
func (s *BufferedSink) Finish(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return nil
	}
	s.events = append(s.events, Event{Kind: KindFinish})
	s.finished = true
	return nil
}

// Events returns a copy of the accumulated sequence.
func (s *BufferedSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]Event, len(s.events))
	copy(cp, s.events)
	return cp
}

// Text concatenates the accumulated text deltas for the given call id
// (empty call id = top-level assistant text).
func (s *BufferedSink) Text(callID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, ev := range s.events {
		if ev.Kind == KindTextDelta && ev.CallID == callID {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}
