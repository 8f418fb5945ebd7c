package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costera/costera/internal/document"
	"github.com/costera/costera/internal/testutil"
)

// stubTool is a minimal registry entry for dispatch tests.
type stubTool struct {
	name   Name
	result any
	err    error
}

func (s *stubTool) Name() Name          { return s.name }
func (s *stubTool) Definition() ai.Tool { return nil }
func (s *stubTool) Execute(context.Context, Invocation) (any, error) {
	return s.result, s.err
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry(testutil.DiscardLogger(),
		&stubTool{name: GetWeather, result: map[string]any{"temperatureC": 21.5}},
	)

	out := r.Execute(context.Background(), string(GetWeather), Invocation{})

	var decoded map[string]float64
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, 21.5, decoded["temperatureC"])
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry(testutil.DiscardLogger())

	out := r.Execute(context.Background(), "launchRockets", Invocation{})
	assert.JSONEq(t, `{"error":"unknown tool"}`, string(out))
}

func TestRegistryExecutionErrorBecomesResult(t *testing.T) {
	r := NewRegistry(testutil.DiscardLogger(),
		&stubTool{name: GetWeather, err: errors.New("forecast service returned status 503")},
	)

	out := r.Execute(context.Background(), string(GetWeather), Invocation{})
	assert.JSONEq(t, `{"error":"forecast service returned status 503"}`, string(out))
}

func TestRegistryDocumentNotFound(t *testing.T) {
	r := NewRegistry(testutil.DiscardLogger(),
		&stubTool{name: RequestSuggestions, err: document.ErrNotFound},
	)

	out := r.Execute(context.Background(), string(RequestSuggestions), Invocation{})
	assert.JSONEq(t, `{"error":"Document not found"}`, string(out))
}

func TestRegistryWrappedDocumentNotFound(t *testing.T) {
	wrapped := errors.Join(errors.New("loading"), document.ErrNotFound)
	r := NewRegistry(testutil.DiscardLogger(),
		&stubTool{name: UpdateDocument, err: wrapped},
	)

	out := r.Execute(context.Background(), string(UpdateDocument), Invocation{})
	assert.JSONEq(t, `{"error":"Document not found"}`, string(out))
}
