// Package tools implements the fixed tool set the model may invoke: a pure
// weather lookup, structured catalog searches, and generative sub-tasks that
// create or edit documents and produce suggestion batches.
//
// The registry is a closed mapping: every tool the service knows is a typed
// Name constant wired at construction. The model's free-form tool-name string
// is looked up once at the boundary; an unknown name yields an error result
// instead of crashing the turn.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/firebase/genkit/go/ai"

	"github.com/costera/costera/internal/auth"
	"github.com/costera/costera/internal/document"
	"github.com/costera/costera/internal/stream"
)

// Name identifies a registered tool.
type Name string

// The closed tool set.
const (
	GetWeather         Name = "getWeather"
	SearchEvents       Name = "searchEvents"
	SearchMarkets      Name = "searchMarkets"
	SearchActivities   Name = "searchActivities"
	GetActivity        Name = "getActivity"
	CreateDocument     Name = "createDocument"
	UpdateDocument     Name = "updateDocument"
	RequestSuggestions Name = "requestSuggestions"
)

// EmitFunc delivers a tool's side-channel events, already tagged with the
// originating call id by the turn controller.
type EmitFunc func(ctx context.Context, ev stream.Event) error

// Invocation carries everything a tool execution needs.
type Invocation struct {
	CallID    string
	Principal *auth.Principal // nil when unauthenticated; persistence is skipped
	Args      json.RawMessage
	Emit      EmitFunc // never nil; the registry installs a no-op when absent
}

// Tool is one entry of the registry.
type Tool interface {
	// Name returns the tool's registry identifier.
	Name() Name

	// Definition returns the genkit declaration sent to the model.
	Definition() ai.Tool

	// Execute runs the tool. Returned values must be JSON-marshalable;
	// errors are converted to {"error": ...} results by the registry so the
	// model can narrate failures instead of the turn aborting.
	Execute(ctx context.Context, inv Invocation) (any, error)
}

// ErrorResult is the stable failure shape fed back to the model.
type ErrorResult struct {
	Error string `json:"error"`
}

// Registry holds the closed tool set.
type Registry struct {
	byName map[Name]Tool
	refs   []ai.ToolRef
	logger *slog.Logger
}

// NewRegistry builds the registry from the given tools.
func NewRegistry(logger *slog.Logger, toolset ...Tool) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		byName: make(map[Name]Tool, len(toolset)),
		logger: logger,
	}
	for _, t := range toolset {
		r.byName[t.Name()] = t
		r.refs = append(r.refs, t.Definition())
	}
	return r
}

// Definitions returns the tool declarations for the model call.
func (r *Registry) Definitions() []ai.ToolRef {
	return r.refs
}

// Execute dispatches one tool call and always returns a JSON result.
// Unknown tools and execution failures become {"error": ...} results; only
// marshaling problems surface as errors.
func (r *Registry) Execute(ctx context.Context, name string, inv Invocation) json.RawMessage {
	if inv.Emit == nil {
		inv.Emit = func(context.Context, stream.Event) error { return nil }
	}

	tool, ok := r.byName[Name(name)]
	if !ok {
		r.logger.Warn("model requested unknown tool", "tool", name)
		return mustMarshal(ErrorResult{Error: "unknown tool"})
	}

	result, err := tool.Execute(ctx, inv)
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			return mustMarshal(ErrorResult{Error: "Document not found"})
		}
		r.logger.Warn("tool execution failed", "tool", name, "error", err)
		return mustMarshal(ErrorResult{Error: err.Error()})
	}

	data, err := json.Marshal(result)
	if err != nil {
		r.logger.Error("tool result not marshalable", "tool", name, "error", err)
		return mustMarshal(ErrorResult{Error: "internal tool error"})
	}
	return data
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// ErrorResult contains only strings; this cannot fail.
		return json.RawMessage(`{"error":"internal tool error"}`)
	}
	return data
}
