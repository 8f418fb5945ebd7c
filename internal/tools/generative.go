package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/costera/costera/internal/auth"
	"github.com/costera/costera/internal/document"
	"github.com/costera/costera/internal/stream"
)

// maxSuggestions caps one requestSuggestions batch.
const maxSuggestions = 5

// DocumentStore is the persistence surface the generative tools need.
// *document.Store satisfies it.
type DocumentStore interface {
	Create(ctx context.Context, id uuid.UUID, title, content string, ownerID uuid.UUID) (*document.Document, error)
	Get(ctx context.Context, id uuid.UUID) (*document.Document, error)
	UpdateContent(ctx context.Context, id uuid.UUID, content string) error
	CreateSuggestions(ctx context.Context, suggestions []document.Suggestion) error
}

const (
	documentSystemPrompt = "You are a writing assistant for visitors of the island. " +
		"Write the requested document in well-structured markdown. " +
		"Do not add any preamble or closing remarks, output only the document itself."

	suggestionSystemPrompt = "You are an editor. Propose at most five concrete improvements to the " +
		"document. For each, quote the exact original sentence, give the improved replacement and a " +
		"short reason."
)

// documentResult is the shape fed back to the model after a generative tool.
type documentResult struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

type createDocumentInput struct {
	Title string `json:"title" jsonschema_description:"Title of the document to create"`
}

// CreateDocumentTool generates a fresh document, streaming its text to the
// client while the turn is still in progress, then persists it.
type CreateDocumentTool struct {
	store     DocumentStore
	generator Generator
	logger    *slog.Logger
	def       ai.Tool
}

// NewCreateDocumentTool registers the createDocument declaration with g.
func NewCreateDocumentTool(g *genkit.Genkit, store DocumentStore, generator Generator, logger *slog.Logger) *CreateDocumentTool {
	if logger == nil {
		logger = slog.Default()
	}
	t := &CreateDocumentTool{store: store, generator: generator, logger: logger}
	t.def = genkit.DefineTool(g, string(CreateDocument),
		"Create a document for the user, for example an itinerary, a packing list or a trip summary. "+
			"The document content is written by a sub-task and shown to the user directly; do not repeat it.",
		func(tctx *ai.ToolContext, input createDocumentInput) (*documentResult, error) {
			res, err := t.run(tctx, input, Invocation{Emit: func(context.Context, stream.Event) error { return nil }})
			if err != nil {
				return nil, err
			}
			return res, nil
		})
	return t
}

func (t *CreateDocumentTool) Name() Name          { return CreateDocument }
func (t *CreateDocumentTool) Definition() ai.Tool { return t.def }

// Execute implements Tool.
func (t *CreateDocumentTool) Execute(ctx context.Context, inv Invocation) (any, error) {
	var input createDocumentInput
	if err := json.Unmarshal(inv.Args, &input); err != nil {
		return nil, fmt.Errorf("invalid createDocument arguments: %w", err)
	}
	return t.run(ctx, input, inv)
}

func (t *CreateDocumentTool) run(ctx context.Context, input createDocumentInput, inv Invocation) (*documentResult, error) {
	id := uuid.New()

	// Announce the document before any text so the client can open its
	// render surface, then clear it ahead of the first delta.
	if err := inv.Emit(ctx, stream.Event{Kind: stream.KindDocumentID, Data: id.String()}); err != nil {
		return nil, err
	}
	if err := inv.Emit(ctx, stream.Event{Kind: stream.KindDocumentTitle, Data: input.Title}); err != nil {
		return nil, err
	}
	if err := inv.Emit(ctx, stream.Event{Kind: stream.KindClear}); err != nil {
		return nil, err
	}

	content, err := t.generator.Stream(ctx, documentSystemPrompt,
		fmt.Sprintf("Write a document titled %q.", input.Title),
		func(delta string) error {
			return inv.Emit(ctx, stream.Event{Kind: stream.KindTextDelta, Text: delta})
		})
	if err != nil {
		return nil, err
	}
	if err := inv.Emit(ctx, stream.Event{Kind: stream.KindFinish}); err != nil {
		return nil, err
	}

	if inv.Principal == nil {
		t.logger.Debug("skipping document persistence, no principal", "id", id)
	} else if _, err := t.store.Create(ctx, id, input.Title, content, inv.Principal.ID); err != nil {
		return nil, err
	}

	return &documentResult{
		ID:      id.String(),
		Title:   input.Title,
		Message: "A document was created and is now visible to the user.",
	}, nil
}

type updateDocumentInput struct {
	ID          string `json:"id" jsonschema_description:"Id of the document to update"`
	Description string `json:"description" jsonschema_description:"Description of the changes to make"`
}

// UpdateDocumentTool rewrites an existing document in place, streaming the
// replacement text the same way createDocument does.
type UpdateDocumentTool struct {
	store     DocumentStore
	generator Generator
	logger    *slog.Logger
	def       ai.Tool
}

// NewUpdateDocumentTool registers the updateDocument declaration with g.
func NewUpdateDocumentTool(g *genkit.Genkit, store DocumentStore, generator Generator, logger *slog.Logger) *UpdateDocumentTool {
	if logger == nil {
		logger = slog.Default()
	}
	t := &UpdateDocumentTool{store: store, generator: generator, logger: logger}
	t.def = genkit.DefineTool(g, string(UpdateDocument),
		"Update an existing document according to the user's instructions. "+
			"The rewritten content is shown to the user directly; do not repeat it.",
		func(tctx *ai.ToolContext, input updateDocumentInput) (*documentResult, error) {
			return t.run(tctx, input, Invocation{Emit: func(context.Context, stream.Event) error { return nil }})
		})
	return t
}

func (t *UpdateDocumentTool) Name() Name          { return UpdateDocument }
func (t *UpdateDocumentTool) Definition() ai.Tool { return t.def }

// Execute implements Tool.
func (t *UpdateDocumentTool) Execute(ctx context.Context, inv Invocation) (any, error) {
	var input updateDocumentInput
	if err := json.Unmarshal(inv.Args, &input); err != nil {
		return nil, fmt.Errorf("invalid updateDocument arguments: %w", err)
	}
	return t.run(ctx, input, inv)
}

func (t *UpdateDocumentTool) run(ctx context.Context, input updateDocumentInput, inv Invocation) (*documentResult, error) {
	doc, err := t.loadOwned(ctx, input.ID, inv.Principal)
	if err != nil {
		return nil, err
	}

	if err := inv.Emit(ctx, stream.Event{Kind: stream.KindClear}); err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf("Rewrite the following document applying this change: %s\n\n%s",
		input.Description, doc.Content)
	content, err := t.generator.Stream(ctx, documentSystemPrompt, prompt,
		func(delta string) error {
			return inv.Emit(ctx, stream.Event{Kind: stream.KindTextDelta, Text: delta})
		})
	if err != nil {
		return nil, err
	}
	if err := inv.Emit(ctx, stream.Event{Kind: stream.KindFinish}); err != nil {
		return nil, err
	}

	if err := t.store.UpdateContent(ctx, doc.ID, content); err != nil {
		return nil, err
	}

	return &documentResult{
		ID:      doc.ID.String(),
		Title:   doc.Title,
		Message: "The document has been updated.",
	}, nil
}

// loadOwned fetches a document and hides documents of other principals
// behind the same not-found error.
func (t *UpdateDocumentTool) loadOwned(ctx context.Context, rawID string, p *auth.Principal) (*document.Document, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, document.ErrNotFound
	}
	doc, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p != nil && doc.OwnerID != p.ID {
		return nil, document.ErrNotFound
	}
	return doc, nil
}

// suggestionPayload is the wire shape of one suggestion event.
type suggestionPayload struct {
	ID            string `json:"id"`
	DocumentID    string `json:"documentId"`
	OriginalText  string `json:"originalText"`
	SuggestedText string `json:"suggestedText"`
	Description   string `json:"description"`
	Resolved      bool   `json:"resolved"`
}

type requestSuggestionsInput struct {
	DocumentID string `json:"documentId" jsonschema_description:"Id of the document to request suggestions for"`
}

// RequestSuggestionsTool produces a bounded batch of edit suggestions for an
// existing document, emitting each one as it becomes available.
type RequestSuggestionsTool struct {
	store     DocumentStore
	generator Generator
	logger    *slog.Logger
	def       ai.Tool
}

// NewRequestSuggestionsTool registers the requestSuggestions declaration with g.
func NewRequestSuggestionsTool(g *genkit.Genkit, store DocumentStore, generator Generator, logger *slog.Logger) *RequestSuggestionsTool {
	if logger == nil {
		logger = slog.Default()
	}
	t := &RequestSuggestionsTool{store: store, generator: generator, logger: logger}
	t.def = genkit.DefineTool(g, string(RequestSuggestions),
		"Request writing suggestions for an existing document.",
		func(tctx *ai.ToolContext, input requestSuggestionsInput) (*documentResult, error) {
			return t.run(tctx, input, Invocation{Emit: func(context.Context, stream.Event) error { return nil }})
		})
	return t
}

func (t *RequestSuggestionsTool) Name() Name          { return RequestSuggestions }
func (t *RequestSuggestionsTool) Definition() ai.Tool { return t.def }

// Execute implements Tool.
func (t *RequestSuggestionsTool) Execute(ctx context.Context, inv Invocation) (any, error) {
	var input requestSuggestionsInput
	if err := json.Unmarshal(inv.Args, &input); err != nil {
		return nil, fmt.Errorf("invalid requestSuggestions arguments: %w", err)
	}
	return t.run(ctx, input, inv)
}

func (t *RequestSuggestionsTool) run(ctx context.Context, input requestSuggestionsInput, inv Invocation) (*documentResult, error) {
	id, err := uuid.Parse(input.DocumentID)
	if err != nil {
		return nil, document.ErrNotFound
	}
	doc, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Principal != nil && doc.OwnerID != inv.Principal.ID {
		return nil, document.ErrNotFound
	}
	// A document without content has nothing to suggest against.
	if doc.Content == "" {
		return nil, document.ErrNotFound
	}

	drafts, err := t.generator.Suggestions(ctx, suggestionSystemPrompt, doc.Content)
	if err != nil {
		return nil, err
	}
	if len(drafts) > maxSuggestions {
		drafts = drafts[:maxSuggestions]
	}

	suggestions := make([]document.Suggestion, 0, len(drafts))
	for _, d := range drafts {
		sg := document.Suggestion{
			ID:                uuid.New(),
			DocumentID:        doc.ID,
			DocumentCreatedAt: doc.CreatedAt,
			OriginalText:      d.OriginalText,
			SuggestedText:     d.SuggestedText,
			Description:       d.Description,
		}
		if inv.Principal != nil {
			sg.OwnerID = inv.Principal.ID
		}
		payload := suggestionPayload{
			ID:            sg.ID.String(),
			DocumentID:    sg.DocumentID.String(),
			OriginalText:  sg.OriginalText,
			SuggestedText: sg.SuggestedText,
			Description:   sg.Description,
		}
		if err := inv.Emit(ctx, stream.Event{Kind: stream.KindSuggestion, Data: payload}); err != nil {
			return nil, err
		}
		suggestions = append(suggestions, sg)
	}

	if inv.Principal == nil {
		t.logger.Debug("skipping suggestion persistence, no principal", "document", doc.ID)
	} else if err := t.store.CreateSuggestions(ctx, suggestions); err != nil {
		return nil, err
	}

	return &documentResult{
		ID:      doc.ID.String(),
		Title:   doc.Title,
		Message: fmt.Sprintf("Added %d suggestions to the document.", len(suggestions)),
	}, nil
}
