package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costera/costera/internal/auth"
	"github.com/costera/costera/internal/document"
	"github.com/costera/costera/internal/stream"
	"github.com/costera/costera/internal/testutil"
)

// fakeGenerator scripts the generative sub-task model calls.
type fakeGenerator struct {
	chunks []string
	drafts []SuggestionDraft
	err    error
}

func (f *fakeGenerator) Stream(_ context.Context, _, _ string, onDelta func(string) error) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	var full string
	for _, c := range f.chunks {
		if err := onDelta(c); err != nil {
			return "", err
		}
		full += c
	}
	return full, nil
}

func (f *fakeGenerator) Suggestions(context.Context, string, string) ([]SuggestionDraft, error) {
	return f.drafts, f.err
}

// memDocStore is an in-memory DocumentStore.
type memDocStore struct {
	docs        map[uuid.UUID]document.Document
	suggestions []document.Suggestion
}

func newMemDocStore() *memDocStore {
	return &memDocStore{docs: make(map[uuid.UUID]document.Document)}
}

func (m *memDocStore) Create(_ context.Context, id uuid.UUID, title, content string, ownerID uuid.UUID) (*document.Document, error) {
	d := document.Document{ID: id, Title: title, Content: content, OwnerID: ownerID, CreatedAt: time.Now().UTC()}
	m.docs[id] = d
	return &d, nil
}

func (m *memDocStore) Get(_ context.Context, id uuid.UUID) (*document.Document, error) {
	d, ok := m.docs[id]
	if !ok {
		return nil, document.ErrNotFound
	}
	return &d, nil
}

func (m *memDocStore) UpdateContent(_ context.Context, id uuid.UUID, content string) error {
	d, ok := m.docs[id]
	if !ok {
		return document.ErrNotFound
	}
	d.Content = content
	m.docs[id] = d
	return nil
}

func (m *memDocStore) CreateSuggestions(_ context.Context, suggestions []document.Suggestion) error {
	m.suggestions = append(m.suggestions, suggestions...)
	return nil
}

// collectEmit returns an EmitFunc appending to the given slice.
func collectEmit(events *[]stream.Event) EmitFunc {
	return func(_ context.Context, ev stream.Event) error {
		*events = append(*events, ev)
		return nil
	}
}

func kinds(events []stream.Event) []stream.Kind {
	out := make([]stream.Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestCreateDocumentStreamsAndPersists(t *testing.T) {
	store := newMemDocStore()
	gen := &fakeGenerator{chunks: []string{"# Day 1\n", "Beach walk.\n", "Market visit."}}
	tool := &CreateDocumentTool{store: store, generator: gen, logger: testutil.DiscardLogger()}

	principal := &auth.Principal{ID: uuid.New()}
	var events []stream.Event

	out, err := tool.Execute(context.Background(), Invocation{
		CallID:    "c1",
		Principal: principal,
		Args:      json.RawMessage(`{"title":"Weekend itinerary"}`),
		Emit:      collectEmit(&events),
	})
	require.NoError(t, err)

	// Announcements first, then the text, then the sub-task finish.
	require.Equal(t, []stream.Kind{
		stream.KindDocumentID,
		stream.KindDocumentTitle,
		stream.KindClear,
		stream.KindTextDelta,
		stream.KindTextDelta,
		stream.KindTextDelta,
		stream.KindFinish,
	}, kinds(events))
	assert.Equal(t, "Weekend itinerary", events[1].Data)

	result, ok := out.(*documentResult)
	require.True(t, ok)
	id, err := uuid.Parse(result.ID)
	require.NoError(t, err)

	stored, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "# Day 1\nBeach walk.\nMarket visit.", stored.Content)
	assert.Equal(t, principal.ID, stored.OwnerID)
}

func TestCreateDocumentWithoutPrincipalSkipsPersistence(t *testing.T) {
	store := newMemDocStore()
	tool := &CreateDocumentTool{
		store:     store,
		generator: &fakeGenerator{chunks: []string{"text"}},
		logger:    testutil.DiscardLogger(),
	}

	var events []stream.Event
	_, err := tool.Execute(context.Background(), Invocation{
		CallID: "c1",
		Args:   json.RawMessage(`{"title":"Anonymous"}`),
		Emit:   collectEmit(&events),
	})
	require.NoError(t, err)

	// Streaming still happened, but nothing was stored.
	assert.NotEmpty(t, events)
	assert.Empty(t, store.docs)
}

func TestUpdateDocumentRewritesContent(t *testing.T) {
	store := newMemDocStore()
	owner := &auth.Principal{ID: uuid.New()}
	doc, err := store.Create(context.Background(), uuid.New(), "Packing list", "- towel", owner.ID)
	require.NoError(t, err)

	tool := &UpdateDocumentTool{
		store:     store,
		generator: &fakeGenerator{chunks: []string{"- towel\n", "- sunscreen"}},
		logger:    testutil.DiscardLogger(),
	}

	var events []stream.Event
	_, err = tool.Execute(context.Background(), Invocation{
		CallID:    "c2",
		Principal: owner,
		Args:      json.RawMessage(fmt.Sprintf(`{"id":%q,"description":"add sunscreen"}`, doc.ID)),
		Emit:      collectEmit(&events),
	})
	require.NoError(t, err)

	require.Equal(t, []stream.Kind{
		stream.KindClear,
		stream.KindTextDelta,
		stream.KindTextDelta,
		stream.KindFinish,
	}, kinds(events))

	stored, err := store.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "- towel\n- sunscreen", stored.Content)
}

func TestUpdateDocumentHidesForeignDocuments(t *testing.T) {
	store := newMemDocStore()
	doc, err := store.Create(context.Background(), uuid.New(), "Private", "content", uuid.New())
	require.NoError(t, err)

	tool := &UpdateDocumentTool{
		store:     store,
		generator: &fakeGenerator{chunks: []string{"x"}},
		logger:    testutil.DiscardLogger(),
	}

	var events []stream.Event
	_, err = tool.Execute(context.Background(), Invocation{
		Principal: &auth.Principal{ID: uuid.New()},
		Args:      json.RawMessage(fmt.Sprintf(`{"id":%q,"description":"change"}`, doc.ID)),
		Emit:      collectEmit(&events),
	})
	require.ErrorIs(t, err, document.ErrNotFound)
	assert.Empty(t, events)
}

func TestRequestSuggestionsEmitsAndPersistsBatch(t *testing.T) {
	store := newMemDocStore()
	owner := &auth.Principal{ID: uuid.New()}
	doc, err := store.Create(context.Background(), uuid.New(), "Essay", "First sentence. Second sentence.", owner.ID)
	require.NoError(t, err)

	// Seven drafts: the batch must be capped at five.
	var drafts []SuggestionDraft
	for i := 0; i < 7; i++ {
		drafts = append(drafts, SuggestionDraft{
			OriginalText:  fmt.Sprintf("original %d", i),
			SuggestedText: fmt.Sprintf("better %d", i),
			Description:   "clearer",
		})
	}

	tool := &RequestSuggestionsTool{
		store:     store,
		generator: &fakeGenerator{drafts: drafts},
		logger:    testutil.DiscardLogger(),
	}

	var events []stream.Event
	_, err = tool.Execute(context.Background(), Invocation{
		CallID:    "c3",
		Principal: owner,
		Args:      json.RawMessage(fmt.Sprintf(`{"documentId":%q}`, doc.ID)),
		Emit:      collectEmit(&events),
	})
	require.NoError(t, err)

	require.Len(t, events, maxSuggestions)
	for _, ev := range events {
		assert.Equal(t, stream.KindSuggestion, ev.Kind)
	}

	require.Len(t, store.suggestions, maxSuggestions)
	for _, sg := range store.suggestions {
		assert.Equal(t, doc.ID, sg.DocumentID)
		assert.Equal(t, doc.CreatedAt, sg.DocumentCreatedAt)
		assert.Equal(t, owner.ID, sg.OwnerID)
		assert.False(t, sg.Resolved)
	}
}

func TestRequestSuggestionsMissingDocument(t *testing.T) {
	store := newMemDocStore()
	tool := &RequestSuggestionsTool{
		store:     store,
		generator: &fakeGenerator{drafts: []SuggestionDraft{{OriginalText: "a"}}},
		logger:    testutil.DiscardLogger(),
	}

	var events []stream.Event
	_, err := tool.Execute(context.Background(), Invocation{
		Principal: &auth.Principal{ID: uuid.New()},
		Args:      json.RawMessage(fmt.Sprintf(`{"documentId":%q}`, uuid.New())),
		Emit:      collectEmit(&events),
	})
	require.ErrorIs(t, err, document.ErrNotFound)

	// No events, nothing persisted.
	assert.Empty(t, events)
	assert.Empty(t, store.suggestions)
}

func TestRequestSuggestionsEmptyDocument(t *testing.T) {
	store := newMemDocStore()
	owner := &auth.Principal{ID: uuid.New()}
	doc, err := store.Create(context.Background(), uuid.New(), "Empty", "", owner.ID)
	require.NoError(t, err)

	tool := &RequestSuggestionsTool{
		store:     store,
		generator: &fakeGenerator{drafts: []SuggestionDraft{{OriginalText: "a"}}},
		logger:    testutil.DiscardLogger(),
	}

	var events []stream.Event
	_, err = tool.Execute(context.Background(), Invocation{
		Principal: owner,
		Args:      json.RawMessage(fmt.Sprintf(`{"documentId":%q}`, doc.ID)),
		Emit:      collectEmit(&events),
	})
	require.ErrorIs(t, err, document.ErrNotFound)
	assert.Empty(t, events)
}
