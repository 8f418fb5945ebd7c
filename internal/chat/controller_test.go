package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costera/costera/internal/auth"
	"github.com/costera/costera/internal/config"
	"github.com/costera/costera/internal/conversation"
	"github.com/costera/costera/internal/document"
	"github.com/costera/costera/internal/stream"
	"github.com/costera/costera/internal/testutil"
	"github.com/costera/costera/internal/tools"
)

// stubGenerator scripts the generative sub-task calls made by the document
// tools during a turn.
type stubGenerator struct {
	chunks []string
	drafts []tools.SuggestionDraft
}

func (s *stubGenerator) Stream(_ context.Context, _, _ string, onDelta func(string) error) (string, error) {
	var full string
	for _, c := range s.chunks {
		if err := onDelta(c); err != nil {
			return "", err
		}
		full += c
	}
	return full, nil
}

func (s *stubGenerator) Suggestions(context.Context, string, string) ([]tools.SuggestionDraft, error) {
	return s.drafts, nil
}

// testEnv wires a controller against a real database, the mock model and a
// stubbed weather provider.
type testEnv struct {
	g             *genkit.Genkit
	aiCfg         config.AI
	pool          *pgxpool.Pool
	mock          *testutil.MockLLM
	registry      *tools.Registry
	conversations *conversation.Store
	documents     *document.Store
	generator     *stubGenerator
	controller    *Controller
}

func newTestEnv(t *testing.T, stepBudget int) *testEnv {
	t.Helper()

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	g := genkit.Init(ctx)

	mock := testutil.NewMockLLM("How can I help you plan your stay?")
	mock.RegisterModel(g)

	weatherSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"current":{"temperature_2m":24.3,"wind_speed_10m":11.2,"weather_code":2}}`))
	}))
	t.Cleanup(weatherSrv.Close)

	logger := testutil.DiscardLogger()
	conversations := conversation.NewStore(db.Pool, logger)
	documents := document.NewStore(db.Pool, logger)
	generator := &stubGenerator{}

	registry := tools.NewRegistry(logger,
		tools.NewWeatherTool(g, tools.NewWeatherClient(weatherSrv.URL)),
		tools.NewCreateDocumentTool(g, documents, generator, logger),
		tools.NewUpdateDocumentTool(g, documents, generator, logger),
		tools.NewRequestSuggestionsTool(g, documents, generator, logger),
	)

	aiCfg := config.AI{
		Models:       []string{testutil.ModelName},
		DefaultModel: testutil.ModelName,
		StepBudget:   stepBudget,
	}

	return &testEnv{
		g:             g,
		aiCfg:         aiCfg,
		pool:          db.Pool,
		mock:          mock,
		registry:      registry,
		conversations: conversations,
		documents:     documents,
		generator:     generator,
		controller:    NewController(g, aiCfg, conversations, registry, logger),
	}
}

func userRequest(text string) Request {
	return Request{
		ConversationID: uuid.New(),
		Messages:       []Message{{Role: "user", Content: text}},
	}
}

func findKind(events []stream.Event, kind stream.Kind) *stream.Event {
	for i := range events {
		if events[i].Kind == kind {
			return &events[i]
		}
	}
	return nil
}

func eventDataJSON(t *testing.T, ev *stream.Event) string {
	t.Helper()
	data, err := json.Marshal(ev.Data)
	require.NoError(t, err)
	return string(data)
}

func TestRunWeatherToolRoundTrip(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := context.Background()

	env.mock.AddToolResponse("weather in palma", []*ai.ToolRequest{{
		Name:  string(tools.GetWeather),
		Ref:   "call-1",
		Input: map[string]any{"latitude": 39.57, "longitude": 2.65},
	}}, "")
	env.mock.AddResponse("weather in palma", "Around 24 degrees with a light breeze.")

	principal := &auth.Principal{ID: uuid.New()}
	req := userRequest("What's the weather in Palma today?")
	sink := stream.NewBufferedSink()

	produced, err := env.controller.Run(ctx, principal, req, sink)
	require.NoError(t, err)

	// Two model calls: one requesting the tool, one answering with text.
	assert.Len(t, env.mock.Calls(), 2)

	events := sink.Events()
	call := findKind(events, stream.KindToolCall)
	require.NotNil(t, call)
	assert.Equal(t, "call-1", call.CallID)

	result := findKind(events, stream.KindToolResult)
	require.NotNil(t, result)
	assert.Equal(t, "call-1", result.CallID)
	assert.Contains(t, eventDataJSON(t, result), "temperatureC")

	assert.Equal(t, stream.KindFinish, events[len(events)-1].Kind)
	assert.Equal(t, "Around 24 degrees with a light breeze.", sink.Text(""))

	// Produced: assistant tool call, tool result, assistant text.
	require.Len(t, produced, 3)
	assert.Equal(t, conversation.RoleAssistant, produced[0].Role)
	assert.Equal(t, conversation.RoleTool, produced[1].Role)
	assert.Equal(t, conversation.RoleAssistant, produced[2].Role)

	turns, err := env.conversations.Turns(ctx, req.ConversationID)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, conversation.RoleUser, turns[0].Role)
	assert.Equal(t, "What's the weather in Palma today?", turns[0].Text)
	assert.Equal(t, conversation.RoleAssistant, turns[1].Role)
	require.NotNil(t, turns[1].Segments[0].ToolCall)
	assert.Equal(t, "call-1", turns[1].Segments[0].ToolCall.CallID)
	assert.Equal(t, conversation.RoleTool, turns[2].Role)
	assert.Equal(t, "call-1", turns[2].Results[0].CallID)

	conv, err := env.conversations.Get(ctx, req.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, principal.ID, conv.OwnerID)
	assert.Equal(t, "What's the weather in Palma today?", conv.Title)
}

func TestRunValidation(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := context.Background()
	principal := &auth.Principal{ID: uuid.New()}

	t.Run("unauthenticated", func(t *testing.T) {
		_, err := env.controller.Run(ctx, nil, userRequest("hello"), stream.NewBufferedSink())
		require.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("unknown model", func(t *testing.T) {
		req := userRequest("hello")
		req.ModelID = "googleai/not-configured"
		_, err := env.controller.Run(ctx, principal, req, stream.NewBufferedSink())
		require.ErrorIs(t, err, ErrModelNotFound)
	})

	t.Run("no trailing user message", func(t *testing.T) {
		req := Request{
			ConversationID: uuid.New(),
			Messages:       []Message{{Role: "assistant", Content: "hi"}},
		}
		_, err := env.controller.Run(ctx, principal, req, stream.NewBufferedSink())
		require.ErrorIs(t, err, ErrNoUserMessage)
	})

	t.Run("empty request", func(t *testing.T) {
		_, err := env.controller.Run(ctx, principal, Request{}, stream.NewBufferedSink())
		require.ErrorIs(t, err, ErrNoUserMessage)
	})

	// None of the rejected requests may have touched the model.
	assert.Empty(t, env.mock.Calls())
}

func TestRunRejectsForeignConversation(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := context.Background()

	owner := uuid.New()
	convID := uuid.New()
	_, err := env.conversations.Create(ctx, convID, owner, "owner's chat")
	require.NoError(t, err)

	req := userRequest("tell me about my trip")
	req.ConversationID = convID
	intruder := &auth.Principal{ID: uuid.New()}

	_, err = env.controller.Run(ctx, intruder, req, stream.NewBufferedSink())
	require.ErrorIs(t, err, ErrNotOwner)

	// Nothing generated, nothing stored.
	assert.Empty(t, env.mock.Calls())
	turns, err := env.conversations.Turns(ctx, convID)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestRunCreateDocumentStreams(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := context.Background()

	env.generator.chunks = []string{"# Day 1\n", "Morning market, ", "afternoon beach."}
	env.mock.AddToolResponse("itinerary", []*ai.ToolRequest{{
		Name:  string(tools.CreateDocument),
		Ref:   "doc-1",
		Input: map[string]any{"title": "Weekend itinerary"},
	}}, "")
	env.mock.AddResponse("itinerary", "Your itinerary is ready.")

	principal := &auth.Principal{ID: uuid.New()}
	req := userRequest("Please write me a weekend itinerary")
	sink := stream.NewBufferedSink()

	_, err := env.controller.Run(ctx, principal, req, sink)
	require.NoError(t, err)

	events := sink.Events()

	// The document announcement sequence, all tagged with the call id.
	var docKinds []stream.Kind
	for _, ev := range events {
		if ev.CallID == "doc-1" && ev.Kind != stream.KindToolCall && ev.Kind != stream.KindToolResult {
			docKinds = append(docKinds, ev.Kind)
		}
	}
	assert.Equal(t, []stream.Kind{
		stream.KindDocumentID,
		stream.KindDocumentTitle,
		stream.KindClear,
		stream.KindTextDelta,
		stream.KindTextDelta,
		stream.KindTextDelta,
		stream.KindFinish,
	}, docKinds)

	// The document's deltas are routed by call id, apart from the turn text.
	assert.Equal(t, "# Day 1\nMorning market, afternoon beach.", sink.Text("doc-1"))
	assert.Equal(t, "Your itinerary is ready.", sink.Text(""))

	// The tool result names the persisted document.
	result := findKind(events, stream.KindToolResult)
	require.NotNil(t, result)
	var res struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(eventDataJSON(t, result)), &res))
	docID, err := uuid.Parse(res.ID)
	require.NoError(t, err)

	doc, err := env.documents.Get(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, "Weekend itinerary", doc.Title)
	assert.Equal(t, "# Day 1\nMorning market, afternoon beach.", doc.Content)
	assert.Equal(t, principal.ID, doc.OwnerID)
}

func TestRunStepBudgetExhaustion(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()

	// Every model call requests another tool; the second request lands on the
	// final step and must not be executed or persisted.
	env.mock.AddToolResponse("forecast", []*ai.ToolRequest{{
		Name:  string(tools.GetWeather),
		Ref:   "call-1",
		Input: map[string]any{"latitude": 39.57, "longitude": 2.65},
	}}, "")
	env.mock.AddToolResponse("forecast", []*ai.ToolRequest{{
		Name:  string(tools.GetWeather),
		Ref:   "call-2",
		Input: map[string]any{"latitude": 39.57, "longitude": 2.65},
	}}, "")

	principal := &auth.Principal{ID: uuid.New()}
	req := userRequest("forecast for the whole week please")

	produced, err := env.controller.Run(ctx, principal, req, stream.NewBufferedSink())
	require.NoError(t, err)
	assert.Len(t, env.mock.Calls(), 2)

	turns, err := env.conversations.Turns(ctx, req.ConversationID)
	require.NoError(t, err)

	// Every persisted tool call has a matching result.
	resolved := map[string]bool{}
	for _, turn := range append(turns, produced...) {
		for _, r := range turn.Results {
			resolved[r.CallID] = true
		}
	}
	for _, turn := range turns {
		for _, seg := range turn.Segments {
			if seg.ToolCall != nil {
				assert.True(t, resolved[seg.ToolCall.CallID], "dangling tool call %s", seg.ToolCall.CallID)
			}
		}
	}

	// user, assistant(call-1), tool(result-1); the dangling second call is
	// stripped, and its emptied assistant turn with it.
	require.Len(t, turns, 3)
	assert.Equal(t, conversation.RoleTool, turns[2].Role)
	assert.Equal(t, "call-1", turns[2].Results[0].CallID)
}

// hidingDB makes the conversation lookup miss once so the subsequent insert
// collides with the existing row, reproducing two concurrent submissions of
// the same new conversation.
type hidingDB struct {
	conversation.DB
	mu   sync.Mutex
	hide bool
}

func (d *hidingDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	d.mu.Lock()
	if d.hide && strings.HasPrefix(strings.TrimSpace(sql), "SELECT") {
		d.hide = false
		d.mu.Unlock()
		return noRow{}
	}
	d.mu.Unlock()
	return d.DB.QueryRow(ctx, sql, args...)
}

type noRow struct{}

func (noRow) Scan(...any) error { return pgx.ErrNoRows }

func TestRunDuplicateConversationIsBenign(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := context.Background()

	principal := &auth.Principal{ID: uuid.New()}
	convID := uuid.New()

	// The "other" submission already created the conversation.
	_, err := env.conversations.Create(ctx, convID, principal.ID, "weather chat")
	require.NoError(t, err)

	logger := testutil.DiscardLogger()
	racing := conversation.NewStore(&hidingDB{DB: env.pool, hide: true}, logger)
	controller := NewController(env.g, env.aiCfg, racing, env.registry, logger)

	req := userRequest("what about tomorrow?")
	req.ConversationID = convID
	sink := stream.NewBufferedSink()

	produced, err := controller.Run(ctx, principal, req, sink)
	require.NoError(t, err)
	assert.Empty(t, produced)

	// The loser records the user turn and stops; no generation ran.
	assert.Empty(t, env.mock.Calls())

	turns, err := env.conversations.Turns(ctx, convID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, conversation.RoleUser, turns[0].Role)
	assert.Equal(t, "what about tomorrow?", turns[0].Text)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, stream.KindFinish, events[0].Kind)
}

func TestRunSuggestionsForMissingDocument(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := context.Background()

	missingID := uuid.New()
	env.mock.AddToolResponse("suggestions", []*ai.ToolRequest{{
		Name:  string(tools.RequestSuggestions),
		Ref:   "sug-1",
		Input: map[string]any{"documentId": missingID.String()},
	}}, "")
	env.mock.AddResponse("suggestions", "I could not find that document.")

	principal := &auth.Principal{ID: uuid.New()}
	req := userRequest("any suggestions for my document?")
	sink := stream.NewBufferedSink()

	_, err := env.controller.Run(ctx, principal, req, sink)
	require.NoError(t, err)

	events := sink.Events()
	result := findKind(events, stream.KindToolResult)
	require.NotNil(t, result)
	assert.JSONEq(t, `{"error":"Document not found"}`, eventDataJSON(t, result))
	assert.Nil(t, findKind(events, stream.KindSuggestion))

	// The failure is fed back to the model as a result, and the turn still
	// concludes with text.
	assert.Equal(t, "I could not find that document.", sink.Text(""))

	suggestions, err := env.documents.SuggestionsByDocument(ctx, missingID)
	require.NoError(t, err)
	assert.Empty(t, suggestions)
}
