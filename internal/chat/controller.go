// Package chat drives one conversation turn end to end: validate the
// request, get or create the conversation, persist the user turn, run the
// model with the tool registry under a bounded step budget, execute requested
// tools, and persist the sanitized outcome.
//
// The controller is transport-agnostic: it emits events into a stream.Sink
// and leaves delivery (SSE vs buffered JSON) to the API layer.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/errgroup"

	"github.com/costera/costera/internal/auth"
	"github.com/costera/costera/internal/config"
	"github.com/costera/costera/internal/conversation"
	"github.com/costera/costera/internal/stream"
	"github.com/costera/costera/internal/tools"
)

// Sentinel errors mapped to HTTP statuses by the API layer.
var (
	// ErrUnauthenticated indicates no principal resolved for the request.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotOwner indicates the conversation belongs to another principal.
	ErrNotOwner = errors.New("conversation belongs to another user")

	// ErrModelNotFound indicates the requested model id is not configured.
	ErrModelNotFound = errors.New("model not found")

	// ErrNoUserMessage indicates the request does not end with a non-empty
	// user message.
	ErrNoUserMessage = errors.New("request must end with a user message")
)

const conciergeSystemPrompt = "You are Costera, the island's visitor concierge. " +
	"Help guests plan their stay: weather, events, markets, activities and services. " +
	"Use the available tools for factual answers instead of guessing. " +
	"Keep responses short and friendly."

// Controller runs conversation turns.
type Controller struct {
	g             *genkit.Genkit
	ai            config.AI
	conversations *conversation.Store
	registry      *tools.Registry
	logger        *slog.Logger
}

// NewController wires a turn controller.
func NewController(g *genkit.Genkit, aiCfg config.AI, conversations *conversation.Store, registry *tools.Registry, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		g:             g,
		ai:            aiCfg,
		conversations: conversations,
		registry:      registry,
		logger:        logger,
	}
}

// Run executes one turn, emitting events into sink as they are produced,
// and returns the sanitized turns persisted for this request (the user turn
// excluded).
//
// Validation and authorization errors are returned before anything is
// emitted or persisted. Once the user turn is stored, the turn runs to
// completion or to a streamed error event; the user turn is never rolled
// back.
func (c *Controller) Run(ctx context.Context, principal *auth.Principal, req Request, sink stream.Sink) ([]conversation.Turn, error) {
	if principal == nil {
		return nil, ErrUnauthenticated
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = c.ai.DefaultModel
	}
	if !c.ai.ModelAllowed(modelID) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
	}

	userText := req.lastUserText()
	if userText == "" {
		return nil, ErrNoUserMessage
	}

	// Clients normally supply the conversation id so retries are idempotent;
	// tolerate its absence by minting one.
	if req.ConversationID == uuid.Nil {
		req.ConversationID = uuid.New()
	}

	conv, err := c.conversations.Get(ctx, req.ConversationID)
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		conv, err = c.conversations.Create(ctx, req.ConversationID, principal.ID, conversation.TitleFromText(userText))
		if isUniqueViolation(err) {
			// A concurrent submission of the same conversation won the
			// insert. Record this request's user turn and stop; the winner
			// carries the generation.
			c.logger.Info("conversation created concurrently, skipping generation", "conversation_id", req.ConversationID)
			if err := c.appendUserTurn(ctx, req.ConversationID, userText); err != nil {
				return nil, err
			}
			return nil, sink.Finish(ctx)
		}
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if conv.OwnerID != principal.ID {
			return nil, fmt.Errorf("%w: %s", ErrNotOwner, conv.ID)
		}
	}

	if err := c.appendUserTurn(ctx, conv.ID, userText); err != nil {
		return nil, err
	}

	history, err := c.conversations.Turns(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	produced, genErr := c.generate(ctx, principal, modelID, toModelMessages(history), sink)

	// Persist whatever the generation produced, even on failure; the
	// sanitizer strips tool calls that never resolved.
	produced = conversation.Sanitize(produced)
	if len(produced) > 0 {
		if err := c.conversations.AppendTurns(ctx, conv.ID, produced); err != nil {
			if genErr == nil {
				genErr = err
			} else {
				c.logger.Error("persisting generated turns failed", "conversation_id", conv.ID, "error", err)
			}
		}
	}

	if genErr != nil {
		_ = sink.Emit(ctx, stream.Event{Kind: stream.KindError, Text: "generation failed"})
		return produced, genErr
	}
	return produced, sink.Finish(ctx)
}

// appendUserTurn stores the request's user message. At-least-once: a
// duplicate submission may store it twice, which downstream tolerates.
func (c *Controller) appendUserTurn(ctx context.Context, conversationID uuid.UUID, text string) error {
	return c.conversations.AppendTurn(ctx, &conversation.Turn{
		ConversationID: conversationID,
		Role:           conversation.RoleUser,
		Text:           text,
	})
}

// toolCallPayload is the wire shape of a tool-call announcement event.
type toolCallPayload struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// generate runs the bounded model and tool loop and returns the turns it
// produced, in order, unsanitized.
func (c *Controller) generate(ctx context.Context, principal *auth.Principal, modelID string, msgs []*ai.Message, sink stream.Sink) ([]conversation.Turn, error) {
	var produced []conversation.Turn

	budget := c.ai.StepBudget
	for step := 0; step < budget; step++ {
		resp, err := genkit.Generate(ctx, c.g,
			ai.WithModelName(modelID),
			ai.WithSystem(conciergeSystemPrompt),
			ai.WithMessages(msgs...),
			ai.WithTools(c.registry.Definitions()...),
			ai.WithReturnToolRequests(true),
			ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
				if text := chunk.Text(); text != "" {
					return sink.Emit(ctx, stream.Event{Kind: stream.KindTextDelta, Text: text})
				}
				return nil
			}),
		)
		if err != nil {
			return produced, fmt.Errorf("model step %d: %w", step+1, err)
		}

		requests := resp.ToolRequests()

		assistant := conversation.Turn{Role: conversation.RoleAssistant}
		if text := resp.Text(); text != "" {
			assistant.Segments = append(assistant.Segments, conversation.TextSegment(text))
		}
		for _, tr := range requests {
			args, err := json.Marshal(tr.Input)
			if err != nil {
				return produced, fmt.Errorf("encoding tool arguments for %s: %w", tr.Name, err)
			}
			assistant.Segments = append(assistant.Segments, conversation.ToolCallSegment(conversation.ToolCall{
				Name:   tr.Name,
				CallID: tr.Ref,
				Args:   args,
			}))
			if err := sink.Emit(ctx, stream.Event{
				Kind:   stream.KindToolCall,
				CallID: tr.Ref,
				Data:   toolCallPayload{Name: tr.Name, Args: args},
			}); err != nil {
				return produced, err
			}
		}
		if len(assistant.Segments) > 0 {
			produced = append(produced, assistant)
		}

		if len(requests) == 0 {
			return produced, nil
		}
		if step == budget-1 {
			// Budget exhausted with unresolved calls; the sanitizer strips
			// them before persistence.
			c.logger.Warn("step budget exhausted with pending tool calls", "pending", len(requests))
			return produced, nil
		}

		toolTurn, err := c.executeTools(ctx, principal, requests, sink)
		if err != nil {
			return produced, err
		}
		produced = append(produced, toolTurn)

		msgs = append(msgs, resp.Message)
		msgs = append(msgs, toModelMessages([]conversation.Turn{toolTurn})...)
	}

	return produced, nil
}

// executeTools runs one step's tool requests concurrently and collects their
// results into a single tool turn, in request order.
func (c *Controller) executeTools(ctx context.Context, principal *auth.Principal, requests []*ai.ToolRequest, sink stream.Sink) (conversation.Turn, error) {
	results := make([]conversation.ToolResult, len(requests))

	grp, grpCtx := errgroup.WithContext(ctx)
	for i, tr := range requests {
		grp.Go(func() error {
			args, err := json.Marshal(tr.Input)
			if err != nil {
				return fmt.Errorf("encoding tool arguments for %s: %w", tr.Name, err)
			}

			// Tag everything the tool emits with its call id so the client
			// can route sibling streams apart.
			emit := func(ctx context.Context, ev stream.Event) error {
				ev.CallID = tr.Ref
				return sink.Emit(ctx, ev)
			}

			result := c.registry.Execute(grpCtx, tr.Name, tools.Invocation{
				CallID:    tr.Ref,
				Principal: principal,
				Args:      args,
				Emit:      emit,
			})
			results[i] = conversation.ToolResult{
				Type:     "tool-result",
				CallID:   tr.Ref,
				ToolName: tr.Name,
				Result:   result,
			}
			return sink.Emit(grpCtx, stream.Event{
				Kind:   stream.KindToolResult,
				CallID: tr.Ref,
				Data:   json.RawMessage(result),
			})
		})
	}
	if err := grp.Wait(); err != nil {
		return conversation.Turn{}, err
	}

	return conversation.Turn{Role: conversation.RoleTool, Results: results}, nil
}

// isUniqueViolation reports whether err is the database's duplicate-key
// error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
