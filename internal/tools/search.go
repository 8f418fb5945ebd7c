package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/costera/costera/internal/catalog"
)

type searchEventsInput struct {
	From     string `json:"from,omitempty" jsonschema_description:"Earliest start date to include, formatted YYYY-MM-DD"`
	To       string `json:"to,omitempty" jsonschema_description:"Latest start date to include, formatted YYYY-MM-DD"`
	Category string `json:"category,omitempty" jsonschema_description:"Event category such as concert, festival or exhibition"`
	Location string `json:"location,omitempty" jsonschema_description:"Place name to match against the event location"`
}

// EventsTool searches the event catalog.
type EventsTool struct {
	store *catalog.Store
	def   ai.Tool
}

// NewEventsTool registers the event search declaration with g.
func NewEventsTool(g *genkit.Genkit, store *catalog.Store) *EventsTool {
	t := &EventsTool{store: store}
	t.def = genkit.DefineTool(g, string(SearchEvents),
		"Search upcoming events such as concerts, festivals and exhibitions. All filters are optional.",
		func(tctx *ai.ToolContext, input searchEventsInput) ([]catalog.Event, error) {
			return t.search(tctx, input)
		})
	return t
}

func (t *EventsTool) Name() Name          { return SearchEvents }
func (t *EventsTool) Definition() ai.Tool { return t.def }

// Execute implements Tool.
func (t *EventsTool) Execute(ctx context.Context, inv Invocation) (any, error) {
	var input searchEventsInput
	if err := json.Unmarshal(inv.Args, &input); err != nil {
		return nil, fmt.Errorf("invalid event search arguments: %w", err)
	}
	return t.search(ctx, input)
}

func (t *EventsTool) search(ctx context.Context, input searchEventsInput) ([]catalog.Event, error) {
	filter := catalog.EventFilter{
		Category: input.Category,
		Location: input.Location,
	}
	var err error
	if filter.From, err = parseDay(input.From); err != nil {
		return nil, err
	}
	if filter.To, err = parseDay(input.To); err != nil {
		return nil, err
	}
	return t.store.SearchEvents(ctx, filter)
}

// parseDay parses an optional YYYY-MM-DD filter value.
func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	day, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return day, nil
}

type searchMarketsInput struct {
	Location string `json:"location,omitempty" jsonschema_description:"Place name to match against the market location"`
}

// MarketsTool searches the market catalog.
type MarketsTool struct {
	store *catalog.Store
	def   ai.Tool
}

// NewMarketsTool registers the market search declaration with g.
func NewMarketsTool(g *genkit.Genkit, store *catalog.Store) *MarketsTool {
	t := &MarketsTool{store: store}
	t.def = genkit.DefineTool(g, string(SearchMarkets),
		"List the island's markets and their opening hours, optionally filtered by location.",
		func(tctx *ai.ToolContext, input searchMarketsInput) ([]catalog.Market, error) {
			return t.store.SearchMarkets(tctx, input.Location)
		})
	return t
}

func (t *MarketsTool) Name() Name          { return SearchMarkets }
func (t *MarketsTool) Definition() ai.Tool { return t.def }

// Execute implements Tool.
func (t *MarketsTool) Execute(ctx context.Context, inv Invocation) (any, error) {
	var input searchMarketsInput
	if err := json.Unmarshal(inv.Args, &input); err != nil {
		return nil, fmt.Errorf("invalid market search arguments: %w", err)
	}
	return t.store.SearchMarkets(ctx, input.Location)
}

type searchActivitiesInput struct {
	Kind     string `json:"kind,omitempty" jsonschema_description:"Either 'activity' or 'service'; omit for both"`
	Category string `json:"category,omitempty" jsonschema_description:"Category such as watersport, hiking or wellness"`
	Location string `json:"location,omitempty" jsonschema_description:"Place name to match against the activity location"`
}

// ActivitiesTool searches bookable activities and services.
type ActivitiesTool struct {
	store *catalog.Store
	def   ai.Tool
}

// NewActivitiesTool registers the activity search declaration with g.
func NewActivitiesTool(g *genkit.Genkit, store *catalog.Store) *ActivitiesTool {
	t := &ActivitiesTool{store: store}
	t.def = genkit.DefineTool(g, string(SearchActivities),
		"Search bookable activities and visitor services. All filters are optional.",
		func(tctx *ai.ToolContext, input searchActivitiesInput) ([]catalog.Activity, error) {
			return t.store.SearchActivities(tctx, catalog.ActivityFilter{
				Kind:     input.Kind,
				Category: input.Category,
				Location: input.Location,
			})
		})
	return t
}

func (t *ActivitiesTool) Name() Name          { return SearchActivities }
func (t *ActivitiesTool) Definition() ai.Tool { return t.def }

// Execute implements Tool.
func (t *ActivitiesTool) Execute(ctx context.Context, inv Invocation) (any, error) {
	var input searchActivitiesInput
	if err := json.Unmarshal(inv.Args, &input); err != nil {
		return nil, fmt.Errorf("invalid activity search arguments: %w", err)
	}
	return t.store.SearchActivities(ctx, catalog.ActivityFilter{
		Kind:     input.Kind,
		Category: input.Category,
		Location: input.Location,
	})
}

type getActivityInput struct {
	ID int64 `json:"id" jsonschema_description:"Numeric id of the activity, as returned by searchActivities"`
}

// ActivityDetailTool retrieves one activity by id.
type ActivityDetailTool struct {
	store *catalog.Store
	def   ai.Tool
}

// NewActivityDetailTool registers the activity detail declaration with g.
func NewActivityDetailTool(g *genkit.Genkit, store *catalog.Store) *ActivityDetailTool {
	t := &ActivityDetailTool{store: store}
	t.def = genkit.DefineTool(g, string(GetActivity),
		"Get the full details of one activity or service by its id.",
		func(tctx *ai.ToolContext, input getActivityInput) (*catalog.Activity, error) {
			return t.store.GetActivity(tctx, input.ID)
		})
	return t
}

func (t *ActivityDetailTool) Name() Name          { return GetActivity }
func (t *ActivityDetailTool) Definition() ai.Tool { return t.def }

// Execute implements Tool.
func (t *ActivityDetailTool) Execute(ctx context.Context, inv Invocation) (any, error) {
	var input getActivityInput
	if err := json.Unmarshal(inv.Args, &input); err != nil {
		return nil, fmt.Errorf("invalid activity id arguments: %w", err)
	}
	return t.store.GetActivity(ctx, input.ID)
}
