package tools

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// SuggestionDraft is one proposed edit produced by the suggestion generation.
type SuggestionDraft struct {
	OriginalText  string `json:"originalText" jsonschema_description:"The exact sentence from the document to be replaced"`
	SuggestedText string `json:"suggestedText" jsonschema_description:"The improved replacement sentence"`
	Description   string `json:"description" jsonschema_description:"Short explanation of why the change improves the text"`
}

// suggestionBatch is the schema-constrained output of the suggestion model call.
type suggestionBatch struct {
	Suggestions []SuggestionDraft `json:"suggestions" jsonschema_description:"Proposed edits, at most five"`
}

// Generator runs the model calls behind the generative tools. Separated from
// genkit so tool behavior is testable with a scripted implementation.
type Generator interface {
	// Stream runs one text generation, invoking onDelta for each chunk, and
	// returns the complete text.
	Stream(ctx context.Context, system, prompt string, onDelta func(string) error) (string, error)

	// Suggestions runs one structured generation producing edit drafts.
	Suggestions(ctx context.Context, system, prompt string) ([]SuggestionDraft, error)
}

// GenkitGenerator is the production Generator backed by a genkit instance.
type GenkitGenerator struct {
	g     *genkit.Genkit
	model string
}

// NewGenkitGenerator creates a generator using the given model for all
// generative sub-tasks.
func NewGenkitGenerator(g *genkit.Genkit, model string) *GenkitGenerator {
	return &GenkitGenerator{g: g, model: model}
}

// Stream implements Generator.
func (gg *GenkitGenerator) Stream(ctx context.Context, system, prompt string, onDelta func(string) error) (string, error) {
	resp, err := genkit.Generate(ctx, gg.g,
		ai.WithModelName(gg.model),
		ai.WithSystem(system),
		ai.WithPrompt(prompt),
		ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			if text := chunk.Text(); text != "" {
				return onDelta(text)
			}
			return nil
		}),
	)
	if err != nil {
		return "", fmt.Errorf("streaming generation: %w", err)
	}
	return resp.Text(), nil
}

// Suggestions implements Generator.
func (gg *GenkitGenerator) Suggestions(ctx context.Context, system, prompt string) ([]SuggestionDraft, error) {
	resp, err := genkit.Generate(ctx, gg.g,
		ai.WithModelName(gg.model),
		ai.WithSystem(system),
		ai.WithPrompt(prompt),
		ai.WithOutputType(suggestionBatch{}),
	)
	if err != nil {
		return nil, fmt.Errorf("suggestion generation: %w", err)
	}

	var batch suggestionBatch
	if err := resp.Output(&batch); err != nil {
		return nil, fmt.Errorf("decoding suggestion output: %w", err)
	}
	return batch.Suggestions, nil
}
