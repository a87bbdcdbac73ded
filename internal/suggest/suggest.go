// Package suggest produces follow-up query suggestions for executed
// geospatial queries using the Anthropic API.
package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/drm-labs/geoquery/internal/model"
	"github.com/drm-labs/geoquery/pkg/anthropic"
)

const (
	defaultModel     = "claude-haiku-4-5-20251001"
	defaultMaxTokens = 512
)

const systemPrompt = `You suggest follow-up geospatial searches. Given a structured query intent
and how many places it matched, respond with a single JSON object and nothing else:
  categories     array of place categories worth searching near the same location
                 (choose from: restaurant, hospital, park, school, forest, museum,
                 airport, market, hotel, pharmacy)
  regions        array of nearby or related place names worth searching instead
  refined_query  one natural-language query likely to match more places, or ""
When the query matched zero places, prioritize a refined_query that widens the
search distance or relaxes the category.`

// Engine generates suggestions from executed query intents.
type Engine struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// Option configures the Engine.
type Option func(*Engine)

// WithModel overrides the model used for suggestions.
func WithModel(modelID string) Option {
	return func(e *Engine) {
		if modelID != "" {
			e.model = modelID
		}
	}
}

// WithMaxTokens overrides the response token cap.
func WithMaxTokens(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// NewEngine creates a suggestion engine over the given Anthropic client.
func NewEngine(client anthropic.Client, opts ...Option) *Engine {
	e := &Engine{
		client:    client,
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Suggest asks the model for follow-up searches based on the intent and the
// number of places the query matched.
func (e *Engine) Suggest(ctx context.Context, intent model.Intent, hitCount int) (*model.Suggestion, error) {
	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: int64(e.maxTokens),
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt),
		Messages:  []anthropic.Message{{Role: "user", Content: buildUserMessage(intent, hitCount)}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "suggest: claude request")
	}
	resp.Usage.LogCost(e.model, "suggest")

	var s model.Suggestion
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &s); err != nil {
		return nil, eris.Wrap(err, "suggest: parse response")
	}

	zap.L().Debug("suggest: generated",
		zap.String("entity", intent.Entity),
		zap.Int("hit_count", hitCount),
		zap.Int("categories", len(s.Categories)),
		zap.String("refined_query", s.RefinedQuery),
	)
	return &s, nil
}

// buildUserMessage renders the intent as a compact prompt.
func buildUserMessage(intent model.Intent, hitCount int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n", intent.Raw)
	fmt.Fprintf(&b, "Location entity: %s\n", intent.Entity)
	if intent.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", intent.Category)
	}
	fmt.Fprintf(&b, "Relation: %s\n", intent.Relation)
	if intent.DistanceKM > 0 {
		fmt.Fprintf(&b, "Distance: %.1f km\n", intent.DistanceKM)
	}
	if intent.Direction != "" {
		fmt.Fprintf(&b, "Direction: %s\n", intent.Direction)
	}
	fmt.Fprintf(&b, "Places matched: %d\n", hitCount)
	return b.String()
}

// cleanJSON strips markdown fences and surrounding prose from a model
// response, keeping the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
