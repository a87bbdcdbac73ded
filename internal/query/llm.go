package query

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/drm-labs/geoquery/internal/model"
	"github.com/drm-labs/geoquery/pkg/anthropic"
)

const parseSystemPrompt = `You extract structured geospatial intents from natural-language queries.
Respond with a single JSON object and nothing else, using these fields:
  entity      string  the place name to geocode (required when present in the query)
  category    string  one of: restaurant, hospital, park, school, forest, museum, airport, market, hotel, pharmacy, or "" if none fits
  relation    string  one of: within, near, adjacent
  distance_km number  the search distance in kilometers, 0 if unstated
  direction   string  one of: north, south, east, west, northeast, northwest, southeast, southwest, or "" if none`

// LLMParser refines queries the heuristic parser could not fully resolve.
type LLMParser struct {
	client anthropic.Client
	model  string
}

// NewLLMParser creates an LLMParser using the given client and model ID.
func NewLLMParser(client anthropic.Client, modelID string) *LLMParser {
	return &LLMParser{client: client, model: modelID}
}

// llmIntent is the JSON shape the model is asked to produce.
type llmIntent struct {
	Entity     string  `json:"entity"`
	Category   string  `json:"category"`
	Relation   string  `json:"relation"`
	DistanceKM float64 `json:"distance_km"`
	Direction  string  `json:"direction"`
}

// Parse asks the model for a structured intent. The heuristic result is used
// to fill any field the model leaves empty.
func (p *LLMParser) Parse(ctx context.Context, raw string, heuristic model.Intent) (model.Intent, error) {
	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     p.model,
		MaxTokens: 256,
		System:    anthropic.BuildCachedSystemBlocks(parseSystemPrompt),
		Messages:  []anthropic.Message{{Role: "user", Content: raw}},
	})
	if err != nil {
		return heuristic, eris.Wrap(err, "query: llm parse")
	}
	resp.Usage.LogCost(p.model, "parse")

	var out llmIntent
	if err := json.Unmarshal([]byte(stripFences(resp.Text())), &out); err != nil {
		return heuristic, eris.Wrap(err, "query: llm parse response")
	}

	intent := heuristic
	intent.LLMAssisted = true
	if out.Entity != "" {
		intent.Entity = out.Entity
	}
	if out.Category != "" {
		intent.Category = out.Category
	}
	if r := model.Relation(out.Relation); r == model.RelationWithin || r == model.RelationNear || r == model.RelationAdjacent {
		intent.Relation = r
	}
	if out.DistanceKM > 0 {
		intent.DistanceKM = out.DistanceKM
	}
	if out.Direction != "" {
		intent.Direction = strings.ToLower(out.Direction)
	}
	return intent, nil
}

// stripFences removes a surrounding markdown code fence, if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
