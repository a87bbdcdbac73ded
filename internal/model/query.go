package model

import "time"

// Relation is the spatial relation extracted from a query.
type Relation string

const (
	RelationWithin   Relation = "within"
	RelationNear     Relation = "near"
	RelationAdjacent Relation = "adjacent"
)

// Intent is the structured form of a natural-language geospatial query.
type Intent struct {
	Raw        string   `json:"raw"`
	Entity     string   `json:"entity,omitempty"`
	Category   string   `json:"category,omitempty"`
	Relation   Relation `json:"relation,omitempty"`
	DistanceKM float64  `json:"distance_km,omitempty"`
	Direction  string   `json:"direction,omitempty"`
	// LLMAssisted marks intents refined by the suggestion engine rather
	// than by the heuristic parser alone.
	LLMAssisted bool `json:"llm_assisted,omitempty"`
}

// QueryResult is the full outcome of executing an intent.
type QueryResult struct {
	Intent     Intent      `json:"intent"`
	Center     *Location   `json:"center,omitempty"`
	Adjusted   *Location   `json:"adjusted,omitempty"`
	H3Cell     string      `json:"h3_cell,omitempty"`
	Hits       []PlaceHit  `json:"hits"`
	RiskTags   []RiskTag   `json:"risk_tags,omitempty"`
	Suggestion *Suggestion `json:"suggestion,omitempty"`
	ElapsedMS  int64       `json:"elapsed_ms"`
}

// Location is a resolved named coordinate.
type Location struct {
	Name      string  `json:"name,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Suggestion is the AI suggestion engine's output for a query.
type Suggestion struct {
	Categories   []string `json:"categories,omitempty"`
	Regions      []string `json:"regions,omitempty"`
	RefinedQuery string   `json:"refined_query,omitempty"`
}

// QueryRecord is a persisted query-history entry.
type QueryRecord struct {
	ID        string    `json:"id"`
	Raw       string    `json:"raw"`
	Intent    Intent    `json:"intent"`
	HitCount  int       `json:"hit_count"`
	ElapsedMS int64     `json:"elapsed_ms"`
	CreatedAt time.Time `json:"created_at"`
}
