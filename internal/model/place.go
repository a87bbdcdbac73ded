// Package model defines the core entities shared across the query engine,
// stores, and API surface.
package model

import (
	"encoding/json"
	"time"
)

// Place is a stored point of interest or custom location.
type Place struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Category   string          `json:"category,omitempty"`
	Latitude   float64         `json:"latitude"`
	Longitude  float64         `json:"longitude"`
	H3Cell     string          `json:"h3_cell,omitempty"`
	Source     string          `json:"source,omitempty"`
	SourceID   string          `json:"source_id,omitempty"`
	Properties json.RawMessage `json:"properties,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// PlaceHit is a place returned from a proximity search, with the computed
// distance from the query point and any risk zones containing it.
type PlaceHit struct {
	Place      Place     `json:"place"`
	DistanceKM float64   `json:"distance_km"`
	RiskTags   []RiskTag `json:"risk_tags,omitempty"`
}
