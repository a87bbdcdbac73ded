package model

import (
	"encoding/json"
	"time"
)

// HazardKind classifies a risk zone.
type HazardKind string

const (
	HazardFlood      HazardKind = "flood"
	HazardWildfire   HazardKind = "wildfire"
	HazardEarthquake HazardKind = "earthquake"
	HazardLandslide  HazardKind = "landslide"
	HazardStormSurge HazardKind = "storm_surge"
	HazardOther      HazardKind = "other"
)

// Severity ranks how actionable a zone is.
type Severity string

const (
	SeverityAdvisory Severity = "advisory"
	SeverityWatch    Severity = "watch"
	SeverityWarning  Severity = "warning"
)

// severityRank orders severities for comparison; higher is more severe.
var severityRank = map[Severity]int{
	SeverityAdvisory: 1,
	SeverityWatch:    2,
	SeverityWarning:  3,
}

// MoreSevere reports whether s outranks other.
func (s Severity) MoreSevere(other Severity) bool {
	return severityRank[s] > severityRank[other]
}

// Zone is a polygonal risk area. Geometry holds the polygon rings as
// [][][2]float64 in lon/lat order (GeoJSON convention); the stores also
// persist an EWKB copy for PostGIS and an H3 cover for SQLite prefilters.
type Zone struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Hazard     HazardKind      `json:"hazard"`
	Severity   Severity        `json:"severity"`
	Rings      [][][2]float64  `json:"rings"`
	H3Cover    []string        `json:"h3_cover,omitempty"`
	Source     string          `json:"source,omitempty"`
	Properties json.RawMessage `json:"properties,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// RiskTag is the projection of a containing zone attached to query results.
type RiskTag struct {
	ZoneID   string     `json:"zone_id"`
	Name     string     `json:"name"`
	Hazard   HazardKind `json:"hazard"`
	Severity Severity   `json:"severity"`
}
