package query

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	_ "embed"

	"gopkg.in/yaml.v3"

	"github.com/drm-labs/geoquery/internal/model"
)

//go:embed categories.yaml
var categoriesYAML []byte

// categoryIndex maps surface forms ("hospitals", "medical center") to
// canonical category names. Built once from the embedded table.
var categoryIndex = mustLoadCategories()

// categoryForms lists surface forms longest-first so multi-word forms match
// before their substrings.
var categoryForms = sortedForms(categoryIndex)

func mustLoadCategories() map[string]string {
	var table map[string][]string
	if err := yaml.Unmarshal(categoriesYAML, &table); err != nil {
		panic("query: invalid embedded category table: " + err.Error())
	}
	idx := make(map[string]string)
	for canonical, forms := range table {
		for _, form := range forms {
			idx[strings.ToLower(form)] = canonical
		}
	}
	return idx
}

func sortedForms(idx map[string]string) []string {
	forms := make([]string, 0, len(idx))
	for form := range idx {
		forms = append(forms, form)
	}
	sort.Slice(forms, func(i, j int) bool { return len(forms[i]) > len(forms[j]) })
	return forms
}

var (
	distanceRe  = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(kilometers?|kilometres?|km|miles?|mi|meters?|metres?|m)\b`)
	directionRe = regexp.MustCompile(`(?i)\b(north|south|east|west|northeast|northwest|southeast|southwest)\s+of\s+(.+)$`)
	// entityRe captures everything after the first spatial preposition.
	entityRe = regexp.MustCompile(`(?i)\b(?:of|in|at|near|nearby|around|from|to)\s+(.+)$`)
)

// distanceToKM converts a matched magnitude and unit to kilometers.
func distanceToKM(magnitude float64, unit string) float64 {
	switch {
	case strings.HasPrefix(unit, "mi"):
		return magnitude * 1.609344
	case unit == "m" || strings.HasPrefix(unit, "met"):
		return magnitude / 1000.0
	default:
		return magnitude
	}
}

// Parse extracts a structured intent from a natural-language query using
// regex and keyword heuristics. It never fails: missing parts are left zero
// and resolved by the engine's defaults.
func Parse(raw string) model.Intent {
	intent := model.Intent{Raw: raw}
	text := strings.TrimSpace(raw)
	lower := strings.ToLower(text)

	// Distance, e.g. "5 km", "3.5 miles", "800 m".
	if m := distanceRe.FindStringSubmatch(lower); m != nil {
		magnitude, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			intent.DistanceKM = distanceToKM(magnitude, m[2])
		}
	}

	// Category keywords, longest surface form first.
	for _, form := range categoryForms {
		if containsWord(lower, form) {
			intent.Category = categoryIndex[form]
			break
		}
	}

	// Spatial relation.
	switch {
	case strings.Contains(lower, "adjacent") || strings.Contains(lower, "next to") || strings.Contains(lower, "bordering"):
		intent.Relation = model.RelationAdjacent
	case intent.DistanceKM > 0:
		intent.Relation = model.RelationWithin
	default:
		intent.Relation = model.RelationNear
	}

	// Direction takes the entity with it: "10 km north of Portland".
	if m := directionRe.FindStringSubmatch(text); m != nil {
		intent.Direction = strings.ToLower(m[1])
		intent.Entity = cleanEntity(m[2])
		return intent
	}

	if m := entityRe.FindStringSubmatch(text); m != nil {
		intent.Entity = cleanEntity(m[1])
	}
	return intent
}

// cleanEntity strips punctuation and trailing qualifiers from a candidate
// location string.
func cleanEntity(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, ".,!?\"'")

	// A distance or category mention after the entity is parser residue,
	// e.g. "Portland within 5 km".
	if loc := distanceRe.FindStringIndex(strings.ToLower(s)); loc != nil {
		s = strings.TrimSpace(s[:loc[0]])
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), " within")
	return strings.TrimSpace(s)
}

// containsWord reports whether text contains form on word boundaries.
func containsWord(text, form string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], form)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(form)
		startOK := start == 0 || !isWordByte(text[start-1])
		endOK := end == len(text) || !isWordByte(text[end])
		if startOK && endOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
