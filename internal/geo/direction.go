package geo

import "strings"

// bearings maps direction words to initial bearings in degrees.
var bearings = map[string]float64{
	"north":     0,
	"northeast": 45,
	"east":      90,
	"southeast": 135,
	"south":     180,
	"southwest": 225,
	"west":      270,
	"northwest": 315,
}

// BearingForDirection maps a cardinal or intercardinal direction word to an
// initial bearing. Unknown words map to 0 (due north).
func BearingForDirection(direction string) float64 {
	return bearings[strings.ToLower(strings.TrimSpace(direction))]
}

// KnownDirection reports whether the word is a recognized direction.
func KnownDirection(direction string) bool {
	_, ok := bearings[strings.ToLower(strings.TrimSpace(direction))]
	return ok
}
