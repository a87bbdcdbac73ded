package geocode

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// photonResponse is the GeoJSON FeatureCollection returned by Photon /api.
type photonResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"` // [lon, lat]
		} `json:"geometry"`
		Properties struct {
			Name     string `json:"name"`
			Street   string `json:"street"`
			City     string `json:"city"`
			State    string `json:"state"`
			Country  string `json:"country"`
			OSMKey   string `json:"osm_key"`
			OSMValue string `json:"osm_value"`
		} `json:"properties"`
	} `json:"features"`
}

// searchPhoton geocodes a free-text location via the Photon API. Used as the
// fallback when Nominatim has no match or is unavailable.
func (g *geocoder) searchPhoton(ctx context.Context, location string) (*Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: photon rate limit")
	}

	params := url.Values{
		"q":     {location},
		"limit": {"1"},
	}

	body, err := g.get(ctx, g.photonBase+"/api?"+params.Encode(), "photon")
	if err != nil {
		return nil, err
	}

	var resp photonResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "geocode: photon parse response")
	}

	if len(resp.Features) == 0 {
		return &Result{Matched: false, Source: "photon"}, nil
	}

	feat := resp.Features[0]
	if len(feat.Geometry.Coordinates) < 2 {
		return nil, eris.New("geocode: photon feature missing coordinates")
	}

	parts := make([]string, 0, 4)
	for _, s := range []string{feat.Properties.Name, feat.Properties.City, feat.Properties.State, feat.Properties.Country} {
		if s != "" {
			parts = append(parts, s)
		}
	}

	return &Result{
		DisplayName: strings.Join(parts, ", "),
		Latitude:    feat.Geometry.Coordinates[1],
		Longitude:   feat.Geometry.Coordinates[0],
		Source:      "photon",
		Class:       feat.Properties.OSMKey,
		Type:        feat.Properties.OSMValue,
		Matched:     true,
	}, nil
}
