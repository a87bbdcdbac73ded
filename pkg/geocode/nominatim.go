package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/drm-labs/geoquery/internal/geo"
	"github.com/drm-labs/geoquery/internal/resilience"
)

const defaultNominatimBase = "https://nominatim.openstreetmap.org"

// nominatimSearchEntry is one element of the Nominatim /search JSON response.
type nominatimSearchEntry struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Class       string `json:"class"`
	Type        string `json:"type"`
}

// nominatimReverseResponse is the Nominatim /reverse JSON response.
type nominatimReverseResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
	Address     struct {
		Road        string `json:"road"`
		City        string `json:"city"`
		Town        string `json:"town"`
		Village     string `json:"village"`
		State       string `json:"state"`
		Postcode    string `json:"postcode"`
		Country     string `json:"country"`
		CountryCode string `json:"country_code"`
	} `json:"address"`
}

// searchNominatim geocodes a free-text location via the Nominatim /search API.
func (g *geocoder) searchNominatim(ctx context.Context, location string) (*Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim rate limit")
	}

	params := url.Values{
		"q":      {location},
		"format": {"json"},
		"limit":  {"1"},
	}

	body, err := g.get(ctx, g.nominatimBase+"/search?"+params.Encode(), "nominatim")
	if err != nil {
		return nil, err
	}

	var entries []nominatimSearchEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse response")
	}

	if len(entries) == 0 {
		return &Result{Matched: false, Source: "nominatim"}, nil
	}

	entry := entries[0]
	lat, err := strconv.ParseFloat(entry.Lat, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: nominatim parse lat %q", entry.Lat)
	}
	lon, err := strconv.ParseFloat(entry.Lon, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: nominatim parse lon %q", entry.Lon)
	}

	return &Result{
		DisplayName: entry.DisplayName,
		Latitude:    lat,
		Longitude:   lon,
		Source:      "nominatim",
		Class:       entry.Class,
		Type:        entry.Type,
		Matched:     true,
	}, nil
}

// reverseNominatim resolves coordinates via the Nominatim /reverse API.
func (g *geocoder) reverseNominatim(ctx context.Context, p geo.Point) (*ReverseResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim rate limit")
	}

	params := url.Values{
		"lat":    {strconv.FormatFloat(p.Lat, 'f', -1, 64)},
		"lon":    {strconv.FormatFloat(p.Lon, 'f', -1, 64)},
		"format": {"json"},
	}

	body, err := g.get(ctx, g.nominatimBase+"/reverse?"+params.Encode(), "nominatim")
	if err != nil {
		return nil, err
	}

	var resp nominatimReverseResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse reverse response")
	}

	// Nominatim reports "Unable to geocode" inside a 200 response.
	if resp.Error != "" || resp.DisplayName == "" {
		return &ReverseResult{Matched: false}, nil
	}

	city := resp.Address.City
	if city == "" {
		city = resp.Address.Town
	}
	if city == "" {
		city = resp.Address.Village
	}

	return &ReverseResult{
		DisplayName: resp.DisplayName,
		Road:        resp.Address.Road,
		City:        city,
		State:       resp.Address.State,
		Postcode:    resp.Address.Postcode,
		Country:     resp.Address.Country,
		CountryCode: resp.Address.CountryCode,
		Matched:     true,
	}, nil
}

// get performs a provider GET request and returns the response body. Non-2xx
// statuses that indicate a server-side issue are wrapped as transient so the
// retry and circuit breaker layers can act on them.
func (g *geocoder) get(ctx context.Context, reqURL, provider string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: %s build request", provider)
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: %s request", provider)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("geocode: %s returned status %d", provider, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: %s read body", provider)
	}
	return body, nil
}
