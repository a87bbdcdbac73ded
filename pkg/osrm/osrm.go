// Package osrm provides a client for the OSRM HTTP routing API.
package osrm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-polyline"

	"github.com/drm-labs/geoquery/internal/geo"
	"github.com/drm-labs/geoquery/internal/resilience"
)

const defaultBaseURL = "https://router.project-osrm.org"

// Route is a single driving route between two points.
type Route struct {
	DistanceKM float64     `json:"distance_km"`
	DurationS  float64     `json:"duration_s"`
	Geometry   []geo.Point `json:"geometry,omitempty"`
}

// Client computes routes via an OSRM server.
type Client struct {
	httpClient *http.Client
	baseURL    string
	profile    string
	retry      resilience.RetryConfig
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURL overrides the OSRM server base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithProfile sets the routing profile (driving, walking, cycling).
func WithProfile(profile string) Option {
	return func(c *Client) {
		c.profile = profile
	}
}

// WithRetry overrides the retry configuration.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// NewClient creates an OSRM client with the given options.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		profile:    "driving",
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// osrmResponse is the OSRM /route JSON response.
type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"` // meters
		Duration float64 `json:"duration"` // seconds
		Geometry string  `json:"geometry"` // encoded polyline
	} `json:"routes"`
}

// Route computes a route from origin to destination. ErrNoRoute is returned
// when OSRM cannot connect the two points.
func (c *Client) Route(ctx context.Context, origin, destination geo.Point) (*Route, error) {
	return c.RouteWithProfile(ctx, origin, destination, c.profile)
}

// RouteWithProfile computes a route with a specific profile, overriding the
// client default for this call. An empty profile uses the client default.
func (c *Client) RouteWithProfile(ctx context.Context, origin, destination geo.Point, profile string) (*Route, error) {
	if err := origin.Validate(); err != nil {
		return nil, eris.Wrap(err, "osrm: origin")
	}
	if err := destination.Validate(); err != nil {
		return nil, eris.Wrap(err, "osrm: destination")
	}
	if profile == "" {
		profile = c.profile
	}

	// OSRM takes coordinates in lon,lat order.
	coords := fmt.Sprintf("%f,%f;%f,%f", origin.Lon, origin.Lat, destination.Lon, destination.Lat)
	params := url.Values{
		"overview": {"full"},
	}
	reqURL := fmt.Sprintf("%s/route/v1/%s/%s?%s", c.baseURL, profile, coords, params.Encode())

	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*osrmResponse, error) {
		return c.fetch(ctx, reqURL)
	})
	if err != nil {
		return nil, err
	}

	if resp.Code != "Ok" {
		if resp.Code == "NoRoute" {
			return nil, ErrNoRoute
		}
		return nil, eris.Errorf("osrm: %s: %s", resp.Code, resp.Message)
	}
	if len(resp.Routes) == 0 {
		return nil, ErrNoRoute
	}

	best := resp.Routes[0]
	route := &Route{
		DistanceKM: best.Distance / 1000.0,
		DurationS:  best.Duration,
	}

	if best.Geometry != "" {
		coords, _, err := polyline.DecodeCoords([]byte(best.Geometry))
		if err != nil {
			return nil, eris.Wrap(err, "osrm: decode geometry")
		}
		route.Geometry = make([]geo.Point, len(coords))
		for i, c := range coords {
			route.Geometry[i] = geo.Point{Lat: c[0], Lon: c[1]}
		}
	}

	return route, nil
}

// ErrNoRoute means OSRM found no route between the given points.
var ErrNoRoute = eris.New("osrm: no route found")

func (c *Client) fetch(ctx context.Context, reqURL string) (*osrmResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "osrm: build request")
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "osrm: request")
	}
	defer httpResp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "osrm: read body")
	}

	// OSRM reports routing errors as 400 with a JSON body; only transport
	// level statuses are retried.
	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusBadRequest {
		statusErr := eris.Errorf("osrm: returned status %d", httpResp.StatusCode)
		if resilience.IsTransientHTTPStatus(httpResp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, httpResp.StatusCode)
		}
		return nil, statusErr
	}

	var resp osrmResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "osrm: parse response")
	}
	return &resp, nil
}
