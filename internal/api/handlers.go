package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/drm-labs/geoquery/internal/geo"
	"github.com/drm-labs/geoquery/internal/hexgrid"
	"github.com/drm-labs/geoquery/internal/model"
	"github.com/drm-labs/geoquery/internal/query"
	"github.com/drm-labs/geoquery/internal/store"
	"github.com/drm-labs/geoquery/pkg/osrm"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	writeJSON(w, http.StatusOK, query.Parse(q))
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	result, err := s.engine.Execute(r.Context(), q)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, query.ErrNoEntity):
		writeError(w, http.StatusBadRequest, "no location found in query")
	case errors.Is(err, query.ErrUnresolved):
		writeError(w, http.StatusNotFound, "location could not be geocoded")
	default:
		zap.L().Error("api: query failed", zap.String("q", q), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
	}
}

func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request) {
	location := strings.TrimSpace(r.URL.Query().Get("location"))
	if location == "" {
		writeError(w, http.StatusBadRequest, "location is required")
		return
	}

	result, err := s.geocoder.Geocode(r.Context(), location)
	if err != nil {
		zap.L().Error("api: geocode failed", zap.String("location", location), zap.Error(err))
		writeError(w, http.StatusBadGateway, "geocoding failed")
		return
	}
	if !result.Matched {
		writeError(w, http.StatusNotFound, "location not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	p, err := pointParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.geocoder.Reverse(r.Context(), p)
	if err != nil {
		zap.L().Error("api: reverse geocode failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "reverse geocoding failed")
		return
	}
	if !result.Matched {
		writeError(w, http.StatusNotFound, "no address at coordinates")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// adjustResponse is the payload for the direction-adjustment endpoint.
type adjustResponse struct {
	Location   string         `json:"location"`
	Direction  string         `json:"direction"`
	BearingDeg float64        `json:"bearing_deg"`
	DistanceKM float64        `json:"distance_km"`
	Original   model.Location `json:"original"`
	Adjusted   model.Location `json:"adjusted"`
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	location := strings.TrimSpace(r.URL.Query().Get("location"))
	direction := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("direction")))
	if location == "" || direction == "" {
		writeError(w, http.StatusBadRequest, "location and direction are required")
		return
	}
	distance, err := queryFloat(r, "distance", query.DefaultRadiusKM)
	if err != nil || distance <= 0 {
		writeError(w, http.StatusBadRequest, "distance must be a positive number of kilometers")
		return
	}

	gc, err := s.geocoder.Geocode(r.Context(), location)
	if err != nil {
		zap.L().Error("api: geocode failed", zap.String("location", location), zap.Error(err))
		writeError(w, http.StatusBadGateway, "geocoding failed")
		return
	}
	if !gc.Matched {
		writeError(w, http.StatusNotFound, "location not found")
		return
	}

	bearing := geo.BearingForDirection(direction)
	dest := geo.Destination(gc.Point(), bearing, distance)
	writeJSON(w, http.StatusOK, adjustResponse{
		Location:   location,
		Direction:  direction,
		BearingDeg: bearing,
		DistanceKM: distance,
		Original: model.Location{
			Name:      gc.DisplayName,
			Latitude:  gc.Latitude,
			Longitude: gc.Longitude,
		},
		Adjusted: model.Location{
			Latitude:  dest.Lat,
			Longitude: dest.Lon,
		},
	})
}

// h3Response is the payload for the cell-index endpoint.
type h3Response struct {
	Cell       string         `json:"cell"`
	Resolution int            `json:"resolution"`
	Point      model.Location `json:"point"`
	Center     model.Location `json:"center"`
}

func (s *Server) handleH3(w http.ResponseWriter, r *http.Request) {
	resolution, err := queryInt(r, "resolution", s.opts.H3Resolution)
	if err != nil || resolution < 0 || resolution > hexgrid.MaxResolution {
		writeError(w, http.StatusBadRequest, "resolution must be between 0 and 15")
		return
	}

	var p geo.Point
	name := ""
	if location := strings.TrimSpace(r.URL.Query().Get("location")); location != "" {
		gc, err := s.geocoder.Geocode(r.Context(), location)
		if err != nil {
			writeError(w, http.StatusBadGateway, "geocoding failed")
			return
		}
		if !gc.Matched {
			writeError(w, http.StatusNotFound, "location not found")
			return
		}
		p = gc.Point()
		name = gc.DisplayName
	} else {
		p, err = pointParams(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "location or lat/lon is required")
			return
		}
	}

	cell, err := hexgrid.CellForPoint(p, resolution)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	center, err := hexgrid.Center(cell)
	if err != nil {
		zap.L().Error("api: h3 center", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cell center failed")
		return
	}

	writeJSON(w, http.StatusOK, h3Response{
		Cell:       cell.String(),
		Resolution: resolution,
		Point:      model.Location{Name: name, Latitude: p.Lat, Longitude: p.Lon},
		Center:     model.Location{Latitude: center.Lat, Longitude: center.Lon},
	})
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		writeError(w, http.StatusServiceUnavailable, "routing is not configured")
		return
	}

	from := strings.TrimSpace(r.URL.Query().Get("from"))
	to := strings.TrimSpace(r.URL.Query().Get("to"))
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}

	origin, err := s.resolveEndpoint(r, from)
	if err != nil {
		s.writeEndpointError(w, "from", err)
		return
	}
	destination, err := s.resolveEndpoint(r, to)
	if err != nil {
		s.writeEndpointError(w, "to", err)
		return
	}

	route, err := s.router.RouteWithProfile(r.Context(), origin, destination, r.URL.Query().Get("profile"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, route)
	case errors.Is(err, osrm.ErrNoRoute):
		writeError(w, http.StatusNotFound, "no route between the given points")
	default:
		zap.L().Error("api: route failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "routing failed")
	}
}

// errEndpointNotFound marks an endpoint string that geocoded to no match.
var errEndpointNotFound = eris.New("api: endpoint not found")

// resolveEndpoint turns a "lat,lon" pair or a free-text location into a point.
func (s *Server) resolveEndpoint(r *http.Request, raw string) (geo.Point, error) {
	if parts := strings.SplitN(raw, ",", 2); len(parts) == 2 {
		lat, latErr := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lon, lonErr := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if latErr == nil && lonErr == nil {
			p := geo.Point{Lat: lat, Lon: lon}
			if err := p.Validate(); err != nil {
				return geo.Point{}, err
			}
			return p, nil
		}
	}

	gc, err := s.geocoder.Geocode(r.Context(), raw)
	if err != nil {
		return geo.Point{}, eris.Wrap(err, "api: geocode endpoint")
	}
	if !gc.Matched {
		return geo.Point{}, errEndpointNotFound
	}
	return gc.Point(), nil
}

func (s *Server) writeEndpointError(w http.ResponseWriter, param string, err error) {
	if errors.Is(err, errEndpointNotFound) {
		writeError(w, http.StatusNotFound, param+" could not be resolved")
		return
	}
	writeError(w, http.StatusBadRequest, param+": "+err.Error())
}

func (s *Server) handleUpsertPlaces(w http.ResponseWriter, r *http.Request) {
	var places []model.Place
	if err := json.NewDecoder(r.Body).Decode(&places); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON array of places")
		return
	}
	if len(places) == 0 {
		writeError(w, http.StatusBadRequest, "at least one place is required")
		return
	}

	n, err := s.st.UpsertPlaces(r.Context(), places)
	if err != nil {
		zap.L().Error("api: upsert places", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "upsert failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"upserted": n})
}

func (s *Server) handlePlacesNearby(w http.ResponseWriter, r *http.Request) {
	p, err := pointParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	radius, err := queryFloat(r, "radius_km", s.opts.DefaultRadiusKM)
	if err != nil || radius <= 0 {
		writeError(w, http.StatusBadRequest, "radius_km must be a positive number")
		return
	}
	limit, err := queryInt(r, "limit", query.DefaultMaxHits)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hits, err := s.st.PlacesNearby(r.Context(), p, radius, store.PlaceFilter{
		Category: r.URL.Query().Get("category"),
		Limit:    limit,
	})
	if err != nil {
		zap.L().Error("api: places nearby", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": hits, "count": len(hits)})
}

func (s *Server) handleZonesAt(w http.ResponseWriter, r *http.Request) {
	p, err := pointParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	zones, err := s.st.ZonesAt(r.Context(), p)
	if err != nil {
		zap.L().Error("api: zones at", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "zone lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"zones": zones, "count": len(zones)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	records, err := s.st.RecentQueries(r.Context(), limit)
	if err != nil {
		zap.L().Error("api: history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": records, "count": len(records)})
}
