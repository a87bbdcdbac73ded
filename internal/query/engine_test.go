package query

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/drm-labs/geoquery/internal/geo"
	"github.com/drm-labs/geoquery/internal/model"
	"github.com/drm-labs/geoquery/internal/store"
	"github.com/drm-labs/geoquery/pkg/anthropic"
	"github.com/drm-labs/geoquery/pkg/geocode"
)

// mockStore implements store.Store for engine tests.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) UpsertPlaces(ctx context.Context, places []model.Place) (int, error) {
	args := m.Called(ctx, places)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) GetPlace(ctx context.Context, id string) (*model.Place, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Place), args.Error(1)
}

func (m *mockStore) PlacesNearby(ctx context.Context, center geo.Point, radiusKM float64, filter store.PlaceFilter) ([]model.PlaceHit, error) {
	args := m.Called(ctx, center, radiusKM, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.PlaceHit), args.Error(1)
}

func (m *mockStore) PlacesInRing(ctx context.Context, center geo.Point, innerKM, outerKM float64, filter store.PlaceFilter) ([]model.PlaceHit, error) {
	args := m.Called(ctx, center, innerKM, outerKM, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.PlaceHit), args.Error(1)
}

func (m *mockStore) UpsertZones(ctx context.Context, zones []model.Zone) (int, error) {
	args := m.Called(ctx, zones)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) ZonesAt(ctx context.Context, p geo.Point) ([]model.Zone, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Zone), args.Error(1)
}

func (m *mockStore) ListZones(ctx context.Context, hazard model.HazardKind, limit int) ([]model.Zone, error) {
	args := m.Called(ctx, hazard, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Zone), args.Error(1)
}

func (m *mockStore) GetGeocode(ctx context.Context, key string) (*geocode.Result, bool, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*geocode.Result), args.Bool(1), args.Error(2)
}

func (m *mockStore) PutGeocode(ctx context.Context, key string, r *geocode.Result) error {
	return m.Called(ctx, key, r).Error(0)
}

func (m *mockStore) DeleteExpiredGeocodes(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) RecordQuery(ctx context.Context, rec *model.QueryRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockStore) RecentQueries(ctx context.Context, limit int) ([]model.QueryRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.QueryRecord), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockStore) Close() error                      { return m.Called().Error(0) }

// mockGeocoder implements geocode.Client for engine tests.
type mockGeocoder struct {
	mock.Mock
}

func (m *mockGeocoder) Geocode(ctx context.Context, location string) (*geocode.Result, error) {
	args := m.Called(ctx, location)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*geocode.Result), args.Error(1)
}

func (m *mockGeocoder) Reverse(ctx context.Context, p geo.Point) (*geocode.ReverseResult, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*geocode.ReverseResult), args.Error(1)
}

func (m *mockGeocoder) BatchGeocode(ctx context.Context, locations []string) ([]geocode.Result, error) {
	args := m.Called(ctx, locations)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]geocode.Result), args.Error(1)
}

// stubAnthropic returns a fixed response for every CreateMessage call.
type stubAnthropic struct {
	text string
	err  error
}

func (s *stubAnthropic) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: s.text}},
	}, nil
}

// mockSuggester implements Suggester.
type mockSuggester struct {
	mock.Mock
}

func (m *mockSuggester) Suggest(ctx context.Context, intent model.Intent, hitCount int) (*model.Suggestion, error) {
	args := m.Called(ctx, intent, hitCount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Suggestion), args.Error(1)
}

func seattleResult() *geocode.Result {
	return &geocode.Result{
		DisplayName: "Seattle, King County, Washington, USA",
		Latitude:    47.6061,
		Longitude:   -122.3328,
		Source:      "nominatim",
		Matched:     true,
	}
}

func sampleHits() []model.PlaceHit {
	return []model.PlaceHit{
		{
			Place: model.Place{
				ID:        "p1",
				Name:      "Harborview Medical Center",
				Category:  "hospital",
				Latitude:  47.6040,
				Longitude: -122.3233,
			},
			DistanceKM: 0.74,
		},
	}
}

func TestExecute_NearbySearch(t *testing.T) {
	st := new(mockStore)
	gc := new(mockGeocoder)
	eng := NewEngine(st, gc)

	gc.On("Geocode", mock.Anything, "Seattle").Return(seattleResult(), nil)
	st.On("PlacesNearby", mock.Anything, mock.Anything, 3.0,
		store.PlaceFilter{Category: "hospital", Limit: DefaultMaxHits}).
		Return(sampleHits(), nil)
	st.On("ZonesAt", mock.Anything, mock.Anything).Return([]model.Zone{}, nil)
	st.On("RecordQuery", mock.Anything, mock.Anything).Return(nil)

	result, err := eng.Execute(context.Background(), "hospitals within 3 km of Seattle")
	require.NoError(t, err)

	assert.Equal(t, model.RelationWithin, result.Intent.Relation)
	require.NotNil(t, result.Center)
	assert.InDelta(t, 47.6061, result.Center.Latitude, 1e-6)
	assert.Nil(t, result.Adjusted)
	assert.NotEmpty(t, result.H3Cell)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "Harborview Medical Center", result.Hits[0].Place.Name)
	st.AssertExpectations(t)
	gc.AssertExpectations(t)
}

func TestExecute_DirectionAdjustsSearchPoint(t *testing.T) {
	st := new(mockStore)
	gc := new(mockGeocoder)
	eng := NewEngine(st, gc)

	gc.On("Geocode", mock.Anything, "Denver").Return(&geocode.Result{
		DisplayName: "Denver, Colorado, USA",
		Latitude:    39.7392,
		Longitude:   -104.9903,
		Matched:     true,
	}, nil)

	// 10 km due north moves latitude up by roughly 0.09 degrees. The stated
	// distance is consumed by the offset, so the search uses the default
	// radius around the adjusted point.
	st.On("PlacesNearby", mock.Anything, mock.MatchedBy(func(p geo.Point) bool {
		return p.Lat > 39.82 && p.Lat < 39.84 && p.Lon > -105.0 && p.Lon < -104.98
	}), DefaultRadiusKM, mock.Anything).Return([]model.PlaceHit{}, nil)
	st.On("ZonesAt", mock.Anything, mock.Anything).Return([]model.Zone{}, nil)
	st.On("RecordQuery", mock.Anything, mock.Anything).Return(nil)

	result, err := eng.Execute(context.Background(), "parks 10 km north of Denver")
	require.NoError(t, err)

	require.NotNil(t, result.Adjusted)
	assert.Greater(t, result.Adjusted.Latitude, result.Center.Latitude)
	assert.InDelta(t, result.Center.Longitude, result.Adjusted.Longitude, 1e-6)
	st.AssertExpectations(t)
}

func TestExecute_AdjacentUsesRing(t *testing.T) {
	st := new(mockStore)
	gc := new(mockGeocoder)
	eng := NewEngine(st, gc)

	gc.On("Geocode", mock.Anything, "Green Lake").Return(seattleResult(), nil)
	st.On("PlacesInRing", mock.Anything, mock.Anything, DefaultRadiusKM,
		DefaultRadiusKM+DefaultAdjacentBandKM, mock.Anything).
		Return(sampleHits(), nil)
	st.On("ZonesAt", mock.Anything, mock.Anything).Return([]model.Zone{}, nil)
	st.On("RecordQuery", mock.Anything, mock.Anything).Return(nil)

	result, err := eng.Execute(context.Background(), "schools next to Green Lake")
	require.NoError(t, err)

	assert.Equal(t, model.RelationAdjacent, result.Intent.Relation)
	require.Len(t, result.Hits, 1)
	st.AssertExpectations(t)
}

func TestExecute_RiskTags(t *testing.T) {
	st := new(mockStore)
	gc := new(mockGeocoder)
	eng := NewEngine(st, gc)

	// A flood zone covering downtown Seattle and the hit.
	floodZone := model.Zone{
		ID:       "z1",
		Name:     "Duwamish floodplain",
		Hazard:   model.HazardFlood,
		Severity: model.SeverityWarning,
		Rings: [][][2]float64{{
			{-122.40, 47.55}, {-122.25, 47.55}, {-122.25, 47.65}, {-122.40, 47.65}, {-122.40, 47.55},
		}},
	}

	gc.On("Geocode", mock.Anything, "Seattle").Return(seattleResult(), nil)
	st.On("PlacesNearby", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(sampleHits(), nil)
	st.On("ZonesAt", mock.Anything, mock.Anything).Return([]model.Zone{floodZone}, nil)
	st.On("RecordQuery", mock.Anything, mock.Anything).Return(nil)

	result, err := eng.Execute(context.Background(), "hospitals near Seattle")
	require.NoError(t, err)

	require.Len(t, result.RiskTags, 1)
	assert.Equal(t, model.HazardFlood, result.RiskTags[0].Hazard)
	require.Len(t, result.Hits, 1)
	require.Len(t, result.Hits[0].RiskTags, 1)
	assert.Equal(t, "Duwamish floodplain", result.Hits[0].RiskTags[0].Name)

	// Tagging goes through the spatial predicate, once for the center and
	// once per hit, never through a full zone scan.
	st.AssertNumberOfCalls(t, "ZonesAt", 2)
	st.AssertNotCalled(t, "ListZones", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecute_GeocodeMiss(t *testing.T) {
	st := new(mockStore)
	gc := new(mockGeocoder)
	eng := NewEngine(st, gc)

	gc.On("Geocode", mock.Anything, "Atlantis").Return(&geocode.Result{Matched: false}, nil)

	_, err := eng.Execute(context.Background(), "hotels near Atlantis")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not be geocoded")
}

func TestExecute_NoEntity(t *testing.T) {
	eng := NewEngine(new(mockStore), new(mockGeocoder))

	_, err := eng.Execute(context.Background(), "show me restaurants")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no location entity")
}

func TestExecute_LLMFallbackResolvesEntity(t *testing.T) {
	st := new(mockStore)
	gc := new(mockGeocoder)
	stub := &stubAnthropic{text: `{"entity": "Tacoma", "category": "hospital", "relation": "near"}`}
	eng := NewEngine(st, gc, WithLLMParser(NewLLMParser(stub, "claude-haiku-4-5-20251001")))

	gc.On("Geocode", mock.Anything, "Tacoma").Return(seattleResult(), nil)
	st.On("PlacesNearby", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]model.PlaceHit{}, nil)
	st.On("ZonesAt", mock.Anything, mock.Anything).Return([]model.Zone{}, nil)
	st.On("RecordQuery", mock.Anything, mock.Anything).Return(nil)

	result, err := eng.Execute(context.Background(), "show me some medical help")
	require.NoError(t, err)

	assert.True(t, result.Intent.LLMAssisted)
	assert.Equal(t, "Tacoma", result.Intent.Entity)
	assert.Equal(t, "hospital", result.Intent.Category)
}

func TestExecute_SuggesterAttached(t *testing.T) {
	st := new(mockStore)
	gc := new(mockGeocoder)
	sg := new(mockSuggester)
	eng := NewEngine(st, gc, WithSuggester(sg))

	gc.On("Geocode", mock.Anything, "Seattle").Return(seattleResult(), nil)
	st.On("PlacesNearby", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]model.PlaceHit{}, nil)
	st.On("ZonesAt", mock.Anything, mock.Anything).Return([]model.Zone{}, nil)
	st.On("RecordQuery", mock.Anything, mock.Anything).Return(nil)
	sg.On("Suggest", mock.Anything, mock.Anything, 0).Return(&model.Suggestion{
		Categories:   []string{"park", "museum"},
		RefinedQuery: "museums near Seattle",
	}, nil)

	result, err := eng.Execute(context.Background(), "parks near Seattle")
	require.NoError(t, err)

	require.NotNil(t, result.Suggestion)
	assert.Equal(t, "museums near Seattle", result.Suggestion.RefinedQuery)
	sg.AssertExpectations(t)
}

func TestExecute_RecordFailureDoesNotFailQuery(t *testing.T) {
	st := new(mockStore)
	gc := new(mockGeocoder)
	eng := NewEngine(st, gc)

	gc.On("Geocode", mock.Anything, "Seattle").Return(seattleResult(), nil)
	st.On("PlacesNearby", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(sampleHits(), nil)
	st.On("ZonesAt", mock.Anything, mock.Anything).Return([]model.Zone{}, nil)
	st.On("RecordQuery", mock.Anything, mock.Anything).Return(eris.New("history unavailable"))

	result, err := eng.Execute(context.Background(), "hospitals near Seattle")
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(`{"a":1}`))
}
