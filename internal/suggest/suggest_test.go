package suggest

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/drm-labs/geoquery/internal/model"
	"github.com/drm-labs/geoquery/pkg/anthropic"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

func TestSuggest_ParsesResponse(t *testing.T) {
	mc := new(mockClient)
	eng := NewEngine(mc)

	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == defaultModel && len(req.System) == 1 && req.System[0].CacheControl != nil
	})).Return(textResponse(`{"categories":["park","museum"],"regions":["Bellevue"],"refined_query":"parks within 10 km of Seattle"}`), nil)

	intent := model.Intent{Raw: "parks near Seattle", Entity: "Seattle", Category: "park", Relation: model.RelationNear}
	s, err := eng.Suggest(context.Background(), intent, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"park", "museum"}, s.Categories)
	assert.Equal(t, []string{"Bellevue"}, s.Regions)
	assert.Equal(t, "parks within 10 km of Seattle", s.RefinedQuery)
	mc.AssertExpectations(t)
}

func TestSuggest_MaxTokensOption(t *testing.T) {
	mc := new(mockClient)
	eng := NewEngine(mc, WithMaxTokens(512))

	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.MaxTokens == int64(512)
	})).Return(textResponse(`{"refined_query":"parks near Seattle"}`), nil)

	_, err := eng.Suggest(context.Background(), model.Intent{Raw: "parks"}, 0)
	require.NoError(t, err)
	mc.AssertExpectations(t)
}

func TestSuggest_StripsCodeFences(t *testing.T) {
	mc := new(mockClient)
	eng := NewEngine(mc)

	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("```json\n{\"refined_query\":\"hotels near Tacoma\"}\n```"), nil)

	s, err := eng.Suggest(context.Background(), model.Intent{Raw: "hotels"}, 3)
	require.NoError(t, err)
	assert.Equal(t, "hotels near Tacoma", s.RefinedQuery)
}

func TestSuggest_RequestError(t *testing.T) {
	mc := new(mockClient)
	eng := NewEngine(mc)

	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, eris.New("overloaded"))

	_, err := eng.Suggest(context.Background(), model.Intent{Raw: "parks"}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suggest: claude request")
}

func TestSuggest_InvalidJSON(t *testing.T) {
	mc := new(mockClient)
	eng := NewEngine(mc)

	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("I could not produce suggestions."), nil)

	_, err := eng.Suggest(context.Background(), model.Intent{Raw: "parks"}, 0)
	require.Error(t, err)
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"Here you go: {\"a\":1} done", `{"a":1}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanJSON(tt.in))
	}
}

func TestBuildUserMessage(t *testing.T) {
	intent := model.Intent{
		Raw:        "parks 10 km north of Denver",
		Entity:     "Denver",
		Category:   "park",
		Relation:   model.RelationWithin,
		DistanceKM: 10,
		Direction:  "north",
	}
	msg := buildUserMessage(intent, 4)

	assert.Contains(t, msg, "Location entity: Denver")
	assert.Contains(t, msg, "Distance: 10.0 km")
	assert.Contains(t, msg, "Direction: north")
	assert.Contains(t, msg, "Places matched: 4")
}
