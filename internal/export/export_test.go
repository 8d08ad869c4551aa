package export

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saferoute/internal/grid"
	"github.com/sells-group/saferoute/internal/model"
)

type featureCollection struct {
	Type     string    `json:"type"`
	BBox     []float64 `json:"bbox"`
	Features []struct {
		ID       string `json:"id"`
		Geometry struct {
			Type        string          `json:"type"`
			Coordinates json.RawMessage `json:"coordinates"`
		} `json:"geometry"`
		Properties map[string]any `json:"properties"`
	} `json:"features"`
}

func decode(t *testing.T, write func(*bytes.Buffer)) featureCollection {
	t.Helper()
	var buf bytes.Buffer
	write(&buf)
	var fc featureCollection
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fc))
	return fc
}

func path(pts ...model.LatLng) model.RoutePath {
	return model.RoutePath{Legs: []model.Leg{{Steps: []model.Step{{Points: pts}}}}}
}

func TestComparison(t *testing.T) {
	routes := []model.RouteScore{
		{Route: path(model.LatLng{Lat: 43.58, Lng: -79.64}, model.LatLng{Lat: 43.59, Lng: -79.63}), DistanceMeters: 900, CombinedSafetyScore: 82},
		{Route: path(model.LatLng{Lat: 43.58, Lng: -79.64}), DistanceMeters: 850, CombinedSafetyScore: 60},
	}
	cmp := &model.RouteComparison{Routes: routes, ShortestIndex: 1, SafestIndex: 0, BalancedIndex: 0}

	fc, err := Comparison(cmp)
	require.NoError(t, err)

	out := decode(t, func(b *bytes.Buffer) { require.NoError(t, Write(b, fc)) })
	assert.Equal(t, "FeatureCollection", out.Type)
	require.Len(t, out.Features, 2)

	f0 := out.Features[0]
	assert.Equal(t, "route-0", f0.ID)
	assert.Equal(t, "LineString", f0.Geometry.Type)
	assert.JSONEq(t, `[[-79.64,43.58],[-79.63,43.59]]`, string(f0.Geometry.Coordinates))
	assert.Equal(t, []any{"safest", "balanced"}, f0.Properties["roles"])
	assert.Equal(t, 82.0, f0.Properties["combined_safety_score"])

	f1 := out.Features[1]
	assert.Equal(t, "Point", f1.Geometry.Type)
	assert.Equal(t, []any{"shortest"}, f1.Properties["roles"])
}

func TestComparison_Nil(t *testing.T) {
	_, err := Comparison(nil)
	assert.Error(t, err)
}

func TestGrid(t *testing.T) {
	bounds := model.BBox{MinLat: 43.58, MaxLat: 43.59, MinLng: -79.64, MaxLng: -79.63}
	g, err := grid.Build([]model.RawPoint{{Lat: 43.5825, Lng: -79.6375}}, bounds, 0.005, grid.KindCrime)
	require.NoError(t, err)

	fc, err := Grid(g)
	require.NoError(t, err)
	out := decode(t, func(b *bytes.Buffer) { require.NoError(t, Write(b, fc)) })

	require.Len(t, out.Features, 1)
	f := out.Features[0]
	assert.Equal(t, "crime-0-0", f.ID)
	assert.Equal(t, "Polygon", f.Geometry.Type)
	assert.Equal(t, "crime", f.Properties["kind"])
	assert.Equal(t, 100.0, f.Properties["percentile"])

	var rings [][][]float64
	require.NoError(t, json.Unmarshal(f.Geometry.Coordinates, &rings))
	require.Len(t, rings, 1)
	require.Len(t, rings[0], 5)
	assert.Equal(t, rings[0][0], rings[0][4])
	assert.InDelta(t, -79.64, rings[0][0][0], 1e-9)
	assert.InDelta(t, 43.58, rings[0][0][1], 1e-9)
	assert.Len(t, out.BBox, 4)
}

func TestGrid_Empty(t *testing.T) {
	fc, err := Grid(&grid.SafetyGrid{Kind: grid.KindLighting})
	require.NoError(t, err)
	assert.Empty(t, fc.Features)

	_, err = Grid(nil)
	assert.Error(t, err)
}

func TestReports(t *testing.T) {
	fc := Reports([]model.CommunityReport{{ID: "r1", Lat: 43.58, Lng: -79.63, Type: model.ReportBlockedPath, Upvotes: 4}})
	out := decode(t, func(b *bytes.Buffer) { require.NoError(t, Write(b, fc)) })

	require.Len(t, out.Features, 1)
	assert.Equal(t, "r1", out.Features[0].ID)
	assert.JSONEq(t, `[-79.63,43.58]`, string(out.Features[0].Geometry.Coordinates))
	assert.Equal(t, "blocked_path", out.Features[0].Properties["type"])
}
