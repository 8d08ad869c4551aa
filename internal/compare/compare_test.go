package compare

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saferoute/internal/grid"
	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/scoring"
)

func score(dist, dur, combined float64) model.RouteScore {
	return model.RouteScore{DistanceMeters: dist, DurationSeconds: dur, CombinedSafetyScore: combined}
}

func opts() Options {
	return Options{BalancedPenalty: scoring.DefaultBalancedPenalty}
}

func TestCompare_Empty(t *testing.T) {
	c, err := Compare(nil, opts())
	assert.ErrorIs(t, err, ErrNoRoutes)
	assert.Nil(t, c)
}

func TestCompare_SingleRouteSameReference(t *testing.T) {
	c, err := Compare([]model.RouteScore{score(500, 400, 70)}, opts())
	require.NoError(t, err)
	require.Len(t, c.Routes, 1)
	assert.Same(t, &c.Routes[0], c.Shortest)
	assert.Same(t, c.Shortest, c.Safest)
	assert.Same(t, c.Shortest, c.Balanced)
}

func TestCompare_DominantRouteWinsAllRoles(t *testing.T) {
	c, err := Compare([]model.RouteScore{score(1200, 900, 55), score(800, 600, 90)}, opts())
	require.NoError(t, err)
	assert.Same(t, &c.Routes[1], c.Shortest)
	assert.Same(t, &c.Routes[1], c.Safest)
	assert.Same(t, &c.Routes[1], c.Balanced)
	assert.Equal(t, 1, c.ShortestIndex)
	assert.Equal(t, 1, c.SafestIndex)
	assert.Equal(t, 1, c.BalancedIndex)
}

func TestCompare_SafestOverShortest(t *testing.T) {
	c, err := Compare([]model.RouteScore{score(900, 700, 82), score(850, 650, 60)}, opts())
	require.NoError(t, err)
	assert.Equal(t, 850.0, c.Shortest.DistanceMeters)
	assert.Equal(t, 82.0, c.Safest.CombinedSafetyScore)
	// 82 - 40 * (50/850) = 79.6 beats 60.
	assert.Same(t, c.Safest, c.Balanced)
}

func TestCompare_BalancedPenalisesDetours(t *testing.T) {
	routes := []model.RouteScore{
		score(1000, 750, 70),  // objective 70
		score(1500, 1100, 85), // 85 - 40*0.5 = 65
		score(1100, 800, 80),  // 80 - 40*0.1 = 76
	}
	c, err := Compare(routes, opts())
	require.NoError(t, err)
	assert.Equal(t, 0, c.ShortestIndex)
	assert.Equal(t, 1, c.SafestIndex)
	assert.Equal(t, 2, c.BalancedIndex)

	c, err = Compare(routes[:2], opts())
	require.NoError(t, err)
	assert.Equal(t, 1, c.SafestIndex)
	assert.Equal(t, 0, c.BalancedIndex)
}

func TestCompare_TieBreaks(t *testing.T) {
	t.Run("shortest by duration", func(t *testing.T) {
		c, err := Compare([]model.RouteScore{score(800, 700, 50), score(800, 650, 50)}, opts())
		require.NoError(t, err)
		assert.Equal(t, 1, c.ShortestIndex)
	})
	t.Run("safest by distance", func(t *testing.T) {
		c, err := Compare([]model.RouteScore{score(950, 700, 75), score(900, 720, 75)}, opts())
		require.NoError(t, err)
		assert.Equal(t, 1, c.SafestIndex)
	})
	t.Run("full tie keeps first", func(t *testing.T) {
		c, err := Compare([]model.RouteScore{score(900, 700, 75), score(900, 700, 75)}, opts())
		require.NoError(t, err)
		assert.Equal(t, 0, c.ShortestIndex)
		assert.Equal(t, 0, c.SafestIndex)
		assert.Equal(t, 0, c.BalancedIndex)
	})
}

func TestCompare_DoesNotAliasInput(t *testing.T) {
	in := []model.RouteScore{score(900, 700, 82), score(850, 650, 60)}
	c, err := Compare(in, opts())
	require.NoError(t, err)
	in[0].CombinedSafetyScore = 0
	assert.Equal(t, 82.0, c.Safest.CombinedSafetyScore)
}

func TestCompare_DistanceOnly(t *testing.T) {
	c, err := Compare([]model.RouteScore{score(900, 700, 82), score(850, 650, 60)}, Options{
		BalancedPenalty: 40,
		DistanceOnly:    true,
		DegradedReason:  "crime grid unavailable",
	})
	require.NoError(t, err)
	assert.True(t, c.Degraded)
	assert.Equal(t, "crime grid unavailable", c.DegradedReason)
	assert.Same(t, c.Shortest, c.Safest)
	assert.Same(t, c.Shortest, c.Balanced)
}

func TestObjective_ZeroShortestDistance(t *testing.T) {
	assert.Equal(t, 70.0, Objective(score(100, 60, 70), 0, 40))
	assert.InDelta(t, 62.0, Objective(score(120, 60, 70), 100, 40), 1e-9)
}

var toronto = model.BBox{MinLat: 43.58, MaxLat: 43.85, MinLng: -79.64, MaxLng: -79.12}

func path(pts ...model.LatLng) model.RoutePath {
	return model.RoutePath{
		Legs:            []model.Leg{{Steps: []model.Step{{Points: pts}}}},
		DistanceMeters:  float64(len(pts)) * 100,
		DurationSeconds: float64(len(pts)) * 70,
	}
}

func TestCompareRoutes_Degraded(t *testing.T) {
	c := New(scoring.DefaultProfile())
	lighting, err := grid.Build([]model.RawPoint{{Lat: 43.65, Lng: -79.38}}, toronto, 0.005, grid.KindLighting)
	require.NoError(t, err)

	short := path(model.LatLng{Lat: 43.650, Lng: -79.380}, model.LatLng{Lat: 43.652, Lng: -79.380})
	long := path(model.LatLng{Lat: 43.650, Lng: -79.380}, model.LatLng{Lat: 43.651, Lng: -79.381}, model.LatLng{Lat: 43.652, Lng: -79.380})

	got, err := c.CompareRoutes(context.Background(), []model.RoutePath{long, short}, nil, lighting, nil)
	require.NoError(t, err)
	assert.True(t, got.Degraded)
	assert.Equal(t, "crime grid unavailable", got.DegradedReason)
	assert.Equal(t, 1, got.ShortestIndex)
	assert.Same(t, got.Shortest, got.Safest)
	assert.Same(t, got.Shortest, got.Balanced)
	// Sub-scores are still reported.
	assert.Equal(t, 100.0, got.Routes[0].CrimeSafetyScore)

	got, err = c.CompareRoutes(context.Background(), []model.RoutePath{short}, &grid.SafetyGrid{Kind: grid.KindCrime}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "crime and lighting grid unavailable", got.DegradedReason)
}

func TestCompareRoutes_ScoresInParallelDeterministically(t *testing.T) {
	var crimePts []model.RawPoint
	for i := 0; i < 30; i++ {
		crimePts = append(crimePts, model.RawPoint{Lat: 43.6505, Lng: -79.3795})
	}
	crimePts = append(crimePts, model.RawPoint{Lat: 43.6505, Lng: -79.3845}, model.RawPoint{Lat: 43.6555, Lng: -79.3845})
	crime, err := grid.Build(crimePts, toronto, 0.005, grid.KindCrime)
	require.NoError(t, err)
	lighting, err := grid.Build([]model.RawPoint{{Lat: 43.6505, Lng: -79.3845, Weight: 20}, {Lat: 43.6505, Lng: -79.3795, Weight: 2}}, toronto, 0.005, grid.KindLighting)
	require.NoError(t, err)

	// Direct through the hot cell versus a detour one cell west.
	direct := path(model.LatLng{Lat: 43.6502, Lng: -79.3790}, model.LatLng{Lat: 43.6540, Lng: -79.3790})
	detour := path(model.LatLng{Lat: 43.6502, Lng: -79.3790}, model.LatLng{Lat: 43.6502, Lng: -79.3840}, model.LatLng{Lat: 43.6540, Lng: -79.3840}, model.LatLng{Lat: 43.6540, Lng: -79.3790})
	candidates := []model.RoutePath{direct, detour}

	c := New(scoring.DefaultProfile())
	first, err := c.CompareRoutes(context.Background(), candidates, crime, lighting, nil)
	require.NoError(t, err)
	assert.False(t, first.Degraded)
	assert.Equal(t, 0, first.ShortestIndex)
	assert.Equal(t, 1, first.SafestIndex)
	assert.Greater(t, first.Routes[1].CombinedSafetyScore, first.Routes[0].CombinedSafetyScore)

	for i := 0; i < 10; i++ {
		again, err := c.CompareRoutes(context.Background(), candidates, crime, lighting, nil)
		require.NoError(t, err)
		assert.Equal(t, first.Routes, again.Routes)
		assert.Equal(t, first.BalancedIndex, again.BalancedIndex)
	}
}

func TestCompareRoutes_Errors(t *testing.T) {
	c := New(scoring.DefaultProfile())
	_, err := c.CompareRoutes(context.Background(), nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoRoutes)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.CompareRoutes(ctx, []model.RoutePath{path(model.LatLng{Lat: 43.65, Lng: -79.38})}, nil, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
