package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutePath_Polyline(t *testing.T) {
	a := LatLng{43.650, -79.380}
	b := LatLng{43.652, -79.380}
	c := LatLng{43.654, -79.381}
	r := RoutePath{Legs: []Leg{
		{Steps: []Step{{Points: []LatLng{a, b}}, {Points: []LatLng{b, c}}}},
		{Steps: []Step{{Points: []LatLng{c, a}}}},
	}}
	assert.Equal(t, []LatLng{a, b, c, a}, r.Polyline())
	assert.Empty(t, RoutePath{}.Polyline())
}

func TestSelection_Valid(t *testing.T) {
	assert.True(t, SelectShortest.Valid())
	assert.True(t, SelectSafest.Valid())
	assert.True(t, SelectBalanced.Valid())
	assert.False(t, Selection("scenic").Valid())
	assert.False(t, Selection("").Valid())
}

func TestRouteComparison_CloneAndSelect(t *testing.T) {
	orig := &RouteComparison{
		Routes:        []RouteScore{{DistanceMeters: 400}, {DistanceMeters: 700}},
		ShortestIndex: 0,
		SafestIndex:   1,
		BalancedIndex: 1,
	}
	orig.Shortest = &orig.Routes[0]
	orig.Safest = &orig.Routes[1]
	orig.Balanced = &orig.Routes[1]

	cp := orig.Clone()
	require.Len(t, cp.Routes, 2)
	assert.Equal(t, 400.0, cp.Select(SelectShortest).DistanceMeters)
	assert.Equal(t, 700.0, cp.Select(SelectSafest).DistanceMeters)
	assert.Nil(t, cp.Select("scenic"))

	cp.Routes[0].DistanceMeters = 1
	assert.Equal(t, 400.0, orig.Shortest.DistanceMeters, "clone must not share route storage")
	assert.Same(t, &cp.Routes[0], cp.Shortest)

	empty := (&RouteComparison{}).Clone()
	assert.Nil(t, empty.Shortest)
}

func TestReportType_Valid(t *testing.T) {
	for _, typ := range ReportTypes {
		assert.True(t, typ.Valid(), typ)
	}
	assert.False(t, ReportType("graffiti").Valid())
}

func TestCommunityReport_TimeAndPoint(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := CommunityReport{Lat: 43.65, Lng: -79.38, TimestampMillis: ts.UnixMilli()}
	assert.True(t, r.Time().Equal(ts))
	assert.Equal(t, LatLng{43.65, -79.38}, r.Point())
}
