package grid

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saferoute/internal/model"
)

func TestLookup(t *testing.T) {
	pts := []model.RawPoint{
		{Lat: 43.6001, Lng: -79.6001, Weight: 5},
		{Lat: 43.7001, Lng: -79.5001, Weight: 1},
	}
	g, err := Build(pts, toronto, 0.005, KindLighting)
	require.NoError(t, err)

	tests := []struct {
		name  string
		lat   float64
		lng   float64
		found bool
		score float64
	}{
		{"populated dense", 43.6004, -79.6004, true, 50},
		{"populated sparse", 43.7002, -79.5002, true, 10},
		{"unpopulated", 43.75, -79.3, false, NeutralLightingScore},
		{"out of bounds", 44.5, -79.3, false, NeutralLightingScore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := g.Lookup(tt.lat, tt.lng)
			assert.Equal(t, tt.found, s.Found)
			assert.Equal(t, tt.score, s.Score)
		})
	}
}

func TestLookup_NilGrid(t *testing.T) {
	var g *SafetyGrid
	s := g.Lookup(43.7, -79.4)
	assert.False(t, s.Found)
	assert.Equal(t, NeutralCrimeScore, s.Score)
	assert.True(t, g.Empty())
}

func TestCodec_RoundTrip(t *testing.T) {
	g, err := Build(uniformPoints(200, 5), toronto, 0.01, KindCrime, WithVersion("2026-10"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, g))

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, g.Cells, got.Cells)
	assert.Equal(t, g.PercentileThresholds, got.PercentileThresholds)
	assert.Equal(t, "2026-10", got.Version)

	for _, c := range g.Cells {
		lat := (c.LatMin + c.LatMax) / 2
		lng := (c.LngMin + c.LngMax) / 2
		assert.Equal(t, g.Lookup(lat, lng), got.Lookup(lat, lng))
	}
}

func TestDecode_RejectsDecreasingThresholds(t *testing.T) {
	raw := `{"kind":"crime","cell_size_degrees":0.01,
		"bounds":{"min_lat":43.58,"max_lat":43.85,"min_lng":-79.64,"max_lng":-79.12},
		"percentile_thresholds":[5,4,3,2,1,1,1,1,1,1],"cells":[]}`
	_, err := Unmarshal([]byte(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thresholds decrease")
}

func TestDecode_RejectsBadKind(t *testing.T) {
	raw := `{"kind":"noise","cell_size_degrees":0.01,
		"bounds":{"min_lat":43.58,"max_lat":43.85,"min_lng":-79.64,"max_lng":-79.12}}`
	_, err := Unmarshal([]byte(raw))
	assert.Error(t, err)
}

func TestHolder_PublishAndReplace(t *testing.T) {
	h := NewHolder()
	require.NotNil(t, h.Load())
	assert.True(t, h.Load().Degraded())

	crime, err := Build(uniformPoints(50, 1), toronto, 0.01, KindCrime)
	require.NoError(t, err)
	lighting, err := Build(uniformPoints(50, 2), toronto, 0.01, KindLighting)
	require.NoError(t, err)

	old := h.Load()
	s1 := h.Publish(crime, lighting)
	assert.False(t, s1.Degraded())
	assert.Nil(t, old.Crime, "earlier snapshot is untouched")

	crime2, err := Build(uniformPoints(60, 3), toronto, 0.01, KindCrime)
	require.NoError(t, err)
	s2 := h.Replace(crime2)
	assert.Same(t, crime2, s2.Crime)
	assert.Same(t, lighting, s2.Lighting)
	assert.Same(t, crime, s1.Crime)
	assert.Greater(t, s2.Generation, s1.Generation)
}

func TestHolder_ConcurrentReadsDuringSwap(t *testing.T) {
	h := NewHolder()
	g, err := Build(uniformPoints(100, 9), toronto, 0.01, KindCrime)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s := h.Load()
				_ = s.Crime.Lookup(43.7, -79.4)
			}
		}()
	}
	for i := 0; i < 50; i++ {
		h.Replace(g)
	}
	wg.Wait()
	assert.Same(t, g, h.Load().Crime)
}

func TestSummarize(t *testing.T) {
	g, err := Build(uniformPoints(100, 4), toronto, 0.05, KindLighting)
	require.NoError(t, err)
	s := g.Summarize()
	assert.Equal(t, len(g.Cells), s.Cells)
	total := 0
	for _, n := range s.ByHint {
		total += n
	}
	assert.Equal(t, s.Cells, total)
}
