// Package grid bins point datasets into fixed-size lat/lng cells, ranks the
// cells by decile and serves read-only safety lookups.
package grid

import (
	"math"
	"time"

	"github.com/sells-group/saferoute/internal/model"
)

// Cell is one populated bin of a SafetyGrid.
type Cell struct {
	LatBin     int     `json:"lat_bin"`
	LngBin     int     `json:"lng_bin"`
	LatMin     float64 `json:"lat_min"`
	LatMax     float64 `json:"lat_max"`
	LngMin     float64 `json:"lng_min"`
	LngMax     float64 `json:"lng_max"`
	Count      float64 `json:"count"`
	Percentile int     `json:"percentile"`
	Score      float64 `json:"score"`
	VisualHint string  `json:"visual_hint"`
}

type binKey struct {
	lat, lng int
}

// SafetyGrid is an immutable spatial index. It is never mutated after Build
// or Decode returns; dataset refreshes build a new grid.
type SafetyGrid struct {
	Kind                 Kind        `json:"kind"`
	CellSizeDegrees      float64     `json:"cell_size_degrees"`
	Bounds               model.BBox  `json:"bounds"`
	PercentileThresholds [10]float64 `json:"percentile_thresholds"`
	Cells                []Cell      `json:"cells"`
	TotalWeight          float64     `json:"total_weight"`
	Version              string      `json:"version,omitempty"`
	BuiltAt              time.Time   `json:"built_at"`

	index map[binKey]int
}

// Sample is the result of a point lookup.
type Sample struct {
	Score      float64 `json:"score"`
	Percentile int     `json:"percentile"`
	Hint       string  `json:"hint"`
	Found      bool    `json:"found"`
}

// Empty reports whether the grid has no populated cells. A nil grid is empty.
func (g *SafetyGrid) Empty() bool {
	return g == nil || len(g.Cells) == 0
}

// bin computes the cell indices for a point, matching the builder.
func bin(lat, lng float64, bounds model.BBox, cellSize float64) binKey {
	return binKey{
		lat: int(math.Floor((lat - bounds.MinLat) / cellSize)),
		lng: int(math.Floor((lng - bounds.MinLng) / cellSize)),
	}
}

// Lookup returns the cell score at a point. Points outside the bounds or in
// unpopulated cells get the neutral score for the grid kind.
func (g *SafetyGrid) Lookup(lat, lng float64) Sample {
	c, ok := g.Cell(lat, lng)
	if !ok {
		return Sample{Score: NeutralScore(g.kind()), Hint: NeutralHint}
	}
	return Sample{Score: c.Score, Percentile: c.Percentile, Hint: c.VisualHint, Found: true}
}

// Cell returns the populated cell containing the point, if any.
func (g *SafetyGrid) Cell(lat, lng float64) (Cell, bool) {
	if g.Empty() || !g.Bounds.Contains(lat, lng) {
		return Cell{}, false
	}
	i, ok := g.index[bin(lat, lng, g.Bounds, g.CellSizeDegrees)]
	if !ok {
		return Cell{}, false
	}
	return g.Cells[i], true
}

func (g *SafetyGrid) kind() Kind {
	if g == nil {
		return KindCrime
	}
	return g.Kind
}

func (g *SafetyGrid) buildIndex() {
	g.index = make(map[binKey]int, len(g.Cells))
	for i, c := range g.Cells {
		g.index[binKey{lat: c.LatBin, lng: c.LngBin}] = i
	}
}

// Summary describes a grid for logs and CLI output.
type Summary struct {
	Kind        Kind           `json:"kind" yaml:"kind"`
	Version     string         `json:"version" yaml:"version"`
	Cells       int            `json:"cells" yaml:"cells"`
	TotalWeight float64        `json:"total_weight" yaml:"total_weight"`
	CellSize    float64        `json:"cell_size_degrees" yaml:"cell_size_degrees"`
	Thresholds  [10]float64    `json:"percentile_thresholds" yaml:"percentile_thresholds"`
	ByHint      map[string]int `json:"by_hint" yaml:"by_hint"`
}

// Summarize returns a Summary of g.
func (g *SafetyGrid) Summarize() Summary {
	if g == nil {
		return Summary{ByHint: map[string]int{}}
	}
	s := Summary{
		Kind:        g.Kind,
		Version:     g.Version,
		Cells:       len(g.Cells),
		TotalWeight: g.TotalWeight,
		CellSize:    g.CellSizeDegrees,
		Thresholds:  g.PercentileThresholds,
		ByHint:      make(map[string]int),
	}
	for _, c := range g.Cells {
		s.ByHint[c.VisualHint]++
	}
	return s
}
