package grid

import (
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/model"
)

// ErrEmptyDataset is reported by BuildChecked when no point fell inside the
// bounds. The accompanying grid is still valid and serves neutral lookups.
var ErrEmptyDataset = eris.New("grid: dataset yielded zero in-bounds points")

// Option configures Build.
type Option func(*buildOptions)

type buildOptions struct {
	table   *Table
	version string
	now     func() time.Time
}

// WithTable overrides the default percentile lookup table.
func WithTable(t Table) Option {
	return func(o *buildOptions) {
		o.table = &t
	}
}

// WithVersion tags the grid with a dataset version label.
func WithVersion(v string) Option {
	return func(o *buildOptions) {
		o.version = v
	}
}

// WithClock sets the clock used for BuiltAt.
func WithClock(now func() time.Time) Option {
	return func(o *buildOptions) {
		o.now = now
	}
}

// Build bins points into cells of cellSize degrees inside bounds and ranks
// each populated cell by decile of its accumulated weight. Points outside the
// bounds are ignored. Zero in-bounds points yield a grid with no cells.
func Build(points []model.RawPoint, bounds model.BBox, cellSize float64, kind Kind, opts ...Option) (*SafetyGrid, error) {
	g, _, err := build(points, bounds, cellSize, kind, opts)
	return g, err
}

// BuildChecked is Build that additionally returns ErrEmptyDataset (with a
// valid empty grid) when nothing was binned.
func BuildChecked(points []model.RawPoint, bounds model.BBox, cellSize float64, kind Kind, opts ...Option) (*SafetyGrid, error) {
	g, binned, err := build(points, bounds, cellSize, kind, opts)
	if err != nil {
		return nil, err
	}
	if binned == 0 {
		return g, ErrEmptyDataset
	}
	return g, nil
}

func build(points []model.RawPoint, bounds model.BBox, cellSize float64, kind Kind, opts []Option) (*SafetyGrid, int, error) {
	if cellSize <= 0 || math.IsNaN(cellSize) || math.IsInf(cellSize, 0) {
		return nil, 0, eris.Errorf("grid: cell size must be positive, got %v", cellSize)
	}
	if err := bounds.Validate(); err != nil {
		return nil, 0, eris.Wrap(err, "grid: bounds")
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, 0, err
	}

	o := buildOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	table := DefaultTable(kind)
	if o.table != nil {
		if err := o.table.Validate(kind); err != nil {
			return nil, 0, err
		}
		table = *o.table
	}

	weights := make(map[binKey]float64)
	var total float64
	binned := 0
	for _, p := range points {
		if !bounds.Contains(p.Lat, p.Lng) {
			continue
		}
		w := p.EffectiveWeight()
		weights[bin(p.Lat, p.Lng, bounds, cellSize)] += w
		total += w
		binned++
	}

	keys := make([]binKey, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].lat != keys[j].lat {
			return keys[i].lat < keys[j].lat
		}
		return keys[i].lng < keys[j].lng
	})

	counts := make([]float64, len(keys))
	for i, k := range keys {
		counts[i] = weights[k]
	}
	thresholds := decileThresholds(counts)
	uniform := len(counts) > 0 && minOf(counts) == maxOf(counts)

	cells := make([]Cell, len(keys))
	for i, k := range keys {
		count := counts[i]
		pct := 100
		if !uniform {
			pct = percentileOf(count, thresholds)
		}
		e := table.Lookup(pct)
		cells[i] = Cell{
			LatBin:     k.lat,
			LngBin:     k.lng,
			LatMin:     bounds.MinLat + float64(k.lat)*cellSize,
			LatMax:     bounds.MinLat + float64(k.lat+1)*cellSize,
			LngMin:     bounds.MinLng + float64(k.lng)*cellSize,
			LngMax:     bounds.MinLng + float64(k.lng+1)*cellSize,
			Count:      count,
			Percentile: pct,
			Score:      e.Score,
			VisualHint: e.Hint,
		}
	}

	g := &SafetyGrid{
		Kind:                 kind,
		CellSizeDegrees:      cellSize,
		Bounds:               bounds,
		PercentileThresholds: thresholds,
		Cells:                cells,
		TotalWeight:          total,
		Version:              o.version,
		BuiltAt:              o.now().UTC(),
	}
	g.buildIndex()

	zap.L().Debug("grid: built",
		zap.String("kind", string(kind)),
		zap.Int("points", len(points)),
		zap.Int("binned", binned),
		zap.Int("cells", len(cells)),
	)
	return g, binned, nil
}

// decileThresholds sorts a copy of counts and picks sorted[floor(n*p)] for
// p = 0.1 .. 1.0, clamped to the last element. Empty input gives all zeros.
func decileThresholds(counts []float64) [10]float64 {
	var t [10]float64
	n := len(counts)
	if n == 0 {
		return t
	}
	sorted := make([]float64, n)
	copy(sorted, counts)
	sort.Float64s(sorted)
	for i := range t {
		idx := n * (i + 1) / 10
		if idx >= n {
			idx = n - 1
		}
		t[i] = sorted[idx]
	}
	return t
}

// percentileOf returns (i+1)*10 for the smallest i with count <= thresholds[i],
// or 100 when count exceeds every threshold.
func percentileOf(count float64, thresholds [10]float64) int {
	for i, th := range thresholds {
		if count <= th {
			return (i + 1) * 10
		}
	}
	return 100
}

func minOf(v []float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxOf(v []float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		if x > m {
			m = x
		}
	}
	return m
}
