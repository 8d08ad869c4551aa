package grid

import (
	"math"

	"github.com/sells-group/saferoute/internal/model"
)

// Bin is one pre-binned record from a lighting dataset.
type Bin struct {
	LatBin int     `json:"lat_bin"`
	LngBin int     `json:"lng_bin"`
	Count  float64 `json:"count"`
}

// BinLayout describes the grid a pre-binned dataset was produced on.
type BinLayout struct {
	Origin   model.LatLng `json:"origin"`
	CellSize float64      `json:"cell_size_degrees"`
}

// BinsToPoints converts pre-binned records into weighted points placed at
// each source cell centroid, so they can be re-binned at any resolution.
// Records with a non-positive count are dropped.
func BinsToPoints(bins []Bin, layout BinLayout) []model.RawPoint {
	out := make([]model.RawPoint, 0, len(bins))
	for _, b := range bins {
		if b.Count <= 0 || math.IsNaN(b.Count) {
			continue
		}
		out = append(out, model.RawPoint{
			Lat:    layout.Origin.Lat + (float64(b.LatBin)+0.5)*layout.CellSize,
			Lng:    layout.Origin.Lng + (float64(b.LngBin)+0.5)*layout.CellSize,
			Weight: b.Count,
		})
	}
	return out
}

// BuildFromBins re-bins a pre-binned dataset onto the target grid. A zero
// layout means the bins share the target grid; a layout without a cell size
// uses the target cell size. Like BuildChecked, it returns ErrEmptyDataset
// with a valid empty grid when nothing lands inside the bounds.
func BuildFromBins(bins []Bin, layout BinLayout, bounds model.BBox, cellSize float64, kind Kind, opts ...Option) (*SafetyGrid, error) {
	if layout == (BinLayout{}) {
		layout.Origin = model.LatLng{Lat: bounds.MinLat, Lng: bounds.MinLng}
	}
	if layout.CellSize <= 0 {
		layout.CellSize = cellSize
	}
	return BuildChecked(BinsToPoints(bins, layout), bounds, cellSize, kind, opts...)
}
