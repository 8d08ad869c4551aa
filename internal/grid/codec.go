package grid

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// Encode writes the grid artifact as JSON.
func Encode(w io.Writer, g *SafetyGrid) error {
	if g == nil {
		return eris.New("grid: encode nil grid")
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(g), "grid: encode")
}

// Decode reads a grid artifact, validates it and rebuilds the lookup index.
func Decode(r io.Reader) (*SafetyGrid, error) {
	var g SafetyGrid
	if err := json.NewDecoder(r).Decode(&g); err != nil {
		return nil, eris.Wrap(err, "grid: decode")
	}
	return Restore(g)
}

// Unmarshal decodes a grid artifact from bytes.
func Unmarshal(data []byte) (*SafetyGrid, error) {
	var g SafetyGrid
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, eris.Wrap(err, "grid: unmarshal")
	}
	return Restore(g)
}

// Restore validates a grid assembled from storage and rebuilds its index.
func Restore(g SafetyGrid) (*SafetyGrid, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}
	g.buildIndex()
	return &g, nil
}

func (g *SafetyGrid) validate() error {
	if _, err := ParseKind(string(g.Kind)); err != nil {
		return err
	}
	if g.CellSizeDegrees <= 0 {
		return eris.Errorf("grid: artifact cell size must be positive, got %v", g.CellSizeDegrees)
	}
	if err := g.Bounds.Validate(); err != nil {
		return eris.Wrap(err, "grid: artifact bounds")
	}
	for i := 1; i < len(g.PercentileThresholds); i++ {
		if g.PercentileThresholds[i] < g.PercentileThresholds[i-1] {
			return eris.Errorf("grid: artifact thresholds decrease at index %d", i)
		}
	}
	seen := make(map[binKey]bool, len(g.Cells))
	for _, c := range g.Cells {
		k := binKey{lat: c.LatBin, lng: c.LngBin}
		if seen[k] {
			return eris.Errorf("grid: artifact has duplicate cell (%d,%d)", c.LatBin, c.LngBin)
		}
		seen[k] = true
		if c.Percentile < 10 || c.Percentile > 100 {
			return eris.Errorf("grid: artifact cell (%d,%d) percentile %d outside [10,100]", c.LatBin, c.LngBin, c.Percentile)
		}
	}
	return nil
}
