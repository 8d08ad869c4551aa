package grid

import "github.com/rotisserie/eris"

// Kind selects the score semantics of a grid.
type Kind string

const (
	// KindCrime grids score lower where incidents are denser.
	KindCrime Kind = "crime"
	// KindLighting grids score higher where streetlights are denser.
	KindLighting Kind = "lighting"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindCrime, KindLighting:
		return Kind(s), nil
	}
	return "", eris.Errorf("grid: unknown kind %q", s)
}

// Neutral scores returned for points with no recorded data.
const (
	NeutralCrimeScore    = 100.0
	NeutralLightingScore = 50.0
	NeutralHint          = "none"
)

// NeutralScore returns the score used for out-of-bounds or unpopulated cells.
func NeutralScore(kind Kind) float64 {
	if kind == KindLighting {
		return NeutralLightingScore
	}
	return NeutralCrimeScore
}

// Entry is the score and display hint for one percentile bucket.
type Entry struct {
	Score float64 `json:"score" yaml:"score"`
	Hint  string  `json:"hint" yaml:"hint"`
}

// Table maps decile buckets (index 0 = percentile 10) to score and hint.
type Table [10]Entry

// DefaultTable returns the built-in lookup table for kind.
func DefaultTable(kind Kind) Table {
	var t Table
	for i := range t {
		pct := (i + 1) * 10
		if kind == KindLighting {
			t[i] = Entry{Score: float64(pct), Hint: lightingHint(pct)}
		} else {
			t[i] = Entry{Score: float64(110 - pct), Hint: crimeHint(pct)}
		}
	}
	return t
}

func crimeHint(pct int) string {
	switch {
	case pct <= 20:
		return "very_low"
	case pct <= 40:
		return "low"
	case pct <= 60:
		return "moderate"
	case pct <= 80:
		return "high"
	default:
		return "very_high"
	}
}

func lightingHint(pct int) string {
	switch {
	case pct <= 20:
		return "dark"
	case pct <= 40:
		return "dim"
	case pct <= 60:
		return "moderate"
	case pct <= 80:
		return "lit"
	default:
		return "bright"
	}
}

// Lookup returns the entry for a percentile in [10,100].
func (t Table) Lookup(percentile int) Entry {
	i := percentile/10 - 1
	if i < 0 {
		i = 0
	}
	if i > 9 {
		i = 9
	}
	return t[i]
}

// Validate checks that scores lie in [0,100] and are monotonic in the
// direction required by kind.
func (t Table) Validate(kind Kind) error {
	for i, e := range t {
		if e.Score < 0 || e.Score > 100 {
			return eris.Errorf("grid: %s table bucket %d score %.2f outside [0,100]", kind, (i+1)*10, e.Score)
		}
		if i == 0 {
			continue
		}
		prev := t[i-1].Score
		if kind == KindCrime && e.Score > prev {
			return eris.Errorf("grid: crime table must be non-increasing at bucket %d", (i+1)*10)
		}
		if kind == KindLighting && e.Score < prev {
			return eris.Errorf("grid: lighting table must be non-decreasing at bucket %d", (i+1)*10)
		}
	}
	return nil
}
