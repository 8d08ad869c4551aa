// Package scoring samples candidate routes against the safety grids and
// community reports and produces one composite score per route.
package scoring

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/saferoute/internal/grid"
)

// Weights blends the crime and lighting sub-scores. They must sum to 1.
type Weights struct {
	Crime    float64 `yaml:"crime" mapstructure:"crime" json:"crime"`
	Lighting float64 `yaml:"lighting" mapstructure:"lighting" json:"lighting"`
}

// Profile is the tunable part of scoring and selection.
type Profile struct {
	Weights Weights `yaml:"weights" mapstructure:"weights"`
	// BalancedPenalty is P in safety - P * extraDistanceRatio.
	BalancedPenalty float64 `yaml:"balanced_penalty" mapstructure:"balanced_penalty"`
	// MaxSampleSpacingMeters bounds the length of each sampled piece of a segment.
	MaxSampleSpacingMeters float64 `yaml:"max_sample_spacing_meters" mapstructure:"max_sample_spacing_meters"`
	// ReportRadiusMeters overrides the adjuster radius when positive.
	ReportRadiusMeters float64 `yaml:"report_radius_meters" mapstructure:"report_radius_meters"`
	// CrimeTable and LightingTable override the grid lookup tables (10 entries).
	CrimeTable    []grid.Entry `yaml:"crime_table,omitempty" mapstructure:"crime_table"`
	LightingTable []grid.Entry `yaml:"lighting_table,omitempty" mapstructure:"lighting_table"`
}

// Default blend and selection constants.
const (
	DefaultCrimeWeight            = 0.6
	DefaultLightingWeight         = 0.4
	DefaultBalancedPenalty        = 40.0
	DefaultMaxSampleSpacingMeters = 25.0
)

// DefaultProfile returns the built-in profile.
func DefaultProfile() Profile {
	return Profile{
		Weights:                Weights{Crime: DefaultCrimeWeight, Lighting: DefaultLightingWeight},
		BalancedPenalty:        DefaultBalancedPenalty,
		MaxSampleSpacingMeters: DefaultMaxSampleSpacingMeters,
	}
}

// Table returns the lookup table to build a grid of kind with.
func (p Profile) Table(kind grid.Kind) grid.Table {
	src := p.CrimeTable
	if kind == grid.KindLighting {
		src = p.LightingTable
	}
	if len(src) != len(grid.Table{}) {
		return grid.DefaultTable(kind)
	}
	var t grid.Table
	copy(t[:], src)
	return t
}

// Validate checks that a Profile is internally consistent.
func (p Profile) Validate() error {
	var errs []string

	if p.Weights.Crime < 0 {
		errs = append(errs, "weights.crime must be >= 0")
	}
	if p.Weights.Lighting < 0 {
		errs = append(errs, "weights.lighting must be >= 0")
	}
	if sum := p.Weights.Crime + p.Weights.Lighting; math.Abs(sum-1) > 1e-6 {
		errs = append(errs, fmt.Sprintf("weights should sum to 1, got %.4f", sum))
	}
	if p.BalancedPenalty < 0 {
		errs = append(errs, "balanced_penalty must be >= 0")
	}
	if p.MaxSampleSpacingMeters <= 0 {
		errs = append(errs, "max_sample_spacing_meters must be > 0")
	}
	if p.ReportRadiusMeters < 0 {
		errs = append(errs, "report_radius_meters must be >= 0")
	}
	for _, tc := range []struct {
		kind  grid.Kind
		table []grid.Entry
	}{{grid.KindCrime, p.CrimeTable}, {grid.KindLighting, p.LightingTable}} {
		if len(tc.table) == 0 {
			continue
		}
		if len(tc.table) != len(grid.Table{}) {
			errs = append(errs, fmt.Sprintf("%s_table must have 10 entries, got %d", tc.kind, len(tc.table)))
			continue
		}
		if err := p.Table(tc.kind).Validate(tc.kind); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("scoring: profile validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LoadProfile reads a YAML profile from path. Unset fields keep defaults.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, eris.Wrapf(err, "scoring: read profile %s", path)
	}
	return ParseProfile(data)
}

// ParseProfile decodes a YAML profile over the defaults and validates it.
func ParseProfile(data []byte) (Profile, error) {
	p := DefaultProfile()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, eris.Wrap(err, "scoring: parse profile")
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}
