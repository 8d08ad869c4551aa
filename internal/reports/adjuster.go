// Package reports turns community hazard reports into route safety penalties.
package reports

import (
	"sort"
	"time"

	"github.com/sells-group/saferoute/internal/geo"
	"github.com/sells-group/saferoute/internal/model"
)

// Config controls which reports count and how much they weigh.
type Config struct {
	// FreshnessWindow is how long a report stays valid without confirmation.
	FreshnessWindow time.Duration `mapstructure:"freshness_window" yaml:"freshness_window"`
	// MinUpvotes confirms a report regardless of age.
	MinUpvotes int `mapstructure:"min_upvotes" yaml:"min_upvotes"`
	// MinConfidence is the lowest vote confidence (0-100) a valid report may have.
	MinConfidence float64 `mapstructure:"min_confidence" yaml:"min_confidence"`
	// RadiusMeters is the default proximity radius for route sampling.
	RadiusMeters float64 `mapstructure:"radius_meters" yaml:"radius_meters"`
	// BaseImpact is the full-confidence penalty per report type.
	BaseImpact map[model.ReportType]float64 `mapstructure:"base_impact" yaml:"base_impact"`
}

// DefaultBaseImpact returns the built-in penalty per report type.
func DefaultBaseImpact() map[model.ReportType]float64 {
	return map[model.ReportType]float64{
		model.ReportBadLighting:    -15,
		model.ReportNoSidewalk:     -20,
		model.ReportSuspiciousArea: -25,
		model.ReportBlockedPath:    -30,
	}
}

// DefaultConfig returns the standard validity filter and impacts.
func DefaultConfig() Config {
	return Config{
		FreshnessWindow: 48 * time.Hour,
		MinUpvotes:      3,
		MinConfidence:   50,
		RadiusMeters:    50,
		BaseImpact:      DefaultBaseImpact(),
	}
}

// withDefaults fills an unset validity filter with the standard thresholds.
// Once any of FreshnessWindow, MinUpvotes or MinConfidence is set, zeros in
// the others are kept and disable that threshold.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FreshnessWindow == 0 && c.MinUpvotes == 0 && c.MinConfidence == 0 {
		c.FreshnessWindow = d.FreshnessWindow
		c.MinUpvotes = d.MinUpvotes
		c.MinConfidence = d.MinConfidence
	}
	if c.RadiusMeters <= 0 {
		c.RadiusMeters = d.RadiusMeters
	}
	if len(c.BaseImpact) == 0 {
		c.BaseImpact = d.BaseImpact
	}
	return c
}

// Confidence returns upvotes / (upvotes + downvotes) * 100, or 0 with no votes.
func Confidence(upvotes, downvotes int) float64 {
	if upvotes < 0 {
		upvotes = 0
	}
	if downvotes < 0 {
		downvotes = 0
	}
	total := upvotes + downvotes
	if total == 0 {
		return 0
	}
	return float64(upvotes) / float64(total) * 100
}

// Valid reports whether r is fresh or confirmed, and trusted enough.
func (c Config) Valid(r model.CommunityReport, now time.Time) bool {
	if r.Dismissed {
		return false
	}
	fresh := now.Sub(r.Time()) <= c.FreshnessWindow
	confirmed := r.Upvotes >= c.MinUpvotes
	return (fresh || confirmed) && Confidence(r.Upvotes, r.Downvotes) >= c.MinConfidence
}

// Impact returns baseImpact[type] * confidence / 100.
func (c Config) Impact(r model.CommunityReport) float64 {
	return c.BaseImpact[r.Type] * Confidence(r.Upvotes, r.Downvotes) / 100
}

// Scored is a valid report with its derived confidence and impact.
type Scored struct {
	Report     model.CommunityReport `json:"report"`
	Confidence float64               `json:"confidence"`
	Impact     float64               `json:"impact"`
}

// Adjuster answers proximity penalty queries over a fixed set of reports.
// It filters once at construction and is safe for concurrent reads.
type Adjuster struct {
	cfg   Config
	valid []Scored
}

// NewAdjuster filters reports as of now and precomputes their impacts.
func NewAdjuster(all []model.CommunityReport, cfg Config, now time.Time) *Adjuster {
	cfg = cfg.withDefaults()
	a := &Adjuster{cfg: cfg}
	for _, r := range all {
		if !cfg.Valid(r, now) {
			continue
		}
		a.valid = append(a.valid, Scored{
			Report:     r,
			Confidence: Confidence(r.Upvotes, r.Downvotes),
			Impact:     cfg.Impact(r),
		})
	}
	sort.Slice(a.valid, func(i, j int) bool {
		return a.valid[i].Report.ID < a.valid[j].Report.ID
	})
	return a
}

// Radius returns the configured proximity radius in metres.
func (a *Adjuster) Radius() float64 {
	if a == nil {
		return DefaultConfig().RadiusMeters
	}
	return a.cfg.RadiusMeters
}

// Valid returns the reports that passed the filter, ordered by id.
func (a *Adjuster) Valid() []Scored {
	if a == nil {
		return nil
	}
	return a.valid
}

// Near returns valid reports within radius metres of p, ordered by id.
func (a *Adjuster) Near(p model.LatLng, radius float64) []Scored {
	if a == nil {
		return nil
	}
	var out []Scored
	for _, s := range a.valid {
		if geo.Within(p, s.Report.Point(), radius) {
			out = append(out, s)
		}
	}
	return out
}

// ImpactNear sums the impacts of valid reports within radius metres of p.
// The result is zero or negative and is applied additively.
func (a *Adjuster) ImpactNear(p model.LatLng, radius float64) float64 {
	var sum float64
	for _, s := range a.Near(p, radius) {
		sum += s.Impact
	}
	return sum
}
