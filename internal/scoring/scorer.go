package scoring

import (
	"math"
	"sort"

	"github.com/sells-group/saferoute/internal/geo"
	"github.com/sells-group/saferoute/internal/grid"
	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/reports"
)

// Scorer scores one route at a time. It holds no mutable state and is safe
// for concurrent use.
type Scorer struct {
	profile Profile
}

// New returns a Scorer for p. Zero-valued fields fall back to defaults.
func New(p Profile) *Scorer {
	d := DefaultProfile()
	if p.Weights == (Weights{}) {
		p.Weights = d.Weights
	}
	if p.MaxSampleSpacingMeters <= 0 {
		p.MaxSampleSpacingMeters = d.MaxSampleSpacingMeters
	}
	return &Scorer{profile: p}
}

// Profile returns the profile in use.
func (s *Scorer) Profile() Profile {
	return s.profile
}

// sample is a point on the route and the path length it stands for.
type sample struct {
	at     model.LatLng
	weight float64
}

// samples splits the polyline into pieces no longer than spacing metres and
// returns each piece's midpoint, in path order.
func samples(pts []model.LatLng, spacing float64) ([]sample, float64) {
	var (
		out   []sample
		total float64
	)
	for i := 1; i < len(pts); i++ {
		a, b := pts[i-1], pts[i]
		d := geo.Distance(a, b)
		if d == 0 {
			continue
		}
		n := int(math.Ceil(d / spacing))
		piece := d / float64(n)
		for k := 0; k < n; k++ {
			f := (float64(k) + 0.5) / float64(n)
			out = append(out, sample{at: geo.Interpolate(a, b, f), weight: piece})
		}
		total += d
	}
	if len(out) == 0 && len(pts) > 0 {
		out = append(out, sample{at: pts[0], weight: 1})
	}
	return out, total
}

func lookup(g *grid.SafetyGrid, kind grid.Kind, p model.LatLng) float64 {
	if g == nil {
		return grid.NeutralScore(kind)
	}
	return g.Lookup(p.Lat, p.Lng).Score
}

// Score samples route against both grids and the valid reports. The result
// depends only on its inputs: the same route, grids and reports always give
// the same RouteScore. Nil grids score neutral; a nil adjuster adds no penalty.
func (s *Scorer) Score(route model.RoutePath, crime, lighting *grid.SafetyGrid, adj *reports.Adjuster) model.RouteScore {
	pts := route.Polyline()
	smp, length := samples(pts, s.profile.MaxSampleSpacingMeters)

	crimeScore := grid.NeutralScore(grid.KindCrime)
	lightScore := grid.NeutralScore(grid.KindLighting)
	if len(smp) > 0 {
		var wsum, csum, lsum float64
		for _, sm := range smp {
			csum += sm.weight * lookup(crime, grid.KindCrime, sm.at)
			lsum += sm.weight * lookup(lighting, grid.KindLighting, sm.at)
			wsum += sm.weight
		}
		crimeScore = csum / wsum
		lightScore = lsum / wsum
	}

	penalty, ids := s.penalty(pts, smp, adj)

	combined := s.profile.Weights.Crime*crimeScore + s.profile.Weights.Lighting*lightScore + penalty

	return model.RouteScore{
		Route:               route,
		DistanceMeters:      route.DistanceMeters,
		DurationSeconds:     route.DurationSeconds,
		CrimeSafetyScore:    crimeScore,
		LightingScore:       lightScore,
		CombinedSafetyScore: clamp(combined, 0, 100),
		ReportPenalty:       penalty,
		SampledMeters:       length,
		ReportIDs:           ids,
	}
}

// penalty sums the impact of every valid report within the radius of any
// vertex or sample point. Each report counts once per route.
func (s *Scorer) penalty(pts []model.LatLng, smp []sample, adj *reports.Adjuster) (float64, []string) {
	if adj == nil || len(adj.Valid()) == 0 {
		return 0, nil
	}
	radius := s.profile.ReportRadiusMeters
	if radius <= 0 {
		radius = adj.Radius()
	}

	hits := make(map[string]float64)
	check := func(p model.LatLng) {
		for _, r := range adj.Near(p, radius) {
			hits[r.Report.ID] = r.Impact
		}
	}
	for _, p := range pts {
		check(p)
	}
	for _, sm := range smp {
		check(sm.at)
	}
	if len(hits) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(hits))
	for id := range hits {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sum float64
	for _, id := range ids {
		sum += hits[id]
	}
	return sum, ids
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
