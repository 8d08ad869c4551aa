package model

// Step is one provider step; Points are ordered along the direction of travel.
type Step struct {
	Points []LatLng `json:"points"`
}

// Leg is one provider leg between waypoints.
type Leg struct {
	Steps []Step `json:"steps"`
}

// RoutePath is a candidate route as returned by a directions provider.
// It is read-only input to scoring.
type RoutePath struct {
	Summary         string  `json:"summary,omitempty"`
	Legs            []Leg   `json:"legs"`
	DistanceMeters  float64 `json:"distance_meters"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Polyline flattens all legs and steps into one ordered point list. Points
// repeated at step boundaries are collapsed.
func (r RoutePath) Polyline() []LatLng {
	var out []LatLng
	for _, leg := range r.Legs {
		for _, step := range leg.Steps {
			for _, p := range step.Points {
				if n := len(out); n > 0 && out[n-1] == p {
					continue
				}
				out = append(out, p)
			}
		}
	}
	return out
}

// RouteScore is the scoring result for one candidate route.
type RouteScore struct {
	Route               RoutePath `json:"route"`
	DistanceMeters      float64   `json:"distance_meters"`
	DurationSeconds     float64   `json:"duration_seconds"`
	CrimeSafetyScore    float64   `json:"crime_safety_score"`
	LightingScore       float64   `json:"lighting_score"`
	CombinedSafetyScore float64   `json:"combined_safety_score"`
	ReportPenalty       float64   `json:"report_penalty"`
	SampledMeters       float64   `json:"sampled_meters"`
	ReportIDs           []string  `json:"report_ids,omitempty"`
}

// Selection names one of the representative routes.
type Selection string

const (
	SelectShortest Selection = "shortest"
	SelectSafest   Selection = "safest"
	SelectBalanced Selection = "balanced"
)

// Valid reports whether s is a known selection.
func (s Selection) Valid() bool {
	switch s {
	case SelectShortest, SelectSafest, SelectBalanced:
		return true
	}
	return false
}

// RouteComparison holds every scored alternative plus the representative picks.
// Shortest, Safest and Balanced always point into Routes.
type RouteComparison struct {
	Routes   []RouteScore `json:"routes"`
	Shortest *RouteScore  `json:"-"`
	Safest   *RouteScore  `json:"-"`
	Balanced *RouteScore  `json:"-"`

	ShortestIndex int `json:"shortest_index"`
	SafestIndex   int `json:"safest_index"`
	BalancedIndex int `json:"balanced_index"`

	// Degraded is set when safety data was missing and selection fell back
	// to distance-only ranking.
	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degraded_reason,omitempty"`

	// Stale is set when the result was served from cache after a provider failure.
	Stale bool `json:"stale"`
}

// Select returns the route for the given role, or nil for an unknown role.
func (c *RouteComparison) Select(s Selection) *RouteScore {
	switch s {
	case SelectShortest:
		return c.Shortest
	case SelectSafest:
		return c.Safest
	case SelectBalanced:
		return c.Balanced
	}
	return nil
}

// Clone returns a copy whose role pointers reference the copy's own Routes.
func (c *RouteComparison) Clone() *RouteComparison {
	out := *c
	out.Routes = make([]RouteScore, len(c.Routes))
	copy(out.Routes, c.Routes)
	if len(out.Routes) == 0 {
		return &out
	}
	out.Shortest = &out.Routes[c.ShortestIndex]
	out.Safest = &out.Routes[c.SafestIndex]
	out.Balanced = &out.Routes[c.BalancedIndex]
	return &out
}
