package directions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/resilience"
)

const osrmDefaultURL = "https://router.project-osrm.org"

type osrmResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Routes  []osrmRoute `json:"routes"`
}

type osrmRoute struct {
	Distance float64   `json:"distance"`
	Duration float64   `json:"duration"`
	Geometry string    `json:"geometry"`
	Legs     []osrmLeg `json:"legs"`
}

type osrmLeg struct {
	Summary string `json:"summary"`
	Steps   []struct {
		Geometry string `json:"geometry"`
	} `json:"steps"`
}

// OSRM queries an OSRM routing server with the foot profile.
type OSRM struct {
	client
}

// NewOSRM returns an OSRM provider. The public demo server is used unless
// WithBaseURL is given.
func NewOSRM(opts ...Option) *OSRM {
	return &OSRM{client: newClient(osrmDefaultURL, opts)}
}

// Name implements Provider.
func (o *OSRM) Name() string { return "osrm" }

// Routes implements Provider.
func (o *OSRM) Routes(ctx context.Context, q Query) ([]model.RoutePath, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if q.Mode != "" && q.Mode != ModeWalking {
		return nil, eris.Errorf("directions: osrm mode %q not supported", q.Mode)
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "directions: osrm rate limit")
	}

	// OSRM takes lng,lat.
	coords := fmt.Sprintf("%.6f,%.6f;%.6f,%.6f", q.Origin.Lng, q.Origin.Lat, q.Destination.Lng, q.Destination.Lat)
	params := url.Values{
		"alternatives": {boolParam(q.Alternatives)},
		"geometries":   {"polyline"},
		"overview":     {"full"},
		"steps":        {"true"},
	}
	reqURL := strings.TrimRight(o.baseURL, "/") + "/route/v1/foot/" + coords + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "directions: osrm build request")
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "directions: osrm request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "directions: osrm read body")
	}

	var out osrmResponse
	jsonErr := json.Unmarshal(body, &out)
	// OSRM reports NoRoute with a 400 and a JSON body.
	if jsonErr == nil && out.Code == "NoRoute" {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("directions: osrm", resp.StatusCode, string(body))
	}
	if jsonErr != nil {
		return nil, eris.Wrap(jsonErr, "directions: osrm parse response")
	}
	if out.Code != "Ok" {
		return nil, eris.Errorf("directions: osrm code %s: %s", out.Code, out.Message)
	}

	routes := make([]model.RoutePath, 0, len(out.Routes))
	for i, r := range out.Routes {
		path, err := r.toPath()
		if err != nil {
			return nil, eris.Wrapf(err, "directions: osrm route %d", i)
		}
		routes = append(routes, path)
	}
	return routes, nil
}

func (r osrmRoute) toPath() (model.RoutePath, error) {
	path := model.RoutePath{DistanceMeters: r.Distance, DurationSeconds: r.Duration}
	var summaries []string
	for _, l := range r.Legs {
		leg := model.Leg{}
		for _, s := range l.Steps {
			pts, err := decodePolyline(s.Geometry)
			if err != nil {
				return model.RoutePath{}, err
			}
			leg.Steps = append(leg.Steps, model.Step{Points: pts})
		}
		path.Legs = append(path.Legs, leg)
		if l.Summary != "" {
			summaries = append(summaries, l.Summary)
		}
	}
	path.Summary = strings.Join(summaries, "; ")

	if len(path.Polyline()) < 2 && r.Geometry != "" {
		pts, err := decodePolyline(r.Geometry)
		if err != nil {
			return model.RoutePath{}, err
		}
		path.Legs = []model.Leg{{Steps: []model.Step{{Points: pts}}}}
	}
	return path, nil
}
