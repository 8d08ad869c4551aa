package directions

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/rotisserie/eris"

	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/resilience"
)

const googleDirectionsURL = "https://maps.googleapis.com/maps/api/directions/json"

type googleDirectionsResponse struct {
	Status       string        `json:"status"`
	ErrorMessage string        `json:"error_message"`
	Routes       []googleRoute `json:"routes"`
}

type googleRoute struct {
	Summary          string      `json:"summary"`
	Legs             []googleLeg `json:"legs"`
	OverviewPolyline struct {
		Points string `json:"points"`
	} `json:"overview_polyline"`
}

type googleLeg struct {
	Distance struct {
		Value float64 `json:"value"`
	} `json:"distance"`
	Duration struct {
		Value float64 `json:"value"`
	} `json:"duration"`
	Steps []struct {
		Polyline struct {
			Points string `json:"points"`
		} `json:"polyline"`
	} `json:"steps"`
}

// Google queries the Google Directions API.
type Google struct {
	client
	key string
}

// NewGoogle returns a Google Directions provider.
func NewGoogle(key string, opts ...Option) *Google {
	return &Google{client: newClient(googleDirectionsURL, opts), key: key}
}

// Name implements Provider.
func (g *Google) Name() string { return "google" }

// Routes implements Provider.
func (g *Google) Routes(ctx context.Context, q Query) ([]model.RoutePath, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "directions: google rate limit")
	}

	mode := q.Mode
	if mode == "" {
		mode = ModeWalking
	}
	params := url.Values{
		"origin":       {q.Origin.String()},
		"destination":  {q.Destination.String()},
		"mode":         {mode},
		"alternatives": {boolParam(q.Alternatives)},
		"key":          {g.key},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "directions: google build request")
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "directions: google request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "directions: google read body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("directions: google", resp.StatusCode, string(body))
	}

	var out googleDirectionsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "directions: google parse response")
	}

	switch out.Status {
	case "OK":
	case "ZERO_RESULTS", "NOT_FOUND":
		return nil, nil
	case "OVER_QUERY_LIMIT", "UNKNOWN_ERROR":
		return nil, resilience.NewTransientError(
			eris.Errorf("directions: google status %s: %s", out.Status, out.ErrorMessage), http.StatusTooManyRequests)
	default:
		return nil, eris.Errorf("directions: google status %s: %s", out.Status, out.ErrorMessage)
	}

	routes := make([]model.RoutePath, 0, len(out.Routes))
	for i, r := range out.Routes {
		path, err := r.toPath()
		if err != nil {
			return nil, eris.Wrapf(err, "directions: google route %d", i)
		}
		routes = append(routes, path)
	}
	return routes, nil
}

func (r googleRoute) toPath() (model.RoutePath, error) {
	path := model.RoutePath{Summary: r.Summary}
	for _, l := range r.Legs {
		leg := model.Leg{}
		for _, s := range l.Steps {
			pts, err := decodePolyline(s.Polyline.Points)
			if err != nil {
				return model.RoutePath{}, err
			}
			leg.Steps = append(leg.Steps, model.Step{Points: pts})
		}
		path.Legs = append(path.Legs, leg)
		path.DistanceMeters += l.Distance.Value
		path.DurationSeconds += l.Duration.Value
	}

	// Steps are optional in trimmed responses; fall back to the overview line.
	if len(path.Polyline()) < 2 && r.OverviewPolyline.Points != "" {
		pts, err := decodePolyline(r.OverviewPolyline.Points)
		if err != nil {
			return model.RoutePath{}, err
		}
		path.Legs = []model.Leg{{Steps: []model.Step{{Points: pts}}}}
	}
	return path, nil
}

func boolParam(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
