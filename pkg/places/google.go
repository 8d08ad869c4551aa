package places

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/resilience"
)

const googleNearbyURL = "https://maps.googleapis.com/maps/api/place/nearbysearch/json"

type googleNearbyResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		PlaceID  string `json:"place_id"`
		Name     string `json:"name"`
		Vicinity string `json:"vicinity"`
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Option configures the Google searcher.
type Option func(*Google)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *Google) {
		g.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(g *Google) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRadius sets the search radius in metres.
func WithRadius(meters int) Option {
	return func(g *Google) {
		g.radius = meters
	}
}

// Google searches the Google Places Nearby API.
type Google struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	key        string
	radius     int
	maxResults int
}

// NewGoogle returns a Places Nearby searcher.
func NewGoogle(key string, opts ...Option) *Google {
	g := &Google{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(10, 10),
		key:        key,
		radius:     500,
		maxResults: 5,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Nearby implements Searcher.
func (g *Google) Nearby(ctx context.Context, at model.LatLng, category string) ([]Place, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "places: rate limit")
	}

	params := url.Values{
		"location": {at.String()},
		"radius":   {fmt.Sprint(g.radius)},
		"type":     {category},
		"key":      {g.key},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleNearbyURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "places: build request")
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "places: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "places: read body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("places: google", resp.StatusCode, string(body))
	}

	var out googleNearbyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "places: parse response")
	}
	switch out.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, nil
	default:
		return nil, eris.Errorf("places: google status %s: %s", out.Status, out.ErrorMessage)
	}

	places := make([]Place, 0, min(len(out.Results), g.maxResults))
	for _, r := range out.Results {
		if len(places) == g.maxResults {
			break
		}
		places = append(places, Place{
			ID:       r.PlaceID,
			Name:     r.Name,
			Address:  r.Vicinity,
			Location: model.LatLng{Lat: r.Geometry.Location.Lat, Lng: r.Geometry.Location.Lng},
			Category: category,
		})
	}
	return places, nil
}
