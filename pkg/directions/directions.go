// Package directions fetches walking route alternatives from external
// directions services (Google Directions, OSRM).
package directions

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/saferoute/internal/model"
)

// ModeWalking is the only travel mode the planner asks for.
const ModeWalking = "walking"

// Query is one directions request.
type Query struct {
	Origin       model.LatLng
	Destination  model.LatLng
	Mode         string
	Alternatives bool
}

// NewQuery returns a walking query with alternatives enabled.
func NewQuery(origin, destination model.LatLng) Query {
	return Query{Origin: origin, Destination: destination, Mode: ModeWalking, Alternatives: true}
}

func (q Query) validate() error {
	if !q.Origin.Valid() {
		return eris.Errorf("directions: invalid origin %s", q.Origin)
	}
	if !q.Destination.Valid() {
		return eris.Errorf("directions: invalid destination %s", q.Destination)
	}
	return nil
}

// Provider returns zero or more candidate routes for a query. Zero routes
// with a nil error means the service found no path. Retryable failures are
// returned as *resilience.TransientError.
type Provider interface {
	Name() string
	Routes(ctx context.Context, q Query) ([]model.RoutePath, error)
}

// Option configures a provider client.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithBaseURL overrides the service endpoint.
func WithBaseURL(u string) Option {
	return func(c *client) {
		c.baseURL = u
	}
}

// client holds what both providers share.
type client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
}

func newClient(baseURL string, opts []Option) client {
	c := client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(10, 10),
		baseURL:    baseURL,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Config selects and configures a provider.
type Config struct {
	Provider  string  `mapstructure:"provider" yaml:"provider" validate:"oneof=google osrm"`
	GoogleKey string  `mapstructure:"google_key" yaml:"google_key"`
	OSRMURL   string  `mapstructure:"osrm_url" yaml:"osrm_url" validate:"omitempty,url"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
}

// New builds the provider named in cfg.
func New(cfg Config, opts ...Option) (Provider, error) {
	if cfg.RateLimit > 0 {
		opts = append([]Option{WithRateLimit(cfg.RateLimit)}, opts...)
	}
	switch cfg.Provider {
	case "google":
		if cfg.GoogleKey == "" {
			return nil, eris.New("directions: google provider requires directions.google_key")
		}
		return NewGoogle(cfg.GoogleKey, opts...), nil
	case "osrm", "":
		if cfg.OSRMURL != "" {
			opts = append([]Option{WithBaseURL(cfg.OSRMURL)}, opts...)
		}
		return NewOSRM(opts...), nil
	default:
		return nil, eris.Errorf("directions: unknown provider %q", cfg.Provider)
	}
}
