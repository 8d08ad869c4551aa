// Package resilience bounds calls to external services: retries with
// backoff, a circuit breaker, and transient error classification.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BreakerState is the state of a Breaker.
type BreakerState int

const (
	// StateClosed lets calls through.
	StateClosed BreakerState = iota
	// StateOpen rejects calls until the cool-down elapses.
	StateOpen
	// StateHalfOpen lets probe calls through.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned without calling through while the breaker is open.
var ErrBreakerOpen = eris.New("resilience: circuit breaker is open")

// BreakerConfig controls a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the run of failures that opens the breaker.
	FailureThreshold int `mapstructure:"failure_threshold" yaml:"failure_threshold" validate:"gte=0"`
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	// Probes is the number of successful half-open calls that close it again.
	Probes int `mapstructure:"probes" yaml:"probes" validate:"gte=0"`
}

// DefaultBreakerConfig opens after 5 failures and probes after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second, Probes: 1}
}

// BreakerStats is a point-in-time view for /v1/stats.
type BreakerStats struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures int    `json:"consecutive_failures"`
	Rejected int64  `json:"rejected"`
}

// Breaker guards one external service. Only transient failures count
// against it; a permanent error (bad request, no route) says nothing about
// the service's health.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
	rejected  int64

	nowFunc func() time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	d := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = d.Cooldown
	}
	if cfg.Probes <= 0 {
		cfg.Probes = d.Probes
	}
	return &Breaker{name: name, cfg: cfg, nowFunc: time.Now}
}

// Call runs fn through the breaker.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}

// State returns the current state. An open breaker past its cool-down
// reports half-open.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.nowFunc().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Stats returns counters for observability.
func (b *Breaker) Stats() BreakerStats {
	state := b.State()
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{Name: b.name, State: state.String(), Failures: b.failures, Rejected: b.rejected}
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.failures, b.successes = 0, 0
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return nil
	}
	if b.nowFunc().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.transition(StateHalfOpen)
		return nil
	}
	b.rejected++
	return eris.Wrap(ErrBreakerOpen, b.name)
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !IsTransient(err) {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.successes++
			if b.successes >= b.cfg.Probes {
				b.successes = 0
				b.transition(StateClosed)
			}
		}
		return
	}

	b.failures++
	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.open()
		}
	case StateHalfOpen:
		b.successes = 0
		b.open()
	}
}

func (b *Breaker) open() {
	b.openedAt = b.nowFunc()
	b.transition(StateOpen)
}

func (b *Breaker) transition(to BreakerState) {
	if b.state == to {
		return
	}
	zap.L().Info("resilience: breaker state change",
		zap.String("breaker", b.name),
		zap.String("from", b.state.String()),
		zap.String("to", to.String()),
	)
	b.state = to
}
