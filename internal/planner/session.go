package planner

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/saferoute/internal/model"
)

// ErrSuperseded is returned to a request whose result arrived after the
// same session asked for a different origin/destination.
var ErrSuperseded = eris.New("planner: request superseded by a newer request")

// Session applies last-request-wins to one client's requests. A result for
// an older origin/destination never replaces a newer one.
type Session struct {
	planner *Planner

	mu        sync.Mutex
	seq       uint64
	latestKey Key
	last      *Result
	touched   time.Time
}

// NewSession returns a session bound to p.
func (p *Planner) NewSession() *Session {
	return &Session{planner: p, touched: p.nowFunc()}
}

// Plan runs req through the planner. If a newer request for a different
// origin/destination was started meanwhile, the result is discarded and
// ErrSuperseded returned.
func (s *Session) Plan(ctx context.Context, req Request) (*Result, error) {
	key := KeyFor(req.Origin, req.Destination)

	s.mu.Lock()
	s.seq++
	mine := s.seq
	s.latestKey = key
	s.touched = s.planner.nowFunc()
	s.mu.Unlock()

	res, err := s.planner.Plan(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if mine != s.seq && s.latestKey != key {
		return nil, ErrSuperseded
	}
	if err != nil {
		return nil, err
	}
	s.last = res
	return res, nil
}

// Last returns the most recent accepted result, or nil.
func (s *Session) Last() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Select switches the displayed role of the last result without recomputing.
func (s *Session) Select(sel model.Selection) (*Result, error) {
	if !sel.Valid() {
		return nil, eris.Errorf("planner: unknown selection %q", sel)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil, eris.New("planner: session has no result yet")
	}
	s.last = s.last.WithSelection(sel)
	return s.last, nil
}

func (s *Session) lastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

// Sessions is a bounded registry of sessions keyed by client id.
type Sessions struct {
	planner *Planner
	max     int
	idle    time.Duration

	mu    sync.Mutex
	items map[string]*Session
}

// NewSessions keeps at most max sessions; sessions idle longer than idle are
// dropped first when room is needed.
func NewSessions(p *Planner, max int, idle time.Duration) *Sessions {
	if max <= 0 {
		max = 10000
	}
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	return &Sessions{planner: p, max: max, idle: idle, items: make(map[string]*Session)}
}

// Get returns the session for id, creating it if needed.
func (ss *Sessions) Get(id string) *Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if s, ok := ss.items[id]; ok {
		return s
	}
	if len(ss.items) >= ss.max {
		ss.evict()
	}
	s := ss.planner.NewSession()
	ss.items[id] = s
	return s
}

// Len returns the number of live sessions.
func (ss *Sessions) Len() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.items)
}

// evict drops idle sessions, or the least recently used one if none are
// idle. Callers hold mu.
func (ss *Sessions) evict() {
	now := ss.planner.nowFunc()
	var (
		oldestID string
		oldest   time.Time
	)
	for id, s := range ss.items {
		used := s.lastUsed()
		if now.Sub(used) > ss.idle {
			delete(ss.items, id)
			continue
		}
		if oldestID == "" || used.Before(oldest) {
			oldestID, oldest = id, used
		}
	}
	if len(ss.items) >= ss.max && oldestID != "" {
		delete(ss.items, oldestID)
	}
}
