package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/pkg/directions"
)

func TestSession_LastRequestWins(t *testing.T) {
	slow := model.LatLng{Lat: 43.7000, Lng: -79.4000}
	release := make(chan struct{})
	started := make(chan struct{})

	prov := &fakeProvider{}
	prov.fn = func(ctx context.Context, q directions.Query) ([]model.RoutePath, error) {
		if q.Origin == slow {
			close(started)
			<-release
		}
		return twoRoutes(ctx, q)
	}
	s := New(prov, testHolder(t), nil, testConfig()).NewSession()

	type outcome struct {
		res *Result
		err error
	}
	older := make(chan outcome, 1)
	go func() {
		res, err := s.Plan(context.Background(), Request{Origin: slow, Destination: to})
		older <- outcome{res, err}
	}()
	<-started

	newer, err := s.Plan(context.Background(), Request{Origin: from, Destination: to})
	require.NoError(t, err)

	close(release)
	got := <-older
	assert.ErrorIs(t, got.err, ErrSuperseded)
	assert.Nil(t, got.res)

	assert.Same(t, newer, s.Last())
	assert.Equal(t, KeyFor(from, to), s.Last().Key)
}

func TestSession_SameKeyIsNotSuperseded(t *testing.T) {
	s := New(&fakeProvider{fn: twoRoutes}, testHolder(t), nil, testConfig()).NewSession()
	_, err := s.Plan(context.Background(), Request{Origin: from, Destination: to, Selection: model.SelectShortest})
	require.NoError(t, err)
	res, err := s.Plan(context.Background(), Request{Origin: from, Destination: to, Selection: model.SelectSafest})
	require.NoError(t, err)
	assert.True(t, res.CacheHit)
}

func TestSession_Select(t *testing.T) {
	prov := &fakeProvider{fn: twoRoutes}
	s := New(prov, testHolder(t), nil, testConfig()).NewSession()

	_, err := s.Select(model.SelectSafest)
	assert.Error(t, err)

	_, err = s.Plan(context.Background(), Request{Origin: from, Destination: to, Selection: model.SelectShortest})
	require.NoError(t, err)

	res, err := s.Select(model.SelectSafest)
	require.NoError(t, err)
	assert.Equal(t, model.SelectSafest, res.Selection)
	assert.Same(t, res.Comparison.Safest, res.Selected())
	assert.Equal(t, int32(1), prov.calls.Load())

	_, err = s.Select("scenic")
	assert.Error(t, err)
}

func TestSessions_GetAndEvict(t *testing.T) {
	p := New(&fakeProvider{fn: twoRoutes}, testHolder(t), nil, testConfig())
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	p.nowFunc = func() time.Time { return now }

	ss := NewSessions(p, 2, time.Minute)
	a := ss.Get("a")
	assert.Same(t, a, ss.Get("a"))

	now = now.Add(10 * time.Second)
	ss.Get("b")
	assert.Equal(t, 2, ss.Len())

	// Full: "a" is least recently used.
	now = now.Add(10 * time.Second)
	ss.Get("c")
	assert.Equal(t, 2, ss.Len())
	assert.NotSame(t, a, ss.Get("a"))

	// Everything idle: both go.
	now = now.Add(time.Hour)
	ss.Get("d")
	assert.Equal(t, 1, ss.Len())
}
