package grid

import (
	"sync/atomic"
	"time"
)

// Snapshot is one published pair of grids. Snapshots are immutable.
type Snapshot struct {
	Crime      *SafetyGrid
	Lighting   *SafetyGrid
	Generation int64
	LoadedAt   time.Time
}

// Degraded reports whether either grid is missing or empty.
func (s *Snapshot) Degraded() bool {
	return s == nil || s.Crime.Empty() || s.Lighting.Empty()
}

// Holder publishes the current Snapshot. Readers never block; Publish
// replaces the reference atomically and in-flight readers keep the old one.
type Holder struct {
	cur atomic.Pointer[Snapshot]
	gen atomic.Int64
}

// NewHolder returns a Holder with an empty snapshot.
func NewHolder() *Holder {
	h := &Holder{}
	h.cur.Store(&Snapshot{LoadedAt: time.Now().UTC()})
	return h
}

// Load returns the current snapshot. It is never nil.
func (h *Holder) Load() *Snapshot {
	return h.cur.Load()
}

// Publish installs a new snapshot with both grids.
func (h *Holder) Publish(crime, lighting *SafetyGrid) *Snapshot {
	s := &Snapshot{
		Crime:      crime,
		Lighting:   lighting,
		Generation: h.gen.Add(1),
		LoadedAt:   time.Now().UTC(),
	}
	h.cur.Store(s)
	return s
}

// Replace swaps in a single grid, keeping the other from the current snapshot.
func (h *Holder) Replace(g *SafetyGrid) *Snapshot {
	if g == nil {
		return h.Load()
	}
	for {
		old := h.cur.Load()
		next := &Snapshot{
			Crime:      old.Crime,
			Lighting:   old.Lighting,
			Generation: h.gen.Add(1),
			LoadedAt:   time.Now().UTC(),
		}
		if g.Kind == KindLighting {
			next.Lighting = g
		} else {
			next.Crime = g
		}
		if h.cur.CompareAndSwap(old, next) {
			return next
		}
	}
}
