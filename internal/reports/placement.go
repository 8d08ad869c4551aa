package reports

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/saferoute/internal/model"
)

// PlacementState is the lifecycle of a report being placed by a user.
type PlacementState int

const (
	PlacementIdle PlacementState = iota
	PlacementAwaitingConfirmation
	PlacementCommitted
	PlacementCancelled
)

func (s PlacementState) String() string {
	switch s {
	case PlacementIdle:
		return "idle"
	case PlacementAwaitingConfirmation:
		return "awaiting_confirmation"
	case PlacementCommitted:
		return "committed"
	case PlacementCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition is returned for a placement action not allowed in the
// current state.
var ErrInvalidTransition = eris.New("reports: invalid placement transition")

// Placement walks one report draft through Idle -> AwaitingConfirmation ->
// Committed | Cancelled. Only a committed placement yields a report.
type Placement struct {
	mu    sync.Mutex
	id    string
	state PlacementState
	draft model.CommunityReport

	nowFunc func() time.Time
}

// NewPlacement returns an idle placement.
func NewPlacement() *Placement {
	return &Placement{id: uuid.New().String(), nowFunc: time.Now}
}

// ID identifies the placement.
func (p *Placement) ID() string {
	return p.id
}

// State returns the current state.
func (p *Placement) State() PlacementState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Draft returns the proposed report. It has no id until committed.
func (p *Placement) Draft() model.CommunityReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draft
}

// Propose records a location and type and waits for confirmation. It is
// allowed from Idle and from AwaitingConfirmation (moving the pin).
func (p *Placement) Propose(at model.LatLng, typ model.ReportType) error {
	if !typ.Valid() {
		return eris.Errorf("reports: unknown report type %q", typ)
	}
	if !at.Valid() {
		return eris.Errorf("reports: invalid location %s", at)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PlacementIdle && p.state != PlacementAwaitingConfirmation {
		return eris.Wrapf(ErrInvalidTransition, "propose from %s", p.state)
	}
	p.draft = model.CommunityReport{Lat: at.Lat, Lng: at.Lng, Type: typ}
	p.state = PlacementAwaitingConfirmation
	return nil
}

// Confirm commits the draft and returns the new report.
func (p *Placement) Confirm() (model.CommunityReport, error) {
	return p.Commit(nil)
}

// Commit confirms the draft through persist. The placement only moves to
// Committed when persist succeeds; on error it stays AwaitingConfirmation
// with the draft intact so the user can confirm again.
func (p *Placement) Commit(persist func(model.CommunityReport) error) (model.CommunityReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PlacementAwaitingConfirmation {
		return model.CommunityReport{}, eris.Wrapf(ErrInvalidTransition, "confirm from %s", p.state)
	}
	r := p.draft
	r.ID = uuid.New().String()
	r.TimestampMillis = p.nowFunc().UnixMilli()
	if persist != nil {
		if err := persist(r); err != nil {
			return model.CommunityReport{}, err
		}
	}
	p.draft = r
	p.state = PlacementCommitted
	return r, nil
}

// Cancel discards the draft.
func (p *Placement) Cancel() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PlacementIdle && p.state != PlacementAwaitingConfirmation {
		return eris.Wrapf(ErrInvalidTransition, "cancel from %s", p.state)
	}
	p.draft = model.CommunityReport{}
	p.state = PlacementCancelled
	return nil
}

// Drafts tracks open placements by id for the HTTP layer.
type Drafts struct {
	mu    sync.Mutex
	items map[string]*Placement
	max   int
}

// NewDrafts returns a registry holding at most max open placements.
func NewDrafts(max int) *Drafts {
	if max <= 0 {
		max = 1000
	}
	return &Drafts{items: make(map[string]*Placement), max: max}
}

// ErrDraftNotFound is returned for an unknown or finished placement id.
var ErrDraftNotFound = eris.New("reports: draft not found")

// Open creates and proposes a new placement.
func (d *Drafts) Open(at model.LatLng, typ model.ReportType) (*Placement, error) {
	p := NewPlacement()
	if err := p.Propose(at, typ); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) >= d.max {
		return nil, eris.Errorf("reports: too many open drafts (%d)", d.max)
	}
	d.items[p.ID()] = p
	return p, nil
}

// Confirm commits the placement with the given id through persist and
// forgets it. If persist fails the draft stays open.
func (d *Drafts) Confirm(id string, persist func(model.CommunityReport) error) (model.CommunityReport, error) {
	p, err := d.get(id)
	if err != nil {
		return model.CommunityReport{}, err
	}
	r, err := p.Commit(persist)
	if err != nil {
		return model.CommunityReport{}, err
	}
	d.mu.Lock()
	delete(d.items, id)
	d.mu.Unlock()
	return r, nil
}

// Cancel discards the placement with the given id.
func (d *Drafts) Cancel(id string) error {
	p, err := d.take(id)
	if err != nil {
		return err
	}
	return p.Cancel()
}

// Len returns the number of open placements.
func (d *Drafts) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func (d *Drafts) get(id string) (*Placement, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.items[id]
	if !ok {
		return nil, eris.Wrapf(ErrDraftNotFound, "id %s", id)
	}
	return p, nil
}

func (d *Drafts) take(id string) (*Placement, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.items[id]
	if !ok {
		return nil, eris.Wrapf(ErrDraftNotFound, "id %s", id)
	}
	delete(d.items, id)
	return p, nil
}
