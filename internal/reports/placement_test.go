package reports

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saferoute/internal/model"
)

func TestPlacement_ConfirmFlow(t *testing.T) {
	p := NewPlacement()
	p.nowFunc = func() time.Time { return now }
	assert.Equal(t, PlacementIdle, p.State())

	require.NoError(t, p.Propose(model.LatLng{Lat: 43.7, Lng: -79.4}, model.ReportNoSidewalk))
	assert.Equal(t, PlacementAwaitingConfirmation, p.State())

	// Moving the pin keeps waiting.
	require.NoError(t, p.Propose(model.LatLng{Lat: 43.71, Lng: -79.41}, model.ReportNoSidewalk))

	r, err := p.Confirm()
	require.NoError(t, err)
	assert.Equal(t, PlacementCommitted, p.State())
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, 43.71, r.Lat)
	assert.Equal(t, now.UnixMilli(), r.TimestampMillis)
	assert.Zero(t, r.Upvotes)

	_, err = p.Confirm()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, p.Propose(model.LatLng{Lat: 43.7, Lng: -79.4}, model.ReportNoSidewalk), ErrInvalidTransition)
}

func TestPlacement_CancelFlow(t *testing.T) {
	p := NewPlacement()
	require.NoError(t, p.Propose(model.LatLng{Lat: 43.7, Lng: -79.4}, model.ReportBlockedPath))
	require.NoError(t, p.Cancel())
	assert.Equal(t, PlacementCancelled, p.State())
	assert.Equal(t, model.CommunityReport{}, p.Draft())

	_, err := p.Confirm()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, p.Cancel(), ErrInvalidTransition)
}

func TestPlacement_ConfirmFromIdle(t *testing.T) {
	_, err := NewPlacement().Confirm()
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPlacement_RejectsBadInput(t *testing.T) {
	p := NewPlacement()
	assert.Error(t, p.Propose(model.LatLng{Lat: 43.7, Lng: -79.4}, model.ReportType("potholes")))
	assert.Error(t, p.Propose(model.LatLng{Lat: 120, Lng: -79.4}, model.ReportBlockedPath))
	assert.Equal(t, PlacementIdle, p.State())
}

func TestPlacementState_String(t *testing.T) {
	assert.Equal(t, "idle", PlacementIdle.String())
	assert.Equal(t, "awaiting_confirmation", PlacementAwaitingConfirmation.String())
	assert.Equal(t, "committed", PlacementCommitted.String())
	assert.Equal(t, "cancelled", PlacementCancelled.String())
	assert.Equal(t, "unknown", PlacementState(9).String())
}

func TestDrafts(t *testing.T) {
	d := NewDrafts(2)
	a, err := d.Open(model.LatLng{Lat: 43.7, Lng: -79.4}, model.ReportBadLighting)
	require.NoError(t, err)
	b, err := d.Open(model.LatLng{Lat: 43.7, Lng: -79.4}, model.ReportBadLighting)
	require.NoError(t, err)
	_, err = d.Open(model.LatLng{Lat: 43.7, Lng: -79.4}, model.ReportBadLighting)
	assert.Error(t, err)

	r, err := d.Confirm(a.ID(), nil)
	require.NoError(t, err)
	assert.Equal(t, model.ReportBadLighting, r.Type)

	require.NoError(t, d.Cancel(b.ID()))
	assert.Equal(t, 0, d.Len())

	_, err = d.Confirm(a.ID(), nil)
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

func TestDrafts_ConfirmKeepsDraftWhenPersistFails(t *testing.T) {
	d := NewDrafts(0)
	p, err := d.Open(model.LatLng{Lat: 43.7, Lng: -79.4}, model.ReportBlockedPath)
	require.NoError(t, err)

	storeErr := errors.New("database is locked")
	_, err = d.Confirm(p.ID(), func(model.CommunityReport) error { return storeErr })
	assert.ErrorIs(t, err, storeErr)
	assert.Equal(t, 1, d.Len())
	assert.Equal(t, PlacementAwaitingConfirmation, p.State())
	assert.Empty(t, p.Draft().ID)

	var saved model.CommunityReport
	r, err := d.Confirm(p.ID(), func(r model.CommunityReport) error {
		saved = r
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, saved, r)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, PlacementCommitted, p.State())
	assert.Zero(t, d.Len())
}
