package api

import (
	"encoding/json"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/sells-group/saferoute/internal/export"
	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/planner"
	"github.com/sells-group/saferoute/pkg/places"
)

var errInvalidRequest = eris.New("api: invalid request")

type compareRequest struct {
	Origin      model.LatLng    `json:"origin"`
	Destination model.LatLng    `json:"destination"`
	Selection   model.Selection `json:"selection" validate:"omitempty,oneof=shortest safest balanced"`
	SessionID   string          `json:"session_id" validate:"omitempty,max=128"`
	// Places asks for nearby places around the destination.
	Places bool `json:"places"`
}

type compareResponse struct {
	*planner.Result
	Route  *model.RouteScore `json:"selected"`
	Places *places.Result    `json:"places,omitempty"`
}

func (s *Server) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return eris.Wrapf(errInvalidRequest, "body: %v", err)
	}
	if err := s.validate.Struct(v); err != nil {
		return eris.Wrapf(errInvalidRequest, "%v", err)
	}
	return nil
}

func (s *Server) compareRoutes(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if !req.Origin.Valid() || !req.Destination.Valid() {
		s.fail(w, r, eris.Wrap(errInvalidRequest, "origin and destination must be valid coordinates"))
		return
	}
	if req.SessionID == "" {
		req.SessionID = r.Header.Get("X-Session-ID")
	}

	preq := planner.Request{Origin: req.Origin, Destination: req.Destination, Selection: req.Selection}
	var (
		res *planner.Result
		err error
	)
	if req.SessionID != "" {
		res, err = s.deps.Sessions.Get(req.SessionID).Plan(r.Context(), preq)
	} else {
		res, err = s.deps.Planner.Plan(r.Context(), preq)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "geojson" {
		fc, err := export.Comparison(res.Comparison)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, fc)
		return
	}

	out := compareResponse{Result: res, Route: res.Selected()}
	if req.Places && s.deps.Places != nil && len(s.deps.Categories) > 0 {
		found := places.Enrich(r.Context(), s.deps.Places, req.Destination, s.deps.Categories)
		out.Places = &found
	}
	writeJSON(w, http.StatusOK, out)
}
