package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/saferoute/internal/export"
	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/store"
)

type draftRequest struct {
	Lat  float64          `json:"lat" validate:"gte=-90,lte=90"`
	Lng  float64          `json:"lng" validate:"gte=-180,lte=180"`
	Type model.ReportType `json:"type" validate:"required,oneof=bad_lighting no_sidewalk suspicious_area blocked_path"`
}

type draftResponse struct {
	ID    string                `json:"id"`
	State string                `json:"state"`
	Draft model.CommunityReport `json:"draft"`
}

type voteRequest struct {
	Up *bool `json:"up" validate:"required"`
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	filter, err := parseReportFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.deps.Reports.ListReports(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if r.URL.Query().Get("format") == "geojson" {
		writeJSON(w, http.StatusOK, export.Reports(list))
		return
	}
	if list == nil {
		list = []model.CommunityReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": list, "count": len(list)})
}

// parseReportFilter reads type, include_dismissed, limit and
// bbox=min_lat,min_lng,max_lat,max_lng.
func parseReportFilter(r *http.Request) (store.ReportFilter, error) {
	q := r.URL.Query()
	var f store.ReportFilter
	if t := q.Get("type"); t != "" {
		f.Type = model.ReportType(t)
		if !f.Type.Valid() {
			return f, eris.Wrapf(errInvalidRequest, "unknown report type %q", t)
		}
	}
	if v := q.Get("include_dismissed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, eris.Wrapf(errInvalidRequest, "include_dismissed: %v", err)
		}
		f.IncludeDismissed = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, eris.Wrapf(errInvalidRequest, "limit %q", v)
		}
		f.Limit = n
	}
	if v := q.Get("bbox"); v != "" {
		parts := strings.Split(v, ",")
		if len(parts) != 4 {
			return f, eris.Wrapf(errInvalidRequest, "bbox %q needs 4 values", v)
		}
		var vals [4]float64
		for i, p := range parts {
			x, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return f, eris.Wrapf(errInvalidRequest, "bbox value %q", p)
			}
			vals[i] = x
		}
		box := model.BBox{MinLat: vals[0], MinLng: vals[1], MaxLat: vals[2], MaxLng: vals[3]}
		if err := box.Validate(); err != nil {
			return f, eris.Wrapf(errInvalidRequest, "%v", err)
		}
		f.BBox = &box
	}
	return f, nil
}

func (s *Server) openDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.deps.Drafts.Open(model.LatLng{Lat: req.Lat, Lng: req.Lng}, req.Type)
	if err != nil {
		s.fail(w, r, eris.Wrapf(errInvalidRequest, "%v", err))
		return
	}
	writeJSON(w, http.StatusCreated, draftResponse{ID: p.ID(), State: p.State().String(), Draft: p.Draft()})
}

func (s *Server) confirmDraft(w http.ResponseWriter, r *http.Request) {
	var created *model.CommunityReport
	_, err := s.deps.Drafts.Confirm(chi.URLParam(r, "id"), func(rep model.CommunityReport) error {
		var err error
		created, err = s.deps.Reports.CreateReport(r.Context(), rep)
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) cancelDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Drafts.Cancel(chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) voteReport(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	rep, err := s.deps.Reports.Vote(r.Context(), chi.URLParam(r, "id"), *req.Up)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) dismissReport(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Reports.Dismiss(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
