package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/export"
	"github.com/sells-group/saferoute/internal/grid"
	"github.com/sells-group/saferoute/internal/store"
)

// currentGrid returns the published grid named by the {kind} parameter.
func (s *Server) currentGrid(r *http.Request) (*grid.SafetyGrid, error) {
	kind, err := grid.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return nil, eris.Wrapf(errInvalidRequest, "%v", err)
	}
	snap := s.deps.Grids.Load()
	g := snap.Crime
	if kind == grid.KindLighting {
		g = snap.Lighting
	}
	if g == nil {
		return nil, eris.Wrapf(store.ErrNotFound, "no %s grid loaded", kind)
	}
	return g, nil
}

func (s *Server) getGrid(w http.ResponseWriter, r *http.Request) {
	g, err := s.currentGrid(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if g.Version != "" {
		w.Header().Set("ETag", `"`+g.Version+`"`)
	}
	if err := grid.Encode(w, g); err != nil {
		zap.L().Debug("api: write grid", zap.Error(err))
	}
}

func (s *Server) getGridGeoJSON(w http.ResponseWriter, r *http.Request) {
	g, err := s.currentGrid(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	fc, err := export.Grid(g)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fc)
}
