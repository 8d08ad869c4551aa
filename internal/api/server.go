// Package api serves route comparisons, community reports and safety grids
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/grid"
	"github.com/sells-group/saferoute/internal/planner"
	"github.com/sells-group/saferoute/internal/reports"
	"github.com/sells-group/saferoute/internal/store"
	"github.com/sells-group/saferoute/pkg/places"
)

// Deps are the services the API exposes. Places may be nil.
type Deps struct {
	Planner  *planner.Planner
	Sessions *planner.Sessions
	Reports  store.ReportStore
	Grids    *grid.Holder
	Drafts   *reports.Drafts

	Places     places.Searcher
	Categories []string
}

// Server holds the HTTP handlers.
type Server struct {
	deps     Deps
	validate *validator.Validate
	started  time.Time
}

// New returns a Server. A nil Drafts or Sessions gets a default registry.
func New(d Deps) *Server {
	if d.Drafts == nil {
		d.Drafts = reports.NewDrafts(0)
	}
	if d.Sessions == nil && d.Planner != nil {
		d.Sessions = planner.NewSessions(d.Planner, 0, 0)
	}
	return &Server{deps: d, validate: validator.New(), started: time.Now()}
}

// Handler builds the router. corsOrigins lists allowed browser origins.
func (s *Server) Handler(corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Session-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/routes/compare", s.compareRoutes)
		r.Route("/reports", func(r chi.Router) {
			r.Get("/", s.listReports)
			r.Post("/drafts", s.openDraft)
			r.Post("/drafts/{id}/confirm", s.confirmDraft)
			r.Delete("/drafts/{id}", s.cancelDraft)
			r.Post("/{id}/vote", s.voteReport)
			r.Delete("/{id}", s.dismissReport)
		})
		r.Get("/grids/{kind}", s.getGrid)
		r.Get("/grids/{kind}/geojson", s.getGridGeoJSON)
		r.Get("/stats", s.stats)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// statusFor maps service errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, reports.ErrDraftNotFound), errors.Is(err, planner.ErrNoRouteFound):
		return http.StatusNotFound
	case errors.Is(err, planner.ErrSuperseded), errors.Is(err, reports.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, planner.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, status, err.Error())
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	snap := s.deps.Grids.Load()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"degraded":        snap.Degraded(),
		"grid_generation": snap.Generation,
		"uptime_seconds":  int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"planner":     s.deps.Planner.Stats(),
		"sessions":    s.deps.Sessions.Len(),
		"open_drafts": s.deps.Drafts.Len(),
	})
}
