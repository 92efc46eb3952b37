package server

import (
	"net/http"
	"strings"

	"github.com/quizhub/adminview/internal/timerange"
)

// rangeKeys are the query parameters naming a time-range
// selector. timeRange is the older spelling kept for existing
// dashboard links.
var rangeKeys = []string{"range", "timeRange"}

// dashboardRange parses the request window, writing a 400 on a
// bad one.
func (s *Server) dashboardRange(
	w http.ResponseWriter, r *http.Request,
) (timerange.Range, bool) {
	return parseRange(w, r, s.now(), rangeKeys...)
}

// writeDashboard writes a built dashboard, or stops silently when
// the request was cancelled mid-build.
func (s *Server) writeDashboard(
	w http.ResponseWriter, r *http.Request, v any, err error,
) {
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		s.internalError(w, r, "dashboard error", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleMasterDashboard(
	w http.ResponseWriter, r *http.Request,
) {
	rng, ok := parseRange(w, r, s.now(), "timeRange", "range")
	if !ok {
		return
	}
	dash, err := s.dash.Master(r.Context(), rng)
	if err == nil {
		w.Header().Set("Cache-Control", s.cacheControl())
	}
	s.writeDashboard(w, r, dash, err)
}

func (s *Server) handleGameDashboard(
	w http.ResponseWriter, r *http.Request,
) {
	rng, ok := s.dashboardRange(w, r)
	if !ok {
		return
	}
	dash, err := s.dash.Games(r.Context(), rng)
	s.writeDashboard(w, r, dash, err)
}

func (s *Server) handleQuizDashboard(
	w http.ResponseWriter, r *http.Request,
) {
	rng, ok := s.dashboardRange(w, r)
	if !ok {
		return
	}
	dash, err := s.dash.Quizzes(r.Context(), rng)
	s.writeDashboard(w, r, dash, err)
}

func (s *Server) handleBillingSummary(
	w http.ResponseWriter, r *http.Request,
) {
	rng, ok := s.dashboardRange(w, r)
	if !ok {
		return
	}
	sum, err := s.dash.Billing(r.Context(), rng)
	s.writeDashboard(w, r, sum, err)
}

func (s *Server) handleReportSummary(
	w http.ResponseWriter, r *http.Request,
) {
	rng, ok := s.dashboardRange(w, r)
	if !ok {
		return
	}
	sum, err := s.dash.Reports(r.Context(), rng)
	s.writeDashboard(w, r, sum, err)
}

func (s *Server) handleUserQuizHistory(
	w http.ResponseWriter, r *http.Request,
) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "user id required")
		return
	}
	hist, err := s.dash.UserQuizHistory(r.Context(), id)
	s.writeDashboard(w, r, hist, err)
}
