package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/quizhub/adminview/internal/sweep"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// staleList is the response of the stale-session listing.
type staleList struct {
	Sessions         []sweep.Session `json:"sessions"`
	Count            int             `json:"count"`
	ThresholdSeconds int             `json:"threshold_seconds"`
	Cutoff           time.Time       `json:"cutoff"`
}

// clearRequest selects sessions to delete: explicit ids, or every
// currently stale session when All is set.
type clearRequest struct {
	IDs []string `json:"ids"`
	All bool     `json:"all"`
}

func (s *Server) handleListStale(
	w http.ResponseWriter, r *http.Request,
) {
	stale, err := s.sweeper.FindStale(r.Context())
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		s.internalError(w, r, "listing stale sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, staleList{
		Sessions:         stale,
		Count:            len(stale),
		ThresholdSeconds: int(s.sweeper.Threshold() / time.Second),
		Cutoff:           s.sweeper.Cutoff(),
	})
}

func (s *Server) handleClearStale(
	w http.ResponseWriter, r *http.Request,
) {
	var req clearRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var (
		res sweep.Result
		err error
	)
	if req.All {
		res, err = s.sweeper.ClearAll(r.Context())
	} else {
		res, err = s.sweeper.Clear(r.Context(), req.IDs)
	}
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, sweep.ErrNoSessionIDs):
		writeJSON(w, http.StatusBadRequest, res)
	case handleContextError(w, err):
	default:
		writeJSON(w, http.StatusInternalServerError, res)
	}
}
