package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/samber/lo"

	"github.com/quizhub/adminview/internal/db"
	"github.com/quizhub/adminview/internal/logger"
	"github.com/quizhub/adminview/internal/optimistic"
)

var (
	profileRoles    = []string{"user", "moderator", "admin"}
	profileStatuses = []string{"active", "suspended", "banned"}
)

// Profile is the operator view of one profile row.
type Profile struct {
	ID          string `json:"id"`
	Fullname    string `json:"fullname"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatar_url"`
	Role        string `json:"role"`
	Status      string `json:"status"`
	CountryCode string `json:"country_code"`
	CreatedAt   string `json:"created_at"`
}

func profileFromRow(r db.Row) Profile {
	return Profile{
		ID:          r.String("id"),
		Fullname:    r.String("fullname"),
		Username:    r.String("username"),
		Email:       r.String("email"),
		AvatarURL:   r.String("avatar_url"),
		Role:        r.String("role"),
		Status:      r.String("status"),
		CountryCode: r.String("country_code"),
		CreatedAt:   r.String("created_at"),
	}
}

// profilePage is one page of the profile listing.
type profilePage struct {
	Rows       []Profile `json:"rows"`
	TotalCount int       `json:"total_count"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
	PageCount  int       `json:"page_count"`
}

// profilePatch is the body of a profile update. Only the
// operator toggles are accepted.
type profilePatch struct {
	Role   *string `json:"role"`
	Status *string `json:"status"`
}

func (p profilePatch) validate() string {
	if p.Role == nil && p.Status == nil {
		return "no fields to update"
	}
	if p.Role != nil && !lo.Contains(profileRoles, *p.Role) {
		return "invalid role: " + *p.Role
	}
	if p.Status != nil && !lo.Contains(profileStatuses, *p.Status) {
		return "invalid status: " + *p.Status
	}
	return ""
}

func (p profilePatch) apply(cur Profile) Profile {
	if p.Role != nil {
		cur.Role = *p.Role
	}
	if p.Status != nil {
		cur.Status = *p.Status
	}
	return cur
}

// changes returns the columns that differ between two views.
func changes(prev, next Profile) map[string]any {
	set := map[string]any{}
	if prev.Role != next.Role {
		set["role"] = next.Role
	}
	if prev.Status != next.Status {
		set["status"] = next.Status
	}
	return set
}

// patchFailure is the body of a failed update: the reverted view
// and a generic message.
type patchFailure struct {
	Profile Profile `json:"profile"`
	Error   string  `json:"error"`
}

func (s *Server) handleListProfiles(
	w http.ResponseWriter, r *http.Request,
) {
	qs, ok := parseQuerySpec(w, r)
	if !ok {
		return
	}
	page, err := s.store.FetchPage(r.Context(), "profiles", qs.Query)
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		s.internalError(w, r, "listing profiles", err)
		return
	}
	writeJSON(w, http.StatusOK, profilePage{
		Rows:       lo.Map(page.Rows, func(r db.Row, _ int) Profile { return profileFromRow(r) }),
		TotalCount: page.TotalCount,
		Page:       qs.Page,
		PageSize:   qs.PageSize,
		PageCount:  qs.pageCount(page.TotalCount),
	})
}

func (s *Server) handlePatchProfile(
	w http.ResponseWriter, r *http.Request,
) {
	id := strings.TrimSpace(r.PathValue("id"))

	var patch profilePatch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := patch.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	rows, err := s.store.FetchByIDs(r.Context(), "profiles", []string{id})
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		s.internalError(w, r, "loading profile", err)
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}

	view := optimistic.New(profileFromRow(rows[0]))
	prev := view.Get()
	got, err := view.Update(r.Context(), patch.apply,
		func(ctx context.Context, next Profile) error {
			set := changes(prev, next)
			if len(set) == 0 {
				return nil
			}
			return s.store.UpdateByID(ctx, "profiles", id, set)
		},
	)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, got)
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, "profile not found")
	case handleContextError(w, err):
	default:
		s.log.Error(r.Context(), "updating profile",
			logger.String("profile", id),
			logger.Error(err),
			logger.String("request_id", RequestID(r.Context())),
		)
		writeJSON(w, http.StatusInternalServerError, patchFailure{
			Profile: got,
			Error:   "update failed",
		})
	}
}
