package server_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizhub/adminview/internal/db"
	"github.com/quizhub/adminview/internal/server"
)

type profilePage struct {
	Rows       []server.Profile `json:"rows"`
	TotalCount int              `json:"total_count"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	PageCount  int              `json:"page_count"`
}

func ids(ps []server.Profile) []string {
	return lo.Map(ps, func(p server.Profile, _ int) string { return p.ID })
}

func TestListProfiles(t *testing.T) {
	te := setup(t)
	te.seedAll(t)

	tests := []struct {
		name      string
		query     string
		wantIDs   []string
		wantTotal int
		wantPages int
	}{
		{"newest first by default", "", []string{"u3", "u2", "u1", "u4"}, 4, 1},
		{"first page by name", "?page_size=2&sort=fullname", []string{"u1", "u2"}, 4, 2},
		{"second page by name", "?page=2&page_size=2&sort=fullname", []string{"u3", "u4"}, 4, 2},
		{"descending", "?sort=-fullname&page_size=1", []string{"u4"}, 4, 4},
		{"search name", "?search=BAKER", []string{"u2"}, 1, 1},
		{"search email", "?search=example.com&sort=username", []string{"u1", "u2"}, 2, 1},
		{"role filter", "?role=admin", []string{"u2"}, 1, 1},
		{"status filter", "?status=suspended", []string{"u3"}, 1, 1},
		{"past the end", "?page=9", []string{}, 4, 1},
		{"no match", "?search=zzz", []string{}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := te.get(t, "/api/v1/profiles"+tt.query)
			assertStatus(t, w, http.StatusOK)
			got := decode[profilePage](t, w)
			assert.Equal(t, tt.wantIDs, ids(got.Rows))
			assert.Equal(t, tt.wantTotal, got.TotalCount)
			assert.Equal(t, tt.wantPages, got.PageCount)
		})
	}
}

func TestListProfilesBadParams(t *testing.T) {
	te := setup(t)
	for _, q := range []string{"?page=x", "?sort=password_hash"} {
		t.Run(q, func(t *testing.T) {
			assertStatus(t, te.get(t, "/api/v1/profiles"+q),
				http.StatusBadRequest)
		})
	}
}

func TestListProfilesReadFailure(t *testing.T) {
	te := setupWithStore(t, func(s db.Store) db.Store {
		return &faultyStore{Store: s, readErr: errors.New("boom")}
	})
	w := te.get(t, "/api/v1/profiles")
	assertStatus(t, w, http.StatusInternalServerError)
	assertErrorResponse(t, w, "internal server error")
}

func storedProfile(t *testing.T, te *testEnv, id string) db.Row {
	t.Helper()
	rows, err := te.db.FetchByIDs(context.Background(), "profiles", []string{id})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0]
}

func TestPatchProfile(t *testing.T) {
	te := setup(t)
	te.seedAll(t)

	w := te.patch(t, "/api/v1/profiles/u1", `{"role":"moderator","status":"banned"}`)
	assertStatus(t, w, http.StatusOK)
	got := decode[server.Profile](t, w)
	assert.Equal(t, "moderator", got.Role)
	assert.Equal(t, "banned", got.Status)
	assert.Equal(t, "Ann Archer", got.Fullname)

	row := storedProfile(t, te, "u1")
	assert.Equal(t, "moderator", row.String("role"))
	assert.Equal(t, "banned", row.String("status"))
}

func TestPatchProfileRevertsOnFailure(t *testing.T) {
	fs := &faultyStore{updateErr: errors.New("disk full")}
	te := setupWithStore(t, func(s db.Store) db.Store {
		fs.Store = s
		return fs
	})
	te.seedAll(t)

	w := te.patch(t, "/api/v1/profiles/u1", `{"role":"admin"}`)
	assertStatus(t, w, http.StatusInternalServerError)

	got := decode[struct {
		Profile server.Profile `json:"profile"`
		Error   string         `json:"error"`
	}](t, w)
	assert.Equal(t, "update failed", got.Error)
	assert.Equal(t, "user", got.Profile.Role, "view is reverted")
	assert.Equal(t, 1, fs.updates)
	assert.Equal(t, "user", storedProfile(t, te, "u1").String("role"))
}

func TestPatchProfileNoChangeSkipsWrite(t *testing.T) {
	fs := &faultyStore{}
	te := setupWithStore(t, func(s db.Store) db.Store {
		fs.Store = s
		return fs
	})
	te.seedAll(t)

	w := te.patch(t, "/api/v1/profiles/u2", `{"role":"admin"}`)
	assertStatus(t, w, http.StatusOK)
	assert.Zero(t, fs.updates)
}

func TestPatchProfileRejects(t *testing.T) {
	te := setup(t)
	te.seedAll(t)

	tests := []struct {
		name       string
		id         string
		body       string
		wantStatus int
		wantError  string
	}{
		{"missing profile", "ghost", `{"role":"admin"}`, http.StatusNotFound, "profile not found"},
		{"empty patch", "u1", `{}`, http.StatusBadRequest, "no fields to update"},
		{"bad role", "u1", `{"role":"root"}`, http.StatusBadRequest, "invalid role: root"},
		{"bad status", "u1", `{"status":"gone"}`, http.StatusBadRequest, "invalid status: gone"},
		{"unknown field", "u1", `{"email":"x@y.z"}`, http.StatusBadRequest, "invalid JSON body"},
		{"malformed", "u1", `{"role":`, http.StatusBadRequest, "invalid JSON body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := te.patch(t, "/api/v1/profiles/"+tt.id, tt.body)
			assertStatus(t, w, tt.wantStatus)
			assertErrorResponse(t, w, tt.wantError)
		})
	}
	assert.Equal(t, "user", storedProfile(t, te, "u1").String("role"))
}
