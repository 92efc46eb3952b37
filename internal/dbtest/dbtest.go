// Package dbtest provides shared helpers for tests that need a
// seeded database.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/quizhub/adminview/internal/db"
)

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// Open creates a fresh SQLite database in a temp dir and closes
// it when the test finishes.
func Open(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

// Seed inserts rows into table, failing the test on error.
func Seed(t *testing.T, s db.Store, table string, rows ...db.Row) {
	t.Helper()
	if _, err := s.Insert(context.Background(), table, rows); err != nil {
		t.Fatalf("seeding %s: %v", table, err)
	}
}

// TS formats t in the stored timestamp layout.
func TS(t time.Time) string {
	return db.FormatTime(t)
}

// Session builds a game_sessions row created at created with
// nPlayers anonymous participants.
func Session(
	id, app, host, status string, created time.Time, nPlayers int,
) db.Row {
	players := make([]any, nPlayers)
	for i := range players {
		players[i] = map[string]any{
			"user_id":  id + "-p" + string(rune('a'+i%26)),
			"nickname": "player",
			"score":    0,
		}
	}
	return db.Row{
		"id":           id,
		"application":  app,
		"host_id":      host,
		"status":       status,
		"participants": players,
		"created_at":   TS(created),
	}
}

// Profile builds a profiles row.
func Profile(id, fullname string, mods ...func(db.Row)) db.Row {
	r := db.Row{
		"id":       id,
		"fullname": fullname,
		"username": id,
	}
	for _, m := range mods {
		m(r)
	}
	return r
}
