package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizhub/adminview/internal/db"
	"github.com/quizhub/adminview/internal/dbtest"
)

const fixtureYAML = `
game_sessions:
  - id: g1
    host_id: u1
    application: kahoot
    status: waiting
    created_at: 2024-06-01T10:00:00Z
    participants:
      - user_id: u2
        nickname: bee
profiles:
  - id: u1
    fullname: Ann Archer
    role: admin
  - fullname: Nameless
countries:
  - code: NL
    name: Netherlands
`

func writeFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParseSeedFlags(t *testing.T) {
	path, err := parseSeedFlags([]string{"-file", "x.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "x.yaml", path)

	_, err = parseSeedFlags(nil)
	assert.ErrorContains(t, err, "-file is required")
}

func TestLoadFixtures(t *testing.T) {
	f, err := loadFixtures(writeFixture(t, fixtureYAML))
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"countries", "profiles", "game_sessions"}, f.tables())
	require.Len(t, f["profiles"], 2)
	assert.Equal(t, "u1", f["profiles"][0].String("id"))
	assert.Len(t, f["profiles"][1].String("id"), 36, "generated uuid")
	assert.Equal(t, 1, f["game_sessions"][0].Len("participants"))
}

func TestLoadFixturesRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"unknown table", "players:\n  - id: p1\n", db.ErrUnknownTable},
		{"not a list", "profiles:\n  id: p1\n", nil},
		{"not a mapping", "profiles:\n  - p1\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadFixtures(writeFixture(t, tt.body))
			require.Error(t, err)
			if tt.want != nil {
				assert.True(t, errors.Is(err, tt.want), "err = %v", err)
			}
		})
	}

	_, err := loadFixtures(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSeed(t *testing.T) {
	d := dbtest.Open(t)
	f, err := loadFixtures(writeFixture(t, fixtureYAML))
	require.NoError(t, err)

	var out bytes.Buffer
	n, err := Seed(context.Background(), d, f, &out)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Contains(t, out.String(), "profiles")

	rows, err := d.FetchByIDs(context.Background(), "game_sessions", []string{"g1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"u2"}, rows[0].Pluck("participants", "user_id"))
	created, ok := rows[0].Time("created_at")
	require.True(t, ok)
	assert.Equal(t, 2024, created.Year())
}

func TestSeedStopsOnConflict(t *testing.T) {
	d := dbtest.Open(t)
	dbtest.Seed(t, d, "profiles", dbtest.Profile("u1", "Existing"))

	f := Fixtures{"profiles": {dbtest.Profile("u1", "Duplicate")}}
	_, err := Seed(context.Background(), d, f, &bytes.Buffer{})
	assert.ErrorContains(t, err, "seeding profiles")
}

func TestSeedNormalizesQuotedTimestamps(t *testing.T) {
	d := dbtest.Open(t)
	f, err := loadFixtures(writeFixture(t, `
game_sessions:
  - id: offset
    created_at: "2024-06-01T12:00:00+02:00"
  - id: spaced
    created_at: "2024-06-01 10:00:00"
`))
	require.NoError(t, err)
	_, err = Seed(context.Background(), d, f, &bytes.Buffer{})
	require.NoError(t, err)

	rows, err := d.FetchByIDs(context.Background(), "game_sessions",
		[]string{"offset", "spaced"}, "id", "created_at")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "2024-06-01T10:00:00Z", r.String("created_at"), r.String("id"))
	}
}

func TestSeedRejectsUnparseableTimestamps(t *testing.T) {
	d := dbtest.Open(t)
	f, err := loadFixtures(writeFixture(t,
		"profiles:\n  - id: u1\n    created_at: last tuesday\n"))
	require.NoError(t, err)
	_, err = Seed(context.Background(), d, f, &bytes.Buffer{})
	assert.ErrorIs(t, err, db.ErrInvalidTimestamp)
}
