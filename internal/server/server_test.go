package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quizhub/adminview/internal/config"
	"github.com/quizhub/adminview/internal/db"
	"github.com/quizhub/adminview/internal/dbtest"
	"github.com/quizhub/adminview/internal/logger"
	"github.com/quizhub/adminview/internal/metrics"
	"github.com/quizhub/adminview/internal/server"
)

// now is the fixed clock of every test server: a Wednesday.
var now = time.Date(2024, 6, 12, 15, 30, 0, 0, time.UTC)

func june(d int) time.Time {
	return time.Date(2024, time.June, d, 9, 0, 0, 0, time.UTC)
}

// --- Test helpers ---

// testEnv sets up a server with a temporary database.
type testEnv struct {
	srv     *server.Server
	handler http.Handler
	db      *db.DB
}

// setupOption customizes the config used by setup.
type setupOption func(*config.Config)

func withWriteTimeout(d time.Duration) setupOption {
	return func(c *config.Config) { c.WriteTimeout = d }
}

func setup(
	t *testing.T,
	opts ...setupOption,
) *testEnv {
	return setupWithServerOpts(t, nil, opts...)
}

// setupWithStore builds the server over a wrapper of the test
// database, for injecting failures.
func setupWithStore(
	t *testing.T, wrap func(db.Store) db.Store,
) *testEnv {
	return setupWithServerOpts(t, wrap)
}

func setupWithServerOpts(
	t *testing.T,
	wrap func(db.Store) db.Store,
	opts ...setupOption,
) *testEnv {
	t.Helper()
	database := dbtest.Open(t)

	cfg := config.Config{
		Host:         "127.0.0.1",
		Port:         0,
		DataDir:      t.TempDir(),
		WriteTimeout: 30 * time.Second,
		StaleAfter:   time.Hour,
		TopN:         5,
		CacheMaxAge:  60,
		CacheSWR:     30,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var store db.Store = database
	if wrap != nil {
		store = wrap(database)
	}
	srv := server.New(cfg, store,
		server.WithClock(func() time.Time { return now }),
		server.WithLogger(logger.Nop()),
		server.WithMetrics(metrics.NewManager()),
		server.WithVersion(server.VersionInfo{
			Version: "v1.2.3", Commit: "abc123", BuildDate: "2024-06-01",
		}),
	)
	return &testEnv{
		srv:     srv,
		handler: srv.Handler(),
		db:      database,
	}
}

// seedAll loads a small platform: four users (three signed up in
// June), one June game, quizzes, a group, reports and
// subscriptions.
func (te *testEnv) seedAll(t *testing.T) {
	t.Helper()
	at := func(ts time.Time) func(db.Row) {
		return func(r db.Row) { r["created_at"] = dbtest.TS(ts) }
	}
	loc := func(state, city, country string) func(db.Row) {
		return func(r db.Row) {
			r["state_id"] = state
			r["city_id"] = city
			r["country_code"] = country
		}
	}
	with := func(col, v string) func(db.Row) {
		return func(r db.Row) { r[col] = v }
	}
	dbtest.Seed(t, te.db, "profiles",
		dbtest.Profile("u1", "Ann Archer", at(june(2)), loc("s1", "c1", "NL"),
			with("email", "ann@example.com"), with("role", "user"),
			with("status", "active")),
		dbtest.Profile("u2", "Bob Baker", at(june(5)), loc("s1", "c2", "NL"),
			with("email", "bob@example.com"), with("role", "admin"),
			with("status", "active")),
		dbtest.Profile("u3", "Cy Cole", at(june(10)), loc("s9", "c1", "JP"),
			with("role", "user"), with("status", "suspended")),
		dbtest.Profile("u4", "Dee Dunn",
			at(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
			loc("s2", "c3", "JP"), with("role", "user")),
	)
	dbtest.Seed(t, te.db, "states",
		db.Row{"id": "s1", "name": "Utrecht"},
		db.Row{"id": "s2", "name": "Kanto"},
	)
	dbtest.Seed(t, te.db, "cities",
		db.Row{"id": "c1", "name": "Amersfoort"},
		db.Row{"id": "c2", "name": "Zeist"},
	)
	dbtest.Seed(t, te.db, "countries",
		db.Row{"id": "k1", "code": "NL", "name": "Netherlands"},
		db.Row{"id": "k2", "code": "JP", "name": "Japan"},
	)

	g1 := dbtest.Session("g1", "kahoot", "u1", "finished", june(3), 2)
	g1["quiz_id"] = "q1"
	old := dbtest.Session("g0", "kahoot", "u2", "finished",
		time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), 4)
	dbtest.Seed(t, te.db, "game_sessions", g1, old)

	dbtest.Seed(t, te.db, "quizzes",
		db.Row{
			"id": "q1", "title": "Capitals", "category": "geography",
			"creator_id": "u2", "is_public": 1, "questions": 10,
			"created_at": dbtest.TS(june(4)),
		},
		db.Row{
			"id": "q2", "title": "Rivers", "category": "geography",
			"creator_id": "u2", "is_public": 0, "questions": 6,
			"created_at": dbtest.TS(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
		},
	)
	dbtest.Seed(t, te.db, "groups",
		db.Row{"id": "gr1", "name": "Class 4B", "owner_id": "u1",
			"created_at": dbtest.TS(june(6))},
	)
	dbtest.Seed(t, te.db, "reports",
		db.Row{"id": "r1", "quiz_id": "q1", "reporter_id": "u1",
			"reported_user_id": "u2", "reason": "spam", "status": "open",
			"created_at": dbtest.TS(june(7))},
	)
	dbtest.Seed(t, te.db, "subscriptions",
		db.Row{"id": "sub1", "profile_id": "u1", "plan": "pro",
			"amount": "9.99", "currency": "EUR", "status": "active",
			"created_at": dbtest.TS(june(2))},
		db.Row{"id": "sub2", "profile_id": "u2", "plan": "pro",
			"amount": "10.01", "currency": "EUR", "status": "cancelled",
			"created_at": dbtest.TS(june(3))},
		db.Row{"id": "sub3", "profile_id": "u3", "plan": "basic",
			"amount": "5", "currency": "EUR", "status": "active",
			"created_at": dbtest.TS(june(4))},
	)
}

func (te *testEnv) get(
	t *testing.T, path string,
) *httptest.ResponseRecorder {
	t.Helper()
	return te.do(t, http.MethodGet, path, "")
}

func (te *testEnv) post(
	t *testing.T, path string, body string,
) *httptest.ResponseRecorder {
	t.Helper()
	return te.do(t, http.MethodPost, path, body)
}

func (te *testEnv) patch(
	t *testing.T, path string, body string,
) *httptest.ResponseRecorder {
	t.Helper()
	return te.do(t, http.MethodPatch, path, body)
}

func (te *testEnv) do(
	t *testing.T, method, path, body string,
) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	te.handler.ServeHTTP(w, req)
	return w
}

// listenAndServe starts the server on a real port and returns the
// base URL. The server is shut down when the test finishes.
func (te *testEnv) listenAndServe(t *testing.T) string {
	t.Helper()
	port := server.FindAvailablePort("127.0.0.1", 40000)
	te.srv.SetPort(port)

	var serveErr error
	done := make(chan struct{})
	go func() {
		serveErr = te.srv.ListenAndServe()
		close(done)
	}()

	// Wait for the port to accept connections.
	deadline := time.Now().Add(2 * time.Second)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ready := false
	var lastDialErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout(
			"tcp", addr, 50*time.Millisecond,
		)
		if err == nil {
			conn.Close()
			ready = true
			break
		}
		lastDialErr = err
		time.Sleep(10 * time.Millisecond)
	}
	if !ready {
		select {
		case <-done:
			t.Fatalf("server failed to start: %v", serveErr)
		default:
		}
		t.Fatalf(
			"server not ready after 2s: last dial error: %v",
			lastDialErr,
		)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer cancel()
		if err := te.srv.Shutdown(ctx); err != nil &&
			err != http.ErrServerClosed {
			t.Errorf("server shutdown error: %v", err)
		}
		select {
		case <-done:
			if serveErr != nil && serveErr != http.ErrServerClosed {
				t.Errorf("server exited with error: %v", serveErr)
			}
		case <-time.After(5 * time.Second):
			t.Error("timed out waiting for server goroutine")
		}
	})

	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

// decode unmarshals the response body into a typed struct.
func decode[T any](
	t *testing.T, w *httptest.ResponseRecorder,
) T {
	t.Helper()
	var result T
	if err := json.Unmarshal(
		w.Body.Bytes(), &result,
	); err != nil {
		t.Fatalf("decoding JSON: %v\nbody: %s",
			err, w.Body.String())
	}
	return result
}

func assertStatus(
	t *testing.T, w *httptest.ResponseRecorder, code int,
) {
	t.Helper()
	if w.Code != code {
		t.Fatalf("expected status %d, got %d: %s",
			code, w.Code, w.Body.String())
	}
}

func assertBodyContains(
	t *testing.T, w *httptest.ResponseRecorder, substr string,
) {
	t.Helper()
	if !strings.Contains(w.Body.String(), substr) {
		t.Errorf("body %q does not contain %q",
			w.Body.String(), substr)
	}
}

// assertErrorResponse checks that the response body is a JSON
// object with an "error" field matching wantMsg.
func assertErrorResponse(
	t *testing.T, w *httptest.ResponseRecorder,
	wantMsg string,
) {
	t.Helper()
	resp := decode[map[string]any](t, w)
	if got := resp["error"]; got != wantMsg {
		t.Errorf("error = %v, want %q", got, wantMsg)
	}
}

func TestGetVersion(t *testing.T) {
	te := setup(t)
	w := te.get(t, "/api/v1/version")
	assertStatus(t, w, http.StatusOK)

	v := decode[server.VersionInfo](t, w)
	if v.Version != "v1.2.3" || v.Commit != "abc123" {
		t.Errorf("version = %+v", v)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestHealthz(t *testing.T) {
	te := setup(t)
	w := te.get(t, "/healthz")
	assertStatus(t, w, http.StatusOK)
	assertBodyContains(t, w, `"status":"ok"`)
}

func TestHealthzDatabaseDown(t *testing.T) {
	te := setupWithStore(t, func(s db.Store) db.Store {
		return &faultyStore{Store: s, pingErr: errors.New("db closed")}
	})
	w := te.get(t, "/healthz")
	assertStatus(t, w, http.StatusServiceUnavailable)
	assertErrorResponse(t, w, "database unavailable")
}

func TestListenAndServe(t *testing.T) {
	te := setup(t)
	base := te.listenAndServe(t)

	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	te := setup(t)
	te.seedAll(t)
	assertStatus(t, te.get(t, "/api/master-dashboard"), http.StatusOK)

	w := te.get(t, "/metrics")
	assertStatus(t, w, http.StatusOK)
	assertBodyContains(t, w, "adminview_dashboard_build_duration_milliseconds")
	assertBodyContains(t, w, `endpoint="/api/master-dashboard"`)
}

// faultyStore injects failures into selected store operations.
type faultyStore struct {
	db.Store
	pingErr   error
	updateErr error
	deleteErr error
	readErr   error
	updates   int
	deletes   int
}

func (f *faultyStore) Ping(ctx context.Context) error {
	if f.pingErr != nil {
		return f.pingErr
	}
	return f.Store.Ping(ctx)
}

func (f *faultyStore) UpdateByID(
	ctx context.Context, table, id string, set map[string]any,
) error {
	f.updates++
	if f.updateErr != nil {
		return f.updateErr
	}
	return f.Store.UpdateByID(ctx, table, id, set)
}

func (f *faultyStore) DeleteByIDs(
	ctx context.Context, table string, ids []string, guards ...db.Filter,
) (int, error) {
	f.deletes++
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return f.Store.DeleteByIDs(ctx, table, ids, guards...)
}

func (f *faultyStore) FetchPage(
	ctx context.Context, table string, q db.Query,
) (db.Page, error) {
	if f.readErr != nil {
		return db.Page{}, f.readErr
	}
	return f.Store.FetchPage(ctx, table, q)
}

func configWithStaleAfter(d time.Duration) config.Config {
	return config.Config{
		StaleAfter:  d,
		LogLevel:    "info",
		CacheMaxAge: 60,
		CacheSWR:    30,
	}
}
