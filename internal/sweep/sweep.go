// Package sweep finds game sessions stuck in the waiting state
// and deletes them on operator request.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"github.com/quizhub/adminview/internal/db"
	"github.com/quizhub/adminview/internal/logger"
	"github.com/quizhub/adminview/internal/metrics"
)

// DefaultThreshold is the age after which a waiting session is
// stale.
const DefaultThreshold = time.Hour

// StatusWaiting is the only status the sweep ever selects.
const StatusWaiting = "waiting"

// NoSessionIDsMessage is the Result error for an empty clear.
const NoSessionIDsMessage = "No session IDs provided"

// ErrNoSessionIDs is returned by Clear for an empty id list.
var ErrNoSessionIDs = errors.New("no session IDs provided")

// Session is a stale session candidate.
type Session struct {
	ID           string    `json:"id"`
	QuizID       string    `json:"quiz_id"`
	HostID       string    `json:"host_id"`
	Application  string    `json:"application"`
	Participants int       `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
	AgeSeconds   int       `json:"age_seconds"`
}

// Result reports a clear operation.
type Result struct {
	Cleared int    `json:"cleared"`
	Error   string `json:"error,omitempty"`
}

// Sweeper detects and clears stale sessions.
type Sweeper struct {
	store     db.Store
	threshold atomic.Int64
	now       func() time.Time
	log       logger.Logger
	metrics   *metrics.Manager
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithThreshold sets the stale age.
func WithThreshold(d time.Duration) Option {
	return func(s *Sweeper) { s.SetThreshold(d) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(s *Sweeper) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New returns a Sweeper over store.
func New(store db.Store, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:   store,
		now:     time.Now,
		log:     logger.Named("sweep"),
		metrics: metrics.Default(),
	}
	s.threshold.Store(int64(DefaultThreshold))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Threshold returns the current stale age.
func (s *Sweeper) Threshold() time.Duration {
	return time.Duration(s.threshold.Load())
}

// SetThreshold changes the stale age. Non-positive values are
// ignored. Safe for concurrent use.
func (s *Sweeper) SetThreshold(d time.Duration) {
	if d > 0 {
		s.threshold.Store(int64(d))
	}
}

// Cutoff returns the newest created_at that still counts as
// stale.
func (s *Sweeper) Cutoff() time.Time {
	return s.now().Add(-s.Threshold())
}

// FindStale lists waiting sessions created at or before the
// cutoff, oldest first.
func (s *Sweeper) FindStale(ctx context.Context) ([]Session, error) {
	now := s.now()
	cutoff := now.Add(-s.Threshold())
	page, err := s.store.FetchPage(ctx, "game_sessions", db.Query{
		Columns: []string{
			"id", "quiz_id", "host_id", "application",
			"participants", "created_at",
		},
		Filters: []db.Filter{
			db.Eq("status", StatusWaiting),
			db.Lte("created_at", cutoff),
		},
		Sort: []db.Sort{{Column: "created_at"}},
	})
	if err != nil {
		return nil, fmt.Errorf("finding stale sessions: %w", err)
	}

	out := make([]Session, 0, len(page.Rows))
	for _, r := range page.Rows {
		created, _ := r.Time("created_at")
		out = append(out, Session{
			ID:           r.String("id"),
			QuizID:       r.String("quiz_id"),
			HostID:       r.String("host_id"),
			Application:  r.String("application"),
			Participants: r.Len("participants"),
			CreatedAt:    created,
			AgeSeconds:   int(now.Sub(created).Seconds()),
		})
	}
	return out, nil
}

// Clear deletes the given sessions that are still stale: waiting
// and created at or before the cutoff. Others are left in place.
// It does not cascade. An empty list is rejected without touching
// the store.
func (s *Sweeper) Clear(ctx context.Context, ids []string) (Result, error) {
	ids = lo.Uniq(lo.Compact(ids))
	if len(ids) == 0 {
		s.metrics.RecordSweep("empty", 0)
		return Result{Error: NoSessionIDsMessage}, ErrNoSessionIDs
	}

	n, err := s.store.DeleteByIDs(ctx, "game_sessions", ids,
		db.Eq("status", StatusWaiting),
		db.Lte("created_at", s.Cutoff()),
	)
	if err != nil {
		s.metrics.RecordSweep("error", 0)
		s.log.Error(ctx, "clearing stale sessions",
			logger.Int("requested", len(ids)), logger.Error(err))
		return Result{Error: "delete failed"},
			fmt.Errorf("deleting sessions: %w", err)
	}
	s.metrics.RecordSweep("ok", n)
	s.log.Info(ctx, "cleared stale sessions",
		logger.Int("requested", len(ids)), logger.Int("cleared", n))
	return Result{Cleared: n}, nil
}

// ClearAll re-detects stale sessions and deletes all of them.
func (s *Sweeper) ClearAll(ctx context.Context) (Result, error) {
	stale, err := s.FindStale(ctx)
	if err != nil {
		return Result{Error: "delete failed"}, err
	}
	if len(stale) == 0 {
		return Result{}, nil
	}
	return s.Clear(ctx, IDs(stale))
}

// IDs returns the ids of sessions in order.
func IDs(sessions []Session) []string {
	return lo.Map(sessions, func(s Session, _ int) string { return s.ID })
}
