package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/quizhub/adminview/internal/db"
	"github.com/quizhub/adminview/internal/logger"
	"github.com/quizhub/adminview/internal/lookup"
	"github.com/quizhub/adminview/internal/metrics"
)

// DefaultTopN is the leaderboard length when none is configured.
const DefaultTopN = 5

// historyTopN is the per-user quiz history length.
const historyTopN = 10

// Builder assembles dashboards from a Source. A failed table read
// is logged and treated as empty; only context cancellation
// aborts a build.
type Builder struct {
	src     db.Source
	log     logger.Logger
	metrics *metrics.Manager
	topN    int
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the builder's logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.log = l
		}
	}
}

// WithMetrics sets the metrics manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(b *Builder) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithTopN sets the leaderboard length.
func WithTopN(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.topN = n
		}
	}
}

// NewBuilder returns a Builder reading from src.
func NewBuilder(src db.Source, opts ...Option) *Builder {
	b := &Builder{
		src:     src,
		log:     logger.Named("analytics"),
		metrics: metrics.Default(),
		topN:    DefaultTopN,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// TopN returns the configured leaderboard length.
func (b *Builder) TopN() int { return b.topN }

// rows fetches every row of table matching q. Read failures
// other than cancellation yield no rows.
func (b *Builder) rows(
	ctx context.Context, table string, q db.Query,
) ([]db.Row, error) {
	page, err := b.src.FetchPage(ctx, table, q)
	if err != nil {
		return nil, b.degrade(ctx, table, err)
	}
	return page.Rows, nil
}

// count returns the number of rows of table matching q.
func (b *Builder) count(
	ctx context.Context, table string, q db.Query,
) (int, error) {
	q.Columns = []string{"id"}
	q.Limit = 1
	page, err := b.src.FetchPage(ctx, table, q)
	if err != nil {
		return 0, b.degrade(ctx, table, err)
	}
	return page.TotalCount, nil
}

// resolve batch-loads referenced rows. A failed lookup leaves
// every id resolving to lookup.Unknown.
func (b *Builder) resolve(
	ctx context.Context, table string, ids []string, columns ...string,
) (lookup.Table, error) {
	return b.resolveBy(ctx, table, "id", ids, columns...)
}

func (b *Builder) resolveBy(
	ctx context.Context, table, key string, ids []string, columns ...string,
) (lookup.Table, error) {
	if len(ids) == 0 {
		return lookup.Table{}, nil
	}
	b.metrics.RecordLookupBatch(table)
	t, err := lookup.FetchBy(ctx, b.src, table, key, ids, columns...)
	if err != nil {
		return lookup.Table{}, b.degrade(ctx, table, err)
	}
	return t, nil
}

// degrade returns the context error when the build was cancelled,
// otherwise logs err and returns nil.
func (b *Builder) degrade(ctx context.Context, table string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	b.metrics.RecordQueryError(table)
	b.log.Error(ctx, "query failed, using empty result",
		logger.String("table", table), logger.Error(err))
	return nil
}

// observe records the build time of a dashboard.
func (b *Builder) observe(name string, start time.Time) {
	b.metrics.RecordDashboardBuild(
		name, float64(time.Since(start).Microseconds())/1000,
	)
}

// named fills Name from the resolved column of each entry's key.
func named(entries []Entry, t lookup.Table, column string) []Entry {
	for i := range entries {
		entries[i].Name = t.Label(entries[i].Key, column)
	}
	return entries
}

// HostEntry is a ranked profile.
type HostEntry struct {
	ID        string `json:"id"`
	Fullname  string `json:"fullname"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
	Count     int    `json:"count"`
}

var profileColumns = []string{"fullname", "username", "avatar_url"}

// hostEntries joins ranked profile ids to their profile rows.
func hostEntries(entries []Entry, profiles lookup.Table) []HostEntry {
	out := make([]HostEntry, len(entries))
	for i, e := range entries {
		out[i] = HostEntry{
			ID:        e.Key,
			Fullname:  profiles.Label(e.Key, "fullname"),
			Username:  profiles.LabelOr(e.Key, "username", "-"),
			AvatarURL: profiles.LabelOr(e.Key, "avatar_url", ""),
			Count:     e.Count,
		}
	}
	return out
}

// entryKeys returns the keys of entries in rank order.
func entryKeys(entries []Entry) []string {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}
