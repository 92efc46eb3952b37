package analytics

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quizhub/adminview/internal/db"
	"github.com/quizhub/adminview/internal/lookup"
	"github.com/quizhub/adminview/internal/timerange"
)

// MasterKPI holds the headline counts of the master dashboard.
type MasterKPI struct {
	TotalUsers    int `json:"totalUsers"`
	NewUsers      int `json:"newUsers"`
	TotalQuizzes  int `json:"totalQuizzes"`
	TotalSessions int `json:"totalSessions"`
	TotalGroups   int `json:"totalGroups"`
	ActiveUsers   int `json:"activeUsers"`
}

// MasterCharts holds the location leaderboards.
type MasterCharts struct {
	TopStates    []Entry `json:"topStates"`
	TopCities    []Entry `json:"topCities"`
	TopCountries []Entry `json:"topCountries"`
}

// MasterDashboard is the payload of the master dashboard.
type MasterDashboard struct {
	KPI    MasterKPI    `json:"kpi"`
	Charts MasterCharts `json:"charts"`
}

// Master builds the master dashboard. Totals count every row
// regardless of r. New users, active users and the location
// charts only see rows created within r.
func (b *Builder) Master(
	ctx context.Context, r timerange.Range,
) (MasterDashboard, error) {
	defer b.observe("master", time.Now())

	var (
		totalUsers    int
		totalSessions int
		profiles      []db.Row
		sessions      []db.Row
		quizzes       int
		groups        int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		totalUsers, err = b.count(gctx, "profiles", db.Query{})
		return err
	})
	g.Go(func() (err error) {
		profiles, err = b.rows(gctx, "profiles", db.Query{
			Columns: []string{"id", "state_id", "city_id", "country_code"},
			Range:   r,
		})
		return err
	})
	g.Go(func() (err error) {
		sessions, err = b.rows(gctx, "game_sessions", db.Query{
			Columns: []string{"id", "host_id", "participants"},
			Range:   r,
		})
		return err
	})
	g.Go(func() (err error) {
		totalSessions, err = b.count(gctx, "game_sessions", db.Query{})
		return err
	})
	g.Go(func() (err error) {
		quizzes, err = b.count(gctx, "quizzes", db.Query{})
		return err
	})
	g.Go(func() (err error) {
		groups, err = b.count(gctx, "groups", db.Query{})
		return err
	})
	if err := g.Wait(); err != nil {
		return MasterDashboard{}, err
	}

	active := make(map[string]struct{})
	for _, s := range sessions {
		if h := s.String("host_id"); h != "" {
			active[h] = struct{}{}
		}
		for _, id := range s.Pluck("participants", "user_id") {
			active[id] = struct{}{}
		}
	}

	states, cities, countries := Counter{}, Counter{}, Counter{}
	for _, p := range profiles {
		states.Inc(p.String("state_id"))
		cities.Inc(p.String("city_id"))
		countries.Inc(p.String("country_code"))
	}

	out := MasterDashboard{
		KPI: MasterKPI{
			TotalUsers:    totalUsers,
			NewUsers:      len(profiles),
			TotalQuizzes:  quizzes,
			TotalSessions: totalSessions,
			TotalGroups:   groups,
			ActiveUsers:   len(active),
		},
		Charts: MasterCharts{
			TopStates:    states.Top(b.topN),
			TopCities:    cities.Top(b.topN),
			TopCountries: countries.Top(b.topN),
		},
	}

	// Names are resolved only for the winners.
	var stateNames, cityNames, countryNames lookup.Table
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stateNames, err = b.resolve(gctx, "states",
			entryKeys(out.Charts.TopStates), "name")
		return err
	})
	g.Go(func() (err error) {
		cityNames, err = b.resolve(gctx, "cities",
			entryKeys(out.Charts.TopCities), "name")
		return err
	})
	g.Go(func() (err error) {
		countryNames, err = b.resolveBy(gctx, "countries", "code",
			entryKeys(out.Charts.TopCountries), "name")
		return err
	})
	if err := g.Wait(); err != nil {
		return MasterDashboard{}, err
	}
	named(out.Charts.TopStates, stateNames, "name")
	named(out.Charts.TopCities, cityNames, "name")
	named(out.Charts.TopCountries, countryNames, "name")
	return out, nil
}
