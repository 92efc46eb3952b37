package analytics

import (
	"context"
	"time"

	"github.com/quizhub/adminview/internal/db"
	"github.com/quizhub/adminview/internal/timerange"
)

// GameKPI summarizes game sessions in a window.
type GameKPI struct {
	TotalSessions int            `json:"total_sessions"`
	TotalPlayers  int            `json:"total_players"`
	UniqueHosts   int            `json:"unique_hosts"`
	AvgDuration   int            `json:"avg_duration_seconds"`
	AvgQuestions  int            `json:"avg_questions"`
	ByStatus      map[string]int `json:"by_status"`
}

// GameCharts holds the game leaderboards.
type GameCharts struct {
	TopApplications          []Entry     `json:"top_applications"`
	TopApplicationsByPlayers []Entry     `json:"top_applications_by_players"`
	UniqueHostsByApplication []Entry     `json:"unique_hosts_by_application"`
	TopHosts                 []HostEntry `json:"top_hosts"`
}

// GameDashboard is the payload of the game dashboard.
type GameDashboard struct {
	KPI    GameKPI    `json:"kpi"`
	Charts GameCharts `json:"charts"`
}

// Games builds the game dashboard over sessions created in r.
func (b *Builder) Games(
	ctx context.Context, r timerange.Range,
) (GameDashboard, error) {
	defer b.observe("games", time.Now())

	sessions, err := b.rows(ctx, "game_sessions", db.Query{
		Columns: []string{
			"id", "host_id", "application", "status",
			"participants", "current_questions", "duration_seconds",
		},
		Range: r,
	})
	if err != nil {
		return GameDashboard{}, err
	}
	return b.gameDashboard(ctx, sessions)
}

func (b *Builder) gameDashboard(
	ctx context.Context, sessions []db.Row,
) (GameDashboard, error) {
	var (
		bySessions = Counter{}
		byPlayers  = Counter{}
		byHost     = Counter{}
		byStatus   = Counter{}
		appHosts   = DistinctCounter{}
		hosts      = map[string]struct{}{}
		duration   Summer
		questions  Summer
		players    int
	)
	for _, s := range sessions {
		app := s.String("application")
		host := s.String("host_id")
		n := s.Len("participants")

		bySessions.Inc(app)
		byPlayers.Add(app, n)
		byHost.Inc(host)
		byStatus.Inc(s.String("status"))
		appHosts.Add(app, host)
		if host != "" {
			hosts[host] = struct{}{}
		}
		players += n
		duration.Add(s.Int("duration_seconds"))
		questions.Add(s.Len("current_questions"))
	}

	out := GameDashboard{
		KPI: GameKPI{
			TotalSessions: len(sessions),
			TotalPlayers:  players,
			UniqueHosts:   len(hosts),
			AvgDuration:   duration.Avg(),
			AvgQuestions:  questions.Avg(),
			ByStatus:      byStatus,
		},
		Charts: GameCharts{
			TopApplications:          bySessions.Top(b.topN),
			TopApplicationsByPlayers: byPlayers.Top(b.topN),
			UniqueHostsByApplication: appHosts.Sizes().Top(b.topN),
		},
	}

	top := byHost.Top(b.topN)
	profiles, err := b.resolve(ctx, "profiles", entryKeys(top), profileColumns...)
	if err != nil {
		return GameDashboard{}, err
	}
	out.Charts.TopHosts = hostEntries(top, profiles)
	return out, nil
}
