package analytics

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/quizhub/adminview/internal/db"
	"github.com/quizhub/adminview/internal/lookup"
	"github.com/quizhub/adminview/internal/timerange"
)

// recentReports is how many latest reports the summary lists.
const recentReports = 10

// ReportLine is one recent report with both parties named.
type ReportLine struct {
	ID           string `json:"id"`
	Reason       string `json:"reason"`
	Status       string `json:"status"`
	Reporter     string `json:"reporter"`
	ReportedUser string `json:"reported_user"`
	CreatedAt    string `json:"created_at"`
}

// ReportSummary aggregates moderation reports in a window.
type ReportSummary struct {
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"by_status"`
	ByReason     []Entry        `json:"by_reason"`
	TopReported  []HostEntry    `json:"top_reported"`
	TopReporters []HostEntry    `json:"top_reporters"`
	Recent       []ReportLine   `json:"recent"`
}

// Reports builds the report summary. Reports are aggregated
// first; every profile referenced by the winners and the recent
// list is then resolved in one batch.
func (b *Builder) Reports(
	ctx context.Context, r timerange.Range,
) (ReportSummary, error) {
	defer b.observe("reports", time.Now())

	reports, err := b.rows(ctx, "reports", db.Query{
		Columns: []string{
			"id", "reporter_id", "reported_user_id",
			"reason", "status", "created_at",
		},
		Range: r,
		Sort:  []db.Sort{{Column: "created_at", Desc: true}},
	})
	if err != nil {
		return ReportSummary{}, err
	}

	reported, reporters := Counter{}, Counter{}
	byStatus, byReason := Counter{}, Counter{}
	for _, rep := range reports {
		reported.Inc(rep.String("reported_user_id"))
		reporters.Inc(rep.String("reporter_id"))
		byStatus.Inc(rep.String("status"))
		byReason.Inc(rep.String("reason"))
	}

	topReported := reported.Top(b.topN)
	topReporters := reporters.Top(b.topN)
	recent := reports[:min(recentReports, len(reports))]

	ids := append(entryKeys(topReported), entryKeys(topReporters)...)
	ids = append(ids, lookup.CollectKeys(
		recent, "reporter_id", "reported_user_id",
	)...)
	profiles, err := b.resolve(ctx, "profiles", lo.Uniq(ids), profileColumns...)
	if err != nil {
		return ReportSummary{}, err
	}

	lines := make([]ReportLine, len(recent))
	for i, rep := range recent {
		lines[i] = ReportLine{
			ID:           rep.String("id"),
			Reason:       rep.String("reason"),
			Status:       rep.String("status"),
			Reporter:     profiles.Label(rep.String("reporter_id"), "fullname"),
			ReportedUser: profiles.Label(rep.String("reported_user_id"), "fullname"),
			CreatedAt:    rep.String("created_at"),
		}
	}
	return ReportSummary{
		Total:        len(reports),
		ByStatus:     byStatus,
		ByReason:     byReason.Top(0),
		TopReported:  hostEntries(topReported, profiles),
		TopReporters: hostEntries(topReporters, profiles),
		Recent:       lines,
	}, nil
}
