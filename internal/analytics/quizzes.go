package analytics

import (
	"context"
	"time"

	"github.com/quizhub/adminview/internal/db"
	"github.com/quizhub/adminview/internal/timerange"
)

// QuizKPI summarizes quizzes created in a window.
type QuizKPI struct {
	TotalQuizzes  int `json:"total_quizzes"`
	PublicQuizzes int `json:"public_quizzes"`
	AvgQuestions  int `json:"avg_questions"`
}

// QuizCharts holds the quiz leaderboards.
type QuizCharts struct {
	TopCategories []Entry     `json:"top_categories"`
	TopCreators   []HostEntry `json:"top_creators"`
}

// QuizDashboard is the payload of the quiz dashboard.
type QuizDashboard struct {
	KPI    QuizKPI    `json:"kpi"`
	Charts QuizCharts `json:"charts"`
}

// Quizzes builds the quiz dashboard over quizzes created in r.
func (b *Builder) Quizzes(
	ctx context.Context, r timerange.Range,
) (QuizDashboard, error) {
	defer b.observe("quizzes", time.Now())

	quizzes, err := b.rows(ctx, "quizzes", db.Query{
		Columns: []string{
			"id", "category", "creator_id", "is_public", "questions",
		},
		Range: r,
	})
	if err != nil {
		return QuizDashboard{}, err
	}

	categories, creators := Counter{}, Counter{}
	var questions Summer
	public := 0
	for _, q := range quizzes {
		categories.Inc(q.String("category"))
		creators.Inc(q.String("creator_id"))
		questions.Add(q.Len("questions"))
		if q.Bool("is_public") {
			public++
		}
	}

	top := creators.Top(b.topN)
	profiles, err := b.resolve(ctx, "profiles", entryKeys(top), profileColumns...)
	if err != nil {
		return QuizDashboard{}, err
	}
	return QuizDashboard{
		KPI: QuizKPI{
			TotalQuizzes:  len(quizzes),
			PublicQuizzes: public,
			AvgQuestions:  questions.Avg(),
		},
		Charts: QuizCharts{
			TopCategories: categories.Top(b.topN),
			TopCreators:   hostEntries(top, profiles),
		},
	}, nil
}
