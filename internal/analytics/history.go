package analytics

import (
	"context"
	"slices"
	"time"

	"github.com/quizhub/adminview/internal/db"
)

// QuizHistory lists the quizzes one user played most.
type QuizHistory struct {
	UserID     string  `json:"user_id"`
	TotalGames int     `json:"total_games"`
	Quizzes    []Entry `json:"quizzes"`
}

// UserQuizHistory counts the sessions userID took part in, per
// quiz, and returns the ten most played with titles.
func (b *Builder) UserQuizHistory(
	ctx context.Context, userID string,
) (QuizHistory, error) {
	defer b.observe("quiz_history", time.Now())

	out := QuizHistory{UserID: userID, Quizzes: []Entry{}}
	if userID == "" {
		return out, nil
	}
	// The text search narrows candidates; membership is checked
	// exactly on the decoded participants.
	sessions, err := b.rows(ctx, "game_sessions", db.Query{
		Columns:       []string{"id", "quiz_id", "participants"},
		Search:        userID,
		SearchColumns: []string{"participants"},
	})
	if err != nil {
		return QuizHistory{}, err
	}

	perQuiz := Counter{}
	for _, s := range sessions {
		if !slices.Contains(s.Pluck("participants", "user_id"), userID) {
			continue
		}
		out.TotalGames++
		perQuiz.Inc(s.String("quiz_id"))
	}

	top := perQuiz.Top(historyTopN)
	titles, err := b.resolve(ctx, "quizzes", entryKeys(top), "title")
	if err != nil {
		return QuizHistory{}, err
	}
	out.Quizzes = named(top, titles, "title")
	return out, nil
}
