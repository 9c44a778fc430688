package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codequest-platform/arena-server/internal/summarycache"
)

// maxLoadedAttempts bounds a cold-cache reload to the same window the
// cache itself keeps after that (summarycache.maxAttemptsPerSummary).
const maxLoadedAttempts = 50

// SummaryLoader is summarycache.Loader's production implementation: on a
// cache miss it rebuilds the lesson summary from the puzzle_attempts
// table (§4.D "read-through on miss").
type SummaryLoader struct {
	pool     *pgxpool.Pool
	attempts *AttemptRepo
}

func NewSummaryLoader(pool *pgxpool.Pool, attempts *AttemptRepo) *SummaryLoader {
	return &SummaryLoader{pool: pool, attempts: attempts}
}

func (l *SummaryLoader) LoadSummary(ctx context.Context, userID, lessonID string) (summarycache.Summary, error) {
	recent, err := l.attempts.RecentByLesson(ctx, l.pool, userID, lessonID, maxLoadedAttempts)
	if err != nil {
		return summarycache.Summary{}, err
	}

	summary := summarycache.Summary{FailCounts: make(map[string]int)}
	for _, ra := range recent {
		a := ra.Attempt
		summary.Attempts = append(summary.Attempts, summarycache.AttemptRecord{
			LevelID:     a.LevelID,
			LevelNumber: ra.LevelNumber,
			Success:     a.Success,
			Difficulty:  string(a.DifficultyLabel),
			AttemptTime: a.AttemptTime,
			CreatedAt:   a.CreatedAt,
		})
		if !a.Success {
			summary.FailCounts[a.LevelID]++
		}
	}
	return summary, nil
}
