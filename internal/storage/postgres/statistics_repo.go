package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codequest-platform/arena-server/internal/model"
)

// StatisticsRepo owns StudentStatistics and Achievement writes — the
// progression ledger's persisted state (§3).
type StatisticsRepo struct{}

func NewStatisticsRepo() *StatisticsRepo { return &StatisticsRepo{} }

// LockForUpdate reads a StudentStatistics row FOR UPDATE, creating a
// zero-value row on first access (every user has one from signup per §3,
// but the attempt processor also runs this defensively).
func (r *StatisticsRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, userID string) (model.StudentStatistics, error) {
	row := tx.QueryRow(ctx, `
		SELECT user_id, exp, rank_name, rank_index, current_streak, longest_streak,
		       total_success_count, total_fail_count
		FROM student_statistics WHERE user_id = $1 FOR UPDATE`, userID)

	var s model.StudentStatistics
	err := row.Scan(&s.UserID, &s.Exp, &s.RankName, &s.RankIndex, &s.CurrentStreak, &s.LongestStreak,
		&s.TotalSuccessCount, &s.TotalFailCount)
	if errors.Is(err, pgx.ErrNoRows) {
		s = model.StudentStatistics{UserID: userID, RankName: "novice"}
		if _, err := tx.Exec(ctx, `
			INSERT INTO student_statistics (user_id, rank_name) VALUES ($1, 'novice')
			ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
			return model.StudentStatistics{}, err
		}
		return s, nil
	}
	if err != nil {
		return model.StudentStatistics{}, err
	}

	rows, err := tx.Query(ctx, `SELECT achievement_type FROM achievements WHERE user_id = $1`, userID)
	if err != nil {
		return model.StudentStatistics{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return model.StudentStatistics{}, err
		}
		s.CompletedAchievements = append(s.CompletedAchievements, t)
	}
	return s, rows.Err()
}

// Upsert writes the ledger row (exp/rank/streaks/counters only;
// achievements are written separately via InsertAchievement).
func (r *StatisticsRepo) Upsert(ctx context.Context, tx pgx.Tx, s model.StudentStatistics) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO student_statistics
			(user_id, exp, rank_name, rank_index, current_streak, longest_streak,
			 total_success_count, total_fail_count, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now())
		ON CONFLICT (user_id) DO UPDATE SET
			exp = EXCLUDED.exp,
			rank_name = EXCLUDED.rank_name,
			rank_index = EXCLUDED.rank_index,
			current_streak = EXCLUDED.current_streak,
			longest_streak = EXCLUDED.longest_streak,
			total_success_count = EXCLUDED.total_success_count,
			total_fail_count = EXCLUDED.total_fail_count,
			updated_at = now()`,
		s.UserID, s.Exp, s.RankName, s.RankIndex, s.CurrentStreak, s.LongestStreak,
		s.TotalSuccessCount, s.TotalFailCount)
	return err
}

// Get is the read-only counterpart to LockForUpdate, for the achievements
// HTTP handler's "merged earned + progress" view (§6).
func (r *StatisticsRepo) Get(ctx context.Context, pool *pgxpool.Pool, userID string) (model.StudentStatistics, error) {
	row := pool.QueryRow(ctx, `
		SELECT user_id, exp, rank_name, rank_index, current_streak, longest_streak,
		       total_success_count, total_fail_count
		FROM student_statistics WHERE user_id = $1`, userID)

	var s model.StudentStatistics
	err := row.Scan(&s.UserID, &s.Exp, &s.RankName, &s.RankIndex, &s.CurrentStreak, &s.LongestStreak,
		&s.TotalSuccessCount, &s.TotalFailCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.StudentStatistics{UserID: userID, RankName: "novice"}, nil
	}
	if err != nil {
		return model.StudentStatistics{}, err
	}

	rows, err := pool.Query(ctx, `SELECT achievement_type FROM achievements WHERE user_id = $1`, userID)
	if err != nil {
		return model.StudentStatistics{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return model.StudentStatistics{}, err
		}
		s.CompletedAchievements = append(s.CompletedAchievements, t)
	}
	return s, rows.Err()
}

// InsertAchievement records a newly unlocked achievement. Idempotent by
// the (user_id, achievement_type) unique index (§3).
func (r *StatisticsRepo) InsertAchievement(ctx context.Context, tx pgx.Tx, userID, achievementType string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO achievements (user_id, achievement_type) VALUES ($1, $2)
		ON CONFLICT (user_id, achievement_type) DO NOTHING`, userID, achievementType)
	return err
}
