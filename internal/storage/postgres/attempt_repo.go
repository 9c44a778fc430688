package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codequest-platform/arena-server/internal/model"
)

// AttemptRepo owns PuzzleAttempt writes and idempotency lookups.
type AttemptRepo struct{}

func NewAttemptRepo() *AttemptRepo { return &AttemptRepo{} }

// FindByIdempotencyKey returns the previously recorded attempt for
// (userID, idempotencyKey), or found=false if none exists (§4.E step 2).
func (r *AttemptRepo) FindByIdempotencyKey(ctx context.Context, tx pgx.Tx, userID, key string) (model.PuzzleAttempt, bool, error) {
	if key == "" {
		return model.PuzzleAttempt{}, false, nil
	}
	row := tx.QueryRow(ctx, `
		SELECT id, user_id, level_id, COALESCE(lesson_id::text, ''), success, attempt_time,
		       theta_at_attempt, beta_at_attempt, difficulty_label, COALESCE(idempotency_key, ''), created_at
		FROM puzzle_attempts WHERE user_id = $1 AND idempotency_key = $2`, userID, key)

	var a model.PuzzleAttempt
	err := row.Scan(&a.ID, &a.UserID, &a.LevelID, &a.LessonID, &a.Success, &a.AttemptTime,
		&a.ThetaAtAttempt, &a.BetaAtAttempt, &a.DifficultyLabel, &a.IdempotencyKey, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PuzzleAttempt{}, false, nil
	}
	if err != nil {
		return model.PuzzleAttempt{}, false, err
	}
	return a, true, nil
}

// Insert records a new attempt, capturing the pre-update theta/beta
// snapshot (§4.E step 12).
func (r *AttemptRepo) Insert(ctx context.Context, tx pgx.Tx, a model.PuzzleAttempt) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO puzzle_attempts
			(user_id, level_id, lesson_id, success, attempt_time,
			 theta_at_attempt, beta_at_attempt, difficulty_label, idempotency_key)
		VALUES ($1,$2,NULLIF($3,'')::uuid,$4,$5,$6,$7,$8,NULLIF($9,''))
		RETURNING id`,
		a.UserID, a.LevelID, a.LessonID, a.Success, a.AttemptTime,
		a.ThetaAtAttempt, a.BetaAtAttempt, a.DifficultyLabel, a.IdempotencyKey).Scan(&id)
	return id, err
}

// RecentAttempt pairs a PuzzleAttempt with its level number, the join
// summarycache needs to build an AttemptRecord (§4.D).
type RecentAttempt struct {
	Attempt     model.PuzzleAttempt
	LevelNumber int
}

// RecentByLesson loads the most recent attempts for (user, lesson), oldest
// first, for the performance summary cache's read-through loader (§4.D).
// limit bounds how many rows come back; the cache itself re-trims to its
// own window on every write.
func (r *AttemptRepo) RecentByLesson(ctx context.Context, pool *pgxpool.Pool, userID, lessonID string, limit int) ([]RecentAttempt, error) {
	rows, err := pool.Query(ctx, `
		SELECT pa.id, pa.user_id, pa.level_id, COALESCE(pa.lesson_id::text, ''), pa.success, pa.attempt_time,
		       pa.theta_at_attempt, pa.beta_at_attempt, pa.difficulty_label,
		       COALESCE(pa.idempotency_key, ''), pa.created_at, l.level_number
		FROM puzzle_attempts pa
		JOIN levels l ON l.id = pa.level_id
		WHERE pa.user_id = $1 AND pa.lesson_id = $2
		ORDER BY pa.created_at DESC
		LIMIT $3`, userID, lessonID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RecentAttempt
	for rows.Next() {
		var ra RecentAttempt
		a := &ra.Attempt
		if err := rows.Scan(&a.ID, &a.UserID, &a.LevelID, &a.LessonID, &a.Success, &a.AttemptTime,
			&a.ThetaAtAttempt, &a.BetaAtAttempt, &a.DifficultyLabel, &a.IdempotencyKey, &a.CreatedAt,
			&ra.LevelNumber); err != nil {
			return nil, err
		}
		out = append(out, ra)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SuccessfulAttemptTimes returns all successful attempt times for (user,
// level), used to recompute best/average completion time (§4.E step 10).
func (r *AttemptRepo) SuccessfulAttemptTimes(ctx context.Context, tx pgx.Tx, userID, levelID string) ([]int, error) {
	rows, err := tx.Query(ctx, `
		SELECT attempt_time FROM puzzle_attempts
		WHERE user_id = $1 AND level_id = $2 AND success = true`, userID, levelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []int
	for rows.Next() {
		var t int
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, rows.Err()
}
