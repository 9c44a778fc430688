package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codequest-platform/arena-server/internal/model"
)

// ProgressRepo owns StudentProgress and LessonLevelCompletion writes, always
// within the caller's attempt transaction (§3 ownership rules).
type ProgressRepo struct{}

func NewProgressRepo() *ProgressRepo { return &ProgressRepo{} }

// LockForUpdate reads a StudentProgress row FOR UPDATE, returning
// (zero-value, false, nil) if it does not exist yet — the caller inserts
// defaults per §4.E step 3.
func (r *ProgressRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, userID, levelID string) (model.StudentProgress, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT user_id, level_id, theta, prev_theta, beta, prev_beta,
		       success_count, fail_count, total_attempts,
		       best_completion_time, average_completion_time, preferred_difficulty
		FROM student_progress WHERE user_id = $1 AND level_id = $2 FOR UPDATE`,
		userID, levelID)

	var p model.StudentProgress
	var preferredJSON []byte
	err := row.Scan(&p.UserID, &p.LevelID, &p.Theta, &p.PrevTheta, &p.Beta, &p.PrevBeta,
		&p.SuccessCount, &p.FailCount, &p.TotalAttempts,
		&p.BestCompletionTime, &p.AvgCompletionTime, &preferredJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.StudentProgress{}, false, nil
	}
	if err != nil {
		return model.StudentProgress{}, false, err
	}
	if len(preferredJSON) > 0 {
		if err := json.Unmarshal(preferredJSON, &p.PreferredDifficulty); err != nil {
			return model.StudentProgress{}, false, err
		}
	}
	return p, true, nil
}

// Upsert writes the full progress row (insert-or-update by primary key).
func (r *ProgressRepo) Upsert(ctx context.Context, tx pgx.Tx, p model.StudentProgress) error {
	preferredJSON, err := json.Marshal(p.PreferredDifficulty)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO student_progress
			(user_id, level_id, theta, prev_theta, beta, prev_beta,
			 success_count, fail_count, total_attempts,
			 best_completion_time, average_completion_time, preferred_difficulty, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12, now())
		ON CONFLICT (user_id, level_id) DO UPDATE SET
			theta = EXCLUDED.theta,
			prev_theta = EXCLUDED.prev_theta,
			beta = EXCLUDED.beta,
			prev_beta = EXCLUDED.prev_beta,
			success_count = EXCLUDED.success_count,
			fail_count = EXCLUDED.fail_count,
			total_attempts = EXCLUDED.total_attempts,
			best_completion_time = EXCLUDED.best_completion_time,
			average_completion_time = EXCLUDED.average_completion_time,
			preferred_difficulty = EXCLUDED.preferred_difficulty,
			updated_at = now()`,
		p.UserID, p.LevelID, p.Theta, p.PrevTheta, p.Beta, p.PrevBeta,
		p.SuccessCount, p.FailCount, p.TotalAttempts,
		p.BestCompletionTime, p.AvgCompletionTime, preferredJSON)
	return err
}

// UpsertCompletion records the first success for (user, level); a repeat
// call is a no-op (§3: "idempotent upsert").
func (r *ProgressRepo) UpsertCompletion(ctx context.Context, tx pgx.Tx, userID, levelID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO lesson_level_completions (user_id, level_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, level_id) DO NOTHING`, userID, levelID)
	return err
}

// Get is the read-only counterpart to LockForUpdate, used by the progress
// HTTP handler outside of any write transaction.
func (r *ProgressRepo) Get(ctx context.Context, pool *pgxpool.Pool, userID, levelID string) (model.StudentProgress, bool, error) {
	row := pool.QueryRow(ctx, `
		SELECT user_id, level_id, theta, prev_theta, beta, prev_beta,
		       success_count, fail_count, total_attempts,
		       best_completion_time, average_completion_time, preferred_difficulty
		FROM student_progress WHERE user_id = $1 AND level_id = $2`,
		userID, levelID)

	var p model.StudentProgress
	var preferredJSON []byte
	err := row.Scan(&p.UserID, &p.LevelID, &p.Theta, &p.PrevTheta, &p.Beta, &p.PrevBeta,
		&p.SuccessCount, &p.FailCount, &p.TotalAttempts,
		&p.BestCompletionTime, &p.AvgCompletionTime, &preferredJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.StudentProgress{}, false, nil
	}
	if err != nil {
		return model.StudentProgress{}, false, err
	}
	if len(preferredJSON) > 0 {
		if err := json.Unmarshal(preferredJSON, &p.PreferredDifficulty); err != nil {
			return model.StudentProgress{}, false, err
		}
	}
	return p, true, nil
}

// PreferredDifficultyForLesson returns the student's preferred_difficulty
// entry for lessonID, found only if at least one of the student's levels
// in that lesson already carries the key (§6: "iff lesson has prior
// attempts").
func (r *ProgressRepo) PreferredDifficultyForLesson(ctx context.Context, pool *pgxpool.Pool, userID, lessonID string) (model.Difficulty, bool, error) {
	rows, err := pool.Query(ctx, `
		SELECT sp.preferred_difficulty
		FROM student_progress sp
		JOIN levels l ON l.id = sp.level_id
		WHERE sp.user_id = $1 AND l.lesson_id = $2`, userID, lessonID)
	if err != nil {
		return "", false, err
	}
	defer rows.Close()

	for rows.Next() {
		var preferredJSON []byte
		if err := rows.Scan(&preferredJSON); err != nil {
			return "", false, err
		}
		if len(preferredJSON) == 0 {
			continue
		}
		var preferred map[string]model.Difficulty
		if err := json.Unmarshal(preferredJSON, &preferred); err != nil {
			return "", false, err
		}
		if d, ok := preferred[lessonID]; ok {
			return d, true, nil
		}
	}
	return "", false, rows.Err()
}
