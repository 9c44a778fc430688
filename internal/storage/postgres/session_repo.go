package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// SessionRepo owns UserSession heartbeat rows, used to define "online"
// (§3, §4.F's online-status gate).
type SessionRepo struct{}

func NewSessionRepo() *SessionRepo { return &SessionRepo{} }

// Open records a session start and returns its id.
func (r *SessionRepo) Open(ctx context.Context, tx pgx.Tx, userID string) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO user_sessions (user_id) VALUES ($1) RETURNING id`, userID).Scan(&id)
	return id, err
}

// Close marks a session ended.
func (r *SessionRepo) Close(ctx context.Context, tx pgx.Tx, sessionID string) error {
	_, err := tx.Exec(ctx, `UPDATE user_sessions SET session_end = now() WHERE id = $1`, sessionID)
	return err
}

// IsOnline reports whether the user has any open session.
func (r *SessionRepo) IsOnline(ctx context.Context, tx pgx.Tx, userID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM user_sessions WHERE user_id = $1 AND session_end IS NULL)`,
		userID).Scan(&exists)
	return exists, err
}

// IncrementCounters bumps puzzles_attempted and, on success,
// puzzles_completed for the user's current open session (§4.E step 15).
// Callers wrap this in WithSavepoint.
func (r *SessionRepo) IncrementCounters(ctx context.Context, tx pgx.Tx, userID string, success bool) error {
	tag, err := tx.Exec(ctx, `
		UPDATE user_sessions SET
			puzzles_attempted = puzzles_attempted + 1,
			puzzles_completed = puzzles_completed + CASE WHEN $2 THEN 1 ELSE 0 END
		WHERE user_id = $1 AND session_end IS NULL`, userID, success)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("no open session for user")
	}
	return nil
}
