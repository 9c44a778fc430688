package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codequest-platform/arena-server/internal/model"
)

// ChallengeRepo owns the direct-invite flow's battle_challenges rows.
type ChallengeRepo struct{}

func NewChallengeRepo() *ChallengeRepo { return &ChallengeRepo{} }

// ErrChallengeNotFound is returned by lookups with no matching row.
var ErrChallengeNotFound = errors.New("postgres: challenge not found")

// Create inserts a pending challenge from one user to another.
func (r *ChallengeRepo) Create(ctx context.Context, pool *pgxpool.Pool, fromUserID, toUserID, levelID string, expWager int) (string, error) {
	var id string
	err := pool.QueryRow(ctx, `
		INSERT INTO battle_challenges (challenger_id, opponent_id, level_id, status, exp_wager)
		VALUES ($1,$2,NULLIF($3,'')::uuid,'pending',$4) RETURNING id`,
		fromUserID, toUserID, levelID, expWager).Scan(&id)
	return id, err
}

// LockForUpdate reads a challenge row FOR UPDATE, used before an accept/
// decline response so two concurrent responses can't both succeed.
func (r *ChallengeRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.BattleChallenge, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, challenger_id, opponent_id, COALESCE(level_id::text, ''), status, exp_wager,
		       COALESCE(match_id::text, ''), created_at
		FROM battle_challenges WHERE id = $1 FOR UPDATE`, id)
	var c model.BattleChallenge
	err := row.Scan(&c.ID, &c.FromUserID, &c.ToUserID, &c.LevelID, &c.Status, &c.ExpWager, &c.MatchID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.BattleChallenge{}, ErrChallengeNotFound
	}
	return c, err
}

// Respond records accept/decline and, on accept, links the created match.
func (r *ChallengeRepo) Respond(ctx context.Context, tx pgx.Tx, id string, status model.BattleChallengeStatus, matchID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE battle_challenges SET status = $2, match_id = NULLIF($3,'')::uuid WHERE id = $1`,
		id, status, matchID)
	return err
}
