package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/codequest-platform/arena-server/internal/model"
)

// MatchRepo owns MultiplayerMatch and MatchParticipant writes (§3: the
// battle coordinator's exclusive ownership boundary).
type MatchRepo struct{}

func NewMatchRepo() *MatchRepo { return &MatchRepo{} }

// Create inserts a new pending match, then one row per participant, all on
// tx.
func (r *MatchRepo) Create(ctx context.Context, tx pgx.Tx, m model.MultiplayerMatch, participants []model.MatchParticipant) (string, error) {
	wager := m.Wager
	if wager == 0 {
		wager = 100
	}
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO multiplayer_matches (status, match_type, language, match_size, cluster_id, match_score, level_id, wager)
		VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,'')::uuid,$8) RETURNING id`,
		m.Status, m.MatchType, m.Language, m.MatchSize, m.ClusterID, m.MatchScore, m.LevelID, wager).Scan(&id)
	if err != nil {
		return "", err
	}

	for _, p := range participants {
		if _, err := tx.Exec(ctx, `
			INSERT INTO match_participants
				(match_id, user_id, rank_snapshot, success_count_at_join, fail_count_at_join)
			VALUES ($1,$2,$3,$4,$5)`,
			id, p.UserID, p.RankAtJoin, p.SuccessCountAtJoin, p.FailCountAtJoin); err != nil {
			return "", err
		}
	}
	return id, nil
}

// LockForUpdate reads a match row FOR UPDATE (§4.G: "on abort, no partial
// ledger or match state is visible").
func (r *MatchRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, matchID string) (model.MultiplayerMatch, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, status, match_type, language, match_size, cluster_id, match_score,
		       COALESCE(level_id::text, ''), started_at, completed_at, duration_seconds, wager
		FROM multiplayer_matches WHERE id = $1 FOR UPDATE`, matchID)
	var m model.MultiplayerMatch
	err := row.Scan(&m.ID, &m.Status, &m.MatchType, &m.Language, &m.MatchSize, &m.ClusterID, &m.MatchScore,
		&m.LevelID, &m.StartedAt, &m.CompletedAt, &m.DurationSeconds, &m.Wager)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.MultiplayerMatch{}, ErrMatchNotFound
	}
	return m, err
}

// UpdateStatus transitions a match's lifecycle state (§4.7 state machine).
func (r *MatchRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, matchID string, status model.MatchStatus) error {
	_, err := tx.Exec(ctx, `UPDATE multiplayer_matches SET status = $2 WHERE id = $1`, matchID, status)
	return err
}

// Activate transitions a pending match to active and stamps started_at
// (§4.G "ready": "the first ready starts the match").
func (r *MatchRepo) Activate(ctx context.Context, tx pgx.Tx, matchID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE multiplayer_matches SET status = 'active', started_at = now()
		WHERE id = $1 AND status = 'pending'`, matchID)
	return err
}

// ActiveMatchIDsForUser lists every active match a user participates in,
// used by the disconnect handler to forfeit all of them (§4.G "Disconnect").
func (r *MatchRepo) ActiveMatchIDsForUser(ctx context.Context, tx pgx.Tx, userID string) ([]string, error) {
	rows, err := tx.Query(ctx, `
		SELECT mp.match_id FROM match_participants mp
		JOIN multiplayer_matches m ON m.id = mp.match_id
		WHERE mp.user_id = $1 AND m.status = 'active'`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PendingMatchIDsOlderThan supports the kick-unready sweep (§4.G): any
// pending match past its deadline is cancelled.
func (r *MatchRepo) PendingMatchIDsOlderThan(ctx context.Context, tx pgx.Tx, age time.Duration) ([]string, error) {
	rows, err := tx.Query(ctx, `
		SELECT id FROM multiplayer_matches
		WHERE status = 'pending' AND created_at < now() - $1::interval`, age)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Complete writes the terminal fields for a finished or cancelled match.
func (r *MatchRepo) Complete(ctx context.Context, tx pgx.Tx, matchID string, status model.MatchStatus, durationSeconds int) error {
	_, err := tx.Exec(ctx, `
		UPDATE multiplayer_matches SET status = $2, completed_at = now(), duration_seconds = $3
		WHERE id = $1`, matchID, status, durationSeconds)
	return err
}

// ParticipantsForUpdate lists all participant rows for a match, FOR UPDATE so the
// coordinator can atomically decide winners (§8 invariant 4).
func (r *MatchRepo) ParticipantsForUpdate(ctx context.Context, tx pgx.Tx, matchID string) ([]model.MatchParticipant, error) {
	rows, err := tx.Query(ctx, `
		SELECT match_id, user_id, is_winner, completed_code, COALESCE(code_submitted, ''),
		       exp_gained, exp_lost, completion_time, rank_snapshot
		FROM match_participants WHERE match_id = $1 FOR UPDATE`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MatchParticipant
	for rows.Next() {
		var p model.MatchParticipant
		if err := rows.Scan(&p.MatchID, &p.UserID, &p.IsWinner, &p.CompletedCode, &p.CodeSubmitted,
			&p.ExpGained, &p.ExpLost, &p.CompletionTime, &p.RankAtJoin); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateParticipant writes one participant's outcome back.
func (r *MatchRepo) UpdateParticipant(ctx context.Context, tx pgx.Tx, p model.MatchParticipant) error {
	_, err := tx.Exec(ctx, `
		UPDATE match_participants SET
			is_winner = $3, completed_code = $4, code_submitted = $5,
			exp_gained = $6, exp_lost = $7, completion_time = $8
		WHERE match_id = $1 AND user_id = $2`,
		p.MatchID, p.UserID, p.IsWinner, p.CompletedCode, nullableString(p.CodeSubmitted),
		p.ExpGained, p.ExpLost, p.CompletionTime)
	return err
}

// PendingMatchIDsForUser returns every pending match's id that still has
// this user as a participant — used to enforce §8 invariant 6 (no two
// pending matches with >=3 participants may share a participant).
func (r *MatchRepo) PendingMatchIDsForUser(ctx context.Context, tx pgx.Tx, userID string) ([]string, error) {
	rows, err := tx.Query(ctx, `
		SELECT mp.match_id FROM match_participants mp
		JOIN multiplayer_matches m ON m.id = mp.match_id
		WHERE mp.user_id = $1 AND m.status = 'pending'`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PendingWaiter is one participant of an HTTP-joined solo-pending match,
// fused into the in-memory queue's waiter pool on every tick (§4.F).
type PendingWaiter struct {
	MatchID     string
	UserID      string
	MatchType   model.MatchType
	Language    string
	MatchSize   int
	RankAtJoin  string
	ParticipantCount int
}

// PendingWaiters returns one row per participant of a pending match that is
// younger than maxAge, has not reached match_size participants yet, and was
// not clustered within the last clusterCooldown (§4.F step 1).
func (r *MatchRepo) PendingWaiters(ctx context.Context, tx pgx.Tx, maxAge, clusterCooldown time.Duration) ([]PendingWaiter, error) {
	rows, err := tx.Query(ctx, `
		SELECT m.id, mp.user_id, m.match_type, m.language, m.match_size, mp.rank_snapshot,
		       (SELECT count(*) FROM match_participants mp2 WHERE mp2.match_id = m.id)
		FROM multiplayer_matches m
		JOIN match_participants mp ON mp.match_id = m.id
		WHERE m.status = 'pending'
		  AND m.created_at > now() - $1::interval
		  AND (m.last_clustered_at IS NULL OR m.last_clustered_at < now() - $2::interval)`,
		maxAge, clusterCooldown)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingWaiter
	for rows.Next() {
		var w PendingWaiter
		if err := rows.Scan(&w.MatchID, &w.UserID, &w.MatchType, &w.Language, &w.MatchSize,
			&w.RankAtJoin, &w.ParticipantCount); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// MarkClustered records that a pending match was just considered by a
// matchmaking tick, so it is not re-clustered within the cooldown window.
func (r *MatchRepo) MarkClustered(ctx context.Context, tx pgx.Tx, matchID string) error {
	_, err := tx.Exec(ctx, `UPDATE multiplayer_matches SET last_clustered_at = now() WHERE id = $1`, matchID)
	return err
}

// nullableString turns an empty string into SQL NULL so optional text
// columns don't store an empty string as a distinct value from "never set".
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ErrMatchNotFound is returned by lookups with no matching row.
var ErrMatchNotFound = errors.New("postgres: match not found")
