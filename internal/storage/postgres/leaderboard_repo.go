package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codequest-platform/arena-server/internal/model"
)

// LeaderboardRepo rebuilds one board type's cached snapshot via
// delete-and-reinsert (§3, §4.H).
type LeaderboardRepo struct{}

func NewLeaderboardRepo() *LeaderboardRepo { return &LeaderboardRepo{} }

// Rebuild replaces every row for boardType with entries, inside its own
// transaction so readers never observe a partially-rebuilt board.
func (r *LeaderboardRepo) Rebuild(ctx context.Context, pool *pgxpool.Pool, boardType model.BoardType, entries []model.LeaderboardEntry) error {
	return pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM leaderboard_entries WHERE board_type = $1`, boardType); err != nil {
			return err
		}
		for _, e := range entries {
			if _, err := tx.Exec(ctx, `
				INSERT INTO leaderboard_entries (board_type, rank_position, user_id, display_name, score)
				VALUES ($1,$2,$3,$4,$5)`,
				boardType, e.RankPosition, e.UserID, e.DisplayName, e.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

// rankingQueries holds the per-board-type SQL that produces a dense,
// rank_position-annotated ranking directly from the ledger tables (§4.H:
// "each with its own ranking SQL").
var rankingQueries = map[model.BoardType]string{
	model.BoardOverall: `
		SELECT ROW_NUMBER() OVER (ORDER BY s.exp DESC, s.rank_index DESC, s.user_id) AS pos,
		       s.user_id, u.display_name, s.exp::float8
		FROM student_statistics s JOIN users u ON u.id = s.user_id
		ORDER BY pos LIMIT $1`,
	model.BoardMultiplayer: `
		SELECT ROW_NUMBER() OVER (ORDER BY wins DESC, mp.user_id) AS pos, mp.user_id, u.display_name, wins::float8
		FROM (
			SELECT user_id, count(*) FILTER (WHERE is_winner) AS wins
			FROM match_participants GROUP BY user_id
		) mp JOIN users u ON u.id = mp.user_id
		ORDER BY pos LIMIT $1`,
	model.BoardAchievements: `
		SELECT ROW_NUMBER() OVER (ORDER BY cnt DESC, a.user_id) AS pos, a.user_id, u.display_name, cnt::float8
		FROM (
			SELECT user_id, count(*) AS cnt FROM achievements GROUP BY user_id
		) a JOIN users u ON u.id = a.user_id
		ORDER BY pos LIMIT $1`,
	model.BoardStreaks: `
		SELECT ROW_NUMBER() OVER (ORDER BY s.longest_streak DESC, s.user_id) AS pos,
		       s.user_id, u.display_name, s.longest_streak::float8
		FROM student_statistics s JOIN users u ON u.id = s.user_id
		ORDER BY pos LIMIT $1`,
}

// ComputeRanking runs the live ranking query for a board type, producing
// dense rank_position values starting at 1.
func (r *LeaderboardRepo) ComputeRanking(ctx context.Context, pool *pgxpool.Pool, boardType model.BoardType, limit int) ([]model.LeaderboardEntry, error) {
	query, ok := rankingQueries[boardType]
	if !ok {
		return nil, fmt.Errorf("postgres: unknown board type %q", boardType)
	}
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		e.BoardType = boardType
		if err := rows.Scan(&e.RankPosition, &e.UserID, &e.DisplayName, &e.Value); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UserRank computes a single user's live dense rank for a board, used as
// the fallback when a user falls outside the cached top N (§4.H).
func (r *LeaderboardRepo) UserRank(ctx context.Context, pool *pgxpool.Pool, boardType model.BoardType, userID string) (int, bool, error) {
	query, ok := rankingQueries[boardType]
	if !ok {
		return 0, false, fmt.Errorf("postgres: unknown board type %q", boardType)
	}
	wrapped := `SELECT pos, user_id FROM (` + query + `) ranked WHERE user_id = $2`
	var pos int
	var id string
	err := pool.QueryRow(ctx, strings.Replace(wrapped, "LIMIT $1", "LIMIT 1000000", 1), 1000000, userID).Scan(&pos, &id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return pos, true, nil
}

// Top returns the cached top-N rows for a board.
func (r *LeaderboardRepo) Top(ctx context.Context, pool *pgxpool.Pool, boardType model.BoardType, limit int) ([]model.LeaderboardEntry, error) {
	rows, err := pool.Query(ctx, `
		SELECT board_type, rank_position, user_id, display_name, score
		FROM leaderboard_entries WHERE board_type = $1 ORDER BY rank_position LIMIT $2`, boardType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.BoardType, &e.RankPosition, &e.UserID, &e.DisplayName, &e.Value); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PositionOf does a direct lookup of a user's cached rank, used before
// falling back to a live query for users outside the cached top N (§4.H).
func (r *LeaderboardRepo) PositionOf(ctx context.Context, pool *pgxpool.Pool, boardType model.BoardType, userID string) (int, bool, error) {
	var pos int
	err := pool.QueryRow(ctx, `
		SELECT rank_position FROM leaderboard_entries WHERE board_type = $1 AND user_id = $2`,
		boardType, userID).Scan(&pos)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return pos, true, nil
}

// Count returns how many rows are currently cached for a board, used to
// detect an empty cache that needs an unconditional rebuild (§4.H).
func (r *LeaderboardRepo) Count(ctx context.Context, pool *pgxpool.Pool, boardType model.BoardType) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `SELECT count(*) FROM leaderboard_entries WHERE board_type = $1`, boardType).Scan(&n)
	return n, err
}
