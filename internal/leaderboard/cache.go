// Package leaderboard implements the TTL-gated, delete-and-reinsert
// leaderboard snapshot of §4.H.
package leaderboard

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/codequest-platform/arena-server/internal/model"
	"github.com/codequest-platform/arena-server/internal/storage/postgres"
)

const (
	// DefaultTTL matches §4.H's "older than TTL (default 5 minutes)".
	DefaultTTL   = 5 * time.Minute
	DefaultLimit = 100
)

// Store is the persistence boundary Cache rebuilds against; postgresStore
// is the production implementation over postgres.LeaderboardRepo.
type Store interface {
	ComputeRanking(ctx context.Context, boardType model.BoardType, limit int) ([]model.LeaderboardEntry, error)
	Rebuild(ctx context.Context, boardType model.BoardType, entries []model.LeaderboardEntry) error
	Top(ctx context.Context, boardType model.BoardType, limit int) ([]model.LeaderboardEntry, error)
	PositionOf(ctx context.Context, boardType model.BoardType, userID string) (int, bool, error)
	UserRank(ctx context.Context, boardType model.BoardType, userID string) (int, bool, error)
	Count(ctx context.Context, boardType model.BoardType) (int, error)
}

type postgresStore struct {
	pool *pgxpool.Pool
	repo *postgres.LeaderboardRepo
}

// NewPostgresStore adapts a LeaderboardRepo + pool into a Store.
func NewPostgresStore(pool *pgxpool.Pool, repo *postgres.LeaderboardRepo) Store {
	return &postgresStore{pool: pool, repo: repo}
}

func (s *postgresStore) ComputeRanking(ctx context.Context, boardType model.BoardType, limit int) ([]model.LeaderboardEntry, error) {
	return s.repo.ComputeRanking(ctx, s.pool, boardType, limit)
}

func (s *postgresStore) Rebuild(ctx context.Context, boardType model.BoardType, entries []model.LeaderboardEntry) error {
	return s.repo.Rebuild(ctx, s.pool, boardType, entries)
}

func (s *postgresStore) Top(ctx context.Context, boardType model.BoardType, limit int) ([]model.LeaderboardEntry, error) {
	return s.repo.Top(ctx, s.pool, boardType, limit)
}

func (s *postgresStore) PositionOf(ctx context.Context, boardType model.BoardType, userID string) (int, bool, error) {
	return s.repo.PositionOf(ctx, s.pool, boardType, userID)
}

func (s *postgresStore) UserRank(ctx context.Context, boardType model.BoardType, userID string) (int, bool, error) {
	return s.repo.UserRank(ctx, s.pool, boardType, userID)
}

func (s *postgresStore) Count(ctx context.Context, boardType model.BoardType) (int, error) {
	return s.repo.Count(ctx, s.pool, boardType)
}

// Cache wraps a Store with the TTL refresh rule: a read rebuilds the full
// snapshot when it's empty or stale, otherwise it serves the cached rows
// directly.
type Cache struct {
	store Store
	ttl   time.Duration
	limit int
	clock quartz.Clock

	mu          sync.Mutex
	refreshedAt map[model.BoardType]time.Time

	logger zerolog.Logger
}

// New builds a leaderboard cache over the given Store.
func New(store Store, ttl time.Duration, limit int, clock quartz.Clock, logger zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Cache{
		store:       store,
		ttl:         ttl,
		limit:       limit,
		clock:       clock,
		refreshedAt: make(map[model.BoardType]time.Time),
		logger:      logger.With().Str("component", "leaderboard_cache").Logger(),
	}
}

// Top returns the board's cached rows, rebuilding first if the snapshot is
// stale or empty.
func (c *Cache) Top(ctx context.Context, boardType model.BoardType) ([]model.LeaderboardEntry, error) {
	if err := c.ensureFresh(ctx, boardType); err != nil {
		c.logger.Warn().Err(err).Str("board_type", string(boardType)).Msg("leaderboard rebuild failed, serving stale snapshot")
	}
	return c.store.Top(ctx, boardType, c.limit)
}

// Position returns a user's rank on a board: a direct lookup against the
// cached snapshot, falling back to a live count query for users outside
// the cached top N (§4.H).
func (c *Cache) Position(ctx context.Context, boardType model.BoardType, userID string) (int, bool, error) {
	if err := c.ensureFresh(ctx, boardType); err != nil {
		c.logger.Warn().Err(err).Str("board_type", string(boardType)).Msg("leaderboard rebuild failed before position lookup")
	}
	pos, found, err := c.store.PositionOf(ctx, boardType, userID)
	if err != nil {
		return 0, false, err
	}
	if found {
		return pos, true, nil
	}
	return c.store.UserRank(ctx, boardType, userID)
}

func (c *Cache) ensureFresh(ctx context.Context, boardType model.BoardType) error {
	if !c.isStale(ctx, boardType) {
		return nil
	}
	entries, err := c.store.ComputeRanking(ctx, boardType, c.limit)
	if err != nil {
		return err
	}
	if err := c.store.Rebuild(ctx, boardType, entries); err != nil {
		return err
	}
	c.mu.Lock()
	c.refreshedAt[boardType] = c.clock.Now()
	c.mu.Unlock()
	return nil
}

func (c *Cache) isStale(ctx context.Context, boardType model.BoardType) bool {
	c.mu.Lock()
	last, ok := c.refreshedAt[boardType]
	c.mu.Unlock()
	if !ok || c.clock.Now().Sub(last) >= c.ttl {
		return true
	}
	count, err := c.store.Count(ctx, boardType)
	if err != nil {
		c.logger.Warn().Err(err).Msg("leaderboard count check failed, treating as stale")
		return true
	}
	return count == 0
}
