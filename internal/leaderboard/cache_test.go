package leaderboard

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codequest-platform/arena-server/internal/model"
)

type stubStore struct {
	entries        []model.LeaderboardEntry
	count          int
	computeCalls   int
	rebuildCalls   int
	computeErr     error
	positionFound  bool
	positionValue  int
	userRankFound  bool
	userRankValue  int
}

func (s *stubStore) ComputeRanking(ctx context.Context, boardType model.BoardType, limit int) ([]model.LeaderboardEntry, error) {
	s.computeCalls++
	if s.computeErr != nil {
		return nil, s.computeErr
	}
	return s.entries, nil
}

func (s *stubStore) Rebuild(ctx context.Context, boardType model.BoardType, entries []model.LeaderboardEntry) error {
	s.rebuildCalls++
	s.entries = entries
	s.count = len(entries)
	return nil
}

func (s *stubStore) Top(ctx context.Context, boardType model.BoardType, limit int) ([]model.LeaderboardEntry, error) {
	if limit < len(s.entries) {
		return s.entries[:limit], nil
	}
	return s.entries, nil
}

func (s *stubStore) PositionOf(ctx context.Context, boardType model.BoardType, userID string) (int, bool, error) {
	return s.positionValue, s.positionFound, nil
}

func (s *stubStore) UserRank(ctx context.Context, boardType model.BoardType, userID string) (int, bool, error) {
	return s.userRankValue, s.userRankFound, nil
}

func (s *stubStore) Count(ctx context.Context, boardType model.BoardType) (int, error) {
	return s.count, nil
}

func TestTopRebuildsWhenCacheEmpty(t *testing.T) {
	store := &stubStore{
		entries: []model.LeaderboardEntry{{UserID: "u1", RankPosition: 1}},
		count:   0,
	}
	mock := quartz.NewMock(t)
	c := New(store, DefaultTTL, DefaultLimit, mock, zerolog.Nop())

	out, err := c.Top(context.Background(), model.BoardOverall)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, 1, store.rebuildCalls)
}

func TestTopDoesNotRebuildWhenFresh(t *testing.T) {
	store := &stubStore{
		entries: []model.LeaderboardEntry{{UserID: "u1", RankPosition: 1}},
		count:   1,
	}
	mock := quartz.NewMock(t)
	c := New(store, DefaultTTL, DefaultLimit, mock, zerolog.Nop())

	_, err := c.Top(context.Background(), model.BoardOverall)
	require.NoError(t, err)
	assert.Equal(t, 1, store.rebuildCalls)

	_, err = c.Top(context.Background(), model.BoardOverall)
	require.NoError(t, err)
	assert.Equal(t, 1, store.rebuildCalls, "second read within TTL must not rebuild")
}

func TestTopRebuildsAfterTTLElapses(t *testing.T) {
	store := &stubStore{
		entries: []model.LeaderboardEntry{{UserID: "u1", RankPosition: 1}},
		count:   1,
	}
	mock := quartz.NewMock(t)
	c := New(store, time.Minute, DefaultLimit, mock, zerolog.Nop())

	_, err := c.Top(context.Background(), model.BoardOverall)
	require.NoError(t, err)
	assert.Equal(t, 1, store.rebuildCalls)

	mock.Advance(2 * time.Minute).MustWait(context.Background())

	_, err = c.Top(context.Background(), model.BoardOverall)
	require.NoError(t, err)
	assert.Equal(t, 2, store.rebuildCalls, "read past TTL must rebuild")
}

func TestPositionUsesCachedLookupWhenFound(t *testing.T) {
	store := &stubStore{count: 1, positionFound: true, positionValue: 7}
	c := New(store, DefaultTTL, DefaultLimit, quartz.NewMock(t), zerolog.Nop())

	pos, found, err := c.Position(context.Background(), model.BoardOverall, "u1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 7, pos)
}

func TestPositionFallsBackToLiveRankWhenOutsideTopN(t *testing.T) {
	store := &stubStore{count: 1, positionFound: false, userRankFound: true, userRankValue: 250}
	c := New(store, DefaultTTL, DefaultLimit, quartz.NewMock(t), zerolog.Nop())

	pos, found, err := c.Position(context.Background(), model.BoardOverall, "u1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 250, pos)
}

func TestTopServesStaleSnapshotWhenRebuildFails(t *testing.T) {
	store := &stubStore{
		entries:    []model.LeaderboardEntry{{UserID: "u1", RankPosition: 1}},
		count:      0,
		computeErr: assert.AnError,
	}
	c := New(store, DefaultTTL, DefaultLimit, quartz.NewMock(t), zerolog.Nop())

	out, err := c.Top(context.Background(), model.BoardOverall)
	require.NoError(t, err, "Top itself should not fail, it serves whatever is cached")
	assert.Len(t, out, 1)
	assert.Equal(t, 0, store.rebuildCalls)
}
