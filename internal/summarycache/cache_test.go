package summarycache

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLoader struct {
	calls   int
	summary Summary
	err     error
}

func (s *stubLoader) LoadSummary(ctx context.Context, userID, lessonID string) (Summary, error) {
	s.calls++
	return s.summary, s.err
}

func TestGetLessonSummaryReadsThroughOnMiss(t *testing.T) {
	loader := &stubLoader{summary: Summary{Attempts: []AttemptRecord{{LevelID: "l1"}}, FailCounts: map[string]int{}}}
	c := New(60*time.Second, 200, loader, nil)

	s, err := c.GetLessonSummary(context.Background(), "u1", "lesson-1")
	require.NoError(t, err)
	assert.Len(t, s.Attempts, 1)
	assert.Equal(t, 1, loader.calls)

	s2, err := c.GetLessonSummary(context.Background(), "u1", "lesson-1")
	require.NoError(t, err)
	assert.Len(t, s2.Attempts, 1)
	assert.Equal(t, 1, loader.calls, "second read should be served from cache")
}

func TestGetLessonSummaryBypassesCacheForNullLesson(t *testing.T) {
	loader := &stubLoader{summary: Summary{}}
	c := New(60*time.Second, 200, loader, nil)

	_, _ = c.GetLessonSummary(context.Background(), "u1", "")
	_, _ = c.GetLessonSummary(context.Background(), "u1", "")
	assert.Equal(t, 2, loader.calls)
}

func TestGetLessonSummaryExpiresAfterTTL(t *testing.T) {
	mock := quartz.NewMock(t)
	loader := &stubLoader{summary: Summary{Attempts: []AttemptRecord{{LevelID: "l1"}}, FailCounts: map[string]int{}}}
	c := New(60*time.Second, 200, loader, mock)

	_, _ = c.GetLessonSummary(context.Background(), "u1", "lesson-1")
	assert.Equal(t, 1, loader.calls)

	mock.Advance(61 * time.Second).MustWait(context.Background())
	_, _ = c.GetLessonSummary(context.Background(), "u1", "lesson-1")
	assert.Equal(t, 2, loader.calls, "expired entry should be reloaded")
}

func TestPrimeLessonSummaryMergesWithoutLoaderCall(t *testing.T) {
	loader := &stubLoader{summary: Summary{Attempts: nil, FailCounts: map[string]int{}}}
	c := New(60*time.Second, 200, loader, nil)

	_, _ = c.GetLessonSummary(context.Background(), "u1", "lesson-1")
	require.Equal(t, 1, loader.calls)

	c.PrimeLessonSummary("u1", "lesson-1", AttemptRecord{LevelID: "l1", Success: true, LevelNumber: 2})

	s, err := c.GetLessonSummary(context.Background(), "u1", "lesson-1")
	require.NoError(t, err)
	assert.Equal(t, 1, loader.calls, "primed write should be visible without another load")
	require.Len(t, s.Attempts, 1)
	assert.Equal(t, "l1", s.Attempts[0].LevelID)
}

func TestPrimeLessonSummaryTracksFailCounts(t *testing.T) {
	c := New(60*time.Second, 200, &stubLoader{}, nil)
	c.PrimeLessonSummary("u1", "lesson-1", AttemptRecord{LevelID: "l1", Success: false})
	c.PrimeLessonSummary("u1", "lesson-1", AttemptRecord{LevelID: "l1", Success: false})
	c.PrimeLessonSummary("u1", "lesson-1", AttemptRecord{LevelID: "l1", Success: true})

	s, err := c.GetLessonSummary(context.Background(), "u1", "lesson-1")
	require.NoError(t, err)
	assert.Equal(t, 2, s.FailCounts["l1"])
	assert.Len(t, s.Attempts, 3)
}

func TestPrimeLessonSummaryCapsAt50Attempts(t *testing.T) {
	c := New(60*time.Second, 200, &stubLoader{}, nil)
	for i := 0; i < 60; i++ {
		c.PrimeLessonSummary("u1", "lesson-1", AttemptRecord{LevelID: "l1", LevelNumber: i})
	}
	s, err := c.GetLessonSummary(context.Background(), "u1", "lesson-1")
	require.NoError(t, err)
	require.Len(t, s.Attempts, 50)
	assert.Equal(t, 10, s.Attempts[0].LevelNumber)
	assert.Equal(t, 59, s.Attempts[len(s.Attempts)-1].LevelNumber)
}

func TestCacheEvictsOldestEntryOverCapacity(t *testing.T) {
	loader := &stubLoader{summary: Summary{FailCounts: map[string]int{}}}
	c := New(60*time.Second, 2, loader, nil)

	_, _ = c.GetLessonSummary(context.Background(), "u1", "lesson-1")
	_, _ = c.GetLessonSummary(context.Background(), "u2", "lesson-1")
	_, _ = c.GetLessonSummary(context.Background(), "u3", "lesson-1") // evicts u1

	assert.Equal(t, 3, loader.calls)
	_, _ = c.GetLessonSummary(context.Background(), "u1", "lesson-1")
	assert.Equal(t, 4, loader.calls, "u1 should have been evicted and reloaded")
}
