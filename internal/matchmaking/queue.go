// Package matchmaking owns the in-memory waiter pool and the periodic
// matching tick (§4.F).
package matchmaking

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/codequest-platform/arena-server/internal/apperr"
)

// minQueueExp is the EXP floor a player must hold to enter the queue
// (§4.F constraint 7), enforced at join time rather than on every tick.
const minQueueExp = 100

// Waiter is one player waiting for a ranked match, whether they joined over
// a live socket (in-memory) or via an HTTP solo-pending match row (DB).
type Waiter struct {
	UserID      string
	DisplayName string
	MatchType   string
	Language    string
	MatchSize   int
	RankName    string
	RankIndex   int
	Theta       float64
	Beta        float64
	EnqueuedAt  time.Time

	// PendingMatchID is set when this waiter already has a DB-pending solo
	// match (an HTTP join); empty for pure in-memory socket joins.
	PendingMatchID string

	// SuccessCount/FailCount are snapshotted at enqueue time so a formed
	// match can record each participant's rank_snapshot without a second
	// lookup mid-tick.
	SuccessCount int
	FailCount    int

	// Exp is snapshotted at enqueue time so Enqueue can gate on minQueueExp
	// without a statistics lookup of its own.
	Exp int
}

// Matcher runs one matchmaking tick over the fused waiter set and reports
// which in-memory waiters were consumed by a formed match, so the queue can
// remove them.
type Matcher interface {
	TryMatch(ctx context.Context, waiters []Waiter) []string
}

type enqueueCmd struct {
	waiter Waiter
	resp   chan error
}

type dequeueCmd struct {
	userID string
	resp   chan bool
}

type snapshotCmd struct {
	resp chan []Waiter
}

// Queue owns the in-memory waiter map behind a single goroutine, the same
// shape as the teacher's BotPool: all access is through channel commands,
// and the periodic matcher tick runs in that same goroutine, so
// Enqueue/Dequeue/Snapshot wait while a TryMatch call is in progress.
type Queue struct {
	waiters map[string]Waiter

	enqueueCh  chan enqueueCmd
	dequeueCh  chan dequeueCmd
	snapshotCh chan snapshotCmd
	stopCh     chan struct{}
	stopOnce   sync.Once

	tickInterval time.Duration
	clock        quartz.Clock
	matcher      Matcher
	logger       zerolog.Logger
}

// New creates a matchmaking queue. matcher.TryMatch is invoked once per
// tickInterval (default 2s, per §4.F) with the current waiter snapshot.
func New(tickInterval time.Duration, clock quartz.Clock, matcher Matcher, logger zerolog.Logger) *Queue {
	if tickInterval <= 0 {
		tickInterval = 2 * time.Second
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Queue{
		waiters:      make(map[string]Waiter),
		enqueueCh:    make(chan enqueueCmd),
		dequeueCh:    make(chan dequeueCmd),
		snapshotCh:   make(chan snapshotCmd),
		stopCh:       make(chan struct{}),
		tickInterval: tickInterval,
		clock:        clock,
		matcher:      matcher,
		logger:       logger.With().Str("component", "matchmaking_queue").Logger(),
	}
}

// Run is the queue's single owner goroutine. It must be started exactly
// once; Enqueue/Dequeue/Snapshot block until Run is draining their channels.
func (q *Queue) Run(ctx context.Context) {
	ticker := q.clock.NewTicker(q.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.stopOnce.Do(func() { close(q.stopCh) })
			return

		case cmd := <-q.enqueueCh:
			q.waiters[cmd.waiter.UserID] = cmd.waiter
			cmd.resp <- nil

		case cmd := <-q.dequeueCh:
			_, existed := q.waiters[cmd.userID]
			delete(q.waiters, cmd.userID)
			cmd.resp <- existed

		case cmd := <-q.snapshotCh:
			cmd.resp <- q.snapshotLocked()

		case <-ticker.C:
			q.runTick(ctx)
		}
	}
}

func (q *Queue) snapshotLocked() []Waiter {
	out := make([]Waiter, 0, len(q.waiters))
	for _, w := range q.waiters {
		out = append(out, w)
	}
	return out
}

// runTick hands the current snapshot to the matcher and deletes the user IDs
// TryMatch returns from the in-memory map. It runs on the owner goroutine,
// which stays the only writer.
func (q *Queue) runTick(ctx context.Context) {
	waiters := q.snapshotLocked()
	if q.matcher == nil {
		return
	}
	for _, userID := range q.matcher.TryMatch(ctx, waiters) {
		delete(q.waiters, userID)
	}
}

// Enqueue adds or refreshes a waiter. Rejects players below minQueueExp
// (§4.F constraint 7).
func (q *Queue) Enqueue(ctx context.Context, w Waiter) error {
	if w.Exp < minQueueExp {
		return apperr.New(apperr.Precondition, "insufficient exp to join the queue")
	}
	if w.EnqueuedAt.IsZero() {
		w.EnqueuedAt = q.clock.Now()
	}
	resp := make(chan error, 1)
	select {
	case q.enqueueCh <- enqueueCmd{waiter: w, resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	case <-q.stopCh:
		return context.Canceled
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue removes a waiter, reporting whether one was present.
func (q *Queue) Dequeue(ctx context.Context, userID string) (bool, error) {
	resp := make(chan bool, 1)
	select {
	case q.dequeueCh <- dequeueCmd{userID: userID, resp: resp}:
	case <-ctx.Done():
		return false, ctx.Err()
	case <-q.stopCh:
		return false, context.Canceled
	}
	select {
	case existed := <-resp:
		return existed, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Snapshot returns the current waiter set. Used by diagnostics and tests.
func (q *Queue) Snapshot(ctx context.Context) ([]Waiter, error) {
	resp := make(chan []Waiter, 1)
	select {
	case q.snapshotCh <- snapshotCmd{resp: resp}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.stopCh:
		return nil, context.Canceled
	}
	select {
	case w := <-resp:
		return w, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
