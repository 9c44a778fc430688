package matchmaking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/codequest-platform/arena-server/internal/apperr"
	"github.com/codequest-platform/arena-server/internal/model"
	"github.com/codequest-platform/arena-server/internal/progression"
	"github.com/codequest-platform/arena-server/internal/storage/postgres"
)

const (
	pendingMatchMaxAge      = 10 * time.Minute
	clusterCooldown   = 30 * time.Second
	queueEntryFee     = 100
	minRankedSize     = 3
	maxRankedSize     = 5
	phase1MinScore    = 0.2
	phase2MinScore    = 0.15
)

// WaiterDisplay is the trimmed-down view of a waiter broadcast to peers in
// queue_update and match_found events (§4.F steps 6 and final).
type WaiterDisplay struct {
	UserID      string
	DisplayName string
}

// QueueUpdate is emitted to every waiter in a group stuck at 2 (§4.F step 6).
type QueueUpdate struct {
	MatchType      string
	Language       string
	CurrentCount   int
	RequiredCount  int
	Others         []WaiterDisplay
}

// MatchFound is emitted to every participant once a match is formed.
type MatchFound struct {
	MatchID      string
	MatchScore   float64
	Participants []WaiterDisplay
}

// Notifier delivers matchmaking events to connected clients (§4.I).
type Notifier interface {
	EmitQueueUpdate(ctx context.Context, userID string, update QueueUpdate) error
	EmitMatchFound(ctx context.Context, userID string, found MatchFound) error
}

// Matcher implements the §4.F tick algorithm: fuse in-memory and DB-pending
// waiters, filter online, group in two phases, cluster, and form matches.
type Matcher struct {
	pool     *pgxpool.Pool
	matches  *postgres.MatchRepo
	sessions *postgres.SessionRepo
	stats    *postgres.StatisticsRepo
	cluster  ClusterClient
	notifier Notifier
	logger   zerolog.Logger
}

// NewMatcher wires a Matcher from its storage and kernel dependencies.
func NewMatcher(pool *pgxpool.Pool, matches *postgres.MatchRepo, sessions *postgres.SessionRepo,
	stats *postgres.StatisticsRepo, cluster ClusterClient, notifier Notifier, logger zerolog.Logger) *Matcher {
	return &Matcher{
		pool:     pool,
		matches:  matches,
		sessions: sessions,
		stats:    stats,
		cluster:  cluster,
		notifier: notifier,
		logger:   logger.With().Str("component", "matcher").Logger(),
	}
}

// TryMatch runs one tick: it returns the in-memory waiter user ids that
// were consumed by a formed match, for the queue to dequeue.
func (m *Matcher) TryMatch(ctx context.Context, waiters []Waiter) []string {
	dbWaiters, err := m.fetchAndMarkPendingWaiters(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("fetch db-pending waiters failed, using in-memory waiters only")
	}

	all := append(append([]Waiter{}, waiters...), dbWaiters...)
	online, err := m.filterOnline(ctx, all)
	if err != nil {
		m.logger.Warn().Err(err).Msg("online filter failed, treating all fused waiters as online")
		online = all
	}
	if len(online) == 0 {
		return nil
	}

	matched := make(map[string]matchOutcome)

	phase1 := groupBy(online, func(w Waiter) groupKey {
		return groupKey{w.MatchType, w.Language, w.MatchSize, w.RankName}
	})
	m.runPhase(ctx, phase1, phase1MinScore, matched)

	remaining := without(online, matched)
	phase2 := groupBy(remaining, func(w Waiter) groupKey {
		return groupKey{w.MatchType, w.Language, w.MatchSize, ""}
	})
	m.runPhase(ctx, phase2, phase2MinScore, matched)

	stuckAtTwo := groupBy(without(online, matched), func(w Waiter) groupKey {
		return groupKey{w.MatchType, w.Language, w.MatchSize, w.RankName}
	})
	for _, group := range stuckAtTwo {
		if len(group) != 2 {
			continue
		}
		m.broadcastQueueUpdate(ctx, group)
	}

	var consumed []string
	for userID, outcome := range matched {
		if outcome.fromQueue {
			consumed = append(consumed, userID)
		}
	}
	return consumed
}

type matchOutcome struct {
	matchID   string
	fromQueue bool
}

type groupKey struct {
	matchType string
	language  string
	matchSize int
	rankName  string
}

func groupBy(waiters []Waiter, key func(Waiter) groupKey) map[groupKey][]Waiter {
	groups := make(map[groupKey][]Waiter)
	for _, w := range waiters {
		k := key(w)
		groups[k] = append(groups[k], w)
	}
	return groups
}

func without(waiters []Waiter, matched map[string]matchOutcome) []Waiter {
	out := make([]Waiter, 0, len(waiters))
	for _, w := range waiters {
		if _, ok := matched[w.UserID]; !ok {
			out = append(out, w)
		}
	}
	return out
}

// runPhase attempts a match for every candidate group of one phase
// concurrently via errgroup. TryMatch runs Phase 2 only after Phase 1 has
// finished, on the waiters Phase 1 left unmatched.
func (m *Matcher) runPhase(ctx context.Context, groups map[groupKey][]Waiter, minScore float64, matched map[string]matchOutcome) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, group := range groups {
		group := group
		if len(group) < minRankedSize {
			continue
		}
		g.Go(func() error {
			outcome, ids := m.attemptGroup(gctx, group, minScore)
			if outcome.matchID == "" {
				return nil
			}
			mu.Lock()
			for _, id := range ids {
				matched[id] = outcome
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// attemptGroup takes up to maxRankedSize candidates (earliest-enqueued
// first), calls the remote skill matcher, and forms a match when it
// accepts. Returns the zero outcome when no match was formed.
func (m *Matcher) attemptGroup(ctx context.Context, group []Waiter, minScore float64) (matchOutcome, []string) {
	sort.Slice(group, func(i, j int) bool { return group[i].EnqueuedAt.Before(group[j].EnqueuedAt) })
	if len(group) > maxRankedSize {
		group = group[:maxRankedSize]
	}

	candidates := make([]ClusterInput, len(group))
	for i, w := range group {
		candidates[i] = ClusterInput{UserID: w.UserID, Theta: w.Theta, Beta: w.Beta}
	}

	result, err := m.cluster.Cluster(ctx, candidates, minScore)
	if err != nil {
		m.logger.Warn().Err(err).Msg("cluster call failed, skipping group this tick")
		return matchOutcome{}, nil
	}
	if !result.Matched || result.MatchScore < minScore || len(result.UserIDs) < minRankedSize {
		return matchOutcome{}, nil
	}

	byID := make(map[string]Waiter, len(group))
	for _, w := range group {
		byID[w.UserID] = w
	}
	var participants []Waiter
	for _, id := range result.UserIDs {
		if w, ok := byID[id]; ok {
			participants = append(participants, w)
		}
	}
	if len(participants) < minRankedSize {
		return matchOutcome{}, nil
	}
	if len(participants) > maxRankedSize {
		participants = participants[:maxRankedSize]
	}

	matchID, err := m.formMatch(ctx, participants, result)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to form match")
		return matchOutcome{}, nil
	}

	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = p.UserID
	}
	return matchOutcome{matchID: matchID, fromQueue: true}, ids
}

// formMatch inserts the match and participant rows, debits the queue entry
// fee, cancels the participants' other pending matches, and notifies
// everyone, all inside one transaction (§4.F "when a match is formed").
func (m *Matcher) formMatch(ctx context.Context, participants []Waiter, result ClusterResult) (string, error) {
	var matchID string
	err := pgx.BeginTxFunc(ctx, m.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		rows := make([]model.MatchParticipant, len(participants))
		for i, p := range participants {
			rows[i] = model.MatchParticipant{
				UserID:             p.UserID,
				RankAtJoin:         p.RankName,
				SuccessCountAtJoin: p.SuccessCount,
				FailCountAtJoin:    p.FailCount,
			}
		}

		matchSize := clampSize(len(participants))
		id, err := m.matches.Create(ctx, tx, model.MultiplayerMatch{
			Status:     model.MatchPending,
			MatchType:  model.MatchType(participants[0].MatchType),
			Language:   participants[0].Language,
			MatchSize:  matchSize,
			ClusterID:  result.ClusterID,
			MatchScore: result.MatchScore,
		}, rows)
		if err != nil {
			return err
		}
		matchID = id

		for _, p := range participants {
			stats, err := m.stats.LockForUpdate(ctx, tx, p.UserID)
			if err != nil {
				return err
			}
			stats = progression.DebitExp(stats, queueEntryFee)
			if err := m.stats.Upsert(ctx, tx, stats); err != nil {
				return err
			}

			others, err := m.matches.PendingMatchIDsForUser(ctx, tx, p.UserID)
			if err != nil {
				return err
			}
			for _, otherID := range others {
				if otherID == matchID {
					continue
				}
				if err := m.matches.UpdateStatus(ctx, tx, otherID, model.MatchCancelled); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	display := make([]WaiterDisplay, len(participants))
	for i, p := range participants {
		display[i] = WaiterDisplay{UserID: p.UserID, DisplayName: p.DisplayName}
	}
	for _, p := range participants {
		if err := m.notifier.EmitMatchFound(ctx, p.UserID, MatchFound{
			MatchID:      matchID,
			MatchScore:   result.MatchScore,
			Participants: display,
		}); err != nil {
			m.logger.Warn().Err(err).Str("user_id", p.UserID).Msg("match_found delivery failed")
		}
	}
	return matchID, nil
}

// JoinSolo handles the HTTP queue-join path (§6 "HTTP queue join"): it
// persists a single-participant pending match so the next matchmaking tick
// fuses it in via fetchAndMarkPendingWaiters, without touching the
// in-memory waiter pool or debiting the queue fee (that happens once a
// match actually forms, in formMatch). levelID is optional: the HTTP
// create-battle handler preselects a problem before the opponent is known,
// a plain queue join leaves it empty until clustering fuses a group.
// Rejects players below minQueueExp (§4.F constraint 7).
func (m *Matcher) JoinSolo(ctx context.Context, w Waiter, levelID string) (string, error) {
	if w.Exp < minQueueExp {
		return "", apperr.New(apperr.Precondition, "insufficient exp to join the queue")
	}

	var matchID string
	err := pgx.BeginTxFunc(ctx, m.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		id, err := m.matches.Create(ctx, tx, model.MultiplayerMatch{
			Status:    model.MatchPending,
			MatchType: model.MatchType(w.MatchType),
			Language:  w.Language,
			MatchSize: clampSize(w.MatchSize),
			LevelID:   levelID,
		}, []model.MatchParticipant{{
			UserID:             w.UserID,
			RankAtJoin:         w.RankName,
			SuccessCountAtJoin: w.SuccessCount,
			FailCountAtJoin:    w.FailCount,
		}})
		if err != nil {
			return err
		}
		matchID = id
		return nil
	})
	return matchID, err
}

func clampSize(n int) int {
	if n < minRankedSize {
		return minRankedSize
	}
	if n > maxRankedSize {
		return maxRankedSize
	}
	return n
}

func (m *Matcher) broadcastQueueUpdate(ctx context.Context, group []Waiter) {
	for _, w := range group {
		var others []WaiterDisplay
		for _, other := range group {
			if other.UserID == w.UserID {
				continue
			}
			others = append(others, WaiterDisplay{UserID: other.UserID, DisplayName: other.DisplayName})
		}
		update := QueueUpdate{
			MatchType:     w.MatchType,
			Language:      w.Language,
			CurrentCount:  len(group),
			RequiredCount: minRankedSize,
			Others:        others,
		}
		if err := m.notifier.EmitQueueUpdate(ctx, w.UserID, update); err != nil {
			m.logger.Warn().Err(err).Str("user_id", w.UserID).Msg("queue_update delivery failed")
		}
	}
}

// fetchAndMarkPendingWaiters loads DB-pending waiters (§4.F step 1) and
// marks their matches clustered in the same transaction, so the 30s
// cooldown is honored even when no group forms this tick.
func (m *Matcher) fetchAndMarkPendingWaiters(ctx context.Context) ([]Waiter, error) {
	var out []Waiter
	err := pgx.BeginTxFunc(ctx, m.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		rows, err := m.matches.PendingWaiters(ctx, tx, pendingMatchMaxAge, clusterCooldown)
		if err != nil {
			return err
		}
		seen := make(map[string]bool)
		for _, r := range rows {
			if r.ParticipantCount >= r.MatchSize {
				continue
			}
			if !seen[r.MatchID] {
				seen[r.MatchID] = true
				if err := m.matches.MarkClustered(ctx, tx, r.MatchID); err != nil {
					return err
				}
			}
			out = append(out, Waiter{
				UserID:         r.UserID,
				MatchType:      string(r.MatchType),
				Language:       r.Language,
				MatchSize:      r.MatchSize,
				RankName:       r.RankAtJoin,
				Theta:          0,
				Beta:           0.5,
				PendingMatchID: r.MatchID,
			})
		}
		return nil
	})
	return out, err
}

// filterOnline drops waiters with no open session. In-memory socket joins
// are online by construction; DB-pending waiters need the ground-truth
// check against user_sessions (§4.F step 2).
func (m *Matcher) filterOnline(ctx context.Context, waiters []Waiter) ([]Waiter, error) {
	var out []Waiter
	err := pgx.BeginTxFunc(ctx, m.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		for _, w := range waiters {
			if w.PendingMatchID == "" {
				out = append(out, w)
				continue
			}
			online, err := m.sessions.IsOnline(ctx, tx, w.UserID)
			if err != nil {
				return err
			}
			if online {
				out = append(out, w)
			}
		}
		return nil
	})
	return out, err
}
