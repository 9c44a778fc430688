// Package battle runs the multiplayer match state machine and the
// submit/forfeit/disconnect algorithms of §4.G.
package battle

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/codequest-platform/arena-server/internal/apperr"
	"github.com/codequest-platform/arena-server/internal/model"
	"github.com/codequest-platform/arena-server/internal/progression"
	"github.com/codequest-platform/arena-server/internal/storage/postgres"
)

const (
	rankedWinnerBase   = 200
	rankedWinnerPerExtra = 50
	rankedLoserPenalty = 50
	exitPenalty        = 100
	defaultWager       = 100
	kickUnreadyAge     = 120 * time.Second
)

// Outcome is what a participant sees after submit/exit, win or lose.
type Outcome struct {
	MatchID        string
	Status         model.MatchStatus
	IsWinner       *bool
	ExpGained      int
	ExpLost        int
	CompletionTime *int
}

// Notifier delivers battle room/user events (§4.I).
type Notifier interface {
	// EmitRoom sends an event to everyone in a room (battle:{id}).
	EmitRoom(ctx context.Context, room string, event string, payload any) error
	// EmitUser sends an event to one user's personal room (user:{id}).
	EmitUser(ctx context.Context, userID string, event string, payload any) error
}

// Coordinator wires the match state machine to storage and notifications.
type Coordinator struct {
	pool     *pgxpool.Pool
	matches  *postgres.MatchRepo
	stats    *postgres.StatisticsRepo
	levels   *postgres.LevelRepo
	notifier Notifier
	logger   zerolog.Logger
}

// New builds a Coordinator.
func New(pool *pgxpool.Pool, matches *postgres.MatchRepo, stats *postgres.StatisticsRepo,
	levels *postgres.LevelRepo, notifier Notifier, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		pool:     pool,
		matches:  matches,
		stats:    stats,
		levels:   levels,
		notifier: notifier,
		logger:   logger.With().Str("component", "battle_coordinator").Logger(),
	}
}

func battleRoom(matchID string) string { return "battle:" + matchID }
func userRoom(userID string) string    { return "user:" + userID }

// Ready transitions a pending match to active on the first ready from any
// participant (§4.G: "the first ready starts the match").
func (c *Coordinator) Ready(ctx context.Context, matchID, userID string) error {
	return pgx.BeginTxFunc(ctx, c.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		match, err := c.matches.LockForUpdate(ctx, tx, matchID)
		if err != nil {
			return apperr.Wrap(apperr.NotFound, "match not found", err)
		}
		if !isParticipant(ctx, tx, c.matches, matchID, userID) {
			return apperr.New(apperr.Forbidden, "not a participant")
		}
		if match.Status != model.MatchPending {
			return nil
		}
		return c.matches.Activate(ctx, tx, matchID)
	})
}

// SubmitSolution implements §4.G's submit_solution algorithm.
func (c *Coordinator) SubmitSolution(ctx context.Context, matchID, userID, code string) (Outcome, error) {
	var outcome Outcome
	var emitCompleted bool

	err := pgx.BeginTxFunc(ctx, c.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		match, err := c.matches.LockForUpdate(ctx, tx, matchID)
		if err != nil {
			return apperr.Wrap(apperr.NotFound, "match not found", err)
		}

		participants, err := c.matches.ParticipantsForUpdate(ctx, tx, matchID)
		if err != nil {
			return err
		}
		self, ok := findParticipant(participants, userID)
		if !ok {
			return apperr.New(apperr.Forbidden, "not a participant")
		}

		if match.Status != model.MatchActive {
			outcome = outcomeFromParticipant(match, self)
			return nil
		}

		completionTime := 0
		if match.StartedAt != nil {
			completionTime = int(time.Since(*match.StartedAt).Seconds())
			if completionTime < 0 {
				completionTime = 0
			}
		}

		var reference string
		if match.LevelID != "" {
			level, found, err := c.levels.FindByID(ctx, tx, match.LevelID)
			if err != nil {
				return err
			}
			if found {
				reference = level.ExpectedOut
			}
		}
		isCorrect := validateSolution(code, reference)

		self.CompletedCode = true
		self.CodeSubmitted = code
		self.CompletionTime = &completionTime
		if err := c.matches.UpdateParticipant(ctx, tx, self); err != nil {
			return err
		}

		if !isCorrect {
			outcome = Outcome{MatchID: matchID, Status: match.Status, CompletionTime: &completionTime}
			return nil
		}

		winnerFlag := true
		self.IsWinner = &winnerFlag
		n := len(participants)
		self.ExpGained = winExp(match, n)
		if err := c.matches.UpdateParticipant(ctx, tx, self); err != nil {
			return err
		}
		if err := creditExp(ctx, tx, c.stats, self.UserID, self.ExpGained); err != nil {
			return err
		}

		for _, p := range participants {
			if p.UserID == userID {
				continue
			}
			loserFlag := false
			p.IsWinner = &loserFlag
			p.ExpLost = loseExp(match)
			if err := c.matches.UpdateParticipant(ctx, tx, p); err != nil {
				return err
			}
			if err := creditExp(ctx, tx, c.stats, p.UserID, -p.ExpLost); err != nil {
				return err
			}
		}

		if err := c.matches.Complete(ctx, tx, matchID, model.MatchCompleted, completionTime); err != nil {
			return err
		}

		outcome = Outcome{MatchID: matchID, Status: model.MatchCompleted, IsWinner: &winnerFlag,
			ExpGained: self.ExpGained, CompletionTime: &completionTime}
		emitCompleted = true
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	if emitCompleted {
		c.emitBattleCompleted(ctx, matchID, userID)
	}
	return outcome, nil
}

// ExitBattle implements §4.G's forfeit/exit algorithm: notify winners first,
// then commit the outcome.
func (c *Coordinator) ExitBattle(ctx context.Context, matchID, userID string) (Outcome, error) {
	var outcome Outcome
	err := pgx.BeginTxFunc(ctx, c.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		match, err := c.matches.LockForUpdate(ctx, tx, matchID)
		if err != nil {
			return apperr.Wrap(apperr.NotFound, "match not found", err)
		}
		if match.Status == model.MatchCompleted || match.Status == model.MatchCancelled {
			participants, err := c.matches.ParticipantsForUpdate(ctx, tx, matchID)
			if err != nil {
				return err
			}
			if self, ok := findParticipant(participants, userID); ok {
				outcome = outcomeFromParticipant(match, self)
			}
			return nil
		}

		participants, err := c.matches.ParticipantsForUpdate(ctx, tx, matchID)
		if err != nil {
			return err
		}
		self, ok := findParticipant(participants, userID)
		if !ok {
			return apperr.New(apperr.Forbidden, "not a participant")
		}

		var winnerIDs []string
		for _, p := range participants {
			if p.UserID != userID {
				winnerIDs = append(winnerIDs, p.UserID)
			}
		}

		// Notifications go out before the rest of the DB work, per §4.G's
		// at-least-once delivery guarantee for opponent_exited.
		c.emitOpponentExited(ctx, matchID, userID, winnerIDs)

		loserFlag := false
		self.IsWinner = &loserFlag
		self.ExpLost = exitPenalty
		if err := c.matches.UpdateParticipant(ctx, tx, self); err != nil {
			return err
		}
		if err := creditExp(ctx, tx, c.stats, userID, -exitPenalty); err != nil {
			return err
		}

		winExpAmount := winExp(match, len(participants))
		for _, p := range participants {
			if p.UserID == userID {
				continue
			}
			winnerFlag := true
			p.IsWinner = &winnerFlag
			p.CompletedCode = true
			p.ExpGained = winExpAmount
			if err := c.matches.UpdateParticipant(ctx, tx, p); err != nil {
				return err
			}
			if err := creditExp(ctx, tx, c.stats, p.UserID, winExpAmount); err != nil {
				return err
			}
		}

		completionTime := 0
		if match.StartedAt != nil {
			completionTime = int(time.Since(*match.StartedAt).Seconds())
			if completionTime < 0 {
				completionTime = 0
			}
		}
		if err := c.matches.Complete(ctx, tx, matchID, model.MatchCompleted, completionTime); err != nil {
			return err
		}

		outcome = Outcome{MatchID: matchID, Status: model.MatchCompleted, IsWinner: &loserFlag,
			ExpLost: exitPenalty, CompletionTime: &completionTime}
		return nil
	})
	return outcome, err
}

// Disconnect treats every active match the user participates in as a
// forfeit (§4.G "Disconnect").
func (c *Coordinator) Disconnect(ctx context.Context, userID string) error {
	var matchIDs []string
	err := pgx.BeginTxFunc(ctx, c.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		ids, err := c.matches.ActiveMatchIDsForUser(ctx, tx, userID)
		matchIDs = ids
		return err
	})
	if err != nil {
		return err
	}
	for _, matchID := range matchIDs {
		if _, err := c.ExitBattle(ctx, matchID, userID); err != nil {
			c.logger.Warn().Err(err).Str("match_id", matchID).Str("user_id", userID).
				Msg("disconnect forfeit failed")
		}
	}
	return nil
}

// SweepKickUnready cancels pending matches older than 120s and debits each
// enrolled participant 100 exp (§4.G "Kick-unready").
func (c *Coordinator) SweepKickUnready(ctx context.Context) {
	var matchIDs []string
	err := pgx.BeginTxFunc(ctx, c.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		ids, err := c.matches.PendingMatchIDsOlderThan(ctx, tx, kickUnreadyAge)
		matchIDs = ids
		return err
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("kick-unready scan failed")
		return
	}

	for _, matchID := range matchIDs {
		err := pgx.BeginTxFunc(ctx, c.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
			match, err := c.matches.LockForUpdate(ctx, tx, matchID)
			if err != nil {
				return err
			}
			if match.Status != model.MatchPending {
				return nil
			}
			participants, err := c.matches.ParticipantsForUpdate(ctx, tx, matchID)
			if err != nil {
				return err
			}
			for _, p := range participants {
				if err := creditExp(ctx, tx, c.stats, p.UserID, -exitPenalty); err != nil {
					return err
				}
			}
			return c.matches.UpdateStatus(ctx, tx, matchID, model.MatchCancelled)
		})
		if err != nil {
			c.logger.Error().Err(err).Str("match_id", matchID).Msg("kick-unready cancel failed")
		}
	}
}

func winExp(match model.MultiplayerMatch, participantCount int) int {
	if match.MatchType == model.MatchChallenge {
		wager := match.Wager
		if wager <= 0 {
			wager = defaultWager
		}
		return 2 * wager
	}
	return rankedWinnerBase + rankedWinnerPerExtra*(participantCount-1)
}

func loseExp(match model.MultiplayerMatch) int {
	if match.MatchType == model.MatchChallenge {
		wager := match.Wager
		if wager <= 0 {
			wager = defaultWager
		}
		return wager
	}
	return rankedLoserPenalty
}

func creditExp(ctx context.Context, tx pgx.Tx, stats *postgres.StatisticsRepo, userID string, delta int) error {
	s, err := stats.LockForUpdate(ctx, tx, userID)
	if err != nil {
		return err
	}
	result := progression.ApplyEvent(s, progression.Event{ExpDelta: delta})
	return stats.Upsert(ctx, tx, result.Stats)
}

func findParticipant(participants []model.MatchParticipant, userID string) (model.MatchParticipant, bool) {
	for _, p := range participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return model.MatchParticipant{}, false
}

func outcomeFromParticipant(match model.MultiplayerMatch, p model.MatchParticipant) Outcome {
	return Outcome{
		MatchID:        match.ID,
		Status:         match.Status,
		IsWinner:       p.IsWinner,
		ExpGained:      p.ExpGained,
		ExpLost:        p.ExpLost,
		CompletionTime: p.CompletionTime,
	}
}

func isParticipant(ctx context.Context, tx pgx.Tx, matches *postgres.MatchRepo, matchID, userID string) bool {
	participants, err := matches.ParticipantsForUpdate(ctx, tx, matchID)
	if err != nil {
		return false
	}
	_, ok := findParticipant(participants, userID)
	return ok
}

func (c *Coordinator) emitBattleCompleted(ctx context.Context, matchID, winnerID string) {
	payload := map[string]any{
		"matchId": matchID,
		"status":  "completed",
		"winners": []string{winnerID},
	}
	if err := c.notifier.EmitRoom(ctx, battleRoom(matchID), "battle_completed", payload); err != nil {
		c.logger.Warn().Err(err).Msg("battle_completed room emit failed")
	}
	if err := c.notifier.EmitUser(ctx, winnerID, "battle_completed", payload); err != nil {
		c.logger.Warn().Err(err).Msg("battle_completed user emit failed")
	}
}

func (c *Coordinator) emitOpponentExited(ctx context.Context, matchID, exiterID string, winnerIDs []string) {
	payload := map[string]any{"matchId": matchID, "exiterId": exiterID}
	if err := c.notifier.EmitRoom(ctx, battleRoom(matchID), "opponent_exited", payload); err != nil {
		c.logger.Warn().Err(err).Msg("opponent_exited room emit failed")
	}
	for _, winnerID := range winnerIDs {
		if err := c.notifier.EmitUser(ctx, winnerID, "opponent_exited", payload); err != nil {
			c.logger.Warn().Err(err).Msg("opponent_exited user emit failed")
		}
	}
}

var commentLine = regexp.MustCompile(`(#|//).*$`)

// validateSolution implements §4.G step 4's comparison algorithm.
func validateSolution(submitted, reference string) bool {
	if reference == "" {
		return len(submitted) > 10 && hasSyntacticMarker(submitted)
	}
	subLines := normalizeLines(submitted)
	refLines := normalizeLines(reference)
	if len(subLines) != len(refLines) {
		return false
	}
	for i := range subLines {
		if !strings.EqualFold(subLines[i], refLines[i]) {
			return false
		}
	}
	return true
}

func normalizeLines(code string) []string {
	var out []string
	for _, line := range strings.Split(code, "\n") {
		line = commentLine.ReplaceAllString(line, "")
		line = strings.Join(strings.Fields(line), " ")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

var syntacticMarkers = []string{"def ", "function ", "class ", "print", "return", "=", "("}

func hasSyntacticMarker(code string) bool {
	for _, marker := range syntacticMarkers {
		if strings.Contains(code, marker) {
			return true
		}
	}
	return false
}
