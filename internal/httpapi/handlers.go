package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/codequest-platform/arena-server/internal/apperr"
	"github.com/codequest-platform/arena-server/internal/attempt"
	"github.com/codequest-platform/arena-server/internal/matchmaking"
	"github.com/codequest-platform/arena-server/internal/model"
	"github.com/codequest-platform/arena-server/internal/notify"
	"github.com/codequest-platform/arena-server/internal/progression"
	"github.com/codequest-platform/arena-server/internal/storage/postgres"
)

// hintExpCost is the flat debit for a puzzle hint (§6: "debit
// HINT_EXP_COST = 100").
const hintExpCost = 100

// minQueueExp is the EXP floor a player must hold to enter the queue
// (§4.F constraint 7), enforced at join time.
const minQueueExp = 100

func (s *Server) handleRecordAttempt(w http.ResponseWriter, r *http.Request, userID string) {
	var body struct {
		LevelID        string `json:"levelId"`
		LessonID       string `json:"lessonId"`
		Success        bool   `json:"success"`
		AttemptTime    int    `json:"attemptTime"`
		CodeSubmitted  string `json:"codeSubmitted"`
		ActualOutput   string `json:"actualOutput"`
		ExpectedOutput string `json:"expectedOutput"`
		AttemptID      string `json:"attemptId"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.Attempts.RecordAttempt(r.Context(), userID, attempt.Payload{
		LevelID:        body.LevelID,
		LessonID:       body.LessonID,
		Success:        body.Success,
		AttemptTime:    body.AttemptTime,
		CodeSubmitted:  body.CodeSubmitted,
		ActualOutput:   body.ActualOutput,
		ExpectedOutput: body.ExpectedOutput,
		AttemptID:      body.AttemptID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request, userID string) {
	levelID := r.PathValue("levelId")
	progress, found, err := s.Progress.Get(r.Context(), s.db.Pool, userID, levelID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Dependency, "load progress", err))
		return
	}
	if !found {
		writeError(w, apperr.New(apperr.NotFound, "no progress recorded for this level"))
		return
	}
	writeData(w, http.StatusOK, progress)
}

func (s *Server) handleGetPreferredDifficulty(w http.ResponseWriter, r *http.Request, userID string) {
	lessonID := r.PathValue("lessonId")
	difficulty, found, err := s.Progress.PreferredDifficultyForLesson(r.Context(), s.db.Pool, userID, lessonID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Dependency, "load preferred difficulty", err))
		return
	}
	if !found {
		writeError(w, apperr.New(apperr.NotFound, "no prior attempts for this lesson"))
		return
	}
	writeData(w, http.StatusOK, map[string]model.Difficulty{"preferredDifficulty": difficulty})
}

func (s *Server) handleHint(w http.ResponseWriter, r *http.Request, userID string) {
	var out model.StudentStatistics
	err := pgx.BeginTxFunc(r.Context(), s.db.Pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		stats, err := s.Stats.LockForUpdate(r.Context(), tx, userID)
		if err != nil {
			return apperr.Wrap(apperr.Dependency, "lock statistics", err)
		}
		stats = progression.DebitExp(stats, hintExpCost)
		if err := s.Stats.Upsert(r.Context(), tx, stats); err != nil {
			return apperr.Wrap(apperr.Dependency, "write statistics", err)
		}
		out = stats
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"expCost": hintExpCost, "statistics": out})
}

func (s *Server) handleBattleCreate(w http.ResponseWriter, r *http.Request, userID string) {
	var body struct {
		MatchType  string `json:"matchType"`
		Language   string `json:"language"`
		Difficulty string `json:"difficulty"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.MatchType == "" {
		body.MatchType = defaultMatchType
	}
	if body.Language == "" {
		body.Language = defaultLanguage
	}
	difficultyWanted := model.Difficulty(body.Difficulty)
	if difficultyWanted == "" {
		difficultyWanted = model.Medium
	}

	level, found, err := s.Levels.RandomByDifficulty(r.Context(), s.db.Pool, difficultyWanted)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Dependency, "select problem", err))
		return
	}
	if !found {
		writeError(w, apperr.New(apperr.NotFound, "no problem available at that difficulty"))
		return
	}

	stats, err := s.Stats.Get(r.Context(), s.db.Pool, userID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Dependency, "load statistics", err))
		return
	}
	if stats.Exp < minQueueExp {
		writeError(w, apperr.New(apperr.Precondition, "insufficient exp to join the queue"))
		return
	}

	matchID, err := s.Matcher.JoinSolo(r.Context(), matchmaking.Waiter{
		UserID:       userID,
		MatchType:    body.MatchType,
		Language:     body.Language,
		RankName:     stats.RankName,
		RankIndex:    stats.RankIndex,
		SuccessCount: stats.TotalSuccessCount,
		FailCount:    stats.TotalFailCount,
		Exp:          stats.Exp,
	}, level.ID)
	if err != nil {
		writeError(w, wrapDependency(err, "create battle"))
		return
	}
	writeData(w, http.StatusCreated, map[string]any{"matchId": matchID, "level": level})
}

func (s *Server) handleQueueJoin(w http.ResponseWriter, r *http.Request, userID string) {
	var body struct {
		MatchType string `json:"matchType"`
		Language  string `json:"language"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.MatchType == "" {
		body.MatchType = defaultMatchType
	}
	if body.Language == "" {
		body.Language = defaultLanguage
	}

	stats, err := s.Stats.Get(r.Context(), s.db.Pool, userID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Dependency, "load statistics", err))
		return
	}
	if stats.Exp < minQueueExp {
		writeError(w, apperr.New(apperr.Precondition, "insufficient exp to join the queue"))
		return
	}

	matchID, err := s.Matcher.JoinSolo(r.Context(), matchmaking.Waiter{
		UserID:       userID,
		MatchType:    body.MatchType,
		Language:     body.Language,
		RankName:     stats.RankName,
		RankIndex:    stats.RankIndex,
		SuccessCount: stats.TotalSuccessCount,
		FailCount:    stats.TotalFailCount,
		Exp:          stats.Exp,
	}, "")
	if err != nil {
		writeError(w, wrapDependency(err, "join queue"))
		return
	}
	writeData(w, http.StatusAccepted, map[string]string{"pendingMatchId": matchID})
}

func (s *Server) handleBattleSubmit(w http.ResponseWriter, r *http.Request, userID string) {
	var body struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	outcome, err := s.Battles.SubmitSolution(r.Context(), r.PathValue("id"), userID, body.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, outcome)
}

func (s *Server) handleBattleExit(w http.ResponseWriter, r *http.Request, userID string) {
	outcome, err := s.Battles.ExitBattle(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, outcome)
}

func (s *Server) handleBattleReady(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.Battles.Ready(r.Context(), r.PathValue("id"), userID); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"ready": true})
}

func (s *Server) handleKickUnready(w http.ResponseWriter, r *http.Request, userID string) {
	// Kick-unready is a stale-pending sweep over every match (§4.G); a
	// single match cannot be targeted without also checking its age, so
	// this endpoint just runs the same sweep the background task runs and
	// reports it ran. userID is accepted for the auth boundary only.
	s.Battles.SweepKickUnready(r.Context())
	writeData(w, http.StatusOK, map[string]bool{"swept": true})
}

func (s *Server) handleChallengeCreate(w http.ResponseWriter, r *http.Request, userID string) {
	var body struct {
		ToUserID string `json:"toUserId"`
		LevelID  string `json:"levelId"`
		ExpWager int    `json:"expWager"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.ToUserID == "" {
		writeError(w, apperr.New(apperr.Validation, "toUserId is required"))
		return
	}
	if body.ExpWager <= 0 {
		body.ExpWager = 100
	}

	id, err := s.Challenges.Create(r.Context(), s.db.Pool, userID, body.ToUserID, body.LevelID, body.ExpWager)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Dependency, "create challenge", err))
		return
	}
	writeData(w, http.StatusCreated, map[string]string{"challengeId": id})
}

func (s *Server) handleChallengeRespond(w http.ResponseWriter, r *http.Request, userID string) {
	var body struct {
		Accept bool `json:"accept"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	challengeID := r.PathValue("id")

	var matchID string
	err := pgx.BeginTxFunc(r.Context(), s.db.Pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		challenge, err := s.Challenges.LockForUpdate(r.Context(), tx, challengeID)
		if err != nil {
			if errors.Is(err, postgres.ErrChallengeNotFound) {
				return apperr.New(apperr.NotFound, "challenge not found")
			}
			return apperr.Wrap(apperr.Dependency, "lock challenge", err)
		}
		if challenge.ToUserID != userID {
			return apperr.New(apperr.Forbidden, "not the challenge recipient")
		}
		if challenge.Status != model.ChallengePending {
			return apperr.New(apperr.Conflict, "challenge already resolved")
		}

		if !body.Accept {
			return s.Challenges.Respond(r.Context(), tx, challengeID, model.ChallengeDeclined, "")
		}

		fromStats, err := s.Stats.LockForUpdate(r.Context(), tx, challenge.FromUserID)
		if err != nil {
			return apperr.Wrap(apperr.Dependency, "lock challenger statistics", err)
		}
		toStats, err := s.Stats.LockForUpdate(r.Context(), tx, userID)
		if err != nil {
			return apperr.Wrap(apperr.Dependency, "lock opponent statistics", err)
		}

		id, err := s.Matches.Create(r.Context(), tx, model.MultiplayerMatch{
			Status:    model.MatchPending,
			MatchType: model.MatchChallenge,
			MatchSize: 2,
			LevelID:   challenge.LevelID,
			Wager:     challenge.ExpWager,
		}, []model.MatchParticipant{
			{UserID: challenge.FromUserID, RankAtJoin: fromStats.RankName, SuccessCountAtJoin: fromStats.TotalSuccessCount, FailCountAtJoin: fromStats.TotalFailCount},
			{UserID: userID, RankAtJoin: toStats.RankName, SuccessCountAtJoin: toStats.TotalSuccessCount, FailCountAtJoin: toStats.TotalFailCount},
		})
		if err != nil {
			return apperr.Wrap(apperr.Dependency, "create challenge match", err)
		}
		matchID = id
		return s.Challenges.Respond(r.Context(), tx, challengeID, model.ChallengeAccepted, matchID)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"matchId": matchID})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request, userID string) {
	boardType := model.BoardType(r.URL.Query().Get("type"))
	if boardType == "" {
		boardType = model.BoardOverall
	}

	top, err := s.Leaderboards.Top(r.Context(), boardType)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Dependency, "load leaderboard", err))
		return
	}
	position, found, err := s.Leaderboards.Position(r.Context(), boardType, userID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Dependency, "load rank position", err))
		return
	}

	resp := map[string]any{"boardType": boardType, "entries": top}
	if found {
		resp["yourPosition"] = position
	}
	writeData(w, http.StatusOK, resp)
}

func (s *Server) handleAchievements(w http.ResponseWriter, r *http.Request, userID string) {
	stats, err := s.Stats.Get(r.Context(), s.db.Pool, userID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Dependency, "load statistics", err))
		return
	}

	earned := make(map[string]bool, len(stats.CompletedAchievements))
	for _, t := range stats.CompletedAchievements {
		earned[t] = true
	}

	progress := progression.CheckAchievements(progression.CheckInput{
		Success:           true,
		TotalSuccessCount: stats.TotalSuccessCount,
		CurrentStreak:     stats.CurrentStreak,
		Exp:               stats.Exp,
		AlreadyUnlocked:   earned,
	})

	writeData(w, http.StatusOK, map[string]any{
		"earned":         stats.CompletedAchievements,
		"nextMilestones": progress,
		"exp":            stats.Exp,
		"rank":           stats.RankName,
		"normalizedExp":  strconv.FormatFloat(stats.NormalizedExp(), 'f', 4, 64),
	})
}

// wrapDependency tags err as Dependency unless it already carries a Kind
// (e.g. JoinSolo's own Precondition gate), which is left untouched so its
// status code survives the trip through writeError.
func wrapDependency(err error, message string) error {
	var tagged *apperr.Error
	if errors.As(err, &tagged) {
		return err
	}
	return apperr.Wrap(apperr.Dependency, message, err)
}

// handleWebSocket upgrades the connection and joins it to user:{userID}
// plus any battle/matchmaking room named in the query string, so a client
// can watch its own match or queue without a separate subscribe call.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := s.Hub.Register(conn, userID)

	if matchID := r.URL.Query().Get("matchId"); matchID != "" {
		_ = s.Hub.Join(r.Context(), client, notify.BattleRoom(matchID))
	}
	if pendingID := r.URL.Query().Get("pendingMatchId"); pendingID != "" {
		_ = s.Hub.Join(r.Context(), client, notify.MatchmakingRoom(pendingID))
	}
}
