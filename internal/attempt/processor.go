// Package attempt implements the §4.E attempt processor: the single ACID
// transaction that ties the adaptive kernel, the difficulty rule engine,
// the performance summary cache, and the progression ledger together for
// one puzzle submission.
package attempt

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/codequest-platform/arena-server/internal/adaptive"
	"github.com/codequest-platform/arena-server/internal/apperr"
	"github.com/codequest-platform/arena-server/internal/difficulty"
	"github.com/codequest-platform/arena-server/internal/model"
	"github.com/codequest-platform/arena-server/internal/progression"
	"github.com/codequest-platform/arena-server/internal/storage/postgres"
	"github.com/codequest-platform/arena-server/internal/summarycache"
)

// Payload is the record_attempt request (§4.E).
type Payload struct {
	LevelID        string
	LessonID       string
	Success        bool
	AttemptTime    int // seconds, <= 3600 when present
	CodeSubmitted  string
	ActualOutput   string
	ExpectedOutput string
	AttemptID      string // idempotency key
}

// Result is the processor's response.
type Result struct {
	Duplicate         bool
	NextLevelID       string
	NewDifficulty     model.Difficulty
	ExpGained         int
	UnlockedAwards    []progression.Achievement
	Rank              string
	Exp               int
}

// Processor runs record_attempt end to end.
type Processor struct {
	pool       *pgxpool.Pool
	kernel     *adaptive.Client
	thresholds difficulty.Thresholds
	cache      *summarycache.Cache
	progress   *postgres.ProgressRepo
	attempts   *postgres.AttemptRepo
	stats      *postgres.StatisticsRepo
	audit      *postgres.AuditRepo
	sessions   *postgres.SessionRepo
	levels     *postgres.LevelRepo
	logger     zerolog.Logger
}

// New constructs a Processor wired to every dependency it orchestrates.
func New(
	pool *pgxpool.Pool,
	kernel *adaptive.Client,
	thresholds difficulty.Thresholds,
	cache *summarycache.Cache,
	logger zerolog.Logger,
) *Processor {
	return &Processor{
		pool:       pool,
		kernel:     kernel,
		thresholds: thresholds,
		cache:      cache,
		progress:   postgres.NewProgressRepo(),
		attempts:   postgres.NewAttemptRepo(),
		stats:      postgres.NewStatisticsRepo(),
		audit:      postgres.NewAuditRepo(),
		sessions:   postgres.NewSessionRepo(),
		levels:     postgres.NewLevelRepo(),
		logger:     logger.With().Str("component", "attempt_processor").Logger(),
	}
}

// RecordAttempt runs the full §4.E algorithm inside one transaction.
func (p *Processor) RecordAttempt(ctx context.Context, userID string, payload Payload) (Result, error) {
	// Step 1: validate payload shape.
	if err := validate(payload); err != nil {
		return Result{}, err
	}

	var result Result
	err := pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		r, err := p.runInTx(ctx, tx, userID, payload)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if !result.Duplicate {
		p.cache.PrimeLessonSummary(userID, payload.LessonID, summarycache.AttemptRecord{
			LevelID:     payload.LevelID,
			Success:     payload.Success,
			Difficulty:  string(result.NewDifficulty),
			AttemptTime: payload.AttemptTime,
			CreatedAt:   time.Now(),
		})
	}
	return result, nil
}

func validate(p Payload) error {
	if p.LevelID == "" {
		return apperr.New(apperr.Validation, "levelId is required")
	}
	if p.AttemptTime < 0 || p.AttemptTime > 3600 {
		return apperr.New(apperr.Validation, "attemptTime must be between 0 and 3600 seconds")
	}
	return nil
}

func (p *Processor) runInTx(ctx context.Context, tx pgx.Tx, userID string, payload Payload) (Result, error) {
	// Step 2: idempotency check.
	if payload.AttemptID != "" {
		if existing, found, err := p.attempts.FindByIdempotencyKey(ctx, tx, userID, payload.AttemptID); err != nil {
			return Result{}, apperr.Wrap(apperr.Dependency, "check idempotency", err)
		} else if found {
			return Result{
				Duplicate:     true,
				NewDifficulty: existing.DifficultyLabel,
			}, nil
		}
	}

	level, found, err := p.levels.FindByID(ctx, tx, payload.LevelID)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Dependency, "load level", err)
	}
	if !found {
		return Result{}, apperr.New(apperr.NotFound, "level not found")
	}

	band, err := p.levels.LessonBand(ctx, tx, level.LessonID)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Dependency, "load lesson band", err)
	}

	// Step 3: read-with-lock StudentProgress, inserting defaults if absent.
	progress, existed, err := p.progress.LockForUpdate(ctx, tx, userID, payload.LevelID)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Dependency, "lock progress", err)
	}
	if !existed {
		progress = model.StudentProgress{
			UserID:              userID,
			LevelID:             payload.LevelID,
			Theta:               0,
			Beta:                0.5,
			PreferredDifficulty: map[string]model.Difficulty{},
		}
	}

	// Step 4: capture pre-update snapshot.
	thetaBefore := progress.Theta
	betaCurrent := level.Beta
	if betaCurrent == 0 {
		if progress.Beta != 0 {
			betaCurrent = progress.Beta
		} else {
			betaCurrent = defaultBetaFor(level.Difficulty)
		}
	}

	// Step 5: counters.
	progress.PrevTheta = progress.Theta
	progress.PrevBeta = progress.Beta
	if payload.Success {
		progress.SuccessCount++
	} else {
		progress.FailCount++
	}
	progress.TotalAttempts++
	progress.Clamp()

	// Step 6: fetch summary via D.
	summary, err := p.cache.GetLessonSummary(ctx, userID, payload.LessonID)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Dependency, "load summary", err)
	}

	stats, err := p.stats.LockForUpdate(ctx, tx, userID)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Dependency, "lock statistics", err)
	}

	// Step 7: call kernel.
	kernelResp := p.kernel.Compute(ctx, adaptive.Request{
		UserID:                userID,
		LevelID:               payload.LevelID,
		Theta:                 thetaBefore,
		BetaOld:               betaCurrent,
		RankName:              stats.RankName,
		CompletedAchievements: stats.CompletedAchievements,
		SuccessCount:          progress.SuccessCount,
		FailCount:             progress.FailCount,
	})

	// Step 8: evaluate rules via C.
	ruleOut := difficulty.Evaluate(difficulty.Input{
		AlgorithmBeta:      kernelResp.Summary.NewBeta,
		CurrentBeta:        betaCurrent,
		LevelID:            payload.LevelID,
		CurrentLevelNumber: level.LevelNumber,
		LevelDifficulty:    string(level.Difficulty),
		LessonBand:         string(band),
		Success:            payload.Success,
		AttemptTime:        payload.AttemptTime,
		NewFailCount:       summary.FailCounts[payload.LevelID],
		EnableRules:        true,
		Summary:            toEngineSummary(summary),
		TotalAttempts:      len(summary.Attempts),
	}, p.thresholds)

	progress.Theta = kernelResp.IRT.AdjustedTheta
	progress.Beta = ruleOut.Beta
	progress.Clamp()

	// Step 9: choose next puzzle.
	nextLevelID, err := p.chooseNextPuzzle(ctx, tx, level, model.Difficulty(ruleOut.Difficulty), payload.Success)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Dependency, "choose next puzzle", err)
	}
	if progress.PreferredDifficulty == nil {
		progress.PreferredDifficulty = map[string]model.Difficulty{}
	}
	if payload.LessonID != "" {
		progress.PreferredDifficulty[payload.LessonID] = model.Difficulty(ruleOut.Difficulty)
	}

	// Step 10: recompute best/average completion time.
	times, err := p.attempts.SuccessfulAttemptTimes(ctx, tx, userID, payload.LevelID)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Dependency, "load attempt history", err)
	}
	if payload.Success {
		times = append(times, payload.AttemptTime)
	}
	if len(times) > 0 {
		best, avg := bestAndAverage(times)
		progress.BestCompletionTime = &best
		progress.AvgCompletionTime = &avg
	}

	// Step 11: write progress row, and upsert completion on success.
	if err := p.progress.Upsert(ctx, tx, progress); err != nil {
		return Result{}, apperr.Wrap(apperr.Dependency, "write progress", err)
	}
	if payload.Success {
		if err := p.progress.UpsertCompletion(ctx, tx, userID, payload.LevelID); err != nil {
			return Result{}, apperr.Wrap(apperr.Dependency, "write completion", err)
		}
	}

	// Step 12: insert the PuzzleAttempt snapshot.
	attemptID := payload.AttemptID
	if attemptID == "" {
		attemptID = uuid.NewString()
	}
	if _, err := p.attempts.Insert(ctx, tx, model.PuzzleAttempt{
		UserID:          userID,
		LevelID:         payload.LevelID,
		LessonID:        payload.LessonID,
		Success:         payload.Success,
		AttemptTime:     payload.AttemptTime,
		ThetaAtAttempt:  thetaBefore,
		BetaAtAttempt:   betaCurrent,
		DifficultyLabel: level.Difficulty,
		IdempotencyKey:  payload.AttemptID,
	}); err != nil {
		return Result{}, apperr.Wrap(apperr.Dependency, "insert attempt", err)
	}

	// Step 13: update StudentStatistics via the progression ledger.
	ledgerResult := progression.ApplyEvent(stats, progression.Event{
		Success:    payload.Success,
		Difficulty: string(level.Difficulty),
		LessonID:   payload.LessonID,
	})
	if err := p.stats.Upsert(ctx, tx, ledgerResult.Stats); err != nil {
		return Result{}, apperr.Wrap(apperr.Dependency, "write statistics", err)
	}
	for _, a := range ledgerResult.UnlockedAwards {
		if err := p.stats.InsertAchievement(ctx, tx, userID, a.Type); err != nil {
			return Result{}, apperr.Wrap(apperr.Dependency, "write achievement", err)
		}
	}

	// Step 14: write AdaptiveLog (always) and DifficultyAudit (on change,
	// under a savepoint so audit failure never fails the attempt).
	if err := p.audit.InsertAdaptiveLog(ctx, tx, userID, payload.LevelID, kernelResp.Source,
		kernelResp.Summary.NewBeta, kernelResp.IRT.AdjustedTheta); err != nil {
		return Result{}, apperr.Wrap(apperr.Dependency, "write adaptive log", err)
	}

	if betaChanged(progress.PrevBeta, progress.Beta) {
		appliedRule := ""
		for _, a := range ruleOut.Audit {
			if a.Applied {
				appliedRule = a.Rule
			}
		}
		if err := postgres.WithSavepoint(ctx, tx, "difficulty_audit", func(tx pgx.Tx) error {
			return p.audit.InsertDifficultyAudit(ctx, tx, userID, payload.LevelID, appliedRule, progress.PrevBeta, progress.Beta)
		}); err != nil {
			p.logger.Warn().Err(err).Str("user_id", userID).Msg("difficulty audit write degraded")
		}
	}

	// Step 15: increment session counters under a savepoint.
	if err := postgres.WithSavepoint(ctx, tx, "session_counters", func(tx pgx.Tx) error {
		return p.sessions.IncrementCounters(ctx, tx, userID, payload.Success)
	}); err != nil {
		p.logger.Warn().Err(err).Str("user_id", userID).Msg("session counter update degraded")
	}

	return Result{
		NextLevelID:    nextLevelID,
		NewDifficulty:  model.Difficulty(ruleOut.Difficulty),
		ExpGained:      ledgerResult.ExpGained,
		UnlockedAwards: ledgerResult.UnlockedAwards,
		Rank:           ledgerResult.Stats.RankName,
		Exp:            ledgerResult.Stats.Exp,
	}, nil
}

// chooseNextPuzzle implements §4.E step 9.
func (p *Processor) chooseNextPuzzle(ctx context.Context, tx pgx.Tx, current model.Level, newDifficulty model.Difficulty, success bool) (string, error) {
	if success {
		target := current.LevelNumber + 1
		for _, difficultyCandidate := range priorityOrder(newDifficulty) {
			l, found, err := p.levels.FindByLessonLevelNumberDifficulty(ctx, tx, current.LessonID, target, difficultyCandidate)
			if err != nil {
				return "", err
			}
			if found {
				return l.ID, nil
			}
		}
		return "", nil
	}

	if newDifficulty != current.Difficulty {
		l, found, err := p.levels.FindByLessonLevelNumberDifficulty(ctx, tx, current.LessonID, current.LevelNumber, newDifficulty)
		if err != nil {
			return "", err
		}
		if found {
			return l.ID, nil
		}
	}
	return current.ID, nil
}

// priorityOrder picks the closest-difficulty search order for a target
// band (§4.E step 9).
func priorityOrder(target model.Difficulty) []model.Difficulty {
	switch target {
	case model.Hard:
		return []model.Difficulty{model.Hard, model.Medium, model.Easy}
	case model.Easy:
		return []model.Difficulty{model.Easy, model.Medium, model.Hard}
	default:
		return []model.Difficulty{model.Medium, model.Easy, model.Hard}
	}
}

func defaultBetaFor(d model.Difficulty) float64 {
	switch d {
	case model.Hard:
		return 0.75
	case model.Easy:
		return 0.2
	default:
		return 0.45
	}
}

func betaChanged(before, after float64) bool {
	const epsilon = 1e-9
	diff := before - after
	if diff < 0 {
		diff = -diff
	}
	return diff > epsilon
}

func bestAndAverage(times []int) (int, float64) {
	best := times[0]
	sum := 0
	for _, t := range times {
		if t < best {
			best = t
		}
		sum += t
	}
	return best, float64(sum) / float64(len(times))
}

func toEngineSummary(s summarycache.Summary) []difficulty.AttemptRecord {
	out := make([]difficulty.AttemptRecord, 0, len(s.Attempts))
	for _, a := range s.Attempts {
		out = append(out, difficulty.AttemptRecord{
			LevelNumber:      a.LevelNumber,
			Success:          a.Success,
			Difficulty:       a.Difficulty,
			AttemptTime:      a.AttemptTime,
			FailCountAtLevel: s.FailCounts[a.LevelID],
		})
	}
	return out
}
