// Package adaptive implements the §4.B remote IRT/DDA kernel client: a
// bounded-timeout, bounded-retry HTTP call behind a circuit breaker, with a
// subprocess fallback and a safe-defaults last resort so the attempt
// processor never blocks on the kernel being down.
//
// The transport shape (context timeout, status-code-driven retryable vs
// definitive split) is grounded on internal/auth's HTTPValidator;
// cenkalti/backoff drives the retry loop (retry cap, permanent errors), and
// the linear delay between attempts is waited out on the injected clock.
package adaptive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Request is the payload sent to the kernel (§4.B).
type Request struct {
	UserID                string
	LevelID               string
	Theta                 float64
	BetaOld               float64
	RankName              string
	CompletedAchievements []string
	SuccessCount          int
	FailCount             int
	TargetPerformance     float64
	AdjustmentRate        float64
	AutoSync              bool
}

// Summary is the kernel's headline output block.
type Summary struct {
	NewBeta             float64
	NextPuzzleDifficulty string
	StudentSkill        float64
	ActualSuccessRate   float64
	ActualFailRate      float64
}

// IRTResult is the kernel's item-response-theory block.
type IRTResult struct {
	AdjustedTheta   float64
	Probability     float64
	ConfidenceIndex float64
}

// DDAResult is the kernel's dynamic-difficulty-adjustment block.
type DDAResult struct {
	BetaNew          float64
	AdjustmentApplied bool
	Momentum         float64
	BehaviorWeight   float64
}

// Response is the full kernel result plus which source produced it, for the
// structured log entry §7 requires.
type Response struct {
	Summary   Summary
	IRT       IRTResult
	DDA       DDAResult
	Source    string // "warm_service", "python_fallback", or "defaults"
}

// ErrCircuitOpen is returned fast while the breaker is open (§4.B).
var ErrCircuitOpen = errors.New("adaptive: circuit open")

// Config holds the client's tunables, sourced from the env vars in §6.
type Config struct {
	ServiceURL         string
	Timeout            time.Duration
	MaxRetries         int
	CircuitFails       int
	CircuitResetPeriod time.Duration
	EnableWarmService  bool
}

// DefaultConfig matches the defaults documented in spec.md §4.B/§6.
func DefaultConfig() Config {
	return Config{
		Timeout:            2500 * time.Millisecond,
		MaxRetries:         2,
		CircuitFails:       3,
		CircuitResetPeriod: 30 * time.Second,
		EnableWarmService:  true,
	}
}

// Fallback is the subprocess-invoked second-tier kernel implementation
// (§4.B's fallback chain). Production wires this to the Python IRT/DDA
// process; tests and safe-defaults-only deployments may pass nil.
type Fallback interface {
	Compute(ctx context.Context, req Request) (Response, error)
}

// Client is the adaptive kernel client.
type Client struct {
	cfg      Config
	http     *http.Client
	breaker  *circuitBreaker
	fallback Fallback
	clock    quartz.Clock
	logger   zerolog.Logger
	group    singleflight.Group
}

// New constructs a Client. clock defaults to the real clock when nil.
func New(cfg Config, fallback Fallback, clock quartz.Clock, logger zerolog.Logger) *Client {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		breaker:  newCircuitBreaker(cfg.CircuitFails, cfg.CircuitResetPeriod, clock),
		fallback: fallback,
		clock:    clock,
		logger:   logger.With().Str("component", "adaptive_kernel").Logger(),
	}
}

// Compute runs the fallback chain of §4.B: warm service (circuit-breaker
// gated, retried) -> subprocess fallback -> safe defaults. It always
// succeeds; only the Source field tells the caller what actually answered.
func (c *Client) Compute(ctx context.Context, req Request) Response {
	if c.cfg.EnableWarmService && c.cfg.ServiceURL != "" {
		resp, err := c.computeWarm(ctx, req)
		if err == nil {
			return resp
		}
		c.logger.Warn().Err(err).Str("source", "warm_service").Msg("kernel call degraded")
	}

	if c.fallback != nil {
		resp, err := c.fallback.Compute(ctx, req)
		if err == nil {
			resp.Source = "python_fallback"
			return resp
		}
		c.logger.Warn().Err(err).Str("source", "python_fallback").Msg("kernel fallback degraded")
	}

	return c.safeDefaults(req)
}

func (c *Client) safeDefaults(req Request) Response {
	resp := Response{
		Summary: Summary{
			NewBeta:              req.BetaOld,
			NextPuzzleDifficulty: difficultyFromBeta(req.BetaOld),
			StudentSkill:         req.Theta,
			ActualSuccessRate:    0,
			ActualFailRate:       0,
		},
		IRT: IRTResult{
			AdjustedTheta: req.Theta,
			Probability:   0.5,
		},
		DDA: DDAResult{
			BetaNew: req.BetaOld,
		},
		Source: "defaults",
	}
	c.logger.Info().Str("source", "defaults").Str("user_id", req.UserID).Msg("kernel fell back to safe defaults")
	return resp
}

func difficultyFromBeta(beta float64) string {
	switch {
	case beta < 0.3:
		return "Easy"
	case beta < 0.6:
		return "Medium"
	default:
		return "Hard"
	}
}

// computeWarm issues the HTTP call, deduped via singleflight for identical
// in-flight (user, level) requests, gated by the circuit breaker, retried
// with a linear delay (attempt × 150ms) on retryable failures.
func (c *Client) computeWarm(ctx context.Context, req Request) (Response, error) {
	if !c.breaker.Allow() {
		return Response{}, ErrCircuitOpen
	}

	key := req.UserID + ":" + req.LevelID
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.callWithRetry(ctx, req)
	})
	if err != nil {
		c.breaker.RecordFailure()
		return Response{}, err
	}
	c.breaker.RecordSuccess()
	resp := v.(Response)
	resp.Source = "warm_service"
	return resp, nil
}

func (c *Client) callWithRetry(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(0), // attempt-scaled delay computed manually below
			uint64(c.cfg.MaxRetries),
		),
		ctx,
	)

	var resp Response
	attempt := 0
	op := func() error {
		if attempt > 0 {
			delay := time.Duration(attempt) * 150 * time.Millisecond
			timer := c.clock.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return backoff.Permanent(ctx.Err())
			}
		}
		attempt++

		r, err := c.doCall(ctx, req)
		if err != nil {
			var nr *nonRetryableError
			if errors.As(err, &nr) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		return Response{}, err
	}
	return resp, nil
}

type nonRetryableError struct{ err error }

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

type wireRequest struct {
	UserID                string   `json:"user_id"`
	LevelID               string   `json:"level_id"`
	Theta                 float64  `json:"theta"`
	BetaOld               float64  `json:"beta_old"`
	RankName              string   `json:"rank_name"`
	CompletedAchievements []string `json:"completed_achievements"`
	SuccessCount          int      `json:"success_count"`
	FailCount             int      `json:"fail_count"`
	TargetPerformance     float64  `json:"target_performance"`
	AdjustmentRate        float64  `json:"adjustment_rate"`
	AutoSync              bool     `json:"auto_sync"`
}

type wireResponse struct {
	Summary struct {
		NewBeta              float64 `json:"New_Beta"`
		NextPuzzleDifficulty string  `json:"Next_Puzzle_Difficulty"`
		StudentSkill         float64 `json:"Student_Skill"`
		ActualSuccessRate    float64 `json:"Actual_Success_Rate"`
		ActualFailRate       float64 `json:"Actual_Fail_Rate"`
	} `json:"summary"`
	IRTResult struct {
		AdjustedTheta   float64 `json:"adjusted_theta"`
		Probability     float64 `json:"probability"`
		ConfidenceIndex float64 `json:"confidence_index"`
	} `json:"IRT_Result"`
	DDAResult struct {
		BetaNew           float64 `json:"beta_new"`
		AdjustmentApplied bool    `json:"adjustment_applied"`
		Momentum          float64 `json:"momentum"`
		BehaviorWeight    float64 `json:"behavior_weight"`
	} `json:"DDA_Result"`
}

func (c *Client) doCall(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(wireRequest{
		UserID:                req.UserID,
		LevelID:               req.LevelID,
		Theta:                 req.Theta,
		BetaOld:               req.BetaOld,
		RankName:              req.RankName,
		CompletedAchievements: req.CompletedAchievements,
		SuccessCount:          req.SuccessCount,
		FailCount:             req.FailCount,
		TargetPerformance:     req.TargetPerformance,
		AdjustmentRate:        req.AdjustmentRate,
		AutoSync:              req.AutoSync,
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal kernel request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServiceURL, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build kernel request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, err // network/timeout errors are retryable
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 && httpResp.StatusCode < 500 {
		return Response{}, &nonRetryableError{fmt.Errorf("kernel rejected request: status %d", httpResp.StatusCode)}
	}
	if httpResp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("kernel service error: status %d", httpResp.StatusCode)
	}

	limited := io.LimitReader(httpResp.Body, 1<<20)
	var wire wireResponse
	if err := json.NewDecoder(limited).Decode(&wire); err != nil {
		return Response{}, fmt.Errorf("decode kernel response: %w", err)
	}

	return Response{
		Summary: Summary{
			NewBeta:              wire.Summary.NewBeta,
			NextPuzzleDifficulty: wire.Summary.NextPuzzleDifficulty,
			StudentSkill:         wire.Summary.StudentSkill,
			ActualSuccessRate:    wire.Summary.ActualSuccessRate,
			ActualFailRate:       wire.Summary.ActualFailRate,
		},
		IRT: IRTResult{
			AdjustedTheta:   wire.IRTResult.AdjustedTheta,
			Probability:     wire.IRTResult.Probability,
			ConfidenceIndex: wire.IRTResult.ConfidenceIndex,
		},
		DDA: DDAResult{
			BetaNew:           wire.DDAResult.BetaNew,
			AdjustmentApplied: wire.DDAResult.AdjustmentApplied,
			Momentum:          wire.DDAResult.Momentum,
			BehaviorWeight:    wire.DDAResult.BehaviorWeight,
		},
	}, nil
}
