package adaptive

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, url string, fb Fallback) (*Client, *quartz.Mock) {
	t.Helper()
	mock := quartz.NewMock(t)
	cfg := DefaultConfig()
	cfg.ServiceURL = url
	cfg.Timeout = 500 * time.Millisecond
	cfg.MaxRetries = 2
	cfg.CircuitFails = 3
	cfg.CircuitResetPeriod = 30 * time.Second
	return New(cfg, fb, mock, zerolog.Nop()), mock
}

func TestComputeUsesWarmServiceOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"summary":{"New_Beta":0.42,"Next_Puzzle_Difficulty":"Medium","Student_Skill":1.1}}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, nil)
	resp := c.Compute(context.Background(), Request{UserID: "u1", LevelID: "l1", BetaOld: 0.3})

	assert.Equal(t, "warm_service", resp.Source)
	assert.InDelta(t, 0.42, resp.Summary.NewBeta, 1e-9)
}

func TestComputeFallsBackToPythonFallbackOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fb := &stubFallback{resp: Response{Summary: Summary{NewBeta: 0.77}}}
	c, mock := newTestClient(t, srv.URL, fb)

	done := make(chan Response, 1)
	go func() {
		done <- c.Compute(context.Background(), Request{UserID: "u1", LevelID: "l1"})
	}()

	// two retries at 150ms and 300ms
	mock.Advance(150 * time.Millisecond).MustWait(context.Background())
	mock.Advance(150 * time.Millisecond).MustWait(context.Background())

	resp := <-done
	assert.Equal(t, "python_fallback", resp.Source)
	assert.InDelta(t, 0.77, resp.Summary.NewBeta, 1e-9)
	assert.Equal(t, int32(1), fb.calls.Load())
}

func TestComputeFallsBackToDefaultsWhenEverythingFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fb := &stubFallback{err: errors.New("subprocess unavailable")}
	c, mock := newTestClient(t, srv.URL, fb)

	done := make(chan Response, 1)
	go func() {
		done <- c.Compute(context.Background(), Request{UserID: "u1", LevelID: "l1", Theta: 1.5, BetaOld: 0.4})
	}()

	mock.Advance(150 * time.Millisecond).MustWait(context.Background())
	mock.Advance(150 * time.Millisecond).MustWait(context.Background())

	resp := <-done
	assert.Equal(t, "defaults", resp.Source)
	assert.InDelta(t, 0.4, resp.Summary.NewBeta, 1e-9)
	assert.InDelta(t, 1.5, resp.IRT.AdjustedTheta, 1e-9)
}

func TestNonRetryable4xxSkipsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	fb := &stubFallback{resp: Response{Summary: Summary{NewBeta: 0.5}}}
	c, _ := newTestClient(t, srv.URL, fb)

	resp := c.Compute(context.Background(), Request{UserID: "u1", LevelID: "l1"})

	assert.Equal(t, "python_fallback", resp.Source)
	assert.Equal(t, int32(1), calls)
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	mock := quartz.NewMock(t)
	cfg := DefaultConfig()
	cfg.ServiceURL = srv.URL
	cfg.Timeout = 200 * time.Millisecond
	cfg.MaxRetries = 0
	cfg.CircuitFails = 3
	cfg.CircuitResetPeriod = 30 * time.Second
	c := New(cfg, nil, mock, zerolog.Nop())

	for i := 0; i < 3; i++ {
		c.Compute(context.Background(), Request{UserID: "u1", LevelID: "l1"})
	}
	before := atomic.LoadInt32(&calls)

	c.Compute(context.Background(), Request{UserID: "u1", LevelID: "l1"})
	assert.Equal(t, before, atomic.LoadInt32(&calls), "breaker should short-circuit without hitting the server")

	mock.Advance(30 * time.Second).MustWait(context.Background())
	c.Compute(context.Background(), Request{UserID: "u1", LevelID: "l1"})
	assert.Equal(t, before+1, atomic.LoadInt32(&calls), "breaker should allow one probe call once half-open")
}

func TestSafeDefaultsDerivesDifficultyFromBeta(t *testing.T) {
	c, _ := newTestClient(t, "", nil)
	resp := c.safeDefaults(Request{BetaOld: 0.8})
	require.Equal(t, "Hard", resp.Summary.NextPuzzleDifficulty)
}

type stubFallback struct {
	resp  Response
	err   error
	calls atomic.Int32
}

func (f *stubFallback) Compute(ctx context.Context, req Request) (Response, error) {
	f.calls.Add(1)
	if f.err != nil {
		return Response{}, f.err
	}
	return f.resp, nil
}
