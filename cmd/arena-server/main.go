package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/codequest-platform/arena-server/internal/adaptive"
	"github.com/codequest-platform/arena-server/internal/attempt"
	"github.com/codequest-platform/arena-server/internal/auth"
	"github.com/codequest-platform/arena-server/internal/battle"
	"github.com/codequest-platform/arena-server/internal/config"
	"github.com/codequest-platform/arena-server/internal/httpapi"
	"github.com/codequest-platform/arena-server/internal/leaderboard"
	"github.com/codequest-platform/arena-server/internal/matchmaking"
	"github.com/codequest-platform/arena-server/internal/notify"
	"github.com/codequest-platform/arena-server/internal/storage/postgres"
	"github.com/codequest-platform/arena-server/internal/summarycache"
)

const kickUnreadyInterval = 30 * time.Second

type CLI struct {
	ConfigPath string `kong:"name='config',help='Path to an HCL config file'"`
	Debug      bool   `kong:"help='Enable debug logging'"`
	DSN        string `kong:"help='Postgres DSN (overrides config/env)'"`
	ClusterURL string `kong:"name='cluster-url',help='Remote matchmaking cluster service URL'"`
	AuthURL    string `kong:"name='auth-url',help='External bearer-token validation endpoint; empty disables auth (dev mode)'"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("arena-server"),
		kong.Description("Gamified coding-practice platform server"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)

	cfg, err := config.Load(cli.ConfigPath)
	kctx.FatalIfErrorf(err)
	if cli.DSN != "" {
		cfg.DSN = cli.DSN
	}

	level := zerolog.InfoLevel
	if cli.Debug {
		level = zerolog.DebugLevel
	} else if parsed, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		level = parsed
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer db.Close()

	if err := postgres.RunMigrations(ctx, db); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	clock := quartz.NewReal()

	progress := postgres.NewProgressRepo()
	attempts := postgres.NewAttemptRepo()
	stats := postgres.NewStatisticsRepo()
	sessions := postgres.NewSessionRepo()
	levels := postgres.NewLevelRepo()
	matches := postgres.NewMatchRepo()
	challenges := postgres.NewChallengeRepo()
	leaderboardRepo := postgres.NewLeaderboardRepo()

	kernel := adaptive.New(cfg.Algo, nil, clock, logger)

	summaries := summarycache.New(cfg.SummaryTTL, cfg.SummaryMaxEntries,
		postgres.NewSummaryLoader(db.Pool, attempts), clock)

	attemptProcessor := attempt.New(db.Pool, kernel, cfg.Thresholds, summaries, logger)

	hub := notify.New(clock, logger)
	go hub.Run(ctx)

	battleCoordinator := battle.New(db.Pool, matches, stats, levels, notify.BattleNotifier{Hub: hub}, logger)

	var cluster matchmaking.ClusterClient
	if cli.ClusterURL != "" {
		cluster = matchmaking.NewHTTPClusterClient(cli.ClusterURL, cfg.Algo.Timeout)
	}
	matcher := matchmaking.NewMatcher(db.Pool, matches, sessions, stats, cluster,
		notify.MatchmakingNotifier{Hub: hub}, logger)
	queue := matchmaking.New(2*time.Second, clock, matcher, logger)
	go queue.Run(ctx)

	leaderboardCache := leaderboard.New(leaderboard.NewPostgresStore(db.Pool, leaderboardRepo),
		cfg.LeaderboardTTL, cfg.LeaderboardLimit, clock, logger)

	go runKickUnreadySweep(ctx, battleCoordinator, logger)

	authenticator := buildAuthenticator(cli.AuthURL)

	server := httpapi.New(authenticator, attemptProcessor, matcher, battleCoordinator,
		leaderboardCache, hub, progress, levels, stats, challenges, matches, db, logger)

	addr := cfg.Address + ":" + strconv.Itoa(cfg.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Routes(),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("arena-server starting")
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited with error")
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
		hub.Stop()
		logger.Info().Msg("shutdown complete")
	}
}

// runKickUnreadySweep runs the §4.G stale-pending-match sweep on a fixed
// interval until ctx is cancelled.
func runKickUnreadySweep(ctx context.Context, coordinator *battle.Coordinator, logger zerolog.Logger) {
	ticker := time.NewTicker(kickUnreadyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			coordinator.SweepKickUnready(ctx)
		}
	}
}

// buildAuthenticator adapts the bearer-token auth.Validator to the HTTP
// surface's Authenticator, resolving the user ID from OwnerID and falling
// back to UserID. An empty authURL runs a
// NoopValidator (dev mode): every request resolves to an empty user ID,
// since full session/JWT issuance is out of scope here.
func buildAuthenticator(authURL string) httpapi.Authenticator {
	var validator auth.Validator
	if authURL == "" {
		validator = auth.NewNoopValidator()
	} else {
		validator = auth.NewHTTPValidator(authURL)
	}

	return func(r *http.Request) (string, error) {
		token := bearerToken(r.Header.Get("Authorization"))
		identity, err := validator.Validate(r.Context(), token)
		if err != nil {
			return "", err
		}
		if identity == nil {
			return "", nil
		}
		if identity.OwnerID != "" {
			return identity.OwnerID, nil
		}
		return identity.UserID, nil
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimPrefix(header, prefix)
	}
	return header
}

