package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/codequest-platform/arena-server/internal/apperr"
	"github.com/codequest-platform/arena-server/internal/attempt"
	"github.com/codequest-platform/arena-server/internal/battle"
	"github.com/codequest-platform/arena-server/internal/leaderboard"
	"github.com/codequest-platform/arena-server/internal/matchmaking"
	"github.com/codequest-platform/arena-server/internal/notify"
	"github.com/codequest-platform/arena-server/internal/storage/postgres"
)

// defaultMatchType and defaultLanguage are used when a request omits them;
// every endpoint accepting these fields treats them as optional.
const (
	defaultMatchType = "ranked"
	defaultLanguage  = "python"
)

// Authenticator resolves the caller's user ID from an inbound request.
// Full JWT/session verification is out of scope (spec's Non-goals §1);
// production wiring supplies a real implementation here.
type Authenticator func(r *http.Request) (userID string, err error)

// Server holds every component operation a handler dispatches to.
type Server struct {
	Auth Authenticator

	Attempts     *attempt.Processor
	Matcher      *matchmaking.Matcher
	Battles      *battle.Coordinator
	Leaderboards *leaderboard.Cache
	Hub          *notify.Hub

	Progress   *postgres.ProgressRepo
	Levels     *postgres.LevelRepo
	Stats      *postgres.StatisticsRepo
	Challenges *postgres.ChallengeRepo
	Matches    *postgres.MatchRepo
	db         *postgres.DB

	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// New builds the HTTP API server. db is used by the handlers that read or
// write storage directly, through the pool or short transactions.
func New(auth Authenticator, attempts *attempt.Processor, matcher *matchmaking.Matcher, battles *battle.Coordinator,
	leaderboards *leaderboard.Cache, hub *notify.Hub, progress *postgres.ProgressRepo, levels *postgres.LevelRepo,
	stats *postgres.StatisticsRepo, challenges *postgres.ChallengeRepo, matches *postgres.MatchRepo,
	db *postgres.DB, logger zerolog.Logger) *Server {
	return &Server{
		Auth:         auth,
		Attempts:     attempts,
		Matcher:      matcher,
		Battles:      battles,
		Leaderboards: leaderboards,
		Hub:          hub,
		Progress:     progress,
		Levels:       levels,
		Stats:        stats,
		Challenges:   challenges,
		Matches:      matches,
		db:           db,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "httpapi").Logger(),
	}
}

// Routes returns the full §6 HTTP surface wired to their handlers.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/puzzle/attempt", s.authed(s.handleRecordAttempt))
	mux.HandleFunc("GET /api/puzzle/progress/{levelId}", s.authed(s.handleGetProgress))
	mux.HandleFunc("GET /api/puzzle/preferred-difficulty/{lessonId}", s.authed(s.handleGetPreferredDifficulty))
	mux.HandleFunc("POST /api/puzzle/hint", s.authed(s.handleHint))

	mux.HandleFunc("POST /api/battle/create", s.authed(s.handleBattleCreate))
	mux.HandleFunc("POST /api/battle/matchmaking/queue", s.authed(s.handleQueueJoin))
	mux.HandleFunc("POST /api/battle/{id}/submit", s.authed(s.handleBattleSubmit))
	mux.HandleFunc("POST /api/battle/{id}/exit", s.authed(s.handleBattleExit))
	mux.HandleFunc("POST /api/battle/{id}/ready", s.authed(s.handleBattleReady))
	mux.HandleFunc("POST /api/battle/{id}/kick-unready", s.authed(s.handleKickUnready))
	mux.HandleFunc("POST /api/battle/challenge", s.authed(s.handleChallengeCreate))
	mux.HandleFunc("POST /api/battle/challenges/{id}/respond", s.authed(s.handleChallengeRespond))

	mux.HandleFunc("GET /api/leaderboard", s.authed(s.handleLeaderboard))
	mux.HandleFunc("GET /api/achievements", s.authed(s.handleAchievements))

	mux.HandleFunc("GET /ws", s.authed(s.handleWebSocket))

	return mux
}

// authed resolves the caller via Auth before dispatching to h, writing a
// uniform unauthorized envelope on failure.
func (s *Server) authed(h func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.Auth(r)
		if err != nil {
			writeError(w, apperr.Wrap(apperr.Unauthorized, "authentication failed", err))
			return
		}
		h(w, r, userID)
	}
}
