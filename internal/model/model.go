// Package model holds the shared domain entities of §3: the content
// hierarchy, per-student progress, ledger state, and match records that
// every component operates on.
package model

import "time"

// Difficulty is a level's or lesson's difficulty band.
type Difficulty string

const (
	Easy   Difficulty = "Easy"
	Medium Difficulty = "Medium"
	Hard   Difficulty = "Hard"
)

// Band is a lesson's rule-set classification.
type Band string

const (
	BandBeginner     Band = "Beginner"
	BandIntermediate Band = "Intermediate"
	BandAdvanced     Band = "Advanced"
)

// UserType distinguishes students from admins.
type UserType string

const (
	UserStudent UserType = "student"
	UserAdmin   UserType = "admin"
)

// User is a platform account.
type User struct {
	ID          string
	LoginName   string
	DisplayName string
	Type        UserType
	Active      bool
	SchoolID    string
}

// Level is one puzzle variant within a lesson.
type Level struct {
	ID            string
	LessonID      string
	LevelNumber   int
	Difficulty    Difficulty
	Beta          float64
	Points        int
	InitialCode   string
	ExpectedOut   string
}

// Lesson groups levels under a band.
type Lesson struct {
	ID    string
	Band  Band
}

// StudentProgress is per (user, level) adaptive state (§3).
type StudentProgress struct {
	UserID              string
	LevelID             string
	Theta               float64
	PrevTheta           float64
	Beta                float64
	PrevBeta            float64
	SuccessCount        int
	FailCount           int
	TotalAttempts       int
	BestCompletionTime  *int
	AvgCompletionTime   *float64
	PreferredDifficulty map[string]Difficulty // lessonID -> difficulty
}

// Clamp enforces the theta/beta/counter invariants of §3.
func (p *StudentProgress) Clamp() {
	if p.Theta < -3 {
		p.Theta = -3
	}
	if p.Theta > 3 {
		p.Theta = 3
	}
	if p.Beta < 0.1 {
		p.Beta = 0.1
	}
	if p.Beta > 1.0 {
		p.Beta = 1.0
	}
	if p.TotalAttempts < p.SuccessCount+p.FailCount {
		p.TotalAttempts = p.SuccessCount + p.FailCount
	}
}

// PuzzleAttempt is an append-only record of one try (§3).
type PuzzleAttempt struct {
	ID              string
	UserID          string
	LevelID         string
	LessonID        string
	Success         bool
	AttemptTime     int
	ThetaAtAttempt  float64
	BetaAtAttempt   float64
	DifficultyLabel Difficulty
	IdempotencyKey  string
	CreatedAt       time.Time
}

// StudentStatistics is the per-user progression ledger (§3, §4.A).
type StudentStatistics struct {
	UserID              string
	Exp                 int
	RankName            string
	RankIndex           int
	CurrentStreak       int
	LongestStreak       int
	TotalSuccessCount   int
	TotalFailCount      int
	CompletedAchievements []string
}

// NormalizedExp returns exp/10000 as specified in §3.
func (s *StudentStatistics) NormalizedExp() float64 {
	return float64(s.Exp) / 10000.0
}

// MatchStatus is a MultiplayerMatch lifecycle state (§4.7/§4.G).
type MatchStatus string

const (
	MatchPending   MatchStatus = "pending"
	MatchActive    MatchStatus = "active"
	MatchCompleted MatchStatus = "completed"
	MatchCancelled MatchStatus = "cancelled"
)

// MatchType distinguishes ranked matchmaking from direct challenges.
type MatchType string

const (
	MatchRanked    MatchType = "ranked"
	MatchChallenge MatchType = "challenge"
)

// MultiplayerMatch is a battle room's persisted record (§3).
type MultiplayerMatch struct {
	ID              string
	Status          MatchStatus
	MatchType       MatchType
	ClusterID       string
	MatchScore      float64
	LevelID         string
	Language        string
	MatchSize       int
	LastClusteredAt *time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	DurationSeconds *int
	CreatedAt       time.Time
	Wager           int
}

// MatchParticipant is a per (match, user) row (§3).
type MatchParticipant struct {
	MatchID             string
	UserID              string
	IsWinner            *bool // nil = undecided
	CompletedCode       bool
	CodeSubmitted       string
	ExpGained           int
	ExpLost             int
	CompletionTime      *int
	RankAtJoin          string
	SuccessCountAtJoin  int
	FailCountAtJoin     int
}

// BattleChallengeStatus is a BattleChallenge lifecycle state.
type BattleChallengeStatus string

const (
	ChallengePending  BattleChallengeStatus = "pending"
	ChallengeAccepted BattleChallengeStatus = "accepted"
	ChallengeDeclined BattleChallengeStatus = "declined"
	ChallengeExpired  BattleChallengeStatus = "expired"
)

// BattleChallenge is a direct-invite record (§3).
type BattleChallenge struct {
	ID          string
	FromUserID  string
	ToUserID    string
	LevelID     string
	Status      BattleChallengeStatus
	ExpWager    int
	MatchID     string
	CreatedAt   time.Time
}

// BoardType is a leaderboard variant (§3, §4.H).
type BoardType string

const (
	BoardOverall       BoardType = "overall"
	BoardMultiplayer   BoardType = "multiplayer"
	BoardAchievements  BoardType = "achievements"
	BoardStreaks       BoardType = "streaks"
)

// LeaderboardEntry is one cached row (§3).
type LeaderboardEntry struct {
	BoardType    BoardType
	RankPosition int
	UserID       string
	DisplayName  string
	Value        float64 // EXP, multiplayer wins, achievement count, or streak, per board
}

// DifficultyFromBeta maps beta to a difficulty band (§4.C).
func DifficultyFromBeta(beta float64) Difficulty {
	switch {
	case beta < 0.3:
		return Easy
	case beta < 0.6:
		return Medium
	default:
		return Hard
	}
}
