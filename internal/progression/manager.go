package progression

import "github.com/codequest-platform/arena-server/internal/model"

// Event is one progression-affecting occurrence: a puzzle attempt or a
// battle outcome. Both the attempt processor (§4.E step 13) and the battle
// coordinator (§4.G step 6) funnel through ApplyEvent so the ledger
// invariants (§8 invariant 1) hold regardless of the caller.
type Event struct {
	Success    bool
	Difficulty string
	LessonID   string // non-empty => flat lesson exp (§4.A)
	ExpDelta   int    // used instead of the formula for battle wins/losses; 0 means "compute from Success/Difficulty/LessonID"
}

// Result is the set of changes ApplyEvent made to a StudentStatistics row.
type Result struct {
	ExpGained       int // can be negative for battle losses
	UnlockedAwards  []Achievement
	Stats           model.StudentStatistics
}

// ApplyEvent mutates a copy of stats according to §4.A's algorithm:
// add exp, recompute rank, update streaks, bump success/fail counters, run
// achievement checks, and fold any unlocked reward back into exp with one
// more rank recompute. The caller commits the returned Stats inside its own
// transaction (§4.E step 13, §4.G step 6).
func ApplyEvent(stats model.StudentStatistics, ev Event) Result {
	gain := ev.ExpDelta
	isPuzzleEvent := ev.Difficulty != "" || ev.LessonID != ""
	if gain == 0 && isPuzzleEvent {
		gain = CalculateExpGain(ev.Success, ev.Difficulty, stats.CurrentStreak, ev.LessonID)
	}

	stats.Exp = ClampExp(stats.Exp + gain)

	// Streaks only move on puzzle-style events; battle outcomes carry their
	// own win/loss semantics tracked via MatchParticipant, not the puzzle
	// streak.
	if isPuzzleEvent {
		stats.CurrentStreak, stats.LongestStreak = UpdateStreaks(stats.CurrentStreak, stats.LongestStreak, ev.Success)
		if ev.Success {
			stats.TotalSuccessCount++
		} else {
			stats.TotalFailCount++
		}
	}

	rank := GetRankFromExp(stats.Exp)
	stats.RankName = rank.Name
	stats.RankIndex = rank.Index

	already := make(map[string]bool, len(stats.CompletedAchievements))
	for _, a := range stats.CompletedAchievements {
		already[a] = true
	}

	unlocked := CheckAchievements(CheckInput{
		Success:           ev.Success,
		TotalSuccessCount: stats.TotalSuccessCount,
		CurrentStreak:     stats.CurrentStreak,
		Exp:               stats.Exp,
		AlreadyUnlocked:   already,
	})

	bonus := 0
	for _, a := range unlocked {
		stats.CompletedAchievements = append(stats.CompletedAchievements, a.Type)
		bonus += a.Reward
	}
	if bonus != 0 {
		stats.Exp = ClampExp(stats.Exp + bonus)
		rank = GetRankFromExp(stats.Exp)
		stats.RankName = rank.Name
		stats.RankIndex = rank.Index
	}

	return Result{ExpGained: gain + bonus, UnlockedAwards: unlocked, Stats: stats}
}

// DebitExp subtracts an exp cost (matchmaking queue entry fee, hint cost,
// battle loss) and recomputes rank, never going below the clamp floor.
func DebitExp(stats model.StudentStatistics, amount int) model.StudentStatistics {
	stats.Exp = ClampExp(stats.Exp - amount)
	rank := GetRankFromExp(stats.Exp)
	stats.RankName = rank.Name
	stats.RankIndex = rank.Index
	return stats
}
