package progression

import "strconv"

// Achievement describes one catalog entry: a unique type identifier and the
// exp it rewards. CheckAchievements decides which entries just unlocked.
type Achievement struct {
	Type   string
	Reward int
}

var levelMilestones = []int{5, 10, 15, 25, 35, 50, 75, 100, 200, 250, 500, 1000}
var streakMilestones = []int{3, 5, 7, 10, 15, 20, 30}
var rankExpMilestones = []int{1050, 1920, 2960, 4140, 5440, 6860}

// CheckInput carries the statistics snapshot needed to evaluate the
// achievement catalog (§4.A check_achievements).
type CheckInput struct {
	Success             bool
	TotalSuccessCount   int // after this attempt's counters are applied
	CurrentStreak       int // after UpdateStreaks
	Exp                 int // after the exp gain for this event, before achievement bonuses
	AlreadyUnlocked     map[string]bool
}

// CheckAchievements returns every achievement newly unlocked by this event.
// Award is idempotent: a type already present in AlreadyUnlocked is skipped.
func CheckAchievements(in CheckInput) []Achievement {
	var unlocked []Achievement

	unlock := func(typ string, reward int) {
		if in.AlreadyUnlocked[typ] {
			return
		}
		unlocked = append(unlocked, Achievement{Type: typ, Reward: reward})
	}

	if in.Success && in.TotalSuccessCount == 1 {
		unlock("first_puzzle", 25)
	}

	for _, n := range levelMilestones {
		if in.TotalSuccessCount == n {
			unlock(levelAchievementType(n), levelAchievementReward(n))
		}
	}

	for _, n := range streakMilestones {
		if in.CurrentStreak == n {
			unlock(streakAchievementType(n), streakAchievementReward(n))
		}
	}

	for _, threshold := range rankExpMilestones {
		if in.Exp >= threshold {
			unlock(rankAchievementType(threshold), rankAchievementReward(threshold))
		}
	}

	return unlocked
}

func levelAchievementType(n int) string {
	return "levels_" + strconv.Itoa(n)
}

func streakAchievementType(n int) string {
	return "streak_" + strconv.Itoa(n)
}

func rankAchievementType(threshold int) string {
	return "rank_" + strconv.Itoa(threshold)
}

// levelAchievementReward scales with the milestone so later, harder
// milestones pay out more.
func levelAchievementReward(n int) int {
	switch {
	case n <= 10:
		return 20
	case n <= 50:
		return 50
	case n <= 250:
		return 100
	default:
		return 200
	}
}

func streakAchievementReward(n int) int {
	return 10 + n*2
}

func rankAchievementReward(threshold int) int {
	return threshold / 10
}
