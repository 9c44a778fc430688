// Package difficulty implements the §4.C difficulty rule engine: pure,
// band-specific overrides layered on top of the adaptive kernel's proposed
// beta, evaluated in a fixed rule order with a full audit trail.
package difficulty

import "sort"

// Thresholds are the shared, overridable rule constants (§4.C, §6's
// RULES_* env vars).
type Thresholds struct {
	MaxErrors          int
	TimeUnderSeconds   int
	MinAttemptsForRate int
}

// DefaultThresholds matches the spec's documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{MaxErrors: 5, TimeUnderSeconds: 60, MinAttemptsForRate: 5}
}

// AttemptRecord is one entry from the performance summary cache (§4.D),
// ordered oldest-first.
type AttemptRecord struct {
	LevelNumber      int
	Success          bool
	Difficulty       string
	AttemptTime      int
	FailCountAtLevel int
}

// Input is the rule engine's single evaluation request (§4.C).
type Input struct {
	AlgorithmBeta      float64
	CurrentBeta        float64
	LevelID            string
	CurrentLevelNumber int
	LevelDifficulty    string
	LessonBand         string // Beginner, Intermediate, Advanced
	Success            bool
	AttemptTime        int
	NewFailCount       int
	EnableRules        bool
	PureKernelMode     bool // EXPERIMENT_PURE_DDA: bypass all overrides
	Summary            []AttemptRecord
	TotalAttempts      int
}

// AuditEntry records one rule considered during evaluation, in order.
type AuditEntry struct {
	Rule    string
	Applied bool
}

// Output is the rule engine's result (§4.C).
type Output struct {
	Beta       float64
	Difficulty string
	Audit      []AuditEntry
}

// DifficultyFromBeta maps a clamped beta to its band, per §4.C.
func DifficultyFromBeta(beta float64) string {
	switch {
	case beta < 0.3:
		return "Easy"
	case beta < 0.6:
		return "Medium"
	default:
		return "Hard"
	}
}

func clampBeta(beta float64) float64 {
	if beta < 0.1 {
		return 0.1
	}
	if beta > 1.0 {
		return 1.0
	}
	return beta
}

type rule struct {
	name  string
	check func(in Input, th Thresholds) (float64, bool)
}

// Evaluate runs the band's rule set in listed order and returns the first
// match, or the kernel's own algorithm_beta if none match (§4.C tie-break).
func Evaluate(in Input, th Thresholds) Output {
	if in.PureKernelMode {
		beta := clampBeta(in.AlgorithmBeta)
		return Output{
			Beta:       beta,
			Difficulty: DifficultyFromBeta(beta),
			Audit:      []AuditEntry{{Rule: "pure_kernel_bypass", Applied: true}},
		}
	}

	if !in.EnableRules {
		beta := clampBeta(in.AlgorithmBeta)
		return Output{
			Beta:       beta,
			Difficulty: DifficultyFromBeta(beta),
			Audit:      []AuditEntry{{Rule: "rules_disabled", Applied: true}},
		}
	}

	var rules []rule
	switch in.LessonBand {
	case "Beginner":
		rules = beginnerRules()
	case "Intermediate":
		rules = intermediateRules()
	case "Advanced":
		rules = advancedRules()
	}

	audit := make([]AuditEntry, 0, len(rules)+1)
	for _, r := range rules {
		beta, ok := r.check(in, th)
		if ok {
			audit = append(audit, AuditEntry{Rule: r.name, Applied: true})
			beta = clampBeta(beta)
			return Output{Beta: beta, Difficulty: DifficultyFromBeta(beta), Audit: audit}
		}
		audit = append(audit, AuditEntry{Rule: r.name, Applied: false})
	}

	beta := clampBeta(in.AlgorithmBeta)
	return Output{Beta: beta, Difficulty: DifficultyFromBeta(beta), Audit: audit}
}

func beginnerRules() []rule {
	return []rule{
		// Checked before promote_medium: an 8-long run also satisfies
		// promote_medium's run >= 5 gate, so testing hard first is what
		// makes the hard promotion reachable at all.
		{"beginner_promote_hard", func(in Input, th Thresholds) (float64, bool) {
			if in.TotalAttempts < th.MinAttemptsForRate {
				return 0, false
			}
			if consecutiveQualifyingRun(in.Summary, "Easy", th) >= 8 {
				return 0.75, true
			}
			return 0, false
		}},
		{"beginner_promote_medium", func(in Input, th Thresholds) (float64, bool) {
			if in.TotalAttempts < th.MinAttemptsForRate {
				return 0, false
			}
			if in.CurrentLevelNumber < 5 {
				return 0, false
			}
			if consecutiveQualifyingRun(in.Summary, "Easy", th) >= 5 {
				return 0.45, true
			}
			return 0, false
		}},
		{"beginner_relief_easy", func(in Input, th Thresholds) (float64, bool) {
			if !in.Success || (in.LevelDifficulty != "Medium" && in.LevelDifficulty != "Hard") {
				return 0, false
			}
			if in.AttemptTime >= th.TimeUnderSeconds || in.NewFailCount >= th.MaxErrors {
				return 0.2, true
			}
			return 0, false
		}},
	}
}

func intermediateRules() []rule {
	return []rule{
		{"intermediate_promote_hard", func(in Input, th Thresholds) (float64, bool) {
			if consecutiveQualifyingRun(in.Summary, "Medium", th) >= 5 {
				return 0.75, true
			}
			return 0, false
		}},
		{"intermediate_easy_success_promote_medium", func(in Input, th Thresholds) (float64, bool) {
			if in.LevelDifficulty == "Easy" && in.Success &&
				in.AttemptTime < th.TimeUnderSeconds && in.NewFailCount <= th.MaxErrors {
				return 0.45, true
			}
			return 0, false
		}},
		{"intermediate_hard_relief_medium", func(in Input, th Thresholds) (float64, bool) {
			if in.LevelDifficulty == "Hard" && in.Success &&
				(in.AttemptTime >= th.TimeUnderSeconds || in.NewFailCount > th.MaxErrors) {
				return 0.45, true
			}
			return 0, false
		}},
		{"intermediate_heavy_struggle", func(in Input, th Thresholds) (float64, bool) {
			if in.Success && in.NewFailCount >= 7 {
				if in.LevelDifficulty == "Hard" {
					return 0.45, true
				}
				return 0.2, true
			}
			return 0, false
		}},
		{"intermediate_perfect_run_floor", func(in Input, th Thresholds) (float64, bool) {
			if in.Success && in.NewFailCount == 0 {
				beta := in.AlgorithmBeta
				if beta < in.CurrentBeta {
					beta = in.CurrentBeta
				}
				return beta, true
			}
			return 0, false
		}},
	}
}

func advancedRules() []rule {
	return []rule{
		// relief_easy_run (>= 8) is checked before relief_medium_run (>= 5):
		// an 8-long run also satisfies the weaker gate, and the first match wins.
		{"advanced_relief_easy_run", func(in Input, th Thresholds) (float64, bool) {
			if consecutiveStrugglingRun(in.Summary, "Hard", th) >= 8 {
				return 0.2, true
			}
			return 0, false
		}},
		{"advanced_relief_medium_run", func(in Input, th Thresholds) (float64, bool) {
			if consecutiveStrugglingRun(in.Summary, "Hard", th) >= 5 {
				return 0.45, true
			}
			return 0, false
		}},
		{"advanced_promote_hard", func(in Input, th Thresholds) (float64, bool) {
			if (in.LevelDifficulty == "Medium" || in.LevelDifficulty == "Easy") && in.Success &&
				in.AttemptTime < th.TimeUnderSeconds && in.NewFailCount <= th.MaxErrors {
				return 0.75, true
			}
			return 0, false
		}},
		{"advanced_struggle_relief", func(in Input, th Thresholds) (float64, bool) {
			if in.LevelDifficulty == "Hard" && (!in.Success || in.NewFailCount > th.MaxErrors) {
				return 0.45, true
			}
			return 0, false
		}},
	}
}

// consecutiveQualifyingRun implements §4.C's consecutive-run detection:
// keep only the latest success per level number, sort by level number, and
// count the trailing contiguous chain (levelNumber_{i+1} = levelNumber_i+1)
// of the given difficulty whose attempts all meet the performance
// thresholds.
func consecutiveQualifyingRun(records []AttemptRecord, difficulty string, th Thresholds) int {
	latest := latestSuccessByLevel(records)
	return trailingRun(latest, func(r AttemptRecord) bool {
		return r.Difficulty == difficulty &&
			r.AttemptTime < th.TimeUnderSeconds &&
			r.FailCountAtLevel <= th.MaxErrors
	})
}

// consecutiveStrugglingRun is the Advanced band's counterpart: it considers
// every attempt (not only successes) at the given difficulty and counts the
// trailing run of attempts that FAIL the performance thresholds.
func consecutiveStrugglingRun(records []AttemptRecord, difficulty string, th Thresholds) int {
	latest := latestByLevel(records)
	return trailingRun(latest, func(r AttemptRecord) bool {
		return r.Difficulty == difficulty &&
			(r.AttemptTime >= th.TimeUnderSeconds || r.FailCountAtLevel > th.MaxErrors)
	})
}

func latestSuccessByLevel(records []AttemptRecord) []AttemptRecord {
	byLevel := make(map[int]AttemptRecord)
	for _, r := range records {
		if !r.Success {
			continue
		}
		byLevel[r.LevelNumber] = r
	}
	return sortedByLevel(byLevel)
}

func latestByLevel(records []AttemptRecord) []AttemptRecord {
	byLevel := make(map[int]AttemptRecord)
	for _, r := range records {
		byLevel[r.LevelNumber] = r
	}
	return sortedByLevel(byLevel)
}

func sortedByLevel(byLevel map[int]AttemptRecord) []AttemptRecord {
	levels := make([]int, 0, len(byLevel))
	for ln := range byLevel {
		levels = append(levels, ln)
	}
	sort.Ints(levels)
	out := make([]AttemptRecord, len(levels))
	for i, ln := range levels {
		out[i] = byLevel[ln]
	}
	return out
}

// trailingRun walks the tail of a level-number-ascending slice backward,
// counting a contiguous chain of adjacent level numbers that all satisfy
// qualifies.
func trailingRun(ordered []AttemptRecord, qualifies func(AttemptRecord) bool) int {
	if len(ordered) == 0 {
		return 0
	}
	count := 0
	expected := ordered[len(ordered)-1].LevelNumber
	for i := len(ordered) - 1; i >= 0; i-- {
		rec := ordered[i]
		if rec.LevelNumber != expected {
			break
		}
		if !qualifies(rec) {
			break
		}
		count++
		expected--
	}
	return count
}
