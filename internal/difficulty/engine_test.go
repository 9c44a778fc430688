package difficulty

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDifficultyFromBeta(t *testing.T) {
	tests := []struct {
		beta float64
		want string
	}{
		{0.1, "Easy"},
		{0.29, "Easy"},
		{0.3, "Medium"},
		{0.59, "Medium"},
		{0.6, "Hard"},
		{1.0, "Hard"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DifficultyFromBeta(tt.beta))
	}
}

func TestEvaluatePureKernelModeBypassesRules(t *testing.T) {
	in := Input{
		AlgorithmBeta:  0.9,
		PureKernelMode: true,
		LessonBand:     "Beginner",
	}
	out := Evaluate(in, DefaultThresholds())
	assert.Equal(t, 0.9, out.Beta)
	assert.Equal(t, "Hard", out.Difficulty)
	require.Len(t, out.Audit, 1)
	assert.Equal(t, "pure_kernel_bypass", out.Audit[0].Rule)
}

func TestEvaluateRulesDisabledReturnsKernelBeta(t *testing.T) {
	in := Input{AlgorithmBeta: 0.5, EnableRules: false, LessonBand: "Beginner"}
	out := Evaluate(in, DefaultThresholds())
	assert.Equal(t, 0.5, out.Beta)
	assert.Equal(t, "Medium", out.Difficulty)
}

func qualifyingEasyRun(n int) []AttemptRecord {
	var out []AttemptRecord
	for i := 1; i <= n; i++ {
		out = append(out, AttemptRecord{LevelNumber: i, Success: true, Difficulty: "Easy", AttemptTime: 30, FailCountAtLevel: 1})
	}
	return out
}

func TestBeginnerPromotesToMediumAfterFiveConsecutiveEasySuccesses(t *testing.T) {
	in := Input{
		EnableRules:        true,
		LessonBand:         "Beginner",
		CurrentLevelNumber: 5,
		TotalAttempts:      5,
		Summary:            qualifyingEasyRun(5),
		AlgorithmBeta:      0.2,
	}
	out := Evaluate(in, DefaultThresholds())
	assert.Equal(t, "Medium", out.Difficulty)
	found := false
	for _, a := range out.Audit {
		if a.Rule == "beginner_promote_medium" && a.Applied {
			found = true
		}
	}
	assert.True(t, found)
}

func TestBeginnerInsufficientHistoryGuardBlocksPromotion(t *testing.T) {
	in := Input{
		EnableRules:         true,
		LessonBand:          "Beginner",
		CurrentLevelNumber:  5,
		TotalAttempts:       2, // below MinAttemptsForRate
		Summary:             qualifyingEasyRun(8),
		AlgorithmBeta:       0.2,
	}
	out := Evaluate(in, DefaultThresholds())
	assert.Equal(t, "Easy", out.Difficulty)
}

func TestBeginnerPromotesToHardAfterEightConsecutiveEasySuccesses(t *testing.T) {
	in := Input{
		EnableRules:        true,
		LessonBand:         "Beginner",
		CurrentLevelNumber: 8,
		TotalAttempts:      8,
		Summary:            qualifyingEasyRun(8),
		AlgorithmBeta:      0.2,
	}
	out := Evaluate(in, DefaultThresholds())
	assert.Equal(t, "Hard", out.Difficulty)
	assert.Equal(t, "beginner_promote_hard", out.Audit[0].Rule)
	assert.True(t, out.Audit[0].Applied)
}

func TestBeginnerRequiresCurrentLevelNumberGateForMediumPromotion(t *testing.T) {
	in := Input{
		EnableRules:        true,
		LessonBand:         "Beginner",
		CurrentLevelNumber: 3, // below the >=5 gate
		TotalAttempts:      5,
		Summary:            qualifyingEasyRun(5),
		AlgorithmBeta:      0.2,
	}
	out := Evaluate(in, DefaultThresholds())
	assert.Equal(t, "Easy", out.Difficulty)
}

func TestBeginnerReliefToEasyOnPoorMediumPerformance(t *testing.T) {
	in := Input{
		EnableRules:     true,
		LessonBand:      "Beginner",
		Success:         true,
		LevelDifficulty: "Medium",
		AttemptTime:     90,
		NewFailCount:    1,
		AlgorithmBeta:   0.45,
	}
	out := Evaluate(in, DefaultThresholds())
	assert.Equal(t, "Easy", out.Difficulty)
}

func TestIntermediatePromotesToHardAfterFiveConsecutiveMediumSuccesses(t *testing.T) {
	var summary []AttemptRecord
	for i := 1; i <= 5; i++ {
		summary = append(summary, AttemptRecord{LevelNumber: i, Success: true, Difficulty: "Medium", AttemptTime: 20, FailCountAtLevel: 0})
	}
	in := Input{EnableRules: true, LessonBand: "Intermediate", Summary: summary, AlgorithmBeta: 0.5}
	out := Evaluate(in, DefaultThresholds())
	assert.Equal(t, "Hard", out.Difficulty)
}

func TestIntermediatePerfectRunNeverDecreasesBeta(t *testing.T) {
	in := Input{
		EnableRules:     true,
		LessonBand:      "Intermediate",
		Success:         true,
		NewFailCount:    0,
		CurrentBeta:     0.5,
		AlgorithmBeta:   0.35, // kernel suggests a drop
		LevelDifficulty: "Medium",
	}
	out := Evaluate(in, DefaultThresholds())
	assert.GreaterOrEqual(t, out.Beta, 0.5)
}

func TestIntermediateHeavyStruggleRelievesDownward(t *testing.T) {
	in := Input{
		EnableRules:     true,
		LessonBand:      "Intermediate",
		Success:         true,
		NewFailCount:    7,
		LevelDifficulty: "Medium",
		AlgorithmBeta:   0.5,
	}
	out := Evaluate(in, DefaultThresholds())
	assert.Equal(t, "Easy", out.Difficulty)
}

func TestAdvancedStrugglingRunRelievesToMedium(t *testing.T) {
	var summary []AttemptRecord
	for i := 1; i <= 5; i++ {
		summary = append(summary, AttemptRecord{LevelNumber: i, Success: false, Difficulty: "Hard", AttemptTime: 90, FailCountAtLevel: 9})
	}
	in := Input{EnableRules: true, LessonBand: "Advanced", Summary: summary, AlgorithmBeta: 0.9}
	out := Evaluate(in, DefaultThresholds())
	assert.Equal(t, "Medium", out.Difficulty)
}

func TestAdvancedStrongPerformancePromotesToHard(t *testing.T) {
	in := Input{
		EnableRules:     true,
		LessonBand:      "Advanced",
		Success:         true,
		LevelDifficulty: "Medium",
		AttemptTime:     10,
		NewFailCount:    0,
		AlgorithmBeta:   0.5,
	}
	out := Evaluate(in, DefaultThresholds())
	assert.Equal(t, "Hard", out.Difficulty)
}

func TestNoRuleMatchesReturnsClampedKernelBeta(t *testing.T) {
	in := Input{EnableRules: true, LessonBand: "Intermediate", AlgorithmBeta: 1.5}
	out := Evaluate(in, DefaultThresholds())
	assert.Equal(t, 1.0, out.Beta)
}

func TestConsecutiveQualifyingRunBreaksOnGap(t *testing.T) {
	summary := []AttemptRecord{
		{LevelNumber: 1, Success: true, Difficulty: "Easy", AttemptTime: 10, FailCountAtLevel: 0},
		{LevelNumber: 3, Success: true, Difficulty: "Easy", AttemptTime: 10, FailCountAtLevel: 0},
	}
	assert.Equal(t, 1, consecutiveQualifyingRun(summary, "Easy", DefaultThresholds()))
}
