package battle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codequest-platform/arena-server/internal/model"
)

func TestWinExpRankedScalesWithParticipants(t *testing.T) {
	m := model.MultiplayerMatch{MatchType: model.MatchRanked}
	assert.Equal(t, 200, winExp(m, 1))
	assert.Equal(t, 300, winExp(m, 3))
	assert.Equal(t, 400, winExp(m, 5))
}

func TestWinExpChallengeDoublesWager(t *testing.T) {
	m := model.MultiplayerMatch{MatchType: model.MatchChallenge, Wager: 200}
	assert.Equal(t, 400, winExp(m, 2))
}

func TestWinExpChallengeDefaultsWagerTo100(t *testing.T) {
	m := model.MultiplayerMatch{MatchType: model.MatchChallenge}
	assert.Equal(t, 200, winExp(m, 2))
}

func TestLoseExpRankedFlat50(t *testing.T) {
	assert.Equal(t, 50, loseExp(model.MultiplayerMatch{MatchType: model.MatchRanked}))
}

func TestLoseExpChallengeEqualsWager(t *testing.T) {
	assert.Equal(t, 200, loseExp(model.MultiplayerMatch{MatchType: model.MatchChallenge, Wager: 200}))
}

func TestValidateSolutionExactLineMatchCaseInsensitive(t *testing.T) {
	ref := "def add(a, b):\n    return a + b\n"
	sub := "# header\nDEF ADD(A, B):\n    RETURN A + B"
	assert.True(t, validateSolution(sub, ref))
}

func TestValidateSolutionRejectsLineCountMismatch(t *testing.T) {
	ref := "def add(a, b):\n    return a + b\n"
	sub := "def add(a, b):\n"
	assert.False(t, validateSolution(sub, ref))
}

func TestValidateSolutionNoReferenceAcceptsSyntacticCode(t *testing.T) {
	assert.True(t, validateSolution("def solve(): return 42", ""))
	assert.False(t, validateSolution("hi", ""))
	assert.False(t, validateSolution("short but no marker here at all", ""))
}

func TestFindParticipant(t *testing.T) {
	participants := []model.MatchParticipant{{UserID: "a"}, {UserID: "b"}}
	p, ok := findParticipant(participants, "b")
	assert.True(t, ok)
	assert.Equal(t, "b", p.UserID)

	_, ok = findParticipant(participants, "c")
	assert.False(t, ok)
}

func TestOutcomeFromParticipant(t *testing.T) {
	match := model.MultiplayerMatch{ID: "m1", Status: model.MatchCompleted}
	winner := true
	p := model.MatchParticipant{IsWinner: &winner, ExpGained: 300}
	outcome := outcomeFromParticipant(match, p)
	assert.Equal(t, "m1", outcome.MatchID)
	assert.True(t, *outcome.IsWinner)
	assert.Equal(t, 300, outcome.ExpGained)
}
