package attempt

import (
	"testing"

	"github.com/codequest-platform/arena-server/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestValidateRejectsMissingLevel(t *testing.T) {
	err := validate(Payload{AttemptTime: 10})
	assert.Error(t, err)
}

func TestValidateRejectsOutOfRangeAttemptTime(t *testing.T) {
	assert.Error(t, validate(Payload{LevelID: "l1", AttemptTime: 3601}))
	assert.Error(t, validate(Payload{LevelID: "l1", AttemptTime: -1}))
	assert.NoError(t, validate(Payload{LevelID: "l1", AttemptTime: 3600}))
}

func TestPriorityOrderMatchesTargetFirst(t *testing.T) {
	assert.Equal(t, []model.Difficulty{model.Easy, model.Medium, model.Hard}, priorityOrder(model.Easy))
	assert.Equal(t, []model.Difficulty{model.Hard, model.Medium, model.Easy}, priorityOrder(model.Hard))
	assert.Equal(t, []model.Difficulty{model.Medium, model.Easy, model.Hard}, priorityOrder(model.Medium))
}

func TestBestAndAverage(t *testing.T) {
	best, avg := bestAndAverage([]int{40, 20, 30})
	assert.Equal(t, 20, best)
	assert.InDelta(t, 30.0, avg, 1e-9)
}

func TestBetaChangedIgnoresFloatingNoise(t *testing.T) {
	assert.False(t, betaChanged(0.45, 0.45+1e-12))
	assert.True(t, betaChanged(0.45, 0.5))
}

func TestDefaultBetaForBand(t *testing.T) {
	assert.Equal(t, 0.2, defaultBetaFor(model.Easy))
	assert.Equal(t, 0.45, defaultBetaFor(model.Medium))
	assert.Equal(t, 0.75, defaultBetaFor(model.Hard))
}
