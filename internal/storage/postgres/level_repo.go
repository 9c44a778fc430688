package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codequest-platform/arena-server/internal/model"
)

// LevelRepo is a read-only accessor over the content hierarchy, used by the
// attempt processor's next-puzzle selection (§4.E step 9).
type LevelRepo struct{}

func NewLevelRepo() *LevelRepo { return &LevelRepo{} }

// FindByID fetches a single level.
func (r *LevelRepo) FindByID(ctx context.Context, tx pgx.Tx, levelID string) (model.Level, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, lesson_id, level_number, difficulty, beta, points, initial_code, expected_output
		FROM levels WHERE id = $1`, levelID)
	var l model.Level
	err := row.Scan(&l.ID, &l.LessonID, &l.LevelNumber, &l.Difficulty, &l.Beta, &l.Points, &l.InitialCode, &l.ExpectedOut)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Level{}, false, nil
	}
	return l, err == nil, err
}

// FindByLessonLevelNumberDifficulty implements §4.E step 9's lookup:
// "(lesson, level_number, difficulty)".
func (r *LevelRepo) FindByLessonLevelNumberDifficulty(ctx context.Context, tx pgx.Tx, lessonID string, levelNumber int, difficulty model.Difficulty) (model.Level, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, lesson_id, level_number, difficulty, beta, points, initial_code, expected_output
		FROM levels WHERE lesson_id = $1 AND level_number = $2 AND difficulty = $3`,
		lessonID, levelNumber, difficulty)
	var l model.Level
	err := row.Scan(&l.ID, &l.LessonID, &l.LevelNumber, &l.Difficulty, &l.Beta, &l.Points, &l.InitialCode, &l.ExpectedOut)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Level{}, false, nil
	}
	return l, err == nil, err
}

// RandomByDifficulty picks one level at the given difficulty for the
// battle-create handler's "create ranked battle + problem" flow (§6), run
// outside any write transaction since it only needs a consistent read.
func (r *LevelRepo) RandomByDifficulty(ctx context.Context, pool *pgxpool.Pool, difficulty model.Difficulty) (model.Level, bool, error) {
	row := pool.QueryRow(ctx, `
		SELECT id, lesson_id, level_number, difficulty, beta, points, initial_code, expected_output
		FROM levels WHERE difficulty = $1 ORDER BY random() LIMIT 1`, difficulty)
	var l model.Level
	err := row.Scan(&l.ID, &l.LessonID, &l.LevelNumber, &l.Difficulty, &l.Beta, &l.Points, &l.InitialCode, &l.ExpectedOut)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Level{}, false, nil
	}
	return l, err == nil, err
}

// LessonBand fetches the band governing a lesson's difficulty rules.
func (r *LevelRepo) LessonBand(ctx context.Context, tx pgx.Tx, lessonID string) (model.Band, error) {
	var band model.Band
	err := tx.QueryRow(ctx, `SELECT band FROM lessons WHERE id = $1`, lessonID).Scan(&band)
	return band, err
}
