package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// AuditRepo owns the append-only AdaptiveLog and DifficultyAudit rows
// (§3: "difficulty_audit is write-once: updates and deletes are rejected").
type AuditRepo struct{}

func NewAuditRepo() *AuditRepo { return &AuditRepo{} }

// InsertAdaptiveLog records the kernel call outcome (§4.E step 14, always
// written, regardless of which fallback tier answered).
func (r *AuditRepo) InsertAdaptiveLog(ctx context.Context, tx pgx.Tx, userID, levelID, source string, newBeta, adjustedTheta float64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO adaptive_logs (user_id, level_id, source, new_beta, adjusted_theta)
		VALUES ($1,$2,$3,$4,$5)`, userID, levelID, source, newBeta, adjustedTheta)
	return err
}

// InsertDifficultyAudit records one rule-engine decision (§4.E step 14,
// only when beta or difficulty changed). Callers wrap this in
// WithSavepoint so a failure here cannot fail the whole attempt.
func (r *AuditRepo) InsertDifficultyAudit(ctx context.Context, tx pgx.Tx, userID, levelID, rule string, betaBefore, betaAfter float64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO difficulty_audits (user_id, level_id, rule, beta_before, beta_after)
		VALUES ($1,$2,$3,$4,$5)`, userID, levelID, rule, betaBefore, betaAfter)
	return err
}
