package postgres

import (
	"context"
	"fmt"
)

// RunMigrations applies the platform schema. Tables map directly onto §3's
// entities; unique indexes mirror §6's ledger.
func RunMigrations(ctx context.Context, db *DB) error {
	migrations := []string{
		createUsersTable,
		createContentTables,
		createProgressTables,
		createLedgerTables,
		createMultiplayerTables,
		createSessionTable,
		createLeaderboardTable,
		createIndexes,
	}
	for i, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	login_name VARCHAR(64) UNIQUE NOT NULL,
	display_name VARCHAR(128) NOT NULL,
	user_type VARCHAR(16) NOT NULL DEFAULT 'student',
	school_id UUID,
	active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const createContentTables = `
CREATE TABLE IF NOT EXISTS lessons (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	title VARCHAR(256) NOT NULL,
	band VARCHAR(16) NOT NULL
);

CREATE TABLE IF NOT EXISTS levels (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	lesson_id UUID NOT NULL REFERENCES lessons(id) ON DELETE CASCADE,
	level_number INT NOT NULL,
	difficulty VARCHAR(16) NOT NULL,
	beta DOUBLE PRECISION NOT NULL,
	points INT NOT NULL DEFAULT 0,
	initial_code TEXT NOT NULL DEFAULT '',
	expected_output TEXT NOT NULL DEFAULT ''
);
`

const createProgressTables = `
CREATE TABLE IF NOT EXISTS student_progress (
	user_id UUID NOT NULL,
	level_id UUID NOT NULL,
	theta DOUBLE PRECISION NOT NULL DEFAULT 0,
	prev_theta DOUBLE PRECISION NOT NULL DEFAULT 0,
	beta DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	prev_beta DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	success_count INT NOT NULL DEFAULT 0,
	fail_count INT NOT NULL DEFAULT 0,
	total_attempts INT NOT NULL DEFAULT 0,
	best_completion_time INT,
	average_completion_time DOUBLE PRECISION,
	preferred_difficulty JSONB NOT NULL DEFAULT '{}',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, level_id)
);

CREATE TABLE IF NOT EXISTS lesson_level_completions (
	user_id UUID NOT NULL,
	level_id UUID NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, level_id)
);

CREATE TABLE IF NOT EXISTS puzzle_attempts (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id UUID NOT NULL,
	level_id UUID NOT NULL,
	lesson_id UUID,
	success BOOLEAN NOT NULL,
	attempt_time INT NOT NULL DEFAULT 0,
	theta_at_attempt DOUBLE PRECISION NOT NULL,
	beta_at_attempt DOUBLE PRECISION NOT NULL,
	difficulty_label VARCHAR(16) NOT NULL,
	idempotency_key VARCHAR(128),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const createLedgerTables = `
CREATE TABLE IF NOT EXISTS student_statistics (
	user_id UUID PRIMARY KEY,
	exp INT NOT NULL DEFAULT 0,
	rank_name VARCHAR(32) NOT NULL DEFAULT 'novice',
	rank_index INT NOT NULL DEFAULT 0,
	current_streak INT NOT NULL DEFAULT 0,
	longest_streak INT NOT NULL DEFAULT 0,
	total_success_count INT NOT NULL DEFAULT 0,
	total_fail_count INT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS achievements (
	user_id UUID NOT NULL,
	achievement_type VARCHAR(64) NOT NULL,
	unlocked_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, achievement_type)
);

CREATE TABLE IF NOT EXISTS adaptive_logs (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id UUID NOT NULL,
	level_id UUID NOT NULL,
	source VARCHAR(32) NOT NULL,
	new_beta DOUBLE PRECISION NOT NULL,
	adjusted_theta DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS difficulty_audits (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id UUID NOT NULL,
	level_id UUID NOT NULL,
	rule VARCHAR(64) NOT NULL,
	beta_before DOUBLE PRECISION NOT NULL,
	beta_after DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const createMultiplayerTables = `
CREATE TABLE IF NOT EXISTS multiplayer_matches (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	status VARCHAR(16) NOT NULL DEFAULT 'pending',
	match_type VARCHAR(16) NOT NULL,
	language VARCHAR(32) NOT NULL DEFAULT 'en',
	match_size INT NOT NULL DEFAULT 3,
	cluster_id VARCHAR(64),
	match_score DOUBLE PRECISION,
	level_id UUID,
	last_clustered_at TIMESTAMPTZ,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	duration_seconds INT,
	wager INT NOT NULL DEFAULT 100,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS match_participants (
	match_id UUID NOT NULL REFERENCES multiplayer_matches(id) ON DELETE CASCADE,
	user_id UUID NOT NULL,
	is_winner BOOLEAN,
	completed_code BOOLEAN NOT NULL DEFAULT false,
	code_submitted TEXT,
	exp_gained INT NOT NULL DEFAULT 0,
	exp_lost INT NOT NULL DEFAULT 0,
	completion_time INT,
	rank_snapshot VARCHAR(32),
	success_count_at_join INT NOT NULL DEFAULT 0,
	fail_count_at_join INT NOT NULL DEFAULT 0,
	PRIMARY KEY (match_id, user_id)
);

CREATE TABLE IF NOT EXISTS battle_challenges (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	challenger_id UUID NOT NULL,
	opponent_id UUID NOT NULL,
	status VARCHAR(16) NOT NULL DEFAULT 'pending',
	exp_wager INT NOT NULL DEFAULT 100,
	match_id UUID REFERENCES multiplayer_matches(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const createSessionTable = `
CREATE TABLE IF NOT EXISTS user_sessions (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id UUID NOT NULL,
	session_start TIMESTAMPTZ NOT NULL DEFAULT now(),
	session_end TIMESTAMPTZ,
	puzzles_attempted INT NOT NULL DEFAULT 0,
	puzzles_completed INT NOT NULL DEFAULT 0
);
`

const createLeaderboardTable = `
CREATE TABLE IF NOT EXISTS leaderboard_entries (
	board_type VARCHAR(16) NOT NULL,
	rank_position INT NOT NULL,
	user_id UUID NOT NULL,
	display_name VARCHAR(128) NOT NULL,
	score DOUBLE PRECISION NOT NULL,
	refreshed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (board_type, rank_position)
);
`

const createIndexes = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_achievements_user_type ON achievements(user_id, achievement_type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_match_participants_match_user ON match_participants(match_id, user_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_idempotency
	ON puzzle_attempts(idempotency_key, user_id) WHERE idempotency_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_progress_updated ON student_progress(updated_at);
CREATE INDEX IF NOT EXISTS idx_sessions_user_open ON user_sessions(user_id) WHERE session_end IS NULL;
CREATE INDEX IF NOT EXISTS idx_matches_pending_created ON multiplayer_matches(created_at) WHERE status = 'pending';
`
