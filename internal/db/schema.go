package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// schemaTemplate is shared by both dialects; column types are substituted per driver.
var schemaTemplate = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id {{pk}},
		full_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		institution_id BIGINT NOT NULL,
		is_active {{bool}} NOT NULL DEFAULT TRUE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_institution_role ON users (institution_id, role)`,
	`CREATE TABLE IF NOT EXISTS quizzes (
		id {{pk}},
		teacher_id BIGINT NOT NULL,
		title TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		shuffle_questions {{bool}} NOT NULL DEFAULT FALSE,
		time_limit_minutes INTEGER,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS questions (
		id {{pk}},
		quiz_id BIGINT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
		seq_no INTEGER NOT NULL,
		text TEXT NOT NULL,
		question_type TEXT NOT NULL,
		correct_answer TEXT NOT NULL DEFAULT '',
		points INTEGER NOT NULL CHECK (points > 0),
		time_limit_seconds INTEGER,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_questions_quiz ON questions (quiz_id, seq_no)`,
	`CREATE TABLE IF NOT EXISTS question_options (
		id {{pk}},
		question_id BIGINT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
		seq_no INTEGER NOT NULL,
		option_text TEXT NOT NULL,
		is_correct {{bool}} NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_question_options_question ON question_options (question_id, seq_no)`,
	`CREATE TABLE IF NOT EXISTS quiz_sessions (
		id {{pk}},
		quiz_id BIGINT NOT NULL REFERENCES quizzes(id),
		teacher_id BIGINT NOT NULL,
		institution_id BIGINT NOT NULL,
		session_code TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		starts_at {{ts}} NOT NULL,
		ends_at {{ts}} NOT NULL,
		status TEXT NOT NULL DEFAULT 'scheduled',
		max_participants INTEGER,
		activated_at {{ts}},
		completed_at {{ts}},
		cancelled_at {{ts}},
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL,
		CHECK (ends_at > starts_at)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_quiz_sessions_schedule ON quiz_sessions (teacher_id, title, starts_at, ends_at)`,
	`CREATE INDEX IF NOT EXISTS idx_quiz_sessions_status ON quiz_sessions (status)`,
	`CREATE TABLE IF NOT EXISTS quiz_session_allowed_students (
		session_id BIGINT NOT NULL REFERENCES quiz_sessions(id) ON DELETE CASCADE,
		student_id BIGINT NOT NULL,
		PRIMARY KEY (session_id, student_id)
	)`,
	`CREATE TABLE IF NOT EXISTS results (
		id {{pk}},
		session_id BIGINT NOT NULL REFERENCES quiz_sessions(id) ON DELETE CASCADE,
		student_id BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'in_progress',
		total_points INTEGER NOT NULL DEFAULT 0,
		max_points INTEGER NOT NULL DEFAULT 0,
		percentage {{float}} NOT NULL DEFAULT 0,
		grade {{float}} NOT NULL DEFAULT 0,
		total_questions INTEGER NOT NULL DEFAULT 0,
		correct_answers INTEGER NOT NULL DEFAULT 0,
		time_spent_total INTEGER NOT NULL DEFAULT 0,
		teacher_feedback TEXT,
		started_at {{ts}} NOT NULL,
		submitted_at {{ts}},
		graded_at {{ts}},
		published_at {{ts}},
		UNIQUE (session_id, student_id)
	)`,
	`CREATE TABLE IF NOT EXISTS student_responses (
		id {{pk}},
		session_id BIGINT NOT NULL REFERENCES quiz_sessions(id) ON DELETE CASCADE,
		student_id BIGINT NOT NULL,
		question_id BIGINT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
		answer TEXT NOT NULL,
		is_correct {{bool}},
		points_earned INTEGER NOT NULL DEFAULT 0,
		points_possible INTEGER NOT NULL DEFAULT 0,
		time_spent INTEGER NOT NULL DEFAULT 0,
		answered_at {{ts}} NOT NULL,
		reviewed_at {{ts}},
		reviewer_id BIGINT,
		teacher_comment TEXT,
		UNIQUE (session_id, student_id, question_id)
	)`,
	`CREATE TABLE IF NOT EXISTS notification_outbox (
		id {{pk}},
		event_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		user_ids TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		payload TEXT NOT NULL,
		expires_at {{ts}},
		created_at {{ts}} NOT NULL
	)`,
}

func (d Dialect) schemaReplacer() *strings.Replacer {
	if d == DialectSQLite {
		return strings.NewReplacer(
			"{{pk}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
			"{{ts}}", "DATETIME",
			"{{bool}}", "BOOLEAN",
			"{{float}}", "REAL",
		)
	}
	return strings.NewReplacer(
		"{{pk}}", "BIGSERIAL PRIMARY KEY",
		"{{ts}}", "TIMESTAMPTZ",
		"{{bool}}", "BOOLEAN",
		"{{float}}", "DOUBLE PRECISION",
	)
}

// Schema returns the DDL statements for the dialect in dependency order.
func (d Dialect) Schema() []string {
	r := d.schemaReplacer()
	out := make([]string, 0, len(schemaTemplate))
	for _, stmt := range schemaTemplate {
		out = append(out, r.Replace(stmt))
	}
	return out
}

func Migrate(ctx context.Context, conn *sql.DB, dialect Dialect) error {
	return WithTx(ctx, conn, func(tx *sql.Tx) error {
		for i, stmt := range dialect.Schema() {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply schema statement %d: %w", i+1, err)
			}
		}
		return nil
	})
}
