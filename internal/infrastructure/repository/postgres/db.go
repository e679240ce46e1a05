package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaLockID int64 = 2026101601

const schemaDDL = `
CREATE TABLE IF NOT EXISTS notes (
	id TEXT PRIMARY KEY,
	user_id TEXT,
	user_plan TEXT NOT NULL DEFAULT 'free',
	title TEXT NOT NULL,
	image_paths JSONB NOT NULL DEFAULT '[]'::jsonb,
	status TEXT NOT NULL,
	organize_method TEXT NOT NULL,
	ocr_text TEXT,
	ocr_blocks JSONB,
	detected_subject TEXT,
	detected_note_type TEXT,
	detected_unit TEXT,
	organized_content TEXT,
	error_message TEXT,
	progress_message TEXT,
	checkpoint JSONB,
	version BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notes_user_id ON notes(user_id);
CREATE INDEX IF NOT EXISTS idx_notes_status ON notes(status);

CREATE TABLE IF NOT EXISTS weak_concepts (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	subject TEXT NOT NULL,
	unit TEXT NOT NULL DEFAULT '',
	concept TEXT NOT NULL,
	error_reason TEXT,
	error_count INTEGER NOT NULL DEFAULT 1,
	last_note_id TEXT,
	first_seen_at TIMESTAMPTZ NOT NULL,
	last_seen_at TIMESTAMPTZ NOT NULL,
	UNIQUE (user_id, subject, unit, concept)
);

CREATE TABLE IF NOT EXISTS concept_cards (
	id TEXT PRIMARY KEY,
	note_id TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
	user_id TEXT,
	card_type TEXT NOT NULL,
	title TEXT NOT NULL,
	subject TEXT,
	unit_name TEXT,
	content JSONB NOT NULL DEFAULT '{}'::jsonb,
	common_mistakes JSONB NOT NULL DEFAULT '[]'::jsonb,
	evidence_spans JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_concept_cards_note_id ON concept_cards(note_id);
`

// EnsureSchema creates the tables used by the note and enrichment
// repositories.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
