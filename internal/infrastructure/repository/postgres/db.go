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

// EnsureSchema creates the archive tables when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101501)); err != nil {
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

const schemaDDL = `
CREATE TABLE IF NOT EXISTS class_templates (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	levels JSONB NOT NULL DEFAULT '[]'::jsonb,
	version TEXT,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS documents (
	id BIGSERIAL PRIMARY KEY,
	title TEXT NOT NULL,
	original_filename TEXT,
	file_type TEXT,
	content_text TEXT,
	summary TEXT,
	upload_time TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS template_document_mappings (
	template_id BIGINT NOT NULL REFERENCES class_templates(id),
	document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	class_code TEXT NOT NULL DEFAULT '',
	extracted_data JSONB NOT NULL DEFAULT '{}'::jsonb,
	PRIMARY KEY (template_id, document_id)
);

CREATE TABLE IF NOT EXISTS document_types (
	id BIGSERIAL PRIMARY KEY,
	template_id BIGINT NOT NULL REFERENCES class_templates(id),
	type_code TEXT NOT NULL,
	type_name TEXT NOT NULL,
	description TEXT,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	UNIQUE (template_id, type_code)
);

CREATE TABLE IF NOT EXISTS document_type_fields (
	id BIGSERIAL PRIMARY KEY,
	doc_type_id BIGINT NOT NULL REFERENCES document_types(id) ON DELETE CASCADE,
	field_name TEXT NOT NULL,
	description TEXT,
	field_type TEXT NOT NULL DEFAULT 'text'
);

CREATE INDEX IF NOT EXISTS idx_mappings_document ON template_document_mappings(document_id);
CREATE INDEX IF NOT EXISTS idx_documents_upload_time ON documents(upload_time DESC);
`
