package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN and verifies it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// schema is applied statement by statement; every statement is idempotent so
// the server and the migrate command can both run it on startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'draft',
	pdf_key TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_org_updated ON documents(org_id, updated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS document_pages (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	page_number INTEGER NOT NULL CHECK (page_number >= 1),
	width DOUBLE PRECISION NOT NULL,
	height DOUBLE PRECISION NOT NULL,
	UNIQUE (document_id, page_number)
)`,
	`CREATE TABLE IF NOT EXISTS recipients (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	role TEXT NOT NULL,
	color TEXT NOT NULL DEFAULT '',
	delivery_method TEXT NOT NULL DEFAULT 'email',
	submitted_at TIMESTAMPTZ,
	position BIGSERIAL
)`,
	`CREATE INDEX IF NOT EXISTS idx_recipients_document ON recipients(document_id)`,
	`CREATE TABLE IF NOT EXISTS fields (
	id TEXT PRIMARY KEY,
	page_id TEXT NOT NULL REFERENCES document_pages(id) ON DELETE CASCADE,
	recipient_id TEXT REFERENCES recipients(id) ON DELETE SET NULL,
	type TEXT NOT NULL,
	x DOUBLE PRECISION NOT NULL,
	y DOUBLE PRECISION NOT NULL,
	width DOUBLE PRECISION NOT NULL,
	height DOUBLE PRECISION NOT NULL,
	value TEXT,
	required BOOLEAN NOT NULL DEFAULT FALSE,
	label TEXT NOT NULL DEFAULT '',
	properties JSONB NOT NULL DEFAULT '{}'::jsonb,
	position BIGSERIAL
)`,
	`CREATE INDEX IF NOT EXISTS idx_fields_page ON fields(page_id)`,
}

// EnsureSchema creates the tables if needed. Keeping the schema in code lets
// docker-compose bootstrap everything without a separate migration step.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
