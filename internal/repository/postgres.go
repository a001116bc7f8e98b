// Package repository implements storage.Store on PostgreSQL with pgx.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/dokey/internal/apperr"
	"github.com/dharsanguruparan/dokey/internal/model"
	"github.com/dharsanguruparan/dokey/internal/storage"
)

// querier is the subset shared by *pgxpool.Pool and pgx.Tx, so every
// statement can run either standalone or inside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore wraps all SQL used by the API, the signing flow and the
// worker.
type PostgresStore struct {
	pool *pgxpool.Pool
	pgTx
}

// NewPostgresStore constructs a store over pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, pgTx: pgTx{q: pool}}
}

var _ storage.Store = (*PostgresStore)(nil)

// WithTx acquires a connection within opts.MaxWait and runs fn in a
// transaction bounded by opts.Timeout.
func (s *PostgresStore) WithTx(ctx context.Context, opts storage.TxOptions, fn func(ctx context.Context, tx storage.Tx) error) error {
	opts = opts.Normalize()
	acqCtx, cancelAcq := context.WithTimeout(ctx, opts.MaxWait)
	conn, err := s.pool.Acquire(acqCtx)
	cancelAcq()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperr.Transient(err, "timed out waiting for a transaction slot")
		}
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	txCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	tx, err := conn.Begin(txCtx)
	if err != nil {
		return transient(txCtx, fmt.Errorf("begin transaction: %w", err))
	}
	if err := fn(txCtx, pgTx{q: tx}); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return transient(txCtx, err)
	}
	if err := tx.Commit(txCtx); err != nil {
		return transient(txCtx, fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// transient classifies failures that are safe to retry as a whole batch.
func transient(txCtx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(txCtx.Err(), context.DeadlineExceeded) {
		return apperr.Transient(err, "transaction exceeded its time budget")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return apperr.Transient(err, "transaction aborted, retry")
	}
	return err
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// fieldProperties holds type specific attributes stored as JSONB.
type fieldProperties struct {
	Placeholder  string   `json:"placeholder,omitempty"`
	DefaultValue string   `json:"defaultValue,omitempty"`
	Options      []string `json:"options,omitempty"`
}

func encodeProperties(f model.Field) ([]byte, error) {
	return json.Marshal(fieldProperties{Placeholder: f.Placeholder, DefaultValue: f.DefaultValue, Options: f.Options})
}

// CreateDocument inserts a document, assigning an id and timestamps.
func (s *PostgresStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	if doc.ID == "" {
		doc.ID = model.NewPersistedID().String()
	}
	if doc.Status == "" {
		doc.Status = model.StatusDraft
	}
	now := time.Now().UTC()
	doc.CreatedAt, doc.UpdatedAt = now, now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, org_id, owner_id, title, status, pdf_key, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, doc.ID, doc.OrgID, doc.OwnerID, doc.Title, doc.Status, doc.PDFKey, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// ListDocuments returns one page of an org's documents, newest first.
func (s *PostgresStore) ListDocuments(ctx context.Context, orgID string, q storage.ListQuery) ([]model.DocumentSummary, int, error) {
	q = q.Normalize()
	const where = `WHERE org_id=$1 AND ($2 = '' OR status=$2) AND ($3 = '' OR title ILIKE '%' || $3 || '%')`

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents `+where, orgID, string(q.Status), q.Search).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, status, updated_at FROM documents `+where+`
		ORDER BY updated_at DESC, id LIMIT $4 OFFSET $5
	`, orgID, string(q.Status), q.Search, q.Limit, (q.Page-1)*q.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	out := []model.DocumentSummary{}
	for rows.Next() {
		var d model.DocumentSummary
		if err := rows.Scan(&d.ID, &d.Title, &d.Status, &d.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	return out, total, nil
}

func (s *PostgresStore) UpdateDocumentTitle(ctx context.Context, id, title string) error {
	return execOne(ctx, s.pool, "update document title",
		`UPDATE documents SET title=$2, updated_at=$3 WHERE id=$1`, id, title, time.Now().UTC())
}

func (s *PostgresStore) SetDocumentPDF(ctx context.Context, id, key string) error {
	return execOne(ctx, s.pool, "set document pdf",
		`UPDATE documents SET pdf_key=$2, updated_at=$3 WHERE id=$1`, id, key, time.Now().UTC())
}

// DeleteDocument removes a document; pages, fields and recipients cascade.
func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	return execOne(ctx, s.pool, "delete document", `DELETE FROM documents WHERE id=$1`, id)
}

// ReplaceRecipients makes recipients the document's full recipient list,
// updating entries whose id is already known and creating the rest.
func (s *PostgresStore) ReplaceRecipients(ctx context.Context, documentID string, recipients []model.Recipient) ([]model.Recipient, error) {
	var out []model.Recipient
	err := s.WithTx(ctx, storage.TxOptions{}, func(ctx context.Context, tx storage.Tx) error {
		q := tx.(pgTx).q
		if err := execOne(ctx, q, "touch document", `UPDATE documents SET updated_at=$2 WHERE id=$1`, documentID, time.Now().UTC()); err != nil {
			return err
		}
		out = make([]model.Recipient, 0, len(recipients))
		keep := make([]string, 0, len(recipients))
		for _, r := range recipients {
			r.DocumentID = documentID
			err := q.QueryRow(ctx, `
				UPDATE recipients SET name=$3, email=$4, role=$5, color=$6, delivery_method=$7
				WHERE id=$1 AND document_id=$2
				RETURNING submitted_at
			`, r.ID, documentID, r.Name, r.Email, r.Role, r.Color, r.DeliveryMethod).Scan(&r.SubmittedAt)
			if errors.Is(err, pgx.ErrNoRows) {
				r, err = insertRecipient(ctx, q, documentID, r)
			}
			if err != nil {
				return fmt.Errorf("upsert recipient: %w", err)
			}
			keep = append(keep, r.ID)
			out = append(out, r)
		}
		_, err := q.Exec(ctx, `DELETE FROM recipients WHERE document_id=$1 AND NOT (id = ANY($2))`, documentID, keep)
		if err != nil {
			return fmt.Errorf("delete recipients: %w", err)
		}
		return nil
	})
	return out, err
}

// CreateRecipient adds one recipient to a document.
func (s *PostgresStore) CreateRecipient(ctx context.Context, documentID string, r model.Recipient) (model.Recipient, error) {
	r, err := insertRecipient(ctx, s.pool, documentID, r)
	if isForeignKeyViolation(err) {
		return r, storage.ErrNotFound
	}
	return r, err
}

func insertRecipient(ctx context.Context, q querier, documentID string, r model.Recipient) (model.Recipient, error) {
	r.ID = model.NewPersistedID().String()
	r.DocumentID = documentID
	r.SubmittedAt = nil
	_, err := q.Exec(ctx, `
		INSERT INTO recipients (id, document_id, name, email, role, color, delivery_method)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, r.ID, documentID, r.Name, r.Email, r.Role, r.Color, r.DeliveryMethod)
	if err != nil {
		return r, fmt.Errorf("insert recipient: %w", err)
	}
	return r, nil
}

// execOne runs a statement that must affect at least one row.
func execOne(ctx context.Context, q querier, what, sql string, args ...any) error {
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
