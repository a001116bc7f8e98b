package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/dokey/internal/model"
	"github.com/dharsanguruparan/dokey/internal/storage"
)

// pgTx implements storage.Tx over either the pool or an open transaction.
type pgTx struct {
	q querier
}

func (t pgTx) FindDocument(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	err := t.q.QueryRow(ctx, `
		SELECT id, org_id, owner_id, title, status, pdf_key, created_at, updated_at
		FROM documents WHERE id=$1
	`, id).Scan(&doc.ID, &doc.OrgID, &doc.OwnerID, &doc.Title, &doc.Status, &doc.PDFKey, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select document: %w", err)
	}

	if doc.Pages, err = t.pages(ctx, id); err != nil {
		return nil, err
	}
	if doc.Recipients, err = t.recipients(ctx, id); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (t pgTx) pages(ctx context.Context, documentID string) ([]model.Page, error) {
	rows, err := t.q.Query(ctx, `
		SELECT id, page_number, width, height FROM document_pages
		WHERE document_id=$1 ORDER BY page_number
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("select pages: %w", err)
	}
	pages := []model.Page{}
	index := make(map[model.ID]int)
	for rows.Next() {
		p := model.Page{Fields: []model.Field{}}
		if err := rows.Scan(&p.ID, &p.PageNumber, &p.Width, &p.Height); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan page: %w", err)
		}
		index[p.ID] = len(pages)
		pages = append(pages, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select pages: %w", err)
	}

	rows, err = t.q.Query(ctx, `
		SELECT f.id, f.page_id, f.recipient_id, f.type, f.x, f.y, f.width, f.height,
			f.value, f.required, f.label, f.properties
		FROM fields f JOIN document_pages p ON p.id = f.page_id
		WHERE p.document_id=$1 ORDER BY f.position
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("select fields: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			f     model.Field
			props []byte
		)
		if err := rows.Scan(&f.ID, &f.PageID, &f.RecipientID, &f.Type, &f.X, &f.Y, &f.Width, &f.Height,
			&f.Value, &f.Required, &f.Label, &props); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		var p fieldProperties
		if len(props) > 0 {
			if err := json.Unmarshal(props, &p); err != nil {
				return nil, fmt.Errorf("decode field properties: %w", err)
			}
		}
		f.Placeholder, f.DefaultValue, f.Options = p.Placeholder, p.DefaultValue, p.Options
		i := index[f.PageID]
		pages[i].Fields = append(pages[i].Fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select fields: %w", err)
	}
	return pages, nil
}

func (t pgTx) recipients(ctx context.Context, documentID string) ([]model.Recipient, error) {
	rows, err := t.q.Query(ctx, `
		SELECT id, document_id, name, email, role, color, delivery_method, submitted_at
		FROM recipients WHERE document_id=$1 ORDER BY position
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("select recipients: %w", err)
	}
	defer rows.Close()
	out := []model.Recipient{}
	for rows.Next() {
		var r model.Recipient
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Name, &r.Email, &r.Role, &r.Color, &r.DeliveryMethod, &r.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select recipients: %w", err)
	}
	return out, nil
}

func (t pgTx) UpsertPage(ctx context.Context, documentID string, pageNumber int, dims model.Dimensions) (model.Page, error) {
	p := model.Page{}
	err := t.q.QueryRow(ctx, `
		INSERT INTO document_pages (id, document_id, page_number, width, height)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (document_id, page_number)
		DO UPDATE SET width=EXCLUDED.width, height=EXCLUDED.height
		RETURNING id, page_number, width, height
	`, model.NewPersistedID(), documentID, pageNumber, dims.Width, dims.Height).Scan(&p.ID, &p.PageNumber, &p.Width, &p.Height)
	if isForeignKeyViolation(err) {
		return p, storage.ErrNotFound
	}
	if err != nil {
		return p, fmt.Errorf("upsert page: %w", err)
	}
	return p, nil
}

func (t pgTx) DeleteFieldsNotIn(ctx context.Context, pageID string, keep []string) (int64, error) {
	if keep == nil {
		// A NULL array would match nothing and delete nothing.
		keep = []string{}
	}
	tag, err := t.q.Exec(ctx, `DELETE FROM fields WHERE page_id=$1 AND NOT (id = ANY($2))`, pageID, keep)
	if err != nil {
		return 0, fmt.Errorf("delete fields: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t pgTx) DeletePagesAfter(ctx context.Context, documentID string, pageNumber int) (int64, error) {
	tag, err := t.q.Exec(ctx, `DELETE FROM document_pages WHERE document_id=$1 AND page_number > $2`, documentID, pageNumber)
	if err != nil {
		return 0, fmt.Errorf("delete pages: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t pgTx) CreateField(ctx context.Context, pageID string, f model.Field) (string, error) {
	props, err := encodeProperties(f)
	if err != nil {
		return "", fmt.Errorf("encode field properties: %w", err)
	}
	id := model.NewPersistedID().String()
	_, err = t.q.Exec(ctx, `
		INSERT INTO fields (id, page_id, recipient_id, type, x, y, width, height, value, required, label, properties)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, id, pageID, f.RecipientID, f.Type, f.X, f.Y, f.Width, f.Height, f.Value, f.Required, f.Label, props)
	if isForeignKeyViolation(err) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("insert field: %w", err)
	}
	return id, nil
}

func (t pgTx) UpdateField(ctx context.Context, documentID, pageID string, f model.Field) error {
	props, err := encodeProperties(f)
	if err != nil {
		return fmt.Errorf("encode field properties: %w", err)
	}
	err = execOne(ctx, t.q, "update field", `
		UPDATE fields f
		SET page_id=$3, recipient_id=$4, type=$5, x=$6, y=$7, width=$8, height=$9,
			value=$10, required=$11, label=$12, properties=$13
		FROM document_pages p
		WHERE f.id=$1 AND f.page_id=p.id AND p.document_id=$2
			AND EXISTS (SELECT 1 FROM document_pages t WHERE t.id=$3 AND t.document_id=$2)
	`, f.ID, documentID, pageID, f.RecipientID, f.Type, f.X, f.Y, f.Width, f.Height, f.Value, f.Required, f.Label, props)
	if isForeignKeyViolation(err) {
		return storage.ErrNotFound
	}
	return err
}

func (t pgTx) SetFieldValue(ctx context.Context, documentID, recipientID, fieldID string, value *string) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE fields f SET value=$4
		FROM document_pages p
		WHERE f.id=$3 AND f.recipient_id=$2 AND f.page_id=p.id AND p.document_id=$1
	`, documentID, recipientID, fieldID, value)
	if err != nil {
		return false, fmt.Errorf("set field value: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t pgTx) UpdateRecipientSubmittedAt(ctx context.Context, recipientID string, at time.Time) error {
	return execOne(ctx, t.q, "mark recipient submitted",
		`UPDATE recipients SET submitted_at=$2 WHERE id=$1 AND submitted_at IS NULL`, recipientID, at.UTC())
}

func (t pgTx) UpdateDocumentStatus(ctx context.Context, documentID string, status model.DocumentStatus) error {
	return execOne(ctx, t.q, "update document status",
		`UPDATE documents SET status=$2, updated_at=$3 WHERE id=$1`, documentID, status, time.Now().UTC())
}

// CompleteIfAllSubmitted is a single conditional statement, so it sees every
// recipient update committed before it runs.
func (t pgTx) CompleteIfAllSubmitted(ctx context.Context, documentID string) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE documents d SET status='completed', updated_at=$2
		WHERE d.id=$1 AND d.status='sent'
			AND EXISTS (SELECT 1 FROM recipients r WHERE r.document_id=d.id)
			AND NOT EXISTS (SELECT 1 FROM recipients r WHERE r.document_id=d.id AND r.submitted_at IS NULL)
	`, documentID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("complete document: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
