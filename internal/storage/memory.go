package storage

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dharsanguruparan/dokey/internal/apperr"
	"github.com/dharsanguruparan/dokey/internal/model"
)

type pageRow struct {
	documentID string
	page       model.Page // Fields is always nil
}

type fieldRow struct {
	seq   int64
	field model.Field
}

type recipientRow struct {
	seq       int64
	recipient model.Recipient
}

// memState is one version of the whole dataset. Transactions work on a clone
// and commit by swapping it in.
type memState struct {
	seq        int64
	documents  map[string]model.Document
	pages      map[string]pageRow
	fields     map[string]fieldRow
	recipients map[string]recipientRow
}

func newMemState() *memState {
	return &memState{
		documents:  make(map[string]model.Document),
		pages:      make(map[string]pageRow),
		fields:     make(map[string]fieldRow),
		recipients: make(map[string]recipientRow),
	}
}

func (s *memState) clone() *memState {
	out := &memState{
		seq:        s.seq,
		documents:  make(map[string]model.Document, len(s.documents)),
		pages:      make(map[string]pageRow, len(s.pages)),
		fields:     make(map[string]fieldRow, len(s.fields)),
		recipients: make(map[string]recipientRow, len(s.recipients)),
	}
	for k, v := range s.documents {
		out.documents[k] = v
	}
	for k, v := range s.pages {
		out.pages[k] = v
	}
	for k, v := range s.fields {
		v.field = v.field.Clone()
		out.fields[k] = v
	}
	for k, v := range s.recipients {
		if v.recipient.SubmittedAt != nil {
			at := *v.recipient.SubmittedAt
			v.recipient.SubmittedAt = &at
		}
		out.recipients[k] = v
	}
	return out
}

func (s *memState) next() int64 {
	s.seq++
	return s.seq
}

// MemoryStore is an in-memory Store. A one-slot semaphore serializes
// transactions so the MaxWait budget can be enforced; a channel is used
// instead of sync.Mutex because acquiring it must be abandonable.
type MemoryStore struct {
	sem   chan struct{}
	state *memState
	now   func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sem:   make(chan struct{}, 1),
		state: newMemState(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithTx implements Store.
func (m *MemoryStore) WithTx(ctx context.Context, opts TxOptions, fn func(ctx context.Context, tx Tx) error) error {
	opts = opts.Normalize()
	wait := time.NewTimer(opts.MaxWait)
	defer wait.Stop()
	select {
	case m.sem <- struct{}{}:
	case <-wait.C:
		return apperr.Transient(nil, "timed out waiting for a transaction slot")
	case <-ctx.Done():
		return transientIfDeadline(ctx.Err())
	}
	defer func() { <-m.sem }()

	txCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	tx := &memTx{st: m.state.clone(), now: m.now}
	if err := fn(txCtx, tx); err != nil {
		return transientIfDeadline(err)
	}
	if err := txCtx.Err(); err != nil {
		return transientIfDeadline(err)
	}
	m.state = tx.st
	return nil
}

func transientIfDeadline(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Transient(err, "transaction exceeded its time budget")
	}
	return err
}

func (m *MemoryStore) run(ctx context.Context, fn func(ctx context.Context, tx *memTx) error) error {
	return m.WithTx(ctx, TxOptions{}, func(ctx context.Context, tx Tx) error {
		return fn(ctx, tx.(*memTx))
	})
}

// FindDocument implements Tx outside a transaction.
func (m *MemoryStore) FindDocument(ctx context.Context, id string) (doc *model.Document, err error) {
	err = m.run(ctx, func(ctx context.Context, tx *memTx) error {
		doc, err = tx.FindDocument(ctx, id)
		return err
	})
	return doc, err
}

func (m *MemoryStore) UpsertPage(ctx context.Context, documentID string, pageNumber int, dims model.Dimensions) (p model.Page, err error) {
	err = m.run(ctx, func(ctx context.Context, tx *memTx) error {
		p, err = tx.UpsertPage(ctx, documentID, pageNumber, dims)
		return err
	})
	return p, err
}

func (m *MemoryStore) DeleteFieldsNotIn(ctx context.Context, pageID string, keep []string) (n int64, err error) {
	err = m.run(ctx, func(ctx context.Context, tx *memTx) error {
		n, err = tx.DeleteFieldsNotIn(ctx, pageID, keep)
		return err
	})
	return n, err
}

func (m *MemoryStore) DeletePagesAfter(ctx context.Context, documentID string, pageNumber int) (n int64, err error) {
	err = m.run(ctx, func(ctx context.Context, tx *memTx) error {
		n, err = tx.DeletePagesAfter(ctx, documentID, pageNumber)
		return err
	})
	return n, err
}

func (m *MemoryStore) CreateField(ctx context.Context, pageID string, f model.Field) (id string, err error) {
	err = m.run(ctx, func(ctx context.Context, tx *memTx) error {
		id, err = tx.CreateField(ctx, pageID, f)
		return err
	})
	return id, err
}

func (m *MemoryStore) UpdateField(ctx context.Context, documentID, pageID string, f model.Field) error {
	return m.run(ctx, func(ctx context.Context, tx *memTx) error {
		return tx.UpdateField(ctx, documentID, pageID, f)
	})
}

func (m *MemoryStore) SetFieldValue(ctx context.Context, documentID, recipientID, fieldID string, value *string) (ok bool, err error) {
	err = m.run(ctx, func(ctx context.Context, tx *memTx) error {
		ok, err = tx.SetFieldValue(ctx, documentID, recipientID, fieldID, value)
		return err
	})
	return ok, err
}

func (m *MemoryStore) UpdateRecipientSubmittedAt(ctx context.Context, recipientID string, at time.Time) error {
	return m.run(ctx, func(ctx context.Context, tx *memTx) error {
		return tx.UpdateRecipientSubmittedAt(ctx, recipientID, at)
	})
}

func (m *MemoryStore) UpdateDocumentStatus(ctx context.Context, documentID string, status model.DocumentStatus) error {
	return m.run(ctx, func(ctx context.Context, tx *memTx) error {
		return tx.UpdateDocumentStatus(ctx, documentID, status)
	})
}

func (m *MemoryStore) CompleteIfAllSubmitted(ctx context.Context, documentID string) (done bool, err error) {
	err = m.run(ctx, func(ctx context.Context, tx *memTx) error {
		done, err = tx.CompleteIfAllSubmitted(ctx, documentID)
		return err
	})
	return done, err
}

// CreateDocument stores doc, assigning an id and timestamps when missing.
func (m *MemoryStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	return m.run(ctx, func(ctx context.Context, tx *memTx) error {
		if doc.ID == "" {
			doc.ID = model.NewPersistedID().String()
		}
		if _, exists := tx.st.documents[doc.ID]; exists {
			return fmt.Errorf("document %s already exists", doc.ID)
		}
		if doc.Status == "" {
			doc.Status = model.StatusDraft
		}
		now := tx.now()
		doc.CreatedAt, doc.UpdatedAt = now, now
		row := *doc
		row.Pages, row.Recipients = nil, nil
		tx.st.documents[doc.ID] = row
		return nil
	})
}

// ListDocuments returns one page of the org's documents, most recently
// updated first, together with the total number of matches.
func (m *MemoryStore) ListDocuments(ctx context.Context, orgID string, q ListQuery) (out []model.DocumentSummary, total int, err error) {
	q = q.Normalize()
	err = m.run(ctx, func(ctx context.Context, tx *memTx) error {
		search := strings.ToLower(q.Search)
		var all []model.Document
		for _, d := range tx.st.documents {
			if d.OrgID != orgID {
				continue
			}
			if q.Status != "" && d.Status != q.Status {
				continue
			}
			if search != "" && !strings.Contains(strings.ToLower(d.Title), search) {
				continue
			}
			all = append(all, d)
		}
		slices.SortFunc(all, func(a, b model.Document) int {
			if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
		total = len(all)
		start := min((q.Page-1)*q.Limit, total)
		end := min(start+q.Limit, total)
		out = make([]model.DocumentSummary, 0, end-start)
		for _, d := range all[start:end] {
			out = append(out, model.DocumentSummary{ID: d.ID, Title: d.Title, Status: d.Status, UpdatedAt: d.UpdatedAt})
		}
		return nil
	})
	return out, total, err
}

func (m *MemoryStore) UpdateDocumentTitle(ctx context.Context, id, title string) error {
	return m.run(ctx, func(ctx context.Context, tx *memTx) error {
		return tx.touch(id, func(d *model.Document) { d.Title = title })
	})
}

func (m *MemoryStore) SetDocumentPDF(ctx context.Context, id, key string) error {
	return m.run(ctx, func(ctx context.Context, tx *memTx) error {
		return tx.touch(id, func(d *model.Document) { d.PDFKey = key })
	})
}

// DeleteDocument removes a document with its pages, fields and recipients.
func (m *MemoryStore) DeleteDocument(ctx context.Context, id string) error {
	return m.run(ctx, func(ctx context.Context, tx *memTx) error {
		if _, ok := tx.st.documents[id]; !ok {
			return ErrNotFound
		}
		delete(tx.st.documents, id)
		tx.deletePages(func(r pageRow) bool { return r.documentID == id })
		for rid, r := range tx.st.recipients {
			if r.recipient.DocumentID == id {
				delete(tx.st.recipients, rid)
			}
		}
		return nil
	})
}

// ReplaceRecipients makes recipients the document's complete recipient list.
// Entries whose id matches an existing recipient of the document are updated
// in place; others are created. Recipients left out are removed and their
// field assignments cleared.
func (m *MemoryStore) ReplaceRecipients(ctx context.Context, documentID string, recipients []model.Recipient) (out []model.Recipient, err error) {
	err = m.run(ctx, func(ctx context.Context, tx *memTx) error {
		if _, ok := tx.st.documents[documentID]; !ok {
			return ErrNotFound
		}
		keep := make(map[string]bool, len(recipients))
		out = make([]model.Recipient, 0, len(recipients))
		for _, r := range recipients {
			r.DocumentID = documentID
			if row, ok := tx.st.recipients[r.ID]; ok && row.recipient.DocumentID == documentID {
				r.SubmittedAt = row.recipient.SubmittedAt
				row.recipient = r
				tx.st.recipients[r.ID] = row
			} else {
				r.ID = model.NewPersistedID().String()
				r.SubmittedAt = nil
				tx.st.recipients[r.ID] = recipientRow{seq: tx.st.next(), recipient: r}
			}
			keep[r.ID] = true
			out = append(out, r)
		}
		for id, row := range tx.st.recipients {
			if row.recipient.DocumentID != documentID || keep[id] {
				continue
			}
			delete(tx.st.recipients, id)
			for fid, f := range tx.st.fields {
				if f.field.AssignedTo(id) {
					f.field.RecipientID = nil
					tx.st.fields[fid] = f
				}
			}
		}
		return tx.touch(documentID, func(*model.Document) {})
	})
	return out, err
}

// CreateRecipient adds one recipient to the document.
func (m *MemoryStore) CreateRecipient(ctx context.Context, documentID string, r model.Recipient) (model.Recipient, error) {
	err := m.run(ctx, func(ctx context.Context, tx *memTx) error {
		if _, ok := tx.st.documents[documentID]; !ok {
			return ErrNotFound
		}
		r.ID = model.NewPersistedID().String()
		r.DocumentID = documentID
		r.SubmittedAt = nil
		tx.st.recipients[r.ID] = recipientRow{seq: tx.st.next(), recipient: r}
		return nil
	})
	return r, err
}

// memTx operates on a private clone of the state.
type memTx struct {
	st  *memState
	now func() time.Time
}

func (tx *memTx) touch(id string, fn func(d *model.Document)) error {
	d, ok := tx.st.documents[id]
	if !ok {
		return ErrNotFound
	}
	fn(&d)
	d.UpdatedAt = tx.now()
	tx.st.documents[id] = d
	return nil
}

func (tx *memTx) deletePages(match func(pageRow) bool) int64 {
	var n int64
	for pid, r := range tx.st.pages {
		if !match(r) {
			continue
		}
		delete(tx.st.pages, pid)
		for fid, f := range tx.st.fields {
			if f.field.PageID.String() == pid {
				delete(tx.st.fields, fid)
			}
		}
		n++
	}
	return n
}

// pageOf returns the page row holding a field.
func (tx *memTx) pageOf(f model.Field) (pageRow, bool) {
	r, ok := tx.st.pages[f.PageID.String()]
	return r, ok
}

func (tx *memTx) FindDocument(ctx context.Context, id string) (*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row, ok := tx.st.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	doc := row
	doc.Pages = []model.Page{}
	doc.Recipients = []model.Recipient{}
	byPage := make(map[model.ID][]fieldRow)
	for _, f := range tx.st.fields {
		byPage[f.field.PageID] = append(byPage[f.field.PageID], f)
	}
	for _, r := range tx.st.pages {
		if r.documentID != id {
			continue
		}
		p := r.page
		rows := byPage[p.ID]
		slices.SortFunc(rows, func(a, b fieldRow) int { return cmp.Compare(a.seq, b.seq) })
		p.Fields = make([]model.Field, 0, len(rows))
		for _, f := range rows {
			p.Fields = append(p.Fields, f.field.Clone())
		}
		doc.Pages = append(doc.Pages, p)
	}
	slices.SortFunc(doc.Pages, func(a, b model.Page) int { return cmp.Compare(a.PageNumber, b.PageNumber) })

	var recipients []recipientRow
	for _, r := range tx.st.recipients {
		if r.recipient.DocumentID == id {
			recipients = append(recipients, r)
		}
	}
	slices.SortFunc(recipients, func(a, b recipientRow) int { return cmp.Compare(a.seq, b.seq) })
	for _, r := range recipients {
		rec := r.recipient
		if rec.SubmittedAt != nil {
			at := *rec.SubmittedAt
			rec.SubmittedAt = &at
		}
		doc.Recipients = append(doc.Recipients, rec)
	}
	return &doc, nil
}

func (tx *memTx) UpsertPage(ctx context.Context, documentID string, pageNumber int, dims model.Dimensions) (model.Page, error) {
	if err := ctx.Err(); err != nil {
		return model.Page{}, err
	}
	if _, ok := tx.st.documents[documentID]; !ok {
		return model.Page{}, ErrNotFound
	}
	for pid, r := range tx.st.pages {
		if r.documentID == documentID && r.page.PageNumber == pageNumber {
			r.page.Width, r.page.Height = dims.Width, dims.Height
			tx.st.pages[pid] = r
			return r.page, nil
		}
	}
	p := model.Page{ID: model.NewPersistedID(), PageNumber: pageNumber, Width: dims.Width, Height: dims.Height}
	tx.st.pages[p.ID.String()] = pageRow{documentID: documentID, page: p}
	return p, nil
}

func (tx *memTx) DeleteFieldsNotIn(ctx context.Context, pageID string, keep []string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int64
	for fid, f := range tx.st.fields {
		if f.field.PageID.String() == pageID && !slices.Contains(keep, fid) {
			delete(tx.st.fields, fid)
			n++
		}
	}
	return n, nil
}

func (tx *memTx) DeletePagesAfter(ctx context.Context, documentID string, pageNumber int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return tx.deletePages(func(r pageRow) bool {
		return r.documentID == documentID && r.page.PageNumber > pageNumber
	}), nil
}

func (tx *memTx) CreateField(ctx context.Context, pageID string, f model.Field) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, ok := tx.st.pages[pageID]; !ok {
		return "", ErrNotFound
	}
	f = f.Clone()
	f.ID = model.NewPersistedID()
	f.PageID = model.ID(pageID)
	tx.st.fields[f.ID.String()] = fieldRow{seq: tx.st.next(), field: f}
	return f.ID.String(), nil
}

func (tx *memTx) UpdateField(ctx context.Context, documentID, pageID string, f model.Field) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row, ok := tx.st.fields[f.ID.String()]
	if !ok {
		return ErrNotFound
	}
	current, ok := tx.pageOf(row.field)
	if !ok || current.documentID != documentID {
		return ErrNotFound
	}
	target, ok := tx.st.pages[pageID]
	if !ok || target.documentID != documentID {
		return ErrNotFound
	}
	f = f.Clone()
	f.PageID = model.ID(pageID)
	row.field = f
	tx.st.fields[f.ID.String()] = row
	return nil
}

func (tx *memTx) SetFieldValue(ctx context.Context, documentID, recipientID, fieldID string, value *string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	row, ok := tx.st.fields[fieldID]
	if !ok || !row.field.AssignedTo(recipientID) {
		return false, nil
	}
	page, ok := tx.pageOf(row.field)
	if !ok || page.documentID != documentID {
		return false, nil
	}
	if value != nil {
		v := *value
		value = &v
	}
	row.field.Value = value
	tx.st.fields[fieldID] = row
	return true, nil
}

func (tx *memTx) UpdateRecipientSubmittedAt(ctx context.Context, recipientID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row, ok := tx.st.recipients[recipientID]
	if !ok || row.recipient.Submitted() {
		return ErrNotFound
	}
	at = at.UTC()
	row.recipient.SubmittedAt = &at
	tx.st.recipients[recipientID] = row
	return nil
}

func (tx *memTx) UpdateDocumentStatus(ctx context.Context, documentID string, status model.DocumentStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.touch(documentID, func(d *model.Document) { d.Status = status })
}

func (tx *memTx) CompleteIfAllSubmitted(ctx context.Context, documentID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	doc, ok := tx.st.documents[documentID]
	if !ok {
		return false, ErrNotFound
	}
	if doc.Status != model.StatusSent {
		return false, nil
	}
	count := 0
	for _, r := range tx.st.recipients {
		if r.recipient.DocumentID != documentID {
			continue
		}
		if !r.recipient.Submitted() {
			return false, nil
		}
		count++
	}
	if count == 0 {
		return false, nil
	}
	return true, tx.touch(documentID, func(d *model.Document) { d.Status = model.StatusCompleted })
}
