// Package storage defines the persistence contract used by reconciliation and
// the signing flow, together with an in-memory implementation used in tests
// and single-process development.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dharsanguruparan/dokey/internal/model"
)

var (
	// ErrNotFound is returned when a document, page, field or recipient does
	// not exist. Callers compare with errors.Is.
	ErrNotFound = errors.New("not found")
)

// Default transaction budget.
const (
	DefaultTxMaxWait = 5 * time.Second
	DefaultTxTimeout = 20 * time.Second
)

// TxOptions bounds how long a transaction may wait for a slot and how long it
// may run once started.
type TxOptions struct {
	MaxWait time.Duration
	Timeout time.Duration
}

// Normalize fills zero budgets with the defaults.
func (o TxOptions) Normalize() TxOptions {
	if o.MaxWait <= 0 {
		o.MaxWait = DefaultTxMaxWait
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTxTimeout
	}
	return o
}

// ListQuery filters and pages a document listing.
type ListQuery struct {
	Page   int
	Limit  int
	Search string
	Status model.DocumentStatus
}

// Normalize clamps paging to sane bounds.
func (q ListQuery) Normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > 100 {
		q.Limit = 20
	}
	return q
}

// Tx is the set of operations that run inside one atomic transaction.
type Tx interface {
	// FindDocument loads a document with pages ordered by number, their
	// fields and its recipients.
	FindDocument(ctx context.Context, id string) (*model.Document, error)
	// UpsertPage creates the page numbered pageNumber or updates its
	// dimensions when it exists.
	UpsertPage(ctx context.Context, documentID string, pageNumber int, dims model.Dimensions) (model.Page, error)
	// DeleteFieldsNotIn removes the page's fields whose id is not in keep.
	DeleteFieldsNotIn(ctx context.Context, pageID string, keep []string) (int64, error)
	// DeletePagesAfter removes pages numbered above pageNumber with their
	// fields.
	DeletePagesAfter(ctx context.Context, documentID string, pageNumber int) (int64, error)
	// CreateField persists f on the page and returns the assigned id. f.ID is
	// ignored.
	CreateField(ctx context.Context, pageID string, f model.Field) (string, error)
	// UpdateField overwrites the mutable attributes of a persisted field of
	// the document and moves it to pageID.
	UpdateField(ctx context.Context, documentID, pageID string, f model.Field) error
	// SetFieldValue writes a value to a field only when it belongs to the
	// document and is assigned to recipientID. It reports whether a field was
	// written.
	SetFieldValue(ctx context.Context, documentID, recipientID, fieldID string, value *string) (bool, error)
	// UpdateRecipientSubmittedAt marks a recipient as submitted. It returns
	// ErrNotFound when the recipient does not exist or already submitted.
	UpdateRecipientSubmittedAt(ctx context.Context, recipientID string, at time.Time) error
	// UpdateDocumentStatus sets the document status.
	UpdateDocumentStatus(ctx context.Context, documentID string, status model.DocumentStatus) error
	// CompleteIfAllSubmitted moves a sent document to completed when every
	// recipient has submitted, reporting whether it did.
	CompleteIfAllSubmitted(ctx context.Context, documentID string) (bool, error)
}

// Store is the full persistence contract.
type Store interface {
	Tx

	// WithTx runs fn in one transaction. fn must use the context it is given,
	// which carries the execution budget. Any error rolls everything back;
	// exceeding the budget yields a transient error.
	WithTx(ctx context.Context, opts TxOptions, fn func(ctx context.Context, tx Tx) error) error

	CreateDocument(ctx context.Context, doc *model.Document) error
	ListDocuments(ctx context.Context, orgID string, q ListQuery) ([]model.DocumentSummary, int, error)
	UpdateDocumentTitle(ctx context.Context, id, title string) error
	SetDocumentPDF(ctx context.Context, id, key string) error
	DeleteDocument(ctx context.Context, id string) error
	ReplaceRecipients(ctx context.Context, documentID string, recipients []model.Recipient) ([]model.Recipient, error)
	CreateRecipient(ctx context.Context, documentID string, r model.Recipient) (model.Recipient, error)
}
