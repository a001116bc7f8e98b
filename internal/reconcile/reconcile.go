// Package reconcile applies an editor's full page snapshot to storage in one
// transaction and reports the persisted ids assigned to temporary fields.
package reconcile

import (
	"context"
	"errors"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/dokey/internal/apperr"
	"github.com/dharsanguruparan/dokey/internal/model"
	"github.com/dharsanguruparan/dokey/internal/storage"
)

// Locker guards a document against concurrent syncs. Lock fails with a
// Conflict error while another sync of the same document holds the lease.
type Locker interface {
	Lock(ctx context.Context, documentID string) (unlock func(context.Context) error, err error)
}

// Reconciler runs the sync protocol.
type Reconciler struct {
	store  storage.Store
	locker Locker
	txOpts storage.TxOptions
	log    logrus.FieldLogger
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithLocker enables the per-document lease.
func WithLocker(l Locker) Option {
	return func(r *Reconciler) { r.locker = l }
}

// WithTxOptions overrides the transaction budget.
func WithTxOptions(opts storage.TxOptions) Option {
	return func(r *Reconciler) { r.txOpts = opts }
}

// New returns a Reconciler over store.
func New(store storage.Store, log logrus.FieldLogger, opts ...Option) *Reconciler {
	r := &Reconciler{store: store, log: log}
	for _, opt := range opts {
		opt(r)
	}
	r.txOpts = r.txOpts.Normalize()
	return r
}

// Stats counts what a sync changed.
type Stats struct {
	PagesUpserted int
	PagesDeleted  int64
	FieldsCreated int
	FieldsUpdated int
	FieldsDeleted int64
}

// Sync reconciles storage with pages and returns the temporary to persisted
// id mapping for every field that was created. A nil pages slice is a
// validation error; an empty one changes nothing.
func (r *Reconciler) Sync(ctx context.Context, documentID string, pages []model.Page) (model.IDMapping, error) {
	if err := Validate(pages); err != nil {
		return nil, err
	}
	if r.locker != nil {
		unlock, err := r.locker.Lock(ctx, documentID)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				r.log.WithError(err).WithField("document_id", documentID).Warn("release sync lease")
			}
		}()
	}

	mapping := model.IDMapping{}
	var stats Stats
	err := r.store.WithTx(ctx, r.txOpts, func(ctx context.Context, tx storage.Tx) error {
		return apply(ctx, tx, documentID, pages, mapping, &stats)
	})
	if err != nil {
		return nil, err
	}
	r.log.WithFields(logrus.Fields{
		"document_id":    documentID,
		"pages_upserted": stats.PagesUpserted,
		"pages_deleted":  stats.PagesDeleted,
		"fields_created": stats.FieldsCreated,
		"fields_updated": stats.FieldsUpdated,
		"fields_deleted": stats.FieldsDeleted,
	}).Info("document synced")
	return mapping, nil
}

func apply(ctx context.Context, tx storage.Tx, documentID string, pages []model.Page, mapping model.IDMapping, stats *Stats) error {
	doc, err := tx.FindDocument(ctx, documentID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("document not found")
	}
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return nil
	}

	// Fields may move between pages, so the keep set spans the whole snapshot.
	var keep []string
	highest := 0
	for _, p := range pages {
		highest = max(highest, p.PageNumber)
		for _, f := range p.Fields {
			if f.RecipientID != nil && *f.RecipientID != "" {
				if _, ok := doc.Recipient(*f.RecipientID); !ok {
					return apperr.Validation("field %s is assigned to unknown recipient %s", f.ID, *f.RecipientID)
				}
			}
			if f.ID.Persisted() {
				keep = append(keep, f.ID.String())
			}
		}
	}

	for _, p := range pages {
		persisted, err := tx.UpsertPage(ctx, documentID, p.PageNumber, model.Dimensions{Width: p.Width, Height: p.Height})
		if err != nil {
			return err
		}
		stats.PagesUpserted++
		pageID := persisted.ID.String()

		n, err := tx.DeleteFieldsNotIn(ctx, pageID, keep)
		if err != nil {
			return err
		}
		stats.FieldsDeleted += n

		for _, f := range p.Fields {
			f = normalize(f)
			if f.ID.Temporary() {
				id, err := tx.CreateField(ctx, pageID, f)
				if err != nil {
					return err
				}
				mapping[f.ID] = model.ID(id)
				stats.FieldsCreated++
				continue
			}
			err := tx.UpdateField(ctx, documentID, pageID, f)
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.NotFound("field %s not found", f.ID)
			}
			if err != nil {
				return err
			}
			stats.FieldsUpdated++
		}
	}

	stats.PagesDeleted, err = tx.DeletePagesAfter(ctx, documentID, highest)
	return err
}

// Validate checks the structure of a snapshot before any storage work.
func Validate(pages []model.Page) error {
	if pages == nil {
		return apperr.Validation("pages array is required")
	}
	numbers := make(map[int]bool, len(pages))
	ids := make(map[model.ID]bool)
	for _, p := range pages {
		if p.PageNumber < 1 {
			return apperr.Validation("page number must be at least 1, got %d", p.PageNumber)
		}
		if numbers[p.PageNumber] {
			return apperr.Validation("page number %d appears more than once", p.PageNumber)
		}
		numbers[p.PageNumber] = true
		if !nonNegative(p.Width) || !nonNegative(p.Height) {
			return apperr.Validation("page %d has invalid dimensions", p.PageNumber)
		}
		for _, f := range p.Fields {
			if f.ID == "" {
				return apperr.Validation("field on page %d is missing an id", p.PageNumber)
			}
			if ids[f.ID] {
				return apperr.Validation("field %s appears more than once", f.ID)
			}
			ids[f.ID] = true
			if !f.Type.Valid() {
				return apperr.Validation("field %s has unknown type %q", f.ID, f.Type)
			}
			if !finite(f.X) || !finite(f.Y) || !nonNegative(f.Width) || !nonNegative(f.Height) {
				return apperr.Validation("field %s has invalid geometry", f.ID)
			}
		}
	}
	return nil
}

// normalize returns a copy of f with an empty recipient id treated as
// unassigned.
func normalize(f model.Field) model.Field {
	f = f.Clone()
	if f.RecipientID != nil && *f.RecipientID == "" {
		f.RecipientID = nil
	}
	return f
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func nonNegative(v float64) bool { return finite(v) && v >= 0 }
