// Package signing implements the recipient side of a document: viewing the
// fields assigned to a recipient, saving progress, submitting, and the HMAC
// signed links that grant access.
package signing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/dokey/internal/apperr"
	"github.com/dharsanguruparan/dokey/internal/model"
	"github.com/dharsanguruparan/dokey/internal/storage"
)

const (
	MessageIncomplete = "Fields saved, but some required fields are still empty"
	MessageSigned     = "Document signed successfully"
)

// RecipientInfo is the part of a recipient shown on the signing page.
type RecipientInfo struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	SubmittedAt *time.Time `json:"submittedAt"`
}

// View is what a recipient sees: document metadata and only the fields
// assigned to them.
type View struct {
	ID        string               `json:"id"`
	Title     string               `json:"title"`
	PDFKey    string               `json:"-"`
	PDFURL    string               `json:"pdfUrl"`
	Status    model.DocumentStatus `json:"status"`
	Recipient RecipientInfo        `json:"recipient"`
	Pages     []model.Page         `json:"pages"`
}

// SubmitResult reports the outcome of a submission. A submission with
// required fields left empty is still a success with AllComplete false.
type SubmitResult struct {
	Success           bool   `json:"success"`
	AllComplete       bool   `json:"allComplete"`
	Message           string `json:"message"`
	DocumentCompleted bool   `json:"documentCompleted"`
}

// Service runs the signing state machine over a Store.
type Service struct {
	store  storage.Store
	log    logrus.FieldLogger
	txOpts storage.TxOptions
	now    func() time.Time
}

// NewService creates a Service.
func NewService(store storage.Store, log logrus.FieldLogger, txOpts storage.TxOptions) *Service {
	return &Service{
		store:  store,
		log:    log,
		txOpts: txOpts.Normalize(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// authorize loads the document and the recipient claiming access to it.
func authorize(ctx context.Context, tx storage.Tx, documentID, recipientID string) (*model.Document, model.Recipient, error) {
	if recipientID == "" {
		return nil, model.Recipient{}, apperr.Validation("recipientId is required")
	}
	doc, err := tx.FindDocument(ctx, documentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, model.Recipient{}, apperr.NotFound("document not found")
	}
	if err != nil {
		return nil, model.Recipient{}, err
	}
	recipient, ok := doc.Recipient(recipientID)
	if !ok {
		return nil, model.Recipient{}, apperr.Forbidden("recipient is not part of this document")
	}
	return doc, recipient, nil
}

// View returns the document as the recipient may see it.
func (s *Service) View(ctx context.Context, documentID, recipientID string) (*View, error) {
	doc, recipient, err := authorize(ctx, s.store, documentID, recipientID)
	if err != nil {
		return nil, err
	}
	pages := make([]model.Page, len(doc.Pages))
	for i, p := range doc.Pages {
		fields := make([]model.Field, 0, len(p.Fields))
		for _, f := range p.Fields {
			if f.AssignedTo(recipientID) {
				fields = append(fields, f)
			}
		}
		p.Fields = fields
		pages[i] = p
	}
	return &View{
		ID:     doc.ID,
		Title:  doc.Title,
		PDFKey: doc.PDFKey,
		Status: doc.Status,
		Recipient: RecipientInfo{
			ID:          recipient.ID,
			Name:        recipient.Name,
			Email:       recipient.Email,
			Role:        recipient.Role,
			SubmittedAt: recipient.SubmittedAt,
		},
		Pages: pages,
	}, nil
}

// SaveProgress stores a best-effort batch of values. Values for fields the
// recipient does not own are skipped; an empty string clears the field.
func (s *Service) SaveProgress(ctx context.Context, documentID, recipientID string, values map[string]string) (int, error) {
	written := 0
	err := s.store.WithTx(ctx, s.txOpts, func(ctx context.Context, tx storage.Tx) error {
		if _, _, err := authorize(ctx, tx, documentID, recipientID); err != nil {
			return err
		}
		written = 0
		for fieldID, v := range values {
			var value *string
			if v != "" {
				value = &v
			}
			ok, err := tx.SetFieldValue(ctx, documentID, recipientID, fieldID, value)
			if err != nil {
				return err
			}
			if ok {
				written++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{
		"document_id":  documentID,
		"recipient_id": recipientID,
		"submitted":    len(values),
		"written":      written,
	}).Debug("signing progress saved")
	return written, nil
}

// Submit applies the recipient's values and, when every required field they
// own has a non-blank value in values, marks them submitted and re-evaluates
// document completion.
func (s *Service) Submit(ctx context.Context, documentID, recipientID string, values map[string]string) (*SubmitResult, error) {
	var complete bool
	err := s.store.WithTx(ctx, s.txOpts, func(ctx context.Context, tx storage.Tx) error {
		doc, recipient, err := authorize(ctx, tx, documentID, recipientID)
		if err != nil {
			return err
		}
		if recipient.Submitted() {
			return apperr.ErrAlreadySubmitted
		}
		for fieldID, v := range values {
			value := v
			if _, err := tx.SetFieldValue(ctx, documentID, recipientID, fieldID, &value); err != nil {
				return err
			}
		}

		complete = requiredFilled(doc.FieldsFor(recipientID), values)
		if !complete {
			return nil
		}
		err = tx.UpdateRecipientSubmittedAt(ctx, recipientID, s.now())
		if errors.Is(err, storage.ErrNotFound) {
			// A concurrent submission won the race.
			return apperr.ErrAlreadySubmitted
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{"document_id": documentID, "recipient_id": recipientID})
	if !complete {
		log.Info("submission saved with required fields missing")
		return &SubmitResult{Success: true, AllComplete: false, Message: MessageIncomplete}, nil
	}

	// Evaluated after the recipient update commits so concurrent submissions
	// by different recipients cannot both miss the transition.
	done, err := s.store.CompleteIfAllSubmitted(ctx, documentID)
	if err != nil {
		return nil, err
	}
	log.WithField("document_completed", done).Info("recipient submitted")
	return &SubmitResult{Success: true, AllComplete: true, Message: MessageSigned, DocumentCompleted: done}, nil
}

// requiredFilled checks required fields against the submitted values only; a
// required field missing from values counts as empty.
func requiredFilled(fields []model.Field, values map[string]string) bool {
	for _, f := range fields {
		if !f.Required {
			continue
		}
		if strings.TrimSpace(values[f.ID.String()]) == "" {
			return false
		}
	}
	return true
}
