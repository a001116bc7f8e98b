package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/dokey/internal/apperr"
	"github.com/dharsanguruparan/dokey/internal/model"
	"github.com/dharsanguruparan/dokey/internal/queue"
	"github.com/dharsanguruparan/dokey/internal/storage"
)

const (
	// Blank pages added from the editor use the same size as the viewer's
	// default canvas.
	blankPageWidth  = 800
	blankPageHeight = 1100

	presignTTL       = time.Hour
	inviteFanOut     = 4
	maxTitleLength   = 500
	maxRecipientList = 100
)

// loadDocument fetches a document the principal may see. Documents outside
// the caller's scope are reported as missing.
func (s *Server) loadDocument(ctx context.Context, p Principal, id string) (*model.Document, error) {
	doc, err := s.deps.Store.FindDocument(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("document not found")
	}
	if err != nil {
		return nil, err
	}
	if doc.OrgID != p.Scope() {
		return nil, apperr.NotFound("document not found")
	}
	return doc, nil
}

// authorizedDocument resolves the principal and loads the {id} document.
func (s *Server) authorizedDocument(r *http.Request) (*model.Document, Principal, error) {
	p, err := s.principal(r)
	if err != nil {
		return nil, p, err
	}
	doc, err := s.loadDocument(r.Context(), p, r.PathValue("id"))
	return doc, p, err
}

func (s *Server) presign(r *http.Request, key string) string {
	if key == "" || s.deps.PDFs == nil {
		return ""
	}
	u, err := s.deps.PDFs.PresignPDF(r.Context(), key, presignTTL)
	if err != nil {
		s.logger(r).WithError(err).Warn("presign pdf")
		return ""
	}
	return u
}

func notFoundIfMissing(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("document not found")
	}
	return err
}

type pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	p, err := s.principal(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	query := r.URL.Query()
	q := storage.ListQuery{Search: strings.TrimSpace(query.Get("search"))}
	q.Page, _ = strconv.Atoi(query.Get("page"))
	q.Limit, _ = strconv.Atoi(query.Get("limit"))
	if status := model.DocumentStatus(strings.ToLower(query.Get("status"))); status != "" {
		if status != model.StatusDraft && status != model.StatusSent && status != model.StatusCompleted {
			s.writeError(w, r, apperr.Validation("unknown status %q", status))
			return
		}
		q.Status = status
	}
	q = q.Normalize()

	docs, total, err := s.deps.Store.ListDocuments(r.Context(), p.Scope(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"documents": docs,
		"pagination": pagination{
			Page:       q.Page,
			Limit:      q.Limit,
			Total:      total,
			TotalPages: (total + q.Limit - 1) / q.Limit,
		},
	})
}

type titleRequest struct {
	Title string `json:"title"`
}

func (t titleRequest) validate() (string, error) {
	title := strings.TrimSpace(t.Title)
	if title == "" {
		return "", apperr.Validation("title is required")
	}
	if len(title) > maxTitleLength {
		return "", apperr.Validation("title is too long")
	}
	return title, nil
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	p, err := s.principal(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req titleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	title, err := req.validate()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	doc := &model.Document{
		OrgID:      p.Scope(),
		OwnerID:    p.UserID,
		Title:      title,
		Status:     model.StatusDraft,
		Pages:      []model.Page{},
		Recipients: []model.Recipient{},
	}
	if err := s.deps.Store.CreateDocument(r.Context(), doc); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, doc)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, _, err := s.authorizedDocument(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	doc.PDFURL = s.presign(r, doc.PDFKey)
	writeJSON(w, r, http.StatusOK, doc)
}

func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	doc, p, err := s.authorizedDocument(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req titleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	title, err := req.validate()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Store.UpdateDocumentTitle(r.Context(), doc.ID, title); err != nil {
		s.writeError(w, r, notFoundIfMissing(err))
		return
	}
	doc, err = s.loadDocument(r.Context(), p, doc.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	doc.PDFURL = s.presign(r, doc.PDFKey)
	writeJSON(w, r, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, _, err := s.authorizedDocument(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Store.DeleteDocument(r.Context(), doc.ID); err != nil {
		s.writeError(w, r, notFoundIfMissing(err))
		return
	}
	if doc.PDFKey != "" && s.deps.PDFs != nil {
		if err := s.deps.PDFs.DeletePDF(r.Context(), doc.PDFKey); err != nil {
			s.logger(r).WithError(err).WithField("document_id", doc.ID).Warn("remove pdf of deleted document")
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"success": true, "id": doc.ID})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	doc, _, err := s.authorizedDocument(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req model.SyncRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	mapping, err := s.deps.Reconciler.Sync(r.Context(), doc.ID, req.Pages)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.SyncResponse{Success: true, FieldIDMappings: mapping})
}

func (s *Server) handleAddPage(w http.ResponseWriter, r *http.Request) {
	doc, _, err := s.authorizedDocument(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var page model.Page
	err = s.deps.Store.WithTx(r.Context(), s.txOptions(), func(ctx context.Context, tx storage.Tx) error {
		current, err := tx.FindDocument(ctx, doc.ID)
		if err != nil {
			return notFoundIfMissing(err)
		}
		last := 0
		for _, p := range current.Pages {
			last = max(last, p.PageNumber)
		}
		page, err = tx.UpsertPage(ctx, doc.ID, last+1, model.Dimensions{Width: blankPageWidth, Height: blankPageHeight})
		return notFoundIfMissing(err)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page.Fields = []model.Field{}
	writeJSON(w, r, http.StatusCreated, page)
}

type createFieldRequest struct {
	PageNumber  int             `json:"pageNumber"`
	Type        model.FieldType `json:"type"`
	X           float64         `json:"x"`
	Y           float64         `json:"y"`
	Width       float64         `json:"width"`
	Height      float64         `json:"height"`
	PageWidth   float64         `json:"pageWidth"`
	PageHeight  float64         `json:"pageHeight"`
	Required    bool            `json:"required"`
	RecipientID *string         `json:"recipientId"`
	Label       string          `json:"label"`
}

func (req createFieldRequest) validate() error {
	if req.PageNumber < 1 {
		return apperr.Validation("pageNumber must be at least 1")
	}
	if !req.Type.Valid() {
		return apperr.Validation("unknown field type %q", req.Type)
	}
	for _, v := range []float64{req.X, req.Y, req.Width, req.Height, req.PageWidth, req.PageHeight} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return apperr.Validation("field geometry must be finite")
		}
	}
	if req.Width < 0 || req.Height < 0 {
		return apperr.Validation("field size must not be negative")
	}
	return nil
}

func (s *Server) handleCreateField(w http.ResponseWriter, r *http.Request) {
	doc, _, err := s.authorizedDocument(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req createFieldRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.RecipientID != nil && *req.RecipientID == "" {
		req.RecipientID = nil
	}

	field := model.Field{
		Type:        req.Type,
		X:           req.X,
		Y:           req.Y,
		Width:       req.Width,
		Height:      req.Height,
		Required:    req.Required,
		RecipientID: req.RecipientID,
		Label:       req.Label,
	}
	err = s.deps.Store.WithTx(r.Context(), s.txOptions(), func(ctx context.Context, tx storage.Tx) error {
		current, err := tx.FindDocument(ctx, doc.ID)
		if err != nil {
			return notFoundIfMissing(err)
		}
		if field.RecipientID != nil {
			if _, ok := current.Recipient(*field.RecipientID); !ok {
				return apperr.Validation("recipient %s is not part of this document", *field.RecipientID)
			}
		}
		var page *model.Page
		for i := range current.Pages {
			if current.Pages[i].PageNumber == req.PageNumber {
				page = &current.Pages[i]
				break
			}
		}
		if page == nil {
			dims := model.Dimensions{Width: req.PageWidth, Height: req.PageHeight}
			if dims.Width <= 0 || dims.Height <= 0 {
				dims = model.Dimensions{Width: blankPageWidth, Height: blankPageHeight}
			}
			created, err := tx.UpsertPage(ctx, doc.ID, req.PageNumber, dims)
			if err != nil {
				return notFoundIfMissing(err)
			}
			page = &created
		}
		field.PageID = page.ID
		id, err := tx.CreateField(ctx, page.ID.String(), field)
		if err != nil {
			return err
		}
		field.ID = model.ID(id)
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, field)
}

type recipientRequest struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	Email          string               `json:"email"`
	Role           string               `json:"role"`
	Color          string               `json:"color"`
	DeliveryMethod model.DeliveryMethod `json:"deliveryMethod"`
}

func (req recipientRequest) toRecipient() (model.Recipient, error) {
	rcp := model.Recipient{
		ID:             strings.TrimSpace(req.ID),
		Name:           strings.TrimSpace(req.Name),
		Email:          strings.TrimSpace(req.Email),
		Role:           strings.TrimSpace(req.Role),
		Color:          strings.TrimSpace(req.Color),
		DeliveryMethod: req.DeliveryMethod,
	}
	if rcp.Name == "" {
		return rcp, apperr.Validation("recipient name is required")
	}
	if rcp.Role == "" {
		return rcp, apperr.Validation("recipient role is required")
	}
	addr, err := mail.ParseAddress(rcp.Email)
	if err != nil || addr.Address != rcp.Email {
		return rcp, apperr.Validation("recipient email %q is invalid", rcp.Email)
	}
	if rcp.DeliveryMethod == "" {
		rcp.DeliveryMethod = model.DeliveryEmail
	}
	if !rcp.DeliveryMethod.Valid() {
		return rcp, apperr.Validation("unknown delivery method %q", rcp.DeliveryMethod)
	}
	if rcp.Color == "" {
		rcp.Color = randomColor()
	}
	return rcp, nil
}

func randomColor() string {
	return fmt.Sprintf("#%06x", rand.IntN(0x1000000))
}

func (s *Server) handleReplaceRecipients(w http.ResponseWriter, r *http.Request) {
	doc, _, err := s.authorizedDocument(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Recipients []recipientRequest `json:"recipients"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Recipients == nil {
		s.writeError(w, r, apperr.Validation("recipients are required"))
		return
	}
	if len(req.Recipients) > maxRecipientList {
		s.writeError(w, r, apperr.Validation("at most %d recipients are allowed", maxRecipientList))
		return
	}
	recipients := make([]model.Recipient, 0, len(req.Recipients))
	for _, rr := range req.Recipients {
		rcp, err := rr.toRecipient()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		recipients = append(recipients, rcp)
	}
	out, err := s.deps.Store.ReplaceRecipients(r.Context(), doc.ID, recipients)
	if err != nil {
		s.writeError(w, r, notFoundIfMissing(err))
		return
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleCreateRecipient(w http.ResponseWriter, r *http.Request) {
	doc, _, err := s.authorizedDocument(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req recipientRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.ID = ""
	// A new recipient always gets a generated color.
	req.Color = ""
	rcp, err := req.toRecipient()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.deps.Store.CreateRecipient(r.Context(), doc.ID, rcp)
	if err != nil {
		s.writeError(w, r, notFoundIfMissing(err))
		return
	}
	writeJSON(w, r, http.StatusCreated, out)
}

type signingLink struct {
	RecipientID string    `json:"recipientId"`
	URL         string    `json:"url"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type sendResponse struct {
	Success     bool                 `json:"success"`
	Status      model.DocumentStatus `json:"status"`
	Invitations int                  `json:"invitations"`
	Links       []signingLink        `json:"links"`
}

// handleSend moves a draft to sent and queues one invitation per email
// recipient who has not signed yet. Sending again re-queues invitations.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	doc, _, err := s.authorizedDocument(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	switch {
	case doc.Status == model.StatusCompleted:
		s.writeError(w, r, apperr.Conflict("document is already completed"))
		return
	case len(doc.Recipients) == 0:
		s.writeError(w, r, apperr.Validation("add at least one recipient before sending"))
		return
	}
	ctx := r.Context()
	log := s.logger(r).WithField("document_id", doc.ID)
	if doc.Status == model.StatusDraft {
		if err := s.deps.Store.UpdateDocumentStatus(ctx, doc.ID, model.StatusSent); err != nil {
			s.writeError(w, r, notFoundIfMissing(err))
			return
		}
		doc.Status = model.StatusSent
	}

	resp := sendResponse{Success: true, Status: doc.Status, Links: []signingLink{}}
	var invites []queue.InvitationPayload
	for _, rcp := range doc.Recipients {
		if rcp.Submitted() {
			continue
		}
		link, expires := s.deps.Links.URL(doc.ID, rcp.ID)
		resp.Links = append(resp.Links, signingLink{RecipientID: rcp.ID, URL: link, ExpiresAt: expires})
		if rcp.DeliveryMethod != model.DeliveryEmail {
			continue
		}
		invites = append(invites, queue.InvitationPayload{
			DocumentID:    doc.ID,
			DocumentTitle: doc.Title,
			RecipientID:   rcp.ID,
			RecipientName: rcp.Name,
			Email:         rcp.Email,
			SigningURL:    link,
		})
	}

	if s.deps.Queue == nil {
		if len(invites) > 0 {
			log.WithField("invitations", len(invites)).Warn("no queue configured, invitations not delivered")
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(inviteFanOut)
		for _, inv := range invites {
			g.Go(func() error {
				return queue.EnqueueInvitation(gctx, s.deps.Queue, inv)
			})
		}
		if err := g.Wait(); err != nil {
			s.writeError(w, r, apperr.Transient(err, "could not queue invitations, send again to retry"))
			return
		}
		resp.Invitations = len(invites)
	}

	// Every recipient may already have signed before a re-send.
	done, err := s.deps.Store.CompleteIfAllSubmitted(ctx, doc.ID)
	if err != nil {
		log.WithError(err).Warn("completion check after send")
	} else if done {
		resp.Status = model.StatusCompleted
	}
	log.WithField("invitations", resp.Invitations).Info("document sent")
	writeJSON(w, r, http.StatusOK, resp)
}
