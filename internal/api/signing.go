package api

import (
	"net/http"

	"github.com/dharsanguruparan/dokey/internal/apperr"
)

type signingRequest struct {
	RecipientID string            `json:"recipientId"`
	FieldValues map[string]string `json:"fieldValues"`
}

// verifyLink enforces signed recipient links when configured. The expires
// and signature parameters travel in the query string of every signing call.
func (s *Server) verifyLink(r *http.Request, documentID, recipientID string) error {
	if !s.cfg.RequireSignedLinks {
		return nil
	}
	q := r.URL.Query()
	if !s.deps.Links.Validate(documentID, recipientID, q.Get("expires"), q.Get("signature")) {
		return apperr.Forbidden("signing link is invalid or has expired")
	}
	return nil
}

func (s *Server) handleSigningView(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("id")
	recipientID := r.URL.Query().Get("recipientId")
	if err := s.verifyLink(r, documentID, recipientID); err != nil {
		s.writeError(w, r, err)
		return
	}
	view, err := s.deps.Signing.View(r.Context(), documentID, recipientID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view.PDFURL = s.presign(r, view.PDFKey)
	writeJSON(w, r, http.StatusOK, view)
}

func (s *Server) decodeSigning(w http.ResponseWriter, r *http.Request) (signingRequest, error) {
	var req signingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return req, err
	}
	if err := s.verifyLink(r, r.PathValue("id"), req.RecipientID); err != nil {
		return req, err
	}
	return req, nil
}

func (s *Server) handleSigningSave(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeSigning(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	saved, err := s.deps.Signing.SaveProgress(r.Context(), r.PathValue("id"), req.RecipientID, req.FieldValues)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"success": true, "saved": saved})
}

func (s *Server) handleSigningSubmit(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeSigning(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.deps.Signing.Submit(r.Context(), r.PathValue("id"), req.RecipientID, req.FieldValues)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}
