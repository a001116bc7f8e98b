package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/dokey/internal/apperr"
	"github.com/dharsanguruparan/dokey/internal/config"
	"github.com/dharsanguruparan/dokey/internal/queue"
	"github.com/dharsanguruparan/dokey/internal/reconcile"
	"github.com/dharsanguruparan/dokey/internal/signing"
	"github.com/dharsanguruparan/dokey/internal/storage"
)

// PDFStore keeps uploaded PDFs. *s3storage.Storage satisfies it.
type PDFStore interface {
	PutPDF(ctx context.Context, objectKey string, r io.Reader, size int64) error
	DeletePDF(ctx context.Context, objectKey string) error
	PresignPDF(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// Principal is the caller as resolved by the gateway in front of the API.
type Principal struct {
	UserID string
	OrgID  string
}

// Scope is the tenant key documents are stored under.
func (p Principal) Scope() string {
	if p.OrgID != "" {
		return p.OrgID
	}
	return "user:" + p.UserID
}

// PrincipalResolver identifies the caller of an editor endpoint.
type PrincipalResolver func(r *http.Request) (Principal, error)

// HeaderPrincipal trusts the X-User-ID and X-Org-ID headers set by the
// gateway.
func HeaderPrincipal(r *http.Request) (Principal, error) {
	p := Principal{
		UserID: strings.TrimSpace(r.Header.Get("X-User-ID")),
		OrgID:  strings.TrimSpace(r.Header.Get("X-Org-ID")),
	}
	if p.UserID == "" {
		return p, apperr.Unauthorized("authentication required")
	}
	return p, nil
}

// Deps are the collaborators behind the HTTP surface. PDFs and Queue are
// optional: without them uploads are refused and invitations are skipped.
type Deps struct {
	Store      storage.Store
	Reconciler *reconcile.Reconciler
	Signing    *signing.Service
	Links      *signing.LinkSigner
	PDFs       PDFStore
	Queue      queue.Enqueuer
	Principal  PrincipalResolver
	Log        logrus.FieldLogger
}

// Server exposes the editor, document management and signing endpoints.
type Server struct {
	cfg     *config.Config
	deps    Deps
	log     logrus.FieldLogger
	handler http.Handler
}

// New constructs a Server and its routes.
func New(cfg *config.Config, deps Deps) *Server {
	if deps.Principal == nil {
		deps.Principal = HeaderPrincipal
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	s := &Server{cfg: cfg, deps: deps, log: deps.Log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /documents", s.handleListDocuments)
	mux.HandleFunc("POST /documents", s.handleCreateDocument)
	mux.HandleFunc("GET /documents/{id}", s.handleGetDocument)
	mux.HandleFunc("PUT /documents/{id}", s.handleUpdateDocument)
	mux.HandleFunc("DELETE /documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("POST /documents/{id}/upload-pdf", s.handleUploadPDF)
	mux.HandleFunc("POST /documents/{id}/sync", s.handleSync)
	mux.HandleFunc("POST /documents/{id}/pages", s.handleAddPage)
	mux.HandleFunc("POST /documents/{id}/fields", s.handleCreateField)
	mux.HandleFunc("POST /documents/{id}/recipients", s.handleReplaceRecipients)
	mux.HandleFunc("POST /documents/{id}/recipients/create", s.handleCreateRecipient)
	mux.HandleFunc("POST /documents/{id}/send", s.handleSend)

	mux.HandleFunc("GET /sign/{id}", s.handleSigningView)
	mux.HandleFunc("PATCH /sign/{id}/save", s.handleSigningSave)
	mux.HandleFunc("POST /sign/{id}/submit", s.handleSigningSubmit)

	s.handler = s.recoverer(s.requestLogger(corsMiddleware(mux)))
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.WithField("addr", s.cfg.Address).Info("api listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) principal(r *http.Request) (Principal, error) {
	return s.deps.Principal(r)
}

func (s *Server) txOptions() storage.TxOptions {
	return storage.TxOptions{MaxWait: s.cfg.TxMaxWait, Timeout: s.cfg.TxTimeout}
}
