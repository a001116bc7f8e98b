package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/dokey/internal/apperr"
	pdfutil "github.com/dharsanguruparan/dokey/internal/pdf"
	"github.com/dharsanguruparan/dokey/internal/s3storage"
	"github.com/dharsanguruparan/dokey/internal/storage"
)

// handleUploadPDF stores the document's PDF and reshapes its pages to match
// the PDF's page count and sizes. Fields on surviving pages are kept.
func (s *Server) handleUploadPDF(w http.ResponseWriter, r *http.Request) {
	doc, p, err := s.authorizedDocument(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.deps.PDFs == nil {
		s.writeError(w, r, apperr.Transient(nil, "object storage is not configured"))
		return
	}
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, r, apperr.Validation("expecting multipart form"))
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		s.writeError(w, r, apperr.Validation("no file provided"))
		return
	}
	defer part.Close()
	tmp, err := s.persistTemp(part)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer os.Remove(tmp.path)
	defer tmp.f.Close()
	if tmp.contentType != "application/pdf" {
		s.writeError(w, r, apperr.Validation("file must be a PDF"))
		return
	}

	dims, err := pdfutil.PageSizesFromReader(tmp.f)
	if err != nil {
		s.logger(r).WithError(err).Debug("unreadable pdf")
		s.writeError(w, r, apperr.Validation("file is not a readable PDF"))
		return
	}
	objectKey := s3storage.ObjectKey(doc.ID, tmp.filename)
	if _, err := tmp.f.Seek(0, io.SeekStart); err != nil {
		s.writeError(w, r, fmt.Errorf("rewind temp file: %w", err))
		return
	}
	if err := s.deps.PDFs.PutPDF(ctx, objectKey, tmp.f, tmp.size); err != nil {
		s.writeError(w, r, err)
		return
	}

	err = s.deps.Store.WithTx(ctx, s.txOptions(), func(ctx context.Context, tx storage.Tx) error {
		for i, d := range dims {
			if _, err := tx.UpsertPage(ctx, doc.ID, i+1, d); err != nil {
				return notFoundIfMissing(err)
			}
		}
		_, err := tx.DeletePagesAfter(ctx, doc.ID, len(dims))
		return err
	})
	if err == nil {
		err = notFoundIfMissing(s.deps.Store.SetDocumentPDF(ctx, doc.ID, objectKey))
	}
	if err != nil {
		s.removePDF(r, objectKey)
		s.writeError(w, r, err)
		return
	}
	if doc.PDFKey != "" && doc.PDFKey != objectKey {
		s.removePDF(r, doc.PDFKey)
	}

	updated, err := s.loadDocument(ctx, p, doc.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	updated.PDFURL = s.presign(r, objectKey)
	s.logger(r).WithFields(logrus.Fields{"document_id": doc.ID, "pages": len(dims)}).Info("pdf uploaded")
	writeJSON(w, r, http.StatusOK, map[string]any{
		"success":  true,
		"pdfUrl":   updated.PDFURL,
		"document": updated,
	})
}

func (s *Server) removePDF(r *http.Request, key string) {
	if err := s.deps.PDFs.DeletePDF(context.WithoutCancel(r.Context()), key); err != nil {
		s.logger(r).WithError(err).WithField("object_key", key).Warn("remove pdf")
	}
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
}

// persistTemp spools the upload to disk, enforcing the size limit and
// sniffing the content type from the first bytes.
func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp("", "dokey-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	fail := func(err error) (*tempUpload, error) {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, err
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.cfg.MaxUploadBytes {
				return fail(apperr.Validation("file exceeds limit (%d bytes)", s.cfg.MaxUploadBytes))
			}
			if len(sniff) < 512 {
				sniff = append(sniff, buf[:min(n, 512-len(sniff))]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				return fail(fmt.Errorf("write temp file: %w", err))
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			var tooLarge *http.MaxBytesError
			if errors.As(readErr, &tooLarge) {
				return fail(apperr.Validation("file exceeds limit (%d bytes)", s.cfg.MaxUploadBytes))
			}
			return fail(apperr.Validation("read file: %v", readErr))
		}
	}
	if written == 0 {
		return fail(apperr.Validation("empty file"))
	}
	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return fail(fmt.Errorf("rewind temp file: %w", err))
	}
	filename := part.FileName()
	if filename == "" {
		filename = "upload.pdf"
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: http.DetectContentType(sniff),
		filename:    filename,
	}, nil
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}
