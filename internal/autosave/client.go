package autosave

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dharsanguruparan/dokey/internal/apperr"
	"github.com/dharsanguruparan/dokey/internal/model"
)

// Client talks to the document API on behalf of an editing session.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// UserID and OrgID are forwarded as the principal headers the API
	// expects from the gateway.
	UserID string
	OrgID  string
}

// NewClient returns a Client with a bounded request timeout.
func NewClient(baseURL, userID, orgID string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		UserID:  userID,
		OrgID:   orgID,
	}
}

// Document fetches a document with its pages, fields and recipients.
func (c *Client) Document(ctx context.Context, documentID string) (*model.Document, error) {
	var doc model.Document
	if err := c.do(ctx, http.MethodGet, "/documents/"+url.PathEscape(documentID), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Sync posts the snapshot to the sync endpoint.
func (c *Client) Sync(ctx context.Context, documentID string, pages []model.Page) (model.IDMapping, error) {
	if pages == nil {
		pages = []model.Page{}
	}
	var resp model.SyncResponse
	path := "/documents/" + url.PathEscape(documentID) + "/sync"
	if err := c.do(ctx, http.MethodPost, path, model.SyncRequest{Pages: pages}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("sync document %s: server reported failure", documentID)
	}
	return resp.FieldIDMappings, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.UserID != "" {
		req.Header.Set("X-User-ID", c.UserID)
	}
	if c.OrgID != "" {
		req.Header.Set("X-Org-ID", c.OrgID)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return apperr.Transient(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError turns an {error, code} envelope back into an *apperr.Error.
func decodeError(resp *http.Response) error {
	var envelope struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&envelope)
	if envelope.Error == "" {
		envelope.Error = resp.Status
	}
	kind := apperr.KindInternal
	switch resp.StatusCode {
	case http.StatusBadRequest:
		kind = apperr.KindValidation
	case http.StatusNotFound:
		kind = apperr.KindNotFound
	case http.StatusUnauthorized:
		kind = apperr.KindUnauthorized
	case http.StatusForbidden:
		kind = apperr.KindForbidden
	case http.StatusConflict:
		kind = apperr.KindConflict
	case http.StatusServiceUnavailable:
		kind = apperr.KindTransient
	}
	return &apperr.Error{Kind: kind, Code: envelope.Code, Message: envelope.Error}
}
