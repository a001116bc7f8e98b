package autosave

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/dokey/internal/apperr"
	"github.com/dharsanguruparan/dokey/internal/model"
)

func TestClientSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/documents/doc-1/sync", r.URL.Path)
		assert.Equal(t, "user-1", r.Header.Get("X-User-ID"))
		assert.Equal(t, "org-1", r.Header.Get("X-Org-ID"))

		var req model.SyncRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Pages, 1)
		id := req.Pages[0].Fields[0].ID
		_ = json.NewEncoder(w).Encode(model.SyncResponse{Success: true, FieldIDMappings: model.IDMapping{id: "real-1"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "user-1", "org-1")
	pages := []model.Page{{PageNumber: 1, Fields: []model.Field{textField("temp_a", 0)}}}
	mapping, err := c.Sync(context.Background(), "doc-1", pages)
	require.NoError(t, err)
	assert.Equal(t, model.IDMapping{"temp_a": "real-1"}, mapping)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"a sync for this document is already in progress","code":"CONFLICT"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "")
	_, err := c.Sync(context.Background(), "doc-1", nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	code, msg := apperr.Public(err)
	assert.Equal(t, "CONFLICT", code)
	assert.Contains(t, msg, "already in progress")
}
