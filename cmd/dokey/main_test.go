package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/dokey/internal/api"
	"github.com/dharsanguruparan/dokey/internal/autosave"
	"github.com/dharsanguruparan/dokey/internal/config"
	"github.com/dharsanguruparan/dokey/internal/model"
	"github.com/dharsanguruparan/dokey/internal/reconcile"
	"github.com/dharsanguruparan/dokey/internal/signing"
	"github.com/dharsanguruparan/dokey/internal/storage"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func quietEnv(t *testing.T) {
	t.Setenv("DOKEY_LOG_LEVEL", "error")
	t.Setenv("DOKEY_SYNC_WINDOW", "10ms")
}

// startAPI serves the document API over an in-memory store and returns its
// URL together with a document owned by u1 in org1.
func startAPI(t *testing.T) (string, *model.Document) {
	t.Helper()
	log, _ := test.NewNullLogger()
	store := storage.NewMemoryStore()
	cfg := &config.Config{
		PublicURL:      "https://dokey.test",
		MaxUploadBytes: 1 << 20,
		LinkTTL:        time.Hour,
		TxMaxWait:      time.Second,
		TxTimeout:      5 * time.Second,
	}
	srv := api.New(cfg, api.Deps{
		Store:      store,
		Reconciler: reconcile.New(store, log),
		Signing:    signing.NewService(store, log, storage.TxOptions{}),
		Links:      signing.NewLinkSigner([]byte("cli-secret"), cfg.LinkTTL, cfg.PublicURL),
		Log:        log,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	doc := &model.Document{
		OrgID:      "org1",
		OwnerID:    "u1",
		Title:      "Lease",
		Status:     model.StatusDraft,
		Pages:      []model.Page{},
		Recipients: []model.Recipient{},
	}
	require.NoError(t, store.CreateDocument(context.Background(), doc))
	return ts.URL, doc
}

func fetch(t *testing.T, apiURL, documentID string) *model.Document {
	t.Helper()
	doc, err := autosave.NewClient(apiURL, "u1", "org1").Document(context.Background(), documentID)
	require.NoError(t, err)
	return doc
}

func TestFieldsCommandsRoundTrip(t *testing.T) {
	quietEnv(t)
	apiURL, doc := startAPI(t)
	session := []string{"--api", apiURL, "--user", "u1", "--org", "org1", "--document", doc.ID}

	out, err := runCLI(t, append([]string{"fields", "add", "--page", "2", "--type", "text", "--x", "10", "--y", "20"}, session...)...)
	require.NoError(t, err)
	line := strings.TrimSpace(out)
	temp, persisted, ok := strings.Cut(line, " -> ")
	require.True(t, ok, "unexpected output %q", out)
	assert.True(t, model.ID(temp).Temporary())
	assert.True(t, model.ID(persisted).Persisted())

	stored := fetch(t, apiURL, doc.ID)
	require.Len(t, stored.Pages, 11)
	require.Len(t, stored.Pages[1].Fields, 1)
	field := stored.Pages[1].Fields[0]
	assert.Equal(t, model.ID(persisted), field.ID)
	assert.Equal(t, model.FieldText, field.Type)

	_, err = runCLI(t, append([]string{"fields", "move", persisted, "--x", "50", "--y", "60"}, session...)...)
	require.NoError(t, err)
	field = fetch(t, apiURL, doc.ID).Pages[1].Fields[0]
	assert.Equal(t, 50.0, field.X)
	assert.Equal(t, 60.0, field.Y)

	out, err = runCLI(t, append([]string{"fields", "duplicate", persisted}, session...)...)
	require.NoError(t, err)
	assert.Contains(t, out, " -> ")
	fields := fetch(t, apiURL, doc.ID).Pages[1].Fields
	require.Len(t, fields, 2)
	assert.Equal(t, 70.0, fields[1].X)

	out, err = runCLI(t, append([]string{"fields", "list"}, session...)...)
	require.NoError(t, err)
	assert.Contains(t, out, persisted)

	_, err = runCLI(t, append([]string{"fields", "delete", persisted}, session...)...)
	require.NoError(t, err)
	fields = fetch(t, apiURL, doc.ID).Pages[1].Fields
	require.Len(t, fields, 1)
	assert.NotEqual(t, model.ID(persisted), fields[0].ID)
}

func TestFieldsCommandErrors(t *testing.T) {
	quietEnv(t)
	apiURL, doc := startAPI(t)
	session := []string{"--api", apiURL, "--user", "u1", "--org", "org1", "--document", doc.ID}

	_, err := runCLI(t, append([]string{"fields", "move", "missing"}, session...)...)
	assert.ErrorContains(t, err, "field missing not found")

	_, err = runCLI(t, append([]string{"fields", "add", "--type", "hologram"}, session...)...)
	assert.ErrorContains(t, err, "unknown field type")

	_, err = runCLI(t, append([]string{"fields", "add", "--page", "40"}, session...)...)
	assert.ErrorContains(t, err, "page 40 does not exist")

	_, err = runCLI(t, "fields", "list", "--api", apiURL, "--user", "u2", "--org", "org2", "--document", doc.ID)
	assert.ErrorContains(t, err, "load document")

	_, err = runCLI(t, "fields", "list", "--api", apiURL, "--document", doc.ID)
	assert.ErrorContains(t, err, "user")
}

func TestPagesCommands(t *testing.T) {
	quietEnv(t)
	apiURL, doc := startAPI(t)
	session := []string{"--api", apiURL, "--user", "u1", "--org", "org1", "--document", doc.ID}

	_, err := runCLI(t, append([]string{"pages", "add", "--after", "1", "--width", "300", "--height", "400"}, session...)...)
	require.NoError(t, err)
	stored := fetch(t, apiURL, doc.ID)
	require.Len(t, stored.Pages, 12)
	assert.Equal(t, 300.0, stored.Pages[1].Width)
	assert.Equal(t, 2, stored.Pages[1].PageNumber)

	_, err = runCLI(t, append([]string{"pages", "delete", "2"}, session...)...)
	require.NoError(t, err)
	stored = fetch(t, apiURL, doc.ID)
	require.Len(t, stored.Pages, 11)
	assert.Equal(t, float64(612), stored.Pages[1].Width)

	_, err = runCLI(t, append([]string{"pages", "delete", "zero"}, session...)...)
	assert.ErrorContains(t, err, "invalid page number")
}

func TestLinkCommand(t *testing.T) {
	t.Setenv("DOKEY_SIGNING_SECRET", "link-secret")
	t.Setenv("DOKEY_PUBLIC_URL", "https://sign.example.com/")

	out, err := runCLI(t, "link", "doc-1", "rcp-1", "--ttl", "1h")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	u, err := url.Parse(lines[0])
	require.NoError(t, err)
	assert.Equal(t, "sign.example.com", u.Host)
	assert.Equal(t, "/sign/doc-1", u.Path)
	q := u.Query()
	assert.Equal(t, "rcp-1", q.Get("recipientId"))

	signer := signing.NewLinkSigner([]byte("link-secret"), time.Hour, "https://sign.example.com")
	assert.True(t, signer.Validate("doc-1", "rcp-1", q.Get("expires"), q.Get("signature")))
	assert.True(t, strings.HasPrefix(lines[1], "expires "))
}

func TestMigrateRequiresDatabase(t *testing.T) {
	t.Setenv("DOKEY_DATABASE_URL", "")
	_, err := runCLI(t, "migrate")
	assert.ErrorContains(t, err, "DOKEY_DATABASE_URL")
}
