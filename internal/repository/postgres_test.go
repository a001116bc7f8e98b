package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/dokey/internal/database"
	"github.com/dharsanguruparan/dokey/internal/model"
	"github.com/dharsanguruparan/dokey/internal/storage"
)

func newTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("DOKEY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("DOKEY_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := database.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.EnsureSchema(ctx, pool))
	return NewPostgresStore(pool)
}

func TestPostgresFieldLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := &model.Document{OrgID: "org-test", OwnerID: "u1", Title: "Lease"}
	require.NoError(t, s.CreateDocument(ctx, doc))
	t.Cleanup(func() { _ = s.DeleteDocument(context.Background(), doc.ID) })

	rcps, err := s.ReplaceRecipients(ctx, doc.ID, []model.Recipient{{Name: "Ann", Email: "ann@example.com", Role: "signer", DeliveryMethod: model.DeliveryEmail}})
	require.NoError(t, err)
	require.Len(t, rcps, 1)
	rcp := rcps[0].ID

	var fieldID string
	err = s.WithTx(ctx, storage.TxOptions{}, func(ctx context.Context, tx storage.Tx) error {
		p1, err := tx.UpsertPage(ctx, doc.ID, 1, model.Dimensions{Width: 612, Height: 792})
		if err != nil {
			return err
		}
		again, err := tx.UpsertPage(ctx, doc.ID, 1, model.Dimensions{Width: 600, Height: 800})
		if err != nil {
			return err
		}
		assert.Equal(t, p1.ID, again.ID)
		_, err = tx.UpsertPage(ctx, doc.ID, 2, model.Dimensions{Width: 612, Height: 792})
		if err != nil {
			return err
		}
		fieldID, err = tx.CreateField(ctx, p1.ID.String(), model.Field{
			Type: model.FieldSignature, X: 10, Y: 20, Width: 100, Height: 30,
			Required: true, RecipientID: &rcp, Options: []string{"a"},
		})
		return err
	})
	require.NoError(t, err)

	got, err := s.FindDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, got.Pages, 2)
	assert.Equal(t, 600.0, got.Pages[0].Width)
	require.Len(t, got.Pages[0].Fields, 1)
	assert.Equal(t, []string{"a"}, got.Pages[0].Fields[0].Options)

	v := "Ann"
	ok, err := s.SetFieldValue(ctx, doc.ID, rcp, fieldID, &v)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.SetFieldValue(ctx, doc.ID, "someone-else", fieldID, &v)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.DeletePagesAfter(ctx, doc.ID, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.DeleteFieldsNotIn(ctx, got.Pages[0].ID.String(), nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestPostgresCompletion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := &model.Document{OrgID: "org-test", OwnerID: "u1", Title: "NDA"}
	require.NoError(t, s.CreateDocument(ctx, doc))
	t.Cleanup(func() { _ = s.DeleteDocument(context.Background(), doc.ID) })
	rcp, err := s.CreateRecipient(ctx, doc.ID, model.Recipient{Name: "Bo", Email: "bo@example.com", Role: "signer"})
	require.NoError(t, err)

	done, err := s.CompleteIfAllSubmitted(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, done, "draft documents never complete")

	require.NoError(t, s.UpdateDocumentStatus(ctx, doc.ID, model.StatusSent))
	require.NoError(t, s.UpdateRecipientSubmittedAt(ctx, rcp.ID, time.Now()))
	assert.ErrorIs(t, s.UpdateRecipientSubmittedAt(ctx, rcp.ID, time.Now()), storage.ErrNotFound)

	done, err = s.CompleteIfAllSubmitted(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, done)

	list, total, err := s.ListDocuments(ctx, "org-test", storage.ListQuery{Search: "nd", Status: model.StatusCompleted})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 1)
	assert.NotEmpty(t, list)
}
