package autosave

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/dokey/internal/editor"
	"github.com/dharsanguruparan/dokey/internal/model"
	"github.com/dharsanguruparan/dokey/internal/reconcile"
	"github.com/dharsanguruparan/dokey/internal/storage"
)

const window = 20 * time.Millisecond

// fakeSyncer assigns "real-N" ids to temporary fields and records every call.
type fakeSyncer struct {
	mu       sync.Mutex
	calls    [][]model.Page
	fail     error
	block    chan struct{}
	inFlight int
	maxIn    int
	next     int
}

func (f *fakeSyncer) Sync(ctx context.Context, _ string, pages []model.Page) (model.IDMapping, error) {
	f.mu.Lock()
	f.calls = append(f.calls, pages)
	f.inFlight++
	f.maxIn = max(f.maxIn, f.inFlight)
	block, fail := f.block, f.fail
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if fail != nil {
		return nil, fail
	}
	mapping := model.IDMapping{}
	for _, p := range pages {
		for _, fld := range p.Fields {
			if fld.ID.Temporary() {
				f.next++
				mapping[fld.ID] = model.ID("real-" + string(rune('0'+f.next)))
			}
		}
	}
	return mapping, nil
}

func (f *fakeSyncer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSyncer) last() []model.Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type recordingNotifier struct {
	mu     sync.Mutex
	saved  int
	failed []error
}

func (n *recordingNotifier) Saved(string, int) {
	n.mu.Lock()
	n.saved++
	n.mu.Unlock()
}

func (n *recordingNotifier) SaveFailed(_ string, err error) {
	n.mu.Lock()
	n.failed = append(n.failed, err)
	n.mu.Unlock()
}

func (n *recordingNotifier) failures() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.failed)
}

func newSession(t *testing.T, syncer Syncer) (*editor.Store, *Engine, *recordingNotifier) {
	t.Helper()
	store := editor.NewStore()
	store.SetDocument(editor.InitialPages(&model.Document{}), nil)
	notifier := &recordingNotifier{}
	log, _ := test.NewNullLogger()
	e := New(store, Config{DocumentID: "doc-1", Window: window, Syncer: syncer, Notifier: notifier, Log: log})
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return store, e, notifier
}

func textField(id model.ID, x float64) model.Field {
	return model.Field{ID: id, Type: model.FieldText, X: x, Y: 10, Width: 100, Height: 20}
}

func TestBurstCollapsesIntoOneSave(t *testing.T) {
	syncer := &fakeSyncer{}
	store, _, _ := newSession(t, syncer)

	store.AddField(1, textField("temp_a", 0))
	for x := 1; x <= 5; x++ {
		store.UpdateField(1, "temp_a", editor.Move(float64(x), 10))
	}

	require.Eventually(t, func() bool { return syncer.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(3 * window)
	assert.Equal(t, 1, syncer.count())

	saved := syncer.last()
	assert.Equal(t, 5.0, saved[0].Fields[0].X)
}

func TestMappingIsAppliedWithoutRescheduling(t *testing.T) {
	syncer := &fakeSyncer{}
	store, _, _ := newSession(t, syncer)

	store.AddField(1, textField("temp_a", 0))
	require.Eventually(t, func() bool {
		f, _, ok := editor.FindField(store.Pages(), "real-1")
		return ok && f.X == 0
	}, time.Second, 5*time.Millisecond)

	time.Sleep(3 * window)
	assert.Equal(t, 1, syncer.count())
	assert.False(t, store.State().IsSaving)
}

func TestFailedSaveKeepsEditsAndWaitsForRetry(t *testing.T) {
	syncer := &fakeSyncer{fail: errors.New("network down")}
	store, e, notifier := newSession(t, syncer)

	store.AddField(1, textField("temp_a", 0))
	require.Eventually(t, func() bool { return notifier.failures() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(3 * window)
	assert.Equal(t, 1, syncer.count(), "no automatic retry")
	assert.True(t, e.Dirty())
	_, _, ok := editor.FindField(store.Pages(), "temp_a")
	assert.True(t, ok, "edits are not rolled back")

	syncer.mu.Lock()
	syncer.fail = nil
	syncer.mu.Unlock()
	require.NoError(t, e.Flush(context.Background()))
	assert.False(t, e.Dirty())
	_, _, ok = editor.FindField(store.Pages(), "real-1")
	assert.True(t, ok)
}

func TestSavesAreSerialized(t *testing.T) {
	syncer := &fakeSyncer{block: make(chan struct{})}
	store, _, _ := newSession(t, syncer)

	store.AddField(1, textField("temp_a", 0))
	require.Eventually(t, func() bool { return syncer.count() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, store.State().IsSaving)

	// Edit while the first save is in flight.
	store.UpdateField(1, "temp_a", editor.Move(50, 10))
	store.AddField(2, textField("temp_b", 0))
	time.Sleep(3 * window)
	assert.Equal(t, 1, syncer.count())

	close(syncer.block)
	require.Eventually(t, func() bool { return syncer.count() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !store.State().IsSaving }, time.Second, 5*time.Millisecond)

	syncer.mu.Lock()
	assert.Equal(t, 1, syncer.maxIn)
	syncer.mu.Unlock()
	second := syncer.last()
	require.Len(t, second[0].Fields, 1)
	assert.Equal(t, model.ID("real-1"), second[0].Fields[0].ID)
	assert.Equal(t, 50.0, second[0].Fields[0].X)
	require.Len(t, second[1].Fields, 1)
	assert.Equal(t, model.ID("temp_b"), second[1].Fields[0].ID)
}

func TestCloseFlushesPendingEdits(t *testing.T) {
	syncer := &fakeSyncer{}
	store := editor.NewStore()
	store.SetDocument(editor.InitialPages(&model.Document{}), nil)
	log, _ := test.NewNullLogger()
	e := New(store, Config{DocumentID: "doc-1", Window: time.Hour, Syncer: syncer, Log: log})

	store.AddField(1, textField("temp_a", 0))
	require.NoError(t, e.Close(context.Background()))
	assert.Equal(t, 1, syncer.count())

	store.AddField(1, textField("temp_b", 0))
	require.NoError(t, e.Close(context.Background()))
	assert.Equal(t, 1, syncer.count())
}

func TestEndToEndWithReconciler(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	doc := &model.Document{OrgID: "org", Title: "Lease"}
	require.NoError(t, mem.CreateDocument(ctx, doc))
	log, _ := test.NewNullLogger()
	rec := reconcile.New(mem, log)

	store := editor.NewStore()
	store.SetDocument(editor.InitialPages(doc), nil)
	e := New(store, Config{DocumentID: doc.ID, Window: window, Syncer: rec, Log: log})

	store.AddField(1, textField("temp_a", 100))
	clone := store.DuplicateField(1, "temp_a")
	require.NotEmpty(t, clone)
	require.NoError(t, e.Flush(ctx))

	loaded, err := mem.FindDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Pages, editor.DefaultPageCount)
	require.Len(t, loaded.Pages[0].Fields, 2)
	for _, p := range store.Pages() {
		for _, f := range p.Fields {
			assert.True(t, f.ID.Persisted(), f.ID)
		}
	}
	assert.True(t, store.State().SelectedFieldID.Persisted())

	store.DeletePage(11)
	require.NoError(t, e.Close(ctx))
	loaded, err = mem.FindDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Pages, editor.DefaultPageCount-1)
}
