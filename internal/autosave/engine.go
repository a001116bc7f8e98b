// Package autosave keeps an editing session's pages persisted. It watches an
// editor.Store, collapses bursts of edits into one trailing save and writes
// the persisted ids returned by the server back into the store.
package autosave

import (
	"context"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/dokey/internal/editor"
	"github.com/dharsanguruparan/dokey/internal/model"
)

// DefaultWindow is the quiet period after the last edit before a save runs.
const DefaultWindow = 2 * time.Second

// Syncer persists a full page snapshot and returns the ids assigned to
// temporary fields. *reconcile.Reconciler and *Client both satisfy it.
type Syncer interface {
	Sync(ctx context.Context, documentID string, pages []model.Page) (model.IDMapping, error)
}

// Notifier is told about the outcome of every save. SaveFailed is the
// user-visible failure signal.
type Notifier interface {
	Saved(documentID string, created int)
	SaveFailed(documentID string, err error)
}

// LogNotifier reports saves through a logger.
type LogNotifier struct {
	Log logrus.FieldLogger
}

func (n LogNotifier) Saved(documentID string, created int) {
	n.Log.WithFields(logrus.Fields{"document_id": documentID, "fields_created": created}).Debug("document saved")
}

func (n LogNotifier) SaveFailed(documentID string, err error) {
	n.Log.WithError(err).WithField("document_id", documentID).Error("failed to save document")
}

// Config configures an Engine.
type Config struct {
	DocumentID string
	Window     time.Duration
	Syncer     Syncer
	Notifier   Notifier
	Log        logrus.FieldLogger
}

// Engine is the debounced save loop of one editing session.
type Engine struct {
	store    *editor.Store
	docID    string
	syncer   Syncer
	notifier Notifier
	schedule func(func())
	stop     func()

	// saveMu keeps at most one save in flight.
	saveMu sync.Mutex

	mu     sync.Mutex
	dirty  bool
	closed bool
	base   context.Context
	cancel context.CancelFunc
}

// New starts watching store. Only externally originated page changes
// schedule a save.
func New(store *editor.Store, cfg Config) *Engine {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = LogNotifier{Log: cfg.Log}
	}
	base, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:    store,
		docID:    cfg.DocumentID,
		syncer:   cfg.Syncer,
		notifier: cfg.Notifier,
		schedule: debounce.New(cfg.Window),
		base:     base,
		cancel:   cancel,
	}
	e.stop = store.SubscribePages(e.onPages)
	return e
}

func (e *Engine) onPages(_ []model.Page, origin editor.Origin) {
	if origin == editor.OriginInternal {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.dirty = true
	e.mu.Unlock()
	e.schedule(e.fire)
}

// fire runs on the debounce timer's goroutine.
func (e *Engine) fire() {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}
	_ = e.save(e.base)
}

// Dirty reports whether the store holds edits that have not been saved.
func (e *Engine) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty
}

// Flush saves pending edits immediately. It is also the manual retry after a
// failed save, since failures are not retried automatically.
func (e *Engine) Flush(ctx context.Context) error {
	return e.save(ctx)
}

// Close stops watching the store and flushes anything still pending.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	e.stop()
	err := e.save(ctx)
	e.cancel()
	return err
}

func (e *Engine) save(ctx context.Context) error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	if !e.dirty {
		e.mu.Unlock()
		return nil
	}
	e.dirty = false
	e.mu.Unlock()

	// The latest snapshot is read here, after the previous save finished, so
	// edits made while it was in flight are included.
	pages := e.store.Pages()
	e.store.SetSaving(true)
	defer e.store.SetSaving(false)

	mapping, err := e.syncer.Sync(ctx, e.docID, pages)
	if err != nil {
		// Local state is kept as is; the next edit or Flush retries it.
		e.mu.Lock()
		e.dirty = true
		e.mu.Unlock()
		e.notifier.SaveFailed(e.docID, err)
		return err
	}
	if len(mapping) > 0 {
		e.store.ApplyFieldIDMappings(mapping)
	}
	e.notifier.Saved(e.docID, len(mapping))
	return nil
}
