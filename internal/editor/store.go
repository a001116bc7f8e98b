// Package editor holds the client side editing session of a document: pure
// aggregate operations over pages and fields plus a Store that owns the
// current snapshot and notifies observers.
package editor

import (
	"sync"

	"github.com/dharsanguruparan/dokey/internal/model"
)

// Origin tags every pages notification so observers can tell user edits from
// updates the synchronization engine pushes back into the store.
type Origin int

const (
	OriginExternal Origin = iota
	OriginInternal
)

func (o Origin) String() string {
	if o == OriginInternal {
		return "internal"
	}
	return "external"
}

// State is an immutable snapshot of the session. Pages and Recipients are
// shared with the store and must not be modified by observers.
type State struct {
	Pages           []model.Page
	Recipients      []model.Recipient
	ActivePage      int
	IsSaving        bool
	SelectedFieldID model.ID
}

// PagesListener receives every change of the pages slice.
type PagesListener func(pages []model.Page, origin Origin)

// StateListener receives every state change.
type StateListener func(State)

// Store is the single owner of an editing session's state. Mutations replace
// the snapshot under a mutex; listeners run synchronously on the mutating
// goroutine after the lock is released.
type Store struct {
	mu     sync.Mutex
	state  State
	nextID int
	pagesL map[int]PagesListener
	stateL map[int]StateListener
}

// NewStore returns an empty store with page 1 active.
func NewStore() *Store {
	return &Store{
		state:  State{ActivePage: 1, Pages: []model.Page{}},
		pagesL: make(map[int]PagesListener),
		stateL: make(map[int]StateListener),
	}
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pages returns the current pages snapshot.
func (s *Store) Pages() []model.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Pages
}

// SubscribePages registers fn for pages changes and returns a function that
// removes it.
func (s *Store) SubscribePages(fn PagesListener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.pagesL[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.pagesL, id)
		s.mu.Unlock()
	}
}

// Subscribe registers fn for any state change.
func (s *Store) Subscribe(fn StateListener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.stateL[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.stateL, id)
		s.mu.Unlock()
	}
}

// update applies fn to a copy of the state. fn reports whether anything
// changed; listeners only run when it did.
func (s *Store) update(origin Origin, fn func(st *State) bool) {
	s.mu.Lock()
	next := s.state
	if !fn(&next) {
		s.mu.Unlock()
		return
	}
	pagesChanged := !samePages(s.state.Pages, next.Pages)
	s.state = next
	pl := make([]PagesListener, 0, len(s.pagesL))
	for _, l := range s.pagesL {
		pl = append(pl, l)
	}
	sl := make([]StateListener, 0, len(s.stateL))
	for _, l := range s.stateL {
		sl = append(sl, l)
	}
	s.mu.Unlock()

	if pagesChanged {
		for _, l := range pl {
			l(next.Pages, origin)
		}
	}
	for _, l := range sl {
		l(next)
	}
}

// samePages compares slice identity. Aggregate operations return their input
// unchanged on no-ops, so identity is enough to detect changes.
func samePages(a, b []model.Page) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return (a == nil) == (b == nil)
	}
	return &a[0] == &b[0]
}

// SetDocument replaces pages and recipients. It is used on initial load.
func (s *Store) SetDocument(pages []model.Page, recipients []model.Recipient) {
	s.setDocument(pages, recipients, OriginExternal)
}

func (s *Store) setDocument(pages []model.Page, recipients []model.Recipient, origin Origin) {
	if pages == nil {
		pages = []model.Page{}
	}
	s.update(origin, func(st *State) bool {
		st.Pages = pages
		st.Recipients = recipients
		if _, _, ok := FindField(pages, st.SelectedFieldID); !ok {
			st.SelectedFieldID = ""
		}
		return true
	})
}

// ApplyFieldIDMappings rewrites temporary field ids in the current pages with
// the persisted ids storage assigned. The resulting notification is tagged
// OriginInternal so it does not schedule another save.
func (s *Store) ApplyFieldIDMappings(m model.IDMapping) {
	s.update(OriginInternal, func(st *State) bool {
		pages, changed := Remap(st.Pages, m)
		if !changed {
			return false
		}
		st.Pages = pages
		if real, ok := m[st.SelectedFieldID]; ok {
			st.SelectedFieldID = real
		}
		return true
	})
}

// AddField appends f to a page.
func (s *Store) AddField(pageNumber int, f model.Field) {
	s.update(OriginExternal, func(st *State) bool {
		pages, ok := AddField(st.Pages, pageNumber, f)
		st.Pages = pages
		return ok
	})
}

// UpdateField merges u into a field.
func (s *Store) UpdateField(pageNumber int, id model.ID, u FieldUpdate) {
	s.update(OriginExternal, func(st *State) bool {
		pages, ok := UpdateField(st.Pages, pageNumber, id, u)
		st.Pages = pages
		return ok
	})
}

// DeleteField removes a field and clears the selection if it pointed at it.
func (s *Store) DeleteField(pageNumber int, id model.ID) {
	s.update(OriginExternal, func(st *State) bool {
		pages, ok := DeleteField(st.Pages, pageNumber, id)
		if !ok {
			return false
		}
		st.Pages = pages
		if st.SelectedFieldID == id {
			st.SelectedFieldID = ""
		}
		return true
	})
}

// DuplicateField clones a field and selects the clone. It returns the clone's
// id, or "" when the field does not exist.
func (s *Store) DuplicateField(pageNumber int, id model.ID) model.ID {
	var cloneID model.ID
	s.update(OriginExternal, func(st *State) bool {
		pages, newID, ok := DuplicateField(st.Pages, pageNumber, id)
		if !ok {
			return false
		}
		st.Pages = pages
		st.SelectedFieldID = newID
		cloneID = newID
		return true
	})
	return cloneID
}

// AddPage inserts p after afterPageNumber, or appends it.
func (s *Store) AddPage(afterPageNumber int, p model.Page) {
	s.update(OriginExternal, func(st *State) bool {
		st.Pages = AddPage(st.Pages, afterPageNumber, p)
		return true
	})
}

// DuplicatePage copies a page with all its fields.
func (s *Store) DuplicatePage(pageNumber int) {
	s.update(OriginExternal, func(st *State) bool {
		pages, ok := DuplicatePage(st.Pages, pageNumber)
		st.Pages = pages
		return ok
	})
}

// DeletePage removes a page with its fields.
func (s *Store) DeletePage(pageNumber int) {
	s.update(OriginExternal, func(st *State) bool {
		pages, ok := DeletePage(st.Pages, pageNumber)
		if !ok {
			return false
		}
		st.Pages = pages
		if _, _, found := FindField(pages, st.SelectedFieldID); !found {
			st.SelectedFieldID = ""
		}
		if st.ActivePage > len(pages) {
			st.ActivePage = max(len(pages), 1)
		}
		return true
	})
}

// SelectField selects a field; "" clears the selection.
func (s *Store) SelectField(id model.ID) {
	s.update(OriginExternal, func(st *State) bool {
		if st.SelectedFieldID == id {
			return false
		}
		st.SelectedFieldID = id
		return true
	})
}

// SetSaving toggles the in-flight save flag.
func (s *Store) SetSaving(saving bool) {
	s.update(OriginInternal, func(st *State) bool {
		if st.IsSaving == saving {
			return false
		}
		st.IsSaving = saving
		return true
	})
}

// SetActivePage changes the page shown in the editor.
func (s *Store) SetActivePage(n int) {
	s.update(OriginExternal, func(st *State) bool {
		if st.ActivePage == n {
			return false
		}
		st.ActivePage = n
		return true
	})
}

// AddRecipient appends a recipient to the session.
func (s *Store) AddRecipient(r model.Recipient) {
	s.update(OriginExternal, func(st *State) bool {
		recipients := make([]model.Recipient, 0, len(st.Recipients)+1)
		recipients = append(recipients, st.Recipients...)
		st.Recipients = append(recipients, r)
		return true
	})
}
