package editor

import (
	"slices"

	"github.com/dharsanguruparan/dokey/internal/model"
)

// DuplicateOffset is how far a duplicated field is shifted on both axes.
const DuplicateOffset = 20

// Default geometry for documents that have no pages yet (US Letter at 72 DPI).
const (
	DefaultPageCount  = 11
	DefaultPageWidth  = 612
	DefaultPageHeight = 792
)

// The functions below never modify their input. When an operation references a
// page or field that does not exist they return the input slice unchanged and
// false, so callers can skip notifying observers.

// FieldUpdate is a partial update merged into a field. Nil pointers leave the
// corresponding attribute untouched.
type FieldUpdate struct {
	Type           *model.FieldType
	X, Y           *float64
	Width, Height  *float64
	Value          *string
	ClearValue     bool
	Required       *bool
	RecipientID    *string
	ClearRecipient bool
	Label          *string
	Placeholder    *string
	DefaultValue   *string
	Options        []string
}

// Apply returns f with the update merged in.
func (u FieldUpdate) Apply(f model.Field) model.Field {
	f = f.Clone()
	if u.Type != nil {
		f.Type = *u.Type
	}
	if u.X != nil {
		f.X = *u.X
	}
	if u.Y != nil {
		f.Y = *u.Y
	}
	if u.Width != nil {
		f.Width = *u.Width
	}
	if u.Height != nil {
		f.Height = *u.Height
	}
	switch {
	case u.ClearValue:
		f.Value = nil
	case u.Value != nil:
		v := *u.Value
		f.Value = &v
	}
	if u.Required != nil {
		f.Required = *u.Required
	}
	switch {
	case u.ClearRecipient:
		f.RecipientID = nil
	case u.RecipientID != nil:
		r := *u.RecipientID
		f.RecipientID = &r
	}
	if u.Label != nil {
		f.Label = *u.Label
	}
	if u.Placeholder != nil {
		f.Placeholder = *u.Placeholder
	}
	if u.DefaultValue != nil {
		f.DefaultValue = *u.DefaultValue
	}
	if u.Options != nil {
		f.Options = slices.Clone(u.Options)
	}
	return f
}

// Move is a FieldUpdate that only changes position.
func Move(x, y float64) FieldUpdate {
	return FieldUpdate{X: &x, Y: &y}
}

func pageIndex(pages []model.Page, pageNumber int) int {
	return slices.IndexFunc(pages, func(p model.Page) bool { return p.PageNumber == pageNumber })
}

func fieldIndex(fields []model.Field, id model.ID) int {
	return slices.IndexFunc(fields, func(f model.Field) bool { return f.ID == id })
}

// withPage returns a copy of pages whose element i is replaced by p.
func withPage(pages []model.Page, i int, p model.Page) []model.Page {
	out := slices.Clone(pages)
	out[i] = p
	return out
}

// renumber assigns page numbers 1..N in slice order. pages must be a slice the
// caller owns.
func renumber(pages []model.Page) []model.Page {
	for i := range pages {
		pages[i].PageNumber = i + 1
	}
	return pages
}

// AddField appends f to the page numbered pageNumber.
func AddField(pages []model.Page, pageNumber int, f model.Field) ([]model.Page, bool) {
	i := pageIndex(pages, pageNumber)
	if i < 0 {
		return pages, false
	}
	p := pages[i]
	f = f.Clone()
	f.PageID = p.ID
	fields := make([]model.Field, 0, len(p.Fields)+1)
	fields = append(fields, p.Fields...)
	p.Fields = append(fields, f)
	return withPage(pages, i, p), true
}

// UpdateField merges u into the matching field.
func UpdateField(pages []model.Page, pageNumber int, id model.ID, u FieldUpdate) ([]model.Page, bool) {
	i := pageIndex(pages, pageNumber)
	if i < 0 {
		return pages, false
	}
	p := pages[i]
	j := fieldIndex(p.Fields, id)
	if j < 0 {
		return pages, false
	}
	updated := u.Apply(p.Fields[j])
	if updated.Equal(p.Fields[j]) {
		return pages, false
	}
	p.Fields = slices.Clone(p.Fields)
	p.Fields[j] = updated
	return withPage(pages, i, p), true
}

// DeleteField removes the matching field from its page.
func DeleteField(pages []model.Page, pageNumber int, id model.ID) ([]model.Page, bool) {
	i := pageIndex(pages, pageNumber)
	if i < 0 {
		return pages, false
	}
	p := pages[i]
	j := fieldIndex(p.Fields, id)
	if j < 0 {
		return pages, false
	}
	p.Fields = slices.Delete(slices.Clone(p.Fields), j, j+1)
	return withPage(pages, i, p), true
}

// DuplicateField clones the matching field under a fresh temporary id, shifted
// by DuplicateOffset on both axes, and returns the clone's id.
func DuplicateField(pages []model.Page, pageNumber int, id model.ID) ([]model.Page, model.ID, bool) {
	i := pageIndex(pages, pageNumber)
	if i < 0 {
		return pages, "", false
	}
	j := fieldIndex(pages[i].Fields, id)
	if j < 0 {
		return pages, "", false
	}
	clone := pages[i].Fields[j].Clone()
	clone.ID = model.NewTemporaryID()
	clone.X += DuplicateOffset
	clone.Y += DuplicateOffset
	out, _ := AddField(pages, pageNumber, clone)
	return out, clone.ID, true
}

// AddPage inserts p after the page numbered afterPageNumber, or appends it
// when no such page exists, then renumbers all pages.
func AddPage(pages []model.Page, afterPageNumber int, p model.Page) []model.Page {
	p = p.Clone()
	if p.ID == "" {
		p.ID = model.NewTemporaryPageID()
	}
	for k := range p.Fields {
		p.Fields[k].PageID = p.ID
	}
	out := make([]model.Page, 0, len(pages)+1)
	out = append(out, pages...)
	if i := pageIndex(pages, afterPageNumber); i >= 0 {
		out = slices.Insert(out, i+1, p)
	} else {
		out = append(out, p)
	}
	return renumber(out)
}

// DuplicatePage clones the page numbered pageNumber and all of its fields
// under fresh temporary ids and inserts the copy right after the source.
func DuplicatePage(pages []model.Page, pageNumber int) ([]model.Page, bool) {
	i := pageIndex(pages, pageNumber)
	if i < 0 {
		return pages, false
	}
	clone := pages[i].Clone()
	clone.ID = model.NewTemporaryPageID()
	for k := range clone.Fields {
		clone.Fields[k].ID = model.NewTemporaryID()
		clone.Fields[k].PageID = clone.ID
	}
	out := make([]model.Page, 0, len(pages)+1)
	out = append(out, pages...)
	out = slices.Insert(out, i+1, clone)
	return renumber(out), true
}

// DeletePage removes the page numbered pageNumber with its fields and
// renumbers the remaining pages to 1..N.
func DeletePage(pages []model.Page, pageNumber int) ([]model.Page, bool) {
	i := pageIndex(pages, pageNumber)
	if i < 0 {
		return pages, false
	}
	out := slices.Delete(slices.Clone(pages), i, i+1)
	return renumber(out), true
}

// Remap replaces every temporary field id present in m with its persisted id.
func Remap(pages []model.Page, m model.IDMapping) ([]model.Page, bool) {
	if len(m) == 0 {
		return pages, false
	}
	out := pages
	changed := false
	for i, p := range pages {
		var fields []model.Field
		for j, f := range p.Fields {
			real, ok := m[f.ID]
			if !ok {
				continue
			}
			if fields == nil {
				fields = slices.Clone(p.Fields)
			}
			fields[j].ID = real
		}
		if fields == nil {
			continue
		}
		if !changed {
			out = slices.Clone(pages)
			changed = true
		}
		p.Fields = fields
		out[i] = p
	}
	return out, changed
}

// FindField locates a field by id across all pages and returns the number of
// the page holding it.
func FindField(pages []model.Page, id model.ID) (model.Field, int, bool) {
	for _, p := range pages {
		if j := fieldIndex(p.Fields, id); j >= 0 {
			return p.Fields[j], p.PageNumber, true
		}
	}
	return model.Field{}, 0, false
}

// InitialPages returns the pages an editing session starts from: the
// document's own pages, or DefaultPageCount blank pages when it has none.
func InitialPages(doc *model.Document) []model.Page {
	if len(doc.Pages) > 0 {
		out := make([]model.Page, len(doc.Pages))
		for i, p := range doc.Pages {
			out[i] = p.Clone()
		}
		return out
	}
	out := make([]model.Page, DefaultPageCount)
	for i := range out {
		out[i] = model.Page{
			ID:         model.NewTemporaryPageID(),
			PageNumber: i + 1,
			Width:      DefaultPageWidth,
			Height:     DefaultPageHeight,
			Fields:     []model.Field{},
		}
	}
	return out
}
