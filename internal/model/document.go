// Package model contains the document, page, field and recipient types shared
// by the editor, the synchronization protocol, storage and the signing flow.
package model

import (
	"slices"
	"time"
)

// DocumentStatus describes where a document is in its signing lifecycle.
type DocumentStatus string

const (
	StatusDraft     DocumentStatus = "draft"
	StatusSent      DocumentStatus = "sent"
	StatusCompleted DocumentStatus = "completed"
)

// FieldType enumerates the fillable widgets that can be placed on a page.
type FieldType string

const (
	FieldText      FieldType = "text"
	FieldSignature FieldType = "signature"
	FieldInitials  FieldType = "initials"
	FieldDate      FieldType = "date"
	FieldCheckbox  FieldType = "checkbox"
	FieldDropdown  FieldType = "dropdown"
	FieldRadio     FieldType = "radio"
	FieldStamp     FieldType = "stamp"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldSignature, FieldInitials, FieldDate, FieldCheckbox, FieldDropdown, FieldRadio, FieldStamp:
		return true
	}
	return false
}

// DeliveryMethod is how a recipient receives their signing link.
type DeliveryMethod string

const (
	DeliveryEmail DeliveryMethod = "email"
	DeliverySMS   DeliveryMethod = "sms"
	DeliveryLink  DeliveryMethod = "link"
)

func (m DeliveryMethod) Valid() bool {
	return m == DeliveryEmail || m == DeliverySMS || m == DeliveryLink
}

// Field is a fillable widget placed on a page.
type Field struct {
	ID           ID        `json:"id"`
	Type         FieldType `json:"type"`
	X            float64   `json:"x"`
	Y            float64   `json:"y"`
	Width        float64   `json:"width"`
	Height       float64   `json:"height"`
	PageID       ID        `json:"pageId"`
	Value        *string   `json:"value"`
	Required     bool      `json:"required"`
	RecipientID  *string   `json:"recipientId"`
	Label        string    `json:"label,omitempty"`
	Placeholder  string    `json:"placeholder,omitempty"`
	DefaultValue string    `json:"defaultValue,omitempty"`
	Options      []string  `json:"options,omitempty"`
}

// Clone returns a deep copy of f.
func (f Field) Clone() Field {
	if f.Value != nil {
		v := *f.Value
		f.Value = &v
	}
	if f.RecipientID != nil {
		r := *f.RecipientID
		f.RecipientID = &r
	}
	f.Options = slices.Clone(f.Options)
	return f
}

// Equal compares two fields by value.
func (f Field) Equal(o Field) bool {
	return f.ID == o.ID &&
		f.Type == o.Type &&
		f.X == o.X && f.Y == o.Y &&
		f.Width == o.Width && f.Height == o.Height &&
		f.PageID == o.PageID &&
		equalPtr(f.Value, o.Value) &&
		f.Required == o.Required &&
		equalPtr(f.RecipientID, o.RecipientID) &&
		f.Label == o.Label &&
		f.Placeholder == o.Placeholder &&
		f.DefaultValue == o.DefaultValue &&
		slices.Equal(f.Options, o.Options)
}

// AssignedTo reports whether the field belongs to the given recipient.
func (f Field) AssignedTo(recipientID string) bool {
	return f.RecipientID != nil && *f.RecipientID == recipientID
}

// Page is one page of a document together with the fields placed on it.
type Page struct {
	ID         ID      `json:"id"`
	PageNumber int     `json:"pageNumber"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Fields     []Field `json:"fields"`
}

// Clone returns a deep copy of p.
func (p Page) Clone() Page {
	fields := make([]Field, len(p.Fields))
	for i, f := range p.Fields {
		fields[i] = f.Clone()
	}
	p.Fields = fields
	return p
}

// Dimensions is the size of a page in PDF user space units.
type Dimensions struct {
	Width  float64
	Height float64
}

// Recipient is a party asked to fill and sign fields of a document.
type Recipient struct {
	ID             string         `json:"id"`
	DocumentID     string         `json:"documentId,omitempty"`
	Name           string         `json:"name"`
	Email          string         `json:"email"`
	Role           string         `json:"role"`
	Color          string         `json:"color"`
	DeliveryMethod DeliveryMethod `json:"deliveryMethod"`
	SubmittedAt    *time.Time     `json:"submittedAt"`
}

// Submitted reports whether the recipient has completed signing.
func (r Recipient) Submitted() bool { return r.SubmittedAt != nil }

// Document is the aggregate root: a PDF with pages, fields and recipients.
type Document struct {
	ID         string         `json:"id"`
	OrgID      string         `json:"orgId"`
	OwnerID    string         `json:"ownerId"`
	Title      string         `json:"title"`
	Status     DocumentStatus `json:"status"`
	PDFKey     string         `json:"-"`
	PDFURL     string         `json:"pdfUrl,omitempty"`
	Pages      []Page         `json:"pages"`
	Recipients []Recipient    `json:"recipients"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Recipient looks up a recipient of the document by id.
func (d *Document) Recipient(id string) (Recipient, bool) {
	for _, r := range d.Recipients {
		if r.ID == id {
			return r, true
		}
	}
	return Recipient{}, false
}

// FieldsFor returns every field across all pages assigned to recipientID.
func (d *Document) FieldsFor(recipientID string) []Field {
	var out []Field
	for _, p := range d.Pages {
		for _, f := range p.Fields {
			if f.AssignedTo(recipientID) {
				out = append(out, f)
			}
		}
	}
	return out
}

// AllSubmitted reports whether every recipient has submitted.
func (d *Document) AllSubmitted() bool {
	for _, r := range d.Recipients {
		if !r.Submitted() {
			return false
		}
	}
	return len(d.Recipients) > 0
}

// DocumentSummary is the listing projection of a document.
type DocumentSummary struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Status    DocumentStatus `json:"status"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
