// Package pdfutil reads page geometry out of uploaded PDFs.
package pdfutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	pdf "github.com/ledongthuc/pdf"

	"github.com/dharsanguruparan/dokey/internal/model"
)

// Letter is used for pages that carry no usable MediaBox.
var Letter = model.Dimensions{Width: 612, Height: 792}

// ErrNoPages is returned for documents whose page tree is empty.
var ErrNoPages = errors.New("pdf has no pages")

// PageSizes returns the displayed size of every page, in order. Page boxes
// and rotation are inherited through the page tree as PDF requires.
func PageSizes(data []byte) (dims []model.Dimensions, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			dims, err = nil, fmt.Errorf("parse pdf: %v", r)
		}
	}()
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("new pdf reader: %w", err)
	}
	total := doc.NumPage()
	if total < 1 {
		return nil, ErrNoPages
	}
	dims = make([]model.Dimensions, 0, total)
	for n := 1; n <= total; n++ {
		dims = append(dims, pageSize(doc.Page(n)))
	}
	return dims, nil
}

// PageSizesFromReader drains r before passing along to PageSizes.
func PageSizesFromReader(r io.Reader) ([]model.Dimensions, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	return PageSizes(data)
}

func pageSize(p pdf.Page) model.Dimensions {
	if p.V.IsNull() {
		return Letter
	}
	box := inherited(p.V, "MediaBox")
	if box.Len() != 4 {
		return Letter
	}
	w := math.Abs(box.Index(2).Float64() - box.Index(0).Float64())
	h := math.Abs(box.Index(3).Float64() - box.Index(1).Float64())
	if w == 0 || h == 0 {
		return Letter
	}
	rotate := int(inherited(p.V, "Rotate").Int64()) % 360
	if rotate < 0 {
		rotate += 360
	}
	if rotate == 90 || rotate == 270 {
		w, h = h, w
	}
	return model.Dimensions{Width: w, Height: h}
}

// inherited looks key up on the page and then on its ancestors.
func inherited(v pdf.Value, key string) pdf.Value {
	for depth := 0; !v.IsNull() && depth < 64; depth++ {
		if found := v.Key(key); !found.IsNull() {
			return found
		}
		v = v.Key("Parent")
	}
	return pdf.Value{}
}
