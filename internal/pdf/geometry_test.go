package pdfutil

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/dokey/internal/model"
)

// buildPDF assembles a minimal PDF with a correct cross reference table.
func buildPDF(objects ...string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestPageSizesInheritsMediaBox(t *testing.T) {
	data := buildPDF(
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R 4 0 R 5 0 R] /Count 3 /MediaBox [0 0 612 792] >>",
		"<< /Type /Page /Parent 2 0 R >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 842 595] >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 842 595] /Rotate 90 >>",
	)

	dims, err := PageSizes(data)
	require.NoError(t, err)
	assert.Equal(t, []model.Dimensions{
		{Width: 612, Height: 792},
		{Width: 842, Height: 595},
		{Width: 595, Height: 842},
	}, dims)
}

func TestPageSizesFromReader(t *testing.T) {
	data := buildPDF(
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R >>",
	)
	dims, err := PageSizesFromReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, []model.Dimensions{Letter}, dims)
}

func TestPageSizesRejectsGarbage(t *testing.T) {
	_, err := PageSizes([]byte("definitely not a pdf"))
	assert.Error(t, err)

	_, err = PageSizesFromReader(strings.NewReader(""))
	assert.Error(t, err)
}
