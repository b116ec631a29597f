package compose

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"certverify/internal/extract"
	"certverify/internal/qr"
	"certverify/internal/render"
)

const testID = "123e4567-e89b-12d3-a456-426614174000"

func sourcePDF(t *testing.T, pages int) []byte {
	t.Helper()
	doc := fpdf.New("P", "pt", "Letter", "")
	for i := 0; i < pages; i++ {
		doc.AddPage()
		doc.SetFont("Helvetica", "B", 28)
		doc.Text(72, 144, "Certificate of Completion")
		// Dark footer band where the code is placed.
		doc.SetFillColor(20, 30, 60)
		_, h := doc.GetPageSize()
		doc.Rect(0, h-200, 612, 200, "F")
	}
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func darkImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 40, G: 40, B: 40, A: 255}}, image.Point{}, draw.Src)
	return img
}

func newComposer(t *testing.T) *Composer {
	return New(qr.NewCodec(), NewMemoryViews(0), zaptest.NewLogger(t))
}

func extractFirstPage(t *testing.T, data []byte) string {
	t.Helper()
	img, err := render.PDFPage(context.Background(), data, 1, 4.0)
	require.NoError(t, err)
	id, err := extract.New(qr.NewCodec()).Extract(img)
	require.NoError(t, err)
	return id
}

func TestComposePDFRoundTrip(t *testing.T) {
	c := newComposer(t)

	doc, err := c.Compose(context.Background(), Original{Data: sourcePDF(t, 3)}, testID)
	require.NoError(t, err)
	require.NotEmpty(t, doc.Handle)

	assert.Equal(t, render.KindPDF, render.Detect(doc.Bytes))
	assert.Equal(t, testID, extractFirstPage(t, doc.Bytes))

	pages, err := render.PageCount(doc.Bytes)
	require.NoError(t, err)
	assert.Equal(t, 3, pages)

	subject, err := render.Subject(doc.Bytes)
	require.NoError(t, err)
	assert.Equal(t, testID, subject)
}

func TestComposeOnlyFirstPageCarriesCode(t *testing.T) {
	doc, err := newComposer(t).Compose(context.Background(), Original{Data: sourcePDF(t, 2)}, testID)
	require.NoError(t, err)

	img, err := render.PDFPage(context.Background(), doc.Bytes, 2, 4.0)
	require.NoError(t, err)
	_, err = qr.NewCodec().Decode(img)
	assert.ErrorIs(t, err, qr.ErrNotFound)
}

func TestComposeImage(t *testing.T) {
	tests := []struct {
		name   string
		encode func(*bytes.Buffer, image.Image) error
	}{
		{"png", func(b *bytes.Buffer, m image.Image) error { return png.Encode(b, m) }},
		{"jpeg", func(b *bytes.Buffer, m image.Image) error { return jpeg.Encode(b, m, &jpeg.Options{Quality: 90}) }},
		{"gif", func(b *bytes.Buffer, m image.Image) error { return gif.Encode(b, m, nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var src bytes.Buffer
			require.NoError(t, tt.encode(&src, darkImage(800, 600)))

			doc, err := newComposer(t).Compose(context.Background(), Original{Data: src.Bytes(), IsImage: true}, testID)
			require.NoError(t, err)

			pages, err := render.PageCount(doc.Bytes)
			require.NoError(t, err)
			assert.Equal(t, 1, pages)

			img, err := render.PDFPage(context.Background(), doc.Bytes, 1, 1.0)
			require.NoError(t, err)
			assert.InDelta(t, 800, img.Width, 2)
			assert.InDelta(t, 600, img.Height, 2)

			assert.Equal(t, testID, extractFirstPage(t, doc.Bytes))
		})
	}
}

func TestComposeRejectsInvalidSource(t *testing.T) {
	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, darkImage(10, 10)))

	tests := []struct {
		name string
		orig Original
		id   string
	}{
		{"garbage pdf", Original{Data: []byte("not a pdf")}, testID},
		{"truncated pdf", Original{Data: []byte("%PDF-1.4\n1 0 obj\n")}, testID},
		{"image declared as pdf", Original{Data: pngBuf.Bytes()}, testID},
		{"pdf declared as image", Original{Data: sourcePDF(t, 1), IsImage: true}, testID},
		{"garbage image", Original{Data: []byte{0x89, 'P', 'N', 'G'}, IsImage: true}, testID},
		{"empty identifier", Original{Data: sourcePDF(t, 1)}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := newComposer(t).Compose(context.Background(), tt.orig, tt.id)
			assert.ErrorIs(t, err, ErrCompose)
			assert.Nil(t, doc)
		})
	}
}

func TestComposeWarnsOnNonCanonicalID(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	c := New(qr.NewCodec(), nil, zap.New(core))

	_, err := c.Compose(context.Background(), Original{Data: sourcePDF(t, 1)}, "CERT-2024-001")
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessageSnippet("not canonical").Len())

	_, err = c.Compose(context.Background(), Original{Data: sourcePDF(t, 1)}, testID)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.Len())
}

func TestComposeWithoutViews(t *testing.T) {
	c := New(qr.NewCodec(), nil, nil)

	doc, err := c.Compose(context.Background(), Original{Data: sourcePDF(t, 1)}, testID)
	require.NoError(t, err)
	assert.Empty(t, doc.Handle)
	assert.NotEmpty(t, doc.Bytes)
}

// rawPDF writes a one-page PDF by hand so page dictionaries can carry entries fpdf never
// emits, such as /Rotate and /CropBox. The page draws a 200pt black square at (100, 300).
func rawPDF(t *testing.T, pageEntries string) []byte {
	t.Helper()
	content := "0 0 0 rg 100 300 200 200 re f"
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R " + pageEntries + " /Resources << >> /Contents 4 0 R >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func isDark(img image.Image, x, y int) bool {
	r, g, b, _ := img.At(x, y).RGBA()
	return r>>8 < 80 && g>>8 < 80 && b>>8 < 80
}

// darkBounds is the bounding box of dark pixels.
func darkBounds(img image.Image) image.Rectangle {
	var box image.Rectangle
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if isDark(img, x, y) {
				box = box.Union(image.Rect(x, y, x+1, y+1))
			}
		}
	}
	return box
}

func TestComposePreservesPageGeometry(t *testing.T) {
	tests := []struct {
		name          string
		page          string
		width, height int
	}{
		{"portrait", "/MediaBox [0 0 612 792]", 612, 792},
		{"landscape media box", "/MediaBox [0 0 842 595]", 842, 595},
		{"rotated 90", "/MediaBox [0 0 612 792] /Rotate 90", 792, 612},
		{"rotated 270", "/MediaBox [0 0 612 792] /Rotate 270", 792, 612},
		{"crop box", "/MediaBox [0 0 612 792] /CropBox [0 100 512 792]", 512, 692},
		{"offset media box", "/MediaBox [50 50 662 842]", 612, 792},
		{"rotated crop box", "/MediaBox [0 0 612 792] /CropBox [0 100 512 792] /Rotate 90", 692, 512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := rawPDF(t, tt.page)
			before, err := render.PDFPage(context.Background(), src, 1, 1.0)
			require.NoError(t, err)
			require.InDelta(t, tt.width, before.Width, 2)
			require.InDelta(t, tt.height, before.Height, 2)

			doc, err := newComposer(t).Compose(context.Background(), Original{Data: src}, testID)
			require.NoError(t, err)

			after, err := render.PDFPage(context.Background(), doc.Bytes, 1, 1.0)
			require.NoError(t, err)
			assert.InDelta(t, before.Width, after.Width, 2, "width")
			assert.InDelta(t, before.Height, after.Height, 2, "height")

			// The square keeps its place and shape; the code sits in the opposite corner.
			square := darkBounds(before.Pix)
			require.InDelta(t, 200, square.Dx(), 3)
			require.InDelta(t, 200, square.Dy(), 3)
			inset := square.Inset(5)
			for _, p := range []image.Point{
				inset.Min, {inset.Max.X - 1, inset.Min.Y}, {inset.Min.X, inset.Max.Y - 1},
				inset.Max.Sub(image.Pt(1, 1)), {(inset.Min.X + inset.Max.X) / 2, (inset.Min.Y + inset.Max.Y) / 2},
			} {
				assert.True(t, isDark(after.Pix, p.X, p.Y), "inside square at %v", p)
			}
			for _, p := range []image.Point{
				{square.Min.X - 6, square.Min.Y + 10}, {square.Min.X + 10, square.Min.Y - 6},
			} {
				assert.False(t, isDark(after.Pix, p.X, p.Y), "outside square at %v", p)
			}

			assert.Equal(t, testID, extractFirstPage(t, doc.Bytes))
		})
	}
}
