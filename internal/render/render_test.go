package render

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certverify/internal/qr"
)

const testID = "123e4567-e89b-12d3-a456-426614174000"

// pdfWithCode builds an A4 PDF whose first page carries a QR code in the bottom-right corner.
func pdfWithCode(t *testing.T, pages int, subject string) []byte {
	t.Helper()
	code, err := qr.NewCodec().EncodePNG(testID, 600)
	require.NoError(t, err)

	doc := fpdf.New("P", "pt", "A4", "")
	doc.SetSubject(subject, true)
	doc.RegisterImageOptionsReader("code", fpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(code))
	for i := 0; i < pages; i++ {
		doc.AddPage()
		doc.SetFont("Helvetica", "", 24)
		doc.Text(72, 120, "Certificate of Completion")
		if i == 0 {
			w, h := doc.GetPageSize()
			doc.ImageOptions("code", w-125, h-125, 100, 100, false, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")
		}
	}
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func TestInitIsIdempotent(t *testing.T) {
	Init(Options{Scale: 4})
	assert.False(t, Init(Options{Scale: 1}))
	assert.Greater(t, Scale(), 0.0)
}

func TestPDFPageRendersDecodableCode(t *testing.T) {
	data := pdfWithCode(t, 2, "")

	img, err := PDFPage(context.Background(), data, 1, 4.0)
	require.NoError(t, err)

	// A4 is 595x842pt.
	assert.InDelta(t, 595*4, img.Width, 4)
	assert.InDelta(t, 842*4, img.Height, 4)

	text, err := qr.NewCodec().Decode(img)
	require.NoError(t, err)
	assert.Equal(t, testID, text)
}

func TestPDFPagePaintsWhiteBackground(t *testing.T) {
	doc := fpdf.New("P", "pt", "A6", "")
	doc.AddPage()
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))

	img, err := PDFPage(context.Background(), buf.Bytes(), 1, 1.0)
	require.NoError(t, err)

	r, g, b, a := img.Pix.At(img.Width-5, img.Height-5).RGBA()
	assert.Equal(t, [4]uint32{0xffff, 0xffff, 0xffff, 0xffff}, [4]uint32{r, g, b, a})
}

func TestPDFPageErrors(t *testing.T) {
	ctx := context.Background()

	_, err := PDFPage(ctx, []byte("definitely not a pdf"), 1, 4.0)
	assert.ErrorIs(t, err, ErrUnsupportedDocument)

	data := pdfWithCode(t, 1, "")
	_, err = PDFPage(ctx, data, 2, 4.0)
	assert.ErrorIs(t, err, ErrPageOutOfRange)

	_, err = PDFPage(ctx, data, 0, 4.0)
	assert.ErrorIs(t, err, ErrPageOutOfRange)

	_, err = PDFPage(ctx, data, 1, 0)
	assert.Error(t, err)
}

func TestSubjectAndPageCount(t *testing.T) {
	data := pdfWithCode(t, 3, testID)

	subject, err := Subject(data)
	require.NoError(t, err)
	assert.Equal(t, testID, subject)

	n, err := PageCount(data)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPictureKeepsNativeSize(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 320, 200))
	src.Set(10, 10, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	img, err := Picture(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 320, img.Width)
	assert.Equal(t, 200, img.Height)

	// Fully transparent pixels are flattened to white.
	r, g, b, _ := img.Pix.At(100, 100).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0xffff, 0xffff}, [3]uint32{r, g, b})
}

func TestPictureRejectsGarbage(t *testing.T) {
	_, err := Picture([]byte{0x00, 0x01, 0x02})
	assert.ErrorIs(t, err, ErrUnsupportedDocument)
}

func TestDetect(t *testing.T) {
	assert.Equal(t, KindPDF, Detect(pdfWithCode(t, 1, "")))

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	assert.Equal(t, KindImage, Detect(buf.Bytes()))

	assert.Equal(t, KindUnknown, Detect([]byte("plain text")))
}

func TestFitScale(t *testing.T) {
	tests := []struct {
		name      string
		w, h      int
		scale     float64
		maxPixels int64
		want      float64
		wantErr   bool
	}{
		{"a4 fits", 595, 842, 4, 36_000_000, 4, false},
		{"large page scaled down", 2000, 2000, 4, 36_000_000, 3, false},
		{"no cap", 20000, 20000, 4, 0, 4, false},
		{"too large even at 72 dpi", 10000, 10000, 4, 36_000_000, 0, true},
		{"empty page", 0, 842, 4, 36_000_000, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fitScale(tt.w, tt.h, tt.scale, tt.maxPixels)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedDocument)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestPDFPageRejectsOversizedPage(t *testing.T) {
	doc := fpdf.New("P", "pt", "A4", "")
	doc.AddPageFormat("P", fpdf.SizeType{Wd: 10000, Ht: 10000})
	doc.SetFont("Helvetica", "", 24)
	doc.Text(72, 120, "Certificate of Completion")
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))

	_, err := PDFPage(context.Background(), buf.Bytes(), 1, 4.0)
	assert.ErrorIs(t, err, ErrUnsupportedDocument)
}
