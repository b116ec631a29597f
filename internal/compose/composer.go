// Package compose burns a verification QR code into certificate documents.
package compose

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"

	"github.com/go-pdf/fpdf"
	"github.com/go-pdf/fpdf/contrib/gofpdi"
	realgofpdi "github.com/phpdave11/gofpdi"
	"go.uber.org/zap"

	"certverify/internal/extract"
	"certverify/internal/metrics"
	"certverify/internal/qr"
	"certverify/internal/render"
)

// ErrCompose is returned when the source is not a valid document of the declared type
// or the QR code cannot be embedded.
var ErrCompose = errors.New("compose: cannot compose document")

// Overlay geometry in PDF units (points). Images map one pixel to one point.
const (
	QRPixels    = 600
	QRSize      = 100.0
	Margin      = 25.0
	QuietZone   = 15.0
	qrImageName = "verification-qr"
	srcImage    = "certificate-original"
)

// Original is the unmodified certificate as issued.
type Original struct {
	Data    []byte
	IsImage bool
}

// Document is a composed certificate. Handle is empty when no view store is configured.
type Document struct {
	Bytes  []byte
	Handle string
}

type Composer struct {
	codec *qr.Codec
	views ViewStore
	log   *zap.Logger
}

func New(codec *qr.Codec, views ViewStore, log *zap.Logger) *Composer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Composer{codec: codec, views: views, log: log.With(zap.String("component", "composer"))}
}

// Compose overlays a QR code carrying id onto the first page of the original and stores
// the result as a temporary view. The caller revokes the handle when it is no longer shown.
func (c *Composer) Compose(ctx context.Context, orig Original, id string) (*Document, error) {
	kind := "pdf"
	if orig.IsImage {
		kind = "image"
	}
	if id != "" && !extract.IsCanonical(id) {
		c.log.Warn("identifier is not canonical, scanners will read it verbatim", zap.String("certificate_id", id))
	}
	data, err := c.compose(orig, id)
	if err != nil {
		metrics.CompositionsTotal.WithLabelValues(kind, "error").Inc()
		return nil, err
	}
	metrics.CompositionsTotal.WithLabelValues(kind, "ok").Inc()

	doc := &Document{Bytes: data}
	if c.views != nil {
		handle, err := c.views.Put(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("compose: storing view: %w", err)
		}
		doc.Handle = handle
	}
	c.log.Info("certificate composed", zap.String("certificate_id", id),
		zap.String("kind", kind), zap.Int("bytes", len(data)))
	return doc, nil
}

func (c *Composer) compose(orig Original, id string) (out []byte, err error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty identifier", ErrCompose)
	}
	code, err := c.codec.EncodePNG(id, QRPixels)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompose, err)
	}

	// The page importer panics on malformed input.
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrCompose, r)
		}
	}()

	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetAutoPageBreak(false, 0)
	if orig.IsImage {
		err = drawImagePage(pdf, orig.Data)
	} else {
		err = importPages(pdf, orig.Data, func() { overlay(pdf, code) })
	}
	if err != nil {
		return nil, err
	}
	if orig.IsImage {
		overlay(pdf, code)
	}
	pdf.SetSubject(id, true)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompose, err)
	}
	return buf.Bytes(), nil
}

// importPages copies every page of src into pdf, calling onFirst while page one is current.
// Each page keeps its visible area: the crop box when there is one, turned by /Rotate.
func importPages(pdf *fpdf.Fpdf, src []byte, onFirst func()) error {
	if render.Detect(src) != render.KindPDF {
		return fmt.Errorf("%w: source is not a PDF", ErrCompose)
	}
	box, sizes, err := pageLayout(src)
	if err != nil {
		return err
	}

	imp := gofpdi.NewImporter()
	rs := io.ReadSeeker(bytes.NewReader(src))
	for i, size := range sizes {
		tpl := imp.ImportPageFromStream(pdf, &rs, i+1, box)
		pdf.AddPageFormat("P", size)
		imp.UseImportedTemplate(pdf, tpl, 0, 0, size.Wd, size.Ht)
		if i == 0 {
			onFirst()
		}
	}
	return pdf.Error()
}

// pageLayout picks the box pages are imported with and the size each imported page is drawn at.
// The importer takes every template's box from page one and reports a missing box as empty,
// so the crop box is used only when page one has it. Templates of rotated pages come out
// with width and height swapped.
func pageLayout(src []byte) (string, []fpdf.SizeType, error) {
	bounds, err := render.PageBounds(src)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrCompose, err)
	}

	reader := realgofpdi.NewImporter()
	rs := io.ReadSeeker(bytes.NewReader(src))
	reader.SetSourceStream(&rs)
	boxes := reader.GetPageSizes()
	if len(boxes) == 0 {
		return "", nil, fmt.Errorf("%w: PDF has no pages", ErrCompose)
	}

	box := "/MediaBox"
	if hasArea(boxes[1]["/CropBox"]) {
		box = "/CropBox"
	}
	first := boxes[1][box]
	if !hasArea(first) {
		return "", nil, fmt.Errorf("%w: page 1 has no media box", ErrCompose)
	}

	sizes := make([]fpdf.SizeType, len(boxes))
	for n := 1; n <= len(boxes); n++ {
		own := boxes[n][box]
		if !hasArea(own) {
			own = boxes[n]["/MediaBox"]
		}
		w, h := first["w"], first["h"]
		if n <= len(bounds) && turned(bounds[n-1], own["w"], own["h"]) {
			w, h = h, w
		}
		sizes[n-1] = fpdf.SizeType{Wd: w, Ht: h}
	}
	return box, sizes, nil
}

func hasArea(box map[string]float64) bool {
	return box["w"] > 0 && box["h"] > 0
}

// turned reports whether the rendered page is the w x h box on its side.
func turned(b image.Rectangle, w, h float64) bool {
	if math.Abs(w-h) < 2 || b.Dx() == b.Dy() {
		return false
	}
	return (b.Dx() > b.Dy()) != (w > h)
}

// drawImagePage adds a page sized to the picture and covers it with the picture.
func drawImagePage(pdf *fpdf.Fpdf, src []byte) error {
	if render.Detect(src) != render.KindImage {
		return fmt.Errorf("%w: source is not an image", ErrCompose)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCompose, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return fmt.Errorf("%w: empty image", ErrCompose)
	}

	imageType := ""
	switch format {
	case "png":
		imageType = "PNG"
	case "jpeg":
		imageType = "JPG"
	default:
		// fpdf embeds PNG and JPEG natively; everything else goes through PNG.
		img, _, err := image.Decode(bytes.NewReader(src))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCompose, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return fmt.Errorf("%w: re-encoding %s: %v", ErrCompose, format, err)
		}
		src, imageType = buf.Bytes(), "PNG"
	}

	w, h := float64(cfg.Width), float64(cfg.Height)
	opts := fpdf.ImageOptions{ImageType: imageType}
	pdf.RegisterImageOptionsReader(srcImage, opts, bytes.NewReader(src))
	pdf.AddPageFormat("P", fpdf.SizeType{Wd: w, Ht: h})
	pdf.ImageOptions(srcImage, 0, 0, w, h, false, opts, 0, "")
	return pdf.Error()
}

// overlay draws the quiet zone and the QR code in the bottom-right corner of the current page.
func overlay(pdf *fpdf.Fpdf, code []byte) {
	w, h := pdf.GetPageSize()
	x := w - QRSize - Margin
	y := h - Margin - QRSize

	pdf.SetFillColor(255, 255, 255)
	pdf.Rect(x-QuietZone, y-QuietZone, QRSize+2*QuietZone, QRSize+2*QuietZone, "F")

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(qrImageName, opts, bytes.NewReader(code))
	pdf.ImageOptions(qrImageName, x, y, QRSize, QRSize, false, opts, 0, "")
}
