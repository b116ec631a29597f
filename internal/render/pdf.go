package render

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/gen2brain/go-fitz"

	"certverify/internal/raster"
)

const pointsPerInch = 72.0

// PDFPage renders one page (1-indexed) of a PDF at the given scale over a white background.
func PDFPage(ctx context.Context, data []byte, page int, scale float64) (*raster.Image, error) {
	if scale <= 0 {
		return nil, fmt.Errorf("render: scale must be positive, got %v", scale)
	}
	e := get()
	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	doc, err := open(data)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	pages := doc.NumPage()
	if e.opts.MaxPages > 0 && pages > e.opts.MaxPages {
		return nil, fmt.Errorf("%w: %d pages exceeds limit of %d", ErrUnsupportedDocument, pages, e.opts.MaxPages)
	}
	if page < 1 || page > pages {
		return nil, fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, page, pages)
	}

	bound, err := doc.Bound(page - 1)
	if err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", ErrUnsupportedDocument, page, err)
	}
	scale, err = fitScale(bound.Dx(), bound.Dy(), scale, e.opts.MaxPixels)
	if err != nil {
		return nil, err
	}

	img, err := doc.ImageDPI(page-1, pointsPerInch*scale)
	if err != nil {
		return nil, fmt.Errorf("render: page %d: %w", page, err)
	}
	return raster.OnWhite(img), nil
}

// fitScale lowers scale so a w x h point page stays within maxPixels. Pages that exceed
// the cap even at 72 DPI are unsupported.
func fitScale(w, h int, scale float64, maxPixels int64) (float64, error) {
	if w <= 0 || h <= 0 {
		return 0, fmt.Errorf("%w: empty page", ErrUnsupportedDocument)
	}
	area := float64(w) * float64(h)
	if maxPixels <= 0 || area*scale*scale <= float64(maxPixels) {
		return scale, nil
	}
	fitted := math.Sqrt(float64(maxPixels) / area)
	if fitted < 1 {
		return 0, fmt.Errorf("%w: %dx%dpt page exceeds %d pixels", ErrUnsupportedDocument, w, h, maxPixels)
	}
	return fitted, nil
}

// PageBounds returns the visible bounds of every page in points, after the crop box and
// page rotation are applied.
func PageBounds(data []byte) ([]image.Rectangle, error) {
	doc, err := open(data)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	bounds := make([]image.Rectangle, doc.NumPage())
	for i := range bounds {
		if bounds[i], err = doc.Bound(i); err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrUnsupportedDocument, i+1, err)
		}
	}
	return bounds, nil
}

// PageCount returns the number of pages in a PDF.
func PageCount(data []byte) (int, error) {
	doc, err := open(data)
	if err != nil {
		return 0, err
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

// Subject returns the document subject metadata, which composed certificates set to their identifier.
func Subject(data []byte) (string, error) {
	doc, err := open(data)
	if err != nil {
		return "", err
	}
	defer doc.Close()
	return doc.Metadata()["subject"], nil
}

func open(data []byte) (*fitz.Document, error) {
	if Detect(data) != KindPDF {
		return nil, fmt.Errorf("%w: not a PDF", ErrUnsupportedDocument)
	}
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedDocument, err)
	}
	return doc, nil
}
