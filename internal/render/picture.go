package render

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"certverify/internal/raster"
)

// Kind classifies uploaded bytes.
type Kind string

const (
	KindPDF     Kind = "pdf"
	KindImage   Kind = "image"
	KindUnknown Kind = "unknown"
)

// Detect sniffs the content type from the leading bytes.
func Detect(data []byte) Kind {
	mt := mimetype.Detect(data)
	switch {
	case mt.Is("application/pdf"):
		return KindPDF
	case strings.HasPrefix(mt.String(), "image/"):
		return KindImage
	default:
		return KindUnknown
	}
}

// Picture decodes a raster image at its native size.
func Picture(data []byte) (*raster.Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedDocument, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty %s image", ErrUnsupportedDocument, format)
	}
	return raster.OnWhite(img), nil
}
