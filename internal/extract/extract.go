// Package extract recovers certificate identifiers from rasters and scanned text.
package extract

import (
	"errors"
	"regexp"
	"strings"

	"certverify/internal/qr"
	"certverify/internal/raster"
)

// ErrNotFound is returned when the raster holds no QR code.
var ErrNotFound = qr.ErrNotFound

var (
	verifyPath = regexp.MustCompile(`(?i)/verify/([a-f0-9-]{36})`)
	canonical  = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`)
)

// Decoder reads the text of a single QR code.
type Decoder interface {
	Decode(img *raster.Image) (string, error)
}

type Extractor struct {
	decoder Decoder
}

func New(decoder Decoder) *Extractor {
	return &Extractor{decoder: decoder}
}

// Extract makes one decode attempt and normalizes the payload into an identifier.
func (e *Extractor) Extract(img *raster.Image) (string, error) {
	text, err := e.decoder.Decode(img)
	if err != nil {
		return "", err
	}
	id := ParseIdentifier(text)
	if id == "" {
		return "", ErrNotFound
	}
	return id, nil
}

// ParseIdentifier accepts a bare identifier or a verification URL.
// A /verify/<id> path segment wins and is lowercased; anything else is returned trimmed.
func ParseIdentifier(text string) string {
	if m := verifyPath.FindStringSubmatch(text); m != nil {
		return strings.ToLower(m[1])
	}
	return strings.TrimSpace(text)
}

// IsCanonical reports whether id is a 36-character lowercase hyphenated token.
func IsCanonical(id string) bool {
	return canonical.MatchString(id)
}

// IsNotFound reports whether err means no code was present.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
