// Package qr encodes certificate identifiers into QR rasters and decodes them back
// from rendered pages, uploaded pictures and camera frames.
package qr

import (
	"errors"
	"fmt"

	"github.com/makiuchi-d/gozxing"
	zxingqr "github.com/makiuchi-d/gozxing/qrcode"
	"github.com/skip2/go-qrcode"

	"certverify/internal/raster"
)

var (
	// ErrNotFound means the image holds no decodable QR symbol. It is an expected outcome.
	ErrNotFound = errors.New("qr: no code found")
	// ErrEncode is returned when the encoder cannot produce a symbol for the payload.
	ErrEncode = errors.New("qr: encode failed")
)

// Codec wraps the QR encoder and decoder.
type Codec struct {
	level qrcode.RecoveryLevel
}

// NewCodec returns a codec using medium error correction.
func NewCodec() *Codec {
	return &Codec{level: qrcode.Medium}
}

// Encode renders text as a square QR raster of size x size pixels.
func (c *Codec) Encode(text string, size int) (*raster.Image, error) {
	q, err := c.symbol(text, size)
	if err != nil {
		return nil, err
	}
	return raster.FromImage(q.Image(size)), nil
}

// EncodePNG renders text as a PNG-encoded QR code of size x size pixels.
func (c *Codec) EncodePNG(text string, size int) ([]byte, error) {
	q, err := c.symbol(text, size)
	if err != nil {
		return nil, err
	}
	png, err := q.PNG(size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return png, nil
}

func (c *Codec) symbol(text string, size int) (*qrcode.QRCode, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", ErrEncode, size)
	}
	q, err := qrcode.New(text, c.level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return q, nil
}

// Decode locates and decodes a single QR symbol. It does not retry with transformed images.
func (c *Codec) Decode(img *raster.Image) (string, error) {
	if img == nil || img.Width == 0 || img.Height == 0 {
		return "", ErrNotFound
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img.Image())
	if err != nil {
		return "", fmt.Errorf("qr: creating bitmap: %w", err)
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	result, err := zxingqr.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		var readerErr gozxing.ReaderException
		if errors.As(err, &readerErr) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("qr: decoding: %w", err)
	}
	return result.GetText(), nil
}
