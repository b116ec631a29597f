package verify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"certverify/internal/extract"
	"certverify/internal/metrics"
	"certverify/internal/raster"
	"certverify/internal/render"
)

// Extractor reads an identifier from a raster.
type Extractor interface {
	Extract(img *raster.Image) (string, error)
}

// DocumentVerifier verifies uploaded certificate files by reading the QR code on them.
type DocumentVerifier struct {
	resolver         *Resolver
	extractor        Extractor
	scale            float64
	metadataFallback bool
	log              *zap.Logger
}

// DocumentOption customizes a DocumentVerifier.
type DocumentOption func(*DocumentVerifier)

// WithScale overrides the PDF render scale. Non-positive values use the engine default.
func WithScale(scale float64) DocumentOption {
	return func(d *DocumentVerifier) { d.scale = scale }
}

// WithMetadataFallback reads the identifier from the PDF subject when page one has no QR code.
func WithMetadataFallback(on bool) DocumentOption {
	return func(d *DocumentVerifier) { d.metadataFallback = on }
}

// WithDocumentLogger sets the logger.
func WithDocumentLogger(l *zap.Logger) DocumentOption {
	return func(d *DocumentVerifier) { d.log = l }
}

// NewDocumentVerifier builds a verifier. resolver may be nil when only Identify is used.
func NewDocumentVerifier(resolver *Resolver, extractor Extractor, opts ...DocumentOption) *DocumentVerifier {
	d := &DocumentVerifier{resolver: resolver, extractor: extractor, log: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With(zap.String("component", "document_verifier"))
	return d
}

// VerifyDocument renders the first page of a PDF, or the picture itself, reads the QR code
// and resolves the identifier. A document without a readable code is invalid with UnknownID.
// Bytes that are neither PDF nor picture return render.ErrUnsupportedDocument.
func (d *DocumentVerifier) VerifyDocument(ctx context.Context, data []byte) (Result, error) {
	id, err := d.Identify(ctx, data)
	if err != nil {
		return Result{}, err
	}
	if id == "" {
		res := Result{Status: StatusInvalid, CertificateID: UnknownID}
		metrics.VerificationsTotal.WithLabelValues("upload", string(res.Status), string(res.Trust)).Inc()
		return res, nil
	}
	res := d.resolver.Resolve(ctx, id)
	metrics.VerificationsTotal.WithLabelValues("upload", string(res.Status), string(res.Trust)).Inc()
	return res, nil
}

// Identify reads the certificate identifier from a document without resolving it.
// It returns "" when the document carries no readable code.
func (d *DocumentVerifier) Identify(ctx context.Context, data []byte) (string, error) {
	kind := render.Detect(data)
	img, err := d.rasterize(ctx, kind, data)
	if err != nil {
		return "", err
	}

	id, err := d.extractor.Extract(img)
	if err != nil {
		if !extract.IsNotFound(err) {
			d.log.Warn("qr decode failed", zap.String("kind", string(kind)), zap.Error(err))
		}
		id = d.fallbackID(kind, data)
	}
	outcome := "found"
	if id == "" {
		outcome = "not_found"
	}
	metrics.ExtractionsTotal.WithLabelValues(string(kind), outcome).Inc()
	return id, nil
}

func (d *DocumentVerifier) rasterize(ctx context.Context, kind render.Kind, data []byte) (*raster.Image, error) {
	start := time.Now()
	defer func() {
		metrics.RenderDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	}()

	switch kind {
	case render.KindPDF:
		scale := d.scale
		if scale <= 0 {
			scale = render.Scale()
		}
		return render.PDFPage(ctx, data, 1, scale)
	case render.KindImage:
		return render.Picture(data)
	default:
		return nil, fmt.Errorf("%w: detected %s", render.ErrUnsupportedDocument, kind)
	}
}

func (d *DocumentVerifier) fallbackID(kind render.Kind, data []byte) string {
	if !d.metadataFallback || kind != render.KindPDF {
		return ""
	}
	subject, err := render.Subject(data)
	if err != nil {
		d.log.Debug("subject metadata unreadable", zap.Error(err))
		return ""
	}
	if !extract.IsCanonical(subject) {
		return ""
	}
	d.log.Info("identifier recovered from document metadata", zap.String("certificate_id", subject))
	return subject
}
