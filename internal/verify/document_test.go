package verify

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certverify/internal/extract"
	"certverify/internal/qr"
	"certverify/internal/render"
)

func plainPDF(t *testing.T, subject string) []byte {
	t.Helper()
	doc := fpdf.New("P", "pt", "A4", "")
	doc.SetSubject(subject, true)
	doc.AddPage()
	doc.SetFont("Helvetica", "", 24)
	doc.Text(72, 120, "Certificate of Completion")
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func newDocumentVerifier(opts ...DocumentOption) *DocumentVerifier {
	return NewDocumentVerifier(NewResolver(newStore()), extract.New(qr.NewCodec()), opts...)
}

func TestVerifyDocumentWithoutCodeIsUnknown(t *testing.T) {
	d := newDocumentVerifier()

	res, err := d.VerifyDocument(context.Background(), plainPDF(t, ""))
	require.NoError(t, err)

	assert.Equal(t, StatusInvalid, res.Status)
	assert.Equal(t, UnknownID, res.CertificateID)
	assert.Nil(t, res.Certificate)
}

func TestVerifyDocumentPicture(t *testing.T) {
	png, err := qr.NewCodec().EncodePNG("https://certs.example.edu/verify/"+testID, 400)
	require.NoError(t, err)

	res, err := newDocumentVerifier().VerifyDocument(context.Background(), png)
	require.NoError(t, err)

	assert.Equal(t, StatusValid, res.Status)
	assert.Equal(t, testID, res.CertificateID)
	assert.Equal(t, TrustStore, res.Trust)
}

func TestVerifyDocumentMetadataFallback(t *testing.T) {
	data := plainPDF(t, testID)

	res, err := newDocumentVerifier().VerifyDocument(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, UnknownID, res.CertificateID)

	res, err = newDocumentVerifier(WithMetadataFallback(true)).VerifyDocument(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, res.Status)
	assert.Equal(t, testID, res.CertificateID)
}

func TestVerifyDocumentIgnoresNonCanonicalSubject(t *testing.T) {
	d := newDocumentVerifier(WithMetadataFallback(true))

	res, err := d.VerifyDocument(context.Background(), plainPDF(t, "Certificate of Completion"))
	require.NoError(t, err)
	assert.Equal(t, UnknownID, res.CertificateID)
}

func TestVerifyDocumentUnsupported(t *testing.T) {
	_, err := newDocumentVerifier().VerifyDocument(context.Background(), []byte("just some text"))
	assert.ErrorIs(t, err, render.ErrUnsupportedDocument)
}

func TestIdentifyWithoutResolver(t *testing.T) {
	png, err := qr.NewCodec().EncodePNG(testID, 300)
	require.NoError(t, err)
	d := NewDocumentVerifier(nil, extract.New(qr.NewCodec()))

	id, err := d.Identify(context.Background(), png)
	require.NoError(t, err)
	assert.Equal(t, testID, id)

	id, err = d.Identify(context.Background(), plainPDF(t, ""))
	require.NoError(t, err)
	assert.Empty(t, id)
}
