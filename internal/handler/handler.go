// Package handler exposes verification and certificate document endpoints over gin.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"certverify/internal/certificate"
	"certverify/internal/cloudinary"
	"certverify/internal/compose"
	"certverify/internal/extract"
	"certverify/internal/metrics"
	"certverify/internal/queue"
	"certverify/internal/render"
	"certverify/internal/verify"
)

// Resolver verifies a certificate identifier.
type Resolver interface {
	Resolve(ctx context.Context, id string) verify.Result
}

// DocumentVerifier verifies an uploaded certificate file.
type DocumentVerifier interface {
	VerifyDocument(ctx context.Context, data []byte) (verify.Result, error)
}

// Certificates is the issuer-side view of the certificate store.
type Certificates interface {
	Get(ctx context.Context, id string) (*certificate.Record, error)
	List(ctx context.Context, search string, limit, offset int) ([]certificate.Record, error)
	SetDocumentURL(ctx context.Context, id, url string) error
}

// Composer overlays the verification QR code onto an original document.
type Composer interface {
	Compose(ctx context.Context, orig compose.Original, id string) (*compose.Document, error)
}

// Uploader stores composed documents.
type Uploader interface {
	UploadDocument(ctx context.Context, data []byte, certificateID string) (*cloudinary.UploadResult, error)
}

// Invalidator drops cached certificate records after they change.
type Invalidator interface {
	Invalidate(ctx context.Context, id string) error
}

// SourcePolicy decides which original document URLs may be fetched.
type SourcePolicy interface {
	CheckURL(rawURL string) error
}

// Deps are the collaborators a Handler needs. Uploader, Queue, Sources and Cache may be nil.
type Deps struct {
	Resolver       Resolver
	Documents      DocumentVerifier
	Certificates   Certificates
	Composer       Composer
	Views          compose.ViewStore
	Uploader       Uploader
	Queue          queue.Queue
	Sources        SourcePolicy
	Cache          Invalidator
	MaxUploadBytes int64
	Logger         *zap.Logger
}

type Handler struct {
	Deps
	log *zap.Logger
}

func New(d Deps) *Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 20 << 20
	}
	return &Handler{Deps: d, log: log.With(zap.String("component", "http"))}
}

// Register mounts all routes. admin guards the issuer endpoints.
func (h *Handler) Register(r gin.IRouter, admin gin.HandlerFunc) {
	v1 := r.Group("/v1")
	v1.POST("/verify", h.VerifyManual)
	v1.POST("/verify/scan", h.VerifyScan)
	v1.GET("/verify/:id", h.VerifyLink)
	v1.POST("/verify/upload", h.VerifyUpload)

	v1.GET("/views/:handle", h.GetView)
	v1.DELETE("/views/:handle", h.RevokeView)

	certs := v1.Group("/certificates", admin)
	certs.GET("", h.ListCertificates)
	certs.POST("/:id/document", h.ComposeDocument)
	certs.POST("/:id/document/jobs", h.EnqueueCompose)
}

// ---------- Verification ----------

type manualRequest struct {
	CertificateID string `json:"certificate_id" binding:"required"`
}

// VerifyManual verifies an identifier typed by the user.
func (h *Handler) VerifyManual(c *gin.Context) {
	var req manualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "certificate_id is required"})
		return
	}
	h.resolve(c, "manual", strings.TrimSpace(req.CertificateID))
}

type scanRequest struct {
	Text string `json:"text" binding:"required"`
}

// VerifyScan verifies the raw text of a QR code scanned on the client.
func (h *Handler) VerifyScan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	h.resolve(c, "scan", extract.ParseIdentifier(req.Text))
}

// VerifyLink serves the verification URL encoded in older certificates.
func (h *Handler) VerifyLink(c *gin.Context) {
	h.resolve(c, "link", strings.TrimSpace(c.Param("id")))
}

func (h *Handler) resolve(c *gin.Context, source, id string) {
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "certificate id is empty"})
		return
	}
	res := h.Resolver.Resolve(c.Request.Context(), id)
	metrics.VerificationsTotal.WithLabelValues(source, string(res.Status), string(res.Trust)).Inc()
	c.JSON(http.StatusOK, res)
}

// VerifyUpload verifies a certificate PDF or picture sent as multipart field "file".
func (h *Handler) VerifyUpload(c *gin.Context) {
	data, ok := h.readFile(c)
	if !ok {
		return
	}
	res, err := h.Documents.VerifyDocument(c.Request.Context(), data)
	switch {
	case errors.Is(err, render.ErrUnsupportedDocument):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "upload a PDF or an image of the certificate"})
		return
	case err != nil:
		h.log.Error("document verification failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read the document"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// ---------- Issuer ----------

// ListCertificates lists issued certificates, optionally filtered by ?search=.
func (h *Handler) ListCertificates(c *gin.Context) {
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	records, err := h.Certificates.List(c.Request.Context(), c.Query("search"), limit, offset)
	if err != nil {
		h.log.Error("list certificates failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list certificates"})
		return
	}
	if records == nil {
		records = []certificate.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"certificates": records})
}

// ComposeDocument burns the verification QR code into an uploaded original and returns the PDF.
// Form fields: file (required), is_image (optional, sniffed when absent), upload (optional).
func (h *Handler) ComposeDocument(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	rec, err := h.Certificates.Get(ctx, id)
	if err != nil {
		h.log.Error("certificate lookup failed", zap.String("certificate_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load certificate"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "certificate not found"})
		return
	}

	data, ok := h.readFile(c)
	if !ok {
		return
	}
	upload := c.PostForm("upload") == "true"
	if upload && h.Uploader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "document storage not configured"})
		return
	}
	isImage := render.Detect(data) == render.KindImage
	if v := c.PostForm("is_image"); v != "" {
		isImage = v == "true"
	}

	doc, err := h.Composer.Compose(ctx, compose.Original{Data: data, IsImage: isImage}, id)
	if errors.Is(err, compose.ErrCompose) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.log.Error("compose failed", zap.String("certificate_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compose document"})
		return
	}

	if upload {
		url, err := h.store(ctx, id, doc.Bytes)
		if err != nil {
			h.log.Error("document upload failed", zap.String("certificate_id", id), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "document upload failed"})
			return
		}
		c.Header("X-Document-URL", url)
	}
	if doc.Handle != "" {
		c.Header("X-View-Handle", doc.Handle)
	}
	c.Data(http.StatusOK, "application/pdf", doc.Bytes)
}

func (h *Handler) store(ctx context.Context, id string, data []byte) (string, error) {
	res, err := h.Uploader.UploadDocument(ctx, data, id)
	if err != nil {
		return "", err
	}
	if err := h.Certificates.SetDocumentURL(ctx, id, res.SecureURL); err != nil {
		return "", err
	}
	if h.Cache != nil {
		if err := h.Cache.Invalidate(ctx, id); err != nil {
			h.log.Warn("cache invalidation failed", zap.String("certificate_id", id), zap.Error(err))
		}
	}
	return res.SecureURL, nil
}

type composeJobRequest struct {
	SourceURL string `json:"source_url" binding:"required,url"`
	IsImage   bool   `json:"is_image"`
}

// EnqueueCompose schedules composition of a document hosted at source_url.
func (h *Handler) EnqueueCompose(c *gin.Context) {
	if h.Queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job queue not configured"})
		return
	}
	var req composeJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.Sources != nil {
		if err := h.Sources.CheckURL(req.SourceURL); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
	}
	id := c.Param("id")
	rec, err := h.Certificates.Get(c.Request.Context(), id)
	if err != nil {
		h.log.Error("certificate lookup failed", zap.String("certificate_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load certificate"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "certificate not found"})
		return
	}

	msg, err := queue.NewComposeMessage(queue.ComposeJob{CertificateID: id, SourceURL: req.SourceURL, IsImage: req.IsImage})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Queue.Publish(c.Request.Context(), msg); err != nil {
		h.log.Error("queue publish failed", zap.String("certificate_id", id), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to queue job"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"certificate_id": id, "status": "queued"})
}

// ---------- Views ----------

// GetView serves a composed document by its temporary handle.
func (h *Handler) GetView(c *gin.Context) {
	data, err := h.Views.Get(c.Request.Context(), c.Param("handle"))
	if errors.Is(err, compose.ErrViewNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "view expired or revoked"})
		return
	}
	if err != nil {
		h.log.Error("view lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load view"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "application/pdf", data)
}

// RevokeView releases a temporary handle. Unknown handles are not an error.
func (h *Handler) RevokeView(c *gin.Context) {
	if err := h.Views.Revoke(c.Request.Context(), c.Param("handle")); err != nil {
		h.log.Error("view revoke failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke view"})
		return
	}
	c.Status(http.StatusNoContent)
}

// readFile reads multipart field "file" up to MaxUploadBytes, writing the error response itself.
func (h *Handler) readFile(c *gin.Context) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes+(1<<20))
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.MaxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		return nil, false
	}
	if int64(len(data)) > h.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return nil, false
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is empty"})
		return nil, false
	}
	return data, true
}
