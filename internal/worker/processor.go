// Package worker composes certificate documents from queued jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"certverify/internal/certificate"
	"certverify/internal/cloudinary"
	"certverify/internal/compose"
	"certverify/internal/fetch"
	"certverify/internal/metrics"
	"certverify/internal/queue"
)

// ErrUnknownCertificate is returned for jobs naming a certificate the store does not have.
var ErrUnknownCertificate = errors.New("worker: unknown certificate")

type Fetcher interface {
	Get(ctx context.Context, url string) (*fetch.Document, error)
}

type Composer interface {
	Compose(ctx context.Context, orig compose.Original, id string) (*compose.Document, error)
}

type Uploader interface {
	UploadDocument(ctx context.Context, data []byte, certificateID string) (*cloudinary.UploadResult, error)
}

// Certificates records where a composed document was stored.
type Certificates interface {
	Get(ctx context.Context, id string) (*certificate.Record, error)
	SetDocumentURL(ctx context.Context, id, url string) error
}

type Invalidator interface {
	Invalidate(ctx context.Context, id string) error
}

// Processor handles compose jobs: fetch the original, compose, upload, record the URL.
type Processor struct {
	fetcher  Fetcher
	composer Composer
	uploader Uploader
	certs    Certificates
	cache    Invalidator
	log      *zap.Logger
}

// New builds a processor. cache may be nil.
func New(f Fetcher, c Composer, u Uploader, certs Certificates, cache Invalidator, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{fetcher: f, composer: c, uploader: u, certs: certs, cache: cache,
		log: log.With(zap.String("component", "worker"))}
}

// Run consumes q until ctx is cancelled. Failed jobs are logged and counted, never retried.
func (p *Processor) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("worker: consume: %w", err)
	}
	p.log.Info("worker started, waiting for messages")
	for msg := range messages {
		if msg.Type != queue.TypeCompose {
			metrics.QueueMessagesTotal.WithLabelValues(msg.Type, "skipped").Inc()
			continue
		}
		start := time.Now()
		if err := p.Handle(ctx, msg); err != nil {
			metrics.QueueMessagesTotal.WithLabelValues(msg.Type, "failed").Inc()
			p.log.Error("compose job failed", zap.Bool("retryable", cloudinary.IsTemporary(err)), zap.Error(err))
			continue
		}
		metrics.QueueMessagesTotal.WithLabelValues(msg.Type, "processed").Inc()
		p.log.Info("compose job done", zap.Duration("took", time.Since(start)))
	}
	p.log.Info("worker stopped")
	return nil
}

// Handle processes one compose message.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) error {
	job, err := msg.ComposeJob()
	if err != nil {
		return err
	}
	log := p.log.With(zap.String("certificate_id", job.CertificateID))

	rec, err := p.certs.Get(ctx, job.CertificateID)
	if err != nil {
		return fmt.Errorf("worker: load %s: %w", job.CertificateID, err)
	}
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrUnknownCertificate, job.CertificateID)
	}

	orig, err := p.fetcher.Get(ctx, job.SourceURL)
	if err != nil {
		return fmt.Errorf("worker: fetch original for %s: %w", job.CertificateID, err)
	}
	log.Debug("original fetched", zap.String("mime", orig.MIMEType), zap.Int("bytes", len(orig.Data)))

	doc, err := p.composer.Compose(ctx, compose.Original{Data: orig.Data, IsImage: job.IsImage || orig.IsImage}, job.CertificateID)
	if err != nil {
		return fmt.Errorf("worker: compose %s: %w", job.CertificateID, err)
	}

	res, err := p.uploader.UploadDocument(ctx, doc.Bytes, job.CertificateID)
	if err != nil {
		return fmt.Errorf("worker: upload %s: %w", job.CertificateID, err)
	}
	if err := p.certs.SetDocumentURL(ctx, job.CertificateID, res.SecureURL); err != nil {
		return fmt.Errorf("worker: record url for %s: %w", job.CertificateID, err)
	}
	if p.cache != nil {
		if err := p.cache.Invalidate(ctx, job.CertificateID); err != nil {
			log.Warn("cache invalidation failed", zap.Error(err))
		}
	}
	log.Info("document stored", zap.String("url", res.SecureURL))
	return nil
}
