// Package verify decides whether a certificate identifier names an authentic certificate.
//
// The document store owns the identifier namespace: an identifier it does not know is invalid
// and the registry is never asked about it. For known identifiers the registry is authoritative
// when it answers, and the store alone is trusted when the registry is absent, failing or slow.
package verify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"certverify/internal/certificate"
	"certverify/internal/chain"
	"certverify/internal/metrics"
)

// Status of a verification.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusValid   Status = "valid"
	StatusInvalid Status = "invalid"
	StatusError   Status = "error"
)

// Trust says which sources backed a valid result.
type Trust string

const (
	TrustNone  Trust = ""
	TrustStore Trust = "store"
	TrustChain Trust = "chain"
)

// UnknownID is reported when no identifier could be read from a document.
const UnknownID = "Unknown"

const fetchFailedMessage = "Failed to fetch certificate details."

// Result is the outcome of one verification attempt.
type Result struct {
	Status        Status       `json:"status"`
	CertificateID string       `json:"certificate_id"`
	Trust         Trust        `json:"trust,omitempty"`
	Certificate   *Certificate `json:"certificate,omitempty"`
	Message       string       `json:"message,omitempty"`
}

// Store looks certificates up by identifier; a miss is (nil, nil).
type Store interface {
	Get(ctx context.Context, id string) (*certificate.Record, error)
}

// Chain reads the registry record for a 0x-prefixed content hash.
type Chain interface {
	VerifyCertificate(ctx context.Context, hashHex string) (chain.Record, error)
}

// Resolver runs the store and registry checks for one identifier.
type Resolver struct {
	store   Store
	chain   Chain
	timeout time.Duration
	log     *zap.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithChain enables registry cross-checks. Without it results are store-trusted.
func WithChain(c Chain) Option {
	return func(r *Resolver) { r.chain = c }
}

// WithChainTimeout bounds each registry call. A timeout counts as an unreachable registry.
func WithChainTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// NewResolver builds a resolver over store.
func NewResolver(store Store, opts ...Option) *Resolver {
	r := &Resolver{store: store, timeout: 8 * time.Second, log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(zap.String("component", "resolver"))
	return r
}

// Resolve verifies id. It never returns StatusIdle or StatusLoading.
func (r *Resolver) Resolve(ctx context.Context, id string) Result {
	stored, err := r.store.Get(ctx, id)
	if err != nil {
		r.log.Error("store lookup failed", zap.String("certificate_id", id), zap.Error(err))
		return Result{Status: StatusError, CertificateID: id, Message: fetchFailedMessage}
	}
	if stored == nil {
		return Result{Status: StatusInvalid, CertificateID: id}
	}

	if r.chain == nil {
		return storeTrusted(id, *stored)
	}

	onChain, err := r.lookup(ctx, stored.CertificateHash)
	if err != nil {
		r.log.Warn("registry unavailable, trusting store record",
			zap.String("certificate_id", id), zap.Error(err))
		return storeTrusted(id, *stored)
	}
	if !onChain.Valid {
		return Result{Status: StatusInvalid, CertificateID: id, Trust: TrustChain}
	}

	merged := Merge(*stored, &onChain)
	merged.CertificateID = id
	return Result{Status: StatusValid, CertificateID: id, Trust: TrustChain, Certificate: &merged}
}

func (r *Resolver) lookup(ctx context.Context, hash string) (rec chain.Record, err error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			outcome = "timeout"
		case err != nil:
			outcome = "error"
		case !rec.Valid:
			outcome = "invalid"
		}
		metrics.ChainCallsTotal.WithLabelValues(outcome).Inc()
	}()

	type reply struct {
		rec chain.Record
		err error
	}
	done := make(chan reply, 1)
	go func() {
		rec, err := r.chain.VerifyCertificate(ctx, NormalizeHash(hash))
		done <- reply{rec, err}
	}()

	// Clients that ignore ctx must not stall the resolver.
	select {
	case res := <-done:
		return res.rec, res.err
	case <-ctx.Done():
		return chain.Record{}, ctx.Err()
	}
}

func storeTrusted(id string, stored certificate.Record) Result {
	merged := Merge(stored, nil)
	merged.CertificateID = id
	return Result{Status: StatusValid, CertificateID: id, Trust: TrustStore, Certificate: &merged}
}
