// Package render turns uploaded certificate documents into rasters the QR decoder can read.
//
// The package keeps one process-wide configuration, set by Init. Init may be called any
// number of times; only the first call takes effect. Rendering without Init uses Defaults.
package render

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrUnsupportedDocument is returned for bytes that are not a readable PDF or picture.
	ErrUnsupportedDocument = errors.New("render: unsupported document")
	// ErrPageOutOfRange is returned when the requested page does not exist.
	ErrPageOutOfRange = errors.New("render: page out of range")
)

// Options configures the rendering engine.
type Options struct {
	// Scale multiplies the 72 DPI PDF user space. 4.0 keeps a 100pt QR at 400px.
	Scale float64
	// Concurrency bounds simultaneous PDF renders; each holds a full page bitmap.
	Concurrency int
	// MaxPages rejects documents with more pages than this. Zero disables the check.
	MaxPages int
	// MaxPixels caps the bitmap of a single rendered page. Larger pages are rendered at a
	// lower scale, down to 1.0, and rejected beyond that.
	MaxPixels int64
}

// Defaults are applied when Init is never called or leaves fields unset.
var Defaults = Options{Scale: 4.0, Concurrency: 4, MaxPages: 50, MaxPixels: 36_000_000}

type engine struct {
	opts Options
	sem  *semaphore.Weighted
}

var (
	once    sync.Once
	current *engine
)

// Init configures the engine for the process. It reports whether this call applied opts.
func Init(opts Options) bool {
	applied := false
	once.Do(func() {
		current = newEngine(opts)
		applied = true
	})
	return applied
}

func newEngine(opts Options) *engine {
	if opts.Scale <= 0 {
		opts.Scale = Defaults.Scale
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = Defaults.Concurrency
	}
	if opts.MaxPages < 0 {
		opts.MaxPages = Defaults.MaxPages
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = Defaults.MaxPixels
	}
	return &engine{opts: opts, sem: semaphore.NewWeighted(int64(opts.Concurrency))}
}

func get() *engine {
	Init(Defaults)
	return current
}

// Scale returns the configured default render scale.
func Scale() float64 {
	return get().opts.Scale
}

func (e *engine) acquire(ctx context.Context) (func(), error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("render: waiting for renderer: %w", err)
	}
	return func() { e.sem.Release(1) }, nil
}
