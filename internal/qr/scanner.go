package qr

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"

	"go.uber.org/zap"

	"certverify/internal/raster"
)

var (
	ErrNoCamera     = errors.New("qr: no camera found")
	ErrCameraDenied = errors.New("qr: camera access denied")
	ErrScannerBusy  = errors.New("qr: scanner already running")
	// ErrBadFrame marks a single unreadable frame. The scan skips it and keeps going.
	ErrBadFrame = errors.New("qr: unreadable frame")
	// ErrStreamEnded is reported when the source runs out of frames before a code is seen.
	ErrStreamEnded = errors.New("qr: frame source ended")
)

// FrameSource yields video frames. Close releases the underlying device or stream.
type FrameSource interface {
	Next(ctx context.Context) (image.Image, error)
	Close() error
}

// Opener acquires a frame source when scanning starts.
type Opener func(ctx context.Context) (FrameSource, error)

// Scanner decodes frames from a source until the first QR symbol is read.
// The source is acquired by Start and always released before the scan ends.
type Scanner struct {
	codec *Codec
	open  Opener
	log   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// NewScanner builds a scanner over the given opener.
func NewScanner(codec *Codec, open Opener, log *zap.Logger) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{codec: codec, open: open, log: log.With(zap.String("component", "scanner"))}
}

// Start acquires the source and scans in the background. onResult is invoked at most once,
// with the raw decoded text, after the source has been released.
func (s *Scanner) Start(ctx context.Context, onResult func(text string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrScannerBusy
	}

	src, err := s.open(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done, s.lastErr = cancel, done, nil
	go s.run(runCtx, src, onResult, done)
	return nil
}

// Stop cancels an active scan and waits until the source is released.
// Calling Stop on an idle scanner is a no-op.
func (s *Scanner) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done returns a channel closed when the current scan ends. It is already closed
// when no scan is running.
func (s *Scanner) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

// Err returns the error that ended the last scan. It is nil when the scan found a
// code, is still running, or was stopped.
func (s *Scanner) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Scanning reports whether a scan is in progress.
func (s *Scanner) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scanner) run(ctx context.Context, src FrameSource, onResult func(string), done chan struct{}) {
	text, found, scanErr := s.scan(ctx, src)

	if err := src.Close(); err != nil {
		s.log.Warn("releasing frame source failed", zap.Error(err))
	}

	s.mu.Lock()
	s.lastErr = scanErr
	if s.done == done {
		s.cancel()
		s.cancel, s.done = nil, nil
	}
	s.mu.Unlock()
	close(done)

	if found && onResult != nil {
		onResult(text)
	}
}

func (s *Scanner) scan(ctx context.Context, src FrameSource) (string, bool, error) {
	frames, skipped := 0, 0
	for ctx.Err() == nil {
		frame, err := src.Next(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return "", false, nil
		case errors.Is(err, ErrBadFrame):
			skipped++
			s.log.Debug("skipping unreadable frame", zap.Error(err), zap.Int("skipped", skipped))
			continue
		case errors.Is(err, io.EOF):
			return "", false, ErrStreamEnded
		default:
			s.log.Warn("reading frame failed", zap.Error(err), zap.Int("frames", frames))
			return "", false, err
		}
		frames++

		text, err := s.codec.Decode(raster.FromImage(frame))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			s.log.Debug("frame decode failed", zap.Error(err))
			continue
		}
		s.log.Debug("qr code detected", zap.Int("frames", frames))
		return text, true, nil
	}
	return "", false, nil
}
