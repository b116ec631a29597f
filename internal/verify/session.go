package verify

import (
	"context"
	"errors"
	"sync"
)

// ErrInFlight is returned when a session is asked to verify while a check is still running.
var ErrInFlight = errors.New("verify: verification already in progress")

// Session tracks one verification form: idle, loading, then a terminal state until Reset.
type Session struct {
	resolver *Resolver

	mu     sync.Mutex
	gen    uint64
	state  Status
	id     string
	result *Result
}

func NewSession(resolver *Resolver) *Session {
	return &Session{resolver: resolver, state: StatusIdle}
}

// Submit verifies id. A session in a terminal state may be resubmitted without Reset.
func (s *Session) Submit(ctx context.Context, id string) (Result, error) {
	gen, err := s.begin(id)
	if err != nil {
		return Result{}, err
	}
	return s.finish(gen, s.resolver.Resolve(ctx, id)), nil
}

// Complete records a result produced outside the resolver, such as an upload with no QR code.
func (s *Session) Complete(res Result) (Result, error) {
	gen, err := s.begin(res.CertificateID)
	if err != nil {
		return Result{}, err
	}
	return s.finish(gen, res), nil
}

// Run executes fn as this session's verification, guarding against concurrent runs.
func (s *Session) Run(id string, fn func() (Result, error)) (Result, error) {
	gen, err := s.begin(id)
	if err != nil {
		return Result{}, err
	}
	res, err := fn()
	if err != nil {
		s.abort(gen)
		return Result{}, err
	}
	return s.finish(gen, res), nil
}

func (s *Session) begin(id string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StatusLoading {
		return 0, ErrInFlight
	}
	s.gen++
	s.state, s.id, s.result = StatusLoading, id, nil
	return s.gen, nil
}

// finish stores res unless the session was reset while the check ran.
func (s *Session) finish(gen uint64, res Result) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.state, s.id, s.result = res.Status, res.CertificateID, &res
	}
	return res
}

func (s *Session) abort(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.state, s.id, s.result = StatusIdle, "", nil
	}
}

// Reset returns the session to idle and clears the identifier and result. It is safe from any state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.state, s.id, s.result = StatusIdle, "", nil
}

// State returns the current status, identifier and, for terminal states, the result.
func (s *Session) State() (Status, string, *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.id, s.result
}
