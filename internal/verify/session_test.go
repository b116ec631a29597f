package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLifecycle(t *testing.T) {
	s := NewSession(NewResolver(newStore()))

	status, id, res := s.State()
	assert.Equal(t, StatusIdle, status)
	assert.Empty(t, id)
	assert.Nil(t, res)

	got, err := s.Submit(context.Background(), testID)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, got.Status)

	status, id, res = s.State()
	assert.Equal(t, StatusValid, status)
	assert.Equal(t, testID, id)
	require.NotNil(t, res)

	s.Reset()
	s.Reset()
	status, id, res = s.State()
	assert.Equal(t, StatusIdle, status)
	assert.Empty(t, id)
	assert.Nil(t, res)
}

func TestSessionRejectsConcurrentRun(t *testing.T) {
	s := NewSession(NewResolver(newStore()))
	entered := make(chan struct{})
	release := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(testID, func() (Result, error) {
			close(entered)
			<-release
			return Result{Status: StatusInvalid, CertificateID: testID}, nil
		})
		done <- err
	}()
	<-entered

	status, _, _ := s.State()
	assert.Equal(t, StatusLoading, status)
	_, err := s.Submit(context.Background(), testID)
	assert.ErrorIs(t, err, ErrInFlight)

	close(release)
	require.NoError(t, <-done)
	status, _, _ = s.State()
	assert.Equal(t, StatusInvalid, status)
}

func TestSessionResetDuringRunDiscardsResult(t *testing.T) {
	s := NewSession(NewResolver(newStore()))
	entered := make(chan struct{})
	release := make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Run(testID, func() (Result, error) {
			close(entered)
			<-release
			return Result{Status: StatusValid, CertificateID: testID}, nil
		})
	}()
	<-entered
	s.Reset()
	close(release)
	<-done

	status, _, res := s.State()
	assert.Equal(t, StatusIdle, status)
	assert.Nil(t, res)
}

func TestSessionRunErrorReturnsToIdle(t *testing.T) {
	s := NewSession(NewResolver(newStore()))

	_, err := s.Run("x", func() (Result, error) { return Result{}, errors.New("unsupported") })
	require.Error(t, err)

	status, _, _ := s.State()
	assert.Equal(t, StatusIdle, status)
}

func TestSessionComplete(t *testing.T) {
	s := NewSession(NewResolver(newStore()))

	res, err := s.Complete(Result{Status: StatusInvalid, CertificateID: UnknownID})
	require.NoError(t, err)
	assert.Equal(t, UnknownID, res.CertificateID)

	status, id, _ := s.State()
	assert.Equal(t, StatusInvalid, status)
	assert.Equal(t, UnknownID, id)
}
