package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/kgraph/backend/pkg/apperr"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := New("embeddings", Config{
		FailureThreshold: 2,
		Timeout:          time.Hour,
		Logger:           zaptest.NewLogger(t),
	})
	boom := errors.New("boom")

	assert.ErrorIs(t, cb.Execute(context.Background(), func() error { return boom }), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(context.Background(), func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
}

func TestBreakerIgnoresInvalidArgument(t *testing.T) {
	cb := New("embeddings", Config{FailureThreshold: 1, Logger: zaptest.NewLogger(t)})

	err := cb.Execute(context.Background(), func() error {
		return apperr.InvalidArgument("empty input")
	})

	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.Counts().TotalSuccesses)
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	var transitions []string
	cb := New("mirror", Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Millisecond,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(context.Background(), func() error { return errors.New("down") })
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	assert.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreakerRejectsCancelledContext(t *testing.T) {
	cb := New("embeddings", Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint32(0), cb.Counts().Requests)
}
