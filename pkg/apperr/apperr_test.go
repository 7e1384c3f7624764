package apperr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHelpersKeepSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"invalid", InvalidArgument("max_results must be positive, got %d", 0), ErrInvalidArgument},
		{"not found", NotFound("entity %q", "abc"), ErrNotFound},
		{"unavailable", Unavailable("no embedding model configured"), ErrUnavailable},
		{"corrupted", Corrupted("edge %s references unknown node", "e1"), ErrCorrupted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.Equal(t, tt.sentinel, Kind(tt.err))
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(ErrUnavailable, context.DeadlineExceeded, "embedding request")

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "embedding request")
}

func TestKindUnclassified(t *testing.T) {
	assert.Nil(t, Kind(errors.New("boom")))
	assert.Nil(t, Kind(nil))
}
