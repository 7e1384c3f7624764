package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgraph/backend/pkg/apperr"
	"github.com/kgraph/backend/pkg/retry"
)

func newTestFetcher(maxBytes int64) *Fetcher {
	return NewFetcher(Options{
		Timeout:  2 * time.Second,
		MaxBytes: maxBytes,
		Retry: &retry.Config{
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
		},
	})
}

func TestFetch(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/ok":
			assert.Contains(t, r.Header.Get("User-Agent"), "kgraph")
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<html><body>Hello</body></html>"))
		case "/missing":
			http.NotFound(w, r)
		case "/json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{}`))
		case "/big":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	f := newTestFetcher(32)
	ctx := context.Background()

	body, err := f.Fetch(ctx, srv.URL+"/ok")
	require.NoError(t, err)
	assert.Contains(t, body, "Hello")

	_, err = f.Fetch(ctx, srv.URL+"/missing")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = f.Fetch(ctx, srv.URL+"/json")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = f.Fetch(ctx, srv.URL+"/big")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	before := calls.Load()
	_, err = f.Fetch(ctx, srv.URL+"/flaky")
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
	assert.Equal(t, int32(2), calls.Load()-before, "server errors are retried")
}

func TestFetchRejectsBadURL(t *testing.T) {
	f := newTestFetcher(0)

	for _, raw := range []string{"", "ftp://example.com/x", "/relative", "http://"} {
		_, err := f.Fetch(context.Background(), raw)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument, raw)
	}
}

func TestIsValidURL(t *testing.T) {
	assert.True(t, IsValidURL("https://example.com/page"))
	assert.True(t, IsValidURL("http://localhost:8080"))
	assert.False(t, IsValidURL("mailto:someone@example.com"))
	assert.False(t, IsValidURL("example.com"))
}
