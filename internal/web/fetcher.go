package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kgraph/backend/internal/metrics"
	"github.com/kgraph/backend/pkg/apperr"
	"github.com/kgraph/backend/pkg/circuitbreaker"
	"github.com/kgraph/backend/pkg/logger"
	"github.com/kgraph/backend/pkg/retry"
)

const userAgent = "kgraph-ingest/1.0 (+https://github.com/kgraph/backend)"

// Fetcher downloads HTML pages for ingestion.
type Fetcher struct {
	httpClient  *http.Client
	maxBytes    int64
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

type Options struct {
	Timeout  time.Duration
	MaxBytes int64
	Retry    *retry.Config
}

func NewFetcher(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 10 * 1024 * 1024
	}

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   250 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}
	if opts.Retry != nil {
		retryConfig = *opts.Retry
	}

	return &Fetcher{
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		maxBytes: opts.MaxBytes,
		cb: circuitbreaker.New("web-fetch", circuitbreaker.Config{
			MaxRequests:      3,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 10,
			SuccessThreshold: 2,
			Logger:           logger.GetLogger(),
		}),
		retryConfig: retryConfig,
	}
}

// Fetch returns the body of an http(s) page. Client errors (bad URL, 4xx,
// non-HTML content) are InvalidArgument; everything else is Unavailable.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	if !IsValidURL(pageURL) {
		return "", apperr.InvalidArgument("invalid page url %q", pageURL)
	}

	start := time.Now()
	var body string

	err := f.cb.Execute(ctx, func() error {
		return retry.Do(ctx, f.retryConfig, func() error {
			var err error
			body, err = f.get(ctx, pageURL)
			return err
		})
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ExternalCallDuration.WithLabelValues("web", "fetch", status).Observe(time.Since(start).Seconds())

	if err != nil {
		if apperr.Kind(err) != nil {
			return "", err
		}
		return "", apperr.Wrap(apperr.ErrUnavailable, err, "failed to fetch %s", pageURL)
	}

	logger.Debug("Page fetched", zap.String("url", pageURL), zap.Int("bytes", len(body)))
	return body, nil
}

func (f *Fetcher) get(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrInvalidArgument, err, "failed to create request")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("page returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", apperr.InvalidArgument("page returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "html") {
		return "", apperr.InvalidArgument("unsupported content type %q", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return "", apperr.InvalidArgument("page exceeds %d bytes", f.maxBytes)
	}
	return string(data), nil
}

// IsValidURL accepts absolute http and https URLs with a host.
func IsValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}
