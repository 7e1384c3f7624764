package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kgraph/backend/internal/metrics"
	"github.com/kgraph/backend/pkg/apperr"
	"github.com/kgraph/backend/pkg/circuitbreaker"
	"github.com/kgraph/backend/pkg/logger"
	"github.com/kgraph/backend/pkg/retry"
)

const batchSize = 100

// Embedder turns text into vectors through an OpenAI compatible embeddings
// endpoint. Every failure surfaces as apperr.ErrUnavailable.
type Embedder struct {
	client      *openai.Client
	model       string
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Retry   *retry.Config
}

func NewEmbedder(opts Options) *Embedder {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Model == "" {
		opts.Model = "text-embedding-3-small"
	}

	cb := circuitbreaker.New("embeddings", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}
	if opts.Retry != nil {
		retryConfig = *opts.Retry
	}

	logger.Info("Embedding client initialized",
		zap.String("model", opts.Model),
		zap.Duration("timeout", opts.Timeout),
	)

	return &Embedder{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		timeout:     opts.Timeout,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input, in input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	embeddings := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := e.embed(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, batch...)
	}

	logger.Debug("Embeddings generated", zap.Int("count", len(embeddings)))
	return embeddings, nil
}

func (e *Embedder) embed(ctx context.Context, batch []string) ([][]float32, error) {
	start := time.Now()
	var out [][]float32

	err := e.cb.Execute(ctx, func() error {
		var err error
		out, err = retry.DoWithResult(ctx, e.retryConfig, func() ([][]float32, error) {
			resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: batch,
				Model: openai.EmbeddingModel(e.model),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create embeddings: %w", err)
			}
			if len(resp.Data) != len(batch) {
				return nil, fmt.Errorf("embedding service returned %d vectors for %d inputs", len(resp.Data), len(batch))
			}

			vectors := make([][]float32, len(batch))
			for _, d := range resp.Data {
				if d.Index < 0 || d.Index >= len(batch) {
					return nil, fmt.Errorf("embedding index %d out of range", d.Index)
				}
				vectors[d.Index] = append([]float32(nil), d.Embedding...)
			}
			return vectors, nil
		})
		return err
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ExternalCallDuration.WithLabelValues("embeddings", "create", status).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, apperr.ErrUnavailable) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.ErrUnavailable, err, "embedding service failed")
	}
	return out, nil
}
