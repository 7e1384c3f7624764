package query

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kgraph/backend/internal/kg/global"
	"github.com/kgraph/backend/internal/metrics"
	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/apperr"
	"github.com/kgraph/backend/pkg/logger"
	"github.com/kgraph/backend/pkg/utils"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkIndex is an optional ANN index over chunk embeddings.
type ChunkIndex interface {
	Search(ctx context.Context, queryEmbedding []float32, topK int, filter models.ChunkFilter) ([]models.ChunkHit, error)
}

type GraphReader interface {
	Read(fn func(v *global.View) error) error
	Generation() uint64
}

// Recorder persists a history row per answered query.
type Recorder interface {
	InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error
}

type Options struct {
	StopWords         []string
	DefaultMaxResults int
	EmbeddingTimeout  time.Duration
	// CacheEnabled controls whether cached responses are served. Responses are
	// always recorded so analytics work either way.
	CacheEnabled   bool
	CacheCapacity  int
	Embedder       Embedder
	EmbeddingCache EmbeddingCache
	ChunkIndex     ChunkIndex
	Recorder       Recorder
}

type Request struct {
	Text string
	// Kind overrides detection when set.
	Kind models.QueryKind
	// Filters must be nil or a string-keyed map.
	Filters any
	// MaxResults defaults to the configured value when nil.
	MaxResults *int
}

type Dispatcher struct {
	store             GraphReader
	normalizer        *Normalizer
	defaultMaxResults int
	embeddingTimeout  time.Duration
	cacheEnabled      bool

	embedder       Embedder
	embeddingCache EmbeddingCache
	index          ChunkIndex
	recorder       Recorder

	responses    *responseCache
	chunkVectors *chunkEmbeddings
}

func NewDispatcher(store GraphReader, opts Options) *Dispatcher {
	if opts.DefaultMaxResults <= 0 {
		opts.DefaultMaxResults = 10
	}
	if opts.EmbeddingTimeout <= 0 {
		opts.EmbeddingTimeout = 15 * time.Second
	}
	if opts.EmbeddingCache == nil {
		opts.EmbeddingCache = NewMemoryEmbeddingCache()
	}

	return &Dispatcher{
		store:             store,
		normalizer:        NewNormalizer(opts.StopWords),
		defaultMaxResults: opts.DefaultMaxResults,
		embeddingTimeout:  opts.EmbeddingTimeout,
		cacheEnabled:      opts.CacheEnabled,
		embedder:          opts.Embedder,
		embeddingCache:    opts.EmbeddingCache,
		index:             opts.ChunkIndex,
		recorder:          opts.Recorder,
		responses:         newResponseCache(opts.CacheCapacity),
		chunkVectors:      newChunkEmbeddings(),
	}
}

// Query runs one query through normalize, detect, route, score, rank and
// cache. A failed query never touches the cache.
func (d *Dispatcher) Query(ctx context.Context, req Request) (*models.QueryResponse, error) {
	start := time.Now()

	q, kind, err := d.parse(req)
	if err != nil {
		metrics.QueryTotal.WithLabelValues(string(req.Kind), "invalid").Inc()
		return nil, err
	}

	key := utils.HashString(fmt.Sprintf("%s|%s|%s|%d", q.normalized, kind, q.filters.key(), q.maxResults))

	if d.cacheEnabled {
		if cached, ok := d.responses.get(key, d.store.Generation()); ok {
			metrics.CacheHits.WithLabelValues("response").Inc()
			resp := cloneResponse(cached)
			resp.QueryID = uuid.New().String()
			resp.Query = req.Text
			resp.Cached = true
			resp.ProcessingTime = time.Since(start)
			d.finish(ctx, resp)
			return resp, nil
		}
		metrics.CacheMisses.WithLabelValues("response").Inc()
	}

	results, meta, generation, err := d.route(ctx, kind, q)
	if err != nil {
		metrics.QueryTotal.WithLabelValues(string(kind), "error").Inc()
		logger.Debug("Query failed", zap.String("kind", string(kind)), zap.Error(err))
		return nil, err
	}

	results = rank(results, q.maxResults)
	resp := &models.QueryResponse{
		QueryID:        uuid.New().String(),
		Query:          req.Text,
		Kind:           kind,
		Results:        results,
		Suggestions:    suggest(q.normalized, results),
		ProcessingTime: time.Since(start),
		Metadata:       meta,
	}

	d.responses.put(key, generation, cloneResponse(resp))
	d.finish(ctx, resp)
	return resp, nil
}

func (d *Dispatcher) parse(req Request) (*parsedQuery, models.QueryKind, error) {
	normalized, err := d.normalizer.Normalize(req.Text)
	if err != nil {
		return nil, "", err
	}
	filters, err := ParseFilters(req.Filters)
	if err != nil {
		return nil, "", err
	}

	maxResults := d.defaultMaxResults
	if req.MaxResults != nil {
		if *req.MaxResults <= 0 {
			return nil, "", apperr.InvalidArgument("max_results must be positive, got %d", *req.MaxResults)
		}
		maxResults = *req.MaxResults
	}

	kind := req.Kind
	if kind == "" {
		kind = DetectKind(normalized, req.Text)
	} else if !kind.Valid() {
		return nil, "", apperr.InvalidArgument("unknown query kind %q", kind)
	}

	terms := queryTerms(normalized)
	return &parsedQuery{
		raw:        req.Text,
		normalized: normalized,
		terms:      terms,
		content:    contentTerms(terms),
		filters:    filters,
		maxResults: maxResults,
	}, kind, nil
}

func (d *Dispatcher) route(ctx context.Context, kind models.QueryKind, q *parsedQuery) ([]models.QueryResult, map[string]any, uint64, error) {
	if kind == models.KindSemantic {
		results, generation, err := d.processSemantic(ctx, q)
		return results, nil, generation, err
	}

	var results []models.QueryResult
	var meta map[string]any
	var generation uint64
	err := d.store.Read(func(v *global.View) error {
		generation = v.Generation()
		var err error
		switch kind {
		case models.KindEntity:
			results, err = processEntity(v, q)
		case models.KindRelationship:
			results, err = processRelationship(v, q)
		case models.KindDocument:
			results, err = processDocument(v, q)
		case models.KindCrossDocument:
			results, err = processCrossDocument(v, q)
		case models.KindGraphTraversal:
			results, meta, err = processTraversal(v, q)
		default:
			err = apperr.InvalidArgument("unknown query kind %q", kind)
		}
		return err
	})
	return results, meta, generation, err
}

func (d *Dispatcher) finish(ctx context.Context, resp *models.QueryResponse) {
	kind := string(resp.Kind)
	metrics.QueryDuration.WithLabelValues(kind).Observe(resp.ProcessingTime.Seconds())
	metrics.QueryTotal.WithLabelValues(kind, "success").Inc()
	metrics.QueryResultsCount.WithLabelValues(kind).Observe(float64(len(resp.Results)))

	logger.Debug("Query processed",
		zap.String("query_id", resp.QueryID),
		zap.String("kind", kind),
		zap.Int("results", len(resp.Results)),
		zap.Bool("cached", resp.Cached),
		zap.Duration("latency", resp.ProcessingTime),
	)

	if d.recorder == nil {
		return
	}
	err := d.recorder.InsertQueryRecord(ctx, &models.QueryRecord{
		ID:          resp.QueryID,
		QueryText:   resp.Query,
		Kind:        kind,
		ResultCount: len(resp.Results),
		Cached:      resp.Cached,
		LatencyMS:   resp.ProcessingTime.Milliseconds(),
		CreatedAt:   time.Now(),
	})
	if err != nil {
		logger.Warn("Failed to record query", zap.String("query_id", resp.QueryID), zap.Error(err))
	}
}

// Analytics aggregates over the response cache. An empty cache reports
// NoData instead of zero averages.
func (d *Dispatcher) Analytics(ctx context.Context) models.Analytics {
	responses := d.responses.snapshot()
	if len(responses) == 0 {
		return models.Analytics{NoData: true}
	}

	counts := make(map[models.QueryKind]int)
	var total time.Duration
	results := 0
	for _, r := range responses {
		counts[r.Kind]++
		total += r.ProcessingTime
		results += len(r.Results)
	}

	embeddingCacheSize, err := d.embeddingCache.Len(ctx)
	if err != nil {
		logger.Warn("Failed to size embedding cache", zap.Error(err))
	}

	n := len(responses)
	return models.Analytics{
		TotalQueries:       n,
		QueryKindCounts:    counts,
		AvgProcessingTime:  total / time.Duration(n),
		AvgResultsPerQuery: float64(results) / float64(n),
		CacheSize:          d.responses.len(),
		EmbeddingCacheSize: embeddingCacheSize,
	}
}

// GetEntityNeighborhood returns the entities within depth hops of entityID.
func (d *Dispatcher) GetEntityNeighborhood(entityID string, depth int) (models.Neighborhood, error) {
	if entityID == "" {
		return models.Neighborhood{}, apperr.InvalidArgument("entity id is required")
	}
	if depth < 0 {
		return models.Neighborhood{}, apperr.InvalidArgument("depth must not be negative, got %d", depth)
	}

	var hood models.Neighborhood
	err := d.store.Read(func(v *global.View) error {
		var err error
		hood, err = v.Neighborhood(entityID, depth)
		return err
	})
	return hood, err
}
