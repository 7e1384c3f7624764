package zilliz

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/kgraph/backend/internal/metrics"
	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/apperr"
	"github.com/kgraph/backend/pkg/logger"
)

// Client is an ANN index over chunk embeddings, scored by cosine similarity.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

func NewClient(ctx context.Context, endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrUnavailable, err, "failed to create milvus client")
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
		zap.Int("dim", vectorDim),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func (z *Client) CreateCollection(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", z.collectionName))
		return z.client.LoadCollection(ctx, z.collectionName, false)
	}

	schema := &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "Knowledge graph chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": strconv.Itoa(z.vectorDim),
				},
			},
			{
				Name:     "document_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "256",
				},
			},
			{
				Name:     "semantic_type",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "source_page",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	if err := z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := z.client.CreateIndex(ctx, z.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := z.client.LoadCollection(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", z.collectionName))
	return nil
}

// IndexChunks inserts the document's chunks that carry an embedding of the
// configured dimension and returns how many were written.
func (z *Client) IndexChunks(ctx context.Context, documentID string, chunks []models.Chunk) (int, error) {
	rows := indexable(chunks, z.vectorDim)
	if len(rows) == 0 {
		return 0, nil
	}

	chunkIDs := make([]string, len(rows))
	embeddings := make([][]float32, len(rows))
	docIDs := make([]string, len(rows))
	semanticTypes := make([]string, len(rows))
	pages := make([]int64, len(rows))

	for i, chunk := range rows {
		chunkIDs[i] = chunk.ID
		embeddings[i] = chunk.Embedding
		docIDs[i] = documentID
		semanticTypes[i] = chunk.SemanticType
		pages[i] = int64(chunk.SourcePage)
	}

	start := time.Now()
	_, err := z.client.Upsert(
		ctx,
		z.collectionName,
		"",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnFloatVector("embedding", z.vectorDim, embeddings),
		entity.NewColumnVarChar("document_id", docIDs),
		entity.NewColumnVarChar("semantic_type", semanticTypes),
		entity.NewColumnInt64("source_page", pages),
	)
	observe("upsert", start, err)
	if err != nil {
		return 0, apperr.Wrap(apperr.ErrUnavailable, err, "failed to upsert chunks")
	}

	if err := z.client.Flush(ctx, z.collectionName, false); err != nil {
		return 0, apperr.Wrap(apperr.ErrUnavailable, err, "failed to flush")
	}

	logger.Info("Chunks indexed", zap.String("doc_id", documentID), zap.Int("count", len(rows)))
	return len(rows), nil
}

func (z *Client) Search(ctx context.Context, queryEmbedding []float32, topK int, filter models.ChunkFilter) ([]models.ChunkHit, error) {
	if len(queryEmbedding) != z.vectorDim {
		return nil, apperr.InvalidArgument("query embedding has dimension %d, index expects %d", len(queryEmbedding), z.vectorDim)
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	expr := filterExpr(filter)
	start := time.Now()
	searchResult, err := z.client.Search(
		ctx,
		z.collectionName,
		[]string{},
		expr,
		[]string{"chunk_id"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.COSINE,
		topK,
		sp,
	)
	observe("search", start, err)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrUnavailable, err, "failed to search chunk index")
	}

	hits := make([]models.ChunkHit, 0, topK)
	for _, sr := range searchResult {
		col := sr.Fields.GetColumn("chunk_id")
		if col == nil {
			continue
		}
		for i := 0; i < sr.ResultCount; i++ {
			id, err := col.GetAsString(i)
			if err != nil {
				continue
			}
			hits = append(hits, models.ChunkHit{ChunkID: id, Score: float64(sr.Scores[i])})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(hits)),
		zap.String("filter", expr),
	)
	return hits, nil
}

func indexable(chunks []models.Chunk, dim int) []models.Chunk {
	var out []models.Chunk
	for _, c := range chunks {
		if len(c.Embedding) == dim {
			out = append(out, c)
		}
	}
	return out
}

func filterExpr(f models.ChunkFilter) string {
	var clauses []string
	if f.DocumentID != "" {
		clauses = append(clauses, "document_id == "+strconv.Quote(f.DocumentID))
	}
	if f.SemanticType != "" {
		clauses = append(clauses, "semantic_type == "+strconv.Quote(f.SemanticType))
	}
	if f.PageMin > 0 {
		clauses = append(clauses, fmt.Sprintf("source_page >= %d", f.PageMin))
	}
	if f.PageMax > 0 {
		clauses = append(clauses, fmt.Sprintf("source_page <= %d", f.PageMax))
	}
	return strings.Join(clauses, " && ")
}

func observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ExternalCallDuration.WithLabelValues("milvus", operation, status).Observe(time.Since(start).Seconds())
}
