package query

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/kgraph/backend/internal/kg/global"
	"github.com/kgraph/backend/internal/metrics"
	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/apperr"
	"github.com/kgraph/backend/pkg/logger"
	"github.com/kgraph/backend/pkg/utils"
)

const snippetLength = 200

type chunkRef struct {
	chunk      models.Chunk
	documentID string
}

type semanticFilter struct {
	documentID    string
	semanticType  string
	minSimilarity float64
	pageMin       int
	pageMax       int
}

func parseSemanticFilter(f Filters) (semanticFilter, error) {
	var sf semanticFilter
	var err error
	if sf.documentID, _, err = f.String("document_id"); err != nil {
		return sf, err
	}
	if sf.semanticType, _, err = f.String("semantic_type"); err != nil {
		return sf, err
	}
	if sf.minSimilarity, _, err = f.Float("min_similarity"); err != nil {
		return sf, err
	}
	if sf.pageMin, sf.pageMax, _, err = f.PageRange("page_range"); err != nil {
		return sf, err
	}
	return sf, nil
}

func (sf semanticFilter) allows(c models.Chunk, documentID string) bool {
	if sf.documentID != "" && documentID != sf.documentID {
		return false
	}
	if sf.semanticType != "" && c.SemanticType != sf.semanticType {
		return false
	}
	if sf.pageMin > 0 && c.SourcePage < sf.pageMin {
		return false
	}
	if sf.pageMax > 0 && c.SourcePage > sf.pageMax {
		return false
	}
	return true
}

// processSemantic ranks chunks by cosine similarity to the query embedding.
// Embedding calls happen outside the store's read lock; the chunks scored
// all come from one snapshot whose generation is returned.
func (d *Dispatcher) processSemantic(ctx context.Context, q *parsedQuery) ([]models.QueryResult, uint64, error) {
	if d.embedder == nil {
		return nil, 0, apperr.Unavailable("no embedding model is configured")
	}
	sf, err := parseSemanticFilter(q.filters)
	if err != nil {
		return nil, 0, err
	}

	queryVec, err := d.queryEmbedding(ctx, q.raw)
	if err != nil {
		return nil, 0, err
	}

	var refs []chunkRef
	var generation uint64
	err = d.store.Read(func(v *global.View) error {
		generation = v.Generation()
		for _, kg := range v.Documents() {
			for _, c := range kg.Chunks {
				if sf.allows(c, kg.DocumentID) {
					refs = append(refs, chunkRef{chunk: c, documentID: kg.DocumentID})
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	if d.index != nil {
		results, err := d.searchIndex(ctx, queryVec, refs, sf, q.maxResults)
		if err == nil {
			return results, generation, nil
		}
		logger.Warn("Chunk index search failed, scoring in memory", zap.Error(err))
	}

	if err := d.fillChunkEmbeddings(ctx, refs); err != nil {
		return nil, 0, err
	}

	var results []models.QueryResult
	for _, ref := range refs {
		sim, ok := cosine(queryVec, d.chunkVector(ref.chunk))
		if !ok {
			continue
		}
		if r, keep := semanticResult(ref, sim, sf.minSimilarity); keep {
			results = append(results, r)
		}
	}
	return results, generation, nil
}

func (d *Dispatcher) searchIndex(ctx context.Context, queryVec []float32, refs []chunkRef, sf semanticFilter, max int) ([]models.QueryResult, error) {
	hits, err := d.index.Search(ctx, queryVec, max, models.ChunkFilter{
		DocumentID:   sf.documentID,
		SemanticType: sf.semanticType,
		PageMin:      sf.pageMin,
		PageMax:      sf.pageMax,
	})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]chunkRef, len(refs))
	for _, ref := range refs {
		byID[ref.chunk.ID] = ref
	}

	var results []models.QueryResult
	for _, hit := range hits {
		ref, ok := byID[hit.ChunkID]
		if !ok {
			continue
		}
		if r, keep := semanticResult(ref, hit.Score, sf.minSimilarity); keep {
			results = append(results, r)
		}
	}
	return results, nil
}

// Non-positive similarities never count as matches.
func semanticResult(ref chunkRef, sim, minSimilarity float64) (models.QueryResult, bool) {
	if sim <= 0 || sim < minSimilarity {
		return models.QueryResult{}, false
	}
	return models.QueryResult{
		ID:               ref.chunk.ID,
		Kind:             models.KindSemantic,
		Content:          truncateRunes(ref.chunk.Content, snippetLength),
		RelevanceScore:   clamp01(sim),
		SourceDocumentID: ref.documentID,
		SourceChunkIDs:   []string{ref.chunk.ID},
		Metadata: map[string]any{
			"similarity":    sim,
			"source_page":   ref.chunk.SourcePage,
			"semantic_type": ref.chunk.SemanticType,
			"document_id":   ref.documentID,
		},
	}, true
}

func (d *Dispatcher) queryEmbedding(ctx context.Context, text string) ([]float32, error) {
	if vec, ok, err := d.embeddingCache.Get(ctx, text); err != nil {
		logger.Warn("Embedding cache read failed", zap.Error(err))
	} else if ok {
		metrics.CacheHits.WithLabelValues("embedding").Inc()
		return vec, nil
	}
	metrics.CacheMisses.WithLabelValues("embedding").Inc()

	ctx, cancel := context.WithTimeout(ctx, d.embeddingTimeout)
	defer cancel()

	vec, err := d.embedder.Embed(ctx, text)
	if err != nil {
		return nil, asUnavailable(err, "failed to embed query")
	}
	if err := d.embeddingCache.Set(ctx, text, vec); err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}
	return vec, nil
}

func chunkKey(c models.Chunk) string {
	return utils.HashParts(c.ID, utils.HashString(c.Content))
}

func (d *Dispatcher) chunkVector(c models.Chunk) []float32 {
	if len(c.Embedding) > 0 {
		return c.Embedding
	}
	vec, _ := d.chunkVectors.get(chunkKey(c))
	return vec
}

// fillChunkEmbeddings embeds, in one batch, every chunk that arrived without
// a vector and is not cached yet.
func (d *Dispatcher) fillChunkEmbeddings(ctx context.Context, refs []chunkRef) error {
	var missing []models.Chunk
	for _, ref := range refs {
		if len(ref.chunk.Embedding) > 0 {
			continue
		}
		if _, ok := d.chunkVectors.get(chunkKey(ref.chunk)); ok {
			continue
		}
		missing = append(missing, ref.chunk)
	}
	if len(missing) == 0 {
		return nil
	}

	texts := make([]string, len(missing))
	for i, c := range missing {
		texts[i] = c.Content
	}

	ctx, cancel := context.WithTimeout(ctx, d.embeddingTimeout)
	defer cancel()

	vectors, err := d.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return asUnavailable(err, "failed to embed chunks")
	}
	if len(vectors) != len(missing) {
		return apperr.Unavailable("embedding service returned %d vectors for %d chunks", len(vectors), len(missing))
	}
	for i, c := range missing {
		d.chunkVectors.put(chunkKey(c), vectors[i])
	}

	logger.Debug("Chunk embeddings computed", zap.Int("count", len(missing)))
	return nil
}

func asUnavailable(err error, msg string) error {
	if errors.Is(err, apperr.ErrUnavailable) {
		return err
	}
	return apperr.Wrap(apperr.ErrUnavailable, err, msg)
}
