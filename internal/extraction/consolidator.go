package extraction

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/apperr"
	"github.com/kgraph/backend/pkg/logger"
	"github.com/kgraph/backend/pkg/utils"
)

type Consolidator struct {
	extractor   EntityExtractor
	threshold   float64
	parallelism int
}

func NewConsolidator(extractor EntityExtractor, threshold float64, parallelism int) *Consolidator {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Consolidator{
		extractor:   extractor,
		threshold:   threshold,
		parallelism: parallelism,
	}
}

// EntityID is the deterministic identity of an entity.
func EntityID(name, entityType string) string {
	return utils.HashParts(name, entityType)
}

type entityKey struct {
	name       string
	entityType string
}

// Consolidate merges the mentions found in chunks into one entity per
// (lowercased name, type) and drops entities below the confidence threshold.
// Chunks are merged in chunk-id order so the result does not depend on the
// order the caller supplies them in.
func (c *Consolidator) Consolidate(ctx context.Context, chunks []models.Chunk) ([]models.Entity, error) {
	for i, chunk := range chunks {
		if chunk.ID == "" {
			return nil, apperr.InvalidArgument("chunk at position %d has no chunk id", i)
		}
	}

	ordered := sortedChunks(chunks)
	perChunk := make([][]Candidate, len(ordered))

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.parallelism)
	for i := range ordered {
		idx := i
		eg.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			candidates, err := c.extractor.ExtractEntities(ordered[idx].Content, ordered[idx].ID)
			if err != nil {
				return fmt.Errorf("failed to extract entities from chunk %s: %w", ordered[idx].ID, err)
			}
			perChunk[idx] = candidates
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	index := make(map[entityKey]int)
	var merged []models.Entity
	for i, chunk := range ordered {
		for _, cand := range perChunk[i] {
			key := entityKey{name: NormalizeName(cand.Name), entityType: cand.Type}
			pos, ok := index[key]
			if !ok {
				index[key] = len(merged)
				merged = append(merged, newEntity(cand, chunk.ID))
				continue
			}
			mergeMention(&merged[pos], cand, chunk.ID)
		}
	}

	entities := make([]models.Entity, 0, len(merged))
	for _, e := range merged {
		if e.Confidence >= c.threshold {
			entities = append(entities, e)
		}
	}

	logger.Debug("Entities consolidated",
		zap.Int("chunks", len(chunks)),
		zap.Int("mentions", len(merged)),
		zap.Int("entities", len(entities)),
	)

	return entities, nil
}

func newEntity(cand Candidate, chunkID string) models.Entity {
	props := make(map[string]string, len(cand.Properties))
	for k, v := range cand.Properties {
		props[k] = v
	}
	return models.Entity{
		ID:             EntityID(cand.Name, cand.Type),
		Name:           cand.Name,
		Type:           cand.Type,
		Description:    cand.Context,
		Confidence:     cand.Confidence,
		SourceChunkIDs: []string{chunkID},
		Properties:     props,
	}
}

func mergeMention(e *models.Entity, cand Candidate, chunkID string) {
	if cand.Confidence > e.Confidence {
		e.Confidence = cand.Confidence
	}
	e.SourceChunkIDs = AppendUnique(e.SourceChunkIDs, chunkID)
	if e.Properties == nil {
		e.Properties = make(map[string]string)
	}
	for k, v := range cand.Properties {
		if _, exists := e.Properties[k]; !exists {
			e.Properties[k] = v
		}
	}
	if e.Description == "" {
		e.Description = cand.Context
	}
}

// AppendUnique appends the ids not already present in dst, preserving order.
func AppendUnique(dst []string, ids ...string) []string {
	for _, id := range ids {
		found := false
		for _, existing := range dst {
			if existing == id {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, id)
		}
	}
	return dst
}
