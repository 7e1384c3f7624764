package extraction

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/apperr"
)

// scriptedExtractor returns fixed candidates per chunk id.
type scriptedExtractor struct {
	byChunk map[string][]Candidate
}

func (s *scriptedExtractor) ExtractEntities(_ string, chunkID string) ([]Candidate, error) {
	out := make([]Candidate, 0, len(s.byChunk[chunkID]))
	for _, c := range s.byChunk[chunkID] {
		c.Properties = map[string]string{"source_chunk_id": chunkID, "seen_in_" + chunkID: "yes"}
		out = append(out, c)
	}
	return out, nil
}

func testChunks() []models.Chunk {
	return []models.Chunk{
		{ID: "c1", Content: "Bill Gates founded Microsoft Corporation in Seattle.", SourcePage: 1},
		{ID: "c2", Content: "Microsoft Corporation hired Satya Nadella in 1992.", SourcePage: 1},
		{ID: "c3", Content: "Satya Nadella later met Bill Gates in Redmond.", SourcePage: 2},
	}
}

func TestConsolidateMergesMentions(t *testing.T) {
	extractor := &scriptedExtractor{byChunk: map[string][]Candidate{
		"c1": {{Name: "Bill Gates", Type: models.EntityPerson, Confidence: 0.7}},
		"c2": {{Name: "bill gates", Type: models.EntityPerson, Confidence: 0.95}},
		"c3": {{Name: "BILL GATES", Type: models.EntityPerson, Confidence: 0.8}},
	}}

	entities, err := NewConsolidator(extractor, 0.6, 2).Consolidate(context.Background(), testChunks())
	require.NoError(t, err)
	require.Len(t, entities, 1)

	e := entities[0]
	assert.Equal(t, "Bill Gates", e.Name)
	assert.Equal(t, EntityID("Bill Gates", models.EntityPerson), e.ID)
	assert.Equal(t, 0.95, e.Confidence)
	assert.Equal(t, []string{"c1", "c2", "c3"}, e.SourceChunkIDs)
	assert.Equal(t, "c1", e.Properties["source_chunk_id"], "first occurrence wins")
	assert.Equal(t, "yes", e.Properties["seen_in_c3"])
}

func TestConsolidateIsOrderIndependent(t *testing.T) {
	consolidator := NewConsolidator(NewPatternExtractor(), 0.6, 4)
	chunks := testChunks()

	base, err := consolidator.Consolidate(context.Background(), chunks)
	require.NoError(t, err)
	require.NotEmpty(t, base)

	permutations := [][]int{{2, 1, 0}, {1, 2, 0}, {0, 2, 1}}
	for _, perm := range permutations {
		shuffled := make([]models.Chunk, len(chunks))
		for i, p := range perm {
			shuffled[i] = chunks[p]
		}

		got, err := consolidator.Consolidate(context.Background(), shuffled)
		require.NoError(t, err)
		assert.Equal(t, canonical(base), canonical(got))
	}
}

func TestConsolidateDedupesByNameAndType(t *testing.T) {
	entities, err := NewConsolidator(NewPatternExtractor(), 0.6, 1).Consolidate(context.Background(), testChunks())
	require.NoError(t, err)

	seen := make(map[entityKey]bool)
	for _, e := range entities {
		key := entityKey{name: NormalizeName(e.Name), entityType: e.Type}
		assert.False(t, seen[key], "duplicate entity %s", e.Name)
		seen[key] = true
	}
}

func TestConsolidateConfidenceFilter(t *testing.T) {
	chunks := []models.Chunk{{ID: "c1", Content: "Bill Gates spoke."}}

	entities, err := NewConsolidator(NewPatternExtractor(), 0.9, 1).Consolidate(context.Background(), chunks)
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestConsolidateRejectsChunkWithoutID(t *testing.T) {
	_, err := NewConsolidator(NewPatternExtractor(), 0.6, 1).Consolidate(context.Background(), []models.Chunk{{Content: "text"}})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

type canonicalEntity struct {
	ID         string
	Confidence float64
	Chunks     []string
	Properties map[string]string
}

func canonical(entities []models.Entity) map[string]canonicalEntity {
	out := make(map[string]canonicalEntity, len(entities))
	for _, e := range entities {
		chunks := append([]string{}, e.SourceChunkIDs...)
		sort.Strings(chunks)
		out[e.ID] = canonicalEntity{ID: e.ID, Confidence: e.Confidence, Chunks: chunks, Properties: e.Properties}
	}
	return out
}
