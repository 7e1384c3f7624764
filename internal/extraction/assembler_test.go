package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgraph/backend/internal/storage/models"
)

func entity(name, entityType string) models.Entity {
	return models.Entity{ID: EntityID(name, entityType), Name: name, Type: entityType, Confidence: 0.7}
}

func TestAssembleIntraChunk(t *testing.T) {
	satya := entity("Satya Nadella", models.EntityPerson)
	msft := entity("Microsoft Corporation", models.EntityOrganization)
	chunks := []models.Chunk{
		{ID: "c1", Content: "Microsoft Corporation named Satya Nadella its CEO.", SourcePage: 1},
		{ID: "c2", Content: "As CEO, Satya Nadella reshaped Microsoft Corporation.", SourcePage: 2},
	}

	rels := NewAssembler(nil).Assemble(chunks, []models.Entity{msft, satya})
	require.Len(t, rels, 1, "same source, target and type merge into one edge")

	rel := rels[0]
	assert.Equal(t, satya.ID, rel.SourceEntityID, "orientation follows the typed rule")
	assert.Equal(t, msft.ID, rel.TargetEntityID)
	assert.Equal(t, models.RelLeads, rel.RelationshipType)
	assert.Equal(t, IntraChunkConfidence, rel.Confidence)
	assert.Equal(t, []string{"c1", "c2"}, rel.SourceChunkIDs)
	assert.LessOrEqual(t, len([]rune(rel.Description)), 200)
}

func TestAssembleNarrativeSequence(t *testing.T) {
	a := entity("Bill Gates", models.EntityPerson)
	b := entity("Paul Allen", models.EntityPerson)
	c := entity("Albuquerque", models.EntityLocation)
	chunks := []models.Chunk{
		{ID: "c1", Content: "Bill Gates wrote code.", SourcePage: 1},
		{ID: "c2", Content: "Paul Allen moved to Albuquerque.", SourcePage: 1},
		{ID: "c3", Content: "Bill Gates and Paul Allen again.", SourcePage: 1},
		{ID: "c4", Content: "Only Albuquerque here.", SourcePage: 2},
	}

	rels := NewAssembler(nil).Assemble(chunks, []models.Entity{a, b, c})

	var narrative []models.Relationship
	for _, r := range rels {
		if r.RelationshipType == models.RelNarrativeSequence {
			narrative = append(narrative, r)
		}
	}
	require.Len(t, narrative, 3, "one edge per unordered pair on the page")

	pairs := make(map[string]bool)
	for _, r := range narrative {
		assert.Equal(t, NarrativeConfidence, r.Confidence)
		assert.Equal(t, "1", r.Properties["source_page"])
		pairs[pairKey(r.SourceEntityID, r.TargetEntityID)] = true
	}
	assert.True(t, pairs[pairKey(a.ID, b.ID)])
	assert.True(t, pairs[pairKey(a.ID, c.ID)])
	assert.True(t, pairs[pairKey(b.ID, c.ID)])
}

func TestAssembleSkipsSingleChunkPages(t *testing.T) {
	a := entity("Bill Gates", models.EntityPerson)
	b := entity("Paul Allen", models.EntityPerson)
	chunks := []models.Chunk{{ID: "c1", Content: "Bill Gates and Paul Allen.", SourcePage: 1}}

	for _, r := range NewAssembler(nil).Assemble(chunks, []models.Entity{a, b}) {
		assert.NotEqual(t, models.RelNarrativeSequence, r.RelationshipType)
	}
}
