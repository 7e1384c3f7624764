package global

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kgraph/backend/internal/storage/models"
)

func TestNameSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"Apple Inc.", "apple inc", 1},
		{"Goldman Sachs Group", "Goldman Sachs", 2.0 / 3.0},
		{"Bill Gates", "Melinda Gates", 1.0 / 3.0},
		{"", "", 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, NameSimilarity(tt.a, tt.b), 1e-9, "%q vs %q", tt.a, tt.b)
	}
}

func TestJaccardLinkerSkipsSameDocument(t *testing.T) {
	source := ent("Acme Corp", models.EntityOrganization, 0.7, "d1c1")
	twin := ent("ACME CORP", models.EntityOrganization, 0.7, "d1c2")

	links := NewJaccardLinker(0.8).Link("doc_1", []models.Entity{source}, []LinkCandidate{
		{Entity: source, Documents: []string{"doc_1"}},
		{Entity: twin, Documents: []string{"doc_1"}},
	})
	assert.Empty(t, links)
}

func TestJaccardLinkerOneLinkPerOtherDocument(t *testing.T) {
	source := ent("Acme Corp", models.EntityOrganization, 0.7, "d3c1")
	other := ent("acme corp", models.EntityOrganization, 0.7, "d1c1", "d2c1")

	links := NewJaccardLinker(0.8).Link("doc_3", []models.Entity{source}, []LinkCandidate{
		{Entity: other, Documents: []string{"doc_1", "doc_2", "doc_3"}},
	})

	assert.Len(t, links, 2)
	for _, l := range links {
		assert.Equal(t, models.RelSameEntity, l.RelationshipType)
		assert.NotEqual(t, "doc_3", l.TargetDocumentID)
	}
}

func TestJaccardLinkerSharedRegistryEntity(t *testing.T) {
	acme := ent("Acme Corp", models.EntityOrganization, 0.7, "d1c1", "d2c1")

	links := NewJaccardLinker(0.8).Link("doc_2", []models.Entity{acme}, []LinkCandidate{{
		Entity:         acme,
		Documents:      []string{"doc_1", "doc_2"},
		DocumentChunks: map[string][]string{"doc_1": {"d1c1"}, "doc_2": {"d2c1"}},
	}})

	assert.Len(t, links, 1)
	assert.Equal(t, models.RelSameEntity, links[0].RelationshipType)
	assert.Equal(t, SameEntityConfidence, links[0].Confidence)
	assert.Equal(t, "doc_1", links[0].TargetDocumentID)
	assert.Equal(t, []string{"d2c1", "d1c1"}, links[0].EvidenceChunkIDs)
}
