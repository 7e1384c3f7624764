package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/apperr"
)

// testGraph builds a -> b -> c -> d with a low-confidence shortcut a -> d and
// an isolated node e.
func testGraph(t *testing.T) *Digraph {
	t.Helper()

	g := New()
	for _, n := range []models.Entity{
		{ID: "a", Name: "Alice Smith", Type: models.EntityPerson},
		{ID: "b", Name: "Acme Corp", Type: models.EntityOrganization},
		{ID: "c", Name: "Berlin", Type: models.EntityLocation},
		{ID: "d", Name: "Bob Jones", Type: models.EntityPerson},
		{ID: "e", Name: "Eve Adams", Type: models.EntityPerson},
	} {
		g.AddNode(n)
	}
	for _, r := range []models.Relationship{
		{ID: "ab", SourceEntityID: "a", TargetEntityID: "b", RelationshipType: models.RelWorksFor, Confidence: 0.6},
		{ID: "bc", SourceEntityID: "b", TargetEntityID: "c", RelationshipType: models.RelLocatedIn, Confidence: 0.6},
		{ID: "cd", SourceEntityID: "c", TargetEntityID: "d", RelationshipType: models.RelRelatedTo, Confidence: 0.6},
		{ID: "ad", SourceEntityID: "a", TargetEntityID: "d", RelationshipType: models.RelNarrativeSequence, Confidence: 0.4},
	} {
		require.NoError(t, g.AddEdge(r))
	}
	return g
}

func TestAddEdgeRequiresEndpoints(t *testing.T) {
	g := New()
	g.AddNode(models.Entity{ID: "a"})

	err := g.AddEdge(models.Relationship{ID: "x", SourceEntityID: "a", TargetEntityID: "missing"})
	assert.ErrorIs(t, err, apperr.ErrCorrupted)
	assert.Equal(t, 0, g.EdgeCount())
}

func TestParallelEdgesAreKept(t *testing.T) {
	g := testGraph(t)
	require.NoError(t, g.AddEdge(models.Relationship{ID: "ab2", SourceEntityID: "a", TargetEntityID: "b", RelationshipType: models.RelLeads}))

	assert.Len(t, g.OutEdges("a"), 3)
	assert.Len(t, g.InEdges("b"), 2)
}

func TestComposeIncomingWins(t *testing.T) {
	g := testGraph(t)
	nodes, edges := g.NodeCount(), g.EdgeCount()

	other := New()
	other.AddNode(models.Entity{ID: "a", Name: "Alice Smith", Type: models.EntityPerson, Confidence: 0.99})
	other.AddNode(models.Entity{ID: "f", Name: "Frank Ocean", Type: models.EntityPerson})
	require.NoError(t, other.AddEdge(models.Relationship{ID: "af", SourceEntityID: "a", TargetEntityID: "f", RelationshipType: models.RelKnows}))

	require.NoError(t, g.Compose(other))

	a, ok := g.Node("a")
	require.True(t, ok)
	assert.Equal(t, 0.99, a.Confidence)
	assert.Equal(t, nodes+1, g.NodeCount())
	assert.Equal(t, edges+1, g.EdgeCount())
}

func TestCloneIsIndependent(t *testing.T) {
	g := testGraph(t)
	c := g.Clone()
	c.AddNode(models.Entity{ID: "z"})
	require.NoError(t, c.AddEdge(models.Relationship{ID: "az", SourceEntityID: "a", TargetEntityID: "z"}))

	assert.False(t, g.HasNode("z"))
	assert.Len(t, g.OutEdges("a"), 2)
}

func TestShortestPath(t *testing.T) {
	g := testGraph(t)

	path, ok := g.ShortestPath("a", "d", PathFilter{})
	require.True(t, ok)
	assert.Equal(t, []string{"a", "d"}, path.NodeIDs)
	assert.Equal(t, 1, path.Len())

	path, ok = g.ShortestPath("a", "d", PathFilter{MinConfidence: 0.5})
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c", "d"}, path.NodeIDs)

	_, ok = g.ShortestPath("a", "d", PathFilter{MinConfidence: 0.5, MaxLength: 2})
	assert.False(t, ok)

	_, ok = g.ShortestPath("a", "d", PathFilter{MinConfidence: 0.5, EntityTypes: map[string]bool{models.EntityOrganization: true}})
	assert.False(t, ok, "Berlin is a location and blocks the route")

	path, ok = g.ShortestPath("a", "c", PathFilter{RelationshipTypes: map[string]bool{models.RelWorksFor: true, models.RelLocatedIn: true}})
	require.True(t, ok)
	assert.Equal(t, 2, path.Len())
}

func TestShortestPathDisconnected(t *testing.T) {
	g := testGraph(t)

	_, ok := g.ShortestPath("a", "e", PathFilter{})
	assert.False(t, ok)

	_, ok = g.ShortestPath("d", "a", PathFilter{})
	assert.False(t, ok, "edges are directed")

	_, ok = g.ShortestPath("a", "missing", PathFilter{})
	assert.False(t, ok)
}

func TestNeighborhood(t *testing.T) {
	g := testGraph(t)

	nodes, edges, ok := g.Neighborhood("b", 1)
	require.True(t, ok)
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []string{"b", "a", "c"}, ids)
	assert.Len(t, edges, 2)

	nodes, _, ok = g.Neighborhood("e", 3)
	require.True(t, ok)
	assert.Len(t, nodes, 1)

	_, _, ok = g.Neighborhood("missing", 1)
	assert.False(t, ok)
}
