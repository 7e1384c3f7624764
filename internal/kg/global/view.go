package global

import (
	"github.com/kgraph/backend/internal/kg/graph"
	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/apperr"
)

// UnknownDocument is returned by EntityDocuments when no chunk resolves.
const UnknownDocument = "unknown"

// View is a read-only window on one committed state of the store.
type View struct {
	s *state
}

func (v *View) Generation() uint64 { return v.s.generation }

func (v *View) Entity(id string) (models.Entity, bool) {
	e, ok := v.s.entities[id]
	return e, ok
}

// Entities returns the registry in first-seen order.
func (v *View) Entities() []models.Entity {
	out := make([]models.Entity, 0, len(v.s.entityOrder))
	for _, id := range v.s.entityOrder {
		out = append(out, v.s.entities[id])
	}
	return out
}

// Relationships returns the intra-document edges of the global graph.
func (v *View) Relationships() []models.Relationship {
	var out []models.Relationship
	for _, r := range v.s.graph.Edges() {
		if !v.s.crossDocIDs[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

// Documents returns integrated documents in integration order.
func (v *View) Documents() []*models.KnowledgeGraph {
	out := make([]*models.KnowledgeGraph, 0, len(v.s.docOrder))
	for _, id := range v.s.docOrder {
		out = append(out, v.s.documents[id])
	}
	return out
}

func (v *View) Document(id string) (*models.KnowledgeGraph, bool) {
	kg, ok := v.s.documents[id]
	return kg, ok
}

func (v *View) CrossDocumentRelationships() []models.CrossDocumentRelationship {
	return append([]models.CrossDocumentRelationship(nil), v.s.crossDocs...)
}

func (v *View) chunkDocument(chunkID string) (string, bool) {
	doc, ok := v.s.chunkIndex[chunkID]
	return doc, ok
}

// EntityDocuments maps the entity's source chunks to their owning documents,
// deduplicated in chunk order.
func (v *View) EntityDocuments(e models.Entity) ([]string, error) {
	if e.SourceChunkIDs == nil {
		return nil, apperr.InvalidArgument("entity %s has no source chunk ids", e.ID)
	}
	if v.s.chunkIndex == nil || v.s.documents == nil {
		return nil, apperr.Unavailable("chunk index is not available")
	}

	var docs []string
	seen := make(map[string]bool)
	for _, chunkID := range e.SourceChunkIDs {
		doc, ok := v.chunkDocument(chunkID)
		if !ok {
			continue
		}
		if _, known := v.s.documents[doc]; !known {
			return nil, apperr.Unavailable("chunk index references missing document %s", doc)
		}
		if !seen[doc] {
			seen[doc] = true
			docs = append(docs, doc)
		}
	}
	if len(docs) == 0 {
		return []string{UnknownDocument}, nil
	}
	return docs, nil
}

// RelationshipDocuments attributes a relationship through its evidence
// chunks, then through its endpoints.
func (v *View) RelationshipDocuments(r models.Relationship) []string {
	var docs []string
	seen := make(map[string]bool)
	add := func(doc string) {
		if doc != UnknownDocument && !seen[doc] {
			seen[doc] = true
			docs = append(docs, doc)
		}
	}
	for _, chunkID := range r.SourceChunkIDs {
		if doc, ok := v.chunkDocument(chunkID); ok {
			add(doc)
		}
	}
	for _, id := range []string{r.SourceEntityID, r.TargetEntityID} {
		e, ok := v.s.entities[id]
		if !ok {
			continue
		}
		entityDocs, err := v.EntityDocuments(e)
		if err != nil {
			continue
		}
		for _, doc := range entityDocs {
			add(doc)
		}
	}
	if len(docs) == 0 {
		return []string{UnknownDocument}
	}
	return docs
}

func (v *View) ShortestPath(src, dst string, filter graph.PathFilter) (graph.Path, bool) {
	return v.s.graph.ShortestPath(src, dst, filter)
}

// Neighborhood returns the entities within depth hops of entityID with
// registry attributes, and the edges joining them.
func (v *View) Neighborhood(entityID string, depth int) (models.Neighborhood, error) {
	nodes, edges, ok := v.s.graph.Neighborhood(entityID, depth)
	if !ok {
		return models.Neighborhood{}, apperr.NotFound("entity %s is not in the global graph", entityID)
	}
	for i, n := range nodes {
		if registered, ok := v.s.entities[n.ID]; ok {
			nodes[i] = registered
		}
	}
	return models.Neighborhood{Center: entityID, Depth: depth, Nodes: nodes, Edges: edges}, nil
}

func (v *View) Stats() models.GraphStats {
	return models.GraphStats{
		Entities:           len(v.s.entities),
		Relationships:      v.s.graph.EdgeCount(),
		Documents:          len(v.s.documents),
		CrossDocumentLinks: len(v.s.crossDocs),
		Generation:         v.s.generation,
	}
}
