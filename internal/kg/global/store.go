// Package global owns the long-lived entity registry and global graph. All
// mutations go through Integrate, which holds the writer lock for the whole
// merge and link of one document and swaps in the new state only when both
// succeed. Readers see either the state before or after an integration.
package global

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kgraph/backend/internal/extraction"
	"github.com/kgraph/backend/internal/kg/graph"
	"github.com/kgraph/backend/internal/metrics"
	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/apperr"
	"github.com/kgraph/backend/pkg/logger"
)

// Mirror receives a copy of every committed integration. Failures are logged
// and never roll back the in-memory state.
type Mirror interface {
	MirrorDocument(ctx context.Context, kg *models.KnowledgeGraph, entities []models.Entity, links []models.CrossDocumentRelationship) error
}

// DocumentLoader rehydrates a persisted knowledge graph.
type DocumentLoader interface {
	Load(ctx context.Context, cid string) (*models.KnowledgeGraph, *graph.Digraph, error)
}

type Options struct {
	Linker EntityLinker
	Mirror Mirror
	Loader DocumentLoader
}

type GraphStore struct {
	mu     sync.RWMutex
	state  *state
	closed bool

	linker EntityLinker
	mirror Mirror
	loader DocumentLoader
}

type state struct {
	entities    map[string]models.Entity
	entityOrder []string
	graph       *graph.Digraph
	documents   map[string]*models.KnowledgeGraph
	docOrder    []string
	chunkIndex  map[string]string
	crossDocs   []models.CrossDocumentRelationship
	crossDocIDs map[string]bool
	generation  uint64
}

func newState() *state {
	return &state{
		entities:    make(map[string]models.Entity),
		graph:       graph.New(),
		documents:   make(map[string]*models.KnowledgeGraph),
		chunkIndex:  make(map[string]string),
		crossDocIDs: make(map[string]bool),
	}
}

// clone copies everything an integration may touch. Entity and relationship
// values are copied by value and never mutated in place afterwards.
func (s *state) clone() *state {
	c := &state{
		entities:    make(map[string]models.Entity, len(s.entities)),
		entityOrder: append([]string(nil), s.entityOrder...),
		graph:       s.graph.Clone(),
		documents:   make(map[string]*models.KnowledgeGraph, len(s.documents)),
		docOrder:    append([]string(nil), s.docOrder...),
		chunkIndex:  make(map[string]string, len(s.chunkIndex)),
		crossDocs:   append([]models.CrossDocumentRelationship(nil), s.crossDocs...),
		crossDocIDs: make(map[string]bool, len(s.crossDocIDs)),
		generation:  s.generation,
	}
	for k, v := range s.entities {
		c.entities[k] = v
	}
	for k, v := range s.documents {
		c.documents[k] = v
	}
	for k, v := range s.chunkIndex {
		c.chunkIndex[k] = v
	}
	for k, v := range s.crossDocIDs {
		c.crossDocIDs[k] = v
	}
	return c
}

func NewGraphStore(opts Options) *GraphStore {
	linker := opts.Linker
	if linker == nil {
		linker = NewJaccardLinker(0.8)
	}
	return &GraphStore{
		state:  newState(),
		linker: linker,
		mirror: opts.Mirror,
		loader: opts.Loader,
	}
}

type IntegrationResult struct {
	DocumentID         string
	NewEntities        int
	MergedEntities     int
	CrossDocumentLinks []models.CrossDocumentRelationship
	Generation         uint64
}

// Integrate merges one document's graph into the registry and global graph,
// then links its entities to those of other documents. Any failure leaves the
// store untouched.
func (gs *GraphStore) Integrate(ctx context.Context, kg *models.KnowledgeGraph, docGraph *graph.Digraph) (*IntegrationResult, error) {
	if kg == nil || kg.DocumentID == "" {
		return nil, apperr.InvalidArgument("knowledge graph with a document id is required")
	}
	if err := validateKnowledgeGraph(kg); err != nil {
		metrics.IntegrationFailures.Inc()
		return nil, err
	}
	if docGraph == nil {
		var err error
		docGraph, err = graph.FromDocument(kg.Entities, kg.Relationships)
		if err != nil {
			metrics.IntegrationFailures.Inc()
			return nil, err
		}
	}

	gs.mu.Lock()
	result, committed, err := gs.integrateLocked(ctx, kg, docGraph)
	gs.mu.Unlock()

	if err != nil {
		metrics.IntegrationFailures.Inc()
		logger.Error("Document integration aborted",
			zap.String("doc_id", kg.DocumentID),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.DocumentsIntegrated.Inc()
	metrics.GraphEntities.Set(float64(len(committed.entities)))
	metrics.GraphRelationships.Set(float64(committed.graph.EdgeCount()))
	for _, link := range result.CrossDocumentLinks {
		metrics.CrossDocumentLinks.WithLabelValues(link.RelationshipType).Inc()
	}

	logger.Info("Document integrated",
		zap.String("doc_id", kg.DocumentID),
		zap.Int("new_entities", result.NewEntities),
		zap.Int("merged_entities", result.MergedEntities),
		zap.Int("cross_document_links", len(result.CrossDocumentLinks)),
		zap.Int("global_entities", len(committed.entities)),
		zap.Int("global_edges", committed.graph.EdgeCount()),
	)

	gs.mirrorDocument(ctx, kg, committed, result.CrossDocumentLinks)

	return result, nil
}

func (gs *GraphStore) integrateLocked(ctx context.Context, kg *models.KnowledgeGraph, docGraph *graph.Digraph) (*IntegrationResult, *state, error) {
	if gs.closed {
		return nil, nil, apperr.Unavailable("graph store is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if _, exists := gs.state.documents[kg.DocumentID]; exists {
		return nil, nil, apperr.InvalidArgument("document %s is already integrated", kg.DocumentID)
	}

	next := gs.state.clone()
	result := &IntegrationResult{DocumentID: kg.DocumentID}

	for _, chunk := range kg.Chunks {
		if owner, exists := next.chunkIndex[chunk.ID]; exists && owner != kg.DocumentID {
			return nil, nil, apperr.Corrupted("chunk %s already belongs to document %s", chunk.ID, owner)
		}
		next.chunkIndex[chunk.ID] = kg.DocumentID
	}
	next.documents[kg.DocumentID] = kg
	next.docOrder = append(next.docOrder, kg.DocumentID)

	for _, e := range kg.Entities {
		if existing, ok := next.entities[e.ID]; ok {
			next.entities[e.ID] = mergeRegistryEntity(existing, e)
			result.MergedEntities++
			continue
		}
		next.entities[e.ID] = copyEntity(e)
		next.entityOrder = append(next.entityOrder, e.ID)
		result.NewEntities++
	}

	if err := next.graph.Compose(docGraph); err != nil {
		return nil, nil, fmt.Errorf("failed to compose document graph: %w", err)
	}

	docEntities := make([]models.Entity, 0, len(kg.Entities))
	for _, e := range kg.Entities {
		docEntities = append(docEntities, next.entities[e.ID])
	}
	candidates := make([]LinkCandidate, 0, len(next.entityOrder))
	for _, id := range next.entityOrder {
		e := next.entities[id]
		docChunks := make(map[string][]string)
		for _, chunkID := range e.SourceChunkIDs {
			if doc, ok := next.chunkIndex[chunkID]; ok {
				docChunks[doc] = append(docChunks[doc], chunkID)
			}
		}
		candidates = append(candidates, LinkCandidate{Entity: e, Documents: sortedDocuments(docChunks), DocumentChunks: docChunks})
	}

	for _, link := range gs.linker.Link(kg.DocumentID, docEntities, candidates) {
		if next.crossDocIDs[link.ID] {
			continue
		}
		if _, ok := next.entities[link.SourceEntityID]; !ok {
			return nil, nil, apperr.Corrupted("cross-document link %s references unknown entity %s", link.ID, link.SourceEntityID)
		}
		if _, ok := next.entities[link.TargetEntityID]; !ok {
			return nil, nil, apperr.Corrupted("cross-document link %s references unknown entity %s", link.ID, link.TargetEntityID)
		}
		// An entity shared by both documents is one node; no self-loop.
		if link.SourceEntityID != link.TargetEntityID {
			if err := next.graph.AddEdge(crossDocumentEdge(link)); err != nil {
				return nil, nil, fmt.Errorf("failed to add cross-document edge: %w", err)
			}
		}
		next.crossDocIDs[link.ID] = true
		next.crossDocs = append(next.crossDocs, link)
		result.CrossDocumentLinks = append(result.CrossDocumentLinks, link)
	}

	next.generation++
	result.Generation = next.generation

	gs.state = next
	return result, next, nil
}

func validateKnowledgeGraph(kg *models.KnowledgeGraph) error {
	ids := make(map[string]bool, len(kg.Entities))
	for _, e := range kg.Entities {
		if e.ID == "" {
			return apperr.InvalidArgument("entity %q in document %s has no id", e.Name, kg.DocumentID)
		}
		if e.SourceChunkIDs == nil {
			return apperr.InvalidArgument("entity %s in document %s has no source chunk ids", e.ID, kg.DocumentID)
		}
		ids[e.ID] = true
	}
	for _, r := range kg.Relationships {
		if !ids[r.SourceEntityID] || !ids[r.TargetEntityID] {
			return apperr.Corrupted("relationship %s in document %s references an entity outside the document", r.ID, kg.DocumentID)
		}
	}
	return nil
}

func copyEntity(e models.Entity) models.Entity {
	e.SourceChunkIDs = append([]string{}, e.SourceChunkIDs...)
	props := make(map[string]string, len(e.Properties))
	for k, v := range e.Properties {
		props[k] = v
	}
	e.Properties = props
	return e
}

func mergeRegistryEntity(existing, incoming models.Entity) models.Entity {
	merged := copyEntity(existing)
	if incoming.Confidence > merged.Confidence {
		merged.Confidence = incoming.Confidence
	}
	merged.SourceChunkIDs = extraction.AppendUnique(merged.SourceChunkIDs, incoming.SourceChunkIDs...)
	for k, v := range incoming.Properties {
		if _, exists := merged.Properties[k]; !exists {
			merged.Properties[k] = v
		}
	}
	if merged.Description == "" {
		merged.Description = incoming.Description
	}
	if merged.Embedding == nil && incoming.Embedding != nil {
		merged.Embedding = incoming.Embedding
	}
	return merged
}

func crossDocumentEdge(link models.CrossDocumentRelationship) models.Relationship {
	return models.Relationship{
		ID:               link.ID,
		SourceEntityID:   link.SourceEntityID,
		TargetEntityID:   link.TargetEntityID,
		RelationshipType: link.RelationshipType,
		Description:      fmt.Sprintf("%s in %s and %s", link.RelationshipType, link.SourceDocumentID, link.TargetDocumentID),
		Confidence:       link.Confidence,
		SourceChunkIDs:   link.EvidenceChunkIDs,
		Properties: map[string]string{
			"source_document_id": link.SourceDocumentID,
			"target_document_id": link.TargetDocumentID,
		},
	}
}

func (gs *GraphStore) mirrorDocument(ctx context.Context, kg *models.KnowledgeGraph, committed *state, links []models.CrossDocumentRelationship) {
	if gs.mirror == nil {
		return
	}
	entities := make([]models.Entity, 0, len(kg.Entities))
	for _, e := range kg.Entities {
		entities = append(entities, committed.entities[e.ID])
	}
	if err := gs.mirror.MirrorDocument(ctx, kg, entities, links); err != nil {
		logger.Warn("Failed to mirror document graph",
			zap.String("doc_id", kg.DocumentID),
			zap.Error(err),
		)
	}
}

// LoadDocument rehydrates a persisted knowledge graph and integrates it.
func (gs *GraphStore) LoadDocument(ctx context.Context, cid string) (*IntegrationResult, error) {
	if gs.loader == nil {
		return nil, apperr.Unavailable("no document loader configured")
	}
	kg, docGraph, err := gs.loader.Load(ctx, cid)
	if err != nil {
		return nil, err
	}
	return gs.Integrate(ctx, kg, docGraph)
}

// Read runs fn against a consistent view of the store. fn must not retain the
// view or call back into the store.
func (gs *GraphStore) Read(fn func(v *View) error) error {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	return fn(&View{s: gs.state})
}

// HasDocument reports whether documentID has been integrated.
func (gs *GraphStore) HasDocument(documentID string) bool {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	_, ok := gs.state.documents[documentID]
	return ok
}

func (gs *GraphStore) Generation() uint64 {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	return gs.state.generation
}

func (gs *GraphStore) Stats() models.GraphStats {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	return (&View{s: gs.state}).Stats()
}

// Close rejects further integrations. Reads keep working on the final state.
func (gs *GraphStore) Close(_ context.Context) error {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if gs.closed {
		return nil
	}
	gs.closed = true

	logger.Info("Graph store closed",
		zap.Int("entities", len(gs.state.entities)),
		zap.Int("edges", gs.state.graph.EdgeCount()),
		zap.Int("documents", len(gs.state.documents)),
	)
	return nil
}
