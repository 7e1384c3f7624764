package builder

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kgraph/backend/internal/extraction"
	"github.com/kgraph/backend/internal/kg/graph"
	"github.com/kgraph/backend/internal/metrics"
	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/apperr"
	"github.com/kgraph/backend/pkg/logger"
)

// Storage is the content-addressed persistence collaborator. RecordDocument
// makes a stored payload the one a restart rehydrates.
type Storage interface {
	Store(ctx context.Context, kg *models.KnowledgeGraph) (string, error)
	RecordDocument(ctx context.Context, kg *models.KnowledgeGraph) error
	Load(ctx context.Context, cid string) (*models.KnowledgeGraph, error)
}

type Builder struct {
	consolidator   *extraction.Consolidator
	assembler      *extraction.Assembler
	storage        Storage
	storageTimeout time.Duration
}

func NewBuilder(consolidator *extraction.Consolidator, assembler *extraction.Assembler, storage Storage, storageTimeout time.Duration) *Builder {
	if storageTimeout <= 0 {
		storageTimeout = 10 * time.Second
	}
	return &Builder{
		consolidator:   consolidator,
		assembler:      assembler,
		storage:        storage,
		storageTimeout: storageTimeout,
	}
}

// Build extracts, consolidates and assembles one document into its knowledge
// graph and directed graph, then persists the knowledge graph. A persistence
// failure is logged and leaves StorageCID empty.
func (b *Builder) Build(ctx context.Context, doc *models.Document) (*models.KnowledgeGraph, *graph.Digraph, error) {
	if doc == nil || doc.ID == "" {
		return nil, nil, apperr.InvalidArgument("document id is required")
	}

	logger.Info("Building KG from document", zap.String("doc_id", doc.ID), zap.Int("chunks", len(doc.Chunks)))

	entities, err := b.consolidator.Consolidate(ctx, doc.Chunks)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to consolidate entities for %s: %w", doc.ID, err)
	}

	relationships := b.assembler.Assemble(doc.Chunks, entities)

	docGraph, err := graph.FromDocument(entities, relationships)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build graph for %s: %w", doc.ID, err)
	}

	metadata := map[string]string{
		"entity_count":       strconv.Itoa(len(entities)),
		"relationship_count": strconv.Itoa(len(relationships)),
		"chunk_count":        strconv.Itoa(len(doc.Chunks)),
	}
	for k, v := range doc.Metadata {
		if _, exists := metadata[k]; !exists {
			metadata[k] = v
		}
	}

	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	kg := &models.KnowledgeGraph{
		GraphID:       uuid.New().String(),
		DocumentID:    doc.ID,
		Title:         doc.Title,
		Entities:      entities,
		Relationships: relationships,
		Chunks:        append([]models.Chunk(nil), doc.Chunks...),
		Metadata:      metadata,
		CreatedAt:     createdAt,
	}

	kg.StorageCID = b.persist(ctx, kg)

	logger.Info("KG built from document",
		zap.String("doc_id", doc.ID),
		zap.Int("entities", len(entities)),
		zap.Int("relationships", len(relationships)),
		zap.String("storage_cid", kg.StorageCID),
	)

	return kg, docGraph, nil
}

func (b *Builder) persist(ctx context.Context, kg *models.KnowledgeGraph) string {
	if b.storage == nil {
		logger.Warn("No storage configured, knowledge graph not persisted", zap.String("doc_id", kg.DocumentID))
		metrics.StorageFailures.Inc()
		return ""
	}

	storeCtx, cancel := context.WithTimeout(ctx, b.storageTimeout)
	defer cancel()

	cid, err := b.storage.Store(storeCtx, kg)
	if err != nil {
		logger.Warn("Failed to persist knowledge graph",
			zap.String("doc_id", kg.DocumentID),
			zap.Error(err),
		)
		metrics.StorageFailures.Inc()
		return ""
	}
	return cid
}

// Commit records kg as its document's persisted graph. Call it only once kg
// has been integrated. Graphs that were never stored are skipped.
func (b *Builder) Commit(ctx context.Context, kg *models.KnowledgeGraph) {
	if b.storage == nil || kg == nil || kg.StorageCID == "" {
		return
	}

	commitCtx, cancel := context.WithTimeout(ctx, b.storageTimeout)
	defer cancel()

	if err := b.storage.RecordDocument(commitCtx, kg); err != nil {
		logger.Warn("Failed to record persisted document",
			zap.String("doc_id", kg.DocumentID),
			zap.String("cid", kg.StorageCID),
			zap.Error(err),
		)
		metrics.StorageFailures.Inc()
	}
}

// Load rehydrates a persisted knowledge graph and its directed graph.
func (b *Builder) Load(ctx context.Context, cid string) (*models.KnowledgeGraph, *graph.Digraph, error) {
	if cid == "" {
		return nil, nil, apperr.InvalidArgument("content id is required")
	}
	if b.storage == nil {
		return nil, nil, apperr.Unavailable("no storage configured")
	}

	loadCtx, cancel := context.WithTimeout(ctx, b.storageTimeout)
	defer cancel()

	kg, err := b.storage.Load(loadCtx, cid)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load knowledge graph %s: %w", cid, err)
	}
	kg.StorageCID = cid

	docGraph, err := graph.FromDocument(kg.Entities, kg.Relationships)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to rebuild graph %s: %w", cid, err)
	}
	return kg, docGraph, nil
}
