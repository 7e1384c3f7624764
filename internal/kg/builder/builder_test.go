package builder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgraph/backend/internal/extraction"
	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/apperr"
)

type memoryStorage struct {
	mu       sync.Mutex
	blobs    map[string]*models.KnowledgeGraph
	recorded map[string]string
	err      error
}

func (m *memoryStorage) Store(_ context.Context, kg *models.KnowledgeGraph) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if m.blobs == nil {
		m.blobs = make(map[string]*models.KnowledgeGraph)
	}
	cid := "cid-" + kg.DocumentID
	copied := *kg
	m.blobs[cid] = &copied
	return cid, nil
}

func (m *memoryStorage) RecordDocument(_ context.Context, kg *models.KnowledgeGraph) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.recorded == nil {
		m.recorded = make(map[string]string)
	}
	m.recorded[kg.DocumentID] = kg.StorageCID
	return nil
}

func (m *memoryStorage) Load(_ context.Context, cid string) (*models.KnowledgeGraph, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kg, ok := m.blobs[cid]
	if !ok {
		return nil, apperr.NotFound("content %s", cid)
	}
	copied := *kg
	return &copied, nil
}

func newTestBuilder(storage Storage) *Builder {
	return NewBuilder(
		extraction.NewConsolidator(extraction.NewPatternExtractor(), 0.6, 2),
		extraction.NewAssembler(nil),
		storage,
		time.Second,
	)
}

func testDocument() *models.Document {
	return &models.Document{
		ID:    "doc_1",
		Title: "Microsoft history",
		Chunks: []models.Chunk{
			{ID: "doc_1_c1", Content: "Bill Gates founded Microsoft Corporation in Albuquerque.", SourcePage: 1},
			{ID: "doc_1_c2", Content: "Satya Nadella is the CEO of Microsoft Corporation.", SourcePage: 1},
		},
	}
}

func TestBuildPersists(t *testing.T) {
	storage := &memoryStorage{}
	kg, g, err := newTestBuilder(storage).Build(context.Background(), testDocument())
	require.NoError(t, err)

	assert.Equal(t, "doc_1", kg.DocumentID)
	assert.Equal(t, "cid-doc_1", kg.StorageCID)
	assert.NotEmpty(t, kg.GraphID)
	assert.NotEmpty(t, kg.Entities)
	assert.NotEmpty(t, kg.Relationships)
	assert.Len(t, kg.Chunks, 2)
	assert.Equal(t, len(kg.Entities), g.NodeCount())
	assert.Equal(t, len(kg.Relationships), g.EdgeCount())
	assert.Empty(t, storage.recorded, "building alone does not record the document")
}

func TestCommitRecordsStoredGraph(t *testing.T) {
	storage := &memoryStorage{}
	b := newTestBuilder(storage)
	kg, _, err := b.Build(context.Background(), testDocument())
	require.NoError(t, err)

	b.Commit(context.Background(), kg)
	assert.Equal(t, map[string]string{"doc_1": "cid-doc_1"}, storage.recorded)

	unstored := *kg
	unstored.DocumentID = "doc_2"
	unstored.StorageCID = ""
	b.Commit(context.Background(), &unstored)
	assert.NotContains(t, storage.recorded, "doc_2")

	newTestBuilder(nil).Commit(context.Background(), kg)
}

func TestBuildSurvivesStorageFailure(t *testing.T) {
	kg, g, err := newTestBuilder(&memoryStorage{err: errors.New("disk full")}).Build(context.Background(), testDocument())
	require.NoError(t, err)
	assert.Empty(t, kg.StorageCID)
	assert.NotZero(t, g.NodeCount())

	kg, _, err = newTestBuilder(nil).Build(context.Background(), testDocument())
	require.NoError(t, err)
	assert.Empty(t, kg.StorageCID)
}

func TestBuildRejectsMissingDocumentID(t *testing.T) {
	_, _, err := newTestBuilder(nil).Build(context.Background(), &models.Document{})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestLoad(t *testing.T) {
	storage := &memoryStorage{}
	b := newTestBuilder(storage)
	built, _, err := b.Build(context.Background(), testDocument())
	require.NoError(t, err)

	loaded, g, err := b.Load(context.Background(), built.StorageCID)
	require.NoError(t, err)
	assert.Equal(t, built.Entities, loaded.Entities)
	assert.Equal(t, len(built.Relationships), g.EdgeCount())

	_, _, err = b.Load(context.Background(), "cid-missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, _, err = newTestBuilder(nil).Load(context.Background(), "cid-doc_1")
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
}
