package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/apperr"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(filepath.Join(t.TempDir(), "kgraph.db"))
	require.NoError(t, err)
	require.NoError(t, client.InitSchema())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func sampleGraph() *models.KnowledgeGraph {
	return &models.KnowledgeGraph{
		GraphID:    "g-1",
		DocumentID: "doc_1",
		Title:      "Annual report",
		Entities: []models.Entity{{
			ID:             "e1",
			Name:           "Bill Gates",
			Type:           models.EntityPerson,
			Confidence:     0.7,
			SourceChunkIDs: []string{"c1"},
			Properties:     map[string]string{"extraction_method": "pattern"},
			Embedding:      []float32{0.1, 0.25, -0.333},
		}},
		Relationships: []models.Relationship{},
		Chunks: []models.Chunk{{
			ID:         "c1",
			Content:    "Bill Gates spoke.",
			SourcePage: 1,
			TokenCount: 3,
			Embedding:  []float32{1, 0, 0.5},
		}},
		Metadata:  map[string]string{"entity_count": "1"},
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStoreLoadRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	kg := sampleGraph()

	cid, err := client.Store(ctx, kg)
	require.NoError(t, err)
	assert.Contains(t, cid, "sha256-")

	again, err := client.Store(ctx, kg)
	require.NoError(t, err)
	assert.Equal(t, cid, again, "content addressing is deterministic")

	loaded, err := client.Load(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, cid, loaded.StorageCID)
	assert.Equal(t, kg.DocumentID, loaded.DocumentID)
	assert.Equal(t, kg.Relationships, loaded.Relationships)
	assert.True(t, kg.CreatedAt.Equal(loaded.CreatedAt))

	require.Len(t, loaded.Entities, 1)
	assert.Equal(t, kg.Entities[0].Name, loaded.Entities[0].Name)
	assert.Equal(t, kg.Entities[0].Properties, loaded.Entities[0].Properties)
	assert.InDeltaSlice(t, kg.Entities[0].Embedding, loaded.Entities[0].Embedding, 1e-6)
	require.Len(t, loaded.Chunks, 1)
	assert.Equal(t, kg.Chunks[0].Content, loaded.Chunks[0].Content)
	assert.InDeltaSlice(t, kg.Chunks[0].Embedding, loaded.Chunks[0].Embedding, 1e-6)
}

func TestLoadMissing(t *testing.T) {
	client := newTestClient(t)

	_, err := client.Load(context.Background(), "sha256-nothing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListDocuments(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	first := sampleGraph()
	cid, err := client.Store(ctx, first)
	require.NoError(t, err)
	first.StorageCID = cid

	docs, err := client.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs, "storing a payload does not record the document")

	require.NoError(t, client.RecordDocument(ctx, first))

	updated := sampleGraph()
	updated.Title = "Annual report, revised"
	second, err := client.Store(ctx, updated)
	require.NoError(t, err)
	assert.NotEqual(t, cid, second)

	docs, err = client.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, cid, docs[0].CID)

	updated.StorageCID = second
	require.NoError(t, client.RecordDocument(ctx, updated))

	docs, err = client.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, second, docs[0].CID)
	assert.Equal(t, "Annual report, revised", docs[0].Title)
}

func TestRecordDocumentRequiresStoredGraph(t *testing.T) {
	client := newTestClient(t)

	err := client.RecordDocument(context.Background(), sampleGraph())
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestQueryHistory(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.InsertQueryRecord(ctx, &models.QueryRecord{
		ID:          "q1",
		QueryText:   "bill gates",
		Kind:        string(models.KindEntity),
		ResultCount: 1,
		Cached:      true,
		LatencyMS:   3,
		CreatedAt:   time.Now(),
	}))

	records, err := client.GetQueryHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Cached)
	assert.Equal(t, "bill gates", records[0].QueryText)
}
