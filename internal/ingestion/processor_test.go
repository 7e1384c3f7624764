package ingestion

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgraph/backend/internal/extraction"
	"github.com/kgraph/backend/internal/kg/builder"
	"github.com/kgraph/backend/internal/kg/global"
	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/internal/storage/sqlite"
	"github.com/kgraph/backend/pkg/apperr"
)

type fakeIndex struct {
	mu      sync.Mutex
	indexed map[string]int
	err     error
}

func (f *fakeIndex) IndexChunks(_ context.Context, documentID string, chunks []models.Chunk) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	if f.indexed == nil {
		f.indexed = make(map[string]int)
	}
	n := 0
	for _, c := range chunks {
		if len(c.Embedding) > 0 {
			n++
		}
	}
	f.indexed[documentID] = n
	return n, nil
}

type countingEmbedder struct {
	err error
}

func (e countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func newTestProcessor(opts Options) (*Processor, *global.GraphStore) {
	b := builder.NewBuilder(
		extraction.NewConsolidator(extraction.NewPatternExtractor(), 0.6, 2),
		extraction.NewAssembler(nil),
		nil,
		time.Second,
	)
	store := global.NewGraphStore(global.Options{})
	return NewProcessor(b, store, opts), store
}

func document(id, content string) *models.Document {
	return &models.Document{
		ID:    id,
		Title: "Report " + id,
		Chunks: []models.Chunk{{
			ID:         id + "_c1",
			Content:    content,
			SourcePage: 1,
			TokenCount: len(strings.Fields(content)),
			Embedding:  []float32{1, 0},
		}},
	}
}

func TestIngest(t *testing.T) {
	index := &fakeIndex{}
	p, store := newTestProcessor(Options{Index: index})

	outcome, err := p.Ingest(context.Background(), document("doc_1", "Bill Gates founded Microsoft Corporation in Seattle."))
	require.NoError(t, err)

	assert.Equal(t, "doc_1", outcome.DocumentID)
	assert.NotEmpty(t, outcome.GraphID)
	assert.Greater(t, outcome.Entities, 0)
	assert.Equal(t, outcome.Entities, outcome.NewEntities)
	assert.Equal(t, 1, outcome.IndexedChunks)
	assert.Equal(t, uint64(1), store.Generation())
	assert.Equal(t, 1, store.Stats().Documents)
}

func TestIngestIndexFailureIsNotFatal(t *testing.T) {
	p, store := newTestProcessor(Options{Index: &fakeIndex{err: errors.New("index down")}})

	outcome, err := p.Ingest(context.Background(), document("doc_1", "Tim Cook leads Apple Inc. today."))
	require.NoError(t, err)
	assert.Zero(t, outcome.IndexedChunks)
	assert.Equal(t, 1, store.Stats().Documents)
}

func TestIngestValidation(t *testing.T) {
	p, store := newTestProcessor(Options{})

	tests := []struct {
		name string
		doc  *models.Document
	}{
		{"nil document", nil},
		{"missing id", &models.Document{}},
		{"chunk without id", &models.Document{ID: "d", Chunks: []models.Chunk{{Content: "x"}}}},
		{"duplicate chunk ids", &models.Document{ID: "d", Chunks: []models.Chunk{{ID: "c"}, {ID: "c"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Ingest(context.Background(), tt.doc)
			assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
		})
	}
	assert.Zero(t, store.Generation())
}

// staleIntegrator never sees existing documents, as when two requests for the
// same id race past the early check.
type staleIntegrator struct {
	*global.GraphStore
}

func (staleIntegrator) HasDocument(string) bool { return false }

func newPersistentProcessor(t *testing.T) (*Processor, *global.GraphStore, *sqlite.Client) {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "kgraph.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { _ = db.Close() })

	b := builder.NewBuilder(
		extraction.NewConsolidator(extraction.NewPatternExtractor(), 0.6, 2),
		extraction.NewAssembler(nil),
		db,
		time.Second,
	)
	store := global.NewGraphStore(global.Options{Loader: b})
	return NewProcessor(b, store, Options{}), store, db
}

func TestIngestRejectedDuplicateKeepsPersistedVersion(t *testing.T) {
	ctx := context.Background()
	p, store, db := newPersistentProcessor(t)

	v1 := document("doc_x", "Bill Gates founded Microsoft Corporation in Seattle.")
	outcome, err := p.Ingest(ctx, v1)
	require.NoError(t, err)
	require.NotEmpty(t, outcome.StorageCID)

	v2 := document("doc_x", "Steve Jobs founded Apple Inc. in Cupertino.")
	v2.Title = "v2-rejected"
	_, err = p.Ingest(ctx, v2)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	raced := NewProcessor(p.builder, staleIntegrator{store}, Options{})
	_, err = raced.Ingest(ctx, v2)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	docs, err := db.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, outcome.StorageCID, docs[0].CID)
	assert.Equal(t, v1.Title, docs[0].Title)

	restarted := global.NewGraphStore(global.Options{Loader: p.builder.(*builder.Builder)})
	_, err = restarted.LoadDocument(ctx, docs[0].CID)
	require.NoError(t, err)
	assert.Equal(t, store.Stats().Entities, restarted.Stats().Entities)
	require.NoError(t, restarted.Read(func(v *global.View) error {
		for _, e := range v.Entities() {
			assert.NotEqual(t, "Steve Jobs", e.Name)
		}
		return nil
	}))
}

func TestIngestBatch(t *testing.T) {
	p, store := newTestProcessor(Options{ParallelDocuments: 2})

	docs := []*models.Document{
		document("doc_1", "Bill Gates founded Microsoft Corporation in Seattle."),
		{ID: ""},
		document("doc_2", "Satya Nadella leads Microsoft Corporation now."),
		document("doc_3", "Tim Cook leads Apple Inc. in Cupertino."),
	}

	outcomes, err := p.IngestBatch(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, outcomes, 4)

	assert.Equal(t, "doc_1", outcomes[0].DocumentID)
	assert.NoError(t, outcomes[0].Err)
	assert.ErrorIs(t, outcomes[1].Err, apperr.ErrInvalidArgument)
	assert.Equal(t, "doc_2", outcomes[2].DocumentID)
	assert.Equal(t, "doc_3", outcomes[3].DocumentID)

	assert.Equal(t, 3, store.Stats().Documents)
	assert.Equal(t, uint64(3), store.Generation())
}

const samplePage = `<html>
<head><title> Quarterly   Update </title><script>var x = "Hidden Script";</script></head>
<body>
<nav>Home About</nav>
<h1>Ignored heading</h1>
<p>Bill Gates founded Microsoft Corporation in Seattle.</p>
<p>Satya Nadella leads Microsoft Corporation today.</p>
<footer>Copyright</footer>
</body>
</html>`

func TestDocumentFromHTML(t *testing.T) {
	p, _ := newTestProcessor(Options{ChunkSize: 40, ChunksPerPage: 2, Embedder: countingEmbedder{}})

	doc, err := p.DocumentFromHTML(context.Background(), "https://example.com/q3", samplePage)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(doc.ID, "doc_"))
	assert.Equal(t, "Quarterly Update", doc.Title)
	assert.Equal(t, "https://example.com/q3", doc.Metadata["source_url"])
	require.Greater(t, len(doc.Chunks), 2)

	for i, c := range doc.Chunks {
		assert.LessOrEqual(t, len(c.Content), 40)
		assert.NotContains(t, c.Content, "Hidden Script")
		assert.NotContains(t, c.Content, "Copyright")
		assert.Equal(t, i/2+1, c.SourcePage)
		assert.NotEmpty(t, c.Embedding)
	}

	again, err := p.DocumentFromHTML(context.Background(), "https://example.com/q3", samplePage)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, again.ID)
}

func TestDocumentFromHTMLEmbedderFailure(t *testing.T) {
	p, _ := newTestProcessor(Options{Embedder: countingEmbedder{err: apperr.Unavailable("down")}})

	doc, err := p.DocumentFromHTML(context.Background(), "https://example.com/q3", samplePage)
	require.NoError(t, err)
	for _, c := range doc.Chunks {
		assert.Nil(t, c.Embedding)
	}
}

func TestDocumentFromHTMLRejectsEmpty(t *testing.T) {
	p, _ := newTestProcessor(Options{})

	_, err := p.DocumentFromHTML(context.Background(), "https://example.com", "<html><body><script>x</script></body></html>")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = p.DocumentFromHTML(context.Background(), " ", samplePage)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestIngestHTML(t *testing.T) {
	p, store := newTestProcessor(Options{})

	outcome, err := p.IngestHTML(context.Background(), "https://example.com/q3", samplePage)
	require.NoError(t, err)
	assert.Greater(t, outcome.Entities, 0)
	assert.Equal(t, 1, store.Stats().Documents)
}

func TestChunkText(t *testing.T) {
	p := NewProcessor(nil, nil, Options{ChunkSize: 12, ChunkOverlap: 4})

	chunks := p.chunkText("aa bb cc dd ee ff gg")
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 12)
	}
	assert.Equal(t, "aa bb cc dd", chunks[0])
	assert.True(t, strings.HasPrefix(chunks[1], "dd "), "windows overlap")
	assert.True(t, strings.HasSuffix(chunks[len(chunks)-1], "gg"))

	assert.Nil(t, p.chunkText("   "))
}
