package ingestion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kgraph/backend/internal/kg/global"
	"github.com/kgraph/backend/internal/kg/graph"
	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/apperr"
	"github.com/kgraph/backend/pkg/logger"
	"github.com/kgraph/backend/pkg/utils"
)

// GraphBuilder builds and stores a document's graph. Commit records the stored
// graph as the document's persisted version once it has been integrated.
type GraphBuilder interface {
	Build(ctx context.Context, doc *models.Document) (*models.KnowledgeGraph, *graph.Digraph, error)
	Commit(ctx context.Context, kg *models.KnowledgeGraph)
}

type Integrator interface {
	HasDocument(documentID string) bool
	Integrate(ctx context.Context, kg *models.KnowledgeGraph, docGraph *graph.Digraph) (*global.IntegrationResult, error)
}

type ChunkIndexer interface {
	IndexChunks(ctx context.Context, documentID string, chunks []models.Chunk) (int, error)
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	ParallelDocuments int
	ChunkSize         int
	ChunkOverlap      int
	ChunksPerPage     int
	// Embedder, when set, embeds HTML chunks so they can be indexed and
	// searched semantically.
	Embedder Embedder
	Index    ChunkIndexer
}

// Outcome reports what happened to one document. Err is set when the
// document was rejected; the other documents of a batch are unaffected.
type Outcome struct {
	DocumentID         string        `json:"document_id"`
	GraphID            string        `json:"graph_id,omitempty"`
	StorageCID         string        `json:"storage_content_id,omitempty"`
	Entities           int           `json:"entities"`
	Relationships      int           `json:"relationships"`
	NewEntities        int           `json:"new_entities"`
	MergedEntities     int           `json:"merged_entities"`
	CrossDocumentLinks int           `json:"cross_document_links"`
	IndexedChunks      int           `json:"indexed_chunks"`
	Generation         uint64        `json:"generation"`
	Duration           time.Duration `json:"duration"`
	Err                error         `json:"-"`
}

type Processor struct {
	builder    GraphBuilder
	integrator Integrator
	opts       Options
}

var whitespace = regexp.MustCompile(`\s+`)

func NewProcessor(builder GraphBuilder, integrator Integrator, opts Options) *Processor {
	if opts.ParallelDocuments <= 0 {
		opts.ParallelDocuments = 4
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1000
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = 0
	}
	if opts.ChunksPerPage <= 0 {
		opts.ChunksPerPage = 3
	}
	return &Processor{
		builder:    builder,
		integrator: integrator,
		opts:       opts,
	}
}

// Ingest builds the document's graph and merges it into the global store.
// A document id that is already integrated is rejected before anything is
// built or stored. Indexing chunk embeddings is best-effort.
func (p *Processor) Ingest(ctx context.Context, doc *models.Document) (*Outcome, error) {
	start := time.Now()
	if err := validateDocument(doc); err != nil {
		return nil, err
	}
	if p.integrator.HasDocument(doc.ID) {
		return nil, apperr.InvalidArgument("document %s is already integrated", doc.ID)
	}

	kg, docGraph, err := p.builder.Build(ctx, doc)
	if err != nil {
		return nil, err
	}

	result, err := p.integrator.Integrate(ctx, kg, docGraph)
	if err != nil {
		return nil, err
	}
	p.builder.Commit(ctx, kg)

	outcome := &Outcome{
		DocumentID:         doc.ID,
		GraphID:            kg.GraphID,
		StorageCID:         kg.StorageCID,
		Entities:           len(kg.Entities),
		Relationships:      len(kg.Relationships),
		NewEntities:        result.NewEntities,
		MergedEntities:     result.MergedEntities,
		CrossDocumentLinks: len(result.CrossDocumentLinks),
		Generation:         result.Generation,
	}

	if p.opts.Index != nil {
		indexed, err := p.opts.Index.IndexChunks(ctx, doc.ID, doc.Chunks)
		if err != nil {
			logger.Warn("Failed to index chunk embeddings",
				zap.String("doc_id", doc.ID),
				zap.Error(err),
			)
		}
		outcome.IndexedChunks = indexed
	}

	outcome.Duration = time.Since(start)
	logger.Info("Document ingested",
		zap.String("doc_id", doc.ID),
		zap.Int("entities", outcome.Entities),
		zap.Int("relationships", outcome.Relationships),
		zap.Int("cross_document_links", outcome.CrossDocumentLinks),
		zap.Duration("duration", outcome.Duration),
	)
	return outcome, nil
}

// IngestBatch ingests documents concurrently. Outcomes are returned in input
// order and a failed document never aborts the others.
func (p *Processor) IngestBatch(ctx context.Context, docs []*models.Document) ([]Outcome, error) {
	outcomes := make([]Outcome, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.ParallelDocuments)

	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			outcome, err := p.Ingest(gctx, doc)
			if err != nil {
				id := ""
				if doc != nil {
					id = doc.ID
				}
				logger.Warn("Document rejected", zap.String("doc_id", id), zap.Error(err))
				outcomes[i] = Outcome{DocumentID: id, Err: err}
				return nil
			}
			outcomes[i] = *outcome
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// IngestHTML turns a web page into a paged document and ingests it. The
// document id is derived from the URL, so ingesting the same page twice is
// rejected by the store.
func (p *Processor) IngestHTML(ctx context.Context, url, htmlContent string) (*Outcome, error) {
	doc, err := p.DocumentFromHTML(ctx, url, htmlContent)
	if err != nil {
		return nil, err
	}
	return p.Ingest(ctx, doc)
}

func (p *Processor) DocumentFromHTML(ctx context.Context, url, htmlContent string) (*models.Document, error) {
	if strings.TrimSpace(url) == "" {
		return nil, apperr.InvalidArgument("url is required")
	}

	page, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrInvalidArgument, err, "failed to parse HTML")
	}

	text := cleanText(page)
	if text == "" {
		return nil, apperr.InvalidArgument("no content extracted from HTML")
	}

	docID := "doc_" + utils.HashString(url)
	texts := p.chunkText(text)
	chunks := make([]models.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = models.Chunk{
			ID:           fmt.Sprintf("%s_chunk_%d", docID, i),
			Content:      t,
			SourcePage:   i/p.opts.ChunksPerPage + 1,
			TokenCount:   len(strings.Fields(t)),
			SemanticType: "text",
		}
	}

	if p.opts.Embedder != nil {
		vectors, err := p.opts.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			logger.Warn("Failed to embed HTML chunks, continuing without embeddings",
				zap.String("url", url),
				zap.Error(err),
			)
		} else if len(vectors) == len(chunks) {
			for i := range chunks {
				chunks[i].Embedding = vectors[i]
			}
		}
	}

	return &models.Document{
		ID:     docID,
		Title:  extractTitle(page),
		Chunks: chunks,
		Metadata: map[string]string{
			"source_url": url,
			"format":     "html",
		},
		CreatedAt: time.Now().UTC(),
	}, nil
}

func validateDocument(doc *models.Document) error {
	if doc == nil || strings.TrimSpace(doc.ID) == "" {
		return apperr.InvalidArgument("document id is required")
	}
	seen := make(map[string]bool, len(doc.Chunks))
	for i, c := range doc.Chunks {
		if c.ID == "" {
			return apperr.InvalidArgument("chunk %d of %s has no id", i, doc.ID)
		}
		if seen[c.ID] {
			return apperr.InvalidArgument("duplicate chunk id %s in %s", c.ID, doc.ID)
		}
		seen[c.ID] = true
	}
	return nil
}

func cleanText(page *goquery.Document) string {
	page.Find("script, style, nav, footer, header, aside, noscript").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	body := page.Find("body")
	text := body.Text()
	if body.Length() == 0 {
		text = page.Text()
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

func extractTitle(page *goquery.Document) string {
	title := strings.TrimSpace(page.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(page.Find("h1").First().Text())
	}
	if title == "" {
		title = "Untitled"
	}
	return whitespace.ReplaceAllString(title, " ")
}

// chunkText splits text into windows of at most ChunkSize bytes on word
// boundaries. Consecutive windows share roughly ChunkOverlap bytes of words.
func (p *Processor) chunkText(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	size := 0

	for _, word := range words {
		wordLen := len(word) + 1
		if size+wordLen > p.opts.ChunkSize && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = overlapTail(current, p.opts.ChunkOverlap)
			size = 0
			for _, w := range current {
				size += len(w) + 1
			}
			if size+wordLen > p.opts.ChunkSize {
				current, size = nil, 0
			}
		}
		current = append(current, word)
		size += wordLen
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

func overlapTail(words []string, overlap int) []string {
	if overlap <= 0 {
		return nil
	}
	size := 0
	start := len(words)
	for start > 0 && size+len(words[start-1])+1 <= overlap {
		start--
		size += len(words[start]) + 1
	}
	if start == 0 {
		start = 1
	}
	return append([]string(nil), words[start:]...)
}
