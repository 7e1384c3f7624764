package extraction

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/utils"
)

const (
	IntraChunkConfidence = 0.6
	NarrativeConfidence  = 0.4
)

type Assembler struct {
	typer RelationTyper
}

func NewAssembler(typer RelationTyper) *Assembler {
	if typer == nil {
		typer = NewKeywordRelationTyper()
	}
	return &Assembler{typer: typer}
}

// Assemble derives the intra-chunk co-occurrence relationships followed by the
// page-level narrative sequence relationships of one document.
func (a *Assembler) Assemble(chunks []models.Chunk, entities []models.Entity) []models.Relationship {
	rels := a.intraChunk(chunks, entities)
	return append(rels, a.narrative(chunks, entities)...)
}

type mention struct {
	entity models.Entity
	offset int
}

func mentionsIn(content string, entities []models.Entity) []mention {
	lower := strings.ToLower(content)
	var out []mention
	for _, e := range entities {
		if e.Name == "" {
			continue
		}
		if idx := strings.Index(lower, strings.ToLower(e.Name)); idx >= 0 {
			out = append(out, mention{entity: e, offset: idx})
		}
	}
	return out
}

func (a *Assembler) intraChunk(chunks []models.Chunk, entities []models.Entity) []models.Relationship {
	var rels []models.Relationship
	byID := make(map[string]int)

	for _, chunk := range chunks {
		found := mentionsIn(chunk.Content, entities)
		for i := 0; i < len(found); i++ {
			for j := i + 1; j < len(found); j++ {
				first, second := found[i], found[j]
				if first.entity.ID == second.entity.ID {
					continue
				}
				start := first.offset
				if second.offset < start {
					start = second.offset
				}
				context := contextSnippet(chunk.Content, start)

				source, target, relType, ok := a.direct(first.entity, second.entity, context)
				if !ok {
					continue
				}

				id := utils.HashParts(source.ID, target.ID, relType)
				if pos, exists := byID[id]; exists {
					rels[pos].SourceChunkIDs = AppendUnique(rels[pos].SourceChunkIDs, chunk.ID)
					continue
				}
				byID[id] = len(rels)
				rels = append(rels, models.Relationship{
					ID:               id,
					SourceEntityID:   source.ID,
					TargetEntityID:   target.ID,
					RelationshipType: relType,
					Description:      context,
					Confidence:       IntraChunkConfidence,
					SourceChunkIDs:   []string{chunk.ID},
					Properties: map[string]string{
						"extraction_method": "co_occurrence",
						"source_chunk_id":   chunk.ID,
					},
				})
			}
		}
	}
	return rels
}

// direct tries both orientations of the pair and keeps the first one that
// yields a specific type, falling back to the forward orientation.
func (a *Assembler) direct(e1, e2 models.Entity, context string) (models.Entity, models.Entity, string, bool) {
	forward, okForward := a.typer.InferRelationshipType(e1, e2, context)
	if okForward && forward != models.RelRelatedTo {
		return e1, e2, forward, true
	}
	backward, okBackward := a.typer.InferRelationshipType(e2, e1, context)
	if okBackward && backward != models.RelRelatedTo {
		return e2, e1, backward, true
	}
	if okForward {
		return e1, e2, forward, true
	}
	if okBackward {
		return e2, e1, backward, true
	}
	return e1, e2, "", false
}

func (a *Assembler) narrative(chunks []models.Chunk, entities []models.Entity) []models.Relationship {
	pages := make(map[int][]models.Chunk)
	for _, chunk := range chunks {
		pages[chunk.SourcePage] = append(pages[chunk.SourcePage], chunk)
	}
	pageNumbers := make([]int, 0, len(pages))
	for p := range pages {
		pageNumbers = append(pageNumbers, p)
	}
	sort.Ints(pageNumbers)

	var rels []models.Relationship
	seen := make(map[string]bool)

	for _, page := range pageNumbers {
		pageChunks := pages[page]
		if len(pageChunks) < 2 {
			continue
		}

		var sequence []models.Entity
		chunksOf := make(map[string][]string)
		for _, chunk := range pageChunks {
			for _, m := range mentionsIn(chunk.Content, entities) {
				if _, ok := chunksOf[m.entity.ID]; !ok {
					sequence = append(sequence, m.entity)
				}
				chunksOf[m.entity.ID] = AppendUnique(chunksOf[m.entity.ID], chunk.ID)
			}
		}

		for i := 0; i < len(sequence); i++ {
			for j := i + 1; j < len(sequence); j++ {
				e1, e2 := sequence[i], sequence[j]
				key := pairKey(e1.ID, e2.ID)
				if e1.ID == e2.ID || seen[key] {
					continue
				}
				seen[key] = true

				rels = append(rels, models.Relationship{
					ID:               utils.HashParts(e1.ID, e2.ID, models.RelNarrativeSequence),
					SourceEntityID:   e1.ID,
					TargetEntityID:   e2.ID,
					RelationshipType: models.RelNarrativeSequence,
					Description:      fmt.Sprintf("%s and %s appear in sequence on page %d", e1.Name, e2.Name, page),
					Confidence:       NarrativeConfidence,
					SourceChunkIDs:   AppendUnique(append([]string{}, chunksOf[e1.ID]...), chunksOf[e2.ID]...),
					Properties: map[string]string{
						"extraction_method": models.RelNarrativeSequence,
						"source_page":       strconv.Itoa(page),
					},
				})
			}
		}
	}
	return rels
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// contextSnippet returns up to contextWindow runes of content, starting a
// little before the given byte offset.
func contextSnippet(content string, offset int) string {
	start := offset - contextWindow/4
	if start < 0 || start > len(content) {
		start = 0
	}
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	rest := content[start:]
	if utf8.RuneCountInString(rest) <= contextWindow {
		return strings.TrimSpace(rest)
	}
	runes := []rune(rest)
	return strings.TrimSpace(string(runes[:contextWindow]))
}
