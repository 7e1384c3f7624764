package global

import (
	"sort"
	"strings"

	"github.com/kgraph/backend/internal/extraction"
	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/utils"
)

const (
	SameEntityConfidence    = 0.8
	SimilarEntityConfidence = 0.6
)

// LinkCandidate is a registry entity together with the documents it has been
// attributed to. DocumentChunks, when set, holds its source chunks per document.
type LinkCandidate struct {
	Entity         models.Entity
	Documents      []string
	DocumentChunks map[string][]string
}

// EntityLinker proposes cross-document relationships for the entities of a
// newly integrated document. It must be a pure function of its input.
type EntityLinker interface {
	Link(documentID string, docEntities []models.Entity, registry []LinkCandidate) []models.CrossDocumentRelationship
}

// JaccardLinker links entities of the same type whose names have a word-level
// Jaccard similarity at or above Threshold. A registry entity spelled the same
// way in several documents is linked to itself as same_entity.
type JaccardLinker struct {
	Threshold float64
}

func NewJaccardLinker(threshold float64) *JaccardLinker {
	return &JaccardLinker{Threshold: threshold}
}

func (l *JaccardLinker) Link(documentID string, docEntities []models.Entity, registry []LinkCandidate) []models.CrossDocumentRelationship {
	var links []models.CrossDocumentRelationship
	seen := make(map[string]bool)

	for _, source := range docEntities {
		sourceWords := nameWords(source.Name)
		for _, cand := range registry {
			target := cand.Entity
			if target.Type != source.Type {
				continue
			}
			shared := target.ID == source.ID
			if !shared && Jaccard(sourceWords, nameWords(target.Name)) < l.Threshold {
				continue
			}

			relType, confidence := models.RelSimilarEntity, SimilarEntityConfidence
			if shared || extraction.NormalizeName(source.Name) == extraction.NormalizeName(target.Name) {
				relType, confidence = models.RelSameEntity, SameEntityConfidence
			}

			for _, targetDoc := range cand.Documents {
				if targetDoc == documentID {
					continue
				}
				id := CrossDocumentID(documentID, targetDoc, source.ID, target.ID, relType)
				if seen[id] {
					continue
				}
				seen[id] = true

				evidence := linkEvidence(source, cand, documentID, targetDoc)
				links = append(links, models.CrossDocumentRelationship{
					ID:               id,
					SourceDocumentID: documentID,
					TargetDocumentID: targetDoc,
					SourceEntityID:   source.ID,
					TargetEntityID:   target.ID,
					RelationshipType: relType,
					Confidence:       confidence,
					EvidenceChunkIDs: evidence,
				})
			}
		}
	}
	return links
}

func linkEvidence(source models.Entity, cand LinkCandidate, sourceDoc, targetDoc string) []string {
	if cand.Entity.ID == source.ID && cand.DocumentChunks != nil {
		return extraction.AppendUnique(append([]string{}, cand.DocumentChunks[sourceDoc]...), cand.DocumentChunks[targetDoc]...)
	}
	return extraction.AppendUnique(append([]string{}, source.SourceChunkIDs...), cand.Entity.SourceChunkIDs...)
}

func CrossDocumentID(sourceDoc, targetDoc, sourceEntity, targetEntity, relType string) string {
	return utils.HashParts(sourceDoc, targetDoc, sourceEntity, targetEntity, relType)
}

func nameWords(name string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(name)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if w != "" {
			words[w] = true
		}
	}
	return words
}

// Jaccard is |a ∩ b| / |a ∪ b|; two empty sets score 0.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// NameSimilarity is the word-level Jaccard similarity of two names.
func NameSimilarity(a, b string) float64 {
	return Jaccard(nameWords(a), nameWords(b))
}

func sortedDocuments(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
