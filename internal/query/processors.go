package query

import (
	"fmt"
	"strings"

	"github.com/kgraph/backend/internal/kg/global"
	"github.com/kgraph/backend/internal/storage/models"
)

// parsedQuery is what every processor receives.
type parsedQuery struct {
	raw        string
	normalized string
	terms      []string
	content    []string
	filters    Filters
	maxResults int
}

const exactMatchCap = 0.95

func processEntity(v *global.View, q *parsedQuery) ([]models.QueryResult, error) {
	entityType, hasType, err := q.filters.String("entity_type")
	if err != nil {
		return nil, err
	}
	documentID, hasDoc, err := q.filters.String("document_id")
	if err != nil {
		return nil, err
	}
	minConfidence, _, err := q.filters.Float("confidence")
	if err != nil {
		return nil, err
	}

	var results []models.QueryResult
	for _, e := range v.Entities() {
		if hasType && !strings.EqualFold(e.Type, entityType) {
			continue
		}
		if e.Confidence < minConfidence {
			continue
		}

		name := nameMatch(q.normalized, q.content, e.Name)
		var score float64
		if name == 1 {
			score = 1
		} else {
			score = 0.6*name + 0.25*termOverlap(q.content, e.Description) + 0.15*propertyOverlap(q.content, e.Properties)
			if score > exactMatchCap {
				score = exactMatchCap
			}
		}
		if score <= 0 {
			continue
		}

		docs, err := v.EntityDocuments(e)
		if err != nil {
			return nil, err
		}
		if hasDoc && !containsString(docs, documentID) {
			continue
		}

		content := fmt.Sprintf("%s (%s)", e.Name, e.Type)
		if e.Description != "" {
			content += ": " + e.Description
		}

		results = append(results, models.QueryResult{
			ID:               e.ID,
			Kind:             models.KindEntity,
			Content:          content,
			RelevanceScore:   score,
			SourceDocumentID: documentOf(docs),
			SourceChunkIDs:   e.SourceChunkIDs,
			Metadata: map[string]any{
				"entity_id":   e.ID,
				"name":        e.Name,
				"entity_type": e.Type,
				"confidence":  e.Confidence,
				"documents":   docs,
				"exact_match": score == 1,
			},
		})
	}
	return results, nil
}

func propertyOverlap(terms []string, props map[string]string) float64 {
	if len(props) == 0 {
		return 0
	}
	values := make([]string, 0, len(props))
	for _, v := range props {
		values = append(values, v)
	}
	return termOverlap(terms, strings.Join(values, " "))
}

func processRelationship(v *global.View, q *parsedQuery) ([]models.QueryResult, error) {
	relType, hasType, err := q.filters.String("relationship_type")
	if err != nil {
		return nil, err
	}
	entityID, hasEntity, err := q.filters.String("entity_id")
	if err != nil {
		return nil, err
	}
	minConfidence, _, err := q.filters.Float("confidence")
	if err != nil {
		return nil, err
	}
	documentID, hasDoc, err := q.filters.String("document_id")
	if err != nil {
		return nil, err
	}

	var results []models.QueryResult
	for _, r := range v.Relationships() {
		if hasType && r.RelationshipType != relType {
			continue
		}
		if hasEntity && r.SourceEntityID != entityID && r.TargetEntityID != entityID {
			continue
		}
		if r.Confidence < minConfidence {
			continue
		}

		source, _ := v.Entity(r.SourceEntityID)
		target, _ := v.Entity(r.TargetEntityID)

		participant := nameMatch(q.normalized, q.content, source.Name)
		if t := nameMatch(q.normalized, q.content, target.Name); t > participant {
			participant = t
		}
		score := 0.4*typeMatch(q.normalized, q.terms, r.RelationshipType) + 0.4*participant + 0.2*termOverlap(q.content, r.Description)
		if score <= 0 {
			continue
		}

		docs := v.RelationshipDocuments(r)
		if hasDoc && !containsString(docs, documentID) {
			continue
		}

		results = append(results, models.QueryResult{
			ID:               r.ID,
			Kind:             models.KindRelationship,
			Content:          fmt.Sprintf("%s --%s--> %s", source.Name, r.RelationshipType, target.Name),
			RelevanceScore:   clamp01(score),
			SourceDocumentID: documentOf(docs),
			SourceChunkIDs:   r.SourceChunkIDs,
			Metadata: map[string]any{
				"relationship_type": r.RelationshipType,
				"source_entity_id":  r.SourceEntityID,
				"target_entity_id":  r.TargetEntityID,
				"source_name":       source.Name,
				"target_name":       target.Name,
				"confidence":        r.Confidence,
				"documents":         docs,
			},
		})
	}
	return results, nil
}

const richnessScale = 20.0

func processDocument(v *global.View, q *parsedQuery) ([]models.QueryResult, error) {
	documentID, hasDoc, err := q.filters.String("document_id")
	if err != nil {
		return nil, err
	}
	minEntities, _, err := q.filters.Int("min_entities")
	if err != nil {
		return nil, err
	}
	minRelationships, _, err := q.filters.Int("min_relationships")
	if err != nil {
		return nil, err
	}
	createdAfter, hasDate, err := q.filters.Time("creation_date")
	if err != nil {
		return nil, err
	}

	var results []models.QueryResult
	for _, kg := range v.Documents() {
		if hasDoc && kg.DocumentID != documentID {
			continue
		}
		if len(kg.Entities) < minEntities || len(kg.Relationships) < minRelationships {
			continue
		}
		if hasDate && kg.CreatedAt.Before(createdAfter) {
			continue
		}

		title := termOverlap(q.content, kg.Title)
		if len(q.content) > 0 && strings.Contains(strings.ToLower(kg.Title), strings.Join(q.content, " ")) {
			title = 1
		}

		names := make([]string, 0, len(kg.Entities))
		for _, e := range kg.Entities {
			names = append(names, e.Name)
		}
		entityScore := termOverlap(q.content, strings.Join(names, " "))

		size := float64(len(kg.Entities) + len(kg.Relationships))
		richness := size / (size + richnessScale)

		score := 0.5*title + 0.3*entityScore + 0.2*richness
		if score <= 0 {
			continue
		}

		chunkIDs := make([]string, 0, len(kg.Chunks))
		for _, c := range kg.Chunks {
			chunkIDs = append(chunkIDs, c.ID)
		}

		results = append(results, models.QueryResult{
			ID:               kg.DocumentID,
			Kind:             models.KindDocument,
			Content:          fmt.Sprintf("%s (%d entities, %d relationships)", kg.Title, len(kg.Entities), len(kg.Relationships)),
			RelevanceScore:   clamp01(score),
			SourceDocumentID: kg.DocumentID,
			SourceChunkIDs:   chunkIDs,
			Metadata: map[string]any{
				"title":              kg.Title,
				"entity_count":       len(kg.Entities),
				"relationship_count": len(kg.Relationships),
				"chunk_count":        len(kg.Chunks),
				"created_at":         kg.CreatedAt,
				"storage_content_id": kg.StorageCID,
			},
		})
	}
	return results, nil
}

func processCrossDocument(v *global.View, q *parsedQuery) ([]models.QueryResult, error) {
	sourceDoc, hasSource, err := q.filters.String("source_document")
	if err != nil {
		return nil, err
	}
	targetDoc, hasTarget, err := q.filters.String("target_document")
	if err != nil {
		return nil, err
	}
	relType, hasType, err := q.filters.String("relationship_type")
	if err != nil {
		return nil, err
	}
	minConfidence, _, err := q.filters.Float("min_confidence")
	if err != nil {
		return nil, err
	}

	var results []models.QueryResult
	for _, link := range v.CrossDocumentRelationships() {
		if hasSource && link.SourceDocumentID != sourceDoc {
			continue
		}
		if hasTarget && link.TargetDocumentID != targetDoc {
			continue
		}
		if hasType && link.RelationshipType != relType {
			continue
		}
		if link.Confidence < minConfidence {
			continue
		}

		source, _ := v.Entity(link.SourceEntityID)
		target, _ := v.Entity(link.TargetEntityID)

		name := nameMatch(q.normalized, q.content, source.Name)
		if t := nameMatch(q.normalized, q.content, target.Name); t > name {
			name = t
		}
		score := 0.5*name + 0.2*typeMatch(q.normalized, q.terms, link.RelationshipType) + 0.3*link.Confidence

		results = append(results, models.QueryResult{
			ID:   link.ID,
			Kind: models.KindCrossDocument,
			Content: fmt.Sprintf("%s [%s] --%s--> %s [%s]",
				source.Name, link.SourceDocumentID, link.RelationshipType, target.Name, link.TargetDocumentID),
			RelevanceScore:   clamp01(score),
			SourceDocumentID: models.MultipleDocuments,
			SourceChunkIDs:   link.EvidenceChunkIDs,
			Metadata: map[string]any{
				"relationship_type":  link.RelationshipType,
				"source_document_id": link.SourceDocumentID,
				"target_document_id": link.TargetDocumentID,
				"source_entity_id":   link.SourceEntityID,
				"target_entity_id":   link.TargetEntityID,
				"source_name":        source.Name,
				"target_name":        target.Name,
				"confidence":         link.Confidence,
			},
		})
	}
	return results, nil
}
