package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/kgraph/backend/internal/metrics"
	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/apperr"
	"github.com/kgraph/backend/pkg/circuitbreaker"
	"github.com/kgraph/backend/pkg/logger"
	"github.com/kgraph/backend/pkg/retry"
)

// Client mirrors integrated documents into Neo4j. The in-memory global graph
// stays authoritative; the mirror is for ad-hoc Cypher exploration.
type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(ctx context.Context, uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, apperr.Wrap(apperr.ErrUnavailable, err, "failed to verify neo4j connectivity")
	}

	cb := circuitbreaker.New("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	if database == "" {
		database = "neo4j"
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri), zap.String("database", database))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWrite(ctx context.Context, operation string, work neo4j.ManagedTransactionWork) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{
				DatabaseName: c.database,
				AccessMode:   neo4j.AccessModeWrite,
			})
			defer session.Close(ctx)

			_, err := session.ExecuteWrite(ctx, work)
			return err
		})
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ExternalCallDuration.WithLabelValues("neo4j", operation, status).Observe(time.Since(start).Seconds())
	return err
}

const (
	mergeEntitiesCypher = `
		UNWIND $entities AS e
		MERGE (n:Entity {id: e.id})
		SET n.name = e.name,
		    n.type = e.type,
		    n.description = e.description,
		    n.confidence = e.confidence,
		    n.source_chunk_ids = e.source_chunk_ids
	`

	mergeRelationshipsCypher = `
		UNWIND $relationships AS r
		MATCH (s:Entity {id: r.source})
		MATCH (t:Entity {id: r.target})
		MERGE (s)-[rel:RELATES {id: r.id}]->(t)
		SET rel.type = r.type,
		    rel.confidence = r.confidence,
		    rel.document_id = r.document_id,
		    rel.source_chunk_ids = r.source_chunk_ids
	`

	mergeLinksCypher = `
		UNWIND $links AS l
		MATCH (s:Entity {id: l.source})
		MATCH (t:Entity {id: l.target})
		MERGE (s)-[rel:CROSS_DOCUMENT {id: l.id}]->(t)
		SET rel.type = l.type,
		    rel.confidence = l.confidence,
		    rel.source_document_id = l.source_document_id,
		    rel.target_document_id = l.target_document_id,
		    rel.evidence_chunk_ids = l.evidence_chunk_ids
	`
)

// MirrorDocument upserts the document's entities, its relationships and the
// cross-document links it produced in a single write transaction.
func (c *Client) MirrorDocument(ctx context.Context, kg *models.KnowledgeGraph, entities []models.Entity, links []models.CrossDocumentRelationship) error {
	if kg == nil {
		return apperr.InvalidArgument("knowledge graph is required")
	}

	params := map[string]any{
		"entities":      entityParams(entities),
		"relationships": relationshipParams(kg.DocumentID, kg.Relationships),
		"links":         linkParams(links),
	}

	err := c.executeWrite(ctx, "mirror_document", func(tx neo4j.ManagedTransaction) (any, error) {
		for _, cypher := range []string{mergeEntitiesCypher, mergeRelationshipsCypher, mergeLinksCypher} {
			result, err := tx.Run(ctx, cypher, params)
			if err != nil {
				return nil, err
			}
			if _, err := result.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to mirror document %s: %w", kg.DocumentID, err)
	}

	logger.Debug("Document mirrored to neo4j",
		zap.String("doc_id", kg.DocumentID),
		zap.Int("entities", len(entities)),
		zap.Int("relationships", len(kg.Relationships)),
		zap.Int("links", len(links)),
	)
	return nil
}

// EntityCount reports how many entity nodes the mirror holds.
func (c *Client) EntityCount(ctx context.Context) (int64, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database, AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	count, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `MATCH (e:Entity) RETURN count(e) AS n`, nil)
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _ := record.Get("n")
		return n, nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count entities: %w", err)
	}

	n, ok := count.(int64)
	if !ok {
		return 0, apperr.Corrupted("unexpected count type %T", count)
	}
	return n, nil
}

func entityParams(entities []models.Entity) []map[string]any {
	out := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		out = append(out, map[string]any{
			"id":               e.ID,
			"name":             e.Name,
			"type":             e.Type,
			"description":      e.Description,
			"confidence":       e.Confidence,
			"source_chunk_ids": nonNil(e.SourceChunkIDs),
		})
	}
	return out
}

func relationshipParams(documentID string, rels []models.Relationship) []map[string]any {
	out := make([]map[string]any, 0, len(rels))
	for _, r := range rels {
		out = append(out, map[string]any{
			"id":               r.ID,
			"source":           r.SourceEntityID,
			"target":           r.TargetEntityID,
			"type":             r.RelationshipType,
			"confidence":       r.Confidence,
			"document_id":      documentID,
			"source_chunk_ids": nonNil(r.SourceChunkIDs),
		})
	}
	return out
}

func linkParams(links []models.CrossDocumentRelationship) []map[string]any {
	out := make([]map[string]any, 0, len(links))
	for _, l := range links {
		out = append(out, map[string]any{
			"id":                 l.ID,
			"source":             l.SourceEntityID,
			"target":             l.TargetEntityID,
			"type":               l.RelationshipType,
			"confidence":         l.Confidence,
			"source_document_id": l.SourceDocumentID,
			"target_document_id": l.TargetDocumentID,
			"evidence_chunk_ids": nonNil(l.EvidenceChunkIDs),
		})
	}
	return out
}

// Neo4j rejects null list properties.
func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
