package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kgraph/backend/internal/storage/models"
	"github.com/kgraph/backend/pkg/apperr"
	"github.com/kgraph/backend/pkg/logger"
	"github.com/kgraph/backend/pkg/utils"
)

// Client is the content-addressed knowledge graph store. Payloads are JSON,
// so embeddings travel as plain numeric arrays, and are keyed by the sha256
// of their bytes.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS graph_blobs (
		cid TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		graph_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_blobs_document ON graph_blobs(document_id);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT,
		cid TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (cid) REFERENCES graph_blobs(cid)
	);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		query_text TEXT NOT NULL,
		kind TEXT NOT NULL,
		result_count INTEGER NOT NULL,
		cached INTEGER DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);
	CREATE INDEX IF NOT EXISTS idx_query_kind ON query_history(kind);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// Store writes kg's payload and returns its content id. StorageCID is excluded
// from the hashed payload so storing the same graph twice yields the same id.
// The document pointer is left alone until RecordDocument.
func (c *Client) Store(ctx context.Context, kg *models.KnowledgeGraph) (string, error) {
	if kg == nil {
		return "", apperr.InvalidArgument("knowledge graph is required")
	}

	payloadGraph := *kg
	payloadGraph.StorageCID = ""
	payload, err := json.Marshal(&payloadGraph)
	if err != nil {
		return "", fmt.Errorf("failed to marshal knowledge graph: %w", err)
	}
	cid := utils.ContentID(payload)

	_, err = c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO graph_blobs (cid, document_id, graph_id, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		cid, kg.DocumentID, kg.GraphID, payload, time.Now().Unix(),
	)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrUnavailable, err, "failed to insert graph blob")
	}

	logger.Debug("Knowledge graph stored",
		zap.String("doc_id", kg.DocumentID),
		zap.String("cid", cid),
		zap.Int("bytes", len(payload)),
	)
	return cid, nil
}

// RecordDocument points the document at its stored payload. Only documents
// recorded here are listed by ListDocuments.
func (c *Client) RecordDocument(ctx context.Context, kg *models.KnowledgeGraph) error {
	if kg == nil || kg.DocumentID == "" || kg.StorageCID == "" {
		return apperr.InvalidArgument("stored knowledge graph with a document id is required")
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, cid, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			cid = excluded.cid,
			updated_at = excluded.updated_at`,
		kg.DocumentID, kg.Title, kg.StorageCID, time.Now().Unix(),
	)
	if err != nil {
		return apperr.Wrap(apperr.ErrUnavailable, err, "failed to record document %s", kg.DocumentID)
	}
	return nil
}

func (c *Client) Load(ctx context.Context, cid string) (*models.KnowledgeGraph, error) {
	var payload []byte
	err := c.db.QueryRowContext(ctx, `SELECT payload FROM graph_blobs WHERE cid = ?`, cid).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("no knowledge graph with content id %s", cid)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrUnavailable, err, "failed to load graph blob")
	}

	if utils.ContentID(payload) != cid {
		return nil, apperr.Corrupted("payload for %s does not match its content id", cid)
	}

	var kg models.KnowledgeGraph
	if err := json.Unmarshal(payload, &kg); err != nil {
		return nil, apperr.Wrap(apperr.ErrCorrupted, err, "failed to unmarshal graph blob %s", cid)
	}
	kg.StorageCID = cid
	return &kg, nil
}

type StoredDocument struct {
	ID        string
	Title     string
	CID       string
	UpdatedAt time.Time
}

// ListDocuments returns the latest content id of every stored document,
// oldest first.
func (c *Client) ListDocuments(ctx context.Context) ([]StoredDocument, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, title, cid, updated_at FROM documents ORDER BY updated_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []StoredDocument
	for rows.Next() {
		var d StoredDocument
		var updatedAt int64
		if err := rows.Scan(&d.ID, &d.Title, &d.CID, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		d.UpdatedAt = time.Unix(updatedAt, 0)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (c *Client) InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error {
	cached := 0
	if record.Cached {
		cached = 1
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO query_history (id, query_text, kind, result_count, cached, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.QueryText,
		record.Kind,
		record.ResultCount,
		cached,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	logger.Debug("Query recorded",
		zap.String("query_id", record.ID),
		zap.String("kind", record.Kind),
		zap.Int("results", record.ResultCount),
	)
	return nil
}

func (c *Client) GetQueryHistory(ctx context.Context, limit int) ([]models.QueryRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, query_text, kind, result_count, cached, latency_ms, created_at
		FROM query_history
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var r models.QueryRecord
		var cached int
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.QueryText, &r.Kind, &r.ResultCount, &cached, &r.LatencyMS, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Cached = cached == 1
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}
	return records, rows.Err()
}
