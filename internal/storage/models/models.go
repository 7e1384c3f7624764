package models

import "time"

const (
	EntityPerson       = "person"
	EntityOrganization = "organization"
	EntityLocation     = "location"
	EntityDate         = "date"
	EntityCurrency     = "currency"
)

const (
	RelLeads             = "leads"
	RelWorksFor          = "works_for"
	RelAcquired          = "acquired"
	RelPartnersWith      = "partners_with"
	RelCompetesWith      = "competes_with"
	RelLocatedIn         = "located_in"
	RelMarriedTo         = "married_to"
	RelKnows             = "knows"
	RelValuedAt          = "valued_at"
	RelOccurredOn        = "occurred_on"
	RelRelatedTo         = "related_to"
	RelNarrativeSequence = "narrative_sequence"
	RelSameEntity        = "same_entity"
	RelSimilarEntity     = "similar_entity"
)

// Chunk is one upstream unit of text. Embedding is optional.
type Chunk struct {
	ID           string    `json:"chunk_id"`
	Content      string    `json:"content"`
	SourcePage   int       `json:"source_page"`
	TokenCount   int       `json:"token_count"`
	SemanticType string    `json:"semantic_type,omitempty"`
	Embedding    []float32 `json:"embedding,omitempty"`
}

type Document struct {
	ID        string            `json:"document_id"`
	Title     string            `json:"title"`
	Chunks    []Chunk           `json:"chunks"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Entity optional fields: Description defaults to "", Properties to an empty
// map and Embedding to nil. SourceChunkIDs is required; a nil slice marks a
// malformed record.
type Entity struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Type           string            `json:"type"`
	Description    string            `json:"description"`
	Confidence     float64           `json:"confidence"`
	SourceChunkIDs []string          `json:"source_chunk_ids"`
	Properties     map[string]string `json:"properties"`
	Embedding      []float32         `json:"embedding,omitempty"`
}

type Relationship struct {
	ID               string            `json:"id"`
	SourceEntityID   string            `json:"source_entity_id"`
	TargetEntityID   string            `json:"target_entity_id"`
	RelationshipType string            `json:"relationship_type"`
	Description      string            `json:"description"`
	Confidence       float64           `json:"confidence"`
	SourceChunkIDs   []string          `json:"source_chunk_ids"`
	Properties       map[string]string `json:"properties"`
}

type KnowledgeGraph struct {
	GraphID       string            `json:"graph_id"`
	DocumentID    string            `json:"document_id"`
	Title         string            `json:"title"`
	Entities      []Entity          `json:"entities"`
	Relationships []Relationship    `json:"relationships"`
	Chunks        []Chunk           `json:"chunks"`
	Metadata      map[string]string `json:"metadata"`
	CreatedAt     time.Time         `json:"created_at"`
	StorageCID    string            `json:"storage_content_id"`
}

type CrossDocumentRelationship struct {
	ID               string   `json:"id"`
	SourceDocumentID string   `json:"source_document_id"`
	TargetDocumentID string   `json:"target_document_id"`
	SourceEntityID   string   `json:"source_entity_id"`
	TargetEntityID   string   `json:"target_entity_id"`
	RelationshipType string   `json:"relationship_type"`
	Confidence       float64  `json:"confidence"`
	EvidenceChunkIDs []string `json:"evidence_chunk_ids"`
}

type QueryKind string

const (
	KindEntity         QueryKind = "entity"
	KindRelationship   QueryKind = "relationship"
	KindSemantic       QueryKind = "semantic"
	KindDocument       QueryKind = "document"
	KindCrossDocument  QueryKind = "cross_document"
	KindGraphTraversal QueryKind = "graph_traversal"
)

func (k QueryKind) Valid() bool {
	switch k {
	case KindEntity, KindRelationship, KindSemantic, KindDocument, KindCrossDocument, KindGraphTraversal:
		return true
	}
	return false
}

// MultipleDocuments is the SourceDocumentID of results spanning documents.
const MultipleDocuments = "multiple"

type QueryResult struct {
	ID               string         `json:"id"`
	Kind             QueryKind      `json:"kind"`
	Content          string         `json:"content"`
	RelevanceScore   float64        `json:"relevance_score"`
	SourceDocumentID string         `json:"source_document_id"`
	SourceChunkIDs   []string       `json:"source_chunk_ids"`
	Metadata         map[string]any `json:"metadata"`
}

type QueryResponse struct {
	QueryID        string         `json:"query_id"`
	Query          string         `json:"query"`
	Kind           QueryKind      `json:"kind"`
	Results        []QueryResult  `json:"results"`
	Suggestions    []string       `json:"suggestions"`
	ProcessingTime time.Duration  `json:"processing_time"`
	Cached         bool           `json:"cached"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type Analytics struct {
	NoData             bool              `json:"no_data,omitempty"`
	TotalQueries       int               `json:"total_queries"`
	QueryKindCounts    map[QueryKind]int `json:"query_kind_counts"`
	AvgProcessingTime  time.Duration     `json:"avg_processing_time"`
	AvgResultsPerQuery float64           `json:"avg_results_per_query"`
	CacheSize          int               `json:"cache_size"`
	EmbeddingCacheSize int               `json:"embedding_cache_size"`
}

type Neighborhood struct {
	Center string         `json:"center"`
	Depth  int            `json:"depth"`
	Nodes  []Entity       `json:"nodes"`
	Edges  []Relationship `json:"edges"`
}

type GraphStats struct {
	Entities           int    `json:"entities"`
	Relationships      int    `json:"relationships"`
	Documents          int    `json:"documents"`
	CrossDocumentLinks int    `json:"cross_document_links"`
	Generation         uint64 `json:"generation"`
}

// ChunkFilter narrows a vector search. Zero values mean no constraint.
type ChunkFilter struct {
	DocumentID   string
	SemanticType string
	PageMin      int
	PageMax      int
}

type ChunkHit struct {
	ChunkID string
	Score   float64
}

type QueryRecord struct {
	ID          string
	QueryText   string
	Kind        string
	ResultCount int
	Cached      bool
	LatencyMS   int64
	CreatedAt   time.Time
}
