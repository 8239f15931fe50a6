// Package domain defines the core types shared across the graphmem service.
package domain

import (
	"context"
	"time"
)

// Memory is a tenant namespace. Everything else in the system lives under a
// memory and dies with it.
type Memory struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	OntologyName string    `json:"ontology"`
	CreatedAt    time.Time `json:"created_at"`
}

// MemoryStats aggregates the per-memory counters returned by memory_stats.
type MemoryStats struct {
	MemoryID       string        `json:"memory_id"`
	DocumentCount  int           `json:"document_count"`
	EntityCount    int           `json:"entity_count"`
	RelationCount  int           `json:"relation_count"`
	TotalSizeBytes int64         `json:"total_size_bytes"`
	LastIngestion  *time.Time    `json:"last_ingestion,omitempty"`
	TopEntities    []TopEntity   `json:"top_entities,omitempty"`
}

// TopEntity is a memory_stats leaderboard row.
type TopEntity struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Mentions int64  `json:"mentions"`
}

// Document is a raw ingested artifact, addressed by content hash within a
// memory.
type Document struct {
	ID               string            `json:"id"`
	MemoryID         string            `json:"memory_id"`
	Filename         string            `json:"filename"`
	ContentHash      string            `json:"content_hash"`
	SizeBytes        int64             `json:"size_bytes"`
	ContentType      string            `json:"content_type,omitempty"`
	ObjectURI        string            `json:"object_uri"`
	SourcePath       string            `json:"source_path,omitempty"`
	SourceModifiedAt *time.Time        `json:"source_modified_at,omitempty"`
	IngestedAt       time.Time         `json:"ingested_at"`
	TextLength       int               `json:"text_length,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	EntityCount      int               `json:"entity_count,omitempty"`
	RelationCount    int               `json:"relation_count,omitempty"`
}

// Entity is a typed node in the knowledge graph. Descriptions from different
// documents are joined with " | ".
type Entity struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Mentions    int64    `json:"mentions"`
	SourceDocs  []string `json:"source_docs,omitempty"`
}

// Relation is a typed, directed edge between two entities in the same memory.
type Relation struct {
	FromEntity  string  `json:"from_entity"`
	ToEntity    string  `json:"to_entity"`
	Type        string  `json:"type"`
	Description string  `json:"description,omitempty"`
	Weight      float64 `json:"weight,omitempty"`
	SourceDoc   string  `json:"source_doc,omitempty"`
}

// Chunk is a contiguous passage of a document's text, packaged for embedding.
type Chunk struct {
	Text             string   `json:"text"`
	Index            int      `json:"index"`
	TotalChunks      int      `json:"total_chunks"`
	DocID            string   `json:"doc_id,omitempty"`
	MemoryID         string   `json:"memory_id,omitempty"`
	Filename         string   `json:"filename,omitempty"`
	SectionTitle     string   `json:"section_title,omitempty"`
	ArticleNumber    string   `json:"article_number,omitempty"`
	HeadingHierarchy []string `json:"heading_hierarchy,omitempty"`
	CharCount        int      `json:"char_count"`
	TokenEstimate    int      `json:"token_estimate"`
}

// ChunkHit is a vector search result: a chunk plus its cosine score.
type ChunkHit struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// ExtractedEntity is one entity produced by the LLM extraction pass. Type is
// a free string so ontology-specific types survive; unknown types are coerced
// to "Other" against the active ontology at parse time.
type ExtractedEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ExtractedRelation is one relation produced by the LLM extraction pass.
type ExtractedRelation struct {
	FromEntity  string  `json:"from_entity"`
	ToEntity    string  `json:"to_entity"`
	Type        string  `json:"type"`
	Description string  `json:"description,omitempty"`
	Weight      float64 `json:"weight,omitempty"`
}

// ExtractionResult is the merged output of one or more extraction calls.
type ExtractionResult struct {
	Entities  []ExtractedEntity   `json:"entities"`
	Relations []ExtractedRelation `json:"relations"`
	Summary   string              `json:"summary,omitempty"`
	KeyTopics []string            `json:"key_topics,omitempty"`
}

// EntityContext is the neighbourhood of one entity: the documents that
// mention it, related entities, and the incident relations.
type EntityContext struct {
	EntityName      string           `json:"entity_name"`
	EntityType      string           `json:"entity_type,omitempty"`
	Description     string           `json:"description,omitempty"`
	Depth           int              `json:"depth"`
	Documents       []Document       `json:"documents"`
	RelatedEntities []RelatedEntity  `json:"related_entities"`
	Relations       []Relation       `json:"relations"`
}

// RelatedEntity is a 1-hop neighbour with the linking relation type.
type RelatedEntity struct {
	Name         string `json:"name"`
	Type         string `json:"type,omitempty"`
	RelationType string `json:"relation_type,omitempty"`
	Mentions     int64  `json:"mentions,omitempty"`
}

// GraphNode is one node of the visualizer export. NodeType is "entity" or
// "document".
type GraphNode struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	NodeType string `json:"node_type"`
	Type     string `json:"type,omitempty"`
	Mentions int64  `json:"mentions,omitempty"`
}

// GraphEdge is one edge of the visualizer export.
type GraphEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Type  string `json:"type"`
	Count int64  `json:"count,omitempty"`
}

// GraphExport is the full-graph payload served to the visualizer.
type GraphExport struct {
	MemoryID  string      `json:"memory_id"`
	Nodes     []GraphNode `json:"nodes"`
	Edges     []GraphEdge `json:"edges"`
	Documents []Document  `json:"documents"`
}

// TokenInfo describes an access credential. Only the SHA-256 hash of the raw
// token is ever stored.
type TokenInfo struct {
	TokenHash   string     `json:"token_hash"`
	ClientName  string     `json:"client_name"`
	Email       string     `json:"email,omitempty"`
	Permissions []string   `json:"permissions"`
	MemoryIDs   []string   `json:"memory_ids"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	IsActive    bool       `json:"is_active"`
}

// Embedder turns texts into fixed-size dense vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	Dimensions() int
}

// Generator produces a chat completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

// ProgressSink receives phase notifications during long operations. Sinks are
// bounded; implementations drop messages rather than block the caller.
type ProgressSink interface {
	Progress(phase string, message string)
}

// ProgressFunc adapts a function to the ProgressSink interface.
type ProgressFunc func(phase, message string)

func (f ProgressFunc) Progress(phase, message string) {
	if f != nil {
		f(phase, message)
	}
}

// NopProgress discards all notifications.
var NopProgress ProgressSink = ProgressFunc(nil)
