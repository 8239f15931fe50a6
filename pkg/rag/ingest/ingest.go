// Package ingest runs the document ingestion pipeline: decode, dedup,
// object upload, entity extraction, graph persistence, chunking and vector
// indexing.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/liliang-cn/graphmem/pkg/config"
	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/log"
	"github.com/liliang-cn/graphmem/pkg/ontology"
	"github.com/liliang-cn/graphmem/pkg/rag/chunker"
	"github.com/liliang-cn/graphmem/pkg/rag/extractor"
	"github.com/liliang-cn/graphmem/pkg/store/graph"
	"github.com/liliang-cn/graphmem/pkg/store/object"
)

// VectorIndexer is the slice of the vector store the pipeline needs.
type VectorIndexer interface {
	EnsureCollection(ctx context.Context, memoryID string) error
	Upsert(ctx context.Context, memoryID string, chunks []domain.Chunk, vectors [][]float32) error
}

// Request is one document to ingest.
type Request struct {
	MemoryID         string
	Filename         string
	Content          []byte
	Metadata         map[string]string
	SourcePath       string
	SourceModifiedAt *time.Time
	// Force re-ingests even when the content hash is already present.
	Force bool
}

// Result reports what an ingestion produced.
type Result struct {
	DocumentID    string   `json:"document_id"`
	Filename      string   `json:"filename"`
	Skipped       bool     `json:"skipped"`
	EntityCount   int      `json:"entity_count"`
	RelationCount int      `json:"relation_count"`
	ChunkCount    int      `json:"chunk_count"`
	Summary       string   `json:"summary,omitempty"`
	KeyTopics     []string `json:"key_topics,omitempty"`
}

// Pipeline wires the ingestion stages together.
type Pipeline struct {
	graph      *graph.Store
	objects    *object.Store
	vectors    VectorIndexer
	embedder   domain.Embedder
	extractor  *extractor.Service
	chunker    *chunker.Chunker
	ontologies *ontology.Registry
	cfg        config.IngestConfig
	logger     *slog.Logger
}

func New(
	graphStore *graph.Store,
	objectStore *object.Store,
	vectors VectorIndexer,
	embedder domain.Embedder,
	extractorService *extractor.Service,
	ontologies *ontology.Registry,
	cfg config.IngestConfig,
) *Pipeline {
	return &Pipeline{
		graph:      graphStore,
		objects:    objectStore,
		vectors:    vectors,
		embedder:   embedder,
		extractor:  extractorService,
		chunker:    chunker.New(cfg.ChunkSize, cfg.ChunkOverlap),
		ontologies: ontologies,
		cfg:        cfg,
		logger:     log.WithModule("ingest"),
	}
}

// resolveOntology maps a memory's configured ontology name to a loaded
// ontology. An empty name means the default; an unknown name is an error, not
// a silent fallback.
func resolveOntology(registry *ontology.Registry, name string) (*ontology.Ontology, error) {
	if name == "" {
		name = "default"
	}
	ont := registry.Get(name)
	if ont == nil {
		return nil, fmt.Errorf("%w: memory references unknown ontology %q", domain.ErrInvalidInput, name)
	}
	return ont, nil
}

// Ingest runs the full pipeline for one document. A document whose content
// hash is already present in the memory is skipped, not re-extracted.
func (p *Pipeline) Ingest(ctx context.Context, req Request, progress domain.ProgressSink) (*Result, error) {
	if progress == nil {
		progress = domain.NopProgress
	}

	memory, err := p.graph.GetMemory(ctx, req.MemoryID)
	if err != nil {
		return nil, err
	}
	ont, err := resolveOntology(p.ontologies, memory.OntologyName)
	if err != nil {
		return nil, err
	}

	maxBytes := int64(p.cfg.MaxDocumentSizeMB) * 1024 * 1024
	if int64(len(req.Content)) > maxBytes {
		return nil, fmt.Errorf("%w: document is %d bytes, limit is %d MB",
			domain.ErrQuotaExceeded, len(req.Content), p.cfg.MaxDocumentSizeMB)
	}

	progress.Progress("decode", req.Filename)
	text, err := DecodeText(req.Filename, req.Content)
	if err != nil {
		return nil, err
	}
	if len(text) > p.cfg.MaxTextLength {
		return nil, fmt.Errorf("%w: extracted text is %d chars, limit is %d",
			domain.ErrQuotaExceeded, len(text), p.cfg.MaxTextLength)
	}

	contentHash := object.HashBytes(req.Content)
	existing, err := p.graph.GetDocumentByHash(ctx, req.MemoryID, contentHash)
	switch {
	case err == nil && !req.Force:
		p.logger.Info("document already ingested", "memory_id", req.MemoryID,
			"filename", req.Filename, "document_id", existing.ID)
		progress.Progress("done", "document already present, skipped")
		return &Result{DocumentID: existing.ID, Filename: req.Filename, Skipped: true}, nil
	case err != nil && domain.KindOf(err) != domain.KindNotFound:
		return nil, err
	}

	docID := uuid.New().String()
	contentType := object.GuessContentType(req.Filename)

	progress.Progress("upload", req.Filename)
	key := object.DocumentKey(req.MemoryID, docID)
	uri, err := p.objects.Put(ctx, key, req.Content, contentType)
	if err != nil {
		return nil, err
	}

	// Upload plus document node is the commit point: the document exists in
	// the memory even when the enrichment below fails.
	doc := domain.Document{
		ID:               docID,
		MemoryID:         req.MemoryID,
		Filename:         req.Filename,
		ContentHash:      contentHash,
		SizeBytes:        int64(len(req.Content)),
		ContentType:      contentType,
		ObjectURI:        uri,
		SourcePath:       req.SourcePath,
		SourceModifiedAt: req.SourceModifiedAt,
		IngestedAt:       time.Now().UTC(),
		TextLength:       len(text),
		Metadata:         req.Metadata,
	}
	if err := p.graph.UpsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	extraction, err := p.extractor.ExtractDocument(ctx, ont, text, progress)
	if err != nil {
		return nil, err
	}

	progress.Progress("graph", fmt.Sprintf("persisting %d entities, %d relations",
		len(extraction.Entities), len(extraction.Relations)))

	for _, entity := range extraction.Entities {
		if err := p.graph.MergeEntity(ctx, req.MemoryID, docID, entity); err != nil {
			return nil, err
		}
		if err := p.graph.LinkMention(ctx, req.MemoryID, docID, entity.Name); err != nil {
			return nil, err
		}
	}
	for _, rel := range extraction.Relations {
		if err := p.graph.MergeRelation(ctx, req.MemoryID, docID, rel); err != nil {
			return nil, err
		}
	}

	chunkCount, err := p.index(ctx, req.MemoryID, docID, req.Filename, text, progress)
	if err != nil {
		return nil, err
	}

	progress.Progress("done", fmt.Sprintf("%d entities, %d relations, %d chunks",
		len(extraction.Entities), len(extraction.Relations), chunkCount))
	p.logger.Info("document ingested", "memory_id", req.MemoryID, "document_id", docID,
		"filename", req.Filename, "entities", len(extraction.Entities),
		"relations", len(extraction.Relations), "chunks", chunkCount)

	return &Result{
		DocumentID:    docID,
		Filename:      req.Filename,
		EntityCount:   len(extraction.Entities),
		RelationCount: len(extraction.Relations),
		ChunkCount:    chunkCount,
		Summary:       extraction.Summary,
		KeyTopics:     extraction.KeyTopics,
	}, nil
}

// index chunks the text, embeds it batch by batch and upserts the vectors.
// A failing batch is skipped with a warning so one bad chunk cannot sink the
// whole document.
func (p *Pipeline) index(ctx context.Context, memoryID, docID, filename, text string, progress domain.ProgressSink) (int, error) {
	chunks := p.chunker.Chunk(text, filename)
	if len(chunks) == 0 {
		return 0, nil
	}
	for i := range chunks {
		chunks[i].DocID = docID
		chunks[i].MemoryID = memoryID
	}

	if err := p.vectors.EnsureCollection(ctx, memoryID); err != nil {
		return 0, err
	}

	progress.Progress("embedding", fmt.Sprintf("%d chunks", len(chunks)))

	indexed := 0
	batchSize := 32
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}
		vectors, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			p.logger.Warn("embedding batch failed, chunks skipped",
				"document_id", docID, "from", start, "to", end, "error", err)
			continue
		}
		if err := p.vectors.Upsert(ctx, memoryID, batch, vectors); err != nil {
			p.logger.Warn("vector upsert failed, chunks skipped",
				"document_id", docID, "from", start, "to", end, "error", err)
			continue
		}
		indexed += len(batch)
	}

	return indexed, nil
}
