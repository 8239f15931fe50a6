package graph

import (
	"context"
	"encoding/json"
	"time"

	"github.com/liliang-cn/graphmem/pkg/domain"
)

// UpsertDocument creates or refreshes the document node keyed by
// (memory_id, content_hash) and links it to its memory.
func (s *Store) UpsertDocument(ctx context.Context, doc domain.Document) error {
	metadataJSON := ""
	if len(doc.Metadata) > 0 {
		raw, err := json.Marshal(doc.Metadata)
		if err == nil {
			metadataJSON = string(raw)
		}
	}
	sourceModified := ""
	if doc.SourceModifiedAt != nil {
		sourceModified = formatTime(*doc.SourceModifiedAt)
	}

	_, err := s.write(ctx, `
		MATCH (m:Memory {id: $memory_id})
		MERGE (d:Document {memory_id: $memory_id, content_hash: $content_hash})
		ON CREATE SET d.id = $id
		SET d.filename = $filename,
		    d.size_bytes = $size_bytes,
		    d.content_type = $content_type,
		    d.object_uri = $object_uri,
		    d.source_path = $source_path,
		    d.source_modified_at = $source_modified_at,
		    d.ingested_at = $ingested_at,
		    d.text_length = $text_length,
		    d.metadata = $metadata
		MERGE (m)-[:HAS_DOCUMENT]->(d)`,
		map[string]any{
			"memory_id":          doc.MemoryID,
			"content_hash":       doc.ContentHash,
			"id":                 doc.ID,
			"filename":           doc.Filename,
			"size_bytes":         doc.SizeBytes,
			"content_type":       doc.ContentType,
			"object_uri":         doc.ObjectURI,
			"source_path":        doc.SourcePath,
			"source_modified_at": sourceModified,
			"ingested_at":        formatTime(doc.IngestedAt),
			"text_length":        doc.TextLength,
			"metadata":           metadataJSON,
		})
	return err
}

// GetDocument returns a document by id within a memory.
func (s *Store) GetDocument(ctx context.Context, memoryID, documentID string) (*domain.Document, error) {
	records, err := s.read(ctx, `
		MATCH (d:Document {memory_id: $memory_id, id: $id}) RETURN d`,
		map[string]any{"memory_id": memoryID, "id": documentID})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, notFound("document", documentID)
	}
	props, _ := nodeProps(records[0], "d")
	return documentFromProps(props), nil
}

// GetDocumentByHash returns the document with the given content hash, or
// not_found. Used for ingest dedup.
func (s *Store) GetDocumentByHash(ctx context.Context, memoryID, contentHash string) (*domain.Document, error) {
	records, err := s.read(ctx, `
		MATCH (d:Document {memory_id: $memory_id, content_hash: $hash}) RETURN d`,
		map[string]any{"memory_id": memoryID, "hash": contentHash})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, notFound("document with hash", contentHash)
	}
	props, _ := nodeProps(records[0], "d")
	return documentFromProps(props), nil
}

// ListDocuments returns all documents of a memory, newest first, with their
// entity and relation contribution counts.
func (s *Store) ListDocuments(ctx context.Context, memoryID string) ([]domain.Document, error) {
	records, err := s.read(ctx, `
		MATCH (d:Document {memory_id: $memory_id})
		OPTIONAL MATCH (d)-[:MENTIONS]->(e:Entity)
		RETURN d, count(e) AS entity_count
		ORDER BY d.ingested_at DESC`,
		map[string]any{"memory_id": memoryID})
	if err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(records))
	for _, record := range records {
		props, ok := nodeProps(record, "d")
		if !ok {
			continue
		}
		doc := documentFromProps(props)
		doc.EntityCount = int(recordInt64(record, "entity_count"))
		docs = append(docs, *doc)
	}
	return docs, nil
}

// AllObjectURIs returns every object_uri known to the graph, across all
// memories. storage_check uses this as the "known keys" set.
func (s *Store) AllObjectURIs(ctx context.Context) ([]string, error) {
	records, err := s.read(ctx, `
		MATCH (d:Document) WHERE d.object_uri <> '' RETURN d.object_uri AS uri`, nil)
	if err != nil {
		return nil, err
	}
	uris := make([]string, 0, len(records))
	for _, record := range records {
		if uri := recordString(record, "uri"); uri != "" {
			uris = append(uris, uri)
		}
	}
	return uris, nil
}

// DeleteDocument removes a document and cascades the orphan entities: any
// entity whose source_docs becomes empty is deleted with its edges.
func (s *Store) DeleteDocument(ctx context.Context, memoryID, documentID string) (*DeleteCounts, error) {
	if _, err := s.GetDocument(ctx, memoryID, documentID); err != nil {
		return nil, err
	}

	counts := &DeleteCounts{Documents: 1}

	// Detach the document from the entities it mentions.
	_, err := s.write(ctx, `
		MATCH (e:Entity {memory_id: $memory_id})
		WHERE $doc_id IN e.source_docs
		SET e.source_docs = [doc IN e.source_docs WHERE doc <> $doc_id]`,
		map[string]any{"memory_id": memoryID, "doc_id": documentID})
	if err != nil {
		return nil, err
	}

	records, err := s.write(ctx, `
		MATCH (e:Entity {memory_id: $memory_id})
		WHERE size(coalesce(e.source_docs, [])) = 0
		OPTIONAL MATCH (e)-[r:RELATED_TO]-(:Entity)
		WITH e, count(r) AS rels
		DETACH DELETE e
		RETURN count(e) AS entities, sum(rels) AS relations`,
		map[string]any{"memory_id": memoryID})
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		counts.Entities = recordInt64(records[0], "entities")
		counts.Relations = recordInt64(records[0], "relations")
	}

	_, err = s.write(ctx, `
		MATCH (d:Document {memory_id: $memory_id, id: $doc_id}) DETACH DELETE d`,
		map[string]any{"memory_id": memoryID, "doc_id": documentID})
	if err != nil {
		return nil, err
	}

	s.logger.Info("document deleted", "memory_id", memoryID, "document_id", documentID,
		"orphan_entities", counts.Entities)
	return counts, nil
}

func documentFromProps(props map[string]any) *domain.Document {
	doc := &domain.Document{
		ID:          propString(props, "id"),
		MemoryID:    propString(props, "memory_id"),
		Filename:    propString(props, "filename"),
		ContentHash: propString(props, "content_hash"),
		SizeBytes:   propInt64(props, "size_bytes"),
		ContentType: propString(props, "content_type"),
		ObjectURI:   propString(props, "object_uri"),
		SourcePath:  propString(props, "source_path"),
		IngestedAt:  propTime(props, "ingested_at"),
		TextLength:  int(propInt64(props, "text_length")),
	}
	if raw := propString(props, "source_modified_at"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			doc.SourceModifiedAt = &t
		}
	}
	if raw := propString(props, "metadata"); raw != "" {
		var metadata map[string]string
		if err := json.Unmarshal([]byte(raw), &metadata); err == nil {
			doc.Metadata = metadata
		}
	}
	return doc
}
