package graph

import (
	"context"
	"time"

	"github.com/liliang-cn/graphmem/pkg/domain"
)

// MentionEdge is the serialised (document)-[:MENTIONS]->(entity) edge used by
// backup export and import.
type MentionEdge struct {
	DocumentID string `json:"document_id"`
	EntityName string `json:"entity_name"`
	Count      int64  `json:"count"`
}

// MemoryData is the portable snapshot of one memory's graph, written to
// graph_data.json by the backup service.
type MemoryData struct {
	Memory    domain.Memory     `json:"memory"`
	Documents []domain.Document `json:"documents"`
	Entities  []domain.Entity   `json:"entities"`
	Relations []domain.Relation `json:"relations"`
	Mentions  []MentionEdge     `json:"mentions"`
}

// ExportMemoryData snapshots every node and edge belonging to the memory.
func (s *Store) ExportMemoryData(ctx context.Context, memoryID string) (*MemoryData, error) {
	memory, err := s.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, err
	}

	data := &MemoryData{Memory: *memory}

	data.Documents, err = s.ListDocuments(ctx, memoryID)
	if err != nil {
		return nil, err
	}

	records, err := s.read(ctx, `
		MATCH (e:Entity {memory_id: $id}) RETURN e ORDER BY e.name`,
		map[string]any{"id": memoryID})
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if props, ok := nodeProps(record, "e"); ok {
			data.Entities = append(data.Entities, entityFromProps(props))
		}
	}

	records, err = s.read(ctx, `
		MATCH (a:Entity {memory_id: $id})-[r:RELATED_TO]->(b:Entity {memory_id: $id})
		RETURN a.name AS from, b.name AS to, r.type AS type,
		       r.description AS description, r.weight AS weight, r.source_doc AS source_doc`,
		map[string]any{"id": memoryID})
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		data.Relations = append(data.Relations, domain.Relation{
			FromEntity:  recordString(record, "from"),
			ToEntity:    recordString(record, "to"),
			Type:        recordString(record, "type"),
			Description: recordString(record, "description"),
			Weight:      recordFloat64(record, "weight"),
			SourceDoc:   recordString(record, "source_doc"),
		})
	}

	records, err = s.read(ctx, `
		MATCH (d:Document {memory_id: $id})-[r:MENTIONS]->(e:Entity {memory_id: $id})
		RETURN d.id AS doc_id, e.name AS entity, r.count AS count`,
		map[string]any{"id": memoryID})
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		data.Mentions = append(data.Mentions, MentionEdge{
			DocumentID: recordString(record, "doc_id"),
			EntityName: recordString(record, "entity"),
			Count:      recordInt64(record, "count"),
		})
	}

	return data, nil
}

// ImportMemoryData recreates a memory from an exported snapshot. The caller
// guarantees the memory id is free.
func (s *Store) ImportMemoryData(ctx context.Context, data *MemoryData) error {
	memory := data.Memory
	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = time.Now().UTC()
	}
	_, err := s.write(ctx, `
		MERGE (m:Memory {id: $id})
		SET m.name = $name,
		    m.description = $description,
		    m.ontology = $ontology,
		    m.created_at = $created_at`,
		map[string]any{
			"id":          memory.ID,
			"name":        memory.Name,
			"description": memory.Description,
			"ontology":    memory.OntologyName,
			"created_at":  formatTime(memory.CreatedAt),
		})
	if err != nil {
		return err
	}

	for _, doc := range data.Documents {
		doc.MemoryID = memory.ID
		if err := s.UpsertDocument(ctx, doc); err != nil {
			return err
		}
	}

	for _, entity := range data.Entities {
		sourceDocs := entity.SourceDocs
		if sourceDocs == nil {
			sourceDocs = []string{}
		}
		_, err := s.write(ctx, `
			MERGE (e:Entity {name: $name, memory_id: $memory_id})
			SET e.type = $type,
			    e.description = $description,
			    e.mentions = $mentions,
			    e.source_docs = $source_docs`,
			map[string]any{
				"name":        entity.Name,
				"memory_id":   memory.ID,
				"type":        entity.Type,
				"description": entity.Description,
				"mentions":    entity.Mentions,
				"source_docs": sourceDocs,
			})
		if err != nil {
			return err
		}
	}

	for _, rel := range data.Relations {
		_, err := s.write(ctx, `
			MATCH (a:Entity {name: $from, memory_id: $memory_id})
			MATCH (b:Entity {name: $to, memory_id: $memory_id})
			MERGE (a)-[r:RELATED_TO {type: $type}]->(b)
			SET r.description = $description,
			    r.weight = $weight,
			    r.source_doc = $source_doc`,
			map[string]any{
				"from":        rel.FromEntity,
				"to":          rel.ToEntity,
				"memory_id":   memory.ID,
				"type":        rel.Type,
				"description": rel.Description,
				"weight":      rel.Weight,
				"source_doc":  rel.SourceDoc,
			})
		if err != nil {
			return err
		}
	}

	for _, mention := range data.Mentions {
		_, err := s.write(ctx, `
			MATCH (d:Document {memory_id: $memory_id, id: $doc_id})
			MATCH (e:Entity {name: $name, memory_id: $memory_id})
			MERGE (d)-[r:MENTIONS]->(e)
			SET r.count = $count`,
			map[string]any{
				"memory_id": memory.ID,
				"doc_id":    mention.DocumentID,
				"name":      mention.EntityName,
				"count":     mention.Count,
			})
		if err != nil {
			return err
		}
	}

	s.logger.Info("memory imported", "memory_id", memory.ID,
		"documents", len(data.Documents), "entities", len(data.Entities))
	return nil
}
