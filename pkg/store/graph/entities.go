package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/liliang-cn/graphmem/pkg/domain"
)

// MergeEntity upserts an entity keyed by (name, memory_id). On merge the
// mention count grows, the source document is appended if absent, the
// description is concatenated with " | " unless already contained, and the
// type is upgraded only away from Other/Unknown.
func (s *Store) MergeEntity(ctx context.Context, memoryID, docID string, entity domain.ExtractedEntity) error {
	_, err := s.write(ctx, `
		MERGE (e:Entity {name: $name, memory_id: $memory_id})
		ON CREATE SET
			e.type = $type,
			e.description = $description,
			e.mentions = 1,
			e.source_docs = [$doc_id]
		ON MATCH SET
			e.mentions = e.mentions + 1,
			e.source_docs = CASE
				WHEN $doc_id IN e.source_docs THEN e.source_docs
				ELSE e.source_docs + $doc_id END,
			e.description = CASE
				WHEN $description = '' THEN e.description
				WHEN coalesce(e.description, '') = '' THEN $description
				WHEN e.description CONTAINS $description THEN e.description
				ELSE e.description + ' | ' + $description END,
			e.type = CASE
				WHEN e.type IN ['Other', 'Unknown'] AND NOT $type IN ['Other', 'Unknown'] THEN $type
				ELSE e.type END`,
		map[string]any{
			"name":        entity.Name,
			"memory_id":   memoryID,
			"type":        entity.Type,
			"description": entity.Description,
			"doc_id":      docID,
		})
	return err
}

// LinkMention merges the (document)-[:MENTIONS]->(entity) edge.
func (s *Store) LinkMention(ctx context.Context, memoryID, docID, entityName string) error {
	_, err := s.write(ctx, `
		MATCH (d:Document {memory_id: $memory_id, id: $doc_id})
		MATCH (e:Entity {name: $name, memory_id: $memory_id})
		MERGE (d)-[r:MENTIONS]->(e)
		ON CREATE SET r.count = 1
		ON MATCH SET r.count = r.count + 1`,
		map[string]any{"memory_id": memoryID, "doc_id": docID, "name": entityName})
	return err
}

// MergeRelation upserts the typed edge between two entities. Both endpoints
// must already exist in the memory; a relation referencing an unknown entity
// is silently dropped (the MATCH yields nothing).
func (s *Store) MergeRelation(ctx context.Context, memoryID, docID string, rel domain.ExtractedRelation) error {
	weight := rel.Weight
	if weight <= 0 {
		weight = 1.0
	}
	_, err := s.write(ctx, `
		MATCH (a:Entity {name: $from, memory_id: $memory_id})
		MATCH (b:Entity {name: $to, memory_id: $memory_id})
		MERGE (a)-[r:RELATED_TO {type: $type}]->(b)
		ON CREATE SET
			r.description = $description,
			r.weight = $weight,
			r.source_doc = $doc_id
		ON MATCH SET
			r.weight = r.weight + $weight,
			r.description = CASE
				WHEN $description = '' THEN r.description
				WHEN coalesce(r.description, '') = '' THEN $description
				WHEN r.description CONTAINS $description THEN r.description
				ELSE r.description + ' | ' + $description END`,
		map[string]any{
			"from":        rel.FromEntity,
			"to":          rel.ToEntity,
			"memory_id":   memoryID,
			"type":        rel.Type,
			"description": rel.Description,
			"weight":      weight,
			"doc_id":      docID,
		})
	return err
}

// GetEntityContext returns everything known about one entity: the documents
// that mention it, its 1-hop neighbours, and the incident relations.
func (s *Store) GetEntityContext(ctx context.Context, memoryID, entityName string) (*domain.EntityContext, error) {
	records, err := s.read(ctx, `
		MATCH (e:Entity {name: $name, memory_id: $memory_id}) RETURN e`,
		map[string]any{"name": entityName, "memory_id": memoryID})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, notFound("entity", entityName)
	}
	props, _ := nodeProps(records[0], "e")

	context := &domain.EntityContext{
		EntityName:  propString(props, "name"),
		EntityType:  propString(props, "type"),
		Description: propString(props, "description"),
		Depth:       1,
	}

	records, err = s.read(ctx, `
		MATCH (d:Document)-[:MENTIONS]->(e:Entity {name: $name, memory_id: $memory_id})
		RETURN d ORDER BY d.ingested_at DESC`,
		map[string]any{"name": entityName, "memory_id": memoryID})
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if docProps, ok := nodeProps(record, "d"); ok {
			context.Documents = append(context.Documents, *documentFromProps(docProps))
		}
	}

	records, err = s.read(ctx, `
		MATCH (e:Entity {name: $name, memory_id: $memory_id})-[r:RELATED_TO]-(other:Entity {memory_id: $memory_id})
		RETURN other, r.type AS rel_type,
		       startNode(r).name AS from_name, endNode(r).name AS to_name,
		       r.description AS rel_description, r.weight AS weight
		ORDER BY other.mentions DESC`,
		map[string]any{"name": entityName, "memory_id": memoryID})
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		otherProps, ok := nodeProps(record, "other")
		if !ok {
			continue
		}
		context.RelatedEntities = append(context.RelatedEntities, domain.RelatedEntity{
			Name:         propString(otherProps, "name"),
			Type:         propString(otherProps, "type"),
			RelationType: recordString(record, "rel_type"),
			Mentions:     propInt64(otherProps, "mentions"),
		})
		context.Relations = append(context.Relations, domain.Relation{
			FromEntity:  recordString(record, "from_name"),
			ToEntity:    recordString(record, "to_name"),
			Type:        recordString(record, "rel_type"),
			Description: recordString(record, "rel_description"),
			Weight:      recordFloat64(record, "weight"),
		})
	}

	return context, nil
}

// FullGraph exports the visualizer payload: entity and document nodes, the
// RELATED_TO and MENTIONS edges, and the document list.
func (s *Store) FullGraph(ctx context.Context, memoryID string) (*domain.GraphExport, error) {
	if _, err := s.GetMemory(ctx, memoryID); err != nil {
		return nil, err
	}

	export := &domain.GraphExport{MemoryID: memoryID}

	records, err := s.read(ctx, `
		MATCH (e:Entity {memory_id: $memory_id}) RETURN e ORDER BY e.mentions DESC`,
		map[string]any{"memory_id": memoryID})
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if props, ok := nodeProps(record, "e"); ok {
			name := propString(props, "name")
			export.Nodes = append(export.Nodes, domain.GraphNode{
				ID:       "entity:" + name,
				Label:    name,
				NodeType: "entity",
				Type:     propString(props, "type"),
				Mentions: propInt64(props, "mentions"),
			})
		}
	}

	documents, err := s.ListDocuments(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	export.Documents = documents
	for _, doc := range documents {
		export.Nodes = append(export.Nodes, domain.GraphNode{
			ID:       "document:" + doc.ID,
			Label:    doc.Filename,
			NodeType: "document",
		})
	}

	records, err = s.read(ctx, `
		MATCH (a:Entity {memory_id: $memory_id})-[r:RELATED_TO]->(b:Entity {memory_id: $memory_id})
		RETURN a.name AS from, b.name AS to, r.type AS type`,
		map[string]any{"memory_id": memoryID})
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		export.Edges = append(export.Edges, domain.GraphEdge{
			From: "entity:" + recordString(record, "from"),
			To:   "entity:" + recordString(record, "to"),
			Type: recordString(record, "type"),
		})
	}

	records, err = s.read(ctx, `
		MATCH (d:Document {memory_id: $memory_id})-[r:MENTIONS]->(e:Entity {memory_id: $memory_id})
		RETURN d.id AS doc_id, e.name AS entity, r.count AS count`,
		map[string]any{"memory_id": memoryID})
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		export.Edges = append(export.Edges, domain.GraphEdge{
			From:  "document:" + recordString(record, "doc_id"),
			To:    "entity:" + recordString(record, "entity"),
			Type:  "MENTIONS",
			Count: recordInt64(record, "count"),
		})
	}

	return export, nil
}

func recordFloat64(record *neo4j.Record, key string) float64 {
	if value, ok := record.Get(key); ok {
		switch v := value.(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		}
	}
	return 0
}

func entityFromProps(props map[string]any) domain.Entity {
	return domain.Entity{
		Name:        propString(props, "name"),
		Type:        propString(props, "type"),
		Description: propString(props, "description"),
		Mentions:    propInt64(props, "mentions"),
		SourceDocs:  propStrings(props, "source_docs"),
	}
}
