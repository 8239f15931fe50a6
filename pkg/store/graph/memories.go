package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/liliang-cn/graphmem/pkg/domain"
)

// CreateMemory creates the tenant namespace node. Fails with already_exists
// when the id is taken.
func (s *Store) CreateMemory(ctx context.Context, memory domain.Memory) (*domain.Memory, error) {
	existing, err := s.GetMemory(ctx, memory.ID)
	if err != nil && domain.KindOf(err) != domain.KindNotFound {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: memory %q", domain.ErrAlreadyExists, memory.ID)
	}

	memory.CreatedAt = time.Now().UTC()
	_, err = s.write(ctx, `
		CREATE (m:Memory {
			id: $id,
			name: $name,
			description: $description,
			ontology: $ontology,
			created_at: $created_at
		})`,
		map[string]any{
			"id":          memory.ID,
			"name":        memory.Name,
			"description": memory.Description,
			"ontology":    memory.OntologyName,
			"created_at":  formatTime(memory.CreatedAt),
		})
	if err != nil {
		return nil, err
	}
	s.logger.Info("memory created", "memory_id", memory.ID, "ontology", memory.OntologyName)
	return &memory, nil
}

// GetMemory returns the memory or not_found.
func (s *Store) GetMemory(ctx context.Context, memoryID string) (*domain.Memory, error) {
	records, err := s.read(ctx, `MATCH (m:Memory {id: $id}) RETURN m`, map[string]any{"id": memoryID})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, notFound("memory", memoryID)
	}
	props, ok := nodeProps(records[0], "m")
	if !ok {
		return nil, notFound("memory", memoryID)
	}
	return memoryFromProps(props), nil
}

// ListMemories returns every memory, newest first.
func (s *Store) ListMemories(ctx context.Context) ([]domain.Memory, error) {
	records, err := s.read(ctx, `MATCH (m:Memory) RETURN m ORDER BY m.created_at DESC`, nil)
	if err != nil {
		return nil, err
	}
	memories := make([]domain.Memory, 0, len(records))
	for _, record := range records {
		if props, ok := nodeProps(record, "m"); ok {
			memories = append(memories, *memoryFromProps(props))
		}
	}
	return memories, nil
}

// DeleteCounts reports what a cascade delete removed.
type DeleteCounts struct {
	Documents int64 `json:"documents"`
	Entities  int64 `json:"entities"`
	Relations int64 `json:"relations"`
}

// DeleteMemory cascades: documents, entities (with their edges), and the
// memory node itself.
func (s *Store) DeleteMemory(ctx context.Context, memoryID string) (*DeleteCounts, error) {
	if _, err := s.GetMemory(ctx, memoryID); err != nil {
		return nil, err
	}

	counts := &DeleteCounts{}

	records, err := s.write(ctx, `
		MATCH (e:Entity {memory_id: $id})
		OPTIONAL MATCH (e)-[r:RELATED_TO]->(:Entity {memory_id: $id})
		WITH e, count(r) AS rels
		DETACH DELETE e
		RETURN count(e) AS entities, sum(rels) AS relations`,
		map[string]any{"id": memoryID})
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		counts.Entities = recordInt64(records[0], "entities")
		counts.Relations = recordInt64(records[0], "relations")
	}

	records, err = s.write(ctx, `
		MATCH (d:Document {memory_id: $id})
		DETACH DELETE d
		RETURN count(d) AS documents`,
		map[string]any{"id": memoryID})
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		counts.Documents = recordInt64(records[0], "documents")
	}

	if _, err := s.write(ctx, `MATCH (m:Memory {id: $id}) DETACH DELETE m`, map[string]any{"id": memoryID}); err != nil {
		return nil, err
	}

	s.logger.Info("memory deleted", "memory_id", memoryID,
		"documents", counts.Documents, "entities", counts.Entities)
	return counts, nil
}

// GetMemoryStats aggregates counters and the mention leaderboard.
func (s *Store) GetMemoryStats(ctx context.Context, memoryID string) (*domain.MemoryStats, error) {
	if _, err := s.GetMemory(ctx, memoryID); err != nil {
		return nil, err
	}

	stats := &domain.MemoryStats{MemoryID: memoryID}

	records, err := s.read(ctx, `
		MATCH (m:Memory {id: $id})
		OPTIONAL MATCH (m)-[:HAS_DOCUMENT]->(d:Document)
		RETURN count(d) AS documents,
		       sum(coalesce(d.size_bytes, 0)) AS total_size,
		       max(d.ingested_at) AS last_ingestion`,
		map[string]any{"id": memoryID})
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		stats.DocumentCount = int(recordInt64(records[0], "documents"))
		stats.TotalSizeBytes = recordInt64(records[0], "total_size")
		if raw := recordString(records[0], "last_ingestion"); raw != "" {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				stats.LastIngestion = &t
			}
		}
	}

	records, err = s.read(ctx, `
		MATCH (e:Entity {memory_id: $id})
		OPTIONAL MATCH (e)-[r:RELATED_TO]->(:Entity {memory_id: $id})
		RETURN count(DISTINCT e) AS entities, count(r) AS relations`,
		map[string]any{"id": memoryID})
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		stats.EntityCount = int(recordInt64(records[0], "entities"))
		stats.RelationCount = int(recordInt64(records[0], "relations"))
	}

	records, err = s.read(ctx, `
		MATCH (e:Entity {memory_id: $id})
		RETURN e.name AS name, e.type AS type, e.mentions AS mentions
		ORDER BY e.mentions DESC LIMIT 10`,
		map[string]any{"id": memoryID})
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		stats.TopEntities = append(stats.TopEntities, domain.TopEntity{
			Name:     recordString(record, "name"),
			Type:     recordString(record, "type"),
			Mentions: recordInt64(record, "mentions"),
		})
	}

	return stats, nil
}

func memoryFromProps(props map[string]any) *domain.Memory {
	return &domain.Memory{
		ID:           propString(props, "id"),
		Name:         propString(props, "name"),
		Description:  propString(props, "description"),
		OntologyName: propString(props, "ontology"),
		CreatedAt:    propTime(props, "created_at"),
	}
}
