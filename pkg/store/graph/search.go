package graph

import (
	"context"
	"strings"
)

// ScoredEntity is a graph search hit.
type ScoredEntity struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Mentions    int64    `json:"mentions"`
	SourceDocs  []string `json:"source_docs,omitempty"`
	Score       float64  `json:"score"`
}

// ensureFulltextIndex creates the accent-folding entity index. Idempotent;
// a failed attempt is retried on the next search instead of being cached.
func (s *Store) ensureFulltextIndex(ctx context.Context) error {
	s.ftMu.Lock()
	defer s.ftMu.Unlock()
	if s.ftReady {
		return nil
	}
	_, err := s.write(ctx, `
		CREATE FULLTEXT INDEX entity_fulltext IF NOT EXISTS
		FOR (n:Entity) ON EACH [n.name, n.description, n.type]
		OPTIONS {indexConfig: {`+"`fulltext.analyzer`"+`: 'standard-folding'}}`, nil)
	if err != nil {
		return err
	}
	s.ftReady = true
	s.logger.Debug("fulltext index ready")
	return nil
}

// luceneReserved are the characters the fulltext query parser treats as
// syntax.
var luceneReserved = []string{
	"\\", "+", "-", "&&", "||", "!", "(", ")", "{", "}", "[", "]", "^", "\"", "~", "*", "?", ":", "/",
}

// EscapeLucene neutralises reserved fulltext syntax in a raw token.
func EscapeLucene(s string) string {
	for _, ch := range luceneReserved {
		s = strings.ReplaceAll(s, ch, "\\"+ch)
	}
	return s
}

// SearchFulltext queries the accent-folding index, scoped to the memory.
// Tokens are escaped and OR-joined.
func (s *Store) SearchFulltext(ctx context.Context, memoryID string, tokens []string, limit int) ([]ScoredEntity, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if err := s.ensureFulltextIndex(ctx); err != nil {
		return nil, err
	}

	escaped := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		escaped = append(escaped, EscapeLucene(tok))
	}
	query := strings.Join(escaped, " OR ")

	records, err := s.read(ctx, `
		CALL db.index.fulltext.queryNodes('entity_fulltext', $query) YIELD node, score
		WHERE node.memory_id = $memory_id
		RETURN node, score
		ORDER BY score DESC
		LIMIT $limit`,
		map[string]any{"query": query, "memory_id": memoryID, "limit": limit})
	if err != nil {
		return nil, err
	}

	hits := make([]ScoredEntity, 0, len(records))
	for _, record := range records {
		props, ok := nodeProps(record, "node")
		if !ok {
			continue
		}
		entity := entityFromProps(props)
		hits = append(hits, ScoredEntity{
			Name:        entity.Name,
			Type:        entity.Type,
			Description: entity.Description,
			Mentions:    entity.Mentions,
			SourceDocs:  entity.SourceDocs,
			Score:       recordFloat64(record, "score"),
		})
	}
	return hits, nil
}

// SearchContains is the substring fallback: an entity matches when any token
// is a substring of its lowercased name, description or type. Ordered by
// mention count.
func (s *Store) SearchContains(ctx context.Context, memoryID string, tokens []string, limit int) ([]ScoredEntity, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	lowered := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		lowered = append(lowered, strings.ToLower(tok))
	}

	records, err := s.read(ctx, `
		MATCH (e:Entity {memory_id: $memory_id})
		WHERE any(tok IN $tokens WHERE
			toLower(e.name) CONTAINS tok
			OR toLower(coalesce(e.description, '')) CONTAINS tok
			OR toLower(coalesce(e.type, '')) CONTAINS tok)
		WITH e, size([tok IN $tokens WHERE toLower(e.name) CONTAINS tok]) AS name_matches
		RETURN e, name_matches
		ORDER BY name_matches DESC, e.mentions DESC
		LIMIT $limit`,
		map[string]any{"memory_id": memoryID, "tokens": lowered, "limit": limit})
	if err != nil {
		return nil, err
	}

	hits := make([]ScoredEntity, 0, len(records))
	for _, record := range records {
		props, ok := nodeProps(record, "e")
		if !ok {
			continue
		}
		entity := entityFromProps(props)
		hits = append(hits, ScoredEntity{
			Name:        entity.Name,
			Type:        entity.Type,
			Description: entity.Description,
			Mentions:    entity.Mentions,
			SourceDocs:  entity.SourceDocs,
			Score:       float64(recordInt64(record, "name_matches")),
		})
	}
	return hits, nil
}

// FindEntitiesByCompound returns entities whose lowercased name contains any
// of the given compound identifiers (hostnames, IPs) that tokenisation would
// shred. Ordered by mention count.
func (s *Store) FindEntitiesByCompound(ctx context.Context, memoryID string, names []string, limit int) ([]ScoredEntity, error) {
	if len(names) == 0 {
		return nil, nil
	}
	lowered := make([]string, 0, len(names))
	for _, name := range names {
		lowered = append(lowered, strings.ToLower(name))
	}
	records, err := s.read(ctx, `
		MATCH (e:Entity {memory_id: $memory_id})
		WHERE any(cname IN $names WHERE toLower(e.name) CONTAINS cname)
		RETURN e
		ORDER BY e.mentions DESC
		LIMIT $limit`,
		map[string]any{"memory_id": memoryID, "names": lowered, "limit": limit})
	if err != nil {
		return nil, err
	}
	hits := make([]ScoredEntity, 0, len(records))
	for _, record := range records {
		props, ok := nodeProps(record, "e")
		if !ok {
			continue
		}
		entity := entityFromProps(props)
		hits = append(hits, ScoredEntity{
			Name:        entity.Name,
			Type:        entity.Type,
			Description: entity.Description,
			Mentions:    entity.Mentions,
			SourceDocs:  entity.SourceDocs,
			// Synthetic score well above any fulltext hit: exact identifier
			// matches always win.
			Score: 10.0,
		})
	}
	return hits, nil
}
