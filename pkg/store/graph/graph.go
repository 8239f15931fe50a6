// Package graph persists the knowledge graph in Neo4j: memories, documents,
// entities, relations, and the token sub-store.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/liliang-cn/graphmem/pkg/config"
	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/log"
)

// Store is the Neo4j-backed graph adapter. All queries are parameterised and
// scoped by memory_id.
type Store struct {
	driver  neo4j.DriverWithContext
	timeout time.Duration
	logger  *slog.Logger

	// ftMu guards the lazy fulltext index creation; ftReady is only set
	// after a successful attempt so failures retry.
	ftMu    sync.Mutex
	ftReady bool
}

// New connects to Neo4j and verifies connectivity.
func New(ctx context.Context, cfg config.GraphConfig) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, domain.DependencyError("graph-store", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, domain.DependencyError("graph-store", err)
	}
	return &Store{
		driver:  driver,
		timeout: cfg.QueryTimeout,
		logger:  log.WithModule("graph"),
	}, nil
}

// Close releases the driver's connection pool.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Ping verifies the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return domain.DependencyError("graph-store", err)
	}
	return nil
}

// read runs a query in a read session and collects all records.
func (s *Store) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	return s.run(ctx, neo4j.AccessModeRead, cypher, params)
}

// write runs a query in a write session and collects all records.
func (s *Store) write(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	return s.run(ctx, neo4j.AccessModeWrite, cypher, params)
}

func (s *Store) run(ctx context.Context, mode neo4j.AccessMode, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode})
	defer func() { _ = session.Close(ctx) }()

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, domain.DependencyError("graph-store", err)
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, domain.DependencyError("graph-store", err)
	}
	return records, nil
}

// nodeProps extracts the property map of a node column.
func nodeProps(record *neo4j.Record, key string) (map[string]any, bool) {
	value, ok := record.Get(key)
	if !ok || value == nil {
		return nil, false
	}
	node, ok := value.(neo4j.Node)
	if !ok {
		return nil, false
	}
	return node.Props, true
}

func propString(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func propInt64(props map[string]any, key string) int64 {
	switch v := props[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}

func propFloat64(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func propStrings(props map[string]any, key string) []string {
	raw, ok := props[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func propTime(props map[string]any, key string) time.Time {
	switch v := props[key].(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	case time.Time:
		return v
	}
	return time.Time{}
}

func propTimePtr(props map[string]any, key string) *time.Time {
	t := propTime(props, key)
	if t.IsZero() {
		return nil
	}
	return &t
}

func recordInt64(record *neo4j.Record, key string) int64 {
	value, ok := record.Get(key)
	if !ok || value == nil {
		return 0
	}
	switch v := value.(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func recordString(record *neo4j.Record, key string) string {
	if value, ok := record.Get(key); ok {
		if s, ok := value.(string); ok {
			return s
		}
	}
	return ""
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// notFound wraps ErrNotFound with a subject.
func notFound(what, id string) error {
	return fmt.Errorf("%w: %s %q", domain.ErrNotFound, what, id)
}
