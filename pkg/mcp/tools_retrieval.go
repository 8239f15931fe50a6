package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/liliang-cn/graphmem/pkg/auth"
	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/rag/search"
	"github.com/liliang-cn/graphmem/pkg/store/graph"
)

func (s *Server) registerRetrievalTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "memory_search",
		Description: "Search entities by name, description or type (accent-insensitive)",
	}, s.handleMemorySearch)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "memory_get_context",
		Description: "Get an entity with its documents, neighbours and relations",
	}, s.handleMemoryGetContext)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "question_answer",
		Description: "Answer a question from the memory's documents with cited sources",
	}, s.handleQuestionAnswer)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "memory_query",
		Description: "Graph-guided retrieval returning raw entities and scored chunks, no LLM",
	}, s.handleMemoryQuery)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "system_health",
		Description: "Health of the graph, object and vector stores",
	}, s.handleSystemHealth)
}

type MemorySearchArgs struct {
	MemoryID string `json:"memory_id" jsonschema:"Memory to search"`
	Query    string `json:"query" jsonschema:"Free-text entity query"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum entities to return"`
}

type MemorySearchResult struct {
	Query    string               `json:"query"`
	Entities []graph.ScoredEntity `json:"entities"`
}

func (s *Server) handleMemorySearch(ctx context.Context, req *mcp.CallToolRequest, args MemorySearchArgs) (*mcp.CallToolResult, MemorySearchResult, error) {
	if _, err := requireMemoryAccess(ctx, auth.PermRead, args.MemoryID); err != nil {
		return nil, MemorySearchResult{}, err
	}
	if args.Query == "" {
		return nil, MemorySearchResult{}, fmt.Errorf("%w: query is required", domain.ErrInvalidInput)
	}

	limit := args.Limit
	if limit <= 0 {
		limit = s.app.Config.RAG.SearchLimit
	}
	entities, err := s.app.Engine.SearchEntities(ctx, args.MemoryID, args.Query, limit)
	if err != nil {
		return nil, MemorySearchResult{}, err
	}

	result := MemorySearchResult{Query: args.Query, Entities: entities}
	return textResult(result), result, nil
}

type MemoryGetContextArgs struct {
	MemoryID   string `json:"memory_id" jsonschema:"Memory the entity belongs to"`
	EntityName string `json:"entity_name" jsonschema:"Exact entity name"`
}

func (s *Server) handleMemoryGetContext(ctx context.Context, req *mcp.CallToolRequest, args MemoryGetContextArgs) (*mcp.CallToolResult, domain.EntityContext, error) {
	if _, err := requireMemoryAccess(ctx, auth.PermRead, args.MemoryID); err != nil {
		return nil, domain.EntityContext{}, err
	}
	if args.EntityName == "" {
		return nil, domain.EntityContext{}, fmt.Errorf("%w: entity_name is required", domain.ErrInvalidInput)
	}

	entityContext, err := s.app.Graph.GetEntityContext(ctx, args.MemoryID, args.EntityName)
	if err != nil {
		return nil, domain.EntityContext{}, err
	}
	return textResult(entityContext), *entityContext, nil
}

type QuestionAnswerArgs struct {
	MemoryID string `json:"memory_id" jsonschema:"Memory to query"`
	Question string `json:"question" jsonschema:"Question to answer"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum entities to retrieve"`
}

func (s *Server) handleQuestionAnswer(ctx context.Context, req *mcp.CallToolRequest, args QuestionAnswerArgs) (*mcp.CallToolResult, search.Answer, error) {
	if _, err := requireMemoryAccess(ctx, auth.PermRead, args.MemoryID); err != nil {
		return nil, search.Answer{}, err
	}
	if args.Question == "" {
		return nil, search.Answer{}, fmt.Errorf("%w: question is required", domain.ErrInvalidInput)
	}

	answer, err := s.app.Engine.Answer(ctx, args.MemoryID, args.Question, args.Limit, s.app.Config.LLM.MaxTokens)
	if err != nil {
		return nil, search.Answer{}, err
	}
	return textResult(answer), *answer, nil
}

type MemoryQueryArgs struct {
	MemoryID string `json:"memory_id" jsonschema:"Memory to query"`
	Query    string `json:"query" jsonschema:"Retrieval query"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum entities to retrieve"`
}

func (s *Server) handleMemoryQuery(ctx context.Context, req *mcp.CallToolRequest, args MemoryQueryArgs) (*mcp.CallToolResult, search.QueryResult, error) {
	if _, err := requireMemoryAccess(ctx, auth.PermRead, args.MemoryID); err != nil {
		return nil, search.QueryResult{}, err
	}
	if args.Query == "" {
		return nil, search.QueryResult{}, fmt.Errorf("%w: query is required", domain.ErrInvalidInput)
	}

	result, err := s.app.Engine.Query(ctx, args.MemoryID, args.Query, args.Limit)
	if err != nil {
		return nil, search.QueryResult{}, err
	}
	return textResult(result), *result, nil
}

type SystemHealthArgs struct{}

func (s *Server) handleSystemHealth(ctx context.Context, req *mcp.CallToolRequest, args SystemHealthArgs) (*mcp.CallToolResult, HealthStatus, error) {
	if _, err := requirePermission(ctx, auth.PermRead); err != nil {
		return nil, HealthStatus{}, err
	}

	status := s.app.Health(ctx)
	return textResult(status), *status, nil
}
