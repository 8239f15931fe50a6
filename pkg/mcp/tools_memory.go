package mcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/liliang-cn/graphmem/pkg/auth"
	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/ontology"
	"github.com/liliang-cn/graphmem/pkg/rag/ingest"
	"github.com/liliang-cn/graphmem/pkg/store/graph"
)

func (s *Server) registerMemoryTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "memory_create",
		Description: "Create a new memory (isolated knowledge graph namespace)",
	}, s.handleMemoryCreate)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "memory_delete",
		Description: "Delete a memory and everything it contains",
	}, s.handleMemoryDelete)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "memory_list",
		Description: "List the memories visible to the current token",
	}, s.handleMemoryList)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "memory_stats",
		Description: "Document, entity and relation counts for a memory",
	}, s.handleMemoryStats)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "memory_graph",
		Description: "Export the full knowledge graph of a memory (nodes, edges, documents)",
	}, s.handleMemoryGraph)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "memory_ingest",
		Description: "Ingest a document into a memory: extract entities and relations, chunk and embed",
	}, s.handleMemoryIngest)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "document_list",
		Description: "List the documents of a memory",
	}, s.handleDocumentList)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "document_get",
		Description: "Get the metadata of one document",
	}, s.handleDocumentGet)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "document_delete",
		Description: "Delete a document, its chunks and its orphaned entities",
	}, s.handleDocumentDelete)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ontology_list",
		Description: "List the extraction ontologies loaded at startup",
	}, s.handleOntologyList)
}

type MemoryCreateArgs struct {
	MemoryID    string `json:"memory_id" jsonschema:"Unique identifier of the new memory"`
	Name        string `json:"name" jsonschema:"Human-readable name"`
	Description string `json:"description,omitempty" jsonschema:"Optional description"`
	Ontology    string `json:"ontology,omitempty" jsonschema:"Extraction ontology name, defaults to 'default'"`
}

type MemoryCreateResult struct {
	Created bool          `json:"created"`
	Memory  domain.Memory `json:"memory"`
}

func (s *Server) handleMemoryCreate(ctx context.Context, req *mcp.CallToolRequest, args MemoryCreateArgs) (*mcp.CallToolResult, MemoryCreateResult, error) {
	if _, err := requirePermission(ctx, auth.PermWrite); err != nil {
		return nil, MemoryCreateResult{}, err
	}
	if args.MemoryID == "" {
		return nil, MemoryCreateResult{}, fmt.Errorf("%w: memory_id is required", domain.ErrInvalidInput)
	}

	ontologyName := args.Ontology
	if ontologyName == "" {
		ontologyName = "default"
	}
	if s.app.Ontologies.Get(ontologyName) == nil {
		return nil, MemoryCreateResult{}, fmt.Errorf("%w: unknown ontology %q",
			domain.ErrInvalidInput, ontologyName)
	}

	memory, err := s.app.Graph.CreateMemory(ctx, domain.Memory{
		ID:           args.MemoryID,
		Name:         args.Name,
		Description:  args.Description,
		OntologyName: ontologyName,
	})
	if err != nil {
		return nil, MemoryCreateResult{}, err
	}

	result := MemoryCreateResult{Created: true, Memory: *memory}
	return textResult(result), result, nil
}

type MemoryDeleteArgs struct {
	MemoryID string `json:"memory_id" jsonschema:"Memory to delete"`
}

type MemoryDeleteResult struct {
	Deleted bool               `json:"deleted"`
	Counts  graph.DeleteCounts `json:"counts"`
}

func (s *Server) handleMemoryDelete(ctx context.Context, req *mcp.CallToolRequest, args MemoryDeleteArgs) (*mcp.CallToolResult, MemoryDeleteResult, error) {
	if _, err := requireMemoryAccess(ctx, auth.PermAdmin, args.MemoryID); err != nil {
		return nil, MemoryDeleteResult{}, err
	}

	counts, err := s.app.DeleteMemory(ctx, args.MemoryID)
	if err != nil {
		return nil, MemoryDeleteResult{}, err
	}

	result := MemoryDeleteResult{Deleted: true, Counts: *counts}
	return textResult(result), result, nil
}

type MemoryListArgs struct{}

type MemoryListResult struct {
	Memories []domain.Memory `json:"memories"`
}

func (s *Server) handleMemoryList(ctx context.Context, req *mcp.CallToolRequest, args MemoryListArgs) (*mcp.CallToolResult, MemoryListResult, error) {
	principal, err := requirePermission(ctx, auth.PermRead)
	if err != nil {
		return nil, MemoryListResult{}, err
	}

	memories, err := s.app.Graph.ListMemories(ctx)
	if err != nil {
		return nil, MemoryListResult{}, err
	}

	visible := make([]domain.Memory, 0, len(memories))
	for _, memory := range memories {
		if principal.CanAccessMemory(memory.ID) {
			visible = append(visible, memory)
		}
	}

	result := MemoryListResult{Memories: visible}
	return textResult(result), result, nil
}

type MemoryStatsArgs struct {
	MemoryID string `json:"memory_id" jsonschema:"Memory to inspect"`
}

func (s *Server) handleMemoryStats(ctx context.Context, req *mcp.CallToolRequest, args MemoryStatsArgs) (*mcp.CallToolResult, domain.MemoryStats, error) {
	if _, err := requireMemoryAccess(ctx, auth.PermRead, args.MemoryID); err != nil {
		return nil, domain.MemoryStats{}, err
	}

	stats, err := s.app.Graph.GetMemoryStats(ctx, args.MemoryID)
	if err != nil {
		return nil, domain.MemoryStats{}, err
	}
	return textResult(stats), *stats, nil
}

type MemoryGraphArgs struct {
	MemoryID string `json:"memory_id" jsonschema:"Memory whose graph to export"`
}

func (s *Server) handleMemoryGraph(ctx context.Context, req *mcp.CallToolRequest, args MemoryGraphArgs) (*mcp.CallToolResult, domain.GraphExport, error) {
	if _, err := requireMemoryAccess(ctx, auth.PermRead, args.MemoryID); err != nil {
		return nil, domain.GraphExport{}, err
	}

	export, err := s.app.Graph.FullGraph(ctx, args.MemoryID)
	if err != nil {
		return nil, domain.GraphExport{}, err
	}
	return textResult(export), *export, nil
}

type MemoryIngestArgs struct {
	MemoryID         string            `json:"memory_id" jsonschema:"Target memory"`
	Filename         string            `json:"filename" jsonschema:"Original file name, used for format detection"`
	ContentBase64    string            `json:"content_base64" jsonschema:"Document bytes, base64-encoded"`
	Force            bool              `json:"force,omitempty" jsonschema:"Re-ingest even when the content hash already exists"`
	SourcePath       string            `json:"source_path,omitempty" jsonschema:"Original path on the client"`
	SourceModifiedAt string            `json:"source_modified_at,omitempty" jsonschema:"RFC3339 modification time of the source file"`
	Metadata         map[string]string `json:"metadata,omitempty" jsonschema:"Free-form metadata stored on the document"`
}

func (s *Server) handleMemoryIngest(ctx context.Context, req *mcp.CallToolRequest, args MemoryIngestArgs) (*mcp.CallToolResult, ingest.Result, error) {
	if _, err := requireMemoryAccess(ctx, auth.PermWrite, args.MemoryID); err != nil {
		return nil, ingest.Result{}, err
	}
	if args.Filename == "" {
		return nil, ingest.Result{}, fmt.Errorf("%w: filename is required", domain.ErrInvalidInput)
	}

	content, err := base64.StdEncoding.DecodeString(args.ContentBase64)
	if err != nil {
		return nil, ingest.Result{}, fmt.Errorf("%w: content_base64 is not valid base64: %v",
			domain.ErrInvalidInput, err)
	}

	request := ingest.Request{
		MemoryID:   args.MemoryID,
		Filename:   args.Filename,
		Content:    content,
		Force:      args.Force,
		SourcePath: args.SourcePath,
		Metadata:   args.Metadata,
	}
	if args.SourceModifiedAt != "" {
		modified, err := time.Parse(time.RFC3339, args.SourceModifiedAt)
		if err != nil {
			return nil, ingest.Result{}, fmt.Errorf("%w: source_modified_at is not RFC3339: %v",
				domain.ErrInvalidInput, err)
		}
		request.SourceModifiedAt = &modified
	}

	result, err := s.app.Ingest(ctx, request, s.progressSink(ctx, req))
	if err != nil {
		return nil, ingest.Result{}, err
	}
	return textResult(result), *result, nil
}

type DocumentListArgs struct {
	MemoryID string `json:"memory_id" jsonschema:"Memory whose documents to list"`
}

type DocumentListResult struct {
	Documents []domain.Document `json:"documents"`
}

func (s *Server) handleDocumentList(ctx context.Context, req *mcp.CallToolRequest, args DocumentListArgs) (*mcp.CallToolResult, DocumentListResult, error) {
	if _, err := requireMemoryAccess(ctx, auth.PermRead, args.MemoryID); err != nil {
		return nil, DocumentListResult{}, err
	}

	documents, err := s.app.Graph.ListDocuments(ctx, args.MemoryID)
	if err != nil {
		return nil, DocumentListResult{}, err
	}

	result := DocumentListResult{Documents: documents}
	return textResult(result), result, nil
}

type DocumentGetArgs struct {
	MemoryID   string `json:"memory_id" jsonschema:"Memory the document belongs to"`
	DocumentID string `json:"document_id" jsonschema:"Document to fetch"`
}

func (s *Server) handleDocumentGet(ctx context.Context, req *mcp.CallToolRequest, args DocumentGetArgs) (*mcp.CallToolResult, domain.Document, error) {
	if _, err := requireMemoryAccess(ctx, auth.PermRead, args.MemoryID); err != nil {
		return nil, domain.Document{}, err
	}

	document, err := s.app.Graph.GetDocument(ctx, args.MemoryID, args.DocumentID)
	if err != nil {
		return nil, domain.Document{}, err
	}
	return textResult(document), *document, nil
}

type DocumentDeleteArgs struct {
	MemoryID   string `json:"memory_id" jsonschema:"Memory the document belongs to"`
	DocumentID string `json:"document_id" jsonschema:"Document to delete"`
}

type DocumentDeleteResult struct {
	Deleted bool               `json:"deleted"`
	Counts  graph.DeleteCounts `json:"counts"`
}

func (s *Server) handleDocumentDelete(ctx context.Context, req *mcp.CallToolRequest, args DocumentDeleteArgs) (*mcp.CallToolResult, DocumentDeleteResult, error) {
	if _, err := requireMemoryAccess(ctx, auth.PermWrite, args.MemoryID); err != nil {
		return nil, DocumentDeleteResult{}, err
	}

	counts, err := s.app.DeleteDocument(ctx, args.MemoryID, args.DocumentID)
	if err != nil {
		return nil, DocumentDeleteResult{}, err
	}

	result := DocumentDeleteResult{Deleted: true, Counts: *counts}
	return textResult(result), result, nil
}

type OntologyListArgs struct{}

type OntologyListResult struct {
	Ontologies []ontology.Summary `json:"ontologies"`
}

func (s *Server) handleOntologyList(ctx context.Context, req *mcp.CallToolRequest, args OntologyListArgs) (*mcp.CallToolResult, OntologyListResult, error) {
	if _, err := requirePermission(ctx, auth.PermRead); err != nil {
		return nil, OntologyListResult{}, err
	}

	result := OntologyListResult{Ontologies: s.app.Ontologies.List()}
	return textResult(result), result, nil
}
