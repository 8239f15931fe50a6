// Package search implements entity search and the Graph-Guided RAG query
// engine: the graph narrows the relevant documents, the vector store finds
// the best chunks inside them, and the LLM answers with citations.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/liliang-cn/graphmem/pkg/config"
	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/log"
	"github.com/liliang-cn/graphmem/pkg/store/graph"
)

// Mode says how an answer was retrieved.
const (
	ModeGraphGuided = "graph_guided"
	ModeRAGOnly     = "rag_only"
)

// VectorSearcher is the slice of the vector store the engine needs.
type VectorSearcher interface {
	Search(ctx context.Context, memoryID string, vector []float32, limit int, docIDs []string) ([]domain.ChunkHit, error)
}

// Engine runs entity search and question answering over one memory at a
// time.
type Engine struct {
	graph    *graph.Store
	vectors  VectorSearcher
	embedder domain.Embedder
	gen      domain.Generator
	cfg      config.RAGConfig
	logger   *slog.Logger
}

func New(graphStore *graph.Store, vectors VectorSearcher, embedder domain.Embedder, gen domain.Generator, cfg config.RAGConfig) *Engine {
	return &Engine{
		graph:    graphStore,
		vectors:  vectors,
		embedder: embedder,
		gen:      gen,
		cfg:      cfg,
		logger:   log.WithModule("search"),
	}
}

// SearchEntities finds graph entities matching the query. Three tiers:
// compound identifiers matched against entity names, then the fulltext
// index, then a CONTAINS fallback when fulltext finds nothing.
func (e *Engine) SearchEntities(ctx context.Context, memoryID, query string, limit int) ([]graph.ScoredEntity, error) {
	if limit <= 0 {
		limit = e.cfg.SearchLimit
	}
	tokens := Tokenize(query)
	if tokens.Empty() {
		e.logger.Debug("no meaningful tokens in query", "query", query)
		return nil, nil
	}

	var exact []graph.ScoredEntity
	if len(tokens.Compounds) > 0 {
		var err error
		// Wider than limit so the fulltext complement can be deduplicated.
		exact, err = e.graph.FindEntitiesByCompound(ctx, memoryID, tokens.Compounds, limit*2)
		if err != nil {
			return nil, err
		}
		e.logger.Debug("compound identifiers", "compounds", tokens.Compounds, "hits", len(exact))
	}
	if len(exact) >= limit {
		return exact[:limit], nil
	}

	entities, err := e.graph.SearchFulltext(ctx, memoryID, tokens.Fulltext, limit)
	if err != nil {
		e.logger.Warn("fulltext search failed, falling back to contains", "error", err)
		entities = nil
	}

	if len(entities) == 0 && len(exact) == 0 {
		contains := append(append([]string{}, tokens.Raw...), tokens.Normalized...)
		entities, err = e.graph.SearchContains(ctx, memoryID, dedupe(contains), limit)
		if err != nil {
			return nil, err
		}
		e.logger.Debug("contains fallback", "hits", len(entities))
	}

	if len(exact) == 0 {
		return entities, nil
	}

	seen := make(map[string]bool, len(exact))
	merged := exact
	for _, entity := range exact {
		seen[entity.Name] = true
	}
	for _, entity := range entities {
		if !seen[entity.Name] {
			merged = append(merged, entity)
		}
	}
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// QueryResult is the structured retrieval bundle behind memory_query and
// question_answer.
type QueryResult struct {
	MemoryID string               `json:"memory_id"`
	Query    string               `json:"query"`
	Mode     string               `json:"mode"`
	Entities []graph.ScoredEntity `json:"entities"`
	Chunks   []domain.ChunkHit    `json:"chunks"`
}

// Query retrieves the context for a question without generating an answer.
//
// Graph-guided: entity hits narrow the vector search to their source
// documents. When the graph finds nothing, or nothing in those documents
// clears the score threshold, the search falls back to the whole collection.
func (e *Engine) Query(ctx context.Context, memoryID, query string, limit int) (*QueryResult, error) {
	if _, err := e.graph.GetMemory(ctx, memoryID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = e.cfg.SearchLimit
	}

	entities, err := e.SearchEntities(ctx, memoryID, query, limit)
	if err != nil {
		return nil, err
	}

	docIDs := sourceDocs(entities)
	mode := ModeRAGOnly
	if len(docIDs) > 0 {
		mode = ModeGraphGuided
	}

	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	var hits []domain.ChunkHit
	if mode == ModeGraphGuided {
		hits, err = e.vectors.Search(ctx, memoryID, vector, e.cfg.ChunkLimit, docIDs)
		if err != nil {
			return nil, err
		}
		hits = e.applyThreshold(hits)
		if len(hits) == 0 {
			e.logger.Info("graph-guided retrieval below threshold, falling back to full search",
				"memory_id", memoryID, "guided_docs", len(docIDs))
			mode = ModeRAGOnly
		}
	}
	if mode == ModeRAGOnly {
		hits, err = e.vectors.Search(ctx, memoryID, vector, e.cfg.ChunkLimit, nil)
		if err != nil {
			return nil, err
		}
		hits = e.applyThreshold(hits)
	}

	e.logger.Info("query retrieved", "memory_id", memoryID, "mode", mode,
		"entities", len(entities), "chunks", len(hits))

	return &QueryResult{
		MemoryID: memoryID,
		Query:    query,
		Mode:     mode,
		Entities: entities,
		Chunks:   hits,
	}, nil
}

// Answer is a generated response with its citations and retrieval context.
type Answer struct {
	MemoryID string            `json:"memory_id"`
	Question string            `json:"question"`
	Answer   string            `json:"answer"`
	Mode     string            `json:"mode"`
	Entities []string          `json:"entities"`
	Sources  []string          `json:"sources"`
	Chunks   []domain.ChunkHit `json:"chunks"`
}

func entityNames(entities []graph.ScoredEntity) []string {
	names := make([]string, 0, len(entities))
	for _, entity := range entities {
		names = append(names, entity.Name)
	}
	return names
}

// Answer runs Query (limit <= 0 uses the configured search limit) and asks
// the LLM for a cited answer grounded in the retrieved chunks.
func (e *Engine) Answer(ctx context.Context, memoryID, question string, limit, maxTokens int) (*Answer, error) {
	result, err := e.Query(ctx, memoryID, question, limit)
	if err != nil {
		return nil, err
	}

	if len(result.Chunks) == 0 {
		return &Answer{
			MemoryID: memoryID,
			Question: question,
			Answer:   "No relevant information was found in this memory to answer the question.",
			Mode:     result.Mode,
			Entities: []string{},
			Sources:  []string{},
		}, nil
	}

	prompt := buildAnswerPrompt(question, result)
	text, err := e.gen.Generate(ctx, answerSystemMessage, prompt, maxTokens)
	if err != nil {
		return nil, err
	}

	return &Answer{
		MemoryID: memoryID,
		Question: question,
		Answer:   strings.TrimSpace(text),
		Mode:     result.Mode,
		Entities: entityNames(result.Entities),
		Sources:  sourceFilenames(result.Chunks),
		Chunks:   result.Chunks,
	}, nil
}

const answerSystemMessage = "You are an assistant answering questions from a document memory. " +
	"You only use the excerpts provided. When the excerpts do not contain the answer, you say so " +
	"instead of guessing."

func buildAnswerPrompt(question string, result *QueryResult) string {
	var b strings.Builder

	b.WriteString("QUESTION:\n")
	b.WriteString(question)
	b.WriteString("\n\n")

	if len(result.Entities) > 0 {
		b.WriteString("KNOWN ENTITIES RELATED TO THE QUESTION:\n")
		for _, entity := range result.Entities {
			fmt.Fprintf(&b, "- %s (%s)", entity.Name, entity.Type)
			if entity.Description != "" {
				b.WriteString(": " + entity.Description)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("DOCUMENT EXCERPTS:\n")
	for i, hit := range result.Chunks {
		fmt.Fprintf(&b, "[%d] (file: %s, score: %.2f)\n%s\n\n", i+1, hit.Chunk.Filename, hit.Score, hit.Chunk.Text)
	}

	b.WriteString(`INSTRUCTIONS:
1. Answer the question using only the excerpts above.
2. Cite your sources with the excerpt numbers, e.g. [1], [3].
3. If the excerpts do not contain the answer, say "The available documents do not answer this question." and stop.
`)
	return b.String()
}

func (e *Engine) applyThreshold(hits []domain.ChunkHit) []domain.ChunkHit {
	kept := hits[:0]
	for _, hit := range hits {
		if hit.Score >= e.cfg.ScoreThreshold {
			kept = append(kept, hit)
		}
	}
	if len(kept) < len(hits) {
		e.logger.Debug("chunks below score threshold dropped",
			"threshold", e.cfg.ScoreThreshold, "dropped", len(hits)-len(kept))
	}
	return kept
}

// sourceDocs collects the union of the entities' source documents.
func sourceDocs(entities []graph.ScoredEntity) []string {
	seen := make(map[string]bool)
	var docs []string
	for _, entity := range entities {
		for _, doc := range entity.SourceDocs {
			if doc != "" && !seen[doc] {
				seen[doc] = true
				docs = append(docs, doc)
			}
		}
	}
	return docs
}

func sourceFilenames(hits []domain.ChunkHit) []string {
	seen := make(map[string]bool)
	var files []string
	for _, hit := range hits {
		if name := hit.Chunk.Filename; name != "" && !seen[name] {
			seen[name] = true
			files = append(files, name)
		}
	}
	return files
}

func dedupe(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := tokens[:0]
	for _, tok := range tokens {
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}
