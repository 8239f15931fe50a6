// Package mcp exposes the memory service over the Model Context Protocol:
// tool registration, authentication and the SSE transport.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/liliang-cn/graphmem/pkg/auth"
	"github.com/liliang-cn/graphmem/pkg/backup"
	"github.com/liliang-cn/graphmem/pkg/config"
	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/log"
	"github.com/liliang-cn/graphmem/pkg/maintenance"
	"github.com/liliang-cn/graphmem/pkg/ontology"
	"github.com/liliang-cn/graphmem/pkg/rag/embedder"
	"github.com/liliang-cn/graphmem/pkg/rag/extractor"
	"github.com/liliang-cn/graphmem/pkg/rag/ingest"
	"github.com/liliang-cn/graphmem/pkg/rag/search"
	"github.com/liliang-cn/graphmem/pkg/store/graph"
	"github.com/liliang-cn/graphmem/pkg/store/object"
	"github.com/liliang-cn/graphmem/pkg/store/vector"
)

// App owns every service of the memory server. It is built once at startup
// and passed around explicitly.
type App struct {
	Config     *config.Config
	Graph      *graph.Store
	Objects    *object.Store
	Vectors    *vector.Store
	Embedder   domain.Embedder
	Generator  domain.Generator
	Ontologies *ontology.Registry
	Pipeline   *ingest.Pipeline
	Engine     *search.Engine
	Backups    *backup.Service
	Scheduler  *backup.Scheduler
	Checker    *maintenance.Checker
	Auth       *auth.Manager

	logger *slog.Logger
	// memoryLocks serialises writes per memory: an ingestion and a backup
	// of the same memory never interleave.
	memoryLocks sync.Map
}

// NewApp connects every store and wires the services.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := log.WithModule("app")

	graphStore, err := graph.New(ctx, cfg.Graph)
	if err != nil {
		return nil, err
	}
	objectStore, err := object.New(ctx, cfg.Object)
	if err != nil {
		_ = graphStore.Close(ctx)
		return nil, err
	}
	vectorStore, err := vector.New(cfg.Vector, cfg.Embedding.Dimensions)
	if err != nil {
		_ = graphStore.Close(ctx)
		return nil, err
	}

	ontologies, err := ontology.Load(cfg.Ontology.Dir)
	if err != nil {
		_ = graphStore.Close(ctx)
		_ = vectorStore.Close()
		return nil, err
	}

	embedClient := embedder.New(cfg.LLM, cfg.Embedding)
	generator := extractor.NewGenerator(cfg.LLM)
	extractorService := extractor.New(generator,
		cfg.Ingest.ExtractionChunkSize, cfg.Ingest.ContextBudgetChars, cfg.LLM.MaxTokens)

	app := &App{
		Config:     cfg,
		Graph:      graphStore,
		Objects:    objectStore,
		Vectors:    vectorStore,
		Embedder:   embedClient,
		Generator:  generator,
		Ontologies: ontologies,
		Pipeline: ingest.New(graphStore, objectStore, vectorStore,
			embedClient, extractorService, ontologies, cfg.Ingest),
		Engine:  search.New(graphStore, vectorStore, embedClient, generator, cfg.RAG),
		Backups: backup.New(graphStore, objectStore, vectorStore, cfg.Backup),
		Auth:    auth.NewManager(graphStore, cfg.Auth.BootstrapKey),
		logger:  logger,
	}
	app.Checker = maintenance.NewChecker(graphStore, objectStore, app.Backups.Prefix())

	app.Scheduler, err = backup.NewScheduler(app, cfg.Backup.Schedule)
	if err != nil {
		_ = app.Close(ctx)
		return nil, fmt.Errorf("invalid backup schedule %q: %w", cfg.Backup.Schedule, err)
	}

	logger.Info("application wired",
		"ontologies", len(ontologies.List()),
		"embedding_dimensions", cfg.Embedding.Dimensions)
	return app, nil
}

// Close releases every connection.
func (a *App) Close(ctx context.Context) error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	var firstErr error
	if err := a.Graph.Close(ctx); err != nil {
		firstErr = err
	}
	if err := a.Vectors.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// lockMemory serialises mutating operations on one memory.
func (a *App) lockMemory(memoryID string) func() {
	value, _ := a.memoryLocks.LoadOrStore(memoryID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// DeleteMemory cascades across all three stores and strips the memory from
// token scopes.
func (a *App) DeleteMemory(ctx context.Context, memoryID string) (*graph.DeleteCounts, error) {
	unlock := a.lockMemory(memoryID)
	defer unlock()

	counts, err := a.Graph.DeleteMemory(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	if err := a.Vectors.DropCollection(ctx, memoryID); err != nil {
		a.logger.Warn("vector collection drop failed", "memory_id", memoryID, "error", err)
	}
	if _, err := a.Objects.DeletePrefix(ctx, "memories/"+memoryID+"/"); err != nil {
		a.logger.Warn("object prefix deletion failed", "memory_id", memoryID, "error", err)
	}
	if err := a.Graph.StripTokenMemory(ctx, memoryID); err != nil {
		a.logger.Warn("token scope cleanup failed", "memory_id", memoryID, "error", err)
	}
	return counts, nil
}

// DeleteDocument removes a document from the graph (with its orphan
// entities), the vector store and the object store.
func (a *App) DeleteDocument(ctx context.Context, memoryID, documentID string) (*graph.DeleteCounts, error) {
	unlock := a.lockMemory(memoryID)
	defer unlock()

	doc, err := a.Graph.GetDocument(ctx, memoryID, documentID)
	if err != nil {
		return nil, err
	}

	counts, err := a.Graph.DeleteDocument(ctx, memoryID, documentID)
	if err != nil {
		return nil, err
	}
	if err := a.Vectors.DeleteByDoc(ctx, memoryID, documentID); err != nil {
		a.logger.Warn("vector chunk deletion failed",
			"memory_id", memoryID, "document_id", documentID, "error", err)
	}
	if doc.ObjectURI != "" {
		if err := a.Objects.Delete(ctx, doc.ObjectURI); err != nil &&
			domain.KindOf(err) != domain.KindNotFound {
			a.logger.Warn("object deletion failed", "uri", doc.ObjectURI, "error", err)
		}
	}
	return counts, nil
}

// Ingest runs the pipeline under the memory's write lock.
func (a *App) Ingest(ctx context.Context, req ingest.Request, progress domain.ProgressSink) (*ingest.Result, error) {
	unlock := a.lockMemory(req.MemoryID)
	defer unlock()
	return a.Pipeline.Ingest(ctx, req, progress)
}

// ListMemories is the scheduler's view of the graph.
func (a *App) ListMemories(ctx context.Context) ([]domain.Memory, error) {
	return a.Graph.ListMemories(ctx)
}

// CreateBackup snapshots a memory under its write lock.
func (a *App) CreateBackup(ctx context.Context, memoryID string) (*backup.Manifest, error) {
	unlock := a.lockMemory(memoryID)
	defer unlock()
	return a.Backups.Create(ctx, memoryID)
}

// RestoreBackup rebuilds a memory from a stored backup under its write lock.
func (a *App) RestoreBackup(ctx context.Context, memoryID, timestamp string) (*backup.Manifest, error) {
	unlock := a.lockMemory(memoryID)
	defer unlock()
	return a.Backups.Restore(ctx, memoryID, timestamp)
}

// RestoreBackupArchive restores a memory from an uploaded archive under its
// write lock.
func (a *App) RestoreBackupArchive(ctx context.Context, memoryID string, archive []byte) (*backup.Manifest, error) {
	unlock := a.lockMemory(memoryID)
	defer unlock()
	return a.Backups.RestoreArchive(ctx, memoryID, archive)
}

// HealthStatus is the dependency health snapshot behind system_health.
type HealthStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// Health pings every dependency. Status degrades to "degraded" when any
// check fails.
func (a *App) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{Status: "ok", Components: map[string]string{}}
	checks := map[string]func(context.Context) error{
		"graph_store":  a.Graph.Ping,
		"object_store": a.Objects.Ping,
		"vector_store": a.Vectors.Ping,
	}
	if pinger, ok := a.Generator.(interface{ Ping(context.Context) error }); ok {
		checks["llm"] = pinger.Ping
	}
	for name, check := range checks {
		if err := check(ctx); err != nil {
			status.Components[name] = err.Error()
			status.Status = "degraded"
		} else {
			status.Components[name] = "ok"
		}
	}
	return status
}
