// Package api exposes the REST surface and mounts the MCP transport: a
// public health endpoint plus bearer-authenticated read endpoints for
// dashboards and graph visualizers.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/liliang-cn/graphmem/pkg/auth"
	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/log"
	"github.com/liliang-cn/graphmem/pkg/mcp"
)

const version = "1.0.0"

// Server is the HTTP front of the service.
type Server struct {
	app    *mcp.App
	router *gin.Engine
	server *http.Server
	logger *slog.Logger
}

func NewServer(app *mcp.App, mcpServer *mcp.Server) *Server {
	if !app.Config.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		app:    app,
		router: gin.New(),
		logger: log.WithModule("api"),
	}
	s.router.Use(gin.Recovery())
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	s.setupRoutes(mcpServer)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", app.Config.Server.Host, app.Config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(mcpServer *mcp.Server) {
	s.router.GET("/health", s.handleHealth)

	// MCP over SSE; the handler does its own bearer authentication.
	s.router.Any("/mcp", gin.WrapH(mcpServer.Handler()))
	s.router.Any("/mcp/*path", gin.WrapH(mcpServer.Handler()))

	authenticated := s.router.Group("/api")
	authenticated.Use(BearerAuth(s.app.Auth))
	authenticated.GET("/memories", s.handleListMemories)
	authenticated.GET("/graph/:memory_id", s.handleGraph)
	authenticated.POST("/ask", s.handleAsk)
	authenticated.POST("/query", s.handleQuery)
}

// Start blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	health := s.app.Health(c.Request.Context())
	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"version":      version,
		"status":       health.Status,
		"dependencies": health.Components,
	})
}

func (s *Server) handleListMemories(c *gin.Context) {
	principal := auth.PrincipalFrom(c.Request.Context())

	memories, err := s.app.Graph.ListMemories(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	visible := make([]domain.Memory, 0, len(memories))
	for _, memory := range memories {
		if principal.CanAccessMemory(memory.ID) {
			visible = append(visible, memory)
		}
	}
	c.JSON(http.StatusOK, gin.H{"memories": visible})
}

func (s *Server) handleGraph(c *gin.Context) {
	memoryID := c.Param("memory_id")
	if err := s.checkMemoryScope(c, memoryID); err != nil {
		abortWithError(c, err)
		return
	}

	export, err := s.app.Graph.FullGraph(c.Request.Context(), memoryID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, export)
}

type askRequest struct {
	MemoryID string `json:"memory_id" binding:"required"`
	Question string `json:"question" binding:"required"`
	Limit    int    `json:"limit"`
}

func (s *Server) handleAsk(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.checkMemoryScope(c, req.MemoryID); err != nil {
		abortWithError(c, err)
		return
	}

	answer, err := s.app.Engine.Answer(c.Request.Context(), req.MemoryID, req.Question,
		req.Limit, s.app.Config.LLM.MaxTokens)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

type queryRequest struct {
	MemoryID string `json:"memory_id" binding:"required"`
	Query    string `json:"query" binding:"required"`
	Limit    int    `json:"limit"`
}

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.checkMemoryScope(c, req.MemoryID); err != nil {
		abortWithError(c, err)
		return
	}

	result, err := s.app.Engine.Query(c.Request.Context(), req.MemoryID, req.Query, req.Limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) checkMemoryScope(c *gin.Context, memoryID string) error {
	principal := auth.PrincipalFrom(c.Request.Context())
	if principal == nil {
		return domain.ErrUnauthorized
	}
	if !principal.CanAccessMemory(memoryID) {
		return fmt.Errorf("%w: memory %q is outside the token scope", domain.ErrForbidden, memoryID)
	}
	return nil
}
