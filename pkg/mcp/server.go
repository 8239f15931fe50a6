package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/liliang-cn/graphmem/pkg/auth"
	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/log"
)

const serverVersion = "1.0.0"

// Server exposes the App's operations as MCP tools over SSE.
type Server struct {
	app    *App
	server *mcp.Server
	logger *slog.Logger
}

func NewServer(app *App) *Server {
	s := &Server{
		app: app,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "graphmem",
			Version: serverVersion,
		}, nil),
		logger: log.WithModule("mcp"),
	}
	s.registerMemoryTools()
	s.registerRetrievalTools()
	s.registerBackupTools()
	s.registerAdminTools()
	return s
}

// Handler returns the SSE transport wrapped in bearer authentication. Every
// MCP request carries the authenticated principal in its context.
func (s *Server) Handler() http.Handler {
	sse := mcp.NewSSEHandler(func(*http.Request) *mcp.Server { return s.server }, nil)
	return s.authenticate(sse)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		principal, err := s.app.Auth.Authenticate(r.Context(), token)
		if err != nil {
			s.logger.Warn("authentication rejected", "path", r.URL.Path, "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

// requirePermission resolves the principal from the context and checks the
// tool's permission level.
func requirePermission(ctx context.Context, permission string) (*auth.Principal, error) {
	principal := auth.PrincipalFrom(ctx)
	if principal == nil {
		return nil, domain.ErrUnauthorized
	}
	if !principal.Can(permission) {
		return nil, fmt.Errorf("%w: %s permission required", domain.ErrForbidden, permission)
	}
	return principal, nil
}

// requireMemoryAccess additionally checks the principal's memory scope.
func requireMemoryAccess(ctx context.Context, permission, memoryID string) (*auth.Principal, error) {
	principal, err := requirePermission(ctx, permission)
	if err != nil {
		return nil, err
	}
	if memoryID == "" {
		return nil, fmt.Errorf("%w: memory_id is required", domain.ErrInvalidInput)
	}
	if !principal.CanAccessMemory(memoryID) {
		return nil, fmt.Errorf("%w: memory %q is outside the token scope",
			domain.ErrForbidden, memoryID)
	}
	return principal, nil
}

// phaseProgress maps pipeline phases to a coarse completion fraction for
// clients that render a progress bar.
var phaseProgress = map[string]float64{
	"decode":     0.1,
	"upload":     0.2,
	"extraction": 0.4,
	"graph":      0.6,
	"embedding":  0.8,
	"done":       1.0,
}

// progressSink bridges pipeline phase notifications into the server log and,
// when the request carries a progress token, pushes them to the client as MCP
// progress notifications. The sink never blocks the pipeline.
func (s *Server) progressSink(ctx context.Context, req *mcp.CallToolRequest) domain.ProgressSink {
	logger := s.logger
	session := req.Session
	var token any
	if req.Params != nil {
		token = req.Params.GetProgressToken()
	}
	return domain.ProgressFunc(func(phase, message string) {
		logger.Info("ingest progress", "phase", phase, "message", message)
		if session == nil || token == nil {
			return
		}
		err := session.NotifyProgress(ctx, &mcp.ProgressNotificationParams{
			ProgressToken: token,
			Progress:      phaseProgress[phase],
			Total:         1,
			Message:       phase + ": " + message,
		})
		if err != nil {
			logger.Debug("progress notification failed", "phase", phase, "error", err)
		}
	})
}

// textResult renders a tool payload as indented JSON content.
func textResult(v any) *mcp.CallToolResult {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		raw = []byte(fmt.Sprintf("%+v", v))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
	}
}
