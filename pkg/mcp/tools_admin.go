package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/liliang-cn/graphmem/pkg/auth"
	"github.com/liliang-cn/graphmem/pkg/domain"
)

func (s *Server) registerAdminTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "admin_create_token",
		Description: "Mint an API token; the raw token is only returned once",
	}, s.handleAdminCreateToken)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "admin_list_tokens",
		Description: "List all tokens (hashes only, never raw values)",
	}, s.handleAdminListTokens)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "admin_revoke_token",
		Description: "Revoke the token matching a hash prefix",
	}, s.handleAdminRevokeToken)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "admin_update_token",
		Description: "Change a token's memory scope (set, add or remove)",
	}, s.handleAdminUpdateToken)
}

type AdminCreateTokenArgs struct {
	ClientName    string   `json:"client_name" jsonschema:"Name of the client the token is for"`
	Email         string   `json:"email,omitempty" jsonschema:"Contact email"`
	Permissions   []string `json:"permissions,omitempty" jsonschema:"Subset of read, write, admin; defaults to read"`
	MemoryIDs     []string `json:"memory_ids,omitempty" jsonschema:"Memories the token may access; empty means all"`
	ExpiresInDays int      `json:"expires_in_days,omitempty" jsonschema:"Days until expiry; 0 means no expiry"`
}

func (s *Server) handleAdminCreateToken(ctx context.Context, req *mcp.CallToolRequest, args AdminCreateTokenArgs) (*mcp.CallToolResult, auth.CreatedToken, error) {
	if _, err := requirePermission(ctx, auth.PermAdmin); err != nil {
		return nil, auth.CreatedToken{}, err
	}

	created, err := s.app.Auth.CreateToken(ctx, args.ClientName, args.Email,
		args.Permissions, args.MemoryIDs, args.ExpiresInDays)
	if err != nil {
		return nil, auth.CreatedToken{}, err
	}
	return textResult(created), *created, nil
}

type AdminListTokensArgs struct{}

type AdminListTokensResult struct {
	Tokens []domain.TokenInfo `json:"tokens"`
}

func (s *Server) handleAdminListTokens(ctx context.Context, req *mcp.CallToolRequest, args AdminListTokensArgs) (*mcp.CallToolResult, AdminListTokensResult, error) {
	if _, err := requirePermission(ctx, auth.PermAdmin); err != nil {
		return nil, AdminListTokensResult{}, err
	}

	tokens, err := s.app.Auth.ListTokens(ctx)
	if err != nil {
		return nil, AdminListTokensResult{}, err
	}

	result := AdminListTokensResult{Tokens: tokens}
	return textResult(result), result, nil
}

type AdminRevokeTokenArgs struct {
	HashPrefix string `json:"hash_prefix" jsonschema:"At least 8 leading characters of the token hash"`
}

func (s *Server) handleAdminRevokeToken(ctx context.Context, req *mcp.CallToolRequest, args AdminRevokeTokenArgs) (*mcp.CallToolResult, domain.TokenInfo, error) {
	if _, err := requirePermission(ctx, auth.PermAdmin); err != nil {
		return nil, domain.TokenInfo{}, err
	}

	revoked, err := s.app.Auth.RevokeByPrefix(ctx, args.HashPrefix)
	if err != nil {
		return nil, domain.TokenInfo{}, err
	}
	return textResult(revoked), *revoked, nil
}

type AdminUpdateTokenArgs struct {
	HashPrefix string   `json:"hash_prefix" jsonschema:"At least 8 leading characters of the token hash"`
	Action     string   `json:"action,omitempty" jsonschema:"set, add or remove; defaults to set"`
	MemoryIDs  []string `json:"memory_ids" jsonschema:"Memory ids the action applies to"`
}

func (s *Server) handleAdminUpdateToken(ctx context.Context, req *mcp.CallToolRequest, args AdminUpdateTokenArgs) (*mcp.CallToolResult, domain.TokenInfo, error) {
	if _, err := requirePermission(ctx, auth.PermAdmin); err != nil {
		return nil, domain.TokenInfo{}, err
	}

	updated, err := s.app.Auth.UpdateMemories(ctx, args.HashPrefix, args.Action, args.MemoryIDs)
	if err != nil {
		return nil, domain.TokenInfo{}, err
	}
	return textResult(updated), *updated, nil
}
