// Package auth issues and verifies API tokens. Tokens are opaque random
// strings; only their SHA-256 hash is stored, so a leaked database does not
// leak credentials.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/log"
	"github.com/liliang-cn/graphmem/pkg/store/graph"
)

// Permissions a token can carry.
const (
	PermRead  = "read"
	PermWrite = "write"
	PermAdmin = "admin"
)

// Principal is the authenticated caller, passed explicitly to every tool
// handler.
type Principal struct {
	ClientName  string
	Permissions []string
	// MemoryIDs scopes the principal to specific memories. Empty means all.
	MemoryIDs []string
	// Bootstrap marks the operator key principal.
	Bootstrap bool
	TokenHash string
}

// Can reports whether the principal holds a permission. Admin implies
// everything.
func (p *Principal) Can(permission string) bool {
	for _, perm := range p.Permissions {
		if perm == PermAdmin || perm == permission {
			return true
		}
	}
	return false
}

// CanAccessMemory reports whether the principal may touch the memory.
func (p *Principal) CanAccessMemory(memoryID string) bool {
	if len(p.MemoryIDs) == 0 {
		return true
	}
	for _, id := range p.MemoryIDs {
		if id == memoryID {
			return true
		}
	}
	return false
}

// Manager verifies bearer tokens against the graph-backed token store.
type Manager struct {
	store        *graph.Store
	bootstrapKey string
	logger       *slog.Logger
}

func NewManager(store *graph.Store, bootstrapKey string) *Manager {
	return &Manager{
		store:        store,
		bootstrapKey: bootstrapKey,
		logger:       log.WithModule("auth"),
	}
}

// CreatedToken is the one-time response to token creation. The raw token is
// never shown again.
type CreatedToken struct {
	Token string           `json:"token"`
	Info  domain.TokenInfo `json:"info"`
}

// CreateToken mints a new API token. expiresInDays <= 0 means no expiry.
func (m *Manager) CreateToken(ctx context.Context, clientName, email string, permissions, memoryIDs []string, expiresInDays int) (*CreatedToken, error) {
	if strings.TrimSpace(clientName) == "" {
		return nil, fmt.Errorf("%w: client_name is required", domain.ErrInvalidInput)
	}
	if len(permissions) == 0 {
		permissions = []string{PermRead}
	}
	for _, perm := range permissions {
		switch perm {
		case PermRead, PermWrite, PermAdmin:
		default:
			return nil, fmt.Errorf("%w: unknown permission %q", domain.ErrInvalidInput, perm)
		}
	}

	raw, err := generateToken()
	if err != nil {
		return nil, err
	}

	info := domain.TokenInfo{
		TokenHash:   HashToken(raw),
		ClientName:  clientName,
		Email:       email,
		Permissions: permissions,
		MemoryIDs:   memoryIDs,
		CreatedAt:   time.Now().UTC(),
		IsActive:    true,
	}
	if expiresInDays > 0 {
		expires := info.CreatedAt.AddDate(0, 0, expiresInDays)
		info.ExpiresAt = &expires
	}

	if err := m.store.CreateToken(ctx, info); err != nil {
		return nil, err
	}

	m.logger.Info("token created", "client", clientName,
		"permissions", permissions, "memories", memoryIDs)
	return &CreatedToken{Token: raw, Info: info}, nil
}

// Authenticate resolves a raw bearer token to a principal. The bootstrap key
// short-circuits to a full-admin principal.
func (m *Manager) Authenticate(ctx context.Context, rawToken string) (*Principal, error) {
	if rawToken == "" {
		return nil, fmt.Errorf("%w: missing bearer token", domain.ErrUnauthorized)
	}

	if subtle.ConstantTimeCompare([]byte(rawToken), []byte(m.bootstrapKey)) == 1 {
		return &Principal{
			ClientName:  "bootstrap",
			Permissions: []string{PermAdmin},
			Bootstrap:   true,
		}, nil
	}

	info, err := m.store.GetTokenByHash(ctx, HashToken(rawToken))
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return nil, fmt.Errorf("%w: unknown token", domain.ErrUnauthorized)
		}
		return nil, err
	}
	if !info.IsActive {
		return nil, fmt.Errorf("%w: token revoked", domain.ErrUnauthorized)
	}
	if info.ExpiresAt != nil && time.Now().After(*info.ExpiresAt) {
		return nil, fmt.Errorf("%w: token expired", domain.ErrUnauthorized)
	}

	return &Principal{
		ClientName:  info.ClientName,
		Permissions: info.Permissions,
		MemoryIDs:   info.MemoryIDs,
		TokenHash:   info.TokenHash,
	}, nil
}

// ListTokens returns all token records, hashes truncated for display.
func (m *Manager) ListTokens(ctx context.Context) ([]domain.TokenInfo, error) {
	return m.store.ListTokens(ctx)
}

// RevokeByPrefix revokes the single token whose hash starts with the prefix.
// An ambiguous prefix is rejected.
func (m *Manager) RevokeByPrefix(ctx context.Context, hashPrefix string) (*domain.TokenInfo, error) {
	if len(hashPrefix) < 8 {
		return nil, fmt.Errorf("%w: hash prefix must be at least 8 characters", domain.ErrInvalidInput)
	}
	match, err := m.findByPrefix(ctx, hashPrefix)
	if err != nil {
		return nil, err
	}
	if err := m.store.RevokeToken(ctx, match.TokenHash); err != nil {
		return nil, err
	}
	m.logger.Info("token revoked", "client", match.ClientName, "hash_prefix", hashPrefix)
	match.IsActive = false
	return match, nil
}

// UpdateMemories changes the memory scope of the token matching the prefix.
// Action is "set" (default), "add" or "remove". An empty resulting scope
// means unrestricted access.
func (m *Manager) UpdateMemories(ctx context.Context, hashPrefix, action string, memoryIDs []string) (*domain.TokenInfo, error) {
	if len(hashPrefix) < 8 {
		return nil, fmt.Errorf("%w: hash prefix must be at least 8 characters", domain.ErrInvalidInput)
	}
	match, err := m.findByPrefix(ctx, hashPrefix)
	if err != nil {
		return nil, err
	}

	next, err := applyScopeAction(match.MemoryIDs, action, memoryIDs)
	if err != nil {
		return nil, err
	}
	if err := m.store.UpdateTokenMemories(ctx, match.TokenHash, next); err != nil {
		return nil, err
	}
	m.logger.Info("token scope updated", "client", match.ClientName,
		"action", action, "memories", len(next))
	match.MemoryIDs = next
	return match, nil
}

func applyScopeAction(current []string, action string, memoryIDs []string) ([]string, error) {
	switch action {
	case "", "set":
		return memoryIDs, nil
	case "add":
		seen := make(map[string]bool, len(current))
		next := append([]string(nil), current...)
		for _, id := range current {
			seen[id] = true
		}
		for _, id := range memoryIDs {
			if !seen[id] {
				next = append(next, id)
				seen[id] = true
			}
		}
		return next, nil
	case "remove":
		drop := make(map[string]bool, len(memoryIDs))
		for _, id := range memoryIDs {
			drop[id] = true
		}
		var next []string
		for _, id := range current {
			if !drop[id] {
				next = append(next, id)
			}
		}
		return next, nil
	default:
		return nil, fmt.Errorf("%w: unknown action %q, want set, add or remove",
			domain.ErrInvalidInput, action)
	}
}

func (m *Manager) findByPrefix(ctx context.Context, hashPrefix string) (*domain.TokenInfo, error) {
	tokens, err := m.store.ListTokens(ctx)
	if err != nil {
		return nil, err
	}
	var match *domain.TokenInfo
	for i := range tokens {
		if strings.HasPrefix(tokens[i].TokenHash, hashPrefix) {
			if match != nil {
				return nil, fmt.Errorf("%w: hash prefix matches several tokens", domain.ErrConflict)
			}
			match = &tokens[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: token with prefix %q", domain.ErrNotFound, hashPrefix)
	}
	return match, nil
}

// generateToken returns a 43-character URL-safe random token.
func generateToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("token generation failed: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashToken is the stored form of a raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
