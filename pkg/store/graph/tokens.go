package graph

import (
	"context"
	"time"

	"github.com/liliang-cn/graphmem/pkg/domain"
)

// CreateToken stores a token record. Only the SHA-256 hash is persisted; the
// raw token never touches the graph.
func (s *Store) CreateToken(ctx context.Context, token domain.TokenInfo) error {
	expiresAt := ""
	if token.ExpiresAt != nil {
		expiresAt = formatTime(*token.ExpiresAt)
	}
	_, err := s.write(ctx, `
		CREATE (t:Token {
			hash: $hash,
			client_name: $client_name,
			email: $email,
			permissions: $permissions,
			memory_ids: $memory_ids,
			created_at: $created_at,
			expires_at: $expires_at,
			is_active: true
		})`,
		map[string]any{
			"hash":        token.TokenHash,
			"client_name": token.ClientName,
			"email":       token.Email,
			"permissions": token.Permissions,
			"memory_ids":  token.MemoryIDs,
			"created_at":  formatTime(token.CreatedAt),
			"expires_at":  expiresAt,
		})
	return err
}

// GetTokenByHash returns the token record for a hash, or not_found.
func (s *Store) GetTokenByHash(ctx context.Context, hash string) (*domain.TokenInfo, error) {
	records, err := s.read(ctx, `MATCH (t:Token {hash: $hash}) RETURN t`,
		map[string]any{"hash": hash})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, notFound("token", hash[:minInt(8, len(hash))])
	}
	props, _ := nodeProps(records[0], "t")
	return tokenFromProps(props), nil
}

// ListTokens returns every token record, newest first.
func (s *Store) ListTokens(ctx context.Context) ([]domain.TokenInfo, error) {
	records, err := s.read(ctx, `MATCH (t:Token) RETURN t ORDER BY t.created_at DESC`, nil)
	if err != nil {
		return nil, err
	}
	tokens := make([]domain.TokenInfo, 0, len(records))
	for _, record := range records {
		if props, ok := nodeProps(record, "t"); ok {
			tokens = append(tokens, *tokenFromProps(props))
		}
	}
	return tokens, nil
}

// RevokeToken deactivates a token. Revocation is permanent.
func (s *Store) RevokeToken(ctx context.Context, hash string) error {
	records, err := s.write(ctx, `
		MATCH (t:Token {hash: $hash})
		SET t.is_active = false, t.revoked_at = $revoked_at
		RETURN t.hash AS hash`,
		map[string]any{"hash": hash, "revoked_at": formatTime(time.Now())})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return notFound("token", hash[:minInt(8, len(hash))])
	}
	return nil
}

// UpdateTokenMemories replaces the memory scope list of an active token.
func (s *Store) UpdateTokenMemories(ctx context.Context, hash string, memoryIDs []string) error {
	if memoryIDs == nil {
		memoryIDs = []string{}
	}
	records, err := s.write(ctx, `
		MATCH (t:Token {hash: $hash})
		SET t.memory_ids = $memory_ids
		RETURN t.hash AS hash`,
		map[string]any{"hash": hash, "memory_ids": memoryIDs})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return notFound("token", hash[:minInt(8, len(hash))])
	}
	return nil
}

// StripTokenMemory removes a deleted memory id from every token scope. A
// token scoped only to the deleted memory is revoked outright: an empty
// memory_ids list means access to every memory, and a memory deletion must
// never widen a token's scope.
func (s *Store) StripTokenMemory(ctx context.Context, memoryID string) error {
	_, err := s.write(ctx, `
		MATCH (t:Token)
		WHERE $memory_id IN t.memory_ids
		SET t.memory_ids = [id IN t.memory_ids WHERE id <> $memory_id]
		WITH t
		WHERE size(t.memory_ids) = 0
		SET t.is_active = false, t.revoked_at = $revoked_at`,
		map[string]any{"memory_id": memoryID, "revoked_at": formatTime(time.Now())})
	return err
}

func tokenFromProps(props map[string]any) *domain.TokenInfo {
	active, _ := props["is_active"].(bool)
	return &domain.TokenInfo{
		TokenHash:   propString(props, "hash"),
		ClientName:  propString(props, "client_name"),
		Email:       propString(props, "email"),
		Permissions: propStrings(props, "permissions"),
		MemoryIDs:   propStrings(props, "memory_ids"),
		CreatedAt:   propTime(props, "created_at"),
		ExpiresAt:   propTimePtr(props, "expires_at"),
		RevokedAt:   propTimePtr(props, "revoked_at"),
		IsActive:    active,
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
