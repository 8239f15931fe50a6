package mcp

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/graphmem/pkg/auth"
	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/log"
)

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/mcp", nil)
	req.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", bearerToken(req))

	req.Header.Set("Authorization", "Basic abc123")
	assert.Empty(t, bearerToken(req))

	req.Header.Del("Authorization")
	assert.Empty(t, bearerToken(req))
}

func TestRequirePermissionWithoutPrincipal(t *testing.T) {
	_, err := requirePermission(context.Background(), auth.PermRead)
	require.Error(t, err)
	assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))
}

func TestRequirePermissionDenied(t *testing.T) {
	ctx := auth.WithPrincipal(context.Background(), &auth.Principal{
		ClientName:  "reader",
		Permissions: []string{auth.PermRead},
	})

	_, err := requirePermission(ctx, auth.PermAdmin)
	require.Error(t, err)
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))

	principal, err := requirePermission(ctx, auth.PermRead)
	require.NoError(t, err)
	assert.Equal(t, "reader", principal.ClientName)
}

func TestRequireMemoryAccessScope(t *testing.T) {
	ctx := auth.WithPrincipal(context.Background(), &auth.Principal{
		ClientName:  "scoped",
		Permissions: []string{auth.PermWrite},
		MemoryIDs:   []string{"legal"},
	})

	_, err := requireMemoryAccess(ctx, auth.PermWrite, "legal")
	require.NoError(t, err)

	_, err = requireMemoryAccess(ctx, auth.PermWrite, "other")
	require.Error(t, err)
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))

	_, err = requireMemoryAccess(ctx, auth.PermWrite, "")
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
}

func TestSplitBackupID(t *testing.T) {
	memoryID, timestamp, err := splitBackupID("legal/20260101T000000Z")
	require.NoError(t, err)
	assert.Equal(t, "legal", memoryID)
	assert.Equal(t, "20260101T000000Z", timestamp)

	_, _, err = splitBackupID("no-slash")
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))

	_, _, err = splitBackupID("/missing-memory")
	require.Error(t, err)
}

func TestProgressSinkWithoutTokenOnlyLogs(t *testing.T) {
	s := &Server{logger: log.WithModule("mcp-test")}
	sink := s.progressSink(context.Background(), &mcp.CallToolRequest{Params: &mcp.CallToolParamsRaw{}})

	// No session and no progress token: phases are logged and nothing is
	// pushed to a client.
	sink.Progress("decode", "contrat.md")
	sink.Progress("done", "3 entities")
}

func TestPhaseProgressEndsAtCompletion(t *testing.T) {
	for _, phase := range []string{"decode", "upload", "extraction", "graph", "embedding", "done"} {
		fraction, ok := phaseProgress[phase]
		require.True(t, ok, phase)
		assert.Greater(t, fraction, 0.0)
		assert.LessOrEqual(t, fraction, 1.0)
	}
	assert.Equal(t, 1.0, phaseProgress["done"])
}

func TestTextResultRendersJSON(t *testing.T) {
	result := textResult(map[string]int{"count": 3})
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.JSONEq(t, `{"count": 3}`, text.Text)
}

func TestQuestionAnswerArgsAcceptLimit(t *testing.T) {
	var args QuestionAnswerArgs
	raw := `{"memory_id": "legal", "question": "Qui restitue les données ?", "limit": 5}`
	require.NoError(t, json.Unmarshal([]byte(raw), &args))
	assert.Equal(t, 5, args.Limit)
	assert.Equal(t, "legal", args.MemoryID)
}
