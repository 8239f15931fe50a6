package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/graphmem/pkg/domain"
)

func TestHashTokenDeterministic(t *testing.T) {
	h1 := HashToken("secret-token")
	h2 := HashToken("secret-token")

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.NotEqual(t, h1, HashToken("other-token"))
}

func TestGenerateTokenUniqueAndURLSafe(t *testing.T) {
	t1, err := generateToken()
	require.NoError(t, err)
	t2, err := generateToken()
	require.NoError(t, err)

	assert.NotEqual(t, t1, t2)
	assert.Len(t, t1, 43)
	assert.NotContains(t, t1, "+")
	assert.NotContains(t, t1, "/")
	assert.NotContains(t, t1, "=")
}

func TestPrincipalCan(t *testing.T) {
	reader := &Principal{Permissions: []string{PermRead}}
	assert.True(t, reader.Can(PermRead))
	assert.False(t, reader.Can(PermWrite))
	assert.False(t, reader.Can(PermAdmin))

	admin := &Principal{Permissions: []string{PermAdmin}}
	assert.True(t, admin.Can(PermRead))
	assert.True(t, admin.Can(PermWrite))
	assert.True(t, admin.Can(PermAdmin))
}

func TestPrincipalMemoryScope(t *testing.T) {
	unscoped := &Principal{}
	assert.True(t, unscoped.CanAccessMemory("any"))

	scoped := &Principal{MemoryIDs: []string{"legal", "infra"}}
	assert.True(t, scoped.CanAccessMemory("legal"))
	assert.False(t, scoped.CanAccessMemory("hr"))
}

func TestApplyScopeAction(t *testing.T) {
	current := []string{"legal", "hr"}

	next, err := applyScopeAction(current, "set", []string{"finance"})
	require.NoError(t, err)
	assert.Equal(t, []string{"finance"}, next)

	next, err = applyScopeAction(current, "", []string{"finance"})
	require.NoError(t, err)
	assert.Equal(t, []string{"finance"}, next)

	next, err = applyScopeAction(current, "add", []string{"hr", "finance"})
	require.NoError(t, err)
	assert.Equal(t, []string{"legal", "hr", "finance"}, next)

	next, err = applyScopeAction(current, "remove", []string{"hr"})
	require.NoError(t, err)
	assert.Equal(t, []string{"legal"}, next)

	next, err = applyScopeAction(current, "remove", []string{"legal", "hr"})
	require.NoError(t, err)
	assert.Empty(t, next)

	_, err = applyScopeAction(current, "replace", nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
}
