package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/ontology"
)

func TestResolveOntologyEmptyNameMeansDefault(t *testing.T) {
	registry, err := ontology.Load(t.TempDir())
	require.NoError(t, err)

	ont, err := resolveOntology(registry, "")
	require.NoError(t, err)
	assert.Equal(t, "default", ont.Name)
}

func TestResolveOntologyUnknownNameFails(t *testing.T) {
	registry, err := ontology.Load(t.TempDir())
	require.NoError(t, err)

	_, err = resolveOntology(registry, "maritime-law")
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
	assert.Contains(t, err.Error(), "maritime-law")
}
