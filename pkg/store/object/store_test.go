package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentKey(t *testing.T) {
	key := DocumentKey("legal", "doc-123")
	assert.Equal(t, "memories/legal/documents/doc-123", key)
}

func TestParseKey(t *testing.T) {
	s := &Store{bucket: "graphmem"}

	key, err := s.ParseKey("s3://graphmem/memories/legal/documents/d1")
	require.NoError(t, err)
	assert.Equal(t, "memories/legal/documents/d1", key)

	key, err = s.ParseKey("memories/legal/documents/d1")
	require.NoError(t, err)
	assert.Equal(t, "memories/legal/documents/d1", key)

	_, err = s.ParseKey("s3://bucket-only")
	require.Error(t, err)
}

func TestHashBytesDeterministic(t *testing.T) {
	a := HashBytes([]byte("same bytes"))
	b := HashBytes([]byte("same bytes"))
	c := HashBytes([]byte("other bytes"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestGuessContentType(t *testing.T) {
	cases := map[string]string{
		"contract.pdf": "application/pdf",
		"notes.md":     "text/markdown",
		"page.HTML":    "text/html",
		"data.csv":     "text/csv",
		"blob.bin":     "application/octet-stream",
	}
	for filename, want := range cases {
		assert.Equal(t, want, GuessContentType(filename), filename)
	}
}
