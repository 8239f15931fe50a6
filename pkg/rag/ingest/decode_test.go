package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/graphmem/pkg/domain"
)

func TestDecodeTextPlain(t *testing.T) {
	text, err := DecodeText("note.txt", []byte("du texte simple"))
	require.NoError(t, err)
	assert.Equal(t, "du texte simple", text)
}

func TestDecodeTextMarkdownPassthrough(t *testing.T) {
	md := "# Titre\n\nParagraphe."
	text, err := DecodeText("doc.md", []byte(md))
	require.NoError(t, err)
	assert.Equal(t, md, text)
}

func TestDecodeTextRejectsBinary(t *testing.T) {
	_, err := DecodeText("blob.bin", []byte{0xff, 0xfe, 0x00, 0x81})
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
}

func TestDecodeTextHTMLKeepsHeadings(t *testing.T) {
	html := "<html><body><h2>Installation</h2><p>Lancer make install.</p></body></html>"
	text, err := DecodeText("page.html", []byte(html))
	require.NoError(t, err)
	assert.Contains(t, text, "Installation")
	assert.Contains(t, text, "make install")
	assert.NotContains(t, text, "<h2>")
}

func TestDecodeTextInvalidPDF(t *testing.T) {
	_, err := DecodeText("broken.pdf", []byte("not a pdf at all"))
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
}
