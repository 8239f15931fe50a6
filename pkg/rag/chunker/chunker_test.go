package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkEmptyText(t *testing.T) {
	c := New(500, 50)
	assert.Empty(t, c.Chunk("", "empty.txt"))
	assert.Empty(t, c.Chunk("   \n\n  ", "blank.txt"))
}

func TestChunkSmallDocumentSingleChunk(t *testing.T) {
	c := New(500, 50)
	chunks := c.Chunk("Une phrase courte. Une autre phrase.", "note.txt")

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[0].TotalChunks)
	assert.Equal(t, "note.txt", chunks[0].Filename)
}

func TestDetectArticles(t *testing.T) {
	text := "Préambule du contrat.\n\n" +
		"Article 1 : Objet\nLe présent contrat définit les obligations.\n\n" +
		"Article 2 : Durée\nLe contrat est conclu pour trois ans.\n"

	sections := detectSections(text)
	require.Len(t, sections, 3)
	assert.Equal(t, "Préambule", sections[0].title)
	assert.Equal(t, "1", sections[1].articleNumber)
	assert.Equal(t, "2", sections[2].articleNumber)
}

func TestDetectMarkdownHeaders(t *testing.T) {
	text := "Intro libre.\n\n## Installation\nLancer make install.\n\n### Options\nVoir le manuel.\n"

	sections := detectSections(text)
	require.Len(t, sections, 3)
	assert.Equal(t, "Introduction", sections[0].title)
	assert.Equal(t, "Installation", sections[1].title)
	assert.Equal(t, 1, sections[1].level)
	assert.Equal(t, "Options", sections[2].title)
	assert.Equal(t, 2, sections[2].level)
}

func TestDetectParagraphFallback(t *testing.T) {
	text := "Premier paragraphe sans structure.\n\nSecond paragraphe tout aussi plat."

	sections := detectSections(text)
	require.Len(t, sections, 2)
}

func TestArticleChunkCarriesContextPrefix(t *testing.T) {
	text := "Article 12 : Réversibilité\nLe prestataire restitue les données.\n\n" +
		"Article 13 : Résiliation\nChaque partie peut résilier.\n"

	c := New(500, 50)
	chunks := c.Chunk(text, "contrat.md")

	require.Len(t, chunks, 2)
	assert.True(t, strings.HasPrefix(chunks[0].Text, "[Article 12"), "got %q", chunks[0].Text)
	assert.Equal(t, "12", chunks[0].ArticleNumber)
	assert.Equal(t, "13", chunks[1].ArticleNumber)
}

func TestSplitSentencesKeepsListItems(t *testing.T) {
	text := "Les obligations sont les suivantes.\n- première obligation\n- seconde obligation\nFin de la liste."

	sentences := splitSentences(text)
	require.Len(t, sentences, 4)
	assert.Equal(t, "- première obligation", sentences[1])
	assert.Equal(t, "- seconde obligation", sentences[2])
}

func TestLongSectionSplitsWithOverlap(t *testing.T) {
	var b strings.Builder
	b.WriteString("Article 1 : Détail\n")
	for i := 0; i < 80; i++ {
		fmt.Fprintf(&b, "La clause numéro %d précise une obligation contractuelle importante du prestataire. ", i)
	}
	b.WriteString("\n\nArticle 2 : Suite\nCourt.\n")

	c := New(200, 40)
	chunks := c.Chunk(b.String(), "contrat.md")

	require.Greater(t, len(chunks), 3)
	for _, chunk := range chunks {
		// Budget plus the context prefix and joining slack.
		assert.LessOrEqual(t, chunk.TokenEstimate, 260, "chunk %d too large", chunk.Index)
	}

	// Adjacent chunks of the long article share overlap sentences.
	assert.Equal(t, "1", chunks[0].ArticleNumber)
	first := strings.TrimPrefix(chunks[0].Text, "[Article 1] ")
	lastSentence := first[strings.LastIndex(first, "La clause"):]
	assert.Contains(t, chunks[1].Text, lastSentence)
}

func TestChunkerTerminatesOnOversizeSentences(t *testing.T) {
	// One sentence far beyond the chunk budget must still terminate and
	// come out as a single chunk.
	huge := strings.Repeat("mot ", 2000)
	c := New(100, 90)
	chunks := c.Chunk("Titre\n\n"+huge, "gros.txt")
	require.NotEmpty(t, chunks)
}

func TestTotalChunksConsistent(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "## Section %d\nContenu de la section numéro %d avec quelques mots.\n\n", i, i)
	}
	c := New(500, 50)
	chunks := c.Chunk(b.String(), "doc.md")

	require.NotEmpty(t, chunks)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, len(chunks), chunk.TotalChunks)
	}
}
