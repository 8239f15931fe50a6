package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/liliang-cn/graphmem/pkg/config"
	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/log"
	"github.com/liliang-cn/graphmem/pkg/store/graph"
)

func testEngine(threshold float64) *Engine {
	return &Engine{
		cfg:    config.RAGConfig{ScoreThreshold: threshold, ChunkLimit: 8, SearchLimit: 10},
		logger: log.WithModule("search"),
	}
}

func TestApplyThreshold(t *testing.T) {
	hits := []domain.ChunkHit{
		{Chunk: domain.Chunk{Text: "a"}, Score: 0.91},
		{Chunk: domain.Chunk{Text: "b"}, Score: 0.58},
		{Chunk: domain.Chunk{Text: "c"}, Score: 0.40},
	}

	kept := testEngine(0.58).applyThreshold(hits)

	assert.Len(t, kept, 2)
	assert.Equal(t, "a", kept[0].Chunk.Text)
	assert.Equal(t, "b", kept[1].Chunk.Text)
}

func TestSourceDocsUnion(t *testing.T) {
	entities := []graph.ScoredEntity{
		{Name: "A", SourceDocs: []string{"d1", "d2"}},
		{Name: "B", SourceDocs: []string{"d2", "d3"}},
		{Name: "C"},
	}

	docs := sourceDocs(entities)
	assert.ElementsMatch(t, []string{"d1", "d2", "d3"}, docs)
}

func TestBuildAnswerPromptCitesExcerpts(t *testing.T) {
	result := &QueryResult{
		Entities: []graph.ScoredEntity{{Name: "Clause 12", Type: "Clause", Description: "réversibilité"}},
		Chunks: []domain.ChunkHit{
			{Chunk: domain.Chunk{Text: "Le prestataire restitue les données.", Filename: "contrat.md"}, Score: 0.88},
		},
	}

	prompt := buildAnswerPrompt("Qui restitue les données ?", result)

	assert.Contains(t, prompt, "Qui restitue les données ?")
	assert.Contains(t, prompt, "Clause 12 (Clause): réversibilité")
	assert.Contains(t, prompt, "[1] (file: contrat.md")
	assert.Contains(t, prompt, "do not contain the answer")
}

func TestSourceFilenamesDeduplicates(t *testing.T) {
	hits := []domain.ChunkHit{
		{Chunk: domain.Chunk{Filename: "a.md"}},
		{Chunk: domain.Chunk{Filename: "b.md"}},
		{Chunk: domain.Chunk{Filename: "a.md"}},
	}

	files := sourceFilenames(hits)
	assert.Equal(t, []string{"a.md", "b.md"}, files)
}

func TestDedupePreservesOrder(t *testing.T) {
	out := dedupe([]string{"b", "a", "b", "c", "a"})
	assert.Equal(t, []string{"b", "a", "c"}, out)
}

func TestAnswerPromptEndsWithInstructions(t *testing.T) {
	prompt := buildAnswerPrompt("q", &QueryResult{Chunks: []domain.ChunkHit{{Chunk: domain.Chunk{Text: "x"}}}})
	assert.True(t, strings.HasSuffix(strings.TrimSpace(prompt), "and stop."))
}

func TestEntityNames(t *testing.T) {
	names := entityNames([]graph.ScoredEntity{
		{Name: "Cloud Temple"},
		{Name: "Acme"},
	})
	assert.Equal(t, []string{"Cloud Temple", "Acme"}, names)
	assert.Empty(t, entityNames(nil))
}
