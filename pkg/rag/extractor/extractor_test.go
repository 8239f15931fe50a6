package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/ontology"
)

func testOntology(t *testing.T) *ontology.Ontology {
	t.Helper()
	registry, err := ontology.Load(t.TempDir())
	require.NoError(t, err)
	return registry.Get("default")
}

func newTestService() *Service {
	return New(nil, 25000, 6000, 60000)
}

func TestParseExtractionCleanJSON(t *testing.T) {
	content := `{
		"entities": [
			{"name": "Acme Corp", "type": "Organization", "description": "Le prestataire"},
			{"name": "Jean Dupont", "type": "person", "description": ""}
		],
		"relations": [
			{"from_entity": "Jean Dupont", "to_entity": "Acme Corp", "type": "belongs_to", "description": "salarié"}
		],
		"summary": "Un contrat de service.",
		"key_topics": ["contrat", "service"]
	}`

	result := newTestService().parseExtraction(testOntology(t), content)

	require.Len(t, result.Entities, 2)
	assert.Equal(t, "Organization", result.Entities[0].Type)
	assert.Equal(t, "Person", result.Entities[1].Type)
	require.Len(t, result.Relations, 1)
	assert.Equal(t, "BELONGS_TO", result.Relations[0].Type)
	assert.Equal(t, "Un contrat de service.", result.Summary)
}

func TestParseExtractionFencedJSON(t *testing.T) {
	content := "```json\n" + `{"entities": [{"name": "Acme", "type": "Organization"}], "relations": []}` + "\n```"

	result := newTestService().parseExtraction(testOntology(t), content)

	require.Len(t, result.Entities, 1)
	assert.Equal(t, "Acme", result.Entities[0].Name)
}

func TestParseExtractionGarbageYieldsEmptyResult(t *testing.T) {
	result := newTestService().parseExtraction(testOntology(t), "désolé, je ne peux pas répondre en JSON")

	assert.Empty(t, result.Entities)
	assert.Empty(t, result.Relations)
}

func TestParseExtractionUnknownTypeFallsBackToOther(t *testing.T) {
	content := `{"entities": [{"name": "X", "type": "Spaceship"}]}`

	result := newTestService().parseExtraction(testOntology(t), content)

	require.Len(t, result.Entities, 1)
	assert.Equal(t, "Other", result.Entities[0].Type)
}

func TestParseExtractionSkipsNamelessEntities(t *testing.T) {
	content := `{"entities": [{"name": "  ", "type": "Person"}, {"name": "Valide", "type": "Concept"}]}`

	result := newTestService().parseExtraction(testOntology(t), content)

	require.Len(t, result.Entities, 1)
	assert.Equal(t, "Valide", result.Entities[0].Name)
}

func TestSplitWindowsShortTextSingleWindow(t *testing.T) {
	windows := splitWindows("court texte", 25000)
	require.Len(t, windows, 1)
}

func TestSplitWindowsPrefersParagraphBoundary(t *testing.T) {
	para := strings.Repeat("une phrase qui remplit le paragraphe. ", 20)
	text := para + "\n\n" + para + "\n\n" + para

	windows := splitWindows(text, 1000)

	require.Greater(t, len(windows), 1)
	for _, w := range windows {
		assert.LessOrEqual(t, len(w), 1000)
		assert.NotEmpty(t, strings.TrimSpace(w))
	}
}

func TestMergeResultsDeduplicatesByName(t *testing.T) {
	dst := &domain.ExtractionResult{
		Entities: []domain.ExtractedEntity{{Name: "Acme", Type: "Other"}},
	}
	src := &domain.ExtractionResult{
		Entities: []domain.ExtractedEntity{
			{Name: "ACME", Type: "Organization", Description: "fournisseur"},
			{Name: "Jean", Type: "Person"},
		},
	}

	mergeResults(dst, src)

	require.Len(t, dst.Entities, 2)
	assert.Equal(t, "Organization", dst.Entities[0].Type)
	assert.Equal(t, "fournisseur", dst.Entities[0].Description)
}

func TestMergeResultsDeduplicatesRelations(t *testing.T) {
	rel := domain.ExtractedRelation{FromEntity: "A", ToEntity: "B", Type: "RELATED_TO"}
	dst := &domain.ExtractionResult{Relations: []domain.ExtractedRelation{rel}}
	src := &domain.ExtractionResult{Relations: []domain.ExtractedRelation{rel, {FromEntity: "B", ToEntity: "C", Type: "CONTAINS"}}}

	mergeResults(dst, src)

	assert.Len(t, dst.Relations, 2)
}

func TestCumulativeContextRendersEntitiesAndRelations(t *testing.T) {
	cc := newCumulativeContext(6000)
	cc.add(&domain.ExtractionResult{
		Entities: []domain.ExtractedEntity{{Name: "Acme", Type: "Organization"}},
		Relations: []domain.ExtractedRelation{
			{FromEntity: "Jean", ToEntity: "Acme", Type: "BELONGS_TO"},
		},
	})

	rendered := cc.render()
	assert.Contains(t, rendered, "- Acme (Organization)")
	assert.Contains(t, rendered, "Jean -[BELONGS_TO]-> Acme")
}

func TestCumulativeContextEvictsLowestMentionFirst(t *testing.T) {
	cc := newCumulativeContext(200)

	frequent := &domain.ExtractionResult{
		Entities: []domain.ExtractedEntity{{Name: "Entité Fréquente", Type: "Concept"}},
	}
	for i := 0; i < 5; i++ {
		cc.add(frequent)
	}
	var rare domain.ExtractionResult
	for i := 0; i < 10; i++ {
		rare.Entities = append(rare.Entities, domain.ExtractedEntity{
			Name: fmt.Sprintf("Entité Rare Numéro %02d", i),
			Type: "Concept",
		})
	}
	cc.add(&rare)

	rendered := cc.render()
	assert.LessOrEqual(t, len(rendered), 200)
	assert.Contains(t, rendered, "Entité Fréquente")
}

func TestCumulativeContextEvictsOldestRelationsWhenOverBudget(t *testing.T) {
	cc := newCumulativeContext(300)

	var result domain.ExtractionResult
	for i := 0; i < 12; i++ {
		result.Relations = append(result.Relations, domain.ExtractedRelation{
			FromEntity: fmt.Sprintf("Partie Contractante %02d", i),
			ToEntity:   "Contrat Cadre de Services",
			Type:       "REFERENCES",
		})
	}
	cc.add(&result)

	rendered := cc.render()
	assert.LessOrEqual(t, len(rendered), 300)
	assert.NotContains(t, rendered, "Partie Contractante 00")
	assert.Contains(t, rendered, "Partie Contractante 11")
}

func TestCumulativeContextEmptyRendersEmpty(t *testing.T) {
	assert.Equal(t, "", newCumulativeContext(100).render())
}

// scriptedGenerator fails the windows listed in fail and otherwise returns
// one entity named after the call number.
type scriptedGenerator struct {
	calls int
	fail  map[int]bool
}

func (g *scriptedGenerator) Generate(_ context.Context, _, _ string, _ int) (string, error) {
	g.calls++
	if g.fail[g.calls] {
		return "", errors.New("upstream timeout")
	}
	return fmt.Sprintf(`{"entities":[{"name":"Entité %d","type":"Concept"}]}`, g.calls), nil
}

func multiWindowText() string {
	para := strings.Repeat("une phrase qui remplit le paragraphe. ", 20)
	return para + "\n\n" + para + "\n\n" + para
}

func TestExtractDocumentSkipsFailedWindow(t *testing.T) {
	gen := &scriptedGenerator{fail: map[int]bool{2: true}}
	svc := New(gen, 1000, 6000, 60000)

	result, err := svc.ExtractDocument(context.Background(), testOntology(t), multiWindowText(), nil)

	require.NoError(t, err)
	require.GreaterOrEqual(t, gen.calls, 3)
	names := make([]string, 0, len(result.Entities))
	for _, e := range result.Entities {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "Entité 1")
	assert.NotContains(t, names, "Entité 2")
	assert.Contains(t, names, "Entité 3")
}

func TestExtractDocumentFailsWhenEveryWindowFails(t *testing.T) {
	gen := &scriptedGenerator{fail: map[int]bool{1: true, 2: true, 3: true, 4: true, 5: true}}
	svc := New(gen, 1000, 6000, 60000)

	_, err := svc.ExtractDocument(context.Background(), testOntology(t), multiWindowText(), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream timeout")
}
