package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeDropsStopWordsAndShortTokens(t *testing.T) {
	tokens := Tokenize("quelle est la clause de réversibilité")

	assert.Equal(t, []string{"clause", "réversibilité"}, tokens.Raw)
	assert.Equal(t, []string{"clause", "reversibilite"}, tokens.Normalized)
	assert.Empty(t, tokens.Compounds)
}

func TestTokenizeKeepsTwoLetterTokens(t *testing.T) {
	tokens := Tokenize("adresse ip du serveur")

	assert.Contains(t, tokens.Raw, "ip")
	assert.NotContains(t, tokens.Raw, "du")
}

func TestTokenizeEnglishStopWords(t *testing.T) {
	tokens := Tokenize("what is the termination clause")

	assert.Equal(t, []string{"termination", "clause"}, tokens.Raw)
}

func TestTokenizeDetectsCompoundIdentifiers(t *testing.T) {
	tokens := Tokenize("état de vm-db-prod-01")

	require.Contains(t, tokens.Compounds, "vm-db-prod-01")
	// Sub-tokens survive even below the length cutoff.
	assert.Contains(t, tokens.Raw, "vm")
	assert.Contains(t, tokens.Raw, "db")
	assert.Contains(t, tokens.Raw, "01")
	// The identifier becomes a quoted fulltext phrase.
	assert.Contains(t, tokens.Fulltext, `"vm db prod 01"`)
}

func TestTokenizeDetectsIPAddresses(t *testing.T) {
	tokens := Tokenize("qui utilise 10.100.2.10 en production")

	assert.Contains(t, tokens.Compounds, "10.100.2.10")
}

func TestTokenizeExpandsIdentifierRanges(t *testing.T) {
	tokens := Tokenize("vm-db-prod-01 à vm-db-prod-04")

	assert.Contains(t, tokens.Compounds, "vm-db-prod-01")
	assert.Contains(t, tokens.Compounds, "vm-db-prod-02")
	assert.Contains(t, tokens.Compounds, "vm-db-prod-03")
	assert.Contains(t, tokens.Compounds, "vm-db-prod-04")
}

func TestTokenizeRangeRequiresSamePrefix(t *testing.T) {
	tokens := Tokenize("vm-db-prod-01 à vm-web-prod-04")

	assert.NotContains(t, tokens.Compounds, "vm-db-prod-02")
}

func TestTokenizeEmptyQuery(t *testing.T) {
	assert.True(t, Tokenize("de la le et").Empty())
	assert.True(t, Tokenize("").Empty())
}

func TestFoldAccents(t *testing.T) {
	assert.Equal(t, "reversibilite", foldAccents("réversibilité"))
	assert.Equal(t, "eleve", foldAccents("élève"))
	assert.Equal(t, "garcon", foldAccents("garçon"))
	assert.Equal(t, "plain", foldAccents("plain"))
}
