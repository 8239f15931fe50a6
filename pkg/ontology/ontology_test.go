package ontology

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legalOntologyYAML = `
name: legal
version: "2.1"
description: Contract analysis schema.
context: You analyse French commercial contracts.
entity_types:
  - name: Clause
    description: Contractual clause
    priority: high
    examples: ["Article 15", "Clause de confidentialité"]
  - name: Duration
    description: Duration or notice period
  - name: Organization
    description: Contracting party
relation_types:
  - name: SIGNED_BY
    description: Signature
  - name: HAS_DURATION
    description: Clause duration
extraction_rules:
  max_entities: 25
  max_relations: 35
  special_instructions: Extract every duration verbatim.
`

func writeOntologyDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestLoadRegistry(t *testing.T) {
	dir := writeOntologyDir(t, map[string]string{"legal.yaml": legalOntologyYAML})

	reg, err := Load(dir)
	require.NoError(t, err)

	legal := reg.Get("legal")
	require.NotNil(t, legal)
	assert.Equal(t, "2.1", legal.Version)
	assert.Equal(t, 25, legal.Rules.MaxEntities)

	// Built-in default is always available.
	require.NotNil(t, reg.Get("default"))
	assert.Nil(t, reg.Get("missing"))
}

func TestLoadMalformedFails(t *testing.T) {
	dir := writeOntologyDir(t, map[string]string{"broken.yaml": "entity_types: [}"})

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}

func TestLoadMissingNameFails(t *testing.T) {
	dir := writeOntologyDir(t, map[string]string{"anon.yaml": "entity_types:\n  - name: X\n    description: y\n"})

	_, err := Load(dir)
	require.Error(t, err)
}

func TestLoadMissingDirFallsBackToDefault(t *testing.T) {
	reg, err := Load(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.NotNil(t, reg.Get("default"))
	assert.Len(t, reg.List(), 1)
}

func TestCanonicalEntityType(t *testing.T) {
	ont := defaultOntology()

	assert.Equal(t, "Organization", ont.CanonicalEntityType("organization"))
	assert.Equal(t, "Date", ont.CanonicalEntityType("DATE"))
	assert.Equal(t, "Other", ont.CanonicalEntityType("Spaceship"))
	assert.True(t, ont.HasEntityType("Metric"))
	assert.False(t, ont.HasEntityType("Spaceship"))
}

func TestBuildPrompt(t *testing.T) {
	dir := writeOntologyDir(t, map[string]string{"legal.yaml": legalOntologyYAML})
	reg, err := Load(dir)
	require.NoError(t, err)

	legal := reg.Get("legal")
	prompt := legal.BuildPrompt("Le contrat dure 36 mois.", "")

	assert.Contains(t, prompt, "Le contrat dure 36 mois.")
	assert.Contains(t, prompt, "PRIORITY ENTITIES")
	assert.Contains(t, prompt, "Clause")
	assert.Contains(t, prompt, "Maximum 25 entities and 35 relations")
	assert.Contains(t, prompt, "Extract every duration verbatim.")
	assert.NotContains(t, prompt, "ALREADY EXTRACTED")
}

func TestBuildPromptWithPriorContext(t *testing.T) {
	ont := defaultOntology()
	prompt := ont.BuildPrompt("chunk two text", `{"entities":[{"name":"Acme"}]}`)

	assert.Contains(t, prompt, "ALREADY EXTRACTED")
	assert.Contains(t, prompt, `"Acme"`)
}

func TestListSorted(t *testing.T) {
	dir := writeOntologyDir(t, map[string]string{"legal.yaml": legalOntologyYAML})
	reg, err := Load(dir)
	require.NoError(t, err)

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "default", list[0].Name)
	assert.Equal(t, "legal", list[1].Name)
}
