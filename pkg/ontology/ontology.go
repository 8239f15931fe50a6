// Package ontology loads the extraction schemas that guide the LLM. Each
// ontology declares the permitted entity and relation types, extraction
// limits, and free-form instructions appended to the prompt.
package ontology

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/liliang-cn/graphmem/pkg/log"
)

// EntityTypeDef declares one permitted entity type.
type EntityTypeDef struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Examples    []string `yaml:"examples"`
	Priority    string   `yaml:"priority"`
}

// RelationTypeDef declares one permitted relation type.
type RelationTypeDef struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Examples    []string `yaml:"examples"`
}

// ExtractionRules bounds and steers the extraction pass.
type ExtractionRules struct {
	MaxEntities         int      `yaml:"max_entities"`
	MaxRelations        int      `yaml:"max_relations"`
	PriorityEntities    []string `yaml:"priority_entities"`
	PriorityRelations   []string `yaml:"priority_relations"`
	SpecialInstructions string   `yaml:"special_instructions"`
}

// Ontology is an immutable extraction schema.
type Ontology struct {
	Name          string            `yaml:"name"`
	Version       string            `yaml:"version"`
	Description   string            `yaml:"description"`
	Context       string            `yaml:"context"`
	EntityTypes   []EntityTypeDef   `yaml:"entity_types"`
	RelationTypes []RelationTypeDef `yaml:"relation_types"`
	Rules         ExtractionRules   `yaml:"extraction_rules"`
}

// HasEntityType reports whether name is a declared entity type
// (case-insensitive).
func (o *Ontology) HasEntityType(name string) bool {
	for _, et := range o.EntityTypes {
		if strings.EqualFold(et.Name, name) {
			return true
		}
	}
	return false
}

// CanonicalEntityType maps a free-string type to the declared spelling, or
// "Other" when the ontology does not know it.
func (o *Ontology) CanonicalEntityType(name string) string {
	for _, et := range o.EntityTypes {
		if strings.EqualFold(et.Name, name) {
			return et.Name
		}
	}
	return "Other"
}

// Registry holds the ontologies loaded at startup. Read-only after Load.
type Registry struct {
	ontologies map[string]*Ontology
}

// Load reads every *.yaml / *.yml file in dir. The built-in default ontology
// is always present and can be shadowed by a file named default.
func Load(dir string) (*Registry, error) {
	logger := log.WithModule("ontology")
	reg := &Registry{ontologies: map[string]*Ontology{
		"default": defaultOntology(),
	}}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("ontology directory not found, using built-in default only", "dir", dir)
			return reg, nil
		}
		return nil, fmt.Errorf("failed to read ontology directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		ont, err := loadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load ontology %s: %w", entry.Name(), err)
		}
		reg.ontologies[ont.Name] = ont
		logger.Info("ontology loaded", "name", ont.Name, "version", ont.Version,
			"entity_types", len(ont.EntityTypes), "relation_types", len(ont.RelationTypes))
	}

	return reg, nil
}

func loadFile(path string) (*Ontology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var ont Ontology
	if err := yaml.Unmarshal(data, &ont); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if ont.Name == "" {
		return nil, fmt.Errorf("ontology has no name")
	}
	if len(ont.EntityTypes) == 0 {
		return nil, fmt.Errorf("ontology %q declares no entity types", ont.Name)
	}
	if ont.Rules.MaxEntities <= 0 {
		ont.Rules.MaxEntities = 30
	}
	if ont.Rules.MaxRelations <= 0 {
		ont.Rules.MaxRelations = 40
	}
	return &ont, nil
}

// Get returns the named ontology or nil.
func (r *Registry) Get(name string) *Ontology {
	return r.ontologies[name]
}

// List returns summaries of every loaded ontology, sorted by name.
func (r *Registry) List() []Summary {
	out := make([]Summary, 0, len(r.ontologies))
	for _, ont := range r.ontologies {
		desc := strings.TrimSpace(ont.Description)
		if len(desc) > 100 {
			desc = desc[:100] + "..."
		}
		out = append(out, Summary{
			Name:               ont.Name,
			Version:            ont.Version,
			Description:        desc,
			EntityTypesCount:   len(ont.EntityTypes),
			RelationTypesCount: len(ont.RelationTypes),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Summary is a compact ontology listing row.
type Summary struct {
	Name               string `json:"name"`
	Version            string `json:"version"`
	Description        string `json:"description"`
	EntityTypesCount   int    `json:"entity_types_count"`
	RelationTypesCount int    `json:"relation_types_count"`
}

func defaultOntology() *Ontology {
	return &Ontology{
		Name:        "default",
		Version:     "1.0",
		Description: "General-purpose extraction schema for mixed document corpora.",
		Context:     "You are an information extraction expert. Analyse the document and extract the important entities and relations.",
		EntityTypes: []EntityTypeDef{
			{Name: "Person", Description: "Natural person"},
			{Name: "Organization", Description: "Company, institution or organization"},
			{Name: "Concept", Description: "Abstract idea or technical term"},
			{Name: "Location", Description: "Geographic place"},
			{Name: "Date", Description: "Date or period"},
			{Name: "Product", Description: "Product or technology"},
			{Name: "Service", Description: "Offered service"},
			{Name: "Clause", Description: "Contractual or legal clause"},
			{Name: "Certification", Description: "Certification or standard", Examples: []string{"ISO 27001", "HDS", "SecNumCloud"}},
			{Name: "Metric", Description: "SLA or measurable guarantee", Examples: []string{"99.95%", "GTI 15 min"}},
			{Name: "Duration", Description: "Duration or notice period", Examples: []string{"36 months", "6 months notice"}},
			{Name: "Amount", Description: "Monetary amount with currency", Examples: []string{"50 000 EUR/month"}},
			{Name: "Other", Description: "Any other entity"},
		},
		RelationTypes: []RelationTypeDef{
			{Name: "MENTIONS", Description: "The document mentions the entity"},
			{Name: "DEFINES", Description: "Definition of a concept"},
			{Name: "RELATED_TO", Description: "Generic relation, last resort"},
			{Name: "CONTAINS", Description: "Structural containment"},
			{Name: "BELONGS_TO", Description: "Ownership or membership"},
			{Name: "SIGNED_BY", Description: "Signature or validation"},
			{Name: "CREATED_BY", Description: "Creation or authorship"},
			{Name: "REFERENCES", Description: "Reference to another document or concept"},
		},
		Rules: ExtractionRules{MaxEntities: 30, MaxRelations: 40},
	}
}
