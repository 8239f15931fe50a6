package ontology

import (
	"fmt"
	"strings"
)

// BuildPrompt renders the extraction prompt for one chunk of document text.
// priorContext is the compact JSON of entities and relations extracted from
// earlier chunks; empty on the first chunk.
func (o *Ontology) BuildPrompt(documentText, priorContext string) string {
	var b strings.Builder

	if o.Context != "" {
		b.WriteString(o.Context)
		b.WriteString("\n\n")
	}

	b.WriteString("DOCUMENT:\n---\n")
	b.WriteString(documentText)
	b.WriteString("\n---\n")

	if priorContext != "" {
		b.WriteString("\nENTITIES AND RELATIONS ALREADY EXTRACTED FROM EARLIER PARTS OF THIS DOCUMENT:\n")
		b.WriteString(priorContext)
		b.WriteString("\nReuse the exact same entity names when the same entities appear again.\n")
	}

	priority := o.priorityEntityTypes()
	if len(priority) > 0 {
		b.WriteString("\nPRIORITY ENTITIES, EXTRACT WHENEVER PRESENT:\n")
		for _, et := range priority {
			writeTypeLine(&b, et.Name, et.Description, et.Examples, 3)
		}
	}

	b.WriteString("\nENTITY TYPES:\n")
	for _, et := range o.EntityTypes {
		if et.Priority == "high" {
			continue
		}
		writeTypeLine(&b, et.Name, et.Description, et.Examples, 3)
	}

	b.WriteString("\nRELATION TYPES:\n")
	for _, rt := range o.RelationTypes {
		writeTypeLine(&b, rt.Name, rt.Description, rt.Examples, 2)
	}

	if o.Rules.SpecialInstructions != "" {
		b.WriteString("\nSPECIAL INSTRUCTIONS:\n")
		b.WriteString(o.Rules.SpecialInstructions)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, `
RULES:
1. Maximum %d entities and %d relations.
2. Prefer quality over quantity; entity names must be normalised (no articles) and include their values where relevant.
3. Do not link every entity to the main organization. Relate the most specific entities to each other (clause to duration, article to obligation); RELATED_TO is a last resort.

Answer ONLY with valid JSON in this format:
`, o.Rules.MaxEntities, o.Rules.MaxRelations)

	b.WriteString("```json\n" + `{
  "entities": [
    {"name": "Entity name", "type": "EntityType", "description": "Short description"}
  ],
  "relations": [
    {"from_entity": "Source entity name", "to_entity": "Target entity name", "type": "RELATION_TYPE", "description": "Description"}
  ],
  "summary": "Two to three sentence summary of the document",
  "key_topics": ["topic1", "topic2"]
}` + "\n```\n")

	return b.String()
}

func (o *Ontology) priorityEntityTypes() []EntityTypeDef {
	var out []EntityTypeDef
	for _, et := range o.EntityTypes {
		if et.Priority == "high" {
			out = append(out, et)
			continue
		}
		for _, name := range o.Rules.PriorityEntities {
			if strings.EqualFold(name, et.Name) {
				out = append(out, et)
				break
			}
		}
	}
	return out
}

func writeTypeLine(b *strings.Builder, name, description string, examples []string, maxExamples int) {
	fmt.Fprintf(b, "- %s: %s", name, description)
	if len(examples) > 0 {
		if len(examples) > maxExamples {
			examples = examples[:maxExamples]
		}
		fmt.Fprintf(b, " (e.g. %s)", strings.Join(examples, ", "))
	}
	b.WriteString("\n")
}
