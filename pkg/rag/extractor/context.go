package extractor

import (
	"strings"

	"github.com/liliang-cn/graphmem/pkg/domain"
)

// cumulativeContext carries forward what earlier extraction windows found so
// later windows reuse the same entity names. The rendered text is capped by a
// character budget; when over budget the entities seen least often are
// evicted first.
type cumulativeContext struct {
	budget    int
	entities  map[string]*contextEntity
	relations map[string]string
	order     []string
	relOrder  []string
}

type contextEntity struct {
	name  string
	typ   string
	count int
}

func newCumulativeContext(budget int) *cumulativeContext {
	return &cumulativeContext{
		budget:    budget,
		entities:  make(map[string]*contextEntity),
		relations: make(map[string]string),
	}
}

func (c *cumulativeContext) add(result *domain.ExtractionResult) {
	for _, e := range result.Entities {
		key := strings.ToLower(e.Name)
		if existing, ok := c.entities[key]; ok {
			existing.count++
			continue
		}
		c.entities[key] = &contextEntity{name: e.Name, typ: e.Type, count: 1}
		c.order = append(c.order, key)
	}
	for _, r := range result.Relations {
		key := relationKey(r)
		if _, ok := c.relations[key]; !ok {
			c.relations[key] = r.FromEntity + " -[" + r.Type + "]-> " + r.ToEntity
			c.relOrder = append(c.relOrder, key)
		}
	}
	c.enforceBudget()
}

// enforceBudget evicts lowest-count entities until the rendered context fits,
// then the oldest relations when entities alone cannot shrink it enough.
func (c *cumulativeContext) enforceBudget() {
	if c.budget <= 0 {
		return
	}
	for len(c.render()) > c.budget && len(c.entities) > 0 {
		victim := ""
		lowest := int(^uint(0) >> 1)
		// Scan in insertion order so ties evict the oldest entry.
		for _, key := range c.order {
			entity, ok := c.entities[key]
			if !ok {
				continue
			}
			if entity.count < lowest {
				lowest = entity.count
				victim = key
			}
		}
		if victim == "" {
			return
		}
		delete(c.entities, victim)
	}
	for len(c.render()) > c.budget && len(c.relations) > 0 {
		evicted := false
		for _, key := range c.relOrder {
			if _, ok := c.relations[key]; ok {
				delete(c.relations, key)
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}

func (c *cumulativeContext) render() string {
	if len(c.entities) == 0 && len(c.relations) == 0 {
		return ""
	}

	var entityLines []string
	for _, key := range c.order {
		entity, ok := c.entities[key]
		if !ok {
			continue
		}
		entityLines = append(entityLines, "- "+entity.name+" ("+entity.typ+")")
	}

	relationLines := make([]string, 0, len(c.relations))
	for _, key := range c.relOrder {
		if line, ok := c.relations[key]; ok {
			relationLines = append(relationLines, "- "+line)
		}
	}

	var b strings.Builder
	if len(entityLines) > 0 {
		b.WriteString("Entities:\n")
		b.WriteString(strings.Join(entityLines, "\n"))
	}
	if len(relationLines) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Relations:\n")
		b.WriteString(strings.Join(relationLines, "\n"))
	}
	return b.String()
}
