// Package extractor turns document text into graph entities and relations by
// prompting an LLM with the memory's ontology.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/log"
	"github.com/liliang-cn/graphmem/pkg/ontology"
)

const systemMessage = "You are an assistant specialised in structured information extraction. " +
	"You answer only with valid JSON."

// Service extracts entities and relations chunk by chunk, feeding each chunk
// the context accumulated from the previous ones so entity names stay
// consistent across a long document.
type Service struct {
	gen           domain.Generator
	chunkSize     int
	contextBudget int
	maxTokens     int
	logger        *slog.Logger
}

func New(gen domain.Generator, chunkSize, contextBudget, maxTokens int) *Service {
	return &Service{
		gen:           gen,
		chunkSize:     chunkSize,
		contextBudget: contextBudget,
		maxTokens:     maxTokens,
		logger:        log.WithModule("extractor"),
	}
}

// ExtractDocument runs extraction over the whole document. Long documents are
// split into extraction windows at paragraph boundaries; the results are
// merged by entity name.
func (s *Service) ExtractDocument(ctx context.Context, ont *ontology.Ontology, text string, progress domain.ProgressSink) (*domain.ExtractionResult, error) {
	if progress == nil {
		progress = domain.NopProgress
	}

	windows := splitWindows(text, s.chunkSize)
	cumCtx := newCumulativeContext(s.contextBudget)
	merged := &domain.ExtractionResult{}

	var lastErr error
	failed := 0
	for i, window := range windows {
		progress.Progress("extraction",
			fmt.Sprintf("window %d/%d (%d chars)", i+1, len(windows), len(window)))

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := s.extractWindow(ctx, ont, window, cumCtx.render())
		if err != nil {
			// A single bad window does not lose the rest of the document.
			s.logger.Warn("window extraction failed, skipped",
				"window", i+1, "windows", len(windows), "error", err)
			lastErr = err
			failed++
			continue
		}

		s.logger.Info("window extracted", "window", i+1, "windows", len(windows),
			"entities", len(result.Entities), "relations", len(result.Relations))

		cumCtx.add(result)
		mergeResults(merged, result)
	}

	if failed == len(windows) && lastErr != nil {
		return nil, lastErr
	}
	return merged, nil
}

func (s *Service) extractWindow(ctx context.Context, ont *ontology.Ontology, text, priorContext string) (*domain.ExtractionResult, error) {
	prompt := ont.BuildPrompt(text, priorContext)

	content, err := s.gen.Generate(ctx, systemMessage, prompt, s.maxTokens)
	if err != nil {
		return nil, err
	}
	return s.parseExtraction(ont, content), nil
}

// parseExtraction decodes the LLM response. Fenced output is recovered by
// slicing from the first '{' to the last '}'. An unparseable response yields
// an empty result rather than failing the whole ingestion.
func (s *Service) parseExtraction(ont *ontology.Ontology, content string) *domain.ExtractionResult {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		start := strings.Index(content, "{")
		end := strings.LastIndex(content, "}")
		if start >= 0 && end > start {
			content = content[start : end+1]
		}
	}

	var raw struct {
		Entities []struct {
			Name        string `json:"name"`
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"entities"`
		Relations []struct {
			FromEntity  string  `json:"from_entity"`
			ToEntity    string  `json:"to_entity"`
			Type        string  `json:"type"`
			Description string  `json:"description"`
			Weight      float64 `json:"weight"`
		} `json:"relations"`
		Summary   string   `json:"summary"`
		KeyTopics []string `json:"key_topics"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		preview := content
		if len(preview) > 200 {
			preview = preview[:200]
		}
		s.logger.Warn("extraction response not parseable", "error", err, "preview", preview)
		return &domain.ExtractionResult{}
	}

	result := &domain.ExtractionResult{
		Summary:   raw.Summary,
		KeyTopics: raw.KeyTopics,
	}
	for _, e := range raw.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		result.Entities = append(result.Entities, domain.ExtractedEntity{
			Name:        name,
			Type:        ont.CanonicalEntityType(e.Type),
			Description: strings.TrimSpace(e.Description),
		})
	}
	for _, r := range raw.Relations {
		from := strings.TrimSpace(r.FromEntity)
		to := strings.TrimSpace(r.ToEntity)
		if from == "" || to == "" {
			continue
		}
		result.Relations = append(result.Relations, domain.ExtractedRelation{
			FromEntity:  from,
			ToEntity:    to,
			Type:        canonicalRelationType(r.Type),
			Description: strings.TrimSpace(r.Description),
			Weight:      r.Weight,
		})
	}
	return result
}

func canonicalRelationType(t string) string {
	t = strings.ToUpper(strings.TrimSpace(t))
	if t == "" {
		return "RELATED_TO"
	}
	return t
}

// splitWindows cuts text into extraction windows of at most maxChars,
// preferring paragraph then line boundaries in the last fifth of the window.
func splitWindows(text string, maxChars int) []string {
	if len(text) <= maxChars {
		return []string{text}
	}

	var windows []string
	for len(text) > maxChars {
		cut := maxChars
		zone := maxChars - maxChars/5
		if idx := strings.LastIndex(text[:maxChars], "\n\n"); idx >= zone {
			cut = idx
		} else if idx := strings.LastIndex(text[:maxChars], "\n"); idx >= zone {
			cut = idx
		}
		windows = append(windows, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		windows = append(windows, text)
	}
	return windows
}

// mergeResults folds src into dst, deduplicating entities by lowercased name
// and relations by (from, to, type).
func mergeResults(dst, src *domain.ExtractionResult) {
	seen := make(map[string]int, len(dst.Entities))
	for i, e := range dst.Entities {
		seen[strings.ToLower(e.Name)] = i
	}
	for _, e := range src.Entities {
		key := strings.ToLower(e.Name)
		if i, ok := seen[key]; ok {
			// Keep the richer description and upgrade a generic type.
			if dst.Entities[i].Description == "" {
				dst.Entities[i].Description = e.Description
			}
			if dst.Entities[i].Type == "Other" && e.Type != "Other" {
				dst.Entities[i].Type = e.Type
			}
			continue
		}
		seen[key] = len(dst.Entities)
		dst.Entities = append(dst.Entities, e)
	}

	relSeen := make(map[string]bool, len(dst.Relations))
	for _, r := range dst.Relations {
		relSeen[relationKey(r)] = true
	}
	for _, r := range src.Relations {
		if key := relationKey(r); !relSeen[key] {
			relSeen[key] = true
			dst.Relations = append(dst.Relations, r)
		}
	}

	if dst.Summary == "" {
		dst.Summary = src.Summary
	}
	topicSeen := make(map[string]bool, len(dst.KeyTopics))
	for _, topic := range dst.KeyTopics {
		topicSeen[strings.ToLower(topic)] = true
	}
	for _, topic := range src.KeyTopics {
		if key := strings.ToLower(topic); !topicSeen[key] {
			topicSeen[key] = true
			dst.KeyTopics = append(dst.KeyTopics, topic)
		}
	}
}

func relationKey(r domain.ExtractedRelation) string {
	return strings.ToLower(r.FromEntity) + "\x00" + strings.ToLower(r.ToEntity) + "\x00" + r.Type
}
