// Package chunker splits document text into retrieval chunks along semantic
// boundaries. Sentences are the atomic unit; a chunk never cuts one in half.
package chunker

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/log"
)

// Structure detection, tried in order of how much they tell us:
// numbered articles, markdown headers, hierarchical numbering, uppercase
// titles, then blank-line paragraphs.
var (
	articlePattern  = regexp.MustCompile(`(?m)^(?:ARTICLE|Article|article)\s+(\d+(?:\.\d+)*(?:\s*(?:er|ème|eme))?)\s*[:.\s–—-]`)
	numberedPattern = regexp.MustCompile(`(?m)^(\d+(?:\.\d+)+)\s*[:.\s–—-]`)
	markdownPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	// At least ~4 words of capitals, so an acronym line does not count.
	uppercasePattern = regexp.MustCompile(`(?m)^([A-ZÀÂÄÉÈÊËÏÎÔÙÛÜŸÇ][A-ZÀÂÄÉÈÊËÏÎÔÙÛÜŸÇ\s,'-]{15,})$`)

	sentenceEndings = regexp.MustCompile(`([.!?])\s+([A-ZÀÂÄÉÈÊËÏÎÔÙÛÜŸ])`)
	listItemPattern = regexp.MustCompile(`^(?:[-•●▪]\s+|\d+[.)]\s+|[a-z][.)]\s+)`)
	endsSentence    = regexp.MustCompile(`[.!?]\s*$`)
	paragraphSplit  = regexp.MustCompile(`\n\s*\n`)
)

// A sentence longer than this gets re-split on internal sentence endings.
const maxSentenceChars = 1500

// Chunker produces semantic chunks of roughly chunkSize tokens with
// sentence-boundary overlap between adjacent chunks of one section.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	logger       *slog.Logger
}

func New(chunkSize, chunkOverlap int) *Chunker {
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		logger:       log.WithModule("chunker"),
	}
}

type section struct {
	title         string
	content       string
	level         int
	articleNumber string
}

type sentenceGroup struct {
	sentences     []string
	sectionTitle  string
	articleNumber string
	hierarchy     []string
}

func (g sentenceGroup) tokenEstimate() int {
	n := 0
	for _, s := range g.sentences {
		n += len(s)
	}
	// Counts the joining spaces too; close enough for a heuristic.
	return (n + len(g.sentences)) / 4
}

func estimateTokens(s string) int { return len(s) / 4 }

// Chunk splits a document. Empty or whitespace-only text yields no chunks.
func (c *Chunker) Chunk(text, filename string) []domain.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	text = strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\r", "\n")

	sections := detectSections(text)
	groups := sectionsToGroups(sections)
	raw := c.mergeIntoChunks(groups)

	chunks := make([]domain.Chunk, 0, len(raw))
	for i, rc := range raw {
		body := strings.TrimSpace(rc.text)
		chunks = append(chunks, domain.Chunk{
			Text:             body,
			Index:            i,
			TotalChunks:      len(raw),
			Filename:         filename,
			SectionTitle:     rc.group.sectionTitle,
			ArticleNumber:    rc.group.articleNumber,
			HeadingHierarchy: rc.group.hierarchy,
			CharCount:        len(body),
			TokenEstimate:    estimateTokens(body),
		})
	}

	c.logger.Debug("document chunked", "filename", filename,
		"sections", len(sections), "chunks", len(chunks))
	return chunks
}

func detectSections(text string) []section {
	for _, detect := range []func(string) []section{
		detectArticles,
		detectMarkdownHeaders,
		detectNumberedSections,
		detectUppercaseTitles,
	} {
		if sections := detect(text); len(sections) > 1 {
			return sections
		}
	}
	return detectParagraphs(text)
}

// spanSections slices the text at each match start, prepending a preamble
// section when content precedes the first match.
func spanSections(text, preambleTitle string, matches [][]int, build func(match []int, content string) section) []section {
	if len(matches) == 0 {
		return nil
	}
	var sections []section
	if matches[0][0] > 0 {
		if preamble := strings.TrimSpace(text[:matches[0][0]]); preamble != "" {
			sections = append(sections, section{title: preambleTitle, content: preamble})
		}
	}
	for i, match := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		content := strings.TrimSpace(text[match[0]:end])
		sections = append(sections, build(match, content))
	}
	return sections
}

func firstLine(content string) string {
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		return strings.TrimSpace(content[:idx])
	}
	return strings.TrimSpace(content)
}

func detectArticles(text string) []section {
	return spanSections(text, "Préambule", articlePattern.FindAllStringSubmatchIndex(text, -1),
		func(match []int, content string) section {
			return section{
				title:         firstLine(content),
				content:       content,
				articleNumber: strings.TrimSpace(text[match[2]:match[3]]),
			}
		})
}

func detectMarkdownHeaders(text string) []section {
	return spanSections(text, "Introduction", markdownPattern.FindAllStringSubmatchIndex(text, -1),
		func(match []int, content string) section {
			hashes := text[match[2]:match[3]]
			return section{
				title:   strings.TrimSpace(text[match[4]:match[5]]),
				content: content,
				level:   len(hashes) - 1,
			}
		})
}

func detectNumberedSections(text string) []section {
	return spanSections(text, "Introduction", numberedPattern.FindAllStringSubmatchIndex(text, -1),
		func(match []int, content string) section {
			num := text[match[2]:match[3]]
			return section{
				title:         firstLine(content),
				content:       content,
				level:         strings.Count(num, "."),
				articleNumber: num,
			}
		})
}

func detectUppercaseTitles(text string) []section {
	return spanSections(text, "Introduction", uppercasePattern.FindAllStringSubmatchIndex(text, -1),
		func(match []int, content string) section {
			return section{
				title:   strings.TrimSpace(text[match[2]:match[3]]),
				content: content,
			}
		})
}

func detectParagraphs(text string) []section {
	var sections []section
	for _, para := range paragraphSplit.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		title := firstLine(para)
		if len(title) > 80 {
			title = title[:80]
		}
		sections = append(sections, section{title: title, content: para})
	}
	return sections
}

// sectionsToGroups splits each section into sentences and tracks the heading
// hierarchy as a stack keyed by section level.
func sectionsToGroups(sections []section) []sentenceGroup {
	var groups []sentenceGroup
	var headingStack []string

	for _, sec := range sections {
		for len(headingStack) > sec.level {
			headingStack = headingStack[:len(headingStack)-1]
		}
		headingStack = append(headingStack, sec.title)

		sentences := splitSentences(sec.content)
		if len(sentences) == 0 {
			continue
		}
		hierarchy := make([]string, len(headingStack))
		copy(hierarchy, headingStack)
		groups = append(groups, sentenceGroup{
			sentences:     sentences,
			sectionTitle:  sec.title,
			articleNumber: sec.articleNumber,
			hierarchy:     hierarchy,
		})
	}
	return groups
}

// splitSentences cuts on sentence-ending punctuation and keeps list items as
// standalone sentences. Oversized sentences are re-split on internal
// boundaries.
func splitSentences(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var sentences []string
	var current []string

	flush := func() {
		if len(current) > 0 {
			sentences = append(sentences, strings.Join(current, " "))
			current = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		if listItemPattern.MatchString(line) {
			flush()
			sentences = append(sentences, line)
			continue
		}
		current = append(current, line)
		if endsSentence.MatchString(line) {
			flush()
		}
	}
	flush()

	var final []string
	for _, sent := range sentences {
		if len(sent) > maxSentenceChars {
			final = append(final, resplitLongSentence(sent)...)
		} else {
			final = append(final, sent)
		}
	}

	out := final[:0]
	for _, s := range final {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// resplitLongSentence cuts after ". " (and !/?) when the next rune is an
// uppercase letter, keeping the punctuation with the left part.
func resplitLongSentence(sent string) []string {
	var parts []string
	last := 0
	for _, match := range sentenceEndings.FindAllStringSubmatchIndex(sent, -1) {
		// match[3] is the end of the punctuation group.
		parts = append(parts, sent[last:match[3]])
		// match[4] is the start of the following uppercase letter.
		last = match[4]
	}
	parts = append(parts, sent[last:])
	return parts
}

type rawChunk struct {
	group sentenceGroup
	text  string
}

func (c *Chunker) mergeIntoChunks(groups []sentenceGroup) []rawChunk {
	var chunks []rawChunk
	for _, group := range groups {
		if group.tokenEstimate() <= c.chunkSize {
			// The whole section fits: keep it intact.
			chunks = append(chunks, rawChunk{group: group, text: formatWithContext(group)})
			continue
		}
		chunks = append(chunks, c.splitGroupWithOverlap(group)...)
	}
	return chunks
}

func (c *Chunker) splitGroupWithOverlap(group sentenceGroup) []rawChunk {
	var chunks []rawChunk

	prefix := contextPrefix(group)
	prefixTokens := estimateTokens(prefix)

	var current []string
	currentTokens := 0

	emit := func() {
		sub := group
		sub.sentences = append([]string(nil), current...)
		chunks = append(chunks, rawChunk{group: sub, text: prefix + strings.Join(current, " ")})
	}

	i := 0
	for i < len(group.sentences) {
		sent := group.sentences[i]
		sentTokens := estimateTokens(sent)

		// A single oversize sentence becomes its own chunk.
		if len(current) == 0 && sentTokens > c.chunkSize-prefixTokens {
			sub := group
			sub.sentences = []string{sent}
			chunks = append(chunks, rawChunk{group: sub, text: prefix + sent})
			i++
			continue
		}

		if currentTokens+sentTokens+prefixTokens <= c.chunkSize {
			current = append(current, sent)
			currentTokens += sentTokens
			i++
			continue
		}

		if len(current) == 0 {
			i++
			continue
		}
		emit()

		overlap := c.computeOverlap(current)
		overlapTokens := 0
		for _, s := range overlap {
			overlapTokens += estimateTokens(s)
		}
		// Drop the overlap when it would not leave room for the next
		// sentence; this guarantees forward progress.
		if overlapTokens+sentTokens+prefixTokens > c.chunkSize {
			current = nil
			currentTokens = 0
		} else {
			current = overlap
			currentTokens = overlapTokens
		}
	}

	if len(current) > 0 {
		emit()
	}
	return chunks
}

// computeOverlap takes trailing sentences up to the overlap budget, never
// cutting one.
func (c *Chunker) computeOverlap(sentences []string) []string {
	if len(sentences) == 0 || c.chunkOverlap <= 0 {
		return nil
	}
	var overlap []string
	tokens := 0
	for i := len(sentences) - 1; i >= 0; i-- {
		sentTokens := estimateTokens(sentences[i])
		if tokens+sentTokens > c.chunkOverlap {
			break
		}
		overlap = append([]string{sentences[i]}, overlap...)
		tokens += sentTokens
	}
	return overlap
}

func contextPrefix(group sentenceGroup) string {
	if group.articleNumber != "" {
		return "[Article " + group.articleNumber + "] "
	}
	if group.sectionTitle != "" {
		title := group.sectionTitle
		if len(title) > 60 {
			title = title[:60]
		}
		return "[" + title + "] "
	}
	return ""
}

// formatWithContext prefixes an intact section chunk with its article number
// and title, skipping the title when it is just "Article N".
func formatWithContext(group sentenceGroup) string {
	var parts []string
	if group.articleNumber != "" {
		parts = append(parts, "Article "+group.articleNumber)
	}
	if group.sectionTitle != "" && group.sectionTitle != "Article "+group.articleNumber {
		title := group.sectionTitle
		if len(title) > 80 {
			title = title[:77] + "..."
		}
		parts = append(parts, title)
	}
	prefix := ""
	if len(parts) > 0 {
		prefix = "[" + strings.Join(parts, " - ") + "] "
	}
	return prefix + strings.Join(group.sentences, " ")
}
