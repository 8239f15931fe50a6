package search

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	wordPattern = regexp.MustCompile(`[a-zA-ZÀ-ÿ0-9]+`)
	// Hostname-style identifiers: at least two alphanumeric segments joined
	// by dashes, e.g. vm-db-prod-01.
	compoundPattern = regexp.MustCompile(`[a-zA-Z0-9](?:[a-zA-Z0-9]*-[a-zA-Z0-9]+)+(?:-[a-zA-Z0-9]+)*`)
	ipPattern       = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	// Identifier ranges such as "vm-db-prod-01 à vm-db-prod-04".
	rangePattern   = regexp.MustCompile(`(?i)([a-zA-Z][a-zA-Z0-9-]*?)(\d+)\s*(?:à|a|to|\.\.\.?|-)\s*` + `([a-zA-Z][a-zA-Z0-9-]*?)(\d+)`)
	compoundSplit  = regexp.MustCompile(`[-.]`)
	maxRangeExpand = 50
)

// stopWords covers the French and English function words that carry no
// search signal. Two-letter infrastructure tokens (vm, db, ip) stay in.
var stopWords = buildStopWords()

func buildStopWords() map[string]bool {
	words := []string{
		// French
		"au", "aux", "avec", "ce", "ces", "cet", "cette", "dans", "de", "des", "du",
		"elle", "en", "et", "est", "il", "ils", "je", "la", "le", "les", "leur", "lui",
		"ma", "mais", "me", "mes", "moi", "mon", "ne", "nos", "notre", "nous", "on",
		"ou", "où", "par", "pas", "pour", "qu", "que", "quel", "quelle", "quels",
		"quelles", "qui", "sa", "se", "ses", "son", "sont", "sur", "ta", "te", "tes",
		"toi", "ton", "tu", "un", "une", "vos", "votre", "vous", "été", "être", "avoir",
		"fait", "faire", "plus", "tout", "tous", "toute", "toutes", "comme", "aussi",
		"bien", "dont", "donc", "quand", "sans", "sous", "entre", "vers", "chez",
		// English
		"the", "of", "and", "or", "to", "in", "is", "are", "was", "were", "be", "been",
		"a", "an", "it", "its", "this", "that", "these", "those", "with", "for", "on",
		"at", "by", "from", "as", "but", "not", "no", "we", "you", "they", "he", "she",
		"his", "her", "our", "your", "their", "what", "which", "who", "whom", "how",
		"when", "where", "why", "do", "does", "did", "have", "has", "had", "will",
		"would", "can", "could", "should", "about", "there", "all", "any", "some",
	}
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// Tokens is the parsed form of a search query.
type Tokens struct {
	// Raw are the meaningful lowercased tokens as typed.
	Raw []string
	// Normalized are the raw tokens with accents folded.
	Normalized []string
	// Compounds are full identifiers (hostnames, IPs, expanded ranges) to
	// match against entity names verbatim.
	Compounds []string
	// Fulltext are the tokens to hand the fulltext index: the raw tokens
	// plus compound identifiers as quoted phrases.
	Fulltext []string
}

func (t Tokens) Empty() bool {
	return len(t.Raw) == 0 && len(t.Compounds) == 0
}

// Tokenize splits a query into meaningful tokens and compound identifiers.
// Tokens shorter than 2 runes and stop words are dropped.
func Tokenize(query string) Tokens {
	var t Tokens

	for _, c := range compoundPattern.FindAllString(query, -1) {
		t.Compounds = append(t.Compounds, strings.ToLower(c))
	}
	t.Compounds = append(t.Compounds, ipPattern.FindAllString(query, -1)...)
	t.Compounds = appendRangeExpansions(t.Compounds, query)

	seen := make(map[string]bool)
	for _, tok := range wordPattern.FindAllString(strings.ToLower(query), -1) {
		if len([]rune(tok)) < 2 || stopWords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		t.Raw = append(t.Raw, tok)
		t.Normalized = append(t.Normalized, foldAccents(tok))
	}

	// Sub-tokens of compound identifiers matter even when short: "vm" and
	// "db" are real search terms in an infrastructure memory.
	for _, c := range t.Compounds {
		for _, part := range compoundSplit.Split(c, -1) {
			if part == "" || stopWords[part] || seen[part] {
				continue
			}
			seen[part] = true
			t.Raw = append(t.Raw, part)
			t.Normalized = append(t.Normalized, foldAccents(part))
		}
	}

	t.Fulltext = append(t.Fulltext, t.Raw...)
	for _, c := range t.Compounds {
		phrase := compoundSplit.ReplaceAllString(c, " ")
		t.Fulltext = append(t.Fulltext, `"`+phrase+`"`)
	}

	return t
}

// appendRangeExpansions expands "prefix01 à prefix04" into the individual
// identifiers, preserving zero padding.
func appendRangeExpansions(compounds []string, query string) []string {
	have := make(map[string]bool, len(compounds))
	for _, c := range compounds {
		have[c] = true
	}

	for _, match := range rangePattern.FindAllStringSubmatch(query, -1) {
		prefix := strings.ToLower(match[1])
		if strings.ToLower(match[3]) != prefix {
			continue
		}
		start, err1 := strconv.Atoi(match[2])
		end, err2 := strconv.Atoi(match[4])
		if err1 != nil || err2 != nil || end < start || end-start > maxRangeExpand {
			continue
		}
		width := len(match[2])
		for i := start; i <= end; i++ {
			id := fmt.Sprintf("%s%0*d", prefix, width, i)
			if !have[id] {
				have[id] = true
				compounds = append(compounds, id)
			}
		}
	}
	return compounds
}

// foldAccents strips diacritics via NFKD decomposition.
func foldAccents(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
