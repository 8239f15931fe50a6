package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeLucene(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain word untouched", "contrat", "contrat"},
		{"colon escaped", "host:8080", "host\\:8080"},
		{"parens escaped", "acme(corp)", "acme\\(corp\\)"},
		{"wildcard escaped", "serv*", "serv\\*"},
		{"boolean operators escaped", "a&&b||c", "a\\&&b\\||c"},
		{"backslash escaped first", "a\\b", "a\\\\b"},
		{"dash escaped", "2024-01", "2024\\-01"},
		{"quote escaped", `say "hi"`, `say \"hi\"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EscapeLucene(tt.input))
		})
	}
}

func TestEscapeLuceneAllReserved(t *testing.T) {
	for _, ch := range []string{"+", "-", "!", "(", ")", "{", "}", "[", "]", "^", "~", "*", "?", ":", "/"} {
		assert.Equal(t, "\\"+ch, EscapeLucene(ch), "char %q", ch)
	}
}

func TestFulltextIndexStateIsPerStore(t *testing.T) {
	// Index bookkeeping lives on the Store, not in package state: marking one
	// store ready leaves a second store untouched.
	a, b := &Store{}, &Store{}
	a.ftMu.Lock()
	a.ftReady = true
	a.ftMu.Unlock()

	b.ftMu.Lock()
	ready := b.ftReady
	b.ftMu.Unlock()
	assert.False(t, ready)
	assert.True(t, a.ftReady)
}
