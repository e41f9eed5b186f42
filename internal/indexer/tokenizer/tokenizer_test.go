package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWords(t *testing.T) {
	assert.Equal(t, []string{"foo", "bar", "Foo"}, Words("  foo\tbar\nfoo Foo  "))
	assert.Empty(t, Words(" \n\t "))
	assert.Equal(t, []string{"a.b", "c-d"}, Words("a.b c-d"))
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("The Running of the Indexers")
	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		terms = append(terms, tok.Term)
	}
	assert.Equal(t, []string{"runn", "indexer"}, terms)
	assert.Equal(t, 1, tokens[1].Position)
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"search", "index"}, Terms("search SEARCH index, search"))
}

func TestStem(t *testing.T) {
	cases := map[string]string{
		"relational": "relate",
		"stories":    "story",
		"jumped":     "jump",
		"cats":       "cat",
		"go":         "go",
	}
	for in, want := range cases {
		assert.Equal(t, want, stem(in), in)
	}
}
