package wordindex

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/config"
)

func openIndex(t *testing.T, dir, analyzer string) *Index {
	t.Helper()
	cfg := config.DefaultIndexer()
	cfg.DataDir = dir
	cfg.Analyzer = analyzer
	x, err := Open(cfg, indexer.FailFast)
	require.NoError(t, err)
	return x
}

func files(t *testing.T, x *Index, word string) []string {
	t.Helper()
	out, err := x.FilesByWord(word)
	require.NoError(t, err)
	slices.Sort(out)
	return out
}

func ptr(s string) *string { return &s }

func TestEndToEnd(t *testing.T) {
	dir := t.TempDir()
	x := openIndex(t, dir, AnalyzerWhitespace)

	changed, err := x.Update("a.txt", ptr("foo bar"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"a.txt"}, files(t, x, "foo"))
	assert.Equal(t, []string{"a.txt"}, files(t, x, "bar"))

	_, err = x.Update("a.txt", ptr("bar baz"))
	require.NoError(t, err)
	assert.Empty(t, files(t, x, "foo"))
	assert.Equal(t, []string{"a.txt"}, files(t, x, "bar"))
	assert.Equal(t, []string{"a.txt"}, files(t, x, "baz"))

	_, err = x.Update("b.txt", ptr("baz"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, files(t, x, "baz"))

	_, err = x.Update("a.txt", nil)
	require.NoError(t, err)
	assert.Empty(t, files(t, x, "bar"))
	assert.Equal(t, []string{"b.txt"}, files(t, x, "baz"))

	require.NoError(t, x.Flush())
	require.NoError(t, x.Dispose())

	x = openIndex(t, dir, AnalyzerWhitespace)
	defer x.Dispose()
	assert.True(t, x.Trusted())
	assert.Equal(t, []string{"b.txt"}, files(t, x, "baz"))
	assert.Empty(t, files(t, x, "foo"))
}

func TestWhitespaceAnalyzerKeepsWordsVerbatim(t *testing.T) {
	x := openIndex(t, t.TempDir(), AnalyzerWhitespace)
	defer x.Dispose()

	_, err := x.Update("c.txt", ptr("Foo\tfoo,  foo\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"c.txt"}, files(t, x, "Foo"))
	assert.Equal(t, []string{"c.txt"}, files(t, x, "foo,"))
	assert.Equal(t, []string{"c.txt"}, files(t, x, "foo"))

	term, ok := x.QueryTerm("Foo")
	assert.True(t, ok)
	assert.Equal(t, "Foo", term)
}

func TestStemmedAnalyzer(t *testing.T) {
	x := openIndex(t, t.TempDir(), AnalyzerStemmed)
	defer x.Dispose()

	_, err := x.Update("d.txt", ptr("The indexers were running"))
	require.NoError(t, err)

	term, ok := x.QueryTerm("Indexers")
	require.True(t, ok)
	assert.Equal(t, []string{"d.txt"}, files(t, x, term))

	_, ok = x.QueryTerm("the")
	assert.False(t, ok)
}

func TestUnknownAnalyzer(t *testing.T) {
	_, err := Descriptor("words", 1, "soundex")
	assert.Error(t, err)
}

func TestUnitIDIsStable(t *testing.T) {
	assert.Equal(t, UnitID("a.txt"), UnitID("a.txt"))
	assert.NotEqual(t, UnitID("a.txt"), UnitID("b.txt"))
}
