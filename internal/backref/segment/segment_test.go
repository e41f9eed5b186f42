package segment

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/errors"
)

func sampleEntries() []TermEntry {
	return []TermEntry{
		{Term: "class:Foo", Postings: PostingList{{File: "A.java", Count: 1, Defined: true}, {File: "B.java", Count: 2}}},
		{Term: "method:bar", Postings: PostingList{{File: "B.java", Count: 1}}},
	}
}

func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	name, err := NewWriter(dir).Write(sampleEntries(), []string{"A.java", "B.java"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "seg_"))
	assert.True(t, strings.HasSuffix(name, Extension))

	r, err := OpenReader(filepath.Join(dir, name))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 2, r.Terms())
	assert.Equal(t, []string{"A.java", "B.java"}, r.Files())

	postings, err := r.Search("class:Foo")
	require.NoError(t, err)
	assert.Equal(t, PostingList{{File: "A.java", Count: 1, Defined: true}, {File: "B.java", Count: 2}}, postings)

	postings, err = r.Search("field:missing")
	require.NoError(t, err)
	assert.Nil(t, postings)
}

func TestNamesAreUnique(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	a, err := w.Write(sampleEntries(), []string{"A.java"})
	require.NoError(t, err)
	b, err := w.Write(sampleEntries(), []string{"A.java"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b)
}

func TestCorruptionDetected(t *testing.T) {
	dir := t.TempDir()
	name, err := NewWriter(dir).Write(sampleEntries(), []string{"A.java", "B.java"})
	require.NoError(t, err)
	path := filepath.Join(dir, name)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	t.Run("postings byte", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[HeaderSize+1] ^= 0xFF
		require.NoError(t, os.WriteFile(path, bad, 0o644))
		_, err := OpenReader(path)
		assert.ErrorIs(t, err, apperrors.ErrCodec)
	})

	t.Run("dictionary byte", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[len(bad)-FooterSize-2] ^= 0xFF
		require.NoError(t, os.WriteFile(path, bad, 0o644))
		_, err := OpenReader(path)
		assert.ErrorIs(t, err, apperrors.ErrCodec)
	})

	t.Run("magic", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[0] = 0
		require.NoError(t, os.WriteFile(path, bad, 0o644))
		_, err := OpenReader(path)
		assert.ErrorIs(t, err, apperrors.ErrCodec)
	})

	t.Run("truncated", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, data[:len(data)-5], 0o644))
		_, err := OpenReader(path)
		assert.ErrorIs(t, err, apperrors.ErrCodec)
	})
}

func TestEmptySegmentRejected(t *testing.T) {
	_, err := NewWriter(t.TempDir()).Write(nil, nil)
	assert.Error(t, err)
}
