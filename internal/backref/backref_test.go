package backref

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/batch"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/filelock"
)

var (
	fooClass = Ref{Name: "Foo", Kind: KindClass}
	barCall  = Ref{Name: "bar", Kind: KindMethod}
)

func openIndex(t *testing.T, dir string) *Index {
	t.Helper()
	idx, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestWriterFlushAndSearch(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	require.NoError(t, w.Register(FileData{File: "Foo.java", Defs: []Ref{fooClass}, Refs: []Ref{barCall}}))
	require.NoError(t, w.Register(FileData{File: "Main.java", Refs: []Ref{fooClass, fooClass, barCall}}))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	idx := openIndex(t, dir)
	assert.Equal(t, 1, idx.Segments())
	assert.Equal(t, []string{"Foo.java", "Main.java"}, idx.Files())

	hits, err := idx.Search(fooClass)
	require.NoError(t, err)
	assert.Equal(t, []Hit{
		{File: "Foo.java", Count: 1, Defined: true},
		{File: "Main.java", Count: 2},
	}, hits)

	hits, err = idx.Search(Ref{Name: "Foo", Kind: KindField})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestEmptyFlushWritesNothing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewWriter(dir).Flush())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewestSegmentSupersedesFile(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	require.NoError(t, w.Register(FileData{File: "Main.java", Refs: []Ref{fooClass}}))
	require.NoError(t, w.Register(FileData{File: "Other.java", Refs: []Ref{fooClass}}))
	require.NoError(t, w.Flush())

	// Main.java recompiled without the reference.
	require.NoError(t, w.Register(FileData{File: "Main.java", Refs: []Ref{barCall}}))
	require.NoError(t, w.Flush())

	idx := openIndex(t, dir)
	assert.Equal(t, 2, idx.Segments())

	hits, err := idx.Search(fooClass)
	require.NoError(t, err)
	assert.Equal(t, []Hit{{File: "Other.java", Count: 1}}, hits)

	hits, err = idx.Search(barCall)
	require.NoError(t, err)
	assert.Equal(t, []Hit{{File: "Main.java", Count: 1}}, hits)
}

func TestReregisterWithinBufferReplaces(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	require.NoError(t, w.Register(FileData{File: "Main.java", Refs: []Ref{fooClass}}))
	require.NoError(t, w.Register(FileData{File: "Main.java", Refs: []Ref{barCall}}))
	require.NoError(t, w.Flush())

	idx := openIndex(t, dir)
	hits, err := idx.Search(fooClass)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRegisterValidation(t *testing.T) {
	w := NewWriter(t.TempDir())
	assert.ErrorIs(t, w.Register(FileData{}), apperrors.ErrInvalidInput)
	assert.ErrorIs(t, w.Register(FileData{File: "a", Refs: []Ref{{Name: "x", Kind: "module"}}}), apperrors.ErrInvalidInput)

	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Register(FileData{File: "a"}), apperrors.ErrIllegalState)
}

func TestCorruptSegmentFailsOpen(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	require.NoError(t, w.Register(FileData{File: "Main.java", Refs: []Ref{fooClass}}))
	require.NoError(t, w.Flush())

	paths, err := filepath.Glob(filepath.Join(dir, "*.bref"))
	require.NoError(t, err)
	require.Len(t, paths, 1)
	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	data[70] ^= 0xFF
	require.NoError(t, os.WriteFile(paths[0], data, 0o644))

	_, err = Open(dir)
	assert.ErrorIs(t, err, apperrors.ErrCodec)
}

func TestBatchedWriterEndToEnd(t *testing.T) {
	dir := t.TempDir()
	lock, err := filelock.New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { lock.Close() })

	bw := batch.NewWriter[FileData](NewWriter(dir), lock, batch.Options{Threshold: 2, MaxQueued: 10})
	hook := batch.NewCompletionHook(bw)
	for _, f := range []string{"A.java", "B.java", "C.java", "D.java"} {
		require.NoError(t, bw.Add(FileData{File: f, Refs: []Ref{fooClass}}))
	}
	require.NoError(t, hook.Finished(batch.TaskEvent{Kind: batch.TaskGenerate}))
	require.NoError(t, hook.Finished(batch.TaskEvent{Kind: batch.TaskGenerate}))

	idx := openIndex(t, dir)
	assert.Equal(t, 2, idx.Segments())
	hits, err := idx.Search(fooClass)
	require.NoError(t, err)
	assert.Len(t, hits, 4)
}

func TestBatchedWriterSkipsUnknownKind(t *testing.T) {
	dir := t.TempDir()
	lock, err := filelock.New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { lock.Close() })

	w := batch.NewWriter[FileData](NewWriter(dir), lock, batch.Options{Threshold: 3, MaxQueued: 10})
	require.NoError(t, w.Add(FileData{File: "A.java", Defs: []Ref{{Name: "A", Kind: KindClass}}}))
	require.NoError(t, w.Add(FileData{File: "Bad.java", Refs: []Ref{{Name: "A", Kind: "bogus"}}}))
	require.NoError(t, w.Add(FileData{File: "B.java", Refs: []Ref{{Name: "A", Kind: KindClass}}}))
	require.NoError(t, w.Add(FileData{File: "C.java", Refs: []Ref{{Name: "A", Kind: KindClass}}}))
	require.NoError(t, w.Close())

	idx := openIndex(t, dir)
	assert.Equal(t, []string{"A.java", "B.java", "C.java"}, idx.Files())
	hits, err := idx.Search(Ref{Name: "A", Kind: KindClass})
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}
