package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu    sync.Mutex
	units map[string]*string
}

func (r *recorder) apply(_ context.Context, path string, content *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.units == nil {
		r.units = make(map[string]*string)
	}
	r.units[path] = content
	return nil
}

func (r *recorder) get(path string) (*string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.units[path]
	return c, ok
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScanHonoursIncludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "foo bar")
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "baz")
	writeFile(t, filepath.Join(root, "notes.md"), "ignored")

	rec := &recorder{}
	w, err := New(root, rec.apply, Options{Include: []string{"**/*.txt"}})
	require.NoError(t, err)
	require.NoError(t, w.Scan(context.Background()))

	c, ok := rec.get("a.txt")
	require.True(t, ok)
	assert.Equal(t, "foo bar", *c)
	_, ok = rec.get("sub/b.txt")
	assert.True(t, ok)
	_, ok = rec.get("notes.md")
	assert.False(t, ok)
}

func TestInvalidPattern(t *testing.T) {
	_, err := New(t.TempDir(), (&recorder{}).apply, Options{Include: []string{"[a"}})
	assert.Error(t, err)
}

func TestRunAppliesChanges(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "foo")

	rec := &recorder{}
	w, err := New(root, rec.apply, Options{Debounce: 20 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	// Give the watcher time to register the root.
	time.Sleep(100 * time.Millisecond)

	writeFile(t, filepath.Join(root, "c.txt"), "new content")
	require.Eventually(t, func() bool {
		c, ok := rec.get("c.txt")
		return ok && c != nil && *c == "new content"
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(root, "a.txt")))
	require.Eventually(t, func() bool {
		c, ok := rec.get("a.txt")
		return ok && c == nil
	}, 3*time.Second, 20*time.Millisecond)

	writeFile(t, filepath.Join(root, "nested", "d.txt"), "deep")
	require.Eventually(t, func() bool {
		_, ok := rec.get("nested/d.txt")
		return ok
	}, 3*time.Second, 20*time.Millisecond)
}

func TestRunRetractsMovedDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pkg", "x.txt"), "x")
	writeFile(t, filepath.Join(root, "pkg", "sub", "y.txt"), "y")
	writeFile(t, filepath.Join(root, "keep.txt"), "k")

	rec := &recorder{}
	w, err := New(root, rec.apply, Options{Include: []string{"**/*.txt"}, Debounce: 20 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, w.Scan(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.Rename(filepath.Join(root, "pkg"), filepath.Join(t.TempDir(), "pkg")))
	require.Eventually(t, func() bool {
		x, okX := rec.get("pkg/x.txt")
		y, okY := rec.get("pkg/sub/y.txt")
		return okX && okY && x == nil && y == nil
	}, 3*time.Second, 20*time.Millisecond)

	k, ok := rec.get("keep.txt")
	require.True(t, ok)
	assert.NotNil(t, k)
}
