package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/query"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/server/cache"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/errors"
)

func newServer(t *testing.T, idx Index) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	New(idx, nil, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newRouter(t *testing.T) *shard.Router {
	t.Helper()
	cfg := config.DefaultIndexer()
	cfg.DataDir = t.TempDir()
	cfg.Shards = 2
	r, err := shard.NewRouter(cfg, indexer.Record)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestUnitLifecycle(t *testing.T) {
	srv := newServer(t, newRouter(t))

	resp, body := do(t, http.MethodPut, srv.URL+"/api/v1/units", `{"path":"a.txt","content":"foo bar"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["changed"])

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/words/foo", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"a.txt"}, body["files"])

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/search?q=foo+AND+bar", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total_hits"])

	resp, _ = do(t, http.MethodPut, srv.URL+"/api/v1/units", `{"path":"a.txt","content":null}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = do(t, http.MethodGet, srv.URL+"/api/v1/words/foo", "")
	assert.Equal(t, []any{}, body["files"])

	resp, body = do(t, http.MethodPost, srv.URL+"/api/v1/flush", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "flushed", body["status"])

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["trusted"])
	assert.Len(t, body["shards"], 2)
}

func TestBadRequests(t *testing.T) {
	srv := newServer(t, newRouter(t))

	resp, _ := do(t, http.MethodPut, srv.URL+"/api/v1/units", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPut, srv.URL+"/api/v1/units", `{"content":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/search", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

type brokenIndex struct{ err error }

func (b brokenIndex) Lookup(context.Context, string) ([]string, error) { return nil, b.err }
func (b brokenIndex) Update(string, *string) (bool, error) { return false, b.err }
func (b brokenIndex) FlushAll(context.Context) error { return b.err }
func (b brokenIndex) Status() []shard.Status { return nil }
func (b brokenIndex) Generation() uint64 { return 0 }
func (b brokenIndex) Epoch() string { return "broken" }
func (b brokenIndex) Trusted() bool { return false }

var _ query.Lookuper = brokenIndex{}

func TestRebuildRequestedIsUnavailable(t *testing.T) {
	err := fmt.Errorf("%w: %w", apperrors.ErrStorage, apperrors.ErrRebuildRequested)
	srv := newServer(t, brokenIndex{err: err})

	resp, _ := do(t, http.MethodGet, srv.URL+"/api/v1/words/foo", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/search?q=foo", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/flush", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, goredis.Nil
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func openRouterAt(t *testing.T, dir string, version int) *shard.Router {
	t.Helper()
	cfg := config.DefaultIndexer()
	cfg.DataDir = dir
	cfg.Shards = 2
	cfg.SchemaVersion = version
	r, err := shard.NewRouter(cfg, indexer.Record)
	require.NoError(t, err)
	return r
}

func newCachedServer(t *testing.T, idx Index, store cache.Store) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	New(idx, cache.New(store, time.Minute), nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCachedSearchAcrossReopens(t *testing.T) {
	dir := t.TempDir()
	store := &memStore{data: make(map[string][]byte)}

	r := openRouterAt(t, dir, 1)
	srv := newCachedServer(t, r, store)
	_, body := do(t, http.MethodGet, srv.URL+"/api/v1/search?q=foo", "")
	assert.EqualValues(t, 0, body["total_hits"])
	resp, _ := do(t, http.MethodPut, srv.URL+"/api/v1/units", `{"path":"a.txt","content":"foo bar"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	srv.Close()
	require.NoError(t, r.Close())

	r = openRouterAt(t, dir, 1)
	srv = newCachedServer(t, r, store)
	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/search?q=foo", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total_hits"], "a reopened router must not see the previous open's entries")
	srv.Close()
	require.NoError(t, r.Close())

	r = openRouterAt(t, dir, 99)
	defer r.Close()
	srv = newCachedServer(t, r, store)
	require.False(t, r.Trusted())
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/words/foo", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/search?q=foo", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
