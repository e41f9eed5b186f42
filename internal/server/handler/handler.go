// Package handler exposes the word index over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/query"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/server/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/logger"
)

// Index is what the handler needs from the sharded word index.
type Index interface {
	query.Lookuper
	consumer.Updater
	FlushAll(ctx context.Context) error
	Status() []shard.Status
	Generation() uint64
	Epoch() string
	Trusted() bool
}

type Handler struct {
	index    Index
	executor *query.Executor
	cache    *cache.QueryCache
	registry consumer.Registry
	logger   *slog.Logger
}

// New creates a Handler. queryCache and registry may be nil.
func New(index Index, queryCache *cache.QueryCache, registry consumer.Registry) *Handler {
	return &Handler{
		index:    index,
		executor: query.NewExecutor(index),
		cache:    queryCache,
		registry: registry,
		logger:   slog.Default().With("component", "index-handler"),
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/words/{word}", h.Word)
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("PUT /api/v1/units", h.PutUnit)
	mux.HandleFunc("POST /api/v1/flush", h.Flush)
	mux.HandleFunc("GET /api/v1/status", h.Status)
}

type wordResponse struct {
	Word  string   `json:"word"`
	Files []string `json:"files"`
}

func (h *Handler) Word(w http.ResponseWriter, r *http.Request) {
	word := r.PathValue("word")
	files, err := h.index.Lookup(r.Context(), word)
	if err != nil {
		h.fail(w, r, "word lookup failed", err)
		return
	}
	if files == nil {
		files = []string{}
	}
	h.writeJSON(w, http.StatusOK, wordResponse{Word: word, Files: files})
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	q := r.URL.Query().Get("q")
	if q == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	plan := query.Parse(q)
	compute := func() (*query.Result, error) {
		return h.executor.Execute(ctx, plan)
	}

	var (
		result   *query.Result
		cacheHit bool
		err      error
	)
	if h.cache != nil && !plan.Empty() && h.index.Trusted() {
		version := cache.Version{Epoch: h.index.Epoch(), Generation: h.index.Generation()}
		result, cacheHit, err = h.cache.GetOrCompute(ctx, version, plan, compute)
	} else {
		result, err = compute()
	}
	if err != nil {
		h.fail(w, r, "search failed", err)
		return
	}

	log.Info("search completed",
		"query", q,
		"total_hits", result.TotalHits,
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

type unitRequest struct {
	Path    string  `json:"path"`
	Content *string `json:"content"`
}

type unitResponse struct {
	Path    string `json:"path"`
	Changed bool   `json:"changed"`
}

// PutUnit replaces a unit's content; a null content retracts it.
func (h *Handler) PutUnit(w http.ResponseWriter, r *http.Request) {
	var req unitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10<<20)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		h.writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	changed, err := consumer.Apply(r.Context(), h.index, h.registry, req.Path, req.Content)
	if err != nil {
		h.fail(w, r, "unit update failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, unitResponse{Path: req.Path, Changed: changed})
}

func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	if err := h.index.FlushAll(r.Context()); err != nil {
		h.fail(w, r, "flush failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

type statusResponse struct {
	Trusted     bool           `json:"trusted"`
	Generation  uint64         `json:"generation"`
	Shards      []shard.Status `json:"shards"`
	CacheHits   int64          `json:"cache_hits"`
	CacheMisses int64          `json:"cache_misses"`
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Trusted:    h.index.Trusted(),
		Generation: h.index.Generation(),
		Shards:     h.index.Status(),
	}
	if h.cache != nil {
		resp.CacheHits, resp.CacheMisses = h.cache.Stats()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error(msg, "error", err)
	} else {
		log.Warn(msg, "error", err)
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
