// Package shard provides hash-based shard routing for word indexes. Each
// shard owns an independent wordindex.Index backed by its own data
// directory, and the Router dispatches units by path hash.
package shard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/wordindex"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/config"
)

// Status describes one shard.
type Status struct {
	ShardID int    `json:"shard_id"`
	DataDir string `json:"data_dir"`
	Trusted bool   `json:"trusted"`
	Cause   string `json:"rebuild_cause,omitempty"`
}

// Router maps paths to dedicated word index shards.
type Router struct {
	shards     []*wordindex.Index
	dirs       []string
	epoch      string
	generation atomic.Uint64
	logger     *slog.Logger
}

// NewRouter creates cfg.Shards word indexes, each in its own sub-directory
// under cfg.DataDir.
func NewRouter(cfg config.IndexerConfig, onRebuild indexer.RebuildFunc) (*Router, error) {
	numShards := cfg.Shards
	if numShards < 1 {
		numShards = 1
	}
	r := &Router{
		shards: make([]*wordindex.Index, 0, numShards),
		dirs:   make([]string, 0, numShards),
		epoch:  uuid.NewString(),
		logger: slog.Default().With("component", "shard-router"),
	}
	notify := func(index string, cause error) {
		r.generation.Add(1)
		if onRebuild != nil {
			onRebuild(index, cause)
		}
	}
	for i := 0; i < numShards; i++ {
		shardCfg := cfg
		shardCfg.DataDir = filepath.Join(cfg.DataDir, fmt.Sprintf("shard-%d", i))
		x, err := wordindex.Open(shardCfg, notify)
		if err != nil {
			r.closeAll()
			return nil, fmt.Errorf("creating index for shard %d: %w", i, err)
		}
		r.shards = append(r.shards, x)
		r.dirs = append(r.dirs, shardCfg.DataDir)
		r.logger.Info("shard index initialized",
			"shard_id", i,
			"data_dir", shardCfg.DataDir,
			"trusted", x.Trusted(),
		)
	}
	r.logger.Info("shard router ready", "num_shards", numShards, "epoch", r.epoch)
	return r, nil
}

// ShardFor returns the shard responsible for path.
func (r *Router) ShardFor(path string) int {
	return int(xxhash.Sum64String(path) % uint64(len(r.shards)))
}

// Route returns the index of the given shard.
func (r *Router) Route(shardID int) (*wordindex.Index, error) {
	if shardID < 0 || shardID >= len(r.shards) {
		return nil, fmt.Errorf("unknown shard ID %d (valid range: 0-%d)", shardID, len(r.shards)-1)
	}
	return r.shards[shardID], nil
}

func (r *Router) NumShards() int {
	return len(r.shards)
}

// Generation changes whenever indexed content may have changed or a shard
// stops being trusted. Callers use it with Epoch to key cached lookups.
func (r *Router) Generation() uint64 {
	return r.generation.Load()
}

// Epoch identifies this open of the router. Generations of different opens
// are unrelated.
func (r *Router) Epoch() string {
	return r.epoch
}

// Update re-indexes path on its shard.
func (r *Router) Update(path string, content *string) (bool, error) {
	changed, err := r.shards[r.ShardFor(path)].Update(path, content)
	if changed {
		r.generation.Add(1)
	}
	return changed, err
}

// QueryTerm normalizes word the way content is analyzed.
func (r *Router) QueryTerm(word string) (string, bool) {
	return r.shards[0].QueryTerm(word)
}

// Lookup returns the sorted paths containing word across every shard. If any
// shard fails the whole lookup fails.
func (r *Router) Lookup(ctx context.Context, word string) ([]string, error) {
	term, ok := r.QueryTerm(word)
	if !ok {
		return []string{}, nil
	}
	results := make([][]string, len(r.shards))
	g, ctx := errgroup.WithContext(ctx)
	for i, x := range r.shards {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			files, err := x.FilesByWord(term)
			if err != nil {
				return fmt.Errorf("shard %d, word %q: %w", i, term, err)
			}
			results[i] = files
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Error("shard lookup failed", "word", term, "error", err)
		return nil, err
	}
	merged := make([]string, 0)
	for _, files := range results {
		merged = append(merged, files...)
	}
	slices.Sort(merged)
	return slices.Compact(merged), nil
}

// FlushAll flushes every shard concurrently.
func (r *Router) FlushAll(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for i, x := range r.shards {
		g.Go(func() error {
			if err := x.Flush(); err != nil {
				r.logger.Error("flush failed", "shard_id", i, "error", err)
				return fmt.Errorf("flushing shard %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Clear empties every shard.
func (r *Router) Clear() error {
	defer r.generation.Add(1)
	var errs []error
	for i, x := range r.shards {
		if err := x.Clear(); err != nil {
			errs = append(errs, fmt.Errorf("clearing shard %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Resolve flushes every shard and marks it trusted again. Call it only
// after every unit has been re-indexed since Clear. On failure the shards
// that could not be resolved stay untrusted.
func (r *Router) Resolve() error {
	defer r.generation.Add(1)
	var errs []error
	for i, x := range r.shards {
		if err := x.Resolve(); err != nil {
			errs = append(errs, fmt.Errorf("resolving shard %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Trusted reports whether every shard is trusted.
func (r *Router) Trusted() bool {
	for _, x := range r.shards {
		if !x.Trusted() {
			return false
		}
	}
	return true
}

func (r *Router) Status() []Status {
	out := make([]Status, 0, len(r.shards))
	for i, x := range r.shards {
		st := Status{ShardID: i, DataDir: r.dirs[i], Trusted: x.Trusted()}
		if cause := x.RebuildCause(); cause != nil {
			st.Cause = cause.Error()
		}
		out = append(out, st)
	}
	return out
}

// StartFlushLoop starts every shard's periodic flush.
func (r *Router) StartFlushLoop(ctx context.Context) {
	for _, x := range r.shards {
		x.StartFlushLoop(ctx)
	}
}

// Close flushes and disposes every shard.
func (r *Router) Close() error {
	return r.closeAll()
}

func (r *Router) closeAll() error {
	var errs []error
	for i, x := range r.shards {
		if err := x.Dispose(); err != nil {
			r.logger.Error("close failed", "shard_id", i, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
