// Package indexer implements the incremental index engine: an extraction
// function turns a unit's input into (key, value) contributions, which are
// merged into a durable inverted store while a forward store remembers what
// each unit contributed so re-indexing retracts exactly the stale entries.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/indexer/forward"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/indexer/stamp"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/indexer/storage"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/metrics"
)

// Engine is one index instance. Updates are serialized; lookups run
// concurrently with each other.
type Engine[K comparable, V any, I any] struct {
	desc      Descriptor[K, V, I]
	cfg       config.IndexerConfig
	dir       string
	inverted  *storage.PebbleStorage
	forward   *forward.Store
	mu        sync.RWMutex
	disposed  bool
	createdAt time.Time
	rebuild   atomic.Pointer[rebuildRequest]
	onRebuild RebuildFunc
	logger    *slog.Logger
}

// NewEngine opens the index described by desc under cfg.DataDir. I/O
// failures fail construction; a stale, foreign or uncleanly closed index
// opens anyway and requests a rebuild.
func NewEngine[K comparable, V any, I any](desc Descriptor[K, V, I], cfg config.IndexerConfig, onRebuild RebuildFunc) (*Engine[K, V, I], error) {
	if err := desc.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	}
	dir := filepath.Join(cfg.DataDir, desc.Name)
	inverted, err := storage.OpenPebble(filepath.Join(dir, "inverted"), storage.Options{
		CacheSize:       cfg.CacheSize,
		WriteBufferSize: cfg.WriteBufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("opening index %s: %w", desc.Name, err)
	}
	fwd, err := forward.Open(filepath.Join(dir, "forward"))
	if err != nil {
		inverted.Close()
		return nil, fmt.Errorf("opening index %s: %w", desc.Name, err)
	}
	e := &Engine[K, V, I]{
		desc:      desc,
		cfg:       cfg,
		dir:       dir,
		inverted:  inverted,
		forward:   fwd,
		createdAt: time.Now(),
		onRebuild: onRebuild,
		logger:    slog.Default().With("component", "indexer", "index", desc.Name),
	}

	cause := e.checkStamp()
	state := stamp.StateOpen
	if cause != nil {
		state = stamp.StateRebuild
	}
	if err := e.writeStamp(state); err != nil {
		fwd.Close()
		inverted.Close()
		return nil, fmt.Errorf("opening index %s: %w", desc.Name, err)
	}
	e.logger.Info("index opened",
		"dir", dir,
		"version", desc.Version,
		"trusted", cause == nil,
	)
	if cause != nil {
		e.requestRebuild(cause)
	}
	return e, nil
}

// checkStamp returns why the on-disk index cannot be trusted, or nil.
func (e *Engine[K, V, I]) checkStamp() error {
	s, err := stamp.Read(e.dir)
	if errors.Is(err, stamp.ErrNotExist) {
		return e.checkUnstamped()
	}
	if err != nil {
		return err
	}
	e.createdAt = s.CreatedAt
	switch {
	case s.SchemaVersion != uint64(e.desc.Version):
		return fmt.Errorf("%w: stored version %d, descriptor version %d",
			apperrors.ErrVersionMismatch, s.SchemaVersion, e.desc.Version)
	case s.State == stamp.StateOpen:
		return apperrors.ErrUncleanShutdown
	case s.State == stamp.StateRebuild:
		return fmt.Errorf("%w: previous request was never completed", apperrors.ErrRebuildRequested)
	}
	return nil
}

// checkUnstamped accepts a missing stamp only for an index that holds no
// data; anything already stored was written under an unknown version.
func (e *Engine[K, V, I]) checkUnstamped() error {
	for _, st := range []interface{ Empty() (bool, error) }{e.inverted, e.forward} {
		empty, err := st.Empty()
		if err != nil {
			return err
		}
		if !empty {
			return fmt.Errorf("%w: index holds data but has no stamp", apperrors.ErrVersionMismatch)
		}
	}
	return nil
}

func (e *Engine[K, V, I]) writeStamp(state stamp.State) error {
	return stamp.Write(e.dir, stamp.Stamp{
		SchemaVersion: uint64(e.desc.Version),
		State:         state,
		CreatedAt:     e.createdAt,
	})
}

func (e *Engine[K, V, I]) Name() string { return e.desc.Name }

func (e *Engine[K, V, I]) Version() int { return e.desc.Version }

func (e *Engine[K, V, I]) illegalState(op string) error {
	return fmt.Errorf("%w: %s on disposed index %s", apperrors.ErrIllegalState, op, e.desc.Name)
}

// GetData returns the values currently attributed to key.
func (e *Engine[K, V, I]) GetData(key K) (*ValueContainer[V], error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.disposed {
		return nil, e.illegalState("lookup")
	}
	if req := e.rebuild.Load(); req != nil {
		metrics.LookupsTotal.WithLabelValues(e.desc.Name, "error").Inc()
		return nil, fmt.Errorf("%w: %w: index %s: %w",
			apperrors.ErrStorage, apperrors.ErrRebuildRequested, e.desc.Name, req.cause)
	}
	kb, err := e.desc.Keys.Serialize(key)
	if err != nil {
		metrics.LookupsTotal.WithLabelValues(e.desc.Name, "error").Inc()
		return nil, fmt.Errorf("serializing key: %w", err)
	}
	c, err := e.read(kb)
	if err != nil {
		metrics.LookupsTotal.WithLabelValues(e.desc.Name, "error").Inc()
		e.requestRebuild(err)
		return nil, apperrors.Storage(fmt.Sprintf("reading index %s", e.desc.Name), err)
	}
	outcome := "hit"
	if c.Len() == 0 {
		outcome = "empty"
	}
	metrics.LookupsTotal.WithLabelValues(e.desc.Name, outcome).Inc()
	return c, nil
}

func (e *Engine[K, V, I]) read(key []byte) (*ValueContainer[V], error) {
	raw, err := e.inverted.Get(key)
	if err != nil {
		return nil, err
	}
	c := &ValueContainer[V]{
		values: make([]V, 0, raw.Len()),
		units:  make([][]UnitID, 0, raw.Len()),
	}
	for entry := range raw.Entries() {
		v, err := e.desc.Values.Deserialize(entry.Value)
		if err != nil {
			return nil, err
		}
		c.values = append(c.values, v)
		c.units = append(c.units, entry.Units)
	}
	return c, nil
}

// Flush makes every computed update durable.
func (e *Engine[K, V, I]) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return e.illegalState("flush")
	}
	if err := e.flushLocked(); err != nil {
		e.requestRebuild(err)
		return err
	}
	return nil
}

func (e *Engine[K, V, I]) flushLocked() error {
	if err := e.inverted.Flush(); err != nil {
		return err
	}
	return e.forward.Flush()
}

// Clear drops all indexed content so the owner can re-index from scratch.
// A pending rebuild request stays pending: the emptied index is not trusted
// until Resolve.
func (e *Engine[K, V, I]) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return e.illegalState("clear")
	}
	if err := e.inverted.Clear(); err != nil {
		return err
	}
	if err := e.forward.Clear(); err != nil {
		return err
	}
	e.createdAt = time.Now()
	state := stamp.StateOpen
	if !e.Trusted() {
		state = stamp.StateRebuild
	}
	if err := e.writeStamp(state); err != nil {
		return err
	}
	e.logger.Info("index cleared", "trusted", e.Trusted())
	return nil
}

// Resolve ends the current corruption episode once the owner has re-indexed
// every unit. It makes the content durable first; if that fails the index
// stays untrusted.
func (e *Engine[K, V, I]) Resolve() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return e.illegalState("resolve")
	}
	if err := e.flushLocked(); err != nil {
		return err
	}
	if err := e.writeStamp(stamp.StateOpen); err != nil {
		return err
	}
	if prev := e.rebuild.Swap(nil); prev != nil {
		e.logger.Info("rebuild request resolved", "requested_at", prev.at)
	}
	return nil
}

// StartFlushLoop flushes the index every cfg.FlushInterval until ctx is
// done, then flushes once more.
func (e *Engine[K, V, I]) StartFlushLoop(ctx context.Context) {
	if e.cfg.FlushInterval <= 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.FlushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("flush loop stopping, performing final flush")
				if err := e.Flush(); err != nil && !errors.Is(err, apperrors.ErrIllegalState) {
					e.logger.Error("final flush failed", "error", err)
				}
				return
			case <-ticker.C:
				if err := e.Flush(); err != nil {
					if errors.Is(err, apperrors.ErrIllegalState) {
						return
					}
					e.logger.Error("periodic flush failed", "error", err)
				}
			}
		}
	}()
}

// Dispose flushes and closes the index. The stamp is marked clean only if the
// index is still trusted. Calling Dispose again is a no-op.
func (e *Engine[K, V, I]) Dispose() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return nil
	}
	e.disposed = true

	var errs []error
	flushErr := e.flushLocked()
	if flushErr != nil {
		errs = append(errs, flushErr)
	}
	if flushErr == nil && e.Trusted() {
		if err := e.writeStamp(stamp.StateClean); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.forward.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.inverted.Close(); err != nil {
		errs = append(errs, err)
	}
	e.logger.Info("index disposed", "trusted", e.Trusted())
	return errors.Join(errs...)
}
