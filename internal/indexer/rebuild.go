package indexer

import (
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/indexer/stamp"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/metrics"
)

// RebuildFunc is told, at most once per corruption episode, that an index can
// no longer be trusted. It runs synchronously on the goroutine that detected
// the problem, possibly while the engine lock is held, so it must not call
// back into the engine.
type RebuildFunc func(index string, cause error)

// FailFast panics with the cause. Useful in tests and tools where a corrupt
// index is a bug.
func FailFast(index string, cause error) {
	panic(fmt.Sprintf("index %s requires rebuild: %v", index, cause))
}

// Record does nothing; the cause stays available through RebuildCause.
func Record(string, error) {}

type rebuildRequest struct {
	cause error
	at    time.Time
}

// requestRebuild marks the index untrusted. Only the first detection of an
// episode logs, persists the rebuild state and notifies.
func (e *Engine[K, V, I]) requestRebuild(cause error) {
	req := &rebuildRequest{cause: cause, at: time.Now()}
	if !e.rebuild.CompareAndSwap(nil, req) {
		metrics.RebuildRequests.WithLabelValues(e.desc.Name, "coalesced").Inc()
		e.logger.Debug("rebuild already requested", "error", cause)
		return
	}
	e.logger.Error("index cannot be trusted, rebuild requested", "error", cause)
	if err := e.writeStamp(stamp.StateRebuild); err != nil {
		e.logger.Warn("persisting rebuild state failed", "error", err)
	}
	metrics.RebuildRequests.WithLabelValues(e.desc.Name, "reported").Inc()
	if e.onRebuild != nil {
		e.onRebuild(e.desc.Name, cause)
	}
}

// Trusted reports whether no rebuild has been requested since open or the
// last Resolve.
func (e *Engine[K, V, I]) Trusted() bool {
	return e.rebuild.Load() == nil
}

// RebuildCause returns what made the index untrusted, or nil.
func (e *Engine[K, V, I]) RebuildCause() error {
	if req := e.rebuild.Load(); req != nil {
		return req.cause
	}
	return nil
}
