// Package batch buffers already-extracted records in memory and persists
// them through a Sink under a cross-process lock, either when the buffer
// passes a threshold or on explicit Flush/Close.
package batch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/metrics"
)

const (
	DefaultThreshold = 100
	DefaultMaxQueued = 10000
)

// ErrLost is returned by Close when records could not be persisted.
var ErrLost = errors.New("batch records lost")

// Sink is the underlying writer. Register buffers one record, Flush makes
// everything registered so far durable.
type Sink[R any] interface {
	Register(rec R) error
	Flush() error
	Close() error
}

// Locker runs fn while holding an exclusive lock. *filelock.Lock satisfies
// it.
type Locker interface {
	Do(fn func() error) error
}

type Options struct {
	// Threshold is the queue length that, once exceeded, makes Add flush.
	Threshold int
	// MaxQueued bounds the queue while flushes keep failing.
	MaxQueued int
}

// Writer is safe for concurrent use within a process. Cross-process
// exclusion comes only from the Locker.
type Writer[R any] struct {
	mu        sync.Mutex
	sink      Sink[R]
	lock      Locker
	queue     []R
	dirty     bool
	unflushed int
	closed    bool
	threshold int
	maxQueued int
	logger    *slog.Logger
}

func NewWriter[R any](sink Sink[R], lock Locker, opts Options) *Writer[R] {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MaxQueued <= opts.Threshold {
		opts.MaxQueued = max(DefaultMaxQueued, opts.Threshold+1)
	}
	return &Writer[R]{
		sink:      sink,
		lock:      lock,
		threshold: opts.Threshold,
		maxQueued: opts.MaxQueued,
		logger:    slog.Default().With("component", "batch-writer"),
	}
}

// Add queues rec and flushes once the queue exceeds the threshold. If that
// flush fails the error is returned but rec stays queued; callers must not
// add it again. A full queue rejects rec with ErrQueueFull.
func (w *Writer[R]) Add(rec R) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("%w: batch writer is closed", apperrors.ErrIllegalState)
	}
	if len(w.queue) >= w.maxQueued {
		return fmt.Errorf("%w: %d records pending", apperrors.ErrQueueFull, len(w.queue))
	}
	w.queue = append(w.queue, rec)
	metrics.BatchQueueDepth.Set(float64(len(w.queue)))
	if len(w.queue) > w.threshold {
		return w.flushLocked("threshold")
	}
	return nil
}

// Flush drains the queue into the sink under the lock. On ErrLock every
// record stays queued. A record the sink rejects with ErrInvalidInput is
// dropped and logged; any other Register failure leaves the failing record
// and everything after it queued.
func (w *Writer[R]) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("%w: batch writer is closed", apperrors.ErrIllegalState)
	}
	return w.flushLocked("explicit")
}

// Close flushes and closes the sink. Only the first call does anything; the
// writer counts as closed even when that call fails, and the records still
// queued or registered but not yet flushed at that point are lost. The
// returned error then matches ErrLost and reports how many were dropped.
func (w *Writer[R]) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	ferr := w.flushLocked("close")
	if lost := len(w.queue) + w.unflushed; ferr != nil && lost > 0 {
		w.logger.Error("closing with unflushed records", "lost", lost, "error", ferr)
		ferr = fmt.Errorf("%w: %d records: %w", ErrLost, lost, ferr)
		w.queue = nil
		metrics.BatchQueueDepth.Set(0)
	}
	return errors.Join(ferr, w.sink.Close())
}

// Pending returns the number of queued records.
func (w *Writer[R]) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

func (w *Writer[R]) flushLocked(trigger string) error {
	if len(w.queue) == 0 && !w.dirty {
		return nil
	}
	n := len(w.queue)
	rejected := 0
	err := w.lock.Do(func() error {
		for len(w.queue) > 0 {
			err := w.sink.Register(w.queue[0])
			if err != nil && !errors.Is(err, apperrors.ErrInvalidInput) {
				return fmt.Errorf("registering record: %w", err)
			}
			var zero R
			w.queue[0] = zero
			w.queue = w.queue[1:]
			if err != nil {
				rejected++
				metrics.BatchRejected.Inc()
				w.logger.Warn("dropping invalid record", "error", err)
				continue
			}
			w.dirty = true
			w.unflushed++
		}
		w.queue = nil
		if err := w.sink.Flush(); err != nil {
			return fmt.Errorf("flushing sink: %w", err)
		}
		w.dirty = false
		w.unflushed = 0
		return nil
	})
	metrics.BatchQueueDepth.Set(float64(len(w.queue)))
	if err != nil {
		metrics.BatchFlushes.WithLabelValues(trigger, "error").Inc()
		w.logger.Warn("batch flush failed",
			"trigger", trigger,
			"pending", len(w.queue),
			"error", err,
		)
		return err
	}
	metrics.BatchFlushes.WithLabelValues(trigger, "success").Inc()
	w.logger.Debug("batch flushed", "trigger", trigger, "records", n-rejected, "rejected", rejected)
	return nil
}
