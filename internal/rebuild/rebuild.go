// Package rebuild turns "index cannot be trusted" notifications into full
// re-indexes: clear the target, replay every known unit, flush, and only then
// mark the target trusted.
package rebuild

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/tracing"
)

// Target is the index being rebuilt. *shard.Router satisfies it.
type Target interface {
	Clear() error
	Update(path string, content *string) (bool, error)
	FlushAll(ctx context.Context) error
	Resolve() error
}

// Source enumerates every unit the target should contain. The unit registry
// and the directory watcher both satisfy it.
type Source interface {
	ForEach(ctx context.Context, fn func(path string, content *string) error) error
}

// Event is published once per rebuild so other consumers of the index can
// drop derived state.
type Event struct {
	ID          string    `json:"id"`
	Index       string    `json:"index"`
	Cause       string    `json:"cause"`
	RequestedAt time.Time `json:"requested_at"`
}

type request struct {
	index string
	cause error
	at    time.Time
}

// Orchestrator serializes rebuilds. Requests arriving while one is pending
// coalesce into it.
type Orchestrator struct {
	source     Source
	publisher  kafka.Publisher
	timeout    time.Duration
	retryDelay time.Duration
	requests   chan request
	logger     *slog.Logger
}

// New creates an Orchestrator. source and publisher may be nil: without a
// source the target is only cleared and refills from new events, without a
// publisher no Event is sent. Requests made before Run starts are kept.
func New(source Source, publisher kafka.Publisher) *Orchestrator {
	return &Orchestrator{
		source:     source,
		publisher:  publisher,
		timeout:    5 * time.Second,
		retryDelay: 10 * time.Second,
		requests:   make(chan request, 1),
		logger:     slog.Default().With("component", "rebuild"),
	}
}

// Request queues a rebuild without blocking. It has the shape of
// indexer.RebuildFunc and is safe to call with an engine lock held.
func (o *Orchestrator) Request(index string, cause error) {
	select {
	case o.requests <- request{index: index, cause: cause, at: time.Now()}:
		o.logger.Warn("rebuild queued", "index", index, "error", cause)
	default:
		o.logger.Debug("rebuild already pending", "index", index, "error", cause)
	}
}

// Run rebuilds target on every request until ctx is cancelled. The target
// stays untrusted while a rebuild runs; a failed rebuild is requested again
// after a delay.
func (o *Orchestrator) Run(ctx context.Context, target Target) error {
	o.logger.Info("rebuild orchestrator started")
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("rebuild orchestrator stopping")
			return nil
		case req := <-o.requests:
			err := o.rebuild(ctx, target, req)
			if err == nil {
				continue
			}
			o.logger.Error("rebuild failed", "index", req.index, "error", err, "retry_in", o.retryDelay)
			select {
			case <-ctx.Done():
				o.logger.Info("rebuild orchestrator stopping")
				return nil
			case <-time.After(o.retryDelay):
			}
			o.Request(req.index, fmt.Errorf("previous rebuild failed: %w", err))
		}
	}
}

// RebuildNow runs a rebuild synchronously on the caller's goroutine.
func (o *Orchestrator) RebuildNow(ctx context.Context, target Target, index string, cause error) error {
	return o.rebuild(ctx, target, request{index: index, cause: cause, at: time.Now()})
}

func (o *Orchestrator) rebuild(ctx context.Context, target Target, req request) (err error) {
	id := uuid.NewString()
	logger := o.logger.With("rebuild_id", id, "index", req.index)
	logger.Info("rebuild starting", "cause", req.cause)

	ctx, span := tracing.Start(ctx, "rebuild", id)
	defer func() {
		span.End(err)
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.Rebuilds.WithLabelValues(status).Observe(span.Duration.Seconds())
		span.Log(logger)
	}()

	o.notify(ctx, logger, Event{
		ID:          id,
		Index:       req.index,
		Cause:       errString(req.cause),
		RequestedAt: req.at,
	})

	if err := o.phase(ctx, "clear", func(context.Context) error {
		return target.Clear()
	}); err != nil {
		return fmt.Errorf("clearing index: %w", err)
	}

	if o.source != nil {
		err := o.phase(ctx, "replay", func(ctx context.Context) error {
			replayed := 0
			defer func() { tracing.FromContext(ctx).SetAttr("units", replayed) }()
			return o.source.ForEach(ctx, func(path string, content *string) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				if _, err := target.Update(path, content); err != nil {
					return fmt.Errorf("replaying %s: %w", path, err)
				}
				replayed++
				return nil
			})
		})
		if err != nil {
			return err
		}
	}

	if err := o.phase(ctx, "flush", target.FlushAll); err != nil {
		return fmt.Errorf("flushing rebuilt index: %w", err)
	}
	if err := o.phase(ctx, "resolve", func(context.Context) error {
		return target.Resolve()
	}); err != nil {
		return fmt.Errorf("resolving rebuilt index: %w", err)
	}
	logger.Info("rebuild complete")
	return nil
}

// phase runs fn in a child span.
func (o *Orchestrator) phase(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := tracing.Start(ctx, name, "")
	err := fn(ctx)
	span.End(err)
	return err
}

// notify publishes ev with retry. Delivery failure does not stop the rebuild.
func (o *Orchestrator) notify(ctx context.Context, logger *slog.Logger, ev Event) {
	if o.publisher == nil {
		return
	}
	err := resilience.Retry(ctx, "publish-rebuild", resilience.RetryConfig{MaxAttempts: 3}, func() error {
		return resilience.WithTimeout(ctx, o.timeout, "publish-rebuild", func(ctx context.Context) error {
			return o.publisher.Publish(ctx, kafka.Event{Key: ev.Index, Value: ev})
		})
	})
	if err != nil {
		logger.Warn("rebuild event not published", "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
