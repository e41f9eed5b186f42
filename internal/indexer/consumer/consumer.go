// Package consumer reads unit events from Kafka and applies them to the
// sharded word index, recording each unit in the registry when one is
// configured.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/units"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/kafka"
)

// UnitEvent is one change to a unit. A null content retracts the unit.
type UnitEvent struct {
	Path    string  `json:"path"`
	Content *string `json:"content"`
	Version int64   `json:"version"`
}

// Updater applies a unit's new content to an index. The router satisfies it.
type Updater interface {
	Update(path string, content *string) (bool, error)
}

// Registry records units so they can be replayed. *units.Registry satisfies
// it.
type Registry interface {
	Save(ctx context.Context, path string, content *string) error
	SetStatus(ctx context.Context, path, status string)
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that applies every unit event
// to idx. If reg is non-nil the unit is saved before indexing and its status
// is set to INDEXED or FAILED afterwards.
func HandleMessage(idx Updater, reg Registry) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[UnitEvent](value)
		if err != nil {
			logger.Error("failed to decode unit event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		if event.Path == "" {
			logger.Error("unit event without path", "key", string(key))
			return nil
		}

		logger.Debug("processing unit event",
			"path", event.Path,
			"version", event.Version,
			"retract", event.Content == nil,
		)

		changed, err := Apply(ctx, idx, reg, event.Path, event.Content)
		if err != nil {
			return err
		}

		logger.Info("unit indexed",
			"path", event.Path,
			"version", event.Version,
			"changed", changed,
		)
		return nil
	}
}

// Apply records the unit in reg, if non-nil, then applies it to idx and
// stores the resulting status.
func Apply(ctx context.Context, idx Updater, reg Registry, path string, content *string) (bool, error) {
	if reg != nil {
		if err := reg.Save(ctx, path, content); err != nil {
			return false, fmt.Errorf("recording unit %s: %w", path, err)
		}
	}
	changed, err := idx.Update(path, content)
	if err != nil {
		if reg != nil {
			reg.SetStatus(ctx, path, units.StatusFailed)
		}
		return false, fmt.Errorf("indexing unit %s: %w", path, err)
	}
	if reg != nil {
		reg.SetStatus(ctx, path, units.StatusIndexed)
	}
	return changed, nil
}
