package batch

import (
	"io"
	"log/slog"
	"sync"
)

type TaskKind string

const (
	TaskParse    TaskKind = "parse"
	TaskAnalyze  TaskKind = "analyze"
	TaskGenerate TaskKind = "generate"
)

// TaskEvent is a compiler driver's notification that a task finished.
type TaskEvent struct {
	Kind TaskKind
	Unit string
}

// CompletionHook closes a writer when code generation finishes. Several
// listeners may report the same completion; the writer is closed once.
type CompletionHook struct {
	once   sync.Once
	closer io.Closer
	err    error
	logger *slog.Logger
}

func NewCompletionHook(closer io.Closer) *CompletionHook {
	return &CompletionHook{
		closer: closer,
		logger: slog.Default().With("component", "completion-hook"),
	}
}

// Finished ignores everything but generate events. The first generate event
// closes the writer; later ones return the same result.
func (h *CompletionHook) Finished(ev TaskEvent) error {
	if ev.Kind != TaskGenerate {
		return nil
	}
	h.once.Do(func() {
		h.logger.Info("generation finished, closing writer", "unit", ev.Unit)
		h.err = h.closer.Close()
	})
	return h.err
}
