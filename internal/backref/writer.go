package backref

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/backref/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/metrics"
)

// Writer is the sink behind the batched writer: Register buffers a file in
// memory and Flush writes everything buffered as one segment.
type Writer struct {
	mu     sync.Mutex
	dir    string
	buf    *buffer
	seg    *segment.Writer
	closed bool
	logger *slog.Logger
}

func NewWriter(dir string) *Writer {
	return &Writer{
		dir:    dir,
		buf:    newBuffer(),
		seg:    segment.NewWriter(dir),
		logger: slog.Default().With("component", "backref-writer", "dir", dir),
	}
}

func (w *Writer) Register(fd FileData) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("%w: reference writer is closed", apperrors.ErrIllegalState)
	}
	if fd.File == "" {
		return fmt.Errorf("%w: file data without file name", apperrors.ErrInvalidInput)
	}
	for _, r := range fd.Refs {
		if err := r.validate(); err != nil {
			return fmt.Errorf("%w: %s: %w", apperrors.ErrInvalidInput, fd.File, err)
		}
	}
	for _, r := range fd.Defs {
		if err := r.validate(); err != nil {
			return fmt.Errorf("%w: %s: %w", apperrors.ErrInvalidInput, fd.File, err)
		}
	}
	w.buf.add(fd)
	return nil
}

// Flush writes the buffer as a new segment. An empty buffer writes nothing.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.empty() {
		return nil
	}
	entries, files := w.buf.snapshot()
	name, err := w.seg.Write(entries, files)
	if err != nil {
		return apperrors.Storage("writing reference segment", err)
	}
	metrics.SegmentsWritten.Inc()
	w.logger.Info("segment written",
		"segment", name,
		"terms", len(entries),
		"files", len(files),
	)
	w.buf.reset()
	return nil
}

// Close marks the writer closed. Anything still buffered is discarded; the
// batched writer flushes before closing.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed && !w.buf.empty() {
		w.logger.Warn("closing with unflushed files", "files", len(w.buf.files))
	}
	w.closed = true
	return nil
}
