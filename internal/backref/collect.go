package backref

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/batch"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/resilience"
)

// Collect reads JSON-lines FileData from r into w. Flushes that fail on the
// lock or a full queue are retried per retry; the records stay queued in
// between. Blank lines are skipped and a malformed line aborts with
// ErrInvalidInput. It returns the number of records added.
func Collect(ctx context.Context, r io.Reader, w *batch.Writer[FileData], retry resilience.RetryConfig) (int, error) {
	retry.Retryable = func(err error) bool {
		return errors.Is(err, apperrors.ErrLock) || errors.Is(err, apperrors.ErrQueueFull)
	}
	logger := slog.Default().With("component", "backref-collect")

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	n, line := 0, 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var fd FileData
		if err := json.Unmarshal(raw, &fd); err != nil {
			return n, fmt.Errorf("%w: line %d: %w", apperrors.ErrInvalidInput, line, err)
		}
		err := w.Add(fd)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrQueueFull):
			if err := resilience.Retry(ctx, "backref-flush", retry, w.Flush); err != nil {
				return n, err
			}
			if err := w.Add(fd); err != nil {
				return n, fmt.Errorf("line %d: %w", line, err)
			}
		case errors.Is(err, apperrors.ErrLock):
			// The record is queued; only the threshold flush failed.
			logger.Warn("threshold flush failed, will retry", "line", line, "error", err)
		default:
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("reading input: %w", err)
	}
	if err := resilience.Retry(ctx, "backref-flush", retry, w.Flush); err != nil {
		return n, err
	}
	return n, nil
}
