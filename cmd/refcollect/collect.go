package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/backref"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/batch"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/filelock"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/resilience"
)

// collectCommand feeds one compilation's references into the index. End of
// input is the compilation's completion signal.
func collectCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	opts := batch.Options{
		Threshold: cfg.Backref.BatchThreshold,
		MaxQueued: cfg.Backref.MaxQueued,
	}
	if t := c.Int("threshold"); t > 0 {
		opts.Threshold = t
	}

	var in io.Reader = os.Stdin
	if path := c.Args().First(); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		in = f
	}

	lock, err := filelock.New(cfg.Backref.IndexDir)
	if err != nil {
		return err
	}
	defer lock.Close()

	w := batch.NewWriter[backref.FileData](backref.NewWriter(cfg.Backref.IndexDir), lock, opts)
	hook := batch.NewCompletionHook(w)

	start := time.Now()
	n, err := backref.Collect(c.Context, in, w, resilience.RetryConfig{
		MaxAttempts:  cfg.Backref.FlushRetries,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	})
	if err != nil {
		if cerr := hook.Finished(batch.TaskEvent{Kind: batch.TaskGenerate}); cerr != nil {
			slog.Error("closing writer failed", "error", cerr)
		}
		return fmt.Errorf("collecting references: %w", err)
	}
	if err := hook.Finished(batch.TaskEvent{Kind: batch.TaskGenerate}); err != nil {
		return fmt.Errorf("closing writer: %w", err)
	}
	slog.Info("references collected",
		"files", n,
		"index_dir", cfg.Backref.IndexDir,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
