package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/logger"
)

// loadConfig loads the optional config file and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if dir := c.String("index-dir"); dir != "" {
		cfg.Backref.IndexDir = dir
	}
	logger.SetupTo(os.Stderr, c.String("log-level"), "text")
	return cfg, nil
}

func main() {
	app := &cli.App{
		Name:  "refcollect",
		Usage: "Collect compiler symbol references into a reference index and query it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path (optional)",
			},
			&cli.StringFlag{
				Name:    "index-dir",
				Aliases: []string{"d"},
				Usage:   "Reference index directory (overrides config)",
				EnvVars: []string{"IIX_BACKREF_INDEX_DIR"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
				Value: "warn",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "collect",
				Usage:     "Read JSON-lines file data and append it to the index",
				ArgsUsage: "[file|-]",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "threshold",
						Usage: "Records buffered before an automatic flush (overrides config)",
					},
				},
				Action: collectCommand,
			},
			{
				Name:      "refs",
				Usage:     "List files referencing or defining a symbol",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "kind",
						Aliases: []string{"k"},
						Usage:   "Symbol kind: class, method, field or function",
						Value:   "class",
					},
					&cli.BoolFlag{
						Name:    "json",
						Aliases: []string{"j"},
						Usage:   "Output as JSON",
					},
				},
				Action: refsCommand,
			},
			{
				Name:   "files",
				Usage:  "List indexed files",
				Action: filesCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "refcollect: %v\n", err)
		os.Exit(1)
	}
}
