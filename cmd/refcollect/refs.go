package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/backref"
)

func openIndex(c *cli.Context) (*backref.Index, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return backref.Open(cfg.Backref.IndexDir)
}

func refsCommand(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return fmt.Errorf("symbol name is required")
	}
	ref := backref.Ref{Name: name, Kind: backref.Kind(c.String("kind"))}
	if !ref.Kind.Valid() {
		return fmt.Errorf("unknown kind %q", ref.Kind)
	}

	idx, err := openIndex(c)
	if err != nil {
		return err
	}
	defer idx.Close()

	hits, err := idx.Search(ref)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}
	if len(hits) == 0 {
		fmt.Printf("no files reference %s %s\n", ref.Kind, ref.Name)
		return nil
	}
	for _, h := range hits {
		marker := ""
		if h.Defined {
			marker = " (defines)"
		}
		fmt.Printf("%s\t%d%s\n", h.File, h.Count, marker)
	}
	return nil
}

func filesCommand(c *cli.Context) error {
	idx, err := openIndex(c)
	if err != nil {
		return err
	}
	defer idx.Close()
	for _, f := range idx.Files() {
		fmt.Println(f)
	}
	return nil
}
