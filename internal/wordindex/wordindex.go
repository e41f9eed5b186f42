// Package wordindex maps words to the paths of the files containing them. It
// is the engine's reference index: unit ids are derived from paths, and each
// file contributes (word → path) for every word of its content.
package wordindex

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/codec"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/config"
)

const (
	AnalyzerWhitespace = "whitespace"
	AnalyzerStemmed    = "stemmed"
)

// Document is the indexer input: a file path and its content.
type Document struct {
	Path    string
	Content string
}

// UnitID returns the unit id of path.
func UnitID(path string) indexer.UnitID {
	return indexer.UnitID(xxhash.Sum64String(path))
}

// Descriptor returns the word index definition for the given analyzer.
func Descriptor(name string, version int, analyzer string) (indexer.Descriptor[string, string, Document], error) {
	var split func(string) []string
	switch analyzer {
	case AnalyzerWhitespace, "":
		split = tokenizer.Words
	case AnalyzerStemmed:
		split = tokenizer.Terms
	default:
		return indexer.Descriptor[string, string, Document]{}, fmt.Errorf("unknown analyzer %q", analyzer)
	}
	return indexer.Descriptor[string, string, Document]{
		Name:    name,
		Version: version,
		Indexer: func(_ indexer.UnitID, doc Document) (map[string]string, error) {
			words := split(doc.Content)
			out := make(map[string]string, len(words))
			for _, w := range words {
				out[w] = doc.Path
			}
			return out, nil
		},
		Keys:   codec.String,
		Values: codec.String,
	}, nil
}

// Index is a word index backed by one engine.
type Index struct {
	engine   *indexer.Engine[string, string, Document]
	analyzer string
}

// Open opens the word index configured by cfg.
func Open(cfg config.IndexerConfig, onRebuild indexer.RebuildFunc) (*Index, error) {
	desc, err := Descriptor(cfg.Name, cfg.SchemaVersion, cfg.Analyzer)
	if err != nil {
		return nil, err
	}
	engine, err := indexer.NewEngine(desc, cfg, onRebuild)
	if err != nil {
		return nil, err
	}
	return &Index{engine: engine, analyzer: cfg.Analyzer}, nil
}

// Update re-indexes the file at path. A nil content retracts every word the
// file contributed. It reports whether the index changed.
func (x *Index) Update(path string, content *string) (bool, error) {
	var doc *Document
	if content != nil {
		doc = &Document{Path: path, Content: *content}
	}
	pending, err := x.engine.Update(UnitID(path), doc)
	if err != nil {
		return false, err
	}
	return pending.Compute()
}

// FilesByWord returns the paths of the files containing word.
func (x *Index) FilesByWord(word string) ([]string, error) {
	c, err := x.engine.GetData(word)
	if err != nil {
		return nil, err
	}
	return c.Slice(), nil
}

// QueryTerm normalizes a query word the way content is analyzed. It returns
// false when the word cannot match anything.
func (x *Index) QueryTerm(word string) (string, bool) {
	if x.analyzer != AnalyzerStemmed {
		return word, word != ""
	}
	terms := tokenizer.Terms(word)
	if len(terms) == 0 {
		return "", false
	}
	return terms[0], true
}

func (x *Index) Flush() error { return x.engine.Flush() }

func (x *Index) Clear() error { return x.engine.Clear() }

// Resolve marks a re-indexed shard trusted again.
func (x *Index) Resolve() error { return x.engine.Resolve() }

func (x *Index) Dispose() error { return x.engine.Dispose() }

func (x *Index) Trusted() bool { return x.engine.Trusted() }

func (x *Index) RebuildCause() error { return x.engine.RebuildCause() }

func (x *Index) Name() string { return x.engine.Name() }

// StartFlushLoop flushes periodically until ctx is done.
func (x *Index) StartFlushLoop(ctx context.Context) { x.engine.StartFlushLoop(ctx) }
