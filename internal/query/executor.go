package query

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/logger"
)

// Lookuper resolves one word to the sorted paths containing it.
type Lookuper interface {
	Lookup(ctx context.Context, word string) ([]string, error)
}

type Result struct {
	Query     string         `json:"query"`
	TotalHits int            `json:"total_hits"`
	Files     []string       `json:"files"`
	WordStats map[string]int `json:"word_stats"`
}

type Executor struct {
	index  Lookuper
	logger *slog.Logger
}

func NewExecutor(index Lookuper) *Executor {
	return &Executor{
		index:  index,
		logger: slog.Default().With("component", "query-executor"),
	}
}

// Execute evaluates plan. Any failed lookup fails the whole query; partial
// answers are never returned.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (*Result, error) {
	if plan.Empty() {
		return &Result{Query: plan.Raw, Files: []string{}, WordStats: map[string]int{}}, nil
	}
	filesPerWord := make(map[string][]string, len(plan.Words))
	stats := make(map[string]int, len(plan.Words))
	for _, w := range plan.Words {
		if _, done := filesPerWord[w]; done {
			continue
		}
		files, err := e.index.Lookup(ctx, w)
		if err != nil {
			return nil, fmt.Errorf("looking up %q: %w", w, err)
		}
		filesPerWord[w] = files
		stats[w] = len(files)
	}
	var candidates map[string]struct{}
	switch plan.Type {
	case AND:
		candidates = intersect(filesPerWord)
	case OR:
		candidates = union(filesPerWord)
	}
	for _, w := range plan.ExcludeWords {
		files, err := e.index.Lookup(ctx, w)
		if err != nil {
			return nil, fmt.Errorf("looking up excluded %q: %w", w, err)
		}
		for _, f := range files {
			delete(candidates, f)
		}
	}
	out := make([]string, 0, len(candidates))
	for f := range candidates {
		out = append(out, f)
	}
	slices.Sort(out)
	logger.FromContext(ctx).Debug("query executed",
		"query", plan.Raw,
		"words", plan.Words,
		"hits", len(out),
	)
	return &Result{
		Query:     plan.Raw,
		TotalHits: len(out),
		Files:     out,
		WordStats: stats,
	}, nil
}

func intersect(filesPerWord map[string][]string) map[string]struct{} {
	if len(filesPerWord) == 0 {
		return make(map[string]struct{})
	}
	var shortest string
	shortestLen := int(^uint(0) >> 1)
	for w, files := range filesPerWord {
		if len(files) < shortestLen {
			shortestLen = len(files)
			shortest = w
		}
	}
	candidates := make(map[string]struct{}, shortestLen)
	for _, f := range filesPerWord[shortest] {
		candidates[f] = struct{}{}
	}
	for w, files := range filesPerWord {
		if w == shortest {
			continue
		}
		set := make(map[string]struct{}, len(files))
		for _, f := range files {
			set[f] = struct{}{}
		}
		for f := range candidates {
			if _, ok := set[f]; !ok {
				delete(candidates, f)
			}
		}
	}
	return candidates
}

func union(filesPerWord map[string][]string) map[string]struct{} {
	result := make(map[string]struct{})
	for _, files := range filesPerWord {
		for _, f := range files {
			result[f] = struct{}{}
		}
	}
	return result
}

func sortUnique(s *[]string) {
	slices.Sort(*s)
	*s = slices.Compact(*s)
}
