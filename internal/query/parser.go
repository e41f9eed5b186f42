// Package query evaluates boolean word queries against a word index.
//
// Syntax: words separated by whitespace, combined with AND (the default) or
// OR; a word preceded by NOT excludes the files containing it. The last
// AND/OR in the query decides the combinator for every word.
package query

import "strings"

type Type int

const (
	AND Type = iota
	OR
)

func (t Type) String() string {
	if t == OR {
		return "OR"
	}
	return "AND"
}

type Plan struct {
	Words        []string
	Type         Type
	ExcludeWords []string
	Raw          string
}

// Empty reports whether the plan selects nothing.
func (p *Plan) Empty() bool {
	return len(p.Words) == 0
}

// Key returns a canonical form of the plan: equivalent queries that differ
// only in word order or spacing share a key.
func (p *Plan) Key() string {
	words := append([]string(nil), p.Words...)
	excludes := append([]string(nil), p.ExcludeWords...)
	sortUnique(&words)
	sortUnique(&excludes)
	parts := []string{p.Type.String(), strings.Join(words, "\x00")}
	if len(excludes) > 0 {
		parts = append(parts, "NOT:"+strings.Join(excludes, "\x00"))
	}
	return strings.Join(parts, "|")
}

func Parse(q string) *Plan {
	plan := &Plan{
		Words:        make([]string, 0),
		ExcludeWords: make([]string, 0),
		Type:         AND,
		Raw:          q,
	}
	excludeNext := false
	for _, w := range strings.Fields(q) {
		switch w {
		case "AND":
			plan.Type = AND
			continue
		case "OR":
			plan.Type = OR
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		if excludeNext {
			plan.ExcludeWords = append(plan.ExcludeWords, w)
			excludeNext = false
		} else {
			plan.Words = append(plan.Words, w)
		}
	}
	return plan
}
