package backref

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/backref/segment"
)

// buffer accumulates registered files until they are written as a segment.
// Registering a file twice keeps only the second registration.
type buffer struct {
	terms map[string]map[string]*segment.Posting
	files map[string][]string
}

func newBuffer() *buffer {
	return &buffer{
		terms: make(map[string]map[string]*segment.Posting),
		files: make(map[string][]string),
	}
}

func (b *buffer) add(fd FileData) {
	b.drop(fd.File)
	seen := make(map[string]struct{})
	record := func(r Ref, def bool) {
		term := r.Term()
		docs, ok := b.terms[term]
		if !ok {
			docs = make(map[string]*segment.Posting)
			b.terms[term] = docs
		}
		p, ok := docs[fd.File]
		if !ok {
			p = &segment.Posting{File: fd.File}
			docs[fd.File] = p
		}
		p.Count++
		if def {
			p.Defined = true
		}
		seen[term] = struct{}{}
	}
	for _, r := range fd.Refs {
		record(r, false)
	}
	for _, r := range fd.Defs {
		record(r, true)
	}
	terms := make([]string, 0, len(seen))
	for t := range seen {
		terms = append(terms, t)
	}
	b.files[fd.File] = terms
}

func (b *buffer) drop(file string) {
	for _, term := range b.files[file] {
		delete(b.terms[term], file)
		if len(b.terms[term]) == 0 {
			delete(b.terms, term)
		}
	}
	delete(b.files, file)
}

func (b *buffer) empty() bool {
	return len(b.files) == 0
}

// snapshot returns the buffered entries sorted by term, with postings sorted
// by file, plus the sorted file list.
func (b *buffer) snapshot() ([]segment.TermEntry, []string) {
	entries := make([]segment.TermEntry, 0, len(b.terms))
	for term, docs := range b.terms {
		postings := make(segment.PostingList, 0, len(docs))
		for _, p := range docs {
			postings = append(postings, *p)
		}
		sort.Slice(postings, func(i, j int) bool {
			return postings[i].File < postings[j].File
		})
		entries = append(entries, segment.TermEntry{Term: term, Postings: postings})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	files := make([]string, 0, len(b.files))
	for f := range b.files {
		files = append(files, f)
	}
	sort.Strings(files)
	return entries, files
}

func (b *buffer) reset() {
	b.terms = make(map[string]map[string]*segment.Posting)
	b.files = make(map[string][]string)
}
