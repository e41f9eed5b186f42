package backref

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/backref/segment"
)

// Index reads every segment in a directory. For each file only the newest
// segment that registered it counts, so recompiling a file supersedes its
// older references.
type Index struct {
	readers []*segment.Reader
	owner   map[string]int
}

// Open loads all segments in dir in name order. A damaged segment fails the
// whole open with ErrCodec.
func Open(dir string) (*Index, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "seg_*"+segment.Extension))
	if err != nil {
		return nil, fmt.Errorf("listing segments: %w", err)
	}
	sort.Strings(paths)
	idx := &Index{owner: make(map[string]int)}
	for _, p := range paths {
		r, err := segment.OpenReader(p)
		if err != nil {
			idx.Close()
			return nil, fmt.Errorf("opening segment %s: %w", filepath.Base(p), err)
		}
		idx.readers = append(idx.readers, r)
	}
	for i := len(idx.readers) - 1; i >= 0; i-- {
		for _, f := range idx.readers[i].Files() {
			if _, ok := idx.owner[f]; !ok {
				idx.owner[f] = i
			}
		}
	}
	return idx, nil
}

// Search returns the files referencing or defining ref, sorted by file.
func (x *Index) Search(ref Ref) ([]Hit, error) {
	term := ref.Term()
	var hits []Hit
	for i, r := range x.readers {
		postings, err := r.Search(term)
		if err != nil {
			return nil, fmt.Errorf("searching %s: %w", filepath.Base(r.Path()), err)
		}
		for _, p := range postings {
			if x.owner[p.File] != i {
				continue
			}
			hits = append(hits, Hit{File: p.File, Count: p.Count, Defined: p.Defined})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		return hits[i].File < hits[j].File
	})
	return hits, nil
}

// Files lists every indexed file.
func (x *Index) Files() []string {
	files := make([]string, 0, len(x.owner))
	for f := range x.owner {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Segments returns the number of segments loaded.
func (x *Index) Segments() int {
	return len(x.readers)
}

func (x *Index) Close() error {
	var errs []error
	for _, r := range x.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	x.readers = nil
	return errors.Join(errs...)
}

