// Package backref is a reference index fed by a compiler: for every compiled
// file it records which symbols the file references and which it defines,
// and answers "which files mention this symbol".
package backref

import "fmt"

type Kind string

const (
	KindClass    Kind = "class"
	KindMethod   Kind = "method"
	KindField    Kind = "field"
	KindFunction Kind = "function"
)

func (k Kind) Valid() bool {
	switch k {
	case KindClass, KindMethod, KindField, KindFunction:
		return true
	}
	return false
}

// Ref names a symbol.
type Ref struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Term is the index key for r.
func (r Ref) Term() string {
	return string(r.Kind) + ":" + r.Name
}

func (r Ref) validate() error {
	if r.Name == "" {
		return fmt.Errorf("reference without name")
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("reference %q has unknown kind %q", r.Name, r.Kind)
	}
	return nil
}

// FileData is everything one compiled file contributes.
type FileData struct {
	File string `json:"file"`
	Refs []Ref  `json:"refs"`
	Defs []Ref  `json:"defs"`
}

// Hit is one file's contribution to a symbol.
type Hit struct {
	File    string `json:"file"`
	Count   int    `json:"count"`
	Defined bool   `json:"defined"`
}
