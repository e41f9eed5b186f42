package indexer

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/indexer/storage"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/codec"
)

// UnitID identifies an indexed unit.
type UnitID = storage.UnitID

// IndexFunc extracts a unit's (key, value) contributions from its input.
type IndexFunc[K comparable, V any, I any] func(unit UnitID, input I) (map[K]V, error)

// Descriptor defines an index. It is immutable once an engine is built from
// it; changing Indexer, Keys or Values in a way that alters persisted bytes
// requires bumping Version.
type Descriptor[K comparable, V any, I any] struct {
	Name    string
	Version int
	Indexer IndexFunc[K, V, I]
	Keys    codec.KeyDescriptor[K]
	Values  codec.Externalizer[V]
}

func (d Descriptor[K, V, I]) validate() error {
	switch {
	case d.Name == "":
		return fmt.Errorf("descriptor name is required")
	case d.Version < 0:
		return fmt.Errorf("descriptor %s: version must be >= 0, got %d", d.Name, d.Version)
	case d.Indexer == nil:
		return fmt.Errorf("descriptor %s: indexer is required", d.Name)
	case d.Keys == nil:
		return fmt.Errorf("descriptor %s: key codec is required", d.Name)
	case d.Values == nil:
		return fmt.Errorf("descriptor %s: value codec is required", d.Name)
	}
	return nil
}
