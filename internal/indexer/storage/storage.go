// Package storage implements the inverted half of an index: a durable
// mapping from serialized key to the values units currently attribute to it.
//
// Attribution is kept per (key, unit) so a value stays visible until every
// unit that contributed it has retracted.
package storage

import (
	"iter"
	"sort"
)

// UnitID identifies an indexed unit. The engine never interprets it beyond
// equality.
type UnitID uint64

// Storage is the inverted storage contract used by the engine.
type Storage interface {
	// Get returns the values attributed to key; an absent key yields an empty
	// container, not an error.
	Get(key []byte) (*ValueContainer, error)
	// ValueOf returns the value unit currently attributes to key.
	ValueOf(unit UnitID, key []byte) ([]byte, bool, error)
	// AddValue attributes value to key on behalf of unit, replacing any value
	// the unit attributed before. Re-adding the same value is a no-op.
	AddValue(unit UnitID, key, value []byte) error
	// RemoveValue drops unit's attribution for key. Removing an absent
	// attribution is a no-op.
	RemoveValue(unit UnitID, key []byte) error
	Flush() error
	Clear() error
	Close() error
}

// ValueContainer is an immutable view of the values attributed to one key,
// grouped by distinct value bytes. Ranging over it is restartable.
type ValueContainer struct {
	entries []ValueEntry
}

// ValueEntry is one distinct value and the units contributing it.
type ValueEntry struct {
	Value []byte
	Units []UnitID
}

// NewValueContainer groups a unit → value attribution map by value. Entries
// are ordered by their smallest contributing unit.
func NewValueContainer(byUnit map[UnitID][]byte) *ValueContainer {
	units := make([]UnitID, 0, len(byUnit))
	for u := range byUnit {
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i] < units[j] })

	index := make(map[string]int, len(byUnit))
	c := &ValueContainer{entries: make([]ValueEntry, 0, len(byUnit))}
	for _, u := range units {
		v := byUnit[u]
		if i, ok := index[string(v)]; ok {
			c.entries[i].Units = append(c.entries[i].Units, u)
			continue
		}
		index[string(v)] = len(c.entries)
		c.entries = append(c.entries, ValueEntry{Value: v, Units: []UnitID{u}})
	}
	return c
}

// Len returns the number of distinct values.
func (c *ValueContainer) Len() int {
	return len(c.entries)
}

// Values yields each distinct value once.
func (c *ValueContainer) Values() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for _, e := range c.entries {
			if !yield(e.Value) {
				return
			}
		}
	}
}

// Entries yields each distinct value with its contributing units.
func (c *ValueContainer) Entries() iter.Seq[ValueEntry] {
	return func(yield func(ValueEntry) bool) {
		for _, e := range c.entries {
			if !yield(e) {
				return
			}
		}
	}
}
