package indexer

import "iter"

// ValueContainer holds the decoded values currently attributed to a key.
// It is a snapshot: later updates do not change it, and it can be iterated
// any number of times.
type ValueContainer[V any] struct {
	values []V
	units  [][]UnitID
}

func (c *ValueContainer[V]) Len() int {
	if c == nil {
		return 0
	}
	return len(c.values)
}

// Values yields each distinct value once.
func (c *ValueContainer[V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		if c == nil {
			return
		}
		for _, v := range c.values {
			if !yield(v) {
				return
			}
		}
	}
}

// All yields each distinct value with the units contributing it.
func (c *ValueContainer[V]) All() iter.Seq2[V, []UnitID] {
	return func(yield func(V, []UnitID) bool) {
		if c == nil {
			return
		}
		for i, v := range c.values {
			if !yield(v, c.units[i]) {
				return
			}
		}
	}
}

// Slice returns a copy of the values.
func (c *ValueContainer[V]) Slice() []V {
	if c == nil {
		return nil
	}
	return append([]V(nil), c.values...)
}
