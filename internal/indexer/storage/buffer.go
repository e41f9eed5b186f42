package storage

import (
	"sort"
	"sync"
)

// pending is a buffered mutation of one (key, unit) attribution.
type pending struct {
	value   []byte
	removed bool
}

// writeBuffer holds mutations not yet committed to the backing store. Reads
// overlay it on top of persisted entries.
type writeBuffer struct {
	mu      sync.RWMutex
	entries map[string]map[UnitID]*pending
	size    int64
}

func newWriteBuffer() *writeBuffer {
	return &writeBuffer{
		entries: make(map[string]map[UnitID]*pending),
	}
}

func (b *writeBuffer) put(key []byte, unit UnitID, value []byte) {
	b.set(key, unit, &pending{value: append([]byte(nil), value...)})
}

func (b *writeBuffer) remove(key []byte, unit UnitID) {
	b.set(key, unit, &pending{removed: true})
}

func (b *writeBuffer) set(key []byte, unit UnitID, p *pending) {
	b.mu.Lock()
	defer b.mu.Unlock()
	units, exists := b.entries[string(key)]
	if !exists {
		units = make(map[UnitID]*pending)
		b.entries[string(key)] = units
	}
	if _, seen := units[unit]; !seen {
		b.size += int64(len(key) + unitLen + 48)
	}
	b.size += int64(len(p.value))
	units[unit] = p
}

// lookup returns the buffered mutation for (key, unit), if any.
func (b *writeBuffer) lookup(key []byte, unit UnitID) (*pending, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.entries[string(key)][unit]
	return p, ok
}

// overlay applies the buffered mutations for key onto a persisted
// unit → value map.
func (b *writeBuffer) overlay(key []byte, byUnit map[UnitID][]byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for unit, p := range b.entries[string(key)] {
		if p.removed {
			delete(byUnit, unit)
		} else {
			byUnit[unit] = p.value
		}
	}
}

// mutation is one buffered change in commit order.
type mutation struct {
	key   []byte
	unit  UnitID
	value []byte
	del   bool
}

// snapshot returns the buffered mutations sorted by key then unit, matching
// the backing store's key order.
func (b *writeBuffer) snapshot() []mutation {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]mutation, 0, len(b.entries))
	for key, units := range b.entries {
		for unit, p := range units {
			out = append(out, mutation{key: []byte(key), unit: unit, value: p.value, del: p.removed})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if ki, kj := string(out[i].key), string(out[j].key); ki != kj {
			return ki < kj
		}
		return out[i].unit < out[j].unit
	})
	return out
}

func (b *writeBuffer) Size() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *writeBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, units := range b.entries {
		n += len(units)
	}
	return n
}

func (b *writeBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]map[UnitID]*pending)
	b.size = 0
}
