package indexer

import (
	"bytes"
	"fmt"
	"slices"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/indexer/forward"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/metrics"
)

// PendingUpdate is an extracted update that has not been applied yet.
type PendingUpdate[K comparable, V any, I any] struct {
	engine    *Engine[K, V, I]
	unit      UnitID
	entries   map[string][]byte
	tombstone bool
}

// Update extracts and serializes the unit's contributions. A nil input means
// the unit has no content; computing it retracts everything the unit
// contributed. Nothing is stored until Compute is called.
func (e *Engine[K, V, I]) Update(unit UnitID, input *I) (*PendingUpdate[K, V, I], error) {
	e.mu.RLock()
	disposed := e.disposed
	e.mu.RUnlock()
	if disposed {
		return nil, e.illegalState("update")
	}

	p := &PendingUpdate[K, V, I]{
		engine:    e,
		unit:      unit,
		tombstone: input == nil,
	}
	if input == nil {
		return p, nil
	}
	data, err := e.desc.Indexer(unit, *input)
	if err != nil {
		return nil, fmt.Errorf("indexing unit %d: %w", unit, err)
	}
	p.entries = make(map[string][]byte, len(data))
	for k, v := range data {
		kb, err := e.desc.Keys.Serialize(k)
		if err != nil {
			return nil, fmt.Errorf("serializing key of unit %d: %w", unit, err)
		}
		if _, dup := p.entries[string(kb)]; dup {
			return nil, apperrors.Codec("serializing keys",
				fmt.Errorf("unit %d: distinct keys serialize to %q", unit, kb))
		}
		vb, err := e.desc.Values.Serialize(v)
		if err != nil {
			return nil, fmt.Errorf("serializing value of unit %d: %w", unit, err)
		}
		p.entries[string(kb)] = vb
	}
	return p, nil
}

// Unit returns the unit this update belongs to.
func (p *PendingUpdate[K, V, I]) Unit() UnitID { return p.unit }

// Compute applies the update and reports whether the inverted content
// changed. Of two updates to the same unit, the one computed last wins.
func (p *PendingUpdate[K, V, I]) Compute() (bool, error) {
	e := p.engine
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return false, e.illegalState("compute")
	}
	changed, err := e.apply(p)
	metrics.UpdateDuration.WithLabelValues(e.desc.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpdatesTotal.WithLabelValues(e.desc.Name, "error").Inc()
		e.requestRebuild(err)
		return false, apperrors.Storage(fmt.Sprintf("updating unit %d in index %s", p.unit, e.desc.Name), err)
	}
	outcome := "unchanged"
	if changed {
		outcome = "changed"
	}
	metrics.UpdatesTotal.WithLabelValues(e.desc.Name, outcome).Inc()
	e.logger.Debug("update computed",
		"unit", p.unit,
		"keys", len(p.entries),
		"tombstone", p.tombstone,
		"changed", changed,
	)
	return changed, nil
}

func (e *Engine[K, V, I]) apply(p *PendingUpdate[K, V, I]) (bool, error) {
	old, _, err := e.forward.Get(p.unit)
	if err != nil {
		return false, err
	}
	changed := false
	for k := range old.KeySet() {
		if _, keep := p.entries[k]; keep {
			continue
		}
		if err := e.inverted.RemoveValue(p.unit, []byte(k)); err != nil {
			return false, err
		}
		changed = true
	}

	keys := make([][]byte, 0, len(p.entries))
	for k, v := range p.entries {
		keys = append(keys, []byte(k))
		cur, ok, err := e.inverted.ValueOf(p.unit, []byte(k))
		if err != nil {
			return false, err
		}
		if ok && bytes.Equal(cur, v) {
			continue
		}
		if err := e.inverted.AddValue(p.unit, []byte(k), v); err != nil {
			return false, err
		}
		changed = true
	}

	snap := forward.Snapshot{Tombstone: true}
	if !p.tombstone {
		slices.SortFunc(keys, bytes.Compare)
		snap = forward.Snapshot{Keys: keys}
	}
	if err := e.forward.Put(p.unit, snap); err != nil {
		return false, err
	}
	return changed, nil
}
