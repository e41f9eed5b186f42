// Package forward implements the forward snapshot store: for every unit, the
// serialized keys it contributed on its last successful update, or a
// tombstone if it was last indexed without input. It exists only to diff
// re-indexed units against what they contributed before.
package forward

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/cockroachdb/pebble"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/indexer/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/metrics"
)

const (
	snapshotTag = 'f'

	tagKeys      byte = 'K'
	tagTombstone byte = 'T'
)

// Snapshot is what a unit contributed on its last update.
type Snapshot struct {
	Keys      [][]byte
	Tombstone bool
}

// KeySet returns the snapshot keys as a set; a tombstone has none.
func (s Snapshot) KeySet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.Keys))
	if s.Tombstone {
		return set
	}
	for _, k := range s.Keys {
		set[string(k)] = struct{}{}
	}
	return set
}

// Store persists snapshots in pebble, one entry per unit.
type Store struct {
	db     *pebble.DB
	logger *slog.Logger
}

// Open opens or creates the store in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Storage("creating forward store directory", err)
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, apperrors.Storage(fmt.Sprintf("opening forward store %s", dir), err)
	}
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "forward-store", "dir", dir),
	}, nil
}

func unitKey(unit storage.UnitID) []byte {
	return binary.BigEndian.AppendUint64([]byte{snapshotTag}, uint64(unit))
}

// Get returns the unit's snapshot; found is false if the unit was never
// indexed.
func (s *Store) Get(unit storage.UnitID) (snap Snapshot, found bool, err error) {
	data, closer, err := s.db.Get(unitKey(unit))
	if errors.Is(err, pebble.ErrNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, apperrors.Storage("reading snapshot", err)
	}
	defer closer.Close()
	snap, err = decode(data)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// Put replaces the unit's snapshot.
func (s *Store) Put(unit storage.UnitID, snap Snapshot) error {
	if err := s.db.Set(unitKey(unit), encode(snap), pebble.NoSync); err != nil {
		return apperrors.Storage("writing snapshot", err)
	}
	return nil
}

// Remove forgets the unit entirely, as if it had never been indexed.
func (s *Store) Remove(unit storage.UnitID) error {
	if err := s.db.Delete(unitKey(unit), pebble.NoSync); err != nil {
		return apperrors.Storage("removing snapshot", err)
	}
	return nil
}

// Flush makes every written snapshot durable.
func (s *Store) Flush() error {
	if err := s.db.Flush(); err != nil {
		metrics.FlushesTotal.WithLabelValues("forward", "error").Inc()
		return apperrors.Storage("flushing forward store", err)
	}
	metrics.FlushesTotal.WithLabelValues("forward", "ok").Inc()
	return nil
}

// Empty reports whether no unit has a snapshot.
func (s *Store) Empty() (bool, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{snapshotTag},
		UpperBound: []byte{snapshotTag + 1},
	})
	if err != nil {
		return false, apperrors.Storage("opening iterator", err)
	}
	found := it.First()
	if err := it.Close(); err != nil {
		return false, apperrors.Storage("probing snapshots", err)
	}
	return !found, nil
}

// Clear drops every snapshot.
func (s *Store) Clear() error {
	if err := s.db.DeleteRange([]byte{snapshotTag}, []byte{snapshotTag + 1}, pebble.Sync); err != nil {
		return apperrors.Storage("clearing forward store", err)
	}
	s.logger.Info("forward store cleared")
	return nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return apperrors.Storage("closing forward store", err)
	}
	return nil
}

func encode(snap Snapshot) []byte {
	if snap.Tombstone {
		return []byte{tagTombstone}
	}
	size := 1 + binary.MaxVarintLen64
	for _, k := range snap.Keys {
		size += binary.MaxVarintLen64 + len(k)
	}
	b := make([]byte, 0, size)
	b = append(b, tagKeys)
	b = binary.AppendUvarint(b, uint64(len(snap.Keys)))
	for _, k := range snap.Keys {
		b = binary.AppendUvarint(b, uint64(len(k)))
		b = append(b, k...)
	}
	return b
}

func decode(data []byte) (Snapshot, error) {
	if len(data) == 0 {
		return Snapshot{}, apperrors.Codec("decoding snapshot", fmt.Errorf("empty payload"))
	}
	switch data[0] {
	case tagTombstone:
		if len(data) != 1 {
			return Snapshot{}, apperrors.Codec("decoding snapshot", fmt.Errorf("trailing bytes after tombstone"))
		}
		return Snapshot{Tombstone: true}, nil
	case tagKeys:
	default:
		return Snapshot{}, apperrors.Codec("decoding snapshot", fmt.Errorf("unknown tag %q", data[0]))
	}
	rest := data[1:]
	count, n := binary.Uvarint(rest)
	if n <= 0 || count > uint64(len(rest)) {
		return Snapshot{}, apperrors.Codec("decoding snapshot", fmt.Errorf("bad key count"))
	}
	rest = rest[n:]
	keys := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		l, n := binary.Uvarint(rest)
		if n <= 0 || l > uint64(len(rest)-n) {
			return Snapshot{}, apperrors.Codec("decoding snapshot", fmt.Errorf("truncated key %d", i))
		}
		rest = rest[n:]
		keys = append(keys, append([]byte(nil), rest[:l]...))
		rest = rest[l:]
	}
	if len(rest) != 0 {
		return Snapshot{}, apperrors.Codec("decoding snapshot", fmt.Errorf("%d trailing bytes", len(rest)))
	}
	return Snapshot{Keys: keys}, nil
}
