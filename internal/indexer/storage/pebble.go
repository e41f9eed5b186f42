package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/cockroachdb/pebble"
	lru "github.com/hashicorp/golang-lru/v2"

	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/metrics"
)

const (
	defaultCacheSize       = 4096
	defaultWriteBufferSize = 4 << 20
)

// Options tunes a PebbleStorage.
type Options struct {
	// CacheSize is the number of keys whose merged containers are kept in
	// memory.
	CacheSize int
	// WriteBufferSize is the estimated buffered bytes that trigger an
	// automatic flush.
	WriteBufferSize int64
}

// PebbleStorage is the durable Storage: pebble holds committed entries, a
// write buffer holds uncommitted mutations, and an LRU caches merged reads.
//
// Mutations must be serialized by the caller; reads may run concurrently with
// each other.
type PebbleStorage struct {
	db     *pebble.DB
	dir    string
	opts   Options
	buffer *writeBuffer
	cache  *lru.Cache[string, *ValueContainer]
	mu     sync.Mutex
	logger *slog.Logger
}

// OpenPebble opens or creates the storage in dir.
func OpenPebble(dir string, opts Options) (*PebbleStorage, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.WriteBufferSize <= 0 {
		opts.WriteBufferSize = defaultWriteBufferSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Storage("creating inverted storage directory", err)
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, apperrors.Storage(fmt.Sprintf("opening inverted storage %s", dir), err)
	}
	cache, err := lru.New[string, *ValueContainer](opts.CacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating read cache: %w", err)
	}
	return &PebbleStorage{
		db:     db,
		dir:    dir,
		opts:   opts,
		buffer: newWriteBuffer(),
		cache:  cache,
		logger: slog.Default().With("component", "inverted-storage", "dir", dir),
	}, nil
}

func (s *PebbleStorage) Get(key []byte) (*ValueContainer, error) {
	if c, ok := s.cache.Get(string(key)); ok {
		return c, nil
	}
	byUnit, err := s.scan(key)
	if err != nil {
		return nil, err
	}
	s.buffer.overlay(key, byUnit)
	c := NewValueContainer(byUnit)
	s.cache.Add(string(key), c)
	return c, nil
}

// scan reads the committed attributions for key.
func (s *PebbleStorage) scan(key []byte) (map[UnitID][]byte, error) {
	prefix := keyPrefix(key)
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return nil, apperrors.Storage("opening iterator", err)
	}
	byUnit := make(map[UnitID][]byte)
	for valid := it.First(); valid; valid = it.Next() {
		k, unit, perr := parseEntryKey(it.Key())
		if perr != nil {
			it.Close()
			return nil, perr
		}
		if string(k) != string(key) {
			it.Close()
			return nil, apperrors.Codec("scanning entries", fmt.Errorf("entry %x outside key range", it.Key()))
		}
		byUnit[unit] = append([]byte(nil), it.Value()...)
	}
	if err := it.Close(); err != nil {
		return nil, apperrors.Storage("iterating entries", err)
	}
	return byUnit, nil
}

func (s *PebbleStorage) ValueOf(unit UnitID, key []byte) ([]byte, bool, error) {
	if p, ok := s.buffer.lookup(key, unit); ok {
		if p.removed {
			return nil, false, nil
		}
		return p.value, true, nil
	}
	v, closer, err := s.db.Get(entryKey(key, unit))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Storage("reading entry", err)
	}
	defer closer.Close()
	return append([]byte(nil), v...), true, nil
}

func (s *PebbleStorage) AddValue(unit UnitID, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer.put(key, unit, value)
	s.cache.Remove(string(key))
	return s.maybeFlushLocked()
}

func (s *PebbleStorage) RemoveValue(unit UnitID, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer.remove(key, unit)
	s.cache.Remove(string(key))
	return s.maybeFlushLocked()
}

func (s *PebbleStorage) maybeFlushLocked() error {
	if s.buffer.Size() < s.opts.WriteBufferSize {
		return nil
	}
	s.logger.Debug("write buffer reached max size, flushing",
		"size", s.buffer.Size(),
		"threshold", s.opts.WriteBufferSize,
	)
	return s.flushLocked()
}

// Flush commits buffered mutations in one synced pebble batch.
func (s *PebbleStorage) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *PebbleStorage) flushLocked() error {
	muts := s.buffer.snapshot()
	if len(muts) == 0 {
		return nil
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, m := range muts {
		var err error
		if m.del {
			err = batch.Delete(entryKey(m.key, m.unit), nil)
		} else {
			err = batch.Set(entryKey(m.key, m.unit), m.value, nil)
		}
		if err != nil {
			metrics.FlushesTotal.WithLabelValues("inverted", "error").Inc()
			return apperrors.Storage("staging batch", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		metrics.FlushesTotal.WithLabelValues("inverted", "error").Inc()
		return apperrors.Storage("committing batch", err)
	}
	s.buffer.Reset()
	metrics.FlushesTotal.WithLabelValues("inverted", "ok").Inc()
	s.logger.Debug("inverted storage flushed", "mutations", len(muts))
	return nil
}

// Empty reports whether the storage holds no committed entries.
func (s *PebbleStorage) Empty() (bool, error) {
	return isEmpty(s.db, []byte{entryTag})
}

func isEmpty(db *pebble.DB, prefix []byte) (bool, error) {
	it, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return false, apperrors.Storage("opening iterator", err)
	}
	found := it.First()
	if err := it.Close(); err != nil {
		return false, apperrors.Storage("probing entries", err)
	}
	return !found, nil
}

// Clear drops every committed and buffered entry.
func (s *PebbleStorage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer.Reset()
	s.cache.Purge()
	if err := s.db.DeleteRange([]byte{entryTag}, []byte{entryTag + 1}, pebble.Sync); err != nil {
		return apperrors.Storage("clearing inverted storage", err)
	}
	s.logger.Info("inverted storage cleared")
	return nil
}

// Close flushes buffered mutations and closes the database.
func (s *PebbleStorage) Close() error {
	flushErr := s.Flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
	if err := s.db.Close(); err != nil {
		return errors.Join(flushErr, apperrors.Storage("closing inverted storage", err))
	}
	return flushErr
}

