package forward

import (
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/indexer/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/errors"
)

func TestGetAbsentTombstoneAndKeys(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, found, err := s.Get(1)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Put(1, Snapshot{Tombstone: true}))
	snap, found, err := s.Get(1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, snap.Tombstone)
	assert.Empty(t, snap.KeySet())

	require.NoError(t, s.Put(1, Snapshot{Keys: [][]byte{[]byte("foo"), []byte(""), []byte("bar")}}))
	snap, found, err = s.Get(1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, snap.Tombstone)
	assert.Equal(t, map[string]struct{}{"foo": {}, "": {}, "bar": {}}, snap.KeySet())

	require.NoError(t, s.Remove(1))
	_, found, err = s.Get(1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSnapshotsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(9, Snapshot{Keys: [][]byte{[]byte("baz")}}))
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	snap, found, err := s.Get(9)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, [][]byte{[]byte("baz")}, snap.Keys)
}

func TestClear(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(1, Snapshot{Keys: [][]byte{[]byte("a")}}))
	require.NoError(t, s.Put(2, Snapshot{Tombstone: true}))
	require.NoError(t, s.Clear())

	for _, u := range []storage.UnitID{1, 2} {
		_, found, err := s.Get(u)
		require.NoError(t, err)
		assert.False(t, found)
	}
}

func TestCorruptSnapshotIsCodecError(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	for _, payload := range [][]byte{
		{},
		{'X'},
		{tagTombstone, 0},
		{tagKeys, 2, 3, 'f', 'o'},
		{tagKeys, 1, 1, 'a', 'b'},
	} {
		require.NoError(t, s.db.Set(unitKey(5), payload, pebble.Sync))
		_, _, err := s.Get(5)
		assert.ErrorIs(t, err, apperrors.ErrCodec, "payload %x", payload)
	}
}
