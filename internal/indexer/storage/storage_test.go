package storage

import (
	"slices"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/errors"
)

func openTestStorage(t *testing.T, dir string, opts Options) *PebbleStorage {
	t.Helper()
	s, err := OpenPebble(dir, opts)
	require.NoError(t, err)
	return s
}

func values(t *testing.T, s Storage, key string) []string {
	t.Helper()
	c, err := s.Get([]byte(key))
	require.NoError(t, err)
	var out []string
	for v := range c.Values() {
		out = append(out, string(v))
	}
	slices.Sort(out)
	return out
}

func TestAddRemoveIdempotent(t *testing.T) {
	s := openTestStorage(t, t.TempDir(), Options{})
	defer s.Close()

	require.NoError(t, s.AddValue(1, []byte("foo"), []byte("a.txt")))
	require.NoError(t, s.AddValue(1, []byte("foo"), []byte("a.txt")))
	assert.Equal(t, []string{"a.txt"}, values(t, s, "foo"))

	require.NoError(t, s.RemoveValue(1, []byte("foo")))
	require.NoError(t, s.RemoveValue(1, []byte("foo")))
	require.NoError(t, s.RemoveValue(2, []byte("never-added")))
	assert.Empty(t, values(t, s, "foo"))
	assert.Empty(t, values(t, s, "never-added"))
}

func TestSharedValueSurvivesPartialRetraction(t *testing.T) {
	s := openTestStorage(t, t.TempDir(), Options{})
	defer s.Close()

	require.NoError(t, s.AddValue(1, []byte("k"), []byte("shared")))
	require.NoError(t, s.AddValue(2, []byte("k"), []byte("shared")))
	require.NoError(t, s.AddValue(3, []byte("k"), []byte("other")))

	c, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())
	var entries []ValueEntry
	for e := range c.Entries() {
		entries = append(entries, e)
	}
	assert.Equal(t, "shared", string(entries[0].Value))
	assert.Equal(t, []UnitID{1, 2}, entries[0].Units)

	require.NoError(t, s.RemoveValue(1, []byte("k")))
	assert.Equal(t, []string{"other", "shared"}, values(t, s, "k"))
	require.NoError(t, s.RemoveValue(2, []byte("k")))
	assert.Equal(t, []string{"other"}, values(t, s, "k"))
}

func TestPrefixKeysDoNotOverlap(t *testing.T) {
	s := openTestStorage(t, t.TempDir(), Options{})
	defer s.Close()

	require.NoError(t, s.AddValue(1, []byte("ab"), []byte("x")))
	require.NoError(t, s.AddValue(1, []byte("abc"), []byte("y")))
	require.NoError(t, s.Flush())

	assert.Equal(t, []string{"x"}, values(t, s, "ab"))
	assert.Equal(t, []string{"y"}, values(t, s, "abc"))
}

func TestFlushPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s := openTestStorage(t, dir, Options{})
	require.NoError(t, s.AddValue(7, []byte("bar"), []byte("a.txt")))
	require.NoError(t, s.AddValue(8, []byte("bar"), []byte("b.txt")))
	require.NoError(t, s.Flush())
	require.NoError(t, s.RemoveValue(8, []byte("bar")))
	require.NoError(t, s.Close())

	s = openTestStorage(t, dir, Options{})
	defer s.Close()
	assert.Equal(t, []string{"a.txt"}, values(t, s, "bar"))

	v, ok, err := s.ValueOf(7, []byte("bar"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a.txt", string(v))

	_, ok, err = s.ValueOf(8, []byte("bar"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAutoFlushOnBufferSize(t *testing.T) {
	s := openTestStorage(t, t.TempDir(), Options{WriteBufferSize: 1})
	defer s.Close()

	require.NoError(t, s.AddValue(1, []byte("foo"), []byte("a.txt")))
	assert.Zero(t, s.buffer.Len())
	assert.Equal(t, []string{"a.txt"}, values(t, s, "foo"))
}

func TestReadCacheInvalidatedOnMutation(t *testing.T) {
	s := openTestStorage(t, t.TempDir(), Options{CacheSize: 8})
	defer s.Close()

	require.NoError(t, s.AddValue(1, []byte("foo"), []byte("a.txt")))
	assert.Equal(t, []string{"a.txt"}, values(t, s, "foo"))
	require.NoError(t, s.AddValue(1, []byte("foo"), []byte("renamed.txt")))
	assert.Equal(t, []string{"renamed.txt"}, values(t, s, "foo"))
}

func TestClear(t *testing.T) {
	s := openTestStorage(t, t.TempDir(), Options{})
	defer s.Close()

	require.NoError(t, s.AddValue(1, []byte("foo"), []byte("a.txt")))
	require.NoError(t, s.Flush())
	require.NoError(t, s.AddValue(2, []byte("bar"), []byte("b.txt")))
	require.NoError(t, s.Clear())

	assert.Empty(t, values(t, s, "foo"))
	assert.Empty(t, values(t, s, "bar"))
}

func TestMalformedEntryIsCodecError(t *testing.T) {
	s := openTestStorage(t, t.TempDir(), Options{})
	defer s.Close()

	// An entry under the "foo" prefix whose unit suffix is truncated.
	bad := append(keyPrefix([]byte("foo")), 0x01, 0x02)
	require.NoError(t, s.db.Set(bad, []byte("x"), pebble.Sync))

	_, err := s.Get([]byte("foo"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCodec)
}

func TestEntryKeyRoundTrip(t *testing.T) {
	k := entryKey([]byte("héllo"), 42)
	key, unit, err := parseEntryKey(k)
	require.NoError(t, err)
	assert.Equal(t, "héllo", string(key))
	assert.Equal(t, UnitID(42), unit)

	assert.Nil(t, prefixEnd([]byte{0xff, 0xff}))
	assert.Equal(t, []byte{0x01, 0x03}, prefixEnd([]byte{0x01, 0x02, 0xff}))
}
