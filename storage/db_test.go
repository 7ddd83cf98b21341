package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBRoundTrip(t *testing.T) {
	db := NewMemDB()

	require.NoError(t, db.Put([]byte("alpha"), []byte("one")))

	value, err := db.Get([]byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, []byte("one"), value)

	// Mutating the returned slice must not touch the stored copy.
	value[0] = 'X'
	again, err := db.Get([]byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, []byte("one"), again)

	ok, err := db.Has([]byte("alpha"))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, db.Delete([]byte("alpha")))
	_, err = db.Get([]byte("alpha"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemDBMissingKey(t *testing.T) {
	db := NewMemDB()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	ok, err := db.Has([]byte("missing"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLevelDBRoundTrip(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("beta"), []byte("two")))

	value, err := db.Get([]byte("beta"))
	require.NoError(t, err)
	require.Equal(t, []byte("two"), value)

	_, err = db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Delete([]byte("beta")))
	ok, err := db.Has([]byte("beta"))
	require.NoError(t, err)
	require.False(t, ok)
}
