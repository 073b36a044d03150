package configcache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/phasorstreams/errors"
)

// exerciseStore runs the behavior every Store must share.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Load(ctx, "PMU1")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)

	image := []byte{0xAA, 0x31, 0x00, 0x10, 0x00, 0x01}
	require.NoError(t, store.Save(ctx, "PMU1", image))

	got, err := store.Load(ctx, "PMU1")
	require.NoError(t, err)
	assert.Equal(t, image, got)

	replacement := []byte{0xAA, 0x31, 0x00, 0x12}
	require.NoError(t, store.Save(ctx, "PMU1", replacement))
	got, err = store.Load(ctx, "PMU1")
	require.NoError(t, err)
	assert.Equal(t, replacement, got)

	require.NoError(t, store.Delete(ctx, "PMU1"))
	_, err = store.Load(ctx, "PMU1")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)
	assert.NoError(t, store.Delete(ctx, "PMU1"), "delete is idempotent")
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_CopiesImages(t *testing.T) {
	store := NewMemoryStore()
	image := []byte{1, 2, 3}
	require.NoError(t, store.Save(context.Background(), "a", image))
	image[0] = 9

	got, err := store.Load(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, byte(1), got[0])
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	exerciseStore(t, store)
}

func TestSQLiteStore_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	store, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	saved := time.UnixMilli(1700000000000)
	store.now = func() time.Time { return saved }
	require.NoError(t, store.Save(ctx, "PMU1", []byte{1, 2}))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.Load(ctx, "PMU1")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, got)

	at, err := reopened.UpdatedAt(ctx, "PMU1")
	require.NoError(t, err)
	assert.True(t, saved.Equal(at))

	_, err = reopened.UpdatedAt(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)
}

func TestKVKey(t *testing.T) {
	assert.Equal(t, "PMU1", kvKey("PMU1"))
	assert.Equal(t, "SHELBY_PMU_1", kvKey("SHELBY PMU.1"))
	assert.Equal(t, "a-b_c", kvKey("a-b_c"))
}
