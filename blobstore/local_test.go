package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"local":  NewLocalStore(t.TempDir()),
		"memory": NewMemoryStore(),
		"prefix": NewPrefixStore(NewMemoryStore(), "node0/shard1"),
	}
}

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			data := []byte("hello world, this is a sealed bucket")
			require.NoError(t, store.Put(ctx, "buckets/0001.bin", data))

			b, err := store.Open(ctx, "buckets/0001.bin")
			require.NoError(t, err)
			assert.Equal(t, int64(len(data)), b.Size())

			buf := make([]byte, 5)
			n, err := b.ReadAt(ctx, buf, 6)
			require.NoError(t, err)
			assert.Equal(t, 5, n)
			assert.Equal(t, "world", string(buf))

			buf = make([]byte, 10)
			n, err = b.ReadAt(ctx, buf, int64(len(data)-4))
			assert.ErrorIs(t, err, io.EOF)
			assert.Equal(t, 4, n)
			require.NoError(t, b.Close())

			got, err := ReadAll(ctx, store, "buckets/0001.bin")
			require.NoError(t, err)
			assert.Equal(t, data, got)

			require.NoError(t, store.Put(ctx, "buckets/0001.bin", []byte("v2")))
			got, err = ReadAll(ctx, store, "buckets/0001.bin")
			require.NoError(t, err)
			assert.Equal(t, "v2", string(got))

			require.NoError(t, store.Delete(ctx, "buckets/0001.bin"))
			_, err = store.Open(ctx, "buckets/0001.bin")
			assert.True(t, IsNotFound(err))

			// Deleting again is not an error.
			require.NoError(t, store.Delete(ctx, "buckets/0001.bin"))
		})
	}
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			for _, n := range []string{"manifest-2.json", "buckets/b.bin", "buckets/a.bin", "CURRENT"} {
				require.NoError(t, store.Put(ctx, n, []byte(n)))
			}

			all, err := store.List(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"CURRENT", "buckets/a.bin", "buckets/b.bin", "manifest-2.json"}, all)

			buckets, err := store.List(ctx, "buckets/")
			require.NoError(t, err)
			assert.Equal(t, []string{"buckets/a.bin", "buckets/b.bin"}, buckets)
		})
	}
}

func TestReadAll_Empty(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, "empty", nil))

	got, err := ReadAll(ctx, store, "empty")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLocalStore_NoTempLeftovers(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewLocalStore(root)

	require.NoError(t, store.Put(ctx, "a/b.bin", []byte("x")))

	entries, err := os.ReadDir(filepath.Join(root, "a"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b.bin", entries[0].Name())
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "missing"))
	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewLocalStore(t.TempDir())
	assert.ErrorIs(t, store.Put(ctx, "x", []byte("x")), context.Canceled)
}

func TestPrefixStore_Isolation(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	a := NewPrefixStore(inner, "shard0")
	b := NewPrefixStore(inner, "/shard1/")

	require.NoError(t, a.Put(ctx, "CURRENT", []byte("a")))
	require.NoError(t, b.Put(ctx, "CURRENT", []byte("b")))

	got, err := ReadAll(ctx, a, "CURRENT")
	require.NoError(t, err)
	assert.Equal(t, "a", string(got))

	names, err := inner.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"shard0/CURRENT", "shard1/CURRENT"}, names)
	assert.Equal(t, 2, inner.Len())
}
