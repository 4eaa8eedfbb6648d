package factory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hothotzd123/sensei/blobstore"
	"github.com/hothotzd123/sensei/engine"
	"github.com/hothotzd123/sensei/engine/realtime"
	"github.com/hothotzd123/sensei/engine/rolling"
	"github.com/hothotzd123/sensei/version"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"", KindRealtime, false},
		{"realtime", KindRealtime, false},
		{"rolling", KindRolling, false},
		{"lucene", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(KindRealtime)
	assert.Error(t, err)

	_, err = New(KindRolling)
	assert.Error(t, err)

	_, err = New("bogus", WithDirectory(t.TempDir()))
	assert.Error(t, err)
}

func TestRealtime_LocationAndCaching(t *testing.T) {
	dir := t.TempDir()
	f, err := New(KindRealtime, WithDirectory(dir), WithOrdering(version.Numeric{}))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "node1", "shard3"), f.Location(1, 3))

	e1, err := f.Engine(1, 3)
	require.NoError(t, err)
	e2, err := f.Engine(1, 3)
	require.NoError(t, err)
	assert.Same(t, e1, e2, "same location yields the same instance")

	e3, err := f.Engine(1, 4)
	require.NoError(t, err)
	assert.NotSame(t, e1, e3)

	_, ok := e1.(*realtime.Engine)
	assert.True(t, ok)
	assert.DirExists(t, f.Location(1, 3))
	assert.Equal(t, 2, f.Engines())
	assert.Equal(t, version.NameNumeric, f.VersionOrdering().Name())
}

func TestSharedLocation(t *testing.T) {
	f, err := New(KindRealtime, WithDirectory(t.TempDir()), WithSharedLocation(true))
	require.NoError(t, err)

	a, err := f.Engine(2, 0)
	require.NoError(t, err)
	b, err := f.Engine(2, 1)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, f.Location(2, 0), f.Location(2, 1))
}

func TestProvisioningError(t *testing.T) {
	dir := t.TempDir()
	// A regular file where the node directory should go.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node0"), []byte("x"), 0o600))

	f, err := New(KindRealtime, WithDirectory(dir))
	require.NoError(t, err)

	_, err = f.Engine(0, 1)
	require.Error(t, err)
	var pe *engine.ProvisioningError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 0, pe.NodeID)
	assert.Equal(t, 1, pe.Partition)
	assert.Equal(t, f.Location(0, 1), pe.Location)
	assert.Zero(t, f.Engines(), "failed engines are not cached")

	_, err = f.Engine(-1, 1)
	assert.True(t, errors.As(err, &pe))
}

func TestRolling_StoreBacked(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	f, err := New(KindRolling, WithStore(store), WithRollingOptions(rolling.WithCompression(rolling.CompressionNone)))
	require.NoError(t, err)

	assert.Equal(t, "node0/shard5", f.Location(0, 5))

	e, err := f.Engine(0, 5)
	require.NoError(t, err)
	_, ok := e.(*rolling.Engine)
	require.True(t, ok)

	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Consumer().Consume(ctx, []engine.Event{{Version: "1", Document: engine.Document{UID: 5}}}))
	require.NoError(t, e.Shutdown(ctx))

	names, err := store.List(ctx, "node0/shard5/")
	require.NoError(t, err)
	assert.Contains(t, names, "node0/shard5/CURRENT")
}

func TestRolling_StoreFuncError(t *testing.T) {
	boom := errors.New("no bucket")
	f, err := New(KindRolling, WithStoreFunc(func(string) (blobstore.Store, error) { return nil, boom }))
	require.NoError(t, err)

	_, err = f.Engine(0, 0)
	assert.ErrorIs(t, err, boom)
}

func TestRolling_LocalDirectory(t *testing.T) {
	dir := t.TempDir()
	f, err := New(KindRolling, WithDirectory(dir))
	require.NoError(t, err)

	_, err = f.Engine(3, 1)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(dir, "node3", "shard1"))
}

func TestDecoration(t *testing.T) {
	d := engine.NewDecoration([]string{"color"}, []string{"distance"})
	f, err := New(KindRealtime, WithDirectory(t.TempDir()), WithDecoration(d))
	require.NoError(t, err)

	got := f.Decoration()
	require.Len(t, got.FacetHandlers, 1)
	assert.Equal(t, "color", got.FacetHandlers[0].Name())
	require.Len(t, got.RuntimeFacetHandlerFactories, 1)
}
