package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var defaultCursor = Cursor{Year: 115, Month: 1, MarketIndex: 0, Page: 1}

func TestFileStoreMissingFileReturnsFallback(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(filepath.Join(t.TempDir(), "progress.json"), defaultCursor, zap.NewNop())
	require.NoError(t, err)

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, defaultCursor, got)
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "progress.json")
	store, err := NewFileStore(path, defaultCursor, zap.NewNop())
	require.NoError(t, err)

	want := Cursor{Year: 114, Month: 7, MarketIndex: 1, Page: 12}
	require.NoError(t, store.Save(context.Background(), want))

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files should not be left behind")
}

func TestFileStoreCorruptFileFallsBackWithWarning(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "progress.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	core, logs := observer.New(zap.WarnLevel)
	store, err := NewFileStore(path, defaultCursor, zap.New(core))
	require.NoError(t, err)

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, defaultCursor, got)
	assert.Equal(t, 1, logs.Len())
}

func TestFileStoreRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewFileStore("", defaultCursor, nil)
	require.Error(t, err)
}
