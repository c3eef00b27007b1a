package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-relay/internal/storage"
)

func TestWatermarkStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store, err := NewWatermarkStore(t.TempDir(), "last_seen.json")
	require.NoError(t, err)

	want := map[int64]int64{123: 10, -100200300: 77}
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestWatermarkStore_FileFormat(t *testing.T) {
	ctx := context.Background()
	store, err := NewWatermarkStore(t.TempDir(), "last_seen.json")
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, map[int64]int64{123: 10}))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `{"123": 10}`, string(data))
}

func TestWatermarkStore_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	store, err := NewWatermarkStore(t.TempDir(), "last_seen.json")
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, map[int64]int64{1: 1, 2: 2}))
	require.NoError(t, store.Save(ctx, map[int64]int64{2: 5}))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{2: 5}, got)
}

func TestWatermarkStore_Missing(t *testing.T) {
	store, err := NewWatermarkStore(filepath.Join(t.TempDir(), "nested", "state"), "last_seen.json")
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWatermarkStore_Corrupt(t *testing.T) {
	dir := t.TempDir()
	store, err := NewWatermarkStore(dir, "last_seen.json")
	require.NoError(t, err)

	cases := map[string]string{
		"not json":       "{{{",
		"non-int value":  `{"123": "ten"}`,
		"non-int key":    `{"abc": 10}`,
		"array document": `[1, 2, 3]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(store.Path(), []byte(body), 0o644))
			_, err := store.Load(context.Background())
			assert.ErrorIs(t, err, storage.ErrCorrupt)
		})
	}
}
