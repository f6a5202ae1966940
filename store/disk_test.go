package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-filecache/logger"
	"github.com/saiset-co/sai-filecache/types"
)

func newTestDiskStore(t *testing.T, compression string) types.Store {
	t.Helper()

	config := &types.StoreConfig{
		Type: "disk",
		Config: &DiskConfig{
			Path:        t.TempDir(),
			Compression: compression,
		},
	}

	s, err := NewDiskStore(context.Background(), logger.NewNopLogger(), config)
	require.NoError(t, err)
	require.NoError(t, s.Start())

	t.Cleanup(func() {
		if s.IsRunning() {
			_ = s.Stop()
		}
	})

	return s
}

func TestDiskStoreRequiresPath(t *testing.T) {
	config := &types.StoreConfig{Type: "disk", Config: &DiskConfig{}}

	_, err := NewDiskStore(context.Background(), logger.NewNopLogger(), config)

	assert.ErrorIs(t, err, types.ErrStoreOperationFailed)
}

func TestDiskStoreRejectsUnknownCompression(t *testing.T) {
	config := &types.StoreConfig{
		Type:   "disk",
		Config: &DiskConfig{Path: t.TempDir(), Compression: "zstd"},
	}

	_, err := NewDiskStore(context.Background(), logger.NewNopLogger(), config)

	assert.ErrorIs(t, err, types.ErrStoreOperationFailed)
}

func TestDiskStoreSetGet(t *testing.T) {
	for _, compression := range []string{CompressionNone, CompressionBrotli} {
		t.Run(compression, func(t *testing.T) {
			s := newTestDiskStore(t, compression)
			ctx := context.Background()

			entry := testEntry("alpha", []byte("some payload bytes"))
			entry.Metadata = map[string]string{"source": "unit-test"}
			require.NoError(t, s.Set(ctx, entry))

			got, err := s.Get(ctx, "alpha")
			require.NoError(t, err)

			assert.Equal(t, entry.Key, got.Key)
			assert.Equal(t, entry.Payload, got.Payload)
			assert.Equal(t, entry.Signature, got.Signature)
			assert.Equal(t, entry.Algorithm, got.Algorithm)
			assert.Equal(t, entry.Metadata, got.Metadata)
		})
	}
}

func TestDiskStoreGetMissing(t *testing.T) {
	s := newTestDiskStore(t, CompressionNone)

	_, err := s.Get(context.Background(), "missing")

	assert.ErrorIs(t, err, types.ErrEntryNotFound)
}

func TestDiskStoreSetReplaces(t *testing.T) {
	s := newTestDiskStore(t, CompressionNone)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, testEntry("alpha", []byte("v1"))))
	require.NoError(t, s.Set(ctx, testEntry("alpha", []byte("v2 with different length"))))

	got, err := s.Get(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2 with different length"), got.Payload)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, keys)
}

func TestDiskStoreDeleteIdempotent(t *testing.T) {
	s := newTestDiskStore(t, CompressionNone)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, testEntry("alpha", []byte("payload"))))
	require.NoError(t, s.Delete(ctx, "alpha"))
	require.NoError(t, s.Delete(ctx, "alpha"))

	_, err := s.Get(ctx, "alpha")
	assert.ErrorIs(t, err, types.ErrEntryNotFound)
}

func TestDiskStoreKeysAndSize(t *testing.T) {
	s := newTestDiskStore(t, CompressionNone)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, testEntry("a", []byte("12345"))))
	require.NoError(t, s.Set(ctx, testEntry("b", []byte("123"))))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	// Size reports uncompressed payload bytes from the metadata sidecars.
	size, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)
}

func TestDiskStoreBrotliSizeIsUncompressed(t *testing.T) {
	s := newTestDiskStore(t, CompressionBrotli)
	ctx := context.Background()

	payload := make([]byte, 4096)
	require.NoError(t, s.Set(ctx, testEntry("big", payload)))

	size, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), size)
}

func TestDiskStoreClear(t *testing.T) {
	s := newTestDiskStore(t, CompressionNone)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, testEntry("a", []byte("x"))))
	require.NoError(t, s.Set(ctx, testEntry("b", []byte("y"))))

	require.NoError(t, s.Clear(ctx))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDiskStoreClearOnStart(t *testing.T) {
	dir := t.TempDir()

	first, err := NewDiskStore(context.Background(), logger.NewNopLogger(), &types.StoreConfig{
		Type:   "disk",
		Config: &DiskConfig{Path: dir, Compression: CompressionNone},
	})
	require.NoError(t, err)
	require.NoError(t, first.Start())
	require.NoError(t, first.Set(context.Background(), testEntry("persisted", []byte("x"))))
	require.NoError(t, first.Stop())

	second, err := NewDiskStore(context.Background(), logger.NewNopLogger(), &types.StoreConfig{
		Type:         "disk",
		ClearOnStart: true,
		Config:       &DiskConfig{Path: dir, Compression: CompressionNone},
	})
	require.NoError(t, err)
	require.NoError(t, second.Start())
	defer func() { _ = second.Stop() }()

	_, err = second.Get(context.Background(), "persisted")
	assert.ErrorIs(t, err, types.ErrEntryNotFound)
}

func TestDiskStoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	config := &types.StoreConfig{
		Type:   "disk",
		Config: &DiskConfig{Path: dir, Compression: CompressionNone},
	}

	first, err := NewDiskStore(context.Background(), logger.NewNopLogger(), config)
	require.NoError(t, err)
	require.NoError(t, first.Start())
	require.NoError(t, first.Set(context.Background(), testEntry("persisted", []byte("payload"))))
	require.NoError(t, first.Stop())

	second, err := NewDiskStore(context.Background(), logger.NewNopLogger(), config)
	require.NoError(t, err)
	require.NoError(t, second.Start())
	defer func() { _ = second.Stop() }()

	got, err := second.Get(context.Background(), "persisted")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got.Payload)
}

func TestDiskStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()

	s, err := NewDiskStore(context.Background(), logger.NewNopLogger(), &types.StoreConfig{
		Type:   "disk",
		Config: &DiskConfig{Path: dir, Compression: CompressionNone},
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer func() { _ = s.Stop() }()

	require.NoError(t, s.Set(context.Background(), testEntry("alpha", []byte("payload"))))

	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		assert.NotContains(t, path, tmpSuffix)
		return nil
	})
	require.NoError(t, err)
}
