package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-filecache/types"
	"github.com/saiset-co/sai-filecache/utils"
)

const (
	dataSuffix = ".data"
	metaSuffix = ".meta"
	tmpSuffix  = ".tmp"

	CompressionNone   = "none"
	CompressionBrotli = "brotli"
)

type DiskConfig struct {
	Path        string `yaml:"path" json:"path"`
	Compression string `yaml:"compression" json:"compression"`
}

// diskMetadata is the sidecar record written next to each payload file.
// The payload file itself carries only (possibly compressed) payload bytes,
// so the signature always covers exactly what the caller stored.
type diskMetadata struct {
	Key         string            `json:"key"`
	Signature   []byte            `json:"signature"`
	Algorithm   string            `json:"algorithm"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
	Size        int64             `json:"size"`
	Compression string            `json:"compression"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// DiskStore keeps entries on the local filesystem, fanned out over 256
// subdirectories keyed by the first byte of the hashed cache key. Writes go
// through a temp file and a rename so a reader never sees a partial entry.
type DiskStore struct {
	ctx          context.Context
	cancel       context.CancelFunc
	logger       types.Logger
	config       *DiskConfig
	clearOnStart bool
	cacheDir     string
	mu           sync.RWMutex
	state        atomic.Value
}

func NewDiskStore(ctx context.Context, logger types.Logger, config *types.StoreConfig) (types.Store, error) {
	diskConfig := &DiskConfig{
		Path:        "",
		Compression: CompressionNone,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, diskConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal disk store config")
		}
	}

	if diskConfig.Path == "" {
		return nil, types.Errorf(types.ErrStoreOperationFailed, "disk store requires a path")
	}

	if diskConfig.Compression != CompressionNone && diskConfig.Compression != CompressionBrotli {
		return nil, types.Errorf(types.ErrStoreOperationFailed, "unknown compression: %s", diskConfig.Compression)
	}

	absCacheDir, err := filepath.Abs(diskConfig.Path)
	if err != nil {
		return nil, types.WrapError(err, "failed to resolve cache directory")
	}

	storeCtx, cancel := context.WithCancel(ctx)

	s := &DiskStore{
		ctx:          storeCtx,
		cancel:       cancel,
		logger:       logger,
		config:       diskConfig,
		clearOnStart: config.ClearOnStart,
		cacheDir:     absCacheDir,
	}

	s.state.Store(StateStopped)

	return s, nil
}

func (d *DiskStore) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	meta, err := d.readMetadata(key)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.ErrEntryNotFound
		}
		return nil, types.WrapError(err, "failed to read entry metadata")
	}

	data, err := os.ReadFile(d.dataPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			// Metadata without a payload file: the entry is unusable,
			// report it as absent.
			d.logger.Warn("Disk store metadata exists without payload",
				zap.String("key", key))
			return nil, types.ErrEntryNotFound
		}
		return nil, types.WrapError(err, "failed to read entry payload")
	}

	payload, err := d.decompress(data, meta.Compression)
	if err != nil {
		return nil, types.WrapError(err, "failed to decompress entry payload")
	}

	return &types.CacheEntry{
		Key:       meta.Key,
		Payload:   payload,
		Signature: meta.Signature,
		Algorithm: meta.Algorithm,
		CreatedAt: meta.CreatedAt,
		ExpiresAt: meta.ExpiresAt,
		Metadata:  meta.Metadata,
	}, nil
}

func (d *DiskStore) Set(ctx context.Context, entry *types.CacheEntry) error {
	if entry == nil {
		return types.ErrCachePayloadNil
	}
	if entry.Key == "" {
		return types.ErrCacheKeyEmpty
	}

	data, err := d.compress(entry.Payload)
	if err != nil {
		return types.WrapError(err, "failed to compress entry payload")
	}

	meta := &diskMetadata{
		Key:         entry.Key,
		Signature:   entry.Signature,
		Algorithm:   entry.Algorithm,
		CreatedAt:   entry.CreatedAt,
		ExpiresAt:   entry.ExpiresAt,
		Size:        int64(len(entry.Payload)),
		Compression: d.config.Compression,
		Metadata:    entry.Metadata,
	}

	metaBytes, err := utils.Marshal(meta)
	if err != nil {
		return types.WrapError(err, "failed to marshal entry metadata")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Payload first, metadata last: a crash in between leaves a payload
	// file that no metadata references, which Get treats as absent.
	if err := d.writeAtomic(d.dataPath(entry.Key), data); err != nil {
		return types.WrapError(err, "failed to write entry payload")
	}

	if err := d.writeAtomic(d.metaPath(entry.Key), metaBytes); err != nil {
		return types.WrapError(err, "failed to write entry metadata")
	}

	return nil
}

func (d *DiskStore) Delete(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Metadata first so a concurrent Get cannot resurrect a half-deleted
	// entry.
	if err := os.Remove(d.metaPath(key)); err != nil && !os.IsNotExist(err) {
		return types.WrapError(err, "failed to delete entry metadata")
	}

	if err := os.Remove(d.dataPath(key)); err != nil && !os.IsNotExist(err) {
		return types.WrapError(err, "failed to delete entry payload")
	}

	return nil
}

func (d *DiskStore) Keys(ctx context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var keys []string

	err := d.walkMetadata(func(meta *diskMetadata) {
		keys = append(keys, meta.Key)
	})
	if err != nil {
		return nil, err
	}

	return keys, nil
}

func (d *DiskStore) Clear(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0

	err := filepath.WalkDir(d.cacheDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return types.WrapError(err, "failed to clear disk store")
	}

	d.logger.Debug("Disk store cleared", zap.Int("removed_files", removed))
	return nil
}

func (d *DiskStore) Size(ctx context.Context) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var total int64

	err := d.walkMetadata(func(meta *diskMetadata) {
		total += meta.Size
	})
	if err != nil {
		return 0, err
	}

	return total, nil
}

func (d *DiskStore) Start() error {
	if !d.transitionState(StateStopped, StateStarting) {
		d.logger.Warn("Disk store is already running")
		return types.ErrCacheIsRunning
	}

	defer func() {
		if d.getState() == StateStarting {
			d.setState(StateRunning)
		}
	}()

	// Precreate the fan-out directories so writes never race on MkdirAll.
	for i := 0; i < 256; i++ {
		subdir := filepath.Join(d.cacheDir, hex.EncodeToString([]byte{byte(i)}))
		if err := os.MkdirAll(subdir, 0755); err != nil {
			d.setState(StateStopped)
			return types.WrapError(err, "failed to create cache subdirectory")
		}
	}

	if d.clearOnStart {
		if err := d.Clear(d.ctx); err != nil {
			d.setState(StateStopped)
			return err
		}
	}

	d.logger.Info("Disk store started",
		zap.String("path", d.cacheDir),
		zap.String("compression", d.config.Compression))
	return nil
}

func (d *DiskStore) Stop() error {
	if !d.transitionState(StateRunning, StateStopping) {
		d.logger.Warn("Disk store is not running")
		return types.ErrCacheIsNotRunning
	}

	defer func() {
		d.setState(StateStopped)
	}()

	d.cancel()
	d.logger.Info("Disk store stopped")
	return nil
}

func (d *DiskStore) IsRunning() bool {
	return d.getState() == StateRunning
}

func (d *DiskStore) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(d.cacheDir); err != nil {
		return types.WrapError(err, "cache directory unavailable")
	}
	return nil
}

func (d *DiskStore) getState() State {
	return d.state.Load().(State)
}

func (d *DiskStore) setState(newState State) bool {
	currentState := d.getState()
	return d.state.CompareAndSwap(currentState, newState)
}

func (d *DiskStore) transitionState(from, to State) bool {
	return d.state.CompareAndSwap(from, to)
}

// keyToPath hashes the cache key and fans it out over the precreated
// subdirectories, so arbitrary keys map to safe filesystem names.
func (d *DiskStore) keyToPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	hexKey := hex.EncodeToString(sum[:])
	return filepath.Join(d.cacheDir, hexKey[:2], hexKey)
}

func (d *DiskStore) dataPath(key string) string {
	return d.keyToPath(key) + dataSuffix
}

func (d *DiskStore) metaPath(key string) string {
	return d.keyToPath(key) + metaSuffix
}

func (d *DiskStore) readMetadata(key string) (*diskMetadata, error) {
	data, err := os.ReadFile(d.metaPath(key))
	if err != nil {
		return nil, err
	}

	meta := &diskMetadata{}
	if err := utils.Unmarshal(data, meta); err != nil {
		return nil, types.WrapError(err, "corrupted metadata file")
	}

	return meta, nil
}

func (d *DiskStore) walkMetadata(fn func(meta *diskMetadata)) error {
	return filepath.WalkDir(d.cacheDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(path, metaSuffix) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		meta := &diskMetadata{}
		if err := utils.Unmarshal(data, meta); err != nil {
			d.logger.Warn("Skipping corrupted metadata file",
				zap.String("path", path))
			return nil
		}

		fn(meta)
		return nil
	})
}

// writeAtomic writes content to a uniquely named temp file and renames it
// into place, so concurrent writers for the same key cannot interleave and
// readers never observe partial content.
func (d *DiskStore) writeAtomic(path string, content []byte) error {
	tmpPath := path + "." + uuid.NewString() + tmpSuffix

	if err := os.WriteFile(tmpPath, content, 0644); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return nil
}

func (d *DiskStore) compress(payload []byte) ([]byte, error) {
	if d.config.Compression != CompressionBrotli {
		return payload, nil
	}

	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)

	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (d *DiskStore) decompress(data []byte, compression string) ([]byte, error) {
	if compression != CompressionBrotli {
		return data, nil
	}

	return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
}
