package filecache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-filecache/interval"
	"github.com/saiset-co/sai-filecache/store"
	"github.com/saiset-co/sai-filecache/types"
)

func testConfig() *types.Config {
	return &types.Config{
		Name:   "test-cache",
		Logger: &types.LoggerConfig{Level: "error"},
		Store:  &types.StoreConfig{Type: "memory"},
	}
}

func newTestCache(t *testing.T, cfg *types.Config) *Cache {
	t.Helper()

	if cfg == nil {
		cfg = testConfig()
	}

	c, err := NewWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, c.Start())

	t.Cleanup(func() {
		if c.IsRunning() {
			_ = c.Stop()
		}
	})

	return c
}

func TestPutGetRoundTrip(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	payload := []byte("cached content")
	require.NoError(t, c.Put(ctx, "alpha", payload))

	got, err := c.Get(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	entry, err := c.GetEntry(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "sha256", entry.Algorithm)
	assert.Len(t, entry.Signature, 32)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.False(t, entry.ExpiresAt.IsZero())
}

func TestGetMiss(t *testing.T) {
	c := newTestCache(t, nil)

	_, err := c.Get(context.Background(), "never-stored")

	assert.ErrorIs(t, err, types.ErrEntryNotFound)
	assert.NotErrorIs(t, err, types.ErrEntryExpired)
	assert.NotErrorIs(t, err, types.ErrSignatureMismatch)
}

func TestGetExpired(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	policy, err := interval.NewFixed(20 * time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, c.PutWithPolicy(ctx, "ephemeral", []byte("payload"), policy))

	// Fresh immediately after the write.
	_, err = c.Get(ctx, "ephemeral")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = c.Get(ctx, "ephemeral")
	assert.ErrorIs(t, err, types.ErrEntryExpired)
	assert.NotErrorIs(t, err, types.ErrEntryNotFound)
}

func TestPutReplacesAndRefreshesDeadline(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	short, err := interval.NewFixed(20 * time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, c.PutWithPolicy(ctx, "alpha", []byte("v1"), short))
	time.Sleep(50 * time.Millisecond)

	// The replacement gets a fresh deadline computed from its own write time.
	require.NoError(t, c.Put(ctx, "alpha", []byte("v2")))

	got, err := c.Get(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestPutValidation(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	assert.ErrorIs(t, c.Put(ctx, "", []byte("x")), types.ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Put(ctx, "key", nil), types.ErrCachePayloadNil)
	assert.ErrorIs(t, c.PutWithPolicy(ctx, "key", []byte("x"), nil), types.ErrIntervalPolicyIsNil)
}

func TestPutIfChanged(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	require.NoError(t, c.PutIfChanged(ctx, "alpha", []byte("v1")))

	err := c.PutIfChanged(ctx, "alpha", []byte("v1"))
	assert.ErrorIs(t, err, types.ErrCacheWriteSkipped)

	require.NoError(t, c.PutIfChanged(ctx, "alpha", []byte("v2")))

	got, err := c.Get(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestEvict(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "alpha", []byte("payload")))
	require.NoError(t, c.Evict(ctx, "alpha"))

	_, err := c.Get(ctx, "alpha")
	assert.ErrorIs(t, err, types.ErrEntryNotFound)

	// Evicting an absent key is a no-op.
	require.NoError(t, c.Evict(ctx, "alpha"))
}

func TestClearAndSize(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "a", []byte("12345")))
	require.NoError(t, c.Put(ctx, "b", []byte("123")))

	size, err := c.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	require.NoError(t, c.Clear(ctx))

	size, err = c.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestOperationsRequireRunningCache(t *testing.T) {
	c, err := NewWithConfig(context.Background(), testConfig())
	require.NoError(t, err)

	ctx := context.Background()

	assert.ErrorIs(t, c.Put(ctx, "key", []byte("x")), types.ErrCacheIsNotRunning)

	_, err = c.Get(ctx, "key")
	assert.ErrorIs(t, err, types.ErrCacheIsNotRunning)

	assert.ErrorIs(t, c.Evict(ctx, "key"), types.ErrCacheIsNotRunning)
	assert.ErrorIs(t, c.Clear(ctx), types.ErrCacheIsNotRunning)
}

func TestLifecycle(t *testing.T) {
	c, err := NewWithConfig(context.Background(), testConfig())
	require.NoError(t, err)

	assert.False(t, c.IsRunning())
	assert.ErrorIs(t, c.Stop(), types.ErrCacheIsNotRunning)

	require.NoError(t, c.Start())
	assert.True(t, c.IsRunning())
	assert.ErrorIs(t, c.Start(), types.ErrCacheIsRunning)

	require.NoError(t, c.Stop())
	assert.False(t, c.IsRunning())
}

func TestAlgorithm(t *testing.T) {
	cfg := testConfig()
	cfg.Signature = &types.SignatureConfig{Algorithm: "blake2b"}

	c := newTestCache(t, cfg)

	assert.Equal(t, "blake2b", c.Algorithm())
}

// tamperStore is a map-backed store that hands back its entries by
// reference, so tests can corrupt a stored payload in place.
type tamperStore struct {
	mu      sync.Mutex
	data    map[string]*types.CacheEntry
	running bool
}

func (s *tamperStore) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.data[key]
	if !ok {
		return nil, types.ErrEntryNotFound
	}
	return entry, nil
}

func (s *tamperStore) Set(ctx context.Context, entry *types.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[entry.Key] = entry
	return nil
}

func (s *tamperStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *tamperStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *tamperStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]*types.CacheEntry)
	return nil
}

func (s *tamperStore) Size(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, entry := range s.data {
		total += int64(len(entry.Payload))
	}
	return total, nil
}

func (s *tamperStore) Start() error { s.running = true; return nil }
func (s *tamperStore) Stop() error  { s.running = false; return nil }
func (s *tamperStore) IsRunning() bool {
	return s.running
}

func (s *tamperStore) corrupt(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.data[key]; ok && len(entry.Payload) > 0 {
		entry.Payload[0] ^= 0xff
	}
}

func newTamperedCache(t *testing.T) (*Cache, *tamperStore) {
	t.Helper()

	backing := &tamperStore{data: make(map[string]*types.CacheEntry)}
	store.RegisterStore("tamper", func(config interface{}) (types.Store, error) {
		return backing, nil
	})

	cfg := testConfig()
	cfg.Store = &types.StoreConfig{Type: "tamper"}

	return newTestCache(t, cfg), backing
}

func TestGetSignatureMismatch(t *testing.T) {
	c, backing := newTamperedCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "alpha", []byte("payload")))

	backing.corrupt("alpha")

	_, err := c.Get(ctx, "alpha")
	assert.ErrorIs(t, err, types.ErrSignatureMismatch)
	assert.NotErrorIs(t, err, types.ErrEntryNotFound)
	assert.NotErrorIs(t, err, types.ErrEntryExpired)

	// The corrupted entry stays put: a later read reports the mismatch
	// again instead of a miss.
	_, err = c.Get(ctx, "alpha")
	assert.ErrorIs(t, err, types.ErrSignatureMismatch)
}

func TestExpiryCheckedBeforeSignature(t *testing.T) {
	c, backing := newTamperedCache(t)
	ctx := context.Background()

	policy, err := interval.NewFixed(20 * time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, c.PutWithPolicy(ctx, "alpha", []byte("payload"), policy))
	backing.corrupt("alpha")
	time.Sleep(50 * time.Millisecond)

	_, err = c.Get(ctx, "alpha")
	assert.ErrorIs(t, err, types.ErrEntryExpired)
}

func TestGetOrLoad(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	var loads int32
	loader := func(ctx context.Context, key string) ([]byte, error) {
		atomic.AddInt32(&loads, 1)
		return []byte("loaded:" + key), nil
	}

	got, err := c.GetOrLoad(ctx, "alpha", loader)
	require.NoError(t, err)
	assert.Equal(t, []byte("loaded:alpha"), got)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))

	// Second lookup is served from the cache.
	got, err = c.GetOrLoad(ctx, "alpha", loader)
	require.NoError(t, err)
	assert.Equal(t, []byte("loaded:alpha"), got)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
}

func TestGetOrLoadReloadsExpired(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	policy, err := interval.NewFixed(20 * time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, c.PutWithPolicy(ctx, "alpha", []byte("stale"), policy))
	time.Sleep(50 * time.Millisecond)

	var loads int32
	got, err := c.GetOrLoad(ctx, "alpha", func(ctx context.Context, key string) ([]byte, error) {
		atomic.AddInt32(&loads, 1)
		return []byte("fresh"), nil
	})

	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), got)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
}

func TestGetOrLoadNeverLoadsCorrupted(t *testing.T) {
	c, backing := newTamperedCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "alpha", []byte("payload")))
	backing.corrupt("alpha")

	var loads int32
	_, err := c.GetOrLoad(ctx, "alpha", func(ctx context.Context, key string) ([]byte, error) {
		atomic.AddInt32(&loads, 1)
		return []byte("reloaded"), nil
	})

	assert.ErrorIs(t, err, types.ErrSignatureMismatch)
	assert.Zero(t, atomic.LoadInt32(&loads))
}

func TestGetOrLoadSharesConcurrentLoads(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	var loads int32
	loader := func(ctx context.Context, key string) ([]byte, error) {
		atomic.AddInt32(&loads, 1)
		time.Sleep(100 * time.Millisecond)
		return []byte("shared"), nil
	}

	var start, done sync.WaitGroup
	start.Add(1)

	results := make([][]byte, 10)
	for i := 0; i < 10; i++ {
		done.Add(1)
		go func(i int) {
			defer done.Done()
			start.Wait()

			got, err := c.GetOrLoad(ctx, "alpha", loader)
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}

	start.Done()
	done.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
	for _, got := range results {
		assert.Equal(t, []byte("shared"), got)
	}
}

func TestGetOrLoadRequiresLoader(t *testing.T) {
	c := newTestCache(t, nil)

	_, err := c.GetOrLoad(context.Background(), "alpha", nil)

	assert.ErrorIs(t, err, types.ErrLoaderIsNil)
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	cfg := testConfig()
	cfg.Store = &types.StoreConfig{Type: "memory", CleanupInterval: "25ms"}

	c := newTestCache(t, cfg)
	ctx := context.Background()

	short, err := interval.NewFixed(20 * time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, c.PutWithPolicy(ctx, "ephemeral", []byte("x"), short))
	require.NoError(t, c.Put(ctx, "durable", []byte("y")))

	assert.Eventually(t, func() bool {
		keys, err := c.Keys(ctx)
		return err == nil && len(keys) == 1
	}, time.Second, 10*time.Millisecond)

	_, err = c.Get(ctx, "durable")
	assert.NoError(t, err)
}

func TestEventsDelivered(t *testing.T) {
	cfg := testConfig()
	cfg.Events = &types.EventsConfig{Enabled: true}

	c := newTestCache(t, cfg)
	ctx := context.Background()

	received := make(chan *types.EventMessage, 1)
	require.NoError(t, c.Subscribe(types.EventWrite, func(message *types.EventMessage) {
		received <- message
	}))

	require.NoError(t, c.Put(ctx, "alpha", []byte("payload")))

	select {
	case message := <-received:
		assert.Equal(t, types.EventWrite, message.Event)
		assert.Equal(t, "alpha", message.Key)
		assert.Equal(t, "test-cache", message.Source)
		assert.NotEmpty(t, message.MessageID)
	case <-time.After(time.Second):
		t.Fatal("write event was not delivered")
	}
}

func TestSubscribeWithoutEvents(t *testing.T) {
	c := newTestCache(t, nil)

	err := c.Subscribe(types.EventWrite, func(*types.EventMessage) {})

	assert.ErrorIs(t, err, types.ErrEventsIsDisabled)
}

func TestStats(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "alpha", []byte("12345")))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)

	snapshot, ok := stats.(*CacheStats)
	require.True(t, ok)

	assert.Equal(t, "test-cache", snapshot.Name)
	assert.Equal(t, "memory", snapshot.StoreType)
	assert.Equal(t, "sha256", snapshot.Algorithm)
	assert.Equal(t, 1, snapshot.Entries)
	assert.Equal(t, int64(5), snapshot.SizeBytes)
}
