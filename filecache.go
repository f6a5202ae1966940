// Package filecache is a signed file cache with configurable expiry
// intervals.
//
// Every payload is stored together with a digest computed at write time.
// A lookup distinguishes three failure outcomes: the key was never stored
// (ErrEntryNotFound), the entry's freshness deadline has passed
// (ErrEntryExpired), or the stored payload no longer matches its digest
// (ErrSignatureMismatch). The first two are recoverable by reloading the
// source data; a signature mismatch means the stored bytes were corrupted
// and must never be served.
package filecache

import (
	"bytes"
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/saiset-co/sai-filecache/config"
	"github.com/saiset-co/sai-filecache/events"
	"github.com/saiset-co/sai-filecache/health"
	"github.com/saiset-co/sai-filecache/interval"
	"github.com/saiset-co/sai-filecache/logger"
	"github.com/saiset-co/sai-filecache/metrics"
	"github.com/saiset-co/sai-filecache/server"
	"github.com/saiset-co/sai-filecache/signature"
	"github.com/saiset-co/sai-filecache/store"
	"github.com/saiset-co/sai-filecache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Cache ties the store, signer, interval policy and the ambient managers
// together. All lookups and writes are linearizable with respect to the
// underlying store: a get observes either the state before a concurrent put
// or the state after it, never a mix.
type Cache struct {
	ctx    context.Context
	cancel context.CancelFunc

	config  types.ConfigManager
	logger  types.Logger
	metrics types.MetricsManager
	health  *health.Manager
	store   types.Store
	signer  types.Signer
	policy  types.IntervalPolicy
	events  types.EventBroker
	server  *server.DebugServer

	group           singleflight.Group
	cleanupInterval time.Duration
	location        *time.Location
	startTime       time.Time
	state           atomic.Value
	shutdownTimeout time.Duration
}

// CacheStats is the snapshot served on the debug server's /stats endpoint.
type CacheStats struct {
	Name      string        `json:"name"`
	StoreType string        `json:"store_type"`
	Algorithm string        `json:"algorithm"`
	Entries   int           `json:"entries"`
	SizeBytes int64         `json:"size_bytes"`
	Uptime    time.Duration `json:"uptime"`
}

// New builds a cache from a YAML config file.
func New(ctx context.Context, configPath string) (*Cache, error) {
	configManager, err := config.NewManager(configPath)
	if err != nil {
		return nil, err
	}

	return build(ctx, configManager)
}

// NewWithConfig builds a cache from an already constructed config. Unset
// sections fall back to defaults.
func NewWithConfig(ctx context.Context, cfg *types.Config) (*Cache, error) {
	configManager, err := config.NewManagerWithConfig(cfg)
	if err != nil {
		return nil, err
	}

	return build(ctx, configManager)
}

func build(ctx context.Context, configManager types.ConfigManager) (*Cache, error) {
	cfg := configManager.GetConfig()

	cacheCtx, cancel := context.WithCancel(ctx)

	log, err := logger.NewDefaultLogger(cfg.Logger)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to create logger")
	}

	c := &Cache{
		ctx:             cacheCtx,
		cancel:          cancel,
		config:          configManager,
		logger:          log,
		shutdownTimeout: 10 * time.Second,
	}
	c.state.Store(StateStopped)

	metricsManager, err := metrics.NewMetricsManager(cacheCtx, configManager, log)
	if err != nil {
		if !types.IsError(err, types.ErrMetricsIsDisabled) {
			cancel()
			return nil, types.WrapError(err, "failed to create metrics manager")
		}
	} else {
		c.metrics = metricsManager
	}

	if cfg.Health != nil && cfg.Health.Enabled {
		healthManager, err := health.NewManager(cacheCtx, log)
		if err != nil {
			cancel()
			return nil, types.WrapError(err, "failed to create health manager")
		}
		c.health = healthManager
	}

	var healthManager types.HealthManager
	if c.health != nil {
		healthManager = c.health
	}

	cacheStore, err := store.NewStore(cacheCtx, configManager, log, c.metrics, healthManager)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to create store")
	}
	c.store = cacheStore

	signer, err := signature.NewSigner(cfg.Signature)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to create signer")
	}
	c.signer = signer

	if err := c.buildIntervalPolicy(cfg.Interval); err != nil {
		cancel()
		return nil, err
	}

	if cfg.Store != nil && cfg.Store.CleanupInterval != "" {
		d, err := time.ParseDuration(cfg.Store.CleanupInterval)
		if err != nil {
			cancel()
			return nil, types.Errorf(types.ErrIntervalSpecInvalid, "cleanup_interval: %s", cfg.Store.CleanupInterval)
		}
		c.cleanupInterval = d
	}

	dispatcher, err := events.NewDispatcher(cacheCtx, configManager, log, c.metrics)
	if err != nil {
		if !types.IsError(err, types.ErrEventsIsDisabled) {
			cancel()
			return nil, types.WrapError(err, "failed to create event dispatcher")
		}
	} else {
		c.events = dispatcher
	}

	if cfg.Server != nil && cfg.Server.Enabled {
		debugServer, err := server.NewDebugServer(cacheCtx, configManager, log, c.metrics, healthManager, c.Stats)
		if err != nil {
			cancel()
			return nil, types.WrapError(err, "failed to create debug server")
		}
		c.server = debugServer
	}

	log.Info("Cache initialized",
		zap.String("name", cfg.Name),
		zap.String("store", cfg.Store.Type),
		zap.String("algorithm", signer.Algorithm()))

	return c, nil
}

func (c *Cache) buildIntervalPolicy(cfg *types.IntervalConfig) error {
	c.location = time.UTC

	if cfg == nil {
		c.policy = interval.Never()
		return nil
	}

	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return types.Errorf(types.ErrIntervalSpecInvalid, "timezone: %s", cfg.Timezone)
		}
		c.location = loc
	}

	if cfg.Default == "" {
		c.policy = interval.Never()
		return nil
	}

	policy, err := interval.Parse(cfg.Default, c.location)
	if err != nil {
		return err
	}
	c.policy = policy

	return nil
}

func (c *Cache) Start() error {
	if !c.transitionState(StateStopped, StateStarting) {
		c.logger.Warn("Cache is already running")
		return types.ErrCacheIsRunning
	}

	defer func() {
		if c.getState() == StateStarting {
			c.setState(StateRunning)
		}
	}()

	c.startTime = time.Now()

	if c.metrics != nil {
		if err := c.metrics.Start(); err != nil {
			c.setState(StateStopped)
			return types.WrapError(err, "failed to start metrics manager")
		}
	}

	if c.health != nil {
		if err := c.health.Start(); err != nil {
			c.setState(StateStopped)
			return types.WrapError(err, "failed to start health manager")
		}
	}

	if c.events != nil {
		if err := c.events.Start(); err != nil {
			c.setState(StateStopped)
			return types.WrapError(err, "failed to start event dispatcher")
		}
	}

	if err := c.store.Start(); err != nil {
		c.setState(StateStopped)
		return types.WrapError(err, "failed to start store")
	}

	if c.server != nil {
		if err := c.server.Start(); err != nil {
			c.setState(StateStopped)
			return types.WrapError(err, "failed to start debug server")
		}
	}

	if c.cleanupInterval > 0 {
		go c.sweepLoop()
	}

	c.logger.Info("Cache started", zap.String("name", c.config.GetConfig().Name))
	return nil
}

func (c *Cache) Stop() error {
	if !c.transitionState(StateRunning, StateStopping) {
		c.logger.Warn("Cache is not running")
		return types.ErrCacheIsNotRunning
	}

	defer func() {
		c.setState(StateStopped)
		c.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.shutdownTimeout)
	defer cancel()

	g, _ := errgroup.WithContext(ctx)

	if c.server != nil {
		g.Go(c.server.Stop)
	}

	g.Go(c.store.Stop)

	if c.events != nil {
		g.Go(c.events.Stop)
	}

	if c.health != nil {
		g.Go(c.health.Stop)
	}

	if c.metrics != nil {
		g.Go(c.metrics.Stop)
	}

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			c.logger.Warn("Cache stop timeout, some components may not have stopped gracefully")
		default:
			c.logger.Error("Error during cache shutdown", zap.Error(err))
		}
	} else {
		c.logger.Info("Cache stopped gracefully")
	}

	return nil
}

func (c *Cache) IsRunning() bool {
	return c.getState() == StateRunning
}

// Algorithm returns the digest algorithm entries are signed with.
func (c *Cache) Algorithm() string {
	return c.signer.Algorithm()
}

// Put stores payload under key using the cache's default interval policy.
func (c *Cache) Put(ctx context.Context, key string, payload []byte) error {
	return c.PutWithPolicy(ctx, key, payload, c.policy)
}

// PutWithPolicy stores payload under key with an explicit interval policy,
// replacing any previous entry for the key. The signature and the freshness
// deadline are both computed here, at write time.
func (c *Cache) PutWithPolicy(ctx context.Context, key string, payload []byte, policy types.IntervalPolicy) error {
	if !c.IsRunning() {
		return types.ErrCacheIsNotRunning
	}
	if key == "" {
		return types.ErrCacheKeyEmpty
	}
	if payload == nil {
		return types.ErrCachePayloadNil
	}
	if policy == nil {
		return types.ErrIntervalPolicyIsNil
	}

	now := time.Now().In(c.location)

	entry := &types.CacheEntry{
		Key:       key,
		Payload:   payload,
		Signature: c.signer.Sign(payload),
		Algorithm: c.signer.Algorithm(),
		CreatedAt: now,
		ExpiresAt: policy.Deadline(now),
	}

	if err := c.store.Set(ctx, entry); err != nil {
		return err
	}

	c.publish(types.EventWrite, key)
	c.recordLookup("put", "success")

	c.logger.Debug("Entry stored",
		zap.String("key", key),
		zap.Int("payload_bytes", len(payload)),
		zap.Time("expires_at", entry.ExpiresAt))

	return nil
}

// PutIfChanged stores payload only when the cache does not already hold a
// fresh, intact entry with identical bytes. It returns ErrCacheWriteSkipped
// when the write was elided.
func (c *Cache) PutIfChanged(ctx context.Context, key string, payload []byte) error {
	if !c.IsRunning() {
		return types.ErrCacheIsNotRunning
	}
	if key == "" {
		return types.ErrCacheKeyEmpty
	}
	if payload == nil {
		return types.ErrCachePayloadNil
	}

	existing, err := c.store.Get(ctx, key)
	if err == nil &&
		!existing.Expired(time.Now()) &&
		existing.Algorithm == c.signer.Algorithm() &&
		c.signer.Verify(existing.Payload, existing.Signature) &&
		bytes.Equal(existing.Payload, payload) {
		c.logger.Debug("Write skipped, payload unchanged", zap.String("key", key))
		return types.ErrCacheWriteSkipped
	}

	return c.Put(ctx, key, payload)
}

// Get returns the payload for key. It fails with ErrEntryNotFound,
// ErrEntryExpired or ErrSignatureMismatch; the three outcomes are distinct
// and are never collapsed into each other.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := c.GetEntry(ctx, key)
	if err != nil {
		return nil, err
	}
	return entry.Payload, nil
}

// GetEntry is Get with the full entry, including signature and timestamps.
func (c *Cache) GetEntry(ctx context.Context, key string) (*types.CacheEntry, error) {
	if !c.IsRunning() {
		return nil, types.ErrCacheIsNotRunning
	}
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	entry, err := c.store.Get(ctx, key)
	if err != nil {
		if types.IsError(err, types.ErrEntryNotFound) {
			c.publish(types.EventMiss, key)
			c.recordLookup("get", "miss")
			return nil, types.ErrEntryNotFound
		}
		c.recordLookup("get", "error")
		return nil, err
	}

	// Freshness is checked before integrity: an expired entry is reported
	// as expired even when its bytes are also corrupted.
	if entry.Expired(time.Now()) {
		c.publish(types.EventExpired, key)
		c.recordLookup("get", "expired")
		return nil, types.Errorf(types.ErrEntryExpired, "key: %s", key)
	}

	if entry.Algorithm != c.signer.Algorithm() || !c.signer.Verify(entry.Payload, entry.Signature) {
		c.publish(types.EventInvalid, key)
		c.recordLookup("get", "invalid")
		c.logger.Warn("Entry signature mismatch",
			zap.String("key", key),
			zap.String("algorithm", entry.Algorithm))
		return nil, types.Errorf(types.ErrSignatureMismatch, "key: %s", key)
	}

	c.publish(types.EventHit, key)
	c.recordLookup("get", "hit")

	return entry, nil
}

// GetOrLoad returns the cached payload for key, invoking loader on a miss or
// an expired entry and caching its result. Concurrent callers for the same
// key share a single loader invocation. A signature mismatch is returned
// as-is: corrupted entries are surfaced, never silently reloaded.
func (c *Cache) GetOrLoad(ctx context.Context, key string, loader types.LoaderFunc) ([]byte, error) {
	if loader == nil {
		return nil, types.ErrLoaderIsNil
	}

	payload, err, _ := c.group.Do(key, func() (interface{}, error) {
		entry, err := c.GetEntry(ctx, key)
		if err == nil {
			return entry.Payload, nil
		}

		if !types.IsError(err, types.ErrEntryNotFound) && !types.IsError(err, types.ErrEntryExpired) {
			return nil, err
		}

		loaded, err := loader(ctx, key)
		if err != nil {
			return nil, types.WrapError(err, "loader failed")
		}

		if err := c.Put(ctx, key, loaded); err != nil {
			return nil, err
		}

		return loaded, nil
	})
	if err != nil {
		return nil, err
	}

	return payload.([]byte), nil
}

// Evict removes the entry for key. Evicting an absent key is a no-op.
func (c *Cache) Evict(ctx context.Context, key string) error {
	if !c.IsRunning() {
		return types.ErrCacheIsNotRunning
	}
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if err := c.store.Delete(ctx, key); err != nil {
		return err
	}

	c.publish(types.EventEvicted, key)
	c.logger.Debug("Entry evicted", zap.String("key", key))

	return nil
}

// Clear removes every entry.
func (c *Cache) Clear(ctx context.Context) error {
	if !c.IsRunning() {
		return types.ErrCacheIsNotRunning
	}

	if err := c.store.Clear(ctx); err != nil {
		return err
	}

	c.publish(types.EventCleared, "")
	c.logger.Info("Cache cleared")

	return nil
}

// Size returns the total payload bytes held by the store.
func (c *Cache) Size(ctx context.Context) (int64, error) {
	if !c.IsRunning() {
		return 0, types.ErrCacheIsNotRunning
	}
	return c.store.Size(ctx)
}

// Keys returns every stored key, including expired and corrupted entries.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	if !c.IsRunning() {
		return nil, types.ErrCacheIsNotRunning
	}
	return c.store.Keys(ctx)
}

// Stats collects the snapshot served on /stats.
func (c *Cache) Stats(ctx context.Context) (interface{}, error) {
	keys, err := c.store.Keys(ctx)
	if err != nil {
		return nil, err
	}

	size, err := c.store.Size(ctx)
	if err != nil {
		return nil, err
	}

	return &CacheStats{
		Name:      c.config.GetConfig().Name,
		StoreType: c.config.GetConfig().Store.Type,
		Algorithm: c.signer.Algorithm(),
		Entries:   len(keys),
		SizeBytes: size,
		Uptime:    time.Since(c.startTime),
	}, nil
}

// Subscribe registers a handler for a cache lifecycle event. Events must be
// enabled in the configuration.
func (c *Cache) Subscribe(event string, handler types.EventHandler) error {
	if c.events == nil {
		return types.ErrEventsIsDisabled
	}
	return c.events.Subscribe(event, handler)
}

// sweepLoop periodically removes entries whose freshness deadline has
// passed. Corrupted entries are left in place so reads keep reporting the
// mismatch instead of turning it into a miss.
func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	c.logger.Info("Cleanup sweep started", zap.Duration("interval", c.cleanupInterval))

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Cleanup sweep stopped")
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	keys, err := c.store.Keys(c.ctx)
	if err != nil {
		c.logger.Error("Cleanup sweep failed to list keys", zap.Error(err))
		return
	}

	now := time.Now()
	removed := 0

	for _, key := range keys {
		entry, err := c.store.Get(c.ctx, key)
		if err != nil {
			continue
		}

		if !entry.Expired(now) {
			continue
		}

		if err := c.store.Delete(c.ctx, key); err != nil {
			c.logger.Error("Cleanup sweep failed to delete entry",
				zap.String("key", key),
				zap.Error(err))
			continue
		}

		c.publish(types.EventExpired, key)
		removed++
	}

	if removed > 0 {
		c.logger.Info("Cleanup sweep removed expired entries", zap.Int("removed", removed))
	}

	if c.metrics != nil {
		c.metrics.Gauge("cache_entries", nil).Set(float64(len(keys) - removed))
	}
}

func (c *Cache) publish(event, key string) {
	if c.events == nil {
		return
	}

	if err := c.events.Publish(event, key, nil); err != nil {
		c.logger.Debug("Event publish failed",
			zap.String("event", event),
			zap.String("key", key),
			zap.Error(err))
	}
}

func (c *Cache) recordLookup(operation, outcome string) {
	if c.metrics == nil {
		return
	}

	c.metrics.Counter("cache_lookups_total", map[string]string{
		"operation": operation,
		"outcome":   outcome,
	}).Inc()
}

func (c *Cache) getState() State {
	return c.state.Load().(State)
}

func (c *Cache) setState(newState State) bool {
	currentState := c.getState()
	return c.state.CompareAndSwap(currentState, newState)
}

func (c *Cache) transitionState(from, to State) bool {
	return c.state.CompareAndSwap(from, to)
}
