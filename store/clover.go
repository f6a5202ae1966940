package store

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-filecache/types"
	"github.com/saiset-co/sai-filecache/utils"
)

const cloverCollection = "cache_entries"

type CloverConfig struct {
	// Path is the database directory; empty opens an in-memory database.
	Path string `yaml:"path" json:"path"`
}

// CloverStore keeps entries as documents in an embedded document database.
// Each document carries the cache key for lookups and the sonic-encoded
// entry as an opaque field, so the payload bytes survive round-trips intact.
type CloverStore struct {
	ctx          context.Context
	cancel       context.CancelFunc
	logger       types.Logger
	config       *CloverConfig
	clearOnStart bool
	db           *clover.DB
	mu           sync.Mutex
	state        atomic.Value
}

func NewCloverStore(ctx context.Context, logger types.Logger, config *types.StoreConfig) (types.Store, error) {
	cloverConfig := &CloverConfig{
		Path: "",
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, cloverConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal clover store config")
		}
	}

	db, err := clover.Open(cloverConfig.Path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open clover database")
	}

	storeCtx, cancel := context.WithCancel(ctx)

	s := &CloverStore{
		ctx:          storeCtx,
		cancel:       cancel,
		logger:       logger,
		config:       cloverConfig,
		clearOnStart: config.ClearOnStart,
		db:           db,
	}

	s.state.Store(StateStopped)

	return s, nil
}

func (c *CloverStore) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	doc, err := c.db.Query(cloverCollection).Where(clover.Field("key").Eq(key)).FindFirst()
	if err != nil {
		return nil, types.WrapError(err, "failed to query cache entry")
	}

	if doc == nil {
		return nil, types.ErrEntryNotFound
	}

	raw, ok := doc.Get("entry").(string)
	if !ok {
		return nil, types.Errorf(types.ErrStoreOperationFailed, "malformed document for key %s", key)
	}

	entry := &types.CacheEntry{}
	if err := utils.Unmarshal([]byte(raw), entry); err != nil {
		return nil, types.WrapError(err, "failed to unmarshal cache entry")
	}

	return entry, nil
}

func (c *CloverStore) Set(ctx context.Context, entry *types.CacheEntry) error {
	if entry == nil {
		return types.ErrCachePayloadNil
	}
	if entry.Key == "" {
		return types.ErrCacheKeyEmpty
	}

	data, err := utils.Marshal(entry)
	if err != nil {
		return types.WrapError(err, "failed to marshal cache entry")
	}

	doc := clover.NewDocument()
	doc.Set("key", entry.Key)
	doc.Set("entry", string(data))

	// Replace-on-write: delete then insert under the store lock, so two
	// concurrent puts for the same key never leave two documents behind.
	c.mu.Lock()
	defer c.mu.Unlock()

	err = c.db.Query(cloverCollection).Where(clover.Field("key").Eq(entry.Key)).Delete()
	if err != nil {
		return types.WrapError(err, "failed to replace cache entry")
	}

	if err := c.db.Insert(cloverCollection, doc); err != nil {
		return types.WrapError(err, "failed to insert cache entry")
	}

	return nil
}

func (c *CloverStore) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.db.Query(cloverCollection).Where(clover.Field("key").Eq(key)).Delete()
	if err != nil {
		return types.WrapError(err, "failed to delete cache entry")
	}

	return nil
}

func (c *CloverStore) Keys(ctx context.Context) ([]string, error) {
	docs, err := c.db.Query(cloverCollection).FindAll()
	if err != nil {
		return nil, types.WrapError(err, "failed to query cache keys")
	}

	keys := make([]string, 0, len(docs))
	for _, doc := range docs {
		if key, ok := doc.Get("key").(string); ok {
			keys = append(keys, key)
		}
	}

	return keys, nil
}

func (c *CloverStore) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.db.Query(cloverCollection).Delete(); err != nil {
		return types.WrapError(err, "failed to clear cache entries")
	}

	return nil
}

func (c *CloverStore) Size(ctx context.Context) (int64, error) {
	docs, err := c.db.Query(cloverCollection).FindAll()
	if err != nil {
		return 0, types.WrapError(err, "failed to query cache entries")
	}

	var total int64
	for _, doc := range docs {
		raw, ok := doc.Get("entry").(string)
		if !ok {
			continue
		}

		entry := &types.CacheEntry{}
		if err := utils.Unmarshal([]byte(raw), entry); err != nil {
			c.logger.Warn("Skipping unreadable cache entry document")
			continue
		}

		total += int64(len(entry.Payload))
	}

	return total, nil
}

func (c *CloverStore) Start() error {
	if !c.transitionState(StateStopped, StateStarting) {
		c.logger.Warn("Clover store is already running")
		return types.ErrCacheIsRunning
	}

	defer func() {
		if c.getState() == StateStarting {
			c.setState(StateRunning)
		}
	}()

	exists, err := c.db.HasCollection(cloverCollection)
	if err != nil {
		c.setState(StateStopped)
		return types.WrapError(err, "failed to check collection existence")
	}

	if !exists {
		if err := c.db.CreateCollection(cloverCollection); err != nil {
			c.setState(StateStopped)
			return types.WrapError(err, "failed to create collection")
		}
	}

	if c.clearOnStart {
		if err := c.Clear(c.ctx); err != nil {
			c.setState(StateStopped)
			return err
		}
	}

	c.logger.Info("Clover store started", zap.String("path", c.config.Path))
	return nil
}

func (c *CloverStore) Stop() error {
	if !c.transitionState(StateRunning, StateStopping) {
		c.logger.Warn("Clover store is not running")
		return types.ErrCacheIsNotRunning
	}

	defer func() {
		c.setState(StateStopped)
	}()

	c.cancel()

	if err := c.db.Close(); err != nil {
		return types.WrapError(err, "failed to close clover database")
	}

	c.logger.Info("Clover store stopped")
	return nil
}

func (c *CloverStore) IsRunning() bool {
	return c.getState() == StateRunning
}

func (c *CloverStore) getState() State {
	return c.state.Load().(State)
}

func (c *CloverStore) setState(newState State) bool {
	currentState := c.getState()
	return c.state.CompareAndSwap(currentState, newState)
}

func (c *CloverStore) transitionState(from, to State) bool {
	return c.state.CompareAndSwap(from, to)
}
