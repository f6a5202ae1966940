package store

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-filecache/types"
	"github.com/saiset-co/sai-filecache/utils"
)

type RedisConfig struct {
	Host               string        `yaml:"host" json:"host"`
	Port               int           `yaml:"port" json:"port"`
	Password           string        `yaml:"password" json:"password"`
	DB                 int           `yaml:"db" json:"db"`
	PoolSize           int           `yaml:"pool_size" json:"pool_size"`
	MinIdleConnections int           `yaml:"min_idle_connections" json:"min_idle_connections"`
	DialTimeout        time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout        time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout" json:"write_timeout"`
	KeyPrefix          string        `yaml:"key_prefix" json:"key_prefix"`
}

type RedisStore struct {
	ctx          context.Context
	cancel       context.CancelFunc
	logger       types.Logger
	config       *RedisConfig
	clearOnStart bool
	client       *redis.Client
	state        atomic.Value
}

func NewRedisStore(ctx context.Context, logger types.Logger, config *types.StoreConfig) (types.Store, error) {
	redisConfig := &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		Password:           "",
		DB:                 0,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		KeyPrefix:          "sai-filecache",
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, redisConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis store config")
		}
	}

	storeCtx, cancel := context.WithCancel(ctx)

	s := &RedisStore{
		ctx:          storeCtx,
		cancel:       cancel,
		logger:       logger,
		config:       redisConfig,
		clearOnStart: config.ClearOnStart,
	}

	s.state.Store(StateStopped)

	s.client = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
		Password:     redisConfig.Password,
		DB:           redisConfig.DB,
		PoolSize:     redisConfig.PoolSize,
		MinIdleConns: redisConfig.MinIdleConnections,
		DialTimeout:  redisConfig.DialTimeout,
		ReadTimeout:  redisConfig.ReadTimeout,
		WriteTimeout: redisConfig.WriteTimeout,
	})

	if err := s.client.Ping(storeCtx).Err(); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to connect to redis")
	}

	return s, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	result, err := r.client.Get(ctx, r.buildFullKey(key)).Result()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return nil, types.ErrEntryNotFound
		}
		return nil, types.WrapError(err, "failed to get cache entry")
	}

	entry := &types.CacheEntry{}
	if err := utils.Unmarshal([]byte(result), entry); err != nil {
		return nil, types.WrapError(err, "failed to unmarshal cache entry")
	}

	return entry, nil
}

func (r *RedisStore) Set(ctx context.Context, entry *types.CacheEntry) error {
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

	// Let redis drop the entry once its deadline passes; the cache still
	// performs its own expiry check, so an early redis eviction only turns
	// Expired into Miss after the deadline, never before it.
	var ttl time.Duration
	if !entry.ExpiresAt.IsZero() {
		ttl = time.Until(entry.ExpiresAt)
		if ttl <= 0 {
			ttl = time.Millisecond
		}
	}

	if err := r.client.Set(ctx, r.buildFullKey(entry.Key), data, ttl).Err(); err != nil {
		return types.WrapError(err, "failed to set cache entry")
	}

	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.buildFullKey(key)).Err(); err != nil {
		return types.WrapError(err, "failed to delete cache entry")
	}
	return nil
}

func (r *RedisStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	prefix := r.config.KeyPrefix + ":"

	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, types.WrapError(err, "failed to scan cache keys")
	}

	return keys, nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.config.KeyPrefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return types.WrapError(err, "failed to delete cache entry")
		}
	}
	if err := iter.Err(); err != nil {
		return types.WrapError(err, "failed to scan cache keys")
	}

	return nil
}

func (r *RedisStore) Size(ctx context.Context) (int64, error) {
	var total int64

	iter := r.client.Scan(ctx, 0, r.config.KeyPrefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		result, err := r.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			if types.IsError(err, redis.Nil) {
				continue
			}
			return 0, types.WrapError(err, "failed to get cache entry")
		}

		entry := &types.CacheEntry{}
		if err := utils.Unmarshal([]byte(result), entry); err != nil {
			r.logger.Warn("Skipping unreadable cache entry",
				zap.String("key", iter.Val()))
			continue
		}

		total += int64(len(entry.Payload))
	}
	if err := iter.Err(); err != nil {
		return 0, types.WrapError(err, "failed to scan cache keys")
	}

	return total, nil
}

func (r *RedisStore) Start() error {
	if !r.transitionState(StateStopped, StateStarting) {
		r.logger.Warn("Redis store is already running")
		return types.ErrCacheIsRunning
	}

	defer func() {
		if r.getState() == StateStarting {
			r.setState(StateRunning)
		}
	}()

	if r.clearOnStart {
		if err := r.Clear(r.ctx); err != nil {
			r.setState(StateStopped)
			return err
		}
	}

	r.logger.Info("Redis store started",
		zap.String("host", r.config.Host),
		zap.Int("port", r.config.Port),
		zap.String("key_prefix", r.config.KeyPrefix))
	return nil
}

func (r *RedisStore) Stop() error {
	if !r.transitionState(StateRunning, StateStopping) {
		r.logger.Warn("Redis store is not running")
		return types.ErrCacheIsNotRunning
	}

	defer func() {
		r.setState(StateStopped)
	}()

	r.cancel()

	if err := r.client.Close(); err != nil {
		return types.WrapError(err, "failed to close redis client")
	}

	r.logger.Info("Redis store stopped")
	return nil
}

func (r *RedisStore) IsRunning() bool {
	return r.getState() == StateRunning
}

func (r *RedisStore) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return types.WrapError(err, "redis ping failed")
	}
	return nil
}

func (r *RedisStore) getState() State {
	return r.state.Load().(State)
}

func (r *RedisStore) setState(newState State) bool {
	currentState := r.getState()
	return r.state.CompareAndSwap(currentState, newState)
}

func (r *RedisStore) transitionState(from, to State) bool {
	return r.state.CompareAndSwap(from, to)
}

func (r *RedisStore) buildFullKey(key string) string {
	return r.config.KeyPrefix + ":" + key
}
