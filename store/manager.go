package store

import (
	"context"
	"time"

	"github.com/saiset-co/sai-filecache/types"
)

var customStoreCreators = make(map[string]types.StoreCreator)

// RegisterStore makes a custom backend selectable by type name.
func RegisterStore(storeName string, creator types.StoreCreator) {
	customStoreCreators[storeName] = creator
}

// healthCheckable is implemented by backends that can report reachability.
type healthCheckable interface {
	HealthCheck(ctx context.Context) error
}

func NewStore(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, health types.HealthManager) (types.Store, error) {
	storeConfig := config.GetConfig().Store
	if storeConfig == nil {
		return nil, types.ErrConfigIsNil
	}

	var impl types.Store
	var err error

	switch storeConfig.Type {
	case "memory":
		impl, err = NewMemoryStore(ctx, logger, storeConfig)
	case "disk":
		impl, err = NewDiskStore(ctx, logger, storeConfig)
	case "redis":
		impl, err = NewRedisStore(ctx, logger, storeConfig)
	case "sqlite":
		impl, err = NewSQLiteStore(ctx, logger, storeConfig)
	case "clover":
		impl, err = NewCloverStore(ctx, logger, storeConfig)
	default:
		if creator, exists := customStoreCreators[storeConfig.Type]; exists {
			impl, err = creator(storeConfig.Config)
		} else {
			return nil, types.Errorf(types.ErrStoreTypeUnknown, "type: %s", storeConfig.Type)
		}
	}

	if err != nil {
		return nil, err
	}

	if health != nil {
		if checkable, ok := impl.(healthCheckable); ok {
			health.RegisterChecker("store", checkable.HealthCheck)
		}
	}

	if metrics == nil {
		return impl, nil
	}

	return newInstrumentedStore(metrics, impl), nil
}

// instrumentedStore records an operation counter and a latency histogram for
// every store call.
type instrumentedStore struct {
	impl    types.Store
	metrics types.MetricsManager
}

func newInstrumentedStore(metrics types.MetricsManager, impl types.Store) types.Store {
	return &instrumentedStore{
		impl:    impl,
		metrics: metrics,
	}
}

func (is *instrumentedStore) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	start := time.Now()
	entry, err := is.impl.Get(ctx, key)

	result := "hit"
	if err != nil {
		result = "error"
		if types.IsError(err, types.ErrEntryNotFound) {
			result = "miss"
		}
	}

	is.recordMetric("get", result, time.Since(start))
	return entry, err
}

func (is *instrumentedStore) Set(ctx context.Context, entry *types.CacheEntry) error {
	start := time.Now()
	err := is.impl.Set(ctx, entry)
	is.recordMetric("set", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := is.impl.Delete(ctx, key)
	is.recordMetric("delete", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStore) Keys(ctx context.Context) ([]string, error) {
	start := time.Now()
	keys, err := is.impl.Keys(ctx)
	is.recordMetric("keys", resultOf(err), time.Since(start))
	return keys, err
}

func (is *instrumentedStore) Clear(ctx context.Context) error {
	start := time.Now()
	err := is.impl.Clear(ctx)
	is.recordMetric("clear", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStore) Size(ctx context.Context) (int64, error) {
	start := time.Now()
	size, err := is.impl.Size(ctx)
	is.recordMetric("size", resultOf(err), time.Since(start))
	return size, err
}

func (is *instrumentedStore) Start() error {
	return is.impl.Start()
}

func (is *instrumentedStore) Stop() error {
	return is.impl.Stop()
}

func (is *instrumentedStore) IsRunning() bool {
	return is.impl.IsRunning()
}

func (is *instrumentedStore) recordMetric(operation, result string, duration time.Duration) {
	opCounter := is.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	})
	opCounter.Inc()

	opDuration := is.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	)
	opDuration.Observe(duration.Seconds())
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
