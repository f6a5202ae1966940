package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-filecache/types"
	"github.com/saiset-co/sai-filecache/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type MemoryConfig struct {
	// MaxEntries caps the number of stored entries; 0 means unlimited.
	// When the cap is reached the oldest entry is evicted (FIFO).
	MaxEntries int `yaml:"max_entries" json:"max_entries"`
}

type MemoryStore struct {
	ctx          context.Context
	cancel       context.CancelFunc
	logger       types.Logger
	config       *MemoryConfig
	clearOnStart bool
	data         map[string]*types.CacheEntry
	evictions    uint64
	mu           sync.RWMutex
	state        atomic.Value
}

func NewMemoryStore(ctx context.Context, logger types.Logger, config *types.StoreConfig) (types.Store, error) {
	memConfig := &MemoryConfig{
		MaxEntries: 10000,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, memConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory store config")
		}
	}

	storeCtx, cancel := context.WithCancel(ctx)

	s := &MemoryStore{
		ctx:          storeCtx,
		cancel:       cancel,
		logger:       logger,
		config:       memConfig,
		clearOnStart: config.ClearOnStart,
		data:         make(map[string]*types.CacheEntry),
	}

	s.state.Store(StateStopped)

	return s, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	m.mu.RLock()
	entry, exists := m.data[key]
	m.mu.RUnlock()

	if !exists {
		return nil, types.ErrEntryNotFound
	}

	// Callers get a copy so a concurrent replace-on-write for the same key
	// can never be observed half-applied.
	return entry.Clone(), nil
}

func (m *MemoryStore) Set(ctx context.Context, entry *types.CacheEntry) error {
	if entry == nil {
		return types.ErrCachePayloadNil
	}
	if entry.Key == "" {
		return types.ErrCacheKeyEmpty
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.MaxEntries > 0 {
		if _, exists := m.data[entry.Key]; !exists && len(m.data) >= m.config.MaxEntries {
			m.evictOldestUnsafe()
		}
	}

	m.data[entry.Key] = entry
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}

	return keys, nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cleared := len(m.data)
	m.data = make(map[string]*types.CacheEntry)

	if cleared > 0 {
		m.logger.Debug("Memory store cleared", zap.Int("cleared_entries", cleared))
	}

	return nil
}

func (m *MemoryStore) Size(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, entry := range m.data {
		total += int64(len(entry.Payload))
	}

	return total, nil
}

func (m *MemoryStore) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		m.logger.Warn("Memory store is already running")
		return types.ErrCacheIsRunning
	}

	defer func() {
		if m.getState() == StateStarting {
			m.setState(StateRunning)
		}
	}()

	if m.clearOnStart {
		if err := m.Clear(m.ctx); err != nil {
			return err
		}
	}

	m.logger.Info("Memory store started", zap.Int("max_entries", m.config.MaxEntries))
	return nil
}

func (m *MemoryStore) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		m.logger.Warn("Memory store is not running")
		return types.ErrCacheIsNotRunning
	}

	defer func() {
		m.setState(StateStopped)
	}()

	m.cancel()

	m.mu.Lock()
	entriesCount := len(m.data)
	m.data = make(map[string]*types.CacheEntry)
	m.mu.Unlock()

	m.logger.Info("Memory store stopped",
		zap.Int("cleared_entries", entriesCount),
		zap.Uint64("evictions", atomic.LoadUint64(&m.evictions)))

	return nil
}

func (m *MemoryStore) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *MemoryStore) getState() State {
	return m.state.Load().(State)
}

func (m *MemoryStore) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryStore) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *MemoryStore) evictOldestUnsafe() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range m.data {
		if oldestKey == "" || entry.CreatedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CreatedAt
		}
	}

	if oldestKey != "" {
		delete(m.data, oldestKey)
		atomic.AddUint64(&m.evictions, 1)
	}
}
