package store

import (
	"context"
	"database/sql"
	"strconv"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-filecache/types"
	"github.com/saiset-co/sai-filecache/utils"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	signature  BLOB NOT NULL,
	algorithm  TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	metadata   TEXT
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
`

type SQLiteConfig struct {
	Path string `yaml:"path" json:"path"`
	// BusyTimeout is passed to sqlite so concurrent writers queue instead
	// of failing immediately.
	BusyTimeout time.Duration `yaml:"busy_timeout" json:"busy_timeout"`
}

type SQLiteStore struct {
	ctx          context.Context
	cancel       context.CancelFunc
	logger       types.Logger
	config       *SQLiteConfig
	clearOnStart bool
	db           *sql.DB
	state        atomic.Value
}

func NewSQLiteStore(ctx context.Context, logger types.Logger, config *types.StoreConfig) (types.Store, error) {
	sqliteConfig := &SQLiteConfig{
		Path:        "./filecache.db",
		BusyTimeout: 5 * time.Second,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, sqliteConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal sqlite store config")
		}
	}

	db, err := sql.Open("sqlite3", sqliteConfig.Path+"?_journal_mode=WAL&_busy_timeout="+
		strconv.Itoa(int(sqliteConfig.BusyTimeout/time.Millisecond)))
	if err != nil {
		return nil, types.WrapError(err, "failed to open sqlite database")
	}

	// sqlite serializes writers anyway; a single connection avoids
	// SQLITE_BUSY churn under concurrent puts.
	db.SetMaxOpenConns(1)

	storeCtx, cancel := context.WithCancel(ctx)

	s := &SQLiteStore{
		ctx:          storeCtx,
		cancel:       cancel,
		logger:       logger,
		config:       sqliteConfig,
		clearOnStart: config.ClearOnStart,
		db:           db,
	}

	s.state.Store(StateStopped)

	return s, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT key, payload, signature, algorithm, created_at, expires_at, metadata
		 FROM cache_entries WHERE key = ?`, key)

	entry := &types.CacheEntry{}
	var createdAt, expiresAt int64
	var metadata sql.NullString

	err := row.Scan(&entry.Key, &entry.Payload, &entry.Signature, &entry.Algorithm,
		&createdAt, &expiresAt, &metadata)
	if err != nil {
		if types.IsError(err, sql.ErrNoRows) {
			return nil, types.ErrEntryNotFound
		}
		return nil, types.WrapError(err, "failed to query cache entry")
	}

	entry.CreatedAt = time.Unix(0, createdAt)
	if expiresAt != 0 {
		entry.ExpiresAt = time.Unix(0, expiresAt)
	}

	if metadata.Valid && metadata.String != "" {
		meta := map[string]string{}
		if err := utils.Unmarshal([]byte(metadata.String), &meta); err != nil {
			return nil, types.WrapError(err, "corrupted entry metadata")
		}
		entry.Metadata = meta
	}

	return entry, nil
}

func (s *SQLiteStore) Set(ctx context.Context, entry *types.CacheEntry) error {
	if entry == nil {
		return types.ErrCachePayloadNil
	}
	if entry.Key == "" {
		return types.ErrCacheKeyEmpty
	}

	var metadata []byte
	if entry.Metadata != nil {
		var err error
		metadata, err = utils.Marshal(entry.Metadata)
		if err != nil {
			return types.WrapError(err, "failed to marshal entry metadata")
		}
	}

	var expiresAt int64
	if !entry.ExpiresAt.IsZero() {
		expiresAt = entry.ExpiresAt.UnixNano()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries
		 (key, payload, signature, algorithm, created_at, expires_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Key, entry.Payload, entry.Signature, entry.Algorithm,
		entry.CreatedAt.UnixNano(), expiresAt, string(metadata))
	if err != nil {
		return types.WrapError(err, "failed to store cache entry")
	}

	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	if err != nil {
		return types.WrapError(err, "failed to delete cache entry")
	}
	return nil
}

func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM cache_entries`)
	if err != nil {
		return nil, types.WrapError(err, "failed to query cache keys")
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, types.WrapError(err, "failed to scan cache key")
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, types.WrapError(err, "failed to iterate cache keys")
	}

	return keys, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	if err != nil {
		return types.WrapError(err, "failed to clear cache entries")
	}
	return nil
}

func (s *SQLiteStore) Size(ctx context.Context) (int64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(LENGTH(payload)), 0) FROM cache_entries`)

	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, types.WrapError(err, "failed to compute cache size")
	}

	return total, nil
}

func (s *SQLiteStore) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		s.logger.Warn("SQLite store is already running")
		return types.ErrCacheIsRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	if _, err := s.db.ExecContext(s.ctx, sqliteSchema); err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "failed to create cache schema")
	}

	if s.clearOnStart {
		if err := s.Clear(s.ctx); err != nil {
			s.setState(StateStopped)
			return err
		}
	}

	s.logger.Info("SQLite store started", zap.String("path", s.config.Path))
	return nil
}

func (s *SQLiteStore) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		s.logger.Warn("SQLite store is not running")
		return types.ErrCacheIsNotRunning
	}

	defer func() {
		s.setState(StateStopped)
	}()

	s.cancel()

	if err := s.db.Close(); err != nil {
		return types.WrapError(err, "failed to close sqlite database")
	}

	s.logger.Info("SQLite store stopped")
	return nil
}

func (s *SQLiteStore) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return types.WrapError(err, "sqlite ping failed")
	}
	return nil
}

func (s *SQLiteStore) getState() State {
	return s.state.Load().(State)
}

func (s *SQLiteStore) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *SQLiteStore) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}
