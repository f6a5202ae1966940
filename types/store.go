package types

import "context"

// Store persists and retrieves cache entries keyed by identifier.
// Implementations must be safe for concurrent use and must never return a
// partially written entry: Set is replace-on-write, Get returns either a
// complete entry or ErrEntryNotFound.
type Store interface {
	LifecycleManager

	// Get returns the entry for key or ErrEntryNotFound. Expiry and
	// signature checks belong to the cache, not the store.
	Get(ctx context.Context, key string) (*CacheEntry, error)

	// Set stores the entry, overwriting any entry for the same key.
	Set(ctx context.Context, entry *CacheEntry) error

	// Delete removes the entry if present; deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error

	// Keys returns every stored key.
	Keys(ctx context.Context) ([]string, error)

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// Size returns the total payload bytes across all entries.
	Size(ctx context.Context) (int64, error)
}

type StoreCreator func(config interface{}) (Store, error)
