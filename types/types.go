package types

import "context"

type LifecycleManager interface {
	Start() error
	Stop() error
	IsRunning() bool
}

// LoaderFunc fetches the source data for a key when the cache cannot serve it.
// It is called on Miss and Expired outcomes, never on signature mismatches.
type LoaderFunc func(ctx context.Context, key string) ([]byte, error)
