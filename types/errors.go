package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
	ErrConfigIsNil          = errors.New("config is nil")
)

// Cache outcome taxonomy. The three lookup failures are distinct and
// observable: a signature mismatch is corruption, not a miss, and is never
// collapsed into one.
var (
	ErrEntryNotFound     = errors.New("cache entry not found")
	ErrEntryExpired      = errors.New("cache entry expired")
	ErrSignatureMismatch = errors.New("cache entry signature mismatch")
)

var (
	ErrCacheKeyEmpty         = errors.New("cache key empty")
	ErrCachePayloadNil       = errors.New("cache payload is nil")
	ErrCacheWriteSkipped     = errors.New("cache write skipped, payload unchanged")
	ErrStoreTypeUnknown      = errors.New("store type unknown")
	ErrStoreConnectionFailed = errors.New("store connection failed")
	ErrStoreOperationFailed  = errors.New("store operation failed")
)

var (
	ErrSignerTypeUnknown = errors.New("signature algorithm unknown")
	ErrSignatureEmpty    = errors.New("signature is empty")
)

var (
	ErrIntervalInvalid     = errors.New("interval is invalid")
	ErrIntervalSpecInvalid = errors.New("interval expression invalid")
	ErrIntervalPolicyIsNil = errors.New("interval policy is nil")
)

var (
	ErrEventsTypeUnknown   = errors.New("event broker type unknown")
	ErrEventsIsDisabled    = errors.New("event broker is disabled")
	ErrEventsNotRunning    = errors.New("event broker not running")
	ErrEventsPublishFailed = errors.New("event publish failed")
	ErrEventsHandlerIsNil  = errors.New("event handler is nil")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
	ErrMetricsIsDisabled  = errors.New("metrics manager is disabled")
)

var (
	ErrHealthCheckFailed  = errors.New("health check failed")
	ErrHealthCheckTimeout = errors.New("health check timeout")
)

var (
	ErrLogFileIsEmpty     = errors.New("log file is empty")
	ErrLogFileWrongFormat = errors.New("log file wrong format")
)

var (
	ErrCacheIsRunning    = errors.New("cache is already running")
	ErrCacheIsNotRunning = errors.New("cache is not running")
	ErrLoaderIsNil       = errors.New("loader is nil")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
