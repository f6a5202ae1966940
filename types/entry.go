package types

import "time"

// CacheEntry is the stored (payload, metadata) pair. Entries are never
// mutated in place: a put for an existing key replaces the whole entry, so
// the signature always corresponds to the payload it was computed over.
type CacheEntry struct {
	Key       string            `json:"key"`
	Payload   []byte            `json:"payload"`
	Signature []byte            `json:"signature"`
	Algorithm string            `json:"algorithm"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Expired reports whether the entry's freshness deadline has passed.
// A zero ExpiresAt means the entry never expires.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Clone returns a deep copy so callers can hold an entry without racing
// against a concurrent replace-on-write.
func (e *CacheEntry) Clone() *CacheEntry {
	clone := &CacheEntry{
		Key:       e.Key,
		Algorithm: e.Algorithm,
		CreatedAt: e.CreatedAt,
		ExpiresAt: e.ExpiresAt,
	}

	if e.Payload != nil {
		clone.Payload = make([]byte, len(e.Payload))
		copy(clone.Payload, e.Payload)
	}

	if e.Signature != nil {
		clone.Signature = make([]byte, len(e.Signature))
		copy(clone.Signature, e.Signature)
	}

	if e.Metadata != nil {
		clone.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}

	return clone
}
