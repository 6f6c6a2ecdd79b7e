package coredata

import (
	"fmt"
	"time"
)

// CacheEntry is a content-addressed proof cache row, keyed by a hash of the
// circuit id and its public inputs (spec.md §6, `cache:proof:{key}`). A hit
// lets a repeat request for the same public inputs skip re-proving.
type CacheEntry struct {
	Key       string       `json:"key"`
	Result    *ProofResult `json:"result"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Validate checks the structural invariants of a CacheEntry.
func (e *CacheEntry) Validate() error {
	if e.Key == "" {
		return fmt.Errorf("key is required")
	}
	if e.Result == nil {
		return fmt.Errorf("result is required")
	}
	return e.Result.Validate()
}

// Expired reports whether the cache entry's TTL has passed.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
