// Package proofcache implements the content-addressed proof cache named in
// spec.md §6: results are keyed by a hash of the circuit id and its public
// inputs, so a repeat request for identical inputs skips re-proving.
// Grounded on the teacher's facilitator settlementCache, which provides
// idempotency via a nonce-keyed, TTL-expiring map; here the key is derived
// from proof inputs instead of a payment nonce, and lookups are
// deduplicated with singleflight so concurrent identical requests share one
// cache fill.
package proofcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/zkgate-io/zkgate/internal/apperrors"
	"github.com/zkgate-io/zkgate/internal/coredata"
	"github.com/zkgate-io/zkgate/internal/kv"
)

const (
	keyPrefix  = "cache:proof:"
	defaultTTL = time.Hour
)

// Key computes the content-addressed cache key for a set of proof inputs:
// hash(circuit_id || address || scope || canonical(country_list) || is_included).
// country_list canonicalization is sort + uppercase ASCII; is_included is
// encoded as a single byte (0=false, 1=true, 2=unset).
func Key(circuitID, address, scope string, countryList []string, isIncluded *bool) string {
	canonical := make([]string, len(countryList))
	for i, c := range countryList {
		canonical[i] = strings.ToUpper(c)
	}
	sort.Strings(canonical)

	included := byte(2)
	if isIncluded != nil {
		if *isIncluded {
			included = 1
		} else {
			included = 0
		}
	}

	h := sha256.New()
	h.Write([]byte(circuitID))
	h.Write([]byte(address))
	h.Write([]byte(scope))
	h.Write([]byte(strings.Join(canonical, ",")))
	h.Write([]byte{included})
	return hex.EncodeToString(h.Sum(nil))
}

// Cache stores and retrieves ProofResults by content-addressed key.
type Cache struct {
	kv    kv.Store
	ttl   time.Duration
	group singleflight.Group
}

// New constructs a Cache with the default one-hour TTL.
func New(store kv.Store) *Cache {
	return &Cache{kv: store, ttl: defaultTTL}
}

// NewWithTTL constructs a Cache with a caller-specified TTL, primarily for
// tests that need to observe expiry quickly.
func NewWithTTL(store kv.Store, ttl time.Duration) *Cache {
	return &Cache{kv: store, ttl: ttl}
}

func cacheKey(key string) string { return keyPrefix + key }

// Get returns the cached result for key, or apperrors.NotFoundError if
// absent or expired.
func (c *Cache) Get(ctx context.Context, key string, now time.Time) (*coredata.ProofResult, error) {
	data, err := c.kv.Get(ctx, cacheKey(key))
	if err == kv.ErrNotFound {
		return nil, apperrors.NewNotFoundError("cache_entry", key)
	}
	if err != nil {
		return nil, apperrors.WrapUnreachableDependencyError(
			apperrors.NewUnreachableDependencyError("kv", "cache lookup failed"), err)
	}

	var entry coredata.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, apperrors.WrapInternalError("failed to unmarshal cache entry", err)
	}

	if entry.Expired(now) {
		return nil, apperrors.NewNotFoundError("cache_entry", key)
	}
	return entry.Result, nil
}

// Put stores a proof result under key with the cache's configured TTL.
func (c *Cache) Put(ctx context.Context, key string, result *coredata.ProofResult, now time.Time) error {
	entry := coredata.CacheEntry{Key: key, Result: result, ExpiresAt: now.Add(c.ttl)}
	if err := entry.Validate(); err != nil {
		return apperrors.WrapInvalidParamsError(apperrors.NewInvalidParamsError("cache_entry", err.Error()), err)
	}

	data, err := json.Marshal(&entry)
	if err != nil {
		return apperrors.WrapInternalError("failed to marshal cache entry", err)
	}
	return c.kv.SetWithTTL(ctx, cacheKey(key), data, c.ttl)
}

// GetOrCompute returns the cached result for key if present and unexpired;
// otherwise it invokes compute exactly once even if called concurrently by
// multiple callers with the same key, and caches the result.
func (c *Cache) GetOrCompute(ctx context.Context, key string, now time.Time, compute func() (*coredata.ProofResult, error)) (*coredata.ProofResult, error) {
	if result, err := c.Get(ctx, key, now); err == nil {
		return result, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if result, err := c.Get(ctx, key, now); err == nil {
			return result, nil
		}

		result, err := compute()
		if err != nil {
			return nil, err
		}
		if err := c.Put(ctx, key, result, now); err != nil {
			return nil, err
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*coredata.ProofResult), nil
}
