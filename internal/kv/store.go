// Package kv defines the durable key/value primitives every persisted-state
// component in this service is built on (spec.md's "Persisted state layout"
// section names every key by this exact shape: value + TTL, or list).
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and Extend when the key does not exist or
// has expired, and by RPop when the list is empty.
var ErrNotFound = errors.New("kv: key not found")

// Store is the durable map+list abstraction backing every persisted
// component (session store, task store, proof cache, rate limiter, payment
// records, chat sessions). Implementations: redis.go (go-redis/v9, for
// production) and memory.go (in-process, for tests).
type Store interface {
	// Get returns the raw bytes stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value at key with no expiry.
	Set(ctx context.Context, key string, value []byte) error
	// SetWithTTL stores value at key, expiring after ttl.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Extend resets the TTL on an existing key without changing its value.
	Extend(ctx context.Context, key string, ttl time.Duration) error
	// Delete removes a key. It is not an error if the key does not exist.
	Delete(ctx context.Context, key string) error

	// LPush pushes value onto the head of the list at key.
	LPush(ctx context.Context, key string, value []byte) error
	// RPop pops and returns a value from the tail of the list at key, or
	// ErrNotFound if the list is empty.
	RPop(ctx context.Context, key string) ([]byte, error)
	// LLen returns the number of elements in the list at key.
	LLen(ctx context.Context, key string) (int64, error)
	// LRange returns elements [start, stop] (inclusive) of the list at key.
	LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)
}
