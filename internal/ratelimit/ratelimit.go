// Package ratelimit implements the sliding-window admission control named
// in spec.md §4.6, safe under concurrent access from multiple workers
// because every mutation goes through the shared KV store.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/zkgate-io/zkgate/internal/kv"
)

func key(subject string) string {
	return "rate:" + subject
}

// Limiter admits up to capacity requests per subject within a sliding
// window, storing the admitted arrival timestamps as one newline-delimited
// KV value (the teacher's TTLCache cleanup-ticker idiom adapted from flat
// TTL expiry to sliding-window pruning: drop timestamps older than window
// on every check instead of a single cache-wide sweep).
type Limiter struct {
	kv       kv.Store
	capacity int
	window   time.Duration
}

// New constructs a Limiter with the given (capacity, window) parameters.
func New(store kv.Store, capacity int, window time.Duration) *Limiter {
	return &Limiter{kv: store, capacity: capacity, window: window}
}

// Result is the outcome of a Check call.
type Result struct {
	Admitted   bool
	RetryAfter time.Duration
}

// Check admits or denies a request for subject at time now. On denial,
// RetryAfter is the time until the oldest arrival leaves the window.
func (l *Limiter) Check(ctx context.Context, subject string, now time.Time) (Result, error) {
	k := key(subject)

	arrivals, err := l.loadArrivals(ctx, k)
	if err != nil {
		return Result{}, err
	}

	cutoff := now.Add(-l.window)
	fresh := arrivals[:0]
	for _, t := range arrivals {
		if t.After(cutoff) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= l.capacity {
		oldest := fresh[0]
		retryAfter := oldest.Add(l.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		if err := l.store(ctx, k, fresh); err != nil {
			return Result{}, err
		}
		return Result{Admitted: false, RetryAfter: retryAfter}, nil
	}

	fresh = append(fresh, now)
	if err := l.store(ctx, k, fresh); err != nil {
		return Result{}, err
	}
	return Result{Admitted: true}, nil
}

func (l *Limiter) loadArrivals(ctx context.Context, key string) ([]time.Time, error) {
	raw, err := l.kv.Get(ctx, key)
	if err == kv.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rate limiter: load failed: %w", err)
	}

	return decodeArrivals(raw), nil
}

func (l *Limiter) store(ctx context.Context, key string, arrivals []time.Time) error {
	return l.kv.SetWithTTL(ctx, key, encodeArrivals(arrivals), l.window)
}

// encodeArrivals/decodeArrivals use a simple newline-delimited list of Unix
// nanosecond timestamps; sliding-window state never needs to be read by
// anything other than this package.
func encodeArrivals(arrivals []time.Time) []byte {
	out := make([]byte, 0, len(arrivals)*20)
	for i, t := range arrivals {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, []byte(strconv.FormatInt(t.UnixNano(), 10))...)
	}
	return out
}

func decodeArrivals(raw []byte) []time.Time {
	if len(raw) == 0 {
		return nil
	}
	var out []time.Time
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == '\n' {
			if i > start {
				if ns, err := strconv.ParseInt(string(raw[start:i]), 10, 64); err == nil {
					out = append(out, time.Unix(0, ns))
				}
			}
			start = i + 1
		}
	}
	return out
}
