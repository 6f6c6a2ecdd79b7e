package proofcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkgate-io/zkgate/internal/apperrors"
	"github.com/zkgate-io/zkgate/internal/coredata"
	"github.com/zkgate-io/zkgate/internal/kv"
)

func newTestCache(ttl time.Duration) (*Cache, func()) {
	mem := kv.NewMemoryStore(0)
	return NewWithTTL(mem, ttl), mem.Close
}

func testResult(now time.Time) *coredata.ProofResult {
	return &coredata.ProofResult{
		ProofID:    "proof_1",
		CircuitID:  "country",
		Proof:      []byte{0x01, 0x02},
		SignalHash: "0xabc",
		CreatedAt:  now,
	}
}

func TestKeyIsDeterministicAndOrderInsensitiveOnCountryList(t *testing.T) {
	included := true
	k1 := Key("country", "0xaddr", "kyc", []string{"US", "CA"}, &included)
	k2 := Key("country", "0xaddr", "kyc", []string{"CA", "US"}, &included)
	assert.Equal(t, k1, k2, "country list canonicalization must make order irrelevant")
}

func TestKeyDiffersOnAnyInput(t *testing.T) {
	included := true
	notIncluded := false
	base := Key("country", "0xaddr", "kyc", []string{"US"}, &included)

	assert.NotEqual(t, base, Key("age_over", "0xaddr", "kyc", []string{"US"}, &included))
	assert.NotEqual(t, base, Key("country", "0xother", "kyc", []string{"US"}, &included))
	assert.NotEqual(t, base, Key("country", "0xaddr", "other_scope", []string{"US"}, &included))
	assert.NotEqual(t, base, Key("country", "0xaddr", "kyc", []string{"CA"}, &included))
	assert.NotEqual(t, base, Key("country", "0xaddr", "kyc", []string{"US"}, &notIncluded))
	assert.NotEqual(t, base, Key("country", "0xaddr", "kyc", []string{"US"}, nil))
}

func TestCachePutGet(t *testing.T) {
	ctx := context.Background()
	cache, done := newTestCache(time.Hour)
	defer done()

	now := time.Now()
	result := testResult(now)

	require.NoError(t, cache.Put(ctx, "k1", result, now))

	got, err := cache.Get(ctx, "k1", now)
	require.NoError(t, err)
	assert.Equal(t, result.ProofID, got.ProofID)
}

func TestCacheGetMissing(t *testing.T) {
	ctx := context.Background()
	cache, done := newTestCache(time.Hour)
	defer done()

	_, err := cache.Get(ctx, "missing", time.Now())
	require.Error(t, err)
	var nf *apperrors.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestCacheEntryExpires(t *testing.T) {
	ctx := context.Background()
	cache, done := newTestCache(time.Minute)
	defer done()

	now := time.Now()
	require.NoError(t, cache.Put(ctx, "k1", testResult(now), now))

	_, err := cache.Get(ctx, "k1", now.Add(2*time.Minute))
	require.Error(t, err)
	var nf *apperrors.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestGetOrComputeCachesResult(t *testing.T) {
	ctx := context.Background()
	cache, done := newTestCache(time.Hour)
	defer done()

	now := time.Now()
	var calls int32

	compute := func() (*coredata.ProofResult, error) {
		atomic.AddInt32(&calls, 1)
		return testResult(now), nil
	}

	r1, err := cache.GetOrCompute(ctx, "k1", now, compute)
	require.NoError(t, err)
	r2, err := cache.GetOrCompute(ctx, "k1", now, compute)
	require.NoError(t, err)

	assert.Equal(t, r1.ProofID, r2.ProofID)
	assert.EqualValues(t, 1, calls, "second call should be served from cache without recomputing")
}

func TestGetOrComputeDeduplicatesConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	cache, done := newTestCache(time.Hour)
	defer done()

	now := time.Now()
	var calls int32
	release := make(chan struct{})

	compute := func() (*coredata.ProofResult, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return testResult(now), nil
	}

	var wg sync.WaitGroup
	results := make([]*coredata.ProofResult, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			r, err := cache.GetOrCompute(ctx, "concurrent_key", now, compute)
			assert.NoError(t, err)
			results[idx] = r
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls, "concurrent identical requests must share a single compute call")
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, "proof_1", r.ProofID)
	}
}
