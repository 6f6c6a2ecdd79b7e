package proofresult

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkgate-io/zkgate/internal/apperrors"
	"github.com/zkgate-io/zkgate/internal/coredata"
	"github.com/zkgate-io/zkgate/internal/kv"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mem := kv.NewMemoryStore(0)
	t.Cleanup(mem.Close)
	return New(mem)
}

func testResult(id string) *coredata.ProofResult {
	return &coredata.ProofResult{
		ProofID:      id,
		CircuitID:    "age_over",
		Proof:        []byte{0x01, 0x02, 0x03},
		PublicInputs: map[string]string{"0": "0xabc"},
		SignalHash:   "0xdeadbeef",
		CreatedAt:    time.Now(),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	result := testResult("proof_1")
	require.NoError(t, store.Put(ctx, result))

	got, err := store.Get(ctx, "proof_1")
	require.NoError(t, err)
	assert.Equal(t, result.CircuitID, got.CircuitID)
	assert.Equal(t, result.SignalHash, got.SignalHash)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Get(ctx, "does_not_exist")
	require.Error(t, err)
	var nfe *apperrors.NotFoundError
	require.ErrorAs(t, err, &nfe)
}

func TestPutRejectsInvalidResult(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	bad := &coredata.ProofResult{ProofID: "proof_2"}
	err := store.Put(ctx, bad)
	require.Error(t, err)
}

func TestEntryExpires(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore(0)
	defer mem.Close()
	store := NewWithTTL(mem, 10*time.Millisecond)

	require.NoError(t, store.Put(ctx, testResult("proof_3")))
	time.Sleep(30 * time.Millisecond)

	_, err := store.Get(ctx, "proof_3")
	require.Error(t, err)
}
