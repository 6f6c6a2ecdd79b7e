package skills

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkgate-io/zkgate/internal/chainrpc"
	"github.com/zkgate-io/zkgate/internal/coredata"
)

func TestVerifyProofByProofID(t *testing.T) {
	ctx := context.Background()
	core, _ := newTestCore(t)
	core.Verifiers = fixedResolver(&fakeVerifierClient{valid: true})

	stored := &coredata.ProofResult{
		ProofID:      "proof_stored",
		CircuitID:    testAgeCircuit,
		Proof:        []byte{0x01, 0x02},
		PublicInputs: chunkPublicInputs(hex64("11") + hex64("22")),
		SignalHash:   "0xhash",
		CreatedAt:    time.Now(),
	}
	require.NoError(t, core.Results.Put(ctx, stored))

	result, err := core.VerifyProof(ctx, VerifyProofParams{ProofID: "proof_stored"})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, testAgeCircuit, result.CircuitID)
	assert.NotEmpty(t, result.VerifierAddress)
}

func TestVerifyProofDirectMode(t *testing.T) {
	ctx := context.Background()
	core, _ := newTestCore(t)
	core.Verifiers = fixedResolver(&fakeVerifierClient{valid: false})

	result, err := core.VerifyProof(ctx, VerifyProofParams{
		CircuitID:    testAgeCircuit,
		Proof:        []byte{0xAB},
		PublicInputs: []string{"0x" + hex64("11")},
	})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Empty(t, result.Error)
}

func TestVerifyProofRevertIsNotAnAdapterError(t *testing.T) {
	ctx := context.Background()
	core, _ := newTestCore(t)
	core.Verifiers = fixedResolver(&fakeVerifierClient{err: &chainrpc.RevertError{Reason: "InvalidProof()"}})

	result, err := core.VerifyProof(ctx, VerifyProofParams{
		CircuitID:    testAgeCircuit,
		Proof:        []byte{0xAB},
		PublicInputs: []string{"0x" + hex64("11")},
	})
	require.NoError(t, err, "a contract revert must not surface as an adapter error")
	assert.False(t, result.Valid)
	assert.Equal(t, "InvalidProof()", result.Error)
}

func TestVerifyProofRejectsUnknownCircuit(t *testing.T) {
	ctx := context.Background()
	core, _ := newTestCore(t)

	_, err := core.VerifyProof(ctx, VerifyProofParams{
		CircuitID:    "no-such-circuit",
		Proof:        []byte{0xAB},
		PublicInputs: []string{"0x" + hex64("11")},
	})
	require.Error(t, err)
}

func TestVerifyProofRejectsMissingDeployment(t *testing.T) {
	ctx := context.Background()
	core, _ := newTestCore(t)
	core.Verifiers = fixedResolver(&fakeVerifierClient{valid: true})

	_, err := core.VerifyProof(ctx, VerifyProofParams{
		CircuitID:    testAgeCircuit,
		ChainID:      999999,
		Proof:        []byte{0xAB},
		PublicInputs: []string{"0x" + hex64("11")},
	})
	require.Error(t, err)
}

func TestVerifyProofRejectsMalformedPublicInput(t *testing.T) {
	ctx := context.Background()
	core, _ := newTestCore(t)
	core.Verifiers = fixedResolver(&fakeVerifierClient{valid: true})

	_, err := core.VerifyProof(ctx, VerifyProofParams{
		CircuitID:    testAgeCircuit,
		Proof:        []byte{0xAB},
		PublicInputs: []string{"0xnotlongenough"},
	})
	require.Error(t, err)
}

func TestVerifyProofRequiresAProofSource(t *testing.T) {
	ctx := context.Background()
	core, _ := newTestCore(t)

	_, err := core.VerifyProof(ctx, VerifyProofParams{})
	require.Error(t, err)
}
