package coredata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validProofResult() *ProofResult {
	return &ProofResult{
		ProofID:      "proof_test_12345",
		CircuitID:    "age_over_18",
		Proof:        []byte{0x01, 0x02, 0x03},
		PublicInputs: map[string]string{"threshold": "18"},
		SignalHash:   "0xdeadbeef",
		CreatedAt:    time.Now(),
	}
}

func TestProofResultValidation(t *testing.T) {
	t.Run("valid proof result", func(t *testing.T) {
		assert.NoError(t, validProofResult().Validate())
	})

	t.Run("missing proof_id", func(t *testing.T) {
		r := validProofResult()
		r.ProofID = ""
		err := r.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "proof_id")
	})

	t.Run("missing circuit_id", func(t *testing.T) {
		r := validProofResult()
		r.CircuitID = ""
		err := r.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "circuit_id")
	})

	t.Run("empty proof bytes", func(t *testing.T) {
		r := validProofResult()
		r.Proof = nil
		err := r.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "proof")
	})

	t.Run("missing signal_hash", func(t *testing.T) {
		r := validProofResult()
		r.SignalHash = ""
		err := r.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "signal_hash")
	})

	t.Run("attestation snapshot is optional", func(t *testing.T) {
		r := validProofResult()
		r.Attestation = &Attestation{Verified: true, PCRDigest: "abc", Timestamp: time.Now()}
		assert.NoError(t, r.Validate())
	})
}
