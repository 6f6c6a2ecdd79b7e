package skills

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/zkgate-io/zkgate/internal/apperrors"
	"github.com/zkgate-io/zkgate/internal/chainrpc"
	"github.com/zkgate-io/zkgate/internal/circuits"
)

// VerifyProofParams is the input to verify_proof. Either ProofID is set, or
// CircuitID/Proof/PublicInputs are all set directly; ChainID selects which
// deployment to check against and defaults to the core's configured
// default chain.
type VerifyProofParams struct {
	ProofID      string   `json:"proof_id,omitempty"`
	CircuitID    string   `json:"circuit_id,omitempty"`
	Proof        []byte   `json:"proof,omitempty"`
	PublicInputs []string `json:"public_inputs,omitempty"`
	ChainID      uint64   `json:"chain_id,omitempty"`
}

// VerifyProofResult is the output of verify_proof. A contract revert is
// not an adapter-level error — it surfaces here as Valid=false with Error
// set to the stringified reason, per spec.md §4.1.
type VerifyProofResult struct {
	Valid               bool   `json:"valid"`
	CircuitID           string `json:"circuit_id"`
	VerifierAddress     string `json:"verifier_address"`
	ChainID             uint64 `json:"chain_id"`
	VerifierExplorerURL string `json:"verifier_explorer_url,omitempty"`
	Error               string `json:"error,omitempty"`
}

// VerifyProof loads the proof either from the Proof Result store (by id)
// or from the caller-supplied triple, looks up the verifier deployed for
// (chain_id, circuit_id), and calls its on-chain view function.
func (c *Core) VerifyProof(ctx context.Context, params VerifyProofParams) (*VerifyProofResult, error) {
	circuitID := params.CircuitID
	proof := params.Proof
	publicInputsHex := params.PublicInputs

	if params.ProofID != "" {
		stored, err := c.Results.Get(ctx, params.ProofID)
		if err != nil {
			return nil, err
		}
		circuitID = stored.CircuitID
		proof = stored.Proof
		publicInputsHex = publicInputValues(stored.PublicInputs)
	} else {
		if circuitID == "" || len(proof) == 0 || len(publicInputsHex) == 0 {
			return nil, apperrors.NewInvalidParamsError("proof_id", "either proof_id or circuit_id+proof+public_inputs must be supplied")
		}
	}

	if !circuitKnown(circuitID) {
		return nil, apperrors.NewInvalidParamsError("circuit_id", "unknown circuit")
	}

	chainID := params.ChainID
	if chainID == 0 {
		chainID = c.DefaultChainID
	}

	verifierAddr, ok := circuits.VerifierAddress(circuitID, chainID)
	if !ok {
		return nil, apperrors.NewNotFoundError("verifier_deployment", circuitID)
	}

	inputs, err := decodePublicInputs(publicInputsHex)
	if err != nil {
		return nil, apperrors.WrapInvalidParamsError(apperrors.NewInvalidParamsError("public_inputs", err.Error()), err)
	}

	if c.Verifiers == nil {
		return nil, apperrors.NewInternalError("no verifier resolver configured")
	}
	client, err := c.Verifiers(circuitID, chainID)
	if err != nil {
		return nil, err
	}

	valid, err := client.Verify(ctx, proof, inputs)
	result := &VerifyProofResult{
		CircuitID:           circuitID,
		VerifierAddress:     verifierAddr,
		ChainID:             chainID,
		VerifierExplorerURL: explorerURL(chainID, verifierAddr),
	}
	if err != nil {
		var reverted *chainrpc.RevertError
		if errors.As(err, &reverted) {
			result.Valid = false
			result.Error = reverted.Reason
			return result, nil
		}
		return nil, err
	}

	result.Valid = valid
	return result, nil
}

// decodePublicInputs converts "0x"-prefixed 32-byte hex strings into the
// fixed-size array shape the verifier contract call expects.
func decodePublicInputs(values []string) ([][32]byte, error) {
	out := make([][32]byte, len(values))
	for i, v := range values {
		trimmed := strings.TrimPrefix(v, "0x")
		raw, err := hex.DecodeString(trimmed)
		if err != nil {
			return nil, err
		}
		if len(raw) != 32 {
			return nil, errInvalidPublicInputLength(i, len(raw))
		}
		copy(out[i][:], raw)
	}
	return out, nil
}

func errInvalidPublicInputLength(index, length int) error {
	return fmt.Errorf("public input at index %d has length %d, want 32", index, length)
}
