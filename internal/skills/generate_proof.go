package skills

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zkgate-io/zkgate/internal/apperrors"
	"github.com/zkgate-io/zkgate/internal/attestation"
	"github.com/zkgate-io/zkgate/internal/coredata"
	"github.com/zkgate-io/zkgate/internal/eip3009"
	"github.com/zkgate-io/zkgate/internal/enclave"
	"github.com/zkgate-io/zkgate/internal/proofcache"
)

// GenerateProofParams is the input to generate_proof. Session mode is
// selected by supplying RequestID; direct mode requires Address, Signature,
// Scope, and CircuitID and is only available when payment is disabled,
// per spec.md §4.1.
type GenerateProofParams struct {
	RequestID   string   `json:"request_id,omitempty"`
	Address     string   `json:"address,omitempty"`
	Signature   string   `json:"signature,omitempty"`
	Scope       string   `json:"scope,omitempty"`
	CircuitID   string   `json:"circuit_id,omitempty"`
	CountryList []string `json:"country_list,omitempty"`
	IsIncluded  *bool    `json:"is_included,omitempty"`
}

// GenerateProofResult is the output of generate_proof.
type GenerateProofResult struct {
	ProofID       string                `json:"proof_id"`
	CircuitID     string                `json:"circuit_id"`
	Proof         []byte                `json:"proof"`
	PublicInputs  []string              `json:"public_inputs"`
	Nullifier     string                `json:"nullifier,omitempty"`
	SignalHash    string                `json:"signal_hash"`
	VerifyURL     string                `json:"verify_url"`
	Cached        bool                  `json:"cached"`
	Attestation   *coredata.Attestation `json:"attestation,omitempty"`
	PaymentTxHash string                `json:"payment_tx_hash,omitempty"`
}

// GenerateProof runs the eight-step pipeline described in spec.md §4.1:
// rate-limit admission, content-addressed cache lookup, witness build,
// prover invocation (enclave transport or local prover), attestation
// backfill, public-input normalization, and persistence. In session mode
// the session is deleted only after every step succeeds.
func (c *Core) GenerateProof(ctx context.Context, params GenerateProofParams) (*GenerateProofResult, error) {
	session, address, _, scope, circuitID, countryList, isIncluded, paymentTxHash, err := c.resolveProofInputs(ctx, params)
	if err != nil {
		return nil, err
	}

	now := c.now()

	rateResult, err := c.Limiter.Check(ctx, address, now)
	if err != nil {
		return nil, err
	}
	if !rateResult.Admitted {
		return nil, apperrors.NewRateLimitedError(address, int(rateResult.RetryAfter.Seconds()))
	}

	addr := common.HexToAddress(address)
	signalHash, err := eip3009.SignalHash(addr, scope, circuitID)
	if err != nil {
		return nil, apperrors.WrapInvalidParamsError(apperrors.NewInvalidParamsError("scope", err.Error()), err)
	}

	cacheKey := proofcache.Key(circuitID, address, scope, countryList, isIncluded)

	var result *coredata.ProofResult
	cached := false

	if hit, err := c.Cache.Get(ctx, cacheKey, now); err == nil {
		cached = true
		result = &coredata.ProofResult{
			ProofID:      c.newID("proof_"),
			CircuitID:    hit.CircuitID,
			Proof:        hit.Proof,
			PublicInputs: hit.PublicInputs,
			Nullifier:    hit.Nullifier,
			SignalHash:   hit.SignalHash,
			Attestation:  hit.Attestation,
			CreatedAt:    now,
		}
	} else {
		result, err = c.buildProof(ctx, circuitID, addr, scope, countryList, isIncluded, signalHash, now)
		if err != nil {
			return nil, err
		}
		if err := c.Cache.Put(ctx, cacheKey, result, now); err != nil {
			return nil, err
		}
	}

	if err := c.Results.Put(ctx, result); err != nil {
		return nil, err
	}

	if session != nil {
		if err := c.Sessions.Delete(ctx, session.ID); err != nil {
			return nil, err
		}
	}

	return &GenerateProofResult{
		ProofID:       result.ProofID,
		CircuitID:     result.CircuitID,
		Proof:         result.Proof,
		PublicInputs:  publicInputValues(result.PublicInputs),
		Nullifier:     result.Nullifier,
		SignalHash:    result.SignalHash,
		VerifyURL:     c.ExternalBaseURL + "/verify/" + result.ProofID,
		Cached:        cached,
		Attestation:   result.Attestation,
		PaymentTxHash: paymentTxHash,
	}, nil
}

// resolveProofInputs validates session vs direct mode and returns the
// common fields both modes produce, along with the session when one was
// used (nil in direct mode).
func (c *Core) resolveProofInputs(ctx context.Context, params GenerateProofParams) (
	session *coredata.Session, address, signature, scope, circuitID string,
	countryList []string, isIncluded *bool, paymentTxHash string, err error,
) {
	if params.RequestID != "" {
		session, err = c.Sessions.Get(ctx, params.RequestID)
		if err != nil {
			return
		}
		if session.Status != coredata.SessionCompleted {
			err = apperrors.NewInvalidStateTransitionError(string(session.Status), "completed")
			return
		}
		if c.PaymentRequired && session.PaymentStatus != coredata.PaymentCompleted {
			err = apperrors.NewInvalidStateTransitionError(string(session.PaymentStatus), "completed")
			return
		}
		address = session.Address
		signature = session.Signature
		scope = session.Scope
		circuitID = session.CircuitID
		countryList = session.CountryList
		isIncluded = session.IsIncluded
		paymentTxHash = session.PaymentTxHash
		return
	}

	if c.PaymentRequired {
		err = apperrors.NewInvalidParamsError("request_id", "direct mode is unavailable while payment is required")
		return
	}
	if params.Address == "" || params.Signature == "" || params.Scope == "" || params.CircuitID == "" {
		err = apperrors.NewInvalidParamsError("address", "address, signature, scope, and circuit_id are all required in direct mode")
		return
	}
	if !circuitKnown(params.CircuitID) {
		err = apperrors.NewInvalidParamsError("circuit_id", "unknown circuit")
		return
	}
	if params.CircuitID == coredata.CountryCircuitID {
		if len(params.CountryList) == 0 {
			err = apperrors.NewInvalidParamsError("country_list", "required for the country circuit")
			return
		}
		if params.IsIncluded == nil {
			err = apperrors.NewInvalidParamsError("is_included", "required for the country circuit")
			return
		}
	}

	address = params.Address
	signature = params.Signature
	scope = params.Scope
	circuitID = params.CircuitID
	countryList = params.CountryList
	isIncluded = params.IsIncluded
	return
}

// buildProof runs the witness-build + prove + attest steps for a cache
// miss.
func (c *Core) buildProof(
	ctx context.Context,
	circuitID string,
	address common.Address,
	scope string,
	countryList []string,
	isIncluded *bool,
	signalHash [32]byte,
	now time.Time,
) (*coredata.ProofResult, error) {
	if c.Witness == nil {
		return nil, apperrors.NewInternalError("no witness builder configured")
	}
	inputDocument, err := c.Witness.Build(ctx, WitnessInput{
		CircuitID:   circuitID,
		Address:     address,
		Scope:       scope,
		CountryList: countryList,
		IsIncluded:  isIncluded,
	})
	if err != nil {
		return nil, apperrors.WrapInternalError("witness build failed", err)
	}

	proofID := c.newID("proof_")

	var proof []byte
	var publicInputsHex string
	var nullifier string
	var attestationB64 string

	switch {
	case c.Transport != nil:
		resp, err := c.Transport.Prove(ctx, enclave.ProveRequest{
			CircuitID:     circuitID,
			InputDocument: inputDocument,
			IdempotencyID: proofID,
		})
		if err != nil {
			return nil, err
		}
		proof = resp.Proof
		publicInputsHex = resp.PublicInputsHex
		nullifier = resp.Nullifier
		attestationB64 = resp.AttestationBase64
	case c.Prover != nil:
		var perr error
		proof, publicInputsHex, perr = c.Prover.Prove(ctx, circuitID, inputDocument)
		if perr != nil {
			return nil, perr
		}
	default:
		return nil, apperrors.NewInternalError("no prover configured")
	}

	var attestationSnapshot *coredata.Attestation
	if attestationB64 == "" && c.AttestationEnabled && c.Transport != nil {
		proofHash := sha256.Sum256(proof)
		attResp, err := c.Transport.Attest(ctx, enclave.AttestRequest{ProofHash: hex.EncodeToString(proofHash[:])})
		if err == nil {
			attestationB64 = attResp.AttestationBase64
		}
	}
	if attestationB64 != "" && c.AttestationEnabled {
		attestationSnapshot = c.verifyAttestation(attestationB64, now)
	}

	return &coredata.ProofResult{
		ProofID:      proofID,
		CircuitID:    circuitID,
		Proof:        proof,
		PublicInputs: chunkPublicInputs(publicInputsHex),
		Nullifier:    nullifier,
		SignalHash:   "0x" + hex.EncodeToString(signalHash[:]),
		Attestation:  attestationSnapshot,
		CreatedAt:    now,
	}, nil
}

// verifyAttestation parses and verifies the envelope, returning a
// best-effort snapshot even when verification fails so the result still
// records what was checked — attestation failure is data, not an adapter
// error, per spec.md §4.10.
func (c *Core) verifyAttestation(encoded string, now time.Time) *coredata.Attestation {
	env, err := attestation.Parse(encoded)
	if err != nil {
		return &coredata.Attestation{Verified: false, Timestamp: now}
	}
	result, err := attestation.Verify(env, attestation.Options{MaxAge: time.Hour, Now: now})
	if err != nil {
		return &coredata.Attestation{Verified: false, Timestamp: now}
	}
	return &coredata.Attestation{
		Verified:  result.Verified,
		PCRDigest: env.Payload.Digest,
		Timestamp: now,
	}
}

// chunkPublicInputs splits a single concatenated hex blob into 32-byte
// (64 hex char) chunks, per spec.md §4.1 step 6.
func chunkPublicInputs(blob string) map[string]string {
	if len(blob) == 0 {
		return nil
	}
	const chunkLen = 64
	out := make(map[string]string)
	idx := 0
	for i := 0; i < len(blob); i += chunkLen {
		end := i + chunkLen
		if end > len(blob) {
			end = len(blob)
		}
		out[strconv.Itoa(idx)] = "0x" + blob[i:end]
		idx++
	}
	return out
}

func publicInputValues(inputs map[string]string) []string {
	if len(inputs) == 0 {
		return nil
	}
	out := make([]string, len(inputs))
	for i := range out {
		out[i] = inputs[strconv.Itoa(i)]
	}
	return out
}
