package chainrpc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/zkgate-io/zkgate/internal/apperrors"
)

// RevertError marks a verify() call that the EVM itself rejected, as
// opposed to a transport-level failure. Callers (Skill Core's verify_proof)
// treat this as a valid=false result, not an adapter error, per spec.md
// §4.1 — a revert is not retried.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string { return e.Reason }

// revertSubstring is the standard go-ethereum/geth wording for a view call
// the EVM rejected (as opposed to a dial/timeout/connection failure).
const revertSubstring = "execution reverted"

// verifierABI describes the single view function the on-chain verifier
// contract exposes: verify(proof bytes, publicInputs bytes32[]) -> bool.
const verifierABI = `[{
	"name": "verify",
	"type": "function",
	"stateMutability": "view",
	"inputs": [
		{"name": "proof", "type": "bytes"},
		{"name": "publicInputs", "type": "bytes32[]"}
	],
	"outputs": [{"name": "", "type": "bool"}]
}]`

// VerifierClient calls the on-chain proof verifier contract's `verify` view
// function, generalizing NonceFetcher's dial-plus-retry discipline
// (exponential backoff over a fixed attempt budget) from fetching a nonce to
// invoking an arbitrary contract view call.
type VerifierClient struct {
	client     *ethclient.Client
	abi        abi.ABI
	contract   common.Address
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
}

// NewVerifierClient dials the given RPC endpoint and binds it to the
// verifier contract deployed at contractAddr.
func NewVerifierClient(rpcURL string, contractAddr common.Address) (*VerifierClient, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(verifierABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to parse verifier ABI: %w", err)
	}

	return &VerifierClient{
		client:     client,
		abi:        parsedABI,
		contract:   contractAddr,
		maxRetries: 3,
		retryDelay: 1 * time.Second,
		timeout:    10 * time.Second,
	}, nil
}

// Close closes the underlying RPC client connection.
func (v *VerifierClient) Close() {
	v.client.Close()
}

// Verify calls the verifier contract's view function with the given proof
// bytes and public inputs, retrying transient RPC failures with the same
// exponential backoff as NonceFetcher.GetNonce (1s, 2s, 4s).
func (v *VerifierClient) Verify(ctx context.Context, proof []byte, publicInputs [][32]byte) (bool, error) {
	calldata, err := v.abi.Pack("verify", proof, publicInputs)
	if err != nil {
		return false, fmt.Errorf("failed to pack verify call: %w", err)
	}

	msg := ethereum.CallMsg{
		To:   &v.contract,
		Data: calldata,
	}

	var lastErr error
	for attempt := 0; attempt <= v.maxRetries; attempt++ {
		if attempt > 0 {
			delay := v.retryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, v.timeout)
		result, err := v.client.CallContract(callCtx, msg, nil)
		cancel()
		if err != nil {
			if strings.Contains(err.Error(), revertSubstring) {
				return false, &RevertError{Reason: err.Error()}
			}
			lastErr = fmt.Errorf("attempt %d failed: %w", attempt+1, err)
			continue
		}

		outputs, err := v.abi.Unpack("verify", result)
		if err != nil {
			return false, apperrors.WrapInternalError("failed to unpack verify result", err)
		}
		if len(outputs) != 1 {
			return false, apperrors.NewInternalError(fmt.Sprintf("unexpected verify output arity: %d", len(outputs)))
		}

		valid, ok := outputs[0].(bool)
		if !ok {
			return false, apperrors.NewInternalError("verify output was not a bool")
		}
		return valid, nil
	}

	return false, apperrors.WrapUnreachableDependencyError(
		apperrors.NewUnreachableDependencyError("chain_rpc", fmt.Sprintf("verify call failed after %d attempts", v.maxRetries+1)), lastErr)
}
