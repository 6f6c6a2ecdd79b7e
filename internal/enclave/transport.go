// Package enclave implements the framed request/response transport to the
// isolated prover sidecar process, per spec.md §4.9: length-prefixed JSON
// messages, request types prove/health/attest, geometric backoff retry on
// connection faults.
package enclave

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/zkgate-io/zkgate/internal/apperrors"
)

// MaxRetries bounds the number of retry attempts on connection-level
// faults (refused/reset/timeout/empty response).
const MaxRetries = 5

// retryBase is the base delay of the geometric backoff (~3s per spec.md).
const retryBase = 3 * time.Second

// RequestType names the three request shapes the sidecar understands.
type RequestType string

const (
	RequestProve  RequestType = "prove"
	RequestHealth RequestType = "health"
	RequestAttest RequestType = "attest"
)

// ProveRequest asks the prover to generate a proof for a circuit.
type ProveRequest struct {
	CircuitID     string `json:"circuit_id"`
	InputDocument []byte `json:"input_document"`
	IdempotencyID string `json:"idempotency_id"`
}

// ProveResponse carries the proof and an optional attestation envelope.
type ProveResponse struct {
	Proof             []byte `json:"proof"`
	PublicInputsHex   string `json:"public_inputs_hex,omitempty"`
	Nullifier         string `json:"nullifier,omitempty"`
	AttestationBase64 string `json:"attestation,omitempty"`
}

// AttestRequest asks the sidecar to produce a standalone attestation bound
// to a proof hash, when the prover did not attach one directly.
type AttestRequest struct {
	ProofHash string `json:"proof_hash"`
}

// AttestResponse carries a standalone attestation envelope.
type AttestResponse struct {
	AttestationBase64 string `json:"attestation"`
}

// HealthResponse reports the sidecar's liveness.
type HealthResponse struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// envelope is the wire shape for both requests and responses.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Transport is a framed client to the prover sidecar, dialing a fresh
// connection per request (no pooling, per spec.md §5 concurrency notes).
type Transport struct {
	network    string
	address    string
	dial       func(ctx context.Context, network, address string) (net.Conn, error)
	timeout    time.Duration
	maxRetries int
	retryBase  time.Duration
}

// New constructs a Transport over a unix domain socket at socketPath, using
// the default retry policy (up to 5 retries after the first attempt, 3s
// geometric base).
func New(socketPath string) *Transport {
	return NewWithRetry(socketPath, MaxRetries, retryBase)
}

// NewWithRetry constructs a Transport with an explicit retry budget,
// letting operators tune backoff for sidecars with different cold-start
// characteristics without touching the connection-fault detection logic.
func NewWithRetry(socketPath string, maxRetries int, base time.Duration) *Transport {
	return &Transport{
		network:    "unix",
		address:    socketPath,
		dial:       (&net.Dialer{}).DialContext,
		timeout:    30 * time.Second,
		maxRetries: maxRetries,
		retryBase:  base,
	}
}

// Prove sends a framed prove request, retrying connection-level failures
// with geometric backoff up to MaxRetries. Application-level errors
// (response type "error") are returned immediately without retry.
func (t *Transport) Prove(ctx context.Context, req ProveRequest) (*ProveResponse, error) {
	var resp ProveResponse
	if err := t.callWithRetry(ctx, RequestProve, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health sends a framed health request without retry policy — callers that
// want retry semantics should apply their own.
func (t *Transport) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := t.call(ctx, RequestHealth, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Attest sends a framed attest request, with the same connection-fault
// retry policy as Prove.
func (t *Transport) Attest(ctx context.Context, req AttestRequest) (*AttestResponse, error) {
	var resp AttestResponse
	if err := t.callWithRetry(ctx, RequestAttest, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *Transport) callWithRetry(ctx context.Context, reqType RequestType, payload, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			delay := t.retryBase * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := t.call(ctx, reqType, payload, out)
		if err == nil {
			return nil
		}
		if !isConnectionFault(err) {
			return err
		}
		lastErr = err
	}
	return apperrors.WrapUnreachableDependencyError(
		apperrors.NewUnreachableDependencyError("enclave", fmt.Sprintf("exhausted %d retries", t.maxRetries)), lastErr)
}

// call performs one request/response round trip over a fresh connection.
func (t *Transport) call(ctx context.Context, reqType RequestType, payload, out interface{}) error {
	conn, err := t.dial(ctx, t.network, t.address)
	if err != nil {
		return &connectionFault{cause: err}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(t.timeout))
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return apperrors.WrapInternalError("failed to marshal enclave request", err)
	}

	reqEnv := envelope{Type: string(reqType), Payload: payloadBytes}
	reqBytes, err := json.Marshal(reqEnv)
	if err != nil {
		return apperrors.WrapInternalError("failed to marshal enclave envelope", err)
	}

	if err := writeFrame(conn, reqBytes); err != nil {
		return &connectionFault{cause: err}
	}

	respBytes, err := readFrame(conn)
	if err != nil {
		return &connectionFault{cause: err}
	}
	if len(respBytes) == 0 {
		return &connectionFault{cause: errors.New("empty response")}
	}

	var respEnv envelope
	if err := json.Unmarshal(respBytes, &respEnv); err != nil {
		return apperrors.WrapInternalError("failed to unmarshal enclave response", err)
	}

	if respEnv.Type == "error" {
		return apperrors.NewUnreachableDependencyError("enclave", respEnv.Error)
	}

	if out != nil && len(respEnv.Payload) > 0 {
		if err := json.Unmarshal(respEnv.Payload, out); err != nil {
			return apperrors.WrapInternalError("failed to unmarshal enclave payload", err)
		}
	}
	return nil
}

// connectionFault marks an error as retryable per spec.md §4.9: connection
// refused/reset/timeout, or an empty response.
type connectionFault struct {
	cause error
}

func (e *connectionFault) Error() string { return fmt.Sprintf("enclave connection fault: %v", e.cause) }
func (e *connectionFault) Unwrap() error { return e.cause }

func isConnectionFault(err error) bool {
	var cf *connectionFault
	return errors.As(err, &cf)
}

func writeFrame(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return bytes.TrimSpace(buf), nil
}
