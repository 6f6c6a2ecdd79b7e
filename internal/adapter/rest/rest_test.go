package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkgate-io/zkgate/internal/config"
	"github.com/zkgate-io/zkgate/internal/coredata"
	"github.com/zkgate-io/zkgate/internal/eip3009"
	"github.com/zkgate-io/zkgate/internal/kv"
	"github.com/zkgate-io/zkgate/internal/proofresult"
	"github.com/zkgate-io/zkgate/internal/sessionstore"
	"github.com/zkgate-io/zkgate/internal/skills"
)

const testAddress = "0x1234567890123456789012345678901234567890"

func newTestAdapter(t *testing.T) (*Adapter, *sessionstore.Store) {
	t.Helper()
	store := kv.NewMemoryStore(0)
	sessions := sessionstore.New(store, time.Hour)
	results := proofresult.New(store)

	cfg := &config.Config{
		Networks: map[string]config.NetworkConfig{
			"base-sepolia": {
				ChainID:      84532,
				USDCContract: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
				PayeeAddress: testAddress,
				RPCURL:       "https://sepolia.base.org",
			},
		},
		Service: config.ServiceConfig{PriceString: "$0.10"},
	}

	return &Adapter{
		Sessions: sessions,
		Results:  results,
		KV:       store,
		Config:   cfg,
		Network:  "base-sepolia",
		Now:      func() time.Time { return time.Unix(1000, 0) },
	}, sessions
}

func router(a *Adapter) http.Handler {
	r := chi.NewRouter()
	a.Routes(r)
	return r
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthzReportsOK(t *testing.T) {
	a, _ := newTestAdapter(t)
	rec := doJSON(t, router(a), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPrepareSigningRecordsAddressAndReturnsSignalHash(t *testing.T) {
	a, sessions := newTestAdapter(t)
	require.NoError(t, sessions.Create(context.Background(), &coredata.Session{
		ID: "sess_1", CircuitID: "age_over", Scope: "example.com",
		Status: coredata.SessionPending, CreatedAt: time.Unix(1000, 0), ExpiresAt: time.Unix(2000, 0),
	}))

	rec := doJSON(t, router(a), http.MethodPost, "/api/signing/sess_1/prepare", prepareSigningRequest{Address: testAddress})
	require.Equal(t, http.StatusOK, rec.Code)

	var body prepareSigningResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.SignalHash)

	session, err := sessions.Get(context.Background(), "sess_1")
	require.NoError(t, err)
	assert.Equal(t, body.SignalHash, session.SignalHash)
}

func TestPrepareSigningRejectsMismatchedAddressOnRetry(t *testing.T) {
	a, sessions := newTestAdapter(t)
	require.NoError(t, sessions.Create(context.Background(), &coredata.Session{
		ID: "sess_1", CircuitID: "age_over", Scope: "example.com",
		Status: coredata.SessionPending, CreatedAt: time.Unix(1000, 0), ExpiresAt: time.Unix(2000, 0),
	}))

	h := router(a)
	first := doJSON(t, h, http.MethodPost, "/api/signing/sess_1/prepare", prepareSigningRequest{Address: testAddress})
	require.Equal(t, http.StatusOK, first.Code)

	second := doJSON(t, h, http.MethodPost, "/api/signing/sess_1/prepare", prepareSigningRequest{Address: "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"})
	assert.Equal(t, http.StatusBadRequest, second.Code)
}

func TestPrepareSigningRejectsAlreadyCompletedSession(t *testing.T) {
	a, sessions := newTestAdapter(t)
	require.NoError(t, sessions.Create(context.Background(), &coredata.Session{
		ID: "sess_1", CircuitID: "age_over", Scope: "example.com",
		Status: coredata.SessionCompleted, Address: testAddress, SignalHash: "0xabc", Signature: "0xsig",
		CreatedAt: time.Unix(1000, 0), ExpiresAt: time.Unix(2000, 0),
	}))

	rec := doJSON(t, router(a), http.MethodPost, "/api/signing/sess_1/prepare", prepareSigningRequest{Address: testAddress})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var errBody wireErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	assert.Equal(t, "InvalidStateTransition", errBody.Code)
}

func TestSigningCallbackCompletesSession(t *testing.T) {
	a, sessions := newTestAdapter(t)
	require.NoError(t, sessions.Create(context.Background(), &coredata.Session{
		ID: "sess_1", CircuitID: "age_over", Scope: "example.com",
		Status: coredata.SessionPending, Address: testAddress, SignalHash: "0xabc",
		CreatedAt: time.Unix(1000, 0), ExpiresAt: time.Unix(2000, 0),
	}))

	rec := doJSON(t, router(a), http.MethodPost, "/api/signing/callback/sess_1", signingCallbackRequest{
		Address: testAddress, Signature: "0xsignature",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	session, err := sessions.Get(context.Background(), "sess_1")
	require.NoError(t, err)
	assert.Equal(t, coredata.SessionCompleted, session.Status)
	assert.Equal(t, "0xsignature", session.Signature)
}

func TestSigningCallbackRejectsEmptySignature(t *testing.T) {
	a, sessions := newTestAdapter(t)
	require.NoError(t, sessions.Create(context.Background(), &coredata.Session{
		ID: "sess_1", CircuitID: "age_over", Scope: "example.com",
		Status: coredata.SessionPending, CreatedAt: time.Unix(1000, 0), ExpiresAt: time.Unix(2000, 0),
	}))

	rec := doJSON(t, router(a), http.MethodPost, "/api/signing/callback/sess_1", signingCallbackRequest{Address: testAddress})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPaymentReportsNetworkAndAmount(t *testing.T) {
	a, sessions := newTestAdapter(t)
	require.NoError(t, sessions.Create(context.Background(), &coredata.Session{
		ID: "sess_1", CircuitID: "age_over", Scope: "example.com",
		Status: coredata.SessionCompleted, Address: testAddress, SignalHash: "0xabc", Signature: "0xsig",
		CreatedAt: time.Unix(1000, 0), ExpiresAt: time.Unix(2000, 0),
	}))

	rec := doJSON(t, router(a), http.MethodGet, "/api/payment/sess_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body paymentPageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "base-sepolia", body.Network)
	assert.Equal(t, uint64(84532), body.ChainID)
	assert.Equal(t, "100000", body.Units)
}

func TestGetPaymentRejectsSigningNotComplete(t *testing.T) {
	a, sessions := newTestAdapter(t)
	require.NoError(t, sessions.Create(context.Background(), &coredata.Session{
		ID: "sess_1", CircuitID: "age_over", Scope: "example.com",
		Status: coredata.SessionPending, CreatedAt: time.Unix(1000, 0), ExpiresAt: time.Unix(2000, 0),
	}))

	rec := doJSON(t, router(a), http.MethodGet, "/api/payment/sess_1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignPaymentRejectsInvalidSignatureLocally(t *testing.T) {
	a, sessions := newTestAdapter(t)
	require.NoError(t, sessions.Create(context.Background(), &coredata.Session{
		ID: "sess_1", CircuitID: "age_over", Scope: "example.com",
		Status: coredata.SessionCompleted, Address: testAddress, SignalHash: "0xabc", Signature: "0xsig",
		CreatedAt: time.Unix(1000, 0), ExpiresAt: time.Unix(2000, 0),
	}))

	// a.Facilitator is left nil by newTestAdapter: if the handler ever
	// reached the facilitator call before rejecting this forged signature
	// it would panic on a nil pointer, failing this test either way.
	rec := doJSON(t, router(a), http.MethodPost, "/api/payment/sign/sess_1", signPaymentRequest{
		Authorization: eip3009.EIP3009Authorization{
			From:        testAddress,
			To:          "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			Value:       "100000",
			ValidAfter:  0,
			ValidBefore: 4102444800,
			Nonce:       "0x0000000000000000000000000000000000000000000000000000000000000001",
			V:           27,
			R:           "0x0000000000000000000000000000000000000000000000000000000000000001",
			S:           "0x0000000000000000000000000000000000000000000000000000000000000002",
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var errBody wireErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	assert.Equal(t, "InvalidParams", errBody.Code)
}

func TestConfirmPaymentIsIdempotent(t *testing.T) {
	a, sessions := newTestAdapter(t)
	require.NoError(t, sessions.Create(context.Background(), &coredata.Session{
		ID: "sess_1", CircuitID: "age_over", Scope: "example.com",
		Status: coredata.SessionCompleted, Address: testAddress, SignalHash: "0xabc", Signature: "0xsig",
		PaymentStatus: coredata.PaymentPending,
		CreatedAt:     time.Unix(1000, 0), ExpiresAt: time.Unix(2000, 0),
	}))

	h := router(a)
	first := doJSON(t, h, http.MethodPost, "/api/payment/confirm/sess_1", confirmPaymentRequest{TxHash: "0xdeadbeef"})
	require.Equal(t, http.StatusOK, first.Code)

	session, err := sessions.Get(context.Background(), "sess_1")
	require.NoError(t, err)
	assert.Equal(t, coredata.PaymentCompleted, session.PaymentStatus)
	assert.Equal(t, "0xdeadbeef", session.PaymentTxHash)

	second := doJSON(t, h, http.MethodPost, "/api/payment/confirm/sess_1", confirmPaymentRequest{TxHash: "0xotherhash"})
	require.Equal(t, http.StatusOK, second.Code)

	unchanged, err := sessions.Get(context.Background(), "sess_1")
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", unchanged.PaymentTxHash, "a repeated confirm must not overwrite the recorded tx hash")
}

func TestAttestationReturnsStoredSummary(t *testing.T) {
	a, _ := newTestAdapter(t)
	require.NoError(t, a.Results.Put(context.Background(), &coredata.ProofResult{
		ProofID: "proof_1", CircuitID: "age_over", Proof: []byte{0x01}, SignalHash: "0xabc",
		Attestation: &coredata.Attestation{Verified: true, PCRDigest: "deadbeef", Timestamp: time.Unix(1000, 0)},
		CreatedAt:   time.Unix(1000, 0),
	}))

	rec := doJSON(t, router(a), http.MethodGet, "/api/v1/attestation/proof_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body attestationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Attestation)
	assert.True(t, body.Attestation.Verified)
	assert.Equal(t, "deadbeef", body.Attestation.PCRDigest)
}

func TestAttestationReportsNotFoundForUnknownProof(t *testing.T) {
	a, _ := newTestAdapter(t)
	rec := doJSON(t, router(a), http.MethodGet, "/api/v1/attestation/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeVerifier struct {
	result *skills.VerifyProofResult
	err    error
	lastID string
}

func (f *fakeVerifier) VerifyProof(_ context.Context, params skills.VerifyProofParams) (*skills.VerifyProofResult, error) {
	f.lastID = params.ProofID
	return f.result, f.err
}

func TestVerifyDelegatesToCoreAndReportsResult(t *testing.T) {
	a, _ := newTestAdapter(t)
	verifier := &fakeVerifier{result: &skills.VerifyProofResult{Valid: true, CircuitID: "age_over", ChainID: 84532}}
	a.Verifier = verifier

	rec := doJSON(t, router(a), http.MethodGet, "/api/v1/verify/proof_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "proof_1", verifier.lastID)

	var body skills.VerifyProofResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Valid)
}

func TestSessionIntrospectionNeverLeaksSigningMaterial(t *testing.T) {
	a, sessions := newTestAdapter(t)
	require.NoError(t, sessions.Create(context.Background(), &coredata.Session{
		ID: "sess_1", CircuitID: "age_over", Scope: "example.com",
		Status: coredata.SessionCompleted, Address: testAddress, SignalHash: "0xabc", Signature: "0xsig",
		CreatedAt: time.Unix(1000, 0), ExpiresAt: time.Unix(2000, 0),
	}))

	rec := doJSON(t, router(a), http.MethodGet, "/api/v1/session/sess_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "0xsig")
	assert.NotContains(t, rec.Body.String(), "signal_hash")
}
