// Package rest implements the conventional REST surface at /api/v1/... and
// the signing-page/payment-page callback endpoints at /api/signing/... and
// /api/payment/..., per spec.md §4.11/§6. Business logic stays in Skill
// Core; this adapter only parses HTTP, and — for the two narrow exceptions
// spec.md §4.2 names (the signing-page prepare/callback writing address,
// signal_hash, signature, status directly) — mutates the Session Store
// itself instead of routing through a skill.
package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/zkgate-io/zkgate/internal/apperrors"
	"github.com/zkgate-io/zkgate/internal/config"
	"github.com/zkgate-io/zkgate/internal/coredata"
	"github.com/zkgate-io/zkgate/internal/eip3009"
	"github.com/zkgate-io/zkgate/internal/facilitator"
	"github.com/zkgate-io/zkgate/internal/kv"
	"github.com/zkgate-io/zkgate/internal/logging"
	"github.com/zkgate-io/zkgate/internal/payment"
	"github.com/zkgate-io/zkgate/internal/proofresult"
	"github.com/zkgate-io/zkgate/internal/sessionstore"
	"github.com/zkgate-io/zkgate/internal/skills"
	"github.com/zkgate-io/zkgate/internal/x402"
)

// ProofVerifier is the subset of skills.Core the verification endpoint
// needs, narrowed the same way the other adapters narrow Skill Core.
type ProofVerifier interface {
	VerifyProof(ctx context.Context, params skills.VerifyProofParams) (*skills.VerifyProofResult, error)
}

// Adapter wires the REST surface to the Session Store, Proof Result Store,
// facilitator client, and Skill Core's verify_proof operation.
type Adapter struct {
	Sessions     *sessionstore.Store
	Results      *proofresult.Store
	Verifier     ProofVerifier
	Facilitator  *facilitator.Client
	KV           kv.Store
	Config       *config.Config
	Logger       *logging.Logger
	Now          func() time.Time
	DefaultChain uint64

	// SignatureVerifier checks an EIP-3009 authorization's signature
	// locally before it is ever forwarded to the facilitator, so a
	// forged or mismatched signature is rejected without spending a
	// facilitator round trip. Constructed lazily from Config if nil.
	SignatureVerifier *eip3009.SignatureVerifier

	// Network names the entry in Config.Networks this service prices and
	// settles against, mirroring skills.Core.Network.
	Network string

	// PaymentRequired mirrors skills.Core.PaymentRequired, so the signing
	// page reports the same phase check_status would.
	PaymentRequired bool
}

func (a *Adapter) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *Adapter) signatureVerifier() *eip3009.SignatureVerifier {
	if a.SignatureVerifier != nil {
		return a.SignatureVerifier
	}
	return eip3009.NewSignatureVerifier(a.Config)
}

// Routes mounts every REST endpoint on r.
func (a *Adapter) Routes(r chi.Router) {
	r.Get("/healthz", a.handleHealth)

	r.Get("/api/signing/{id}", a.handleGetSigning)
	r.Post("/api/signing/{id}/prepare", a.handlePrepareSigning)
	r.Post("/api/signing/callback/{id}", a.handleSigningCallback)

	r.Get("/api/payment/{id}", a.handleGetPayment)
	r.Post("/api/payment/confirm/{id}", a.handleConfirmPayment)
	r.Post("/api/payment/sign/{id}", a.handleSignPayment)

	r.Get("/api/v1/verify/{proof_id}", a.handleVerify)
	r.Get("/api/v1/attestation/{proof_id}", a.handleAttestation)
	r.Get("/api/v1/session/{id}", a.handleSessionIntrospection)
}

func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := a.KV.Get(r.Context(), "healthz:probe"); err != nil && err != kv.ErrNotFound {
		writeError(w, apperrors.WrapUnreachableDependencyError(
			apperrors.NewUnreachableDependencyError("kv", "health probe failed"), err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type signingPageResponse struct {
	RequestID string    `json:"request_id"`
	CircuitID string    `json:"circuit_id"`
	Scope     string    `json:"scope"`
	Phase     string    `json:"phase"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *Adapter) handleGetSigning(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, err := a.Sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, signingPageResponse{
		RequestID: session.ID,
		CircuitID: session.CircuitID,
		Scope:     session.Scope,
		Phase:     session.Phase(a.now(), a.PaymentRequired),
		ExpiresAt: session.ExpiresAt,
	})
}

type prepareSigningRequest struct {
	Address string `json:"address"`
}

type prepareSigningResponse struct {
	SignalHash string `json:"signalHash"`
}

// handlePrepareSigning is the first of spec.md §4.2's two Session Store
// exceptions: the signing page records the signer address and computes the
// signal hash the page will ask the wallet to sign.
func (a *Adapter) handlePrepareSigning(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body prepareSigningRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperrors.NewInvalidParamsError("body", "malformed JSON body"))
		return
	}
	if !common.IsHexAddress(body.Address) {
		writeError(w, apperrors.NewInvalidParamsError("address", "not a valid 0x-prefixed address"))
		return
	}

	session, err := a.Sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if session.Status != coredata.SessionPending {
		writeError(w, apperrors.NewInvalidStateTransitionError(string(session.Status), "prepare"))
		return
	}
	if session.Address != "" && !addressesEqual(session.Address, body.Address) {
		writeError(w, apperrors.NewInvalidParamsError("address", "does not match the address already recorded for this session"))
		return
	}

	address := common.HexToAddress(body.Address)
	hash, err := eip3009.SignalHash(address, session.Scope, session.CircuitID)
	if err != nil {
		writeError(w, apperrors.WrapInvalidParamsError(apperrors.NewInvalidParamsError("signal_hash", err.Error()), err))
		return
	}

	session.Address = address.Hex()
	session.SignalHash = hash.Hex()
	if err := a.Sessions.Update(r.Context(), session); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, prepareSigningResponse{SignalHash: hash.Hex()})
}

type signingCallbackRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// handleSigningCallback is the second Session Store exception: the wallet
// posts back its signature over the prepared signal hash, completing the
// session.
func (a *Adapter) handleSigningCallback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body signingCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperrors.NewInvalidParamsError("body", "malformed JSON body"))
		return
	}
	if body.Signature == "" {
		writeError(w, apperrors.NewInvalidParamsError("signature", "signature must be non-empty"))
		return
	}

	session, err := a.Sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if session.Status != coredata.SessionPending {
		writeError(w, apperrors.NewInvalidStateTransitionError(string(session.Status), "completed"))
		return
	}
	if session.Address != "" && !addressesEqual(session.Address, body.Address) {
		writeError(w, apperrors.NewInvalidParamsError("address", "does not match the address recorded during prepare"))
		return
	}

	session.Address = common.HexToAddress(body.Address).Hex()
	session.Signature = body.Signature
	session.Status = coredata.SessionCompleted
	if err := a.Sessions.Update(r.Context(), session); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

type paymentPageResponse struct {
	Recipient string `json:"recipient"`
	Asset     string `json:"asset"`
	Network   string `json:"network"`
	ChainID   uint64 `json:"chain_id"`
	Amount    string `json:"amount"`
	Units     string `json:"units"`

	// X402 carries the same payment terms rendered as a Coinbase
	// x402-compliant payment requirement, for agent wallets that consume
	// that schema directly instead of this endpoint's summary fields.
	X402 *x402.PaymentRequirement `json:"x402,omitempty"`
}

func (a *Adapter) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, err := a.Sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if session.Status != coredata.SessionCompleted {
		writeError(w, apperrors.NewInvalidStateTransitionError(string(session.Status), "payment"))
		return
	}

	netCfg, ok := a.Config.Networks[a.Network]
	if !ok {
		writeError(w, apperrors.NewInternalError("configured payment network has no network config"))
		return
	}

	units, err := payment.ParseAmountUnits(a.Config.Service.PriceString)
	if err != nil {
		writeError(w, err)
		return
	}

	validity := session.ExpiresAt.Sub(a.now())
	if validity <= 0 {
		validity = time.Minute
	}
	requirement, err := x402.NewPaymentRequirement(
		units.String(),
		a.Network,
		netCfg.PayeeAddress,
		netCfg.USDCContract,
		a.Config.Service.BaseURL+"/api/payment/"+id,
		"zkgate proof-request payment for circuit "+session.CircuitID,
		"application/json",
		validity,
	)
	if err != nil {
		writeError(w, apperrors.WrapInternalError("failed to build x402 payment requirement", err))
		return
	}

	writeJSON(w, http.StatusOK, paymentPageResponse{
		Recipient: netCfg.PayeeAddress,
		Asset:     netCfg.USDCContract,
		Network:   a.Network,
		ChainID:   netCfg.ChainID,
		Amount:    a.Config.Service.PriceString,
		Units:     units.String(),
		X402:      requirement,
	})
}

type confirmPaymentRequest struct {
	TxHash string `json:"txHash"`
}

func (a *Adapter) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body confirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperrors.NewInvalidParamsError("body", "malformed JSON body"))
		return
	}
	if body.TxHash == "" {
		writeError(w, apperrors.NewInvalidParamsError("txHash", "txHash must be non-empty"))
		return
	}

	session, err := a.Sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if session.Status != coredata.SessionCompleted {
		writeError(w, apperrors.NewInvalidStateTransitionError(string(session.Status), "payment"))
		return
	}
	if session.PaymentStatus == coredata.PaymentCompleted {
		writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
		return
	}

	session.PaymentStatus = coredata.PaymentCompleted
	session.PaymentTxHash = body.TxHash
	if err := a.Sessions.Update(r.Context(), session); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

type signPaymentRequest struct {
	Authorization eip3009.EIP3009Authorization `json:"authorization"`
}

// handleSignPayment verifies the EIP-3009 authorization's signature locally
// before ever spending a facilitator round trip, then forwards it to the
// facilitator and, on success, marks the session's payment completed with
// the returned transaction hash.
func (a *Adapter) handleSignPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body signPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperrors.NewInvalidParamsError("body", "malformed JSON body"))
		return
	}

	session, err := a.Sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if session.Status != coredata.SessionCompleted {
		writeError(w, apperrors.NewInvalidStateTransitionError(string(session.Status), "payment"))
		return
	}

	verified, err := a.signatureVerifier().VerifyAuthorization(&body.Authorization, a.Network)
	if err != nil {
		writeError(w, apperrors.WrapInternalError("authorization verification failed", err))
		return
	}
	if !verified.IsValid {
		writeError(w, apperrors.NewInvalidParamsError("authorization", verified.Error))
		return
	}

	result, err := a.Facilitator.SubmitSettlement(&body.Authorization, a.Network)
	if err != nil {
		writeError(w, apperrors.WrapUnreachableDependencyError(
			apperrors.NewUnreachableDependencyError("facilitator", "settlement submission failed"), err))
		return
	}
	if result.Status != "settled" {
		writeJSON(w, http.StatusAccepted, result.ToMap())
		return
	}

	session.PaymentStatus = coredata.PaymentCompleted
	session.PaymentTxHash = result.TxHash
	if err := a.Sessions.Update(r.Context(), session); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result.ToMap())
}

func (a *Adapter) handleVerify(w http.ResponseWriter, r *http.Request) {
	proofID := chi.URLParam(r, "proof_id")

	result, err := a.Verifier.VerifyProof(r.Context(), skills.VerifyProofParams{
		ProofID: proofID,
		ChainID: a.DefaultChain,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type attestationResponse struct {
	ProofID     string                `json:"proof_id"`
	Attestation *coredata.Attestation `json:"attestation"`
}

func (a *Adapter) handleAttestation(w http.ResponseWriter, r *http.Request) {
	proofID := chi.URLParam(r, "proof_id")

	result, err := a.Results.Get(r.Context(), proofID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attestationResponse{ProofID: result.ProofID, Attestation: result.Attestation})
}

type sessionIntrospectionResponse struct {
	ID            string                 `json:"id"`
	CircuitID     string                 `json:"circuit_id"`
	Scope         string                 `json:"scope"`
	Status        coredata.SessionStatus `json:"status"`
	PaymentStatus coredata.PaymentStatus `json:"payment_status,omitempty"`
	ExpiresAt     time.Time              `json:"expires_at"`
}

// handleSessionIntrospection reports a session's public-safe fields —
// never the address, signature, or signal hash.
func (a *Adapter) handleSessionIntrospection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, err := a.Sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionIntrospectionResponse{
		ID:            session.ID,
		CircuitID:     session.CircuitID,
		Scope:         session.Scope,
		Status:        session.Status,
		PaymentStatus: session.PaymentStatus,
		ExpiresAt:     session.ExpiresAt,
	})
}

func addressesEqual(a, b string) bool {
	return common.HexToAddress(a) == common.HexToAddress(b)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// wireErrorBody is the shape every REST error response carries: a machine
// code (apperrors.Coded.Code()) plus a human message.
type wireErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "InternalError"
	if coded, ok := err.(apperrors.Coded); ok {
		code = coded.Code()
		status = statusForCode(code)
	}
	writeJSON(w, status, wireErrorBody{Code: code, Message: err.Error()})
}

// statusForCode maps apperrors.Coded codes to HTTP status, per spec.md §7.
func statusForCode(code string) int {
	switch code {
	case "InvalidParams", "InvalidStateTransition":
		return http.StatusBadRequest
	case "NotFound":
		return http.StatusNotFound
	case "RateLimited":
		return http.StatusTooManyRequests
	case "UnreachableDependency":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
