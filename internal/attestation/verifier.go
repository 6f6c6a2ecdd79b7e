package attestation

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/zkgate-io/zkgate/internal/apperrors"
)

// Algorithm identifiers from the protected header (COSE label 1 values),
// per spec.md §4.10: -7 = ES256/SHA-256, -35 = ES384/SHA-384, -36 =
// ES512/SHA-512.
const (
	AlgES256 = -7
	AlgES384 = -35
	AlgES512 = -36
)

// Options configures an attestation verification pass.
type Options struct {
	MaxAge      time.Duration
	ExpectedPCR map[uint][]byte // optional expected values, e.g. PCR0/PCR1/PCR2
	Now         time.Time
}

// CheckResult records the pass/fail outcome of one verification step.
type CheckResult struct {
	Name   string
	Passed bool
	Detail string
}

// Result is the structured outcome of verifying an attestation envelope —
// returned to callers as data, never as an exception, per spec.md §7's
// AttestationInvalid kind.
type Result struct {
	Verified bool
	ModuleID string
	Checks   []CheckResult
}

func (r *Result) addFailure(name, detail string) {
	r.Checks = append(r.Checks, CheckResult{Name: name, Passed: false, Detail: detail})
	r.Verified = false
}

func (r *Result) addPass(name string) {
	r.Checks = append(r.Checks, CheckResult{Name: name, Passed: true})
}

// Verify runs all four checks named in spec.md §4.10 against env and
// returns a structured Result. A failing check does not abort the others —
// every check that can run, does, so callers see the full picture.
func Verify(env *Envelope, opts Options) (*Result, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	result := &Result{Verified: true, ModuleID: env.Payload.ModuleID}

	verifyFreshness(result, env, now, opts.MaxAge)
	verifyPCRs(result, env, opts.ExpectedPCR)
	leaf, err := verifyCertChain(result, env)
	if err != nil {
		return result, nil
	}
	verifySignature(result, env, leaf)

	return result, nil
}

func verifyFreshness(result *Result, env *Envelope, now time.Time, maxAge time.Duration) {
	ts := time.UnixMilli(env.Payload.TimestampMS)
	age := now.Sub(ts)
	if maxAge > 0 && (age > maxAge || age < -time.Minute) {
		result.addFailure("timestamp_freshness", fmt.Sprintf("attestation age %s exceeds max_age %s", age, maxAge))
		return
	}
	result.addPass("timestamp_freshness")
}

func verifyPCRs(result *Result, env *Envelope, expected map[uint][]byte) {
	if len(expected) == 0 {
		result.addPass("pcr_match")
		return
	}
	for idx, want := range expected {
		got, ok := env.Payload.PCRs[idx]
		if !ok || !bytes.Equal(got, want) {
			result.addFailure("pcr_match", fmt.Sprintf("PCR%d mismatch", idx))
			return
		}
	}
	result.addPass("pcr_match")
}

func verifyCertChain(result *Result, env *Envelope) (*x509.Certificate, error) {
	leaf, err := x509.ParseCertificate(env.Payload.Certificate)
	if err != nil {
		result.addFailure("cert_chain", fmt.Sprintf("invalid leaf certificate: %v", err))
		return nil, err
	}

	now := time.Now()
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		result.addFailure("cert_chain", "leaf certificate is outside its validity window")
		return leaf, fmt.Errorf("leaf certificate expired or not yet valid")
	}

	prev := leaf
	for i, derCert := range env.Payload.CABundle {
		cert, err := x509.ParseCertificate(derCert)
		if err != nil {
			result.addFailure("cert_chain", fmt.Sprintf("invalid CA bundle certificate at index %d: %v", i, err))
			return leaf, err
		}
		if prev.Issuer.String() != cert.Subject.String() {
			result.addFailure("cert_chain", fmt.Sprintf("CA bundle certificate at index %d does not chain to its child", i))
			return leaf, fmt.Errorf("broken certificate chain at index %d", i)
		}
		prev = cert
	}

	result.addPass("cert_chain")
	return leaf, nil
}

// sigStructure is the COSE Sig_structure for Sign1, per spec.md §4.10:
// ["Signature1", protected_headers_bytes, external_aad(empty), payload_bytes].
type sigStructure struct {
	_           struct{} `cbor:",toarray"`
	Context     string
	Protected   []byte
	ExternalAAD []byte
	Payload     []byte
}

// ecdsaSignature is used to convert a raw R||S signature to ASN.1 DER.
type ecdsaSignature struct {
	R, S *big.Int
}

func verifySignature(result *Result, env *Envelope, leaf *x509.Certificate) {
	pubKey, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		result.addFailure("signature", "leaf certificate does not carry an ECDSA public key")
		return
	}

	toSign := sigStructure{
		Context:     "Signature1",
		Protected:   env.ProtectedRaw,
		ExternalAAD: []byte{},
		Payload:     env.PayloadRaw,
	}
	signedBytes, err := cbor.Marshal(toSign)
	if err != nil {
		result.addFailure("signature", fmt.Sprintf("failed to build signature input: %v", err))
		return
	}

	digest, err := hashFor(env.Alg, signedBytes)
	if err != nil {
		result.addFailure("signature", err.Error())
		return
	}

	der, err := rawSignatureToDER(env.Signature)
	if err != nil {
		result.addFailure("signature", fmt.Sprintf("failed to convert signature to DER: %v", err))
		return
	}

	if !ecdsa.VerifyASN1(pubKey, digest, der) {
		result.addFailure("signature", "ECDSA signature verification failed")
		return
	}
	result.addPass("signature")
}

func hashFor(alg int, data []byte) ([]byte, error) {
	var h crypto.Hash
	switch alg {
	case AlgES256:
		h = crypto.SHA256
	case AlgES384:
		h = crypto.SHA384
	case AlgES512:
		h = crypto.SHA512
	default:
		return nil, apperrors.NewAttestationInvalidError("signature", fmt.Sprintf("unsupported algorithm id %d", alg))
	}

	switch h {
	case crypto.SHA256:
		sum := sha256.Sum256(data)
		return sum[:], nil
	case crypto.SHA384:
		sum := sha512.Sum384(data)
		return sum[:], nil
	case crypto.SHA512:
		sum := sha512.Sum512(data)
		return sum[:], nil
	}
	return nil, apperrors.NewAttestationInvalidError("signature", "unreachable hash selection")
}

func rawSignatureToDER(raw []byte) ([]byte, error) {
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("raw signature length %d is not even", len(raw))
	}
	half := len(raw) / 2
	r := new(big.Int).SetBytes(raw[:half])
	s := new(big.Int).SetBytes(raw[half:])
	return asn1.Marshal(ecdsaSignature{R: r, S: s})
}
