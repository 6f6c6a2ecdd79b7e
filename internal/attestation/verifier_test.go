package attestation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnvelope struct {
	encoded string
	key     *ecdsa.PrivateKey
	certDER []byte
}

func buildSignedEnvelope(t *testing.T, payload Payload, corruptSignature bool) testEnvelope {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "enclave-leaf"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	payload.Certificate = certDER
	payloadRaw, err := cbor.Marshal(payload)
	require.NoError(t, err)

	protected := protectedHeader{Alg: AlgES256}
	protectedRaw, err := cbor.Marshal(protected)
	require.NoError(t, err)

	toSign := sigStructure{
		Context:     "Signature1",
		Protected:   protectedRaw,
		ExternalAAD: []byte{},
		Payload:     payloadRaw,
	}
	signedBytes, err := cbor.Marshal(toSign)
	require.NoError(t, err)

	digest, err := hashFor(AlgES256, signedBytes)
	require.NoError(t, err)

	r, s, err := ecdsa.Sign(rand.Reader, key, digest)
	require.NoError(t, err)

	rawSig := append(fixed32(r), fixed32(s)...)
	if corruptSignature {
		rawSig[0] ^= 0xFF
	}

	msg := sign1{
		Protected:   protectedRaw,
		Unprotected: map[interface{}]interface{}{},
		Payload:     payloadRaw,
		Signature:   rawSig,
	}
	raw, err := cbor.Marshal(msg)
	require.NoError(t, err)

	return testEnvelope{
		encoded: base64.StdEncoding.EncodeToString(raw),
		key:     key,
		certDER: certDER,
	}
}

func fixed32(n *big.Int) []byte {
	b := n.Bytes()
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func validPayload() Payload {
	return Payload{
		ModuleID:    "mod-1",
		Digest:      "SHA256",
		TimestampMS: time.Now().UnixMilli(),
		PCRs: map[uint][]byte{
			0: []byte{0x01, 0x02, 0x03},
			1: []byte{0x04, 0x05, 0x06},
		},
		CABundle: nil,
	}
}

func TestParseAndVerifyValidEnvelope(t *testing.T) {
	env := buildSignedEnvelope(t, validPayload(), false)

	parsed, err := Parse(env.encoded)
	require.NoError(t, err)
	assert.Equal(t, "mod-1", parsed.Payload.ModuleID)
	assert.Equal(t, AlgES256, parsed.Alg)

	result, err := Verify(parsed, Options{MaxAge: time.Hour, Now: time.Now()})
	require.NoError(t, err)
	assert.True(t, result.Verified)
	for _, c := range result.Checks {
		assert.True(t, c.Passed, "check %s should pass: %s", c.Name, c.Detail)
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	payload := validPayload()
	payload.TimestampMS = time.Now().Add(-2 * time.Hour).UnixMilli()
	env := buildSignedEnvelope(t, payload, false)

	parsed, err := Parse(env.encoded)
	require.NoError(t, err)

	result, err := Verify(parsed, Options{MaxAge: time.Hour, Now: time.Now()})
	require.NoError(t, err)
	assert.False(t, result.Verified)
}

func TestVerifyRejectsPCRMismatch(t *testing.T) {
	env := buildSignedEnvelope(t, validPayload(), false)
	parsed, err := Parse(env.encoded)
	require.NoError(t, err)

	result, err := Verify(parsed, Options{
		MaxAge:      time.Hour,
		Now:         time.Now(),
		ExpectedPCR: map[uint][]byte{0: {0xFF, 0xFF, 0xFF}},
	})
	require.NoError(t, err)
	assert.False(t, result.Verified)
}

func TestVerifyAcceptsMatchingPCR(t *testing.T) {
	env := buildSignedEnvelope(t, validPayload(), false)
	parsed, err := Parse(env.encoded)
	require.NoError(t, err)

	result, err := Verify(parsed, Options{
		MaxAge:      time.Hour,
		Now:         time.Now(),
		ExpectedPCR: map[uint][]byte{0: {0x01, 0x02, 0x03}},
	})
	require.NoError(t, err)
	assert.True(t, result.Verified)
}

func TestVerifyRejectsCorruptSignature(t *testing.T) {
	env := buildSignedEnvelope(t, validPayload(), true)
	parsed, err := Parse(env.encoded)
	require.NoError(t, err)

	result, err := Verify(parsed, Options{MaxAge: time.Hour, Now: time.Now()})
	require.NoError(t, err)
	assert.False(t, result.Verified)
}

func TestParseRejectsInvalidBase64(t *testing.T) {
	_, err := Parse("not-valid-base64!!!")
	require.Error(t, err)
}

func TestRawSignatureToDERRejectsOddLength(t *testing.T) {
	_, err := rawSignatureToDER([]byte{0x01, 0x02, 0x03})
	require.Error(t, err)
}
