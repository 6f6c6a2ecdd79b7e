// Package attestation parses and verifies the COSE Sign1-style attestation
// envelope returned by the enclave transport, per spec.md §4.10: a signed
// structure carrying PCR measurements, a certificate chain, and a
// timestamp, whose raw R||S signature must be converted to ASN.1 DER before
// verification and whose hash algorithm must be read from the protected
// header rather than trusted from caller input.
package attestation

import (
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// sign1 is the untagged 4-element COSE_Sign1 array:
// [protected, unprotected, payload, signature].
type sign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[interface{}]interface{}
	Payload     []byte
	Signature   []byte
}

// protectedHeader carries the signature algorithm identifier (COSE label 1).
type protectedHeader struct {
	Alg int `cbor:"1,keyasint"`
}

// Payload is the attestation document body, per spec.md §4.10.
type Payload struct {
	ModuleID    string           `cbor:"module_id"`
	Digest      string           `cbor:"digest"`
	TimestampMS int64            `cbor:"timestamp"`
	PCRs        map[uint][]byte  `cbor:"pcrs"`
	Certificate []byte           `cbor:"certificate"`
	CABundle    [][]byte         `cbor:"cabundle"`
	PublicKey   []byte           `cbor:"public_key"`
	UserData    []byte           `cbor:"user_data"`
	Nonce       []byte           `cbor:"nonce"`
}

// Envelope is a parsed attestation document, ready for verification.
type Envelope struct {
	ProtectedRaw []byte
	PayloadRaw   []byte
	Alg          int
	Payload      Payload
	Signature    []byte
}

// Parse decodes a base64-encoded CBOR COSE_Sign1 attestation document.
func Parse(encoded string) (*Envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("attestation: invalid base64: %w", err)
	}

	var msg sign1
	if err := cbor.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("attestation: invalid COSE_Sign1 structure: %w", err)
	}

	var header protectedHeader
	if err := cbor.Unmarshal(msg.Protected, &header); err != nil {
		return nil, fmt.Errorf("attestation: invalid protected header: %w", err)
	}

	var payload Payload
	if err := cbor.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, fmt.Errorf("attestation: invalid payload: %w", err)
	}

	return &Envelope{
		ProtectedRaw: msg.Protected,
		PayloadRaw:   msg.Payload,
		Alg:          header.Alg,
		Payload:      payload,
		Signature:    msg.Signature,
	}, nil
}
