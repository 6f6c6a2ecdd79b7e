package payment

import (
	"encoding/base64"

	"github.com/fxamacker/cbor/v2"

	"github.com/zkgate-io/zkgate/internal/apperrors"
	"github.com/zkgate-io/zkgate/internal/eip3009"
)

// DecodeHeaderWire base64-decodes the raw value of the X-PAYMENT header
// (the wire encoding the x402 middleware convention uses) before handing the
// CBOR payload to DecodeHeader.
func DecodeHeaderWire(wire string) (*eip3009.EIP3009Authorization, string, error) {
	raw, err := base64.StdEncoding.DecodeString(wire)
	if err != nil {
		return nil, "", apperrors.WrapInvalidParamsError(
			apperrors.NewInvalidParamsError("payment_header", "failed to base64-decode payment header"), err)
	}
	return DecodeHeader(raw)
}

// DecodeHeader decodes the CBOR-encoded x402 payment header carried on a
// task request into an EIP-3009 authorization. Payloads are decoded into a
// permissive map first and read from "proof.from" if a nested "proof"
// object is present, falling back to a top-level "from" — both shapes are
// seen in the wild for the same scheme.
func DecodeHeader(raw []byte) (*eip3009.EIP3009Authorization, string, error) {
	var fields map[string]interface{}
	if err := cbor.Unmarshal(raw, &fields); err != nil {
		return nil, "", apperrors.WrapInvalidParamsError(
			apperrors.NewInvalidParamsError("payment_header", "failed to decode CBOR payload"), err)
	}

	scheme, _ := fields["scheme"].(string)

	source := fields
	switch proof := fields["proof"].(type) {
	case map[string]interface{}:
		source = proof
	case map[interface{}]interface{}:
		// Nested CBOR maps decode into interface{} with interface{} keys.
		source = make(map[string]interface{}, len(proof))
		for k, v := range proof {
			if name, ok := k.(string); ok {
				source[name] = v
			}
		}
	}

	auth := &eip3009.EIP3009Authorization{
		From:  stringField(source, fields, "from"),
		To:    stringField(source, fields, "to"),
		Value: stringField(source, fields, "value"),
		Nonce: stringField(source, fields, "nonce"),
		R:     stringField(source, fields, "r"),
		S:     stringField(source, fields, "s"),
	}
	auth.ValidAfter = uint64Field(source, fields, "validAfter")
	auth.ValidBefore = uint64Field(source, fields, "validBefore")
	auth.V = uint8(uint64Field(source, fields, "v"))

	if err := auth.Validate(); err != nil {
		return nil, "", apperrors.WrapInvalidParamsError(
			apperrors.NewInvalidParamsError("payment_header", err.Error()), err)
	}
	return auth, scheme, nil
}

// stringField reads key from the nested proof object if present there,
// otherwise from the top-level fields map.
func stringField(nested, top map[string]interface{}, key string) string {
	if v, ok := nested[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	if v, ok := top[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func uint64Field(nested, top map[string]interface{}, key string) uint64 {
	if v, ok := nested[key]; ok {
		if n, ok := toUint64(v); ok {
			return n
		}
	}
	if v, ok := top[key]; ok {
		if n, ok := toUint64(v); ok {
			return n
		}
	}
	return 0
}

func toUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	case int64:
		return uint64(n), true
	case int:
		return uint64(n), true
	default:
		return 0, false
	}
}
