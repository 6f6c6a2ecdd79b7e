package eip3009

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignalHash computes the bit-exact signal hash spec.md names:
//
//	signal_hash = keccak256(address_20_bytes || utf8(scope) || utf8(circuit_id))
//
// where address_20_bytes is the canonical 20-byte form with no "0x" prefix.
// This is a sibling construction to ReceiveWithAuthorizationMessage.StructHash
// above: raw concatenation followed by a single Keccak256 pass, no EIP-712
// domain separator involved.
func SignalHash(address common.Address, scope, circuitID string) (common.Hash, error) {
	if scope == "" {
		return common.Hash{}, fmt.Errorf("scope is required")
	}
	if circuitID == "" {
		return common.Hash{}, fmt.Errorf("circuit_id is required")
	}

	packed := make([]byte, 0, common.AddressLength+len(scope)+len(circuitID))
	packed = append(packed, address.Bytes()...)
	packed = append(packed, []byte(scope)...)
	packed = append(packed, []byte(circuitID)...)

	return crypto.Keccak256Hash(packed), nil
}
