// Package skills implements Skill Core: the six operations every protocol
// adapter dispatches into, as a closed tagged union with static dispatch
// rather than a registry of dynamically discovered handlers (spec.md's own
// redesign guidance on this point). No adapter holds business logic —
// every rule in this package applies no matter which wire format invoked
// it, generalizing the teacher's one-struct-per-domain-concept idiom
// (request/result records instead of persisted database rows).
package skills

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/zkgate-io/zkgate/internal/circuits"
	"github.com/zkgate-io/zkgate/internal/enclave"
	"github.com/zkgate-io/zkgate/internal/proofcache"
	"github.com/zkgate-io/zkgate/internal/proofresult"
	"github.com/zkgate-io/zkgate/internal/ratelimit"
	"github.com/zkgate-io/zkgate/internal/sessionstore"
)

// VerifierClient is the subset of chainrpc.VerifierClient that verify_proof
// needs, kept as a narrow interface so tests can substitute a fake without
// dialing real RPC.
type VerifierClient interface {
	Verify(ctx context.Context, proof []byte, publicInputs [][32]byte) (bool, error)
}

// VerifierResolver looks up the VerifierClient bound to the verifier
// contract deployed for a circuit on a chain, so one Core can serve
// requests across every configured network and circuit even when
// different circuits deploy to different addresses on the same chain.
type VerifierResolver func(circuitID string, chainID uint64) (VerifierClient, error)

// WitnessInput is the caller-supplied material a witness builder turns into
// a prover-input document. Building circuit params from these is explicitly
// out of scope (spec.md §4.1 step 3); Core only needs the boundary shape.
type WitnessInput struct {
	CircuitID   string
	Address     common.Address
	Scope       string
	CountryList []string
	IsIncluded  *bool
}

// WitnessBuilder renders a prover-input document from witness material.
// Out of scope per spec.md — Core depends only on this interface so a real
// implementation can be swapped in without touching skill logic.
type WitnessBuilder interface {
	Build(ctx context.Context, input WitnessInput) ([]byte, error)
}

// LocalProver is the non-enclave proving path (spec.md §4.1 step 4's
// "otherwise invoke the local prover binary"), also out of scope. Core
// depends only on this interface.
type LocalProver interface {
	Prove(ctx context.Context, circuitID string, inputDocument []byte) (proof []byte, publicInputsHex string, err error)
}

// Core wires every dependency a skill operation needs. Nothing here is
// adapter-specific; the same Core instance serves Task JSON-RPC, Tool
// JSON-RPC, REST, and chat-completions.
type Core struct {
	Sessions   *sessionstore.Store
	Cache      *proofcache.Cache
	Results    *proofresult.Store
	Limiter    *ratelimit.Limiter
	Transport  *enclave.Transport // nil when TEE hardware mode is disabled
	Prover     LocalProver        // nil when no local prover is configured
	Witness    WitnessBuilder
	Verifiers  VerifierResolver

	ExternalBaseURL    string
	PaymentRequired    bool
	AttestationEnabled bool
	SessionTTL         time.Duration
	DefaultChainID     uint64

	// PriceDisplay/Currency/Network describe the single configured price
	// point surfaced by request_payment (spec.md §6's price string and
	// network configuration — this service prices every circuit alike).
	PriceDisplay string
	Currency     string
	Network      string

	Now   func() time.Time
	NewID func() string
}

func (c *Core) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Core) newID(prefix string) string {
	if c.NewID != nil {
		return prefix + c.NewID()
	}
	return prefix + uuid.NewString()
}

// explorerBases maps a chain id to the base URL of its block explorer, used
// to build the verifier_explorer_url surfaced by check_status and
// verify_proof (spec.md §4.1/§4.2). Unlisted chains simply get no explorer
// URL rather than a broken one.
var explorerBases = map[uint64]string{
	8453:  "https://basescan.org/address/",
	84532: "https://sepolia.basescan.org/address/",
	42161: "https://arbiscan.io/address/",
}

func explorerURL(chainID uint64, address string) string {
	base, ok := explorerBases[chainID]
	if !ok || address == "" {
		return ""
	}
	return base + address
}

// circuitKnown reports whether id is a registered circuit.
func circuitKnown(id string) bool {
	return circuits.Known(id)
}
