// Package proofresult persists completed Proof Results under proof:{id},
// per spec.md §6, addressable from a public verification page independently
// of the content-addressed proof cache (internal/proofcache keys on inputs;
// this store keys on the opaque proof id handed back to the caller).
package proofresult

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zkgate-io/zkgate/internal/apperrors"
	"github.com/zkgate-io/zkgate/internal/coredata"
	"github.com/zkgate-io/zkgate/internal/kv"
)

const (
	keyPrefix  = "proof:"
	defaultTTL = 24 * time.Hour
)

func key(id string) string { return keyPrefix + id }

// Store persists immutable Proof Results by proof id.
type Store struct {
	kv  kv.Store
	ttl time.Duration
}

// New constructs a Store with the default 24h TTL.
func New(store kv.Store) *Store {
	return &Store{kv: store, ttl: defaultTTL}
}

// NewWithTTL constructs a Store with a caller-specified TTL, for tests that
// need to observe expiry quickly.
func NewWithTTL(store kv.Store, ttl time.Duration) *Store {
	return &Store{kv: store, ttl: ttl}
}

// Put persists a result under its ProofID. Proof Results are immutable
// after write (spec.md §3) — a second Put for the same id simply refreshes
// the TTL with the same content.
func (s *Store) Put(ctx context.Context, result *coredata.ProofResult) error {
	if err := result.Validate(); err != nil {
		return apperrors.WrapInvalidParamsError(apperrors.NewInvalidParamsError("proof_result", err.Error()), err)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return apperrors.WrapInternalError("failed to marshal proof result", err)
	}
	return s.kv.SetWithTTL(ctx, key(result.ProofID), data, s.ttl)
}

// Get loads a Proof Result by id, returning NotFoundError if absent or
// expired (the TTL is enforced by the KV layer itself here, unlike the
// cache's explicit ExpiresAt field, since this record has no sliding
// window to preserve).
func (s *Store) Get(ctx context.Context, id string) (*coredata.ProofResult, error) {
	data, err := s.kv.Get(ctx, key(id))
	if err == kv.ErrNotFound {
		return nil, apperrors.NewNotFoundError("proof_result", id)
	}
	if err != nil {
		return nil, apperrors.WrapUnreachableDependencyError(
			apperrors.NewUnreachableDependencyError("kv", "proof result lookup failed"), err)
	}

	var result coredata.ProofResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, apperrors.WrapInternalError("failed to unmarshal proof result", err)
	}
	return &result, nil
}
