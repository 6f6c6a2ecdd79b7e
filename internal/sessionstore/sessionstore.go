// Package sessionstore implements CRUD and TTL management for Session
// Records, per spec.md §4.2, on top of the shared KV store at key
// signing:{id} with a TTL of the configured session lifetime.
package sessionstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zkgate-io/zkgate/internal/apperrors"
	"github.com/zkgate-io/zkgate/internal/coredata"
	"github.com/zkgate-io/zkgate/internal/kv"
)

const keyPrefix = "signing:"

// Store persists Session Records in the shared KV store, re-targeting the
// teacher's TTLCache discipline (entries carry an ExpiresAt, reads check
// time.Now().After) onto a durable backend instead of an in-process map.
type Store struct {
	kv  kv.Store
	ttl time.Duration
}

// New constructs a Store with the given default session TTL.
func New(store kv.Store, ttl time.Duration) *Store {
	return &Store{kv: store, ttl: ttl}
}

func key(id string) string {
	return keyPrefix + id
}

// Create persists a new session with a fresh TTL.
func (s *Store) Create(ctx context.Context, session *coredata.Session) error {
	if err := session.Validate(); err != nil {
		return apperrors.WrapInvalidParamsError(apperrors.NewInvalidParamsError("session", err.Error()), err)
	}

	data, err := json.Marshal(session)
	if err != nil {
		return apperrors.WrapInternalError("failed to marshal session", err)
	}

	return s.kv.SetWithTTL(ctx, key(session.ID), data, s.ttl)
}

// Get retrieves a session by id, returning NotFoundError if absent or
// expired.
func (s *Store) Get(ctx context.Context, id string) (*coredata.Session, error) {
	data, err := s.kv.Get(ctx, key(id))
	if err == kv.ErrNotFound {
		return nil, apperrors.NewNotFoundError("session", id)
	}
	if err != nil {
		return nil, apperrors.WrapUnreachableDependencyError(
			apperrors.NewUnreachableDependencyError("kv", "session lookup failed"), err)
	}

	var session coredata.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, apperrors.WrapInternalError("failed to unmarshal session", err)
	}
	return &session, nil
}

// Update persists a mutated session, preserving its remaining TTL window
// (the time left until ExpiresAt), so sessions do not get a longer life
// just because they were mutated close to expiry. A session already past
// ExpiresAt is written with the configured default TTL.
func (s *Store) Update(ctx context.Context, session *coredata.Session) error {
	if err := session.Validate(); err != nil {
		return apperrors.WrapInvalidParamsError(apperrors.NewInvalidParamsError("session", err.Error()), err)
	}

	data, err := json.Marshal(session)
	if err != nil {
		return apperrors.WrapInternalError("failed to marshal session", err)
	}

	ttl := s.ttl
	if remaining := time.Until(session.ExpiresAt); remaining > 0 {
		ttl = remaining
	}
	return s.kv.SetWithTTL(ctx, key(session.ID), data, ttl)
}

// Delete removes a session record outright.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.kv.Delete(ctx, key(id))
}
