// Package chatsessionstore implements CRUD for Chat Session records, per
// spec.md's chat-completions design note, on the shared KV store at key
// chat:{id}, with the TTL reset to the configured window on every write.
package chatsessionstore

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/zkgate-io/zkgate/internal/apperrors"
	"github.com/zkgate-io/zkgate/internal/coredata"
	"github.com/zkgate-io/zkgate/internal/kv"
)

const keyPrefix = "chat:"

// Store persists Chat Session records in the shared KV store.
type Store struct {
	kv  kv.Store
	ttl time.Duration
}

// New constructs a Store with the given session TTL.
func New(store kv.Store, ttl time.Duration) *Store {
	return &Store{kv: store, ttl: ttl}
}

func key(id string) string {
	return keyPrefix + id
}

// HashSecret renders a caller-supplied session secret into the value a
// Chat Session persists, so the raw secret is never written to the KV
// store.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// SecretMatches reports whether secret hashes to the session's recorded
// SecretHash, using a constant-time comparison so response timing can't be
// used to probe the stored hash.
func SecretMatches(session *coredata.ChatSession, secret string) bool {
	given := HashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(given), []byte(session.SecretHash)) == 1
}

// Create persists a brand-new chat session.
func (s *Store) Create(ctx context.Context, session *coredata.ChatSession) error {
	if err := session.Validate(); err != nil {
		return apperrors.WrapInvalidParamsError(apperrors.NewInvalidParamsError("chat_session", err.Error()), err)
	}

	data, err := json.Marshal(session)
	if err != nil {
		return apperrors.WrapInternalError("failed to marshal chat session", err)
	}

	return s.kv.SetWithTTL(ctx, key(session.ID), data, s.ttl)
}

// Get retrieves a chat session by id, returning NotFoundError if absent or
// expired.
func (s *Store) Get(ctx context.Context, id string) (*coredata.ChatSession, error) {
	data, err := s.kv.Get(ctx, key(id))
	if err == kv.ErrNotFound {
		return nil, apperrors.NewNotFoundError("chat_session", id)
	}
	if err != nil {
		return nil, apperrors.WrapUnreachableDependencyError(
			apperrors.NewUnreachableDependencyError("kv", "chat session lookup failed"), err)
	}

	var session coredata.ChatSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, apperrors.WrapInternalError("failed to unmarshal chat session", err)
	}
	return &session, nil
}

// Update persists a mutated chat session, resetting its TTL to the full
// configured window.
func (s *Store) Update(ctx context.Context, session *coredata.ChatSession) error {
	if err := session.Validate(); err != nil {
		return apperrors.WrapInvalidParamsError(apperrors.NewInvalidParamsError("chat_session", err.Error()), err)
	}

	data, err := json.Marshal(session)
	if err != nil {
		return apperrors.WrapInternalError("failed to marshal chat session", err)
	}

	return s.kv.SetWithTTL(ctx, key(session.ID), data, s.ttl)
}
