// Package payment persists Payment Records and runs the settlement worker
// described in spec.md §4.8: periodic scan of pending payments, on-chain
// ERC-20 transfer, bounded retry, single-attempt-per-payment-id
// concurrency. Grounded on the teacher's pkg/models/payment.go for the
// record shape and on internal/facilitator/client.go's retry discipline for
// the settlement loop.
package payment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zkgate-io/zkgate/internal/apperrors"
	"github.com/zkgate-io/zkgate/internal/coredata"
	"github.com/zkgate-io/zkgate/internal/kv"
)

const (
	keyPrefix   = "payment:"
	pendingList = "payment:queue:pending"
	recordTTL   = 24 * time.Hour
)

func recordKey(id string) string { return keyPrefix + id }

// Store persists PaymentRecords and the pending-settlement queue.
type Store struct {
	kv kv.Store
}

// New constructs a Store over the shared KV store.
func New(store kv.Store) *Store {
	return &Store{kv: store}
}

// Create persists a new payment record and enqueues it for settlement.
func (s *Store) Create(ctx context.Context, record *coredata.PaymentRecord) error {
	if err := record.Validate(); err != nil {
		return apperrors.WrapInvalidParamsError(apperrors.NewInvalidParamsError("payment", err.Error()), err)
	}
	if err := s.put(ctx, record); err != nil {
		return err
	}
	if record.Status == coredata.PaymentRecordPending {
		if err := s.kv.LPush(ctx, pendingList, []byte(record.ID)); err != nil {
			return apperrors.WrapUnreachableDependencyError(
				apperrors.NewUnreachableDependencyError("kv", "failed to enqueue payment"), err)
		}
	}
	return nil
}

// Get loads a payment record by id.
func (s *Store) Get(ctx context.Context, id string) (*coredata.PaymentRecord, error) {
	data, err := s.kv.Get(ctx, recordKey(id))
	if err == kv.ErrNotFound {
		return nil, apperrors.NewNotFoundError("payment", id)
	}
	if err != nil {
		return nil, apperrors.WrapUnreachableDependencyError(
			apperrors.NewUnreachableDependencyError("kv", "payment lookup failed"), err)
	}

	var record coredata.PaymentRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, apperrors.WrapInternalError("failed to unmarshal payment record", err)
	}
	return &record, nil
}

func (s *Store) put(ctx context.Context, record *coredata.PaymentRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return apperrors.WrapInternalError("failed to marshal payment record", err)
	}
	if err := s.kv.SetWithTTL(ctx, recordKey(record.ID), data, recordTTL); err != nil {
		return apperrors.WrapUnreachableDependencyError(
			apperrors.NewUnreachableDependencyError("kv", "failed to persist payment record"), err)
	}
	return nil
}

// MarkSettled transitions a payment record to settled with the given
// transaction hash. Settlement status transitions are owned exclusively by
// the settlement worker.
func (s *Store) MarkSettled(ctx context.Context, id, txHash string, now time.Time) (*coredata.PaymentRecord, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	record.Status = coredata.PaymentRecordSettled
	record.TxHash = txHash
	record.UpdatedAt = now
	if err := s.put(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// MarkFailed transitions a payment record to failed, parking it: it is not
// re-enqueued and requires operator intervention to retry.
func (s *Store) MarkFailed(ctx context.Context, id string, now time.Time) (*coredata.PaymentRecord, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	record.Status = coredata.PaymentRecordFailed
	record.UpdatedAt = now
	if err := s.put(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// DequeuePending pops the next payment id awaiting settlement, or
// kv.ErrNotFound if the queue is empty.
func (s *Store) DequeuePending(ctx context.Context) (string, error) {
	id, err := s.kv.RPop(ctx, pendingList)
	if err != nil {
		return "", err
	}
	return string(id), nil
}

// Requeue puts a payment id back on the pending queue, for a retryable
// failure that has not yet exhausted MAX_RETRIES.
func (s *Store) Requeue(ctx context.Context, id string) error {
	return s.kv.LPush(ctx, pendingList, []byte(id))
}

// PendingCount reports how many payments are awaiting a settlement attempt.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	return s.kv.LLen(ctx, pendingList)
}
