package payment

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/zkgate-io/zkgate/internal/coredata"
	"github.com/zkgate-io/zkgate/internal/kv"
	"github.com/zkgate-io/zkgate/internal/logging"
)

// MaxSettlementRetries bounds consecutive settlement failures per payment
// id before the worker parks it, per spec.md §4.8.
const MaxSettlementRetries = 3

const retryKeyPrefix = "payment:retries:"

func retryKey(id string) string { return retryKeyPrefix + id }

// SettlementWorker periodically scans pending payments and executes their
// on-chain transfer, retrying bounded failures and parking payments that
// exceed MaxSettlementRetries. Only one settlement attempt per payment id
// runs at a time because a single worker instance drains the pending queue
// serially.
type SettlementWorker struct {
	store        *Store
	kv           kv.Store
	transferer   Transferer
	payee        common.Address
	pollInterval time.Duration
	log          *logging.Logger
	nowFn        func() time.Time
}

// NewSettlementWorker constructs a SettlementWorker with the given poll
// interval (spec.md default 30s).
func NewSettlementWorker(store *Store, kvStore kv.Store, transferer Transferer, payee common.Address, pollInterval time.Duration, log *logging.Logger) *SettlementWorker {
	return &SettlementWorker{
		store:        store,
		kv:           kvStore,
		transferer:   transferer,
		payee:        payee,
		pollInterval: pollInterval,
		log:          log,
		nowFn:        time.Now,
	}
}

// Run drains the pending queue once per poll interval until ctx is
// canceled, cooperating with an errgroup-supervised shutdown the same way
// the Task Worker does.
func (w *SettlementWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drainOnce(ctx); err != nil {
				w.log.Error("settlement drain failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// drainOnce processes every payment currently on the pending queue exactly
// once; payments requeued during this pass are handled on the next tick.
func (w *SettlementWorker) drainOnce(ctx context.Context) error {
	n, err := w.store.PendingCount(ctx)
	if err != nil {
		return err
	}

	for i := int64(0); i < n; i++ {
		id, err := w.store.DequeuePending(ctx)
		if err == kv.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		w.attemptSettlement(ctx, id)
	}
	return nil
}

func (w *SettlementWorker) attemptSettlement(ctx context.Context, id string) {
	now := w.nowFn()

	record, err := w.store.Get(ctx, id)
	if err != nil {
		w.log.Error("settlement lookup failed", map[string]interface{}{"payment_id": id, "error": err.Error()})
		return
	}
	if record.Status != coredata.PaymentRecordPending && record.Status != coredata.PaymentRecordAuthorized {
		return
	}

	units, err := ParseAmountUnits(record.Amount)
	if err != nil {
		w.log.Error("settlement amount parse failed", map[string]interface{}{"payment_id": id, "error": err.Error()})
		w.fail(ctx, id, now)
		return
	}

	txHash, err := w.transferer.Transfer(ctx, w.payee, units)
	if err != nil {
		w.log.Warn("settlement transfer failed, will retry", map[string]interface{}{"payment_id": id, "error": err.Error()})
		w.retryOrPark(ctx, id, now)
		return
	}

	if _, err := w.store.MarkSettled(ctx, id, txHash, now); err != nil {
		w.log.Error("settlement commit failed", map[string]interface{}{"payment_id": id, "error": err.Error()})
		return
	}
	_ = w.kv.Delete(ctx, retryKey(id))
	w.log.Info("payment settled", map[string]interface{}{"payment_id": id, "tx_hash": txHash})
}

func (w *SettlementWorker) retryOrPark(ctx context.Context, id string, now time.Time) {
	count, _ := w.incrementRetries(ctx, id)
	if count >= MaxSettlementRetries {
		w.fail(ctx, id, now)
		return
	}
	if err := w.store.Requeue(ctx, id); err != nil {
		w.log.Error("settlement requeue failed", map[string]interface{}{"payment_id": id, "error": err.Error()})
	}
}

func (w *SettlementWorker) fail(ctx context.Context, id string, now time.Time) {
	if _, err := w.store.MarkFailed(ctx, id, now); err != nil {
		w.log.Error("settlement failure commit failed", map[string]interface{}{"payment_id": id, "error": err.Error()})
	}
	w.log.Warn("payment parked after exceeding retry budget", map[string]interface{}{"payment_id": id})
}

func (w *SettlementWorker) incrementRetries(ctx context.Context, id string) (int, error) {
	key := retryKey(id)
	data, err := w.kv.Get(ctx, key)
	count := 0
	if err == nil && len(data) == 1 {
		count = int(data[0])
	}
	count++
	if count > 255 {
		count = 255
	}
	if err := w.kv.SetWithTTL(ctx, key, []byte{byte(count)}, 24*time.Hour); err != nil {
		return count, err
	}
	return count, nil
}

// Supervise registers Run against an errgroup so it stops cooperatively
// alongside the Task Worker when the group's context is canceled.
func Supervise(g *errgroup.Group, w *SettlementWorker, ctx context.Context) {
	g.Go(func() error {
		err := w.Run(ctx)
		if err == context.Canceled || err == context.DeadlineExceeded {
			return nil
		}
		return err
	})
}
