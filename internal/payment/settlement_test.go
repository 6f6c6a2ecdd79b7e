package payment

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkgate-io/zkgate/internal/coredata"
	"github.com/zkgate-io/zkgate/internal/kv"
	"github.com/zkgate-io/zkgate/internal/logging"
)

type fakeTransferer struct {
	failTimes int32
	calls     int32
	txHash    string
}

func (f *fakeTransferer) Transfer(ctx context.Context, to common.Address, units *big.Int) (string, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failTimes {
		return "", errors.New("rpc unavailable")
	}
	if f.txHash == "" {
		return "0xTXHASH", nil
	}
	return f.txHash, nil
}

func newTestWorker(t *testing.T, transferer Transferer) (*SettlementWorker, *Store, func()) {
	t.Helper()
	mem := kv.NewMemoryStore(0)
	store := New(mem)
	log := logging.New(logging.ERROR, nil)
	worker := NewSettlementWorker(store, mem, transferer, common.HexToAddress("0x3333333333333333333333333333333333333333"), time.Hour, log)
	return worker, store, mem.Close
}

func TestSettlementWorkerSettlesOnSuccess(t *testing.T) {
	ctx := context.Background()
	worker, store, done := newTestWorker(t, &fakeTransferer{})
	defer done()

	require.NoError(t, store.Create(ctx, testRecord("pay_1")))
	require.NoError(t, worker.drainOnce(ctx))

	got, err := store.Get(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, coredata.PaymentRecordSettled, got.Status)
	assert.Equal(t, "0xTXHASH", got.TxHash)
}

func TestSettlementWorkerRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	worker, store, done := newTestWorker(t, &fakeTransferer{failTimes: 1})
	defer done()

	require.NoError(t, store.Create(ctx, testRecord("pay_1")))

	require.NoError(t, worker.drainOnce(ctx))
	got, err := store.Get(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, coredata.PaymentRecordPending, got.Status, "first failure should requeue, not park")

	require.NoError(t, worker.drainOnce(ctx))
	got, err = store.Get(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, coredata.PaymentRecordSettled, got.Status)
}

func TestSettlementWorkerParksAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	worker, store, done := newTestWorker(t, &fakeTransferer{failTimes: 999})
	defer done()

	require.NoError(t, store.Create(ctx, testRecord("pay_1")))

	for i := 0; i < MaxSettlementRetries; i++ {
		require.NoError(t, worker.drainOnce(ctx))
	}

	got, err := store.Get(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, coredata.PaymentRecordFailed, got.Status)

	n, err := store.PendingCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n, "parked payment must not be requeued")
}

func TestSettlementWorkerSkipsAlreadySettled(t *testing.T) {
	ctx := context.Background()
	transferer := &fakeTransferer{}
	worker, store, done := newTestWorker(t, transferer)
	defer done()

	record := testRecord("pay_1")
	require.NoError(t, store.Create(ctx, record))
	_, err := store.MarkSettled(ctx, "pay_1", "0xALREADY", time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Requeue(ctx, "pay_1"))

	require.NoError(t, worker.drainOnce(ctx))
	assert.EqualValues(t, 0, transferer.calls, "an already-settled payment must not be re-transferred")
}
