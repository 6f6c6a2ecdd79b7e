package taskstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkgate-io/zkgate/internal/coredata"
	"github.com/zkgate-io/zkgate/internal/kv"
)

func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	mem := kv.NewMemoryStore(0)
	return New(mem), mem.Close
}

func TestTaskStoreSubmitDequeue(t *testing.T) {
	ctx := context.Background()
	store, done := newTestStore(t)
	defer done()

	now := time.Now()
	task1 := coredata.NewTask("task_1", "ctx_1", "prove_age_over", nil, now)
	task2 := coredata.NewTask("task_2", "ctx_2", "prove_age_over", nil, now)

	require.NoError(t, store.Submit(ctx, task1))
	require.NoError(t, store.Submit(ctx, task2))

	n, err := store.QueueLength(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	id, err := store.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "task_1", id)

	id, err = store.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "task_2", id)

	_, err = store.Dequeue(ctx)
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestTaskStoreTransition(t *testing.T) {
	ctx := context.Background()
	store, done := newTestStore(t)
	defer done()

	now := time.Now()
	task := coredata.NewTask("task_1", "ctx_1", "prove_age_over", nil, now)
	require.NoError(t, store.Submit(ctx, task))

	t.Run("valid transition persists", func(t *testing.T) {
		got, err := store.Transition(ctx, "task_1", coredata.TaskRunning, "picked up", now)
		require.NoError(t, err)
		assert.Equal(t, coredata.TaskRunning, got.Status.State)

		reloaded, err := store.Get(ctx, "task_1")
		require.NoError(t, err)
		assert.Equal(t, coredata.TaskRunning, reloaded.Status.State)
	})

	t.Run("invalid transition is rejected", func(t *testing.T) {
		_, err := store.Transition(ctx, "task_1", coredata.TaskQueued, "nope", now)
		require.Error(t, err)
	})
}

func TestTaskStoreAppendHistoryIdempotent(t *testing.T) {
	ctx := context.Background()
	store, done := newTestStore(t)
	defer done()

	now := time.Now()
	task := coredata.NewTask("task_1", "ctx_1", "prove_age_over", nil, now)
	require.NoError(t, store.Submit(ctx, task))

	msg := coredata.Message{Role: "user", Content: "hello", Timestamp: now}
	got, err := store.AppendHistory(ctx, "task_1", msg)
	require.NoError(t, err)
	assert.Len(t, got.History, 1)

	got, err = store.AppendHistory(ctx, "task_1", msg)
	require.NoError(t, err)
	assert.Len(t, got.History, 1, "appending the same message twice should not duplicate it")
}

func TestTaskStoreAppendArtifactIdempotent(t *testing.T) {
	ctx := context.Background()
	store, done := newTestStore(t)
	defer done()

	now := time.Now()
	task := coredata.NewTask("task_1", "ctx_1", "prove_age_over", nil, now)
	require.NoError(t, store.Submit(ctx, task))

	artifact := coredata.Artifact{Name: "proof_result", Data: map[string]string{"proof_id": "p1"}}
	got, err := store.AppendArtifact(ctx, "task_1", artifact, now)
	require.NoError(t, err)
	assert.Len(t, got.Artifacts, 1)

	got, err = store.AppendArtifact(ctx, "task_1", artifact, now)
	require.NoError(t, err)
	assert.Len(t, got.Artifacts, 1, "appending the same artifact name twice should not duplicate it")
}

func TestTaskStoreContextCorrelation(t *testing.T) {
	ctx := context.Background()
	store, done := newTestStore(t)
	defer done()

	require.NoError(t, store.LinkContext(ctx, "ctx_1", "req_1"))

	reqID, err := store.ResolveContext(ctx, "ctx_1")
	require.NoError(t, err)
	assert.Equal(t, "req_1", reqID)

	_, err = store.ResolveContext(ctx, "ctx_unknown")
	assert.Error(t, err)
}
