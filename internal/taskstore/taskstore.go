// Package taskstore persists asynchronous Task records and the submission
// queue, per spec.md §4.3: key task:{id}, FIFO list queue:submitted, and an
// optional context correlation map ctx:{context_id} -> request_id.
package taskstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zkgate-io/zkgate/internal/apperrors"
	"github.com/zkgate-io/zkgate/internal/coredata"
	"github.com/zkgate-io/zkgate/internal/kv"
)

const (
	taskKeyPrefix = "task:"
	ctxKeyPrefix  = "ctx:"
	queueKey      = "queue:submitted"

	defaultTaskTTL = 24 * time.Hour
	ctxTTL         = 24 * time.Hour
)

func taskKey(id string) string { return taskKeyPrefix + id }
func ctxKey(id string) string  { return ctxKeyPrefix + id }

// Store persists Task records, the FIFO submission queue, and the optional
// context-id correlation map.
type Store struct {
	kv kv.Store
}

// New constructs a Store over the shared KV store.
func New(store kv.Store) *Store {
	return &Store{kv: store}
}

// Submit persists a newly queued task and appends it to queue:submitted.
func (s *Store) Submit(ctx context.Context, task *coredata.Task) error {
	if err := task.Validate(); err != nil {
		return apperrors.WrapInvalidParamsError(apperrors.NewInvalidParamsError("task", err.Error()), err)
	}

	if err := s.put(ctx, task); err != nil {
		return err
	}
	return s.kv.LPush(ctx, queueKey, []byte(task.ID))
}

// Dequeue pops the next task id off the FIFO queue, or kv.ErrNotFound if
// the queue is empty.
func (s *Store) Dequeue(ctx context.Context) (string, error) {
	id, err := s.kv.RPop(ctx, queueKey)
	if err != nil {
		return "", err
	}
	return string(id), nil
}

// Get loads a task by id.
func (s *Store) Get(ctx context.Context, id string) (*coredata.Task, error) {
	data, err := s.kv.Get(ctx, taskKey(id))
	if err == kv.ErrNotFound {
		return nil, apperrors.NewNotFoundError("task", id)
	}
	if err != nil {
		return nil, apperrors.WrapUnreachableDependencyError(
			apperrors.NewUnreachableDependencyError("kv", "task lookup failed"), err)
	}

	var task coredata.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, apperrors.WrapInternalError("failed to unmarshal task", err)
	}
	return &task, nil
}

func (s *Store) put(ctx context.Context, task *coredata.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return apperrors.WrapInternalError("failed to marshal task", err)
	}
	return s.kv.SetWithTTL(ctx, taskKey(task.ID), data, defaultTaskTTL)
}

// Transition validates and applies a state transition, persisting the
// updated task and bumping its TTL back to the default window.
func (s *Store) Transition(ctx context.Context, id string, to coredata.TaskState, message string, now time.Time) (*coredata.Task, error) {
	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := task.Transition(to, message, now); err != nil {
		return nil, apperrors.NewInvalidStateTransitionError(string(task.Status.State), string(to))
	}

	if err := s.put(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// AppendHistory appends a message to the task's history, idempotent on
// message identity (same role+content+timestamp is not duplicated).
func (s *Store) AppendHistory(ctx context.Context, id string, msg coredata.Message) (*coredata.Task, error) {
	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	for _, existing := range task.History {
		if existing == msg {
			return task, nil
		}
	}

	task.History = append(task.History, msg)
	task.UpdatedAt = msg.Timestamp
	if err := s.put(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// AppendArtifact appends an artifact to the task, idempotent on artifact
// name.
func (s *Store) AppendArtifact(ctx context.Context, id string, artifact coredata.Artifact, now time.Time) (*coredata.Task, error) {
	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	for _, existing := range task.Artifacts {
		if existing.Name == artifact.Name {
			return task, nil
		}
	}

	task.Artifacts = append(task.Artifacts, artifact)
	task.UpdatedAt = now
	if err := s.put(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// LinkContext records the optional context_id -> request_id correlation.
func (s *Store) LinkContext(ctx context.Context, contextID, requestID string) error {
	return s.kv.SetWithTTL(ctx, ctxKey(contextID), []byte(requestID), ctxTTL)
}

// ResolveContext looks up the request_id correlated with a context_id, if
// any was recorded.
func (s *Store) ResolveContext(ctx context.Context, contextID string) (string, error) {
	data, err := s.kv.Get(ctx, ctxKey(contextID))
	if err == kv.ErrNotFound {
		return "", apperrors.NewNotFoundError("context", contextID)
	}
	if err != nil {
		return "", apperrors.WrapUnreachableDependencyError(
			apperrors.NewUnreachableDependencyError("kv", "context lookup failed"), err)
	}
	return string(data), nil
}

// QueueLength reports how many tasks are waiting in queue:submitted.
func (s *Store) QueueLength(ctx context.Context) (int64, error) {
	return s.kv.LLen(ctx, queueKey)
}
