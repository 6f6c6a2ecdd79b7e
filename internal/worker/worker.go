// Package worker implements the Task Worker loop described in spec.md
// §4.5: a single consumer draining queue:submitted, dispatching each task
// into Skill Core, and recording the outcome back onto the task record and
// event bus.
package worker

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zkgate-io/zkgate/internal/apperrors"
	"github.com/zkgate-io/zkgate/internal/coredata"
	"github.com/zkgate-io/zkgate/internal/eventbus"
	"github.com/zkgate-io/zkgate/internal/kv"
	"github.com/zkgate-io/zkgate/internal/logging"
	"github.com/zkgate-io/zkgate/internal/skills"
	"github.com/zkgate-io/zkgate/internal/taskstore"
)

// emptyQueueBackoff is how long the loop sleeps after finding
// queue:submitted empty, per spec.md §4.5's "with backoff on empty".
const emptyQueueBackoff = 250 * time.Millisecond

// Dispatcher is the subset of skills.Core the worker depends on, narrowed
// to a single interface so tests can substitute a fake without wiring a
// full Core.
type Dispatcher interface {
	Dispatch(ctx context.Context, skill skills.Skill, params map[string]interface{}) (interface{}, error)
}

// Worker drains queue:submitted and re-enters Skill Core for each task.
type Worker struct {
	Tasks   *taskstore.Store
	Core    Dispatcher
	Bus     *eventbus.Bus
	Logger  *logging.Logger
	Backoff time.Duration

	Now func() time.Time
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Worker) backoff() time.Duration {
	if w.Backoff > 0 {
		return w.Backoff
	}
	return emptyQueueBackoff
}

// Run drains the queue until ctx is canceled. Shutdown is cooperative: a
// task already dispatched into Skill Core runs to completion before Run
// observes cancellation again.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		id, err := w.Tasks.Dequeue(ctx)
		if err == kv.ErrNotFound {
			if !sleep(ctx, w.backoff()) {
				return nil
			}
			continue
		}
		if err != nil {
			w.logError("dequeue failed", err, nil)
			if !sleep(ctx, w.backoff()) {
				return nil
			}
			continue
		}

		w.processOne(ctx, id)
	}
}

// processOne runs a single task to completion, never returning an error:
// every failure is caught, logged, and recorded on the task itself so one
// bad task can't take down the loop.
func (w *Worker) processOne(ctx context.Context, taskID string) {
	now := w.now()

	task, err := w.Tasks.Transition(ctx, taskID, coredata.TaskRunning, "picked up by worker", now)
	if err != nil {
		w.logError("failed to mark task running", err, map[string]interface{}{"task_id": taskID})
		return
	}
	w.Bus.PublishStatusUpdate(task.ID, task.Status, false)

	result, dispatchErr := w.Core.Dispatch(ctx, skills.Skill(task.Skill), task.Params)

	now = w.now()
	if dispatchErr != nil {
		w.fail(ctx, task, dispatchErr, now)
		return
	}

	w.succeed(ctx, task, result, now)
}

func (w *Worker) succeed(ctx context.Context, task *coredata.Task, result interface{}, now time.Time) {
	updated, err := w.Tasks.AppendArtifact(ctx, task.ID, coredata.Artifact{
		Name: string(task.Skill) + "_result",
		Data: result,
	}, now)
	if err != nil {
		w.logError("failed to attach artifact", err, map[string]interface{}{"task_id": task.ID})
		return
	}
	w.Bus.PublishArtifactUpdate(updated.ID, updated.Artifacts[len(updated.Artifacts)-1])

	updated, err = w.Tasks.Transition(ctx, task.ID, coredata.TaskCompleted, "", now)
	if err != nil {
		w.logError("failed to mark task completed", err, map[string]interface{}{"task_id": task.ID})
		return
	}
	w.Bus.PublishTaskComplete(updated)
}

func (w *Worker) fail(ctx context.Context, task *coredata.Task, dispatchErr error, now time.Time) {
	message := dispatchErr.Error()
	if coded, ok := dispatchErr.(apperrors.Coded); ok {
		message = coded.Code() + ": " + message
	}

	w.logError("skill dispatch failed", dispatchErr, map[string]interface{}{
		"task_id": task.ID,
		"skill":   task.Skill,
	})

	updated, err := w.Tasks.Transition(ctx, task.ID, coredata.TaskFailed, message, now)
	if err != nil {
		w.logError("failed to mark task failed", err, map[string]interface{}{"task_id": task.ID})
		return
	}
	w.Bus.PublishTaskComplete(updated)
}

func (w *Worker) logError(msg string, err error, fields map[string]interface{}) {
	if w.Logger == nil {
		return
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["error"] = err.Error()
	w.Logger.Error(msg, fields)
}

// Supervise registers Run against an errgroup so the Task Worker stops
// cooperatively alongside every other supervised goroutine (the Settlement
// Worker, the SSE adapter's subscriptions) when the group's context is
// canceled.
func Supervise(g *errgroup.Group, w *Worker, ctx context.Context) {
	g.Go(func() error {
		return w.Run(ctx)
	})
}

// sleep waits for d or ctx cancellation, returning false if canceled first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
