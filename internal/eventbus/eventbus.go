// Package eventbus implements the in-process publish/subscribe bus that
// backs SSE streaming for tasks, per spec.md §4.4: per-task topics, fan-out
// channels, and subscriber removal on disconnect.
package eventbus

import (
	"sync"

	"github.com/zkgate-io/zkgate/internal/coredata"
)

// EventKind names the three emitter shapes spec.md §4.4 defines.
type EventKind string

const (
	StatusUpdate   EventKind = "status_update"
	ArtifactUpdate EventKind = "artifact_update"
	TaskComplete   EventKind = "task_complete"
)

// Event is one message delivered to subscribers of a task's topic.
type Event struct {
	Kind     EventKind          `json:"kind"`
	TaskID   string             `json:"task_id"`
	Status   *coredata.TaskStatus `json:"status,omitempty"`
	Artifact *coredata.Artifact `json:"artifact,omitempty"`
	Task     *coredata.Task     `json:"task,omitempty"`
	Final    bool               `json:"final"`
}

// subscriberBuffer is large enough to absorb a burst of status/artifact
// events without blocking the publisher; a slow subscriber that still
// falls behind is dropped rather than stalling the bus.
const subscriberBuffer = 16

// Bus is a per-task-id fan-out broadcaster. Each subscriber gets its own
// buffered channel; publishing never blocks on a slow or disconnected
// subscriber.
type Bus struct {
	mu     sync.Mutex
	topics map[string][]chan Event
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{topics: make(map[string][]chan Event)}
}

// Subscribe registers a new subscriber channel for taskID. The returned
// unsubscribe function must be called when the consumer disconnects.
func (b *Bus) Subscribe(taskID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.topics[taskID] = append(b.topics[taskID], ch)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.topics[taskID]
		for i, existing := range subs {
			if existing == ch {
				b.topics[taskID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
		if len(b.topics[taskID]) == 0 {
			delete(b.topics, taskID)
		}
	}

	return ch, unsubscribe
}

// Publish delivers an event to every current subscriber of its task. A
// subscriber whose buffer is full is skipped for this event rather than
// blocking the publisher — ordering for a given task's delivered events is
// still emit order, per spec.md §4.4.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	subs := append([]chan Event(nil), b.topics[event.TaskID]...)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// PublishStatusUpdate is a convenience wrapper for the status_update
// emitter.
func (b *Bus) PublishStatusUpdate(taskID string, status coredata.TaskStatus, final bool) {
	b.Publish(Event{Kind: StatusUpdate, TaskID: taskID, Status: &status, Final: final})
}

// PublishArtifactUpdate is a convenience wrapper for the artifact_update
// emitter.
func (b *Bus) PublishArtifactUpdate(taskID string, artifact coredata.Artifact) {
	b.Publish(Event{Kind: ArtifactUpdate, TaskID: taskID, Artifact: &artifact})
}

// PublishTaskComplete is a convenience wrapper for the task_complete
// emitter; subscribers are expected to close their SSE stream on receipt.
func (b *Bus) PublishTaskComplete(task *coredata.Task) {
	b.Publish(Event{Kind: TaskComplete, TaskID: task.ID, Task: task, Final: true})
}
