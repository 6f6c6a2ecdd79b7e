package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkgate-io/zkgate/internal/coredata"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := New()

	t.Run("subscriber receives events for its task", func(t *testing.T) {
		ch, unsubscribe := bus.Subscribe("task_1")
		defer unsubscribe()

		bus.PublishStatusUpdate("task_1", coredata.TaskStatus{State: coredata.TaskRunning}, false)

		select {
		case evt := <-ch:
			assert.Equal(t, StatusUpdate, evt.Kind)
			assert.Equal(t, "task_1", evt.TaskID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	})

	t.Run("subscriber does not receive events for other tasks", func(t *testing.T) {
		ch, unsubscribe := bus.Subscribe("task_a")
		defer unsubscribe()

		bus.PublishStatusUpdate("task_b", coredata.TaskStatus{State: coredata.TaskRunning}, false)

		select {
		case evt := <-ch:
			t.Fatalf("unexpected event delivered: %+v", evt)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("multiple subscribers all receive the event", func(t *testing.T) {
		ch1, unsub1 := bus.Subscribe("task_fanout")
		ch2, unsub2 := bus.Subscribe("task_fanout")
		defer unsub1()
		defer unsub2()

		bus.PublishArtifactUpdate("task_fanout", coredata.Artifact{Name: "proof_result"})

		for _, ch := range []<-chan Event{ch1, ch2} {
			select {
			case evt := <-ch:
				assert.Equal(t, ArtifactUpdate, evt.Kind)
			case <-time.After(time.Second):
				t.Fatal("timed out waiting for fan-out event")
			}
		}
	})

	t.Run("unsubscribe stops delivery and closes the channel", func(t *testing.T) {
		ch, unsubscribe := bus.Subscribe("task_unsub")
		unsubscribe()

		_, open := <-ch
		assert.False(t, open)
	})

	t.Run("task_complete is marked final", func(t *testing.T) {
		ch, unsubscribe := bus.Subscribe("task_done")
		defer unsubscribe()

		task := &coredata.Task{ID: "task_done", Status: coredata.TaskStatus{State: coredata.TaskCompleted}}
		bus.PublishTaskComplete(task)

		select {
		case evt := <-ch:
			require.True(t, evt.Final)
			assert.Equal(t, TaskComplete, evt.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for task_complete")
		}
	})
}
