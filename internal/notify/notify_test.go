package notify

import (
	"context"
	"encoding/json"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func TestNewDispatchTaskPayload(t *testing.T) {
	n := Notification{
		EventType:     "PR_SUBMITTED",
		Title:         "PR2608-0001 submitted",
		Message:       "Purchase request awaits approval",
		URL:           "/procurement/pr/1",
		TargetUserIDs: []int64{4, 9},
	}
	task, err := NewDispatchTask(n)
	require.NoError(t, err)
	require.Equal(t, TaskTypeDispatch, task.Type())

	var decoded Notification
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	require.Equal(t, n, decoded)
}

func TestNewDispatchTaskRequiresEvent(t *testing.T) {
	_, err := NewDispatchTask(Notification{Title: "x"})
	require.Error(t, err)
}

func TestPublishEnqueues(t *testing.T) {
	mr := miniredis.RunT(t)
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer client.Close()

	pub := NewAsynqPublisher(client, nil)
	err := pub.Publish(context.Background(), Notification{
		EventType:     "PO_APPROVED",
		Title:         "PO approved",
		TargetUserIDs: []int64{3},
	})
	require.NoError(t, err)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer inspector.Close()
	info, err := inspector.GetQueueInfo(QueueDefault)
	require.NoError(t, err)
	require.Equal(t, 1, info.Pending)
}

func TestPublishSkipsWithoutTargets(t *testing.T) {
	mr := miniredis.RunT(t)
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer client.Close()

	pub := NewAsynqPublisher(client, nil)
	require.NoError(t, pub.Publish(context.Background(), Notification{EventType: "GRN_POSTED"}))

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer inspector.Close()
	queues, err := inspector.Queues()
	require.NoError(t, err)
	require.Empty(t, queues)
}
