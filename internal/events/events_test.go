package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlforge/xfer/internal/task"
)

func TestTaskStatusUpdateWireRoundTrip(t *testing.T) {
	httpCode := 404
	original := &TaskStatusUpdate{
		Task:               &task.Task{TaskID: "t1", Group: "g1", URL: "https://example.com"},
		Status:             task.StatusFailed,
		Exception:          &task.Exception{Kind: task.ExceptionHTTPResponse, Description: "not found", HTTPResponseCode: httpCode},
		ResponseStatusCode: httpCode,
		MimeType:           "text/plain",
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list, 10)

	var statusOrd int
	require.NoError(t, json.Unmarshal(list[1], &statusOrd))
	assert.Equal(t, task.StatusFailed.Ordinal(), statusOrd)

	var decoded TaskStatusUpdate
	require.NoError(t, decoded.UnmarshalJSON(data))
	assert.Equal(t, original.Task.TaskID, decoded.Task.TaskID)
	assert.Equal(t, original.Status, decoded.Status)
	require.NotNil(t, decoded.Exception)
	assert.Equal(t, original.Exception.Description, decoded.Exception.Description)
	assert.Equal(t, original.Exception.HTTPResponseCode, decoded.Exception.HTTPResponseCode)
	assert.Equal(t, original.MimeType, decoded.MimeType)
}

func TestTaskProgressUpdateWireRoundTrip(t *testing.T) {
	size := int64(2048)
	speed := 512.0
	remaining := int64(4000)
	original := &TaskProgressUpdate{
		Task:             &task.Task{TaskID: "t1", Group: "g1"},
		Progress:         0.25,
		ExpectedFileSize: &size,
		NetworkSpeed:     &speed,
		TimeRemainingMS:  &remaining,
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded TaskProgressUpdate
	require.NoError(t, decoded.UnmarshalJSON(data))
	assert.Equal(t, original.Progress, decoded.Progress)
	require.NotNil(t, decoded.ExpectedFileSize)
	assert.Equal(t, size, *decoded.ExpectedFileSize)
	require.NotNil(t, decoded.NetworkSpeed)
	assert.Equal(t, speed, *decoded.NetworkSpeed)
	require.NotNil(t, decoded.TimeRemainingMS)
	assert.Equal(t, remaining, *decoded.TimeRemainingMS)
}

func TestBusGroupCallbackTakesPrecedence(t *testing.T) {
	b := NewBus(nil, 4)

	var received []TaskUpdate
	b.OnGroup("g1", func(u TaskUpdate) { received = append(received, u) })

	upd := &TaskStatusUpdate{Task: &task.Task{TaskID: "t1", Group: "g1"}, Status: task.StatusComplete}
	b.PublishStatus(upd)

	require.Len(t, received, 1)
	assert.Equal(t, "t1", received[0].TaskID())

	select {
	case <-b.Broadcast():
		t.Fatal("expected no broadcast delivery when a group callback is registered")
	default:
	}
}

func TestBusBroadcastWhenNoCallback(t *testing.T) {
	b := NewBus(nil, 4)

	upd := &TaskStatusUpdate{Task: &task.Task{TaskID: "t1", Group: "unwatched"}, Status: task.StatusRunning}
	b.PublishStatus(upd)

	select {
	case got := <-b.Broadcast():
		assert.Equal(t, "t1", got.TaskID())
	default:
		t.Fatal("expected broadcast delivery")
	}
}
