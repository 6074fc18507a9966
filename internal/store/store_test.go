package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlforge/xfer/internal/task"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTaskRoundTrip(t *testing.T) {
	s := newTestStore(t)
	tk := &task.Task{TaskID: "a/b:c", URL: "https://example.com/x", Kind: task.KindDownload}

	require.NoError(t, s.PutTask(tk))

	got, ok, err := s.GetTask("a/b:c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tk.URL, got.URL)

	all, err := s.AllTasks()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteTask("a/b:c"))
	_, ok, err = s.GetTask("a/b:c")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTaskRecordsForGroup(t *testing.T) {
	s := newTestStore(t)

	r1 := &TaskRecord{Task: &task.Task{TaskID: "t1", Group: "g1"}, Status: task.StatusRunning, Progress: 0.5}
	r2 := &TaskRecord{Task: &task.Task{TaskID: "t2", Group: "g1"}, Status: task.StatusComplete, Progress: 1.0}
	r3 := &TaskRecord{Task: &task.Task{TaskID: "t3", Group: "g2"}, Status: task.StatusRunning, Progress: 0.1}

	require.NoError(t, s.PutTaskRecord(r1))
	require.NoError(t, s.PutTaskRecord(r2))
	require.NoError(t, s.PutTaskRecord(r3))

	g1, err := s.TaskRecordsForGroup("g1")
	require.NoError(t, err)
	assert.Len(t, g1, 2)

	g2, err := s.TaskRecordsForGroup("g2")
	require.NoError(t, err)
	assert.Len(t, g2, 1)

	require.NoError(t, s.DeleteTaskRecord("t1"))
	g1, err = s.TaskRecordsForGroup("g1")
	require.NoError(t, err)
	assert.Len(t, g1, 1)
}

func TestResumeDataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	rd := &task.ResumeData{TaskID: "t1", Data: "/tmp/t1.part", RequiredStartByte: 1024}

	require.NoError(t, s.PutResumeData(rd))

	got, ok, err := s.GetResumeData("t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rd.RequiredStartByte, got.RequiredStartByte)

	require.NoError(t, s.DeleteResumeData("t1"))
	_, ok, err = s.GetResumeData("t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUndeliveredEventBuffering(t *testing.T) {
	s := newTestStore(t)

	type statusPayload struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}

	require.NoError(t, s.BufferStatusUpdate(statusPayload{TaskID: "t1", Status: "complete"}))
	require.NoError(t, s.BufferStatusUpdate(statusPayload{TaskID: "t2", Status: "failed"}))

	var drained []statusPayload
	err := s.DrainStatusUpdates(func(data []byte) error {
		var p statusPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		drained = append(drained, p)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, drained, 2)

	// A second drain finds nothing left to deliver.
	drained = nil
	require.NoError(t, s.DrainStatusUpdates(func(data []byte) error {
		drained = append(drained, statusPayload{})
		return nil
	}))
	assert.Empty(t, drained)
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "a_b_c", sanitizeID("a/b:c"))
	assert.Equal(t, "plain", sanitizeID("plain"))
}
