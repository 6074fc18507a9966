package retry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlforge/xfer/internal/task"
)

func TestDelayExponential(t *testing.T) {
	s := NewScheduler(func(*task.Task, *task.ResumeData) {}, 30*time.Second)

	assert.Equal(t, 1*time.Second, s.Delay(5, 5))
	assert.Equal(t, 2*time.Second, s.Delay(5, 4))
	assert.Equal(t, 4*time.Second, s.Delay(5, 3))
	assert.Equal(t, 8*time.Second, s.Delay(5, 2))
}

func TestDelayCeiling(t *testing.T) {
	s := NewScheduler(func(*task.Task, *task.ResumeData) {}, 5*time.Second)
	assert.Equal(t, 5*time.Second, s.Delay(10, 0))
}

func TestDefaultCeilingApplied(t *testing.T) {
	s := NewScheduler(func(*task.Task, *task.ResumeData) {}, 0)
	assert.Equal(t, DefaultCeiling, s.Delay(30, 0))
}

func TestScheduleFiresReenqueue(t *testing.T) {
	var mu sync.Mutex
	var got *task.Task

	done := make(chan struct{})
	s := NewScheduler(func(t *task.Task, rd *task.ResumeData) {
		mu.Lock()
		got = t
		mu.Unlock()
		close(done)
	}, 0)

	tk := &task.Task{TaskID: "t1", Retries: 3, RetriesRemaining: 3}
	s.Schedule(tk, nil)
	assert.True(t, s.IsPending("t1"))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("retry did not fire")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, "t1", got.TaskID)
	assert.False(t, s.IsPending("t1"))
}

func TestCancelPreventsReenqueue(t *testing.T) {
	fired := false
	s := NewScheduler(func(*task.Task, *task.ResumeData) { fired = true }, 0)

	tk := &task.Task{TaskID: "t1", Retries: 10, RetriesRemaining: 10}
	s.Schedule(tk, nil)
	require.True(t, s.Cancel("t1"))
	assert.False(t, s.IsPending("t1"))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired)

	assert.False(t, s.Cancel("t1"))
}
