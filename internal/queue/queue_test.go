package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlforge/xfer/internal/task"
)

func itemFor(id string, priority int, createdAt int64, url, group string) *task.EnqueueItem {
	return &task.EnqueueItem{
		ID:        id,
		Task:      &task.Task{TaskID: id, Priority: priority, URL: url, Group: group},
		CreatedAt: createdAt,
	}
}

func TestAdmissionRespectsGlobalCap(t *testing.T) {
	var mu sync.Mutex
	var dispatched []string

	q := New(Caps{MaxConcurrent: 1, MaxConcurrentPerHost: Unlimited, MaxConcurrentPerGroup: Unlimited}, func(item *task.EnqueueItem) {
		mu.Lock()
		dispatched = append(dispatched, item.Task.TaskID)
		mu.Unlock()
	})

	q.Add(itemFor("t1", 5, 1, "https://a.example/x", "g"))
	q.Add(itemFor("t2", 5, 2, "https://a.example/y", "g"))

	mu.Lock()
	assert.Equal(t, []string{"t1"}, dispatched)
	mu.Unlock()
	assert.True(t, q.Contains("t2"))

	q.TaskFinished("a.example", "g")
	mu.Lock()
	assert.Equal(t, []string{"t1", "t2"}, dispatched)
	mu.Unlock()
}

func TestAdmissionPriorityOrdering(t *testing.T) {
	var mu sync.Mutex
	var dispatched []string

	q := New(Caps{MaxConcurrent: 1, MaxConcurrentPerHost: Unlimited, MaxConcurrentPerGroup: Unlimited}, func(item *task.EnqueueItem) {
		mu.Lock()
		dispatched = append(dispatched, item.Task.TaskID)
		mu.Unlock()
	})

	// Fill the single slot first so the rest queue up.
	q.Add(itemFor("blocker", 5, 0, "https://a.example/z", "g"))

	low := itemFor("low-priority", 9, 1, "https://a.example/a", "g")
	high := itemFor("high-priority", 0, 2, "https://a.example/b", "g")
	q.AddAll([]*task.EnqueueItem{low, high})

	q.TaskFinished("a.example", "g")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, dispatched, 2)
	assert.Equal(t, "high-priority", dispatched[1])
}

func TestAdmissionPerHostCap(t *testing.T) {
	var mu sync.Mutex
	var dispatched []string

	q := New(Caps{MaxConcurrent: Unlimited, MaxConcurrentPerHost: 1, MaxConcurrentPerGroup: Unlimited}, func(item *task.EnqueueItem) {
		mu.Lock()
		dispatched = append(dispatched, item.Task.TaskID)
		mu.Unlock()
	})

	q.Add(itemFor("t1", 5, 1, "https://busy.example/a", "g1"))
	q.Add(itemFor("t2", 5, 2, "https://busy.example/b", "g2"))
	q.Add(itemFor("t3", 5, 3, "https://other.example/c", "g3"))

	mu.Lock()
	assert.ElementsMatch(t, []string{"t1", "t3"}, dispatched)
	mu.Unlock()
	assert.True(t, q.Contains("t2"))

	q.TaskFinished("busy.example", "g1")
	mu.Lock()
	assert.ElementsMatch(t, []string{"t1", "t3", "t2"}, dispatched)
	mu.Unlock()
}

func TestRemoveFromQueue(t *testing.T) {
	q := New(Caps{MaxConcurrent: 0, MaxConcurrentPerHost: Unlimited, MaxConcurrentPerGroup: Unlimited}, func(*task.EnqueueItem) {
		t.Fatal("should never dispatch with a zero global cap")
	})

	q.Add(itemFor("t1", 5, 1, "https://a.example", "g"))
	assert.True(t, q.Contains("t1"))
	assert.True(t, q.Remove("t1"))
	assert.False(t, q.Contains("t1"))
	assert.False(t, q.Remove("t1"))
}

func TestWatchdogReapsMissedSignal(t *testing.T) {
	var mu sync.Mutex
	dispatched := 0

	q := New(Caps{MaxConcurrent: 5, MaxConcurrentPerHost: Unlimited, MaxConcurrentPerGroup: Unlimited}, func(*task.EnqueueItem) {
		mu.Lock()
		dispatched++
		mu.Unlock()
	})
	q.StartWatchdog(50*time.Millisecond, 0, nil)
	defer q.StopWatchdog()

	// Bypass Add's own admit() call to simulate a missed signal, then let
	// the watchdog pick it up.
	q.mu.Lock()
	q.items.Push(itemFor("t1", 5, 1, "https://a.example", "g"))
	q.index["t1"] = (*q.items)[0]
	q.mu.Unlock()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dispatched == 1
	}, time.Second, 10*time.Millisecond)
}
