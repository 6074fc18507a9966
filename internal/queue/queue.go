// Package queue implements the holding queue and admission controller: a
// priority-ordered multiset of EnqueueItems gated by global, per-host and
// per-group concurrency caps (spec.md §4.2).
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/dlforge/xfer/internal/task"
)

// Unlimited is the default cap value, effectively unlimited per spec.md
// §4.2 ("default to effectively unlimited (>= 2^20)").
const Unlimited = 1 << 20

// Caps holds the three concurrency ceilings the admission controller
// enforces.
type Caps struct {
	MaxConcurrent         int
	MaxConcurrentPerHost  int
	MaxConcurrentPerGroup int
}

// DefaultCaps returns the effectively-unlimited caps spec.md §4.2 specifies
// as the default.
func DefaultCaps() Caps {
	return Caps{MaxConcurrent: Unlimited, MaxConcurrentPerHost: Unlimited, MaxConcurrentPerGroup: Unlimited}
}

// Dispatcher receives admitted items. The queue never blocks on Dispatch;
// callers are expected to hand the item to a worker goroutine and return
// promptly.
type Dispatcher func(item *task.EnqueueItem)

// Queue is the holding queue and admission controller.
//
// Grounded on the teacher's internal/downloader/queue.go DownloadQueue:
// a mutex-guarded item map plus an active-count scan in ProcessQueue,
// generalized from a single flat "first queued item" scan into a
// priority-ordered heap scan gated by three independent counters (global,
// per-host, per-group) per spec.md §4.2, and from Surge's fixed
// maxDownloads constant into configurable Caps.
type Queue struct {
	mu sync.Mutex

	items *priorityHeap
	index map[string]*task.EnqueueItem // id -> item, for Cancel/Remove lookups

	caps Caps

	concurrent        int
	concurrentByHost  map[string]int
	concurrentByGroup map[string]int

	dispatch Dispatcher

	watchdog *time.Ticker
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Queue with the given caps, calling dispatch for every
// admitted item.
func New(caps Caps, dispatch Dispatcher) *Queue {
	q := &Queue{
		items:             &priorityHeap{},
		index:             make(map[string]*task.EnqueueItem),
		caps:              caps,
		concurrentByHost:  make(map[string]int),
		concurrentByGroup: make(map[string]int),
		dispatch:          dispatch,
		stopCh:            make(chan struct{}),
	}
	heap.Init(q.items)
	return q
}

// StartWatchdog launches the watchdog (ticking every interval, 10 seconds
// when interval <= 0) that unconditionally re-runs admission and, every
// healEvery ticks, self-heals the concurrency counters from live-worker
// ground truth (spec.md §4.2). liveWorkers returns the host and group of
// every currently running worker, used to recompute the counters from
// scratch.
func (q *Queue) StartWatchdog(interval time.Duration, healEvery int, liveWorkers func() (hosts []string, groups []string)) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	q.watchdog = time.NewTicker(interval)
	go func() {
		tick := 0
		for {
			select {
			case <-q.stopCh:
				return
			case <-q.watchdog.C:
				tick++
				if healEvery > 0 && tick%healEvery == 0 && liveWorkers != nil {
					hosts, groups := liveWorkers()
					q.selfHeal(hosts, groups)
				}
				q.admit()
			}
		}
	}()
}

// StopWatchdog stops the watchdog goroutine, if running. Safe to call more
// than once or when no watchdog was started.
func (q *Queue) StopWatchdog() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		if q.watchdog != nil {
			q.watchdog.Stop()
		}
	})
}

// Add inserts item into the queue and re-runs admission.
func (q *Queue) Add(item *task.EnqueueItem) {
	q.mu.Lock()
	heap.Push(q.items, item)
	q.index[item.Task.TaskID] = item
	q.mu.Unlock()

	q.admit()
}

// AddAll inserts every item in one locked pass, significantly cheaper than
// N calls to Add (spec.md §4.1 enqueue_all).
func (q *Queue) AddAll(items []*task.EnqueueItem) {
	q.mu.Lock()
	for _, item := range items {
		heap.Push(q.items, item)
		q.index[item.Task.TaskID] = item
	}
	q.mu.Unlock()

	q.admit()
}

// Remove removes a still-queued item by task id, e.g. for cancellation.
// Reports whether an item was found and removed.
func (q *Queue) Remove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.index[taskID]; !ok {
		return false
	}
	delete(q.index, taskID)

	for i, item := range *q.items {
		if item.Task.TaskID == taskID {
			heap.Remove(q.items, i)
			break
		}
	}
	return true
}

// Contains reports whether taskID is still sitting in the holding queue
// (not yet admitted).
func (q *Queue) Contains(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.index[taskID]
	return ok
}

// Snapshot returns every item currently in the holding queue, in no
// particular order.
func (q *Queue) Snapshot() []*task.EnqueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*task.EnqueueItem, len(*q.items))
	copy(out, *q.items)
	return out
}

// TaskFinished decrements the counters for a dispatched task's host/group
// and re-signals admission (spec.md §4.2 "on task_finished").
func (q *Queue) TaskFinished(host, group string) {
	q.mu.Lock()
	q.concurrent--
	if q.concurrent < 0 {
		q.concurrent = 0
	}
	decrementCounter(q.concurrentByHost, host)
	decrementCounter(q.concurrentByGroup, group)
	q.mu.Unlock()

	q.admit()
}

func decrementCounter(m map[string]int, key string) {
	if n, ok := m[key]; ok {
		if n <= 1 {
			delete(m, key)
		} else {
			m[key] = n - 1
		}
	}
}

// admit runs the admission algorithm from spec.md §4.2 step 1: scan the
// queue in priority order, admitting every item whose host/group counters
// have room, until the global cap is hit or the queue is exhausted.
func (q *Queue) admit() {
	for {
		q.mu.Lock()
		if q.concurrent >= q.caps.MaxConcurrent {
			q.mu.Unlock()
			return
		}

		item, idx, ok := q.items.firstAdmissible(q.caps, q.concurrentByHost, q.concurrentByGroup)
		if !ok {
			q.mu.Unlock()
			return
		}

		heap.Remove(q.items, idx)
		delete(q.index, item.Task.TaskID)

		host := item.Task.Host()
		group := item.Task.Group
		q.concurrent++
		q.concurrentByHost[host]++
		q.concurrentByGroup[group]++
		q.mu.Unlock()

		q.dispatch(item)
	}
}

// selfHeal recomputes the counters from the live-worker table, correcting
// for any lost decrement (spec.md §4.2).
func (q *Queue) selfHeal(hosts, groups []string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.concurrent = len(hosts)
	q.concurrentByHost = make(map[string]int, len(hosts))
	for _, h := range hosts {
		q.concurrentByHost[h]++
	}
	q.concurrentByGroup = make(map[string]int, len(groups))
	for _, g := range groups {
		q.concurrentByGroup[g]++
	}
}

// Counters returns the current concurrency counters, for diagnostics/tests.
func (q *Queue) Counters() (concurrent int, byHost, byGroup map[string]int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	h := make(map[string]int, len(q.concurrentByHost))
	for k, v := range q.concurrentByHost {
		h[k] = v
	}
	g := make(map[string]int, len(q.concurrentByGroup))
	for k, v := range q.concurrentByGroup {
		g[k] = v
	}
	return q.concurrent, h, g
}
