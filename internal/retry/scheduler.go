// Package retry implements the waiting-to-retry scheduler: a failed task
// with retries remaining is held off-queue for an exponential backoff delay
// before being handed back for re-enqueue (spec.md §4.7).
package retry

import (
	"sync"
	"time"

	"github.com/dlforge/xfer/internal/task"
)

// DefaultCeiling is the backoff ceiling used when a Scheduler is built with
// a non-positive ceiling: spec.md leaves the exact cap open ("clamped to a
// reasonable ceiling"), resolved here to 5 minutes so a task with many
// retries configured does not end up waiting for hours between attempts.
const DefaultCeiling = 5 * time.Minute

// ReenqueueFunc is called once a waiting-to-retry task's backoff elapses.
// It restarts the task from byte 0 unless it carries independent
// ResumeData (spec.md §4.7: "retry attempts are not considered resumes").
type ReenqueueFunc func(t *task.Task, resumeData *task.ResumeData)

type pending struct {
	timer *time.Timer
	task  *task.Task
}

// Scheduler tracks tasks currently in the waiting-to-retry state.
//
// Grounded on the teacher's per-attempt backoff in
// internal/downloader/concurrent.go's worker loop
// (`time.Sleep(time.Duration(1<<attempt) * retryBaseDelay)`), generalized
// from a blocking sleep inside one worker goroutine into a non-blocking
// timer-based scheduler so other tasks are never held up by one task's
// backoff wait.
type Scheduler struct {
	mu        sync.Mutex
	pending   map[string]*pending
	ceiling   time.Duration
	reenqueue ReenqueueFunc
}

// NewScheduler creates a Scheduler that calls reenqueue once a task's
// backoff elapses. ceiling <= 0 uses DefaultCeiling.
func NewScheduler(reenqueue ReenqueueFunc, ceiling time.Duration) *Scheduler {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Scheduler{
		pending:   make(map[string]*pending),
		ceiling:   ceiling,
		reenqueue: reenqueue,
	}
}

// Delay computes the backoff for a task with the given total retries and
// retries remaining, per spec.md §4.7: 2^(retries - retries_remaining)
// seconds, capped at the scheduler's ceiling.
func (s *Scheduler) Delay(retries, retriesRemaining int) time.Duration {
	exp := retries - retriesRemaining
	if exp < 0 {
		exp = 0
	}
	if exp > 30 {
		exp = 30 // avoid overflowing the shift long before the ceiling would apply
	}
	d := time.Duration(1<<uint(exp)) * time.Second
	if d > s.ceiling {
		d = s.ceiling
	}
	return d
}

// Schedule arms the backoff timer for t, which the caller has already
// transitioned to waiting-to-retry with RetriesRemaining decremented and
// persisted. When the timer fires, reenqueue is called with t and
// resumeData.
func (s *Scheduler) Schedule(t *task.Task, resumeData *task.ResumeData) {
	d := s.Delay(t.Retries, t.RetriesRemaining)

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.pending[t.TaskID]; ok {
		old.timer.Stop()
	}

	p := &pending{task: t}
	p.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.pending, t.TaskID)
		s.mu.Unlock()
		s.reenqueue(t, resumeData)
	})
	s.pending[t.TaskID] = p
}

// Cancel removes a pending retry for taskID, stopping its timer before it
// fires. Reports whether a pending retry was found (callers emit the
// canceled status themselves on true).
func (s *Scheduler) Cancel(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[taskID]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(s.pending, taskID)
	return true
}

// IsPending reports whether taskID is currently waiting to retry.
func (s *Scheduler) IsPending(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[taskID]
	return ok
}

// PendingCount returns the number of tasks currently waiting to retry.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// PendingTasks returns a snapshot of every task currently waiting to retry.
func (s *Scheduler) PendingTasks() []*task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*task.Task, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p.task)
	}
	return out
}

// TaskForID returns the pending waiting-to-retry task for taskID, or nil if
// none is pending.
func (s *Scheduler) TaskForID(taskID string) *task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pending[taskID]; ok {
		return p.task
	}
	return nil
}
