package engine

import (
	"fmt"
	"net/url"
	"time"

	"github.com/dlforge/xfer/internal/elog"
	"github.com/dlforge/xfer/internal/events"
	"github.com/dlforge/xfer/internal/task"
)

// Enqueue validates t's URL, persists it to the store, and hands it to the
// holding queue (spec.md §4.1). Returns false - with no task or status
// emitted - if the URL is malformed or undecodable.
func (e *Engine) Enqueue(t *task.Task, notif task.NotificationConfig) bool {
	if err := e.enqueueTask(t, notif, nil); err != nil {
		elog.With("engine").Debug().Err(err).Str("task_id", t.TaskID).Msg("enqueue rejected")
		return false
	}
	return true
}

// EnqueueAll is the batch variant of Enqueue: every valid task goes into
// the holding queue with a single insert, cheaper than N Enqueue calls
// (spec.md §4.1). Each task is still persisted with its own store write;
// a task whose write fails is reported false and is not queued.
func (e *Engine) EnqueueAll(tasks []*task.Task, notif task.NotificationConfig) []bool {
	results := make([]bool, len(tasks))
	valid := make([]*task.Task, 0, len(tasks))
	validIdx := make([]int, 0, len(tasks))

	for i, t := range tasks {
		if err := validateTask(t); err != nil {
			results[i] = false
			continue
		}
		valid = append(valid, t)
		validIdx = append(validIdx, i)
	}

	if len(valid) == 0 {
		return results
	}

	items := make([]*task.EnqueueItem, 0, len(valid))
	now := time.Now().UnixMilli()
	for j, t := range valid {
		if err := e.store.PutTask(t); err != nil {
			elog.With("engine").Error().Err(err).Str("task_id", t.TaskID).Msg("persist task")
			continue
		}
		items = append(items, &task.EnqueueItem{ID: newTaskID(), Task: t, NotificationConfig: notif, CreatedAt: now})
		results[validIdx[j]] = true
	}

	e.queue.AddAll(items)

	for _, item := range items {
		e.emitEnqueued(item.Task)
	}
	return results
}

// enqueueTask is the shared validate/persist/queue path Enqueue, Resume and
// chunk.Dispatcher.EnqueueChild all funnel through.
func (e *Engine) enqueueTask(t *task.Task, notif task.NotificationConfig, resumeData *task.ResumeData) error {
	if err := validateTask(t); err != nil {
		return err
	}
	if err := e.store.PutTask(t); err != nil {
		return fmt.Errorf("engine: persist task %s: %w", t.TaskID, err)
	}

	item := &task.EnqueueItem{ID: newTaskID(), Task: t, NotificationConfig: notif, ResumeData: resumeData, CreatedAt: time.Now().UnixMilli()}
	e.queue.Add(item)
	e.emitEnqueued(t)
	return nil
}

func (e *Engine) emitEnqueued(t *task.Task) {
	if t.Updates.WantsStatus() {
		e.bus.PublishStatus(&events.TaskStatusUpdate{Task: t, Status: task.StatusEnqueued})
	}
}

// validateTask checks the URL is well-formed and decodable and that the
// Task's own invariants hold (spec.md §3, §4.1 "validates the URL").
func validateTask(t *task.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	u, err := url.Parse(t.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("engine: invalid url %q", t.URL)
	}
	if _, err := url.QueryUnescape(u.RawQuery); err != nil {
		return fmt.Errorf("engine: undecodable url %q: %w", t.URL, err)
	}
	return nil
}

// CancelTasksWithIDs cancels every task in ids: a waiting-to-retry or
// still-queued task is removed and canceled synchronously; a running
// task's worker is signalled and cancels itself on its next poll (spec.md
// §4.1, §5 "cancel is idempotent"). Reports true if every id was found in
// some cancelable state.
func (e *Engine) CancelTasksWithIDs(ids []string) bool {
	ok := true
	for _, id := range ids {
		if !e.cancelOne(id) {
			ok = false
		}
	}
	return ok
}

func (e *Engine) cancelOne(id string) bool {
	if e.retry.Cancel(id) {
		if t, found, _ := e.store.GetTask(id); found {
			e.finalizeCanceled(t)
		}
		return true
	}

	e.mu.Lock()
	if t, found := e.paused[id]; found {
		delete(e.paused, id)
		e.mu.Unlock()
		_ = e.store.DeleteResumeData(id)
		e.finalizeCanceled(t)
		return true
	}
	e.mu.Unlock()

	if item, found := e.popQueued(id); found {
		e.finalizeCanceled(item.Task)
		return true
	}

	e.mu.Lock()
	entry, running := e.running[id]
	e.mu.Unlock()
	if running {
		entry.ctrl.Cancel()
		return true
	}

	// Already final, or never existed: idempotent no-op per spec.md §5.
	return false
}

func (e *Engine) popQueued(id string) (*task.EnqueueItem, bool) {
	for _, item := range e.queue.Snapshot() {
		if item.Task.TaskID == id && e.queue.Remove(id) {
			return item, true
		}
	}
	return nil, false
}

func (e *Engine) finalizeCanceled(t *task.Task) {
	if t.Updates.WantsStatus() {
		e.bus.PublishStatus(&events.TaskStatusUpdate{Task: t, Status: task.StatusCanceled})
	}
	if sentinel, ok := task.StatusCanceled.ProgressSentinel(); ok && t.Updates.WantsProgress() {
		e.bus.PublishProgress(&events.TaskProgressUpdate{Task: t, Progress: sentinel})
	}
	_ = e.store.DeleteTask(t.TaskID)
	_ = e.store.DeleteResumeData(t.TaskID)
	e.updateTrackedRecord(t, task.StatusCanceled, sentinelOrZero(task.StatusCanceled), nil)
}

func sentinelOrZero(s task.Status) float64 {
	if v, ok := s.ProgressSentinel(); ok {
		return v
	}
	return 0
}

// Pause requests that a running, pauseable task snapshot its state and
// stop. Returns false unless the task is currently running and
// t.AllowPause is true (spec.md §4.1): the actual pause - and whether the
// transfer can honor Range/ETag well enough to resume - is decided inside
// the worker.
func (e *Engine) Pause(id string) bool {
	e.mu.Lock()
	entry, ok := e.running[id]
	e.mu.Unlock()
	if !ok || !entry.item.Task.AllowPause {
		return false
	}
	entry.ctrl.RequestPause()
	return true
}

// PauseAll atomically requests pause for every currently running,
// pauseable task, returning the ids actually requested (spec.md §4.1).
func (e *Engine) PauseAll() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ids []string
	for id, entry := range e.running {
		if entry.item.Task.AllowPause {
			entry.ctrl.RequestPause()
			ids = append(ids, id)
		}
	}
	return ids
}

// Resume re-enqueues a previously paused task with its stored ResumeData.
// Returns false if no ResumeData is on file for id (spec.md §4.1).
func (e *Engine) Resume(id string, notif task.NotificationConfig) bool {
	rd, found, err := e.store.GetResumeData(id)
	if err != nil || !found {
		return false
	}

	e.mu.Lock()
	t, found := e.paused[id]
	if found {
		delete(e.paused, id)
	}
	e.mu.Unlock()
	if !found {
		if stored, ok, _ := e.store.GetTask(id); ok {
			t = stored
		} else {
			return false
		}
	}

	if err := e.enqueueTask(t, notif, rd); err != nil {
		elog.With("engine").Warn().Err(err).Str("task_id", id).Msg("resume failed")
		return false
	}
	return true
}

// Reset cancels every non-final task in group and returns how many were
// canceled (spec.md §4.1).
func (e *Engine) Reset(group string) int {
	ids := make([]string, 0)
	for _, t := range e.AllTasks(group, true) {
		ids = append(ids, t.TaskID)
	}
	n := 0
	for _, id := range ids {
		if e.cancelOne(id) {
			n++
		}
	}
	return n
}
