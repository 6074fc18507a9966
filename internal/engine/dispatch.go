package engine

import (
	"context"
	"time"

	"github.com/dlforge/xfer/internal/chunk"
	"github.com/dlforge/xfer/internal/elog"
	"github.com/dlforge/xfer/internal/events"
	"github.com/dlforge/xfer/internal/store"
	"github.com/dlforge/xfer/internal/task"
	"github.com/dlforge/xfer/internal/worker"
)

var _ chunk.Dispatcher = (*Engine)(nil)

// dispatch is the queue.Dispatcher the holding queue calls once an
// EnqueueItem is admitted: it records the item as running and starts its
// worker goroutine (spec.md §4.2 step 1 handoff to the dispatcher).
func (e *Engine) dispatch(item *task.EnqueueItem) {
	ctrl := worker.NewControl()
	entry := &runningEntry{item: item, ctrl: ctrl, host: item.Task.Host(), group: item.Task.Group}

	e.mu.Lock()
	e.running[item.Task.TaskID] = entry
	e.mu.Unlock()

	go e.runWorker(item, ctrl)
}

// workerDeps builds a fresh worker.Deps bound to the engine's current
// options, so every dispatch picks up the latest configuration.
func (e *Engine) workerDeps() *worker.Deps {
	return &worker.Deps{
		Store:           e.store,
		Bus:             e.bus,
		TempDir:         e.tempDir,
		ClientFor:       e.clientFor,
		SpaceGuard:      e.spaceGuard,
		UniqueNames:     e.uniqueNames,
		ResourceTimeout: e.resourceTimeout(),
		RemainingBytes:  e.remainingBytes,
	}
}

// runWorker runs one task's worker to completion and hands the result to
// finishTask. It dispatches on Kind exactly as spec.md §9 describes
// ("worker dispatch is a match on the tag").
func (e *Engine) runWorker(item *task.EnqueueItem, ctrl *worker.Control) {
	t := item.Task
	deps := e.workerDeps()

	var result worker.Result
	switch t.Kind {
	case task.KindDownload:
		result = (&worker.DownloadTaskWorker{Deps: deps}).Run(e.rootCtx, t, item.ResumeData, ctrl)
	case task.KindUpload, task.KindMultiUpload:
		result = (&worker.UploadTaskWorker{Deps: deps}).Run(e.rootCtx, t, ctrl)
	case task.KindData:
		result = (&worker.DataTaskWorker{Deps: deps}).Run(e.rootCtx, t, ctrl)
	case task.KindParallelDownload:
		result = e.chunkExec.Run(e.rootCtx, t, item.ResumeData, ctrl)
	default:
		result = worker.Result{Status: task.StatusFailed, Exception: task.NewException(task.ExceptionGeneral, "unknown task kind %q", t.Kind)}
	}

	e.finishTask(item, ctrl, result)
}

// finishTask releases a finished task's holding-queue accounting and
// routes its result to the persistent store, the retry scheduler, or the
// paused set, per spec.md §4.1/§4.7/§4.5.
func (e *Engine) finishTask(item *task.EnqueueItem, ctrl *worker.Control, result worker.Result) {
	t := item.Task

	e.mu.Lock()
	entry, ok := e.running[t.TaskID]
	delete(e.running, t.TaskID)
	e.mu.Unlock()

	host, group := t.Host(), t.Group
	if ok {
		host, group = entry.host, entry.group
	}
	e.queue.TaskFinished(host, group)

	switch result.Status {
	case task.StatusPaused:
		e.handlePaused(t, ctrl, result)
		return

	case task.StatusFailed:
		if e.shouldAutoRetry(t, result.Exception) {
			e.scheduleRetry(t)
			return
		}
		e.finalize(t, result)

	default: // complete, not_found, canceled
		e.finalize(t, result)
	}
}

// handlePaused distinguishes an explicit user Pause() (worker.Control's
// PauseRequested flag was set, leave it parked until Resume) from the
// resource-timeout-triggered self-pause of spec.md §4.3 step 8, which the
// engine immediately re-enqueues with the resume data to make allow_pause
// tasks run indefinitely.
func (e *Engine) handlePaused(t *task.Task, ctrl *worker.Control, result worker.Result) {
	if result.ResumeData != nil {
		if err := e.store.PutResumeData(result.ResumeData); err != nil {
			elog.With("engine").Error().Err(err).Str("task_id", t.TaskID).Msg("persist resume data")
		}
	}

	if ctrl.PauseRequested() {
		e.mu.Lock()
		e.paused[t.TaskID] = t
		e.mu.Unlock()
		e.updateTrackedRecord(t, task.StatusPaused, 0, nil)
		return
	}

	// Resource-timeout self-pause: re-enqueue immediately, same priority
	// and group, carrying the resume data forward.
	item := &task.EnqueueItem{ID: newTaskID(), Task: t, ResumeData: result.ResumeData, CreatedAt: time.Now().UnixMilli()}
	e.queue.Add(item)
}

// shouldAutoRetry reports whether a failed task should transition to
// waiting-to-retry rather than finalizing, per spec.md §4.7/§7: retries
// remain, and the failure kind is one of connection, or http-response with
// a retryable status code.
func (e *Engine) shouldAutoRetry(t *task.Task, exc *task.Exception) bool {
	if t.Kind == task.KindParallelDownload {
		// Children retry individually inside the chunk coordinator;
		// a parent-level failure means the children already exhausted
		// their own retries and every sibling was canceled (spec.md §4.4).
		return false
	}
	if t.RetriesRemaining <= 0 || exc == nil {
		return false
	}
	switch exc.Kind {
	case task.ExceptionConnection:
		return true
	case task.ExceptionHTTPResponse:
		return task.IsRetryableHTTPStatus(exc.HTTPResponseCode)
	default:
		return false
	}
}

// scheduleRetry decrements RetriesRemaining, persists the task, emits
// waiting_to_retry, and arms the retry scheduler's backoff timer (spec.md
// §4.7). Progress is not carried across a retry (spec.md §9's resolved
// Open Question): the task restarts from byte 0 unless it independently
// carries ResumeData, which a plain retry never does.
func (e *Engine) scheduleRetry(t *task.Task) {
	t.RetriesRemaining--
	if err := e.store.PutTask(t); err != nil {
		elog.With("engine").Error().Err(err).Str("task_id", t.TaskID).Msg("persist retrying task")
	}
	if t.Updates.WantsStatus() {
		e.bus.PublishStatus(&events.TaskStatusUpdate{Task: t, Status: task.StatusWaitingToRetry})
	}
	if t.Updates.WantsProgress() {
		if sentinel, ok := task.StatusWaitingToRetry.ProgressSentinel(); ok {
			e.bus.PublishProgress(&events.TaskProgressUpdate{Task: t, Progress: sentinel})
		}
	}
	e.updateTrackedRecord(t, task.StatusWaitingToRetry, 0, nil)
	e.retry.Schedule(t, nil)
}

// reenqueueAfterRetry is the retry.Scheduler's ReenqueueFunc: once a
// backoff elapses the task is handed back to the holding queue exactly as
// a fresh enqueue (spec.md §4.7: "not considered resumes; they restart
// from byte 0 unless the task has independent ResumeData").
func (e *Engine) reenqueueAfterRetry(t *task.Task, resumeData *task.ResumeData) {
	item := &task.EnqueueItem{ID: newTaskID(), Task: t, ResumeData: resumeData, CreatedAt: time.Now().UnixMilli()}
	e.queue.Add(item)
}

// finalize handles a task reaching a final state (complete, not_found,
// canceled, or a non-retryable failed): purge it from the store, clear any
// stale resume data, and update the tracked-group record if applicable
// (spec.md §3 "Lifecycle", §8 invariant 1).
func (e *Engine) finalize(t *task.Task, result worker.Result) {
	if err := e.store.DeleteTask(t.TaskID); err != nil {
		elog.With("engine").Warn().Err(err).Str("task_id", t.TaskID).Msg("delete finalized task")
	}
	_ = e.store.DeleteResumeData(t.TaskID)

	var progress float64
	if sentinel, ok := result.Status.ProgressSentinel(); ok {
		progress = sentinel
	}
	e.updateTrackedRecord(t, result.Status, progress, result.Exception)
}

// updateTrackedRecord writes or refreshes t's TaskRecord when its group is
// tracked (spec.md §4.1 track_tasks, §4.5 task_records collection). A
// no-op for untracked groups.
func (e *Engine) updateTrackedRecord(t *task.Task, status task.Status, progress float64, exc *task.Exception) {
	if !e.bus.IsTracked(t.Group) {
		return
	}
	_ = e.store.PutTaskRecord(&store.TaskRecord{Task: t, Status: status, Progress: progress, Exception: exc})
}

// liveWorkers reports the host/group of every currently dispatched task,
// used by the holding queue's watchdog to self-heal its counters from
// ground truth (spec.md §4.2).
func (e *Engine) liveWorkers() (hosts []string, groups []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	hosts = make([]string, 0, len(e.running))
	groups = make([]string, 0, len(e.running))
	for _, entry := range e.running {
		hosts = append(hosts, entry.host)
		groups = append(groups, entry.group)
	}
	return hosts, groups
}

// EnqueueChild implements chunk.Dispatcher: a synthesized chunk child is
// submitted through the engine's ordinary store/queue/worker pipeline,
// exactly like any other Download task (spec.md §4.4).
func (e *Engine) EnqueueChild(ctx context.Context, t *task.Task) error {
	return e.enqueueTask(t, nil, nil)
}

// CancelChild implements chunk.Dispatcher: cancels a previously enqueued
// chunk child the same way an external CancelTasksWithIDs call would.
func (e *Engine) CancelChild(taskID string) {
	e.cancelOne(taskID)
}
