package engine

import (
	"os"

	"github.com/dlforge/xfer/internal/task"
	"github.com/dlforge/xfer/internal/worker"
)

// AllTasks returns every task currently known to the engine (running,
// queued, waiting-to-retry, or paused), optionally filtered to group, with
// waiting-to-retry tasks optionally excluded (spec.md §4.1 all_tasks).
func (e *Engine) AllTasks(group string, includeWaitingToRetry bool) []*task.Task {
	seen := make(map[string]bool)
	var out []*task.Task

	add := func(t *task.Task) {
		if group != "" && t.Group != group {
			return
		}
		if seen[t.TaskID] {
			return
		}
		seen[t.TaskID] = true
		out = append(out, t)
	}

	e.mu.Lock()
	for _, entry := range e.running {
		add(entry.item.Task)
	}
	for _, t := range e.paused {
		add(t)
	}
	e.mu.Unlock()

	for _, item := range e.queue.Snapshot() {
		add(item.Task)
	}

	if includeWaitingToRetry {
		for _, t := range e.retry.PendingTasks() {
			add(t)
		}
	}

	return out
}

// TaskForID looks up a single task across the engine's live state (spec.md
// §4.1 task_for_id).
func (e *Engine) TaskForID(id string) (*task.Task, bool) {
	e.mu.Lock()
	if entry, ok := e.running[id]; ok {
		e.mu.Unlock()
		return entry.item.Task, true
	}
	if t, ok := e.paused[id]; ok {
		e.mu.Unlock()
		return t, true
	}
	e.mu.Unlock()

	for _, item := range e.queue.Snapshot() {
		if item.Task.TaskID == id {
			return item.Task, true
		}
	}

	if t := e.retry.TaskForID(id); t != nil {
		return t, true
	}

	if t, found, err := e.store.GetTask(id); err == nil && found {
		return t, true
	}

	if rec, found, err := e.store.GetTaskRecord(id); err == nil && found {
		return rec.Task, true
	}

	return nil, false
}

// TrackTasks marks group as tracked so its TaskRecords survive past task
// completion (spec.md §4.1 track_tasks, §4.5). When markDownloadedComplete
// is set, every currently-recorded download task in group whose destination
// file already exists on disk is retroactively marked complete - recovering
// from a prior process exit between the file finishing and the record being
// updated.
func (e *Engine) TrackTasks(group string, markDownloadedComplete bool) {
	e.bus.TrackGroup(group)

	if !markDownloadedComplete {
		return
	}

	records, err := e.store.TaskRecordsForGroup(group)
	if err != nil {
		return
	}
	for _, rec := range records {
		if rec.Status.IsFinal() || rec.Task.Kind != task.KindDownload {
			continue
		}
		if rec.Task.NeedsFilenameResolution() {
			continue
		}
		path, err := worker.DestinationPath(rec.Task, rec.Task.Filename)
		if err != nil {
			continue
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			rec.Status = task.StatusComplete
			rec.Progress = 1.0
			rec.Exception = nil
			_ = e.store.PutTaskRecord(rec)
		}
	}
}
