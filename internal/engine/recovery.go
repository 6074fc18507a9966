package engine

import (
	"time"

	"github.com/dlforge/xfer/internal/elog"
	"github.com/dlforge/xfer/internal/task"
)

// recover re-admits every task the store still holds from a prior process
// (spec.md §1 "surviving process restarts"). The tasks collection purges a
// task on reaching a final state (spec.md §8 invariant 1), so anything
// still present was either running, waiting-to-retry, or paused when the
// process ended - and the store cannot distinguish those three after the
// fact. Open Question resolved here: a task with ResumeData on file is
// handed back to the queue carrying that data, so it resumes from where it
// left off instead of the caller having to notice and call Resume itself;
// a task with none restarts from byte 0, same as an ordinary retry.
func (e *Engine) recover() error {
	tasks, err := e.store.AllTasks()
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	for _, t := range tasks {
		rd, found, err := e.store.GetResumeData(t.TaskID)
		if err != nil {
			elog.With("engine").Warn().Err(err).Str("task_id", t.TaskID).Msg("read resume data during recovery")
		}
		var resumeData *task.ResumeData
		if found {
			resumeData = rd
		}

		item := &task.EnqueueItem{ID: newTaskID(), Task: t, ResumeData: resumeData, CreatedAt: now}
		e.queue.Add(item)
		elog.With("engine").Info().Str("task_id", t.TaskID).Bool("resumed", found).Msg("recovered persisted task")
	}
	return nil
}
