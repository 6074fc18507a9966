package store

import (
	"os"

	"github.com/dlforge/xfer/internal/task"
)

// PutTask writes t to the tasks collection. The tasks collection holds only
// live/in-flight tasks; it is removed from once a task reaches a final
// status (spec.md §4.5).
func (s *Store) PutTask(t *task.Task) error {
	return writeRecord(s.recordPath(collTasks, t.TaskID), t)
}

// GetTask reads a task by id. The second return value is false if no such
// task is currently tracked.
func (s *Store) GetTask(id string) (*task.Task, bool, error) {
	var t task.Task
	err := readRecord(s.recordPath(collTasks, id), &t)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &t, true, nil
}

// DeleteTask removes a task from the tasks collection, e.g. once it reaches
// a final status.
func (s *Store) DeleteTask(id string) error {
	return deleteRecord(s.recordPath(collTasks, id))
}

// AllTasks returns every task currently in the tasks collection, in no
// particular order.
func (s *Store) AllTasks() ([]*task.Task, error) {
	ids, err := listIDs(s.collectionDir(collTasks))
	if err != nil {
		return nil, err
	}
	out := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		var t task.Task
		if err := readRecord(s.recordPath(collTasks, id), &t); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		out = append(out, &t)
	}
	return out, nil
}
