package store

import (
	"os"

	"github.com/dlforge/xfer/internal/task"
)

// TaskRecord is the persisted view of a tracked-group task: its last-known
// task descriptor, status, progress and (if failed) exception. It survives
// past the task's removal from the tasks collection, for history/tracking
// queries (spec.md §4.5).
type TaskRecord struct {
	Task             *task.Task      `json:"task"`
	Status           task.Status     `json:"status"`
	Progress         float64         `json:"progress"`
	ExpectedFileSize *int64          `json:"expected_file_size,omitempty"`
	Exception        *task.Exception `json:"exception,omitempty"`
}

// PutTaskRecord writes or overwrites a tracked task's record, and updates
// the sqlite side index used for group queries.
func (s *Store) PutTaskRecord(r *TaskRecord) error {
	if err := writeRecord(s.recordPath(collTaskRecords, r.Task.TaskID), r); err != nil {
		return err
	}
	_, err := s.index.Exec(
		`INSERT INTO task_records (id, group_name, status, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET group_name=excluded.group_name, status=excluded.status, updated_at=excluded.updated_at`,
		r.Task.TaskID, r.Task.Group, string(r.Status), r.Task.CreationTime,
	)
	return err
}

// GetTaskRecord reads a single tracked task's record.
func (s *Store) GetTaskRecord(id string) (*TaskRecord, bool, error) {
	var r TaskRecord
	err := readRecord(s.recordPath(collTaskRecords, id), &r)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &r, true, nil
}

// DeleteTaskRecord removes a tracked task's record and its index entry.
func (s *Store) DeleteTaskRecord(id string) error {
	if err := deleteRecord(s.recordPath(collTaskRecords, id)); err != nil {
		return err
	}
	_, err := s.index.Exec(`DELETE FROM task_records WHERE id = ?`, id)
	return err
}

// TaskRecordsForGroup returns every tracked task record belonging to group,
// using the sqlite index to avoid scanning the whole collection directory.
func (s *Store) TaskRecordsForGroup(group string) ([]*TaskRecord, error) {
	rows, err := s.index.Query(`SELECT id FROM task_records WHERE group_name = ? ORDER BY updated_at ASC`, group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*TaskRecord, 0, len(ids))
	for _, id := range ids {
		r, ok, err := s.GetTaskRecord(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}
