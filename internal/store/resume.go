package store

import (
	"os"

	"github.com/dlforge/xfer/internal/task"
)

// PutResumeData persists a paused task's resume payload.
func (s *Store) PutResumeData(rd *task.ResumeData) error {
	return writeRecord(s.recordPath(collResumeData, rd.TaskID), rd)
}

// GetResumeData reads a paused task's resume payload, if any.
func (s *Store) GetResumeData(id string) (*task.ResumeData, bool, error) {
	var rd task.ResumeData
	err := readRecord(s.recordPath(collResumeData, id), &rd)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &rd, true, nil
}

// DeleteResumeData removes a task's resume payload, e.g. once it resumes or
// is canceled.
func (s *Store) DeleteResumeData(id string) error {
	return deleteRecord(s.recordPath(collResumeData, id))
}
