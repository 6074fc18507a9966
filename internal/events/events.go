// Package events implements the engine's event bus: a single broadcast
// channel of task status/progress updates, with per-group callback
// precedence and an undelivered-event buffer for groups with no listener
// (spec.md §4.6).
package events

import (
	"encoding/json"

	"github.com/dlforge/xfer/internal/task"
)

// TaskUpdate is implemented by TaskStatusUpdate and TaskProgressUpdate, the
// two event shapes that flow through the bus.
type TaskUpdate interface {
	// TaskID returns the id of the task this event describes.
	TaskID() string
	isTaskUpdate()
}

// TaskStatusUpdate is emitted whenever a task changes status.
type TaskStatusUpdate struct {
	Task               *task.Task
	Status             task.Status
	Exception          *task.Exception
	ResponseBody       string
	ResponseHeaders    map[string][]string
	ResponseStatusCode int
	MimeType           string
	CharSet            string
}

func (u *TaskStatusUpdate) TaskID() string { return u.Task.TaskID }
func (u *TaskStatusUpdate) isTaskUpdate()   {}

// TaskProgressUpdate is emitted as a task makes forward progress, or carries
// a progress sentinel alongside a non-running status.
type TaskProgressUpdate struct {
	Task             *task.Task
	Progress         float64
	ExpectedFileSize *int64
	NetworkSpeed     *float64
	TimeRemainingMS  *int64
}

func (u *TaskProgressUpdate) TaskID() string { return u.Task.TaskID }
func (u *TaskProgressUpdate) isTaskUpdate()   {}

// MarshalJSON encodes the status update as the list wire form from spec.md §6:
// [task_json, status_ordinal, exception_type_string?, exception_description?,
//  http_response_code?, response_body?, response_headers_json?,
//  response_status_code?, mime_type?, char_set?]
func (u *TaskStatusUpdate) MarshalJSON() ([]byte, error) {
	list := []any{u.Task, u.Status.Ordinal()}

	var excKind, excDesc string
	var httpCode int
	if u.Exception != nil {
		excKind = string(u.Exception.Kind)
		excDesc = u.Exception.Description
		httpCode = u.Exception.HTTPResponseCode
	}
	list = append(list, excKind, excDesc, httpCode, u.ResponseBody, u.ResponseHeaders, u.ResponseStatusCode, u.MimeType, u.CharSet)

	return json.Marshal(list)
}

// UnmarshalJSON decodes the status-update wire list form back into a
// TaskStatusUpdate.
func (u *TaskStatusUpdate) UnmarshalJSON(data []byte) error {
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}

	var t task.Task
	var statusOrd int
	if len(list) > 0 {
		if err := json.Unmarshal(list[0], &t); err != nil {
			return err
		}
	}
	if len(list) > 1 {
		if err := json.Unmarshal(list[1], &statusOrd); err != nil {
			return err
		}
	}

	u.Task = &t
	u.Status = task.OrdinalToStatus(statusOrd)

	var excKind, excDesc string
	var httpCode int
	if len(list) > 2 {
		_ = json.Unmarshal(list[2], &excKind)
	}
	if len(list) > 3 {
		_ = json.Unmarshal(list[3], &excDesc)
	}
	if len(list) > 4 {
		_ = json.Unmarshal(list[4], &httpCode)
	}
	if excKind != "" {
		u.Exception = &task.Exception{Kind: task.ExceptionKind(excKind), Description: excDesc, HTTPResponseCode: httpCode}
	}
	if len(list) > 5 {
		_ = json.Unmarshal(list[5], &u.ResponseBody)
	}
	if len(list) > 6 {
		_ = json.Unmarshal(list[6], &u.ResponseHeaders)
	}
	if len(list) > 7 {
		_ = json.Unmarshal(list[7], &u.ResponseStatusCode)
	}
	if len(list) > 8 {
		_ = json.Unmarshal(list[8], &u.MimeType)
	}
	if len(list) > 9 {
		_ = json.Unmarshal(list[9], &u.CharSet)
	}
	return nil
}

// MarshalJSON encodes the progress update as the list wire form from spec.md §6:
// [task_json, progress_double, expected_file_size?, network_speed?, time_remaining_ms?]
func (u *TaskProgressUpdate) MarshalJSON() ([]byte, error) {
	list := []any{u.Task, u.Progress, u.ExpectedFileSize, u.NetworkSpeed, u.TimeRemainingMS}
	return json.Marshal(list)
}

// UnmarshalJSON decodes the progress-update wire list form back into a
// TaskProgressUpdate.
func (u *TaskProgressUpdate) UnmarshalJSON(data []byte) error {
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}

	var t task.Task
	if len(list) > 0 {
		if err := json.Unmarshal(list[0], &t); err != nil {
			return err
		}
	}
	u.Task = &t
	if len(list) > 1 {
		if err := json.Unmarshal(list[1], &u.Progress); err != nil {
			return err
		}
	}
	if len(list) > 2 && string(list[2]) != "null" {
		var v int64
		if err := json.Unmarshal(list[2], &v); err == nil {
			u.ExpectedFileSize = &v
		}
	}
	if len(list) > 3 && string(list[3]) != "null" {
		var v float64
		if err := json.Unmarshal(list[3], &v); err == nil {
			u.NetworkSpeed = &v
		}
	}
	if len(list) > 4 && string(list[4]) != "null" {
		var v int64
		if err := json.Unmarshal(list[4], &v); err == nil {
			u.TimeRemainingMS = &v
		}
	}
	return nil
}
