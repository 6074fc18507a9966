// Package task defines the Task descriptor and the other small value types
// that flow through the transfer engine: status, resume data, exceptions,
// chunks and the queue's enqueue item.
package task

import "fmt"

// Kind discriminates what a task actually does. Workers dispatch on this tag
// instead of relying on type assertions.
type Kind string

const (
	KindDownload         Kind = "download"
	KindUpload           Kind = "upload"
	KindMultiUpload      Kind = "multi_upload"
	KindData             Kind = "data"
	KindParallelDownload Kind = "parallel_download"
)

// kindOrdinal gives each Kind a stable zero-based ordinal for wire encoding.
var kindOrdinal = map[Kind]int{
	KindDownload:         0,
	KindUpload:           1,
	KindMultiUpload:      2,
	KindData:             3,
	KindParallelDownload: 4,
}

var ordinalKind = func() map[int]Kind {
	m := make(map[int]Kind, len(kindOrdinal))
	for k, v := range kindOrdinal {
		m[v] = k
	}
	return m
}()

// Updates controls which events a task's listener wants to receive.
type Updates int

const (
	UpdatesNone Updates = iota
	UpdatesStatusOnly
	UpdatesProgressOnly
	UpdatesStatusAndProgress
)

func (u Updates) WantsStatus() bool {
	return u == UpdatesStatusOnly || u == UpdatesStatusAndProgress
}

func (u Updates) WantsProgress() bool {
	return u == UpdatesProgressOnly || u == UpdatesStatusAndProgress
}

// BaseDirectory is the symbolic root a Task's Directory/Filename is resolved
// against. AppDocuments/Temporary/AppSupport/AppLibrary mirror the mobile
// sandbox directories the original client API exposes; Absolute means
// Directory is itself a fully qualified path.
type BaseDirectory string

const (
	BaseDirectoryAppDocuments BaseDirectory = "app_documents"
	BaseDirectoryTemporary    BaseDirectory = "temporary"
	BaseDirectoryAppSupport   BaseDirectory = "app_support"
	BaseDirectoryAppLibrary   BaseDirectory = "app_library"
	BaseDirectoryAbsolute     BaseDirectory = "absolute"
)

// SuggestedFilename is the sentinel value requesting the worker derive a
// filename from the server response instead of the caller.
const SuggestedFilename = "?"

// DefaultPriority is used when a Task omits Priority.
const DefaultPriority = 5

// Task is the immutable transfer descriptor a client submits to the engine.
// Once enqueued a Task is never mutated in place; state transitions happen
// by re-persisting a copy (see the store package).
type Task struct {
	TaskID       string `json:"task_id"`
	CreationTime int64  `json:"creation_time"` // epoch ms
	Group        string `json:"group"`
	Metadata     string `json:"metadata"`

	URL                string            `json:"url"`
	URLQueryParameters map[string]string `json:"url_query_parameters,omitempty"`
	HTTPMethod         string            `json:"http_method"`
	Headers            map[string]string `json:"headers,omitempty"`
	Post               *PostBody         `json:"post,omitempty"`

	BaseDirectory BaseDirectory `json:"base_directory"`
	Directory     string        `json:"directory"`
	Filename      string        `json:"filename"`

	FileField   string            `json:"file_field,omitempty"`
	MimeType    string            `json:"mime_type,omitempty"`
	FileFields  []string          `json:"file_fields,omitempty"`
	Filenames   []string          `json:"filenames,omitempty"`
	MimeTypes   []string          `json:"mime_types,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"` // multipart scalar form fields (§4.3.2)

	Retries          int     `json:"retries"`
	RetriesRemaining int     `json:"retries_remaining"`
	RequiresWifi     bool    `json:"requires_wifi"`
	AllowPause       bool    `json:"allow_pause"`
	Priority         int     `json:"priority"`
	Updates          Updates `json:"updates"`

	Kind   Kind     `json:"kind"`
	URLs   []string `json:"urls,omitempty"`
	Chunks int      `json:"chunks,omitempty"`
}

// PostBody is the request body for POST/PUT-bearing tasks. Exactly one of
// the fields is populated; Raw is used for the "raw bytes" marker form.
type PostBody struct {
	Text string `json:"text,omitempty"`
	JSON string `json:"json,omitempty"`
	Raw  []byte `json:"raw,omitempty"`
}

// Validate checks the invariants spec.md places directly on a Task. It does
// not check task_id uniqueness; store.PutTask overwrites any existing
// record with the same id.
func (t *Task) Validate() error {
	if t.TaskID == "" {
		return fmt.Errorf("task: task_id must not be empty")
	}
	if t.Priority < 0 || t.Priority > 9 {
		return fmt.Errorf("task %s: priority %d out of range [0,9]", t.TaskID, t.Priority)
	}
	if t.RetriesRemaining > t.Retries {
		return fmt.Errorf("task %s: retries_remaining %d exceeds retries %d", t.TaskID, t.RetriesRemaining, t.Retries)
	}
	if t.Kind == KindParallelDownload && t.Chunks < 1 {
		return fmt.Errorf("task %s: parallel download requires chunks >= 1", t.TaskID)
	}
	return nil
}

// NeedsFilenameResolution reports whether the destination filename must
// still be derived from the server response before the file is created.
func (t *Task) NeedsFilenameResolution() bool {
	return t.Filename == SuggestedFilename
}

// Host returns the task's URL host, or "" if the URL cannot be parsed -
// the admission controller treats a parse failure as the empty host.
func (t *Task) Host() string {
	return hostOf(t.URL)
}
