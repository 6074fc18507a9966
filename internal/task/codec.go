package task

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// wireTask is the JSON-on-the-wire shape of a Task: Kind is encoded as
// its zero-based ordinal integer and Updates as its integer value (spec.md
// §6), BaseDirectory by its string name, everything else verbatim.
type wireTask struct {
	TaskID             string            `json:"task_id"`
	CreationTime       int64             `json:"creation_time"`
	Group              string            `json:"group"`
	Metadata           string            `json:"metadata"`
	URL                string            `json:"url"`
	URLQueryParameters map[string]string `json:"url_query_parameters,omitempty"`
	HTTPMethod         string            `json:"http_method"`
	Headers            map[string]string `json:"headers,omitempty"`
	Post               *PostBody         `json:"post,omitempty"`
	BaseDirectory      string            `json:"base_directory"`
	Directory          string            `json:"directory"`
	Filename           string            `json:"filename"`
	FileField          string            `json:"file_field,omitempty"`
	MimeType           string            `json:"mime_type,omitempty"`
	FileFields         []string          `json:"file_fields,omitempty"`
	Filenames          []string          `json:"filenames,omitempty"`
	MimeTypes          []string          `json:"mime_types,omitempty"`
	Fields             map[string]string `json:"fields,omitempty"`
	Retries            int               `json:"retries"`
	RetriesRemaining   int               `json:"retries_remaining"`
	RequiresWifi       bool              `json:"requires_wifi"`
	AllowPause         bool              `json:"allow_pause"`
	Priority           int               `json:"priority"`
	Updates            int               `json:"updates"`
	Kind               int               `json:"kind"`
	URLs               []string          `json:"urls,omitempty"`
	Chunks             int               `json:"chunks,omitempty"`
}

// MarshalJSON encodes the Task wire form, converting Kind to its ordinal
// integer.
func (t Task) MarshalJSON() ([]byte, error) {
	w := wireTask{
		TaskID:             t.TaskID,
		CreationTime:       t.CreationTime,
		Group:              t.Group,
		Metadata:           t.Metadata,
		URL:                t.URL,
		URLQueryParameters: t.URLQueryParameters,
		HTTPMethod:         t.HTTPMethod,
		Headers:            t.Headers,
		Post:               t.Post,
		BaseDirectory:      string(t.BaseDirectory),
		Directory:          t.Directory,
		Filename:           t.Filename,
		FileField:          t.FileField,
		MimeType:           t.MimeType,
		FileFields:         t.FileFields,
		Filenames:          t.Filenames,
		MimeTypes:          t.MimeTypes,
		Fields:             t.Fields,
		Retries:            t.Retries,
		RetriesRemaining:   t.RetriesRemaining,
		RequiresWifi:       t.RequiresWifi,
		AllowPause:         t.AllowPause,
		Priority:           t.Priority,
		Updates:            int(t.Updates),
		Kind:               kindOrdinal[t.Kind],
		URLs:               t.URLs,
		Chunks:             t.Chunks,
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the Task wire form.
func (t *Task) UnmarshalJSON(data []byte) error {
	var w wireTask
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind, ok := ordinalKind[w.Kind]
	if !ok {
		return fmt.Errorf("task: unknown kind ordinal %d", w.Kind)
	}
	*t = Task{
		TaskID:             w.TaskID,
		CreationTime:       w.CreationTime,
		Group:              w.Group,
		Metadata:           w.Metadata,
		URL:                w.URL,
		URLQueryParameters: w.URLQueryParameters,
		HTTPMethod:         w.HTTPMethod,
		Headers:            w.Headers,
		Post:               w.Post,
		BaseDirectory:      BaseDirectory(w.BaseDirectory),
		Directory:          w.Directory,
		Filename:           w.Filename,
		FileField:          w.FileField,
		MimeType:           w.MimeType,
		FileFields:         w.FileFields,
		Filenames:          w.Filenames,
		MimeTypes:          w.MimeTypes,
		Fields:             w.Fields,
		Retries:            w.Retries,
		RetriesRemaining:   w.RetriesRemaining,
		RequiresWifi:       w.RequiresWifi,
		AllowPause:         w.AllowPause,
		Priority:           w.Priority,
		Updates:            Updates(w.Updates),
		Kind:               kind,
		URLs:               w.URLs,
		Chunks:             w.Chunks,
	}
	return nil
}

// ResumeDataWire is the list wire form from spec.md §6:
// [task_json, resume_data_string, required_start_byte, etag?]
type ResumeDataWire struct {
	Task              *Task
	Data              string
	RequiredStartByte int64
	ETag              string
}

func (r *ResumeData) ToWireList(t *Task) []any {
	list := []any{t, r.Data, r.RequiredStartByte}
	if r.ETag != "" {
		list = append(list, r.ETag)
	}
	return list
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
