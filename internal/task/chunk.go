package task

import "encoding/json"

// Chunk is one byte-range sub-task of a ParallelDownload. ChildTask is a
// synthesized Download task carrying a Range header and metadata encoding
// the parent/from/to triple, so the chunk coordinator can look its parent up
// without holding a back-reference (spec.md §9 on cutting cyclic references).
type Chunk struct {
	ParentTaskID string  `json:"parent_task_id"`
	Index        int     `json:"index"`
	URL          string  `json:"url"`
	Filename     string  `json:"filename"`
	FromByte     int64   `json:"from_byte"`
	ToByte       int64   `json:"to_byte"`
	ChildTask    *Task   `json:"child_task"`
	Status       Status  `json:"status"`
	Progress     float64 `json:"progress"`
}

// ChunkMetadata is the JSON payload stored in a synthesized child task's
// Metadata field so the coordinator can recover parent linkage.
type ChunkMetadata struct {
	ParentTaskID string `json:"parent_task_id"`
	From         int64  `json:"from"`
	To           int64  `json:"to"`
}

// ParseChunkMetadata decodes a task's Metadata field as ChunkMetadata,
// reporting ok=false for any task that is not a synthesized chunk child
// (empty/foreign Metadata). The engine facade uses this to route a
// finished task's bookkeeping to the chunk coordinator instead of its own
// generic persist/retry path (spec.md §9 "children identified only by
// parent_task_id stored in their metadata").
func ParseChunkMetadata(metadata string) (*ChunkMetadata, bool) {
	if metadata == "" {
		return nil, false
	}
	var m ChunkMetadata
	if err := json.Unmarshal([]byte(metadata), &m); err != nil {
		return nil, false
	}
	if m.ParentTaskID == "" {
		return nil, false
	}
	return &m, true
}

// EncodeChunkMetadata is the inverse of ParseChunkMetadata, used when
// synthesizing a chunk child task.
func EncodeChunkMetadata(m ChunkMetadata) string {
	data, _ := json.Marshal(m)
	return string(data)
}
