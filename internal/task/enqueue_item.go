package task

// NotificationConfig is opaque to the engine: it is handed back verbatim to
// the external notification collaborator (out of scope, spec.md §1) when a
// task reaches a status that collaborator cares about.
type NotificationConfig map[string]any

// EnqueueItem is a Task awaiting admission into a Transfer worker, plus
// whatever resume payload it should be started with. The holding queue
// orders items by (Priority ASC, CreatedAt ASC).
type EnqueueItem struct {
	ID                 string
	Task               *Task
	NotificationConfig NotificationConfig
	ResumeData         *ResumeData
	CreatedAt          int64 // epoch ms, used only for tie-break ordering
}

// Less implements the admission ordering: priority ascending (0 highest)
// then creation time ascending.
func (a *EnqueueItem) Less(b *EnqueueItem) bool {
	if a.Task.Priority != b.Task.Priority {
		return a.Task.Priority < b.Task.Priority
	}
	return a.CreatedAt < b.CreatedAt
}
