package task

// Status is the lifecycle state of a Task. Final states remove the task from
// persistent storage (see store.Store).
type Status string

const (
	StatusEnqueued       Status = "enqueued"
	StatusRunning        Status = "running"
	StatusComplete       Status = "complete"
	StatusNotFound       Status = "not_found"
	StatusFailed         Status = "failed"
	StatusCanceled       Status = "canceled"
	StatusWaitingToRetry Status = "waiting_to_retry"
	StatusPaused         Status = "paused"
)

var statusOrdinal = map[Status]int{
	StatusEnqueued:       0,
	StatusRunning:        1,
	StatusComplete:       2,
	StatusNotFound:       3,
	StatusFailed:         4,
	StatusCanceled:       5,
	StatusWaitingToRetry: 6,
	StatusPaused:         7,
}

var ordinalStatus = func() map[int]Status {
	m := make(map[int]Status, len(statusOrdinal))
	for k, v := range statusOrdinal {
		m[v] = k
	}
	return m
}()

// Ordinal returns the zero-based wire ordinal for s (spec.md §6).
func (s Status) Ordinal() int { return statusOrdinal[s] }

// OrdinalToStatus is the inverse of Ordinal, used when decoding the
// status-update wire list form. An unrecognized ordinal decodes to the zero
// value Status("").
func OrdinalToStatus(ordinal int) Status {
	return ordinalStatus[ordinal]
}

// IsFinal reports whether s is one of the terminal states that cause the
// task to be purged from the persistent store.
func (s Status) IsFinal() bool {
	switch s {
	case StatusComplete, StatusNotFound, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// ProgressSentinel is the fixed progress value reported alongside (or
// instead of) a progress update when status is non-running and final, or
// waiting/paused. Running tasks report 0 <= p < 1.
func (s Status) ProgressSentinel() (float64, bool) {
	switch s {
	case StatusComplete:
		return 1.0, true
	case StatusFailed:
		return -1.0, true
	case StatusCanceled:
		return -2.0, true
	case StatusNotFound:
		return -3.0, true
	case StatusWaitingToRetry:
		return -4.0, true
	case StatusPaused:
		return -5.0, true
	default:
		return 0, false
	}
}
