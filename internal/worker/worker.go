// Package worker implements the transfer workers: the common contract
// (spec.md §4.3) shared by Download/Upload/Data task execution, plus the
// four worker kinds themselves. A ParallelDownload is not a worker kind
// here - it is decomposed by internal/chunk into N Download children, each
// run through the same DownloadTaskWorker as a standalone task.
package worker

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dlforge/xfer/internal/elog"
	"github.com/dlforge/xfer/internal/events"
	"github.com/dlforge/xfer/internal/store"
	"github.com/dlforge/xfer/internal/task"
)

// BufferSize is the fixed socket-to-file copy buffer size (spec.md §4.3
// step 5: "Stream bytes via an 8 KiB buffer between socket and file").
const BufferSize = 8 * 1024

// PollInterval is how often the watcher goroutine checks the stopped flag
// and the paused-task-ids set (spec.md §4.3 step 7, §5).
const PollInterval = 100 * time.Millisecond

// BeforeStartFunc is the optional external callback run before a worker
// does anything else. Returning ok=false short-circuits the task with the
// given terminal status/exception instead of starting the transfer
// (spec.md §4.3 step 1).
type BeforeStartFunc func(t *task.Task) (status task.Status, exc *task.Exception, ok bool)

// ClientFunc builds the *http.Client a worker uses for one task, already
// configured per the engine's current transport options (spec.md §4.3
// step 3 / internal/transport.NewClient).
type ClientFunc func(t *task.Task) (*http.Client, error)

// SpaceGuardFunc checks whether there is enough free disk space to receive
// contentLength more bytes, accounting for every other live download's
// remaining bytes (spec.md §4.3.1 "Available-space guard"). A nil guard
// disables the check, matching the default "check_available_space: false".
type SpaceGuardFunc func(taskID string, contentLength int64) error

// Deps bundles everything a worker needs beyond the Task itself. The
// engine facade constructs one Deps and shares it across every worker it
// dispatches.
type Deps struct {
	Store       *store.Store
	Bus         *events.Bus
	TempDir     string
	ClientFor   ClientFunc
	BeforeStart BeforeStartFunc
	SpaceGuard  SpaceGuardFunc
	UniqueNames bool

	// ResourceTimeout is the per-task wall clock (spec.md §4.3 step 8).
	// Zero means unlimited.
	ResourceTimeout time.Duration

	// RemainingBytes is the process-wide remaining_bytes_to_download table
	// (spec.md §5 "Shared resources"), updated by every download worker so
	// the space guard can sum outstanding work.
	RemainingBytes *RemainingBytesTable
}

// Control is the pause/cancel signal a single task's worker watches.
// Control is owned by the engine facade, which holds one per running task
// so CancelTasksWithIDs/Pause can flip it from outside the worker goroutine
// (spec.md §9: "a direct mapping is: one main transfer task spawns a
// watcher sibling; they communicate through a cancellation token and a
// shared atomic flag").
type Control struct {
	stopped atomic.Bool
	paused  atomic.Bool
}

// NewControl creates a fresh, unsignaled Control.
func NewControl() *Control { return &Control{} }

// Cancel requests cancellation. Idempotent.
func (c *Control) Cancel() { c.stopped.Store(true) }

// RequestPause requests a pause. Idempotent.
func (c *Control) RequestPause() { c.paused.Store(true) }

// Stopped reports whether cancellation was requested.
func (c *Control) Stopped() bool { return c.stopped.Load() }

// PauseRequested reports whether a pause was requested.
func (c *Control) PauseRequested() bool { return c.paused.Load() }

// watch polls ctrl every PollInterval and cancels cancel() the moment
// either flag is set, recording which one fired into reason. It returns
// once ctx is done for any reason, including a cause external to ctrl
// (e.g. the resource timeout elapsing).
func watch(ctx context.Context, ctrl *Control, cancel context.CancelFunc) <-chan string {
	reason := make(chan string, 1)
	go func() {
		ticker := time.NewTicker(PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				reason <- ""
				return
			case <-ticker.C:
				if ctrl.Stopped() {
					reason <- "canceled"
					cancel()
					return
				}
				if ctrl.PauseRequested() {
					reason <- "paused"
					cancel()
					return
				}
			}
		}
	}()
	return reason
}

// Result is what a worker hands back to the engine facade once it
// terminates: the facade uses it to update the store, release holding
// queue counters and decide whether the retry scheduler should take over.
// The worker has already published every event in the course of producing
// this Result - the facade never re-derives events from it.
type Result struct {
	Status     task.Status
	Exception  *task.Exception
	ResumeData *task.ResumeData
}

// emitRunning publishes the running status. Every worker kind does this as
// its first event once any BeforeStart hook has cleared it.
func emitRunning(bus *events.Bus, t *task.Task) {
	if !t.Updates.WantsStatus() {
		return
	}
	bus.PublishStatus(&events.TaskStatusUpdate{Task: t, Status: task.StatusRunning})
}

// emitFinal publishes the terminal status update. It is called from a
// section of code that does not itself check ctrl/ctx, matching spec.md
// §4.3 step 9 ("final-state emission under a non-cancellable guard").
func emitFinal(bus *events.Bus, t *task.Task, status task.Status, exc *task.Exception, extra *events.TaskStatusUpdate) {
	if !t.Updates.WantsStatus() {
		return
	}
	u := &events.TaskStatusUpdate{Task: t, Status: status, Exception: exc}
	if extra != nil {
		u.ResponseBody = extra.ResponseBody
		u.ResponseHeaders = extra.ResponseHeaders
		u.ResponseStatusCode = extra.ResponseStatusCode
		u.MimeType = extra.MimeType
		u.CharSet = extra.CharSet
	}
	bus.PublishStatus(u)

	if sentinel, ok := status.ProgressSentinel(); ok && t.Updates.WantsProgress() {
		bus.PublishProgress(&events.TaskProgressUpdate{Task: t, Progress: sentinel})
	}
}

// progressTracker implements the emission cadence and speed EMA from
// spec.md §4.3 step 6.
type progressTracker struct {
	lastEmit     time.Time
	lastProgress float64
	lastBytes    int64
	lastSample   time.Time
	speed        float64 // bytes/sec, EWMA
	haveSpeed    bool
	total        int64
}

func newProgressTracker(total int64) *progressTracker {
	now := time.Now()
	return &progressTracker{lastEmit: now, lastSample: now, total: total}
}

// update records bytesSoFar, the bytes transferred so far, and reports whether a
// progress event should be emitted now, along with the progress fraction,
// current speed estimate and ETA.
func (p *progressTracker) update(now time.Time, bytesSoFar int64) (progress float64, shouldEmit bool, speed *float64, etaMS *int64) {
	if p.total > 0 {
		progress = float64(bytesSoFar) / float64(p.total)
	}

	elapsedSample := now.Sub(p.lastSample)
	if elapsedSample > 0 {
		current := float64(bytesSoFar-p.lastBytes) / elapsedSample.Seconds()
		if p.haveSpeed {
			p.speed = (p.speed*3 + current) / 4
		} else {
			p.speed = current
			p.haveSpeed = true
		}
		p.lastBytes = bytesSoFar
		p.lastSample = now
	}

	advanced := progress > p.lastProgress
	sinceEmit := now.Sub(p.lastEmit)

	shouldEmit = advanced && ((progress-p.lastProgress > 0.02 && sinceEmit > 500*time.Millisecond) || sinceEmit > 2*time.Second)
	if shouldEmit {
		p.lastEmit = now
		p.lastProgress = progress
	}

	if p.haveSpeed && p.speed > 0 {
		s := p.speed
		speed = &s
		if p.total > 0 {
			remaining := p.total - bytesSoFar
			ms := int64(float64(remaining) / p.speed * 1000)
			etaMS = &ms
		}
	}
	return progress, shouldEmit, speed, etaMS
}

// RemainingBytesTable is the process-wide, per-task remaining-bytes map the
// space guard sums across every live download (spec.md §5 "Shared
// resources... protected by atomic-add semantics").
type RemainingBytesTable struct {
	m atomic.Pointer[map[string]int64]
}

// NewRemainingBytesTable creates an empty table.
func NewRemainingBytesTable() *RemainingBytesTable {
	t := &RemainingBytesTable{}
	empty := map[string]int64{}
	t.m.Store(&empty)
	return t
}

// Set records taskID's current remaining-bytes estimate, replacing any
// previous value.
func (t *RemainingBytesTable) Set(taskID string, remaining int64) {
	for {
		old := t.m.Load()
		next := make(map[string]int64, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[taskID] = remaining
		if t.m.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Clear removes taskID's entry, e.g. once it terminates.
func (t *RemainingBytesTable) Clear(taskID string) {
	for {
		old := t.m.Load()
		if _, ok := (*old)[taskID]; !ok {
			return
		}
		next := make(map[string]int64, len(*old))
		for k, v := range *old {
			if k != taskID {
				next[k] = v
			}
		}
		if t.m.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Sum returns the total remaining bytes across every tracked task.
func (t *RemainingBytesTable) Sum() int64 {
	var total int64
	m := t.m.Load()
	for _, v := range *m {
		total += v
	}
	return total
}

func logWorker(taskID, msg string, args ...any) {
	l := elog.With("worker")
	ev := l.Debug().Str("task_id", taskID)
	ev.Msgf(msg, args...)
}
