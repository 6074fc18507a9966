// Package chunk implements the ParallelDownload executor (spec.md §4.4): it
// probes the source, splits it into N byte-range children, dispatches each
// as an ordinary Download task, aggregates their status/progress into the
// parent's, and stitches the finished chunk files into the destination.
//
// Grounded on _examples/teal33t-Surge/internal/engine/probe.go for the
// probe-before-transfer shape (now delegated to internal/transport.Probe)
// and on internal/downloader/concurrent.go's ActiveTask/TaskQueue pattern
// of one coordinator owning a set of in-flight sub-transfers - generalized
// here from the teacher's fixed worker-pool-pulls-fixed-size-chunks model
// into the spec's parent/child task graph, where each child is a normal
// Download task the engine dispatches through its usual holding queue.
package chunk

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dlforge/xfer/internal/elog"
	"github.com/dlforge/xfer/internal/events"
	"github.com/dlforge/xfer/internal/task"
	"github.com/dlforge/xfer/internal/transport"
	"github.com/dlforge/xfer/internal/worker"
)

// Dispatcher is the subset of the engine facade a Coordinator needs to run
// child Download tasks, without importing the engine package (which
// imports chunk) - spec.md §9's cut of cyclic references applied to the
// Go package graph.
type Dispatcher interface {
	// EnqueueChild submits a synthesized Download task through the
	// engine's normal store/queue/worker pipeline.
	EnqueueChild(ctx context.Context, t *task.Task) error
	// CancelChild requests cancellation of a previously enqueued child.
	CancelChild(taskID string)
}

// Deps bundles what a Coordinator needs beyond the parent Task.
type Deps struct {
	Dispatcher Dispatcher
	Bus        *events.Bus
	ClientFor  worker.ClientFunc
	TempDir    string
	// RetryCeiling bounds a child's exponential backoff (spec.md §4.4
	// "Child retry"). Zero uses retry.DefaultCeiling's value.
	RetryCeiling time.Duration
}

// Executor runs ParallelDownload tasks to completion, pause or failure. It
// exposes the same Run shape as the single-task workers so the engine
// facade can dispatch a ParallelDownload through the same call site.
type Executor struct {
	Deps *Deps

	mu      sync.Mutex
	parents map[string]*parentState
}

// NewExecutor creates an Executor sharing deps across every parent task it
// coordinates.
func NewExecutor(deps *Deps) *Executor {
	return &Executor{Deps: deps, parents: make(map[string]*parentState)}
}

type childInfo struct {
	id       string
	index    int
	source   string
	from, to int64
	path     string
	status   task.Status
	progress float64
}

type parentState struct {
	mu       sync.Mutex
	parent   *task.Task
	group    string
	destPath string
	children map[string]*childInfo
	cadence  cadence
	done     chan worker.Result
	canceled bool
	paused   bool
	e        *Executor
}

// Run executes a ParallelDownload task. On fresh start it probes the
// source, computes chunk ranges and dispatches one child per chunk. On
// resume (resumeData != nil) it re-enqueues the chunks recorded by a prior
// pause rather than re-probing.
func (e *Executor) Run(parent context.Context, t *task.Task, resumeData *task.ResumeData, ctrl *worker.Control) worker.Result {
	deps := e.Deps
	group := childGroup(t.TaskID)

	ps := &parentState{
		parent:   t,
		group:    group,
		children: make(map[string]*childInfo),
		done:     make(chan worker.Result, 1),
		e:        e,
	}
	e.mu.Lock()
	e.parents[t.TaskID] = ps
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.parents, t.TaskID)
		e.mu.Unlock()
		deps.Bus.OnGroup(group, nil)
	}()

	deps.Bus.OnGroup(group, func(u events.TaskUpdate) { ps.handleChildUpdate(u) })

	if t.Updates.WantsStatus() {
		deps.Bus.PublishStatus(&events.TaskStatusUpdate{Task: t, Status: task.StatusRunning})
	}

	var chunks []*task.Chunk
	if resumeData != nil {
		restored, destPath, err := e.rebuildFromResume(t, resumeData)
		if err != nil {
			return ps.fail(task.NewException(task.ExceptionGeneral, "decode chunk resume data: %v", err))
		}
		chunks = restored
		ps.destPath = destPath
	} else {
		built, err := e.planChunks(parent, t)
		if err != nil {
			return ps.fail(err)
		}
		chunks = built.chunks
		ps.destPath = built.destPath
	}

	for _, c := range chunks {
		ps.children[c.ChildTask.TaskID] = &childInfo{
			id:     c.ChildTask.TaskID,
			index:  c.Index,
			source: c.URL,
			from:   c.FromByte,
			to:     c.ToByte,
			path:   childPath(c.ChildTask),
		}
		if err := deps.Dispatcher.EnqueueChild(parent, c.ChildTask); err != nil {
			return ps.fail(task.NewException(task.ExceptionGeneral, "enqueue chunk %s: %v", c.ChildTask.TaskID, err))
		}
	}

	watchPauseCancel(parent, ctrl, ps)

	select {
	case res := <-ps.done:
		return res
	case <-parent.Done():
		return worker.Result{Status: task.StatusCanceled}
	}
}

// watchPauseCancel mirrors the single-task worker's poll loop (spec.md
// §4.3 step 7), but instead of canceling one HTTP request it cascades
// cancellation/pause to every live child.
func watchPauseCancel(ctx context.Context, ctrl *worker.Control, ps *parentState) {
	go func() {
		ticker := time.NewTicker(worker.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ps.done:
				return
			case <-ticker.C:
				if ctrl.Stopped() {
					ps.cancelAll()
					return
				}
				if ctrl.PauseRequested() {
					ps.pauseAll()
					return
				}
			}
		}
	}()
}

type plannedChunks struct {
	chunks   []*task.Chunk
	destPath string
}

func (e *Executor) planChunks(ctx context.Context, t *task.Task) (*plannedChunks, error) {
	client, err := e.Deps.ClientFor(t)
	if err != nil {
		return nil, task.NewException(task.ExceptionConnection, "build http client: %v", err)
	}

	probe, err := transport.Probe(ctx, client, t.URL, t.Headers)
	if err != nil {
		return nil, task.NewException(task.ExceptionConnection, "%v", err)
	}
	if probe.ContentLength <= 0 || !probe.AcceptsRanges {
		return nil, task.NewException(task.ExceptionGeneral, "server does not provide content length / accept ranges")
	}

	filename := t.Filename
	if t.NeedsFilenameResolution() {
		filename = probe.SuggestedName
		if filename == "" {
			filename = t.TaskID
		}
	}
	destPath, err := worker.DestinationPath(t, filename)
	if err != nil {
		return nil, task.NewException(task.ExceptionFileSystem, "%v", err)
	}

	sources := t.URLs
	if len(sources) == 0 {
		sources = []string{t.URL}
	}
	n := len(sources) * t.Chunks
	ranges := computeRanges(probe.ContentLength, n)

	chunkDir := filepath.Join(e.Deps.TempDir, "chunks", t.TaskID)
	chunks := make([]*task.Chunk, 0, len(ranges))
	for i, r := range ranges {
		source := sources[i%len(sources)]
		child := e.buildChildTask(t, i, source, chunkDir, r)
		chunks = append(chunks, &task.Chunk{
			ParentTaskID: t.TaskID,
			Index:        i,
			URL:          source,
			Filename:     child.Filename,
			FromByte:     r.From,
			ToByte:       r.To,
			ChildTask:    child,
			Status:       task.StatusEnqueued,
		})
	}
	return &plannedChunks{chunks: chunks, destPath: destPath}, nil
}

// buildChildTask synthesizes chunk i as an ordinary Download task writing
// into its own slot under chunkDir, inheriting retry/network policy from
// the parent (spec.md §4.4).
func (e *Executor) buildChildTask(parent *task.Task, i int, source, chunkDir string, r byteRange) *task.Task {
	headers := make(map[string]string, len(parent.Headers)+1)
	for k, v := range parent.Headers {
		headers[k] = v
	}
	headers["Range"] = fmt.Sprintf("bytes=%d-%d", r.From, r.To)

	updates := task.UpdatesStatusOnly
	if parent.Updates.WantsProgress() {
		updates = task.UpdatesStatusAndProgress
	}

	return &task.Task{
		TaskID:           fmt.Sprintf("%s-chunk-%04d", parent.TaskID, i),
		CreationTime:     parent.CreationTime,
		Group:            childGroup(parent.TaskID),
		Metadata:         task.EncodeChunkMetadata(task.ChunkMetadata{ParentTaskID: parent.TaskID, From: r.From, To: r.To}),
		URL:              source,
		Headers:          headers,
		BaseDirectory:    task.BaseDirectoryAbsolute,
		Directory:        chunkDir,
		Filename:         fmt.Sprintf("chunk-%04d", i),
		Retries:          parent.Retries,
		RetriesRemaining: parent.Retries,
		RequiresWifi:     parent.RequiresWifi,
		AllowPause:       false,
		Priority:         parent.Priority,
		Updates:          updates,
		Kind:             task.KindDownload,
	}
}

func childPath(t *task.Task) string {
	return filepath.Join(t.Directory, t.Filename)
}

func childGroup(parentTaskID string) string {
	return "xfer-chunk-" + parentTaskID
}

func (ps *parentState) fail(exc *task.Exception) worker.Result {
	if ps.parent.Updates.WantsStatus() {
		ps.e.Deps.Bus.PublishStatus(&events.TaskStatusUpdate{Task: ps.parent, Status: task.StatusFailed, Exception: exc})
	}
	return worker.Result{Status: task.StatusFailed, Exception: exc}
}

func (ps *parentState) cancelAll() {
	ps.mu.Lock()
	if ps.canceled {
		ps.mu.Unlock()
		return
	}
	ps.canceled = true
	ids := make([]string, 0, len(ps.children))
	for id := range ps.children {
		ids = append(ids, id)
	}
	ps.mu.Unlock()

	for _, id := range ids {
		ps.e.Deps.Dispatcher.CancelChild(id)
	}
	if ps.parent.Updates.WantsStatus() {
		ps.e.Deps.Bus.PublishStatus(&events.TaskStatusUpdate{Task: ps.parent, Status: task.StatusCanceled})
	}
	ps.sendOnce(worker.Result{Status: task.StatusCanceled})
}

// pauseAll cancels every live child (they leave their partial chunk files
// behind) and snapshots the chunk list as the parent's ResumeData (spec.md
// §4.4 "Pause").
func (ps *parentState) pauseAll() {
	ps.mu.Lock()
	if ps.paused {
		ps.mu.Unlock()
		return
	}
	ps.paused = true
	children := make(map[string]*childInfo, len(ps.children))
	for id, c := range ps.children {
		children[id] = c
	}
	ids := make([]string, 0, len(ps.children))
	for id := range ps.children {
		ids = append(ids, id)
	}
	destPath := ps.destPath
	ps.mu.Unlock()

	for _, id := range ids {
		ps.e.Deps.Dispatcher.CancelChild(id)
	}

	resumeData := &task.ResumeData{TaskID: ps.parent.TaskID, Data: encodeResumeChunks(children, destPath)}
	if ps.parent.Updates.WantsStatus() {
		ps.e.Deps.Bus.PublishStatus(&events.TaskStatusUpdate{Task: ps.parent, Status: task.StatusPaused})
	}
	ps.sendOnce(worker.Result{Status: task.StatusPaused, ResumeData: resumeData})
}

func (ps *parentState) sendOnce(res worker.Result) {
	select {
	case ps.done <- res:
	default:
	}
}

// handleChildUpdate folds one child's status/progress event into the
// parent's aggregate state (spec.md §4.4 "Coordinator state per parent").
func (ps *parentState) handleChildUpdate(u events.TaskUpdate) {
	switch ev := u.(type) {
	case *events.TaskStatusUpdate:
		ps.onChildStatus(ev)
	case *events.TaskProgressUpdate:
		ps.onChildProgress(ev)
	}
}

func (ps *parentState) onChildStatus(ev *events.TaskStatusUpdate) {
	ps.mu.Lock()
	c, ok := ps.children[ev.Task.TaskID]
	if !ok {
		ps.mu.Unlock()
		return
	}
	c.status = ev.Status
	if sentinel, hasSentinel := ev.Status.ProgressSentinel(); hasSentinel {
		c.progress = sentinel
	}

	if ev.Status == task.StatusFailed && ev.Task.RetriesRemaining > 0 {
		child := ev.Task
		ps.mu.Unlock()
		ps.retryChild(child)
		return
	}

	allDone, aggregate := ps.aggregateLocked()
	canceled := ps.canceled
	ps.mu.Unlock()

	if canceled {
		return
	}

	switch aggregate {
	case task.StatusFailed:
		ps.cancelSiblingsAndFail(ev.Exception)
		return
	case task.StatusNotFound:
		ps.cancelSiblingsAndFinish(task.StatusNotFound, nil)
		return
	}

	if allDone && aggregate == task.StatusComplete {
		ps.finishAndStitch()
	}
}

func (ps *parentState) onChildProgress(ev *events.TaskProgressUpdate) {
	ps.mu.Lock()
	c, ok := ps.children[ev.Task.TaskID]
	if !ok {
		ps.mu.Unlock()
		return
	}
	c.progress = ev.Progress

	if !ps.parent.Updates.WantsProgress() {
		ps.mu.Unlock()
		return
	}
	progress := ps.meanProgressLocked()
	emit := ps.cadence.shouldEmit(time.Now(), progress)
	ps.mu.Unlock()

	if emit {
		ps.e.Deps.Bus.PublishProgress(&events.TaskProgressUpdate{Task: ps.parent, Progress: progress})
	}
}

// aggregateLocked computes the parent's aggregate status per spec.md §4.4.
// Caller must hold ps.mu.
func (ps *parentState) aggregateLocked() (allDone bool, status task.Status) {
	allDone = true
	anyNotFound := false
	for _, c := range ps.children {
		if c.status == task.StatusFailed {
			return true, task.StatusFailed
		}
		if c.status == task.StatusNotFound {
			anyNotFound = true
		}
		if c.status != task.StatusComplete {
			allDone = false
		}
	}
	if anyNotFound {
		return true, task.StatusNotFound
	}
	if allDone {
		return true, task.StatusComplete
	}
	return false, task.StatusRunning
}

// meanProgressLocked is the arithmetic mean of every child's progress.
// Caller must hold ps.mu.
func (ps *parentState) meanProgressLocked() float64 {
	if len(ps.children) == 0 {
		return 0
	}
	var sum float64
	for _, c := range ps.children {
		sum += c.progress
	}
	return sum / float64(len(ps.children))
}

// retryChild implements spec.md §4.4's child retry: decrement, backoff,
// re-enqueue from scratch. The exponent is one less than the general
// retry scheduler's (internal/retry.Scheduler.Delay) because the spec
// states the child retry wait in terms of the already-decremented
// retries_remaining minus one, so for the same counters a child waits half
// as long as a top-level retry until the ceiling clamps both. Once
// retries_remaining reaches zero the coordinator stops retrying and fails
// the parent instead.
func (ps *parentState) retryChild(child *task.Task) {
	retrying := *child
	retrying.RetriesRemaining--
	ps.mu.Lock()
	if c, ok := ps.children[child.TaskID]; ok {
		c.status = task.StatusEnqueued
	}
	ps.mu.Unlock()

	delay := childRetryDelay(retrying.Retries, retrying.RetriesRemaining, ps.e.Deps.RetryCeiling)
	time.AfterFunc(delay, func() {
		if err := ps.e.Deps.Dispatcher.EnqueueChild(context.Background(), &retrying); err != nil {
			elog.With("chunk").Error().Err(err).Str("task_id", retrying.TaskID).Msg("re-enqueue chunk failed")
			ps.cancelSiblingsAndFail(task.NewException(task.ExceptionGeneral, "re-enqueue chunk: %v", err))
		}
	})
}

func childRetryDelay(retries, retriesRemaining int, ceiling time.Duration) time.Duration {
	if ceiling <= 0 {
		ceiling = 5 * time.Minute
	}
	exp := retries - retriesRemaining - 1
	if exp < 0 {
		exp = 0
	}
	if exp > 30 {
		exp = 30
	}
	d := time.Duration(1<<uint(exp)) * time.Second
	if d > ceiling {
		d = ceiling
	}
	return d
}

func (ps *parentState) cancelSiblingsAndFail(exc *task.Exception) {
	ps.mu.Lock()
	if ps.canceled {
		ps.mu.Unlock()
		return
	}
	ps.canceled = true
	ids := make([]string, 0, len(ps.children))
	for id := range ps.children {
		ids = append(ids, id)
	}
	ps.mu.Unlock()

	for _, id := range ids {
		ps.e.Deps.Dispatcher.CancelChild(id)
	}
	if ps.parent.Updates.WantsStatus() {
		ps.e.Deps.Bus.PublishStatus(&events.TaskStatusUpdate{Task: ps.parent, Status: task.StatusFailed, Exception: exc})
	}
	ps.sendOnce(worker.Result{Status: task.StatusFailed, Exception: exc})
}

func (ps *parentState) cancelSiblingsAndFinish(status task.Status, exc *task.Exception) {
	ps.mu.Lock()
	if ps.canceled {
		ps.mu.Unlock()
		return
	}
	ps.canceled = true
	ids := make([]string, 0, len(ps.children))
	for id := range ps.children {
		ids = append(ids, id)
	}
	ps.mu.Unlock()

	for _, id := range ids {
		ps.e.Deps.Dispatcher.CancelChild(id)
	}
	if ps.parent.Updates.WantsStatus() {
		ps.e.Deps.Bus.PublishStatus(&events.TaskStatusUpdate{Task: ps.parent, Status: status, Exception: exc})
	}
	ps.sendOnce(worker.Result{Status: status, Exception: exc})
}

func (ps *parentState) finishAndStitch() {
	ps.mu.Lock()
	if ps.canceled {
		ps.mu.Unlock()
		return
	}
	ps.canceled = true
	children := make([]*childInfo, 0, len(ps.children))
	for _, c := range ps.children {
		children = append(children, c)
	}
	destPath := ps.destPath
	ps.mu.Unlock()

	if err := stitch(children, destPath); err != nil {
		exc := task.NewException(task.ExceptionFileSystem, "%v", err)
		if ps.parent.Updates.WantsStatus() {
			ps.e.Deps.Bus.PublishStatus(&events.TaskStatusUpdate{Task: ps.parent, Status: task.StatusFailed, Exception: exc})
		}
		ps.sendOnce(worker.Result{Status: task.StatusFailed, Exception: exc})
		return
	}

	if ps.parent.Updates.WantsStatus() {
		ps.e.Deps.Bus.PublishStatus(&events.TaskStatusUpdate{Task: ps.parent, Status: task.StatusComplete})
	}
	if ps.parent.Updates.WantsProgress() {
		ps.e.Deps.Bus.PublishProgress(&events.TaskProgressUpdate{Task: ps.parent, Progress: 1.0})
	}
	ps.sendOnce(worker.Result{Status: task.StatusComplete})
}

// cadence implements the same emission gate as worker.progressTracker.update
// (spec.md §4.3 step 6), reduced to progress-only since the parent's
// aggregate has no single byte counter to derive a speed EWMA from.
type cadence struct {
	lastEmit     time.Time
	lastProgress float64
}

func (c *cadence) shouldEmit(now time.Time, progress float64) bool {
	if c.lastEmit.IsZero() {
		c.lastEmit = now
	}
	advanced := progress > c.lastProgress
	sinceEmit := now.Sub(c.lastEmit)
	emit := advanced && ((progress-c.lastProgress > 0.02 && sinceEmit > 500*time.Millisecond) || sinceEmit > 2*time.Second)
	if emit {
		c.lastEmit = now
		c.lastProgress = progress
	}
	return emit
}

// rebuildFromResume deserializes the chunk list a prior pause snapshotted
// and regenerates each child task fresh (spec.md §4.4 "On resume,
// deserialize chunks and re-enqueue each child; its own Range header
// restarts partial children from scratch").
func (e *Executor) rebuildFromResume(t *task.Task, rd *task.ResumeData) ([]*task.Chunk, string, error) {
	var snap resumeSnapshot
	if err := json.Unmarshal([]byte(rd.Data), &snap); err != nil {
		return nil, "", err
	}

	chunkDir := filepath.Join(e.Deps.TempDir, "chunks", t.TaskID)
	chunks := make([]*task.Chunk, 0, len(snap.Chunks))
	for _, rc := range snap.Chunks {
		child := e.buildChildTask(t, rc.Index, rc.Source, chunkDir, byteRange{From: rc.From, To: rc.To})
		chunks = append(chunks, &task.Chunk{
			ParentTaskID: t.TaskID,
			Index:        rc.Index,
			URL:          rc.Source,
			Filename:     child.Filename,
			FromByte:     rc.From,
			ToByte:       rc.To,
			ChildTask:    child,
			Status:       task.StatusEnqueued,
		})
	}
	return chunks, snap.DestPath, nil
}

func encodeResumeChunks(children map[string]*childInfo, destPath string) string {
	snap := resumeSnapshot{DestPath: destPath}
	for id, c := range children {
		snap.Chunks = append(snap.Chunks, resumeChunk{
			Index:  c.index,
			Source: c.source,
			From:   c.from,
			To:     c.to,
			ID:     id,
		})
	}
	data, _ := json.Marshal(snap)
	return string(data)
}

type resumeSnapshot struct {
	Chunks   []resumeChunk `json:"chunks"`
	DestPath string        `json:"dest_path"`
}

type resumeChunk struct {
	ID     string `json:"id"`
	Index  int    `json:"index"`
	Source string `json:"source"`
	From   int64  `json:"from"`
	To     int64  `json:"to"`
}
