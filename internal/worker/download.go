package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dlforge/xfer/internal/events"
	"github.com/dlforge/xfer/internal/task"
)

// DownloadTaskWorker executes a Download task: GET (or POST-with-body) a
// URL, stream the response to a temp file, and atomically move it into
// place (spec.md §4.3.1).
//
// Grounded on _examples/teal33t-Surge/internal/engine/single/downloader.go
// (SingleDownloader.Download): the .incomplete-suffix-then-rename pattern,
// the read/write copy loop with a fixed buffer and periodic progress
// write-through, and the rename-falls-back-to-copy-on-cross-device-error
// path. Generalized from SingleDownloader's "no resume, ever" restriction
// into full Range/If-Range resume validation per spec.md §4.3.1, and from
// a single fire-and-forget progress store into the cadence-gated event bus
// emission of worker.go.
type DownloadTaskWorker struct {
	Deps *Deps
}

// tempSuffix marks a download's in-progress temp file, mirroring the
// teacher's IncompleteSuffix convention.
const tempSuffix = ".xfer-part"

// Run executes t to completion, pause, or failure. ctx is the parent
// context (canceled on engine shutdown); ctrl carries the per-task
// cancel/pause signal an external CancelTasksWithIDs/Pause call flips.
func (w *DownloadTaskWorker) Run(parent context.Context, t *task.Task, resumeData *task.ResumeData, ctrl *Control) Result {
	deps := w.Deps

	if deps.BeforeStart != nil {
		if status, exc, ok := deps.BeforeStart(t); !ok {
			emitFinal(deps.Bus, t, status, exc, nil)
			return Result{Status: status, Exception: exc}
		}
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if deps.ResourceTimeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, deps.ResourceTimeout)
		defer timeoutCancel()
	}
	reasonCh := watch(ctx, ctrl, cancel)

	emitRunning(deps.Bus, t)

	client, err := deps.ClientFor(t)
	if err != nil {
		exc := task.NewException(task.ExceptionConnection, "build http client: %v", err)
		emitFinal(deps.Bus, t, task.StatusFailed, exc, nil)
		return Result{Status: task.StatusFailed, Exception: exc}
	}

	req, resumeAttempted, err := buildDownloadRequest(ctx, t, resumeData)
	if err != nil {
		exc := task.NewException(task.ExceptionURL, "%v", err)
		emitFinal(deps.Bus, t, task.StatusFailed, exc, nil)
		return Result{Status: task.StatusFailed, Exception: exc}
	}

	resp, err := client.Do(req)
	if err != nil {
		return w.finishConnectionError(t, ctx, reasonCh, err, deps)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		emitFinal(deps.Bus, t, task.StatusNotFound, nil, nil)
		return Result{Status: task.StatusNotFound}
	}

	if resumeAttempted {
		if res, ok := validateResumeResponse(t, resumeData, resp); !ok {
			emitFinal(deps.Bus, t, task.StatusFailed, res, nil)
			return Result{Status: task.StatusFailed, Exception: res}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 206 {
		exc := task.NewHTTPException(resp.StatusCode, "unexpected status for %s", t.URL)
		emitFinal(deps.Bus, t, task.StatusFailed, exc, nil)
		return Result{Status: task.StatusFailed, Exception: exc}
	}

	filename := ResolveFilename(t, resp.Header)
	destPath, err := DestinationPath(t, filename)
	if err != nil {
		exc := task.NewException(task.ExceptionFileSystem, "%v", err)
		emitFinal(deps.Bus, t, task.StatusFailed, exc, nil)
		return Result{Status: task.StatusFailed, Exception: exc}
	}
	if deps.UniqueNames && !resumeAttempted {
		destPath = UniquePath(destPath)
	}

	contentLength := resp.ContentLength
	if deps.SpaceGuard != nil && contentLength > 0 {
		if err := deps.SpaceGuard(t.TaskID, contentLength); err != nil {
			exc := task.NewException(task.ExceptionFileSystem, "%v", err)
			emitFinal(deps.Bus, t, task.StatusFailed, exc, nil)
			return Result{Status: task.StatusFailed, Exception: exc}
		}
	}
	if deps.RemainingBytes != nil {
		deps.RemainingBytes.Set(t.TaskID, contentLength)
		defer deps.RemainingBytes.Clear(t.TaskID)
	}

	tempPath := tempFilePath(deps.TempDir, t.TaskID)
	outFile, startOffset, err := openDownloadTemp(tempPath, resumeAttempted)
	if err != nil {
		exc := task.NewException(task.ExceptionFileSystem, "open temp file: %v", err)
		emitFinal(deps.Bus, t, task.StatusFailed, exc, nil)
		return Result{Status: task.StatusFailed, Exception: exc}
	}

	total := contentLength
	if resumeAttempted && total > 0 {
		total += startOffset
	}
	acceptsRanges := resp.Header.Get("Accept-Ranges") == "bytes"
	etag := resp.Header.Get("ETag")

	written, copyErr := copyWithProgress(ctx, outFile, resp.Body, startOffset, total, t, deps.Bus)
	closeErr := outFile.Close()

	if copyErr != nil {
		return w.finishInterrupted(t, ctx, reasonCh, tempPath, written+startOffset, acceptsRanges, etag, deps, copyErr)
	}
	if closeErr != nil {
		exc := task.NewException(task.ExceptionFileSystem, "close temp file: %v", closeErr)
		emitFinal(deps.Bus, t, task.StatusFailed, exc, nil)
		return Result{Status: task.StatusFailed, Exception: exc}
	}

	if err := finalizeDownload(tempPath, destPath); err != nil {
		exc := task.NewException(task.ExceptionFileSystem, "%v", err)
		emitFinal(deps.Bus, t, task.StatusFailed, exc, nil)
		return Result{Status: task.StatusFailed, Exception: exc}
	}

	emitFinal(deps.Bus, t, task.StatusComplete, nil, nil)
	return Result{Status: task.StatusComplete}
}

// finishConnectionError classifies a client.Do failure as pause/cancel (if
// the watcher fired) or a retryable connection error.
func (w *DownloadTaskWorker) finishConnectionError(t *task.Task, ctx context.Context, reasonCh <-chan string, err error, deps *Deps) Result {
	if status, ok := w.canceledOrPaused(t, ctx, reasonCh, "", 0, false, "", deps); ok {
		return Result{Status: status}
	}
	exc := task.NewException(task.ExceptionConnection, "%v", err)
	emitFinal(deps.Bus, t, task.StatusFailed, exc, nil)
	return Result{Status: task.StatusFailed, Exception: exc}
}

// finishInterrupted handles a mid-transfer error: distinguishes a
// cooperative cancel/pause (spec.md §4.3 step 7) from a genuine I/O
// failure, and on pause snapshots ResumeData from the partial temp file.
func (w *DownloadTaskWorker) finishInterrupted(t *task.Task, ctx context.Context, reasonCh <-chan string, tempPath string, bytesSoFar int64, acceptsRanges bool, etag string, deps *Deps, copyErr error) Result {
	if status, ok := w.canceledOrPaused(t, ctx, reasonCh, tempPath, bytesSoFar, acceptsRanges && t.AllowPause, etag, deps); ok {
		if status == task.StatusPaused {
			rd := &task.ResumeData{TaskID: t.TaskID, Data: tempPath, RequiredStartByte: bytesSoFar, ETag: etag}
			return Result{Status: status, ResumeData: rd}
		}
		_ = os.Remove(tempPath)
		return Result{Status: status}
	}
	_ = os.Remove(tempPath)
	exc := task.NewException(task.ExceptionConnection, "%v", copyErr)
	emitFinal(deps.Bus, t, task.StatusFailed, exc, nil)
	return Result{Status: task.StatusFailed, Exception: exc}
}

// canceledOrPaused checks whether ctx was canceled by the watcher (as
// opposed to an unrelated transport error) and emits the corresponding
// terminal status. canResume gates whether a pause request can actually be
// honored (spec.md §4.3.1's resume requires Accept-Ranges).
func (w *DownloadTaskWorker) canceledOrPaused(t *task.Task, ctx context.Context, reasonCh <-chan string, tempPath string, bytesSoFar int64, canResume bool, etag string, deps *Deps) (task.Status, bool) {
	if ctx.Err() == nil {
		return "", false
	}
	var reason string
	select {
	case reason = <-reasonCh:
	case <-time.After(PollInterval):
	}

	switch reason {
	case "canceled":
		emitFinal(deps.Bus, t, task.StatusCanceled, nil, nil)
		return task.StatusCanceled, true
	case "paused":
		if !canResume || !t.AllowPause {
			emitFinal(deps.Bus, t, task.StatusCanceled, nil, nil)
			return task.StatusCanceled, true
		}
		emitFinal(deps.Bus, t, task.StatusPaused, nil, nil)
		return task.StatusPaused, true
	default:
		// Context deadline (resource timeout) rather than an explicit
		// Control signal: spec.md §4.3 step 8, pause-and-resume if allowed.
		if ctx.Err() == context.DeadlineExceeded && canResume && t.AllowPause {
			emitFinal(deps.Bus, t, task.StatusPaused, nil, nil)
			return task.StatusPaused, true
		}
		return "", false
	}
}

// buildDownloadRequest constructs the GET (or POST-with-body) request for
// t, adding Range/If-Range headers when resumeData is present.
func buildDownloadRequest(ctx context.Context, t *task.Task, resumeData *task.ResumeData) (*http.Request, bool, error) {
	method := t.HTTPMethod
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if t.Post != nil {
		body = postBodyReader(t.Post)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.URL, body)
	if err != nil {
		return nil, false, fmt.Errorf("invalid url %q: %w", t.URL, err)
	}
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "xfer/1.0")
	}

	resumeAttempted := false
	if resumeData != nil {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeData.RequiredStartByte))
		if resumeData.ETag != "" {
			req.Header.Set("If-Range", resumeData.ETag)
		}
		resumeAttempted = true
	}
	return req, resumeAttempted, nil
}

// validateResumeResponse enforces spec.md §4.3.1's resume contract: the
// server must answer 206 with a Content-Range start matching
// RequiredStartByte, or the worker fails with kind=resume (a bare 200 is
// only tolerated as a restart-from-zero fallback when resumeData carries
// no ETag).
func validateResumeResponse(t *task.Task, resumeData *task.ResumeData, resp *http.Response) (*task.Exception, bool) {
	if resp.StatusCode == http.StatusPartialContent {
		start, ok := contentRangeStart(resp.Header.Get("Content-Range"))
		if !ok || start != resumeData.RequiredStartByte {
			return task.NewException(task.ExceptionResume, "server range start did not match required offset"), false
		}
		return nil, true
	}
	if resp.StatusCode == http.StatusOK {
		if resumeData.ETag == "" {
			return nil, true // restart-from-zero fallback permitted
		}
		return task.NewException(task.ExceptionResume, "server did not honor If-Range, restart not permitted"), false
	}
	return nil, true // any other code is classified by the general status check
}

// contentRangeStart parses the start offset out of a "Content-Range:
// bytes start-end/total" header value. Parsed by hand rather than via a
// dedicated header-parsing call: vfaronov/httpheader's Content-Disposition
// parser is already wired in ResolveFilename, but this specific form is
// simple enough that introducing a second call shape here would not earn
// its keep.
func contentRangeStart(v string) (int64, bool) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "bytes ")
	dash := strings.IndexByte(v, '-')
	if dash <= 0 {
		return 0, false
	}
	start, err := strconv.ParseInt(v[:dash], 10, 64)
	if err != nil {
		return 0, false
	}
	return start, true
}

func postBodyReader(p *task.PostBody) io.Reader {
	switch {
	case p.Raw != nil:
		return strings.NewReader(string(p.Raw))
	case p.JSON != "":
		return strings.NewReader(p.JSON)
	default:
		return strings.NewReader(p.Text)
	}
}

func tempFilePath(tempDir, taskID string) string {
	return filepath.Join(tempDir, sanitizeFilename(taskID)+tempSuffix)
}

func sanitizeFilename(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_")
	return r.Replace(id)
}

// openDownloadTemp opens the temp file for append (resume) or truncating
// creation (fresh start), returning the file and the byte offset writes
// should be considered to start at.
func openDownloadTemp(path string, resume bool) (*os.File, int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, 0, err
	}
	if resume {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, 0, err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, err
		}
		return f, info.Size(), nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, 0, err
	}
	return f, 0, nil
}

// copyWithProgress streams src into dst in BufferSize chunks, publishing
// progress updates at the cadence in spec.md §4.3 step 6. startOffset and
// total are used only to compute the progress fraction and ETA; the bytes
// already on disk from a resumed transfer are not re-counted.
func copyWithProgress(ctx context.Context, dst *os.File, src io.Reader, startOffset, total int64, t *task.Task, bus *events.Bus) (int64, error) {
	buf := make([]byte, BufferSize)
	tracker := newProgressTracker(total)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, readErr := src.Read(buf)
		if nr > 0 {
			nw, writeErr := dst.Write(buf[:nr])
			if writeErr != nil {
				return written, writeErr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
			written += int64(nw)

			if t.Updates.WantsProgress() {
				progress, shouldEmit, speed, etaMS := tracker.update(time.Now(), startOffset+written)
				if shouldEmit {
					bus.PublishProgress(&events.TaskProgressUpdate{
						Task: t, Progress: progress, ExpectedFileSize: nonZeroPtr(total), NetworkSpeed: speed, TimeRemainingMS: etaMS,
					})
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return written, nil
			}
			return written, readErr
		}
	}
}

func nonZeroPtr(v int64) *int64 {
	if v <= 0 {
		return nil
	}
	return &v
}

// finalizeDownload atomically moves the completed temp file to its final
// destination, creating parent directories as needed (spec.md §4.3.1).
func finalizeDownload(tempPath, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	if err := os.Rename(tempPath, destPath); err != nil {
		// Typically EXDEV (temp dir and destination on different
		// filesystems/devices): fall back to a plain copy.
		if copyErr := copyFileContents(tempPath, destPath); copyErr != nil {
			return fmt.Errorf("finalize %s: %w", destPath, copyErr)
		}
		_ = os.Remove(tempPath)
	}
	return nil
}

// copyFileContents is the cross-device rename fallback, grounded on the
// teacher's SingleDownloader copyFile helper.
func copyFileContents(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	buf := make([]byte, 1024*1024)
	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		return err
	}
	return out.Sync()
}
