package worker

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/dlforge/xfer/internal/events"
	"github.com/dlforge/xfer/internal/task"
)

// DataTaskWorker executes a Data task: no file I/O, the response body is
// accumulated into memory and returned as part of the final status update
// (spec.md §4.3.3). A Data task publishes no running progress updates; its only progress update is the final-status sentinel emitFinal publishes when t.Updates asks for progress.
//
// Grounded on the common worker contract (spec.md §4.3 steps 1-4, 9); the
// short-request, no-file-I/O shape has no direct analog in the teacher
// (Surge is download-only), so the request construction is shared with
// DownloadTaskWorker's buildDownloadRequest rather than duplicated.
type DataTaskWorker struct {
	Deps *Deps
}

// maxDataTaskBody caps how much of a Data task's response body is buffered
// into memory, avoiding an unbounded read for a misconfigured large URL.
const maxDataTaskBody = 10 * 1024 * 1024

func (w *DataTaskWorker) Run(parent context.Context, t *task.Task, ctrl *Control) Result {
	deps := w.Deps

	if deps.BeforeStart != nil {
		if status, exc, ok := deps.BeforeStart(t); !ok {
			emitFinal(deps.Bus, t, status, exc, nil)
			return Result{Status: status, Exception: exc}
		}
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	reasonCh := watch(ctx, ctrl, cancel)

	emitRunning(deps.Bus, t)

	client, err := deps.ClientFor(t)
	if err != nil {
		exc := task.NewException(task.ExceptionConnection, "build http client: %v", err)
		emitFinal(deps.Bus, t, task.StatusFailed, exc, nil)
		return Result{Status: task.StatusFailed, Exception: exc}
	}

	method := t.HTTPMethod
	if method == "" {
		method = http.MethodPost
	}
	req, _, err := buildDownloadRequest(ctx, t, nil)
	if err != nil {
		exc := task.NewException(task.ExceptionURL, "%v", err)
		emitFinal(deps.Bus, t, task.StatusFailed, exc, nil)
		return Result{Status: task.StatusFailed, Exception: exc}
	}
	req.Method = method

	resp, err := client.Do(req)
	if err != nil {
		select {
		case reason := <-reasonCh:
			if reason == "canceled" {
				emitFinal(deps.Bus, t, task.StatusCanceled, nil, nil)
				return Result{Status: task.StatusCanceled}
			}
		default:
		}
		exc := task.NewException(task.ExceptionConnection, "%v", err)
		emitFinal(deps.Bus, t, task.StatusFailed, exc, nil)
		return Result{Status: task.StatusFailed, Exception: exc}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		emitFinal(deps.Bus, t, task.StatusNotFound, nil, nil)
		return Result{Status: task.StatusNotFound}
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(resp.Body, maxDataTaskBody)); err != nil {
		exc := task.NewException(task.ExceptionConnection, "read response body: %v", err)
		emitFinal(deps.Bus, t, task.StatusFailed, exc, nil)
		return Result{Status: task.StatusFailed, Exception: exc}
	}

	mimeType := contentTypeWithoutParams(resp.Header.Get("Content-Type"))
	if mimeType == "" {
		mimeType = sniffMimeType(buf.Bytes())
	}

	extra := &events.TaskStatusUpdate{
		ResponseBody:       buf.String(),
		ResponseHeaders:    map[string][]string(resp.Header),
		ResponseStatusCode: resp.StatusCode,
		MimeType:           mimeType,
		CharSet:            charsetOf(resp.Header.Get("Content-Type")),
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		exc := task.NewHTTPException(resp.StatusCode, "unexpected status for %s", t.URL)
		emitFinal(deps.Bus, t, task.StatusFailed, exc, extra)
		return Result{Status: task.StatusFailed, Exception: exc}
	}

	emitFinal(deps.Bus, t, task.StatusComplete, nil, extra)
	return Result{Status: task.StatusComplete}
}
