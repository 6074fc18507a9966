package chunk

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dlforge/xfer/internal/events"
	"github.com/dlforge/xfer/internal/store"
	"github.com/dlforge/xfer/internal/task"
	"github.com/dlforge/xfer/internal/testutil"
	"github.com/dlforge/xfer/internal/worker"
)

// fakeDispatcher runs each child as a real DownloadTaskWorker in its own
// goroutine, mirroring how the engine facade's EnqueueChild/CancelChild
// dispatch a synthesized chunk through the ordinary worker pipeline.
type fakeDispatcher struct {
	deps *worker.Deps

	mu       sync.Mutex
	controls map[string]*worker.Control
}

func newFakeDispatcher(deps *worker.Deps) *fakeDispatcher {
	return &fakeDispatcher{deps: deps, controls: make(map[string]*worker.Control)}
}

func (d *fakeDispatcher) EnqueueChild(ctx context.Context, t *task.Task) error {
	ctrl := worker.NewControl()
	d.mu.Lock()
	d.controls[t.TaskID] = ctrl
	d.mu.Unlock()

	go func() {
		w := &worker.DownloadTaskWorker{Deps: d.deps}
		w.Run(ctx, t, nil, ctrl)
	}()
	return nil
}

func (d *fakeDispatcher) CancelChild(taskID string) {
	d.mu.Lock()
	ctrl := d.controls[taskID]
	d.mu.Unlock()
	if ctrl != nil {
		ctrl.Cancel()
	}
}

func newChunkTestDeps(t *testing.T) (*Deps, *worker.Deps) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := events.NewBus(st, 32)
	clientFor := func(*task.Task) (*http.Client, error) { return http.DefaultClient, nil }

	wdeps := &worker.Deps{
		Store:          st,
		Bus:            bus,
		TempDir:        t.TempDir(),
		ClientFor:      clientFor,
		RemainingBytes: worker.NewRemainingBytesTable(),
	}
	cdeps := &Deps{
		Bus:       bus,
		ClientFor: clientFor,
		TempDir:   t.TempDir(),
	}
	return cdeps, wdeps
}

func newParallelDownloadTask(id, url, dir string, chunks int) *task.Task {
	return &task.Task{
		TaskID:           id,
		Group:            "g",
		URL:              url,
		HTTPMethod:       "GET",
		BaseDirectory:    task.BaseDirectoryAbsolute,
		Directory:        dir,
		Filename:         "out.bin",
		Retries:          1,
		RetriesRemaining: 1,
		Priority:         task.DefaultPriority,
		Updates:          task.UpdatesStatusAndProgress,
		Kind:             task.KindParallelDownload,
		Chunks:           chunks,
	}
}

func TestExecutorRunHappyPath(t *testing.T) {
	mock := testutil.NewMockServerT(t, testutil.WithFileSize(64*1024), testutil.WithRangeSupport(true))
	defer mock.Close()

	cdeps, wdeps := newChunkTestDeps(t)
	dispatcher := newFakeDispatcher(wdeps)
	cdeps.Dispatcher = dispatcher

	dir := t.TempDir()
	parent := newParallelDownloadTask("p1", mock.URL(), dir, 4)

	exec := NewExecutor(cdeps)
	result := exec.Run(context.Background(), parent, nil, worker.NewControl())

	require.Equal(t, task.StatusComplete, result.Status)
	data, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	require.NoError(t, err)
	require.Len(t, data, 64*1024)
}

func TestExecutorRunCancel(t *testing.T) {
	mock := testutil.NewMockServerT(t, testutil.WithFileSize(10*1024*1024), testutil.WithRangeSupport(true), testutil.WithByteLatency(time.Microsecond))
	defer mock.Close()

	cdeps, wdeps := newChunkTestDeps(t)
	dispatcher := newFakeDispatcher(wdeps)
	cdeps.Dispatcher = dispatcher

	dir := t.TempDir()
	parent := newParallelDownloadTask("p2", mock.URL(), dir, 4)

	ctrl := worker.NewControl()
	exec := NewExecutor(cdeps)

	go func() {
		time.Sleep(50 * time.Millisecond)
		ctrl.Cancel()
	}()
	result := exec.Run(context.Background(), parent, nil, ctrl)
	require.Equal(t, task.StatusCanceled, result.Status)
}
