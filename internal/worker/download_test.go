package worker

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dlforge/xfer/internal/events"
	"github.com/dlforge/xfer/internal/store"
	"github.com/dlforge/xfer/internal/task"
	"github.com/dlforge/xfer/internal/testutil"
)

func newTestDeps(t *testing.T, tempDir string) *Deps {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return &Deps{
		Store:          st,
		Bus:            events.NewBus(st, 32),
		TempDir:        tempDir,
		ClientFor:      func(*task.Task) (*http.Client, error) { return http.DefaultClient, nil },
		RemainingBytes: NewRemainingBytesTable(),
	}
}

func newDownloadTask(id, url, dir string) *task.Task {
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
		AllowPause:       true,
		Priority:         task.DefaultPriority,
		Updates:          task.UpdatesStatusAndProgress,
		Kind:             task.KindDownload,
	}
}

func TestDownloadTaskWorkerHappyPath(t *testing.T) {
	mock := testutil.NewMockServerT(t, testutil.WithFileSize(64*1024), testutil.WithRangeSupport(true))
	defer mock.Close()

	dir := t.TempDir()
	deps := newTestDeps(t, t.TempDir())
	tk := newDownloadTask("d1", mock.URL(), dir)

	w := &DownloadTaskWorker{Deps: deps}
	result := w.Run(context.Background(), tk, nil, NewControl())

	require.Equal(t, task.StatusComplete, result.Status)
	info, err := os.Stat(filepath.Join(dir, "out.bin"))
	require.NoError(t, err)
	require.EqualValues(t, 64*1024, info.Size())
}

func TestDownloadTaskWorkerConnectionRefused(t *testing.T) {
	mock := testutil.NewMockServerT(t, testutil.WithFileSize(1024))
	url := mock.URL()
	mock.Close() // nothing is listening anymore

	deps := newTestDeps(t, t.TempDir())
	tk := newDownloadTask("d2", url, t.TempDir())

	w := &DownloadTaskWorker{Deps: deps}
	result := w.Run(context.Background(), tk, nil, NewControl())

	require.Equal(t, task.StatusFailed, result.Status)
	require.Equal(t, task.ExceptionConnection, result.Exception.Kind)
}

func TestDownloadTaskWorkerCancel(t *testing.T) {
	mock := testutil.NewMockServerT(t, testutil.WithFileSize(50*1024*1024), testutil.WithByteLatency(2*time.Millisecond))
	defer mock.Close()

	deps := newTestDeps(t, t.TempDir())
	tk := newDownloadTask("d3", mock.URL(), t.TempDir())

	ctrl := NewControl()
	w := &DownloadTaskWorker{Deps: deps}

	go func() {
		time.Sleep(20 * time.Millisecond)
		ctrl.Cancel()
	}()
	result := w.Run(context.Background(), tk, nil, ctrl)
	require.Equal(t, task.StatusCanceled, result.Status)
}

func TestDownloadTaskWorkerResumeFromResumeData(t *testing.T) {
	mock := testutil.NewMockServerT(t, testutil.WithFileSize(32*1024), testutil.WithRangeSupport(true))
	defer mock.Close()

	dir := t.TempDir()
	tempDir := t.TempDir()
	deps := newTestDeps(t, tempDir)
	tk := newDownloadTask("d4", mock.URL(), dir)

	partial := make([]byte, 8*1024)
	tempPath := tempFilePath(tempDir, tk.TaskID)
	require.NoError(t, os.MkdirAll(filepath.Dir(tempPath), 0o755))
	require.NoError(t, os.WriteFile(tempPath, partial, 0o644))

	rd := &task.ResumeData{TaskID: tk.TaskID, Data: tempPath, RequiredStartByte: int64(len(partial))}

	w := &DownloadTaskWorker{Deps: deps}
	result := w.Run(context.Background(), tk, rd, NewControl())

	require.Equal(t, task.StatusComplete, result.Status)
	info, err := os.Stat(filepath.Join(dir, "out.bin"))
	require.NoError(t, err)
	require.EqualValues(t, 32*1024, info.Size())
}
