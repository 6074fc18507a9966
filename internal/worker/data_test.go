package worker

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dlforge/xfer/internal/task"
	"github.com/dlforge/xfer/internal/testutil"
)

func newDataTask(id, url string) *task.Task {
	return &task.Task{
		TaskID:     id,
		Group:      "g",
		URL:        url,
		HTTPMethod: "GET",
		Retries:    1,
		Priority:   task.DefaultPriority,
		Kind:       task.KindData,
	}
}

func TestDataTaskWorkerHappyPath(t *testing.T) {
	mock := testutil.NewMockServerT(t, testutil.WithFileSize(256))
	defer mock.Close()

	deps := newTestDeps(t, t.TempDir())
	tk := newDataTask("data1", mock.URL())

	w := &DataTaskWorker{Deps: deps}
	result := w.Run(context.Background(), tk, NewControl())

	require.Equal(t, task.StatusComplete, result.Status)
}

func TestDataTaskWorkerNotFound(t *testing.T) {
	mock := testutil.NewMockServerT(t, testutil.WithHandler(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer mock.Close()

	deps := newTestDeps(t, t.TempDir())
	tk := newDataTask("data2", mock.URL())

	w := &DataTaskWorker{Deps: deps}
	result := w.Run(context.Background(), tk, NewControl())

	require.Equal(t, task.StatusNotFound, result.Status)
}

func TestDataTaskWorkerServerError(t *testing.T) {
	mock := testutil.NewMockServerT(t, testutil.WithHandler(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer mock.Close()

	deps := newTestDeps(t, t.TempDir())
	tk := newDataTask("data3", mock.URL())

	w := &DataTaskWorker{Deps: deps}
	result := w.Run(context.Background(), tk, NewControl())

	require.Equal(t, task.StatusFailed, result.Status)
	require.Equal(t, task.ExceptionHTTPResponse, result.Exception.Kind)
	require.Equal(t, http.StatusInternalServerError, result.Exception.HTTPResponseCode)
}
