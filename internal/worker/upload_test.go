package worker

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dlforge/xfer/internal/task"
	"github.com/dlforge/xfer/internal/testutil"
)

func newUploadTask(id, url, dir, filename string) *task.Task {
	return &task.Task{
		TaskID:        id,
		Group:         "g",
		URL:           url,
		HTTPMethod:    "POST",
		BaseDirectory: task.BaseDirectoryAbsolute,
		Directory:     dir,
		Filename:      filename,
		FileField:     "file",
		Retries:       1,
		Priority:      task.DefaultPriority,
		Kind:          task.KindUpload,
	}
}

func TestUploadTaskWorkerMultipart(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello world"), 0o644))

	var gotContentType string
	var gotBody []byte
	var gotContentLength int64
	mock := testutil.NewMockServerT(t, testutil.WithHandler(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotContentLength = r.ContentLength
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer mock.Close()

	deps := newTestDeps(t, t.TempDir())
	tk := newUploadTask("u1", mock.URL(), dir, "hello.txt")
	tk.MimeType = "text/plain"
	tk.Fields = map[string]string{"key": "value"}

	w := &UploadTaskWorker{Deps: deps}
	result := w.Run(context.Background(), tk, NewControl())

	require.Equal(t, task.StatusComplete, result.Status)
	require.Equal(t, "multipart/form-data; boundary="+MultipartBoundary, gotContentType)

	wantBody := "--" + MultipartBoundary + "\r\n" +
		"Content-Disposition: form-data; name=\"key\"\r\n" +
		"\r\n" +
		"value\r\n" +
		"--" + MultipartBoundary + "\r\n" +
		"Content-Disposition: form-data; name=\"file\"; filename=\"hello.txt\"\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"hello world\r\n" +
		"--" + MultipartBoundary + "--\r\n"

	require.Equal(t, int64(len(wantBody)), gotContentLength)
	require.Equal(t, wantBody, string(gotBody))
}

func TestUploadTaskWorkerBinary(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("raw bytes go here")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "payload.bin"), payload, 0o644))

	var gotBody []byte
	mock := testutil.NewMockServerT(t, testutil.WithHandler(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer mock.Close()

	deps := newTestDeps(t, t.TempDir())
	tk := newUploadTask("u2", mock.URL(), dir, "payload.bin")
	tk.Post = &task.PostBody{Text: "binary"}

	w := &UploadTaskWorker{Deps: deps}
	result := w.Run(context.Background(), tk, NewControl())

	require.Equal(t, task.StatusComplete, result.Status)
	require.Equal(t, payload, gotBody)
}

func TestUploadTaskWorkerNotFound(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "payload.txt"), []byte("x"), 0o644))

	mock := testutil.NewMockServerT(t, testutil.WithHandler(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer mock.Close()

	deps := newTestDeps(t, t.TempDir())
	tk := newUploadTask("u3", mock.URL(), dir, "payload.txt")

	w := &UploadTaskWorker{Deps: deps}
	result := w.Run(context.Background(), tk, NewControl())

	require.Equal(t, task.StatusNotFound, result.Status)
}
