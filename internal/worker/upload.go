package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/dlforge/xfer/internal/task"
)

// MultipartBoundary is bit-exact per spec.md §6, used for test fixtures
// comparing generated bodies byte-for-byte.
const MultipartBoundary = "-----background_downloader-akjhfw281onqciyhnIk"

// UploadTaskWorker executes Upload and MultiUpload tasks: binary mode
// streams one file's raw bytes; multipart mode builds a
// multipart/form-data body with a fixed boundary (spec.md §4.3.2).
//
// Grounded on the common worker contract (spec.md §4.3); no teacher file
// builds request bodies (Surge is download-only), so the multipart/binary
// body construction is authored fresh against spec.md's byte-exact rules,
// reusing the workers' shared watch/emit plumbing (the request itself is built here).
type UploadTaskWorker struct {
	Deps *Deps
}

func (w *UploadTaskWorker) Run(parent context.Context, t *task.Task, ctrl *Control) Result {
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

	body, contentType, contentLength, err := buildUploadBody(t)
	if err != nil {
		exc := task.NewException(task.ExceptionFileSystem, "%v", err)
		emitFinal(deps.Bus, t, task.StatusFailed, exc, nil)
		return Result{Status: task.StatusFailed, Exception: exc}
	}
	defer body.Close()

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
	req, err := http.NewRequestWithContext(ctx, method, t.URL, body)
	if err != nil {
		exc := task.NewException(task.ExceptionURL, "%v", err)
		emitFinal(deps.Bus, t, task.StatusFailed, exc, nil)
		return Result{Status: task.StatusFailed, Exception: exc}
	}
	for k, v := range t.Headers {
		// Uploads strip Range and Content-Disposition from user headers to
		// avoid conflict with the generated ones (spec.md §4.3 step 4).
		if strings.EqualFold(k, "Range") || strings.EqualFold(k, "Content-Disposition") {
			continue
		}
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = contentLength

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
	if resp.StatusCode < 200 || resp.StatusCode > 206 {
		exc := task.NewHTTPException(resp.StatusCode, "unexpected status for %s", t.URL)
		emitFinal(deps.Bus, t, task.StatusFailed, exc, nil)
		return Result{Status: task.StatusFailed, Exception: exc}
	}

	emitFinal(deps.Bus, t, task.StatusComplete, nil, nil)
	return Result{Status: task.StatusComplete}
}

// isBinaryUpload reports whether t.Post carries the literal "binary"
// marker (spec.md §4.3.2: "Binary: post == 'binary'").
func isBinaryUpload(t *task.Task) bool {
	return t.Post != nil && t.Post.Text == "binary"
}

// buildUploadBody constructs the request body, Content-Type and
// Content-Length for an Upload/MultiUpload task.
func buildUploadBody(t *task.Task) (io.ReadCloser, string, int64, error) {
	if isBinaryUpload(t) {
		return buildBinaryUploadBody(t)
	}
	return buildMultipartUploadBody(t)
}

func buildBinaryUploadBody(t *task.Task) (io.ReadCloser, string, int64, error) {
	path, err := DestinationPath(t, t.Filename)
	if err != nil {
		return nil, "", 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, "", 0, err
	}

	contentType := t.MimeType
	if contentType == "" {
		contentType = resolveMimeType(t.Filename, sniffHead(f))
	}
	return f, contentType, info.Size(), nil
}

// sniffHead reads the leading bytes filetype needs to match a content
// signature off f, then rewinds f so the upload body is unaffected.
func sniffHead(f *os.File) []byte {
	head := make([]byte, 261)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil
	}
	return head[:n]
}

// resolveMimeType infers a Content-Type from a filename's extension first
// (spec.md §4.3.1's filename-driven resolution is the primary signal), then
// falls back to sniffing the file's content signature when the extension is
// missing or too ambiguous to resolve to anything but the generic default.
func resolveMimeType(filename string, content []byte) string {
	byExt := mimeTypeForExtension(filename)
	if byExt != "application/octet-stream" {
		return byExt
	}
	if sniffed := sniffMimeType(content); sniffed != "" {
		return sniffed
	}
	return byExt
}

// buildMultipartUploadBody builds the exact wire form spec.md §4.3.2
// describes: fixed boundary, "browser-encoded" names/filenames, ASCII
// scalar fields plain and non-ASCII ones tagged
// content-type/content-transfer-encoding, one part per file field.
func buildMultipartUploadBody(t *task.Task) (io.ReadCloser, string, int64, error) {
	var buf strings.Builder

	for k, v := range t.Fields {
		writeFieldPart(&buf, k, v)
	}

	fileFields, filenames, mimeTypes := uploadFileLists(t)
	for i := range fileFields {
		if err := writeFilePart(&buf, fileFields[i], filenames[i], mimeTypes[i], t); err != nil {
			return nil, "", 0, err
		}
	}

	buf.WriteString("--" + MultipartBoundary + "--\r\n")

	contentType := fmt.Sprintf("multipart/form-data; boundary=%s", MultipartBoundary)
	body := buf.String()
	return io.NopCloser(strings.NewReader(body)), contentType, int64(len(body)), nil
}

func uploadFileLists(t *task.Task) (fields, names, mimes []string) {
	if len(t.FileFields) > 0 {
		return t.FileFields, t.Filenames, t.MimeTypes
	}
	return []string{t.FileField}, []string{t.Filename}, []string{t.MimeType}
}

// browserEncode applies spec.md §4.3.2's encoding: CR, LF and CRLF become
// %0D%0A; a double quote becomes %22; nothing else is touched.
func browserEncode(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "%0D%0A")
	s = strings.ReplaceAll(s, "\r", "%0D%0A")
	s = strings.ReplaceAll(s, "\n", "%0D%0A")
	s = strings.ReplaceAll(s, `"`, "%22")
	return s
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

func writeFieldPart(buf *strings.Builder, name, value string) {
	buf.WriteString("--" + MultipartBoundary + "\r\n")
	fmt.Fprintf(buf, "Content-Disposition: form-data; name=\"%s\"\r\n", browserEncode(name))
	if !isASCII(value) {
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		buf.WriteString("Content-Transfer-Encoding: binary\r\n")
	}
	buf.WriteString("\r\n")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

func writeFilePart(buf *strings.Builder, fileField, filename, mimeType string, t *task.Task) error {
	path, err := DestinationPath(t, filename)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if mimeType == "" {
		mimeType = resolveMimeType(filename, data)
	}

	buf.WriteString("--" + MultipartBoundary + "\r\n")
	fmt.Fprintf(buf, "Content-Disposition: form-data; name=\"%s\"; filename=\"%s\"\r\n", browserEncode(fileField), browserEncode(filename))
	fmt.Fprintf(buf, "Content-Type: %s\r\n\r\n", mimeType)
	buf.Write(data)
	buf.WriteString("\r\n")
	return nil
}
