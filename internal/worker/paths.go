package worker

import (
	"fmt"
	"math/rand"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vfaronov/httpheader"

	"github.com/dlforge/xfer/internal/task"
)

// ResolveRoot maps a Task's symbolic BaseDirectory to a real filesystem
// root (spec.md §3 "Destination (download)"). BaseDirectoryAbsolute treats
// Directory itself as the fully qualified root.
func ResolveRoot(base task.BaseDirectory, directory string) (string, error) {
	if base == task.BaseDirectoryAbsolute {
		return directory, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("worker: resolve home dir: %w", err)
	}

	switch base {
	case task.BaseDirectoryAppDocuments:
		return filepath.Join(home, "Documents", directory), nil
	case task.BaseDirectoryTemporary:
		return filepath.Join(os.TempDir(), directory), nil
	case task.BaseDirectoryAppSupport:
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("worker: resolve app support dir: %w", err)
		}
		return filepath.Join(dir, directory), nil
	case task.BaseDirectoryAppLibrary:
		dir, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("worker: resolve app library dir: %w", err)
		}
		return filepath.Join(dir, directory), nil
	default:
		return filepath.Join(home, directory), nil
	}
}

// DestinationPath computes a Task's final destination file path, given a
// filename already resolved (not the "?" sentinel).
func DestinationPath(t *task.Task, filename string) (string, error) {
	root, err := ResolveRoot(t.BaseDirectory, t.Directory)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, filename), nil
}

// ResolveFilename derives a concrete filename for a task whose Filename is
// the "?" sentinel (spec.md §4.3.1 "Suggested filename"): first from
// Content-Disposition, then the final URL path segment, then a random
// digit string.
func ResolveFilename(t *task.Task, headers http.Header) string {
	if !t.NeedsFilenameResolution() {
		return t.Filename
	}

	if _, name, err := httpheader.ContentDisposition(headers); err == nil && name != "" {
		return filepath.Base(name)
	}

	if u, err := url.Parse(t.URL); err == nil {
		base := filepath.Base(u.Path)
		if base != "" && base != "." && base != "/" {
			return base
		}
	}

	return strconv.FormatInt(rand.Int63(), 10)
}

// UniquePath appends " (n)" before the extension until the destination is
// free, per spec.md §4.3.1's "unique" option. n starts at 1.
func UniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// mimeTypeForExtension infers a MIME type from a filename's extension,
// falling back to application/octet-stream.
func mimeTypeForExtension(filename string) string {
	ext := filepath.Ext(filename)
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
