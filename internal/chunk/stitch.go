package chunk

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// stitch concatenates a parent's completed chunk files, in ascending
// from-byte order, into destPath, then removes the chunk files (spec.md
// §4.4 "Stitch"). Grounded on the download worker's copyFileContents: the
// same fixed-buffer io.CopyBuffer loop, generalized from a single source
// file to N sources written in sequence to one destination.
func stitch(children []*childInfo, destPath string) error {
	sorted := make([]*childInfo, len(children))
	copy(sorted, children)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].from < sorted[j].from })

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("chunk: create destination dir: %w", err)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("chunk: create destination file: %w", err)
	}
	defer out.Close()

	buf := make([]byte, 1024*1024)
	for _, c := range sorted {
		if err := appendChunkFile(out, c.path, buf); err != nil {
			return fmt.Errorf("chunk: stitch %s: %w", c.path, err)
		}
	}

	if err := out.Sync(); err != nil {
		return fmt.Errorf("chunk: sync destination file: %w", err)
	}

	for _, c := range sorted {
		_ = os.Remove(c.path)
	}
	return nil
}

func appendChunkFile(out *os.File, path string, buf []byte) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	_, err = io.CopyBuffer(out, in, buf)
	return err
}
