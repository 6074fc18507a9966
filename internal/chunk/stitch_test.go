package chunk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStitchConcatenatesInFromOrder(t *testing.T) {
	dir := t.TempDir()

	c1 := filepath.Join(dir, "chunk-0001")
	c0 := filepath.Join(dir, "chunk-0000")
	require.NoError(t, os.WriteFile(c1, []byte("world"), 0o644))
	require.NoError(t, os.WriteFile(c0, []byte("hello "), 0o644))

	children := []*childInfo{
		{path: c1, from: 6},
		{path: c0, from: 0},
	}

	destPath := filepath.Join(dir, "out", "final.bin")
	require.NoError(t, stitch(children, destPath))

	data, err := os.ReadFile(destPath)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))

	_, err = os.Stat(c0)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(c1)
	require.True(t, os.IsNotExist(err))
}

func TestStitchSingleChunk(t *testing.T) {
	dir := t.TempDir()
	c0 := filepath.Join(dir, "chunk-0000")
	require.NoError(t, os.WriteFile(c0, []byte("solo"), 0o644))

	destPath := filepath.Join(dir, "final.bin")
	require.NoError(t, stitch([]*childInfo{{path: c0, from: 0}}, destPath))

	data, err := os.ReadFile(destPath)
	require.NoError(t, err)
	require.Equal(t, "solo", string(data))
}
