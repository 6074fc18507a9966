//go:build !windows

package engine

import "golang.org/x/sys/unix"

// freeDiskSpace returns the free bytes available on the filesystem holding
// dir, used by the available-space guard (spec.md §4.3.1).
func freeDiskSpace(dir string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
