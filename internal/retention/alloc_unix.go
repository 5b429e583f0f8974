//go:build unix

package retention

import (
	"io/fs"
	"syscall"
)

// allocatedBytes returns the on-disk allocation of a file, falling back to
// its size while the filesystem has not allocated blocks yet.
func allocatedBytes(fi fs.FileInfo) int64 {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok && st.Blocks > 0 {
		return int64(st.Blocks) * 512
	}
	return fi.Size()
}
