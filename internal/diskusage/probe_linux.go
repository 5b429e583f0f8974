//go:build linux

package diskusage

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// st_blocks is always reported in 512-byte units.
const statBlockSize = 512

// OSProbe queries the local filesystem.
type OSProbe struct{}

// NewOSProbe returns a probe backed by statfs(2) and lstat(2).
func NewOSProbe() *OSProbe {
	return &OSProbe{}
}

// PartitionID returns the device id of path.
func (p *OSProbe) PartitionID(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return uint64(st.Dev), nil
}

// Partition returns free and total space from the partition's superblock.
// Free counts blocks available to root as well.
func (p *OSProbe) Partition(path string) (PartitionStat, error) {
	var sfs unix.Statfs_t
	if err := unix.Statfs(path, &sfs); err != nil {
		return PartitionStat{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	frsize := uint64(sfs.Frsize)
	if frsize == 0 {
		frsize = uint64(sfs.Bsize)
	}
	total := sfs.Blocks * frsize
	free := sfs.Bfree * frsize
	return PartitionStat{Free: free, Total: total, Used: total - free}, nil
}

// TreeUsage sums allocated blocks for every entry below and including path.
// Symlinks are not followed and hard-linked inodes count once.
func (p *OSProbe) TreeUsage(path string) (uint64, error) {
	type inode struct{ dev, ino uint64 }
	seen := make(map[inode]struct{})
	var total uint64

	err := filepath.WalkDir(path, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			if name == path {
				return err
			}
			// Entries removed mid-walk are skipped.
			return nil
		}
		var st unix.Stat_t
		if err := unix.Lstat(name, &st); err != nil {
			return nil
		}
		if st.Nlink > 1 && !d.IsDir() {
			key := inode{uint64(st.Dev), st.Ino}
			if _, ok := seen[key]; ok {
				return nil
			}
			seen[key] = struct{}{}
		}
		total += uint64(st.Blocks) * statBlockSize
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", path, err)
	}
	return total, nil
}
