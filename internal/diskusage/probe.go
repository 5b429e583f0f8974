package diskusage

import "errors"

// ErrUnsupported is returned by probes on platforms without statfs support.
var ErrUnsupported = errors.New("disk probing not supported on this platform")

// PartitionStat is partition-level accounting in bytes.
type PartitionStat struct {
	Free  uint64
	Total uint64
	Used  uint64
}

// Probe reports filesystem facts for a path.
type Probe interface {
	// PartitionID identifies the partition holding path.
	PartitionID(path string) (uint64, error)
	// Partition returns whole-partition statistics for path.
	Partition(path string) (PartitionStat, error)
	// TreeUsage returns bytes allocated under path, directories included.
	TreeUsage(path string) (uint64, error)
}
