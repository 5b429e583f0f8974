package diskusage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// IOCounters are cumulative device counters.
type IOCounters struct {
	ReadBytes  uint64 `json:"read_bytes"`
	WriteBytes uint64 `json:"write_bytes"`
	ReadOps    uint64 `json:"read_ops"`
	WriteOps   uint64 `json:"write_ops"`
}

// IOSampler reads IO counters for the device backing a path.
type IOSampler interface {
	Sample(ctx context.Context, path string) (IOCounters, error)
}

// DeviceSampler samples counters through gopsutil.
type DeviceSampler struct{}

// NewDeviceSampler returns a sampler backed by /proc/diskstats.
func NewDeviceSampler() *DeviceSampler {
	return &DeviceSampler{}
}

// Sample finds the mount holding path and returns its device counters.
func (s *DeviceSampler) Sample(ctx context.Context, path string) (IOCounters, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return IOCounters{}, fmt.Errorf("list partitions: %w", err)
	}
	device := deviceFor(parts, path)
	if device == "" {
		return IOCounters{}, fmt.Errorf("no partition found for %s", path)
	}

	name := filepath.Base(device)
	counters, err := disk.IOCountersWithContext(ctx, name)
	if err != nil {
		return IOCounters{}, fmt.Errorf("io counters %s: %w", name, err)
	}
	c, ok := counters[name]
	if !ok {
		return IOCounters{}, fmt.Errorf("no io counters for %s", name)
	}
	return IOCounters{
		ReadBytes:  c.ReadBytes,
		WriteBytes: c.WriteBytes,
		ReadOps:    c.ReadCount,
		WriteOps:   c.WriteCount,
	}, nil
}

// deviceFor picks the partition with the longest mountpoint prefix of path.
func deviceFor(parts []disk.PartitionStat, path string) string {
	path = filepath.Clean(path)
	var (
		best    string
		bestLen = -1
	)
	for _, p := range parts {
		mp := filepath.Clean(p.Mountpoint)
		if !underMount(path, mp) {
			continue
		}
		if len(mp) > bestLen {
			best = p.Device
			bestLen = len(mp)
		}
	}
	return best
}

func underMount(path, mountpoint string) bool {
	if mountpoint == "/" || path == mountpoint {
		return true
	}
	return strings.HasPrefix(path, mountpoint+string(filepath.Separator))
}
