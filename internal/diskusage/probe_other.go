//go:build !linux

package diskusage

// OSProbe is unavailable outside linux.
type OSProbe struct{}

// NewOSProbe returns a probe that always fails with ErrUnsupported.
func NewOSProbe() *OSProbe {
	return &OSProbe{}
}

func (p *OSProbe) PartitionID(string) (uint64, error) { return 0, ErrUnsupported }

func (p *OSProbe) Partition(string) (PartitionStat, error) { return PartitionStat{}, ErrUnsupported }

func (p *OSProbe) TreeUsage(string) (uint64, error) { return 0, ErrUnsupported }
