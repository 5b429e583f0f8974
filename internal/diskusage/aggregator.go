package diskusage

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Aggregator combines probe results across capture locations.
type Aggregator struct {
	probe  Probe
	logger zerolog.Logger
}

// NewAggregator creates an Aggregator on top of probe.
func NewAggregator(probe Probe, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		probe:  probe,
		logger: logger.With().Str("component", "disk_usage").Logger(),
	}
}

// PcapUsage reports capture storage across locations. Used is the sum of each
// location's tree usage; Free and Total count each distinct partition once.
// Every figure is converted before summing. Locations that cannot be probed
// are skipped and their errors joined into the result.
func (a *Aggregator) PcapUsage(locations []string, unit Unit) (Space, error) {
	var (
		space Space
		errs  []error
	)
	partitions := make(map[uint64]struct{}, len(locations))

	for _, loc := range locations {
		used, err := a.probe.TreeUsage(loc)
		if err != nil {
			errs = append(errs, fmt.Errorf("tree usage %s: %w", loc, err))
			continue
		}
		space.Used += Convert(used, unit)

		id, err := a.probe.PartitionID(loc)
		if err != nil {
			errs = append(errs, fmt.Errorf("partition id %s: %w", loc, err))
			continue
		}
		if _, ok := partitions[id]; ok {
			a.logger.Debug().Str("location", loc).Uint64("partition", id).Msg("partition already counted")
			continue
		}
		part, err := a.probe.Partition(loc)
		if err != nil {
			errs = append(errs, fmt.Errorf("partition %s: %w", loc, err))
			continue
		}
		partitions[id] = struct{}{}
		space.Free += Convert(part.Free, unit)
		space.Total += Convert(part.Total, unit)
	}

	return space, errors.Join(errs...)
}

// ProbeUsage reports whole-partition figures for the probe root.
func (a *Aggregator) ProbeUsage(root string, unit Unit) (Space, error) {
	part, err := a.probe.Partition(root)
	if err != nil {
		return Space{}, fmt.Errorf("probe partition: %w", err)
	}
	return Space{
		Free:  Convert(part.Free, unit),
		Total: Convert(part.Total, unit),
		Used:  Convert(part.Used, unit),
	}, nil
}

// FolderUsage returns the tree usage of a single location.
func (a *Aggregator) FolderUsage(location string, unit Unit) (uint64, error) {
	used, err := a.probe.TreeUsage(location)
	if err != nil {
		return 0, err
	}
	return Convert(used, unit), nil
}
