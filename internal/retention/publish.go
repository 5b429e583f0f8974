package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/MacJediWizard/pcapkeeper/internal/diskusage"
)

// Published stat keys.
const (
	KeyDiskWrites   = "Total_Pcap_Disk_Writes"
	KeyDiskReads    = "Total_Pcap_Disk_Reads"
	KeyDiskMbWrites = "Total_Pcap_Disk_Mb_Writes"
	KeyDiskMbReads  = "Total_Pcap_Disk_Mb_Reads"
	KeyPcapFreeGB   = "Pcap_Disk_Free_GB"
	KeyPcapTotalGB  = "Pcap_Disk_Total_GB"
	KeyPcapUsedGB   = "Pcap_Disk_Used_GB"
	KeyProbeUsedGB  = "Probe_Disk_Used_GB"
	KeyTotalFiles   = "Pcap_Total_Files"
	KeyUsageMB      = "Pcap_Usage_MB"
)

// Publisher sends Stats to their sink at most once per interval.
type Publisher struct {
	sampler diskusage.IOSampler
	now     func() time.Time
	logger  zerolog.Logger
}

// NewPublisher creates a publisher. A nil sampler skips IO counters.
func NewPublisher(sampler diskusage.IOSampler, now func() time.Time, logger zerolog.Logger) *Publisher {
	if now == nil {
		now = time.Now
	}
	return &Publisher{
		sampler: sampler,
		now:     now,
		logger:  logger.With().Str("component", "stats_publisher").Logger(),
	}
}

type stat struct {
	key   string
	value uint64
}

// Publish sends s when it may publish and interval has passed since the last
// publish. IO counters are sampled for path and sent as deltas against the
// previous sample, clamped at zero. It returns the joined sink errors.
func (p *Publisher) Publish(ctx context.Context, s *Stats, path string, interval time.Duration) error {
	if !s.CanPublish || s.Sink == nil {
		return nil
	}
	now := p.now()
	if !s.Timestamp.IsZero() && now.Sub(s.Timestamp) < interval {
		return nil
	}

	var out []stat
	if p.sampler != nil {
		cur, err := p.sampler.Sample(ctx, path)
		if err != nil {
			p.logger.Debug().Err(err).Str("path", path).Msg("io counters unavailable")
		} else {
			prev := s.IO
			if !s.ioPrimed {
				// First sample only sets the baseline.
				prev = cur
				s.ioPrimed = true
			}
			out = append(out,
				stat{KeyDiskWrites, delta(cur.WriteOps, prev.WriteOps)},
				stat{KeyDiskReads, delta(cur.ReadOps, prev.ReadOps)},
				stat{KeyDiskMbWrites, delta(cur.WriteBytes, prev.WriteBytes) >> 20},
				stat{KeyDiskMbReads, delta(cur.ReadBytes, prev.ReadBytes) >> 20},
			)
			s.IO = cur
		}
	}

	out = append(out,
		stat{KeyPcapFreeGB, s.Capture.Free},
		stat{KeyPcapTotalGB, s.Capture.Total},
		stat{KeyPcapUsedGB, s.Capture.Used},
		stat{KeyProbeUsedGB, s.Probe.Used},
		stat{KeyTotalFiles, uint64(max(s.TotalFiles, 0))},
		stat{KeyUsageMB, s.UsageMB},
	)

	var errs []error
	for _, st := range out {
		if err := s.Sink.Send(ctx, st.key, st.value); err != nil {
			errs = append(errs, fmt.Errorf("send %s: %w", st.key, err))
		}
	}
	s.Timestamp = now
	return errors.Join(errs...)
}

// delta is cur-prev, or 0 when the counter went backwards.
func delta(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}
