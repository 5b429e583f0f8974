package retention

import (
	"time"

	"github.com/MacJediWizard/pcapkeeper/internal/diskusage"
	"github.com/MacJediWizard/pcapkeeper/internal/stats"
)

// Stats is the retention snapshot a cycle reads and updates in place. The
// caller keeps one value across cycles so a stale file count and the last
// publish time survive index outages.
type Stats struct {
	// TotalFiles comes from the index and may be stale.
	TotalFiles int64 `json:"total_files"`
	// UsageMB is the capture tree usage, refreshed every cycle.
	UsageMB uint64 `json:"usage_mb"`
	// Capture and Probe are in GB.
	Capture diskusage.Space      `json:"capture_gb"`
	Probe   diskusage.Space      `json:"probe_gb"`
	IO      diskusage.IOCounters `json:"io"`
	// Timestamp is when stats were last published.
	Timestamp  time.Time  `json:"timestamp"`
	CanPublish bool       `json:"-"`
	Sink       stats.Sink `json:"-"`

	ioPrimed bool
}

// NewStats returns stats that publish to sink. A nil sink disables publishing.
func NewStats(sink stats.Sink) *Stats {
	return &Stats{Sink: sink, CanPublish: sink != nil}
}
