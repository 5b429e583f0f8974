// Package retention decides when capture storage is over its limits and
// removes the oldest capture files, coordinating with the document index.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/pcapkeeper/internal/config"
	"github.com/MacJediWizard/pcapkeeper/internal/diskusage"
	"github.com/MacJediWizard/pcapkeeper/internal/index"
	"github.com/MacJediWizard/pcapkeeper/internal/journal"
	"github.com/MacJediWizard/pcapkeeper/internal/metrics"
)

// ConfigSource supplies the configuration snapshot for each cycle.
type ConfigSource interface {
	Current() *config.Config
}

// UsageSource measures capture and probe storage.
type UsageSource interface {
	PcapUsage(locations []string, unit diskusage.Unit) (diskusage.Space, error)
	ProbeUsage(root string, unit diskusage.Unit) (diskusage.Space, error)
}

// Journal records removals and the index marks still owed.
type Journal interface {
	Record(ctx context.Context, entries []journal.Entry) error
	Unconfirmed(ctx context.Context, limit int) ([]journal.Entry, error)
	Confirm(ctx context.Context, ids []int64) error
}

// Deps are the collaborators of an Engine. Journal, Metrics and Publisher
// are optional.
type Deps struct {
	Config    ConfigSource
	Usage     UsageSource
	Index     index.Index
	FS        FileSystem
	Journal   Journal
	Metrics   *metrics.PrometheusMetrics
	Publisher *Publisher
	Stopwatch Stopwatch
	Now       func() time.Time
	// Fatal is called for unrecoverable transport errors. It is expected
	// not to return.
	Fatal  func(error)
	Logger zerolog.Logger
}

// Engine runs retention cycles. One engine must own a set of capture
// locations; cycles must not overlap.
type Engine struct {
	cfg       ConfigSource
	usage     UsageSource
	index     index.Index
	fs        FileSystem
	journal   Journal
	metrics   *metrics.PrometheusMetrics
	publisher *Publisher
	stopwatch Stopwatch
	tracker   *Tracker
	now       func() time.Time
	fatal     func(error)
	logger    zerolog.Logger

	mu         sync.RWMutex
	lastStats  Stats
	lastReport *CycleReport
}

// NewEngine creates an engine from deps.
func NewEngine(deps Deps) *Engine {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	fsys := deps.FS
	if fsys == nil {
		fsys = OSFileSystem{}
	}
	sw := deps.Stopwatch
	if sw == nil {
		sw = NewStopwatch(now)
	}
	logger := deps.Logger.With().Str("component", "retention").Logger()
	fatal := deps.Fatal
	if fatal == nil {
		fatal = func(err error) {
			logger.Error().Err(err).Msg("fatal transport error")
		}
	}
	return &Engine{
		cfg:       deps.Config,
		usage:     deps.Usage,
		index:     deps.Index,
		fs:        fsys,
		journal:   deps.Journal,
		metrics:   deps.Metrics,
		publisher: deps.Publisher,
		stopwatch: sw,
		tracker:   NewTracker(),
		now:       now,
		fatal:     fatal,
		logger:    logger,
	}
}

// Cycle outcomes.
const (
	OutcomeWithinLimits = "within_limits"
	OutcomeRemoved      = "removed"
	OutcomeInterrupted  = "interrupted"
)

// CycleReport summarizes one call to CleanupOldPcapFiles.
type CycleReport struct {
	ID                string         `json:"id"`
	StartedAt         time.Time      `json:"started_at"`
	Duration          time.Duration  `json:"duration"`
	Outcome           string         `json:"outcome"`
	Target            int64          `json:"target"`
	Targeted          TargetedResult `json:"targeted"`
	BruteForceRemoved int            `json:"brute_force_removed"`
	BruteForceMB      uint64         `json:"brute_force_mb"`
	FilesBefore       int64          `json:"files_before"`
	FilesAfter        int64          `json:"files_after"`
}

// RecalculateDiskUsed refreshes usage figures and, when the index answers,
// the file count. A failed count leaves TotalFiles as it was.
func (e *Engine) RecalculateDiskUsed(ctx context.Context, cfg *config.Config, s *Stats) {
	// Locations are converted to MB before summing; GB derives from MB.
	pcap, err := e.usage.PcapUsage(cfg.CaptureLocations, diskusage.MB)
	if err != nil {
		e.logger.Warn().Err(err).Msg("capture usage incomplete")
	}
	s.UsageMB = pcap.Used
	s.Capture = diskusage.Space{
		Free:  pcap.Free >> 10,
		Total: pcap.Total >> 10,
		Used:  pcap.Used >> 10,
	}

	if probe, err := e.usage.ProbeUsage(cfg.ProbeLocation, diskusage.GB); err != nil {
		e.logger.Warn().Err(err).Str("probe_location", cfg.ProbeLocation).Msg("probe usage unavailable")
	} else {
		s.Probe = probe
	}

	count, err := e.fileCount(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Int64("stale_total_files", s.TotalFiles).Msg("index file count failed")
		e.metrics.RecordIndexError("count")
		e.checkFatal(err)
		return
	}
	s.TotalFiles = count
	e.metrics.SetTotalFiles(count)
}

// fileCount queries the index, turning a panic into an error.
func (e *Engine) fileCount(ctx context.Context) (n int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("index file count panicked: %v", r)
		}
	}()
	return e.index.FileCount(ctx)
}

// MarkFilesAsRemoved applies update to refs in one bulk call. An empty set
// is not sent and returns false.
func (e *Engine) MarkFilesAsRemoved(ctx context.Context, refs []index.DocRef, update map[string]any) (ok bool) {
	if len(refs) == 0 {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("bulk mark panicked")
			ok = false
		}
	}()
	if err := e.index.BulkMarkRemoved(ctx, refs, update); err != nil {
		e.logger.Warn().Err(err).Int("documents", len(refs)).Msg("bulk mark as removed failed")
		e.metrics.RecordIndexError("bulk_mark")
		e.checkFatal(err)
		return false
	}
	return true
}

// CleanupOldPcapFiles runs one retention cycle against s.
func (e *Engine) CleanupOldPcapFiles(ctx context.Context, s *Stats) CycleReport {
	cfg := e.cfg.Current()
	policy := cfg.Retention
	report := CycleReport{ID: uuid.NewString(), StartedAt: e.now()}
	log := e.logger.With().Str("cycle_id", report.ID).Logger()

	defer func() {
		report.Duration = e.now().Sub(report.StartedAt)
		if ctx.Err() != nil {
			report.Outcome = OutcomeInterrupted
		}
		report.FilesAfter = s.TotalFiles
		e.metrics.RecordCycle(report.Outcome, report.Duration.Seconds(), float64(e.now().Unix()))
		e.remember(s, report)
	}()

	e.replayUnconfirmed(ctx, cfg, log)

	e.RecalculateDiskUsed(ctx, cfg, s)
	report.FilesBefore = s.TotalFiles

	if !TooMuchCapacityUsed(policy, s) {
		report.Outcome = OutcomeWithinLimits
		log.Debug().
			Int64("total_files", s.TotalFiles).
			Uint64("usage_mb", s.UsageMB).
			Msg("capture storage within limits")
		e.publish(ctx, cfg, s)
		return report
	}

	target := IterationTargetToRemove(policy, s)
	if WayTooManyFiles(policy, s) {
		target = CleanupMassiveOvershoot(target, s)
	}
	report.Target = target
	report.Outcome = OutcomeRemoved

	log.Info().
		Int64("total_files", s.TotalFiles).
		Int64("file_count_limit", policy.FileCountLimit).
		Uint64("usage_mb", s.UsageMB).
		Uint64("size_limit_mb", policy.SizeLimitMB).
		Int64("target", target).
		Msg("capture storage over limits, removing oldest files")

	res := e.removeOldest(ctx, log, report.ID, target, policy.FilesPerIteration)
	report.Targeted = res

	flag := int64(0)
	if res.MarkFailed {
		flag = 1
	}
	s.TotalFiles = CalculateNewTotalFiles(s.TotalFiles, res.Processed, flag)

	switch {
	case ctx.Err() != nil:
	case res.MarkFailed:
		// Marks were not recorded; sweep the primary location up to the
		// oldest indexed time so disk space is still reclaimed.
		n, mb := e.bruteForce(ctx, log, report.ID, cfg.PrimaryLocation(), res.OldestSeen)
		report.BruteForceRemoved += n
		report.BruteForceMB += mb
	case res.IndexFailed || res.Processed == 0:
		n, mb := e.sweepOldestOnDisk(ctx, log, report.ID, cfg, s, target)
		report.BruteForceRemoved += n
		report.BruteForceMB += mb
	}

	if ctx.Err() == nil && TimeForBruteForceCleanup(e.stopwatch, policy.BruteForceInterval) {
		if res.Processed > 0 {
			for _, loc := range cfg.CaptureLocations {
				n, mb := e.bruteForce(ctx, log, report.ID, loc, res.OldestSeen)
				report.BruteForceRemoved += n
				report.BruteForceMB += mb
			}
		}
		e.stopwatch.Reset()
	}

	e.RecalculateDiskUsed(ctx, cfg, s)

	log.Info().
		Int64("processed", res.Processed).
		Int("removed", res.Removed).
		Int("not_found", res.NotFound).
		Uint64("space_saved_mb", res.SpaceSavedMB).
		Int("brute_force_removed", report.BruteForceRemoved).
		Int64("total_files", s.TotalFiles).
		Msg("retention cycle complete")

	e.publish(ctx, cfg, s)
	return report
}

// replayUnconfirmed retries index marks recorded as failed in the journal.
func (e *Engine) replayUnconfirmed(ctx context.Context, cfg *config.Config, log zerolog.Logger) {
	if e.journal == nil || ctx.Err() != nil {
		return
	}
	limit := cfg.Journal.ReplayBatch
	if limit <= 0 {
		limit = 500
	}
	entries, err := e.journal.Unconfirmed(ctx, limit)
	if err != nil {
		log.Warn().Err(err).Msg("read unconfirmed removals")
		return
	}
	if len(entries) == 0 {
		return
	}

	refs := make([]index.DocRef, len(entries))
	ids := make([]int64, len(entries))
	for i, en := range entries {
		refs[i] = index.DocRef{DocumentID: en.DocumentID, Index: en.Index}
		ids[i] = en.ID
	}
	if !e.MarkFilesAsRemoved(ctx, refs, index.RemovedUpdate()) {
		return
	}
	if err := e.journal.Confirm(ctx, ids); err != nil {
		log.Warn().Err(err).Msg("confirm replayed removals")
		return
	}
	log.Info().Int("documents", len(refs)).Msg("replayed unconfirmed index marks")
}

func (e *Engine) publish(ctx context.Context, cfg *config.Config, s *Stats) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, s, cfg.PrimaryLocation(), cfg.Retention.StatsPublishInterval); err != nil {
		e.logger.Warn().Err(err).Msg("publish stats")
		e.checkFatal(err)
	}
}

func (e *Engine) checkFatal(err error) {
	if index.IsFatal(err) {
		e.fatal(err)
	}
}

func (e *Engine) remember(s *Stats, report CycleReport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastStats = *s
	e.lastStats.Sink = nil
	e.lastReport = &report
}

// LastCycle returns the stats and report of the most recent cycle. The
// report is nil before the first cycle.
func (e *Engine) LastCycle() (Stats, *CycleReport) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastReport == nil {
		return e.lastStats, nil
	}
	r := *e.lastReport
	return e.lastStats, &r
}
