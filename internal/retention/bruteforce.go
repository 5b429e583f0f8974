package retention

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/MacJediWizard/pcapkeeper/internal/config"
	"github.com/MacJediWizard/pcapkeeper/internal/journal"
	"github.com/MacJediWizard/pcapkeeper/internal/metrics"
)

// BruteForceCleanup removes every regular file under path modified strictly
// before cutoff, without consulting the index. It returns the number of files
// removed and the megabytes they occupied on disk.
func (e *Engine) BruteForceCleanup(ctx context.Context, path string, cutoff time.Time) (int, uint64) {
	return e.bruteForce(ctx, e.logger, "", path, cutoff)
}

func (e *Engine) bruteForce(ctx context.Context, log zerolog.Logger, cycleID, path string, cutoff time.Time) (int, uint64) {
	if path == "" || ctx.Err() != nil {
		return 0, 0
	}

	files, err := e.fs.OlderThan(path, cutoff)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("brute force scan failed")
		return 0, 0
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ModTime.Before(files[j].ModTime) })

	var (
		removed    int
		allocBytes uint64
		entries    []journal.Entry
	)
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		if err := e.fs.Remove(f.Path); err != nil {
			log.Debug().Err(err).Str("path", f.Path).Msg("brute force remove failed")
			continue
		}
		removed++
		allocBytes += uint64(f.Allocated)
		entries = append(entries, journal.Entry{
			CycleID:   cycleID,
			Path:      f.Path,
			Mode:      journal.ModeBruteForce,
			SizeBytes: f.Size,
			RemovedAt: e.now(),
			Confirmed: true,
		})
	}

	savedMB := allocBytes >> 20
	if removed > 0 {
		log.Info().
			Str("path", path).
			Time("cutoff", cutoff).
			Int("removed", removed).
			Uint64("space_saved_mb", savedMB).
			Msg("brute force cleanup removed files")
	}
	e.metrics.RecordRemoved(metrics.ModeBruteForce, removed, savedMB)
	e.recordJournal(ctx, log, entries, true)
	return removed, savedMB
}

// sweepOldestOnDisk picks a cutoff from file ages on disk when the index
// cannot supply candidates, then sweeps every location up to it. Enough of
// the oldest files are chosen to cover the file quota and the size excess.
func (e *Engine) sweepOldestOnDisk(ctx context.Context, log zerolog.Logger, cycleID string, cfg *config.Config, s *Stats, quota int64) (int, uint64) {
	policy := cfg.Retention
	var wantFiles int64
	if policy.FileCountLimit > 0 {
		wantFiles = quota
	}
	var wantBytes uint64
	if policy.SizeLimitMB > 0 && s.UsageMB > policy.SizeLimitMB {
		wantBytes = (s.UsageMB - policy.SizeLimitMB) << 20
	}
	if wantFiles <= 0 && wantBytes == 0 {
		return 0, 0
	}

	// Files written after the cycle started are never candidates.
	horizon := e.now()
	var all []AgedFile
	for _, loc := range cfg.CaptureLocations {
		files, err := e.fs.OlderThan(loc, horizon)
		if err != nil {
			log.Warn().Err(err).Str("path", loc).Msg("disk age scan failed")
			continue
		}
		all = append(all, files...)
	}
	if len(all) == 0 {
		return 0, 0
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ModTime.Before(all[j].ModTime) })

	var (
		count int64
		bytes uint64
		last  time.Time
	)
	for _, f := range all {
		if count >= wantFiles && bytes >= wantBytes {
			break
		}
		count++
		bytes += uint64(f.Allocated)
		last = f.ModTime
	}
	cutoff := last.Add(time.Nanosecond)

	log.Warn().
		Time("cutoff", cutoff).
		Int64("files", count).
		Msg("index gave no candidates, sweeping oldest files on disk")

	var (
		removed int
		savedMB uint64
	)
	for _, loc := range cfg.CaptureLocations {
		n, mb := e.bruteForce(ctx, log, cycleID, loc, cutoff)
		removed += n
		savedMB += mb
	}
	return removed, savedMB
}
