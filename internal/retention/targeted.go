package retention

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/rs/zerolog"

	"github.com/MacJediWizard/pcapkeeper/internal/index"
	"github.com/MacJediWizard/pcapkeeper/internal/journal"
	"github.com/MacJediWizard/pcapkeeper/internal/metrics"
)

// TargetedResult is the outcome of index-guided removal.
type TargetedResult struct {
	// Processed counts index records handled, including missing files.
	Processed int64 `json:"processed"`
	Removed   int   `json:"removed"`
	// NotFound counts files that could not be removed from disk.
	NotFound     int    `json:"not_found"`
	Suppressed   int    `json:"suppressed"`
	SpaceSavedMB uint64 `json:"space_saved_mb"`
	// OldestSeen is the oldest index timestamp across batches, or the cycle
	// start when no batch had one.
	OldestSeen  time.Time `json:"oldest_seen"`
	MarkFailed  bool      `json:"mark_failed"`
	IndexFailed bool      `json:"index_failed"`
}

// RemoveOldestFilesInIndex removes up to maxToRemove of the oldest indexed
// files, requesting perIteration records at a time, and marks them removed in
// the index. It returns the number of files that could not be removed.
func (e *Engine) RemoveOldestFilesInIndex(ctx context.Context, maxToRemove int64, perIteration int) (int, TargetedResult) {
	res := e.removeOldest(ctx, e.logger, "", maxToRemove, perIteration)
	return res.NotFound, res
}

func (e *Engine) removeOldest(ctx context.Context, log zerolog.Logger, cycleID string, maxToRemove int64, perIteration int) TargetedResult {
	res := TargetedResult{OldestSeen: e.now()}
	var savedBytes uint64

	for res.Processed < maxToRemove {
		if ctx.Err() != nil {
			break
		}

		batch, err := e.oldestFiles(ctx, perIteration)
		if err != nil {
			log.Warn().Err(err).Msg("query oldest files failed")
			e.metrics.RecordIndexError("oldest_files")
			e.checkFatal(err)
			res.IndexFailed = true
			break
		}
		if batch.Len() == 0 {
			break
		}
		if !batch.Oldest.IsZero() && batch.Oldest.Before(res.OldestSeen) {
			res.OldestSeen = batch.Oldest
		}

		pending := NewPendingSet(batch.Files...)
		e.tracker.RemoveDuplicates(pending)

		br := e.removeBatch(ctx, cycleID, batch, pending)
		res.Processed += int64(br.handled)
		res.Removed += br.removed
		res.NotFound += br.notFound
		res.Suppressed += br.suppressed
		savedBytes += br.bytes

		if br.suppressed > 0 {
			log.Info().Int("suppressed", br.suppressed).Msg("skipping files already removed in the previous batch")
		}

		if br.handled == 0 {
			break
		}

		// Files already handled are marked even during shutdown.
		ok := e.MarkFilesAsRemoved(context.WithoutCancel(ctx), refsFor(batch, br.handled), index.RemovedUpdate())
		e.recordJournal(ctx, log, br.entries, ok)
		if !ok {
			res.MarkFailed = true
			break
		}
		if br.handled < batch.Len() {
			break
		}
	}

	res.SpaceSavedMB = savedBytes >> 20
	e.metrics.RecordRemoved(metrics.ModeTargeted, res.Removed, res.SpaceSavedMB)
	e.metrics.RecordNotFound(res.NotFound)
	return res
}

type batchResult struct {
	handled    int
	removed    int
	notFound   int
	suppressed int
	bytes      uint64
	entries    []journal.Entry
}

// removeBatch deletes the batch files that survived duplicate suppression,
// stopping early if ctx is cancelled.
func (e *Engine) removeBatch(ctx context.Context, cycleID string, batch *index.Batch, pending PendingSet) batchResult {
	var br batchResult
	for i, f := range batch.Files {
		if ctx.Err() != nil {
			break
		}
		br.handled++

		if !pending.Has(Pending{Path: f.Path, ID: f.ID}) {
			br.suppressed++
			continue
		}

		removed, size := e.RemoveFile(f.Path)
		if !removed {
			br.notFound++
			continue
		}
		br.removed++
		br.bytes += size

		entry := journal.Entry{
			CycleID:   cycleID,
			Path:      f.Path,
			FileID:    f.ID,
			Mode:      journal.ModeTargeted,
			SizeBytes: int64(size),
			RemovedAt: e.now(),
		}
		if i < len(batch.Refs) {
			entry.DocumentID = batch.Refs[i].DocumentID
			entry.Index = batch.Refs[i].Index
		}
		br.entries = append(br.entries, entry)
	}
	return br
}

// RemoveFile deletes path and returns whether it was removed and its
// logical size in bytes.
func (e *Engine) RemoveFile(path string) (bool, uint64) {
	info, err := e.fs.Lstat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			e.logger.Warn().Err(err).Str("path", path).Msg("stat capture file")
		}
		return false, 0
	}
	if info.IsDir() {
		e.logger.Warn().Str("path", path).Msg("refusing to remove directory")
		return false, 0
	}
	if err := e.fs.Remove(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			e.logger.Warn().Err(err).Str("path", path).Msg("remove capture file")
		}
		return false, 0
	}
	return true, uint64(info.Size())
}

// RemoveFiles deletes every file in set in path order. It returns how many
// could not be removed and the megabytes freed.
func (e *Engine) RemoveFiles(ctx context.Context, set PendingSet) (int, uint64) {
	var (
		notFound int
		bytes    uint64
	)
	for _, p := range set.Sorted() {
		if ctx.Err() != nil {
			break
		}
		removed, size := e.RemoveFile(p.Path)
		if !removed {
			notFound++
			continue
		}
		bytes += size
	}
	return notFound, bytes >> 20
}

// oldestFiles queries the index, turning a panic into an error.
func (e *Engine) oldestFiles(ctx context.Context, n int) (batch *index.Batch, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("index oldest files panicked: %v", r)
		}
	}()
	return e.index.OldestFiles(ctx, n)
}

// refsFor returns the document refs for the first handled files. Refs past
// the handled prefix are never returned, even when the batch is ragged.
func refsFor(batch *index.Batch, handled int) []index.DocRef {
	return batch.Refs[:min(max(handled, 0), len(batch.Refs))]
}

func (e *Engine) recordJournal(ctx context.Context, log zerolog.Logger, entries []journal.Entry, confirmed bool) {
	if e.journal == nil || len(entries) == 0 {
		return
	}
	for i := range entries {
		entries[i].Confirmed = confirmed || entries[i].DocumentID == ""
	}
	// Removals are already done; a journal write must not be cancelled.
	if err := e.journal.Record(context.WithoutCancel(ctx), entries); err != nil {
		log.Warn().Err(err).Int("entries", len(entries)).Msg("record removals in journal")
	}
}
