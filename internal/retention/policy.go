package retention

import (
	"time"

	"github.com/MacJediWizard/pcapkeeper/internal/config"
)

// Iteration quota bounds.
const (
	quotaDivisor    = 50
	quotaFloor      = 1000
	quotaCap        = 500000
	overshootMargin = 100
)

// TooMuchCapacityUsed reports whether either enabled limit is exceeded.
func TooMuchCapacityUsed(p config.RetentionPolicy, s *Stats) bool {
	if p.FileCountLimit > 0 && s.TotalFiles > p.FileCountLimit {
		return true
	}
	return p.SizeLimitMB > 0 && s.UsageMB > p.SizeLimitMB
}

// WayTooManyFiles reports a file count above twice the limit.
func WayTooManyFiles(p config.RetentionPolicy, s *Stats) bool {
	return p.FileCountLimit > 0 && s.TotalFiles > 2*p.FileCountLimit
}

// IterationTargetToRemove is how many files a cycle aims to remove: 2% of
// the total, at least 1000 and at most 500000. With no file limit it is the
// whole total.
func IterationTargetToRemove(p config.RetentionPolicy, s *Stats) int64 {
	total := s.TotalFiles
	if total <= 0 {
		return 0
	}
	if p.FileCountLimit <= 0 {
		return total
	}

	target := (total + quotaDivisor - 1) / quotaDivisor
	if target < quotaFloor {
		return quotaFloor
	}
	if target > quotaCap {
		return quotaCap
	}
	return target
}

// CleanupMassiveOvershoot adds the overshoot margin to extra without
// exceeding the number of files that exist.
func CleanupMassiveOvershoot(extra int64, s *Stats) int64 {
	return min(extra+overshootMargin, s.TotalFiles)
}

// CalculateNewTotalFiles is the file count after removing removed files.
// When removed equals a nonzero current total the result is flag.
//
// TODO: confirm with the index owners whether the tie case should ever
// report a remaining file instead of zero.
func CalculateNewTotalFiles(current, removed, flag int64) int64 {
	if current == removed && current != 0 {
		return flag
	}
	if removed >= current {
		return 0
	}
	return current - removed
}

// TimeForBruteForceCleanup reports whether interval has passed since sw was reset.
func TimeForBruteForceCleanup(sw Stopwatch, interval time.Duration) bool {
	return sw.Elapsed() > interval
}
