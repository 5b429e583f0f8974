package retention

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MacJediWizard/pcapkeeper/internal/diskusage"
	"github.com/MacJediWizard/pcapkeeper/internal/index"
	"github.com/MacJediWizard/pcapkeeper/internal/journal"
)

func int64p(v int64) *int64 { return &v }

func TestRecalculateDiskUsed_StaleOnFailure(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir, "a.pcap", 2<<20, time.Now())
	cfg := testConfig(dir)
	idx := &fakeIndex{countVal: int64p(1234)}
	engine := newTestEngine(cfg, idx)
	stats := NewStats(nil)

	engine.RecalculateDiskUsed(context.Background(), cfg, stats)
	assert.Equal(t, int64(1234), stats.TotalFiles)
	assert.Equal(t, uint64(2), stats.UsageMB)

	idx.countErr = errors.New("index unreachable")
	writeCapture(t, dir, "b.pcap", 1<<20, time.Now())
	engine.RecalculateDiskUsed(context.Background(), cfg, stats)
	assert.Equal(t, int64(1234), stats.TotalFiles, "file count stays stale")
	assert.Equal(t, uint64(3), stats.UsageMB, "usage is refreshed regardless")

	idx.countErr = nil
	idx.countVal = int64p(0)
	engine.RecalculateDiskUsed(context.Background(), cfg, stats)
	assert.Equal(t, int64(0), stats.TotalFiles)
}

func TestRecalculateDiskUsed_PanicLeavesStale(t *testing.T) {
	cfg := testConfig(t.TempDir())
	idx := &fakeIndex{countVal: int64p(7)}
	engine := newTestEngine(cfg, idx)
	stats := NewStats(nil)

	engine.RecalculateDiskUsed(context.Background(), cfg, stats)
	idx.panicky = true
	assert.NotPanics(t, func() { engine.RecalculateDiskUsed(context.Background(), cfg, stats) })
	assert.Equal(t, int64(7), stats.TotalFiles)
}

func TestRecalculateDiskUsed_ProbeFigures(t *testing.T) {
	cfg := testConfig(t.TempDir())
	engine := newTestEngine(cfg, &fakeIndex{})
	stats := NewStats(nil)

	engine.RecalculateDiskUsed(context.Background(), cfg, stats)
	assert.Equal(t, diskusage.Space{Free: 60, Total: 100, Used: 40}, stats.Probe)
	assert.Equal(t, uint64(100), stats.Capture.Total)

	failing := newTestEngine(cfg, &fakeIndex{}, func(d *Deps) { d.Usage = dirUsage{probeErr: errors.New("statfs failed")} })
	failing.RecalculateDiskUsed(context.Background(), cfg, stats)
	assert.Equal(t, uint64(40), stats.Probe.Used, "previous probe figures are kept")
}

// splitProbe places every location on its own partition.
type splitProbe struct {
	tree map[string]uint64
	part diskusage.PartitionStat
}

func (p splitProbe) PartitionID(path string) (uint64, error) {
	return uint64(len(path)), nil
}

func (p splitProbe) Partition(string) (diskusage.PartitionStat, error) { return p.part, nil }

func (p splitProbe) TreeUsage(path string) (uint64, error) { return p.tree[path], nil }

func TestRecalculateDiskUsed_ConvertsEachLocation(t *testing.T) {
	const halfMB = 512 << 10
	probe := splitProbe{
		tree: map[string]uint64{"/pcap0": 1<<20 + halfMB, "/pcap01": 1<<20 + halfMB},
		part: diskusage.PartitionStat{Free: 1<<30 + 512<<20, Total: 1<<30 + 512<<20},
	}
	cfg := testConfig("/pcap0", "/pcap01")
	cfg.Retention.SizeLimitMB = 2
	engine := newTestEngine(cfg, &fakeIndex{countVal: int64p(2)}, func(d *Deps) {
		d.Usage = diskusage.NewAggregator(probe, zerolog.Nop())
	})
	stats := NewStats(nil)

	engine.RecalculateDiskUsed(context.Background(), cfg, stats)
	assert.Equal(t, uint64(2), stats.UsageMB, "1.5 MB per location truncates to 1 MB each")
	assert.False(t, TooMuchCapacityUsed(cfg.Retention, stats))
	assert.Equal(t, diskusage.Space{Free: 3, Total: 3, Used: 0}, stats.Capture, "GB derives from the MB sums")
}

func TestCleanupOldPcapFiles_WithinLimits(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	idx := &fakeIndex{}
	a := writeCapture(t, dir, "a.pcap", 10, now.Add(-time.Hour))
	idx.add(a, "1", now.Add(-time.Hour))

	cfg := testConfig(dir)
	cfg.Retention.FileCountLimit = 10
	engine := newTestEngine(cfg, idx)

	report := engine.CleanupOldPcapFiles(context.Background(), NewStats(nil))

	assert.Equal(t, OutcomeWithinLimits, report.Outcome)
	assert.True(t, exists(a))
	assert.Empty(t, idx.oldestCalls)
	assert.Equal(t, int64(1), report.FilesBefore)
}

func TestCleanupOldPcapFiles_NoLimitsNeverRemoves(t *testing.T) {
	dir := t.TempDir()
	a := writeCapture(t, dir, "a.pcap", 1<<20, time.Now().Add(-time.Hour))
	idx := &fakeIndex{}
	idx.add(a, "1", time.Now().Add(-time.Hour))

	engine := newTestEngine(testConfig(dir), idx)
	report := engine.CleanupOldPcapFiles(context.Background(), NewStats(nil))

	assert.Equal(t, OutcomeWithinLimits, report.Outcome)
	assert.True(t, exists(a))
}

func TestCleanupOldPcapFiles_OverFileLimit(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	idx := &fakeIndex{}
	var paths []string
	for i := 0; i < 3; i++ {
		ts := now.Add(-time.Duration(3-i) * time.Hour)
		p := writeCapture(t, dir, fmt.Sprintf("f%d.pcap", i), 1<<20, ts)
		idx.add(p, fmt.Sprint(i), ts)
		paths = append(paths, p)
	}
	orphan := writeCapture(t, dir, "orphan.pcap", 10, now.Add(-10*time.Hour))

	cfg := testConfig(dir)
	cfg.Retention.FileCountLimit = 1
	sw := &fakeStopwatch{}
	engine := newTestEngine(cfg, idx, func(d *Deps) { d.Stopwatch = sw })

	stats := NewStats(nil)
	report := engine.CleanupOldPcapFiles(context.Background(), stats)

	assert.Equal(t, OutcomeRemoved, report.Outcome)
	assert.Equal(t, int64(3), report.Target, "overshoot margin capped at the file count")
	assert.Equal(t, int64(3), report.Targeted.Processed)
	assert.Equal(t, uint64(3), report.Targeted.SpaceSavedMB)
	for _, p := range paths {
		assert.False(t, exists(p))
	}
	assert.True(t, exists(orphan), "no brute force before the interval elapses")
	assert.Equal(t, 0, sw.resets)
	assert.Equal(t, int64(0), stats.TotalFiles)
	assert.Equal(t, int64(3), report.FilesBefore)
	assert.Equal(t, int64(0), report.FilesAfter)
}

func TestCleanupOldPcapFiles_MarkFailureEscalatesToBruteForce(t *testing.T) {
	primary := t.TempDir()
	secondary := t.TempDir()
	now := time.Now()
	idx := &fakeIndex{markErr: errors.New("bulk rejected")}
	a := writeCapture(t, primary, "a.pcap", 10, now.Add(-3*time.Hour))
	b := writeCapture(t, primary, "b.pcap", 10, now.Add(-time.Hour))
	idx.add(a, "1", now.Add(-3*time.Hour))
	idx.add(b, "2", now.Add(-time.Hour))
	orphan := writeCapture(t, primary, "orphan.pcap", 10, now.Add(-5*time.Hour))
	otherOrphan := writeCapture(t, secondary, "orphan.pcap", 10, now.Add(-5*time.Hour))

	cfg := testConfig(primary, secondary)
	cfg.Retention.FileCountLimit = 1
	engine := newTestEngine(cfg, idx)

	report := engine.CleanupOldPcapFiles(context.Background(), NewStats(nil))

	assert.True(t, report.Targeted.MarkFailed)
	assert.False(t, exists(a))
	assert.False(t, exists(b))
	assert.False(t, exists(orphan), "primary location is swept up to the oldest indexed time")
	assert.True(t, exists(otherOrphan), "only the primary location is swept on mark failure")
	assert.Equal(t, 1, report.BruteForceRemoved)
}

func TestCleanupOldPcapFiles_IndexDownSweepsBySize(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	f1 := writeCapture(t, dir, "1.pcap", 1<<20, now.Add(-3*time.Hour))
	f2 := writeCapture(t, dir, "2.pcap", 1<<20, now.Add(-2*time.Hour))
	f3 := writeCapture(t, dir, "3.pcap", 1<<20, now.Add(-time.Hour))
	idx := &fakeIndex{countVal: int64p(3), oldErr: errors.New("down")}

	cfg := testConfig(dir)
	cfg.Retention.SizeLimitMB = 1
	engine := newTestEngine(cfg, idx)

	stats := NewStats(nil)
	report := engine.CleanupOldPcapFiles(context.Background(), stats)

	assert.True(t, report.Targeted.IndexFailed)
	assert.False(t, exists(f1))
	assert.False(t, exists(f2))
	assert.True(t, exists(f3))
	assert.Equal(t, 2, report.BruteForceRemoved)
	assert.Equal(t, uint64(1), stats.UsageMB)
}

func TestCleanupOldPcapFiles_TimedBruteForce(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	now := time.Now()
	idx := &fakeIndex{}
	a := writeCapture(t, first, "a.pcap", 10, now.Add(-2*time.Hour))
	b := writeCapture(t, first, "b.pcap", 10, now.Add(-time.Hour))
	idx.add(a, "1", now.Add(-2*time.Hour))
	idx.add(b, "2", now.Add(-time.Hour))
	orphan1 := writeCapture(t, first, "orphan.pcap", 10, now.Add(-4*time.Hour))
	orphan2 := writeCapture(t, second, "orphan.pcap", 10, now.Add(-4*time.Hour))
	keep := writeCapture(t, second, "fresh.pcap", 10, now.Add(-30*time.Minute))

	cfg := testConfig(first, second)
	cfg.Retention.FileCountLimit = 1
	sw := &fakeStopwatch{elapsed: 21 * time.Minute}
	engine := newTestEngine(cfg, idx, func(d *Deps) { d.Stopwatch = sw })

	report := engine.CleanupOldPcapFiles(context.Background(), NewStats(nil))

	assert.False(t, exists(orphan1))
	assert.False(t, exists(orphan2))
	assert.True(t, exists(keep))
	assert.Equal(t, 2, report.BruteForceRemoved)
	assert.Equal(t, 1, sw.resets)
}

func TestCleanupOldPcapFiles_ReplaysJournal(t *testing.T) {
	cfg := testConfig(t.TempDir())
	idx := &fakeIndex{}
	j := &fakeJournal{unconfirmed: []journal.Entry{
		{ID: 4, Path: "/pcap0/a.pcap", DocumentID: "a", Index: "network_1"},
		{ID: 9, Path: "/pcap0/b.pcap", DocumentID: "b", Index: "network_1"},
	}}
	engine := newTestEngine(cfg, idx, func(d *Deps) { d.Journal = j })

	engine.CleanupOldPcapFiles(context.Background(), NewStats(nil))

	require.Len(t, idx.markCalls, 1)
	assert.Equal(t, []index.DocRef{{DocumentID: "a", Index: "network_1"}, {DocumentID: "b", Index: "network_1"}}, idx.markCalls[0])
	assert.Equal(t, []int64{4, 9}, j.confirmed)
}

func TestCleanupOldPcapFiles_ReplayFailureKeepsEntries(t *testing.T) {
	cfg := testConfig(t.TempDir())
	idx := &fakeIndex{markErr: errors.New("still down")}
	j := &fakeJournal{unconfirmed: []journal.Entry{{ID: 1, DocumentID: "a", Index: "i"}}}
	engine := newTestEngine(cfg, idx, func(d *Deps) { d.Journal = j })

	engine.CleanupOldPcapFiles(context.Background(), NewStats(nil))

	assert.Empty(t, j.confirmed)
	assert.Len(t, j.unconfirmed, 1)
}

func TestCleanupOldPcapFiles_FatalTransportError(t *testing.T) {
	cfg := testConfig(t.TempDir())
	idx := &fakeIndex{countErr: fmt.Errorf("send: %w", syscall.EBADF)}
	var fatal error
	engine := newTestEngine(cfg, idx, func(d *Deps) { d.Fatal = func(err error) { fatal = err } })

	engine.CleanupOldPcapFiles(context.Background(), NewStats(nil))

	require.Error(t, fatal)
	assert.ErrorIs(t, fatal, syscall.EBADF)
}

func TestCleanupOldPcapFiles_TransientErrorIsNotFatal(t *testing.T) {
	cfg := testConfig(t.TempDir())
	idx := &fakeIndex{countErr: fmt.Errorf("%w: connection refused", index.ErrIndexUnavailable)}
	called := false
	engine := newTestEngine(cfg, idx, func(d *Deps) { d.Fatal = func(error) { called = true } })

	engine.CleanupOldPcapFiles(context.Background(), NewStats(nil))
	assert.False(t, called)
}

func TestCleanupOldPcapFiles_Interrupted(t *testing.T) {
	dir := t.TempDir()
	idx := &fakeIndex{}
	a := writeCapture(t, dir, "a.pcap", 10, time.Now().Add(-time.Hour))
	idx.add(a, "1", time.Now().Add(-time.Hour))
	idx.add(filepath.Join(dir, "b.pcap"), "2", time.Now())

	cfg := testConfig(dir)
	cfg.Retention.FileCountLimit = 1
	engine := newTestEngine(cfg, idx)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := engine.CleanupOldPcapFiles(ctx, NewStats(nil))

	assert.Equal(t, OutcomeInterrupted, report.Outcome)
	assert.True(t, exists(a))
}

func TestCleanupOldPcapFiles_PublishesStats(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir, "a.pcap", 3<<20, time.Now())
	cfg := testConfig(dir)
	sink := &recordingSink{}
	sampler := &fakeSampler{samples: []diskusage.IOCounters{{WriteOps: 10}}}
	pub := NewPublisher(sampler, nil, zerolog.Nop())
	engine := newTestEngine(cfg, &fakeIndex{}, func(d *Deps) { d.Publisher = pub })

	stats := NewStats(sink)
	engine.CleanupOldPcapFiles(context.Background(), stats)

	assert.Equal(t, uint64(3), sink.value(KeyUsageMB))
	assert.False(t, stats.Timestamp.IsZero())
}

func TestEngine_LastCycle(t *testing.T) {
	cfg := testConfig(t.TempDir())
	engine := newTestEngine(cfg, &fakeIndex{countVal: int64p(5)})

	_, report := engine.LastCycle()
	assert.Nil(t, report)

	sink := &recordingSink{}
	engine.CleanupOldPcapFiles(context.Background(), NewStats(sink))

	stats, report := engine.LastCycle()
	require.NotNil(t, report)
	assert.Equal(t, OutcomeWithinLimits, report.Outcome)
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, int64(5), stats.TotalFiles)
	assert.Nil(t, stats.Sink)
}

func TestMarkFilesAsRemoved(t *testing.T) {
	idx := &fakeIndex{}
	engine := newTestEngine(testConfig(t.TempDir()), idx)

	assert.False(t, engine.MarkFilesAsRemoved(context.Background(), nil, index.RemovedUpdate()))
	assert.Empty(t, idx.markCalls, "empty sets are not sent")

	refs := []index.DocRef{{DocumentID: "a", Index: "i"}}
	assert.True(t, engine.MarkFilesAsRemoved(context.Background(), refs, index.RemovedUpdate()))

	idx.markErr = errors.New("rejected")
	assert.False(t, engine.MarkFilesAsRemoved(context.Background(), refs, index.RemovedUpdate()))
	assert.Len(t, idx.markCalls, 2)
}
