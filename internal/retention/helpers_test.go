package retention

import (
	"context"
	"crypto/rand"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/MacJediWizard/pcapkeeper/internal/config"
	"github.com/MacJediWizard/pcapkeeper/internal/diskusage"
	"github.com/MacJediWizard/pcapkeeper/internal/index"
	"github.com/MacJediWizard/pcapkeeper/internal/journal"
)

type staticConfig struct{ cfg *config.Config }

func (s staticConfig) Current() *config.Config { return s.cfg.Snapshot() }

func testConfig(locations ...string) *config.Config {
	cfg := config.Default()
	cfg.CaptureLocations = locations
	if len(locations) > 0 {
		cfg.ProbeLocation = locations[0]
	}
	return cfg
}

// dirUsage reports logical file sizes under each location as tree usage.
type dirUsage struct {
	probeErr error
}

func (d dirUsage) PcapUsage(locations []string, unit diskusage.Unit) (diskusage.Space, error) {
	var space diskusage.Space
	for _, loc := range locations {
		var used uint64
		filepath.WalkDir(loc, func(path string, de fs.DirEntry, err error) error {
			if err != nil || de.IsDir() {
				return nil
			}
			if info, err := de.Info(); err == nil {
				used += uint64(info.Size())
			}
			return nil
		})
		space.Used += diskusage.Convert(used, unit)
	}
	space.Total = diskusage.Convert(100<<30, unit)
	space.Free = space.Total - space.Used
	return space, nil
}

func (d dirUsage) ProbeUsage(string, diskusage.Unit) (diskusage.Space, error) {
	if d.probeErr != nil {
		return diskusage.Space{}, d.probeErr
	}
	return diskusage.Space{Free: 60, Total: 100, Used: 40}, nil
}

type indexedFile struct {
	file    index.File
	ref     index.DocRef
	removed bool
}

// fakeIndex is an in-memory document index ordered by timestamp.
type fakeIndex struct {
	mu       sync.Mutex
	files    []*indexedFile
	countErr error
	countVal *int64
	oldErr   error
	markErr  error
	panicky  bool

	oldestCalls []int
	markCalls   [][]index.DocRef
}

func (f *fakeIndex) add(path, id string, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, &indexedFile{
		file: index.File{Path: path, ID: id, Timestamp: ts},
		ref:  index.DocRef{DocumentID: id, Index: "network_test"},
	})
	sort.SliceStable(f.files, func(i, j int) bool {
		return f.files[i].file.Timestamp.Before(f.files[j].file.Timestamp)
	})
}

func (f *fakeIndex) FileCount(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicky {
		panic("index client blew up")
	}
	if f.countErr != nil {
		return 0, f.countErr
	}
	if f.countVal != nil {
		return *f.countVal, nil
	}
	var n int64
	for _, x := range f.files {
		if !x.removed {
			n++
		}
	}
	return n, nil
}

func (f *fakeIndex) OldestFiles(_ context.Context, n int) (*index.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oldestCalls = append(f.oldestCalls, n)
	if f.oldErr != nil {
		return nil, f.oldErr
	}
	batch := &index.Batch{}
	for _, x := range f.files {
		if len(batch.Files) == n {
			break
		}
		if x.removed {
			continue
		}
		batch.Files = append(batch.Files, x.file)
		batch.Refs = append(batch.Refs, x.ref)
		if batch.Oldest.IsZero() || x.file.Timestamp.Before(batch.Oldest) {
			batch.Oldest = x.file.Timestamp
		}
	}
	return batch, nil
}

func (f *fakeIndex) BulkMarkRemoved(_ context.Context, refs []index.DocRef, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls = append(f.markCalls, append([]index.DocRef(nil), refs...))
	if f.markErr != nil {
		return f.markErr
	}
	for _, ref := range refs {
		for _, x := range f.files {
			if x.ref == ref {
				x.removed = true
			}
		}
	}
	return nil
}

func (f *fakeIndex) unremoved() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, x := range f.files {
		if !x.removed {
			n++
		}
	}
	return n
}

type fakeStopwatch struct {
	elapsed time.Duration
	resets  int
}

func (s *fakeStopwatch) Elapsed() time.Duration { return s.elapsed }

func (s *fakeStopwatch) Reset() {
	s.elapsed = 0
	s.resets++
}

type fakeJournal struct {
	mu          sync.Mutex
	recorded    []journal.Entry
	unconfirmed []journal.Entry
	confirmed   []int64
	err         error
}

func (j *fakeJournal) Record(_ context.Context, entries []journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recorded = append(j.recorded, entries...)
	return j.err
}

func (j *fakeJournal) Unconfirmed(_ context.Context, limit int) ([]journal.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return nil, j.err
	}
	if len(j.unconfirmed) > limit {
		return j.unconfirmed[:limit], nil
	}
	return j.unconfirmed, nil
}

func (j *fakeJournal) Confirm(_ context.Context, ids []int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.confirmed = append(j.confirmed, ids...)
	j.unconfirmed = nil
	return nil
}

// writeCapture creates a capture file of size bytes with the given mtime.
func writeCapture(t *testing.T, dir, name string, size int, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	data := make([]byte, size)
	// Random content keeps compressing filesystems from shrinking allocation.
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("random data: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
	return path
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func newTestEngine(cfg *config.Config, idx index.Index, opts ...func(*Deps)) *Engine {
	deps := Deps{
		Config: staticConfig{cfg},
		Usage:  dirUsage{},
		Index:  idx,
		FS:     OSFileSystem{},
		Logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(&deps)
	}
	return NewEngine(deps)
}
