package retention

import (
	"sort"
	"sync"

	"github.com/MacJediWizard/pcapkeeper/internal/index"
)

// Pending identifies a file removed from disk whose index record is not yet
// confirmed removed.
type Pending struct {
	Path string
	ID   string
}

// PendingSet is a set of Pending values compared by full value.
type PendingSet map[Pending]struct{}

// NewPendingSet builds a set from index files.
func NewPendingSet(files ...index.File) PendingSet {
	set := make(PendingSet, len(files))
	for _, f := range files {
		set.Add(Pending{Path: f.Path, ID: f.ID})
	}
	return set
}

// Add inserts p.
func (s PendingSet) Add(p Pending) { s[p] = struct{}{} }

// Has reports whether p is in the set.
func (s PendingSet) Has(p Pending) bool {
	_, ok := s[p]
	return ok
}

// Len returns the number of elements.
func (s PendingSet) Len() int { return len(s) }

// Sorted returns the elements ordered by path, then id.
func (s PendingSet) Sorted() []Pending {
	out := make([]Pending, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Tracker suppresses a batch that repeats the previous one exactly, so a
// stuck batch is not retried forever.
type Tracker struct {
	mu       sync.Mutex
	baseline PendingSet
}

// NewTracker returns a tracker with an empty baseline.
func NewTracker() *Tracker {
	return &Tracker{baseline: PendingSet{}}
}

// RemoveDuplicates drops every element of set that is in the baseline, then
// makes what is left the baseline for the next call.
func (t *Tracker) RemoveDuplicates(set PendingSet) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for p := range set {
		if t.baseline.Has(p) {
			delete(set, p)
		}
	}

	next := make(PendingSet, len(set))
	for p := range set {
		next.Add(p)
	}
	t.baseline = next
}

// Baseline returns a copy of the remembered set.
func (t *Tracker) Baseline() PendingSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make(PendingSet, len(t.baseline))
	for p := range t.baseline {
		cp.Add(p)
	}
	return cp
}
