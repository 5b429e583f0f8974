package index

import (
	"context"
	"sync/atomic"
)

type indexHolder struct{ Index }

// Swappable forwards to an Index that can be replaced while in use, so a
// config reload can point the engine at a new index without a restart.
type Swappable struct {
	cur atomic.Pointer[indexHolder]
}

// NewSwappable creates a Swappable serving initial.
func NewSwappable(initial Index) *Swappable {
	s := &Swappable{}
	s.Set(initial)
	return s
}

// Set replaces the index used by subsequent calls.
func (s *Swappable) Set(idx Index) {
	s.cur.Store(&indexHolder{idx})
}

// Current returns the index in use.
func (s *Swappable) Current() Index {
	return s.cur.Load().Index
}

// FileCount implements Index.
func (s *Swappable) FileCount(ctx context.Context) (int64, error) {
	return s.Current().FileCount(ctx)
}

// OldestFiles implements Index.
func (s *Swappable) OldestFiles(ctx context.Context, n int) (*Batch, error) {
	return s.Current().OldestFiles(ctx, n)
}

// BulkMarkRemoved implements Index.
func (s *Swappable) BulkMarkRemoved(ctx context.Context, refs []DocRef, update map[string]any) error {
	return s.Current().BulkMarkRemoved(ctx, refs, update)
}
