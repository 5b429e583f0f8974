package stats

import (
	"context"
	"sync/atomic"
)

type sinkHolder struct{ Sink }

// Swap forwards to a replaceable sink. An empty Swap drops every stat.
type Swap struct {
	cur atomic.Pointer[sinkHolder]
}

// Set replaces the sink; nil disables it.
func (s *Swap) Set(sink Sink) {
	if sink == nil {
		s.cur.Store(nil)
		return
	}
	s.cur.Store(&sinkHolder{sink})
}

// Current returns the active sink or nil.
func (s *Swap) Current() Sink {
	if h := s.cur.Load(); h != nil {
		return h.Sink
	}
	return nil
}

// Send implements Sink.
func (s *Swap) Send(ctx context.Context, key string, value uint64) error {
	if sink := s.Current(); sink != nil {
		return sink.Send(ctx, key, value)
	}
	return nil
}
