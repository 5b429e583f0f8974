package retention

import (
	"sync"
	"time"
)

// Stopwatch measures time since its last reset.
type Stopwatch interface {
	Elapsed() time.Duration
	Reset()
}

type clockStopwatch struct {
	mu    sync.Mutex
	now   func() time.Time
	start time.Time
}

// NewStopwatch starts a stopwatch on the given clock; nil means time.Now.
func NewStopwatch(now func() time.Time) Stopwatch {
	if now == nil {
		now = time.Now
	}
	return &clockStopwatch{now: now, start: now()}
}

func (s *clockStopwatch) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.start)
}

func (s *clockStopwatch) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start = s.now()
}
