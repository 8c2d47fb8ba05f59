// Package idle provides a debounced-callback primitive. Bursts of Touch calls
// within the delay window collapse into a single callback invocation after the
// burst goes quiet.
package idle

import (
	"sync"
	"time"
)

// Scheduler arms a delay timer on each Touch; only the most recent Touch
// within the window fires. The callback runs on the timer goroutine.
type Scheduler struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	pending bool
	gen     uint64 // bumped on every arm; stale timer firings check it
}

// NewScheduler creates a scheduler with a fixed delay and callback.
func NewScheduler(delay time.Duration, fn func()) *Scheduler {
	return &Scheduler{
		delay: delay,
		fn:    fn,
	}
}

// Touch (re)arms the delay timer. A Touch during the window resets it.
func (s *Scheduler) Touch() {
	s.TouchAfter(s.delay)
}

// TouchAfter (re)arms the timer with an explicit delay, overriding the
// scheduler's configured one for this window. Callers with a reloadable
// delay pass the current value on every touch.
func (s *Scheduler) TouchAfter(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}

	s.pending = true
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(delay, func() { s.fire(gen) })
}

// Flush cancels the timer and invokes the callback immediately if one was
// pending. It is a no-op when nothing is pending.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = false
	fn := s.fn
	s.mu.Unlock()

	fn()
}

// Cancel stops the timer without invoking the callback.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = false
}

// Pending reports whether a callback is armed but not yet fired.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if !s.pending || gen != s.gen {
		// Flush, Cancel, or a newer Touch won the race. The gen check covers
		// a timer that elapsed just before a Touch rearmed the window.
		s.mu.Unlock()
		return
	}
	s.pending = false
	s.timer = nil
	fn := s.fn
	s.mu.Unlock()

	fn()
}
