package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handle identifies a scheduled callback.
type Handle string

// Scheduler runs one-shot callbacks after a delay.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) Handle
	// Cancel stops a callback that has not fired and reports whether it did.
	Cancel(h Handle) bool
}

// TimerScheduler runs callbacks on time.AfterFunc goroutines.
type TimerScheduler struct {
	mu     sync.Mutex
	timers map[Handle]*time.Timer
}

// NewTimerScheduler creates an empty scheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{timers: make(map[Handle]*time.Timer)}
}

// Schedule implements Scheduler.
func (s *TimerScheduler) Schedule(delay time.Duration, fn func()) Handle {
	h := Handle(uuid.NewString())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[h] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, live := s.timers[h]
		delete(s.timers, h)
		s.mu.Unlock()
		if live {
			fn()
		}
	})
	return h
}

// Cancel implements Scheduler.
func (s *TimerScheduler) Cancel(h Handle) bool {
	s.mu.Lock()
	t, ok := s.timers[h]
	delete(s.timers, h)
	s.mu.Unlock()
	if !ok {
		return false
	}
	t.Stop()
	return true
}

// Len returns the number of outstanding timers.
func (s *TimerScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every outstanding timer.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	timers := s.timers
	s.timers = make(map[Handle]*time.Timer)
	s.mu.Unlock()
	for _, t := range timers {
		t.Stop()
	}
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
