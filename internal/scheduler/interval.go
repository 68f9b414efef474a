// Package scheduler runs periodic background work. The interval loop
// drives the auto-sync cycle; its period can be changed while running.
package scheduler

import (
	"context"
	"sync"
	"time"

	"fxlink/internal/logger"
)

// IntervalLoop invokes a task on a fixed period. SetInterval takes
// effect at the next wake-up; SetEnabled pauses the task without
// stopping the loop.
type IntervalLoop struct {
	mu       sync.Mutex
	interval time.Duration
	enabled  bool
	kick     chan struct{}
	started  sync.Once
}

func NewIntervalLoop(interval time.Duration, enabled bool) *IntervalLoop {
	if interval <= 0 {
		interval = time.Minute
	}
	return &IntervalLoop{
		interval: interval,
		enabled:  enabled,
		kick:     make(chan struct{}, 1),
	}
}

// SetInterval replaces the period and wakes the loop so the new period
// applies without waiting out the old one.
func (l *IntervalLoop) SetInterval(interval time.Duration) {
	if interval <= 0 {
		logger.Warnf("interval loop: ignoring non-positive interval %s", interval)
		return
	}
	l.mu.Lock()
	l.interval = interval
	l.mu.Unlock()
	l.wake()
}

func (l *IntervalLoop) SetEnabled(enabled bool) {
	l.mu.Lock()
	l.enabled = enabled
	l.mu.Unlock()
	l.wake()
}

func (l *IntervalLoop) wake() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

func (l *IntervalLoop) snapshot() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval, l.enabled
}

// Start blocks until ctx is done, running task once per period while
// enabled. Call from its own goroutine.
func (l *IntervalLoop) Start(ctx context.Context, task func()) {
	l.started.Do(func() {
		interval, _ := l.snapshot()
		logger.Infof("interval loop started, period=%s", interval)
		for {
			interval, enabled := l.snapshot()
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				logger.Infof("interval loop stopped")
				return
			case <-l.kick:
				timer.Stop()
				continue
			case <-timer.C:
			}
			if enabled && task != nil {
				task()
			}
		}
	})
}
