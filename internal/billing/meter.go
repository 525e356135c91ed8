package billing

import (
	"sync"
	"time"
)

// Snapshot is one tick of the live display: elapsed wall-clock time and the
// running cost estimate.
type Snapshot struct {
	Elapsed time.Duration
	Cost    float64
	Clock   string
}

// Meter drives the once-per-second live cost display while a session is
// active. It must be stopped on every path that ends the session, including
// teardown, so no ticker goroutine outlives its session.
type Meter struct {
	mu       sync.Mutex
	interval time.Duration
	stop     chan struct{}
	now      func() time.Time
}

// NewMeter returns a stopped meter ticking at the given interval
// (defaults to one second).
func NewMeter(interval time.Duration) *Meter {
	if interval <= 0 {
		interval = time.Second
	}
	return &Meter{interval: interval, now: time.Now}
}

// Start begins ticking against the session start time. Each tick calls fn
// with a fresh snapshot. Calling Start while running restarts the meter.
func (m *Meter) Start(start time.Time, hourlyRate float64, fn func(Snapshot)) {
	m.mu.Lock()
	if m.stop != nil {
		close(m.stop)
	}
	stop := make(chan struct{})
	m.stop = stop
	now := m.now
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				current := now()
				elapsed := current.Sub(start)
				fn(Snapshot{
					Elapsed: elapsed,
					Cost:    Cost(start, current, hourlyRate),
					Clock:   FormatClock(elapsed),
				})
			}
		}
	}()
}

// Stop cancels the periodic tick. Safe to call repeatedly and when the
// meter never started.
func (m *Meter) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}
