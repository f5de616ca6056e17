package library

import (
	"sync"
	"time"
)

// ScanDebouncer collapses bursts of gamelist change events into a single
// rescan. Re-arming replaces the pending fire rather than stacking another,
// so a burst of edits (e.g. bulk favoriting) runs exactly one scan once the
// quiescence window elapses.
type ScanDebouncer struct {
	window time.Duration
	fire   func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewScanDebouncer creates a debouncer that calls fire after window of
// quiescence following the last Trigger.
func NewScanDebouncer(window time.Duration, fire func()) *ScanDebouncer {
	return &ScanDebouncer{
		window: window,
		fire:   fire,
	}
}

// Trigger records a change event and re-arms the quiescence timer,
// cancelling any pending fire.
func (d *ScanDebouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *ScanDebouncer) flush() {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()

	if !stopped && d.fire != nil {
		d.fire()
	}
}

// Stop prevents any further fires.
func (d *ScanDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
