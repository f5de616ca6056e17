package library

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncerCollapsesBurst(t *testing.T) {
	var fires atomic.Int32
	d := NewScanDebouncer(50*time.Millisecond, func() { fires.Add(1) })
	defer d.Stop()

	for i := 0; i < 10; i++ {
		d.Trigger()
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(150 * time.Millisecond)
	if got := fires.Load(); got != 1 {
		t.Errorf("expected exactly 1 fire for a burst, got %d", got)
	}
}

func TestDebouncerFiresAgainAfterQuiescence(t *testing.T) {
	var fires atomic.Int32
	d := NewScanDebouncer(30*time.Millisecond, func() { fires.Add(1) })
	defer d.Stop()

	d.Trigger()
	time.Sleep(100 * time.Millisecond)
	d.Trigger()
	time.Sleep(100 * time.Millisecond)

	if got := fires.Load(); got != 2 {
		t.Errorf("expected 2 fires for separated triggers, got %d", got)
	}
}

func TestDebouncerStopCancelsPendingFire(t *testing.T) {
	var fires atomic.Int32
	d := NewScanDebouncer(50*time.Millisecond, func() { fires.Add(1) })

	d.Trigger()
	d.Stop()
	d.Trigger()

	time.Sleep(150 * time.Millisecond)
	if got := fires.Load(); got != 0 {
		t.Errorf("stopped debouncer fired %d times", got)
	}
}
