package service

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of triggers into one delayed call. Each
// Trigger cancels the pending call and arms a new one, so fn fires once
// per quiet period.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer that calls fn after delay of quiet.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger (re)arms the debounce window.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	fn := d.fn
	d.mu.Unlock()

	fn()
}

// Flush runs the pending call immediately, if one is armed.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	armed := d.timer != nil && d.timer.Stop()
	d.timer = nil
	fn := d.fn
	stopped := d.stopped
	d.mu.Unlock()

	if armed && !stopped {
		fn()
	}
}

// Stop cancels any pending call. The debouncer cannot be reused.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
