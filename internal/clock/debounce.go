package clock

import (
	"sync"
	"time"
)

// Debouncer is a single-slot deferred action. Scheduling replaces any
// pending action, so a burst of Schedule calls runs exactly one action,
// delay after the last call.
type Debouncer struct {
	clock Clock
	delay time.Duration

	mu      sync.Mutex
	timer   *Timer
	pending func()
	gen     uint64
}

// NewDebouncer returns a debouncer firing delay after the last Schedule.
func NewDebouncer(c Clock, delay time.Duration) *Debouncer {
	if c == nil {
		c = Real()
	}
	return &Debouncer{clock: c, delay: delay}
}

// Schedule cancels any pending action and schedules fn.
func (d *Debouncer) Schedule(fn func()) {
	d.mu.Lock()
	d.stopLocked()
	d.gen++
	gen := d.gen
	d.pending = fn
	d.mu.Unlock()

	t := d.clock.AfterFunc(d.delay, func() { d.fire(gen) })

	d.mu.Lock()
	if d.gen == gen && d.pending != nil {
		d.timer = t
	} else {
		t.Stop()
	}
	d.mu.Unlock()
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.gen != gen || d.pending == nil {
		d.mu.Unlock()
		return
	}
	fn := d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()
	fn()
}

// Cancel drops the pending action. Returns true if one was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	had := d.pending != nil
	d.stopLocked()
	d.gen++
	return had
}

// Flush runs the pending action now instead of at its deadline.
// Returns true if one was pending.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	fn := d.pending
	d.stopLocked()
	d.gen++
	d.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// Pending reports whether an action is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// stopLocked requires d.mu.
func (d *Debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
}
