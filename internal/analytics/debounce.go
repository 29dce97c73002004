package analytics

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of Trigger calls into one run of fn, delay after
// the last trigger. A trigger supersedes any pending one; a zero delay runs fn
// synchronously on every trigger.
type Debouncer struct {
	delay time.Duration
	fn    func()

	mu      sync.Mutex
	timer   *time.Timer
	seq     uint64
	pending bool
}

// NewDebouncer creates a debouncer that calls fn.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger schedules fn, replacing any pending schedule.
func (d *Debouncer) Trigger() {
	if d.delay <= 0 {
		d.fn()
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	seq := d.seq
	d.pending = true
	d.timer = time.AfterFunc(d.delay, func() { d.fire(seq) })
}

// fire runs fn unless a later trigger, Flush or Cancel superseded seq.
func (d *Debouncer) fire(seq uint64) {
	d.mu.Lock()
	if seq != d.seq || !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timer = nil
	d.mu.Unlock()

	d.fn()
}

// Flush runs a pending fn immediately. It reports whether anything was pending.
func (d *Debouncer) Flush() bool {
	if !d.cancel() {
		return false
	}
	d.fn()
	return true
}

// Cancel drops a pending run without calling fn.
func (d *Debouncer) Cancel() {
	d.cancel()
}

// Pending reports whether a run is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *Debouncer) cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.pending {
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
	d.pending = false
	return true
}
