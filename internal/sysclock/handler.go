package sysclock

// HandleInterrupt is the tick interrupt handler. It implements
// irq.Handler and runs once per counter interrupt with interrupts masked.
func (d *Driver) HandleInterrupt() {
	if !d.initialized || d.disabled {
		return
	}

	if d.latencyBench {
		d.measureLatency()
	}

	// Idle bookkeeping must not be interrupted, whatever the vector
	// configuration
	state := d.platform.Disable()
	defer d.platform.Restore(state)

	// Reading the status word acknowledges the wrap
	var flagged bool
	if d.timerMode == OneShot {
		flagged = d.hw.Stop()
	} else {
		flagged = d.hw.ExpiryFlagged()
	}
	if flagged {
		d.wrapped = true
	}
	current := d.hw.Current()
	now := d.acc.load() + d.sinceAccumulated(current)
	d.wrapped = false

	// A completed tickless idle, or the end of the tick after ExitIdle
	// cut one short: return to the normal tick cycle
	if d.timerMode == OneShot {
		d.periodic()
		current = 0
		d.hw.Start()
	}

	switch {
	case !d.tickless:
		d.pending++
		d.acc.onPeriodicTick()
	case d.idleMode == Tickless:
		// Idle completed without interruption: the slack tick plus the
		// one this interrupt ends
		d.idleMode = Active
		d.pending += d.idle.originTicks + 1
		d.acc.onIdleTicks(d.pending)
	default:
		// ExitIdle already reported the ticks before this one
		d.pending++
		d.acc.onIdleTicks(d.pending)
	}

	d.rebase(now, current)
	d.announce()
	d.resumeIdle()
}

// measureLatency keeps the lowest number of cycles between the counter
// reaching zero and the handler reading it.
func (d *Driver) measureLatency() {
	var delta uint32
	if current := d.hw.Current(); current != 0 {
		delta = d.load + 1 - current
	}
	if !d.latencyValid || delta < d.latency {
		d.latency = delta
		d.latencyValid = true
	}
}

// resumeIdle completes an outstanding idle request from the power
// management side.
func (d *Driver) resumeIdle() {
	if d.resumer == nil {
		return
	}
	if ticks := d.resumer.PendingIdle(); ticks != 0 {
		d.resumer.ClearPendingIdle()
		d.resumer.ResumeFromIdle(ticks)
	}
}
