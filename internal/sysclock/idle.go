package sysclock

import "github.com/richardwooding/tickcore/internal/systick"

const maxCount = systick.MaxCount

// IdleForever requests the longest idle period the counter can represent.
const IdleForever int32 = -1

// EnterIdle reprograms the counter to fire once after the given number of
// ticks, or after the longest representable period for IdleForever or a
// request beyond it. One tick of the request is kept as slack so the wake
// has time to react.
//
// The counts left in the current tick, less the skew of the reprogramming
// sequence, carry into the idle reload.
func (d *Driver) EnterIdle(ticks int32) {
	if !d.tickless || !d.initialized || d.disabled {
		return
	}

	state := d.platform.Disable()
	defer d.platform.Restore(state)

	if d.idleMode == Tickless {
		return
	}

	if d.hw.Stop() || d.wrapped {
		// A tick is pending; let the handler take it before idling
		d.wrapped = true
		d.hw.Start()
		return
	}

	current := d.hw.Current()
	now := d.acc.load() + d.sinceAccumulated(current)

	// We're asked to fire ticks from now; what is left of the current
	// tick counts towards the first one
	origin := uint32(0)
	if current = min(current, d.idle.DefaultLoad); current > d.idle.Skew {
		origin = current - d.idle.Skew
	}

	if ticks == IdleForever || ticks > 0 && uint32(ticks) > d.idle.MaxTicks {
		// Leave one tick of headroom so the carried counts cannot
		// overflow the 24-bit reload
		origin += d.idle.MaxLoad - d.idle.DefaultLoad
		d.idle.originTicks = d.idle.MaxTicks - 1
	} else {
		if ticks < 1 {
			ticks = 1
		}
		d.idle.originTicks = uint32(ticks) - 1
		origin += d.idle.originTicks * d.idle.DefaultLoad
	}
	if origin == 0 {
		// A zero reload halts the counter
		origin = 1
	}
	d.idle.origin = origin

	d.timerMode = OneShot
	d.idleMode = Tickless
	d.setReload(origin)
	d.rebase(now, 0)
	d.hw.Start()
}

// ExitIdle handles an idle period cut short by another interrupt: it
// reports the ticks that elapsed and makes the counter interrupt at the
// next tick. It does nothing in periodic mode, where the tick handler has
// already completed the idle period or the call is spurious, and once the
// counter is running out the tick after an earlier wake.
//
// Elapsed ticks are whole reload lengths counted down from the idle reload.
func (d *Driver) ExitIdle() {
	if !d.tickless || !d.initialized || d.disabled {
		return
	}

	state := d.platform.Disable()
	defer d.platform.Restore(state)

	if d.timerMode == Periodic || d.idleMode == Active {
		return
	}

	if d.hw.Stop() {
		d.wrapped = true
	}
	count := d.hw.Current()
	now := d.acc.load() + d.sinceAccumulated(count)

	switch {
	case d.wrapped:
		// Expired while waking. The period ran out and the tick interrupt
		// is pending; it accounts for the final tick, so report the ticks
		// before it. Reporting one less would lose a tick against an idle
		// period that completes on its own.
		d.periodic()
		d.pending += d.idle.originTicks
		count = 0

	case count == 0:
		// Woken before the first clock loaded the reload: nothing elapsed
		d.periodic()

	default:
		elapsed := d.idle.origin - min(count, d.idle.origin)
		remaining := elapsed % d.defaultLoad

		switch {
		case remaining == 0:
			// Woken on a tick boundary
			d.periodic()
			count = 0
		case count > remaining:
			// Stay in one-shot mode until the next boundary
			d.setReload(remaining)
			count = 0
		default:
			// The counter reaches zero first; leave it running down
		}
		d.pending += elapsed / d.defaultLoad
	}

	d.acc.onIdleTicks(d.pending)
	d.rebase(now, count)
	d.announce()
	d.idleMode = Active
	d.hw.Start()
}

// periodic returns the stopped counter to one tick per interrupt.
func (d *Driver) periodic() {
	d.setReload(d.defaultLoad)
	d.timerMode = Periodic
}
