package systick

// InterruptCallback is the function type for SysTick exception requests.
type InterruptCallback func()

// Peripheral emulates a SysTick block behind the Bus interface.
//
// The enabled counter loads RVR on the clock after CVR reads zero and then
// decrements once per clock. On the 1 to 0 transition it sets COUNTFLAG and,
// if TICKINT is set, requests the exception. CVR holds zero for one clock
// before the reload, so the period is RVR+1 clocks. An RVR of zero halts the
// counter.
type Peripheral struct {
	csr   uint32 // Control and status ($E000E010)
	rvr   uint32 // Reload value ($E000E014)
	cvr   uint32 // Current value ($E000E018)
	calib uint32 // Calibration ($E000E01C)

	accessCost uint32 // Clocks consumed by every register access
	cycles     uint64 // Clocks elapsed since reset

	// Callback for the SysTick exception
	requestInterrupt InterruptCallback
}

// Option customises a Peripheral, mainly for tests.
type Option func(*Peripheral)

// WithAccessCost makes every register access consume the given number of
// clocks while the counter runs. It models the processor time spent in a
// register access sequence.
func WithAccessCost(cycles uint32) Option {
	return func(p *Peripheral) {
		p.accessCost = cycles
	}
}

// WithCalibration sets the TENMS field reported by CALIB.
func WithCalibration(tenMs uint32) Option {
	return func(p *Peripheral) {
		p.calib = tenMs & calibTenMsMask
	}
}

// NewPeripheral creates a Peripheral with the given interrupt callback.
func NewPeripheral(requestInterrupt InterruptCallback, opts ...Option) *Peripheral {
	p := &Peripheral{
		calib:            calibNoRef,
		requestInterrupt: requestInterrupt,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.calib&calibTenMsMask == 0 {
		p.calib |= calibSkew
	}
	return p
}

// Read reads a SysTick register. Reading CSR clears COUNTFLAG.
func (p *Peripheral) Read(addr uint32) uint32 {
	p.charge()

	switch addr {
	case CSR:
		value := p.csr
		p.csr &^= csrCountFlag
		return value
	case RVR:
		return p.rvr
	case CVR:
		return p.cvr
	case CALIB:
		return p.calib
	}
	return 0
}

// Write writes a SysTick register.
func (p *Peripheral) Write(addr uint32, value uint32) {
	p.charge()

	switch addr {
	case CSR:
		// COUNTFLAG is read only
		p.csr = p.csr&csrCountFlag | value&csrWritable

	case RVR:
		p.rvr = value & MaxCount

	case CVR:
		// Any write clears the counter and COUNTFLAG
		p.cvr = 0
		p.csr &^= csrCountFlag
	}
}

// charge advances the counter by the access cost.
func (p *Peripheral) charge() {
	if p.accessCost > 0 {
		p.Advance(uint64(p.accessCost))
	}
}

// Step advances the counter by up to the given number of clocks.
//
// Step returns early, right after the clock that requested the exception,
// so the caller can take the interrupt at the cycle it was raised. The
// return value is the number of clocks actually consumed.
func (p *Peripheral) Step(cycles uint32) uint32 {
	if p.csr&csrEnable == 0 {
		// Counter disabled, time still passes
		p.cycles += uint64(cycles)
		return cycles
	}

	consumed := uint32(0)
	for consumed < cycles {
		if p.cvr == 0 {
			if p.rvr == 0 {
				// Halted with a zero reload value
				consumed = cycles
				break
			}
			// The clock after a clear loads the reload value
			p.cvr = p.rvr
			consumed++
			continue
		}

		n := cycles - consumed
		if n > p.cvr {
			n = p.cvr
		}
		p.cvr -= n
		consumed += n

		if p.cvr == 0 {
			p.csr |= csrCountFlag
			if p.csr&csrTickInt != 0 && p.requestInterrupt != nil {
				p.cycles += uint64(consumed)
				p.requestInterrupt()
				return consumed
			}
		}
	}

	p.cycles += uint64(consumed)
	return consumed
}

// Advance runs the counter for the given number of clocks, requesting every
// exception along the way.
func (p *Peripheral) Advance(cycles uint64) {
	for cycles > 0 {
		chunk := uint32(MaxCount)
		if cycles < uint64(chunk) {
			chunk = uint32(cycles)
		}
		cycles -= uint64(p.Step(chunk))
	}
}

// CyclesUntilExpiry returns the number of clocks until the counter next
// reaches zero, or 0 if it is stopped or halted.
func (p *Peripheral) CyclesUntilExpiry() uint32 {
	if p.csr&csrEnable == 0 || p.rvr == 0 && p.cvr == 0 {
		return 0
	}
	if p.cvr == 0 {
		return p.rvr + 1
	}
	return p.cvr
}

// Cycles returns the clocks elapsed since reset.
func (p *Peripheral) Cycles() uint64 {
	return p.cycles
}

// Counter returns CVR without charging an access.
func (p *Peripheral) Counter() uint32 {
	return p.cvr
}

// Reload returns RVR without charging an access.
func (p *Peripheral) Reload() uint32 {
	return p.rvr
}

// Control returns CSR without charging an access or clearing COUNTFLAG.
func (p *Peripheral) Control() uint32 {
	return p.csr
}

// Running reports whether the counter is enabled.
func (p *Peripheral) Running() bool {
	return p.csr&csrEnable != 0
}

// InterruptEnabled reports whether TICKINT is set.
func (p *Peripheral) InterruptEnabled() bool {
	return p.csr&csrTickInt != 0
}

// Reset resets the peripheral to its power-on state.
func (p *Peripheral) Reset() {
	p.csr = 0
	p.rvr = 0
	p.cvr = 0
	p.cycles = 0
}
