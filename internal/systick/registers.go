// Package systick implements access to the ARMv7-M SysTick timer.
//
// The SysTick block consists of:
//   - CSR: Control and status register (enable, interrupt, clock source, count flag)
//   - RVR: Reload value register (24 bits)
//   - CVR: Current value register (24 bits, any write clears it)
//   - CALIB: Calibration value register (read only)
//
// The counter is a 24-bit, clear-on-write, decrementing, wrap-on-zero
// counter. Only an edge triggered interrupt is supported.
package systick

import "fmt"

// Bus is the register window the SysTick block is mapped into.
type Bus interface {
	Read(addr uint32) uint32
	Write(addr uint32, value uint32)
}

// Register addresses.
const (
	CSR   = 0xE000E010
	RVR   = 0xE000E014
	CVR   = 0xE000E018
	CALIB = 0xE000E01C
)

// CSR register bits.
const (
	csrEnable    = 1 << 0  // Bit 0: Counter enable
	csrTickInt   = 1 << 1  // Bit 1: Interrupt on reaching zero
	csrClkSource = 1 << 2  // Bit 2: Processor clock (1) or external reference (0)
	csrCountFlag = 1 << 16 // Bit 16: Counted to zero since last read

	csrWritable = csrEnable | csrTickInt | csrClkSource
)

// CALIB register bits.
const (
	calibTenMsMask = 0x00FFFFFF
	calibSkew      = 1 << 30
	calibNoRef     = 1 << 31
)

// MaxCount is the largest value the 24-bit counter can hold.
const MaxCount = 1<<24 - 1

// Device programs a SysTick block through its register window.
type Device struct {
	bus Bus
}

// NewDevice creates a Device on top of the given register window.
func NewDevice(bus Bus) *Device {
	return &Device{bus: bus}
}

// Stop disables the counter and its interrupt while preserving the
// remaining bits.
//
// Reading the status word clears COUNTFLAG in hardware, so Stop reports
// whether the flag was set in the value it read.
func (d *Device) Stop() (expired bool) {
	value := d.bus.Read(CSR)
	expired = value&csrCountFlag != 0
	value &^= csrEnable | csrTickInt
	d.bus.Write(CSR, value&csrWritable)
	return expired
}

// Start enables the counter and its interrupt and selects the processor
// clock, preserving the remaining bits.
func (d *Device) Start() {
	value := d.bus.Read(CSR)
	value |= csrEnable | csrTickInt | csrClkSource
	d.bus.Write(CSR, value&csrWritable)
}

// Run enables the counter on the processor clock without enabling its
// interrupt.
func (d *Device) Run() {
	value := d.bus.Read(CSR)
	value |= csrEnable | csrClkSource
	d.bus.Write(CSR, value&csrWritable)
}

// Current returns the live counter value, the time remaining before the
// counter reaches zero.
func (d *Device) Current() uint32 {
	return d.bus.Read(CVR) & MaxCount
}

// ReloadValue returns the programmed reload value.
func (d *Device) ReloadValue() uint32 {
	return d.bus.Read(RVR) & MaxCount
}

// SetReload sets the value the counter restarts from and clears the
// current value, which also clears COUNTFLAG.
//
// A count that does not fit the 24-bit counter is a configuration error and
// panics.
func (d *Device) SetReload(count uint32) {
	if count > MaxCount {
		panic(fmt.Sprintf("systick: reload value 0x%08X exceeds 24 bits", count))
	}
	d.bus.Write(RVR, count)
	d.bus.Write(CVR, 0)
}

// ExpiryFlagged reports whether the counter reached zero since the status
// word was last read. The read clears the flag.
func (d *Device) ExpiryFlagged() bool {
	return d.bus.Read(CSR)&csrCountFlag != 0
}

// Enabled reports whether the counter is running.
func (d *Device) Enabled() bool {
	return d.bus.Read(CSR)&csrEnable != 0
}

// TenMs returns the calibration reload value for a 10ms period, or 0 when
// the implementation does not provide one.
func (d *Device) TenMs() uint32 {
	return d.bus.Read(CALIB) & calibTenMsMask
}
