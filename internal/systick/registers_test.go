package systick

import (
	"testing"
)

// mockBus is a plain register file for testing Device without the
// counter model.
type mockBus struct {
	regs   map[uint32]uint32
	writes []uint32
}

func newMockBus() *mockBus {
	return &mockBus{regs: make(map[uint32]uint32)}
}

func (m *mockBus) Read(addr uint32) uint32 {
	return m.regs[addr]
}

func (m *mockBus) Write(addr uint32, value uint32) {
	m.regs[addr] = value
	m.writes = append(m.writes, addr)
}

func TestDeviceStartSetsBits(t *testing.T) {
	bus := newMockBus()
	dev := NewDevice(bus)

	dev.Start()

	want := uint32(csrEnable | csrTickInt | csrClkSource)
	if bus.regs[CSR] != want {
		t.Errorf("CSR after Start = 0x%08X, want 0x%08X", bus.regs[CSR], want)
	}
}

func TestDeviceStopPreservesClockSource(t *testing.T) {
	bus := newMockBus()
	dev := NewDevice(bus)
	bus.regs[CSR] = csrEnable | csrTickInt | csrClkSource

	if dev.Stop() {
		t.Error("Stop() reported expiry with COUNTFLAG clear")
	}

	if bus.regs[CSR] != csrClkSource {
		t.Errorf("CSR after Stop = 0x%08X, want 0x%08X", bus.regs[CSR], uint32(csrClkSource))
	}
}

func TestDeviceStopReportsCountFlag(t *testing.T) {
	bus := newMockBus()
	dev := NewDevice(bus)
	bus.regs[CSR] = csrEnable | csrTickInt | csrClkSource | csrCountFlag

	if !dev.Stop() {
		t.Error("Stop() should report COUNTFLAG")
	}
	if bus.regs[CSR]&csrCountFlag != 0 {
		t.Error("Stop() must not write COUNTFLAG back")
	}
}

func TestDeviceRunLeavesInterruptDisabled(t *testing.T) {
	bus := newMockBus()
	dev := NewDevice(bus)

	dev.Run()

	if bus.regs[CSR]&csrTickInt != 0 {
		t.Error("Run() should not set TICKINT")
	}
	if bus.regs[CSR]&(csrEnable|csrClkSource) != csrEnable|csrClkSource {
		t.Errorf("CSR after Run = 0x%08X, want ENABLE|CLKSOURCE", bus.regs[CSR])
	}
}

func TestDeviceSetReloadClearsCurrent(t *testing.T) {
	bus := newMockBus()
	dev := NewDevice(bus)
	bus.regs[CVR] = 1234

	dev.SetReload(999)

	if bus.regs[RVR] != 999 {
		t.Errorf("RVR = %d, want 999", bus.regs[RVR])
	}
	if len(bus.writes) != 2 || bus.writes[0] != RVR || bus.writes[1] != CVR {
		t.Errorf("SetReload write order = %X, want [RVR CVR]", bus.writes)
	}
}

func TestDeviceSetReloadMax(t *testing.T) {
	dev := NewDevice(newMockBus())

	// The largest legal value must not panic
	dev.SetReload(MaxCount)
}

func TestDeviceSetReloadTooLargePanics(t *testing.T) {
	dev := NewDevice(newMockBus())

	defer func() {
		if recover() == nil {
			t.Error("SetReload(1<<24) did not panic")
		}
	}()
	dev.SetReload(MaxCount + 1)
}

func TestDeviceOnPeripheral(t *testing.T) {
	interruptCount := 0
	p := NewPeripheral(func() { interruptCount++ })
	dev := NewDevice(p)

	dev.SetReload(500)
	dev.Start()

	if !p.Running() || !p.InterruptEnabled() {
		t.Fatal("peripheral should be running with TICKINT set")
	}

	p.Advance(501)
	if interruptCount != 1 {
		t.Errorf("Interrupt count = %d, want 1", interruptCount)
	}
	if dev.Current() != 0 {
		t.Errorf("Current() = %d, want 0 on the wrap clock", dev.Current())
	}
	p.Advance(1)
	if dev.Current() != 500 {
		t.Errorf("Current() = %d, want 500 after the reload", dev.Current())
	}
	if dev.ReloadValue() != 500 {
		t.Errorf("ReloadValue() = %d, want 500", dev.ReloadValue())
	}

	if !dev.ExpiryFlagged() {
		t.Error("ExpiryFlagged() should be set after wrap")
	}
	if dev.ExpiryFlagged() {
		t.Error("ExpiryFlagged() should clear after read")
	}

	dev.Stop()
	if p.Running() {
		t.Error("peripheral still running after Stop")
	}
	p.Advance(10000)
	if interruptCount != 1 {
		t.Errorf("Interrupt count after stop = %d, want 1", interruptCount)
	}
}

func TestDeviceTenMs(t *testing.T) {
	dev := NewDevice(NewPeripheral(nil, WithCalibration(72000)))

	if dev.TenMs() != 72000 {
		t.Errorf("TenMs() = %d, want 72000", dev.TenMs())
	}
}
