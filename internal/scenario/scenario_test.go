package scenario

import (
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/richardwooding/tickcore/internal/machine"
	"github.com/richardwooding/tickcore/internal/sysclock"
)

func TestScenarioFiles(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "*.yaml"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no scenario files in testdata")
	}

	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			s, err := Load(file)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}

			result := Run(s)
			if !result.IsSuccess() {
				t.Fatalf("%s\n%s", result, result.Report())
			}
			if result.Steps != len(s.Steps) {
				t.Errorf("steps run = %d, want %d", result.Steps, len(s.Steps))
			}
		})
	}
}

func TestPartialWakeReading(t *testing.T) {
	s, err := Load(filepath.Join("testdata", "partial_wake.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	result := Run(s)
	if result.String() != "PASSED" {
		t.Fatalf("result = %s\n%s", result, result.Report())
	}

	if len(result.Readings) != 1 {
		t.Fatalf("readings = %+v, want one", result.Readings)
	}
	woken := result.Readings[0]
	if woken.Label != "woken" || woken.Cycles != 6502 || woken.Ticks != 6 {
		t.Errorf("reading = %+v, want woken at 6502 cycles and 6 ticks", woken)
	}
	if !slices.Equal(result.Delivered, []string{"sensor"}) {
		t.Errorf("delivered = %v, want [sensor]", result.Delivered)
	}
	if result.Ticks != 21 {
		t.Errorf("ticks = %d, want 21", result.Ticks)
	}

	// First tick, early wake, end of the split tick, then one per tick
	if len(result.Trace) != 17 {
		t.Errorf("announcements = %d, want 17", len(result.Trace))
	}
}

const header = `
name: test
clock:
  ticks_per_second: 1000
  clock_hz: 1001000
  tickless: true
`

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"no steps", header, ErrInvalidScenario},
		{"two actions", header + "steps:\n  - {run: 10, wake: true}\n", ErrInvalidScenario},
		{"empty step", header + "steps:\n  - {}\n", ErrInvalidScenario},
		{"unknown idle keyword", header + "steps:\n  - idle: soon\n", ErrInvalidIdle},
		{"negative idle", header + "steps:\n  - idle: -5\n", ErrInvalidIdle},
		{"unnamed timeout", header + "steps:\n  - timeout: {ticks: 3}\n", ErrInvalidScenario},
		{"zero clock", "clock: {ticks_per_second: 1000}\nsteps:\n  - run: 1\n", sysclock.ErrInvalidConfig},
		{"reload too large", "clock: {ticks_per_second: 1, clock_hz: 100000000}\nsteps:\n  - run: 1\n", sysclock.ErrReloadTooLarge},
		{"not yaml", "steps: [", ErrInvalidScenario},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseIdleLengths(t *testing.T) {
	s, err := Parse([]byte(header + "steps:\n  - idle: 12\n  - idle: forever\n  - idle: next\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if s.Steps[0].Idle.Ticks != 12 {
		t.Errorf("idle ticks = %d, want 12", s.Steps[0].Idle.Ticks)
	}
	if s.Steps[1].Idle.Keyword != IdleForever || s.Steps[1].Idle.idleTicks() != -1 {
		t.Errorf("idle forever = %+v", s.Steps[1].Idle)
	}
	if s.Steps[2].Idle.Keyword != IdleNext {
		t.Errorf("idle next = %+v", s.Steps[2].Idle)
	}
	if got := s.Steps[1].String(); got != "idle forever" {
		t.Errorf("String() = %q", got)
	}
}

func TestFailedExpectation(t *testing.T) {
	s, err := Parse([]byte(header + `
steps:
  - run: 1001
  - expect: {ticks: 2, mode: one-shot}
  - run: 1000
  - expect: {ticks: 2}
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	result := Run(s)
	if result.IsSuccess() || result.String() != "FAILED" {
		t.Fatalf("result = %s, want FAILED", result)
	}
	if len(result.Failures) != 2 {
		t.Fatalf("failures = %+v, want 2", result.Failures)
	}
	if result.Steps != 4 {
		t.Errorf("steps run = %d, want 4", result.Steps)
	}
	report := result.Report()
	if !strings.Contains(report, "step 2: ticks = 1, want 2") || !strings.Contains(report, "timer mode = periodic, want one-shot") {
		t.Errorf("report = %q", report)
	}
}

func TestIdleNextWithoutTimeout(t *testing.T) {
	s, err := Parse([]byte(header + "steps:\n  - run: 10\n  - idle: next\n  - run: 10\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	result := Run(s)
	if !errors.Is(result.Error, machine.ErrNoTimeout) {
		t.Fatalf("Error = %v, want ErrNoTimeout", result.Error)
	}
	if result.Steps != 1 {
		t.Errorf("steps run = %d, want 1", result.Steps)
	}
	if !strings.HasPrefix(result.String(), "ERROR: step 2 (idle next)") {
		t.Errorf("String() = %q", result.String())
	}
}

func TestProgress(t *testing.T) {
	s, err := Parse([]byte(header + "steps:\n  - run: 10\n  - wake: true\n  - read: now\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	var calls [][2]int
	result := Run(s, WithProgress(func(done, total int) {
		calls = append(calls, [2]int{done, total})
	}))
	if !result.IsSuccess() {
		t.Fatalf("result = %s", result)
	}

	want := [][2]int{{1, 3}, {2, 3}, {3, 3}}
	if !slices.Equal(calls, want) {
		t.Errorf("progress calls = %v, want %v", calls, want)
	}
}

func TestMachineConfig(t *testing.T) {
	s, err := Parse([]byte(header + "access_cost: 2\nlatency: 4\nidle_threshold: 6\nsteps:\n  - run: 1\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	cfg := s.MachineConfig()
	if cfg.AccessCost != 2 || cfg.Latency != 4 || cfg.IdleThreshold != 6 {
		t.Errorf("MachineConfig() = %+v", cfg)
	}
	if !cfg.Clock.Tickless || cfg.Clock.ClockHz != 1001000 {
		t.Errorf("clock = %+v", cfg.Clock)
	}
}
