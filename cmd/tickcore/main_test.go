package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParamsCommand(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"params", "--tps", "1000", "--clock-hz", "1001000"}, &out, &out); err != nil {
		t.Fatalf("params failed: %v", err)
	}

	for _, want := range []string{
		"Cycles/Tick:     1001",
		"Reload Value:    1000 (0x0003E8)",
		"Max Idle Ticks:  16777",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestParamsCommandRejectsLargeReload(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"params", "--tps", "1", "--clock-hz", "100000000"}, &out, &out)
	if err == nil || !strings.Contains(err.Error(), "24-bit") {
		t.Errorf("params error = %v, want reload too large", err)
	}
}

func TestSimulateCommand(t *testing.T) {
	path := filepath.Join("..", "..", "internal", "scenario", "testdata", "partial_wake.yaml")

	var out bytes.Buffer
	if err := run([]string{"simulate", path}, &out, &out); err != nil {
		t.Fatalf("simulate failed: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "Result: PASSED") {
		t.Errorf("output:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "woken:") {
		t.Errorf("reading missing from output:\n%s", out.String())
	}
}

func TestSimulateCommandFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fail.yaml")
	doc := `
name: wrong count
clock: {ticks_per_second: 1000, clock_hz: 1001000}
steps:
  - run: 1001
  - expect: {ticks: 3}
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	var out bytes.Buffer
	err := run([]string{"simulate", path}, &out, &out)
	if !errors.Is(err, ErrScenarioFailed) {
		t.Fatalf("simulate error = %v, want ErrScenarioFailed", err)
	}
	if !strings.Contains(out.String(), "step 2: ticks = 1, want 3") {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestIdleCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "full idle",
			args: []string{"idle", "--tps", "1000", "--clock-hz", "1001000", "--ticks", "10"},
			want: []string{"Idle Budget:     9", "Ticks Announced: 10", "Announcements:   1", "Cycles Elapsed:  10001"},
		},
		{
			name: "early wake",
			args: []string{"idle", "--tps", "1000", "--clock-hz", "1001000", "--ticks", "10", "--wake-after", "3501"},
			want: []string{"Ticks Announced: 4", "Announcements:   2", "Cycles Elapsed:  4002"},
		},
		{
			name: "latency",
			args: []string{"idle", "--tps", "1000", "--clock-hz", "1001000", "--latency", "3"},
			want: []string{"Ticks Announced: 10", "Entry Latency:   3 cycles"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := run(tt.args, &out, &out); err != nil {
				t.Fatalf("idle failed: %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(out.String(), want) {
					t.Errorf("output missing %q:\n%s", want, out.String())
				}
			}
		})
	}
}

func TestVerboseLogging(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run([]string{"-v", "idle", "--tps", "1000", "--clock-hz", "1001000"}, &stdout, &stderr); err != nil {
		t.Fatalf("idle failed: %v", err)
	}
	if !strings.Contains(stderr.String(), "ticks announced") {
		t.Errorf("debug log missing:\n%s", stderr.String())
	}
}
