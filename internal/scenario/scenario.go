// Package scenario runs scripted tick core sessions described in YAML and
// checks their outcome.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/richardwooding/tickcore/internal/machine"
	"github.com/richardwooding/tickcore/internal/power"
	"github.com/richardwooding/tickcore/internal/sysclock"
)

var (
	// ErrInvalidScenario indicates a scenario file that cannot be run.
	ErrInvalidScenario = errors.New("invalid scenario")

	// ErrInvalidIdle indicates an idle length that is neither a tick count
	// nor one of the keywords.
	ErrInvalidIdle = errors.New("invalid idle length")
)

// Scenario is a complete scripted session.
type Scenario struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Clock       ClockConfig `yaml:"clock"`

	// Board parameters
	AccessCost    uint32 `yaml:"access_cost"`
	Latency       uint32 `yaml:"latency"`
	IdleThreshold int32  `yaml:"idle_threshold"`

	Steps []Step `yaml:"steps"`
}

// ClockConfig configures the system clock.
type ClockConfig struct {
	TicksPerSecond   uint32 `yaml:"ticks_per_second"`
	ClockHz          uint32 `yaml:"clock_hz"`
	Tickless         bool   `yaml:"tickless"`
	LatencyBenchmark bool   `yaml:"latency_benchmark"`
}

// Step is a single action. Exactly one field is set.
type Step struct {
	Run     uint64       `yaml:"run,omitempty"`
	Idle    *IdleLength  `yaml:"idle,omitempty"`
	Wake    bool         `yaml:"wake,omitempty"`
	Timeout *TimeoutStep `yaml:"timeout,omitempty"`
	Read    string       `yaml:"read,omitempty"`
	Expect  *Expectation `yaml:"expect,omitempty"`
}

// TimeoutStep starts a named kernel timeout.
type TimeoutStep struct {
	Name  string `yaml:"name"`
	Ticks uint32 `yaml:"ticks"`
}

// Expectation checks the machine state. Unset fields are not checked.
type Expectation struct {
	Ticks     *uint64  `yaml:"ticks"`
	Read      *uint64  `yaml:"read"`
	Mode      string   `yaml:"mode"`
	Idle      string   `yaml:"idle"`
	Pending   *int     `yaml:"pending"`
	Delivered []string `yaml:"delivered"`
}

// Idle length keywords.
const (
	IdleForever = "forever" // No timeout pending
	IdleNext    = "next"    // Until the nearest pending timeout
)

// IdleLength is an idle request: a tick count or one of the keywords.
type IdleLength struct {
	Ticks   int32
	Keyword string
}

// UnmarshalYAML implements yaml.Unmarshaler for IdleLength.
func (l *IdleLength) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch s {
	case IdleForever, IdleNext:
		l.Keyword = s
		return nil
	}
	ticks, err := strconv.ParseInt(s, 10, 32)
	if err != nil || ticks <= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidIdle, s)
	}
	l.Ticks = int32(ticks)
	return nil
}

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	// #nosec G304 - path is provided by the user via CLI argument
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse parses and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the clock configuration and that every step has exactly
// one action.
func (s *Scenario) Validate() error {
	if _, err := sysclock.Params(s.Clock.TicksPerSecond, s.Clock.ClockHz); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidScenario)
	}
	for i, step := range s.Steps {
		if n := step.actions(); n != 1 {
			return fmt.Errorf("%w: step %d has %d actions, want 1", ErrInvalidScenario, i+1, n)
		}
		if step.Timeout != nil && step.Timeout.Name == "" {
			return fmt.Errorf("%w: step %d: timeout without a name", ErrInvalidScenario, i+1)
		}
	}
	return nil
}

// MachineConfig returns the board configuration of the scenario.
func (s *Scenario) MachineConfig() machine.Config {
	return machine.Config{
		Clock: sysclock.Config{
			TicksPerSecond:   s.Clock.TicksPerSecond,
			ClockHz:          s.Clock.ClockHz,
			Tickless:         s.Clock.Tickless,
			LatencyBenchmark: s.Clock.LatencyBenchmark,
		},
		AccessCost:    s.AccessCost,
		Latency:       s.Latency,
		IdleThreshold: s.IdleThreshold,
	}
}

func (s Step) actions() int {
	n := 0
	if s.Run > 0 {
		n++
	}
	if s.Idle != nil {
		n++
	}
	if s.Wake {
		n++
	}
	if s.Timeout != nil {
		n++
	}
	if s.Read != "" {
		n++
	}
	if s.Expect != nil {
		n++
	}
	return n
}

// String describes the step for logs and failure reports.
func (s Step) String() string {
	switch {
	case s.Run > 0:
		return fmt.Sprintf("run %d", s.Run)
	case s.Idle != nil && s.Idle.Keyword != "":
		return "idle " + s.Idle.Keyword
	case s.Idle != nil:
		return fmt.Sprintf("idle %d", s.Idle.Ticks)
	case s.Wake:
		return "wake"
	case s.Timeout != nil:
		return fmt.Sprintf("timeout %s in %d", s.Timeout.Name, s.Timeout.Ticks)
	case s.Read != "":
		return "read " + s.Read
	case s.Expect != nil:
		return "expect"
	}
	return "empty"
}

// idleTicks resolves the request passed to the power manager.
func (l *IdleLength) idleTicks() int32 {
	if l.Keyword == IdleForever {
		return power.Forever
	}
	return l.Ticks
}
