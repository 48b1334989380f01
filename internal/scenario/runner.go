package scenario

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/richardwooding/tickcore/internal/kernel"
	"github.com/richardwooding/tickcore/internal/machine"
)

// Reading is a labelled system clock sample.
type Reading struct {
	Label  string
	Cycles uint64 // System clock count
	Ticks  uint64 // Ticks announced so far
}

// Failure is an expectation that did not hold.
type Failure struct {
	Step    int
	Message string
}

// Result represents the result of running a scenario.
type Result struct {
	Name      string
	Steps     int // Steps executed
	Ticks     uint64
	Cycles    uint64 // Counter clocks elapsed
	Trace     []machine.Announcement
	Readings  []Reading
	Delivered []string
	Failures  []Failure
	Error     error
}

// Option customises a run.
type Option func(*runner)

// WithLogger sets the logger for the run and the simulated machine.
func WithLogger(logger *slog.Logger) Option {
	return func(r *runner) {
		r.logger = logger
	}
}

// WithProgress installs a callback run after every step with the number of
// steps done and the total.
func WithProgress(progress func(done, total int)) Option {
	return func(r *runner) {
		r.progress = progress
	}
}

type pendingTimeout struct {
	name    string
	timeout *kernel.Timeout
}

type runner struct {
	logger   *slog.Logger
	progress func(done, total int)

	m        *machine.Machine
	timeouts []pendingTimeout
	lastRead uint64
	result   *Result
}

// Run executes a scenario and returns the result. A step that cannot be
// carried out stops the run and is reported in Result.Error; failed
// expectations are collected and the run continues.
func Run(s *Scenario, opts ...Option) *Result {
	r := &runner{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		result: &Result{Name: s.Name},
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := s.Validate(); err != nil {
		r.result.Error = err
		return r.result
	}

	m, err := machine.New(s.MachineConfig(), machine.WithLogger(r.logger))
	if err != nil {
		r.result.Error = fmt.Errorf("failed to create machine: %w", err)
		return r.result
	}
	r.m = m

	r.logger.Info("scenario started", "name", s.Name, "steps", len(s.Steps))
	for i, step := range s.Steps {
		if err := r.step(i+1, step); err != nil {
			r.result.Error = fmt.Errorf("step %d (%s): %w", i+1, step, err)
			break
		}
		r.collect()
		r.checkMonotonic(i + 1)
		r.result.Steps++
		if r.progress != nil {
			r.progress(i+1, len(s.Steps))
		}
	}

	r.result.Ticks = m.Ticks()
	r.result.Cycles = m.Cycles()
	r.result.Trace = m.Trace()
	r.logger.Info("scenario finished",
		"name", s.Name,
		"result", r.result.String(),
		"ticks", r.result.Ticks,
		"cycles", r.result.Cycles)
	return r.result
}

func (r *runner) step(n int, step Step) error {
	r.logger.Debug("step", "n", n, "action", step.String())

	switch {
	case step.Run > 0:
		r.m.Run(step.Run)

	case step.Idle != nil:
		if step.Idle.Keyword == IdleNext {
			return r.m.IdleUntilTimeout()
		}
		r.m.Idle(step.Idle.idleTicks())

	case step.Wake:
		r.m.Wake()

	case step.Timeout != nil:
		t, err := r.m.AddTimeout(step.Timeout.Name, step.Timeout.Ticks)
		if err != nil {
			return err
		}
		r.timeouts = append(r.timeouts, pendingTimeout{name: step.Timeout.Name, timeout: t})

	case step.Read != "":
		reading := Reading{Label: step.Read, Cycles: r.m.Read(), Ticks: r.m.Ticks()}
		r.result.Readings = append(r.result.Readings, reading)
		r.logger.Info("clock read", "label", reading.Label, "cycles", reading.Cycles, "ticks", reading.Ticks)

	case step.Expect != nil:
		r.expect(n, step.Expect)
	}
	return nil
}

// collect records the timeouts delivered by the last step.
func (r *runner) collect() {
	r.timeouts = slices.DeleteFunc(r.timeouts, func(p pendingTimeout) bool {
		select {
		case <-p.timeout.C:
			r.result.Delivered = append(r.result.Delivered, p.name)
			r.logger.Debug("timeout delivered", "name", p.name, "cycle", r.m.Cycles())
			return true
		default:
			return false
		}
	})
}

func (r *runner) checkMonotonic(n int) {
	read := r.m.Read()
	if read < r.lastRead {
		r.fail(n, "system clock went back from %d to %d", r.lastRead, read)
	}
	r.lastRead = read
}

func (r *runner) expect(n int, e *Expectation) {
	if e.Ticks != nil && r.m.Ticks() != *e.Ticks {
		r.fail(n, "ticks = %d, want %d", r.m.Ticks(), *e.Ticks)
	}
	if e.Read != nil {
		if got := r.m.Read(); got != *e.Read {
			r.fail(n, "read = %d, want %d", got, *e.Read)
		}
	}

	timerMode, idleMode := r.m.Clock.Mode()
	if e.Mode != "" && timerMode.String() != e.Mode {
		r.fail(n, "timer mode = %s, want %s", timerMode, e.Mode)
	}
	if e.Idle != "" && idleMode.String() != e.Idle {
		r.fail(n, "idle mode = %s, want %s", idleMode, e.Idle)
	}

	if e.Pending != nil && r.m.Timeouts.Len() != *e.Pending {
		r.fail(n, "pending timeouts = %d, want %d", r.m.Timeouts.Len(), *e.Pending)
	}
	if e.Delivered != nil && !slices.Equal(r.result.Delivered, e.Delivered) {
		r.fail(n, "delivered = %v, want %v", r.result.Delivered, e.Delivered)
	}
}

func (r *runner) fail(n int, format string, args ...any) {
	f := Failure{Step: n, Message: fmt.Sprintf(format, args...)}
	r.result.Failures = append(r.result.Failures, f)
	r.logger.Warn("expectation failed", "step", n, "message", f.Message)
}

// String returns a human-readable representation of the result.
func (r *Result) String() string {
	if r.Error != nil {
		return fmt.Sprintf("ERROR: %v", r.Error)
	}
	if len(r.Failures) > 0 {
		return "FAILED"
	}
	return "PASSED"
}

// Report returns the failure list, one per line.
func (r *Result) Report() string {
	var b strings.Builder
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "step %d: %s\n", f.Step, f.Message)
	}
	return b.String()
}

// IsSuccess returns true if every step ran and every expectation held.
func (r *Result) IsSuccess() bool {
	return r.Error == nil && len(r.Failures) == 0
}
