// Package main provides the tickcore CLI application.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/schollz/progressbar/v3"

	"github.com/richardwooding/tickcore/internal/machine"
	"github.com/richardwooding/tickcore/internal/scenario"
	"github.com/richardwooding/tickcore/internal/sysclock"
)

var (
	// ErrScenarioFailed indicates a scenario run with failed expectations.
	ErrScenarioFailed = errors.New("scenario failed")
)

// CLI represents the command-line interface structure.
type CLI struct {
	Verbose bool `short:"v" help:"Enable debug logging."`

	Params   ParamsCmd   `cmd:"" help:"Display the counter parameters for a tick rate."`
	Simulate SimulateCmd `cmd:"" help:"Run a scenario file and report results."`
	Idle     IdleCmd     `cmd:"" help:"Simulate one tickless idle period."`
}

// ClockFlags select the tick rate.
type ClockFlags struct {
	TicksPerSecond uint32 `name:"tps" default:"1000" help:"Kernel ticks per second."`
	ClockHz        uint32 `name:"clock-hz" default:"48000000" help:"Counter clock frequency in Hz."`
}

// ParamsCmd displays the derived counter parameters.
type ParamsCmd struct {
	ClockFlags `embed:""`
}

// Run executes the params command.
func (c *ParamsCmd) Run(out io.Writer) error {
	p, err := sysclock.Params(c.TicksPerSecond, c.ClockHz)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Tick Parameters:\n")
	fmt.Fprintf(out, "  Ticks/Second:    %d\n", c.TicksPerSecond)
	fmt.Fprintf(out, "  Clock:           %d Hz\n", c.ClockHz)
	fmt.Fprintf(out, "  Cycles/Tick:     %d\n", p.CyclesPerTick)
	fmt.Fprintf(out, "  Reload Value:    %d (0x%06X)\n", p.DefaultLoad, p.DefaultLoad)
	fmt.Fprintf(out, "  Max Idle Ticks:  %d\n", p.MaxTicks)
	fmt.Fprintf(out, "  Max Idle Reload: %d (0x%06X)\n", p.MaxLoad, p.MaxLoad)
	return nil
}

// SimulateCmd runs a scenario file.
type SimulateCmd struct {
	Scenario string `arg:"" type:"existingfile" help:"Path to scenario file."`
	Progress bool   `help:"Show a progress bar."`
}

// Run executes the simulate command.
func (c *SimulateCmd) Run(out io.Writer, logger *slog.Logger) error {
	s, err := scenario.Load(c.Scenario)
	if err != nil {
		return err
	}

	opts := []scenario.Option{scenario.WithLogger(logger)}
	if c.Progress {
		bar := progressbar.Default(int64(len(s.Steps)), "simulate")
		defer bar.Close()
		opts = append(opts, scenario.WithProgress(func(done, _ int) {
			_ = bar.Set(done)
		}))
	}

	fmt.Fprintf(out, "Running scenario: %s\n", s.Name)
	result := scenario.Run(s, opts...)

	fmt.Fprintf(out, "Result: %s\n", result.String())
	fmt.Fprintf(out, "  Steps:  %d/%d\n", result.Steps, len(s.Steps))
	fmt.Fprintf(out, "  Ticks:  %d\n", result.Ticks)
	fmt.Fprintf(out, "  Cycles: %d\n", result.Cycles)
	for _, r := range result.Readings {
		fmt.Fprintf(out, "  Read %-10s %d cycles, %d ticks\n", r.Label+":", r.Cycles, r.Ticks)
	}

	if !result.IsSuccess() {
		if report := result.Report(); report != "" {
			fmt.Fprintf(out, "\nFailures:\n%s", report)
		}
		return ErrScenarioFailed
	}
	return nil
}

// IdleCmd simulates one tickless idle period.
type IdleCmd struct {
	ClockFlags `embed:""`

	Ticks      int32  `default:"10" help:"Idle ticks to request, -1 for no timeout."`
	WakeAfter  uint64 `help:"Wake the core this many cycles into the idle period (0 for none)."`
	Latency    uint32 `help:"Interrupt entry latency in cycles."`
	AccessCost uint32 `help:"Cycles consumed by each counter register access."`
}

// Run executes the idle command.
func (c *IdleCmd) Run(out io.Writer, logger *slog.Logger) error {
	m, err := machine.New(machine.Config{
		Clock: sysclock.Config{
			TicksPerSecond:   c.TicksPerSecond,
			ClockHz:          c.ClockHz,
			Tickless:         true,
			LatencyBenchmark: c.Latency > 0,
		},
		AccessCost: c.AccessCost,
		Latency:    c.Latency,
	}, machine.WithLogger(logger))
	if err != nil {
		return err
	}

	// Start idle one clock after a tick, once the counter has reloaded
	m.Run(uint64(m.Clock.DefaultLoad()) + 2 + uint64(c.Latency))
	start, startTicks, startTrace := m.Cycles(), m.Ticks(), len(m.Trace())

	m.Idle(c.Ticks)
	budget := m.Clock.IdleBudget()
	if c.WakeAfter > 0 {
		m.Run(c.WakeAfter)
		m.Wake()
	}

	// Run out the idle period or the tick it was cut short in
	for i := 0; i < 4; i++ {
		timerMode, _ := m.Clock.Mode()
		if timerMode == sysclock.Periodic && !m.Power.Idling() {
			break
		}
		n := m.Timer.CyclesUntilExpiry()
		if n == 0 {
			break
		}
		m.Run(uint64(n) + uint64(c.Latency))
	}

	fmt.Fprintf(out, "Idle Period:\n")
	fmt.Fprintf(out, "  Requested Ticks: %d\n", c.Ticks)
	fmt.Fprintf(out, "  Idle Budget:     %d\n", budget)
	fmt.Fprintf(out, "  Ticks Announced: %d\n", m.Ticks()-startTicks)
	fmt.Fprintf(out, "  Announcements:   %d\n", len(m.Trace())-startTrace)
	fmt.Fprintf(out, "  Cycles Elapsed:  %d\n", m.Cycles()-start)
	if latency, ok := m.Clock.Latency(); ok {
		fmt.Fprintf(out, "  Entry Latency:   %d cycles\n", latency)
	}
	return nil
}

// newLogger returns a text logger on w at debug level when verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func run(args []string, stdout, stderr io.Writer) error {
	cli := &CLI{}
	parser, err := kong.New(cli,
		kong.Name("tickcore"),
		kong.Description("A SysTick system clock with tickless idle, simulated."),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
		kong.BindTo(stdout, (*io.Writer)(nil)),
	)
	if err != nil {
		return err
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return ctx.Run(newLogger(stderr, cli.Verbose))
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
