// Package embed provides the Go embedding API for PARVM.
//
// PARVM is embeddable in Go applications. Pass assembly source, get a
// finished machine back.
//
// Basic usage:
//
//	result, err := embed.Execute(`
//	    LOAD  R0, #40
//	    ADD   R0, R0, #2
//	    STORE R0, @100
//	    HALT
//	`)
//	answer := result.Word(100)
//
// With options:
//
//	result, err := embed.Execute(src,
//	    embed.WithProcessors(2),
//	    embed.WithMaxCycles(10000),
//	)
package embed

import (
	"errors"
	"os"

	"github.com/akhildatla/parvm/pkg/asm"
	"github.com/akhildatla/parvm/pkg/isa"
	"github.com/akhildatla/parvm/pkg/race"
	"github.com/akhildatla/parvm/pkg/vm"
)

// Common errors
var (
	// ErrCycleLimit reports that the machine hit the configured cycle
	// budget before halting. The result still carries the partial run.
	ErrCycleLimit = errors.New("cycle limit exceeded")
)

// Result is the outcome of an embedded run.
type Result struct {
	machine *vm.Machine
}

// State returns the machine's final state.
func (r *Result) State() vm.MachineState {
	return r.machine.State()
}

// Cycles returns the number of cycles the run took.
func (r *Result) Cycles() uint64 {
	return r.machine.Cycle()
}

// Word reads a memory word from the finished machine.
func (r *Result) Word(addr uint32) uint32 {
	return r.machine.Memory().Memory().Peek(addr)
}

// Register reads a register from the named thread's final context.
func (r *Result) Register(threadID int, reg uint8) (uint32, error) {
	t, err := r.machine.Thread(threadID)
	if err != nil {
		return 0, err
	}
	return t.Regs.Get(reg)
}

// Stats returns the run's statistics.
func (r *Result) Stats() vm.Stats {
	return r.machine.Stats()
}

// Races returns the data races detected during the run.
func (r *Result) Races() []race.Race {
	if r.machine.Detector() == nil {
		return nil
	}
	return r.machine.Detector().Races()
}

// Faults returns the per-thread faults raised during the run.
func (r *Result) Faults() []*vm.FaultError {
	return r.machine.Faults()
}

// Trace returns the full execution trace.
func (r *Result) Trace() []vm.TraceEvent {
	return r.machine.Trace().Events(vm.TraceFilter{})
}

// Machine returns the underlying machine for direct inspection.
func (r *Result) Machine() *vm.Machine {
	return r.machine
}

// Options configures an embedded run.
type Options struct {
	// Config is the machine configuration. Zero-value fields fall back
	// to the machine defaults.
	Config vm.Config

	// MaxCycles bounds the run. Zero means run to completion.
	MaxCycles uint64
}

// Option is a functional option for configuring execution.
type Option func(*Options)

// WithConfig replaces the whole machine configuration.
func WithConfig(cfg vm.Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithProcessors sets the processor count.
func WithProcessors(n int) Option {
	return func(o *Options) {
		o.Config.Processors = n
	}
}

// WithMaxCycles bounds the run to n cycles.
func WithMaxCycles(n uint64) Option {
	return func(o *Options) {
		o.MaxCycles = n
	}
}

// WithScheduler sets the thread scheduler.
func WithScheduler(s vm.Scheduler) Option {
	return func(o *Options) {
		o.Config.Scheduler = s
	}
}

// WithSyscall installs a host syscall handler.
func WithSyscall(h vm.SyscallHandler) Option {
	return func(o *Options) {
		o.Config.Syscall = h
	}
}

// WithoutTrace disables execution tracing for long runs.
func WithoutTrace() Option {
	return func(o *Options) {
		o.Config.EnableTrace = false
	}
}

// WithAccessLog records every memory access for pattern analysis.
func WithAccessLog() Option {
	return func(o *Options) {
		o.Config.LogAccesses = true
	}
}

// Execute assembles and runs source code to completion.
func Execute(src string, opts ...Option) (*Result, error) {
	program, err := asm.Assemble("embedded", src)
	if err != nil {
		return nil, err
	}
	return Run(program, opts...)
}

// ExecuteFile reads an assembly file and executes it.
func ExecuteFile(path string, opts ...Option) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	program, err := asm.Assemble(path, string(data))
	if err != nil {
		return nil, err
	}
	return Run(program, opts...)
}

// Run executes an already-assembled program.
//
// Deadlocks surface as *vm.DeadlockError. A run that hits MaxCycles
// returns ErrCycleLimit together with the paused machine, which the
// caller may resume through Result.Machine().
func Run(program *isa.Program, opts ...Option) (*Result, error) {
	options := &Options{
		Config: vm.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(options)
	}

	machine := vm.New(options.Config)
	if err := machine.LoadProgram(program); err != nil {
		return nil, err
	}

	result := &Result{machine: machine}
	if err := machine.Run(options.MaxCycles); err != nil {
		if errors.Is(err, vm.ErrExecutionLimit) {
			return result, ErrCycleLimit
		}
		return result, err
	}
	return result, nil
}
