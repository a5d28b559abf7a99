// Package repl provides the interactive machine console. Programs can be
// typed in directly or loaded from files, then run to completion or
// stepped cycle by cycle while inspecting registers, memory, and the
// trace.
package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/akhildatla/parvm/pkg/asm"
	"github.com/akhildatla/parvm/pkg/vm"
)

const (
	prompt     = "parvm> "
	promptCont = "...> "
)

// REPL provides an interactive Read-Eval-Print Loop over a machine.
type REPL struct {
	cfg         vm.Config
	machine     *vm.Machine
	history     []string
	multiline   strings.Builder
	inMultiline bool
	quit        bool
}

// New creates a new REPL instance with the default machine configuration.
func New() *REPL {
	return &REPL{
		cfg:     vm.DefaultConfig(),
		history: []string{},
	}
}

// SetConfig sets the configuration used for machines the REPL creates.
func (r *REPL) SetConfig(cfg vm.Config) {
	r.cfg = cfg
}

// Start starts the REPL loop.
func (r *REPL) Start(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)

	fmt.Fprintln(out, "PARVM console - Parallel Virtual Machine")
	fmt.Fprintln(out, "Type 'help' for available commands, 'quit' to exit")
	fmt.Fprintln(out)

	for !r.quit {
		if r.inMultiline {
			fmt.Fprint(out, promptCont)
		} else {
			fmt.Fprint(out, prompt)
		}

		if !scanner.Scan() {
			break
		}

		line := scanner.Text()

		// Handle multiline input
		if r.inMultiline {
			if line == "" {
				r.inMultiline = false
				input := r.multiline.String()
				r.multiline.Reset()
				r.eval(input, out)
			} else {
				r.multiline.WriteString(line)
				r.multiline.WriteString("\n")
			}
			continue
		}

		if handled := r.handleCommand(line, out); handled {
			continue
		}

		// Multiline input starts with a trailing backslash
		if strings.HasSuffix(line, "\\") {
			r.inMultiline = true
			r.multiline.WriteString(strings.TrimSuffix(line, "\\"))
			r.multiline.WriteString("\n")
			continue
		}

		r.eval(line, out)
	}
}

func (r *REPL) handleCommand(line string, out io.Writer) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return true
	}

	switch parts[0] {
	case "quit", "exit", "q":
		fmt.Fprintln(out, "Goodbye!")
		r.quit = true
		return true

	case "help", "h", "?":
		r.printHelp(out)
		return true

	case "load":
		if len(parts) != 2 {
			fmt.Fprintln(out, "Usage: load <file.pasm>")
			return true
		}
		r.loadFile(parts[1], out)
		return true

	case "step":
		r.step(parts[1:], out)
		return true

	case "run":
		r.run(parts[1:], out)
		return true

	case "regs":
		r.printRegs(parts[1:], out)
		return true

	case "mem":
		r.printMem(parts[1:], out)
		return true

	case "threads":
		r.printThreads(out)
		return true

	case "trace":
		r.printTrace(parts[1:], out)
		return true

	case "stats":
		r.printStats(out)
		return true

	case "races":
		r.printRaces(out)
		return true

	case "reset":
		if r.machine == nil {
			fmt.Fprintln(out, "No program loaded")
			return true
		}
		if err := r.machine.Reset(); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return true
		}
		fmt.Fprintln(out, "Machine reset")
		return true

	case "history":
		for i, cmd := range r.history {
			fmt.Fprintf(out, "%3d: %s\n", i+1, cmd)
		}
		return true
	}

	return false
}

// eval treats the input as a whole assembly program: assemble, load into a
// fresh machine, and run it to completion.
func (r *REPL) eval(input string, out io.Writer) {
	if strings.TrimSpace(input) == "" {
		return
	}
	r.history = append(r.history, input)

	program, err := asm.Assemble("console", input)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}

	machine := vm.New(r.cfg)
	if err := machine.LoadProgram(program); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	r.machine = machine

	if err := machine.Run(0); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "=> halted after %d cycles\n", machine.Cycle())
	for _, fault := range machine.Faults() {
		fmt.Fprintf(out, "   %v\n", fault)
	}
}

func (r *REPL) loadFile(path string, out io.Writer) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(out, "Error loading %s: %v\n", path, err)
		return
	}
	program, err := asm.Assemble(path, string(data))
	if err != nil {
		fmt.Fprintf(out, "Error assembling %s: %v\n", path, err)
		return
	}

	machine := vm.New(r.cfg)
	if err := machine.LoadProgram(program); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	r.machine = machine
	fmt.Fprintf(out, "Loaded %s (%d instructions), machine ready\n", path, program.Len())
}

func (r *REPL) step(args []string, out io.Writer) {
	if r.machine == nil {
		fmt.Fprintln(out, "No program loaded")
		return
	}
	n := 1
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			fmt.Fprintln(out, "Usage: step [cycles]")
			return
		}
		n = v
	}

	for i := 0; i < n; i++ {
		if err := r.machine.Step(); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return
		}
		if r.machine.State() == vm.StateHalted {
			fmt.Fprintf(out, "halted at cycle %d\n", r.machine.Cycle())
			return
		}
	}
	fmt.Fprintf(out, "cycle %d, state %s\n", r.machine.Cycle(), r.machine.State())
}

func (r *REPL) run(args []string, out io.Writer) {
	if r.machine == nil {
		fmt.Fprintln(out, "No program loaded")
		return
	}
	var max uint64
	if len(args) > 0 {
		v, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			fmt.Fprintln(out, "Usage: run [max-cycles]")
			return
		}
		max = v
	}

	err := r.machine.Run(max)
	switch {
	case err == nil:
		fmt.Fprintf(out, "halted at cycle %d\n", r.machine.Cycle())
	case errors.Is(err, vm.ErrExecutionLimit):
		fmt.Fprintf(out, "paused at cycle %d\n", r.machine.Cycle())
	default:
		fmt.Fprintf(out, "Error: %v\n", err)
	}
}

func (r *REPL) printRegs(args []string, out io.Writer) {
	if r.machine == nil {
		fmt.Fprintln(out, "No program loaded")
		return
	}
	threadID := 0
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Fprintln(out, "Usage: regs [thread]")
			return
		}
		threadID = v
	}

	t, err := r.machine.Thread(threadID)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "thread %d (%s) pc=%d sp=%d fp=%d flags=%#x priv=%s\n",
		t.ID, t.State, t.Regs.PC, t.Regs.SP, t.Regs.FP, t.Regs.Flags, t.Regs.Priv)
	for i, v := range t.Regs.R {
		fmt.Fprintf(out, "  R%-2d = %10d (%#x)\n", i, v, v)
	}
}

func (r *REPL) printMem(args []string, out io.Writer) {
	if r.machine == nil {
		fmt.Fprintln(out, "No program loaded")
		return
	}
	if len(args) < 1 {
		fmt.Fprintln(out, "Usage: mem <addr> [count]")
		return
	}
	addr, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		fmt.Fprintln(out, "Usage: mem <addr> [count]")
		return
	}
	count := uint64(1)
	if len(args) > 1 {
		count, err = strconv.ParseUint(args[1], 10, 32)
		if err != nil || count == 0 {
			fmt.Fprintln(out, "Usage: mem <addr> [count]")
			return
		}
	}

	memory := r.machine.Memory().Memory()
	for i := uint64(0); i < count; i++ {
		a := uint32(addr + i)
		fmt.Fprintf(out, "  [%d] = %d\n", a, memory.Peek(a))
	}
}

func (r *REPL) printThreads(out io.Writer) {
	if r.machine == nil {
		fmt.Fprintln(out, "No program loaded")
		return
	}
	for _, t := range r.machine.Threads() {
		fmt.Fprintf(out, "  thread %d: %s, pc=%d, %d instructions\n",
			t.ID, t.State, t.Regs.PC, t.Instructions)
	}
}

func (r *REPL) printTrace(args []string, out io.Writer) {
	if r.machine == nil {
		fmt.Fprintln(out, "No program loaded")
		return
	}
	events := r.machine.Trace().Events(vm.TraceFilter{})
	n := 20
	if len(args) > 0 {
		if v, err := strconv.Atoi(args[0]); err == nil && v > 0 {
			n = v
		}
	}
	if len(events) > n {
		events = events[len(events)-n:]
	}
	for _, ev := range events {
		marker := " "
		if !ev.Completed {
			marker = "*"
		}
		fmt.Fprintf(out, "  c%-5d p%d t%d %04d:%s %s\n",
			ev.Cycle, ev.ProcessorID, ev.ThreadID, ev.PC, marker, ev.Text)
	}
}

func (r *REPL) printStats(out io.Writer) {
	if r.machine == nil {
		fmt.Fprintln(out, "No program loaded")
		return
	}
	st := r.machine.Stats()
	fmt.Fprintf(out, "cycles: %d, instructions: %d, context switches: %d\n",
		st.Cycles, st.Instructions, st.ContextSwitches)
	fmt.Fprintf(out, "threads: %d created, %d terminated, %d faulted\n",
		st.ThreadsCreated, st.ThreadsTerminated, st.ThreadsFaulted)
	fmt.Fprintf(out, "control-flow events: %d\n", st.ControlFlowEvents)
	for i, ps := range st.Processors {
		fmt.Fprintf(out, "proc %d: %.0f%% utilized (%d busy, %d stalled, %d idle)\n",
			i, ps.Utilization()*100, ps.BusyCycles, ps.StallCycles, ps.IdleCycles)
	}
	for i, cs := range st.Caches {
		fmt.Fprintf(out, "cache %d: %d hits, %d misses, %d evictions\n",
			i, cs.Hits, cs.Misses, cs.Evictions)
	}
	fmt.Fprintf(out, "bus: %d requests (%d read, %d write, %d invalidation)\n",
		st.Bus.TotalRequests, st.Bus.ReadRequests, st.Bus.WriteRequests, st.Bus.Invalidations)
	fmt.Fprintf(out, "locks: %d acquisitions, %d contentions\n",
		st.Sync.LockAcquisitions, st.Sync.LockContentions)
}

func (r *REPL) printRaces(out io.Writer) {
	if r.machine == nil || r.machine.Detector() == nil {
		fmt.Fprintln(out, "No program loaded")
		return
	}
	races := r.machine.Detector().Races()
	if len(races) == 0 {
		fmt.Fprintln(out, "No races detected")
		return
	}
	for _, race := range races {
		fmt.Fprintf(out, "  %s\n", race)
	}
}

func (r *REPL) printHelp(out io.Writer) {
	help := `
PARVM Console Commands:
  help, h, ?       Show this help message
  quit, exit, q    Exit the console
  load <file>      Assemble a file and load it into a fresh machine
  step [n]         Execute n cycles (default 1)
  run [n]          Run to completion, or for at most n cycles
  regs [thread]    Show a thread's registers (default thread 0)
  mem <addr> [n]   Show n memory words starting at addr
  threads          List threads and their states
  trace [n]        Show the last n trace events (default 20)
  stats            Show run statistics
  races            Show detected data races
  reset            Reset the loaded machine
  history          Show command history

Any other input is assembled as a program and run to completion:
  LOAD R0, #42 \
  STORE R0, @100 \
  HALT
  <blank line to execute>
`
	fmt.Fprint(out, help)
}
