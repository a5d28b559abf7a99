package repl

import (
	"bytes"
	"strings"
	"testing"

	"github.com/akhildatla/parvm/pkg/vm"
)

func TestREPL_New(t *testing.T) {
	r := New()
	if r == nil {
		t.Fatal("New returned nil")
	}
	if r.machine != nil {
		t.Error("expected no machine before a program is loaded")
	}
}

func TestREPL_HandleCommand_Help(t *testing.T) {
	r := New()
	var out bytes.Buffer

	tests := []string{"help", "h", "?"}
	for _, cmd := range tests {
		out.Reset()
		handled := r.handleCommand(cmd, &out)
		if !handled {
			t.Errorf("expected help command %q to be handled", cmd)
		}
		if !strings.Contains(out.String(), "PARVM Console Commands") {
			t.Errorf("expected help text, got: %s", out.String())
		}
	}
}

func TestREPL_HandleCommand_RequiresProgram(t *testing.T) {
	r := New()
	var out bytes.Buffer

	for _, cmd := range []string{"step", "run", "regs", "threads", "stats", "races", "reset"} {
		out.Reset()
		if !r.handleCommand(cmd, &out) {
			t.Errorf("expected %q to be handled", cmd)
		}
		if !strings.Contains(out.String(), "No program loaded") {
			t.Errorf("%q: expected a no-program message, got: %s", cmd, out.String())
		}
	}
}

func TestREPL_EvalRunsProgram(t *testing.T) {
	r := New()
	var out bytes.Buffer

	r.eval("LOAD R0, #42\nSTORE R0, @100\nHALT\n", &out)

	if !strings.Contains(out.String(), "halted after") {
		t.Fatalf("expected a halt report, got: %s", out.String())
	}
	if r.machine == nil {
		t.Fatal("expected the machine to stay available for inspection")
	}
	if got := r.machine.Memory().Memory().Peek(100); got != 42 {
		t.Errorf("expected 42 at address 100, got %d", got)
	}
}

func TestREPL_EvalReportsAssemblyError(t *testing.T) {
	r := New()
	var out bytes.Buffer

	r.eval("FROBNICATE R1\n", &out)
	if !strings.Contains(out.String(), "Error:") {
		t.Errorf("expected an error report, got: %s", out.String())
	}
}

func TestREPL_StepAndRegs(t *testing.T) {
	r := New()
	var out bytes.Buffer
	r.eval("LOAD R0, #1\nHALT\n", &out)

	out.Reset()
	r.handleCommand("reset", &out)
	if !strings.Contains(out.String(), "Machine reset") {
		t.Fatalf("reset failed: %s", out.String())
	}

	out.Reset()
	r.handleCommand("step", &out)
	if !strings.Contains(out.String(), "cycle 1") {
		t.Errorf("expected the machine to advance one cycle, got: %s", out.String())
	}

	out.Reset()
	r.handleCommand("regs 0", &out)
	if !strings.Contains(out.String(), "thread 0") {
		t.Errorf("expected register output for thread 0, got: %s", out.String())
	}
}

func TestREPL_StartQuits(t *testing.T) {
	r := New()
	var out bytes.Buffer
	in := strings.NewReader("quit\n")

	r.Start(in, &out)
	if !strings.Contains(out.String(), "Goodbye!") {
		t.Errorf("expected a goodbye message, got: %s", out.String())
	}
}

func TestREPL_StartRunsOneLiner(t *testing.T) {
	r := New()
	var out bytes.Buffer
	in := strings.NewReader("HALT\nquit\n")

	r.Start(in, &out)
	if !strings.Contains(out.String(), "halted after") {
		t.Errorf("expected a halt report, got: %s", out.String())
	}
	if r.machine == nil || r.machine.State() != vm.StateHalted {
		t.Error("expected a halted machine after the one-liner")
	}
}
