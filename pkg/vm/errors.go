package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ===== Machine errors =====

var (
	ErrNoProgram      = errors.New("no program loaded")
	ErrNotRunnable    = errors.New("machine is not in a runnable state")
	ErrDivideByZero   = errors.New("division by zero")
	ErrInvalidOpcode  = errors.New("invalid opcode")
	ErrInvalidOperand = errors.New("invalid operand")
	ErrPCOutOfRange   = errors.New("program counter out of range")
	ErrPrivilege      = errors.New("privileged instruction in user mode")
	ErrUnknownThread  = errors.New("unknown thread")
	ErrExecutionLimit = errors.New("execution cycle limit reached")
)

// FaultError reports the failure of a single thread. The machine records
// the fault, terminates the thread, and keeps running the others.
type FaultError struct {
	ThreadID int
	PC       uint32
	Cycle    uint64
	Err      error
}

// Error implements the error interface.
func (e *FaultError) Error() string {
	return fmt.Sprintf("thread %d faulted at pc %d (cycle %d): %v", e.ThreadID, e.PC, e.Cycle, e.Err)
}

// Unwrap returns the underlying cause.
func (e *FaultError) Unwrap() error {
	return e.Err
}

// DeadlockError reports that every live thread is blocked with nothing
// left that could unblock it. Cycles holds the waits-for cycles found,
// each starting at its smallest thread id.
type DeadlockError struct {
	Cycle   uint64
	Blocked []int
	Cycles  [][]int
}

// Error implements the error interface.
func (e *DeadlockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "deadlock at cycle %d: threads %v blocked", e.Cycle, e.Blocked)
	for _, c := range e.Cycles {
		fmt.Fprintf(&b, "; cycle %v", c)
	}
	return b.String()
}
