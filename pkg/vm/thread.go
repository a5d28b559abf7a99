package vm

// ThreadState is the lifecycle state of a thread.
type ThreadState uint8

const (
	ThreadNew ThreadState = iota
	ThreadReady
	ThreadRunning
	ThreadBlocked
	ThreadTerminated
	ThreadFaulted
)

// String returns the string representation of a thread state.
func (s ThreadState) String() string {
	switch s {
	case ThreadNew:
		return "NEW"
	case ThreadReady:
		return "READY"
	case ThreadRunning:
		return "RUNNING"
	case ThreadBlocked:
		return "BLOCKED"
	case ThreadTerminated:
		return "TERMINATED"
	case ThreadFaulted:
		return "FAULTED"
	default:
		return "UNKNOWN"
	}
}

// BlockReason says what a blocked thread is waiting for.
type BlockReason uint8

const (
	BlockNone BlockReason = iota
	BlockLock
	BlockBarrier
	BlockJoin
)

// Thread is one logical thread of execution. Its register context is saved
// here whenever the thread is not on a processor; scheduling restores it
// bit for bit.
type Thread struct {
	ID       int
	State    ThreadState
	Regs     RegisterSet
	Priority int // higher runs first under the priority scheduler

	Reason     BlockReason
	WaitLock   uint32 // valid when Reason is BlockLock or BlockBarrier
	WaitThread int    // valid when Reason is BlockJoin

	StartCycle   uint64
	EndCycle     uint64
	Instructions uint64
	Fault        *FaultError
}

// NewThread creates a thread entering at entry with the given stack pointer.
func NewThread(id int, entry, sp uint32) *Thread {
	t := &Thread{ID: id, State: ThreadNew, WaitThread: -1}
	t.Regs.PC = entry
	t.Regs.SP = sp
	t.Regs.FP = sp
	return t
}

// Live reports whether the thread can still make progress.
func (t *Thread) Live() bool {
	return t.State != ThreadTerminated && t.State != ThreadFaulted
}

// Block parks the thread with the given reason.
func (t *Thread) Block(reason BlockReason) {
	t.State = ThreadBlocked
	t.Reason = reason
}

// Unblock returns a blocked thread to the ready state.
func (t *Thread) Unblock() {
	t.State = ThreadReady
	t.Reason = BlockNone
	t.WaitThread = -1
}
