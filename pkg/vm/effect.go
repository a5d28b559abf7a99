package vm

// Effect is a side effect produced by instruction completion that the
// machine must resolve: memory traffic, synchronization, thread control.
// The set of variants is closed; the machine switches over all of them.
type Effect interface {
	effect()
}

// MemoryRead requests a coherent read. The value lands in register Dest,
// or in PC when SetPC is true (function return).
type MemoryRead struct {
	Addr  uint32
	Dest  uint8
	SetPC bool
}

// MemoryWrite requests a coherent write of Value to Addr.
type MemoryWrite struct {
	Addr  uint32
	Value uint32
}

// LockAcquire requests lock LockID for the executing thread. On contention
// the thread blocks in the lock's FIFO queue.
type LockAcquire struct {
	LockID uint32
}

// LockRelease releases lock LockID held by the executing thread.
type LockRelease struct {
	LockID uint32
}

// Fence orders memory by flushing dirty cache lines back to memory.
type Fence struct{}

// CompareAndSwap atomically replaces the word at Addr with New when it
// equals Expected. Register Result receives 1 on success, 0 otherwise.
type CompareAndSwap struct {
	Addr     uint32
	Expected uint32
	New      uint32
	Result   uint8
}

// BarrierWait parks the executing thread at barrier ID until Parties
// threads have arrived.
type BarrierWait struct {
	ID      uint32
	Parties int
}

// Halt terminates the executing thread.
type Halt struct{}

// Yield returns the executing thread to the back of the ready queue.
type Yield struct{}

// Syscall invokes the machine's system call handler.
type Syscall struct {
	Number uint32
}

// Spawn creates a new thread entering at FuncAddr with ArgAddr in R0.
// Register Result receives the new thread's id.
type Spawn struct {
	FuncAddr uint32
	ArgAddr  uint32
	Result   uint8
}

// Join blocks the executing thread until ThreadID terminates.
type Join struct {
	ThreadID int
}

func (MemoryRead) effect()     {}
func (MemoryWrite) effect()    {}
func (LockAcquire) effect()    {}
func (LockRelease) effect()    {}
func (Fence) effect()          {}
func (CompareAndSwap) effect() {}
func (BarrierWait) effect()    {}
func (Halt) effect()           {}
func (Yield) effect()          {}
func (Syscall) effect()        {}
func (Spawn) effect()          {}
func (Join) effect()           {}
