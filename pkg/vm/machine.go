// Package vm implements the cycle-accurate parallel machine: processors
// with a stall-based latency model, a FIFO (or priority) thread scheduler,
// coherent per-processor caches, synchronization primitives, and a passive
// race detector. The machine is fully deterministic: a given program and
// configuration always produce the same cycle-by-cycle execution.
package vm

import (
	"fmt"
	"sort"

	"github.com/akhildatla/parvm/pkg/isa"
	"github.com/akhildatla/parvm/pkg/mem"
	"github.com/akhildatla/parvm/pkg/race"
	"github.com/akhildatla/parvm/pkg/sync"
)

// MachineState is the lifecycle state of the machine.
type MachineState uint8

const (
	StateReady MachineState = iota
	StateRunning
	StatePaused // cycle limit reached, resumable
	StateHalted
	StateDeadlocked
)

// String returns the string representation of a machine state.
func (s MachineState) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateHalted:
		return "HALTED"
	case StateDeadlocked:
		return "DEADLOCKED"
	default:
		return "UNKNOWN"
	}
}

// SyscallHandler services SYSCALL instructions. A returned error faults
// the calling thread.
type SyscallHandler func(m *Machine, threadID int, number uint32) error

// Config sizes and configures a machine. Zero-valued fields fall back to
// the defaults of DefaultConfig.
type Config struct {
	Processors int
	MemorySize uint32 // words
	CacheSize  uint32 // words per processor
	LineSize   uint32 // words
	Assoc      uint32 // ways
	BusLatency uint64 // cycles
	StackSize  uint32 // words reserved per thread

	InitialPrivilege Privilege
	EnableTrace      bool
	DetectRaces      bool
	LogAccesses      bool // record every memory access for pattern analysis
	Scheduler        Scheduler
	Syscall          SyscallHandler
}

// DefaultConfig returns the standard machine: four processors, 64K words
// of memory, 1K-word two-way caches with 16-word lines, and a two-cycle
// bus, with tracing and race detection on.
func DefaultConfig() Config {
	return Config{
		Processors:       4,
		MemorySize:       64 * 1024,
		CacheSize:        1024,
		LineSize:         16,
		Assoc:            2,
		BusLatency:       2,
		StackSize:        256,
		InitialPrivilege: Kernel,
		EnableTrace:      true,
		DetectRaces:      true,
	}
}

// Machine is the virtual machine driver. It owns the processors, the
// memory hierarchy, the scheduler, and the synchronization manager, and
// advances them together one cycle at a time.
type Machine struct {
	cfg     Config
	program *isa.Program

	procs    []*Processor
	memory   *mem.System
	syncMgr  *sync.Manager
	detector *race.Detector
	sched    Scheduler
	trace    *Trace

	threads     []*Thread // index is the thread id, creation order
	joinWaiters map[int][]int

	cycle           uint64
	state           MachineState
	contextSwitches uint64
	faults          []*FaultError
	deadlock        *DeadlockError
}

// New creates a machine from cfg.
func New(cfg Config) *Machine {
	def := DefaultConfig()
	if cfg.Processors <= 0 {
		cfg.Processors = def.Processors
	}
	if cfg.MemorySize == 0 {
		cfg.MemorySize = def.MemorySize
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.LineSize == 0 {
		cfg.LineSize = def.LineSize
	}
	if cfg.Assoc == 0 {
		cfg.Assoc = def.Assoc
	}
	if cfg.StackSize == 0 {
		cfg.StackSize = def.StackSize
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = NewRoundRobinScheduler()
	}

	m := &Machine{
		cfg: cfg,
		memory: mem.NewSystem(mem.SystemConfig{
			Processors: cfg.Processors,
			MemorySize: cfg.MemorySize,
			CacheSize:  cfg.CacheSize,
			LineSize:   cfg.LineSize,
			Assoc:      cfg.Assoc,
			BusLatency: cfg.BusLatency,
		}),
		syncMgr:     sync.NewManager(),
		sched:       cfg.Scheduler,
		trace:       NewTrace(cfg.EnableTrace),
		joinWaiters: make(map[int][]int),
	}
	if cfg.DetectRaces {
		m.detector = race.NewDetector(cfg.MemorySize)
	}
	if cfg.LogAccesses {
		m.memory.Memory().EnableLogging()
	}
	for i := 0; i < cfg.Processors; i++ {
		m.procs = append(m.procs, NewProcessor(i))
	}
	return m
}

// ===== Accessors =====

// Cycle returns the current cycle count.
func (m *Machine) Cycle() uint64 { return m.cycle }

// State returns the machine's lifecycle state.
func (m *Machine) State() MachineState { return m.state }

// Memory returns the coherent memory system.
func (m *Machine) Memory() *mem.System { return m.memory }

// SyncManager returns the synchronization manager.
func (m *Machine) SyncManager() *sync.Manager { return m.syncMgr }

// Detector returns the race detector, or nil when detection is off.
func (m *Machine) Detector() *race.Detector { return m.detector }

// Trace returns the execution trace.
func (m *Machine) Trace() *Trace { return m.trace }

// Faults returns every thread fault recorded so far.
func (m *Machine) Faults() []*FaultError { return m.faults }

// Deadlock returns the deadlock report, or nil.
func (m *Machine) Deadlock() *DeadlockError { return m.deadlock }

// Threads returns all threads in creation order.
func (m *Machine) Threads() []*Thread { return m.threads }

// Processors returns the processors in id order.
func (m *Machine) Processors() []*Processor { return m.procs }

// Thread returns the thread with the given id.
func (m *Machine) Thread(id int) (*Thread, error) {
	if id < 0 || id >= len(m.threads) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownThread, id)
	}
	return m.threads[id], nil
}

// ===== Program loading =====

// LoadProgram installs a program, loads its data segment, and creates the
// main thread (id 0) at the entry point. Any previous run is discarded.
func (m *Machine) LoadProgram(p *isa.Program) error {
	if p == nil || p.Len() == 0 {
		return ErrNoProgram
	}
	m.program = p
	m.reset()

	addrs := make([]uint32, 0, len(p.Data))
	for addr := range p.Data {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	for _, addr := range addrs {
		m.memory.Memory().Poke(addr, p.Data[addr])
	}

	m.spawnThread(p.EntryPoint, 0, m.cfg.InitialPrivilege)
	m.state = StateReady
	return nil
}

// Pause marks a running machine paused. Step and Run resume it.
func (m *Machine) Pause() {
	if m.state == StateRunning {
		m.state = StatePaused
	}
}

// Reset discards all execution state and reloads the current program.
func (m *Machine) Reset() error {
	if m.program == nil {
		return ErrNoProgram
	}
	return m.LoadProgram(m.program)
}

func (m *Machine) reset() {
	m.memory.Reset()
	m.syncMgr.Reset()
	if m.detector != nil {
		m.detector.Reset()
	}
	m.trace.Reset()
	m.threads = nil
	m.joinWaiters = make(map[int][]int)
	m.cycle = 0
	m.contextSwitches = 0
	m.faults = nil
	m.deadlock = nil
	for i := range m.procs {
		m.procs[i] = NewProcessor(i)
	}
	if r, ok := m.sched.(*RoundRobinScheduler); ok {
		*r = *NewRoundRobinScheduler()
	} else if p, ok := m.sched.(*PriorityScheduler); ok {
		*p = *NewPriorityScheduler()
	}
}

func (m *Machine) spawnThread(entry, arg uint32, priv Privilege) *Thread {
	id := len(m.threads)
	t := NewThread(id, entry, m.stackTop(id))
	t.Regs.R[0] = arg
	t.Regs.Priv = priv
	t.State = ThreadReady
	m.threads = append(m.threads, t)
	m.sched.Add(t)
	return t
}

// stackTop places per-thread stacks descending from the top of memory.
func (m *Machine) stackTop(threadID int) uint32 {
	return m.cfg.MemorySize - uint32(threadID)*m.cfg.StackSize
}

// ===== Execution =====

// Step advances the machine one cycle: ready threads are scheduled onto
// idle processors, every occupied processor executes one cycle, the bus
// ticks, and terminal conditions are checked. A thread fault never stops
// the machine; a deadlock does, returning a DeadlockError.
func (m *Machine) Step() error {
	if m.program == nil {
		return ErrNoProgram
	}
	if m.state == StateHalted || m.state == StateDeadlocked {
		return fmt.Errorf("%w: %s", ErrNotRunnable, m.state)
	}
	m.state = StateRunning
	m.cycle++

	m.scheduleThreads()

	for _, p := range m.procs {
		if p.ThreadID() == -1 {
			p.MarkIdle()
			continue
		}
		t := m.threads[p.ThreadID()]
		pc := p.Regs().PC

		inst, ok := m.program.Instruction(pc)
		if !ok {
			m.faultThread(p, t, fmt.Errorf("%w: %d", ErrPCOutOfRange, pc))
			continue
		}

		completed, effects, err := p.ExecuteInstruction(inst)
		m.trace.Record(TraceEvent{
			Cycle:       m.cycle,
			ProcessorID: p.ID(),
			ThreadID:    t.ID,
			PC:          pc,
			Text:        inst.String(),
			Completed:   completed,
		})
		if err != nil {
			m.faultThread(p, t, err)
			continue
		}
		if !completed {
			continue
		}
		t.Instructions++
		if err := m.applyEffects(p, t, effects); err != nil {
			return err
		}
	}

	m.memory.Tick(m.cycle)

	if m.liveThreads() == 0 {
		m.memory.FlushAll(m.cycle)
		m.state = StateHalted
		return nil
	}
	if m.allBlocked() {
		m.state = StateDeadlocked
		m.deadlock = m.buildDeadlockError()
		return m.deadlock
	}
	return nil
}

// Run executes until the machine halts or deadlocks, or until maxCycles
// further cycles have elapsed (0 means no limit). Hitting the limit leaves
// the machine paused and resumable and returns ErrExecutionLimit.
func (m *Machine) Run(maxCycles uint64) error {
	start := m.cycle
	for {
		if maxCycles > 0 && m.cycle-start >= maxCycles {
			m.state = StatePaused
			return fmt.Errorf("%w: %d cycles", ErrExecutionLimit, maxCycles)
		}
		if err := m.Step(); err != nil {
			return err
		}
		if m.state == StateHalted {
			return nil
		}
	}
}

// scheduleThreads hands ready threads to idle processors in ascending
// processor id order.
func (m *Machine) scheduleThreads() {
	for _, p := range m.procs {
		if p.ThreadID() != -1 {
			continue
		}
		t := m.sched.Next()
		for t != nil && t.State != ThreadReady {
			t = m.sched.Next()
		}
		if t == nil {
			return
		}
		if t.Instructions == 0 && t.StartCycle == 0 {
			t.StartCycle = m.cycle
		}
		p.AttachThread(t)
		m.contextSwitches++
	}
}

func (m *Machine) liveThreads() int {
	n := 0
	for _, t := range m.threads {
		if t.Live() {
			n++
		}
	}
	return n
}

// allBlocked reports whether every live thread is blocked. Since nothing
// outside the threads themselves can wake a waiter, this is a deadlock.
func (m *Machine) allBlocked() bool {
	blocked := 0
	for _, t := range m.threads {
		if !t.Live() {
			continue
		}
		if t.State != ThreadBlocked {
			return false
		}
		blocked++
	}
	return blocked > 0
}

func (m *Machine) buildDeadlockError() *DeadlockError {
	var blocked []int
	waitsFor := make(map[int]int)
	for _, t := range m.threads {
		if t.State != ThreadBlocked {
			continue
		}
		blocked = append(blocked, t.ID)
		switch t.Reason {
		case BlockLock:
			if holder := m.syncMgr.Lock(t.WaitLock).Holder(); holder != -1 {
				waitsFor[t.ID] = holder
			}
		case BlockJoin:
			waitsFor[t.ID] = t.WaitThread
		}
	}
	sort.Ints(blocked)
	return &DeadlockError{
		Cycle:   m.cycle,
		Blocked: blocked,
		Cycles:  race.FindCycles(waitsFor),
	}
}

// ===== Effect handling =====

// applyEffects routes a completed instruction's effects to the memory
// system, the synchronization manager, and the thread table. Per-thread
// problems become faults; a returned error is a machine-level failure
// that aborts the step.
func (m *Machine) applyEffects(p *Processor, t *Thread, effects []Effect) error {
	for _, e := range effects {
		if !t.Live() || t.State == ThreadBlocked {
			return nil
		}
		switch eff := e.(type) {
		case MemoryRead:
			v, err := m.memory.Read(eff.Addr, p.ID(), t.ID, m.cycle)
			if err != nil {
				m.faultThread(p, t, err)
				return nil
			}
			if eff.SetPC {
				p.RecordFlow(ControlFlowRecord{Kind: FlowReturn, From: p.Regs().PC - 1, To: v, Taken: true, Legitimate: true})
				p.Regs().PC = v
			} else {
				p.Regs().Set(eff.Dest, v)
			}
			m.recordAccess(t, eff.Addr, race.AccessRead)

		case MemoryWrite:
			if err := m.memory.Write(eff.Addr, eff.Value, p.ID(), t.ID, m.cycle); err != nil {
				m.faultThread(p, t, err)
				return nil
			}
			m.recordAccess(t, eff.Addr, race.AccessWrite)

		case LockAcquire:
			res := m.syncMgr.AcquireLock(eff.LockID, t.ID)
			if res.Acquired {
				m.recordSync(race.SyncAcquire, t.ID, eff.LockID)
				break
			}
			t.WaitLock = eff.LockID
			p.DetachThread(t)
			t.Block(BlockLock)

		case LockRelease:
			res, err := m.syncMgr.ReleaseLock(eff.LockID, t.ID)
			if err != nil {
				m.faultThread(p, t, err)
				return nil
			}
			m.recordSync(race.SyncRelease, t.ID, eff.LockID)
			if res.NextThread != -1 {
				m.wakeLockWaiter(res.NextThread, eff.LockID)
			}

		case Fence:
			m.memory.FlushAll(m.cycle)

		case CompareAndSwap:
			cur, err := m.memory.Read(eff.Addr, p.ID(), t.ID, m.cycle)
			if err != nil {
				m.faultThread(p, t, err)
				return nil
			}
			m.recordAccess(t, eff.Addr, race.AccessRead)
			if cur == eff.Expected {
				if err := m.memory.Write(eff.Addr, eff.New, p.ID(), t.ID, m.cycle); err != nil {
					m.faultThread(p, t, err)
					return nil
				}
				m.recordAccess(t, eff.Addr, race.AccessWrite)
				p.Regs().Set(eff.Result, 1)
			} else {
				p.Regs().Set(eff.Result, 0)
			}

		case BarrierWait:
			res := m.syncMgr.AwaitBarrier(eff.ID, eff.Parties, t.ID)
			if res.Status == sync.BarrierWaiting {
				t.WaitLock = eff.ID
				p.DetachThread(t)
				t.Block(BlockBarrier)
				break
			}
			for _, tid := range res.Released {
				if tid == t.ID {
					continue
				}
				m.threads[tid].Unblock()
				m.sched.Add(m.threads[tid])
			}

		case Halt:
			m.terminateThread(p, t, ThreadTerminated)

		case Yield:
			p.DetachThread(t)
			t.Unblock()
			m.sched.Add(t)

		case Syscall:
			if m.cfg.Syscall != nil {
				if err := m.cfg.Syscall(m, t.ID, eff.Number); err != nil {
					m.faultThread(p, t, err)
					return nil
				}
			}

		case Spawn:
			child := m.spawnThread(eff.FuncAddr, eff.ArgAddr, p.Regs().Priv)
			p.Regs().Set(eff.Result, uint32(child.ID))

		case Join:
			// Joining a thread that was never created is a machine-level
			// inconsistency, not a fault of the joining thread.
			target, err := m.Thread(eff.ThreadID)
			if err != nil {
				return err
			}
			if !target.Live() {
				break
			}
			t.WaitThread = target.ID
			m.joinWaiters[target.ID] = append(m.joinWaiters[target.ID], t.ID)
			p.DetachThread(t)
			t.Block(BlockJoin)
		}
	}
	return nil
}

// wakeLockWaiter readies the thread that inherited a lock via FIFO handoff.
func (m *Machine) wakeLockWaiter(threadID int, lockID uint32) {
	t := m.threads[threadID]
	m.recordSync(race.SyncAcquire, threadID, lockID)
	t.Unblock()
	m.sched.Add(t)
}

// terminateThread ends a thread, releases its locks in ascending id order,
// and wakes its join waiters.
func (m *Machine) terminateThread(p *Processor, t *Thread, state ThreadState) {
	if p != nil && p.ThreadID() == t.ID {
		p.DetachThread(t)
	}
	t.State = state
	t.EndCycle = m.cycle
	m.sched.Remove(t.ID)

	for _, h := range m.syncMgr.CleanupThread(t.ID) {
		m.recordSync(race.SyncRelease, t.ID, h.LockID)
		if h.NextThread != -1 {
			m.wakeLockWaiter(h.NextThread, h.LockID)
		}
	}
	for _, waiter := range m.joinWaiters[t.ID] {
		w := m.threads[waiter]
		if w.State == ThreadBlocked && w.Reason == BlockJoin && w.WaitThread == t.ID {
			w.Unblock()
			m.sched.Add(w)
		}
	}
	delete(m.joinWaiters, t.ID)
}

// faultThread records a fault and terminates the thread. The machine keeps
// running; the fault is retrievable via Faults.
func (m *Machine) faultThread(p *Processor, t *Thread, cause error) {
	fe := &FaultError{
		ThreadID: t.ID,
		PC:       p.Regs().PC,
		Cycle:    m.cycle,
		Err:      cause,
	}
	t.Fault = fe
	m.faults = append(m.faults, fe)
	m.trace.Record(TraceEvent{
		Cycle:       m.cycle,
		ProcessorID: p.ID(),
		ThreadID:    t.ID,
		PC:          fe.PC,
		Completed:   true,
		Note:        fe.Error(),
	})
	m.terminateThread(p, t, ThreadFaulted)
}

func (m *Machine) recordAccess(t *Thread, addr uint32, kind race.AccessKind) {
	if m.detector == nil {
		return
	}
	m.detector.RecordMemoryAccess(race.MemoryAccess{
		ThreadID:  t.ID,
		Address:   addr,
		Kind:      kind,
		Timestamp: m.cycle,
		Locks:     m.syncMgr.HeldBy(t.ID),
	})
}

func (m *Machine) recordSync(kind race.SyncKind, threadID int, lockID uint32) {
	if m.detector == nil {
		return
	}
	m.detector.RecordSyncOperation(kind, threadID, lockID, m.cycle)
}
