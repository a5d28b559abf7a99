package vm

import (
	"errors"
	"testing"

	"github.com/akhildatla/parvm/pkg/isa"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MemorySize = 4096
	cfg.CacheSize = 64
	cfg.LineSize = 8
	cfg.Assoc = 2
	cfg.BusLatency = 1
	return cfg
}

func loadedMachine(t *testing.T, cfg Config, code ...isa.Instruction) *Machine {
	t.Helper()
	m := New(cfg)
	if err := m.LoadProgram(isa.NewProgram("test", code)); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	return m
}

func TestMachine_ArithmeticProgram(t *testing.T) {
	m := loadedMachine(t, testConfig(),
		isa.New(isa.OpLoad, isa.Reg(0), isa.Imm(2)),
		isa.New(isa.OpLoad, isa.Reg(1), isa.Imm(3)),
		isa.New(isa.OpAdd, isa.Reg(2), isa.Reg(0), isa.Reg(1)),
		isa.New(isa.OpStore, isa.Reg(2), isa.Addr(100)),
		isa.New(isa.OpHalt),
	)

	if err := m.Run(0); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if m.State() != StateHalted {
		t.Fatalf("expected HALTED, got %s", m.State())
	}
	if got := m.Memory().Memory().Peek(100); got != 5 {
		t.Errorf("expected 5 at address 100, got %d", got)
	}

	// Two 2-cycle loads, a 1-cycle add, a 2-cycle store, a 1-cycle halt.
	if m.Cycle() != 8 {
		t.Errorf("expected exactly 8 cycles, got %d", m.Cycle())
	}
	th, _ := m.Thread(0)
	if th.Instructions != 5 {
		t.Errorf("expected 5 instructions executed, got %d", th.Instructions)
	}
}

func TestMachine_DataSegmentLoaded(t *testing.T) {
	p := isa.NewProgram("data", []isa.Instruction{
		isa.New(isa.OpLoad, isa.Reg(0), isa.Addr(200)),
		isa.New(isa.OpStore, isa.Reg(0), isa.Addr(201)),
		isa.New(isa.OpHalt),
	})
	p.Data[200] = 1234

	m := New(testConfig())
	if err := m.LoadProgram(p); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := m.Run(0); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := m.Memory().Memory().Peek(201); got != 1234 {
		t.Errorf("expected the data word copied to 201, got %d", got)
	}
}

// Joining a thread id that was never created is a machine-level error
// surfaced to the Run caller, not a per-thread fault.
func TestMachine_JoinUnknownThreadSurfacesError(t *testing.T) {
	m := loadedMachine(t, testConfig(),
		isa.New(isa.OpJoin, isa.Imm(99)),
		isa.New(isa.OpHalt),
	)

	err := m.Run(0)
	if !errors.Is(err, ErrUnknownThread) {
		t.Fatalf("expected ErrUnknownThread from Run, got %v", err)
	}
	if len(m.Faults()) != 0 {
		t.Errorf("expected no thread fault recorded, got %v", m.Faults())
	}
}

func TestMachine_ControlFlowRecords(t *testing.T) {
	m := loadedMachine(t, testConfig(),
		isa.New(isa.OpCall, isa.Addr(2)),
		isa.New(isa.OpHalt),
		isa.New(isa.OpRet),
	)

	if err := m.Run(0); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	flow := m.Processors()[0].ControlFlow()
	want := []ControlFlowRecord{
		{Kind: FlowCall, From: 0, To: 2, Taken: true, Legitimate: true},
		{Kind: FlowReturn, From: 2, To: 1, Taken: true, Legitimate: true},
	}
	if len(flow) != len(want) {
		t.Fatalf("expected %d control-flow records, got %d: %+v", len(want), len(flow), flow)
	}
	for i, w := range want {
		if flow[i] != w {
			t.Errorf("record %d: expected %+v, got %+v", i, w, flow[i])
		}
	}

	if got := m.Stats().ControlFlowEvents; got != 2 {
		t.Errorf("expected 2 control-flow events in stats, got %d", got)
	}
}

// A divide fault kills only the faulting thread; the rest of the machine
// runs to completion.
func TestMachine_FaultIsolation(t *testing.T) {
	m := loadedMachine(t, testConfig(),
		isa.New(isa.OpSpawn, isa.Reg(1), isa.Addr(5), isa.Imm(0)),
		isa.New(isa.OpLoad, isa.Reg(0), isa.Imm(1)),
		isa.New(isa.OpLoad, isa.Reg(0), isa.Imm(2)),
		isa.New(isa.OpLoad, isa.Reg(2), isa.Imm(7)),
		isa.New(isa.OpHalt),
		isa.New(isa.OpLoad, isa.Reg(3), isa.Imm(1)), // child
		isa.New(isa.OpDiv, isa.Reg(4), isa.Reg(3), isa.Imm(0)),
		isa.New(isa.OpHalt),
	)

	if err := m.Run(0); err != nil {
		t.Fatalf("a thread fault must not stop the machine: %v", err)
	}
	if m.State() != StateHalted {
		t.Fatalf("expected HALTED, got %s", m.State())
	}

	faults := m.Faults()
	if len(faults) != 1 {
		t.Fatalf("expected 1 fault, got %d", len(faults))
	}
	if faults[0].ThreadID != 1 || !errors.Is(faults[0], ErrDivideByZero) {
		t.Errorf("expected thread 1 divide fault, got %v", faults[0])
	}

	main, _ := m.Thread(0)
	child, _ := m.Thread(1)
	if main.State != ThreadTerminated {
		t.Errorf("expected main thread terminated normally, got %s", main.State)
	}
	if child.State != ThreadFaulted {
		t.Errorf("expected child faulted, got %s", child.State)
	}
}

func TestMachine_PCOutOfRangeFaults(t *testing.T) {
	m := loadedMachine(t, testConfig(),
		isa.New(isa.OpJmp, isa.Addr(99)),
	)

	if err := m.Run(0); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	faults := m.Faults()
	if len(faults) != 1 || !errors.Is(faults[0], ErrPCOutOfRange) {
		t.Fatalf("expected a PC range fault, got %v", faults)
	}
}

func TestMachine_LockHandoff(t *testing.T) {
	m := loadedMachine(t, testConfig(),
		isa.New(isa.OpLock, isa.Addr(500)),
		isa.New(isa.OpSpawn, isa.Reg(1), isa.Addr(6), isa.Imm(0)),
		isa.New(isa.OpLoad, isa.Reg(2), isa.Imm(1)),
		isa.New(isa.OpLoad, isa.Reg(2), isa.Imm(2)),
		isa.New(isa.OpUnlock, isa.Addr(500)),
		isa.New(isa.OpHalt),
		isa.New(isa.OpLock, isa.Addr(500)), // child blocks here
		isa.New(isa.OpLoad, isa.Reg(3), isa.Imm(9)),
		isa.New(isa.OpStore, isa.Reg(3), isa.Addr(100)),
		isa.New(isa.OpUnlock, isa.Addr(500)),
		isa.New(isa.OpHalt),
	)

	if err := m.Run(0); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if m.State() != StateHalted {
		t.Fatalf("expected HALTED, got %s", m.State())
	}
	if got := m.Memory().Memory().Peek(100); got != 9 {
		t.Errorf("expected the child's store to land after the handoff, got %d", got)
	}
	if len(m.Faults()) != 0 {
		t.Errorf("expected no faults, got %v", m.Faults())
	}

	st := m.SyncManager().Stats()
	if st.LockContentions != 1 {
		t.Errorf("expected 1 contention, got %d", st.LockContentions)
	}
	if st.LockAcquisitions != 2 {
		t.Errorf("expected 2 acquisitions, got %d", st.LockAcquisitions)
	}
}

func TestMachine_UnlockNotHeldFaults(t *testing.T) {
	m := loadedMachine(t, testConfig(),
		isa.New(isa.OpUnlock, isa.Addr(500)),
		isa.New(isa.OpHalt),
	)

	if err := m.Run(0); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	faults := m.Faults()
	if len(faults) != 1 {
		t.Fatalf("expected the bad unlock to fault the thread, got %v", faults)
	}
}

func TestMachine_BarrierReleasesAllParties(t *testing.T) {
	m := loadedMachine(t, testConfig(),
		isa.New(isa.OpSpawn, isa.Reg(1), isa.Addr(4), isa.Imm(0)),
		isa.New(isa.OpBarrier, isa.Addr(700), isa.Imm(2)),
		isa.New(isa.OpNop),
		isa.New(isa.OpHalt),
		isa.New(isa.OpBarrier, isa.Addr(700), isa.Imm(2)), // child
		isa.New(isa.OpHalt),
	)

	if err := m.Run(0); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if m.State() != StateHalted {
		t.Fatalf("expected HALTED, got %s", m.State())
	}
	if gen := m.SyncManager().Barrier(700, 2).Generation(); gen != 1 {
		t.Errorf("expected barrier generation 1 after one trip, got %d", gen)
	}
}

// Two threads taking two locks in opposite orders deadlock; the machine
// reports the cycle instead of patching the state.
func TestMachine_DeadlockDetection(t *testing.T) {
	m := loadedMachine(t, testConfig(),
		isa.New(isa.OpLock, isa.Addr(500)),
		isa.New(isa.OpSpawn, isa.Reg(1), isa.Addr(8), isa.Imm(0)),
		isa.New(isa.OpNop),
		isa.New(isa.OpNop),
		isa.New(isa.OpNop),
		isa.New(isa.OpNop),
		isa.New(isa.OpLock, isa.Addr(600)),
		isa.New(isa.OpHalt),
		isa.New(isa.OpLock, isa.Addr(600)), // child
		isa.New(isa.OpNop),
		isa.New(isa.OpLock, isa.Addr(500)),
		isa.New(isa.OpHalt),
	)

	err := m.Run(0)
	var dl *DeadlockError
	if !errors.As(err, &dl) {
		t.Fatalf("expected DeadlockError, got %v", err)
	}
	if m.State() != StateDeadlocked {
		t.Fatalf("expected DEADLOCKED, got %s", m.State())
	}
	if len(dl.Blocked) != 2 || dl.Blocked[0] != 0 || dl.Blocked[1] != 1 {
		t.Errorf("expected blocked threads [0 1], got %v", dl.Blocked)
	}
	if len(dl.Cycles) != 1 || len(dl.Cycles[0]) != 2 || dl.Cycles[0][0] != 0 {
		t.Errorf("expected waits-for cycle [0 1], got %v", dl.Cycles)
	}

	// A deadlocked machine refuses further steps.
	if err := m.Step(); !errors.Is(err, ErrNotRunnable) {
		t.Errorf("expected ErrNotRunnable after deadlock, got %v", err)
	}
}

// Hitting the cycle limit pauses the machine without corrupting it; the
// run can be resumed.
func TestMachine_ExecutionLimit(t *testing.T) {
	m := loadedMachine(t, testConfig(),
		isa.New(isa.OpJmp, isa.Addr(0)),
	)

	err := m.Run(10)
	if !errors.Is(err, ErrExecutionLimit) {
		t.Fatalf("expected ErrExecutionLimit, got %v", err)
	}
	if m.State() != StatePaused {
		t.Fatalf("expected PAUSED, got %s", m.State())
	}
	if m.Cycle() != 10 {
		t.Errorf("expected 10 cycles elapsed, got %d", m.Cycle())
	}

	if err := m.Step(); err != nil {
		t.Fatalf("expected the paused machine to resume: %v", err)
	}
	if m.Cycle() != 11 {
		t.Errorf("expected cycle 11 after resuming, got %d", m.Cycle())
	}
}

// With a single processor, yielding threads interleave and every context
// switch restores the register file exactly.
func TestMachine_YieldPreservesRegisters(t *testing.T) {
	cfg := testConfig()
	cfg.Processors = 1
	m := loadedMachine(t, cfg,
		isa.New(isa.OpLoad, isa.Reg(5), isa.Imm(77)),
		isa.New(isa.OpSpawn, isa.Reg(1), isa.Addr(6), isa.Imm(0)),
		isa.New(isa.OpYield),
		isa.New(isa.OpLoad, isa.Reg(6), isa.Imm(88)),
		isa.New(isa.OpStore, isa.Reg(5), isa.Addr(100)),
		isa.New(isa.OpHalt),
		isa.New(isa.OpLoad, isa.Reg(2), isa.Imm(5)), // child
		isa.New(isa.OpYield),
		isa.New(isa.OpHalt),
	)

	if err := m.Run(0); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := m.Memory().Memory().Peek(100); got != 77 {
		t.Errorf("expected R5 to survive the context switches, got %d at 100", got)
	}

	main, _ := m.Thread(0)
	child, _ := m.Thread(1)
	if main.Regs.R[5] != 77 || main.Regs.R[6] != 88 {
		t.Errorf("expected main registers preserved, got R5=%d R6=%d", main.Regs.R[5], main.Regs.R[6])
	}
	if child.Regs.R[2] != 5 {
		t.Errorf("expected child registers preserved, got R2=%d", child.Regs.R[2])
	}
	if m.Stats().ContextSwitches < 4 {
		t.Errorf("expected at least 4 context switches, got %d", m.Stats().ContextSwitches)
	}
}

func TestMachine_CompareAndSwap(t *testing.T) {
	m := loadedMachine(t, testConfig(),
		isa.New(isa.OpLoad, isa.Reg(2), isa.Imm(5)),
		isa.New(isa.OpStore, isa.Reg(2), isa.Addr(100)),
		isa.New(isa.OpCas, isa.Reg(3), isa.Addr(100), isa.Reg(2), isa.Imm(9)),
		isa.New(isa.OpCas, isa.Reg(4), isa.Addr(100), isa.Reg(2), isa.Imm(7)),
		isa.New(isa.OpStore, isa.Reg(3), isa.Addr(101)),
		isa.New(isa.OpStore, isa.Reg(4), isa.Addr(102)),
		isa.New(isa.OpHalt),
	)

	if err := m.Run(0); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	memory := m.Memory().Memory()
	if got := memory.Peek(100); got != 9 {
		t.Errorf("expected successful swap to 9, got %d", got)
	}
	if got := memory.Peek(101); got != 1 {
		t.Errorf("expected first CAS to report success, got %d", got)
	}
	if got := memory.Peek(102); got != 0 {
		t.Errorf("expected second CAS to report failure, got %d", got)
	}
}

func TestMachine_JoinWaitsForChild(t *testing.T) {
	m := loadedMachine(t, testConfig(),
		isa.New(isa.OpSpawn, isa.Reg(1), isa.Addr(3), isa.Imm(0)),
		isa.New(isa.OpJoin, isa.Reg(1)),
		isa.New(isa.OpHalt),
		isa.New(isa.OpLoad, isa.Reg(2), isa.Imm(1)), // child
		isa.New(isa.OpHalt),
	)

	if err := m.Run(0); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	main, _ := m.Thread(0)
	child, _ := m.Thread(1)
	if main.EndCycle < child.EndCycle {
		t.Errorf("join must order termination: main ended %d, child %d", main.EndCycle, child.EndCycle)
	}
}

func TestMachine_SpawnPassesArgument(t *testing.T) {
	m := loadedMachine(t, testConfig(),
		isa.New(isa.OpSpawn, isa.Reg(1), isa.Addr(2), isa.Imm(41)),
		isa.New(isa.OpHalt),
		isa.New(isa.OpAdd, isa.Reg(3), isa.Reg(0), isa.Imm(1)), // child: R0 is the argument
		isa.New(isa.OpStore, isa.Reg(3), isa.Addr(100)),
		isa.New(isa.OpHalt),
	)

	if err := m.Run(0); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := m.Memory().Memory().Peek(100); got != 42 {
		t.Errorf("expected the child to see its argument in R0, got %d", got)
	}
	main, _ := m.Thread(0)
	if main.Regs.R[1] != 1 {
		t.Errorf("expected the child id in R1, got %d", main.Regs.R[1])
	}
}

func TestMachine_RaceDetection(t *testing.T) {
	m := loadedMachine(t, testConfig(),
		isa.New(isa.OpSpawn, isa.Reg(1), isa.Addr(4), isa.Imm(0)),
		isa.New(isa.OpLoad, isa.Reg(2), isa.Imm(1)),
		isa.New(isa.OpStore, isa.Reg(2), isa.Addr(100)),
		isa.New(isa.OpHalt),
		isa.New(isa.OpLoad, isa.Reg(2), isa.Imm(2)), // child
		isa.New(isa.OpStore, isa.Reg(2), isa.Addr(100)),
		isa.New(isa.OpHalt),
	)

	if err := m.Run(0); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	races := m.Detector().Races()
	if len(races) == 0 {
		t.Fatal("expected the unsynchronized writes to be flagged")
	}
	if races[0].Address != 100 {
		t.Errorf("expected race at address 100, got %d", races[0].Address)
	}
	if m.State() != StateHalted {
		t.Errorf("race detection is advisory, expected HALTED, got %s", m.State())
	}
}

func TestMachine_PrivilegedFaultInUserMode(t *testing.T) {
	cfg := testConfig()
	cfg.InitialPrivilege = User
	m := loadedMachine(t, cfg,
		isa.New(isa.OpSyscall, isa.Imm(1)).AsPrivileged(),
		isa.New(isa.OpHalt),
	)

	if err := m.Run(0); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	faults := m.Faults()
	if len(faults) != 1 || !errors.Is(faults[0], ErrPrivilege) {
		t.Fatalf("expected a privilege fault, got %v", faults)
	}
}

func TestMachine_SyscallHandler(t *testing.T) {
	var calls []uint32
	cfg := testConfig()
	cfg.Syscall = func(m *Machine, threadID int, number uint32) error {
		calls = append(calls, number)
		return nil
	}
	m := loadedMachine(t, cfg,
		isa.New(isa.OpSyscall, isa.Imm(7)),
		isa.New(isa.OpSyscall, isa.Imm(8)),
		isa.New(isa.OpHalt),
	)

	if err := m.Run(0); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(calls) != 2 || calls[0] != 7 || calls[1] != 8 {
		t.Errorf("expected syscalls [7 8], got %v", calls)
	}
}

func TestMachine_TraceFilters(t *testing.T) {
	m := loadedMachine(t, testConfig(),
		isa.New(isa.OpLoad, isa.Reg(0), isa.Imm(1)),
		isa.New(isa.OpHalt),
	)
	if err := m.Run(0); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	all := m.Trace().Events(TraceFilter{})
	if len(all) != 3 { // 2-cycle load plus halt
		t.Fatalf("expected 3 trace events, got %d", len(all))
	}
	completed := m.Trace().Events(TraceFilter{CompletedOnly: true})
	if len(completed) != 2 {
		t.Errorf("expected 2 completed events, got %d", len(completed))
	}

	thread := 0
	if got := len(m.Trace().Events(TraceFilter{ThreadID: &thread})); got != 3 {
		t.Errorf("expected 3 events for thread 0, got %d", got)
	}
}

func TestMachine_StatsAggregation(t *testing.T) {
	m := loadedMachine(t, testConfig(),
		isa.New(isa.OpLoad, isa.Reg(0), isa.Imm(2)),
		isa.New(isa.OpStore, isa.Reg(0), isa.Addr(100)),
		isa.New(isa.OpHalt),
	)
	if err := m.Run(0); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	st := m.Stats()
	if st.Instructions != 3 {
		t.Errorf("expected 3 instructions, got %d", st.Instructions)
	}
	if st.ThreadsCreated != 1 || st.ThreadsTerminated != 1 {
		t.Errorf("expected one created and terminated thread, got %+v", st)
	}
	if len(st.Processors) != 4 {
		t.Fatalf("expected stats for 4 processors, got %d", len(st.Processors))
	}
	if st.Processors[0].Executed != 3 {
		t.Errorf("expected processor 0 to execute 3 instructions, got %d", st.Processors[0].Executed)
	}
	if st.Bus.TotalRequests == 0 {
		t.Error("expected bus traffic from the store miss")
	}
}

func TestMachine_ResetReloads(t *testing.T) {
	m := loadedMachine(t, testConfig(),
		isa.New(isa.OpLoad, isa.Reg(0), isa.Imm(1)),
		isa.New(isa.OpStore, isa.Reg(0), isa.Addr(100)),
		isa.New(isa.OpHalt),
	)
	if err := m.Run(0); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if err := m.Reset(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if m.State() != StateReady || m.Cycle() != 0 {
		t.Fatalf("expected a fresh READY machine, got %s at cycle %d", m.State(), m.Cycle())
	}
	if got := m.Memory().Memory().Peek(100); got != 0 {
		t.Fatalf("expected memory cleared by reset, got %d", got)
	}

	if err := m.Run(0); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if got := m.Memory().Memory().Peek(100); got != 1 {
		t.Errorf("expected the rerun to reproduce the result, got %d", got)
	}
}

func TestMachine_StepWithoutProgram(t *testing.T) {
	m := New(testConfig())
	if err := m.Step(); !errors.Is(err, ErrNoProgram) {
		t.Errorf("expected ErrNoProgram, got %v", err)
	}
}
