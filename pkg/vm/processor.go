package vm

import (
	"fmt"

	"github.com/akhildatla/parvm/pkg/isa"
)

// ProcessorState is the per-cycle activity state of a processor.
type ProcessorState uint8

const (
	ProcIdle ProcessorState = iota
	ProcBusy
	ProcStalled
)

// String returns the string representation of a processor state.
func (s ProcessorState) String() string {
	switch s {
	case ProcIdle:
		return "IDLE"
	case ProcBusy:
		return "BUSY"
	case ProcStalled:
		return "STALLED"
	default:
		return "UNKNOWN"
	}
}

// ProcessorStats counts how a processor spent its cycles.
type ProcessorStats struct {
	BusyCycles  uint64
	StallCycles uint64
	IdleCycles  uint64
	Executed    uint64 // instructions completed
}

// Utilization returns the fraction of cycles spent busy or stalled.
func (s ProcessorStats) Utilization() float64 {
	total := s.BusyCycles + s.StallCycles + s.IdleCycles
	if total == 0 {
		return 0
	}
	return float64(s.BusyCycles+s.StallCycles) / float64(total)
}

// FlowKind classifies a control-flow record.
type FlowKind uint8

const (
	FlowJump FlowKind = iota
	FlowBranch
	FlowCall
	FlowReturn
)

// String returns the string representation of a flow kind.
func (k FlowKind) String() string {
	switch k {
	case FlowJump:
		return "JUMP"
	case FlowBranch:
		return "BRANCH"
	case FlowCall:
		return "CALL"
	case FlowReturn:
		return "RETURN"
	default:
		return "UNKNOWN"
	}
}

// ControlFlowRecord is one entry in a processor's control-flow log. Every
// jump, branch, call, and return appends a record with the source and
// destination address. Legitimate is always true today; a control-flow
// integrity checker would clear it for targets outside the expected set.
type ControlFlowRecord struct {
	Kind       FlowKind
	From       uint32
	To         uint32
	Taken      bool
	Legitimate bool
}

// Processor executes instructions for the thread currently attached to it.
// An instruction with latency L occupies the processor for exactly L
// cycles: the first L-1 calls to ExecuteInstruction stall, the Lth
// completes and applies the architectural change.
type Processor struct {
	id       int
	regs     RegisterSet
	threadID int
	state    ProcessorState

	executing bool
	remaining int

	flow  []ControlFlowRecord
	stats ProcessorStats
}

// NewProcessor creates an idle processor.
func NewProcessor(id int) *Processor {
	return &Processor{id: id, threadID: -1}
}

// ID returns the processor id.
func (p *Processor) ID() int { return p.id }

// ThreadID returns the attached thread's id, or -1 when idle.
func (p *Processor) ThreadID() int { return p.threadID }

// State returns the processor's activity state.
func (p *Processor) State() ProcessorState { return p.state }

// Stats returns a copy of the cycle accounting.
func (p *Processor) Stats() ProcessorStats { return p.stats }

// Regs returns the live register context of the attached thread.
func (p *Processor) Regs() *RegisterSet { return &p.regs }

// ControlFlow returns the append-only control-flow log.
func (p *Processor) ControlFlow() []ControlFlowRecord { return p.flow }

// RecordFlow appends a control-flow record. The machine uses it for
// returns, whose target is only known once the stack read resolves.
func (p *Processor) RecordFlow(rec ControlFlowRecord) {
	p.flow = append(p.flow, rec)
}

// AttachThread installs a thread's register context.
func (p *Processor) AttachThread(t *Thread) {
	p.regs = t.Regs
	p.threadID = t.ID
	p.state = ProcBusy
	t.State = ThreadRunning
}

// DetachThread saves the register context back into the thread and idles
// the processor. Detach happens only on instruction boundaries.
func (p *Processor) DetachThread(t *Thread) {
	t.Regs = p.regs
	p.threadID = -1
	p.state = ProcIdle
	p.executing = false
	p.remaining = 0
}

// MarkIdle accounts one idle cycle.
func (p *Processor) MarkIdle() {
	p.state = ProcIdle
	p.stats.IdleCycles++
}

// ExecuteInstruction runs one cycle of inst. It returns completed=false
// while the instruction is stalling; on the completing cycle it applies
// register changes, advances PC (unless a branch redirected it), and
// returns the side effects for the machine to resolve.
func (p *Processor) ExecuteInstruction(inst isa.Instruction) (completed bool, effects []Effect, err error) {
	if !p.executing {
		if inst.Privileged && p.regs.Priv < Kernel {
			return false, nil, fmt.Errorf("%w: %s", ErrPrivilege, inst.Op)
		}
		p.executing = true
		p.remaining = inst.Latency
		if p.remaining < 1 {
			p.remaining = 1
		}
	}

	p.remaining--
	if p.remaining > 0 {
		p.state = ProcStalled
		p.stats.StallCycles++
		return false, nil, nil
	}

	p.executing = false
	p.state = ProcBusy
	p.stats.BusyCycles++

	effects, err = p.perform(inst)
	if err != nil {
		return false, nil, err
	}
	p.stats.Executed++
	return true, effects, nil
}

// value resolves an operand to its runtime value.
func (p *Processor) value(op isa.Operand) (uint32, error) {
	switch op.Kind {
	case isa.OperandReg:
		return p.regs.Get(op.Reg)
	case isa.OperandImm, isa.OperandAddr:
		return op.Value, nil
	default:
		return 0, fmt.Errorf("%w: kind %d", ErrInvalidOperand, op.Kind)
	}
}

// dest resolves an operand that must name a register.
func (p *Processor) dest(op isa.Operand) (uint8, error) {
	if op.Kind != isa.OperandReg {
		return 0, fmt.Errorf("%w: destination must be a register", ErrInvalidOperand)
	}
	if _, err := p.regs.Get(op.Reg); err != nil {
		return 0, fmt.Errorf("%w: destination must be a register", ErrInvalidOperand)
	}
	return op.Reg, nil
}

func (p *Processor) operands(inst isa.Instruction, n int) error {
	if len(inst.Operands) < n {
		return fmt.Errorf("%w: %s needs %d operands, has %d", ErrInvalidOperand, inst.Op, n, len(inst.Operands))
	}
	return nil
}

// perform applies the completing instruction. PC advances past the
// instruction first; branch semantics overwrite it.
func (p *Processor) perform(inst isa.Instruction) ([]Effect, error) {
	pc := p.regs.PC
	p.regs.PC = pc + 1

	switch inst.Op.Class() {
	case isa.ClassCompute:
		return nil, p.performCompute(inst)
	case isa.ClassMemory:
		return p.performMemory(inst)
	case isa.ClassBranch:
		return p.performBranch(inst, pc)
	case isa.ClassSync:
		return p.performSync(inst)
	case isa.ClassSystem, isa.ClassSpecial:
		return p.performSystem(inst)
	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrInvalidOpcode, uint8(inst.Op))
	}
}

func (p *Processor) performCompute(inst isa.Instruction) error {
	if err := p.operands(inst, 3); err != nil {
		return err
	}
	rd, err := p.dest(inst.Operands[0])
	if err != nil {
		return err
	}
	a, err := p.value(inst.Operands[1])
	if err != nil {
		return err
	}
	b, err := p.value(inst.Operands[2])
	if err != nil {
		return err
	}

	var result uint32
	var carry, overflow bool
	switch inst.Op {
	case isa.OpAdd:
		result = a + b
		carry = result < a
		overflow = (a^b)&0x80000000 == 0 && (a^result)&0x80000000 != 0
	case isa.OpSub:
		result = a - b
		carry = a < b // borrow
		overflow = (a^b)&0x80000000 != 0 && (a^result)&0x80000000 != 0
	case isa.OpMul:
		result = a * b
	case isa.OpDiv:
		if b == 0 {
			return fmt.Errorf("%w: %d / 0", ErrDivideByZero, a)
		}
		result = a / b
	case isa.OpAnd:
		result = a & b
	case isa.OpOr:
		result = a | b
	case isa.OpXor:
		result = a ^ b
	case isa.OpShl:
		result = a << (b & 31)
	case isa.OpShr:
		result = a >> (b & 31)
	default:
		return fmt.Errorf("%w: 0x%02X", ErrInvalidOpcode, uint8(inst.Op))
	}

	p.regs.Set(rd, result)
	p.regs.UpdateArithFlags(result, carry, overflow)
	return nil
}

func (p *Processor) performMemory(inst isa.Instruction) ([]Effect, error) {
	switch inst.Op {
	case isa.OpLoad:
		if err := p.operands(inst, 2); err != nil {
			return nil, err
		}
		rd, err := p.dest(inst.Operands[0])
		if err != nil {
			return nil, err
		}
		src := inst.Operands[1]
		if src.Kind == isa.OperandImm {
			p.regs.Set(rd, src.Value)
			return nil, nil
		}
		addr, err := p.value(src)
		if err != nil {
			return nil, err
		}
		return []Effect{MemoryRead{Addr: addr, Dest: rd}}, nil

	case isa.OpStore:
		if err := p.operands(inst, 2); err != nil {
			return nil, err
		}
		value, err := p.value(inst.Operands[0])
		if err != nil {
			return nil, err
		}
		addr, err := p.value(inst.Operands[1])
		if err != nil {
			return nil, err
		}
		return []Effect{MemoryWrite{Addr: addr, Value: value}}, nil

	case isa.OpPush:
		if err := p.operands(inst, 1); err != nil {
			return nil, err
		}
		value, err := p.value(inst.Operands[0])
		if err != nil {
			return nil, err
		}
		p.regs.SP--
		return []Effect{MemoryWrite{Addr: p.regs.SP, Value: value}}, nil

	case isa.OpPop:
		if err := p.operands(inst, 1); err != nil {
			return nil, err
		}
		rd, err := p.dest(inst.Operands[0])
		if err != nil {
			return nil, err
		}
		addr := p.regs.SP
		p.regs.SP++
		return []Effect{MemoryRead{Addr: addr, Dest: rd}}, nil
	}
	return nil, fmt.Errorf("%w: 0x%02X", ErrInvalidOpcode, uint8(inst.Op))
}

func (p *Processor) performBranch(inst isa.Instruction, pc uint32) ([]Effect, error) {
	if inst.Op == isa.OpRet {
		addr := p.regs.SP
		p.regs.SP++
		return []Effect{MemoryRead{Addr: addr, SetPC: true}}, nil
	}

	if err := p.operands(inst, 1); err != nil {
		return nil, err
	}
	target, err := p.value(inst.Operands[0])
	if err != nil {
		return nil, err
	}

	switch inst.Op {
	case isa.OpJmp:
		p.regs.PC = target
		p.RecordFlow(ControlFlowRecord{Kind: FlowJump, From: pc, To: target, Taken: true, Legitimate: true})
		return nil, nil
	case isa.OpJz:
		taken := p.regs.HasFlag(FlagZero)
		if taken {
			p.regs.PC = target
		}
		p.RecordFlow(ControlFlowRecord{Kind: FlowBranch, From: pc, To: p.regs.PC, Taken: taken, Legitimate: true})
		return nil, nil
	case isa.OpJnz:
		taken := !p.regs.HasFlag(FlagZero)
		if taken {
			p.regs.PC = target
		}
		p.RecordFlow(ControlFlowRecord{Kind: FlowBranch, From: pc, To: p.regs.PC, Taken: taken, Legitimate: true})
		return nil, nil
	case isa.OpCall:
		p.regs.SP--
		p.regs.PC = target
		p.RecordFlow(ControlFlowRecord{Kind: FlowCall, From: pc, To: target, Taken: true, Legitimate: true})
		return []Effect{MemoryWrite{Addr: p.regs.SP, Value: pc + 1}}, nil
	}
	return nil, fmt.Errorf("%w: 0x%02X", ErrInvalidOpcode, uint8(inst.Op))
}

func (p *Processor) performSync(inst isa.Instruction) ([]Effect, error) {
	switch inst.Op {
	case isa.OpLock, isa.OpUnlock:
		if err := p.operands(inst, 1); err != nil {
			return nil, err
		}
		id, err := p.value(inst.Operands[0])
		if err != nil {
			return nil, err
		}
		if inst.Op == isa.OpLock {
			return []Effect{LockAcquire{LockID: id}}, nil
		}
		return []Effect{LockRelease{LockID: id}}, nil

	case isa.OpFence:
		return []Effect{Fence{}}, nil

	case isa.OpCas:
		if err := p.operands(inst, 4); err != nil {
			return nil, err
		}
		rd, err := p.dest(inst.Operands[0])
		if err != nil {
			return nil, err
		}
		addr, err := p.value(inst.Operands[1])
		if err != nil {
			return nil, err
		}
		expected, err := p.value(inst.Operands[2])
		if err != nil {
			return nil, err
		}
		newVal, err := p.value(inst.Operands[3])
		if err != nil {
			return nil, err
		}
		return []Effect{CompareAndSwap{Addr: addr, Expected: expected, New: newVal, Result: rd}}, nil

	case isa.OpBarrier:
		if err := p.operands(inst, 2); err != nil {
			return nil, err
		}
		id, err := p.value(inst.Operands[0])
		if err != nil {
			return nil, err
		}
		parties, err := p.value(inst.Operands[1])
		if err != nil {
			return nil, err
		}
		return []Effect{BarrierWait{ID: id, Parties: int(parties)}}, nil
	}
	return nil, fmt.Errorf("%w: 0x%02X", ErrInvalidOpcode, uint8(inst.Op))
}

func (p *Processor) performSystem(inst isa.Instruction) ([]Effect, error) {
	switch inst.Op {
	case isa.OpNop:
		return nil, nil
	case isa.OpHalt:
		return []Effect{Halt{}}, nil
	case isa.OpYield:
		return []Effect{Yield{}}, nil
	case isa.OpSyscall:
		if err := p.operands(inst, 1); err != nil {
			return nil, err
		}
		number, err := p.value(inst.Operands[0])
		if err != nil {
			return nil, err
		}
		return []Effect{Syscall{Number: number}}, nil
	case isa.OpSpawn:
		if err := p.operands(inst, 3); err != nil {
			return nil, err
		}
		rd, err := p.dest(inst.Operands[0])
		if err != nil {
			return nil, err
		}
		fn, err := p.value(inst.Operands[1])
		if err != nil {
			return nil, err
		}
		arg, err := p.value(inst.Operands[2])
		if err != nil {
			return nil, err
		}
		return []Effect{Spawn{FuncAddr: fn, ArgAddr: arg, Result: rd}}, nil
	case isa.OpJoin:
		if err := p.operands(inst, 1); err != nil {
			return nil, err
		}
		tid, err := p.value(inst.Operands[0])
		if err != nil {
			return nil, err
		}
		return []Effect{Join{ThreadID: int(tid)}}, nil
	}
	return nil, fmt.Errorf("%w: 0x%02X", ErrInvalidOpcode, uint8(inst.Op))
}
