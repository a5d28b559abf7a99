// Package isa defines the instruction set of the PARVM parallel virtual
// machine: opcodes, instruction records, programs, and the bytecode codec.
package isa

// Opcode represents a VM instruction opcode.
type Opcode uint8

const (
	// ===== Compute (0x00-0x0F) =====
	OpAdd Opcode = 0x00 // R[dst] = src1 + src2
	OpSub Opcode = 0x01 // R[dst] = src1 - src2
	OpMul Opcode = 0x02 // R[dst] = src1 * src2
	OpDiv Opcode = 0x03 // R[dst] = src1 / src2 (faults on zero divisor)
	OpAnd Opcode = 0x04 // R[dst] = src1 & src2
	OpOr  Opcode = 0x05 // R[dst] = src1 | src2
	OpXor Opcode = 0x06 // R[dst] = src1 ^ src2
	OpShl Opcode = 0x07 // R[dst] = src1 << src2
	OpShr Opcode = 0x08 // R[dst] = src1 >> src2

	// ===== Memory (0x10-0x1F) =====
	OpLoad  Opcode = 0x10 // R[dst] = memory[addr] or immediate
	OpStore Opcode = 0x11 // memory[addr] = src
	OpPush  Opcode = 0x12 // SP--; memory[SP] = src
	OpPop   Opcode = 0x13 // R[dst] = memory[SP]; SP++

	// ===== Branch (0x20-0x2F) =====
	OpJmp  Opcode = 0x20 // PC = target
	OpJz   Opcode = 0x21 // PC = target if cond == 0
	OpJnz  Opcode = 0x22 // PC = target if cond != 0
	OpCall Opcode = 0x23 // push return address; PC = target
	OpRet  Opcode = 0x24 // PC = memory[SP]; SP++

	// ===== Sync (0x30-0x3F) =====
	OpLock    Opcode = 0x30 // acquire lock id (blocks if held)
	OpUnlock  Opcode = 0x31 // release lock id
	OpFence   Opcode = 0x32 // memory ordering fence
	OpCas     Opcode = 0x33 // R[result] = CAS(addr, expected, new)
	OpBarrier Opcode = 0x34 // wait on barrier id with party count

	// ===== System (0x40-0x4F) =====
	OpHalt    Opcode = 0x40 // terminate the current thread
	OpYield   Opcode = 0x41 // give up the processor voluntarily
	OpSyscall Opcode = 0x42 // request a system service by number

	// ===== Special (0xF0-0xFF) =====
	OpNop   Opcode = 0xF0 // no operation
	OpSpawn Opcode = 0xF1 // R[result] = spawn thread at func addr with arg addr
	OpJoin  Opcode = 0xF2 // block until thread src terminates
)

// Class groups opcodes by their dispatch category.
type Class uint8

const (
	ClassCompute Class = iota
	ClassMemory
	ClassBranch
	ClassSync
	ClassSystem
	ClassSpecial
)

// String returns the string representation of an instruction class.
func (c Class) String() string {
	switch c {
	case ClassCompute:
		return "COMPUTE"
	case ClassMemory:
		return "MEMORY"
	case ClassBranch:
		return "BRANCH"
	case ClassSync:
		return "SYNC"
	case ClassSystem:
		return "SYSTEM"
	case ClassSpecial:
		return "SPECIAL"
	default:
		return "UNKNOWN"
	}
}

// Class returns the dispatch class of an opcode.
func (o Opcode) Class() Class {
	switch {
	case o <= OpShr:
		return ClassCompute
	case o >= OpLoad && o <= OpPop:
		return ClassMemory
	case o >= OpJmp && o <= OpRet:
		return ClassBranch
	case o >= OpLock && o <= OpBarrier:
		return ClassSync
	case o >= OpHalt && o <= OpSyscall:
		return ClassSystem
	default:
		return ClassSpecial
	}
}

// DefaultLatency returns the default cycle latency for an opcode.
// Individual instructions may override it.
func DefaultLatency(o Opcode) int {
	switch o {
	case OpMul:
		return 3
	case OpDiv:
		return 4
	case OpLoad, OpStore, OpPush, OpPop:
		return 2
	case OpLock, OpUnlock, OpCas, OpFence, OpBarrier:
		return 2
	case OpSpawn:
		return 4
	default:
		return 1
	}
}

// String returns the string representation of an opcode.
func (o Opcode) String() string {
	switch o {
	// Compute
	case OpAdd:
		return "ADD"
	case OpSub:
		return "SUB"
	case OpMul:
		return "MUL"
	case OpDiv:
		return "DIV"
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	case OpXor:
		return "XOR"
	case OpShl:
		return "SHL"
	case OpShr:
		return "SHR"

	// Memory
	case OpLoad:
		return "LOAD"
	case OpStore:
		return "STORE"
	case OpPush:
		return "PUSH"
	case OpPop:
		return "POP"

	// Branch
	case OpJmp:
		return "JMP"
	case OpJz:
		return "JZ"
	case OpJnz:
		return "JNZ"
	case OpCall:
		return "CALL"
	case OpRet:
		return "RET"

	// Sync
	case OpLock:
		return "LOCK"
	case OpUnlock:
		return "UNLOCK"
	case OpFence:
		return "FENCE"
	case OpCas:
		return "CAS"
	case OpBarrier:
		return "BARRIER"

	// System
	case OpHalt:
		return "HALT"
	case OpYield:
		return "YIELD"
	case OpSyscall:
		return "SYSCALL"

	// Special
	case OpNop:
		return "NOP"
	case OpSpawn:
		return "SPAWN"
	case OpJoin:
		return "JOIN"

	default:
		return "UNKNOWN"
	}
}

// OpcodeFromString returns the opcode for the given mnemonic.
func OpcodeFromString(s string) (Opcode, bool) {
	switch s {
	// Compute
	case "ADD":
		return OpAdd, true
	case "SUB":
		return OpSub, true
	case "MUL":
		return OpMul, true
	case "DIV":
		return OpDiv, true
	case "AND":
		return OpAnd, true
	case "OR":
		return OpOr, true
	case "XOR":
		return OpXor, true
	case "SHL":
		return OpShl, true
	case "SHR":
		return OpShr, true

	// Memory
	case "LOAD":
		return OpLoad, true
	case "STORE":
		return OpStore, true
	case "PUSH":
		return OpPush, true
	case "POP":
		return OpPop, true

	// Branch
	case "JMP":
		return OpJmp, true
	case "JZ":
		return OpJz, true
	case "JNZ":
		return OpJnz, true
	case "CALL":
		return OpCall, true
	case "RET":
		return OpRet, true

	// Sync
	case "LOCK":
		return OpLock, true
	case "UNLOCK":
		return OpUnlock, true
	case "FENCE":
		return OpFence, true
	case "CAS":
		return OpCas, true
	case "BARRIER":
		return OpBarrier, true

	// System
	case "HALT":
		return OpHalt, true
	case "YIELD":
		return OpYield, true
	case "SYSCALL":
		return OpSyscall, true

	// Special
	case "NOP":
		return OpNop, true
	case "SPAWN":
		return OpSpawn, true
	case "JOIN":
		return OpJoin, true

	default:
		return 0, false
	}
}
