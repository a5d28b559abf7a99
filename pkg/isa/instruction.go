package isa

import (
	"fmt"
	"strings"
)

// OperandKind discriminates the three operand forms.
type OperandKind uint8

const (
	OperandReg  OperandKind = iota // general-purpose register index
	OperandImm                     // immediate value
	OperandAddr                    // memory address
)

// Operand is a single instruction operand: a register index, an immediate
// value, or a memory address.
type Operand struct {
	Kind  OperandKind
	Reg   uint8  // valid when Kind == OperandReg
	Value uint32 // valid when Kind == OperandImm or OperandAddr
}

// Register indexes above the general-purpose file name the stack and
// frame pointers.
const (
	RegSP uint8 = 16
	RegFP uint8 = 17
)

// Reg returns a register operand.
func Reg(n uint8) Operand {
	return Operand{Kind: OperandReg, Reg: n}
}

// SP returns the stack-pointer register operand.
func SP() Operand {
	return Operand{Kind: OperandReg, Reg: RegSP}
}

// FP returns the frame-pointer register operand.
func FP() Operand {
	return Operand{Kind: OperandReg, Reg: RegFP}
}

// Imm returns an immediate operand.
func Imm(v uint32) Operand {
	return Operand{Kind: OperandImm, Value: v}
}

// Addr returns an address operand.
func Addr(a uint32) Operand {
	return Operand{Kind: OperandAddr, Value: a}
}

// String returns the assembly representation of an operand.
func (o Operand) String() string {
	switch o.Kind {
	case OperandReg:
		switch o.Reg {
		case RegSP:
			return "SP"
		case RegFP:
			return "FP"
		}
		return fmt.Sprintf("R%d", o.Reg)
	case OperandImm:
		return fmt.Sprintf("#%d", o.Value)
	case OperandAddr:
		return fmt.Sprintf("@%d", o.Value)
	default:
		return "?"
	}
}

// Instruction is an immutable decoded instruction: an opcode, its operands,
// the cycle latency, and whether kernel privilege is required to execute it.
type Instruction struct {
	Op         Opcode
	Operands   []Operand
	Latency    int
	Privileged bool
}

// New creates an instruction with the opcode's default latency.
func New(op Opcode, operands ...Operand) Instruction {
	return Instruction{
		Op:       op,
		Operands: operands,
		Latency:  DefaultLatency(op),
	}
}

// WithLatency returns a copy of the instruction with an overridden latency.
func (i Instruction) WithLatency(cycles int) Instruction {
	i.Latency = cycles
	return i
}

// AsPrivileged returns a copy of the instruction that requires kernel
// privilege.
func (i Instruction) AsPrivileged() Instruction {
	i.Privileged = true
	return i
}

// Class returns the dispatch class of the instruction.
func (i Instruction) Class() Class {
	return i.Op.Class()
}

// String returns the assembly representation of the instruction.
func (i Instruction) String() string {
	if len(i.Operands) == 0 {
		return i.Op.String()
	}
	parts := make([]string, len(i.Operands))
	for n, op := range i.Operands {
		parts[n] = op.String()
	}
	return fmt.Sprintf("%s %s", i.Op, strings.Join(parts, ", "))
}
