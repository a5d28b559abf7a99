package asm

import (
	"fmt"

	"github.com/akhildatla/parvm/pkg/isa"
)

// Issue is one static finding about a program.
type Issue struct {
	PC      uint32
	Message string
}

// String returns the issue formatted as a one-line diagnostic.
func (i Issue) String() string {
	return fmt.Sprintf("%04d: %s", i.PC, i.Message)
}

// Lint statically checks a program: branch targets must stay inside the
// code, every path should reach a HALT, and instructions no control flow
// can reach are reported. Findings are advisory and never change the
// program.
func Lint(p *isa.Program) []Issue {
	var issues []Issue
	n := uint32(p.Len())
	if n == 0 {
		return nil
	}

	if p.EntryPoint >= n {
		issues = append(issues, Issue{PC: p.EntryPoint, Message: "entry point outside the program"})
		return issues
	}

	for pc, inst := range p.Code {
		if target, ok := branchTarget(inst); ok && target >= n {
			issues = append(issues, Issue{
				PC:      uint32(pc),
				Message: fmt.Sprintf("%s target %d outside the program", inst.Op, target),
			})
		}
	}

	reached := reachable(p)
	sawHalt := false
	for pc := uint32(0); pc < n; pc++ {
		if !reached[pc] {
			issues = append(issues, Issue{
				PC:      pc,
				Message: fmt.Sprintf("unreachable %s", p.Code[pc].Op),
			})
			continue
		}
		if p.Code[pc].Op == isa.OpHalt {
			sawHalt = true
		}
	}
	if !sawHalt {
		issues = append(issues, Issue{PC: p.EntryPoint, Message: "no reachable HALT"})
	}
	return issues
}

// reachable walks control flow from the entry point and every SPAWN
// target. RET and computed flow are approximated by treating CALL as
// continuing at the next instruction.
func reachable(p *isa.Program) []bool {
	n := uint32(p.Len())
	reached := make([]bool, n)

	work := []uint32{p.EntryPoint}
	for len(work) > 0 {
		pc := work[len(work)-1]
		work = work[:len(work)-1]
		if pc >= n || reached[pc] {
			continue
		}
		reached[pc] = true

		inst := p.Code[pc]
		switch inst.Op {
		case isa.OpHalt, isa.OpRet:
			// Flow stops here.
		case isa.OpJmp:
			if target, ok := branchTarget(inst); ok {
				work = append(work, target)
			}
		case isa.OpJz, isa.OpJnz, isa.OpCall:
			if target, ok := branchTarget(inst); ok {
				work = append(work, target)
			}
			work = append(work, pc+1)
		case isa.OpSpawn:
			if len(inst.Operands) > 1 && inst.Operands[1].Kind != isa.OperandReg {
				work = append(work, inst.Operands[1].Value)
			}
			work = append(work, pc+1)
		default:
			work = append(work, pc+1)
		}
	}
	return reached
}

// branchTarget extracts a static branch target. Register-indirect
// branches have none.
func branchTarget(inst isa.Instruction) (uint32, bool) {
	switch inst.Op {
	case isa.OpJmp, isa.OpJz, isa.OpJnz, isa.OpCall:
		if len(inst.Operands) > 0 && inst.Operands[0].Kind != isa.OperandReg {
			return inst.Operands[0].Value, true
		}
	}
	return 0, false
}
