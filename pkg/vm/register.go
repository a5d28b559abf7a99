package vm

import (
	"errors"
	"fmt"

	"github.com/akhildatla/parvm/pkg/isa"
)

// NumRegisters is the number of general-purpose registers per processor.
const NumRegisters = 16

// ErrInvalidRegister is returned for register indexes outside R0..R15.
var ErrInvalidRegister = errors.New("invalid register")

// Flag is a bit in the FLAGS register.
type Flag uint32

const (
	FlagZero      Flag = 1 << 0
	FlagNegative  Flag = 1 << 1
	FlagCarry     Flag = 1 << 2
	FlagOverflow  Flag = 1 << 3
	FlagInterrupt Flag = 1 << 4
)

// Privilege is the execution privilege level of a register context.
// Levels are ordered: User < Supervisor < Kernel.
type Privilege uint8

const (
	User Privilege = iota
	Supervisor
	Kernel
)

// String returns the string representation of a privilege level.
func (p Privilege) String() string {
	switch p {
	case User:
		return "USER"
	case Supervisor:
		return "SUPERVISOR"
	case Kernel:
		return "KERNEL"
	default:
		return "UNKNOWN"
	}
}

// RegisterSet is the full register context of one thread: sixteen general
// registers plus PC, SP, FP, FLAGS, and the privilege level. It is a plain
// value; assignment copies the whole context.
type RegisterSet struct {
	R     [NumRegisters]uint32
	PC    uint32
	SP    uint32
	FP    uint32
	Flags Flag
	Priv  Privilege
}

// Get returns register n. The indexes isa.RegSP and isa.RegFP address the
// stack and frame pointers.
func (r *RegisterSet) Get(n uint8) (uint32, error) {
	switch {
	case int(n) < NumRegisters:
		return r.R[n], nil
	case n == isa.RegSP:
		return r.SP, nil
	case n == isa.RegFP:
		return r.FP, nil
	}
	return 0, fmt.Errorf("%w: R%d", ErrInvalidRegister, n)
}

// Set stores value into register n.
func (r *RegisterSet) Set(n uint8, value uint32) error {
	switch {
	case int(n) < NumRegisters:
		r.R[n] = value
	case n == isa.RegSP:
		r.SP = value
	case n == isa.RegFP:
		r.FP = value
	default:
		return fmt.Errorf("%w: R%d", ErrInvalidRegister, n)
	}
	return nil
}

// HasFlag reports whether f is set.
func (r *RegisterSet) HasFlag(f Flag) bool {
	return r.Flags&f != 0
}

// SetFlag sets or clears f.
func (r *RegisterSet) SetFlag(f Flag, on bool) {
	if on {
		r.Flags |= f
	} else {
		r.Flags &^= f
	}
}

// UpdateArithFlags sets ZERO and NEGATIVE from result and CARRY and
// OVERFLOW from the supplied conditions.
func (r *RegisterSet) UpdateArithFlags(result uint32, carry, overflow bool) {
	r.SetFlag(FlagZero, result == 0)
	r.SetFlag(FlagNegative, result&0x80000000 != 0)
	r.SetFlag(FlagCarry, carry)
	r.SetFlag(FlagOverflow, overflow)
}
