package asm

import (
	"errors"
	"testing"

	"github.com/akhildatla/parvm/pkg/isa"
)

const countdownSource = `
; count R0 down to zero
.entry start
.word 200 5
.latency MUL 6

start:
    LOAD R0, @200      ; initial counter from the data segment
loop:
    SUB R0, R0, #1
    JNZ loop
    MUL R1, R0, #3
    STORE R1, @201
    HALT
`

func TestAssemble_Countdown(t *testing.T) {
	p, err := Assemble("countdown", countdownSource)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}

	if p.EntryPoint != 0 {
		t.Errorf("expected entry at 0, got %d", p.EntryPoint)
	}
	if p.Len() != 6 {
		t.Fatalf("expected 6 instructions, got %d", p.Len())
	}
	if p.Data[200] != 5 {
		t.Errorf("expected data word 5 at 200, got %d", p.Data[200])
	}

	if p.Code[0].Op != isa.OpLoad {
		t.Errorf("expected LOAD first, got %s", p.Code[0].Op)
	}
	if got := p.Code[0].Operands[1]; got.Kind != isa.OperandAddr || got.Value != 200 {
		t.Errorf("expected @200 operand, got %s", got)
	}

	// The JNZ target resolves to the loop label at instruction 1.
	jnz := p.Code[2]
	if jnz.Op != isa.OpJnz || jnz.Operands[0].Value != 1 {
		t.Errorf("expected JNZ to target instruction 1, got %s", jnz)
	}

	// The .latency directive overrides the MUL default.
	if got := p.Code[3].Latency; got != 6 {
		t.Errorf("expected MUL latency 6, got %d", got)
	}
	if got := p.Code[1].Latency; got != 1 {
		t.Errorf("expected SUB latency 1, got %d", got)
	}
}

func TestAssemble_StackRegisters(t *testing.T) {
	p, err := Assemble("stack", "LOAD FP, #700\nPUSH SP\nPOP fp\nHALT\n")
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}

	if p.Code[0].Operands[0] != isa.FP() {
		t.Errorf("expected FP operand, got %s", p.Code[0].Operands[0])
	}
	if p.Code[1].Operands[0] != isa.SP() {
		t.Errorf("expected SP operand, got %s", p.Code[1].Operands[0])
	}
	// Register names are case-insensitive.
	if p.Code[2].Operands[0] != isa.FP() {
		t.Errorf("expected FP from lowercase name, got %s", p.Code[2].Operands[0])
	}
}

func TestAssemble_OperandKinds(t *testing.T) {
	p, err := Assemble("kinds", "ADD R2, R0, #0x10\nSTORE R2, @0x20\nHALT\n")
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}

	add := p.Code[0]
	if add.Operands[0] != isa.Reg(2) {
		t.Errorf("expected R2, got %s", add.Operands[0])
	}
	if add.Operands[2] != isa.Imm(16) {
		t.Errorf("expected #16 from hex literal, got %s", add.Operands[2])
	}
	if p.Code[1].Operands[1] != isa.Addr(32) {
		t.Errorf("expected @32 from hex literal, got %s", p.Code[1].Operands[1])
	}
}

func TestAssemble_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"unknown opcode", "FROBNICATE R1\n", ErrUnknownOpcode},
		{"unknown label", "JMP nowhere\n", ErrUnknownLabel},
		{"duplicate label", "a:\nNOP\na:\nNOP\n", ErrDuplicateLabel},
		{"bad register", "ADD R99, R0, R1\n", ErrInvalidRegister},
		{"bad directive", ".frob 1 2\n", ErrBadDirective},
		{"entry arity", ".entry\nNOP\n", ErrBadDirective},
		{"latency of unknown op", ".latency FROB 3\n", ErrUnknownOpcode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Assemble("bad", tt.src); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestAssemble_EntryByAddress(t *testing.T) {
	p, err := Assemble("entry", ".entry 2\nNOP\nNOP\nHALT\n")
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if p.EntryPoint != 2 {
		t.Errorf("expected entry 2, got %d", p.EntryPoint)
	}
}

func TestAssemble_RoundTripThroughDisassembler(t *testing.T) {
	src := "LOAD R0, #10\nLOAD R1, #32\nADD R2, R0, R1\nSTORE R2, @100\nHALT\n"
	p, err := Assemble("roundtrip", src)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}

	resrc := isa.Disassemble(p)
	p2, err := Assemble("roundtrip2", resrc)
	if err != nil {
		t.Fatalf("reassembly of disassembly failed: %v\n%s", err, resrc)
	}
	if p2.Len() != p.Len() {
		t.Fatalf("expected %d instructions, got %d", p.Len(), p2.Len())
	}
	for i := range p.Code {
		if p.Code[i].String() != p2.Code[i].String() {
			t.Errorf("instruction %d: %s != %s", i, p.Code[i], p2.Code[i])
		}
	}
}
