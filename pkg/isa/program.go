package isa

// Program is an immutable, loadable sequence of instructions plus an entry
// point and an initial data segment.
type Program struct {
	Name       string
	Code       []Instruction
	EntryPoint uint32
	Data       map[uint32]uint32 // address -> initial word value
}

// NewProgram creates a program with an empty data segment.
func NewProgram(name string, code []Instruction) *Program {
	return &Program{
		Name: name,
		Code: code,
		Data: make(map[uint32]uint32),
	}
}

// Instruction returns the instruction at pc, or false when pc is past the
// end of the code.
func (p *Program) Instruction(pc uint32) (Instruction, bool) {
	if int(pc) >= len(p.Code) {
		return Instruction{}, false
	}
	return p.Code[pc], true
}

// Len returns the number of instructions.
func (p *Program) Len() int {
	return len(p.Code)
}
