package asm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/akhildatla/parvm/pkg/isa"
)

// Assembler errors
var (
	ErrUnknownOpcode   = errors.New("unknown opcode")
	ErrUnknownLabel    = errors.New("unknown label")
	ErrBadDirective    = errors.New("malformed directive")
	ErrBadOperand      = errors.New("malformed operand")
	ErrDuplicateLabel  = errors.New("duplicate label")
	ErrInvalidRegister = errors.New("invalid register")
)

// rawInst is one instruction before label resolution.
type rawInst struct {
	opcode   isa.Opcode
	operands []Token
	line     int
}

// Parser assembles source text into a program in two passes: the first
// collects labels, directives, and raw instructions; the second resolves
// label operands to instruction addresses and encodes.
type Parser struct {
	tokens []Token
	pos    int

	insts     []rawInst
	labels    map[string]uint32
	data      map[uint32]uint32
	latencies map[isa.Opcode]int
	entry     Token
	hasEntry  bool
}

// NewParser creates a parser for the given source.
func NewParser(src string) *Parser {
	return &Parser{
		tokens:    NewLexer(src).Tokenize(),
		labels:    make(map[string]uint32),
		data:      make(map[uint32]uint32),
		latencies: make(map[isa.Opcode]int),
	}
}

// Assemble parses and encodes src into a program.
func Assemble(name, src string) (*isa.Program, error) {
	return NewParser(src).Parse(name)
}

// Parse runs both passes and returns the assembled program.
func (p *Parser) Parse(name string) (*isa.Program, error) {
	if err := p.collect(); err != nil {
		return nil, err
	}
	return p.encode(name)
}

// ===== Pass 1: collection =====

func (p *Parser) collect() error {
	for {
		tok := p.tokens[p.pos]
		switch tok.Type {
		case TokenEOF:
			return nil
		case TokenNewline:
			p.pos++
		case TokenDirective:
			if err := p.parseDirective(); err != nil {
				return err
			}
		case TokenInt:
			// Disassembler listings prefix instructions with "NNNN:".
			if p.tokens[p.pos+1].Type == TokenColon {
				p.pos += 2
				continue
			}
			return fmt.Errorf("line %d: unexpected token %q", tok.Line, tok.Value)
		case TokenIdent:
			if p.tokens[p.pos+1].Type == TokenColon {
				if _, dup := p.labels[tok.Value]; dup {
					return fmt.Errorf("line %d: %w: %s", tok.Line, ErrDuplicateLabel, tok.Value)
				}
				p.labels[tok.Value] = uint32(len(p.insts))
				p.pos += 2
				continue
			}
			if err := p.parseInstruction(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("line %d: unexpected token %q", tok.Line, tok.Value)
		}
	}
}

func (p *Parser) parseDirective() error {
	dir := p.tokens[p.pos]
	p.pos++
	args := p.lineTokens()

	switch dir.Value {
	case "entry":
		if len(args) != 1 {
			return fmt.Errorf("line %d: %w: .entry takes one argument", dir.Line, ErrBadDirective)
		}
		p.entry = args[0]
		p.hasEntry = true

	case "word":
		if len(args) != 2 {
			return fmt.Errorf("line %d: %w: .word takes an address and a value", dir.Line, ErrBadDirective)
		}
		addr, err := parseUint32(args[0])
		if err != nil {
			return fmt.Errorf("line %d: %w", dir.Line, err)
		}
		value, err := parseUint32(args[1])
		if err != nil {
			return fmt.Errorf("line %d: %w", dir.Line, err)
		}
		p.data[addr] = value

	case "latency":
		if len(args) != 2 {
			return fmt.Errorf("line %d: %w: .latency takes an opcode and a cycle count", dir.Line, ErrBadDirective)
		}
		op, ok := isa.OpcodeFromString(args[0].Value)
		if !ok {
			return fmt.Errorf("line %d: %w: %s", dir.Line, ErrUnknownOpcode, args[0].Value)
		}
		cycles, err := parseUint32(args[1])
		if err != nil || cycles == 0 {
			return fmt.Errorf("line %d: %w: latency must be a positive integer", dir.Line, ErrBadDirective)
		}
		p.latencies[op] = int(cycles)

	default:
		return fmt.Errorf("line %d: %w: .%s", dir.Line, ErrBadDirective, dir.Value)
	}
	return nil
}

func (p *Parser) parseInstruction() error {
	tok := p.tokens[p.pos]
	op, ok := isa.OpcodeFromString(tok.Value)
	if !ok {
		return fmt.Errorf("line %d: %w: %s", tok.Line, ErrUnknownOpcode, tok.Value)
	}
	p.pos++
	p.insts = append(p.insts, rawInst{opcode: op, operands: p.lineTokens(), line: tok.Line})
	return nil
}

// lineTokens consumes the rest of the current line, dropping commas.
func (p *Parser) lineTokens() []Token {
	var args []Token
	for {
		tok := p.tokens[p.pos]
		if tok.Type == TokenNewline || tok.Type == TokenEOF {
			return args
		}
		p.pos++
		if tok.Type == TokenComma {
			continue
		}
		args = append(args, tok)
	}
}

// ===== Pass 2: encoding =====

func (p *Parser) encode(name string) (*isa.Program, error) {
	code := make([]isa.Instruction, 0, len(p.insts))
	for _, raw := range p.insts {
		operands := make([]isa.Operand, 0, len(raw.operands))
		for _, tok := range raw.operands {
			operand, err := p.resolveOperand(tok)
			if err != nil {
				return nil, err
			}
			operands = append(operands, operand)
		}
		inst := isa.New(raw.opcode, operands...)
		if cycles, ok := p.latencies[raw.opcode]; ok {
			inst = inst.WithLatency(cycles)
		}
		code = append(code, inst)
	}

	program := isa.NewProgram(name, code)
	for addr, value := range p.data {
		program.Data[addr] = value
	}

	if p.hasEntry {
		switch p.entry.Type {
		case TokenIdent:
			addr, ok := p.labels[p.entry.Value]
			if !ok {
				return nil, fmt.Errorf("line %d: %w: %s", p.entry.Line, ErrUnknownLabel, p.entry.Value)
			}
			program.EntryPoint = addr
		default:
			addr, err := parseUint32(p.entry)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", p.entry.Line, err)
			}
			program.EntryPoint = addr
		}
	}
	return program, nil
}

// resolveOperand maps a token to an encoded operand. Bare identifiers are
// label references and encode as the labeled instruction's address.
func (p *Parser) resolveOperand(tok Token) (isa.Operand, error) {
	switch tok.Type {
	case TokenReg:
		switch strings.ToUpper(tok.Value) {
		case "SP":
			return isa.SP(), nil
		case "FP":
			return isa.FP(), nil
		}
		n, err := strconv.ParseUint(tok.Value[1:], 10, 8)
		if err != nil || n > 15 {
			return isa.Operand{}, fmt.Errorf("line %d: %w: %s", tok.Line, ErrInvalidRegister, tok.Value)
		}
		return isa.Reg(uint8(n)), nil

	case TokenImm, TokenInt:
		v, err := parseUint32(tok)
		if err != nil {
			return isa.Operand{}, fmt.Errorf("line %d: %w", tok.Line, err)
		}
		return isa.Imm(v), nil

	case TokenAddr:
		v, err := parseUint32(tok)
		if err != nil {
			return isa.Operand{}, fmt.Errorf("line %d: %w", tok.Line, err)
		}
		return isa.Addr(v), nil

	case TokenIdent:
		addr, ok := p.labels[tok.Value]
		if !ok {
			return isa.Operand{}, fmt.Errorf("line %d: %w: %s", tok.Line, ErrUnknownLabel, tok.Value)
		}
		return isa.Addr(addr), nil

	default:
		return isa.Operand{}, fmt.Errorf("line %d: %w: %q", tok.Line, ErrBadOperand, tok.Value)
	}
}

func parseUint32(tok Token) (uint32, error) {
	v, err := strconv.ParseUint(tok.Value, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadOperand, tok.Value)
	}
	return uint32(v), nil
}
