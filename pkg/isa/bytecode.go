package isa

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Bytecode file format:
// - Magic: "PVBC" (4 bytes)
// - Version: uint16
// - NameLen: uint16, Name: []byte
// - EntryPoint: uint32
// - NumInstructions: uint32
// - Instructions: opcode uint8, flags uint8 (bit0 = privileged),
//   latency uint16, numOperands uint8, then per operand:
//   kind uint8, reg uint8, value uint32
// - NumDataWords: uint32
// - DataWords: address uint32, value uint32 (ascending address order)

const (
	BytecodeMagic   = "PVBC"
	BytecodeVersion = 1
)

var (
	ErrInvalidMagic   = errors.New("invalid bytecode magic")
	ErrInvalidVersion = errors.New("unsupported bytecode version")
)

// SerializeProgram serializes a Program to bytecode format.
func SerializeProgram(p *Program) ([]byte, error) {
	buf := new(bytes.Buffer)

	// Write magic
	buf.WriteString(BytecodeMagic)

	// Write version
	if err := binary.Write(buf, binary.LittleEndian, uint16(BytecodeVersion)); err != nil {
		return nil, fmt.Errorf("writing version: %w", err)
	}

	// Write name
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(p.Name))); err != nil {
		return nil, fmt.Errorf("writing name length: %w", err)
	}
	buf.WriteString(p.Name)

	// Write entry point
	if err := binary.Write(buf, binary.LittleEndian, p.EntryPoint); err != nil {
		return nil, fmt.Errorf("writing entry point: %w", err)
	}

	// Write instructions
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(p.Code))); err != nil {
		return nil, fmt.Errorf("writing instruction count: %w", err)
	}
	for _, inst := range p.Code {
		var flags uint8
		if inst.Privileged {
			flags |= 1
		}
		buf.WriteByte(uint8(inst.Op))
		buf.WriteByte(flags)
		if err := binary.Write(buf, binary.LittleEndian, uint16(inst.Latency)); err != nil {
			return nil, fmt.Errorf("writing latency: %w", err)
		}
		buf.WriteByte(uint8(len(inst.Operands)))
		for _, op := range inst.Operands {
			buf.WriteByte(uint8(op.Kind))
			buf.WriteByte(op.Reg)
			if err := binary.Write(buf, binary.LittleEndian, op.Value); err != nil {
				return nil, fmt.Errorf("writing operand: %w", err)
			}
		}
	}

	// Write data segment in ascending address order for a stable encoding
	addrs := make([]uint32, 0, len(p.Data))
	for addr := range p.Data {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	if err := binary.Write(buf, binary.LittleEndian, uint32(len(addrs))); err != nil {
		return nil, fmt.Errorf("writing data count: %w", err)
	}
	for _, addr := range addrs {
		if err := binary.Write(buf, binary.LittleEndian, addr); err != nil {
			return nil, fmt.Errorf("writing data address: %w", err)
		}
		if err := binary.Write(buf, binary.LittleEndian, p.Data[addr]); err != nil {
			return nil, fmt.Errorf("writing data value: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// DeserializeProgram deserializes bytecode to a Program.
func DeserializeProgram(data []byte) (*Program, error) {
	buf := bytes.NewReader(data)

	// Read and verify magic
	magic := make([]byte, 4)
	if _, err := io.ReadFull(buf, magic); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if string(magic) != BytecodeMagic {
		return nil, ErrInvalidMagic
	}

	// Read and verify version
	var version uint16
	if err := binary.Read(buf, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}
	if version != BytecodeVersion {
		return nil, ErrInvalidVersion
	}

	// Read name
	var nameLen uint16
	if err := binary.Read(buf, binary.LittleEndian, &nameLen); err != nil {
		return nil, fmt.Errorf("reading name length: %w", err)
	}
	nameBytes := make([]byte, nameLen)
	if _, err := io.ReadFull(buf, nameBytes); err != nil {
		return nil, fmt.Errorf("reading name: %w", err)
	}

	// Read entry point
	var entry uint32
	if err := binary.Read(buf, binary.LittleEndian, &entry); err != nil {
		return nil, fmt.Errorf("reading entry point: %w", err)
	}

	// Read instructions
	var numInst uint32
	if err := binary.Read(buf, binary.LittleEndian, &numInst); err != nil {
		return nil, fmt.Errorf("reading instruction count: %w", err)
	}
	code := make([]Instruction, numInst)
	for i := range code {
		header := make([]byte, 2)
		if _, err := io.ReadFull(buf, header); err != nil {
			return nil, fmt.Errorf("reading instruction %d: %w", i, err)
		}
		var latency uint16
		if err := binary.Read(buf, binary.LittleEndian, &latency); err != nil {
			return nil, fmt.Errorf("reading instruction %d latency: %w", i, err)
		}
		numOps, err := buf.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("reading instruction %d operand count: %w", i, err)
		}
		operands := make([]Operand, numOps)
		for n := range operands {
			opHeader := make([]byte, 2)
			if _, err := io.ReadFull(buf, opHeader); err != nil {
				return nil, fmt.Errorf("reading instruction %d operand %d: %w", i, n, err)
			}
			var value uint32
			if err := binary.Read(buf, binary.LittleEndian, &value); err != nil {
				return nil, fmt.Errorf("reading instruction %d operand %d value: %w", i, n, err)
			}
			operands[n] = Operand{Kind: OperandKind(opHeader[0]), Reg: opHeader[1], Value: value}
		}
		code[i] = Instruction{
			Op:         Opcode(header[0]),
			Privileged: header[1]&1 != 0,
			Latency:    int(latency),
			Operands:   operands,
		}
	}

	// Read data segment
	var numData uint32
	if err := binary.Read(buf, binary.LittleEndian, &numData); err != nil {
		return nil, fmt.Errorf("reading data count: %w", err)
	}
	dataSeg := make(map[uint32]uint32, numData)
	for i := uint32(0); i < numData; i++ {
		var addr, value uint32
		if err := binary.Read(buf, binary.LittleEndian, &addr); err != nil {
			return nil, fmt.Errorf("reading data word %d: %w", i, err)
		}
		if err := binary.Read(buf, binary.LittleEndian, &value); err != nil {
			return nil, fmt.Errorf("reading data word %d value: %w", i, err)
		}
		dataSeg[addr] = value
	}

	return &Program{
		Name:       string(nameBytes),
		Code:       code,
		EntryPoint: entry,
		Data:       dataSeg,
	}, nil
}

// Disassemble converts a Program back to assembly source text.
func Disassemble(p *Program) string {
	var buf bytes.Buffer

	buf.WriteString("; Disassembled from PARVM bytecode\n")
	buf.WriteString(fmt.Sprintf("; %s: %d instructions, entry %d, %d data words\n\n",
		p.Name, len(p.Code), p.EntryPoint, len(p.Data)))

	addrs := make([]uint32, 0, len(p.Data))
	for addr := range p.Data {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	for _, addr := range addrs {
		buf.WriteString(fmt.Sprintf(".word %d %d\n", addr, p.Data[addr]))
	}
	if len(addrs) > 0 {
		buf.WriteString("\n")
	}

	for i, inst := range p.Code {
		suffix := ""
		if inst.Privileged {
			suffix = " ; privileged"
		}
		buf.WriteString(fmt.Sprintf("%04d: %s%s\n", i, inst, suffix))
	}

	return buf.String()
}
