// Package mem implements the emulator's shared memory system: a flat
// word-addressable memory, per-processor set-associative caches, a MESI
// coherence layer, and a memory bus with request latency.
package mem

import (
	"errors"
	"fmt"
)

// Memory errors
var (
	ErrOutOfBounds = errors.New("memory address out of bounds")
)

// Access is one entry in the memory access log.
type Access struct {
	Address     uint32
	Value       uint32
	Write       bool
	ProcessorID int
	ThreadID    int
	Timestamp   uint64
}

// Memory is the flat word-addressable main memory.
type Memory struct {
	words []uint32

	logging   bool
	accessLog []Access
}

// NewMemory creates a memory of the given size in words. Access logging is
// off by default.
func NewMemory(size uint32) *Memory {
	return &Memory{words: make([]uint32, size)}
}

// EnableLogging turns on the access log.
func (m *Memory) EnableLogging() {
	m.logging = true
}

// Size returns the memory size in words.
func (m *Memory) Size() uint32 {
	return uint32(len(m.words))
}

// Read returns the word at addr.
func (m *Memory) Read(addr uint32, processorID, threadID int, timestamp uint64) (uint32, error) {
	if int(addr) >= len(m.words) {
		return 0, fmt.Errorf("%w: read at %d (size %d)", ErrOutOfBounds, addr, len(m.words))
	}
	value := m.words[addr]
	if m.logging {
		m.accessLog = append(m.accessLog, Access{
			Address:     addr,
			Value:       value,
			ProcessorID: processorID,
			ThreadID:    threadID,
			Timestamp:   timestamp,
		})
	}
	return value, nil
}

// Write stores value at addr.
func (m *Memory) Write(addr, value uint32, processorID, threadID int, timestamp uint64) error {
	if int(addr) >= len(m.words) {
		return fmt.Errorf("%w: write at %d (size %d)", ErrOutOfBounds, addr, len(m.words))
	}
	m.words[addr] = value
	if m.logging {
		m.accessLog = append(m.accessLog, Access{
			Address:     addr,
			Value:       value,
			Write:       true,
			ProcessorID: processorID,
			ThreadID:    threadID,
			Timestamp:   timestamp,
		})
	}
	return nil
}

// LogAccess appends an entry to the access log when logging is enabled.
// The coherent system uses this so cache hits still appear in the log.
func (m *Memory) LogAccess(a Access) {
	if m.logging {
		m.accessLog = append(m.accessLog, a)
	}
}

// Peek reads a word without logging or coherence involvement. Intended for
// snapshots and assertions, not simulated accesses.
func (m *Memory) Peek(addr uint32) uint32 {
	if int(addr) >= len(m.words) {
		return 0
	}
	return m.words[addr]
}

// Poke writes a word without logging. Used to load program data segments.
func (m *Memory) Poke(addr, value uint32) {
	if int(addr) < len(m.words) {
		m.words[addr] = value
	}
}

// AccessFilter selects entries from the access log. Zero-valued fields
// match everything; use the pointers to constrain.
type AccessFilter struct {
	Address   *uint32
	ThreadID  *int
	WriteOnly bool
	ReadOnly  bool
	Start     *uint64
	End       *uint64
}

// AccessLog returns log entries matching the filter, in record order.
func (m *Memory) AccessLog(f AccessFilter) []Access {
	var result []Access
	for _, a := range m.accessLog {
		if f.Address != nil && a.Address != *f.Address {
			continue
		}
		if f.ThreadID != nil && a.ThreadID != *f.ThreadID {
			continue
		}
		if f.WriteOnly && !a.Write {
			continue
		}
		if f.ReadOnly && a.Write {
			continue
		}
		if f.Start != nil && a.Timestamp < *f.Start {
			continue
		}
		if f.End != nil && a.Timestamp > *f.End {
			continue
		}
		result = append(result, a)
	}
	return result
}

// Reset zeroes all words and clears the access log.
func (m *Memory) Reset() {
	for i := range m.words {
		m.words[i] = 0
	}
	m.accessLog = nil
}
