package mem

import "fmt"

// SystemConfig sizes the memory hierarchy. All sizes are in words.
type SystemConfig struct {
	Processors int
	MemorySize uint32
	CacheSize  uint32
	LineSize   uint32
	Assoc      uint32
	BusLatency uint64
}

// System is the coherent memory hierarchy: one private MESI cache per
// processor over a shared bus and a flat main memory. All simulated
// accesses go through Read and Write, which keep the caches coherent.
// Data resolves at issue time; bus latency delays only the completion
// accounting that Tick reports, never the requesting thread.
type System struct {
	memory   *Memory
	bus      *MemoryBus
	caches   []*MESICache
	lineSize uint32
}

// NewSystem builds the hierarchy for cfg.
func NewSystem(cfg SystemConfig) *System {
	memory := NewMemory(cfg.MemorySize)
	bus := NewMemoryBus(memory, cfg.BusLatency)
	caches := make([]*MESICache, cfg.Processors)
	for i := range caches {
		caches[i] = NewMESICache(i, cfg.CacheSize, cfg.LineSize, cfg.Assoc)
		bus.AttachCache(caches[i])
	}
	return &System{
		memory:   memory,
		bus:      bus,
		caches:   caches,
		lineSize: cfg.LineSize,
	}
}

// Memory returns the underlying main memory.
func (s *System) Memory() *Memory {
	return s.memory
}

// Bus returns the memory bus.
func (s *System) Bus() *MemoryBus {
	return s.bus
}

// CacheFor returns the cache of the given processor.
func (s *System) CacheFor(processorID int) *MESICache {
	return s.caches[processorID]
}

// Read performs a coherent read by processorID at cycle now. A miss issues
// a READ_SHARED on the bus and installs the line; a displaced dirty line is
// written back first.
func (s *System) Read(addr uint32, processorID, threadID int, now uint64) (uint32, error) {
	if addr >= s.memory.Size() {
		return 0, fmt.Errorf("%w: read at %d (size %d)", ErrOutOfBounds, addr, s.memory.Size())
	}

	c := s.caches[processorID]
	value, hit := c.Read(addr, now)
	if !hit {
		data, state := s.bus.ReadShared(addr, processorID, s.lineSize, now)
		if evicted := c.AllocateLine(addr, data, state, now); evicted != nil && evicted.Dirty {
			s.bus.WriteBack(evicted.Address, evicted.Data, processorID, now)
		}
		value = data[addr%s.lineSize]
	}

	s.memory.LogAccess(Access{
		Address:     addr,
		Value:       value,
		ProcessorID: processorID,
		ThreadID:    threadID,
		Timestamp:   now,
	})
	return value, nil
}

// Write performs a coherent write by processorID at cycle now. A write to a
// SHARED line invalidates the other copies; a miss issues a READ_EXCLUSIVE,
// installs the line, and retries.
func (s *System) Write(addr, value uint32, processorID, threadID int, now uint64) error {
	if addr >= s.memory.Size() {
		return fmt.Errorf("%w: write at %d (size %d)", ErrOutOfBounds, addr, s.memory.Size())
	}

	c := s.caches[processorID]
	switch c.Write(addr, value, now) {
	case WriteDone:
	case WriteNeedsInvalidate:
		s.bus.Invalidate(addr, processorID, s.lineSize, now)
	case WriteNeedsExclusive:
		data, state := s.bus.ReadExclusive(addr, processorID, s.lineSize, now)
		if evicted := c.AllocateLine(addr, data, state, now); evicted != nil && evicted.Dirty {
			s.bus.WriteBack(evicted.Address, evicted.Data, processorID, now)
		}
		c.Write(addr, value, now)
	}

	s.memory.LogAccess(Access{
		Address:     addr,
		Value:       value,
		Write:       true,
		ProcessorID: processorID,
		ThreadID:    threadID,
		Timestamp:   now,
	})
	return nil
}

// Tick advances the bus, completing requests whose latency has elapsed.
func (s *System) Tick(now uint64) {
	s.bus.Tick(now)
}

// FlushAll writes every MODIFIED line in every cache back to memory.
func (s *System) FlushAll(now uint64) {
	for _, c := range s.caches {
		for _, line := range c.Flush(now) {
			s.bus.WriteBack(line.Address, line.Data, c.ProcessorID(), now)
		}
	}
}

// CoherenceEvents returns the state transitions of all caches, in the
// order they occurred per cache.
func (s *System) CoherenceEvents() []CoherenceEvent {
	var events []CoherenceEvent
	for _, c := range s.caches {
		events = append(events, c.Events()...)
	}
	return events
}

// Reset clears memory, all caches, and the bus.
func (s *System) Reset() {
	s.memory.Reset()
	for _, c := range s.caches {
		c.Reset()
	}
	s.bus.Reset()
}
