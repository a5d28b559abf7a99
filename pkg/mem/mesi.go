package mem

// MESIState is the coherence state of one cache line.
type MESIState uint8

const (
	Invalid MESIState = iota
	Shared
	Exclusive
	Modified
)

// String returns the string representation of a MESI state.
func (s MESIState) String() string {
	switch s {
	case Invalid:
		return "INVALID"
	case Shared:
		return "SHARED"
	case Exclusive:
		return "EXCLUSIVE"
	case Modified:
		return "MODIFIED"
	default:
		return "UNKNOWN"
	}
}

// CoherenceEvent records one MESI state transition.
type CoherenceEvent struct {
	ProcessorID int
	Address     uint32 // line-aligned
	From        MESIState
	To          MESIState
	Reason      string
	Timestamp   uint64
}

// MESIStats counts coherence activity in one cache.
type MESIStats struct {
	Transitions           int
	InvalidationsReceived int
}

// WriteOutcome tells the caller what bus traffic a local write requires.
type WriteOutcome uint8

const (
	WriteDone            WriteOutcome = iota // hit in M or E, no bus op
	WriteNeedsInvalidate                     // hit in S: data written, sharers must be invalidated
	WriteNeedsExclusive                      // miss: issue READ_EXCLUSIVE, then allocate and retry
)

// MESICache layers MESI coherence state over a set-associative cache.
// State transitions happen only through local reads/writes and the
// HandleBus* message handlers.
type MESICache struct {
	processorID int
	cache       *Cache
	states      [][]MESIState

	stats  MESIStats
	events []CoherenceEvent
}

// NewMESICache creates a coherent cache for one processor.
func NewMESICache(processorID int, size, lineSize, assoc uint32) *MESICache {
	c := NewCache(size, lineSize, assoc)
	states := make([][]MESIState, c.NumSets())
	for i := range states {
		states[i] = make([]MESIState, assoc)
	}
	return &MESICache{
		processorID: processorID,
		cache:       c,
		states:      states,
	}
}

// ProcessorID returns the owning processor's id.
func (mc *MESICache) ProcessorID() int {
	return mc.processorID
}

// Cache returns the underlying cache, for statistics inspection.
func (mc *MESICache) Cache() *Cache {
	return mc.cache
}

// Stats returns a copy of the coherence statistics.
func (mc *MESICache) Stats() MESIStats {
	return mc.stats
}

// Events returns the recorded state transitions.
func (mc *MESICache) Events() []CoherenceEvent {
	return mc.events
}

// StateOf returns the MESI state of the line holding addr.
func (mc *MESICache) StateOf(addr uint32) MESIState {
	set, way, ok := mc.cache.lookup(addr)
	if !ok {
		return Invalid
	}
	return mc.states[set][way]
}

// StateCounts returns the number of valid lines in each state.
func (mc *MESICache) StateCounts() map[MESIState]int {
	counts := make(map[MESIState]int)
	for s := range mc.cache.sets {
		for w := range mc.cache.sets[s] {
			if mc.cache.sets[s][w].Valid && mc.states[s][w] != Invalid {
				counts[mc.states[s][w]]++
			}
		}
	}
	return counts
}

func (mc *MESICache) setState(set, way uint32, to MESIState, addr uint32, reason string, now uint64) {
	from := mc.states[set][way]
	if from == to {
		return
	}
	mc.states[set][way] = to
	mc.stats.Transitions++
	mc.events = append(mc.events, CoherenceEvent{
		ProcessorID: mc.processorID,
		Address:     addr - addr%mc.cache.lineSize,
		From:        from,
		To:          to,
		Reason:      reason,
		Timestamp:   now,
	})
}

// Read returns the cached word when the line is held in a readable state.
// A miss (or an INVALID line) requires a READ_SHARED bus request.
func (mc *MESICache) Read(addr uint32, now uint64) (uint32, bool) {
	set, way, ok := mc.cache.lookup(addr)
	if !ok || mc.states[set][way] == Invalid {
		mc.cache.stats.Misses++
		return 0, false
	}
	line := &mc.cache.sets[set][way]
	line.LastAccess = now
	mc.cache.stats.Hits++
	return line.Data[mc.cache.offset(addr)], true
}

// Write performs a local write when possible and reports the bus traffic
// required by the MESI protocol.
func (mc *MESICache) Write(addr, value uint32, now uint64) WriteOutcome {
	set, way, ok := mc.cache.lookup(addr)
	if !ok || mc.states[set][way] == Invalid {
		mc.cache.stats.Misses++
		return WriteNeedsExclusive
	}

	line := &mc.cache.sets[set][way]
	line.Data[mc.cache.offset(addr)] = value
	line.Dirty = true
	line.LastAccess = now
	mc.cache.stats.Hits++

	switch mc.states[set][way] {
	case Modified:
		return WriteDone
	case Exclusive:
		mc.setState(set, way, Modified, addr, "local write", now)
		return WriteDone
	default: // Shared
		mc.setState(set, way, Modified, addr, "local write", now)
		return WriteNeedsInvalidate
	}
}

// AllocateLine installs a line with the given coherence state. The evicted
// line, if any, is returned for writeback; its state slot is reused.
func (mc *MESICache) AllocateLine(addr uint32, data []uint32, state MESIState, now uint64) *EvictedLine {
	evicted, way := mc.cache.AllocateLine(addr, data, state == Modified, now)
	set := mc.cache.setIndex(addr)
	mc.states[set][way] = state
	mc.stats.Transitions++
	mc.events = append(mc.events, CoherenceEvent{
		ProcessorID: mc.processorID,
		Address:     addr - addr%mc.cache.lineSize,
		From:        Invalid,
		To:          state,
		Reason:      "allocate",
		Timestamp:   now,
	})
	return evicted
}

// HandleBusRead services a remote READ_SHARED. When this cache holds the
// line it returns the data and its prior state; MODIFIED and EXCLUSIVE
// lines downgrade to SHARED (the bus writes MODIFIED data back to memory).
func (mc *MESICache) HandleBusRead(addr uint32, now uint64) (data []uint32, prior MESIState, ok bool) {
	set, way, found := mc.cache.lookup(addr)
	if !found || mc.states[set][way] == Invalid {
		return nil, Invalid, false
	}
	prior = mc.states[set][way]
	line := &mc.cache.sets[set][way]
	data = append([]uint32(nil), line.Data...)
	if prior == Modified || prior == Exclusive {
		mc.setState(set, way, Shared, addr, "remote read", now)
		line.Dirty = false
	}
	return data, prior, true
}

// HandleBusReadExclusive services a remote READ_EXCLUSIVE. The line is
// invalidated; a MODIFIED line returns its dirty data.
func (mc *MESICache) HandleBusReadExclusive(addr uint32, now uint64) (data []uint32, prior MESIState, ok bool) {
	set, way, found := mc.cache.lookup(addr)
	if !found || mc.states[set][way] == Invalid {
		return nil, Invalid, false
	}
	prior = mc.states[set][way]
	line := &mc.cache.sets[set][way]
	if prior == Modified {
		data = append([]uint32(nil), line.Data...)
	}
	mc.setState(set, way, Invalid, addr, "remote read exclusive", now)
	line.Valid = false
	line.Dirty = false
	mc.stats.InvalidationsReceived++
	return data, prior, true
}

// HandleBusInvalidate services a remote INVALIDATE. SHARED and EXCLUSIVE
// lines are invalidated; MODIFIED lines are unaffected.
func (mc *MESICache) HandleBusInvalidate(addr uint32, now uint64) bool {
	set, way, found := mc.cache.lookup(addr)
	if !found || mc.states[set][way] == Invalid {
		return false
	}
	if mc.states[set][way] == Modified {
		return false
	}
	mc.setState(set, way, Invalid, addr, "remote invalidate", now)
	mc.cache.sets[set][way].Valid = false
	mc.cache.sets[set][way].Dirty = false
	mc.stats.InvalidationsReceived++
	return true
}

// Flush returns copies of all MODIFIED lines, downgrading them to SHARED.
func (mc *MESICache) Flush(now uint64) []EvictedLine {
	var dirty []EvictedLine
	for s := range mc.cache.sets {
		for w := range mc.cache.sets[s] {
			line := &mc.cache.sets[s][w]
			if line.Valid && mc.states[s][w] == Modified {
				dirty = append(dirty, EvictedLine{
					Address: line.Address(mc.cache.lineSize),
					Data:    append([]uint32(nil), line.Data...),
					Dirty:   true,
				})
				line.Dirty = false
				mc.cache.stats.Writebacks++
				mc.setState(uint32(s), uint32(w), Shared, line.Address(mc.cache.lineSize), "flush", now)
			}
		}
	}
	return dirty
}

// Reset invalidates all lines and clears statistics and events.
func (mc *MESICache) Reset() {
	mc.cache.Reset()
	for s := range mc.states {
		for w := range mc.states[s] {
			mc.states[s][w] = Invalid
		}
	}
	mc.stats = MESIStats{}
	mc.events = nil
}
