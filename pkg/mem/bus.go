package mem

// BusOp identifies a coherence bus operation.
type BusOp uint8

const (
	BusReadShared    BusOp = iota // fetch a line for reading
	BusReadExclusive              // fetch a line for writing, invalidating other copies
	BusWriteBack                  // write a dirty line back to memory
	BusInvalidate                 // invalidate other copies before a local write
)

// String returns the string representation of a bus operation.
func (op BusOp) String() string {
	switch op {
	case BusReadShared:
		return "READ_SHARED"
	case BusReadExclusive:
		return "READ_EXCLUSIVE"
	case BusWriteBack:
		return "WRITE_BACK"
	case BusInvalidate:
		return "INVALIDATE"
	default:
		return "UNKNOWN"
	}
}

// BusRequest is one entry in the bus transaction log.
type BusRequest struct {
	ID          int
	Op          BusOp
	Address     uint32 // line-aligned
	RequesterID int
	IssuedAt    uint64
	ReadyAt     uint64 // IssuedAt plus bus latency
	Completed   bool

	FromCache    bool // line supplied by another cache rather than memory
	WasModified  bool // supplying cache held the line MODIFIED
	Invalidated  int  // copies invalidated in other caches
}

// BusStats counts bus traffic by category.
type BusStats struct {
	TotalRequests int
	ReadRequests  int // READ_SHARED plus READ_EXCLUSIVE
	WriteRequests int // WRITE_BACK
	Invalidations int // INVALIDATE
}

// MemoryBus connects the per-processor caches to main memory. Every
// coherence transaction goes through the bus, which snoops the other
// caches, updates memory, and records the request. Requests carry a fixed
// latency; Tick marks them complete once the latency has elapsed.
type MemoryBus struct {
	memory  *Memory
	caches  []*MESICache
	latency uint64

	nextID   int
	requests []BusRequest
	pending  []int // indices into requests, FIFO

	stats BusStats
}

// NewMemoryBus creates a bus over the given memory with a fixed per-request
// latency in cycles.
func NewMemoryBus(memory *Memory, latency uint64) *MemoryBus {
	return &MemoryBus{memory: memory, latency: latency}
}

// AttachCache registers a processor cache for snooping.
func (b *MemoryBus) AttachCache(c *MESICache) {
	b.caches = append(b.caches, c)
}

// Latency returns the bus latency in cycles.
func (b *MemoryBus) Latency() uint64 {
	return b.latency
}

// Stats returns a copy of the bus statistics.
func (b *MemoryBus) Stats() BusStats {
	return b.stats
}

// Requests returns the full transaction log.
func (b *MemoryBus) Requests() []BusRequest {
	return b.requests
}

// PendingCount returns the number of requests still within their latency
// window.
func (b *MemoryBus) PendingCount() int {
	return len(b.pending)
}

// Tick completes every pending request whose latency has elapsed by cycle
// now, in issue order, and returns the number completed.
func (b *MemoryBus) Tick(now uint64) int {
	completed := 0
	for len(b.pending) > 0 {
		idx := b.pending[0]
		if b.requests[idx].ReadyAt > now {
			break
		}
		b.requests[idx].Completed = true
		b.pending = b.pending[1:]
		completed++
	}
	return completed
}

func (b *MemoryBus) record(op BusOp, addr uint32, requesterID int, now uint64) *BusRequest {
	b.requests = append(b.requests, BusRequest{
		ID:          b.nextID,
		Op:          op,
		Address:     addr,
		RequesterID: requesterID,
		IssuedAt:    now,
		ReadyAt:     now + b.latency,
	})
	b.nextID++
	b.pending = append(b.pending, len(b.requests)-1)

	b.stats.TotalRequests++
	switch op {
	case BusReadShared, BusReadExclusive:
		b.stats.ReadRequests++
	case BusWriteBack:
		b.stats.WriteRequests++
	case BusInvalidate:
		b.stats.Invalidations++
	}
	return &b.requests[len(b.requests)-1]
}

func (b *MemoryBus) fetchFromMemory(addr, lineSize uint32) []uint32 {
	base := addr - addr%lineSize
	data := make([]uint32, lineSize)
	for i := uint32(0); i < lineSize; i++ {
		data[i] = b.memory.Peek(base + i)
	}
	return data
}

func (b *MemoryBus) writeLineToMemory(addr uint32, data []uint32) {
	for i, v := range data {
		b.memory.Poke(addr+uint32(i), v)
	}
}

// ReadShared issues a READ_SHARED for the line holding addr. If another
// cache holds the line it supplies the data and the requester installs it
// SHARED; a MODIFIED supplier is written back to memory first. Otherwise
// the line comes from memory and the requester installs it EXCLUSIVE.
func (b *MemoryBus) ReadShared(addr uint32, requesterID int, lineSize uint32, now uint64) (data []uint32, install MESIState) {
	req := b.record(BusReadShared, addr-addr%lineSize, requesterID, now)

	for _, c := range b.caches {
		if c.ProcessorID() == requesterID {
			continue
		}
		lineData, prior, ok := c.HandleBusRead(addr, now)
		if !ok {
			continue
		}
		if prior == Modified {
			b.writeLineToMemory(addr-addr%lineSize, lineData)
			req.WasModified = true
		}
		req.FromCache = true
		return lineData, Shared
	}
	return b.fetchFromMemory(addr, lineSize), Exclusive
}

// ReadExclusive issues a READ_EXCLUSIVE for the line holding addr. All
// other copies are invalidated. Dirty data from a MODIFIED copy is handed
// to the requester, which installs the line MODIFIED; otherwise the line
// comes from memory and installs EXCLUSIVE.
func (b *MemoryBus) ReadExclusive(addr uint32, requesterID int, lineSize uint32, now uint64) (data []uint32, install MESIState) {
	req := b.record(BusReadExclusive, addr-addr%lineSize, requesterID, now)

	var dirty []uint32
	for _, c := range b.caches {
		if c.ProcessorID() == requesterID {
			continue
		}
		lineData, prior, ok := c.HandleBusReadExclusive(addr, now)
		if !ok {
			continue
		}
		req.Invalidated++
		if prior == Modified {
			dirty = lineData
			req.WasModified = true
			req.FromCache = true
		}
	}
	if dirty != nil {
		return dirty, Modified
	}
	return b.fetchFromMemory(addr, lineSize), Exclusive
}

// WriteBack issues a WRITE_BACK of a dirty line to memory.
func (b *MemoryBus) WriteBack(addr uint32, data []uint32, requesterID int, now uint64) {
	b.record(BusWriteBack, addr, requesterID, now)
	b.writeLineToMemory(addr, data)
}

// Invalidate issues an INVALIDATE for the line holding addr and returns
// the number of copies invalidated in other caches.
func (b *MemoryBus) Invalidate(addr uint32, requesterID int, lineSize uint32, now uint64) int {
	req := b.record(BusInvalidate, addr-addr%lineSize, requesterID, now)
	for _, c := range b.caches {
		if c.ProcessorID() == requesterID {
			continue
		}
		if c.HandleBusInvalidate(addr, now) {
			req.Invalidated++
		}
	}
	return req.Invalidated
}

// Reset clears the transaction log, pending queue, and statistics.
func (b *MemoryBus) Reset() {
	b.nextID = 0
	b.requests = nil
	b.pending = nil
	b.stats = BusStats{}
}
