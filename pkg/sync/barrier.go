package sync

// BarrierStatus is the outcome of a barrier wait.
type BarrierStatus uint8

const (
	BarrierWaiting BarrierStatus = iota
	BarrierReleased
)

// String returns the string representation of a barrier status.
func (s BarrierStatus) String() string {
	switch s {
	case BarrierWaiting:
		return "WAITING"
	case BarrierReleased:
		return "RELEASED"
	default:
		return "UNKNOWN"
	}
}

// BarrierResult reports the outcome of one barrier arrival.
type BarrierResult struct {
	Status       BarrierStatus
	Released     []int // all parties of the tripped generation, arrival order
	Generation   uint64
	WaitingCount int
	Needed       int // arrivals still required to trip
}

// Barrier is a reusable synchronization barrier. When the last of parties
// threads arrives the barrier trips, releasing every waiter, and a new
// generation begins.
type Barrier struct {
	id         uint32
	parties    int
	generation uint64
	waiting    []int

	trips int
}

// NewBarrier creates a barrier for the given number of parties.
func NewBarrier(id uint32, parties int) *Barrier {
	return &Barrier{id: id, parties: parties}
}

// ID returns the barrier's identifier.
func (b *Barrier) ID() uint32 {
	return b.id
}

// Parties returns the arrival count that trips the barrier.
func (b *Barrier) Parties() int {
	return b.parties
}

// Generation returns the current generation number, starting at 0.
func (b *Barrier) Generation() uint64 {
	return b.generation
}

// Waiting returns the threads parked in the current generation.
func (b *Barrier) Waiting() []int {
	return append([]int(nil), b.waiting...)
}

// Wait records the arrival of threadID. A repeated arrival within one
// generation is idempotent. When the final party arrives every waiter is
// released and the generation advances.
func (b *Barrier) Wait(threadID int) BarrierResult {
	already := false
	for _, w := range b.waiting {
		if w == threadID {
			already = true
			break
		}
	}
	if !already {
		b.waiting = append(b.waiting, threadID)
	}

	if len(b.waiting) >= b.parties {
		released := b.waiting
		gen := b.generation
		b.waiting = nil
		b.generation++
		b.trips++
		return BarrierResult{
			Status:     BarrierReleased,
			Released:   released,
			Generation: gen,
			Needed:     0,
		}
	}
	return BarrierResult{
		Status:       BarrierWaiting,
		Generation:   b.generation,
		WaitingCount: len(b.waiting),
		Needed:       b.parties - len(b.waiting),
	}
}

// RemoveWaiter drops threadID from the current generation, if present.
func (b *Barrier) RemoveWaiter(threadID int) {
	for i, w := range b.waiting {
		if w == threadID {
			b.waiting = append(b.waiting[:i], b.waiting[i+1:]...)
			return
		}
	}
}
