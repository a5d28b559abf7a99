package sync

import (
	"fmt"
	"sort"
)

// Stats summarizes synchronization activity.
type Stats struct {
	Locks            int
	Semaphores       int
	Barriers         int
	LockAcquisitions int
	LockContentions  int
	BarrierTrips     int
}

// Handoff records a lock passed to a waiter during thread cleanup.
type Handoff struct {
	LockID     uint32
	NextThread int // -1 when the lock simply became free
}

// Manager owns every synchronization primitive in the machine. Primitives
// are created on first use; identifiers are memory-address-like values
// chosen by the running program.
type Manager struct {
	locks      map[uint32]*Lock
	semaphores map[uint32]*Semaphore
	barriers   map[uint32]*Barrier
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		locks:      make(map[uint32]*Lock),
		semaphores: make(map[uint32]*Semaphore),
		barriers:   make(map[uint32]*Barrier),
	}
}

// Lock returns the lock with the given id, creating it if needed.
func (m *Manager) Lock(id uint32) *Lock {
	l, ok := m.locks[id]
	if !ok {
		l = NewLock(id)
		m.locks[id] = l
	}
	return l
}

// Semaphore returns the semaphore with the given id, creating it with
// permits initial permits if needed. The permit count of an existing
// semaphore is not changed.
func (m *Manager) Semaphore(id uint32, permits int) *Semaphore {
	s, ok := m.semaphores[id]
	if !ok {
		s = NewSemaphore(id, permits)
		m.semaphores[id] = s
	}
	return s
}

// Barrier returns the barrier with the given id, creating it for parties
// threads if needed. The party count of an existing barrier is not changed.
func (m *Manager) Barrier(id uint32, parties int) *Barrier {
	b, ok := m.barriers[id]
	if !ok {
		b = NewBarrier(id, parties)
		m.barriers[id] = b
	}
	return b
}

// AcquireLock attempts to take lock id for threadID.
func (m *Manager) AcquireLock(id uint32, threadID int) AcquireResult {
	return m.Lock(id).Acquire(threadID)
}

// ReleaseLock releases lock id held by threadID. Releasing an unknown lock
// is an error.
func (m *Manager) ReleaseLock(id uint32, threadID int) (ReleaseResult, error) {
	l, ok := m.locks[id]
	if !ok {
		return ReleaseResult{NextThread: -1}, fmt.Errorf("lock %d: %w", id, ErrNotHeld)
	}
	res, err := l.Release(threadID)
	if err != nil {
		return res, fmt.Errorf("lock %d: %w", id, err)
	}
	return res, nil
}

// AwaitBarrier records the arrival of threadID at barrier id, creating the
// barrier for parties threads on first arrival.
func (m *Manager) AwaitBarrier(id uint32, parties, threadID int) BarrierResult {
	return m.Barrier(id, parties).Wait(threadID)
}

// LockIDs returns the ids of all known locks in ascending order.
func (m *Manager) LockIDs() []uint32 {
	ids := make([]uint32, 0, len(m.locks))
	for id := range m.locks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// HeldBy returns the ids of all locks held by threadID, ascending.
func (m *Manager) HeldBy(threadID int) []uint32 {
	var ids []uint32
	for id, l := range m.locks {
		if l.Holder() == threadID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// WaitingOn returns the id of the lock threadID is queued on, or ok=false.
func (m *Manager) WaitingOn(threadID int) (uint32, bool) {
	for _, id := range m.LockIDs() {
		for _, w := range m.locks[id].Waiters() {
			if w == threadID {
				return id, true
			}
		}
	}
	return 0, false
}

// CleanupThread releases every lock held by a terminating thread, in
// ascending lock id order, and removes it from all wait queues. The
// returned handoffs name the threads that inherited each lock.
func (m *Manager) CleanupThread(threadID int) []Handoff {
	var handoffs []Handoff
	for _, id := range m.HeldBy(threadID) {
		res, err := m.locks[id].Release(threadID)
		if err != nil {
			continue
		}
		handoffs = append(handoffs, Handoff{LockID: id, NextThread: res.NextThread})
	}
	for _, l := range m.locks {
		l.RemoveWaiter(threadID)
	}
	for _, s := range m.semaphores {
		s.RemoveWaiter(threadID)
	}
	for _, b := range m.barriers {
		b.RemoveWaiter(threadID)
	}
	return handoffs
}

// Stats returns aggregate synchronization statistics.
func (m *Manager) Stats() Stats {
	st := Stats{
		Locks:      len(m.locks),
		Semaphores: len(m.semaphores),
		Barriers:   len(m.barriers),
	}
	for _, l := range m.locks {
		st.LockAcquisitions += l.acquisitions
		st.LockContentions += l.contentions
	}
	for _, b := range m.barriers {
		st.BarrierTrips += b.trips
	}
	return st
}

// Reset discards every primitive.
func (m *Manager) Reset() {
	m.locks = make(map[uint32]*Lock)
	m.semaphores = make(map[uint32]*Semaphore)
	m.barriers = make(map[uint32]*Barrier)
}
