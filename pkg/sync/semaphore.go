package sync

// Semaphore is a counting semaphore with FIFO handoff: a release while
// threads are queued transfers the permit directly to the longest waiter
// instead of raising the count.
type Semaphore struct {
	id      uint32
	permits int
	waiters []int

	acquisitions int
	contentions  int
}

// NewSemaphore creates a semaphore with the given initial permit count.
func NewSemaphore(id uint32, permits int) *Semaphore {
	return &Semaphore{id: id, permits: permits}
}

// ID returns the semaphore's identifier.
func (s *Semaphore) ID() uint32 {
	return s.id
}

// Permits returns the available permit count.
func (s *Semaphore) Permits() int {
	return s.permits
}

// Waiters returns the queued threads in FIFO order.
func (s *Semaphore) Waiters() []int {
	return append([]int(nil), s.waiters...)
}

// Acquire attempts to take a permit for threadID. Without a free permit the
// thread is appended to the FIFO queue (once) and its position is reported.
func (s *Semaphore) Acquire(threadID int) AcquireResult {
	if s.permits > 0 {
		s.permits--
		s.acquisitions++
		return AcquireResult{Acquired: true, Holder: threadID, WaitPosition: -1}
	}

	pos := -1
	for i, w := range s.waiters {
		if w == threadID {
			pos = i
			break
		}
	}
	if pos == -1 {
		s.waiters = append(s.waiters, threadID)
		pos = len(s.waiters) - 1
		s.contentions++
	}
	return AcquireResult{Holder: -1, WaitPosition: pos}
}

// Release returns a permit. If threads are queued the permit passes to the
// first of them, reported as NextThread.
func (s *Semaphore) Release() ReleaseResult {
	if len(s.waiters) > 0 {
		next := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.acquisitions++
		return ReleaseResult{Released: true, NextThread: next}
	}
	s.permits++
	return ReleaseResult{Released: true, NextThread: -1}
}

// RemoveWaiter drops threadID from the queue, if present.
func (s *Semaphore) RemoveWaiter(threadID int) {
	for i, w := range s.waiters {
		if w == threadID {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}
