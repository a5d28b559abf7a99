// Package sync implements the emulator's synchronization primitives: FIFO
// mutual-exclusion locks, counting semaphores, and reusable barriers. The
// primitives never block the caller; a failed acquisition reports a queue
// position and the virtual machine parks the thread.
package sync

import "errors"

// Synchronization errors
var (
	ErrNotHeld     = errors.New("lock is not held")
	ErrWrongHolder = errors.New("lock is held by another thread")
)

// AcquireResult reports the outcome of a lock acquisition attempt.
type AcquireResult struct {
	Acquired     bool
	Holder       int // current holder, the caller itself when Acquired
	WaitPosition int // position in the FIFO queue, -1 when Acquired
}

// ReleaseResult reports the outcome of a lock release.
type ReleaseResult struct {
	Released   bool
	NextThread int // thread handed the lock, -1 when the queue was empty
}

// Lock is a mutual-exclusion lock with FIFO handoff: on release the lock
// passes directly to the longest-waiting thread.
type Lock struct {
	id      uint32
	holder  int // -1 when free
	waiters []int

	acquisitions int
	contentions  int
}

// NewLock creates a free lock.
func NewLock(id uint32) *Lock {
	return &Lock{id: id, holder: -1}
}

// ID returns the lock's identifier.
func (l *Lock) ID() uint32 {
	return l.id
}

// Holder returns the holding thread, or -1 when the lock is free.
func (l *Lock) Holder() int {
	return l.holder
}

// Waiters returns the queued threads in FIFO order.
func (l *Lock) Waiters() []int {
	return append([]int(nil), l.waiters...)
}

// Acquire attempts to take the lock for threadID. On contention the thread
// is appended to the FIFO queue (once) and its position is reported.
func (l *Lock) Acquire(threadID int) AcquireResult {
	if l.holder == -1 {
		l.holder = threadID
		l.acquisitions++
		return AcquireResult{Acquired: true, Holder: threadID, WaitPosition: -1}
	}
	if l.holder == threadID {
		return AcquireResult{Acquired: true, Holder: threadID, WaitPosition: -1}
	}

	pos := -1
	for i, w := range l.waiters {
		if w == threadID {
			pos = i
			break
		}
	}
	if pos == -1 {
		l.waiters = append(l.waiters, threadID)
		pos = len(l.waiters) - 1
		l.contentions++
	}
	return AcquireResult{Holder: l.holder, WaitPosition: pos}
}

// Release releases the lock held by threadID. The lock is handed to the
// first queued waiter, if any. Releasing a free lock or another thread's
// lock is an error and leaves the lock unchanged.
func (l *Lock) Release(threadID int) (ReleaseResult, error) {
	if l.holder == -1 {
		return ReleaseResult{NextThread: -1}, ErrNotHeld
	}
	if l.holder != threadID {
		return ReleaseResult{NextThread: -1}, ErrWrongHolder
	}

	if len(l.waiters) > 0 {
		next := l.waiters[0]
		l.waiters = l.waiters[1:]
		l.holder = next
		l.acquisitions++
		return ReleaseResult{Released: true, NextThread: next}, nil
	}
	l.holder = -1
	return ReleaseResult{Released: true, NextThread: -1}, nil
}

// RemoveWaiter drops threadID from the queue, if present.
func (l *Lock) RemoveWaiter(threadID int) {
	for i, w := range l.waiters {
		if w == threadID {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}
