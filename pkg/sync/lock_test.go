package sync

import "testing"

func TestLock_AcquireFree(t *testing.T) {
	l := NewLock(100)

	res := l.Acquire(1)
	if !res.Acquired || res.Holder != 1 {
		t.Fatalf("expected thread 1 to acquire a free lock, got %+v", res)
	}
	if l.Holder() != 1 {
		t.Errorf("expected holder 1, got %d", l.Holder())
	}
}

func TestLock_ReacquireByHolder(t *testing.T) {
	l := NewLock(100)
	l.Acquire(1)

	res := l.Acquire(1)
	if !res.Acquired {
		t.Errorf("expected the holder's reacquire to succeed, got %+v", res)
	}
	if len(l.Waiters()) != 0 {
		t.Errorf("holder must not be queued, got waiters %v", l.Waiters())
	}
}

// Contending threads are granted the lock in the exact order they first
// attempted acquisition.
func TestLock_FIFOFairness(t *testing.T) {
	l := NewLock(100)
	l.Acquire(0)

	for i, tid := range []int{3, 1, 2} {
		res := l.Acquire(tid)
		if res.Acquired {
			t.Fatalf("thread %d must not acquire a held lock", tid)
		}
		if res.WaitPosition != i {
			t.Errorf("thread %d: expected wait position %d, got %d", tid, i, res.WaitPosition)
		}
		if res.Holder != 0 {
			t.Errorf("thread %d: expected reported holder 0, got %d", tid, res.Holder)
		}
	}

	// A repeated failed acquire keeps the original queue position.
	if res := l.Acquire(1); res.WaitPosition != 1 {
		t.Errorf("expected thread 1 to keep position 1, got %d", res.WaitPosition)
	}

	var granted []int
	holder := 0
	for i := 0; i < 3; i++ {
		res, err := l.Release(holder)
		if err != nil {
			t.Fatalf("release by %d failed: %v", holder, err)
		}
		granted = append(granted, res.NextThread)
		holder = res.NextThread
	}

	want := []int{3, 1, 2}
	for i := range want {
		if granted[i] != want[i] {
			t.Fatalf("expected handoff order %v, got %v", want, granted)
		}
	}

	res, err := l.Release(holder)
	if err != nil {
		t.Fatalf("final release failed: %v", err)
	}
	if res.NextThread != -1 || l.Holder() != -1 {
		t.Errorf("expected the lock to become free, got next=%d holder=%d", res.NextThread, l.Holder())
	}
}

func TestLock_ReleaseErrors(t *testing.T) {
	l := NewLock(100)

	if _, err := l.Release(1); err != ErrNotHeld {
		t.Errorf("expected ErrNotHeld for a free lock, got %v", err)
	}

	l.Acquire(1)
	if _, err := l.Release(2); err != ErrWrongHolder {
		t.Errorf("expected ErrWrongHolder, got %v", err)
	}
	if l.Holder() != 1 {
		t.Errorf("a failed release must not change the holder, got %d", l.Holder())
	}
}

func TestLock_RemoveWaiter(t *testing.T) {
	l := NewLock(100)
	l.Acquire(0)
	l.Acquire(1)
	l.Acquire(2)

	l.RemoveWaiter(1)
	res, err := l.Release(0)
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if res.NextThread != 2 {
		t.Errorf("expected handoff to thread 2 after removing thread 1, got %d", res.NextThread)
	}
}
