package sync

import "testing"

func TestBarrier_TripsWhenFull(t *testing.T) {
	b := NewBarrier(200, 3)

	res := b.Wait(0)
	if res.Status != BarrierWaiting || res.WaitingCount != 1 || res.Needed != 2 {
		t.Fatalf("expected first arrival to wait (1 of 3), got %+v", res)
	}

	res = b.Wait(1)
	if res.Status != BarrierWaiting || res.Needed != 1 {
		t.Fatalf("expected second arrival to wait (2 of 3), got %+v", res)
	}

	res = b.Wait(2)
	if res.Status != BarrierReleased {
		t.Fatalf("expected third arrival to trip the barrier, got %+v", res)
	}
	if len(res.Released) != 3 {
		t.Fatalf("expected 3 released threads, got %v", res.Released)
	}
	for i, tid := range []int{0, 1, 2} {
		if res.Released[i] != tid {
			t.Errorf("expected release order [0 1 2], got %v", res.Released)
			break
		}
	}
	if res.Generation != 0 {
		t.Errorf("expected the trip to belong to generation 0, got %d", res.Generation)
	}
}

// The barrier is reusable: after tripping, a fresh generation begins with
// an empty waiter set.
func TestBarrier_Generations(t *testing.T) {
	b := NewBarrier(200, 2)

	b.Wait(0)
	res := b.Wait(1)
	if res.Status != BarrierReleased || res.Generation != 0 {
		t.Fatalf("expected generation 0 to trip, got %+v", res)
	}
	if b.Generation() != 1 {
		t.Fatalf("expected barrier at generation 1, got %d", b.Generation())
	}

	res = b.Wait(1)
	if res.Status != BarrierWaiting || res.WaitingCount != 1 {
		t.Fatalf("expected a fresh generation with one waiter, got %+v", res)
	}
	res = b.Wait(0)
	if res.Status != BarrierReleased || res.Generation != 1 {
		t.Fatalf("expected generation 1 to trip, got %+v", res)
	}
	if b.Generation() != 2 {
		t.Errorf("expected barrier at generation 2, got %d", b.Generation())
	}
}

func TestBarrier_RepeatedArrivalIsIdempotent(t *testing.T) {
	b := NewBarrier(200, 2)

	b.Wait(0)
	res := b.Wait(0)
	if res.Status != BarrierWaiting || res.WaitingCount != 1 {
		t.Errorf("expected a repeated arrival to be ignored, got %+v", res)
	}
}

func TestBarrier_RemoveWaiter(t *testing.T) {
	b := NewBarrier(200, 2)

	b.Wait(0)
	b.RemoveWaiter(0)
	res := b.Wait(1)
	if res.Status != BarrierWaiting || res.WaitingCount != 1 {
		t.Errorf("expected the barrier not to trip after removing a waiter, got %+v", res)
	}
}
