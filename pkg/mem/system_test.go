package mem

import (
	"errors"
	"testing"
)

func newTestSystem(processors int) *System {
	return NewSystem(SystemConfig{
		Processors: processors,
		MemorySize: 256,
		CacheSize:  16, // 2 sets of one 8-word way
		LineSize:   8,
		Assoc:      1,
		BusLatency: 1,
	})
}

func TestSystem_ReadMissInstallsExclusive(t *testing.T) {
	s := newTestSystem(2)
	s.Memory().Poke(5, 123)

	v, err := s.Read(5, 0, 0, 1)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if v != 123 {
		t.Errorf("expected 123, got %d", v)
	}
	if got := s.CacheFor(0).StateOf(5); got != Exclusive {
		t.Errorf("expected EXCLUSIVE after a sole read, got %s", got)
	}

	// Second read hits without bus traffic.
	before := s.Bus().Stats().TotalRequests
	if _, err := s.Read(5, 0, 0, 2); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got := s.Bus().Stats().TotalRequests; got != before {
		t.Errorf("expected no bus traffic on a hit, got %d extra requests", got-before)
	}
}

// A value written on one processor and read on another ends with both
// copies SHARED and memory holding the written value.
func TestSystem_CrossProcessorRoundTrip(t *testing.T) {
	s := newTestSystem(2)

	if err := s.Write(0, 42, 0, 0, 1); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if got := s.CacheFor(0).StateOf(0); got != Modified {
		t.Fatalf("expected MODIFIED on the writer, got %s", got)
	}

	v, err := s.Read(0, 1, 1, 2)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if v != 42 {
		t.Errorf("expected 42 on the reader, got %d", v)
	}
	if got := s.CacheFor(0).StateOf(0); got != Shared {
		t.Errorf("expected writer downgraded to SHARED, got %s", got)
	}
	if got := s.CacheFor(1).StateOf(0); got != Shared {
		t.Errorf("expected reader in SHARED, got %s", got)
	}
	if got := s.Memory().Peek(0); got != 42 {
		t.Errorf("expected memory updated by writeback, got %d", got)
	}
}

// At most one cache may hold a line in MODIFIED or EXCLUSIVE.
func TestSystem_SingleOwnerInvariant(t *testing.T) {
	s := newTestSystem(4)

	for proc := 0; proc < 4; proc++ {
		if err := s.Write(0, uint32(proc), proc, proc, uint64(proc+1)); err != nil {
			t.Fatalf("write by processor %d failed: %v", proc, err)
		}

		owners := 0
		for other := 0; other < 4; other++ {
			switch s.CacheFor(other).StateOf(0) {
			case Modified, Exclusive:
				owners++
			}
		}
		if owners != 1 {
			t.Fatalf("after write by processor %d: expected exactly 1 owner, got %d", proc, owners)
		}
		if got := s.CacheFor(proc).StateOf(0); got != Modified {
			t.Fatalf("expected processor %d to hold MODIFIED, got %s", proc, got)
		}
	}
}

func TestSystem_WriteToSharedInvalidatesCopies(t *testing.T) {
	s := newTestSystem(2)

	s.Read(0, 0, 0, 1)
	s.Read(0, 1, 1, 2) // both now SHARED
	if got := s.CacheFor(0).StateOf(0); got != Shared {
		t.Fatalf("expected SHARED on processor 0, got %s", got)
	}

	if err := s.Write(0, 9, 1, 1, 3); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if got := s.CacheFor(0).StateOf(0); got != Invalid {
		t.Errorf("expected processor 0 invalidated, got %s", got)
	}
	if got := s.CacheFor(1).StateOf(0); got != Modified {
		t.Errorf("expected writer in MODIFIED, got %s", got)
	}
	if got := s.Bus().Stats().Invalidations; got != 1 {
		t.Errorf("expected 1 invalidation on the bus, got %d", got)
	}
}

// Writing address 0, touching address 8, then touching address 16 forces
// the dirty line at 0 out of its set and back to memory.
func TestSystem_EvictionWritesBackDirtyLine(t *testing.T) {
	s := newTestSystem(1)

	if err := s.Write(0, 42, 0, 0, 1); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := s.Read(8, 0, 0, 2); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if s.Memory().Peek(0) != 0 {
		t.Fatal("dirty data must not reach memory before eviction")
	}

	if _, err := s.Read(16, 0, 0, 3); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got := s.Memory().Peek(0); got != 42 {
		t.Errorf("expected evicted dirty value 42 in memory, got %d", got)
	}
	if s.CacheFor(0).Cache().Contains(0) {
		t.Error("address 0 should have been evicted")
	}
	if got := s.Bus().Stats().WriteRequests; got != 1 {
		t.Errorf("expected 1 writeback on the bus, got %d", got)
	}
}

func TestSystem_FlushAll(t *testing.T) {
	s := newTestSystem(2)

	s.Write(0, 7, 0, 0, 1)
	s.Write(8, 8, 1, 1, 2)
	s.FlushAll(3)

	if got := s.Memory().Peek(0); got != 7 {
		t.Errorf("expected 7 at address 0, got %d", got)
	}
	if got := s.Memory().Peek(8); got != 8 {
		t.Errorf("expected 8 at address 8, got %d", got)
	}
}

func TestSystem_OutOfBounds(t *testing.T) {
	s := newTestSystem(1)

	if _, err := s.Read(10000, 0, 0, 1); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds on read, got %v", err)
	}
	if err := s.Write(10000, 1, 0, 0, 1); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds on write, got %v", err)
	}
}

func TestSystem_AccessLogIncludesHits(t *testing.T) {
	s := newTestSystem(1)
	s.Memory().EnableLogging()

	s.Write(0, 1, 0, 5, 1)
	s.Read(0, 0, 5, 2) // cache hit
	s.Read(0, 0, 6, 3)

	thread := 5
	entries := s.Memory().AccessLog(AccessFilter{ThreadID: &thread})
	if len(entries) != 2 {
		t.Fatalf("expected 2 accesses by thread 5, got %d", len(entries))
	}
	if !entries[0].Write || entries[1].Write {
		t.Errorf("expected a write then a read, got %+v", entries)
	}
}
