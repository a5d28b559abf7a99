// Package race implements a passive happens-before race detector for the
// emulator. It observes memory accesses and synchronization operations as
// the machine runs, flags conflicting accesses not ordered by any lock or
// happens-before chain, and finds cycles in the waits-for graph. Detection
// is advisory only and never alters execution.
package race

import (
	"fmt"
	"sort"
)

// AccessKind distinguishes reads from writes.
type AccessKind uint8

const (
	AccessRead AccessKind = iota
	AccessWrite
)

// String returns the string representation of an access kind.
func (k AccessKind) String() string {
	if k == AccessWrite {
		return "WRITE"
	}
	return "READ"
}

// MemoryAccess is one observed access with the lock set held at the time.
type MemoryAccess struct {
	ThreadID  int
	Address   uint32
	Kind      AccessKind
	Timestamp uint64
	Locks     []uint32 // ascending
}

// Race is a pair of conflicting accesses with no ordering between them.
type Race struct {
	Address uint32
	First   MemoryAccess
	Second  MemoryAccess
}

// String formats the race for reports.
func (r Race) String() string {
	return fmt.Sprintf("race at address %d: thread %d %s @%d vs thread %d %s @%d",
		r.Address,
		r.First.ThreadID, r.First.Kind, r.First.Timestamp,
		r.Second.ThreadID, r.Second.Kind, r.Second.Timestamp)
}

// SyncKind distinguishes lock releases from acquisitions.
type SyncKind uint8

const (
	SyncAcquire SyncKind = iota
	SyncRelease
)

type syncEvent struct {
	threadID  int
	lockID    uint32
	timestamp uint64
}

// hbEdge orders a release before a later acquisition of the same lock.
type hbEdge struct {
	fromThread int
	fromTime   uint64
	toThread   int
	toTime     uint64
}

// Stats summarizes detector activity.
type Stats struct {
	TotalAccesses   int
	SharedAddresses int
	SyncEvents      int
	RacesDetected   int
}

// Detector accumulates the access history of a run.
type Detector struct {
	accesses    map[uint32][]MemoryAccess
	firstThread map[uint32]int
	shared      *AddressSet

	lastRelease map[uint32]syncEvent // per lock
	edges       []hbEdge
	syncEvents  int

	races []Race
	seen  map[string]bool
}

// NewDetector creates a detector for a memory of the given size in words.
func NewDetector(memorySize uint32) *Detector {
	return &Detector{
		accesses:    make(map[uint32][]MemoryAccess),
		firstThread: make(map[uint32]int),
		shared:      NewAddressSet(memorySize),
		lastRelease: make(map[uint32]syncEvent),
		seen:        make(map[string]bool),
	}
}

// RecordSyncOperation observes a lock acquisition or release. An
// acquisition following another thread's release of the same lock creates
// a happens-before edge.
func (d *Detector) RecordSyncOperation(kind SyncKind, threadID int, lockID uint32, timestamp uint64) {
	d.syncEvents++
	switch kind {
	case SyncRelease:
		d.lastRelease[lockID] = syncEvent{threadID: threadID, lockID: lockID, timestamp: timestamp}
	case SyncAcquire:
		rel, ok := d.lastRelease[lockID]
		if ok && rel.threadID != threadID {
			d.edges = append(d.edges, hbEdge{
				fromThread: rel.threadID,
				fromTime:   rel.timestamp,
				toThread:   threadID,
				toTime:     timestamp,
			})
		}
	}
}

// RecordMemoryAccess observes one access and checks it against the prior
// history of the address.
func (d *Detector) RecordMemoryAccess(access MemoryAccess) {
	addr := access.Address
	if first, ok := d.firstThread[addr]; !ok {
		d.firstThread[addr] = access.ThreadID
	} else if first != access.ThreadID {
		d.shared.Set(addr)
	}

	if d.shared.Contains(addr) {
		d.checkRaces(access)
	}
	d.accesses[addr] = append(d.accesses[addr], access)
}

func (d *Detector) checkRaces(access MemoryAccess) {
	for _, prior := range d.accesses[access.Address] {
		if prior.ThreadID == access.ThreadID {
			continue
		}
		if prior.Kind == AccessRead && access.Kind == AccessRead {
			continue
		}
		if commonLock(prior.Locks, access.Locks) {
			continue
		}
		if d.happensBefore(prior.ThreadID, prior.Timestamp, access.ThreadID, access.Timestamp) ||
			d.happensBefore(access.ThreadID, access.Timestamp, prior.ThreadID, prior.Timestamp) {
			continue
		}

		key := fmt.Sprintf("%d:%d:%d:%d:%d", access.Address, prior.ThreadID, access.ThreadID, prior.Kind, access.Kind)
		if d.seen[key] {
			continue
		}
		d.seen[key] = true
		d.races = append(d.races, Race{Address: access.Address, First: prior, Second: access})
	}
}

// happensBefore reports whether (fromThread, fromTime) is ordered before
// (toThread, toTime) by program order and release-acquire edges.
func (d *Detector) happensBefore(fromThread int, fromTime uint64, toThread int, toTime uint64) bool {
	if fromThread == toThread {
		return fromTime <= toTime
	}
	type node struct {
		thread int
		time   uint64
	}
	visited := make(map[node]bool)
	stack := []node{{fromThread, fromTime}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for _, e := range d.edges {
			if e.fromThread != cur.thread || e.fromTime < cur.time {
				continue
			}
			if e.toThread == toThread && e.toTime <= toTime {
				return true
			}
			stack = append(stack, node{e.toThread, e.toTime})
		}
	}
	return false
}

func commonLock(a, b []uint32) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			return true
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return false
}

// Races returns the detected races in detection order.
func (d *Detector) Races() []Race {
	return d.races
}

// SharedAddresses returns every address touched by more than one thread,
// ascending.
func (d *Detector) SharedAddresses() []uint32 {
	return d.shared.Addresses()
}

// Stats returns aggregate detector statistics.
func (d *Detector) Stats() Stats {
	total := 0
	for _, list := range d.accesses {
		total += len(list)
	}
	return Stats{
		TotalAccesses:   total,
		SharedAddresses: d.shared.Count(),
		SyncEvents:      d.syncEvents,
		RacesDetected:   len(d.races),
	}
}

// Reset clears all history.
func (d *Detector) Reset() {
	d.accesses = make(map[uint32][]MemoryAccess)
	d.firstThread = make(map[uint32]int)
	d.shared.Clear()
	d.lastRelease = make(map[uint32]syncEvent)
	d.edges = nil
	d.syncEvents = 0
	d.races = nil
	d.seen = make(map[string]bool)
}

// FindCycles returns the cycles in a waits-for graph, where waitsFor maps
// a blocked thread to the thread it waits on. Each cycle is rotated to
// start at its smallest thread id; cycles are reported in ascending order
// of that id, each exactly once.
func FindCycles(waitsFor map[int]int) [][]int {
	threads := make([]int, 0, len(waitsFor))
	for t := range waitsFor {
		threads = append(threads, t)
	}
	sort.Ints(threads)

	var cycles [][]int
	reported := make(map[int]bool)
	for _, start := range threads {
		path := []int{start}
		index := map[int]int{start: 0}
		cur := start
		for {
			next, ok := waitsFor[cur]
			if !ok {
				break
			}
			if at, seen := index[next]; seen {
				cycle := append([]int(nil), path[at:]...)
				min := rotateToMin(cycle)
				if !reported[min] {
					reported[min] = true
					cycles = append(cycles, cycle)
				}
				break
			}
			index[next] = len(path)
			path = append(path, next)
			cur = next
		}
	}
	return cycles
}

// rotateToMin rotates the cycle in place so it starts at its smallest
// member, and returns that member.
func rotateToMin(cycle []int) int {
	minIdx := 0
	for i, t := range cycle {
		if t < cycle[minIdx] {
			minIdx = i
		}
	}
	rotated := append(append([]int(nil), cycle[minIdx:]...), cycle[:minIdx]...)
	copy(cycle, rotated)
	return cycle[0]
}
