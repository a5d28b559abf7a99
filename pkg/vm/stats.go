package vm

import (
	"github.com/akhildatla/parvm/pkg/mem"
	"github.com/akhildatla/parvm/pkg/sync"
)

// Stats is a point-in-time summary of a run, assembled from every
// component of the machine.
type Stats struct {
	Cycles          uint64
	Instructions    uint64
	ContextSwitches uint64

	ThreadsCreated    int
	ThreadsTerminated int
	ThreadsFaulted    int

	ControlFlowEvents int

	Processors []ProcessorStats
	Caches     []mem.CacheStats
	Coherence  []mem.MESIStats
	Bus        mem.BusStats
	Sync       sync.Stats

	RacesDetected   int
	SharedAddresses int
}

// Stats assembles the current statistics of the machine.
func (m *Machine) Stats() Stats {
	st := Stats{
		Cycles:          m.cycle,
		ContextSwitches: m.contextSwitches,
		ThreadsCreated:  len(m.threads),
		Bus:             m.memory.Bus().Stats(),
		Sync:            m.syncMgr.Stats(),
	}
	for _, t := range m.threads {
		st.Instructions += t.Instructions
		switch t.State {
		case ThreadTerminated:
			st.ThreadsTerminated++
		case ThreadFaulted:
			st.ThreadsFaulted++
		}
	}
	for _, p := range m.procs {
		st.Processors = append(st.Processors, p.Stats())
		st.ControlFlowEvents += len(p.ControlFlow())
		cache := m.memory.CacheFor(p.ID())
		st.Caches = append(st.Caches, cache.Cache().Stats())
		st.Coherence = append(st.Coherence, cache.Stats())
	}
	if m.detector != nil {
		ds := m.detector.Stats()
		st.RacesDetected = ds.RacesDetected
		st.SharedAddresses = ds.SharedAddresses
	}
	return st
}
