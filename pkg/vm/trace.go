package vm

// TraceEvent records one processor-cycle of execution.
type TraceEvent struct {
	Cycle       uint64
	ProcessorID int
	ThreadID    int
	PC          uint32
	Text        string // disassembled instruction
	Completed   bool   // false while stalling
	Note        string // fault or blocking detail, usually empty
}

// TraceFilter selects trace events. Nil pointer fields match everything.
type TraceFilter struct {
	ThreadID      *int
	ProcessorID   *int
	Start         *uint64
	End           *uint64
	CompletedOnly bool
}

// Trace is the machine's execution trace.
type Trace struct {
	enabled bool
	events  []TraceEvent
}

// NewTrace creates a trace; a disabled trace drops every event.
func NewTrace(enabled bool) *Trace {
	return &Trace{enabled: enabled}
}

// Enabled reports whether events are being recorded.
func (tr *Trace) Enabled() bool {
	return tr.enabled
}

// Record appends an event when tracing is enabled.
func (tr *Trace) Record(ev TraceEvent) {
	if tr.enabled {
		tr.events = append(tr.events, ev)
	}
}

// Events returns events matching the filter, in record order.
func (tr *Trace) Events(f TraceFilter) []TraceEvent {
	var result []TraceEvent
	for _, ev := range tr.events {
		if f.ThreadID != nil && ev.ThreadID != *f.ThreadID {
			continue
		}
		if f.ProcessorID != nil && ev.ProcessorID != *f.ProcessorID {
			continue
		}
		if f.Start != nil && ev.Cycle < *f.Start {
			continue
		}
		if f.End != nil && ev.Cycle > *f.End {
			continue
		}
		if f.CompletedOnly && !ev.Completed {
			continue
		}
		result = append(result, ev)
	}
	return result
}

// Len returns the number of recorded events.
func (tr *Trace) Len() int {
	return len(tr.events)
}

// Reset discards all events.
func (tr *Trace) Reset() {
	tr.events = nil
}
