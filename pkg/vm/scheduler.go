package vm

import "sort"

// Scheduler orders ready threads for assignment to idle processors.
// Implementations must be deterministic: the same sequence of Add and
// Next calls always yields the same order.
type Scheduler interface {
	Name() string
	Add(t *Thread)
	Next() *Thread // nil when no thread is ready
	Remove(threadID int)
	Len() int
}

// RoundRobinScheduler is a FIFO ready queue: threads run in the order they
// became ready.
type RoundRobinScheduler struct {
	queue []*Thread
}

// NewRoundRobinScheduler creates an empty FIFO scheduler.
func NewRoundRobinScheduler() *RoundRobinScheduler {
	return &RoundRobinScheduler{}
}

// Name returns the scheduler name.
func (s *RoundRobinScheduler) Name() string { return "round-robin" }

// Add appends t to the ready queue.
func (s *RoundRobinScheduler) Add(t *Thread) {
	s.queue = append(s.queue, t)
}

// Next pops the head of the queue.
func (s *RoundRobinScheduler) Next() *Thread {
	if len(s.queue) == 0 {
		return nil
	}
	t := s.queue[0]
	s.queue = s.queue[1:]
	return t
}

// Remove drops the thread with the given id, if queued.
func (s *RoundRobinScheduler) Remove(threadID int) {
	for i, t := range s.queue {
		if t.ID == threadID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// Len returns the number of queued threads.
func (s *RoundRobinScheduler) Len() int { return len(s.queue) }

// PriorityScheduler picks the highest-priority ready thread. Threads of
// equal priority run in arrival order; equal arrival falls back to the
// lower thread id.
type PriorityScheduler struct {
	queue  []*Thread
	serial map[int]int // thread id -> arrival order
	next   int
}

// NewPriorityScheduler creates an empty priority scheduler.
func NewPriorityScheduler() *PriorityScheduler {
	return &PriorityScheduler{serial: make(map[int]int)}
}

// Name returns the scheduler name.
func (s *PriorityScheduler) Name() string { return "priority" }

// Add inserts t into the ready set.
func (s *PriorityScheduler) Add(t *Thread) {
	if _, ok := s.serial[t.ID]; !ok {
		s.serial[t.ID] = s.next
		s.next++
	}
	s.queue = append(s.queue, t)
	sort.SliceStable(s.queue, func(i, j int) bool {
		a, b := s.queue[i], s.queue[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if s.serial[a.ID] != s.serial[b.ID] {
			return s.serial[a.ID] < s.serial[b.ID]
		}
		return a.ID < b.ID
	})
}

// Next pops the highest-priority thread.
func (s *PriorityScheduler) Next() *Thread {
	if len(s.queue) == 0 {
		return nil
	}
	t := s.queue[0]
	s.queue = s.queue[1:]
	delete(s.serial, t.ID)
	return t
}

// Remove drops the thread with the given id, if queued.
func (s *PriorityScheduler) Remove(threadID int) {
	for i, t := range s.queue {
		if t.ID == threadID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			delete(s.serial, threadID)
			return
		}
	}
}

// Len returns the number of queued threads.
func (s *PriorityScheduler) Len() int { return len(s.queue) }
