package mem

import "sort"

// AddressProfile summarizes the traffic seen by one address.
type AddressProfile struct {
	Address uint32
	Reads   int
	Writes  int
	Threads []int // ascending, distinct
}

// Accesses returns the total access count for the address.
func (p AddressProfile) Accesses() int {
	return p.Reads + p.Writes
}

// PatternReport is the result of analyzing an access log.
type PatternReport struct {
	Profiles       []AddressProfile // ascending by address
	SharedAddrs    []uint32         // touched by more than one thread
	ContendedAddrs []uint32         // written by more than one thread
	TotalAccesses  int
}

// Hottest returns the profile with the most accesses, breaking ties by
// lower address. ok is false when the log was empty.
func (r *PatternReport) Hottest() (AddressProfile, bool) {
	if len(r.Profiles) == 0 {
		return AddressProfile{}, false
	}
	best := r.Profiles[0]
	for _, p := range r.Profiles[1:] {
		if p.Accesses() > best.Accesses() {
			best = p
		}
	}
	return best, true
}

// AnalyzeAccessPatterns builds a per-address traffic summary from an access
// log, identifying addresses shared across threads and addresses written by
// more than one thread.
func AnalyzeAccessPatterns(log []Access) *PatternReport {
	type state struct {
		reads, writes int
		threads       map[int]bool
		writers       map[int]bool
	}
	byAddr := make(map[uint32]*state)
	for _, a := range log {
		st := byAddr[a.Address]
		if st == nil {
			st = &state{threads: make(map[int]bool), writers: make(map[int]bool)}
			byAddr[a.Address] = st
		}
		if a.Write {
			st.writes++
			st.writers[a.ThreadID] = true
		} else {
			st.reads++
		}
		st.threads[a.ThreadID] = true
	}

	report := &PatternReport{TotalAccesses: len(log)}
	addrs := make([]uint32, 0, len(byAddr))
	for addr := range byAddr {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	for _, addr := range addrs {
		st := byAddr[addr]
		threads := make([]int, 0, len(st.threads))
		for id := range st.threads {
			threads = append(threads, id)
		}
		sort.Ints(threads)
		report.Profiles = append(report.Profiles, AddressProfile{
			Address: addr,
			Reads:   st.reads,
			Writes:  st.writes,
			Threads: threads,
		})
		if len(st.threads) > 1 {
			report.SharedAddrs = append(report.SharedAddrs, addr)
		}
		if len(st.writers) > 1 {
			report.ContendedAddrs = append(report.ContendedAddrs, addr)
		}
	}
	return report
}
