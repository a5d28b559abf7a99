package race

import (
	"math/bits"
)

// AddressSet is a bit vector over memory addresses. The detector uses one
// to mark addresses touched by more than one thread, so the expensive
// happens-before analysis only runs where a race is possible.
type AddressSet struct {
	words  []uint64
	length uint32
}

// NewAddressSet creates a set covering addresses [0, length), all clear.
func NewAddressSet(length uint32) *AddressSet {
	numWords := (length + 63) / 64
	return &AddressSet{
		words:  make([]uint64, numWords),
		length: length,
	}
}

// Len returns the address range covered by the set.
func (s *AddressSet) Len() uint32 {
	return s.length
}

// Set marks addr as a member.
func (s *AddressSet) Set(addr uint32) {
	if addr >= s.length {
		return
	}
	s.words[addr/64] |= uint64(1) << (addr % 64)
}

// Contains reports whether addr is a member.
func (s *AddressSet) Contains(addr uint32) bool {
	if addr >= s.length {
		return false
	}
	return s.words[addr/64]&(uint64(1)<<(addr%64)) != 0
}

// Count returns the number of member addresses.
func (s *AddressSet) Count() int {
	count := 0
	for i, word := range s.words {
		if i == len(s.words)-1 && s.length%64 != 0 {
			mask := (uint64(1) << (s.length % 64)) - 1
			count += bits.OnesCount64(word & mask)
		} else {
			count += bits.OnesCount64(word)
		}
	}
	return count
}

// Addresses returns the member addresses in ascending order.
func (s *AddressSet) Addresses() []uint32 {
	var addrs []uint32
	for i, word := range s.words {
		for word != 0 {
			bit := bits.TrailingZeros64(word)
			addr := uint32(i*64 + bit)
			if addr < s.length {
				addrs = append(addrs, addr)
			}
			word &^= uint64(1) << bit
		}
	}
	return addrs
}

// Clear removes every member.
func (s *AddressSet) Clear() {
	for i := range s.words {
		s.words[i] = 0
	}
}
