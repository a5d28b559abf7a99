package mem

// CacheLine is one line slot in a set-associative cache.
type CacheLine struct {
	Tag        uint32 // line-aligned address / line size
	Data       []uint32
	Valid      bool
	Dirty      bool
	LastAccess uint64 // for LRU replacement
}

// Address returns the line-aligned base address of the cached line.
func (l *CacheLine) Address(lineSize uint32) uint32 {
	return l.Tag * lineSize
}

// EvictedLine is a copy of a line removed by AllocateLine.
type EvictedLine struct {
	Address uint32
	Data    []uint32
	Dirty   bool
}

// CacheStats counts cache activity.
type CacheStats struct {
	Hits       int
	Misses     int
	Evictions  int
	Writebacks int
}

// Cache is a set-associative cache owned by a single processor.
// Addresses are in words; a cache of size S with line size L and
// associativity A has S/(L*A) sets.
type Cache struct {
	size     uint32
	lineSize uint32
	assoc    uint32
	numSets  uint32

	sets  [][]CacheLine
	stats CacheStats
}

// NewCache creates a cache. size, lineSize, and assoc are in words, words,
// and ways respectively; size must be a multiple of lineSize*assoc.
func NewCache(size, lineSize, assoc uint32) *Cache {
	numSets := size / (lineSize * assoc)
	sets := make([][]CacheLine, numSets)
	for i := range sets {
		sets[i] = make([]CacheLine, assoc)
		for w := range sets[i] {
			sets[i][w].Data = make([]uint32, lineSize)
		}
	}
	return &Cache{
		size:     size,
		lineSize: lineSize,
		assoc:    assoc,
		numSets:  numSets,
		sets:     sets,
	}
}

// LineSize returns the line size in words.
func (c *Cache) LineSize() uint32 {
	return c.lineSize
}

// NumSets returns the number of sets.
func (c *Cache) NumSets() uint32 {
	return c.numSets
}

// Assoc returns the associativity.
func (c *Cache) Assoc() uint32 {
	return c.assoc
}

// Stats returns a copy of the cache statistics.
func (c *Cache) Stats() CacheStats {
	return c.stats
}

func (c *Cache) setIndex(addr uint32) uint32 {
	return (addr / c.lineSize) % c.numSets
}

func (c *Cache) tag(addr uint32) uint32 {
	return addr / c.lineSize
}

func (c *Cache) offset(addr uint32) uint32 {
	return addr % c.lineSize
}

// lookup returns the set index and way of the line holding addr, or ok=false
// on a miss.
func (c *Cache) lookup(addr uint32) (set, way uint32, ok bool) {
	set = c.setIndex(addr)
	tag := c.tag(addr)
	for w := uint32(0); w < c.assoc; w++ {
		line := &c.sets[set][w]
		if line.Valid && line.Tag == tag {
			return set, w, true
		}
	}
	return set, 0, false
}

// Read returns the word at addr if the line is present.
func (c *Cache) Read(addr uint32, now uint64) (uint32, bool) {
	set, way, ok := c.lookup(addr)
	if !ok {
		c.stats.Misses++
		return 0, false
	}
	line := &c.sets[set][way]
	line.LastAccess = now
	c.stats.Hits++
	return line.Data[c.offset(addr)], true
}

// Write updates the word at addr if the line is present, marking it dirty.
func (c *Cache) Write(addr, value uint32, now uint64) bool {
	set, way, ok := c.lookup(addr)
	if !ok {
		c.stats.Misses++
		return false
	}
	line := &c.sets[set][way]
	line.Data[c.offset(addr)] = value
	line.Dirty = true
	line.LastAccess = now
	c.stats.Hits++
	return true
}

// AllocateLine installs the line containing addr. If the line is already
// present its data is replaced in place. Otherwise the LRU way of the set is
// chosen; when a valid line is displaced a copy is returned so the caller
// can write it back before reuse.
func (c *Cache) AllocateLine(addr uint32, data []uint32, dirty bool, now uint64) (evicted *EvictedLine, way uint32) {
	set := c.setIndex(addr)
	tag := c.tag(addr)

	// Already present: update in place.
	for w := uint32(0); w < c.assoc; w++ {
		line := &c.sets[set][w]
		if line.Valid && line.Tag == tag {
			copy(line.Data, data)
			line.Dirty = dirty
			line.LastAccess = now
			return nil, w
		}
	}

	// Prefer an invalid way, else the LRU way.
	victim := uint32(0)
	found := false
	for w := uint32(0); w < c.assoc; w++ {
		if !c.sets[set][w].Valid {
			victim = w
			found = true
			break
		}
	}
	if !found {
		oldest := c.sets[set][0].LastAccess
		for w := uint32(1); w < c.assoc; w++ {
			if c.sets[set][w].LastAccess < oldest {
				oldest = c.sets[set][w].LastAccess
				victim = w
			}
		}
	}

	line := &c.sets[set][victim]
	if line.Valid {
		c.stats.Evictions++
		evicted = &EvictedLine{
			Address: line.Address(c.lineSize),
			Data:    append([]uint32(nil), line.Data...),
			Dirty:   line.Dirty,
		}
		if line.Dirty {
			c.stats.Writebacks++
		}
	}

	line.Tag = tag
	copy(line.Data, data)
	line.Valid = true
	line.Dirty = dirty
	line.LastAccess = now
	return evicted, victim
}

// Contains reports whether the line holding addr is present.
func (c *Cache) Contains(addr uint32) bool {
	_, _, ok := c.lookup(addr)
	return ok
}

// Flush returns copies of all dirty lines and clears their dirty flags.
// Lines remain valid.
func (c *Cache) Flush() []EvictedLine {
	var dirty []EvictedLine
	for s := range c.sets {
		for w := range c.sets[s] {
			line := &c.sets[s][w]
			if line.Valid && line.Dirty {
				dirty = append(dirty, EvictedLine{
					Address: line.Address(c.lineSize),
					Data:    append([]uint32(nil), line.Data...),
					Dirty:   true,
				})
				line.Dirty = false
				c.stats.Writebacks++
			}
		}
	}
	return dirty
}

// Reset invalidates every line and zeroes the statistics.
func (c *Cache) Reset() {
	for s := range c.sets {
		for w := range c.sets[s] {
			line := &c.sets[s][w]
			line.Valid = false
			line.Dirty = false
			line.Tag = 0
			line.LastAccess = 0
			for i := range line.Data {
				line.Data[i] = 0
			}
		}
	}
	c.stats = CacheStats{}
}
