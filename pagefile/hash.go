package pagefile

import "github.com/spaolacci/murmur3"

// Digest hashes key with the 128-bit x64 variant of MurmurHash3, seed 0,
// and splits the result into a page selector and a slot/probe seed.
//
// pageWord is the low 64 bits of the digest and selects the page via
// pageWord mod pageCount. slotWord is the high 64 bits and seeds the
// in-page open-addressing probe sequence.
func Digest(key []byte) (pageWord, slotWord uint64) {
	return murmur3.Sum128WithSeed(key, 0)
}

// PageIndex resolves a key's digest to a page index in [0, pageCount).
func PageIndex(pageWord uint64, pageCount uint64) uint64 {
	return pageWord % pageCount
}

// ProbeSequence returns the i'th probe (0-indexed) into a table of
// tableSlots slots, seeded from slotWord. tableSlots must be a power of
// two for the sequence to visit every slot exactly once.
//
// Builder and Reader must compute probes identically; this is the single
// shared definition both use.
func ProbeSequence(slotWord uint64, tableSlots uint32, i uint32) uint32 {
	base := uint32(slotWord % uint64(tableSlots))
	step := uint32(slotWord>>32) | 1
	return uint32((uint64(base) + uint64(i)*uint64(step)) % uint64(tableSlots))
}
