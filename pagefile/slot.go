package pagefile

import (
	"encoding/binary"
	"fmt"
)

// ReadSlot reads the idx'th table slot from a page buffer. heapBytes is the
// page's heap size, i.e. the byte offset where the table region begins.
func ReadSlot(page []byte, heapBytes uint32, idx uint32) uint32 {
	off := int(heapBytes) + int(idx)*4
	return binary.LittleEndian.Uint32(page[off : off+4])
}

// WriteSlot stores a heap-offset value into the idx'th table slot of a page buffer.
func WriteSlot(page []byte, heapBytes uint32, idx uint32, value uint32) {
	off := int(heapBytes) + int(idx)*4
	binary.LittleEndian.PutUint32(page[off:off+4], value)
}

// FillSentinels initializes every slot in a page's table region to the
// empty sentinel. Callers must do this before placement (spec §4.3 step 7).
func FillSentinels(page []byte, heapBytes uint32, tableSlots uint32) {
	for i := uint32(0); i < tableSlots; i++ {
		WriteSlot(page, heapBytes, i, SentinelSlot)
	}
}

// ValidateSlot checks that a non-sentinel slot value points inside the
// page's heap region (and, for page 0, past the reserved header bytes).
func ValidateSlot(s uint32, heapBytes uint32, isPageZero bool) error {
	if s == SentinelSlot {
		return nil
	}
	if isPageZero && s < HeaderSize {
		return fmt.Errorf("%w: slot %d falls within the reserved header", ErrSlotOutOfRange, s)
	}
	if s >= heapBytes {
		return fmt.Errorf("%w: slot %d >= heap bytes %d", ErrSlotOutOfRange, s, heapBytes)
	}
	return nil
}
