package pagefile

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed size of the file header (spec §3).
const HeaderSize = 24

// Magic are the first four bytes of every pagefile.
var Magic = [4]byte{'p', 'g', 'f', '1'}

// VersionFlags is the fixed version/flags value written by this
// implementation. Future incompatible format changes would bump this.
const VersionFlags = uint32(1)

// SentinelSlot marks an empty table slot: 32-bit all-ones. The spec (§9)
// resolves an ambiguity in the source description ("0xFFFFFFF" vs
// "all-ones") explicitly in favor of the 32-bit all-ones reading used here.
const SentinelSlot = uint32(0xFFFFFFFF)

// Header is the 24-byte record at file offset 0.
type Header struct {
	PageCount  uint64
	HeapBytes  uint32
	TableSlots uint32
}

// PageSize is the combined heap+table footprint of one page.
func (h Header) PageSize() uint64 {
	return uint64(h.HeapBytes) + 4*uint64(h.TableSlots)
}

// PageOffset returns the absolute file offset of page i's first byte.
func (h Header) PageOffset(i uint64) uint64 {
	return i * h.PageSize()
}

// TailOffset returns the absolute file offset where the external tail
// area begins, immediately after the last page.
func (h Header) TailOffset() uint64 {
	return h.PageCount * h.PageSize()
}

// Bytes encodes the header to its fixed 24-byte wire form.
func (h Header) Bytes() [HeaderSize]byte {
	var buf [HeaderSize]byte
	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], VersionFlags)
	binary.LittleEndian.PutUint64(buf[8:16], h.PageCount)
	binary.LittleEndian.PutUint32(buf[16:20], h.HeapBytes)
	binary.LittleEndian.PutUint32(buf[20:24], h.TableSlots)
	return buf
}

// LoadHeader decodes and validates a 24-byte header buffer.
func LoadHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: short header, got %d bytes", ErrMalformedHeader, len(buf))
	}
	if [4]byte(buf[0:4]) != Magic {
		return Header{}, fmt.Errorf("%w: magic mismatch", ErrMalformedHeader)
	}
	versionFlags := binary.LittleEndian.Uint32(buf[4:8])
	if versionFlags != VersionFlags {
		return Header{}, fmt.Errorf("%w: unsupported version/flags 0x%08x", ErrMalformedHeader, versionFlags)
	}
	h := Header{
		PageCount:  binary.LittleEndian.Uint64(buf[8:16]),
		HeapBytes:  binary.LittleEndian.Uint32(buf[16:20]),
		TableSlots: binary.LittleEndian.Uint32(buf[20:24]),
	}
	if h.PageCount == 0 {
		return Header{}, fmt.Errorf("%w: page count must be >= 1", ErrMalformedHeader)
	}
	if h.TableSlots == 0 {
		return Header{}, fmt.Errorf("%w: table slots must be >= 1", ErrMalformedHeader)
	}
	return h, nil
}
