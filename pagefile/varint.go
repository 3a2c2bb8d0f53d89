package pagefile

import (
	"encoding/binary"
	"fmt"
)

// Varint is this format's canonical lesqlite2-compatible variable-length
// unsigned integer encoding: a self-delimiting, prefix-free, little-endian
// scheme whose leading byte alone tells the decoder how many bytes follow.
// The spec (§3, §9) leaves the exact byte boundaries to the implementer as
// long as Builder and Reader agree; this is the one definition used by
// both.
//
// Leading byte b:
//
//	b <= 250            -> value is b, 1 byte total
//	b == 251            -> value is the next 2 bytes, little-endian (uint16), 3 bytes total
//	b == 252             -> value is the next 4 bytes, little-endian (uint32), 5 bytes total
//	b == 253             -> value is the next 8 bytes, little-endian (uint64), 9 bytes total
//	b == 254, 255        -> reserved, unused by this format
const (
	varintTag16 = 251
	varintTag32 = 252
	varintTag64 = 253
)

// AppendVarint appends the lesqlite2-compatible encoding of v to buf and
// returns the extended slice.
func AppendVarint(buf []byte, v uint64) []byte {
	switch {
	case v <= 250:
		return append(buf, byte(v))
	case v <= 0xFFFF:
		buf = append(buf, varintTag16)
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], uint16(v))
		return append(buf, tmp[:]...)
	case v <= 0xFFFFFFFF:
		buf = append(buf, varintTag32)
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(v))
		return append(buf, tmp[:]...)
	default:
		buf = append(buf, varintTag64)
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], v)
		return append(buf, tmp[:]...)
	}
}

// VarintSize returns the number of bytes AppendVarint would emit for v.
func VarintSize(v uint64) int {
	switch {
	case v <= 250:
		return 1
	case v <= 0xFFFF:
		return 3
	case v <= 0xFFFFFFFF:
		return 5
	default:
		return 9
	}
}

// ReadVarint decodes a varint from the start of buf, returning the value
// and the number of bytes consumed. Returns ErrMalformedHeapEntry if buf is
// too short to contain a complete encoding.
func ReadVarint(buf []byte) (v uint64, n int, err error) {
	if len(buf) == 0 {
		return 0, 0, fmt.Errorf("%w: empty varint", ErrMalformedHeapEntry)
	}
	b := buf[0]
	switch {
	case b <= 250:
		return uint64(b), 1, nil
	case b == varintTag16:
		if len(buf) < 3 {
			return 0, 0, fmt.Errorf("%w: truncated 2-byte varint", ErrMalformedHeapEntry)
		}
		return uint64(binary.LittleEndian.Uint16(buf[1:3])), 3, nil
	case b == varintTag32:
		if len(buf) < 5 {
			return 0, 0, fmt.Errorf("%w: truncated 4-byte varint", ErrMalformedHeapEntry)
		}
		return uint64(binary.LittleEndian.Uint32(buf[1:5])), 5, nil
	case b == varintTag64:
		if len(buf) < 9 {
			return 0, 0, fmt.Errorf("%w: truncated 8-byte varint", ErrMalformedHeapEntry)
		}
		return binary.LittleEndian.Uint64(buf[1:9]), 9, nil
	default:
		return 0, 0, fmt.Errorf("%w: reserved varint tag 0x%02x", ErrMalformedHeapEntry, b)
	}
}
