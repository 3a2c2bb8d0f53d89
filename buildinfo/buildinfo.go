// Package buildinfo encodes the small key-value metadata block a Builder
// appends after a pagefile's external tail area. It has no bearing on
// Lookup: a Reader only ever decodes it via Reader.Inspect, a separate,
// optional diagnostic path.
package buildinfo

import (
	"bytes"
	"fmt"
	"io"
)

const (
	MaxNumKVs    = 255
	MaxKeySize   = 255
	MaxValueSize = 255
)

// Well-known keys set by Builder.Seal.
var (
	KeyKind      = []byte("kind")
	KeyBuildID   = []byte("build-id")
	KeyCreatedAt = []byte("created-at")
)

// KV is a single metadata entry.
type KV struct {
	Key   []byte
	Value []byte
}

// Meta is an ordered, possibly-repeating list of key-value pairs.
type Meta struct {
	KeyVals []KV
}

// Add appends a key-value pair.
func (m *Meta) Add(key, value []byte) error {
	if len(m.KeyVals) >= MaxNumKVs {
		return fmt.Errorf("buildinfo: number of key-value pairs %d exceeds max %d", len(m.KeyVals), MaxNumKVs)
	}
	if len(key) > MaxKeySize {
		return fmt.Errorf("buildinfo: key size %d exceeds max %d", len(key), MaxKeySize)
	}
	if len(value) > MaxValueSize {
		return fmt.Errorf("buildinfo: value size %d exceeds max %d", len(value), MaxValueSize)
	}
	m.KeyVals = append(m.KeyVals, KV{Key: cloneBytes(key), Value: cloneBytes(value)})
	return nil
}

// Get returns the first value for key.
func (m Meta) Get(key []byte) ([]byte, bool) {
	for _, kv := range m.KeyVals {
		if bytes.Equal(kv.Key, key) {
			return kv.Value, true
		}
	}
	return nil, false
}

func cloneBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}

// Encode serializes m as a one-byte count prefix followed by
// length-prefixed key/value pairs.
func Encode(m Meta) ([]byte, error) {
	var buf bytes.Buffer
	if len(m.KeyVals) > MaxNumKVs {
		return nil, fmt.Errorf("buildinfo: number of key-value pairs %d exceeds max %d", len(m.KeyVals), MaxNumKVs)
	}
	buf.WriteByte(byte(len(m.KeyVals)))
	for i, kv := range m.KeyVals {
		if len(kv.Key) > MaxKeySize {
			return nil, fmt.Errorf("buildinfo: key %d size %d exceeds max %d", i, len(kv.Key), MaxKeySize)
		}
		buf.WriteByte(byte(len(kv.Key)))
		buf.Write(kv.Key)
		if len(kv.Value) > MaxValueSize {
			return nil, fmt.Errorf("buildinfo: value %d size %d exceeds max %d", i, len(kv.Value), MaxValueSize)
		}
		buf.WriteByte(byte(len(kv.Value)))
		buf.Write(kv.Value)
	}
	return buf.Bytes(), nil
}

// Decode parses the encoding Encode produces.
func Decode(b []byte) (Meta, error) {
	var m Meta
	if len(b) == 0 {
		return m, nil
	}
	r := bytes.NewReader(b)
	numKVs, err := r.ReadByte()
	if err != nil {
		return Meta{}, fmt.Errorf("buildinfo: reading count: %w", err)
	}
	for i := 0; i < int(numKVs); i++ {
		var kv KV
		keyLen, err := r.ReadByte()
		if err != nil {
			return Meta{}, fmt.Errorf("buildinfo: reading key %d length: %w", i, err)
		}
		kv.Key = make([]byte, keyLen)
		if _, err := io.ReadFull(r, kv.Key); err != nil {
			return Meta{}, fmt.Errorf("buildinfo: reading key %d: %w", i, err)
		}
		valueLen, err := r.ReadByte()
		if err != nil {
			return Meta{}, fmt.Errorf("buildinfo: reading value %d length: %w", i, err)
		}
		kv.Value = make([]byte, valueLen)
		if _, err := io.ReadFull(r, kv.Value); err != nil {
			return Meta{}, fmt.Errorf("buildinfo: reading value %d: %w", i, err)
		}
		m.KeyVals = append(m.KeyVals, kv)
	}
	return m, nil
}
