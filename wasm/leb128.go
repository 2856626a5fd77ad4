package wasm

import (
	"github.com/wippyai/canfuzz/wasm/internal/binary"
)

// LEB128 encoding utilities for callers building module fragments by hand.

// AppendULEB128 appends the unsigned LEB128 encoding of v to dst.
func AppendULEB128(dst []byte, v uint64) []byte {
	return binary.AppendU64(dst, v)
}

// AppendSLEB128 appends the signed LEB128 encoding of v to dst.
func AppendSLEB128(dst []byte, v int64) []byte {
	return binary.AppendS64(dst, v)
}

// ReadULEB128 decodes an unsigned 32-bit LEB128 value from the start of
// data and returns it with the number of bytes consumed.
func ReadULEB128(data []byte) (uint32, int, error) {
	r := binary.NewReader(data)
	v, err := r.ReadU32()
	return v, r.Position(), err
}

// ReadSLEB128 decodes a signed 64-bit LEB128 value from the start of data
// and returns it with the number of bytes consumed.
func ReadSLEB128(data []byte) (int64, int, error) {
	r := binary.NewReader(data)
	v, err := r.ReadS64()
	return v, r.Position(), err
}
