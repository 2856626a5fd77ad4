package wasm

import (
	"fmt"

	"github.com/wippyai/canfuzz/wasm/internal/binary"
)

// NameSectionName is the custom section carrying debug names.
const NameSectionName = "name"

// Name section subsections keyed by function index.
const (
	nameSubFunctions byte = 1
	nameSubLocals    byte = 2
	nameSubLabels    byte = 3
)

// RemapNameSection rewrites the function indices of a name section
// payload. Function names are keyed directly by function index, local and
// label names by the index of the enclosing function; all other
// subsections are copied unchanged. remap must be monotonic so the
// rewritten maps stay sorted.
func RemapNameSection(data []byte, remap func(uint32) uint32) ([]byte, error) {
	r := binary.NewReader(data)
	w := binary.NewWriter()
	for !r.EOF() {
		id, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("name subsection %d: %w", id, err)
		}
		switch id {
		case nameSubFunctions:
			payload, err = remapNameMap(payload, remap)
		case nameSubLocals, nameSubLabels:
			payload, err = remapIndirectNameMap(payload, remap)
		}
		if err != nil {
			return nil, fmt.Errorf("name subsection %d: %w", id, err)
		}
		w.Byte(id)
		w.WriteVec(payload)
	}
	return w.Bytes(), nil
}

func remapNameMap(data []byte, remap func(uint32) uint32) ([]byte, error) {
	r := binary.NewReader(data)
	w := binary.NewWriter()
	n, err := readCount(r)
	if err != nil {
		return nil, err
	}
	w.WriteU32(n)
	for range n {
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		name, err := r.ReadName()
		if err != nil {
			return nil, err
		}
		w.WriteU32(remap(idx))
		w.WriteName(name)
	}
	if !r.EOF() {
		return nil, fmt.Errorf("%d trailing bytes", r.Len())
	}
	return w.Bytes(), nil
}

func remapIndirectNameMap(data []byte, remap func(uint32) uint32) ([]byte, error) {
	r := binary.NewReader(data)
	w := binary.NewWriter()
	n, err := readCount(r)
	if err != nil {
		return nil, err
	}
	w.WriteU32(n)
	for range n {
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		w.WriteU32(remap(idx))
		inner, err := readCount(r)
		if err != nil {
			return nil, err
		}
		w.WriteU32(inner)
		for range inner {
			local, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			name, err := r.ReadName()
			if err != nil {
				return nil, err
			}
			w.WriteU32(local)
			w.WriteName(name)
		}
	}
	if !r.EOF() {
		return nil, fmt.Errorf("%d trailing bytes", r.Len())
	}
	return w.Bytes(), nil
}

// FunctionNames decodes the function name subsection of a name section
// payload. A missing subsection yields an empty map.
func FunctionNames(data []byte) (map[uint32]string, error) {
	names := make(map[uint32]string)
	r := binary.NewReader(data)
	for !r.EOF() {
		id, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, err
		}
		if id != nameSubFunctions {
			continue
		}
		pr := binary.NewReader(payload)
		n, err := readCount(pr)
		if err != nil {
			return nil, err
		}
		for range n {
			idx, err := pr.ReadU32()
			if err != nil {
				return nil, err
			}
			name, err := pr.ReadName()
			if err != nil {
				return nil, err
			}
			names[idx] = name
		}
	}
	return names, nil
}
