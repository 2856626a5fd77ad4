package engine

import (
	"encoding/binary"
	"math/rand/v2"
	"slices"
)

const maxDelta = 35

var interesting = []uint64{
	0, 1, 0x7f, 0x80, 0xff,
	0x7fff, 0x8000, 0xffff,
	0x7fffffff, 0x80000000, 0xffffffff,
	0x7fffffffffffffff, 0x8000000000000000, 0xffffffffffffffff,
	16, 32, 64, 100, 127, 128, 255, 256, 512, 1000, 1024, 4096, 65535, 65536,
}

// Mutator applies stacked byte-level mutations.
type Mutator struct {
	rng        *rand.Rand
	dict       [][]byte
	maxLen     int
	maxStack   int
	spliceRate float64
}

// NewMutator creates a mutator drawing from rng.
func NewMutator(rng *rand.Rand, cfg Config) *Mutator {
	cfg = cfg.withDefaults()
	return &Mutator{
		rng:        rng,
		dict:       cfg.Dictionary,
		maxLen:     cfg.MaxInputSize,
		maxStack:   cfg.MaxStack,
		spliceRate: cfg.SpliceRate,
	}
}

// Mutate returns a mutated copy of in. other is a second corpus entry for
// splicing; it may be nil. The result is never longer than the size limit.
func (m *Mutator) Mutate(in, other []byte) []byte {
	data := slices.Clone(in)
	if other != nil && m.rng.Float64() < m.spliceRate {
		data = m.splice(data, other)
	}
	n := 1 + m.rng.IntN(m.maxStack)
	for range n {
		for attempt := 0; attempt < 4; attempt++ {
			var ok bool
			if data, ok = m.step(data); ok {
				break
			}
		}
	}
	if len(data) > m.maxLen {
		data = data[:m.maxLen]
	}
	return data
}

func (m *Mutator) step(data []byte) ([]byte, bool) {
	switch m.rng.IntN(10) {
	case 0:
		return m.flipBit(data)
	case 1:
		return m.insertBytes(data)
	case 2:
		return m.removeBytes(data)
	case 3:
		return m.appendBytes(data)
	case 4:
		return m.replaceInt(data)
	case 5:
		return m.addInt(data)
	case 6:
		return m.interestingInt(data)
	case 7:
		return m.duplicate(data)
	case 8:
		return m.token(data)
	default:
		return m.randomByte(data)
	}
}

func (m *Mutator) flipBit(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return data, false
	}
	data[m.rng.IntN(len(data))] ^= 1 << m.rng.IntN(8)
	return data, true
}

func (m *Mutator) randomByte(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return data, false
	}
	i := m.rng.IntN(len(data))
	old := data[i]
	for data[i] == old {
		data[i] = byte(m.rng.Uint32())
	}
	return data, true
}

func (m *Mutator) insertBytes(data []byte) ([]byte, bool) {
	n := min(1+m.rng.IntN(16), m.maxLen-len(data))
	if n <= 0 {
		return data, false
	}
	ins := make([]byte, n)
	for i := range ins {
		ins[i] = byte(m.rng.Uint32())
	}
	return slices.Insert(data, m.rng.IntN(len(data)+1), ins...), true
}

func (m *Mutator) removeBytes(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return data, false
	}
	n := min(1+m.rng.IntN(16), len(data))
	pos := m.rng.IntN(len(data) - n + 1)
	return slices.Delete(data, pos, pos+n), true
}

func (m *Mutator) appendBytes(data []byte) ([]byte, bool) {
	n := min(1+m.rng.IntN(64), m.maxLen-len(data))
	if n <= 0 {
		return data, false
	}
	for range n {
		data = append(data, byte(m.rng.Uint32()))
	}
	return data, true
}

// duplicate copies a block of the input to another offset.
func (m *Mutator) duplicate(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return data, false
	}
	n := min(1+m.rng.IntN(32), len(data), m.maxLen-len(data))
	if n <= 0 {
		return data, false
	}
	src := m.rng.IntN(len(data) - n + 1)
	block := slices.Clone(data[src : src+n])
	return slices.Insert(data, m.rng.IntN(len(data)+1), block...), true
}

func (m *Mutator) token(data []byte) ([]byte, bool) {
	if len(m.dict) == 0 {
		return data, false
	}
	tok := m.dict[m.rng.IntN(len(m.dict))]
	if len(tok) == 0 {
		return data, false
	}
	if len(data) >= len(tok) && m.rng.IntN(2) == 0 {
		copy(data[m.rng.IntN(len(data)-len(tok)+1):], tok)
		return data, true
	}
	if len(data)+len(tok) > m.maxLen {
		return data, false
	}
	return slices.Insert(data, m.rng.IntN(len(data)+1), tok...), true
}

func (m *Mutator) width(data []byte) (int, int, bool) {
	w := 1 << m.rng.IntN(4)
	if len(data) < w {
		return 0, 0, false
	}
	return w, m.rng.IntN(len(data) - w + 1), true
}

func (m *Mutator) replaceInt(data []byte) ([]byte, bool) {
	w, i, ok := m.width(data)
	if !ok {
		return data, false
	}
	storeInt(data[i:], m.rng.Uint64(), w)
	return data, true
}

func (m *Mutator) addInt(data []byte) ([]byte, bool) {
	w, i, ok := m.width(data)
	if !ok {
		return data, false
	}
	delta := uint64(m.rng.IntN(2*maxDelta+1) - maxDelta)
	if delta == 0 {
		delta = 1
	}
	if m.rng.IntN(10) == 0 {
		storeIntBE(data[i:], loadIntBE(data[i:], w)+delta, w)
	} else {
		storeInt(data[i:], loadInt(data[i:], w)+delta, w)
	}
	return data, true
}

func (m *Mutator) interestingInt(data []byte) ([]byte, bool) {
	w, i, ok := m.width(data)
	if !ok {
		return data, false
	}
	v := interesting[m.rng.IntN(len(interesting))]
	if m.rng.IntN(10) == 0 {
		storeIntBE(data[i:], v, w)
	} else {
		storeInt(data[i:], v, w)
	}
	return data, true
}

// splice joins a prefix of data with a suffix of other.
func (m *Mutator) splice(data, other []byte) []byte {
	cut := m.rng.IntN(len(data) + 1)
	from := m.rng.IntN(len(other) + 1)
	out := append(data[:cut:cut], other[from:]...)
	if len(out) > m.maxLen {
		out = out[:m.maxLen]
	}
	return out
}

func loadInt(data []byte, w int) uint64 {
	switch w {
	case 1:
		return uint64(data[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(data))
	case 4:
		return uint64(binary.LittleEndian.Uint32(data))
	}
	return binary.LittleEndian.Uint64(data)
}

func storeInt(data []byte, v uint64, w int) {
	switch w {
	case 1:
		data[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(data, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(data, uint32(v))
	default:
		binary.LittleEndian.PutUint64(data, v)
	}
}

func loadIntBE(data []byte, w int) uint64 {
	switch w {
	case 1:
		return uint64(data[0])
	case 2:
		return uint64(binary.BigEndian.Uint16(data))
	case 4:
		return uint64(binary.BigEndian.Uint32(data))
	}
	return binary.BigEndian.Uint64(data)
}

func storeIntBE(data []byte, v uint64, w int) {
	switch w {
	case 1:
		data[0] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(data, uint16(v))
	case 4:
		binary.BigEndian.PutUint32(data, uint32(v))
	default:
		binary.BigEndian.PutUint64(data, v)
	}
}
