package engine

// bucketTable folds raw hit counts into their class.
var bucketTable = func() (t [256]byte) {
	for i := range t {
		switch {
		case i == 0:
			t[i] = 0
		case i <= 2:
			t[i] = byte(i)
		case i == 3:
			t[i] = 4
		case i <= 7:
			t[i] = 8
		case i <= 15:
			t[i] = 16
		case i <= 31:
			t[i] = 32
		case i <= 127:
			t[i] = 64
		default:
			t[i] = 128
		}
	}
	return t
}()

// Bucket returns the hit count class of a raw count.
func Bucket(count byte) byte {
	return bucketTable[count]
}

// MaxMap is the highest bucket seen per edge over the whole run.
type MaxMap struct {
	max     []byte
	covered int
}

// Len returns the map size, fixed by the first observation.
func (m *MaxMap) Len() int {
	return len(m.max)
}

// Covered returns the number of edges hit at least once.
func (m *MaxMap) Covered() int {
	return m.covered
}

// Novel reports whether any bucketed entry of cov exceeds the max map,
// without changing it.
func (m *MaxMap) Novel(cov []byte) bool {
	for i, c := range cov {
		b := bucketTable[c]
		if b == 0 {
			continue
		}
		if i >= len(m.max) || b > m.max[i] {
			return true
		}
	}
	return false
}

// Merge raises the max map to cov and returns how many entries went up
// and how many of those were hit for the first time.
func (m *MaxMap) Merge(cov []byte) (raised, fresh int) {
	if len(cov) > len(m.max) {
		m.max = append(m.max, make([]byte, len(cov)-len(m.max))...)
	}
	for i, c := range cov {
		b := bucketTable[c]
		if b <= m.max[i] {
			continue
		}
		if m.max[i] == 0 {
			fresh++
		}
		m.max[i] = b
		raised++
	}
	m.covered += fresh
	return raised, fresh
}
