package binary

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestReaderReadByte(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	r := NewReader(data)

	for i, want := range data {
		if r.Position() != i {
			t.Errorf("position before read %d: got %d, want %d", i, r.Position(), i)
		}
		b, err := r.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte %d: %v", i, err)
		}
		if b != want {
			t.Errorf("ReadByte %d: got 0x%02x, want 0x%02x", i, b, want)
		}
	}

	if !r.EOF() {
		t.Error("expected EOF after consuming all bytes")
	}
	if _, err := r.ReadByte(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestReaderReadBytesAndSpan(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	r := NewReader(data)

	got, err := r.ReadBytes(3)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(got, []byte{0x01, 0x02, 0x03}) {
		t.Errorf("ReadBytes: got %v, want [1 2 3]", got)
	}
	if span := r.Span(1); !bytes.Equal(span, []byte{0x02, 0x03}) {
		t.Errorf("Span(1): got %v, want [2 3]", span)
	}
	if r.Len() != 2 {
		t.Errorf("Len: got %d, want 2", r.Len())
	}
	if _, err := r.ReadBytes(10); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected ErrUnexpectedEOF reading past end, got %v", err)
	}
	if rest := r.ReadRemaining(); !bytes.Equal(rest, []byte{0x04, 0x05}) {
		t.Errorf("ReadRemaining: got %v", rest)
	}
	if !r.EOF() {
		t.Error("expected EOF after ReadRemaining")
	}
}

func TestReaderReadU32(t *testing.T) {
	tests := []struct {
		encoded []byte
		want    uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
		{[]byte{0x80, 0x80, 0x80, 0x80, 0x00}, 0},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x0f}, 0xFFFFFFFF},
	}

	for _, tt := range tests {
		r := NewReader(tt.encoded)
		got, err := r.ReadU32()
		if err != nil {
			t.Errorf("ReadU32(%x): %v", tt.encoded, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ReadU32(%x) = %d, want %d", tt.encoded, got, tt.want)
		}
		if !r.EOF() {
			t.Errorf("ReadU32(%x) left %d bytes", tt.encoded, r.Len())
		}
	}
}

func TestReaderLEBOverflow(t *testing.T) {
	tests := []struct {
		name    string
		encoded []byte
		read    func(*Reader) error
	}{
		{"u32 sixth byte", []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x00}, func(r *Reader) error { _, err := r.ReadU32(); return err }},
		{"u32 high bits", []byte{0xff, 0xff, 0xff, 0xff, 0x1f}, func(r *Reader) error { _, err := r.ReadU32(); return err }},
		{"u64 high bits", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x02}, func(r *Reader) error { _, err := r.ReadU64(); return err }},
		{"s32 bad sign extension", []byte{0xff, 0xff, 0xff, 0xff, 0x4f}, func(r *Reader) error { _, err := r.ReadS32(); return err }},
		{"s64 eleventh byte", []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x00}, func(r *Reader) error { _, err := r.ReadS64(); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.read(NewReader(tt.encoded))
			if !errors.Is(err, ErrOverflow) {
				t.Errorf("expected ErrOverflow, got %v", err)
			}
		})
	}
}

func TestReaderSigned(t *testing.T) {
	tests := []struct {
		encoded []byte
		bits    int
		want    int64
	}{
		{[]byte{0x00}, 32, 0},
		{[]byte{0x7f}, 32, -1},
		{[]byte{0x40}, 33, -64},
		{[]byte{0x80, 0x7f}, 32, -128},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x07}, 32, 2147483647},
		{[]byte{0x80, 0x80, 0x80, 0x80, 0x78}, 32, -2147483648},
		{[]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x7f}, 64, -9223372036854775808},
	}

	for _, tt := range tests {
		r := NewReader(tt.encoded)
		var got int64
		var err error
		switch tt.bits {
		case 32:
			var v int32
			v, err = r.ReadS32()
			got = int64(v)
		case 33:
			got, err = r.ReadS33()
		default:
			got, err = r.ReadS64()
		}
		if err != nil {
			t.Errorf("read s%d %x: %v", tt.bits, tt.encoded, err)
			continue
		}
		if got != tt.want {
			t.Errorf("read s%d %x = %d, want %d", tt.bits, tt.encoded, got, tt.want)
		}
	}
}

func TestReaderReadName(t *testing.T) {
	r := NewReader([]byte{0x03, 'f', 'o', 'o'})
	name, err := r.ReadName()
	if err != nil {
		t.Fatalf("ReadName: %v", err)
	}
	if name != "foo" {
		t.Errorf("ReadName = %q, want foo", name)
	}

	r = NewReader([]byte{0x02, 0xff, 0xfe})
	if _, err := r.ReadName(); !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("expected ErrInvalidUTF8, got %v", err)
	}

	r = NewReader([]byte{0x05, 'a'})
	if _, err := r.ReadName(); err == nil {
		t.Error("expected error for truncated name")
	}
}

func TestReaderReadU32LE(t *testing.T) {
	r := NewReader([]byte{0x00, 0x61, 0x73, 0x6d})
	v, err := r.ReadU32LE()
	if err != nil {
		t.Fatalf("ReadU32LE: %v", err)
	}
	if v != 0x6d736100 {
		t.Errorf("ReadU32LE = 0x%x, want 0x6d736100", v)
	}
	if _, err := NewReader([]byte{0x00, 0x61}).ReadU32LE(); err == nil {
		t.Error("expected error for truncated input")
	}
}

func TestParseError(t *testing.T) {
	r := NewReader([]byte{0x01})
	_, _ = r.ReadByte()
	err := r.WrapError("type", io.ErrUnexpectedEOF)

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatal("expected *ParseError")
	}
	if pe.Position != 1 || pe.Section != "type" {
		t.Errorf("ParseError = %+v", pe)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("ParseError should unwrap to cause")
	}
	if got := (&ParseError{Err: io.EOF, Position: 4}).Error(); got != "wasm: at position 4: EOF" {
		t.Errorf("Error() = %q", got)
	}
}

func TestWriterRoundTrip(t *testing.T) {
	w := NewWriter()
	w.Byte(0x60)
	w.WriteU32(624485)
	w.WriteU64(1 << 40)
	w.WriteS64(-123456)
	w.WriteName("ic0")
	w.WriteVec([]byte{0xaa, 0xbb})
	w.WriteU32LE(0x01)

	r := NewReader(w.Bytes())
	if b, _ := r.ReadByte(); b != 0x60 {
		t.Errorf("byte = 0x%02x", b)
	}
	if v, _ := r.ReadU32(); v != 624485 {
		t.Errorf("u32 = %d", v)
	}
	if v, _ := r.ReadU64(); v != 1<<40 {
		t.Errorf("u64 = %d", v)
	}
	if v, _ := r.ReadS64(); v != -123456 {
		t.Errorf("s64 = %d", v)
	}
	if v, _ := r.ReadName(); v != "ic0" {
		t.Errorf("name = %q", v)
	}
	if n, _ := r.ReadU32(); n != 2 {
		t.Errorf("vec len = %d", n)
	}
	if v, _ := r.ReadBytes(2); !bytes.Equal(v, []byte{0xaa, 0xbb}) {
		t.Errorf("vec = %x", v)
	}
	if v, _ := r.ReadU32LE(); v != 1 {
		t.Errorf("u32le = %d", v)
	}
	if !r.EOF() {
		t.Errorf("%d bytes left", r.Len())
	}
	if w.Len() != len(w.Bytes()) {
		t.Error("Len disagrees with Bytes")
	}
}

func TestAppendS64Boundaries(t *testing.T) {
	tests := []struct {
		v    int64
		want []byte
	}{
		{0, []byte{0x00}},
		{-1, []byte{0x7f}},
		{63, []byte{0x3f}},
		{64, []byte{0xc0, 0x00}},
		{-64, []byte{0x40}},
		{-65, []byte{0xbf, 0x7f}},
	}
	for _, tt := range tests {
		if got := AppendS64(nil, tt.v); !bytes.Equal(got, tt.want) {
			t.Errorf("AppendS64(%d) = %x, want %x", tt.v, got, tt.want)
		}
	}
}
