package dexfmt

import (
	"errors"
	"testing"
)

func encodeUleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func encodeSleb(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func TestSmallUleb128_RoundTrip(t *testing.T) {
	tests := []uint32{0, 1, 0x7f, 0x80, 0x3fff, 0x4000, 0x1fffff, 0x200000, 0x0fffffff, 0x10000000, 0x7fffffff}
	for _, v := range tests {
		enc := encodeUleb(v)
		r := NewReader(enc)
		got, err := r.ReadSmallUleb128()
		if err != nil {
			t.Errorf("ReadSmallUleb128(%x): %v", enc, err)
			continue
		}
		if uint32(got) != v {
			t.Errorf("ReadSmallUleb128(%x) = %d, want %d", enc, got, v)
		}
		if r.Position() != len(enc) {
			t.Errorf("ReadSmallUleb128(%x) consumed %d bytes, want %d", enc, r.Position(), len(enc))
		}
	}
}

func TestLargeUleb128_RoundTrip(t *testing.T) {
	tests := []uint32{0, 0x7fffffff, 0x80000000, 0xfffffffe, 0xffffffff}
	for _, v := range tests {
		r := NewReader(encodeUleb(v))
		got, err := r.ReadLargeUleb128()
		if err != nil {
			t.Errorf("ReadLargeUleb128(%d): %v", v, err)
			continue
		}
		if got != int32(v) {
			t.Errorf("ReadLargeUleb128(%d) = %d, want %d", v, got, int32(v))
		}
	}
}

func TestSmallUleb128_RejectsSignBit(t *testing.T) {
	r := NewReader(encodeUleb(0x80000000))
	_, err := r.ReadSmallUleb128()
	var me *MalformedVarIntError
	if !errors.As(err, &me) {
		t.Fatalf("ReadSmallUleb128(0x80000000) err = %v, want MalformedVarIntError", err)
	}
}

func TestUleb128_ContinuationOnFifthByte(t *testing.T) {
	data := []byte{0x00, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
	for name, read := range map[string]func(*Reader) error{
		"small": func(r *Reader) error { _, err := r.ReadSmallUleb128(); return err },
		"large": func(r *Reader) error { _, err := r.ReadLargeUleb128(); return err },
		"sleb":  func(r *Reader) error { _, err := r.ReadSleb128(); return err },
		"skip":  func(r *Reader) error { return r.SkipUleb128() },
	} {
		r := NewReader(data)
		r.SetPosition(1)
		err := read(r)
		var me *MalformedVarIntError
		if !errors.As(err, &me) {
			t.Errorf("%s: err = %v, want MalformedVarIntError", name, err)
			continue
		}
		if me.Offset != 1 {
			t.Errorf("%s: offset = %d, want 1", name, me.Offset)
		}
	}
}

func TestSleb128_RoundTrip(t *testing.T) {
	tests := []int32{0, 1, -1, 63, 64, -64, -65, 8191, -8192, 1 << 20, -(1 << 20), 0x7fffffff, -0x80000000}
	for _, v := range tests {
		r := NewReader(encodeSleb(v))
		got, err := r.ReadSleb128()
		if err != nil {
			t.Errorf("ReadSleb128(%d): %v", v, err)
			continue
		}
		if got != v {
			t.Errorf("ReadSleb128(%d) = %d, want %d", v, got, v)
		}
	}
}

func TestUleb128p1(t *testing.T) {
	tests := []struct {
		in   []byte
		want int
	}{
		{[]byte{0x00}, -1},
		{[]byte{0x01}, 0},
		{[]byte{0x80, 0x01}, 127},
	}
	for _, tt := range tests {
		got, err := NewReader(tt.in).ReadUleb128p1()
		if err != nil {
			t.Errorf("ReadUleb128p1(%x): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ReadUleb128p1(%x) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestUleb128_EOF(t *testing.T) {
	_, err := NewReader([]byte{0x80}).ReadSmallUleb128()
	if !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected out of range, got %v", err)
	}
}

func TestBuffer_ReadPastEnd(t *testing.T) {
	b := NewBuffer(make([]byte, 16))
	_, err := b.Uint32(b.Len() - 2)
	var oe *OutOfRangeError
	if !errors.As(err, &oe) {
		t.Fatalf("Uint32(len-2) err = %v, want OutOfRangeError", err)
	}
	if oe.Offset != 14 || oe.Size != 4 || oe.Len != 16 {
		t.Errorf("OutOfRangeError = %+v", oe)
	}
	if _, err := b.Fixed(b.Len()-2, 4, true); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Fixed(len-2, 4) err = %v, want ErrOutOfRange", err)
	}
	if _, err := b.Uint16(b.Len() - 2); err != nil {
		t.Errorf("Uint16(len-2): %v", err)
	}
	if _, err := b.Uint8(-1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Uint8(-1) err = %v, want ErrOutOfRange", err)
	}
}

func TestBuffer_Fixed(t *testing.T) {
	b := NewBuffer([]byte{0xff, 0xfe, 0x01, 0x80, 0x00, 0x00, 0x00, 0x80})
	tests := []struct {
		off, width int
		signed     bool
		want       int64
	}{
		{0, 1, false, 0xff},
		{0, 1, true, -1},
		{0, 2, true, -257},
		{0, 2, false, 0xfeff},
		{2, 2, false, 0x8001},
		{4, 4, true, -0x80000000},
		{0, 8, true, -0x7fffffff7ffe0101},
	}
	for _, tt := range tests {
		got, err := b.Fixed(tt.off, tt.width, tt.signed)
		if err != nil {
			t.Errorf("Fixed(%d, %d, %v): %v", tt.off, tt.width, tt.signed, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Fixed(%d, %d, %v) = %#x, want %#x", tt.off, tt.width, tt.signed, got, tt.want)
		}
	}
}

func TestSizedValues(t *testing.T) {
	r := NewReader([]byte{0xff, 0x80})
	if v, err := r.ReadSizedInt(2); err != nil || v != -0x7f01 {
		t.Errorf("ReadSizedInt(2) = %d, %v, want -0x7f01", v, err)
	}
	r = NewReader([]byte{0x80, 0x3f})
	if v, err := r.ReadSizedRightExtendedInt(2); err != nil || v != 0x3f800000 {
		t.Errorf("ReadSizedRightExtendedInt(2) = %#x, %v, want 0x3f800000", v, err)
	}
	r = NewReader([]byte{0xf0, 0x3f})
	if v, err := r.ReadSizedRightExtendedLong(2); err != nil || v != 0x3ff0000000000000 {
		t.Errorf("ReadSizedRightExtendedLong(2) = %#x, %v", v, err)
	}
	r = NewReader([]byte{0x01, 0x00, 0x00, 0x80})
	if _, err := r.ReadSizedSmallUint(4); err == nil {
		t.Error("ReadSizedSmallUint with sign bit: expected error")
	}
	r = NewReader([]byte{0x34, 0x12})
	if v, err := r.ReadSizedSmallUint(2); err != nil || v != 0x1234 {
		t.Errorf("ReadSizedSmallUint(2) = %#x, %v", v, err)
	}
}

func TestMUTF8(t *testing.T) {
	tests := []struct {
		name  string
		in    []byte
		units int
		want  []uint16
	}{
		{"ascii", []byte("abc"), 3, []uint16{'a', 'b', 'c'}},
		{"nul", []byte{0xc0, 0x80}, 1, []uint16{0}},
		{"two-byte", []byte{0xc3, 0xa9}, 1, []uint16{0xe9}},
		{"three-byte", []byte{0xe4, 0xb8, 0xad}, 1, []uint16{0x4e2d}},
		{"pair", []byte{0xed, 0xa0, 0xbd, 0xed, 0xb8, 0x80}, 2, []uint16{0xd83d, 0xde00}},
		{"lone-high", []byte{0xed, 0xa0, 0x80, 'x'}, 2, []uint16{0xd800, 'x'}},
	}
	for _, tt := range tests {
		s, err := NewBuffer(tt.in).String(0, tt.units)
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		got := UTF16Units(s)
		if len(got) != len(tt.want) {
			t.Errorf("%s: units = %x, want %x", tt.name, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s: units = %x, want %x", tt.name, got, tt.want)
				break
			}
		}
	}
	if s, _ := NewBuffer([]byte{0xed, 0xa0, 0xbd, 0xed, 0xb8, 0x80}).String(0, 2); s != "\U0001f600" {
		t.Errorf("surrogate pair decoded to %q", s)
	}
}

func TestReadString(t *testing.T) {
	r := NewReader([]byte{0x02, 'h', 'i', 0x00, 0xff})
	s, err := r.ReadString()
	if err != nil || s != "hi" {
		t.Fatalf("ReadString = %q, %v", s, err)
	}
	if r.Position() != 3 {
		t.Errorf("position = %d, want 3", r.Position())
	}
}
