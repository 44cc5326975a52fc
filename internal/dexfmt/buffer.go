// Package dexfmt provides the primitive readers, error taxonomy and
// diagnostics shared by the dex container packages.
package dexfmt

import "encoding/binary"

// Buffer is an immutable view over container bytes. Every read takes an
// explicit offset, so a Buffer can be shared freely between goroutines.
type Buffer struct {
	data []byte
}

// NewBuffer wraps data. The caller must not modify data afterwards.
func NewBuffer(data []byte) Buffer {
	return Buffer{data: data}
}

// Len returns the buffer length in bytes.
func (b Buffer) Len() int { return len(b.data) }

// Bytes returns the whole backing slice. Callers must treat it as read-only.
func (b Buffer) Bytes() []byte { return b.data }

func (b Buffer) check(off, n int) error {
	if off < 0 || n < 0 || off > len(b.data)-n {
		return &OutOfRangeError{Offset: off, Size: n, Len: len(b.data)}
	}
	return nil
}

// Slice returns n bytes at off without copying.
func (b Buffer) Slice(off, n int) ([]byte, error) {
	if err := b.check(off, n); err != nil {
		return nil, err
	}
	return b.data[off : off+n : off+n], nil
}

// Sub returns a buffer over n bytes at off.
func (b Buffer) Sub(off, n int) (Buffer, error) {
	s, err := b.Slice(off, n)
	if err != nil {
		return Buffer{}, err
	}
	return Buffer{data: s}, nil
}

func (b Buffer) Uint8(off int) (uint8, error) {
	if err := b.check(off, 1); err != nil {
		return 0, err
	}
	return b.data[off], nil
}

func (b Buffer) Int8(off int) (int8, error) {
	v, err := b.Uint8(off)
	return int8(v), err
}

func (b Buffer) Uint16(off int) (uint16, error) {
	if err := b.check(off, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b.data[off:]), nil
}

func (b Buffer) Int16(off int) (int16, error) {
	v, err := b.Uint16(off)
	return int16(v), err
}

func (b Buffer) Uint32(off int) (uint32, error) {
	if err := b.check(off, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b.data[off:]), nil
}

func (b Buffer) Int32(off int) (int32, error) {
	v, err := b.Uint32(off)
	return int32(v), err
}

func (b Buffer) Uint64(off int) (uint64, error) {
	if err := b.check(off, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b.data[off:]), nil
}

// Fixed reads a little-endian integer of width 1, 2, 4 or 8 bytes,
// sign-extending when signed is set.
func (b Buffer) Fixed(off, width int, signed bool) (int64, error) {
	switch width {
	case 1:
		v, err := b.Uint8(off)
		if signed {
			return int64(int8(v)), err
		}
		return int64(v), err
	case 2:
		v, err := b.Uint16(off)
		if signed {
			return int64(int16(v)), err
		}
		return int64(v), err
	case 4:
		v, err := b.Uint32(off)
		if signed {
			return int64(int32(v)), err
		}
		return int64(v), err
	case 8:
		v, err := b.Uint64(off)
		return int64(v), err
	}
	return 0, &MalformedVarIntError{Offset: off, Msg: "unsupported fixed width"}
}

// U32 reads a uint32 that must fit in an int offset or count.
func (b Buffer) U32(off int) (int, error) {
	v, err := b.Uint32(off)
	if err != nil {
		return 0, err
	}
	if v > 0x7fffffff {
		return 0, &MalformedVarIntError{Offset: off, Msg: "offset or count exceeds 2^31-1"}
	}
	return int(v), nil
}

// ReaderAt returns a cursor positioned at off.
func (b Buffer) ReaderAt(off int) *Reader {
	return &Reader{buf: b, pos: off}
}

// Uleb128 decodes a small unsigned LEB128 at off and returns the value and
// its encoded length.
func (b Buffer) Uleb128(off int) (uint32, int, error) {
	r := b.ReaderAt(off)
	v, err := r.ReadSmallUleb128()
	return uint32(v), r.pos - off, err
}

// Sleb128 decodes a signed LEB128 at off and returns the value and its
// encoded length.
func (b Buffer) Sleb128(off int) (int32, int, error) {
	r := b.ReaderAt(off)
	v, err := r.ReadSleb128()
	return v, r.pos - off, err
}
