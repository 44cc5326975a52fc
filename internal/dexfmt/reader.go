package dexfmt

import "encoding/binary"

// Reader is a cursor over a Buffer for sequential decoding. A Reader is
// owned by exactly one decode operation; the underlying Buffer is shared.
type Reader struct {
	buf Buffer
	pos int
}

// NewReader creates a cursor at offset 0 of data.
func NewReader(data []byte) *Reader {
	return &Reader{buf: NewBuffer(data)}
}

// Position returns the current read offset.
func (r *Reader) Position() int { return r.pos }

// SetPosition seeks to an absolute offset.
func (r *Reader) SetPosition(pos int) { r.pos = pos }

// Remaining returns the bytes left before the end of the buffer.
func (r *Reader) Remaining() int {
	if r.pos >= r.buf.Len() {
		return 0
	}
	return r.buf.Len() - r.pos
}

// Buffer returns the underlying buffer.
func (r *Reader) Buffer() Buffer { return r.buf }

func (r *Reader) next() (byte, error) {
	b, err := r.buf.Uint8(r.pos)
	if err != nil {
		return 0, err
	}
	r.pos++
	return b, nil
}

func (r *Reader) ReadUint8() (uint8, error) { return r.next() }

func (r *Reader) ReadUint16() (uint16, error) {
	v, err := r.buf.Uint16(r.pos)
	if err != nil {
		return 0, err
	}
	r.pos += 2
	return v, nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	v, err := r.buf.Uint32(r.pos)
	if err != nil {
		return 0, err
	}
	r.pos += 4
	return v, nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadBytes returns n bytes without copying.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	s, err := r.buf.Slice(r.pos, n)
	if err != nil {
		return nil, err
	}
	r.pos += n
	return s, nil
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) error {
	if err := r.buf.check(r.pos, n); err != nil {
		return err
	}
	r.pos += n
	return nil
}

// Align advances to the next multiple of alignment.
func (r *Reader) Align(alignment int) {
	if rem := r.pos % alignment; rem != 0 {
		r.pos += alignment - rem
	}
}

const maxLebBytes = 5

// ReadSmallUleb128 reads an unsigned LEB128 that must fit in a
// non-negative int32.
func (r *Reader) ReadSmallUleb128() (int, error) {
	start := r.pos
	var result uint32
	for i := 0; i < maxLebBytes; i++ {
		b, err := r.next()
		if err != nil {
			return 0, err
		}
		if i == maxLebBytes-1 {
			if b&0x80 != 0 {
				return 0, &MalformedVarIntError{Offset: start, Msg: "continuation bit set on 5th byte of uleb128"}
			}
			if b&0x0f > 0x07 {
				return 0, &MalformedVarIntError{Offset: start, Msg: "uleb128 value out of range for a signed 32-bit integer"}
			}
		}
		result |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			break
		}
	}
	return int(result), nil
}

// ReadLargeUleb128 reads an unsigned LEB128 using the full 32-bit range and
// reinterprets the result as signed.
func (r *Reader) ReadLargeUleb128() (int32, error) {
	start := r.pos
	var result uint32
	for i := 0; i < maxLebBytes; i++ {
		b, err := r.next()
		if err != nil {
			return 0, err
		}
		if i == maxLebBytes-1 && b&0x80 != 0 {
			return 0, &MalformedVarIntError{Offset: start, Msg: "continuation bit set on 5th byte of uleb128"}
		}
		result |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			break
		}
	}
	return int32(result), nil
}

// ReadUleb128p1 reads a uleb128p1 value; the encoded 0 yields -1.
func (r *Reader) ReadUleb128p1() (int, error) {
	v, err := r.ReadLargeUleb128()
	if err != nil {
		return 0, err
	}
	return int(int64(uint32(v)) - 1), nil
}

// ReadSleb128 reads a signed LEB128 of at most five bytes.
func (r *Reader) ReadSleb128() (int32, error) {
	start := r.pos
	var result int32
	var shift uint
	for i := 0; i < maxLebBytes; i++ {
		b, err := r.next()
		if err != nil {
			return 0, err
		}
		if i == maxLebBytes-1 && b&0x80 != 0 {
			return 0, &MalformedVarIntError{Offset: start, Msg: "continuation bit set on 5th byte of sleb128"}
		}
		result |= int32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 32 && b&0x40 != 0 {
				result |= -1 << shift
			}
			break
		}
	}
	return result, nil
}

// SkipUleb128 advances past one LEB128 value without decoding it.
func (r *Reader) SkipUleb128() error {
	start := r.pos
	for i := 0; i < maxLebBytes; i++ {
		b, err := r.next()
		if err != nil {
			return err
		}
		if b&0x80 == 0 {
			return nil
		}
	}
	return &MalformedVarIntError{Offset: start, Msg: "continuation bit set on 5th byte of uleb128"}
}

func (r *Reader) sized(n, max int) ([]byte, error) {
	if n < 1 || n > max {
		return nil, &MalformedVarIntError{Offset: r.pos, Msg: "invalid sized value width"}
	}
	return r.ReadBytes(n)
}

// ReadSizedInt reads n (1..4) bytes as a sign-extended int32.
func (r *Reader) ReadSizedInt(n int) (int32, error) {
	if n > 4 {
		return 0, &MalformedVarIntError{Offset: r.pos, Msg: "invalid sized value width"}
	}
	v, err := r.ReadSizedLong(n)
	return int32(v), err
}

// ReadSizedSmallUint reads n (1..4) bytes zero-extended; the result must
// fit in a non-negative int32.
func (r *Reader) ReadSizedSmallUint(n int) (int, error) {
	p, err := r.sized(n, 4)
	if err != nil {
		return 0, err
	}
	var v uint32
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint32(p[i])
	}
	if v > 0x7fffffff {
		return 0, &MalformedVarIntError{Offset: r.pos - n, Msg: "encoded index out of range"}
	}
	return int(v), nil
}

// ReadSizedLong reads n (1..8) bytes as a sign-extended int64.
func (r *Reader) ReadSizedLong(n int) (int64, error) {
	p, err := r.sized(n, 8)
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	copy(buf[:], p)
	if p[n-1]&0x80 != 0 {
		for i := n; i < 8; i++ {
			buf[i] = 0xff
		}
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

// ReadSizedRightExtendedInt reads n (1..4) bytes into the high end of a
// 32-bit value, zero-filling the low bytes.
func (r *Reader) ReadSizedRightExtendedInt(n int) (uint32, error) {
	p, err := r.sized(n, 4)
	if err != nil {
		return 0, err
	}
	var buf [4]byte
	copy(buf[4-n:], p)
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// ReadSizedRightExtendedLong reads n (1..8) bytes into the high end of a
// 64-bit value, zero-filling the low bytes.
func (r *Reader) ReadSizedRightExtendedLong(n int) (uint64, error) {
	p, err := r.sized(n, 8)
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	copy(buf[8-n:], p)
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// ReadString reads a uleb128 utf16 length followed by MUTF-8 data.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadSmallUleb128()
	if err != nil {
		return "", err
	}
	s, used, err := decodeMUTF8(r.buf, r.pos, n)
	if err != nil {
		return "", err
	}
	r.pos += used
	return s, nil
}
