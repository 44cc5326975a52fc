package dextest

import (
	"encoding/binary"
	"math"
)

// Value encodes one encoded_value against the builder's pools.
type Value func(b *Builder) []byte

// Value type codes.
const (
	vByte         = 0x00
	vShort        = 0x02
	vChar         = 0x03
	vInt          = 0x04
	vLong         = 0x06
	vFloat        = 0x10
	vDouble       = 0x11
	vMethodType   = 0x15
	vMethodHandle = 0x16
	vString       = 0x17
	vType         = 0x18
	vField        = 0x19
	vMethod       = 0x1a
	vEnum         = 0x1b
	vArray        = 0x1c
	vAnnotation   = 0x1d
	vNull         = 0x1e
	vBoolean      = 0x1f
)

func signedBytes(v int64) []byte {
	var full [8]byte
	binary.LittleEndian.PutUint64(full[:], uint64(v))
	n := 8
	for n > 1 {
		top := full[n-1]
		next := full[n-2]
		if (top == 0 && next&0x80 == 0) || (top == 0xff && next&0x80 != 0) {
			n--
			continue
		}
		break
	}
	return full[:n]
}

func unsignedBytes(v uint64) []byte {
	var full [8]byte
	binary.LittleEndian.PutUint64(full[:], v)
	n := 8
	for n > 1 && full[n-1] == 0 {
		n--
	}
	return full[:n]
}

// rightBytes keeps the high-order bytes of a width-byte value, dropping
// trailing zero bytes from the low end.
func rightBytes(v uint64, width int) []byte {
	var full [8]byte
	binary.LittleEndian.PutUint64(full[:], v)
	p := full[:width]
	for len(p) > 1 && p[0] == 0 {
		p = p[1:]
	}
	return p
}

func sized(typ byte, p []byte) []byte {
	return append([]byte{typ | byte(len(p)-1)<<5}, p...)
}

func Byte(v int8) Value { return func(*Builder) []byte { return []byte{vByte, byte(v)} } }

func Short(v int16) Value {
	return func(*Builder) []byte { return sized(vShort, signedBytes(int64(v))) }
}

func Char(v uint16) Value {
	return func(*Builder) []byte { return sized(vChar, unsignedBytes(uint64(v))) }
}

func Int(v int32) Value {
	return func(*Builder) []byte { return sized(vInt, signedBytes(int64(v))) }
}

func Long(v int64) Value {
	return func(*Builder) []byte { return sized(vLong, signedBytes(v)) }
}

func Float(v float32) Value {
	return func(*Builder) []byte {
		return sized(vFloat, rightBytes(uint64(math.Float32bits(v)), 4))
	}
}

func Double(v float64) Value {
	return func(*Builder) []byte { return sized(vDouble, rightBytes(math.Float64bits(v), 8)) }
}

func Str(s string) Value {
	return func(b *Builder) []byte { return sized(vString, unsignedBytes(uint64(b.String(s)))) }
}

func TypeRef(desc string) Value {
	return func(b *Builder) []byte { return sized(vType, unsignedBytes(uint64(b.Type(desc)))) }
}

func FieldRef(class, name, typ string) Value {
	return func(b *Builder) []byte {
		return sized(vField, unsignedBytes(uint64(b.Field(class, name, typ))))
	}
}

func Enum(class, name, typ string) Value {
	return func(b *Builder) []byte {
		return sized(vEnum, unsignedBytes(uint64(b.Field(class, name, typ))))
	}
}

func MethodRef(class, name, ret string, params ...string) Value {
	return func(b *Builder) []byte {
		return sized(vMethod, unsignedBytes(uint64(b.Method(class, name, ret, params...))))
	}
}

func MethodType(ret string, params ...string) Value {
	return func(b *Builder) []byte {
		return sized(vMethodType, unsignedBytes(uint64(b.Proto(ret, params...))))
	}
}

func Handle(idx uint32) Value {
	return func(*Builder) []byte { return sized(vMethodHandle, unsignedBytes(uint64(idx))) }
}

func Null() Value { return func(*Builder) []byte { return []byte{vNull} } }

func Bool(v bool) Value {
	return func(*Builder) []byte {
		if v {
			return []byte{vBoolean | 1<<5}
		}
		return []byte{vBoolean}
	}
}

func Array(vals ...Value) Value {
	return func(b *Builder) []byte {
		out := AppendUleb128([]byte{vArray}, uint32(len(vals)))
		for _, v := range vals {
			out = append(out, v(b)...)
		}
		return out
	}
}

// Sub encodes a nested annotation value.
func Sub(typ string, elems ...Element) Value {
	return func(b *Builder) []byte {
		return append([]byte{vAnnotation}, encodeAnnotation(b, typ, elems)...)
	}
}

func encodeAnnotation(b *Builder, typ string, elems []Element) []byte {
	out := AppendUleb128(nil, b.Type(typ))
	out = AppendUleb128(out, uint32(len(elems)))
	for _, e := range elems {
		out = AppendUleb128(out, b.String(e.Name))
		out = append(out, e.Value(b)...)
	}
	return out
}

// Raw encodes literal bytes, for malformed values.
func Raw(p ...byte) Value { return func(*Builder) []byte { return p } }
