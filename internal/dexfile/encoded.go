package dexfile

import (
	"fmt"
	"math"

	"undex/internal/dexfmt"
)

// ValueType is the type code of an encoded_value.
type ValueType uint8

const (
	ValueByte         ValueType = 0x00
	ValueShort        ValueType = 0x02
	ValueChar         ValueType = 0x03
	ValueInt          ValueType = 0x04
	ValueLong         ValueType = 0x06
	ValueFloat        ValueType = 0x10
	ValueDouble       ValueType = 0x11
	ValueMethodType   ValueType = 0x15
	ValueMethodHandle ValueType = 0x16
	ValueString       ValueType = 0x17
	ValueTypeRef      ValueType = 0x18
	ValueField        ValueType = 0x19
	ValueMethod       ValueType = 0x1a
	ValueEnum         ValueType = 0x1b
	ValueArray        ValueType = 0x1c
	ValueAnnotation   ValueType = 0x1d
	ValueNull         ValueType = 0x1e
	ValueBoolean      ValueType = 0x1f
)

// Value is a decoded encoded_value. Which payload field is meaningful
// depends on Type.
type Value struct {
	Type ValueType

	// Int holds byte, short, char, int, long and boolean (0 or 1) values.
	Int int64
	// Bits holds the raw IEEE bits of float (low 32 bits) and double values.
	Bits uint64
	// Str holds string values and type descriptors.
	Str string

	Field      *FieldRef // field and enum values
	Method     *MethodRef
	Proto      *Proto
	Handle     *MethodHandle
	Array      []Value
	Annotation *EncodedAnnotation
}

// Float32 returns the value of a float.
func (v Value) Float32() float32 { return math.Float32frombits(uint32(v.Bits)) }

// Float64 returns the value of a double.
func (v Value) Float64() float64 { return math.Float64frombits(v.Bits) }

// IsDefault reports whether v is the zero value of its type, the value a
// field holds when no initializer runs.
func (v Value) IsDefault() bool {
	switch v.Type {
	case ValueByte, ValueShort, ValueChar, ValueInt, ValueLong, ValueBoolean:
		return v.Int == 0
	case ValueFloat:
		return v.Float32() == 0
	case ValueDouble:
		return v.Float64() == 0
	case ValueNull:
		return true
	}
	return false
}

// EncodedAnnotation is an encoded_annotation: a type plus named elements.
type EncodedAnnotation struct {
	Type     string
	Elements []AnnotationElement
}

// AnnotationElement is one name = value pair of an annotation.
type AnnotationElement struct {
	Name  string
	Value Value
}

// ReadValue decodes one encoded_value at the reader's position.
func (f *File) ReadValue(r *dexfmt.Reader) (Value, error) {
	start := r.Position()
	tag, err := r.ReadUint8()
	if err != nil {
		return Value{}, err
	}
	vt := ValueType(tag & 0x1f)
	arg := int(tag >> 5)
	v := Value{Type: vt}
	bad := func() (Value, error) {
		return Value{}, dexfmt.Structuralf(start, "invalid value_arg %d for encoded value type 0x%02x", arg, uint8(vt))
	}
	switch vt {
	case ValueByte:
		if arg != 0 {
			return bad()
		}
		n, err := r.ReadSizedInt(1)
		v.Int = int64(int8(n))
		return v, err
	case ValueShort:
		if arg > 1 {
			return bad()
		}
		n, err := r.ReadSizedInt(arg + 1)
		v.Int = int64(int16(n))
		return v, err
	case ValueChar:
		if arg > 1 {
			return bad()
		}
		n, err := r.ReadSizedSmallUint(arg + 1)
		v.Int = int64(uint16(n))
		return v, err
	case ValueInt:
		if arg > 3 {
			return bad()
		}
		n, err := r.ReadSizedInt(arg + 1)
		v.Int = int64(n)
		return v, err
	case ValueLong:
		n, err := r.ReadSizedLong(arg + 1)
		v.Int = n
		return v, err
	case ValueFloat:
		if arg > 3 {
			return bad()
		}
		n, err := r.ReadSizedRightExtendedInt(arg + 1)
		v.Bits = uint64(n)
		return v, err
	case ValueDouble:
		n, err := r.ReadSizedRightExtendedLong(arg + 1)
		v.Bits = n
		return v, err
	case ValueMethodType, ValueMethodHandle, ValueString, ValueTypeRef, ValueField, ValueMethod, ValueEnum:
		if arg > 3 {
			return bad()
		}
		idx, err := r.ReadSizedSmallUint(arg + 1)
		if err != nil {
			return Value{}, err
		}
		return f.resolveIndexedValue(v, idx)
	case ValueArray:
		if arg != 0 {
			return bad()
		}
		arr, err := f.readEncodedArray(r)
		v.Array = arr
		return v, err
	case ValueAnnotation:
		if arg != 0 {
			return bad()
		}
		a, err := f.readEncodedAnnotation(r)
		v.Annotation = a
		return v, err
	case ValueNull:
		if arg != 0 {
			return bad()
		}
		return v, nil
	case ValueBoolean:
		if arg > 1 {
			return bad()
		}
		v.Int = int64(arg)
		return v, nil
	}
	return Value{}, dexfmt.Structuralf(start, "invalid encoded value type 0x%02x", uint8(vt))
}

func (f *File) resolveIndexedValue(v Value, idx int) (Value, error) {
	var err error
	switch v.Type {
	case ValueMethodType:
		var p Proto
		p, err = f.Proto(idx)
		v.Proto = &p
	case ValueMethodHandle:
		var h MethodHandle
		h, err = f.MethodHandle(idx)
		v.Handle = &h
	case ValueString:
		v.Str, err = f.String(idx)
	case ValueTypeRef:
		v.Str, err = f.Type(idx)
	case ValueField, ValueEnum:
		var fr FieldRef
		fr, err = f.Field(idx)
		v.Field = &fr
	case ValueMethod:
		var mr MethodRef
		mr, err = f.Method(idx)
		v.Method = &mr
	}
	if err != nil {
		return Value{}, fmt.Errorf("dexfile: encoded value: %w", err)
	}
	return v, nil
}

func (f *File) readEncodedArray(r *dexfmt.Reader) ([]Value, error) {
	n, err := r.ReadSmallUleb128()
	if err != nil {
		return nil, err
	}
	out := make([]Value, 0, min(n, 1024))
	for i := 0; i < n; i++ {
		v, err := f.ReadValue(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *File) readEncodedAnnotation(r *dexfmt.Reader) (*EncodedAnnotation, error) {
	typeIdx, err := r.ReadSmallUleb128()
	if err != nil {
		return nil, err
	}
	n, err := r.ReadSmallUleb128()
	if err != nil {
		return nil, err
	}
	a := &EncodedAnnotation{}
	if a.Type, err = f.Type(typeIdx); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		nameIdx, err := r.ReadSmallUleb128()
		if err != nil {
			return nil, err
		}
		name, err := f.String(nameIdx)
		if err != nil {
			return nil, err
		}
		v, err := f.ReadValue(r)
		if err != nil {
			return nil, err
		}
		a.Elements = append(a.Elements, AnnotationElement{Name: name, Value: v})
	}
	return a, nil
}

// EncodedArray decodes the encoded_array_item at off.
func (f *File) EncodedArray(off int) ([]Value, error) {
	if off == 0 {
		return nil, nil
	}
	return f.readEncodedArray(f.buf.ReaderAt(off))
}
