package dexfile

import (
	"fmt"
	"iter"
)

// Field is one encoded_field of a class.
type Field struct {
	Class       *ClassDef
	Index       uint32 // field_id index after delta accumulation
	Ref         FieldRef
	AccessFlags AccessFlags
	Offset      int // offset of the encoded_field entry

	// InitialValue is the static initializer from the class's static values
	// array; nil for instance fields and static fields beyond the array.
	InitialValue *Value
}

// Method is one encoded_method of a class.
type Method struct {
	Class       *ClassDef
	Index       uint32 // method_id index after delta accumulation
	Ref         MethodRef
	AccessFlags AccessFlags
	CodeOffset  int
	Offset      int
	Direct      bool
}

// IsStatic reports whether the field is static.
func (fd *Field) IsStatic() bool { return fd.AccessFlags.Has(AccStatic) }

// Annotations returns the annotations attached to the field.
func (fd *Field) Annotations() ([]Annotation, error) {
	d, err := fd.Class.directory()
	if err != nil {
		return nil, err
	}
	return fd.Class.f.AnnotationSet(d.fields[fd.Index])
}

// IsStatic reports whether the method is static.
func (m *Method) IsStatic() bool { return m.AccessFlags.Has(AccStatic) }

// ParamRegisters counts the registers holding incoming arguments, the
// receiver included.
func (m *Method) ParamRegisters() int {
	n := m.Ref.Proto.ParamRegisters()
	if !m.IsStatic() {
		n++
	}
	return n
}

// Annotations returns the method annotations.
func (m *Method) Annotations() ([]Annotation, error) {
	d, err := m.Class.directory()
	if err != nil {
		return nil, err
	}
	return m.Class.f.AnnotationSet(d.methods[m.Index])
}

// ParameterAnnotations returns one annotation set per declared parameter.
// Missing trailing entries are nil.
func (m *Method) ParameterAnnotations() ([][]Annotation, error) {
	d, err := m.Class.directory()
	if err != nil {
		return nil, err
	}
	off, ok := d.parameters[m.Index]
	if !ok || off == 0 {
		return nil, nil
	}
	return m.Class.f.annotationSetRefList(off)
}

// Code returns the method's code item, nil for abstract and native methods.
func (m *Method) Code() (*CodeItem, error) {
	if m.CodeOffset == 0 {
		return nil, nil
	}
	return m.Class.f.CodeAt(m.CodeOffset)
}

// FieldGroup iterates a field group in storage order. With skipDup set an
// entry equal to the one immediately before it is dropped; static values
// are consumed either way so later fields keep their initializers. An entry
// whose field_id does not resolve yields an error and iteration goes on
// with the next entry; decoding errors in the encoded stream end it.
func (c *ClassDef) FieldGroup(g Group, skipDup bool) iter.Seq2[*Field, error] {
	return func(yield func(*Field, error) bool) {
		if g.IsMethods() {
			yield(nil, fmt.Errorf("dexfile: %s is not a field group", g))
			return
		}
		if c.counts[g] == 0 {
			return
		}
		start, err := c.groupStart(g)
		if err != nil {
			yield(nil, err)
			return
		}
		c.markStarted(g, start)
		var sv *staticValues
		if g == StaticFields {
			if sv, err = c.newStaticValues(); err != nil {
				yield(nil, fmt.Errorf("dexfile: static values at 0x%x: %w", c.staticValuesOff, err))
				return
			}
		}
		r := c.f.buf.ReaderAt(start)
		var idx uint32
		var prev *FieldRef
		for i := 0; i < c.counts[g]; i++ {
			entry := r.Position()
			diff, err := r.ReadLargeUleb128()
			if err != nil {
				yield(nil, err)
				return
			}
			flags, err := r.ReadSmallUleb128()
			if err != nil {
				yield(nil, err)
				return
			}
			idx += uint32(diff)
			fd := &Field{Class: c, Index: idx, AccessFlags: AccessFlags(flags), Offset: entry}
			if sv != nil {
				if fd.InitialValue, err = sv.next(c.f); err != nil {
					yield(nil, err)
					return
				}
			}
			if fd.Ref, err = c.f.Field(int(idx)); err != nil {
				if !yield(nil, fmt.Errorf("dexfile: %s entry %d: %w", g, i, err)) {
					return
				}
				continue
			}
			dup := prev != nil && *prev == fd.Ref
			prev = &fd.Ref
			if dup && skipDup {
				continue
			}
			if !yield(fd, nil) {
				return
			}
		}
		c.markDone(g, r.Position())
	}
}

// MethodGroup iterates a method group in storage order; skipDup behaves as
// in FieldGroup.
func (c *ClassDef) MethodGroup(g Group, skipDup bool) iter.Seq2[*Method, error] {
	return func(yield func(*Method, error) bool) {
		if !g.IsMethods() {
			yield(nil, fmt.Errorf("dexfile: %s is not a method group", g))
			return
		}
		if c.counts[g] == 0 {
			return
		}
		start, err := c.groupStart(g)
		if err != nil {
			yield(nil, err)
			return
		}
		c.markStarted(g, start)
		r := c.f.buf.ReaderAt(start)
		var idx uint32
		var prev *Method
		for i := 0; i < c.counts[g]; i++ {
			entry := r.Position()
			diff, err := r.ReadLargeUleb128()
			if err != nil {
				yield(nil, err)
				return
			}
			flags, err := r.ReadSmallUleb128()
			if err != nil {
				yield(nil, err)
				return
			}
			codeOff, err := r.ReadSmallUleb128()
			if err != nil {
				yield(nil, err)
				return
			}
			idx += uint32(diff)
			m := &Method{
				Class:       c,
				Index:       idx,
				AccessFlags: AccessFlags(flags),
				CodeOffset:  codeOff,
				Offset:      entry,
				Direct:      g == DirectMethods,
			}
			if m.Ref, err = c.f.Method(int(idx)); err != nil {
				if !yield(nil, fmt.Errorf("dexfile: %s entry %d: %w", g, i, err)) {
					return
				}
				continue
			}
			dup := prev != nil && prev.Ref.String() == m.Ref.String()
			prev = m
			if dup && skipDup {
				continue
			}
			if !yield(m, nil) {
				return
			}
		}
		c.markDone(g, r.Position())
	}
}

// Fields collects a field group with duplicates skipped. Entries that fail
// to resolve are left out and the first such error is returned with the rest.
func (c *ClassDef) Fields(g Group) ([]*Field, error) {
	var out []*Field
	var first error
	for fd, err := range c.FieldGroup(g, true) {
		if err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		out = append(out, fd)
	}
	return out, first
}

// Methods collects a method group like Fields.
func (c *ClassDef) Methods(g Group) ([]*Method, error) {
	var out []*Method
	var first error
	for m, err := range c.MethodGroup(g, true) {
		if err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		out = append(out, m)
	}
	return out, first
}

// StaticFields returns the deduplicated static fields.
func (c *ClassDef) StaticFields() ([]*Field, error) { return c.Fields(StaticFields) }

// InstanceFields returns the deduplicated instance fields.
func (c *ClassDef) InstanceFields() ([]*Field, error) { return c.Fields(InstanceFields) }

// DirectMethods returns the deduplicated direct methods.
func (c *ClassDef) DirectMethods() ([]*Method, error) { return c.Methods(DirectMethods) }

// VirtualMethods returns the deduplicated virtual methods.
func (c *ClassDef) VirtualMethods() ([]*Method, error) { return c.Methods(VirtualMethods) }
