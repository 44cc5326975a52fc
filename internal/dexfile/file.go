// Package dexfile parses dex and odex containers: the header and id
// sections, class definitions with lazily decoded members, code items,
// debug info, annotations and encoded values.
package dexfile

import (
	"bytes"
	"fmt"
	"iter"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"undex/internal/dexfmt"
)

// Section identifies an indexed id section.
type Section int

const (
	SectionString Section = iota
	SectionType
	SectionProto
	SectionField
	SectionMethod
	SectionClassDef
	SectionCallSite
	SectionMethodHandle
)

var sectionInfo = [...]struct {
	name     string
	itemSize int
}{
	SectionString:       {"string_id", 4},
	SectionType:         {"type_id", 4},
	SectionProto:        {"proto_id", 12},
	SectionField:        {"field_id", 8},
	SectionMethod:       {"method_id", 8},
	SectionClassDef:     {"class_def", 32},
	SectionCallSite:     {"call_site_id", 4},
	SectionMethodHandle: {"method_handle", 8},
}

func (s Section) String() string { return sectionInfo[s].name }

// ItemSize returns the fixed size of one entry in the section.
func (s Section) ItemSize() int { return sectionInfo[s].itemSize }

type sectionRef struct {
	count, offset int
}

const stringCacheSize = 8192

// File is an opened dex container. A File is safe for concurrent use
// once opened: its buffer is immutable and its caches are synchronized.
type File struct {
	buf      dexfmt.Buffer
	Header   Header
	Odex     *OdexHeader // nil for plain dex
	Maps     []MapItem
	sections [SectionMethodHandle + 1]sectionRef

	strings *lru.Cache[int, string]

	indexOnce  sync.Once
	classIndex map[string]int
}

// Open parses data as a dex or odex container. With validateMagic unset the
// magic, version and endian checks are skipped.
func Open(data []byte, validateMagic bool) (*File, error) {
	f := &File{}
	b := dexfmt.NewBuffer(data)
	if bytes.HasPrefix(data, odexMagicPrefix) {
		oh, err := parseOdexHeader(b)
		if err != nil {
			return nil, err
		}
		inner, err := b.Sub(oh.DexOffset, oh.DexLength)
		if err != nil {
			return nil, dexfmt.FormatErrorf("odex dex region: %v", err)
		}
		f.Odex = oh
		b = inner
	}
	h, err := parseHeader(b, validateMagic)
	if err != nil {
		return nil, err
	}
	f.buf = b
	f.Header = h
	f.sections[SectionString] = sectionRef{h.StringIDsSize, h.StringIDsOff}
	f.sections[SectionType] = sectionRef{h.TypeIDsSize, h.TypeIDsOff}
	f.sections[SectionProto] = sectionRef{h.ProtoIDsSize, h.ProtoIDsOff}
	f.sections[SectionField] = sectionRef{h.FieldIDsSize, h.FieldIDsOff}
	f.sections[SectionMethod] = sectionRef{h.MethodIDsSize, h.MethodIDsOff}
	f.sections[SectionClassDef] = sectionRef{h.ClassDefsSize, h.ClassDefsOff}

	if h.MapOff != 0 {
		maps, err := parseMapList(b, h.MapOff)
		if err != nil {
			return nil, fmt.Errorf("dexfile: map list: %w", err)
		}
		f.Maps = maps
		for _, m := range maps {
			switch m.Type {
			case MapCallSiteID:
				f.sections[SectionCallSite] = sectionRef{m.Size, m.Offset}
			case MapMethodHandle:
				f.sections[SectionMethodHandle] = sectionRef{m.Size, m.Offset}
			}
		}
	}

	for s := SectionString; s <= SectionMethodHandle; s++ {
		sr := f.sections[s]
		if sr.count == 0 {
			continue
		}
		if _, err := b.Slice(sr.offset, sr.count*s.ItemSize()); err != nil {
			return nil, dexfmt.FormatErrorf("%s section exceeds file: %v", s, err)
		}
	}

	f.strings, _ = lru.New[int, string](stringCacheSize)
	return f, nil
}

// Buffer returns the container bytes (the inner dex for odex files).
func (f *File) Buffer() dexfmt.Buffer { return f.buf }

// Version returns the dex format version, e.g. 35.
func (f *File) Version() int { return f.Header.Version }

// IsOdex reports whether the container was wrapped in an odex header.
func (f *File) IsOdex() bool { return f.Odex != nil }

// Count returns the number of items in a section.
func (f *File) Count(s Section) int { return f.sections[s].count }

// IndexToOffset translates a section index to the absolute offset of its item.
func (f *File) IndexToOffset(s Section, index int) (int, error) {
	sr := f.sections[s]
	if index < 0 || index >= sr.count {
		return 0, &dexfmt.IndexOutOfRangeError{Section: s.String(), Index: index, Count: sr.count, Offset: sr.offset}
	}
	return sr.offset + index*s.ItemSize(), nil
}

// String resolves a string index.
func (f *File) String(index int) (string, error) {
	if s, ok := f.strings.Get(index); ok {
		return s, nil
	}
	off, err := f.IndexToOffset(SectionString, index)
	if err != nil {
		return "", err
	}
	dataOff, err := f.buf.U32(off)
	if err != nil {
		return "", err
	}
	s, err := f.buf.ReaderAt(dataOff).ReadString()
	if err != nil {
		return "", fmt.Errorf("dexfile: string %d at 0x%x: %w", index, dataOff, err)
	}
	f.strings.Add(index, s)
	return s, nil
}

// OptionalString resolves index, mapping -1 and NO_INDEX to ("", false).
func (f *File) OptionalString(index int) (string, bool, error) {
	if index < 0 || uint32(index) == noIndex {
		return "", false, nil
	}
	s, err := f.String(index)
	return s, err == nil, err
}

// Type resolves a type index to its descriptor.
func (f *File) Type(index int) (string, error) {
	off, err := f.IndexToOffset(SectionType, index)
	if err != nil {
		return "", err
	}
	si, err := f.buf.U32(off)
	if err != nil {
		return "", err
	}
	return f.String(si)
}

// OptionalType resolves a type index, mapping -1 and NO_INDEX to ("", false).
func (f *File) OptionalType(index int) (string, bool, error) {
	if index < 0 || uint32(index) == noIndex {
		return "", false, nil
	}
	s, err := f.Type(index)
	return s, err == nil, err
}

// TypeList reads a type_list at off. Offset 0 is the empty list.
func (f *File) TypeList(off int) ([]string, error) {
	if off == 0 {
		return nil, nil
	}
	n, err := f.buf.U32(off)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ti, err := f.buf.Uint16(off + 4 + 2*i)
		if err != nil {
			return nil, err
		}
		t, err := f.Type(int(ti))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Proto resolves a proto index.
func (f *File) Proto(index int) (Proto, error) {
	off, err := f.IndexToOffset(SectionProto, index)
	if err != nil {
		return Proto{}, err
	}
	shortyIdx, err := f.buf.U32(off)
	if err != nil {
		return Proto{}, err
	}
	retIdx, err := f.buf.U32(off + 4)
	if err != nil {
		return Proto{}, err
	}
	paramsOff, err := f.buf.U32(off + 8)
	if err != nil {
		return Proto{}, err
	}
	var p Proto
	if p.Shorty, err = f.String(shortyIdx); err != nil {
		return Proto{}, err
	}
	if p.Return, err = f.Type(retIdx); err != nil {
		return Proto{}, err
	}
	if p.Params, err = f.TypeList(paramsOff); err != nil {
		return Proto{}, fmt.Errorf("dexfile: proto %d parameters: %w", index, err)
	}
	return p, nil
}

// Field resolves a field_id index.
func (f *File) Field(index int) (FieldRef, error) {
	off, err := f.IndexToOffset(SectionField, index)
	if err != nil {
		return FieldRef{}, err
	}
	classIdx, _ := f.buf.Uint16(off)
	typeIdx, _ := f.buf.Uint16(off + 2)
	nameIdx, _ := f.buf.U32(off + 4)
	var r FieldRef
	if r.Class, err = f.Type(int(classIdx)); err != nil {
		return FieldRef{}, err
	}
	if r.Type, err = f.Type(int(typeIdx)); err != nil {
		return FieldRef{}, err
	}
	if r.Name, err = f.String(nameIdx); err != nil {
		return FieldRef{}, err
	}
	return r, nil
}

// Method resolves a method_id index.
func (f *File) Method(index int) (MethodRef, error) {
	off, err := f.IndexToOffset(SectionMethod, index)
	if err != nil {
		return MethodRef{}, err
	}
	classIdx, _ := f.buf.Uint16(off)
	protoIdx, _ := f.buf.Uint16(off + 2)
	nameIdx, _ := f.buf.U32(off + 4)
	var r MethodRef
	if r.Class, err = f.Type(int(classIdx)); err != nil {
		return MethodRef{}, err
	}
	if r.Proto, err = f.Proto(int(protoIdx)); err != nil {
		return MethodRef{}, err
	}
	if r.Name, err = f.String(nameIdx); err != nil {
		return MethodRef{}, err
	}
	return r, nil
}

// MethodHandle resolves a method_handle_item index.
func (f *File) MethodHandle(index int) (MethodHandle, error) {
	off, err := f.IndexToOffset(SectionMethodHandle, index)
	if err != nil {
		return MethodHandle{}, err
	}
	kind, _ := f.buf.Uint16(off)
	member, _ := f.buf.Uint16(off + 4)
	h := MethodHandle{Kind: MethodHandleKind(kind)}
	if h.Kind.IsFieldAccess() {
		fr, err := f.Field(int(member))
		if err != nil {
			return MethodHandle{}, err
		}
		h.Field = &fr
	} else {
		mr, err := f.Method(int(member))
		if err != nil {
			return MethodHandle{}, err
		}
		h.Method = &mr
	}
	return h, nil
}

// CallSite resolves a call_site_id index. The call site's encoded array
// holds the bootstrap handle, the method name and the method type,
// followed by extra bootstrap arguments.
func (f *File) CallSite(index int) (CallSite, error) {
	off, err := f.IndexToOffset(SectionCallSite, index)
	if err != nil {
		return CallSite{}, err
	}
	arrOff, err := f.buf.U32(off)
	if err != nil {
		return CallSite{}, err
	}
	vals, err := f.readEncodedArray(f.buf.ReaderAt(arrOff))
	if err != nil {
		return CallSite{}, fmt.Errorf("dexfile: call site %d: %w", index, err)
	}
	if len(vals) < 3 || vals[0].Type != ValueMethodHandle || vals[1].Type != ValueString || vals[2].Type != ValueMethodType {
		return CallSite{}, dexfmt.Structuralf(arrOff, "call site %d: malformed bootstrap arguments", index)
	}
	return CallSite{
		Index:      index,
		Handle:     *vals[0].Handle,
		MethodName: vals[1].Str,
		MethodType: *vals[2].Proto,
		Extra:      vals[3:],
	}, nil
}

// Classes yields every class definition in declaration order.
func (f *File) Classes() iter.Seq2[*ClassDef, error] {
	return func(yield func(*ClassDef, error) bool) {
		for i := 0; i < f.Count(SectionClassDef); i++ {
			if !yield(f.Class(i)) {
				return
			}
		}
	}
}

// Class returns the class definition at index.
func (f *File) Class(index int) (*ClassDef, error) {
	off, err := f.IndexToOffset(SectionClassDef, index)
	if err != nil {
		return nil, err
	}
	c, err := f.ClassAt(off)
	if err != nil {
		return nil, err
	}
	c.Index = index
	return c, nil
}

// ClassByType finds a class definition by descriptor.
func (f *File) ClassByType(desc string) (*ClassDef, bool, error) {
	f.indexOnce.Do(func() {
		f.classIndex = make(map[string]int, f.Count(SectionClassDef))
		for i := 0; i < f.Count(SectionClassDef); i++ {
			off, _ := f.IndexToOffset(SectionClassDef, i)
			ti, err := f.buf.U32(off)
			if err != nil {
				continue
			}
			t, err := f.Type(ti)
			if err != nil {
				continue
			}
			if _, dup := f.classIndex[t]; !dup {
				f.classIndex[t] = i
			}
		}
	})
	i, ok := f.classIndex[desc]
	if !ok {
		return nil, false, nil
	}
	c, err := f.Class(i)
	return c, err == nil, err
}
