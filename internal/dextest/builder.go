// Package dextest assembles small dex files for tests.
//
// Pool indices are assigned in first-use order and never sorted, so an
// index returned by Builder.String, Type, Field or Method can be embedded
// in instruction words before Build runs.
package dextest

import (
	"encoding/binary"
	"fmt"
	"strings"

	"undex/internal/dexfmt"
)

// Builder collects pools and classes and lays them out as a dex file.
type Builder struct {
	Version int
	Classes []*Class

	strings   []string
	stringIdx map[string]uint32
	types     []uint32
	typeIdx   map[string]uint32
	protos    []protoID
	protoIdx  map[string]uint32
	fields    []memberID
	fieldIdx  map[string]uint32
	methods   []memberID
	methodIdx map[string]uint32
	handles   []handleID
	callSites []Value
}

type protoID struct {
	shorty, ret uint32
	params      []string
}

type memberID struct {
	class, typeOrProto, name uint32
}

type handleID struct {
	kind   uint16
	member uint32
}

// New returns an empty builder targeting dex 035.
func New() *Builder {
	return &Builder{
		Version:   35,
		stringIdx: map[string]uint32{},
		typeIdx:   map[string]uint32{},
		protoIdx:  map[string]uint32{},
		fieldIdx:  map[string]uint32{},
		methodIdx: map[string]uint32{},
	}
}

// String interns s and returns its string index.
func (b *Builder) String(s string) uint32 {
	if i, ok := b.stringIdx[s]; ok {
		return i
	}
	i := uint32(len(b.strings))
	b.strings = append(b.strings, s)
	b.stringIdx[s] = i
	return i
}

// Type interns a type descriptor.
func (b *Builder) Type(desc string) uint32 {
	if i, ok := b.typeIdx[desc]; ok {
		return i
	}
	si := b.String(desc)
	i := uint32(len(b.types))
	b.types = append(b.types, si)
	b.typeIdx[desc] = i
	return i
}

func shortyChar(desc string) byte {
	if desc[0] == '[' {
		return 'L'
	}
	return desc[0]
}

// Proto interns a prototype.
func (b *Builder) Proto(ret string, params ...string) uint32 {
	key := "(" + strings.Join(params, "") + ")" + ret
	if i, ok := b.protoIdx[key]; ok {
		return i
	}
	shorty := []byte{shortyChar(ret)}
	for _, p := range params {
		b.Type(p)
		shorty = append(shorty, shortyChar(p))
	}
	p := protoID{shorty: b.String(string(shorty)), ret: b.Type(ret), params: params}
	i := uint32(len(b.protos))
	b.protos = append(b.protos, p)
	b.protoIdx[key] = i
	return i
}

// Field interns a field reference.
func (b *Builder) Field(class, name, typ string) uint32 {
	key := class + "->" + name + ":" + typ
	if i, ok := b.fieldIdx[key]; ok {
		return i
	}
	id := memberID{class: b.Type(class), typeOrProto: b.Type(typ), name: b.String(name)}
	i := uint32(len(b.fields))
	b.fields = append(b.fields, id)
	b.fieldIdx[key] = i
	return i
}

// Method interns a method reference.
func (b *Builder) Method(class, name, ret string, params ...string) uint32 {
	key := class + "->" + name + "(" + strings.Join(params, "") + ")" + ret
	if i, ok := b.methodIdx[key]; ok {
		return i
	}
	id := memberID{class: b.Type(class), typeOrProto: b.Proto(ret, params...), name: b.String(name)}
	i := uint32(len(b.methods))
	b.methods = append(b.methods, id)
	b.methodIdx[key] = i
	return i
}

// MethodHandle adds a method_handle_item. member is a field or method index
// depending on kind.
func (b *Builder) MethodHandle(kind uint16, member uint32) uint32 {
	b.handles = append(b.handles, handleID{kind, member})
	return uint32(len(b.handles) - 1)
}

// CallSite adds a call site whose bootstrap arguments are handle, name,
// the method type and extra.
func (b *Builder) CallSite(handle uint32, name, ret string, params []string, extra ...Value) uint32 {
	vals := append([]Value{Handle(handle), Str(name), MethodType(ret, params...)}, extra...)
	b.callSites = append(b.callSites, Array(vals...))
	return uint32(len(b.callSites) - 1)
}

// AddClass appends c and returns it.
func (b *Builder) AddClass(c *Class) *Class {
	b.Classes = append(b.Classes, c)
	return c
}

// Class describes a class_def_item and its data.
type Class struct {
	Type        string
	Super       string
	Source      string
	Flags       uint32
	Interfaces  []string
	Annotations []Annotation

	StaticFields   []Field
	InstanceFields []Field
	DirectMethods  []Method
	VirtualMethods []Method
}

// Field is an encoded_field. Class defaults to the owning class.
type Field struct {
	Class       string
	Name        string
	Type        string
	Flags       uint32
	Value       Value
	Annotations []Annotation
}

// Method is an encoded_method. Class defaults to the owning class.
type Method struct {
	Class            string
	Name             string
	Return           string
	Params           []string
	Flags            uint32
	Code             *Code
	Annotations      []Annotation
	ParamAnnotations [][]Annotation
}

// Code is a code_item.
type Code struct {
	Registers int
	Ins       int
	Outs      int
	Insns     []uint16
	Tries     []Try
	Debug     *Debug
}

// Try is a try_item with an inline handler list. Identical handler lists
// share one encoded entry.
type Try struct {
	Start       int
	Count       int
	Handlers    []Handler
	CatchAll    int
	HasCatchAll bool
}

// Handler is a typed catch handler.
type Handler struct {
	Type string
	Addr int
}

// Debug is a debug_info_item. Empty parameter names encode as absent.
type Debug struct {
	LineStart  uint32
	ParamNames []string
	Ops        []DebugOp
}

// Annotation is an annotation_item.
type Annotation struct {
	Visibility byte
	Type       string
	Elements   []Element
}

// Element is an annotation element.
type Element struct {
	Name  string
	Value Value
}

func (c *Class) owner(s string) string {
	if s == "" {
		return c.Type
	}
	return s
}

func (c *Class) fieldIndex(b *Builder, f Field) uint32 {
	return b.Field(c.owner(f.Class), f.Name, f.Type)
}

func (c *Class) methodIndex(b *Builder, m Method) uint32 {
	return b.Method(c.owner(m.Class), m.Name, m.Return, m.Params...)
}

func (c *Class) hasData() bool {
	return len(c.StaticFields)+len(c.InstanceFields)+len(c.DirectMethods)+len(c.VirtualMethods) > 0
}

// writer accumulates the data section; off reports absolute offsets.
type writer struct {
	buf  []byte
	base int
}

func (w *writer) off() int { return w.base + len(w.buf) }

func (w *writer) align(n int) {
	for w.off()%n != 0 {
		w.buf = append(w.buf, 0)
	}
}

func (w *writer) u8(v byte)     { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16)  { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32)  { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) raw(p []byte)  { w.buf = append(w.buf, p...) }
func (w *writer) uleb(v uint32) { w.buf = AppendUleb128(w.buf, v) }
func (w *writer) sleb(v int32)  { w.buf = AppendSleb128(w.buf, v) }
func (w *writer) ulebp1(v int)  { w.uleb(uint32(v + 1)) }

// AppendUleb128 appends the unsigned LEB128 encoding of v.
func AppendUleb128(p []byte, v uint32) []byte {
	for v >= 0x80 {
		p = append(p, byte(v)|0x80)
		v >>= 7
	}
	return append(p, byte(v))
}

// AppendSleb128 appends the signed LEB128 encoding of v.
func AppendSleb128(p []byte, v int32) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(p, c)
		}
		p = append(p, c|0x80)
	}
}

// MUTF8 encodes s as modified UTF-8 without the terminator.
func MUTF8(s string) []byte {
	var out []byte
	for _, u := range dexfmt.UTF16Units(s) {
		switch {
		case u != 0 && u < 0x80:
			out = append(out, byte(u))
		case u < 0x800:
			out = append(out, 0xc0|byte(u>>6), 0x80|byte(u)&0x3f)
		default:
			out = append(out, 0xe0|byte(u>>12), 0x80|byte(u>>6)&0x3f, 0x80|byte(u)&0x3f)
		}
	}
	return out
}

type classLayout struct {
	interfaces, annotations, data, staticValues int
}

type layout struct {
	strings     []int
	protoParams []int
	classes     []classLayout
	callSites   []int
	mapOff      int
}

// encodeData lays out the data section at base. Running it also interns
// every reference the classes use.
func (b *Builder) encodeData(base int) ([]byte, *layout) {
	w := &writer{base: base}
	lay := &layout{}

	// Class payloads come first so the pools are final before the
	// pool-derived items are written.
	lay.classes = make([]classLayout, len(b.Classes))

	for ci, c := range b.Classes {
		cl := &lay.classes[ci]
		b.Type(c.Type)
		if c.Super != "" {
			b.Type(c.Super)
		}
		if c.Source != "" {
			b.String(c.Source)
		}
		if len(c.Interfaces) > 0 {
			w.align(4)
			cl.interfaces = w.off()
			w.u32(uint32(len(c.Interfaces)))
			for _, t := range c.Interfaces {
				w.u16(uint16(b.Type(t)))
			}
		}
		cl.staticValues = b.writeStaticValues(w, c)
		codeOffs := map[int]int{}
		all := append(append([]Method{}, c.DirectMethods...), c.VirtualMethods...)
		for mi, m := range all {
			if m.Code != nil {
				codeOffs[mi] = b.writeCode(w, c, m)
			}
		}
		cl.annotations = b.writeAnnotationsDirectory(w, c)
		if c.hasData() {
			cl.data = w.off()
			w.uleb(uint32(len(c.StaticFields)))
			w.uleb(uint32(len(c.InstanceFields)))
			w.uleb(uint32(len(c.DirectMethods)))
			w.uleb(uint32(len(c.VirtualMethods)))
			for _, group := range [][]Field{c.StaticFields, c.InstanceFields} {
				var prev uint32
				for _, f := range group {
					idx := c.fieldIndex(b, f)
					w.uleb(idx - prev)
					w.uleb(f.Flags)
					prev = idx
				}
			}
			mi := 0
			for _, group := range [][]Method{c.DirectMethods, c.VirtualMethods} {
				var prev uint32
				for _, m := range group {
					idx := c.methodIndex(b, m)
					w.uleb(idx - prev)
					w.uleb(m.Flags)
					w.uleb(uint32(codeOffs[mi]))
					prev = idx
					mi++
				}
			}
		}
	}

	lay.callSites = make([]int, len(b.callSites))
	for i, v := range b.callSites {
		lay.callSites[i] = w.off()
		w.raw(v(b)[1:]) // encoded_array without the value header
	}

	lay.protoParams = make([]int, len(b.protos))
	for i, p := range b.protos {
		if len(p.params) == 0 {
			continue
		}
		w.align(4)
		lay.protoParams[i] = w.off()
		w.u32(uint32(len(p.params)))
		for _, t := range p.params {
			w.u16(uint16(b.Type(t)))
		}
	}

	lay.strings = make([]int, len(b.strings))
	for i, s := range b.strings {
		lay.strings[i] = w.off()
		w.uleb(uint32(len(dexfmt.UTF16Units(s))))
		w.raw(MUTF8(s))
		w.u8(0)
	}

	w.align(4)
	lay.mapOff = w.off()
	return w.buf, lay
}

func defaultValue(desc string) Value {
	switch desc {
	case "Z":
		return Bool(false)
	case "B":
		return Byte(0)
	case "S":
		return Short(0)
	case "C":
		return Char(0)
	case "I":
		return Int(0)
	case "J":
		return Long(0)
	case "F":
		return Float(0)
	case "D":
		return Double(0)
	}
	return Null()
}

func (b *Builder) writeStaticValues(w *writer, c *Class) int {
	n := 0
	for i, f := range c.StaticFields {
		if f.Value != nil {
			n = i + 1
		}
	}
	if n == 0 {
		return 0
	}
	off := w.off()
	w.uleb(uint32(n))
	for _, f := range c.StaticFields[:n] {
		v := f.Value
		if v == nil {
			v = defaultValue(f.Type)
		}
		w.raw(v(b))
	}
	return off
}

func (b *Builder) writeCode(w *writer, c *Class, m Method) int {
	code := m.Code
	debugOff := 0
	if code.Debug != nil {
		debugOff = w.off()
		w.uleb(code.Debug.LineStart)
		w.uleb(uint32(len(code.Debug.ParamNames)))
		for _, n := range code.Debug.ParamNames {
			if n == "" {
				w.ulebp1(-1)
			} else {
				w.ulebp1(int(b.String(n)))
			}
		}
		for _, op := range code.Debug.Ops {
			w.raw(op(b))
		}
		w.u8(0)
	}

	// Handler pool, deduplicated by encoding.
	var pool []byte
	poolOff := map[string]int{}
	handlerOffs := make([]int, len(code.Tries))
	for i, t := range code.Tries {
		var enc []byte
		size := int32(len(t.Handlers))
		if t.HasCatchAll {
			size = -size
		}
		enc = AppendSleb128(enc, size)
		for _, h := range t.Handlers {
			enc = AppendUleb128(enc, b.Type(h.Type))
			enc = AppendUleb128(enc, uint32(h.Addr))
		}
		if t.HasCatchAll {
			enc = AppendUleb128(enc, uint32(t.CatchAll))
		}
		if o, ok := poolOff[string(enc)]; ok {
			handlerOffs[i] = o
			continue
		}
		if pool == nil {
			pool = AppendUleb128(nil, 0) // list count, patched below
		}
		poolOff[string(enc)] = len(pool)
		handlerOffs[i] = len(pool)
		pool = append(pool, enc...)
	}
	if pool != nil {
		head := AppendUleb128(nil, uint32(len(poolOff)))
		shift := len(head) - 1
		for i := range handlerOffs {
			handlerOffs[i] += shift
		}
		pool = append(head, pool[1:]...)
	}

	w.align(4)
	off := w.off()
	w.u16(uint16(code.Registers))
	w.u16(uint16(code.Ins))
	w.u16(uint16(code.Outs))
	w.u16(uint16(len(code.Tries)))
	w.u32(uint32(debugOff))
	w.u32(uint32(len(code.Insns)))
	for _, u := range code.Insns {
		w.u16(u)
	}
	if len(code.Tries) > 0 {
		if len(code.Insns)%2 == 1 {
			w.u16(0)
		}
		for i, t := range code.Tries {
			w.u32(uint32(t.Start))
			w.u16(uint16(t.Count))
			w.u16(uint16(handlerOffs[i]))
		}
		w.raw(pool)
	}
	return off
}

func (b *Builder) writeAnnotationSet(w *writer, set []Annotation) int {
	if len(set) == 0 {
		return 0
	}
	items := make([]int, len(set))
	for i, a := range set {
		items[i] = w.off()
		w.u8(a.Visibility)
		w.raw(encodeAnnotation(b, a.Type, a.Elements))
	}
	w.align(4)
	off := w.off()
	w.u32(uint32(len(items)))
	for _, o := range items {
		w.u32(uint32(o))
	}
	return off
}

func (b *Builder) writeAnnotationsDirectory(w *writer, c *Class) int {
	classSet := b.writeAnnotationSet(w, c.Annotations)
	type entry struct{ idx, off uint32 }
	var fields, methods, params []entry
	for _, group := range [][]Field{c.StaticFields, c.InstanceFields} {
		for _, f := range group {
			if o := b.writeAnnotationSet(w, f.Annotations); o != 0 {
				fields = append(fields, entry{c.fieldIndex(b, f), uint32(o)})
			}
		}
	}
	for _, group := range [][]Method{c.DirectMethods, c.VirtualMethods} {
		for _, m := range group {
			if o := b.writeAnnotationSet(w, m.Annotations); o != 0 {
				methods = append(methods, entry{c.methodIndex(b, m), uint32(o)})
			}
			if len(m.ParamAnnotations) == 0 {
				continue
			}
			sets := make([]int, len(m.ParamAnnotations))
			for i, s := range m.ParamAnnotations {
				sets[i] = b.writeAnnotationSet(w, s)
			}
			w.align(4)
			params = append(params, entry{c.methodIndex(b, m), uint32(w.off())})
			w.u32(uint32(len(sets)))
			for _, o := range sets {
				w.u32(uint32(o))
			}
		}
	}
	if classSet == 0 && len(fields)+len(methods)+len(params) == 0 {
		return 0
	}
	w.align(4)
	off := w.off()
	w.u32(uint32(classSet))
	w.u32(uint32(len(fields)))
	w.u32(uint32(len(methods)))
	w.u32(uint32(len(params)))
	for _, list := range [][]entry{fields, methods, params} {
		for _, e := range list {
			w.u32(e.idx)
			w.u32(e.off)
		}
	}
	return off
}

const headerSize = 0x70

// Build lays out the dex file.
func (b *Builder) Build() []byte {
	// First pass interns everything; the second uses final pool sizes.
	b.encodeData(0)

	off := headerSize
	stringIDs := off
	off += 4 * len(b.strings)
	typeIDs := off
	off += 4 * len(b.types)
	protoIDs := off
	off += 12 * len(b.protos)
	fieldIDs := off
	off += 8 * len(b.fields)
	methodIDs := off
	off += 8 * len(b.methods)
	classDefs := off
	off += 32 * len(b.Classes)
	callSiteIDs := off
	off += 4 * len(b.callSites)
	handleIDs := off
	off += 8 * len(b.handles)
	dataOff := off

	data, lay := b.encodeData(dataOff)
	mapOff := lay.mapOff

	type mapEntry struct {
		typ        uint16
		size, addr int
	}
	maps := []mapEntry{
		{0x0000, 1, 0},
		{0x0001, len(b.strings), stringIDs},
		{0x0002, len(b.types), typeIDs},
		{0x0003, len(b.protos), protoIDs},
		{0x0004, len(b.fields), fieldIDs},
		{0x0005, len(b.methods), methodIDs},
		{0x0006, len(b.Classes), classDefs},
		{0x0007, len(b.callSites), callSiteIDs},
		{0x0008, len(b.handles), handleIDs},
		{0x1000, 1, mapOff},
	}
	w := &writer{base: 0}
	w.buf = make([]byte, 0, dataOff+len(data)+4+12*len(maps))

	// header
	w.raw([]byte(fmt.Sprintf("dex\n%03d\x00", b.Version)))
	w.u32(0)                // checksum
	w.raw(make([]byte, 20)) // signature
	w.u32(0)                // file_size, patched below
	w.u32(headerSize)       // header_size
	w.u32(0x12345678)       // endian_tag
	w.u32(0)                // link_size
	w.u32(0)                // link_off
	w.u32(uint32(mapOff))   // map_off
	for _, s := range [][2]int{
		{len(b.strings), stringIDs},
		{len(b.types), typeIDs},
		{len(b.protos), protoIDs},
		{len(b.fields), fieldIDs},
		{len(b.methods), methodIDs},
		{len(b.Classes), classDefs},
	} {
		w.u32(uint32(s[0]))
		if s[0] == 0 {
			w.u32(0)
		} else {
			w.u32(uint32(s[1]))
		}
	}
	w.u32(0) // data_size, patched below
	w.u32(uint32(dataOff))

	for _, o := range lay.strings {
		w.u32(uint32(o))
	}
	for _, si := range b.types {
		w.u32(si)
	}
	for i, p := range b.protos {
		w.u32(p.shorty)
		w.u32(p.ret)
		w.u32(uint32(lay.protoParams[i]))
	}
	for _, id := range b.fields {
		w.u16(uint16(id.class))
		w.u16(uint16(id.typeOrProto))
		w.u32(id.name)
	}
	for _, id := range b.methods {
		w.u16(uint16(id.class))
		w.u16(uint16(id.typeOrProto))
		w.u32(id.name)
	}
	for i, c := range b.Classes {
		cl := lay.classes[i]
		w.u32(b.Type(c.Type))
		w.u32(c.Flags)
		if c.Super == "" {
			w.u32(0xffffffff)
		} else {
			w.u32(b.Type(c.Super))
		}
		w.u32(uint32(cl.interfaces))
		if c.Source == "" {
			w.u32(0xffffffff)
		} else {
			w.u32(b.String(c.Source))
		}
		w.u32(uint32(cl.annotations))
		w.u32(uint32(cl.data))
		w.u32(uint32(cl.staticValues))
	}
	for _, o := range lay.callSites {
		w.u32(uint32(o))
	}
	for _, h := range b.handles {
		w.u16(h.kind)
		w.u16(0)
		w.u16(uint16(h.member))
		w.u16(0)
	}
	w.raw(data)

	w.u32(uint32(len(maps)))
	for _, m := range maps {
		w.u16(m.typ)
		w.u16(0)
		w.u32(uint32(m.size))
		w.u32(uint32(m.addr))
	}

	out := w.buf
	binary.LittleEndian.PutUint32(out[32:], uint32(len(out)))
	binary.LittleEndian.PutUint32(out[104:], uint32(len(out)-dataOff))
	return out
}

// Odex wraps a dex image in an odex 036 header.
func Odex(dex []byte) []byte {
	const odexHeader = 0x28
	out := make([]byte, odexHeader, odexHeader+len(dex))
	copy(out, "dey\n036\x00")
	binary.LittleEndian.PutUint32(out[8:], odexHeader)
	binary.LittleEndian.PutUint32(out[12:], uint32(len(dex)))
	binary.LittleEndian.PutUint32(out[16:], uint32(odexHeader+len(dex)))
	return append(out, dex...)
}

// SetMethodProto overwrites the proto_idx of method_id index in a built
// dex image.
func SetMethodProto(dex []byte, index uint32, proto uint16) {
	off := binary.LittleEndian.Uint32(dex[92:]) + index*8
	binary.LittleEndian.PutUint16(dex[off+2:], proto)
}
