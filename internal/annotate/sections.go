package annotate

import (
	"fmt"

	"undex/internal/bytecode"
	"undex/internal/dexfile"
	"undex/internal/dexfmt"
	"undex/internal/smali"
)

var headerFields = []struct {
	name string
	size int
}{
	{"magic", 8},
	{"checksum", 4},
	{"signature", 20},
	{"file_size", 4},
	{"header_size", 4},
	{"endian_tag", 4},
	{"link_size", 4},
	{"link_off", 4},
	{"map_off", 4},
	{"string_ids_size", 4},
	{"string_ids_off", 4},
	{"type_ids_size", 4},
	{"type_ids_off", 4},
	{"proto_ids_size", 4},
	{"proto_ids_off", 4},
	{"field_ids_size", 4},
	{"field_ids_off", 4},
	{"method_ids_size", 4},
	{"method_ids_off", 4},
	{"class_defs_size", 4},
	{"class_defs_off", 4},
	{"data_size", 4},
	{"data_off", 4},
}

func (a *annotator) header() {
	off := 0
	for _, h := range headerFields {
		switch h.size {
		case 4:
			v, _ := a.buf.Uint32(off)
			a.add(off, 4, h.name, "0x%x", v)
		case 8:
			a.add(off, 8, h.name, "%q", fmt.Sprintf("%s%03d", "dex\n", a.f.Version()))
		default:
			a.add(off, h.size, h.name, "")
		}
		off += h.size
	}
}

// uleb annotates one uleb128 at off and returns its value and width.
func (a *annotator) uleb(off int, field string) (int, int) {
	v, n, err := a.buf.Uleb128(off)
	if err != nil {
		a.fail(err)
		return 0, 0
	}
	a.add(off, n, field, "%d", v)
	return int(v), n
}

func (a *annotator) sectionOffset(s dexfile.Section, i int) int {
	off, err := a.f.IndexToOffset(s, i)
	if err != nil {
		a.fail(err)
		return -1
	}
	return off
}

func (a *annotator) stringIDs() {
	for i := range a.f.Count(dexfile.SectionString) {
		off := a.sectionOffset(dexfile.SectionString, i)
		if off < 0 {
			return
		}
		dataOff, err := a.buf.U32(off)
		if err != nil {
			a.fail(err)
			return
		}
		a.add(off, 4, fmt.Sprintf("string_id_item[%d]", i), "string_data_off: 0x%x", dataOff)
		a.stringData(i, dataOff)
	}
}

func (a *annotator) stringData(i, off int) {
	if !a.once(off) {
		return
	}
	r := a.buf.ReaderAt(off)
	n, err := r.ReadSmallUleb128()
	if err != nil {
		a.fail(err)
		return
	}
	a.add(off, r.Position()-off, "utf16_size", "%d", n)
	start := r.Position()
	s, err := a.f.String(i)
	if err != nil {
		a.fail(err)
		return
	}
	r.SetPosition(off)
	if _, err := r.ReadString(); err != nil {
		a.fail(err)
		return
	}
	end := r.Position()
	if b, err := a.buf.Uint8(end); err == nil && b == 0 {
		end++
	}
	a.add(start, end-start, fmt.Sprintf("string_data[%d]", i), "%s", smali.Quote(s))
}

func (a *annotator) typeIDs() {
	for i := range a.f.Count(dexfile.SectionType) {
		off := a.sectionOffset(dexfile.SectionType, i)
		if off < 0 {
			return
		}
		t, err := a.f.Type(i)
		if err != nil {
			a.fail(err)
			t = "<invalid>"
		}
		a.add(off, 4, fmt.Sprintf("type_id_item[%d]", i), "%s", t)
	}
}

func (a *annotator) typeList(off int, field string) {
	if !a.once(off) {
		return
	}
	n, err := a.buf.U32(off)
	if err != nil {
		a.fail(err)
		return
	}
	a.add(off, 4, field+".size", "%d", n)
	for i := range n {
		p := off + 4 + 2*i
		idx, err := a.buf.Uint16(p)
		if err != nil {
			a.fail(err)
			return
		}
		t, err := a.f.Type(int(idx))
		if err != nil {
			a.fail(err)
			continue
		}
		a.add(p, 2, fmt.Sprintf("%s[%d]", field, i), "%s", t)
	}
}

func (a *annotator) protoIDs() {
	for i := range a.f.Count(dexfile.SectionProto) {
		off := a.sectionOffset(dexfile.SectionProto, i)
		if off < 0 {
			return
		}
		desc := "<invalid>"
		if p, err := a.f.Proto(i); err == nil {
			desc = p.Descriptor()
		} else {
			a.fail(err)
		}
		name := fmt.Sprintf("proto_id_item[%d]", i)
		a.add(off, 4, name+".shorty_idx", "%s", desc)
		a.add(off+4, 4, name+".return_type_idx", "")
		params, _ := a.buf.U32(off + 8)
		a.add(off+8, 4, name+".parameters_off", "0x%x", params)
		if params != 0 {
			a.typeList(params, "type_list")
		}
	}
}

func (a *annotator) fieldIDs() {
	for i := range a.f.Count(dexfile.SectionField) {
		off := a.sectionOffset(dexfile.SectionField, i)
		if off < 0 {
			return
		}
		v := "<invalid>"
		if ref, err := a.f.Field(i); err == nil {
			v = ref.String()
		} else {
			a.fail(err)
		}
		a.add(off, 8, fmt.Sprintf("field_id_item[%d]", i), "%s", v)
	}
}

func (a *annotator) methodIDs() {
	for i := range a.f.Count(dexfile.SectionMethod) {
		off := a.sectionOffset(dexfile.SectionMethod, i)
		if off < 0 {
			return
		}
		v := "<invalid>"
		if ref, err := a.f.Method(i); err == nil {
			v = ref.String()
		} else {
			a.fail(err)
		}
		a.add(off, 8, fmt.Sprintf("method_id_item[%d]", i), "%s", v)
	}
}

var classDefFields = [...]string{
	"class_idx", "access_flags", "superclass_idx", "interfaces_off",
	"source_file_idx", "annotations_off", "class_data_off", "static_values_off",
}

func (a *annotator) classDefs() {
	for i := range a.f.Count(dexfile.SectionClassDef) {
		c, err := a.f.Class(i)
		if err != nil {
			a.fail(err)
			continue
		}
		typ, _ := c.Type()
		name := fmt.Sprintf("class_def_item[%d]", i)
		for j, fld := range classDefFields {
			v, _ := a.buf.Uint32(c.Offset + 4*j)
			val := fmt.Sprintf("0x%x", v)
			switch j {
			case 0:
				val = typ
			case 1:
				val = c.AccessFlags.Join(dexfile.TargetClass)
			}
			a.add(c.Offset+4*j, 4, name+"."+fld, "%s", val)
		}
		if off, _ := a.buf.U32(c.Offset + 12); off != 0 {
			a.typeList(off, "interfaces")
		}
		if off := c.ClassDataOffset(); off != 0 {
			a.classData(off)
		}
		if off := c.StaticValuesOffset(); off != 0 {
			a.encodedArray(off, "static_values")
		}
		if off := c.AnnotationsOffset(); off != 0 {
			a.annotationsDirectory(off)
		}
	}
}

var groupCounts = [...]string{"static_fields_size", "instance_fields_size", "direct_methods_size", "virtual_methods_size"}

func (a *annotator) classData(off int) {
	if !a.once(off) {
		return
	}
	p := off
	var counts [4]int
	for g, name := range groupCounts {
		v, n := a.uleb(p, "class_data_item."+name)
		if n == 0 {
			return
		}
		counts[g] = v
		p += n
	}
	for g := dexfile.StaticFields; g <= dexfile.VirtualMethods; g++ {
		idx := 0
		for i := range counts[g] {
			diff, n := a.uleb(p, fmt.Sprintf("%s[%d].index_diff", g, i))
			if n == 0 {
				return
			}
			p += n
			idx += diff
			target := dexfile.TargetField
			member := "<invalid>"
			if g.IsMethods() {
				target = dexfile.TargetMethod
				if ref, err := a.f.Method(idx); err == nil {
					member = ref.String()
				}
			} else if ref, err := a.f.Field(idx); err == nil {
				member = ref.String()
			}
			flags, n, err := a.buf.Uleb128(p)
			if err != nil {
				a.fail(err)
				return
			}
			a.add(p, n, fmt.Sprintf("%s[%d].access_flags", g, i), "%s %s", dexfile.AccessFlags(flags).Join(target), member)
			p += n
			if !g.IsMethods() {
				continue
			}
			codeOff, n := a.uleb(p, fmt.Sprintf("%s[%d].code_off", g, i))
			if n == 0 {
				return
			}
			p += n
			if codeOff != 0 {
				a.code(codeOff, member)
			}
		}
	}
}

func (a *annotator) encodedArray(off int, field string) {
	if !a.once(off) {
		return
	}
	r := a.buf.ReaderAt(off)
	n, err := r.ReadSmallUleb128()
	if err != nil {
		a.fail(err)
		return
	}
	a.add(off, r.Position()-off, field+".size", "%d", n)
	for i := range n {
		start := r.Position()
		v, err := a.f.ReadValue(r)
		if err != nil {
			a.fail(err)
			return
		}
		a.add(start, r.Position()-start, fmt.Sprintf("%s[%d]", field, i), "%s", smali.ValueString(v))
	}
}

func (a *annotator) annotationsDirectory(off int) {
	if !a.once(off) {
		return
	}
	names := [...]string{"class_annotations_off", "fields_size", "annotated_methods_size", "annotated_parameters_size"}
	counts := 0
	for i, name := range names {
		v, err := a.buf.U32(off + 4*i)
		if err != nil {
			a.fail(err)
			return
		}
		if i > 0 {
			counts += v
		}
		a.add(off+4*i, 4, "annotations_directory_item."+name, "0x%x", v)
	}
	for i := range counts {
		p := off + 16 + 8*i
		idx, _ := a.buf.Uint32(p)
		set, _ := a.buf.Uint32(p + 4)
		a.add(p, 8, fmt.Sprintf("annotations_directory_item.entry[%d]", i), "member %d -> 0x%x", idx, set)
	}
}

// code annotates a code_item, its instructions, tries and debug info.
func (a *annotator) code(off int, owner string) {
	if !a.once(off) {
		return
	}
	code, err := a.f.CodeAt(off)
	if err != nil {
		a.fail(err)
		return
	}
	a.add(off, 2, "code_item.registers_size", "%d  # %s", code.Registers, owner)
	a.add(off+2, 2, "code_item.ins_size", "%d", code.Ins)
	a.add(off+4, 2, "code_item.outs_size", "%d", code.Outs)
	a.add(off+6, 2, "code_item.tries_size", "%d", len(code.Tries))
	a.add(off+8, 4, "code_item.debug_info_off", "0x%x", code.DebugInfoOff)
	a.add(off+12, 4, "code_item.insns_size", "%d", code.Units)

	insns := off + 16
	for in, err := range bytecode.Decode(code.Insns, a.set) {
		if err != nil {
			a.diags.Add(insns+2*in.Addr, dexfmt.DiagStructure, err.Error())
			break
		}
		a.add(insns+2*in.Addr, 2*in.Units, fmt.Sprintf("insn@%d", in.Addr), "%s", in.Op.Name)
	}

	p := insns + 2*code.Units
	if len(code.Tries) > 0 {
		if code.Units%2 == 1 {
			a.add(p, 2, "padding", "")
			p += 2
		}
		for i, t := range code.Tries {
			a.add(p, 8, fmt.Sprintf("try_item[%d]", i), "[%d, %d) handler_off 0x%x", t.Start, t.End(), t.HandlerOff)
			p += 8
		}
		a.handlers(p, code.Tries)
	}
	if code.DebugInfoOff != 0 {
		a.debugInfo(code.DebugInfoOff)
	}
}

func (a *annotator) handlers(pool int, tries []dexfile.TryBlock) {
	_, n := a.uleb(pool, "encoded_catch_handler_list.size")
	if n == 0 {
		return
	}
	seen := make(map[int]bool)
	for _, t := range tries {
		if seen[t.HandlerOff] {
			continue
		}
		seen[t.HandlerOff] = true
		p := pool + t.HandlerOff
		size, n, err := a.buf.Sleb128(p)
		if err != nil {
			a.fail(err)
			return
		}
		a.add(p, n, "encoded_catch_handler.size", "%d", size)
		p += n
		for _, h := range t.Handlers {
			r := a.buf.ReaderAt(p)
			if err := r.SkipUleb128(); err != nil {
				a.fail(err)
				return
			}
			if err := r.SkipUleb128(); err != nil {
				a.fail(err)
				return
			}
			a.add(p, r.Position()-p, "encoded_type_addr_pair", "%s -> %d", h.Type, h.Addr)
			p = r.Position()
		}
		if t.HasCatchAll() {
			a.uleb(p, "catch_all_addr")
		}
	}
}

func (a *annotator) debugInfo(off int) {
	if !a.once(off) {
		return
	}
	r := a.buf.ReaderAt(off)
	mark := func(field, format string, args ...any) {
		a.add(off, r.Position()-off, field, format, args...)
		off = r.Position()
	}
	line, err := r.ReadLargeUleb128()
	if err != nil {
		a.fail(err)
		return
	}
	mark("debug_info_item.line_start", "%d", uint32(line))
	n, err := r.ReadSmallUleb128()
	if err != nil {
		a.fail(err)
		return
	}
	mark("debug_info_item.parameters_size", "%d", n)
	for i := range n {
		idx, err := r.ReadUleb128p1()
		if err != nil {
			a.fail(err)
			return
		}
		mark(fmt.Sprintf("parameter_names[%d]", i), "%s", a.optionalString(idx))
	}
	for {
		op, err := r.ReadUint8()
		if err != nil {
			a.fail(err)
			return
		}
		name, err := a.debugOp(r, op)
		if err != nil {
			a.fail(err)
			return
		}
		mark("debug_opcode", "%s", name)
		if op == 0x00 {
			return
		}
	}
}

func (a *annotator) optionalString(idx int) string {
	if idx < 0 {
		return "null"
	}
	s, err := a.f.String(idx)
	if err != nil {
		return fmt.Sprintf("string@%d", idx)
	}
	return smali.Quote(s)
}

// debugOp consumes the operands of a debug opcode and describes it.
func (a *annotator) debugOp(r *dexfmt.Reader, op byte) (string, error) {
	switch op {
	case 0x00:
		return "DBG_END_SEQUENCE", nil
	case 0x01:
		d, err := r.ReadSmallUleb128()
		return fmt.Sprintf("DBG_ADVANCE_PC %d", d), err
	case 0x02:
		d, err := r.ReadSleb128()
		return fmt.Sprintf("DBG_ADVANCE_LINE %d", d), err
	case 0x03, 0x04:
		reg, err := r.ReadSmallUleb128()
		if err != nil {
			return "", err
		}
		name, err := r.ReadUleb128p1()
		if err != nil {
			return "", err
		}
		typ, err := r.ReadUleb128p1()
		if err != nil {
			return "", err
		}
		s := fmt.Sprintf("DBG_START_LOCAL v%d %s type@%d", reg, a.optionalString(name), typ)
		if op == 0x04 {
			sig, err := r.ReadUleb128p1()
			if err != nil {
				return "", err
			}
			s = fmt.Sprintf("DBG_START_LOCAL_EXTENDED v%d %s type@%d sig %s", reg, a.optionalString(name), typ, a.optionalString(sig))
		}
		return s, nil
	case 0x05:
		reg, err := r.ReadSmallUleb128()
		return fmt.Sprintf("DBG_END_LOCAL v%d", reg), err
	case 0x06:
		reg, err := r.ReadSmallUleb128()
		return fmt.Sprintf("DBG_RESTART_LOCAL v%d", reg), err
	case 0x07:
		return "DBG_SET_PROLOGUE_END", nil
	case 0x08:
		return "DBG_SET_EPILOGUE_BEGIN", nil
	case 0x09:
		idx, err := r.ReadUleb128p1()
		return fmt.Sprintf("DBG_SET_FILE %s", a.optionalString(idx)), err
	}
	adj := int(op) - 0x0a
	return fmt.Sprintf("DBG_SPECIAL addr+%d line%+d", adj/15, adj%15-4), nil
}

func (a *annotator) callSiteIDs() {
	for i := range a.f.Count(dexfile.SectionCallSite) {
		off := a.sectionOffset(dexfile.SectionCallSite, i)
		if off < 0 {
			return
		}
		arr, err := a.buf.U32(off)
		if err != nil {
			a.fail(err)
			return
		}
		a.add(off, 4, fmt.Sprintf("call_site_id_item[%d]", i), "call_site_off: 0x%x", arr)
		a.encodedArray(arr, "call_site")
	}
}

func (a *annotator) methodHandles() {
	for i := range a.f.Count(dexfile.SectionMethodHandle) {
		off := a.sectionOffset(dexfile.SectionMethodHandle, i)
		if off < 0 {
			return
		}
		v := "<invalid>"
		if h, err := a.f.MethodHandle(i); err == nil {
			v = h.String()
		} else {
			a.fail(err)
		}
		a.add(off, 8, fmt.Sprintf("method_handle_item[%d]", i), "%s", v)
	}
}

func (a *annotator) mapList() {
	off := a.f.Header.MapOff
	if off == 0 {
		return
	}
	a.add(off, 4, "map_list.size", "%d", len(a.f.Maps))
	for i, m := range a.f.Maps {
		a.add(off+4+12*i, 12, fmt.Sprintf("map_item[%d]", i), "%s size %d at 0x%x", m.Type, m.Size, m.Offset)
	}
}
