package smali

import (
	"fmt"
	"strconv"
	"strings"

	"undex/internal/bytecode"
	"undex/internal/dexfile"
	"undex/internal/dexfmt"
)

var verificationErrors = [...]string{
	"", "generic-error", "no-such-class", "no-such-field", "no-such-method",
	"illegal-class-access", "illegal-field-access", "illegal-method-access",
	"class-change-error", "instantiation-error",
}

func (mr *methodRenderer) reference(in *bytecode.Instruction, kind bytecode.RefKind, idx int) (string, error) {
	f := mr.cr.f
	switch kind {
	case bytecode.RefString:
		s, err := f.String(idx)
		return Quote(s), err
	case bytecode.RefType:
		return f.Type(idx)
	case bytecode.RefField:
		r, err := f.Field(idx)
		return r.String(), err
	case bytecode.RefMethod:
		r, err := f.Method(idx)
		return r.String(), err
	case bytecode.RefProto:
		p, err := f.Proto(idx)
		return p.Descriptor(), err
	case bytecode.RefMethodHandle:
		h, err := f.MethodHandle(idx)
		return h.String(), err
	case bytecode.RefCallSite:
		cs, err := f.CallSite(idx)
		if err != nil {
			return "", err
		}
		return callSiteString(cs), nil
	case bytecode.RefInline:
		return "inline@" + strconv.Itoa(idx), nil
	case bytecode.RefVtable:
		return "vtable@" + strconv.Itoa(idx), nil
	case bytecode.RefFieldOffset:
		return "field@0x" + strconv.FormatInt(int64(idx), 16), nil
	case bytecode.RefVerification:
		kind := in.A & 0x3f
		name := fmt.Sprintf("verification-error-0x%x", kind)
		if kind > 0 && kind < len(verificationErrors) {
			name = verificationErrors[kind]
		}
		var target string
		var err error
		switch in.A >> 6 {
		case 2:
			target, err = mr.reference(in, bytecode.RefField, idx)
		case 3:
			target, err = mr.reference(in, bytecode.RefMethod, idx)
		default:
			target, err = mr.reference(in, bytecode.RefType, idx)
		}
		return name + ", " + target, err
	}
	return "", nil
}

func callSiteString(cs dexfile.CallSite) string {
	var b strings.Builder
	fmt.Fprintf(&b, "call_site_%d(%s, %s", cs.Index, Quote(cs.MethodName), cs.MethodType.Descriptor())
	for _, v := range cs.Extra {
		b.WriteString(", ")
		b.WriteString(ValueString(v))
	}
	b.WriteString(")@")
	if cs.Handle.Method != nil {
		b.WriteString(cs.Handle.Method.String())
	} else {
		b.WriteString(cs.Handle.String())
	}
	return b.String()
}

// ValueString renders v as it appears in smali source.
func ValueString(v dexfile.Value) string {
	var sb strings.Builder
	writeValue(NewWriter(&sb), v)
	return sb.String()
}

func refPlaceholder(kind bytecode.RefKind, idx int) string {
	names := map[bytecode.RefKind]string{
		bytecode.RefString: "string", bytecode.RefType: "type", bytecode.RefField: "field",
		bytecode.RefMethod: "method", bytecode.RefProto: "proto", bytecode.RefCallSite: "call_site",
		bytecode.RefMethodHandle: "method_handle",
	}
	return fmt.Sprintf("%s@%d", names[kind], idx)
}

func (mr *methodRenderer) label(i int) string {
	return mr.labels.Name(mr.targets[i], mr.cr.opts.SequentialLabels)
}

func (mr *methodRenderer) writeInstruction(w *Writer, i int) {
	in := &mr.insts[i]
	op := in.Op
	if in.Unknown {
		fmt.Fprintf(w, "# unknown opcode: 0x%02x\n", op.Value)
		w.WriteString("nop")
		return
	}
	switch op.Format {
	case bytecode.FormatPackedSwitchPayload:
		mr.writePackedSwitch(w, i)
		return
	case bytecode.FormatSparseSwitchPayload:
		mr.writeSparseSwitch(w, i)
		return
	case bytecode.FormatArrayPayload:
		writeArrayData(w, in.Array)
		return
	}

	var ref, ref2 string
	if op.Ref != bytecode.RefNone {
		var err error
		ref, err = mr.reference(in, op.Ref, in.Index)
		if err == nil && (op.Format == bytecode.Format45cc || op.Format == bytecode.Format4rcc) {
			ref2, err = mr.reference(in, bytecode.RefProto, in.Index2)
		}
		if err != nil {
			mr.cr.fail(dexfmt.Structuralf(mr.code.Offset, "%s at 0x%x: %v", mr.m.Ref, in.Addr, err))
			w.WriteString("#" + err.Error() + "\n#")
			ref = refPlaceholder(op.Ref, in.Index)
			ref2 = refPlaceholder(bytecode.RefProto, in.Index2)
		}
	}

	rf := mr.rf
	w.WriteString(op.Name)
	switch op.Format {
	case bytecode.Format10x:
	case bytecode.Format10t, bytecode.Format20t, bytecode.Format30t:
		w.WriteString(" " + mr.label(i))
	case bytecode.Format11n:
		w.WriteString(" " + rf.reg(in.A) + ", " + signedHex(in.Literal))
	case bytecode.Format11x:
		w.WriteString(" " + rf.reg(in.A))
	case bytecode.Format12x, bytecode.Format22x, bytecode.Format32x:
		w.WriteString(" " + rf.reg(in.A) + ", " + rf.reg(in.B))
	case bytecode.Format20bc:
		w.WriteString(" " + ref)
	case bytecode.Format21c, bytecode.Format31c:
		w.WriteString(" " + rf.reg(in.A) + ", " + ref)
	case bytecode.Format21ih, bytecode.Format21lh, bytecode.Format21s, bytecode.Format31i, bytecode.Format51l:
		w.WriteString(" " + rf.reg(in.A) + ", " + signedHex(in.Literal))
		mr.writeLiteralComment(w, in)
	case bytecode.Format21t, bytecode.Format31t:
		w.WriteString(" " + rf.reg(in.A) + ", " + mr.label(i))
	case bytecode.Format22b, bytecode.Format22s:
		w.WriteString(" " + rf.reg(in.A) + ", " + rf.reg(in.B) + ", " + signedHex(in.Literal))
	case bytecode.Format22c, bytecode.Format22cs:
		w.WriteString(" " + rf.reg(in.A) + ", " + rf.reg(in.B) + ", " + ref)
	case bytecode.Format22t:
		w.WriteString(" " + rf.reg(in.A) + ", " + rf.reg(in.B) + ", " + mr.label(i))
	case bytecode.Format23x:
		w.WriteString(" " + rf.reg(in.A) + ", " + rf.reg(in.B) + ", " + rf.reg(in.C))
	case bytecode.Format35c, bytecode.Format35mi, bytecode.Format35ms:
		w.WriteString(" " + rf.list(in.Regs) + ", " + ref)
	case bytecode.Format3rc, bytecode.Format3rmi, bytecode.Format3rms:
		w.WriteString(" " + rf.rangeOf(in.RangeStart, in.RangeCount) + ", " + ref)
	case bytecode.Format45cc:
		w.WriteString(" " + rf.list(in.Regs) + ", " + ref + ", " + ref2)
	case bytecode.Format4rcc:
		w.WriteString(" " + rf.rangeOf(in.RangeStart, in.RangeCount) + ", " + ref + ", " + ref2)
	}
}

func (mr *methodRenderer) resourceName(v int32) (string, bool) {
	if mr.cr.opts.Resources == nil {
		return "", false
	}
	return mr.cr.opts.Resources.ResourceName(uint32(v))
}

func (mr *methodRenderer) writeLiteralComment(w *Writer, in *bytecode.Instruction) {
	if in.Op.Has(bytecode.FlagSetsWide) {
		if likelyDouble(in.Literal) {
			w.WriteString("    # " + doubleComment(in.Literal))
		}
		return
	}
	v := int32(in.Literal)
	if name, ok := mr.resourceName(v); ok {
		w.WriteString("    # " + name)
		return
	}
	if likelyFloat(v) {
		w.WriteString("    # " + floatComment(v))
	}
}

func (mr *methodRenderer) writeKeyComment(w *Writer, key int32) {
	if name, ok := mr.resourceName(key); ok {
		w.WriteString("    # " + name)
	}
}

func relTarget(t int32) string {
	if t >= 0 {
		return "+" + strconv.Itoa(int(t))
	}
	return strconv.Itoa(int(t))
}

// writePackedSwitch renders a packed-switch payload. Without an owning
// switch the targets cannot be labelled, so the block is commented out and
// shows relative offsets.
func (mr *methodRenderer) writePackedSwitch(w *Writer, i int) {
	p := mr.insts[i].Packed
	labels, ok := mr.payloads[i]
	if !ok {
		w = w.Commenting()
	}
	var first int32
	if len(p.Targets) > 0 {
		first = p.FirstKey
	}
	w.WriteString(".packed-switch " + intLiteral(int64(first)))
	w.Indent(4)
	w.WriteString("\n")
	key := first
	for j, t := range p.Targets {
		if ok {
			w.WriteString(mr.labels.Name(labels[j], mr.cr.opts.SequentialLabels))
		} else {
			w.WriteString(relTarget(t))
		}
		mr.writeKeyComment(w, key)
		w.WriteString("\n")
		key++
	}
	w.Deindent(4)
	w.WriteString(".end packed-switch")
}

func (mr *methodRenderer) writeSparseSwitch(w *Writer, i int) {
	p := mr.insts[i].Sparse
	labels, ok := mr.payloads[i]
	if !ok {
		w = w.Commenting()
	}
	w.WriteString(".sparse-switch\n")
	w.Indent(4)
	for j, k := range p.Keys {
		w.WriteString(intLiteral(int64(k)) + " -> ")
		if ok {
			w.WriteString(mr.labels.Name(labels[j], mr.cr.opts.SequentialLabels))
		} else {
			w.WriteString(relTarget(p.Targets[j]))
		}
		mr.writeKeyComment(w, k)
		w.WriteString("\n")
	}
	w.Deindent(4)
	w.WriteString(".end sparse-switch")
}

func writeArrayData(w *Writer, a *bytecode.ArrayData) {
	w.WriteString(".array-data " + strconv.Itoa(a.Width) + "\n")
	w.Indent(4)
	for _, e := range a.Elements {
		switch a.Width {
		case 1:
			w.WriteString(byteLiteral(e))
		case 2:
			w.WriteString(shortLiteral(e))
		case 4:
			w.WriteString(intLiteral(e))
		default:
			w.WriteString(longLiteral(e))
		}
		w.WriteString("\n")
	}
	w.Deindent(4)
	w.WriteString(".end array-data")
}
