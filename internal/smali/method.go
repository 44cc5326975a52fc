package smali

import (
	"sort"
	"strconv"
	"strings"

	"undex/internal/analysis"
	"undex/internal/bytecode"
	"undex/internal/dexfile"
	"undex/internal/dexfmt"
)

// methodRenderer renders one method body. It owns the method's label
// cache; nothing in it is shared between methods.
type methodRenderer struct {
	cr     *classRenderer
	m      *dexfile.Method
	code   *dexfile.CodeItem
	dbg    *dexfile.DebugInfo
	insts  []bytecode.Instruction
	byAddr map[int]int
	labels *LabelCache
	rf     registerFormatter
	an     *analysis.Method

	// Switch payload address to the address of the switch using it.
	packedBase map[int]int
	sparseBase map[int]int

	targets  map[int]LabelID   // instruction index to branch label
	payloads map[int][]LabelID // payload index to case labels
}

func (cr *classRenderer) writeMethod(w *Writer, m *dexfile.Method) {
	w.WriteString(".method ")
	writeFlags(w, m.AccessFlags, dexfile.TargetMethod)
	w.WriteString(m.Ref.ShortDescriptor())
	w.WriteString("\n")
	w.Indent(4)
	defer func() {
		w.Deindent(4)
		w.WriteString(".end method\n")
	}()

	code, err := m.Code()
	if err != nil {
		cr.fail(err)
		w.WriteString("# " + err.Error() + "\n")
		return
	}
	var dbg *dexfile.DebugInfo
	if code != nil && code.DebugInfoOff != 0 && cr.opts.DebugInfo {
		dbg, err = cr.f.DebugInfo(m, code)
		if err != nil {
			cr.fail(err)
		}
	}
	if code != nil {
		if cr.opts.LocalsDirective {
			w.WriteString(".locals ")
			w.Dec(int64(code.Registers - m.ParamRegisters()))
		} else {
			w.WriteString(".registers ")
			w.Dec(int64(code.Registers))
		}
		w.WriteString("\n")
	}
	cr.writeParameters(w, m, dbg)
	anns, err := m.Annotations()
	if err != nil {
		cr.fail(err)
	}
	writeAnnotations(w, anns)
	if code == nil {
		return
	}
	w.WriteString("\n")

	mr := &methodRenderer{
		cr:         cr,
		m:          m,
		code:       code,
		dbg:        dbg,
		labels:     NewLabelCache(),
		rf:         registerFormatter{registers: code.Registers, params: m.ParamRegisters(), pnames: cr.opts.ParameterRegisters},
		packedBase: make(map[int]int),
		sparseBase: make(map[int]int),
		targets:    make(map[int]LabelID),
		payloads:   make(map[int][]LabelID),
	}
	items, err := mr.build()
	if err != nil {
		cr.fail(err)
		w.WriteString("# " + err.Error() + "\n")
		return
	}
	for i := range items {
		if mr.writeItem(w, &items[i]) {
			w.WriteString("\n")
		}
	}
}

func (cr *classRenderer) writeParameters(w *Writer, m *dexfile.Method, dbg *dexfile.DebugInfo) {
	pann, err := m.ParameterAnnotations()
	if err != nil {
		cr.fail(err)
	}
	reg := 0
	if !m.IsStatic() {
		reg = 1
	}
	for i, p := range m.Ref.Proto.Params {
		var name dexfile.Name
		if dbg != nil {
			name = dbg.ParamName(i)
		}
		var anns []dexfile.Annotation
		if i < len(pann) {
			anns = pann[i]
		}
		if name.Valid || len(anns) > 0 {
			w.WriteString(".param p" + strconv.Itoa(reg))
			if name.Valid {
				w.WriteString(", " + Quote(name.Value))
			}
			w.WriteString("    # " + p + "\n")
			if len(anns) > 0 {
				w.Indent(4)
				writeAnnotations(w, anns)
				w.Deindent(4)
				w.WriteString(".end param\n")
			}
		}
		reg += dexfile.TypeRegisters(p)
	}
}

// build decodes the body and collects its render units in order.
func (mr *methodRenderer) build() ([]methodItem, error) {
	insts, err := bytecode.DecodeAll(mr.code.Insns, mr.cr.r.set)
	if err != nil {
		return nil, dexfmt.Structuralf(mr.code.Offset, "%s: %v", mr.m.Ref, err)
	}
	if len(insts) == 0 {
		return nil, nil
	}
	mr.insts = insts
	mr.byAddr = make(map[int]int, len(insts))
	for i := range insts {
		mr.byAddr[insts[i].Addr] = i
	}
	mr.mapSwitches()

	var items []methodItem
	opts := mr.cr.opts
	if opts.RegisterInfo != 0 {
		mr.an = analysis.Analyze(mr.m, mr.code, insts, mr.cr.f)
		if e := mr.an.Err; e != nil {
			mr.cr.diags.AddErr(e)
			items = append(items, methodItem{kind: itemComment, addr: e.Address, order: orderAnalysisErr,
				text: " AnalysisException: " + e.Msg})
		}
	}

	prevPre := []analysis.RegisterType(nil)
	if mr.an != nil {
		prevPre = mr.an.Start
	}
	for i := range insts {
		in := &insts[i]
		mr.internLabels(i)
		items = append(items, methodItem{kind: itemInstruction, addr: in.Addr, order: orderInstruction, inst: i})
		if i != len(insts)-1 {
			items = append(items, methodItem{kind: itemBlank, addr: in.Addr, order: orderBlank})
		}
		if opts.CodeOffsets {
			items = append(items, methodItem{kind: itemComment, addr: in.Addr, order: orderCodeOffset,
				text: "@" + strconv.FormatInt(int64(in.Addr), 16)})
		}
		if c, ok := mr.accessorComment(in); ok {
			items = append(items, methodItem{kind: itemComment, addr: in.Addr, order: orderAccessor, text: " " + c})
		}
		if mr.an != nil && !in.Op.Format.IsPayload() {
			pre, merge := mr.preRegisters(i, prevPre)
			post := mr.postRegisters(i)
			items = append(items,
				methodItem{kind: itemPreRegInfo, addr: in.Addr, order: orderPreRegInfo, inst: i, regs: pre, merge: merge},
				methodItem{kind: itemPostRegInfo, addr: in.Addr, order: orderPostRegInfo, inst: i, regs: post})
			prevPre = mr.an.Insts[i].Pre
		}
	}

	tries, err := mr.tryItems()
	if err != nil {
		return nil, err
	}
	items = append(items, tries...)

	if mr.dbg != nil {
		for i := range mr.dbg.Items {
			items = append(items, debugItem(&mr.dbg.Items[i]))
		}
	}

	if opts.SequentialLabels {
		mr.labels.Sequence()
	}
	for _, id := range mr.labels.sorted() {
		l := mr.labels.labels[id]
		items = append(items, methodItem{kind: itemLabel, addr: l.pos, order: l.order, label: id})
	}
	sortItems(items, mr.labels)
	return items, nil
}

func debugItem(d *dexfile.DebugItem) methodItem {
	order := float64(orderLocal)
	switch d.Kind {
	case dexfile.DebugLine:
		order = orderLine
	case dexfile.DebugPrologueEnd, dexfile.DebugEpilogueBegin:
		order = orderPrologue
	case dexfile.DebugSetFile:
		order = orderSourceFile
	}
	return methodItem{kind: itemDebug, addr: d.Addr, order: order, debug: d}
}

// mapSwitches records which switch owns each payload. A payload shared by
// several switches keeps the first.
func (mr *methodRenderer) mapSwitches() {
	for i := range mr.insts {
		in := &mr.insts[i]
		var m map[int]int
		switch in.Op.Name {
		case "packed-switch":
			m = mr.packedBase
		case "sparse-switch":
			m = mr.sparseBase
		default:
			continue
		}
		t := in.Target()
		if _, dup := m[t]; dup {
			mr.cr.diags.Addf(mr.code.Offset, dexfmt.DiagStructure, "%s: payload at 0x%x shared by several switches", mr.m.Ref, t)
			continue
		}
		m[t] = in.Addr
	}
}

// switchBase returns the switch owning the payload at index i. A payload
// reached through a preceding alignment nop is found at its address.
func (mr *methodRenderer) switchBase(i int) (int, bool) {
	in := &mr.insts[i]
	m := mr.sparseBase
	if in.Packed != nil {
		m = mr.packedBase
	}
	if base, ok := m[in.Addr]; ok {
		return base, true
	}
	if i > 0 && mr.insts[i-1].Op.Name == "nop" {
		if base, ok := m[in.Addr-1]; ok {
			return base, true
		}
	}
	return 0, false
}

func branchPrefix(op *bytecode.Opcode) string {
	switch {
	case strings.HasPrefix(op.Name, "goto"):
		return prefixGoto
	case strings.HasPrefix(op.Name, "if-"):
		return prefixCond
	case op.Name == "packed-switch":
		return prefixPackedData
	case op.Name == "sparse-switch":
		return prefixSparseData
	case op.Name == "fill-array-data":
		return prefixArray
	}
	return ""
}

func (mr *methodRenderer) internLabels(i int) {
	in := &mr.insts[i]
	if in.HasTarget() {
		if p := branchPrefix(in.Op); p != "" {
			mr.targets[i] = mr.labels.Intern(in.Target(), p)
		}
		return
	}
	if in.Packed == nil && in.Sparse == nil {
		return
	}
	base, ok := mr.switchBase(i)
	if !ok {
		mr.cr.diags.Addf(mr.code.Offset, dexfmt.DiagStructure, "%s: switch payload at 0x%x has no referring switch", mr.m.Ref, in.Addr)
		return
	}
	var ids []LabelID
	if in.Packed != nil {
		for _, t := range in.Packed.Targets {
			ids = append(ids, mr.labels.Intern(base+int(t), prefixPackedTarget))
		}
	} else {
		for _, t := range in.Sparse.Targets {
			ids = append(ids, mr.labels.Intern(base+int(t), prefixSparseTarget))
		}
	}
	mr.payloads[i] = ids
}

// instructionAt returns the index of the instruction covering addr.
func (mr *methodRenderer) instructionAt(addr int) int {
	return sort.Search(len(mr.insts), func(i int) bool { return mr.insts[i].Addr > addr }) - 1
}

func (mr *methodRenderer) tryItems() ([]methodItem, error) {
	if len(mr.code.Tries) == 0 {
		return nil, nil
	}
	codeSize := mr.insts[len(mr.insts)-1].End()
	var items []methodItem
	for _, t := range mr.code.Tries {
		start, end := t.Start, t.End()
		if start >= codeSize {
			return nil, dexfmt.Structuralf(mr.code.Offset, "try start offset %d is past the end of the code block", start)
		}
		if end > codeSize {
			return nil, dexfmt.Structuralf(mr.code.Offset, "try end offset %d is past the end of the code block", end)
		}
		last := mr.insts[mr.instructionAt(end-1)].Addr
		add := func(typ string, handler int) error {
			if handler >= codeSize {
				return dexfmt.Structuralf(mr.code.Offset, "exception handler offset %d is past the end of the code block", handler)
			}
			prefix := prefixCatch
			if typ == "" {
				prefix = prefixCatchAll
			}
			items = append(items, methodItem{kind: itemCatch, addr: last, order: orderCatch, catch: catchDirective{
				typ:     typ,
				start:   mr.labels.Intern(start, prefixTryStart),
				end:     mr.labels.InternTryEnd(end, last),
				handler: mr.labels.Intern(handler, prefix),
			}})
			return nil
		}
		for _, h := range t.Handlers {
			if err := add(h.Type, h.Addr); err != nil {
				return nil, err
			}
		}
		if t.HasCatchAll() {
			if err := add("", t.CatchAll); err != nil {
				return nil, err
			}
		}
	}
	return items, nil
}

func (mr *methodRenderer) accessorComment(in *bytecode.Instruction) (string, bool) {
	acc := mr.cr.r.accessors
	if acc == nil || !mr.cr.opts.AccessorComments || in.Op.Ref != bytecode.RefMethod {
		return "", false
	}
	if in.Op.Name != "invoke-static" && in.Op.Name != "invoke-static/range" {
		return "", false
	}
	ref, err := mr.cr.f.Method(in.Index)
	if err != nil || !LooksLikeAccessor(ref.Name) {
		return "", false
	}
	am, ok := acc.Resolve(ref)
	if !ok {
		return "", false
	}
	return am.String(), true
}

func (mr *methodRenderer) writeItem(w *Writer, it *methodItem) bool {
	switch it.kind {
	case itemInstruction:
		mr.writeInstruction(w, it.inst)
	case itemLabel:
		w.WriteString(mr.labels.Name(it.label, mr.cr.opts.SequentialLabels))
	case itemCatch:
		c := it.catch
		if c.typ == "" {
			w.WriteString(".catchall")
		} else {
			w.WriteString(".catch " + c.typ)
		}
		seq := mr.cr.opts.SequentialLabels
		w.WriteString(" {" + mr.labels.Name(c.start, seq) + " .. " + mr.labels.Name(c.end, seq) + "} " + mr.labels.Name(c.handler, seq))
	case itemDebug:
		mr.writeDebug(w, it.debug)
	case itemComment:
		w.WriteString("#" + it.text)
	case itemBlank:
	case itemPreRegInfo:
		return mr.writePreRegisters(w, it)
	case itemPostRegInfo:
		return mr.writePostRegisters(w, it)
	}
	return true
}

func writeLocal(w *Writer, l dexfile.Local) {
	if l.Name.Valid {
		w.WriteString(Quote(l.Name.Value))
	} else {
		w.WriteString("null")
	}
	w.WriteString(":")
	if l.Type.Valid {
		w.WriteString(l.Type.Value)
	} else {
		w.WriteString("V")
	}
	if l.Signature.Valid {
		w.WriteString(", " + Quote(l.Signature.Value))
	}
}

func (mr *methodRenderer) writeDebug(w *Writer, d *dexfile.DebugItem) {
	switch d.Kind {
	case dexfile.DebugLine:
		w.WriteString(".line " + strconv.FormatUint(uint64(d.Line), 10))
	case dexfile.DebugStartLocal:
		w.WriteString(".local " + mr.rf.reg(d.Reg) + ", ")
		writeLocal(w, d.Local)
	case dexfile.DebugEndLocal, dexfile.DebugRestartLocal:
		if d.Kind == dexfile.DebugEndLocal {
			w.WriteString(".end local ")
		} else {
			w.WriteString(".restart local ")
		}
		w.WriteString(mr.rf.reg(d.Reg))
		if l := d.Local; l.Name.Valid || l.Type.Valid || l.Signature.Valid {
			w.WriteString("    # ")
			writeLocal(w, l)
		}
	case dexfile.DebugPrologueEnd:
		w.WriteString(".prologue")
	case dexfile.DebugEpilogueBegin:
		w.WriteString(".epilogue")
	case dexfile.DebugSetFile:
		w.WriteString(".source")
		if d.File.Valid {
			w.WriteString(" " + Quote(d.File.Value))
		}
	}
}
