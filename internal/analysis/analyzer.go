package analysis

import (
	"fmt"
	"slices"
	"strings"

	"undex/internal/bytecode"
	"undex/internal/dexfile"
	"undex/internal/dexfmt"
)

// Resolver resolves the references an instruction carries. *dexfile.File
// implements it.
type Resolver interface {
	Type(index int) (string, error)
	Field(index int) (dexfile.FieldRef, error)
	Method(index int) (dexfile.MethodRef, error)
}

// Entry is the predecessor index standing for the method entry.
const Entry = -1

// Instruction is one analyzed instruction.
type Instruction struct {
	Index int
	Inst  *bytecode.Instruction
	Pre   []RegisterType
	Post  []RegisterType
	Preds []int // indices of predecessors; Entry for the method entry
}

// IsBeginning reports whether control can arrive from the method entry.
func (in *Instruction) IsBeginning() bool { return slices.Contains(in.Preds, Entry) }

// Method holds the analysis of one method body.
type Method struct {
	Registers int
	Params    int // argument registers, receiver included
	Insts     []Instruction
	Start     []RegisterType // register state at entry
	// Err is the first inconsistency found, nil when none.
	Err *dexfmt.AnalysisValidationError
}

// PredPost returns the post-state of reg at predecessor pred.
func (m *Method) PredPost(pred, reg int) RegisterType {
	if pred == Entry {
		return m.Start[reg]
	}
	return m.Insts[pred].Post[reg]
}

type analyzer struct {
	m      *Method
	r      Resolver
	class  string
	tries  []dexfile.TryBlock
	byAddr map[int]int
	succs  [][]int
}

// Analyze infers register types for a decoded method body.
func Analyze(m *dexfile.Method, code *dexfile.CodeItem, insts []bytecode.Instruction, r Resolver) *Method {
	res := &Method{
		Registers: code.Registers,
		Params:    m.ParamRegisters(),
		Insts:     make([]Instruction, len(insts)),
	}
	a := &analyzer{
		m:      res,
		r:      r,
		class:  m.Ref.Class,
		tries:  code.Tries,
		byAddr: make(map[int]int, len(insts)),
	}
	for i := range insts {
		res.Insts[i] = Instruction{Index: i, Inst: &insts[i]}
		a.byAddr[insts[i].Addr] = i
	}
	res.Start = a.entryState(m)
	if len(insts) == 0 {
		return res
	}
	a.link()
	a.run()
	a.validate()
	return res
}

func (a *analyzer) entryState(m *dexfile.Method) []RegisterType {
	regs := make([]RegisterType, a.m.Registers)
	base := a.m.Registers - a.m.Params
	for i := 0; i < base && i < len(regs); i++ {
		regs[i] = cat(Uninit)
	}
	r := base
	put := func(t RegisterType) {
		if r >= 0 && r < len(regs) {
			regs[r] = t
		}
		r++
	}
	if !m.IsStatic() {
		if m.Ref.Name == "<init>" {
			put(RegisterType{UninitThis, a.class})
		} else {
			put(ref(a.class))
		}
	}
	for _, p := range m.Ref.Proto.Params {
		t := typeOf(p)
		put(t)
		if isWide(t.Category) {
			put(cat(hiOf(t.Category)))
		}
	}
	return regs
}

// payloadIndex finds the payload a switch refers to, stepping over one
// alignment nop.
func (a *analyzer) payloadIndex(target int) (int, bool) {
	i, ok := a.byAddr[target]
	if !ok {
		return 0, false
	}
	in := a.m.Insts[i].Inst
	if in.Op.Format.IsPayload() {
		return i, true
	}
	if in.Op.Name == "nop" && i+1 < len(a.m.Insts) && a.m.Insts[i+1].Inst.Op.Format.IsPayload() {
		return i + 1, true
	}
	return 0, false
}

func (a *analyzer) link() {
	n := len(a.m.Insts)
	a.succs = make([][]int, n)
	add := func(from, toAddr int) {
		if to, ok := a.byAddr[toAddr]; ok && !slices.Contains(a.succs[from], to) {
			a.succs[from] = append(a.succs[from], to)
		}
	}
	for i := range a.m.Insts {
		in := a.m.Insts[i].Inst
		op := in.Op
		if op.Format.IsPayload() {
			continue
		}
		if op.Has(bytecode.FlagContinue) && i+1 < n {
			add(i, a.m.Insts[i+1].Inst.Addr)
		}
		if op.Has(bytecode.FlagBranch) {
			add(i, in.Target())
		}
		if op.Has(bytecode.FlagSwitch) {
			if p, ok := a.payloadIndex(in.Target()); ok {
				pl := a.m.Insts[p].Inst
				var targets []int32
				switch {
				case pl.Packed != nil:
					targets = pl.Packed.Targets
				case pl.Sparse != nil:
					targets = pl.Sparse.Targets
				}
				for _, t := range targets {
					add(i, in.Addr+int(t))
				}
			}
		}
		if op.Has(bytecode.FlagCanThrow) {
			for _, t := range a.tries {
				if in.Addr >= t.Start && in.Addr < t.End() {
					for _, h := range t.Handlers {
						add(i, h.Addr)
					}
					if t.HasCatchAll() {
						add(i, t.CatchAll)
					}
				}
			}
		}
	}
	a.m.Insts[0].Preds = append(a.m.Insts[0].Preds, Entry)
	for i, ss := range a.succs {
		for _, s := range ss {
			if !slices.Contains(a.m.Insts[s].Preds, i) {
				a.m.Insts[s].Preds = append(a.m.Insts[s].Preds, i)
			}
		}
	}
}

func (a *analyzer) run() {
	n := len(a.m.Insts)
	visited := make([]bool, n)
	queued := make([]bool, n)
	work := []int{0}
	queued[0] = true
	for steps := 0; len(work) > 0 && steps < 64*n+1024; steps++ {
		i := work[0]
		work = work[1:]
		queued[i] = false
		ins := &a.m.Insts[i]
		pre := make([]RegisterType, a.m.Registers)
		for _, p := range ins.Preds {
			if p != Entry && !visited[p] {
				continue
			}
			for r := range pre {
				pre[r] = Merge(pre[r], a.m.PredPost(p, r))
			}
		}
		if visited[i] && slices.Equal(pre, ins.Pre) {
			continue
		}
		visited[i] = true
		ins.Pre = pre
		ins.Post = a.transfer(i, pre)
		for _, s := range a.succs[i] {
			if !queued[s] {
				queued[s] = true
				work = append(work, s)
			}
		}
	}
	for i := range a.m.Insts {
		if a.m.Insts[i].Pre == nil {
			a.m.Insts[i].Pre = make([]RegisterType, a.m.Registers)
			a.m.Insts[i].Post = make([]RegisterType, a.m.Registers)
		}
	}
}

func (a *analyzer) resultType(i int) RegisterType {
	if i < 0 {
		return cat(Conflict)
	}
	in := a.m.Insts[i].Inst
	switch in.Op.Ref {
	case bytecode.RefType:
		if t, err := a.r.Type(in.Index); err == nil {
			return ref(t)
		}
	case bytecode.RefMethod:
		if m, err := a.r.Method(in.Index); err == nil {
			if m.Proto.Return == "V" {
				return cat(Conflict)
			}
			return typeOf(m.Proto.Return)
		}
	}
	return cat(Conflict)
}

func (a *analyzer) exceptionType(addr int) string {
	found := ""
	for _, t := range a.tries {
		for _, h := range t.Handlers {
			if h.Addr != addr {
				continue
			}
			if found == "" {
				found = h.Type
			} else if found != h.Type {
				found = "Ljava/lang/Throwable;"
			}
		}
		if t.HasCatchAll() && t.CatchAll == addr {
			found = "Ljava/lang/Throwable;"
		}
	}
	if found == "" {
		return "Ljava/lang/Throwable;"
	}
	return found
}

func conversionTarget(name string) RegisterType {
	_, to, _ := strings.Cut(name, "-to-")
	switch to {
	case "int":
		return cat(Integer)
	case "long":
		return cat(LongLo)
	case "float":
		return cat(Float)
	case "double":
		return cat(DoubleLo)
	case "byte":
		return cat(Byte)
	case "char":
		return cat(Char)
	case "short":
		return cat(Short)
	}
	return cat(Integer)
}

func suffixType(name string) RegisterType {
	switch {
	case strings.Contains(name, "-wide"):
		return cat(LongLo)
	case strings.Contains(name, "-object"):
		return ref(objectType)
	case strings.Contains(name, "-boolean"):
		return cat(Boolean)
	case strings.Contains(name, "-byte"):
		return cat(Byte)
	case strings.Contains(name, "-char"):
		return cat(Char)
	case strings.Contains(name, "-short"):
		return cat(Short)
	}
	return cat(Integer)
}

func arithmeticType(name string) RegisterType {
	switch {
	case strings.Contains(name, "-to-"):
		return conversionTarget(name)
	case strings.Contains(name, "-long"):
		return cat(LongLo)
	case strings.Contains(name, "-double"):
		return cat(DoubleLo)
	case strings.Contains(name, "-float"):
		return cat(Float)
	}
	return cat(Integer)
}

func (a *analyzer) transfer(i int, pre []RegisterType) []RegisterType {
	in := a.m.Insts[i].Inst
	op := in.Op
	post := slices.Clone(pre)
	set := func(r int, t RegisterType) {
		if r < 0 || r >= len(post) {
			return
		}
		post[r] = t
		if isWide(t.Category) && r+1 < len(post) {
			post[r+1] = cat(hiOf(t.Category))
		}
	}
	name := op.Name
	switch {
	case strings.HasPrefix(name, "move-result"):
		set(in.A, a.resultType(i-1))
	case name == "move-exception":
		set(in.A, ref(a.exceptionType(in.Addr)))
	case strings.HasPrefix(name, "move"):
		if in.B < len(pre) && in.A < len(post) {
			post[in.A] = pre[in.B]
			if op.Has(bytecode.FlagSetsWide) && in.A+1 < len(post) && in.B+1 < len(pre) {
				post[in.A+1] = pre[in.B+1]
			}
		}
	case strings.HasPrefix(name, "const"):
		switch op.Ref {
		case bytecode.RefString:
			set(in.A, ref("Ljava/lang/String;"))
		case bytecode.RefType:
			set(in.A, ref("Ljava/lang/Class;"))
		case bytecode.RefMethodHandle:
			set(in.A, ref("Ljava/lang/invoke/MethodHandle;"))
		case bytecode.RefProto:
			set(in.A, ref("Ljava/lang/invoke/MethodType;"))
		default:
			if op.Has(bytecode.FlagSetsWide) {
				set(in.A, cat(LongLo))
			} else {
				set(in.A, literalType(in.Literal))
			}
		}
	case name == "check-cast", name == "new-array":
		if t, err := a.r.Type(in.Index); err == nil {
			set(in.A, ref(t))
		}
	case name == "new-instance":
		if t, err := a.r.Type(in.Index); err == nil {
			set(in.A, RegisterType{UninitRef, t})
		}
	case name == "instance-of":
		set(in.A, cat(Boolean))
	case name == "array-length":
		set(in.A, cat(Integer))
	case strings.HasPrefix(name, "cmp"):
		set(in.A, cat(Byte))
	case strings.HasPrefix(name, "aget"):
		t := suffixType(name)
		if name == "aget-object" && in.B < len(pre) {
			if at := pre[in.B].Type; len(at) > 1 && at[0] == '[' {
				t = typeOf(at[1:])
			}
		}
		set(in.A, t)
	case op.Ref == bytecode.RefField && op.Has(bytecode.FlagSetsRegister):
		if f, err := a.r.Field(in.Index); err == nil {
			set(in.A, typeOf(f.Type))
		} else {
			set(in.A, suffixType(name))
		}
	case op.Ref == bytecode.RefFieldOffset && op.Has(bytecode.FlagSetsRegister):
		set(in.A, suffixType(name))
	case strings.HasPrefix(name, "invoke-direct") || name == "invoke-object-init/range":
		a.initReceiver(in, pre, post)
	case op.Has(bytecode.FlagSetsRegister) && op.Format != bytecode.Format35c && op.Format != bytecode.Format3rc:
		set(in.A, arithmeticType(name))
	}
	return post
}

// initReceiver marks every copy of an uninitialized receiver as
// initialized once its constructor is invoked.
func (a *analyzer) initReceiver(in *bytecode.Instruction, pre, post []RegisterType) {
	regs := in.RegisterList()
	if len(regs) == 0 || regs[0] >= len(pre) {
		return
	}
	m, err := a.r.Method(in.Index)
	if err != nil || m.Name != "<init>" {
		return
	}
	recv := pre[regs[0]]
	if recv.Category != UninitRef && recv.Category != UninitThis {
		return
	}
	t := recv.Type
	if t == "" {
		t = m.Class
	}
	for r := range post {
		if pre[r] == recv {
			post[r] = ref(t)
		}
	}
}

// Operands returns every register an instruction names, destination
// included, in operand order.
func Operands(in *bytecode.Instruction) []int {
	switch in.Op.Format {
	case bytecode.Format11n, bytecode.Format11x, bytecode.Format21t, bytecode.Format21s,
		bytecode.Format21ih, bytecode.Format21lh, bytecode.Format21c, bytecode.Format31i,
		bytecode.Format31t, bytecode.Format31c, bytecode.Format51l:
		return []int{in.A}
	case bytecode.Format12x, bytecode.Format22x, bytecode.Format32x, bytecode.Format22t,
		bytecode.Format22s, bytecode.Format22b, bytecode.Format22c, bytecode.Format22cs:
		return []int{in.A, in.B}
	case bytecode.Format23x:
		return []int{in.A, in.B, in.C}
	}
	return in.RegisterList()
}

// reads returns the registers an instruction consumes.
func reads(in *bytecode.Instruction) []int {
	ops := Operands(in)
	name := in.Op.Name
	if in.Op.Has(bytecode.FlagSetsRegister) && len(ops) > 0 && !strings.HasSuffix(name, "/2addr") {
		switch in.Op.Format {
		case bytecode.Format35c, bytecode.Format3rc, bytecode.Format45cc, bytecode.Format4rcc,
			bytecode.Format35mi, bytecode.Format3rmi, bytecode.Format35ms, bytecode.Format3rms:
		default:
			ops = ops[1:]
		}
	}
	return ops
}

func (a *analyzer) validate() {
	for i := range a.m.Insts {
		ins := &a.m.Insts[i]
		in := ins.Inst
		if in.Op.Format.IsPayload() || len(ins.Preds) == 0 {
			continue
		}
		for _, r := range Operands(in) {
			if r >= a.m.Registers {
				a.fail(in.Addr, fmt.Sprintf("register v%d out of range for %d registers", r, a.m.Registers))
				return
			}
		}
		for _, r := range reads(in) {
			switch ins.Pre[r].Category {
			case Uninit:
				a.fail(in.Addr, fmt.Sprintf("%s reads v%d before it is assigned", in.Op.Name, r))
				return
			case Conflict:
				a.fail(in.Addr, fmt.Sprintf("%s reads v%d holding conflicting types", in.Op.Name, r))
				return
			}
		}
	}
}

func (a *analyzer) fail(addr int, msg string) {
	if a.m.Err == nil {
		a.m.Err = &dexfmt.AnalysisValidationError{Address: addr, Msg: msg}
	}
}
