package smali

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"undex/internal/bytecode"
	"undex/internal/dexfile"
)

// AccessKind classifies what a synthetic accessor does.
type AccessKind int

const (
	AccessMethod AccessKind = iota
	AccessGetter
	AccessSetter
	AccessPreIncrement
	AccessPostIncrement
	AccessPreDecrement
	AccessPostDecrement
	AccessAssignOp
)

// AccessedMember is the member a synthetic accessor forwards to.
type AccessedMember struct {
	Kind   AccessKind
	Op     string // operator of AccessAssignOp, e.g. "+="
	Member string
}

func (a AccessedMember) String() string {
	var p string
	switch a.Kind {
	case AccessMethod:
		p = "invokes: "
	case AccessGetter:
		p = "getter for: "
	case AccessSetter:
		p = "setter for: "
	case AccessPreIncrement:
		p = "++operator for: "
	case AccessPostIncrement:
		p = "operator++ for: "
	case AccessPreDecrement:
		p = "--operator for: "
	case AccessPostDecrement:
		p = "operator-- for: "
	case AccessAssignOp:
		p = a.Op + " operator for: "
	}
	return p + a.Member
}

// LooksLikeAccessor reports whether a method name has the javac synthetic
// accessor form.
func LooksLikeAccessor(name string) bool { return strings.HasPrefix(name, "access$") }

const accessorCacheSize = 4096

// AccessorResolver matches synthetic access$ methods of one container
// against known accessor bodies. Results are cached per method and the
// resolver is safe for concurrent use.
type AccessorResolver struct {
	f     *dexfile.File
	set   *bytecode.OpcodeSet
	cache *lru.Cache[string, *AccessedMember]
}

func NewAccessorResolver(f *dexfile.File, set *bytecode.OpcodeSet) *AccessorResolver {
	c, _ := lru.New[string, *AccessedMember](accessorCacheSize)
	return &AccessorResolver{f: f, set: set, cache: c}
}

// Resolve returns what the accessor ref does, if ref names a synthetic
// method defined in the container whose body matches an accessor shape.
func (a *AccessorResolver) Resolve(ref dexfile.MethodRef) (AccessedMember, bool) {
	key := ref.String()
	if am, ok := a.cache.Get(key); ok {
		if am == nil {
			return AccessedMember{}, false
		}
		return *am, true
	}
	am := a.resolve(ref)
	a.cache.Add(key, am)
	if am == nil {
		return AccessedMember{}, false
	}
	return *am, true
}

func (a *AccessorResolver) resolve(ref dexfile.MethodRef) *AccessedMember {
	c, ok, err := a.f.ClassByType(ref.Class)
	if err != nil || !ok {
		return nil
	}
	key := ref.String()
	for _, g := range []dexfile.Group{dexfile.DirectMethods, dexfile.VirtualMethods} {
		methods, _ := c.Methods(g)
		for _, m := range methods {
			if m.Ref.String() != key {
				continue
			}
			if !m.AccessFlags.Has(dexfile.AccSynthetic) {
				return nil
			}
			code, err := m.Code()
			if err != nil || code == nil {
				return nil
			}
			insts, err := bytecode.DecodeAll(code.Insns, a.set)
			if err != nil {
				return nil
			}
			return a.match(insts)
		}
	}
	return nil
}

func isReturn(in *bytecode.Instruction) bool { return in.Op.Has(bytecode.FlagReturn) }

func isGet(in *bytecode.Instruction) bool {
	n := in.Op.Name
	return in.Op.Ref == bytecode.RefField && (strings.HasPrefix(n, "iget") || strings.HasPrefix(n, "sget"))
}

func isPut(in *bytecode.Instruction) bool {
	n := in.Op.Name
	return in.Op.Ref == bytecode.RefField && (strings.HasPrefix(n, "iput") || strings.HasPrefix(n, "sput"))
}

var assignOps = map[string]string{
	"add": "+=", "sub": "-=", "mul": "*=", "div": "/=", "rem": "%=",
	"and": "&=", "or": "|=", "xor": "^=", "shl": "<<=", "shr": ">>=", "ushr": ">>>=",
}

// match recognises the instruction shapes javac and dx emit for accessors.
func (a *AccessorResolver) match(insts []bytecode.Instruction) *AccessedMember {
	n := len(insts)
	if n < 2 || !isReturn(&insts[n-1]) {
		return nil
	}
	first := &insts[0]
	member := func(in *bytecode.Instruction) (string, bool) {
		if in.Op.Ref == bytecode.RefField {
			r, err := a.f.Field(in.Index)
			return r.String(), err == nil
		}
		r, err := a.f.Method(in.Index)
		return r.String(), err == nil
	}
	switch {
	case first.Op.Has(bytecode.FlagInvoke) && first.Op.Ref == bytecode.RefMethod:
		if n > 3 || (n == 3 && !strings.HasPrefix(insts[1].Op.Name, "move-result")) {
			return nil
		}
		if m, ok := member(first); ok {
			return &AccessedMember{Kind: AccessMethod, Member: m}
		}
	case isGet(first) && n == 2:
		if m, ok := member(first); ok {
			return &AccessedMember{Kind: AccessGetter, Member: m}
		}
	case isPut(first) && n == 2:
		if m, ok := member(first); ok {
			return &AccessedMember{Kind: AccessSetter, Member: m}
		}
	case isGet(first):
		return a.matchReadModifyWrite(insts, member)
	}
	return nil
}

// matchReadModifyWrite handles get, [const], op, put, return sequences:
// increments, decrements and compound assignments.
func (a *AccessorResolver) matchReadModifyWrite(insts []bytecode.Instruction, member func(*bytecode.Instruction) (string, bool)) *AccessedMember {
	get := &insts[0]
	rest := insts[1 : len(insts)-1]
	ret := &insts[len(insts)-1]
	consts := make(map[int]int64)
	for len(rest) > 0 && strings.HasPrefix(rest[0].Op.Name, "const") {
		consts[rest[0].A] = rest[0].Literal
		rest = rest[1:]
	}
	if len(rest) != 2 || !isPut(&rest[1]) {
		return nil
	}
	op, put := &rest[0], &rest[1]
	if !op.Op.Has(bytecode.FlagSetsRegister) {
		return nil
	}
	base, _, _ := strings.Cut(op.Op.Name, "-")
	assign, ok := assignOps[base]
	if !ok {
		return nil
	}
	m, ok := member(get)
	if !ok {
		return nil
	}
	result := op.A
	var operand int64
	known := false
	switch op.Op.Format {
	case bytecode.Format22b, bytecode.Format22s:
		operand, known = op.Literal, true
	case bytecode.Format23x:
		operand, known = consts[op.C]
	case bytecode.Format12x:
		operand, known = consts[op.B]
	}
	if put.A != result {
		return nil
	}
	if known && (base == "add" || base == "sub") && (operand == 1 || operand == -1) {
		inc := (base == "add") == (operand == 1)
		switch {
		case ret.A == result && inc:
			return &AccessedMember{Kind: AccessPreIncrement, Member: m}
		case ret.A == result:
			return &AccessedMember{Kind: AccessPreDecrement, Member: m}
		case ret.A == get.A && inc:
			return &AccessedMember{Kind: AccessPostIncrement, Member: m}
		case ret.A == get.A:
			return &AccessedMember{Kind: AccessPostDecrement, Member: m}
		}
		return nil
	}
	return &AccessedMember{Kind: AccessAssignOp, Op: assign, Member: m}
}
