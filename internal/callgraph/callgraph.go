// Package callgraph maps decoded methods onto lattice graphs: one node per
// method with an edge per resolved invoke, and one basic-block CFG per
// method body.
package callgraph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zboralski/lattice"

	"undex/internal/bytecode"
	"undex/internal/dexfile"
)

// Edge is one invoke site.
type Edge struct {
	Caller string
	Callee string
	Kind   string // virtual, super, direct, static, interface, polymorphic, custom
	Addr   int    // code unit of the invoke
}

// MethodInfo holds the data needed to build call graph and CFG for one method.
type MethodInfo struct {
	Name  string // LA;->m()V
	Class string
	Insts []bytecode.Instruction
	Tries []bytecode.TryRange
	Calls []Edge
}

// InvokeKind returns the dispatch kind of an invoke opcode name:
// "invoke-virtual/range" and "invoke-virtual-quick" are both "virtual".
func InvokeKind(op string) string {
	k := strings.TrimPrefix(op, "invoke-")
	k = strings.TrimSuffix(k, "/range")
	k = strings.TrimSuffix(k, "-quick")
	if k == "object-init" {
		return "direct"
	}
	return k
}

// Callee resolves the target of an invoke. Odex vtable and inline slots
// are named by index.
func Callee(f *dexfile.File, in *bytecode.Instruction) string {
	switch in.Op.Ref {
	case bytecode.RefMethod:
		if m, err := f.Method(in.Index); err == nil {
			return m.String()
		}
		return fmt.Sprintf("method@%d", in.Index)
	case bytecode.RefCallSite:
		if cs, err := f.CallSite(in.Index); err == nil {
			return fmt.Sprintf("call_site_%d(%s%s)", in.Index, cs.MethodName, cs.MethodType.Descriptor())
		}
		return fmt.Sprintf("call_site_%d", in.Index)
	case bytecode.RefVtable:
		return fmt.Sprintf("vtable@%d", in.Index)
	case bytecode.RefInline:
		return fmt.Sprintf("inline@%d", in.Index)
	}
	return ""
}

// Describe returns a one-line text for an instruction: the opcode name and,
// when it has one, its resolved reference or branch target.
func Describe(f *dexfile.File, in *bytecode.Instruction) string {
	if in.Op.Has(bytecode.FlagInvoke) {
		return in.Op.Name + " " + Callee(f, in)
	}
	switch in.Op.Ref {
	case bytecode.RefString:
		if s, err := f.String(in.Index); err == nil {
			if len(s) > 40 {
				s = s[:37] + "..."
			}
			return fmt.Sprintf("%s %q", in.Op.Name, s)
		}
	case bytecode.RefType:
		if t, err := f.Type(in.Index); err == nil {
			return in.Op.Name + " " + t
		}
	case bytecode.RefField:
		if fr, err := f.Field(in.Index); err == nil {
			return in.Op.Name + " " + fr.String()
		}
	}
	if in.HasTarget() {
		return fmt.Sprintf("%s %+d", in.Op.Name, in.Offset)
	}
	return in.Op.Name
}

// Collect decodes every method body of c. Methods without code are kept
// as nodes with no instructions; methods that fail to decode are skipped
// and their errors joined.
func Collect(f *dexfile.File, set *bytecode.OpcodeSet, c *dexfile.ClassDef) ([]MethodInfo, error) {
	typ, err := c.Type()
	if err != nil {
		return nil, fmt.Errorf("callgraph: class %d: %w", c.Index, err)
	}
	var out []MethodInfo
	var errs []error
	for _, g := range []dexfile.Group{dexfile.DirectMethods, dexfile.VirtualMethods} {
		for m, err := range c.MethodGroup(g, true) {
			if err != nil {
				errs = append(errs, fmt.Errorf("callgraph: %s: %w", typ, err))
				continue
			}
			mi, err := FromMethod(f, set, m)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			out = append(out, mi)
		}
	}
	return out, errors.Join(errs...)
}

// FromMethod decodes one method body and its invoke sites.
func FromMethod(f *dexfile.File, set *bytecode.OpcodeSet, m *dexfile.Method) (MethodInfo, error) {
	mi := MethodInfo{Name: m.Ref.String(), Class: m.Ref.Class}
	code, err := m.Code()
	if err != nil {
		return mi, fmt.Errorf("callgraph: %s: %w", mi.Name, err)
	}
	if code == nil {
		return mi, nil
	}
	insts, err := bytecode.DecodeAll(code.Insns, set)
	if err != nil {
		return mi, fmt.Errorf("callgraph: %s: %w", mi.Name, err)
	}
	mi.Insts = insts
	for _, t := range code.Tries {
		tr := bytecode.TryRange{Start: t.Start, End: t.End()}
		for _, h := range t.Handlers {
			tr.Handlers = append(tr.Handlers, h.Addr)
		}
		if t.HasCatchAll() {
			tr.Handlers = append(tr.Handlers, t.CatchAll)
		}
		mi.Tries = append(mi.Tries, tr)
	}
	for i := range insts {
		in := &insts[i]
		if !in.Op.Has(bytecode.FlagInvoke) {
			continue
		}
		mi.Calls = append(mi.Calls, Edge{
			Caller: mi.Name,
			Callee: Callee(f, in),
			Kind:   InvokeKind(in.Op.Name),
			Addr:   in.Addr,
		})
	}
	return mi, nil
}

// BuildCallGraph constructs a lattice.Graph from collected methods.
// Each method becomes a node. Each invoke becomes an edge.
func BuildCallGraph(methods []MethodInfo) *lattice.Graph {
	g := &lattice.Graph{}
	for _, m := range methods {
		g.Nodes = append(g.Nodes, m.Name)
		for _, e := range m.Calls {
			if e.Callee == "" {
				continue
			}
			g.Edges = append(g.Edges, lattice.Edge{
				Caller: m.Name,
				Callee: e.Callee,
			})
		}
	}
	g.Dedup()
	return g
}
