package callgraph

import (
	"github.com/zboralski/lattice"

	"undex/internal/bytecode"
)

// BuildCFG constructs a lattice.CFGGraph from collected methods. Methods
// without code are skipped.
func BuildCFG(methods []MethodInfo) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	for _, m := range methods {
		if len(m.Insts) == 0 {
			continue
		}
		lcfg, _ := BuildFuncCFG(m)
		cg.Funcs = append(cg.Funcs, lcfg)
	}
	return cg
}

// BuildFuncCFG builds a single-method lattice.FuncCFG.
// Returns the FuncCFG and the number of basic blocks (for filtering trivial methods).
func BuildFuncCFG(m MethodInfo) (*lattice.FuncCFG, int) {
	bcfg := bytecode.BuildCFG(m.Name, m.Insts, m.Tries)
	return convertFuncCFG(&bcfg, m.Calls), len(bcfg.Blocks)
}

// convertFuncCFG maps a bytecode.FuncCFG to a lattice.FuncCFG.
// Invoke edges are placed in blocks by matching instruction addresses.
func convertFuncCFG(bcfg *bytecode.FuncCFG, calls []Edge) *lattice.FuncCFG {
	byAddr := make(map[int]Edge, len(calls))
	for _, e := range calls {
		byAddr[e.Addr] = e
	}

	lcfg := &lattice.FuncCFG{Name: bcfg.Name}
	for _, bb := range bcfg.Blocks {
		lb := &lattice.BasicBlock{
			ID:    bb.ID,
			Start: bb.Start,
			End:   bb.End,
			Term:  bb.IsTerm,
		}
		for _, s := range bb.Succs {
			lb.Succs = append(lb.Succs, lattice.Successor{
				BlockID: s.BlockID,
				Cond:    s.Cond,
			})
		}
		for idx := bb.Start; idx < bb.End && idx < len(bcfg.Insts); idx++ {
			if e, ok := byAddr[bcfg.Insts[idx].Addr]; ok && e.Callee != "" {
				lb.Calls = append(lb.Calls, lattice.CallSite{
					Offset: idx,
					Callee: e.Callee,
				})
			}
		}
		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}
