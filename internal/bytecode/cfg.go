package bytecode

import (
	"fmt"
	"sort"
)

// BasicBlock is a run of instructions with a single entry point.
type BasicBlock struct {
	ID      int
	Start   int    // index into FuncCFG.Insts (inclusive)
	End     int    // index into FuncCFG.Insts (exclusive)
	Succs   []Succ // successor edges
	IsEntry bool
	IsTerm  bool // ends with a return, throw or payload
}

// Succ is a control-flow successor edge.
type Succ struct {
	BlockID int
	// Cond is "" for unconditional edges, "T"/"F" for if branches,
	// "case N" for switch arms and "catch" for exception edges.
	Cond string
}

// TryRange is a protected range [Start, End) with its handler addresses.
type TryRange struct {
	Start, End int
	Handlers   []int
}

// FuncCFG is a per-method control flow graph.
type FuncCFG struct {
	Name   string
	Blocks []BasicBlock
	Insts  []Instruction
}

// BuildCFG constructs a control flow graph from a method's instructions.
// The algorithm:
//  1. Find block leaders: index 0, branch and switch targets, handler
//     entries, try boundaries and instructions after terminators.
//  2. Partition instructions into blocks by leaders.
//  3. Compute successor edges from each block's last instruction, then
//     add catch edges from blocks containing throwing instructions.
func BuildCFG(name string, insts []Instruction, tries []TryRange) FuncCFG {
	if len(insts) == 0 {
		return FuncCFG{Name: name, Insts: insts}
	}

	addrToIdx := make(map[int]int, len(insts))
	for i := range insts {
		addrToIdx[insts[i].Addr] = i
	}
	lookup := func(addr int) *Instruction {
		if i, ok := addrToIdx[addr]; ok {
			return &insts[i]
		}
		return nil
	}

	// Pass 1: leaders.
	leaders := map[int]bool{0: true}
	mark := func(addr int) {
		if i, ok := addrToIdx[addr]; ok {
			leaders[i] = true
		}
	}
	for i := range insts {
		in := &insts[i]
		if !IsBranchTerminator(in) {
			continue
		}
		if i+1 < len(insts) {
			leaders[i+1] = true
		}
		if bi := DecodeBranch(in, lookup); bi != nil {
			for _, t := range bi.Targets {
				mark(t)
			}
		}
		if in.Op.Format.IsPayload() {
			leaders[i] = true
		}
	}
	for _, t := range tries {
		mark(t.Start)
		mark(t.End)
		for _, h := range t.Handlers {
			mark(h)
		}
	}

	sorted := make([]int, 0, len(leaders))
	for idx := range leaders {
		sorted = append(sorted, idx)
	}
	sort.Ints(sorted)

	// Pass 2: partition.
	blocks := make([]BasicBlock, len(sorted))
	leaderToBlock := make(map[int]int, len(sorted))
	for i, start := range sorted {
		end := len(insts)
		if i+1 < len(sorted) {
			end = sorted[i+1]
		}
		blocks[i] = BasicBlock{ID: i, Start: start, End: end, IsEntry: start == 0}
		leaderToBlock[start] = i
	}
	blockAt := func(addr int) (int, bool) {
		idx, ok := addrToIdx[addr]
		if !ok {
			return 0, false
		}
		b, ok := leaderToBlock[idx]
		return b, ok
	}

	// Pass 3: successors.
	for i := range blocks {
		blk := &blocks[i]
		last := &insts[blk.End-1]
		if last.Op.Format.IsPayload() {
			blk.IsTerm = true
			continue
		}
		bi := DecodeBranch(last, lookup)
		next, hasNext := leaderToBlock[blk.End]

		switch {
		case bi == nil:
			if hasNext {
				blk.Succs = append(blk.Succs, Succ{BlockID: next})
			}
		case bi.IsRet, bi.IsThrow:
			blk.IsTerm = true
		case bi.Switch:
			keys := switchKeys(last, lookup)
			for k, t := range bi.Targets {
				if b, ok := blockAt(t); ok {
					blk.Succs = append(blk.Succs, Succ{BlockID: b, Cond: keys(k)})
				}
			}
			if hasNext {
				blk.Succs = append(blk.Succs, Succ{BlockID: next, Cond: "default"})
			}
		case bi.Cond:
			if b, ok := blockAt(bi.Targets[0]); ok {
				blk.Succs = append(blk.Succs, Succ{BlockID: b, Cond: "T"})
			}
			if hasNext {
				blk.Succs = append(blk.Succs, Succ{BlockID: next, Cond: "F"})
			}
		default:
			if b, ok := blockAt(bi.Targets[0]); ok {
				blk.Succs = append(blk.Succs, Succ{BlockID: b})
			} else {
				blk.IsTerm = true
			}
		}

		for _, t := range tries {
			if !blockThrowsIn(insts[blk.Start:blk.End], t) {
				continue
			}
			for _, h := range t.Handlers {
				if b, ok := blockAt(h); ok && !hasSucc(blk.Succs, b, "catch") {
					blk.Succs = append(blk.Succs, Succ{BlockID: b, Cond: "catch"})
				}
			}
		}
	}

	return FuncCFG{Name: name, Blocks: blocks, Insts: insts}
}

func switchKeys(in *Instruction, lookup PayloadLookup) func(int) string {
	p := lookup(in.Target())
	return func(i int) string {
		switch {
		case p != nil && p.Packed != nil:
			return fmt.Sprintf("case %d", int64(p.Packed.FirstKey)+int64(i))
		case p != nil && p.Sparse != nil:
			return fmt.Sprintf("case %d", p.Sparse.Keys[i])
		}
		return "case"
	}
}

func blockThrowsIn(insts []Instruction, t TryRange) bool {
	for i := range insts {
		in := &insts[i]
		if in.Addr >= t.Start && in.Addr < t.End && in.Op.Has(FlagCanThrow) {
			return true
		}
	}
	return false
}

func hasSucc(succs []Succ, id int, cond string) bool {
	for _, s := range succs {
		if s.BlockID == id && s.Cond == cond {
			return true
		}
	}
	return false
}
