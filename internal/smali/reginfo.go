package smali

import (
	"slices"
	"strconv"

	"undex/internal/analysis"
)

type regSet []bool

func (s regSet) addAll() {
	for i := range s {
		s[i] = true
	}
}

func (s regSet) add(r int) {
	if r >= 0 && r < len(s) {
		s[r] = true
	}
}

func (s regSet) list() []int {
	var out []int
	for r, ok := range s {
		if ok {
			out = append(out, r)
		}
	}
	return out
}

// mergeRegisters lists registers whose incoming types differ between
// predecessors.
func (mr *methodRenderer) mergeRegisters(ai *analysis.Instruction) regSet {
	set := make(regSet, mr.an.Registers)
	if len(ai.Preds) <= 1 {
		return set
	}
	for r := range set {
		merged := ai.Pre[r]
		for _, p := range ai.Preds {
			t := mr.an.PredPost(p, r)
			if t.Category != analysis.Unknown && t != merged {
				set[r] = true
			}
		}
	}
	return set
}

func (mr *methodRenderer) addParamRegisters(set regSet) {
	for r := mr.an.Registers - mr.an.Params; r < mr.an.Registers; r++ {
		set.add(r)
	}
}

// preRegisters selects the registers described before instruction i, and
// the subset shown with full merge detail. prev is the pre-state of the
// preceding instruction, or the entry state for the first one.
func (mr *methodRenderer) preRegisters(i int, prev []analysis.RegisterType) (regs, full []int) {
	ri := mr.cr.opts.RegisterInfo
	ai := &mr.an.Insts[i]
	set := make(regSet, mr.an.Registers)
	var merge regSet
	switch {
	case ri&(RegInfoAll|RegInfoAllPre) != 0:
		set.addAll()
	default:
		if ri&RegInfoArgs != 0 {
			for _, r := range analysis.Operands(ai.Inst) {
				set.add(r)
			}
		}
		if ri&RegInfoMerge != 0 {
			if ai.IsBeginning() {
				mr.addParamRegisters(set)
			}
			merge = mr.mergeRegisters(ai)
		} else if ri&RegInfoFullMerge != 0 && ai.IsBeginning() {
			mr.addParamRegisters(set)
		}
	}
	if ri&RegInfoFullMerge != 0 {
		if merge == nil {
			merge = mr.mergeRegisters(ai)
		}
		for r, ok := range merge {
			if ok {
				set[r] = true
			}
		}
	} else if merge != nil {
		for r, ok := range merge {
			if ok {
				set[r] = true
			}
		}
		merge = nil
	}
	if ri&RegInfoDiff != 0 {
		for r := range set {
			if r < len(prev) && ai.Pre[r] != prev[r] {
				set[r] = true
			}
		}
	}
	return set.list(), merge.list()
}

func (mr *methodRenderer) postRegisters(i int) []int {
	ri := mr.cr.opts.RegisterInfo
	ai := &mr.an.Insts[i]
	set := make(regSet, mr.an.Registers)
	switch {
	case ri&(RegInfoAll|RegInfoAllPost) != 0:
		set.addAll()
	case ri&RegInfoDest != 0:
		for r := range set {
			if ai.Pre[r] != ai.Post[r] {
				set[r] = true
			}
		}
	}
	return set.list()
}

func (mr *methodRenderer) writeFullMerge(w *Writer, ai *analysis.Instruction, r int) {
	w.WriteString(mr.rf.reg(r) + "=" + ai.Pre[r].String() + ":merge{")
	for j, p := range ai.Preds {
		if j > 0 {
			w.WriteString(",")
		}
		if p == analysis.Entry {
			w.WriteString("Start:")
		} else {
			w.WriteString("0x" + strconv.FormatInt(int64(mr.an.Insts[p].Inst.Addr), 16) + ":")
		}
		w.WriteString(mr.an.PredPost(p, r).String())
	}
	w.WriteString("}")
}

func (mr *methodRenderer) writePreRegisters(w *Writer, it *methodItem) bool {
	if len(it.regs) == 0 {
		return false
	}
	ai := &mr.an.Insts[it.inst]
	w.WriteString("#")
	prevFull := false
	for j, r := range it.regs {
		if slices.Contains(it.merge, r) {
			if j > 0 {
				w.WriteString("\n#")
			}
			mr.writeFullMerge(w, ai, r)
			prevFull = true
			continue
		}
		if prevFull {
			w.WriteString("\n#")
			prevFull = false
		}
		w.WriteString(mr.rf.reg(r) + "=" + ai.Pre[r].String() + ";")
	}
	return true
}

func (mr *methodRenderer) writePostRegisters(w *Writer, it *methodItem) bool {
	if len(it.regs) == 0 {
		return false
	}
	ai := &mr.an.Insts[it.inst]
	w.WriteString("#")
	for _, r := range it.regs {
		w.WriteString(mr.rf.reg(r) + "=" + ai.Post[r].String() + ";")
	}
	return true
}
