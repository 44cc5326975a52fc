package bytecode

// Dalvik control transfer detection. These functions identify basic-block
// terminators and extract branch targets in code units.

// BranchInfo describes how an instruction transfers control.
type BranchInfo struct {
	Targets []int // absolute targets; switch cases in payload order
	Cond    bool  // true if execution may also fall through
	IsRet   bool
	IsThrow bool
	Switch  bool
}

// PayloadLookup returns the instruction at a code address, or nil.
type PayloadLookup func(addr int) *Instruction

// DecodeBranch returns the control transfer of in, or nil if in simply
// falls through. Switch targets are read from the payload found through
// lookup; a missing payload yields a switch with no case targets.
func DecodeBranch(in *Instruction, lookup PayloadLookup) *BranchInfo {
	op := in.Op
	switch {
	case op.Has(FlagReturn):
		return &BranchInfo{IsRet: true}
	case op.Name == "throw", op.Format == Format20bc:
		return &BranchInfo{IsThrow: true}
	case op.Has(FlagBranch):
		return &BranchInfo{Targets: []int{in.Target()}, Cond: op.Has(FlagContinue)}
	case op.Has(FlagSwitch):
		bi := &BranchInfo{Switch: true, Cond: true}
		if lookup == nil {
			return bi
		}
		p := lookup(in.Target())
		if p == nil {
			return bi
		}
		var rel []int32
		switch {
		case op.Value == 0x2b && p.Packed != nil:
			rel = p.Packed.Targets
		case op.Value == 0x2c && p.Sparse != nil:
			rel = p.Sparse.Targets
		}
		for _, t := range rel {
			bi.Targets = append(bi.Targets, in.Addr+int(t))
		}
		return bi
	}
	return nil
}

// IsBranchTerminator reports whether in ends a basic block. Invokes do not:
// calls return to the next instruction.
func IsBranchTerminator(in *Instruction) bool {
	return DecodeBranch(in, nil) != nil || in.Op.Format.IsPayload()
}
