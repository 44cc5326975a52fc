package bytecode

import "testing"

func mustDecode(t *testing.T, units ...uint16) []Instruction {
	t.Helper()
	insts, err := DecodeAll(code(units...), NewOpcodeSet(35, false))
	if err != nil {
		t.Fatal(err)
	}
	return insts
}

func TestDecodeBranch(t *testing.T) {
	insts := mustDecode(t,
		0x0038, 0x0003, // 0: if-eqz v0, +3
		0x0128, //         2: goto -... (offset 1)
		0x000e, //         3: return-void
		0x0027, //         4: throw v0
	)
	bi := DecodeBranch(&insts[0], nil)
	if bi == nil || !bi.Cond || len(bi.Targets) != 1 || bi.Targets[0] != 3 {
		t.Errorf("if-eqz = %+v", bi)
	}
	bi = DecodeBranch(&insts[1], nil)
	if bi == nil || bi.Cond || bi.Targets[0] != 3 {
		t.Errorf("goto = %+v", bi)
	}
	if bi := DecodeBranch(&insts[2], nil); bi == nil || !bi.IsRet {
		t.Errorf("return-void = %+v", bi)
	}
	if bi := DecodeBranch(&insts[3], nil); bi == nil || !bi.IsThrow {
		t.Errorf("throw = %+v", bi)
	}
}

func TestBuildCFG_Linear(t *testing.T) {
	insts := mustDecode(t, 0x0012, 0x0000, 0x000e)
	cfg := BuildCFG("linear", insts, nil)
	if len(cfg.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(cfg.Blocks))
	}
	blk := cfg.Blocks[0]
	if blk.Start != 0 || blk.End != 3 || !blk.IsTerm || !blk.IsEntry {
		t.Errorf("block = %+v", blk)
	}
}

func TestBuildCFG_ConditionalBranch(t *testing.T) {
	//   0: if-eqz v0, +4   -> 4
	//   2: const/4 v0, 1
	//   3: return-void
	//   4: return-void
	insts := mustDecode(t, 0x0038, 0x0004, 0x1012, 0x000e, 0x000e)
	cfg := BuildCFG("cond", insts, nil)
	if len(cfg.Blocks) != 3 {
		t.Fatalf("blocks = %d, want 3", len(cfg.Blocks))
	}
	b0 := cfg.Blocks[0]
	if len(b0.Succs) != 2 || b0.Succs[0] != (Succ{BlockID: 2, Cond: "T"}) || b0.Succs[1] != (Succ{BlockID: 1, Cond: "F"}) {
		t.Errorf("B0 succs = %+v", b0.Succs)
	}
	if !cfg.Blocks[1].IsTerm || !cfg.Blocks[2].IsTerm {
		t.Error("return blocks should be terminal")
	}
}

func TestBuildCFG_PackedSwitch(t *testing.T) {
	//   0: packed-switch v0, +6
	//   3: return-void
	//   4: return-void
	//   5: nop (padding)
	//   6: packed-switch-payload first=0 targets [+3, +4]
	insts := mustDecode(t,
		0x002b, 0x0006, 0x0000,
		0x000e,
		0x000e,
		0x0000,
		0x0100, 2, 0, 0, 3, 0, 4, 0,
	)
	cfg := BuildCFG("switch", insts, nil)
	b0 := cfg.Blocks[0]
	var cases, defaults int
	for _, s := range b0.Succs {
		switch s.Cond {
		case "case 0", "case 1":
			cases++
		case "default":
			defaults++
		}
	}
	if cases != 2 || defaults != 1 {
		t.Errorf("switch succs = %+v", b0.Succs)
	}
	last := cfg.Blocks[len(cfg.Blocks)-1]
	if !cfg.Insts[last.Start].Op.Format.IsPayload() || !last.IsTerm {
		t.Errorf("payload block = %+v", last)
	}
}

func TestBuildCFG_CatchEdges(t *testing.T) {
	//   0: invoke-static {}, method@0   (try 0..3)
	//   3: return-void
	//   4: move-exception v0            (handler)
	//   5: return-void
	insts := mustDecode(t, 0x0071, 0x0000, 0x0000, 0x000e, 0x000d, 0x000e)
	cfg := BuildCFG("try", insts, []TryRange{{Start: 0, End: 3, Handlers: []int{4}}})
	b0 := cfg.Blocks[0]
	found := false
	for _, s := range b0.Succs {
		if s.Cond == "catch" {
			found = true
			if cfg.Insts[cfg.Blocks[s.BlockID].Start].Addr != 4 {
				t.Errorf("catch edge to block at 0x%x", cfg.Insts[cfg.Blocks[s.BlockID].Start].Addr)
			}
		}
	}
	if !found {
		t.Errorf("no catch edge: %+v", b0.Succs)
	}
}
