package callgraph

import (
	"testing"

	"github.com/zboralski/lattice/render"

	"undex/internal/bytecode"
	"undex/internal/dexfile"
	"undex/internal/dextest"
)

// sample builds:
//
//	LA;->main()V
//	  0: invoke-static {}, LB;->foo()V
//	  3: if-eqz v0, +6          ; -> 9
//	  5: invoke-static {}, LB;->bar()V
//	  8: return-void
//	  9: invoke-virtual {v0}, LB;->baz()V
//	 12: return-void
//	LA;->idle()V                ; abstract, no code
func sample(t *testing.T) (*dexfile.File, []MethodInfo) {
	t.Helper()
	b := dextest.New()
	foo := b.Method("LB;", "foo", "V")
	bar := b.Method("LB;", "bar", "V")
	baz := b.Method("LB;", "baz", "V")
	b.AddClass(&dextest.Class{
		Type:  "LA;",
		Super: "Ljava/lang/Object;",
		Flags: 0x401,
		DirectMethods: []dextest.Method{{
			Name: "main", Return: "V", Flags: 0x9,
			Code: &dextest.Code{
				Registers: 1,
				Insns: []uint16{
					0x0071, uint16(foo), 0x0000,
					0x0038, 0x0006,
					0x0071, uint16(bar), 0x0000,
					0x000e,
					0x106e, uint16(baz), 0x0000,
					0x000e,
				},
			},
		}},
		VirtualMethods: []dextest.Method{{Name: "idle", Return: "V", Flags: 0x401}},
	})
	f, err := dexfile.Open(b.Build(), true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	c, err := f.Class(0)
	if err != nil {
		t.Fatal(err)
	}
	methods, err := Collect(f, bytecode.NewOpcodeSet(f.Version(), false), c)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return f, methods
}

func TestCollect(t *testing.T) {
	_, methods := sample(t)
	if len(methods) != 2 {
		t.Fatalf("Collect() = %d methods, want 2", len(methods))
	}
	m := methods[0]
	if m.Name != "LA;->main()V" || m.Class != "LA;" {
		t.Errorf("method = %q in %q", m.Name, m.Class)
	}
	want := []Edge{
		{"LA;->main()V", "LB;->foo()V", "static", 0},
		{"LA;->main()V", "LB;->bar()V", "static", 5},
		{"LA;->main()V", "LB;->baz()V", "virtual", 9},
	}
	if len(m.Calls) != len(want) {
		t.Fatalf("Calls = %+v", m.Calls)
	}
	for i, e := range want {
		if m.Calls[i] != e {
			t.Errorf("Calls[%d] = %+v, want %+v", i, m.Calls[i], e)
		}
	}
	if methods[1].Name != "LA;->idle()V" || len(methods[1].Insts) != 0 {
		t.Errorf("abstract method = %+v", methods[1])
	}
}

func TestCollect_SkipsUnresolvableMethod(t *testing.T) {
	b := dextest.New()
	var ms []dextest.Method
	for _, n := range []string{"a", "b", "c"} {
		b.Method("LA;", n, "V")
		ms = append(ms, dextest.Method{
			Name: n, Return: "V", Flags: 0x9,
			Code: &dextest.Code{Registers: 1, Insns: []uint16{0x000e}},
		})
	}
	b.AddClass(&dextest.Class{Type: "LA;", Super: "Ljava/lang/Object;", DirectMethods: ms})
	data := b.Build()
	dextest.SetMethodProto(data, 1, 0xfff0)
	f, err := dexfile.Open(data, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	c, err := f.Class(0)
	if err != nil {
		t.Fatal(err)
	}
	methods, err := Collect(f, bytecode.NewOpcodeSet(f.Version(), false), c)
	if err == nil {
		t.Error("Collect() error = nil, want the unresolvable method's error")
	}
	if len(methods) != 2 || methods[0].Name != "LA;->a()V" || methods[1].Name != "LA;->c()V" {
		t.Errorf("Collect() = %+v, want a and c", methods)
	}
}

func TestInvokeKind(t *testing.T) {
	tests := []struct {
		op, want string
	}{
		{"invoke-virtual", "virtual"},
		{"invoke-static/range", "static"},
		{"invoke-super-quick/range", "super"},
		{"invoke-object-init/range", "direct"},
		{"invoke-custom", "custom"},
		{"invoke-polymorphic/range", "polymorphic"},
	}
	for _, tt := range tests {
		if got := InvokeKind(tt.op); got != tt.want {
			t.Errorf("InvokeKind(%q) = %q, want %q", tt.op, got, tt.want)
		}
	}
}

func TestDescribe(t *testing.T) {
	f, methods := sample(t)
	insts := methods[0].Insts
	tests := []struct {
		idx  int
		want string
	}{
		{0, "invoke-static LB;->foo()V"},
		{1, "if-eqz +6"},
		{3, "return-void"},
	}
	for _, tt := range tests {
		if got := Describe(f, &insts[tt.idx]); got != tt.want {
			t.Errorf("Describe(%d) = %q, want %q", tt.idx, got, tt.want)
		}
	}
}

func TestBuildCFG_DOTOutput(t *testing.T) {
	_, methods := sample(t)
	cfg := BuildCFG(methods)

	if len(cfg.Funcs) != 1 {
		t.Fatalf("expected 1 function, got %d", len(cfg.Funcs))
	}
	f := cfg.Funcs[0]
	if f.Name != "LA;->main()V" {
		t.Errorf("func name = %q", f.Name)
	}
	// entry, fall-through path, branch target
	if len(f.Blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(f.Blocks))
	}

	b0 := f.Blocks[0]
	if len(b0.Calls) != 1 || b0.Calls[0].Callee != "LB;->foo()V" {
		t.Errorf("B0 calls = %+v", b0.Calls)
	}
	if len(b0.Succs) != 2 || b0.Succs[0].BlockID != 2 || b0.Succs[0].Cond != "T" || b0.Succs[1].Cond != "F" {
		t.Errorf("B0 succs = %+v", b0.Succs)
	}

	b1 := f.Blocks[1]
	if len(b1.Calls) != 1 || b1.Calls[0].Callee != "LB;->bar()V" || !b1.Term {
		t.Errorf("B1 = %+v", b1)
	}
	b2 := f.Blocks[2]
	if len(b2.Calls) != 1 || b2.Calls[0].Callee != "LB;->baz()V" || b2.Calls[0].Offset != 4 {
		t.Errorf("B2 calls = %+v", b2.Calls)
	}

	dot := render.DOTCFG(cfg, "undex CFG example")
	if dot == "" {
		t.Error("expected non-empty DOT output")
	}
}

func TestBuildFuncCFG_Tries(t *testing.T) {
	insts, err := bytecode.DecodeAll([]byte{
		0x00, 0x00, // 0: nop
		0x27, 0x00, // 1: throw v0
		0x0e, 0x00, // 2: return-void
	}, bytecode.NewOpcodeSet(35, false))
	if err != nil {
		t.Fatal(err)
	}
	m := MethodInfo{
		Name:  "LA;->t()V",
		Insts: insts,
		Tries: []bytecode.TryRange{{Start: 0, End: 2, Handlers: []int{2}}},
	}
	lcfg, n := BuildFuncCFG(m)
	if n != 2 {
		t.Fatalf("blocks = %d, want 2", n)
	}
	var catch bool
	for _, s := range lcfg.Blocks[0].Succs {
		if s.Cond == "catch" && s.BlockID == 1 {
			catch = true
		}
	}
	if !catch {
		t.Errorf("B0 succs = %+v, want a catch edge to B1", lcfg.Blocks[0].Succs)
	}
}

func TestBuildCallGraph_DOTOutput(t *testing.T) {
	methods := []MethodInfo{
		{
			Name: "LMain;->main()V",
			Calls: []Edge{
				{Callee: "LFoo;-><init>()V", Kind: "direct"},
				{Callee: "LBar;->run()V", Kind: "virtual"},
				{Callee: "LBar;->run()V", Kind: "virtual"},
			},
		},
		{
			Name:  "LFoo;-><init>()V",
			Calls: []Edge{{Callee: "LLog;->d()V", Kind: "static"}},
		},
		{
			Name: "LBar;->run()V",
			Calls: []Edge{
				{Callee: "LLog;->d()V", Kind: "static"},
				{Callee: "", Kind: "virtual"},
			},
		},
		{Name: "LLog;->d()V"},
	}

	cg := BuildCallGraph(methods)

	if len(cg.Nodes) != 4 {
		t.Errorf("expected 4 nodes, got %d", len(cg.Nodes))
	}
	for _, e := range cg.Edges {
		if e.Callee == "" {
			t.Errorf("edge from %s has no callee", e.Caller)
		}
	}

	dot := render.DOT(cg, "undex call graph example")
	if dot == "" {
		t.Error("expected non-empty DOT output")
	}
}
