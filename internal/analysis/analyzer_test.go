package analysis

import (
	"testing"

	"undex/internal/bytecode"
	"undex/internal/dexfile"
	"undex/internal/dextest"
)

func analyze(t *testing.T, b *dextest.Builder) *Method {
	t.Helper()
	f, err := dexfile.Open(b.Build(), true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	c, err := f.Class(0)
	if err != nil {
		t.Fatal(err)
	}
	methods, err := c.DirectMethods()
	if err != nil || len(methods) == 0 {
		t.Fatalf("DirectMethods() = %v, %v", methods, err)
	}
	m := methods[0]
	code, err := m.Code()
	if err != nil {
		t.Fatal(err)
	}
	insts, err := bytecode.DecodeAll(code.Insns, bytecode.NewOpcodeSet(f.Version(), false))
	if err != nil {
		t.Fatal(err)
	}
	return Analyze(m, code, insts, f)
}

func method(b *dextest.Builder, flags uint32, ret string, params []string, code *dextest.Code) *dextest.Builder {
	b.AddClass(&dextest.Class{
		Type:  "LA;",
		Super: "Ljava/lang/Object;",
		DirectMethods: []dextest.Method{{
			Name: "m", Return: ret, Params: params, Flags: flags, Code: code,
		}},
	})
	return b
}

func TestMerge(t *testing.T) {
	tests := []struct {
		a, b, want RegisterType
	}{
		{cat(Unknown), cat(Integer), cat(Integer)},
		{cat(One), cat(PosByte), cat(PosByte)},
		{cat(One), cat(PosShort), cat(PosShort)},
		{cat(Byte), cat(Char), cat(Integer)},
		{cat(Null), cat(Integer), cat(Integer)},
		{cat(Null), ref("LA;"), ref("LA;")},
		{ref("LA;"), ref("LB;"), ref(objectType)},
		{ref("[LA;"), ref("[LB;"), ref("[Ljava/lang/Object;")},
		{ref("LA;"), cat(Integer), cat(Conflict)},
		{cat(LongLo), cat(DoubleLo), cat(LongLo)},
		{cat(LongHi), cat(Integer), cat(Conflict)},
		{cat(Conflict), cat(Integer), cat(Conflict)},
	}
	for _, tt := range tests {
		if got := Merge(tt.a, tt.b); got != tt.want {
			t.Errorf("Merge(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
		if got := Merge(tt.b, tt.a); got != tt.want {
			t.Errorf("Merge(%v, %v) = %v, want %v", tt.b, tt.a, got, tt.want)
		}
	}
}

func TestRegisterType_String(t *testing.T) {
	if s := cat(Integer).String(); s != "(Integer)" {
		t.Errorf("String() = %q", s)
	}
	if s := ref("LA;").String(); s != "(Reference,LA;)" {
		t.Errorf("String() = %q", s)
	}
}

func TestAnalyze_EntryState(t *testing.T) {
	b := method(dextest.New(), 0x1, "V", []string{"I", "J"}, &dextest.Code{
		Registers: 5, Ins: 4, Insns: []uint16{0x000e},
	})
	m := analyze(t, b)
	want := []RegisterType{cat(Uninit), ref("LA;"), cat(Integer), cat(LongLo), cat(LongHi)}
	for r, w := range want {
		if m.Start[r] != w {
			t.Errorf("Start[v%d] = %v, want %v", r, m.Start[r], w)
		}
	}
	if m.Params != 4 {
		t.Errorf("Params = %d, want 4", m.Params)
	}
	if !m.Insts[0].IsBeginning() {
		t.Error("first instruction is not reachable from entry")
	}
	if m.Err != nil {
		t.Errorf("Err = %v", m.Err)
	}
}

func TestAnalyze_BranchMerge(t *testing.T) {
	b := method(dextest.New(), 0x8, "V", []string{"I"}, &dextest.Code{
		Registers: 2, Ins: 1,
		Insns: []uint16{
			0x0138, 0x0004, // if-eqz v1, +4
			0x1012,         // const/4 v0, 1
			0x0328,         // goto +3
			0x0013, 0x1000, // const/16 v0, 0x1000
			0x000e,
		},
	})
	m := analyze(t, b)
	ret := m.Insts[len(m.Insts)-1]
	if len(ret.Preds) != 2 {
		t.Fatalf("return preds = %v, want 2", ret.Preds)
	}
	if ret.Pre[0] != cat(PosShort) {
		t.Errorf("merged v0 = %v, want (PosShort)", ret.Pre[0])
	}
	if got := m.PredPost(ret.Preds[0], 0); got.Category != One && got.Category != PosShort {
		t.Errorf("PredPost = %v", got)
	}
	if m.Err != nil {
		t.Errorf("Err = %v", m.Err)
	}
}

func TestAnalyze_ReadBeforeAssign(t *testing.T) {
	b := method(dextest.New(), 0x8, "I", nil, &dextest.Code{
		Registers: 1,
		Insns:     []uint16{0x000f}, // return v0
	})
	m := analyze(t, b)
	if m.Err == nil {
		t.Fatal("Err = nil, want a validation error")
	}
	if m.Err.Address != 0 {
		t.Errorf("Err.Address = %d, want 0", m.Err.Address)
	}
}

func TestAnalyze_NewInstance(t *testing.T) {
	b := dextest.New()
	typ := b.Type("LA;")
	ctor := b.Method("LA;", "<init>", "V")
	method(b, 0x8, "V", nil, &dextest.Code{
		Registers: 1,
		Insns: []uint16{
			0x0022, uint16(typ), // new-instance v0, LA;
			0x1070, uint16(ctor), 0x0000, // invoke-direct {v0}, LA;-><init>()V
			0x000e,
		},
	})
	m := analyze(t, b)
	if got := m.Insts[1].Pre[0]; got.Category != UninitRef {
		t.Errorf("after new-instance v0 = %v, want UninitRef", got)
	}
	if got := m.Insts[2].Pre[0]; got != ref("LA;") {
		t.Errorf("after <init> v0 = %v, want (Reference,LA;)", got)
	}
}

func TestOperands(t *testing.T) {
	set := bytecode.NewOpcodeSet(35, false)
	tests := []struct {
		units []uint16
		want  []int
	}{
		{[]uint16{0x0190, 0x0302}, []int{1, 2, 3}},    // add-int v1, v2, v3
		{[]uint16{0x00d8, 0x0101}, []int{0, 1}},       // add-int/lit8 v0, v1, 1
		{[]uint16{0x306e, 4, 0x0321}, []int{1, 2, 3}}, // invoke-virtual {v1, v2, v3}
		{[]uint16{0x0377, 4, 10}, []int{10, 11, 12}},  // invoke-static/range {v10 .. v12}
		{[]uint16{0x000e}, nil},                       // return-void
	}
	for _, tt := range tests {
		code := make([]byte, 2*len(tt.units))
		for i, u := range tt.units {
			code[2*i], code[2*i+1] = byte(u), byte(u>>8)
		}
		in, err := bytecode.DecodeAt(code, 0, set)
		if err != nil {
			t.Fatal(err)
		}
		got := Operands(&in)
		if len(got) != len(tt.want) {
			t.Errorf("Operands(%s) = %v, want %v", in.Op.Name, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Operands(%s) = %v, want %v", in.Op.Name, got, tt.want)
				break
			}
		}
	}
}
