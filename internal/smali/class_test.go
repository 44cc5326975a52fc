package smali

import (
	"strings"
	"sync"
	"testing"

	"undex/internal/dexfile"
	"undex/internal/dexfmt"
	"undex/internal/dextest"
)

const (
	accPublic      = 0x1
	accPrivate     = 0x2
	accStatic      = 0x8
	accFinal       = 0x10
	accSynthetic   = 0x1000
	accConstructor = 0x10000
)

func render(t *testing.T, b *dextest.Builder, opts Options) Result {
	t.Helper()
	f, err := dexfile.Open(b.Build(), true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	c, err := f.Class(0)
	if err != nil {
		t.Fatalf("Class(0): %v", err)
	}
	res, err := NewRenderer(f, opts).RenderClass(c)
	if err != nil {
		t.Fatalf("RenderClass: %v", err)
	}
	return res
}

// singleMethod adds LA; with one static method m of the given signature.
func singleMethod(b *dextest.Builder, ret string, params []string, code *dextest.Code) *dextest.Builder {
	b.AddClass(&dextest.Class{
		Type:  "LA;",
		Super: "Ljava/lang/Object;",
		Flags: accPublic,
		DirectMethods: []dextest.Method{{
			Name: "m", Return: ret, Params: params,
			Flags: accPublic | accStatic,
			Code:  code,
		}},
	})
	return b
}

const classHeader = ".class public LA;\n.super Ljava/lang/Object;\n\n\n# direct methods\n"

func TestRenderClass_HelloWorld(t *testing.T) {
	b := dextest.New()
	b.AddClass(&dextest.Class{
		Type:  "LHelloWorld;",
		Super: "Ljava/lang/Object;",
		Flags: accPublic,
		StaticFields: []dextest.Field{
			{Name: "b", Type: "Z", Flags: accPrivate | accStatic, Value: dextest.Bool(false)},
			{Name: "c", Type: "Z", Flags: accPrivate | accStatic, Value: dextest.Bool(true)},
		},
		DirectMethods: []dextest.Method{{
			Name: "main", Return: "V", Params: []string{"[Ljava/lang/String;"},
			Flags: accPublic | accStatic,
			Code:  &dextest.Code{Registers: 2, Ins: 1, Insns: []uint16{0x000e}},
		}},
	})
	want := `.class public LHelloWorld;
.super Ljava/lang/Object;


# static fields
.field private static b:Z = false

.field private static c:Z = true


# direct methods
.method public static main([Ljava/lang/String;)V
    .locals 1

    return-void
.end method
`
	res := render(t, b, DefaultOptions())
	if res.Text != want {
		t.Errorf("RenderClass() =\n%s\nwant\n%s", res.Text, want)
	}
	if res.HadValidationErrors || len(res.Diags) != 0 {
		t.Errorf("HadValidationErrors = %v, Diags = %v", res.HadValidationErrors, res.Diags)
	}
}

func TestRenderClass_TryCatch(t *testing.T) {
	b := dextest.New()
	f := b.Method("LA;", "f", "V")
	singleMethod(b, "V", nil, &dextest.Code{
		Registers: 1,
		Insns: []uint16{
			0x0012,               // const/4 v0, 0
			0x0071, uint16(f), 0, // invoke-static {}, LA;->f()V
			0x000e, // return-void
			0x000d, // move-exception v0
			0x0027, // throw v0
		},
		Tries: []dextest.Try{{Start: 1, Count: 3, Handlers: []dextest.Handler{{Type: "Ljava/lang/Exception;", Addr: 5}}}},
	})
	want := classHeader + `.method public static m()V
    .locals 1

    const/4 v0, 0x0

    :try_start_1
    invoke-static {}, LA;->f()V
    :try_end_4
    .catch Ljava/lang/Exception; {:try_start_1 .. :try_end_4} :catch_5

    return-void

    :catch_5
    move-exception v0

    throw v0
.end method
`
	res := render(t, b, DefaultOptions())
	if res.Text != want {
		t.Errorf("RenderClass() =\n%s\nwant\n%s", res.Text, want)
	}
}

func TestRenderClass_SequentialLabels(t *testing.T) {
	b := singleMethod(dextest.New(), "V", []string{"I"}, &dextest.Code{
		Registers: 1, Ins: 1,
		Insns: []uint16{
			0x0038, 0x0003, // if-eqz p0, :cond
			0x000e, // return-void
			0x000e, // return-void
		},
	})
	opts := DefaultOptions()
	opts.SequentialLabels = true
	res := render(t, b, opts)
	for _, s := range []string{"if-eqz p0, :cond_0\n", "    :cond_0\n    return-void\n"} {
		if !strings.Contains(res.Text, s) {
			t.Errorf("RenderClass() missing %q in\n%s", s, res.Text)
		}
	}
}

func TestRenderClass_PackedSwitch(t *testing.T) {
	tests := []struct {
		name   string
		offset uint16
		label  string
	}{
		{"direct", 6, ":pswitch_data_6"},
		{"through alignment nop", 5, ":pswitch_data_5"},
	}
	for _, tt := range tests {
		b := singleMethod(dextest.New(), "V", []string{"I"}, &dextest.Code{
			Registers: 1, Ins: 1,
			Insns: []uint16{
				0x002b, tt.offset, 0, // packed-switch p0
				0x000e,
				0x000e,
				0x0000, // nop
				0x0100, 2, 10, 0, 3, 0, 4, 0,
			},
		})
		res := render(t, b, DefaultOptions())
		for _, s := range []string{
			"packed-switch p0, " + tt.label + "\n",
			"    :pswitch_3\n    return-void\n",
			"    :pswitch_4\n    return-void\n",
			"    .packed-switch 0xa\n        :pswitch_3\n        :pswitch_4\n    .end packed-switch\n",
		} {
			if !strings.Contains(res.Text, s) {
				t.Errorf("%s: missing %q in\n%s", tt.name, s, res.Text)
			}
		}
		if len(res.Diags) != 0 {
			t.Errorf("%s: Diags = %v", tt.name, res.Diags)
		}
	}
}

func TestRenderClass_OrphanPayload(t *testing.T) {
	b := singleMethod(dextest.New(), "V", nil, &dextest.Code{
		Registers: 1,
		Insns: []uint16{
			0x000e,
			0x0000,
			0x0100, 1, 0, 0, 5, 0,
		},
	})
	res := render(t, b, DefaultOptions())
	want := "    # .packed-switch 0x0\n    #     +5\n    # .end packed-switch\n"
	if !strings.Contains(res.Text, want) {
		t.Errorf("RenderClass() missing %q in\n%s", want, res.Text)
	}
	if len(res.Diags) != 1 || res.Diags[0].Kind != dexfmt.DiagStructure {
		t.Errorf("Diags = %v, want one structure diag", res.Diags)
	}
	if res.HadValidationErrors {
		t.Error("HadValidationErrors = true for orphan payload")
	}
}

func TestRenderClass_SparseSwitch(t *testing.T) {
	tests := []struct {
		name   string
		offset uint16
		label  string
	}{
		{"direct", 6, ":sswitch_data_6"},
		{"through alignment nop", 5, ":sswitch_data_5"},
	}
	for _, tt := range tests {
		b := singleMethod(dextest.New(), "V", []string{"I"}, &dextest.Code{
			Registers: 1, Ins: 1,
			Insns: []uint16{
				0x002c, tt.offset, 0, // sparse-switch p0
				0x000e,
				0x000e,
				0x0000, // nop
				0x0200, 2, 0xffff, 0xffff, 100, 0, 3, 0, 4, 0,
			},
		})
		res := render(t, b, DefaultOptions())
		for _, s := range []string{
			"sparse-switch p0, " + tt.label + "\n",
			"    :sswitch_3\n    return-void\n",
			"    :sswitch_4\n    return-void\n",
			"    .sparse-switch\n        -0x1 -> :sswitch_3\n        0x64 -> :sswitch_4\n    .end sparse-switch\n",
		} {
			if !strings.Contains(res.Text, s) {
				t.Errorf("%s: missing %q in\n%s", tt.name, s, res.Text)
			}
		}
		if len(res.Diags) != 0 {
			t.Errorf("%s: Diags = %v", tt.name, res.Diags)
		}
	}
}

func TestRenderClass_DuplicateField(t *testing.T) {
	b := dextest.New()
	b.AddClass(&dextest.Class{
		Type:  "LA;",
		Super: "Ljava/lang/Object;",
		Flags: accPublic,
		StaticFields: []dextest.Field{
			{Name: "a", Type: "I", Flags: accPublic | accStatic, Value: dextest.Int(1)},
			{Name: "a", Type: "I", Flags: accPublic | accStatic, Value: dextest.Int(2)},
		},
	})
	var warnings []string
	opts := DefaultOptions()
	opts.Warn = func(s string) { warnings = append(warnings, s) }
	res := render(t, b, opts)

	want := ".class public LA;\n.super Ljava/lang/Object;\n\n\n# static fields\n" +
		".field public static a:I = 0x1\n\n" +
		"# duplicate field ignored\n" +
		"# .field public static a:I = 0x2\n"
	if res.Text != want {
		t.Errorf("RenderClass() =\n%s\nwant\n%s", res.Text, want)
	}
	if len(warnings) != 1 || warnings[0] != "Ignoring duplicate field: LA;->a:I" {
		t.Errorf("warnings = %q", warnings)
	}
	if len(res.Diags) != 1 || res.Diags[0].Kind != dexfmt.DiagDuplicate {
		t.Errorf("Diags = %v, want one duplicate diag", res.Diags)
	}
	if res.HadValidationErrors {
		t.Error("HadValidationErrors = true for a duplicate")
	}
}

func TestRenderClass_StaticInstanceClash(t *testing.T) {
	b := dextest.New()
	b.AddClass(&dextest.Class{
		Type:  "LA;",
		Super: "Ljava/lang/Object;",
		StaticFields: []dextest.Field{
			{Name: "a", Type: "I", Flags: accStatic},
		},
		InstanceFields: []dextest.Field{
			{Name: "a", Type: "I", Flags: accPrivate},
		},
	})
	var warnings []string
	opts := DefaultOptions()
	opts.Warn = func(s string) { warnings = append(warnings, s) }
	res := render(t, b, opts)
	want := "# instance fields\n" +
		"# There is both a static and instance field with this signature.\n" +
		"# You will need to rename one of these fields, including all references.\n" +
		".field private a:I\n"
	if !strings.Contains(res.Text, want) {
		t.Errorf("RenderClass() missing %q in\n%s", want, res.Text)
	}
	if len(warnings) != 1 || warnings[0] != "Duplicate static+instance field found: LA;->a:I" {
		t.Errorf("warnings = %q", warnings)
	}
}

func TestRenderClass_StaticFinalSetInClinit(t *testing.T) {
	b := dextest.New()
	x := b.Field("LA;", "X", "I")
	y := b.Field("LA;", "Y", "I")
	b.AddClass(&dextest.Class{
		Type:  "LA;",
		Super: "Ljava/lang/Object;",
		StaticFields: []dextest.Field{
			{Name: "X", Type: "I", Flags: accPublic | accStatic | accFinal, Value: dextest.Int(5)},
			{Name: "Y", Type: "I", Flags: accPublic | accStatic | accFinal, Value: dextest.Int(0)},
			{Name: "Z", Type: "I", Flags: accPublic | accStatic | accFinal, Value: dextest.Int(0)},
		},
		DirectMethods: []dextest.Method{{
			Name: "<clinit>", Return: "V", Flags: accStatic | accConstructor,
			Code: &dextest.Code{Registers: 1, Insns: []uint16{
				0x1012,
				0x0067, uint16(x),
				0x0067, uint16(y),
				0x000e,
			}},
		}},
	})
	res := render(t, b, DefaultOptions())
	for _, s := range []string{
		"# The value of this static final field might be set in the static constructor\n.field public static final X:I = 0x5\n",
		"\n.field public static final Y:I\n",
		"\n.field public static final Z:I = 0x0\n",
		".method static constructor <clinit>()V\n",
	} {
		if !strings.Contains(res.Text, s) {
			t.Errorf("RenderClass() missing %q in\n%s", s, res.Text)
		}
	}
}

func TestRenderClass_InvalidReference(t *testing.T) {
	b := singleMethod(dextest.New(), "V", nil, &dextest.Code{
		Registers: 1,
		Insns:     []uint16{0x001a, 999, 0x000e}, // const-string v0, string@999
	})
	res := render(t, b, DefaultOptions())
	if !res.HadValidationErrors {
		t.Error("HadValidationErrors = false, want true")
	}
	if !strings.Contains(res.Text, "\n    #const-string v0, string@999\n") {
		t.Errorf("RenderClass() did not comment out the instruction:\n%s", res.Text)
	}
	if !strings.Contains(res.Text, "    return-void\n") {
		t.Errorf("RenderClass() dropped the rest of the method:\n%s", res.Text)
	}
}

func TestRenderClass_BadMemberKeepsSiblings(t *testing.T) {
	b := dextest.New()
	var ms []dextest.Method
	for _, n := range []string{"a", "b", "c"} {
		b.Method("LA;", n, "V")
		ms = append(ms, dextest.Method{
			Name: n, Return: "V", Flags: accPublic | accStatic,
			Code: &dextest.Code{Registers: 1, Insns: []uint16{0x000e}},
		})
	}
	b.AddClass(&dextest.Class{Type: "LA;", Super: "Ljava/lang/Object;", Flags: accPublic, DirectMethods: ms})
	data := b.Build()
	dextest.SetMethodProto(data, 1, 0xfff0)
	f, err := dexfile.Open(data, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	c, err := f.Class(0)
	if err != nil {
		t.Fatalf("Class(0): %v", err)
	}
	res, err := NewRenderer(f, DefaultOptions()).RenderClass(c)
	if err != nil {
		t.Fatalf("RenderClass: %v", err)
	}
	if !res.HadValidationErrors {
		t.Error("HadValidationErrors = false, want true")
	}
	for _, s := range []string{
		".method public static a()V\n",
		"\n# dexfile: direct methods entry 1: ",
		".method public static c()V\n",
	} {
		if !strings.Contains(res.Text, s) {
			t.Errorf("RenderClass() missing %q in\n%s", s, res.Text)
		}
	}
	if strings.Contains(res.Text, "b()V") {
		t.Errorf("RenderClass() rendered the unresolvable method:\n%s", res.Text)
	}
}

func TestRenderClass_TruncatedCode(t *testing.T) {
	b := singleMethod(dextest.New(), "V", nil, &dextest.Code{
		Registers: 1,
		Insns:     []uint16{0x0014, 0x0001}, // const missing its last unit
	})
	res := render(t, b, DefaultOptions())
	if !res.HadValidationErrors {
		t.Error("HadValidationErrors = false, want true")
	}
	if !strings.Contains(res.Text, "    .locals 1\n\n    # ") || !strings.HasSuffix(res.Text, ".end method\n") {
		t.Errorf("RenderClass() =\n%s", res.Text)
	}
}

func TestRenderClass_TryPastEnd(t *testing.T) {
	b := singleMethod(dextest.New(), "V", nil, &dextest.Code{
		Registers: 1,
		Insns:     []uint16{0x000e},
		Tries:     []dextest.Try{{Start: 0, Count: 4, HasCatchAll: true, CatchAll: 0}},
	})
	res := render(t, b, DefaultOptions())
	if !res.HadValidationErrors {
		t.Error("HadValidationErrors = false, want true")
	}
	if !strings.Contains(res.Text, "try end offset 4 is past the end of the code block") {
		t.Errorf("RenderClass() =\n%s", res.Text)
	}
}

func TestRenderClass_AccessorComment(t *testing.T) {
	b := dextest.New()
	x := b.Field("LA;", "x", "I")
	acc := b.Method("LA;", "access$000", "I", "LA;")
	b.AddClass(&dextest.Class{
		Type:  "LA;",
		Super: "Ljava/lang/Object;",
		Flags: accPublic,
		DirectMethods: []dextest.Method{
			{
				Name: "access$000", Return: "I", Params: []string{"LA;"},
				Flags: accStatic | accSynthetic,
				Code: &dextest.Code{Registers: 2, Ins: 1, Insns: []uint16{
					0x1052, uint16(x), // iget v0, p0, LA;->x:I
					0x000f, // return v0
				}},
			},
			{
				Name: "m", Return: "V", Params: []string{"LA;"},
				Flags: accStatic,
				Code: &dextest.Code{Registers: 1, Ins: 1, Insns: []uint16{
					0x1071, uint16(acc), 0x0000, // invoke-static {p0}, LA;->access$000(LA;)I
					0x000a, // move-result v0
					0x000e,
				}},
			},
		},
	})
	want := "    # getter for: LA;->x:I\n    invoke-static {p0}, LA;->access$000(LA;)I\n"
	res := render(t, b, DefaultOptions())
	if !strings.Contains(res.Text, want) {
		t.Errorf("RenderClass() missing %q in\n%s", want, res.Text)
	}

	opts := DefaultOptions()
	opts.AccessorComments = false
	if res := render(t, b, opts); strings.Contains(res.Text, "getter for") {
		t.Errorf("accessor comment written with AccessorComments off:\n%s", res.Text)
	}
}

func TestRenderClass_RegisterInfo(t *testing.T) {
	b := singleMethod(dextest.New(), "I", []string{"I"}, &dextest.Code{
		Registers: 2, Ins: 1,
		Insns: []uint16{
			0x00d8, 0x0101, // add-int/lit8 v0, p0, 0x1
			0x000f, // return v0
		},
	})
	opts := DefaultOptions()
	opts.RegisterInfo = RegInfoArgs | RegInfoDest
	res := render(t, b, opts)
	want := "    #v0=(Uninit);p0=(Integer);\n    add-int/lit8 v0, p0, 0x1\n    #v0=(Integer);\n"
	if !strings.Contains(res.Text, want) {
		t.Errorf("RenderClass() missing %q in\n%s", want, res.Text)
	}
}

func TestRenderClass_CodeOffsets(t *testing.T) {
	b := singleMethod(dextest.New(), "V", nil, &dextest.Code{
		Registers: 1,
		Insns:     []uint16{0x0012, 0x000e},
	})
	opts := DefaultOptions()
	opts.CodeOffsets = true
	res := render(t, b, opts)
	want := "    #@0\n    const/4 v0, 0x0\n\n    #@1\n    return-void\n"
	if !strings.Contains(res.Text, want) {
		t.Errorf("RenderClass() missing %q in\n%s", want, res.Text)
	}
}

func TestRenderClass_DebugInfo(t *testing.T) {
	b := singleMethod(dextest.New(), "V", []string{"I"}, &dextest.Code{
		Registers: 2, Ins: 1,
		Insns: []uint16{0x0012, 0x000e},
		Debug: &dextest.Debug{
			LineStart:  10,
			ParamNames: []string{"count"},
			Ops: []dextest.DebugOp{
				dextest.PrologueEnd(),
				dextest.Special(0, 1),
				dextest.StartLocal(0, "i", "I"),
			},
		},
	})
	res := render(t, b, DefaultOptions())
	for _, s := range []string{
		"    .param p0, \"count\"    # I\n",
		"    .prologue\n    const/4 v0, 0x0\n",
		"    .line 10\n    .local v0, \"i\":I\n    return-void\n",
	} {
		if !strings.Contains(res.Text, s) {
			t.Errorf("RenderClass() missing %q in\n%s", s, res.Text)
		}
	}

	opts := DefaultOptions()
	opts.DebugInfo = false
	if res := render(t, b, opts); strings.Contains(res.Text, ".line") || strings.Contains(res.Text, ".param") {
		t.Errorf("debug directives written with DebugInfo off:\n%s", res.Text)
	}
}

func TestRenderClass_Deterministic(t *testing.T) {
	b := dextest.New()
	f := b.Method("LA;", "f", "V")
	singleMethod(b, "V", []string{"I"}, &dextest.Code{
		Registers: 1, Ins: 1,
		Insns: []uint16{
			0x0038, 0x0007, // if-eqz p0, +7
			0x0071, uint16(f), 0,
			0x0228, // goto +2
			0x0000,
			0x000e,
		},
		Tries: []dextest.Try{
			{Start: 0, Count: 6, HasCatchAll: true, CatchAll: 7},
			{Start: 2, Count: 3, Handlers: []dextest.Handler{{Type: "Ljava/lang/Error;", Addr: 7}}},
		},
	})
	data := b.Build()
	file, err := dexfile.Open(data, true)
	if err != nil {
		t.Fatal(err)
	}
	c, err := file.Class(0)
	if err != nil {
		t.Fatal(err)
	}
	r := NewRenderer(file, DefaultOptions())
	first, err := r.RenderClass(c)
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	out := make([]string, 8)
	for i := range out {
		wg.Go(func() {
			res, err := r.RenderClass(c)
			if err != nil {
				t.Error(err)
				return
			}
			out[i] = res.Text
		})
	}
	wg.Wait()
	for i, s := range out {
		if s != first.Text {
			t.Errorf("render %d differs:\n%s\nwant\n%s", i, s, first.Text)
		}
	}
}
