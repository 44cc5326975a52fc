package smali

import (
	"math"
	"strings"
	"testing"
)

func TestSignedHex(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0x0"},
		{-1, "-0x1"},
		{0x7fffffff, "0x7fffffff"},
		{-0x80000000, "-0x80000000"},
		{1 << 32, "0x100000000L"},
		{math.MinInt64, "-0x8000000000000000L"},
	}
	for _, tt := range tests {
		if got := signedHex(tt.in); got != tt.want {
			t.Errorf("signedHex(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTypedLiterals(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{byteLiteral(-128), "-0x80t"},
		{byteLiteral(0x7f), "0x7ft"},
		{shortLiteral(-2), "-0x2s"},
		{intLiteral(0xffffffff), "-0x1"},
		{longLiteral(0), "0x0L"},
		{longLiteral(-16), "-0x10L"},
		{charLiteral('a'), "'a'"},
		{charLiteral('\''), `'\''`},
		{charLiteral(0x263a), `'\u263a'`},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("literal = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestEscape(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{`say "hi"`, `say \"hi\"`},
		{`a\b`, `a\\b`},
		{"it's", `it\'s`},
		{"line\nbreak\ttab\r", `line\nbreak\ttab\r`},
		{"é", `\u00e9`},
		{"\x01", `\u0001`},
		{"😀", `\ud83d\ude00`},
	}
	for _, tt := range tests {
		if got := Escape(tt.in); got != tt.want {
			t.Errorf("Escape(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestJavaFloat(t *testing.T) {
	tests := []struct {
		in   float32
		want string
	}{
		{1, "1.0"},
		{0.1, "0.1"},
		{100, "100.0"},
		{-2.5, "-2.5"},
		{1e7, "1.0E7"},
		{1.5e-4, "1.5E-4"},
		{0.001, "0.001"},
		{float32(math.Copysign(0, -1)), "-0.0"},
		{float32(math.Inf(1)), "Infinity"},
		{float32(math.NaN()), "NaN"},
		{math.MaxFloat32, "3.4028235E38"},
	}
	for _, tt := range tests {
		if got := javaFloat(tt.in); got != tt.want {
			t.Errorf("javaFloat(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestJavaDouble(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{math.Float64frombits(0x3fd3333333333334), "0.30000000000000004"},
		{1234567, "1234567.0"},
		{1e21, "1.0E21"},
		{-1e-5, "-1.0E-5"},
		{math.Inf(-1), "-Infinity"},
	}
	for _, tt := range tests {
		if got := javaDouble(tt.in); got != tt.want {
			t.Errorf("javaDouble(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLikelyFloat(t *testing.T) {
	tests := []struct {
		in   int32
		want bool
	}{
		{0x3f800000, true},  // 1.0f
		{0x40490fdb, true},  // pi
		{0x7fc00000, true},  // NaN
		{0, false},          // tie goes to int
		{1, false},          // denormal
		{100, false},        // small int
		{0x7f010000, false}, // resource id
		{math.MaxInt32, false},
	}
	for _, tt := range tests {
		if got := likelyFloat(tt.in); got != tt.want {
			t.Errorf("likelyFloat(0x%x) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLikelyDouble(t *testing.T) {
	tests := []struct {
		in   int64
		want bool
	}{
		{0x3ff0000000000000, true}, // 1.0
		{0x400921fb54442d18, true}, // pi
		{0, false},
		{42, false},
		{math.MaxInt64, false},
	}
	for _, tt := range tests {
		if got := likelyDouble(tt.in); got != tt.want {
			t.Errorf("likelyDouble(0x%x) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFloatComment(t *testing.T) {
	tests := []struct {
		in   int32
		want string
	}{
		{0x3f800000, "1.0f"},
		{0x40490fdb, "(float)Math.PI"},
		{0x402df854, "(float)Math.E"},
		{0x7f800000, "Float.POSITIVE_INFINITY"},
		{0x7f7fffff, "Float.MAX_VALUE"},
	}
	for _, tt := range tests {
		if got := floatComment(tt.in); got != tt.want {
			t.Errorf("floatComment(0x%x) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := doubleComment(0x400921fb54442d18); got != "Math.PI" {
		t.Errorf("doubleComment(pi) = %q, want Math.PI", got)
	}
}

func TestWriter(t *testing.T) {
	var sb strings.Builder
	w := NewWriter(&sb)
	w.WriteString("a\n")
	w.Indent(4)
	w.WriteString("b\n\nc\n")
	cw := w.Commenting()
	cw.WriteString("d\n")
	cw.Indent(2)
	cw.WriteString("e\n\n")
	w.Deindent(8)
	w.WriteString("f")
	want := "a\n    b\n\n    c\n    # d\n    #   e\n\nf"
	if sb.String() != want {
		t.Errorf("Writer output = %q, want %q", sb.String(), want)
	}
}

func TestLabelCache(t *testing.T) {
	c := NewLabelCache()
	a := c.Intern(0x10, prefixGoto)
	if b := c.Intern(0x10, prefixGoto); b != a {
		t.Errorf("Intern twice = %d, %d, want one label", a, b)
	}
	cond := c.Intern(0x10, prefixCond)
	early := c.Intern(0x4, prefixGoto)
	end := c.InternTryEnd(0x20, 0x1c)
	if c.Len() != 4 {
		t.Errorf("Len() = %d, want 4", c.Len())
	}
	if got := c.Name(a, false); got != ":goto_10" {
		t.Errorf("Name() = %q, want :goto_10", got)
	}
	if got := c.Name(end, false); got != ":try_end_20" {
		t.Errorf("Name(try end) = %q, want :try_end_20", got)
	}

	c.Sequence()
	for _, tt := range []struct {
		id   LabelID
		want string
	}{
		{early, ":goto_0"},
		{a, ":goto_1"},
		{cond, ":cond_0"},
		{end, ":try_end_0"},
	} {
		if got := c.Name(tt.id, true); got != tt.want {
			t.Errorf("Name(%d, sequential) = %q, want %q", tt.id, got, tt.want)
		}
	}
	order := c.sorted()
	if order[0] != early || order[1] != cond || order[2] != a || order[3] != end {
		t.Errorf("sorted() = %v", order)
	}
}

func TestParseRegisterInfo(t *testing.T) {
	ri, err := ParseRegisterInfo("args, Dest")
	if err != nil {
		t.Fatal(err)
	}
	if ri != RegInfoArgs|RegInfoDest {
		t.Errorf("ParseRegisterInfo() = %v", ri)
	}
	if s := ri.String(); s != "ARGS,DEST" {
		t.Errorf("String() = %q, want ARGS,DEST", s)
	}
	if ri, err := ParseRegisterInfo(""); err != nil || ri != 0 {
		t.Errorf("ParseRegisterInfo(\"\") = %v, %v", ri, err)
	}
	if _, err := ParseRegisterInfo("ARGS,BOGUS"); err == nil {
		t.Error("ParseRegisterInfo(BOGUS) succeeded")
	}
}

func TestRetag(t *testing.T) {
	in := strings.Join([]string{
		"    const v0, 0x7f010001    # string/app_name",
		"    const/high16 v1, 0x7f020000    # layout/main",
		"    const v2, 0x7f030000    # id/unknown",
		"    const v3, 0x1",
	}, "\n")
	res := ResourceTable{
		0x7f010005: "string/app_name",
		0x7f020001: "layout/main",
	}
	got, n := Retag(in, res)
	want := strings.Join([]string{
		"    const v0, 0x7f010005    # string/app_name",
		"    const v1, 0x7f020001    # layout/main",
		"    const v2, 0x7f030000    # id/unknown",
		"    const v3, 0x1",
	}, "\n")
	if got != want || n != 2 {
		t.Errorf("Retag() = %q, %d\nwant %q, 2", got, n, want)
	}
}

func TestResourceTable_ResourceID(t *testing.T) {
	res := ResourceTable{
		0x7f010009: "string/dup",
		0x7f010002: "string/dup",
		0x7f010005: "string/dup",
		0x7f020001: "layout/main",
	}
	tests := []struct {
		name string
		id   uint32
		ok   bool
	}{
		{"string/dup", 0x7f010002, true},
		{"layout/main", 0x7f020001, true},
		{"id/none", 0, false},
	}
	for _, tt := range tests {
		for range 8 {
			if id, ok := res.ResourceID(tt.name); id != tt.id || ok != tt.ok {
				t.Errorf("ResourceID(%q) = %#x, %v, want %#x, %v", tt.name, id, ok, tt.id, tt.ok)
				break
			}
		}
	}
}

func TestAccessedMemberString(t *testing.T) {
	tests := []struct {
		in   AccessedMember
		want string
	}{
		{AccessedMember{Kind: AccessGetter, Member: "LA;->x:I"}, "getter for: LA;->x:I"},
		{AccessedMember{Kind: AccessPostIncrement, Member: "LA;->x:I"}, "operator++ for: LA;->x:I"},
		{AccessedMember{Kind: AccessAssignOp, Op: "+=", Member: "LA;->x:I"}, "+= operator for: LA;->x:I"},
		{AccessedMember{Kind: AccessMethod, Member: "LA;->f()V"}, "invokes: LA;->f()V"},
	}
	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
