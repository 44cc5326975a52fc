package annotate

import (
	"strings"
	"testing"

	"undex/internal/dexfile"
	"undex/internal/dextest"
)

func sample(t *testing.T) *dexfile.File {
	t.Helper()
	b := dextest.New()
	b.AddClass(&dextest.Class{
		Type:       "LA;",
		Super:      "Ljava/lang/Object;",
		Source:     "A.java",
		Flags:      0x1,
		Interfaces: []string{"Ljava/lang/Runnable;"},
		StaticFields: []dextest.Field{
			{Name: "N", Type: "I", Flags: 0x19, Value: dextest.Int(7)},
		},
		VirtualMethods: []dextest.Method{{
			Name: "run", Return: "V", Flags: 0x1,
			Code: &dextest.Code{
				Registers: 1, Ins: 1,
				Insns: []uint16{0x0000, 0x000e, 0x000e},
				Tries: []dextest.Try{{
					Start: 0, Count: 1,
					Handlers: []dextest.Handler{{Type: "Ljava/lang/Exception;", Addr: 2}},
				}},
				Debug: &dextest.Debug{
					LineStart: 3,
					Ops:       []dextest.DebugOp{dextest.PrologueEnd(), dextest.Special(0, 1)},
				},
			},
		}},
	})
	f, err := dexfile.Open(b.Build(), true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return f
}

func TestAnnotate_Structures(t *testing.T) {
	f := sample(t)
	an := Annotate(f)
	if len(an.Diags) != 0 {
		t.Errorf("Diags = %v", an.Diags)
	}
	byField := make(map[string]Region)
	for _, r := range an.Regions {
		if _, ok := byField[r.Field]; !ok {
			byField[r.Field] = r
		}
	}
	tests := []struct {
		field string
		value string
	}{
		{"magic", `"dex\n035"`},
		{"header_size", "0x70"},
		{"class_def_item[0].class_idx", "LA;"},
		{"class_def_item[0].access_flags", "public"},
		{"interfaces[0]", "Ljava/lang/Runnable;"},
		{"static_values[0]", "0x7"},
		{"code_item.registers_size", "1  # LA;->run()V"},
		{"insn@0", "nop"},
		{"insn@1", "return-void"},
		{"padding", ""},
		{"try_item[0]", "[0, 1) handler_off 0x1"},
		{"encoded_type_addr_pair", "Ljava/lang/Exception; -> 2"},
		{"debug_info_item.line_start", "3"},
		{"debug_opcode", "DBG_SET_PROLOGUE_END"},
	}
	for _, tt := range tests {
		r, ok := byField[tt.field]
		if !ok {
			t.Errorf("no region %q", tt.field)
			continue
		}
		if r.Value != tt.value {
			t.Errorf("%s = %q, want %q", tt.field, r.Value, tt.value)
		}
	}

	for i := 1; i < len(an.Regions); i++ {
		prev, cur := an.Regions[i-1], an.Regions[i]
		if cur.Offset < prev.Offset {
			t.Fatalf("regions out of order at %d: 0x%x after 0x%x", i, cur.Offset, prev.Offset)
		}
		if cur.Offset < prev.Offset+prev.Len {
			t.Errorf("%s at 0x%x overlaps %s", cur.Field, cur.Offset, prev.Field)
		}
	}
}

func TestAnnotate_HeaderCovered(t *testing.T) {
	an := Annotate(sample(t))
	pos := 0
	for _, r := range an.Regions {
		if r.Offset >= 0x70 {
			break
		}
		if r.Offset != pos {
			t.Fatalf("header gap at 0x%x", pos)
		}
		pos += r.Len
	}
	if pos != 0x70 {
		t.Errorf("header regions end at 0x%x, want 0x70", pos)
	}
}

func TestAnnotate_SharedItemsOnce(t *testing.T) {
	an := Annotate(sample(t))
	n := 0
	for _, r := range an.Regions {
		if r.Field == "code_item.insns_size" {
			n++
		}
	}
	if n != 1 {
		t.Errorf("code item annotated %d times, want 1", n)
	}
}

func TestWrite_Gaps(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	an := &Annotation{
		Regions: []Region{
			{Offset: 2, Len: 2, Field: "a", Value: "1"},
			{Offset: 4, Len: 10, Field: "b"},
		},
		Size: len(data),
	}
	var sb strings.Builder
	if err := an.Write(&sb, data[:10]); err != nil {
		t.Fatal(err)
	}
	want := "" +
		"000000: 00 01                   | unannotated: 2 bytes\n" +
		"000002: 02 03                   | a: 1\n" +
		"000004: 04 05 06 07 08 09       | b\n"
	if sb.String() != want {
		t.Errorf("Write() =\n%s\nwant\n%s", sb.String(), want)
	}

	sb.Reset()
	an = &Annotation{Regions: []Region{{Offset: 0, Len: 9, Field: "c"}}, Size: 12}
	if err := an.Write(&sb, data); err != nil {
		t.Fatal(err)
	}
	want = "" +
		"000000: 00 01 02 03 04 05 06 07 | c\n" +
		"000008: 08                      | \n" +
		"000009: 09 0a 0b                | unannotated: 3 bytes\n"
	if sb.String() != want {
		t.Errorf("Write() =\n%s\nwant\n%s", sb.String(), want)
	}
}

func TestDump(t *testing.T) {
	var sb strings.Builder
	if err := Dump(sample(t), &sb); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	for _, want := range []string{
		"000000: 64 65 78 0a 30 33 35 00 | magic",
		"| string_data[",
		"| map_list.size:",
		"map_item[0]: header_item size 1 at 0x0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Dump() output lacks %q", want)
		}
	}
}
