package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/viper"

	"undex/internal/callgraph"
	"undex/internal/dexfile"
	"undex/internal/dextest"
	"undex/internal/output"
	"undex/internal/smali"
)

func sampleDex(t *testing.T) *dexfile.File {
	t.Helper()
	color.NoColor = true
	b := dextest.New()
	b.AddClass(&dextest.Class{
		Type:  "Lcom/x/A;",
		Super: "Ljava/lang/Object;",
		Flags: 0x1,
		DirectMethods: []dextest.Method{{
			Name: "run", Return: "V", Flags: 0x9,
			Code: &dextest.Code{Registers: 1, Insns: []uint16{0x000e}},
		}},
	})
	b.AddClass(&dextest.Class{
		Type:  "Lcom/x/B;",
		Super: "Ljava/lang/Object;",
		StaticFields: []dextest.Field{
			{Name: "n", Type: "I", Flags: 0x8},
		},
	})
	f, err := dexfile.Open(b.Build(), true)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestRenderOptions(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("t.debug-info", false)
	viper.Set("t.register-info", "args,diff")
	viper.Set("t.sequential-labels", true)
	viper.Set("t.registers", true)
	viper.Set("t.accessors", true)

	opts, err := renderOptions("t")
	if err != nil {
		t.Fatal(err)
	}
	if opts.DebugInfo || !opts.SequentialLabels || opts.LocalsDirective || !opts.AccessorComments {
		t.Errorf("renderOptions() = %+v", opts)
	}
	if !opts.ParameterRegisters {
		t.Error("ParameterRegisters = false, want true")
	}
	if want := smali.RegInfoArgs | smali.RegInfoDiff; opts.RegisterInfo != want {
		t.Errorf("RegisterInfo = %v, want %v", opts.RegisterInfo, want)
	}
	if opts.Warn == nil {
		t.Error("Warn not wired")
	}
	if opts.Resources != nil {
		t.Error("Resources set without a resources map")
	}

	viper.Set("t.register-info", "BOGUS")
	if _, err := renderOptions("t"); err == nil {
		t.Error("renderOptions() accepted unknown register info")
	}
}

func TestResourceTable(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("resources", map[string]any{
		"0x7f0a0001": "string/app_name",
		"2131427330": "id/button",
	})
	table, err := resourceTable()
	if err != nil {
		t.Fatal(err)
	}
	if name, ok := table.ResourceName(0x7f0a0001); !ok || name != "string/app_name" {
		t.Errorf("ResourceName(0x7f0a0001) = %q, %v", name, ok)
	}
	if name, ok := table.ResourceName(0x7f0b0002); !ok || name != "id/button" {
		t.Errorf("ResourceName(0x7f0b0002) = %q, %v", name, ok)
	}

	viper.Set("resources", map[string]any{"nope": "x/y"})
	if _, err := resourceTable(); err == nil {
		t.Error("resourceTable() accepted a bad id")
	}
}

func TestRetagTree(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "com", "x", "A.smali")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	in := "    const v0, 0x7f0a0001    # string/app_name\n"
	if err := os.WriteFile(path, []byte(in), 0644); err != nil {
		t.Fatal(err)
	}
	table := smali.ResourceTable{0x7f0a0005: "string/app_name"}

	files, lines, err := retagTree(dir, table, true)
	if err != nil || files != 1 || lines != 1 {
		t.Fatalf("retagTree(dry run) = %d, %d, %v, want 1, 1, nil", files, lines, err)
	}
	if data, _ := os.ReadFile(path); string(data) != in {
		t.Errorf("dry run wrote %q", data)
	}

	if _, _, err := retagTree(dir, table, false); err != nil {
		t.Fatal(err)
	}
	want := "    const v0, 0x7f0a0005    # string/app_name\n"
	if data, _ := os.ReadFile(path); string(data) != want {
		t.Errorf("retagged = %q, want %q", data, want)
	}
}

func TestSelectClasses(t *testing.T) {
	f := sampleDex(t)

	all, failures, err := selectClasses(f, nil)
	if err != nil || len(all) != 2 || len(failures) != 0 {
		t.Fatalf("selectClasses(nil) = %d classes, %d failures, %v", len(all), len(failures), err)
	}

	some, _, err := selectClasses(f, []string{"Lcom/x/B;"})
	if err != nil || len(some) != 1 {
		t.Fatalf("selectClasses(B) = %d classes, %v", len(some), err)
	}
	if typ, _ := some[0].Type(); typ != "Lcom/x/B;" {
		t.Errorf("selected %s, want Lcom/x/B;", typ)
	}

	if _, _, err := selectClasses(f, []string{"Lmissing;"}); !errors.Is(err, errClassNotFound) {
		t.Errorf("selectClasses(missing) error = %v, want errClassNotFound", err)
	}
}

func TestDisassembler(t *testing.T) {
	f := sampleDex(t)
	dir := t.TempDir()
	classes, _, err := selectClasses(f, nil)
	if err != nil {
		t.Fatal(err)
	}
	u := &unit{
		r:       smali.NewRenderer(f, smali.DefaultOptions()),
		classes: classes,
		summary: output.Summary{Input: "classes.dex", Classes: len(classes)},
	}
	d := &disassembler{outDir: dir, jobs: 2, quiet: true}
	if err := d.run(t.Context(), []*unit{u}); err != nil {
		t.Fatal(err)
	}
	if u.summary.Written != 2 || u.summary.Invalid != 0 {
		t.Errorf("summary = %+v", u.summary)
	}
	data, err := os.ReadFile(filepath.Join(dir, "com", "x", "A.smali"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), ".class public Lcom/x/A;\n") {
		t.Errorf("A.smali = %q", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "com", "x", "B.smali")); err != nil {
		t.Error(err)
	}
}

func TestWriteInfo(t *testing.T) {
	f := sampleDex(t)
	var buf bytes.Buffer
	writeInfo(&buf, f)
	out := buf.String()
	for _, want := range []string{"[Header]", `magic: "dex\n035\x00"`, "class_def", "[Map]", "header_item"} {
		if !strings.Contains(out, want) {
			t.Errorf("writeInfo() lacks %q:\n%s", want, out)
		}
	}
}

func TestClassLine(t *testing.T) {
	f := sampleDex(t)
	c, ok, err := f.ClassByType("Lcom/x/A;")
	if err != nil || !ok {
		t.Fatalf("ClassByType() = %v, %v", ok, err)
	}
	if got := classLine(c, false); got != "Lcom/x/A;" {
		t.Errorf("classLine(false) = %q", got)
	}
	if got := classLine(c, true); !strings.Contains(got, "direct=1") || !strings.Contains(got, "virtual=0") {
		t.Errorf("classLine(true) = %q", got)
	}
}

func TestCfgPath(t *testing.T) {
	m := callgraph.MethodInfo{Name: "Lcom/x/A;-><init>(Ljava/lang/String;)V", Class: "Lcom/x/A;"}
	want := filepath.Join("cfg", "com.x.A", "_init_(Ljava.lang.String;)V")
	if got := cfgPath(m); got != want {
		t.Errorf("cfgPath() = %q, want %q", got, want)
	}
}

func TestSummaryJSONRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fresh")
	s := []output.Summary{{Input: "classes.dex", Mode: "strict", Classes: 1}}
	if err := output.WriteSummaryJSON(dir, s); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	if err != nil {
		t.Fatal(err)
	}
	var got []map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0]["mode"] != "strict" {
		t.Errorf("summary = %v", got)
	}
}
