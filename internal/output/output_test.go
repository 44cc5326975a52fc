package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestSmaliPath(t *testing.T) {
	tests := []struct {
		typ, want string
	}{
		{"Lcom/example/Foo;", "out/com/example/Foo.smali"},
		{"LFoo;", "out/Foo.smali"},
		{"Lcom/example/Foo$Inner;", "out/com/example/Foo$Inner.smali"},
		{"L../evil;", "out/___/evil.smali"},
		{"Lcom//Foo;", "out/com/_/Foo.smali"},
	}
	for _, tt := range tests {
		if got := SmaliPath("out", tt.typ); got != filepath.FromSlash(tt.want) {
			t.Errorf("SmaliPath(%q) = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestMethodFileName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"run()V", "run()V"},
		{"<init>(Ljava/lang/String;)V", "_init_(Ljava.lang.String;)V"},
	}
	for _, tt := range tests {
		if got := MethodFileName(tt.in); got != tt.want {
			t.Errorf("MethodFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteSmali(t *testing.T) {
	dir := t.TempDir()
	if err := WriteSmali(dir, "Lcom/x/A;", ".class public Lcom/x/A;\n"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "com", "x", "A.smali"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != ".class public Lcom/x/A;\n" {
		t.Errorf("content = %q", data)
	}
}

func TestWriteDOT(t *testing.T) {
	dir := t.TempDir()
	if err := WriteDOT(dir, filepath.Join("cfg", "A", "run()V"), "digraph {}\n"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "cfg", "A", "run()V.dot")); err != nil {
		t.Error(err)
	}
}

func TestWriteSummaryJSON(t *testing.T) {
	dir := t.TempDir()
	s := []Summary{{
		Input: "classes.dex", Version: 35, Mode: "best-effort",
		Classes: 3, Written: 3, Invalid: 1,
		Failures: []ClassFailure{{Class: "LA;", Diags: []string{"0x70: invalid: x"}}},
	}}
	if err := WriteSummaryJSON(dir, s); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	if err != nil {
		t.Fatal(err)
	}
	var got []Summary
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Invalid != 1 || len(got[0].Failures) != 1 || got[0].Failures[0].Class != "LA;" {
		t.Errorf("summary = %+v", got)
	}
}
