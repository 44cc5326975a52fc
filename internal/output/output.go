// Package output writes undex results to files.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SmaliPath returns the file a class is written to: "Lcom/x/Foo;" maps to
// <dir>/com/x/Foo.smali. Path components that would escape dir are
// replaced.
func SmaliPath(dir, typ string) string {
	name := strings.TrimSuffix(strings.TrimPrefix(typ, "L"), ";")
	parts := strings.Split(name, "/")
	for i, p := range parts {
		switch p {
		case "", ".", "..":
			parts[i] = "_" + strings.Repeat("_", len(p))
		}
	}
	return filepath.Join(dir, filepath.Join(parts...)+".smali")
}

// WriteSmali writes one rendered class under dir.
func WriteSmali(dir, typ, text string) error {
	path := SmaliPath(dir, typ)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("output: write %s: %w", path, err)
	}
	return nil
}

// WriteDOT writes a Graphviz file. name may contain path separators
// (e.g., "cfg/com/x/Foo/run") for directory grouping.
func WriteDOT(dir, name, dot string) error {
	path := filepath.Join(dir, name+".dot")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(dot), 0644); err != nil {
		return fmt.Errorf("output: write %s: %w", path, err)
	}
	return nil
}

// MethodFileName turns a method's short descriptor into a file name:
// "run(ILjava/lang/String;)V" becomes "run(ILjava.lang.String;)V".
// Characters that are unsafe in file names are replaced by '_'.
func MethodFileName(desc string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/':
			return '.'
		case '<', '>', ':', '"', '\\', '|', '?', '*':
			return '_'
		}
		return r
	}, desc)
}

// ClassFailure records a class rendered with validation errors or not at all.
type ClassFailure struct {
	Class string   `json:"class"`
	Error string   `json:"error,omitempty"`
	Diags []string `json:"diags,omitempty"`
}

// Summary is the result of disassembling one dex image.
type Summary struct {
	Input     string         `json:"input"`
	Version   int            `json:"version"`
	Odex      bool           `json:"odex,omitempty"`
	Mode      string         `json:"mode"`
	Classes   int            `json:"classes"`
	Written   int            `json:"written"`
	Invalid   int            `json:"invalid"`
	Failures  []ClassFailure `json:"failures,omitempty"`
	ElapsedMS int64          `json:"elapsed_ms"`
}

// WriteSummaryJSON writes one summary per dex image to summary.json.
func WriteSummaryJSON(dir string, s []Summary) error {
	return writeJSON(filepath.Join(dir, "summary.json"), s)
}

// WriteStatsJSON writes call graph statistics to callgraph_stats.json.
func WriteStatsJSON(dir string, stats any) error {
	return writeJSON(filepath.Join(dir, "callgraph_stats.json"), stats)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}
