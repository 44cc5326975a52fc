package input

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func zipOf(t *testing.T, entries map[string][]byte, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(entries[name]); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestSniff(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"dex\n035\x00", KindDex},
		{"dey\n036\x00", KindOdex},
		{"cdex001\x00", KindCdex},
		{"PK\x03\x04rest", KindZip},
		{"\x7fELF", KindUnknown},
		{"", KindUnknown},
	}
	for _, tt := range tests {
		if got := Sniff([]byte(tt.in)); got != tt.want {
			t.Errorf("Sniff(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFromZip_MultidexOrder(t *testing.T) {
	entries := map[string][]byte{
		"classes10.dex":       []byte("dex\n035\x00ten"),
		"classes2.dex":        []byte("dex\n035\x00two"),
		"AndroidManifest.xml": []byte("<manifest/>"),
		"classes.dex":         []byte("dex\n035\x00one"),
		"assets/extra.dex":    []byte("dex\n035\x00extra"),
	}
	data := zipOf(t, entries, "classes10.dex", "classes2.dex", "AndroidManifest.xml", "assets/extra.dex", "classes.dex")
	images, err := FromZip(bytes.NewReader(data), int64(len(data)), "app.apk")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"app.apk!classes.dex", "app.apk!classes2.dex", "app.apk!classes10.dex", "app.apk!assets/extra.dex"}
	if len(images) != len(want) {
		t.Fatalf("FromZip() = %d images, want %d", len(images), len(want))
	}
	for i, w := range want {
		if images[i].Name != w {
			t.Errorf("images[%d].Name = %q, want %q", i, images[i].Name, w)
		}
	}
	if string(images[0].Data) != "dex\n035\x00one" {
		t.Errorf("images[0].Data = %q", images[0].Data)
	}
	if len(images[0].SHA256) != 64 {
		t.Errorf("SHA256 = %q", images[0].SHA256)
	}
}

func TestFromZip_Nested(t *testing.T) {
	inner := zipOf(t, map[string][]byte{"classes.dex": []byte("dex\n035\x00")}, "classes.dex")
	outer := zipOf(t, map[string][]byte{"base.apk": inner, "toc.pb": nil}, "toc.pb", "base.apk")
	images, err := FromZip(bytes.NewReader(outer), int64(len(outer)), "app.apks")
	if err != nil {
		t.Fatal(err)
	}
	if len(images) != 1 || images[0].Name != "app.apks!base.apk!classes.dex" {
		t.Errorf("FromZip() = %+v", images)
	}
}

func TestFromZip_NoDex(t *testing.T) {
	data := zipOf(t, map[string][]byte{"a.txt": []byte("x")}, "a.txt")
	if _, err := FromZip(bytes.NewReader(data), int64(len(data)), "x.zip"); !errors.Is(err, ErrNoDex) {
		t.Errorf("FromZip() error = %v, want ErrNoDex", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "classes.dex")
	if err := os.WriteFile(p, []byte("dex\n035\x00"), 0644); err != nil {
		t.Fatal(err)
	}
	images, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(images) != 1 || images[0].Name != p {
		t.Errorf("Load() = %+v", images)
	}
	if _, err := Load(filepath.Join(dir, "missing.dex")); err == nil {
		t.Error("Load() of a missing file succeeded")
	}
}
