// Package input finds dex images in the files undex is pointed at: a bare
// dex or odex file, or an apk, jar or zip archive holding classes*.dex
// entries. Archives nested one level deep (split apks inside a bundle) are
// searched when the outer archive has no dex entries of its own.
package input

import (
	"archive/zip"
	"bytes"
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"strconv"
	"strings"
)

// ErrNoDex is returned when an archive holds no dex entries.
var ErrNoDex = errors.New("input: no dex entries")

// Kind is the detected container of a file.
type Kind int

const (
	KindUnknown Kind = iota
	KindDex
	KindOdex
	KindCdex
	KindZip
)

func (k Kind) String() string {
	switch k {
	case KindDex:
		return "dex"
	case KindOdex:
		return "odex"
	case KindCdex:
		return "cdex"
	case KindZip:
		return "zip"
	}
	return "unknown"
}

// Sniff classifies data by its leading magic bytes.
func Sniff(data []byte) Kind {
	switch {
	case bytes.HasPrefix(data, []byte("dex\n")):
		return KindDex
	case bytes.HasPrefix(data, []byte("dey\n")):
		return KindOdex
	case bytes.HasPrefix(data, []byte("cdex")):
		return KindCdex
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return KindZip
	}
	return KindUnknown
}

// Image is one dex or odex image.
type Image struct {
	// Name is the file name, or "archive!entry" for archive members.
	Name   string
	Data   []byte
	SHA256 string
}

func newImage(name string, data []byte) Image {
	sum := sha256.Sum256(data)
	return Image{Name: name, Data: data, SHA256: hex.EncodeToString(sum[:])}
}

// Load reads the dex images of the file at p. A file that is neither a
// zip archive nor an obvious dex is returned as is so the dex reader can
// report what is wrong with it.
func Load(p string) ([]Image, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	if Sniff(data) != KindZip {
		return []Image{newImage(p, data)}, nil
	}
	return FromZip(bytes.NewReader(data), int64(len(data)), p)
}

// FromZip returns the dex entries of a zip archive in multidex order:
// classes.dex, classes2.dex, classes3.dex and so on, then any other .dex
// entries by name. label prefixes the image names.
func FromZip(r io.ReaderAt, size int64, label string) ([]Image, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("input: open zip %s: %w", label, err)
	}

	var dexFiles, nested []*zip.File
	for _, f := range zr.File {
		switch {
		case strings.HasSuffix(f.Name, ".dex"):
			dexFiles = append(dexFiles, f)
		case strings.HasSuffix(f.Name, ".apk"):
			nested = append(nested, f)
		}
	}
	slices.SortFunc(dexFiles, func(a, b *zip.File) int {
		return cmp.Or(cmp.Compare(dexOrder(a.Name), dexOrder(b.Name)), cmp.Compare(a.Name, b.Name))
	})

	var images []Image
	for _, f := range dexFiles {
		data, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("input: %s!%s: %w", label, f.Name, err)
		}
		images = append(images, newImage(label+"!"+f.Name, data))
	}

	if len(images) == 0 {
		for _, f := range nested {
			data, err := readEntry(f)
			if err != nil {
				continue
			}
			inner, err := FromZip(bytes.NewReader(data), int64(len(data)), label+"!"+f.Name)
			if err != nil {
				continue
			}
			images = append(images, inner...)
		}
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoDex, label)
	}
	return images, nil
}

// dexOrder ranks root classesN.dex entries by N; everything else sorts
// after them.
func dexOrder(name string) int {
	if strings.Contains(name, "/") {
		return 1 << 30
	}
	base := strings.TrimSuffix(path.Base(name), ".dex")
	if base == "classes" {
		return 1
	}
	if n, ok := strings.CutPrefix(base, "classes"); ok {
		if i, err := strconv.Atoi(n); err == nil && i > 1 {
			return i
		}
	}
	return 1<<30 - 1
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
