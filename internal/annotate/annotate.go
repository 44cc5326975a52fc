// Package annotate produces a byte-level map of a dex container: every
// structure the reader understands is listed with its offset, raw bytes
// and decoded value, and byte ranges nothing claims are reported as gaps.
//
// Offsets are relative to the dex image; for an odex file that is the
// embedded dex, not the wrapper.
package annotate

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"

	"undex/internal/bytecode"
	"undex/internal/dexfile"
	"undex/internal/dexfmt"
)

// Region is one annotated byte range.
type Region struct {
	Offset int
	Len    int
	Field  string
	Value  string
}

func (r Region) String() string {
	if r.Value == "" {
		return r.Field
	}
	return r.Field + ": " + r.Value
}

// Annotation is the result of walking a container.
type Annotation struct {
	Regions []Region // sorted by offset
	Size    int
	Diags   []dexfmt.Diag
}

type annotator struct {
	f       *dexfile.File
	buf     dexfmt.Buffer
	set     *bytecode.OpcodeSet
	regions []Region
	done    map[int]bool // data items already walked, by offset
	diags   dexfmt.Diags
}

func (a *annotator) add(off, n int, field, format string, args ...any) {
	if n <= 0 {
		return
	}
	v := format
	if len(args) > 0 {
		v = fmt.Sprintf(format, args...)
	}
	a.regions = append(a.regions, Region{Offset: off, Len: n, Field: field, Value: v})
}

// once reports whether the item at off is seen for the first time.
func (a *annotator) once(off int) bool {
	if off == 0 || a.done[off] {
		return false
	}
	a.done[off] = true
	return true
}

func (a *annotator) fail(err error) { a.diags.AddErr(err) }

// Annotate walks every structure of f reachable from the header.
func Annotate(f *dexfile.File) *Annotation {
	a := &annotator{
		f:    f,
		buf:  f.Buffer(),
		set:  bytecode.NewOpcodeSet(f.Version(), f.IsOdex()),
		done: make(map[int]bool),
	}
	a.header()
	a.stringIDs()
	a.typeIDs()
	a.protoIDs()
	a.fieldIDs()
	a.methodIDs()
	a.classDefs()
	a.callSiteIDs()
	a.methodHandles()
	a.mapList()

	slices.SortStableFunc(a.regions, func(x, y Region) int { return x.Offset - y.Offset })
	return &Annotation{Regions: a.regions, Size: a.buf.Len(), Diags: a.diags.Items()}
}

const bytesPerLine = 8

// Dump writes the annotated byte map of f to w, one line per region and
// continuation lines for long ones.
func Dump(f *dexfile.File, w io.Writer) error {
	return Annotate(f).Write(w, f.Buffer().Bytes())
}

// Write renders the annotation over data.
func (an *Annotation) Write(w io.Writer, data []byte) error {
	bw := bufio.NewWriter(w)
	pos := 0
	gap := func(end int) {
		if end > pos {
			writeRegion(bw, data, Region{Offset: pos, Len: end - pos, Field: "unannotated", Value: fmt.Sprintf("%d bytes", end-pos)})
			pos = end
		}
	}
	for _, r := range an.Regions {
		gap(r.Offset)
		writeRegion(bw, data, r)
		pos = max(pos, r.Offset+r.Len)
	}
	gap(min(an.Size, len(data)))
	for _, d := range an.Diags {
		fmt.Fprintf(bw, "# %s\n", d)
	}
	return bw.Flush()
}

func writeRegion(w *bufio.Writer, data []byte, r Region) {
	end := min(r.Offset+r.Len, len(data))
	first := true
	for off := r.Offset; off < end || first; off += bytesPerLine {
		chunk := data[min(off, end):min(off+bytesPerLine, end)]
		var hex strings.Builder
		for i, b := range chunk {
			if i > 0 {
				hex.WriteByte(' ')
			}
			fmt.Fprintf(&hex, "%02x", b)
		}
		label := ""
		if first {
			label = r.String()
		}
		fmt.Fprintf(w, "%06x: %-23s | %s\n", off, hex.String(), label)
		first = false
	}
}
