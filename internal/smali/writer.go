package smali

import (
	"strconv"
	"strings"
)

// Writer is an indenting text sink. Indentation is written lazily at the
// first non-newline character of each line, so blank lines carry no
// trailing spaces. A commenting writer prefixes every non-blank line with
// "# " and forwards to its parent, which applies its own indent first.
type Writer struct {
	sb     *strings.Builder
	parent *Writer
	prefix string
	indent int
	bol    bool
}

// NewWriter returns a writer accumulating into sb.
func NewWriter(sb *strings.Builder) *Writer {
	return &Writer{sb: sb, bol: true}
}

// Commenting returns a writer whose lines are emitted as comments
// through w.
func (w *Writer) Commenting() *Writer {
	return &Writer{parent: w, prefix: "# ", bol: true}
}

func (w *Writer) emit(s string) {
	if w.parent != nil {
		w.parent.WriteString(s)
		return
	}
	w.sb.WriteString(s)
}

// WriteString writes s, inserting indentation at line starts.
func (w *Writer) WriteString(s string) {
	for len(s) > 0 {
		nl := strings.IndexByte(s, '\n')
		line := s
		if nl >= 0 {
			line = s[:nl]
		}
		if len(line) > 0 {
			if w.bol {
				w.emit(w.prefix + strings.Repeat(" ", w.indent))
				w.bol = false
			}
			w.emit(line)
		}
		if nl < 0 {
			return
		}
		w.emit("\n")
		w.bol = true
		s = s[nl+1:]
	}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	w.WriteString(string(p))
	return len(p), nil
}

// Indent increases the indentation of following lines by n spaces.
func (w *Writer) Indent(n int) { w.indent += n }

// Deindent decreases the indentation, never below zero.
func (w *Writer) Deindent(n int) {
	w.indent -= n
	if w.indent < 0 {
		w.indent = 0
	}
}

// Dec writes a signed decimal integer.
func (w *Writer) Dec(v int64) { w.WriteString(strconv.FormatInt(v, 10)) }

// Hex writes v as unsigned lowercase hex without a prefix.
func (w *Writer) Hex(v uint64) { w.WriteString(strconv.FormatUint(v, 16)) }
