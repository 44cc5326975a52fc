// Package smali renders decoded dex classes as smali assembly text.
//
// Output follows the conventions of baksmali byte for byte: canonical
// access-flag order, four member groups in container order, and method
// bodies as a stable sort of render units by address and kind.
package smali

import (
	"fmt"
	"strings"

	"undex/internal/bytecode"
	"undex/internal/dexfile"
	"undex/internal/dexfmt"
)

// Renderer renders classes of one container. It may be shared by
// goroutines rendering different classes.
type Renderer struct {
	f         *dexfile.File
	opts      Options
	set       *bytecode.OpcodeSet
	accessors *AccessorResolver
}

func NewRenderer(f *dexfile.File, opts Options) *Renderer {
	r := &Renderer{
		f:    f,
		opts: opts,
		set:  bytecode.NewOpcodeSet(f.Version(), f.IsOdex()),
	}
	if opts.AccessorComments {
		r.accessors = NewAccessorResolver(f, r.set)
	}
	return r
}

// OpcodeSet returns the opcode table matching the container.
func (r *Renderer) OpcodeSet() *bytecode.OpcodeSet { return r.set }

// Result is the rendering of one class.
type Result struct {
	Text string
	// HadValidationErrors is set when some member could not be rendered
	// faithfully and was replaced by a comment.
	HadValidationErrors bool
	Diags               []dexfmt.Diag
}

type classRenderer struct {
	r     *Renderer
	f     *dexfile.File
	opts  *Options
	c     *dexfile.ClassDef
	typ   string
	diags dexfmt.Diags

	invalid bool
	// short descriptors of own static fields assigned in <clinit>
	clinitPuts map[string]bool
}

// fail records a member-level error and flags the class.
func (cr *classRenderer) fail(err error) {
	cr.diags.AddErr(err)
	cr.invalid = true
}

// RenderClass renders c. Errors in individual members are reported in the
// Result; an error is returned only when the class itself is unreadable.
func (r *Renderer) RenderClass(c *dexfile.ClassDef) (Result, error) {
	typ, err := c.Type()
	if err != nil {
		return Result{}, fmt.Errorf("smali: class %d: %w", c.Index, err)
	}
	cr := &classRenderer{r: r, f: r.f, opts: &r.opts, c: c, typ: typ}
	var sb strings.Builder
	w := NewWriter(&sb)
	if err := cr.writeHeader(w); err != nil {
		return Result{}, fmt.Errorf("smali: %s: %w", typ, err)
	}
	cr.findClinitPuts()
	statics := cr.writeFields(w, dexfile.StaticFields, nil)
	cr.writeFields(w, dexfile.InstanceFields, statics)
	directs := cr.writeMethods(w, dexfile.DirectMethods, nil)
	cr.writeMethods(w, dexfile.VirtualMethods, directs)
	return Result{Text: sb.String(), HadValidationErrors: cr.invalid, Diags: cr.diags.Items()}, nil
}

func writeFlags(w *Writer, f dexfile.AccessFlags, target dexfile.FlagTarget) {
	for _, k := range f.Keywords(target) {
		w.WriteString(k + " ")
	}
}

func (cr *classRenderer) writeHeader(w *Writer) error {
	c := cr.c
	w.WriteString(".class ")
	writeFlags(w, c.AccessFlags, dexfile.TargetClass)
	w.WriteString(cr.typ + "\n")

	super, ok, err := c.Superclass()
	if err != nil {
		return err
	}
	if ok {
		w.WriteString(".super " + super + "\n")
	}
	src, ok, err := c.SourceFile()
	if err != nil {
		return err
	}
	if ok {
		w.WriteString(".source " + Quote(src) + "\n")
	}

	ifaces, err := c.Interfaces()
	if err != nil {
		return err
	}
	if len(ifaces) > 0 {
		w.WriteString("\n# interfaces\n")
		for _, t := range ifaces {
			w.WriteString(".implements " + t + "\n")
		}
	}

	anns, err := c.Annotations()
	if err != nil {
		return err
	}
	if len(anns) > 0 {
		w.WriteString("\n\n# annotations\n")
		writeAnnotations(w, anns)
	}
	return nil
}

// findClinitPuts collects the own static fields written by <clinit>.
func (cr *classRenderer) findClinitPuts() {
	cr.clinitPuts = make(map[string]bool)
	// unresolvable methods are reported by writeMethods
	methods, _ := cr.c.DirectMethods()
	for _, m := range methods {
		if m.Ref.Name != "<clinit>" {
			continue
		}
		code, err := m.Code()
		if err != nil || code == nil {
			continue
		}
		for in, err := range bytecode.Decode(code.Insns, cr.r.set) {
			if err != nil {
				break
			}
			if in.Op.Ref != bytecode.RefField || !strings.HasPrefix(in.Op.Name, "sput") {
				continue
			}
			ref, err := cr.f.Field(in.Index)
			if err == nil && ref.Class == cr.typ {
				cr.clinitPuts[ref.ShortDescriptor()] = true
			}
		}
	}
}

// writeFields renders one field group and returns the short descriptors
// written. other holds the static group's descriptors when rendering
// instance fields.
func (cr *classRenderer) writeFields(w *Writer, g dexfile.Group, other map[string]bool) map[string]bool {
	written := make(map[string]bool)
	header := false
	for fd, err := range cr.c.FieldGroup(g, false) {
		if !header {
			w.WriteString("\n\n# " + g.String())
			header = true
		}
		if err != nil {
			cr.fail(err)
			w.WriteString("\n# " + err.Error() + "\n")
			continue
		}
		w.WriteString("\n")
		desc := fd.Ref.ShortDescriptor()
		fw := w
		inClinit := false
		switch {
		case written[desc]:
			w.WriteString("# duplicate field ignored\n")
			fw = w.Commenting()
			cr.duplicate(fd.Offset, "Ignoring duplicate field: %s->%s", cr.typ, desc)
		case other[desc]:
			cr.opts.warn("Duplicate static+instance field found: %s->%s", cr.typ, desc)
			w.WriteString("# There is both a static and instance field with this signature.\n" +
				"# You will need to rename one of these fields, including all references.\n")
		default:
			inClinit = g == dexfile.StaticFields && cr.clinitPuts[desc]
		}
		written[desc] = true
		cr.writeField(fw, fd, inClinit)
	}
	return written
}

func (cr *classRenderer) duplicate(off int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	cr.opts.warn("%s", msg)
	cr.diags.Add(off, dexfmt.DiagDuplicate, msg)
}

func (cr *classRenderer) writeField(w *Writer, fd *dexfile.Field, setInClinit bool) {
	iv := fd.InitialValue
	if setInClinit && iv != nil && fd.AccessFlags.Has(dexfile.AccStatic|dexfile.AccFinal) {
		if iv.IsDefault() {
			iv = nil
		} else {
			w.WriteString("# The value of this static final field might be set in the static constructor\n")
		}
	}
	w.WriteString(".field ")
	writeFlags(w, fd.AccessFlags, dexfile.TargetField)
	w.WriteString(fd.Ref.ShortDescriptor())
	if iv != nil {
		w.WriteString(" = ")
		writeValue(w, *iv)
	}
	w.WriteString("\n")
	anns, err := fd.Annotations()
	if err != nil {
		cr.fail(err)
		return
	}
	if len(anns) > 0 {
		w.Indent(4)
		writeAnnotations(w, anns)
		w.Deindent(4)
		w.WriteString(".end field\n")
	}
}

func (cr *classRenderer) writeMethods(w *Writer, g dexfile.Group, other map[string]bool) map[string]bool {
	written := make(map[string]bool)
	header := false
	for m, err := range cr.c.MethodGroup(g, false) {
		if !header {
			w.WriteString("\n\n# " + g.String())
			header = true
		}
		if err != nil {
			cr.fail(err)
			w.WriteString("\n# " + err.Error() + "\n")
			continue
		}
		w.WriteString("\n")
		desc := m.Ref.ShortDescriptor()
		mw := w
		switch {
		case written[desc]:
			w.WriteString("# duplicate method ignored\n")
			mw = w.Commenting()
			cr.duplicate(m.Offset, "Ignoring duplicate method: %s->%s", cr.typ, desc)
		case other[desc]:
			cr.opts.warn("Duplicate direct+virtual method found: %s->%s", cr.typ, desc)
			w.WriteString("# There is both a direct and virtual method with this signature.\n" +
				"# You will need to rename one of these methods, including all references.\n")
		}
		written[desc] = true
		cr.writeMethod(mw, m)
	}
	return written
}
