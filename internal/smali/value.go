package smali

import (
	"undex/internal/dexfile"
)

// writeValue renders an encoded value as it appears in field initializers
// and annotation elements.
func writeValue(w *Writer, v dexfile.Value) {
	switch v.Type {
	case dexfile.ValueByte:
		w.WriteString(byteLiteral(v.Int))
	case dexfile.ValueShort:
		w.WriteString(shortLiteral(v.Int))
	case dexfile.ValueChar:
		w.WriteString(charLiteral(uint16(v.Int)))
	case dexfile.ValueInt:
		w.WriteString(intLiteral(v.Int))
	case dexfile.ValueLong:
		w.WriteString(longLiteral(v.Int))
	case dexfile.ValueFloat:
		w.WriteString(javaFloat(v.Float32()) + "f")
	case dexfile.ValueDouble:
		w.WriteString(javaDouble(v.Float64()))
	case dexfile.ValueString:
		w.WriteString(Quote(v.Str))
	case dexfile.ValueTypeRef:
		w.WriteString(v.Str)
	case dexfile.ValueField:
		w.WriteString(v.Field.String())
	case dexfile.ValueEnum:
		w.WriteString(".enum ")
		w.WriteString(v.Field.String())
	case dexfile.ValueMethod:
		w.WriteString(v.Method.String())
	case dexfile.ValueMethodType:
		w.WriteString(v.Proto.Descriptor())
	case dexfile.ValueMethodHandle:
		w.WriteString(v.Handle.String())
	case dexfile.ValueArray:
		writeArray(w, v.Array)
	case dexfile.ValueAnnotation:
		w.WriteString(".subannotation ")
		w.WriteString(v.Annotation.Type)
		w.WriteString("\n")
		writeElements(w, v.Annotation.Elements)
		w.WriteString(".end subannotation")
	case dexfile.ValueNull:
		w.WriteString("null")
	case dexfile.ValueBoolean:
		if v.Int != 0 {
			w.WriteString("true")
		} else {
			w.WriteString("false")
		}
	}
}

func writeArray(w *Writer, vals []dexfile.Value) {
	w.WriteString("{")
	if len(vals) == 0 {
		w.WriteString("}")
		return
	}
	w.WriteString("\n")
	w.Indent(4)
	for i, v := range vals {
		if i > 0 {
			w.WriteString(",\n")
		}
		writeValue(w, v)
	}
	w.Deindent(4)
	w.WriteString("\n}")
}

func writeElements(w *Writer, elems []dexfile.AnnotationElement) {
	w.Indent(4)
	for _, e := range elems {
		w.WriteString(e.Name)
		w.WriteString(" = ")
		writeValue(w, e.Value)
		w.WriteString("\n")
	}
	w.Deindent(4)
}

func writeAnnotation(w *Writer, a dexfile.Annotation) {
	w.WriteString(".annotation ")
	w.WriteString(a.Visibility.String())
	w.WriteString(" ")
	w.WriteString(a.Type)
	w.WriteString("\n")
	writeElements(w, a.Elements)
	w.WriteString(".end annotation\n")
}

// writeAnnotations writes a set of annotations separated by blank lines.
func writeAnnotations(w *Writer, anns []dexfile.Annotation) {
	for i, a := range anns {
		if i > 0 {
			w.WriteString("\n")
		}
		writeAnnotation(w, a)
	}
}
