package dexfile

import "fmt"

// Visibility is the visibility byte of an annotation_item.
type Visibility uint8

const (
	VisibilityBuild   Visibility = 0
	VisibilityRuntime Visibility = 1
	VisibilitySystem  Visibility = 2
)

func (v Visibility) String() string {
	switch v {
	case VisibilityBuild:
		return "build"
	case VisibilityRuntime:
		return "runtime"
	case VisibilitySystem:
		return "system"
	}
	return fmt.Sprintf("visibility-0x%x", uint8(v))
}

// Annotation is an annotation_item.
type Annotation struct {
	Visibility Visibility
	EncodedAnnotation
}

// annotationsDirectory is the decoded annotations_directory_item of a class.
type annotationsDirectory struct {
	classSet   int
	fields     map[uint32]int
	methods    map[uint32]int
	parameters map[uint32]int
}

func (f *File) readAnnotationsDirectory(off int) (*annotationsDirectory, error) {
	d := &annotationsDirectory{}
	if off == 0 {
		return d, nil
	}
	var counts [3]int
	var err error
	if d.classSet, err = f.buf.U32(off); err != nil {
		return nil, err
	}
	for i := range counts {
		if counts[i], err = f.buf.U32(off + 4 + 4*i); err != nil {
			return nil, err
		}
	}
	p := off + 16
	read := func(n int) (map[uint32]int, error) {
		if n == 0 {
			return nil, nil
		}
		m := make(map[uint32]int, n)
		for i := 0; i < n; i++ {
			idx, err := f.buf.Uint32(p)
			if err != nil {
				return nil, err
			}
			setOff, err := f.buf.U32(p + 4)
			if err != nil {
				return nil, err
			}
			if _, dup := m[idx]; !dup {
				m[idx] = setOff
			}
			p += 8
		}
		return m, nil
	}
	if d.fields, err = read(counts[0]); err != nil {
		return nil, err
	}
	if d.methods, err = read(counts[1]); err != nil {
		return nil, err
	}
	if d.parameters, err = read(counts[2]); err != nil {
		return nil, err
	}
	return d, nil
}

// AnnotationSet decodes the annotation_set_item at off.
func (f *File) AnnotationSet(off int) ([]Annotation, error) {
	if off == 0 {
		return nil, nil
	}
	n, err := f.buf.U32(off)
	if err != nil {
		return nil, err
	}
	out := make([]Annotation, 0, min(n, 256))
	for i := 0; i < n; i++ {
		itemOff, err := f.buf.U32(off + 4 + 4*i)
		if err != nil {
			return nil, err
		}
		a, err := f.annotationItem(itemOff)
		if err != nil {
			return nil, fmt.Errorf("dexfile: annotation at 0x%x: %w", itemOff, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *File) annotationItem(off int) (Annotation, error) {
	r := f.buf.ReaderAt(off)
	vis, err := r.ReadUint8()
	if err != nil {
		return Annotation{}, err
	}
	ea, err := f.readEncodedAnnotation(r)
	if err != nil {
		return Annotation{}, err
	}
	return Annotation{Visibility: Visibility(vis), EncodedAnnotation: *ea}, nil
}

// annotationSetRefList decodes an annotation_set_ref_list: one set per
// parameter, nil where a parameter has none.
func (f *File) annotationSetRefList(off int) ([][]Annotation, error) {
	n, err := f.buf.U32(off)
	if err != nil {
		return nil, err
	}
	out := make([][]Annotation, 0, min(n, 256))
	for i := 0; i < n; i++ {
		setOff, err := f.buf.U32(off + 4 + 4*i)
		if err != nil {
			return nil, err
		}
		set, err := f.AnnotationSet(setOff)
		if err != nil {
			return nil, err
		}
		out = append(out, set)
	}
	return out, nil
}
