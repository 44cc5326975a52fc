package dexfile

import (
	"fmt"
	"sync"

	"undex/internal/dexfmt"
)

// Group is one of the four member groups of a class, in storage order.
type Group int

const (
	StaticFields Group = iota
	InstanceFields
	DirectMethods
	VirtualMethods
)

var groupNames = [...]string{"static fields", "instance fields", "direct methods", "virtual methods"}

func (g Group) String() string { return groupNames[g] }

// IsMethods reports whether the group holds methods.
func (g Group) IsMethods() bool { return g >= DirectMethods }

type groupPhase uint8

const (
	groupNotStarted groupPhase = iota
	groupInProgress            // offset is the group's start
	groupDone                  // offset is the first byte after the group
)

type groupState struct {
	phase  groupPhase
	offset int
}

// ClassDef is a class_def_item. Member groups are decoded on demand from
// the class_data_item.
type ClassDef struct {
	f      *File
	Index  int
	Offset int

	typeIdx         int
	superIdx        uint32
	AccessFlags     AccessFlags
	interfacesOff   int
	sourceFileIdx   uint32
	annotationsOff  int
	classDataOff    int
	staticValuesOff int

	counts  [4]int
	dataOff int // first member entry, after the four counts

	mu     sync.Mutex
	groups [4]groupState

	annOnce sync.Once
	ann     *annotationsDirectory
	annErr  error
}

// ClassAt reads the class_def_item at off together with its class data
// header.
func (f *File) ClassAt(off int) (*ClassDef, error) {
	if _, err := f.buf.Slice(off, SectionClassDef.ItemSize()); err != nil {
		return nil, err
	}
	c := &ClassDef{f: f, Offset: off, Index: -1}
	u := func(o int) uint32 { v, _ := f.buf.Uint32(off + o); return v }
	c.typeIdx = int(u(0))
	c.AccessFlags = AccessFlags(u(4))
	c.superIdx = u(8)
	c.interfacesOff = int(u(12))
	c.sourceFileIdx = u(16)
	c.annotationsOff = int(u(20))
	c.classDataOff = int(u(24))
	c.staticValuesOff = int(u(28))

	if c.classDataOff != 0 {
		r := f.buf.ReaderAt(c.classDataOff)
		for i := range c.counts {
			n, err := r.ReadSmallUleb128()
			if err != nil {
				return nil, fmt.Errorf("dexfile: class data header at 0x%x: %w", c.classDataOff, err)
			}
			c.counts[i] = n
		}
		c.dataOff = r.Position()
	}
	return c, nil
}

// File returns the container the class belongs to.
func (c *ClassDef) File() *File { return c.f }

// Type returns the class descriptor.
func (c *ClassDef) Type() (string, error) { return c.f.Type(c.typeIdx) }

// Superclass returns the superclass descriptor; ok is false for classes
// without one.
func (c *ClassDef) Superclass() (string, bool, error) {
	return c.f.OptionalType(int(int32(c.superIdx)))
}

// SourceFile returns the source file name, if recorded.
func (c *ClassDef) SourceFile() (string, bool, error) {
	return c.f.OptionalString(int(int32(c.sourceFileIdx)))
}

// Interfaces returns the implemented interface descriptors.
func (c *ClassDef) Interfaces() ([]string, error) {
	return c.f.TypeList(c.interfacesOff)
}

// Count returns the declared number of entries in group g, duplicates
// included.
func (c *ClassDef) Count(g Group) int { return c.counts[g] }

// ClassDataOffset returns the offset of the class_data_item, 0 if none.
func (c *ClassDef) ClassDataOffset() int { return c.classDataOff }

// StaticValuesOffset returns the offset of the static values array, 0 if none.
func (c *ClassDef) StaticValuesOffset() int { return c.staticValuesOff }

// AnnotationsOffset returns the offset of the annotations directory, 0 if none.
func (c *ClassDef) AnnotationsOffset() int { return c.annotationsOff }

func (c *ClassDef) directory() (*annotationsDirectory, error) {
	c.annOnce.Do(func() {
		c.ann, c.annErr = c.f.readAnnotationsDirectory(c.annotationsOff)
	})
	return c.ann, c.annErr
}

// Annotations returns the class-level annotations.
func (c *ClassDef) Annotations() ([]Annotation, error) {
	d, err := c.directory()
	if err != nil {
		return nil, err
	}
	return c.f.AnnotationSet(d.classSet)
}

// groupStart returns the offset of group g's first entry, replaying and
// memoizing earlier groups as needed.
func (c *ClassDef) groupStart(g Group) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.groupStartLocked(g)
}

func (c *ClassDef) groupStartLocked(g Group) (int, error) {
	if g == StaticFields {
		return c.dataOff, nil
	}
	prev := &c.groups[g-1]
	if prev.phase == groupDone {
		return prev.offset, nil
	}
	start, err := c.groupStartLocked(g - 1)
	if err != nil {
		return 0, err
	}
	end, err := c.skipGroup(g-1, start)
	if err != nil {
		return 0, err
	}
	*prev = groupState{phase: groupDone, offset: end}
	return end, nil
}

// skipGroup walks group g from start without materializing values.
func (c *ClassDef) skipGroup(g Group, start int) (int, error) {
	r := c.f.buf.ReaderAt(start)
	per := 2
	if g.IsMethods() {
		per = 3
	}
	for i := 0; i < c.counts[g]*per; i++ {
		if err := r.SkipUleb128(); err != nil {
			return 0, fmt.Errorf("dexfile: skipping %s: %w", g, err)
		}
	}
	return r.Position(), nil
}

func (c *ClassDef) markStarted(g Group, start int) {
	c.mu.Lock()
	if c.groups[g].phase == groupNotStarted {
		c.groups[g] = groupState{phase: groupInProgress, offset: start}
	}
	c.mu.Unlock()
}

func (c *ClassDef) markDone(g Group, end int) {
	c.mu.Lock()
	c.groups[g] = groupState{phase: groupDone, offset: end}
	c.mu.Unlock()
}

// staticValues hands out static initial values in field order.
type staticValues struct {
	r    *dexfmt.Reader
	left int
}

func (c *ClassDef) newStaticValues() (*staticValues, error) {
	if c.staticValuesOff == 0 {
		return &staticValues{}, nil
	}
	r := c.f.buf.ReaderAt(c.staticValuesOff)
	n, err := r.ReadSmallUleb128()
	if err != nil {
		return nil, err
	}
	return &staticValues{r: r, left: n}, nil
}

func (s *staticValues) next(f *File) (*Value, error) {
	if s.left == 0 {
		return nil, nil
	}
	s.left--
	v, err := f.ReadValue(s.r)
	if err != nil {
		return nil, fmt.Errorf("dexfile: static value: %w", err)
	}
	return &v, nil
}
