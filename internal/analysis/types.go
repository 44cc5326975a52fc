// Package analysis infers register types per instruction. It is a
// simplified verifier pass used for register-info comments: it tracks
// categories through a fixpoint over the method's control flow and reports
// the first inconsistency it finds.
package analysis

// Category is the coarse kind of value held by a register.
type Category uint8

const (
	Unknown Category = iota
	Uninit
	Null
	One
	Boolean
	Byte
	PosByte
	Short
	PosShort
	Char
	Integer
	Float
	LongLo
	LongHi
	DoubleLo
	DoubleHi
	UninitRef
	UninitThis
	Reference
	Conflict
)

var categoryNames = [...]string{
	"Unknown", "Uninit", "Null", "One", "Boolean", "Byte", "PosByte", "Short",
	"PosShort", "Char", "Integer", "Float", "LongLo", "LongHi", "DoubleLo",
	"DoubleHi", "UninitRef", "UninitThis", "Reference", "Conflict",
}

func (c Category) String() string { return categoryNames[c] }

// RegisterType is a category plus, for references, a type descriptor.
type RegisterType struct {
	Category Category
	Type     string
}

// String renders "(Category)" or "(Category,Type)".
func (t RegisterType) String() string {
	if t.Type == "" {
		return "(" + t.Category.String() + ")"
	}
	return "(" + t.Category.String() + "," + t.Type + ")"
}

func cat(c Category) RegisterType { return RegisterType{Category: c} }

func ref(desc string) RegisterType { return RegisterType{Category: Reference, Type: desc} }

const objectType = "Ljava/lang/Object;"

// Narrow categories a value may be widened to, narrowest first.
var widening = map[Category][]Category{
	Null:     {Null, Boolean, PosByte, Byte, PosShort, Short, Char, Integer, Float, Reference},
	One:      {One, Boolean, PosByte, Byte, PosShort, Short, Char, Integer, Float},
	Boolean:  {Boolean, PosByte, Byte, PosShort, Short, Char, Integer, Float},
	PosByte:  {PosByte, Byte, PosShort, Short, Char, Integer, Float},
	Byte:     {Byte, Short, Integer, Float},
	PosShort: {PosShort, Short, Char, Integer, Float},
	Short:    {Short, Integer, Float},
	Char:     {Char, Integer, Float},
	Integer:  {Integer},
	Float:    {Float, Integer},
}

// Merge joins the types of a register arriving from two predecessors.
func Merge(a, b RegisterType) RegisterType {
	switch {
	case a == b:
		return a
	case a.Category == Unknown:
		return b
	case b.Category == Unknown:
		return a
	case a.Category == Conflict || b.Category == Conflict:
		return cat(Conflict)
	}
	if a.Category == Null && b.Category == Reference {
		return b
	}
	if b.Category == Null && a.Category == Reference {
		return a
	}
	if a.Category == Reference && b.Category == Reference {
		return ref(commonSuper(a.Type, b.Type))
	}
	if wa, ok := widening[a.Category]; ok {
		if wb, ok := widening[b.Category]; ok {
			for _, c := range wa {
				for _, d := range wb {
					if c == d {
						return cat(c)
					}
				}
			}
		}
		return cat(Conflict)
	}
	switch {
	case isLo(a.Category) && isLo(b.Category):
		return cat(LongLo)
	case isHi(a.Category) && isHi(b.Category):
		return cat(LongHi)
	}
	return cat(Conflict)
}

func isLo(c Category) bool { return c == LongLo || c == DoubleLo }
func isHi(c Category) bool { return c == LongHi || c == DoubleHi }

// commonSuper approximates the join of two reference types without a
// class hierarchy.
func commonSuper(a, b string) string {
	if a == b {
		return a
	}
	if len(a) > 1 && len(b) > 1 && a[0] == '[' && b[0] == '[' {
		ea, eb := a[1:], b[1:]
		if isRefDesc(ea) && isRefDesc(eb) {
			return "[" + commonSuper(ea, eb)
		}
	}
	return objectType
}

func isRefDesc(d string) bool { return d != "" && (d[0] == 'L' || d[0] == '[') }

// typeOf maps a descriptor to the register type of its low register.
func typeOf(desc string) RegisterType {
	if desc == "" {
		return cat(Unknown)
	}
	switch desc[0] {
	case 'Z':
		return cat(Boolean)
	case 'B':
		return cat(Byte)
	case 'S':
		return cat(Short)
	case 'C':
		return cat(Char)
	case 'I':
		return cat(Integer)
	case 'F':
		return cat(Float)
	case 'J':
		return cat(LongLo)
	case 'D':
		return cat(DoubleLo)
	case 'L', '[':
		return ref(desc)
	}
	return cat(Unknown)
}

func isWide(c Category) bool { return c == LongLo || c == DoubleLo }

func hiOf(c Category) Category {
	if c == DoubleLo {
		return DoubleHi
	}
	return LongHi
}

// literalType is the narrowest category holding an int literal.
func literalType(v int64) RegisterType {
	switch {
	case v == 0:
		return cat(Null)
	case v == 1:
		return cat(One)
	case v > 0 && v < 0x80:
		return cat(PosByte)
	case v >= -0x80 && v < 0:
		return cat(Byte)
	case v > 0 && v < 0x8000:
		return cat(PosShort)
	case v >= -0x8000 && v < 0:
		return cat(Short)
	case v > 0 && v < 0x10000:
		return cat(Char)
	}
	return cat(Integer)
}
