package dexfile

import "fmt"

// DebugKind identifies a decoded debug_info event.
type DebugKind uint8

const (
	DebugLine DebugKind = iota
	DebugStartLocal
	DebugEndLocal
	DebugRestartLocal
	DebugPrologueEnd
	DebugEpilogueBegin
	DebugSetFile
)

// Debug info opcodes.
const (
	dbgEndSequence        = 0x00
	dbgAdvancePC          = 0x01
	dbgAdvanceLine        = 0x02
	dbgStartLocal         = 0x03
	dbgStartLocalExtended = 0x04
	dbgEndLocal           = 0x05
	dbgRestartLocal       = 0x06
	dbgSetPrologueEnd     = 0x07
	dbgSetEpilogueBegin   = 0x08
	dbgSetFile            = 0x09
	dbgFirstSpecial       = 0x0a
	dbgLineBase           = -4
	dbgLineRange          = 15
)

// Name is a string that may be absent (NO_INDEX in the container).
type Name struct {
	Value string
	Valid bool
}

// Local describes a local variable binding.
type Local struct {
	Name      Name
	Type      Name
	Signature Name
}

// DebugItem is one event of the debug state machine.
type DebugItem struct {
	Kind DebugKind
	Addr int
	Line uint32 // DebugLine
	Reg  int    // local events
	// Local is the binding started, ended or restarted. For end and
	// restart events it is the binding last known for Reg.
	Local Local
	File  Name // DebugSetFile
}

// DebugInfo is a decoded debug_info_item.
type DebugInfo struct {
	LineStart  uint32
	ParamNames []Name // by declared parameter, receiver excluded
	Items      []DebugItem
}

// ParamName returns the debug name of declared parameter i.
func (d *DebugInfo) ParamName(i int) Name {
	if d == nil || i >= len(d.ParamNames) {
		return Name{}
	}
	return d.ParamNames[i]
}

func (f *File) optionalName(idx int) (Name, error) {
	s, ok, err := f.OptionalString(idx)
	return Name{Value: s, Valid: ok}, err
}

func (f *File) optionalTypeName(idx int) (Name, error) {
	s, ok, err := f.OptionalType(idx)
	return Name{Value: s, Valid: ok}, err
}

// DebugInfo decodes the debug info of m. It returns nil when the code item
// carries none. On a decode error the events read so far are returned with
// the error.
func (f *File) DebugInfo(m *Method, code *CodeItem) (*DebugInfo, error) {
	if code == nil || code.DebugInfoOff == 0 {
		return nil, nil
	}
	r := f.buf.ReaderAt(code.DebugInfoOff)
	lineStart, err := r.ReadLargeUleb128()
	if err != nil {
		return nil, fmt.Errorf("dexfile: debug info at 0x%x: %w", code.DebugInfoOff, err)
	}
	nparams, err := r.ReadSmallUleb128()
	if err != nil {
		return nil, err
	}
	di := &DebugInfo{LineStart: uint32(lineStart)}
	for i := 0; i < nparams; i++ {
		idx, err := r.ReadUleb128p1()
		if err != nil {
			return nil, err
		}
		n, err := f.optionalName(idx)
		if err != nil {
			return nil, err
		}
		di.ParamNames = append(di.ParamNames, n)
	}

	locals := make(map[int]Local, code.Registers)
	reg := code.Registers - m.ParamRegisters()
	if !m.IsStatic() {
		locals[reg] = Local{Name: Name{"this", true}, Type: Name{m.Ref.Class, true}}
		reg++
	}
	for i, t := range m.Ref.Proto.Params {
		locals[reg] = Local{Name: di.ParamName(i), Type: Name{t, true}}
		reg += TypeRegisters(t)
	}

	addr := 0
	line := uint32(lineStart)
	fail := func(err error) (*DebugInfo, error) {
		return di, fmt.Errorf("dexfile: debug info at 0x%x: %w", code.DebugInfoOff, err)
	}
	for {
		op, err := r.ReadUint8()
		if err != nil {
			return fail(err)
		}
		switch op {
		case dbgEndSequence:
			return di, nil
		case dbgAdvancePC:
			d, err := r.ReadSmallUleb128()
			if err != nil {
				return fail(err)
			}
			addr += d
		case dbgAdvanceLine:
			d, err := r.ReadSleb128()
			if err != nil {
				return fail(err)
			}
			line += uint32(d)
		case dbgStartLocal, dbgStartLocalExtended:
			rg, err := r.ReadSmallUleb128()
			if err != nil {
				return fail(err)
			}
			nameIdx, err := r.ReadUleb128p1()
			if err != nil {
				return fail(err)
			}
			typeIdx, err := r.ReadUleb128p1()
			if err != nil {
				return fail(err)
			}
			var l Local
			if l.Name, err = f.optionalName(nameIdx); err != nil {
				return fail(err)
			}
			if l.Type, err = f.optionalTypeName(typeIdx); err != nil {
				return fail(err)
			}
			if op == dbgStartLocalExtended {
				sigIdx, err := r.ReadUleb128p1()
				if err != nil {
					return fail(err)
				}
				if l.Signature, err = f.optionalName(sigIdx); err != nil {
					return fail(err)
				}
			}
			locals[rg] = l
			di.Items = append(di.Items, DebugItem{Kind: DebugStartLocal, Addr: addr, Reg: rg, Local: l})
		case dbgEndLocal, dbgRestartLocal:
			rg, err := r.ReadSmallUleb128()
			if err != nil {
				return fail(err)
			}
			kind := DebugEndLocal
			if op == dbgRestartLocal {
				kind = DebugRestartLocal
			}
			di.Items = append(di.Items, DebugItem{Kind: kind, Addr: addr, Reg: rg, Local: locals[rg]})
		case dbgSetPrologueEnd:
			di.Items = append(di.Items, DebugItem{Kind: DebugPrologueEnd, Addr: addr})
		case dbgSetEpilogueBegin:
			di.Items = append(di.Items, DebugItem{Kind: DebugEpilogueBegin, Addr: addr})
		case dbgSetFile:
			idx, err := r.ReadUleb128p1()
			if err != nil {
				return fail(err)
			}
			name, err := f.optionalName(idx)
			if err != nil {
				return fail(err)
			}
			di.Items = append(di.Items, DebugItem{Kind: DebugSetFile, Addr: addr, File: name})
		default:
			adj := int(op) - dbgFirstSpecial
			line += uint32(dbgLineBase + adj%dbgLineRange)
			addr += adj / dbgLineRange
			di.Items = append(di.Items, DebugItem{Kind: DebugLine, Addr: addr, Line: line})
		}
	}
}
