package bytecode

import (
	"encoding/binary"
	"fmt"
	"iter"

	"undex/internal/dexfmt"
)

// Instruction is one decoded instruction. Register and literal fields are
// filled according to the opcode's format; unused fields are zero.
type Instruction struct {
	Addr  int // code unit offset within the method
	Op    *Opcode
	Units int
	Raw   uint16 // first code unit

	A, B, C int // register operands, or A as the 20bc error kind

	// Regs lists the argument registers of 35c-style formats.
	Regs []int
	// RangeStart and RangeCount describe 3rc-style register ranges.
	RangeStart int
	RangeCount int

	Literal int64
	Offset  int32 // branch or payload offset, relative to Addr
	Index   int   // primary reference index
	Index2  int   // proto index of invoke-polymorphic

	Packed *PackedSwitch
	Sparse *SparseSwitch
	Array  *ArrayData

	Unknown bool
}

// Target returns the absolute target of a branch or payload reference.
func (in *Instruction) Target() int { return in.Addr + int(in.Offset) }

// End returns the address following the instruction.
func (in *Instruction) End() int { return in.Addr + in.Units }

// HasTarget reports whether Offset is meaningful.
func (in *Instruction) HasTarget() bool {
	switch in.Op.Format {
	case Format10t, Format20t, Format30t, Format21t, Format22t, Format31t:
		return true
	}
	return false
}

// RegisterList returns the registers an invoke-style instruction passes.
func (in *Instruction) RegisterList() []int {
	switch in.Op.Format {
	case Format35c, Format35ms, Format35mi, Format45cc:
		return in.Regs
	case Format3rc, Format3rms, Format3rmi, Format4rcc:
		out := make([]int, in.RangeCount)
		for i := range out {
			out[i] = in.RangeStart + i
		}
		return out
	}
	return nil
}

// DecodeError reports an instruction that could not be decoded.
type DecodeError struct {
	Addr int
	Msg  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bytecode: 0x%x: %s", e.Addr, e.Msg)
}

type units []byte

func (u units) n() int { return len(u) / 2 }

func (u units) at(i int) uint32 { return uint32(binary.LittleEndian.Uint16(u[2*i:])) }

// Decode yields the instructions of a code item's insns bytes in order.
// After an error the sequence ends.
func Decode(code []byte, set *OpcodeSet) iter.Seq2[Instruction, error] {
	return func(yield func(Instruction, error) bool) {
		for addr := 0; addr < len(code)/2; {
			in, err := DecodeAt(code, addr, set)
			if err != nil {
				yield(in, err)
				return
			}
			if !yield(in, nil) {
				return
			}
			addr += in.Units
		}
	}
}

// DecodeAll decodes a whole instruction stream.
func DecodeAll(code []byte, set *OpcodeSet) ([]Instruction, error) {
	var out []Instruction
	for in, err := range Decode(code, set) {
		if err != nil {
			return out, err
		}
		out = append(out, in)
	}
	return out, nil
}

// DecodeAt decodes the instruction starting at code unit addr.
func DecodeAt(code []byte, addr int, set *OpcodeSet) (Instruction, error) {
	u := units(code)
	if addr < 0 || addr >= u.n() {
		return Instruction{}, &DecodeError{addr, "address outside code"}
	}
	w := u.at(addr)
	in := Instruction{Addr: addr, Raw: uint16(w)}
	op := set.Lookup(uint16(w))
	if op == nil {
		in.Op = UnknownOpcode(uint16(w))
		if byte(w) != 0 {
			in.Op.Value = uint16(byte(w))
		}
		in.Unknown = true
		in.Units = 1
		return in, nil
	}
	in.Op = op
	if op.Format.IsPayload() {
		return decodePayload(u, in)
	}
	in.Units = op.Format.Units()
	if addr+in.Units > u.n() {
		return in, &DecodeError{addr, fmt.Sprintf("%s truncated: needs %d code units, %d left", op.Name, in.Units, u.n()-addr)}
	}
	w1 := func() uint32 { return u.at(addr + 1) }
	w2 := func() uint32 { return u.at(addr + 2) }
	w32 := func() uint32 { return w1() | w2()<<16 }
	aa := int(w >> 8)
	a4, b4 := int(w>>8&0xf), int(w>>12)

	switch op.Format {
	case Format10x:
	case Format12x:
		in.A, in.B = a4, b4
	case Format11n:
		in.A = a4
		in.Literal = int64(int8(byte(w>>8)) >> 4)
	case Format11x:
		in.A = aa
	case Format10t:
		in.Offset = int32(int8(byte(w >> 8)))
	case Format20t:
		in.Offset = int32(int16(w1()))
	case Format20bc:
		in.A = aa
		in.Index = int(w1())
	case Format22x:
		in.A, in.B = aa, int(w1())
	case Format21t:
		in.A = aa
		in.Offset = int32(int16(w1()))
	case Format21s:
		in.A = aa
		in.Literal = int64(int16(w1()))
	case Format21ih:
		in.A = aa
		in.Literal = int64(int32(w1() << 16))
	case Format21lh:
		in.A = aa
		in.Literal = int64(int16(w1())) << 48
	case Format21c:
		in.A = aa
		in.Index = int(w1())
	case Format23x:
		in.A = aa
		in.B, in.C = int(w1()&0xff), int(w1()>>8)
	case Format22b:
		in.A = aa
		in.B = int(w1() & 0xff)
		in.Literal = int64(int8(w1() >> 8))
	case Format22t:
		in.A, in.B = a4, b4
		in.Offset = int32(int16(w1()))
	case Format22s:
		in.A, in.B = a4, b4
		in.Literal = int64(int16(w1()))
	case Format22c, Format22cs:
		in.A, in.B = a4, b4
		in.Index = int(w1())
	case Format30t:
		in.Offset = int32(w32())
	case Format32x:
		in.A, in.B = int(w1()), int(w2())
	case Format31i:
		in.A = aa
		in.Literal = int64(int32(w32()))
	case Format31t:
		in.A = aa
		in.Offset = int32(w32())
	case Format31c:
		in.A = aa
		in.Index = int(w32())
	case Format35c, Format35ms, Format35mi, Format45cc:
		count := b4
		if count > 5 {
			return in, &DecodeError{addr, fmt.Sprintf("%s: invalid register count %d", op.Name, count)}
		}
		in.Index = int(w1())
		r := w2()
		all := [5]int{int(r & 0xf), int(r >> 4 & 0xf), int(r >> 8 & 0xf), int(r >> 12), a4}
		in.Regs = append([]int(nil), all[:count]...)
		if op.Format == Format45cc {
			in.Index2 = int(u.at(addr + 3))
		}
	case Format3rc, Format3rms, Format3rmi, Format4rcc:
		in.RangeCount = aa
		in.Index = int(w1())
		in.RangeStart = int(w2())
		if op.Format == Format4rcc {
			in.Index2 = int(u.at(addr + 3))
		}
	case Format51l:
		in.A = aa
		var v uint64
		for i := 0; i < 4; i++ {
			v |= uint64(u.at(addr+1+i)) << (16 * i)
		}
		in.Literal = int64(v)
	default:
		return in, &DecodeError{addr, "unhandled format " + op.Format.String()}
	}
	return in, nil
}

// PackedSwitch is a packed-switch payload: consecutive keys from FirstKey.
type PackedSwitch struct {
	FirstKey int32
	Targets  []int32 // relative to the switch instruction
}

// SparseSwitch is a sparse-switch payload.
type SparseSwitch struct {
	Keys    []int32
	Targets []int32
}

// ArrayData is a fill-array-data payload.
type ArrayData struct {
	Width    int
	Elements []int64 // sign-extended per Width
}

func decodePayload(u units, in Instruction) (Instruction, error) {
	addr := in.Addr
	need := func(n int) error {
		if addr+n > u.n() {
			return &DecodeError{addr, fmt.Sprintf("%s truncated: needs %d code units, %d left", in.Op.Name, n, u.n()-addr)}
		}
		return nil
	}
	if err := need(2); err != nil {
		return in, err
	}
	size := int(u.at(addr + 1))
	i32 := func(unit int) int32 { return int32(u.at(unit) | u.at(unit+1)<<16) }

	switch in.Op.Format {
	case FormatPackedSwitchPayload:
		in.Units = size*2 + 4
		if err := need(in.Units); err != nil {
			return in, err
		}
		p := &PackedSwitch{FirstKey: i32(addr + 2), Targets: make([]int32, size)}
		for i := range p.Targets {
			p.Targets[i] = i32(addr + 4 + 2*i)
		}
		in.Packed = p
	case FormatSparseSwitchPayload:
		in.Units = size*4 + 2
		if err := need(in.Units); err != nil {
			return in, err
		}
		p := &SparseSwitch{Keys: make([]int32, size), Targets: make([]int32, size)}
		for i := 0; i < size; i++ {
			p.Keys[i] = i32(addr + 2 + 2*i)
			p.Targets[i] = i32(addr + 2 + 2*size + 2*i)
		}
		in.Sparse = p
	case FormatArrayPayload:
		width := size
		if err := need(4); err != nil {
			return in, err
		}
		count := int(u.at(addr+2) | u.at(addr+3)<<16)
		switch width {
		case 1, 2, 4, 8:
		default:
			return in, &DecodeError{addr, fmt.Sprintf("array-payload: invalid element width %d", width)}
		}
		if count < 0 || count > u.n()*2/width {
			return in, &DecodeError{addr, fmt.Sprintf("array-payload: element count %d exceeds code", count)}
		}
		in.Units = (count*width+1)/2 + 4
		if err := need(in.Units); err != nil {
			return in, err
		}
		data := dexfmt.NewBuffer(u[2*(addr+4):])
		a := &ArrayData{Width: width, Elements: make([]int64, count)}
		for i := range a.Elements {
			v, err := data.Fixed(i*width, width, true)
			if err != nil {
				return in, err
			}
			a.Elements[i] = v
		}
		in.Array = a
	}
	return in, nil
}
