// Package bytecode decodes Dalvik instruction streams: opcode tables per
// dex version, format-driven operand extraction, switch and array payloads,
// and per-method control flow graphs.
package bytecode

import (
	"fmt"
	"strings"
)

// Format is a Dalvik instruction format, e.g. 22c.
type Format uint8

const (
	Format10x Format = iota
	Format12x
	Format11n
	Format11x
	Format10t
	Format20t
	Format20bc
	Format22x
	Format21t
	Format21s
	Format21ih
	Format21lh
	Format21c
	Format23x
	Format22b
	Format22t
	Format22s
	Format22c
	Format22cs
	Format30t
	Format32x
	Format31i
	Format31t
	Format31c
	Format35c
	Format35ms
	Format35mi
	Format3rc
	Format3rms
	Format3rmi
	Format45cc
	Format4rcc
	Format51l
	FormatPackedSwitchPayload
	FormatSparseSwitchPayload
	FormatArrayPayload
)

var formatInfo = [...]struct {
	name  string
	units int // 0 for payloads
}{
	Format10x: {"10x", 1}, Format12x: {"12x", 1}, Format11n: {"11n", 1}, Format11x: {"11x", 1},
	Format10t: {"10t", 1}, Format20t: {"20t", 2}, Format20bc: {"20bc", 2}, Format22x: {"22x", 2},
	Format21t: {"21t", 2}, Format21s: {"21s", 2}, Format21ih: {"21ih", 2}, Format21lh: {"21lh", 2},
	Format21c: {"21c", 2}, Format23x: {"23x", 2}, Format22b: {"22b", 2}, Format22t: {"22t", 2},
	Format22s: {"22s", 2}, Format22c: {"22c", 2}, Format22cs: {"22cs", 2}, Format30t: {"30t", 3},
	Format32x: {"32x", 3}, Format31i: {"31i", 3}, Format31t: {"31t", 3}, Format31c: {"31c", 3},
	Format35c: {"35c", 3}, Format35ms: {"35ms", 3}, Format35mi: {"35mi", 3}, Format3rc: {"3rc", 3},
	Format3rms: {"3rms", 3}, Format3rmi: {"3rmi", 3}, Format45cc: {"45cc", 4}, Format4rcc: {"4rcc", 4},
	Format51l:                 {"51l", 5},
	FormatPackedSwitchPayload: {"packed-switch-payload", 0},
	FormatSparseSwitchPayload: {"sparse-switch-payload", 0},
	FormatArrayPayload:        {"array-payload", 0},
}

func (f Format) String() string { return formatInfo[f].name }

// Units returns the fixed size in code units, 0 for variable-size payloads.
func (f Format) Units() int { return formatInfo[f].units }

// IsPayload reports whether f is a data payload pseudo-format.
func (f Format) IsPayload() bool { return f >= FormatPackedSwitchPayload }

// RefKind identifies what an instruction's index operand refers to.
type RefKind uint8

const (
	RefNone RefKind = iota
	RefString
	RefType
	RefField
	RefMethod
	RefCallSite
	RefMethodHandle
	RefProto
	RefInline       // execute-inline table slot
	RefVtable       // -quick vtable slot
	RefFieldOffset  // -quick field byte offset
	RefVerification // throw-verification-error; the kind is in the instruction
)

// Flags describe control-flow and register effects of an opcode.
type Flags uint16

const (
	FlagContinue Flags = 1 << iota // execution may fall through
	FlagBranch                     // goto or if
	FlagSwitch
	FlagInvoke
	FlagSetsResult // result readable by move-result
	FlagSetsRegister
	FlagSetsWide
	FlagCanThrow
	FlagReturn
	FlagOdex
)

// Opcode is one entry of an opcode table.
type Opcode struct {
	Value  uint16 // opcode byte, or the full unit for payloads
	Name   string
	Format Format
	Ref    RefKind
	Flags  Flags
}

// Has reports whether all bits of fl are set.
func (o *Opcode) Has(fl Flags) bool { return o.Flags&fl == fl }

func (o *Opcode) String() string { return o.Name }

const (
	PackedSwitchPayload = 0x0100
	SparseSwitchPayload = 0x0200
	ArrayPayload        = 0x0300
)

type opdef struct {
	v     uint16
	name  string
	fmt   Format
	ref   RefKind
	flags Flags
}

const (
	cont  = FlagContinue
	thr   = FlagCanThrow | FlagContinue
	reg   = FlagSetsRegister | FlagContinue
	wide  = FlagSetsRegister | FlagSetsWide | FlagContinue
	treg  = FlagSetsRegister | FlagCanThrow | FlagContinue
	twide = FlagSetsRegister | FlagSetsWide | FlagCanThrow | FlagContinue
	inv   = FlagInvoke | FlagSetsResult | FlagCanThrow | FlagContinue
	iff   = FlagBranch | FlagContinue
	ret   = FlagReturn
)

var baseOpcodes = []opdef{
	{0x00, "nop", Format10x, RefNone, cont},
	{0x01, "move", Format12x, RefNone, reg},
	{0x02, "move/from16", Format22x, RefNone, reg},
	{0x03, "move/16", Format32x, RefNone, reg},
	{0x04, "move-wide", Format12x, RefNone, wide},
	{0x05, "move-wide/from16", Format22x, RefNone, wide},
	{0x06, "move-wide/16", Format32x, RefNone, wide},
	{0x07, "move-object", Format12x, RefNone, reg},
	{0x08, "move-object/from16", Format22x, RefNone, reg},
	{0x09, "move-object/16", Format32x, RefNone, reg},
	{0x0a, "move-result", Format11x, RefNone, reg},
	{0x0b, "move-result-wide", Format11x, RefNone, wide},
	{0x0c, "move-result-object", Format11x, RefNone, reg},
	{0x0d, "move-exception", Format11x, RefNone, reg},
	{0x0e, "return-void", Format10x, RefNone, ret},
	{0x0f, "return", Format11x, RefNone, ret},
	{0x10, "return-wide", Format11x, RefNone, ret},
	{0x11, "return-object", Format11x, RefNone, ret},
	{0x12, "const/4", Format11n, RefNone, reg},
	{0x13, "const/16", Format21s, RefNone, reg},
	{0x14, "const", Format31i, RefNone, reg},
	{0x15, "const/high16", Format21ih, RefNone, reg},
	{0x16, "const-wide/16", Format21s, RefNone, wide},
	{0x17, "const-wide/32", Format31i, RefNone, wide},
	{0x18, "const-wide", Format51l, RefNone, wide},
	{0x19, "const-wide/high16", Format21lh, RefNone, wide},
	{0x1a, "const-string", Format21c, RefString, treg},
	{0x1b, "const-string/jumbo", Format31c, RefString, treg},
	{0x1c, "const-class", Format21c, RefType, treg},
	{0x1d, "monitor-enter", Format11x, RefNone, thr},
	{0x1e, "monitor-exit", Format11x, RefNone, thr},
	{0x1f, "check-cast", Format21c, RefType, treg},
	{0x20, "instance-of", Format22c, RefType, treg},
	{0x21, "array-length", Format12x, RefNone, treg},
	{0x22, "new-instance", Format21c, RefType, treg},
	{0x23, "new-array", Format22c, RefType, treg},
	{0x24, "filled-new-array", Format35c, RefType, FlagSetsResult | thr},
	{0x25, "filled-new-array/range", Format3rc, RefType, FlagSetsResult | thr},
	{0x26, "fill-array-data", Format31t, RefNone, thr},
	{0x27, "throw", Format11x, RefNone, FlagCanThrow},
	{0x28, "goto", Format10t, RefNone, FlagBranch},
	{0x29, "goto/16", Format20t, RefNone, FlagBranch},
	{0x2a, "goto/32", Format30t, RefNone, FlagBranch},
	{0x2b, "packed-switch", Format31t, RefNone, FlagSwitch | FlagContinue},
	{0x2c, "sparse-switch", Format31t, RefNone, FlagSwitch | FlagContinue},
	{0x2d, "cmpl-float", Format23x, RefNone, reg},
	{0x2e, "cmpg-float", Format23x, RefNone, reg},
	{0x2f, "cmpl-double", Format23x, RefNone, reg},
	{0x30, "cmpg-double", Format23x, RefNone, reg},
	{0x31, "cmp-long", Format23x, RefNone, reg},
	{0x32, "if-eq", Format22t, RefNone, iff},
	{0x33, "if-ne", Format22t, RefNone, iff},
	{0x34, "if-lt", Format22t, RefNone, iff},
	{0x35, "if-ge", Format22t, RefNone, iff},
	{0x36, "if-gt", Format22t, RefNone, iff},
	{0x37, "if-le", Format22t, RefNone, iff},
	{0x38, "if-eqz", Format21t, RefNone, iff},
	{0x39, "if-nez", Format21t, RefNone, iff},
	{0x3a, "if-ltz", Format21t, RefNone, iff},
	{0x3b, "if-gez", Format21t, RefNone, iff},
	{0x3c, "if-gtz", Format21t, RefNone, iff},
	{0x3d, "if-lez", Format21t, RefNone, iff},
	{0x44, "aget", Format23x, RefNone, treg},
	{0x45, "aget-wide", Format23x, RefNone, twide},
	{0x46, "aget-object", Format23x, RefNone, treg},
	{0x47, "aget-boolean", Format23x, RefNone, treg},
	{0x48, "aget-byte", Format23x, RefNone, treg},
	{0x49, "aget-char", Format23x, RefNone, treg},
	{0x4a, "aget-short", Format23x, RefNone, treg},
	{0x4b, "aput", Format23x, RefNone, thr},
	{0x4c, "aput-wide", Format23x, RefNone, thr},
	{0x4d, "aput-object", Format23x, RefNone, thr},
	{0x4e, "aput-boolean", Format23x, RefNone, thr},
	{0x4f, "aput-byte", Format23x, RefNone, thr},
	{0x50, "aput-char", Format23x, RefNone, thr},
	{0x51, "aput-short", Format23x, RefNone, thr},
	{0x52, "iget", Format22c, RefField, treg},
	{0x53, "iget-wide", Format22c, RefField, twide},
	{0x54, "iget-object", Format22c, RefField, treg},
	{0x55, "iget-boolean", Format22c, RefField, treg},
	{0x56, "iget-byte", Format22c, RefField, treg},
	{0x57, "iget-char", Format22c, RefField, treg},
	{0x58, "iget-short", Format22c, RefField, treg},
	{0x59, "iput", Format22c, RefField, thr},
	{0x5a, "iput-wide", Format22c, RefField, thr},
	{0x5b, "iput-object", Format22c, RefField, thr},
	{0x5c, "iput-boolean", Format22c, RefField, thr},
	{0x5d, "iput-byte", Format22c, RefField, thr},
	{0x5e, "iput-char", Format22c, RefField, thr},
	{0x5f, "iput-short", Format22c, RefField, thr},
	{0x60, "sget", Format21c, RefField, treg},
	{0x61, "sget-wide", Format21c, RefField, twide},
	{0x62, "sget-object", Format21c, RefField, treg},
	{0x63, "sget-boolean", Format21c, RefField, treg},
	{0x64, "sget-byte", Format21c, RefField, treg},
	{0x65, "sget-char", Format21c, RefField, treg},
	{0x66, "sget-short", Format21c, RefField, treg},
	{0x67, "sput", Format21c, RefField, thr},
	{0x68, "sput-wide", Format21c, RefField, thr},
	{0x69, "sput-object", Format21c, RefField, thr},
	{0x6a, "sput-boolean", Format21c, RefField, thr},
	{0x6b, "sput-byte", Format21c, RefField, thr},
	{0x6c, "sput-char", Format21c, RefField, thr},
	{0x6d, "sput-short", Format21c, RefField, thr},
	{0x6e, "invoke-virtual", Format35c, RefMethod, inv},
	{0x6f, "invoke-super", Format35c, RefMethod, inv},
	{0x70, "invoke-direct", Format35c, RefMethod, inv},
	{0x71, "invoke-static", Format35c, RefMethod, inv},
	{0x72, "invoke-interface", Format35c, RefMethod, inv},
	{0x74, "invoke-virtual/range", Format3rc, RefMethod, inv},
	{0x75, "invoke-super/range", Format3rc, RefMethod, inv},
	{0x76, "invoke-direct/range", Format3rc, RefMethod, inv},
	{0x77, "invoke-static/range", Format3rc, RefMethod, inv},
	{0x78, "invoke-interface/range", Format3rc, RefMethod, inv},
}

// Unary, binary and literal arithmetic share regular layouts.
var (
	unaryOps = []struct {
		name string
		wide bool
	}{
		{"neg-int", false}, {"not-int", false}, {"neg-long", true}, {"not-long", true},
		{"neg-float", false}, {"neg-double", true}, {"int-to-long", true}, {"int-to-float", false},
		{"int-to-double", true}, {"long-to-int", false}, {"long-to-float", false}, {"long-to-double", true},
		{"float-to-int", false}, {"float-to-long", true}, {"float-to-double", true}, {"double-to-int", false},
		{"double-to-long", true}, {"double-to-float", false}, {"int-to-byte", false}, {"int-to-char", false},
		{"int-to-short", false},
	}
	binaryOps = []string{
		"add-int", "sub-int", "mul-int", "div-int", "rem-int", "and-int", "or-int", "xor-int",
		"shl-int", "shr-int", "ushr-int",
		"add-long", "sub-long", "mul-long", "div-long", "rem-long", "and-long", "or-long", "xor-long",
		"shl-long", "shr-long", "ushr-long",
		"add-float", "sub-float", "mul-float", "div-float", "rem-float",
		"add-double", "sub-double", "mul-double", "div-double", "rem-double",
	}
	lit16Ops = []string{"add-int/lit16", "rsub-int", "mul-int/lit16", "div-int/lit16",
		"rem-int/lit16", "and-int/lit16", "or-int/lit16", "xor-int/lit16"}
	lit8Ops = []string{"add-int/lit8", "rsub-int/lit8", "mul-int/lit8", "div-int/lit8",
		"rem-int/lit8", "and-int/lit8", "or-int/lit8", "xor-int/lit8",
		"shl-int/lit8", "shr-int/lit8", "ushr-int/lit8"}
)

func binaryFlags(name string) Flags {
	f := reg
	if strings.HasSuffix(name, "-long") || strings.HasSuffix(name, "-double") {
		f = wide
	}
	if name == "div-int" || name == "rem-int" || name == "div-long" || name == "rem-long" {
		f |= FlagCanThrow
	}
	return f
}

func arithmeticOpcodes() []opdef {
	var out []opdef
	for i, u := range unaryOps {
		f := reg
		if u.wide {
			f = wide
		}
		out = append(out, opdef{uint16(0x7b + i), u.name, Format12x, RefNone, f})
	}
	for i, n := range binaryOps {
		f := binaryFlags(n)
		out = append(out, opdef{uint16(0x90 + i), n, Format23x, RefNone, f})
		out = append(out, opdef{uint16(0xb0 + i), n + "/2addr", Format12x, RefNone, f})
	}
	for i, n := range lit16Ops {
		f := reg
		if i == 3 || i == 4 {
			f |= FlagCanThrow
		}
		out = append(out, opdef{uint16(0xd0 + i), n, Format22s, RefNone, f})
	}
	for i, n := range lit8Ops {
		f := reg
		if i == 3 || i == 4 {
			f |= FlagCanThrow
		}
		out = append(out, opdef{uint16(0xd8 + i), n, Format22b, RefNone, f})
	}
	return out
}

// Opcodes introduced after 035.
var versionedOpcodes = []struct {
	minVersion int
	opdef
}{
	{38, opdef{0xfa, "invoke-polymorphic", Format45cc, RefMethod, inv}},
	{38, opdef{0xfb, "invoke-polymorphic/range", Format4rcc, RefMethod, inv}},
	{38, opdef{0xfc, "invoke-custom", Format35c, RefCallSite, inv}},
	{38, opdef{0xfd, "invoke-custom/range", Format3rc, RefCallSite, inv}},
	{39, opdef{0xfe, "const-method-handle", Format21c, RefMethodHandle, treg}},
	{39, opdef{0xff, "const-method-type", Format21c, RefProto, treg}},
}

// Optimized opcodes found in odex files.
var odexOpcodes = []opdef{
	{0xe3, "iget-volatile", Format22c, RefField, treg | FlagOdex},
	{0xe4, "iput-volatile", Format22c, RefField, thr | FlagOdex},
	{0xe5, "sget-volatile", Format21c, RefField, treg | FlagOdex},
	{0xe6, "sput-volatile", Format21c, RefField, thr | FlagOdex},
	{0xe7, "iget-object-volatile", Format22c, RefField, treg | FlagOdex},
	{0xe8, "iget-wide-volatile", Format22c, RefField, twide | FlagOdex},
	{0xe9, "iput-wide-volatile", Format22c, RefField, thr | FlagOdex},
	{0xea, "sget-wide-volatile", Format21c, RefField, twide | FlagOdex},
	{0xeb, "sput-wide-volatile", Format21c, RefField, thr | FlagOdex},
	{0xed, "throw-verification-error", Format20bc, RefVerification, FlagCanThrow | FlagOdex},
	{0xee, "execute-inline", Format35mi, RefInline, inv | FlagOdex},
	{0xef, "execute-inline/range", Format3rmi, RefInline, inv | FlagOdex},
	{0xf0, "invoke-object-init/range", Format3rc, RefMethod, inv | FlagOdex},
	{0xf1, "return-void-barrier", Format10x, RefNone, ret | FlagOdex},
	{0xf2, "iget-quick", Format22cs, RefFieldOffset, treg | FlagOdex},
	{0xf3, "iget-wide-quick", Format22cs, RefFieldOffset, twide | FlagOdex},
	{0xf4, "iget-object-quick", Format22cs, RefFieldOffset, treg | FlagOdex},
	{0xf5, "iput-quick", Format22cs, RefFieldOffset, thr | FlagOdex},
	{0xf6, "iput-wide-quick", Format22cs, RefFieldOffset, thr | FlagOdex},
	{0xf7, "iput-object-quick", Format22cs, RefFieldOffset, thr | FlagOdex},
	{0xf8, "invoke-virtual-quick", Format35ms, RefVtable, inv | FlagOdex},
	{0xf9, "invoke-virtual-quick/range", Format3rms, RefVtable, inv | FlagOdex},
	{0xfa, "invoke-super-quick", Format35ms, RefVtable, inv | FlagOdex},
	{0xfb, "invoke-super-quick/range", Format3rms, RefVtable, inv | FlagOdex},
	{0xfc, "iput-object-volatile", Format22c, RefField, thr | FlagOdex},
	{0xfd, "sget-object-volatile", Format21c, RefField, treg | FlagOdex},
	{0xfe, "sput-object-volatile", Format21c, RefField, thr | FlagOdex},
}

var payloadOpcodes = [...]*Opcode{
	{Value: PackedSwitchPayload, Name: "packed-switch-payload", Format: FormatPackedSwitchPayload},
	{Value: SparseSwitchPayload, Name: "sparse-switch-payload", Format: FormatSparseSwitchPayload},
	{Value: ArrayPayload, Name: "array-payload", Format: FormatArrayPayload},
}

// OpcodeSet maps opcode bytes to opcodes for one dex version.
type OpcodeSet struct {
	Version int
	Odex    bool
	byValue [256]*Opcode
	byName  map[string]*Opcode
}

// NewOpcodeSet builds the opcode table for a dex version. With odex set the
// optimized opcodes occupy 0xe3..0xfe instead of the 038+ additions.
func NewOpcodeSet(version int, odex bool) *OpcodeSet {
	s := &OpcodeSet{Version: version, Odex: odex, byName: make(map[string]*Opcode, 256)}
	add := func(d opdef) {
		op := &Opcode{Value: d.v, Name: d.name, Format: d.fmt, Ref: d.ref, Flags: d.flags}
		s.byValue[d.v] = op
		s.byName[d.name] = op
	}
	for _, d := range baseOpcodes {
		add(d)
	}
	for _, d := range arithmeticOpcodes() {
		add(d)
	}
	if odex {
		for _, d := range odexOpcodes {
			add(d)
		}
	} else {
		for _, d := range versionedOpcodes {
			if version >= d.minVersion {
				add(d.opdef)
			}
		}
	}
	for _, p := range payloadOpcodes {
		s.byName[p.Name] = p
	}
	return s
}

// Lookup returns the opcode for the first code unit of an instruction, or
// nil when the unit does not start a valid instruction.
func (s *OpcodeSet) Lookup(unit uint16) *Opcode {
	op := byte(unit)
	if op == 0 && unit != 0 {
		switch unit {
		case PackedSwitchPayload:
			return payloadOpcodes[0]
		case SparseSwitchPayload:
			return payloadOpcodes[1]
		case ArrayPayload:
			return payloadOpcodes[2]
		}
		return nil
	}
	return s.byValue[op]
}

// ByName returns the opcode with the given mnemonic.
func (s *OpcodeSet) ByName(name string) (*Opcode, bool) {
	op, ok := s.byName[name]
	return op, ok
}

// UnknownOpcode is substituted for units that decode to no opcode. It
// occupies one code unit.
func UnknownOpcode(unit uint16) *Opcode {
	return &Opcode{Value: unit, Name: fmt.Sprintf("unknown-0x%x", unit), Format: Format10x, Flags: FlagContinue}
}
