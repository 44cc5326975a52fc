package dextest

// DebugOp encodes one debug_info opcode with its operands.
type DebugOp func(b *Builder) []byte

func optString(b *Builder, s string) uint32 {
	if s == "" {
		return 0
	}
	return b.String(s) + 1
}

func optType(b *Builder, s string) uint32 {
	if s == "" {
		return 0
	}
	return b.Type(s) + 1
}

func AdvancePC(n uint32) DebugOp {
	return func(*Builder) []byte { return AppendUleb128([]byte{0x01}, n) }
}

func AdvanceLine(d int32) DebugOp {
	return func(*Builder) []byte { return AppendSleb128([]byte{0x02}, d) }
}

// StartLocal binds reg. Empty name or type encode as absent.
func StartLocal(reg uint32, name, typ string) DebugOp {
	return func(b *Builder) []byte {
		p := AppendUleb128([]byte{0x03}, reg)
		p = AppendUleb128(p, optString(b, name))
		return AppendUleb128(p, optType(b, typ))
	}
}

func StartLocalExtended(reg uint32, name, typ, sig string) DebugOp {
	return func(b *Builder) []byte {
		p := AppendUleb128([]byte{0x04}, reg)
		p = AppendUleb128(p, optString(b, name))
		p = AppendUleb128(p, optType(b, typ))
		return AppendUleb128(p, optString(b, sig))
	}
}

func EndLocal(reg uint32) DebugOp {
	return func(*Builder) []byte { return AppendUleb128([]byte{0x05}, reg) }
}

func RestartLocal(reg uint32) DebugOp {
	return func(*Builder) []byte { return AppendUleb128([]byte{0x06}, reg) }
}

func PrologueEnd() DebugOp   { return func(*Builder) []byte { return []byte{0x07} } }
func EpilogueBegin() DebugOp { return func(*Builder) []byte { return []byte{0x08} } }

func SetFile(name string) DebugOp {
	return func(b *Builder) []byte { return AppendUleb128([]byte{0x09}, optString(b, name)) }
}

// Special advances the line by lineDelta (-4..10) and the address by
// addrDelta, emitting a line entry.
func Special(lineDelta, addrDelta int) DebugOp {
	return func(*Builder) []byte { return []byte{byte(0x0a + (lineDelta + 4) + addrDelta*15)} }
}
