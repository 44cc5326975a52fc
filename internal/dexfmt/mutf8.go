package dexfmt

import (
	"unicode/utf16"
	"unicode/utf8"
)

// String decodes utf16Len UTF-16 units of modified UTF-8 at off.
func (b Buffer) String(off, utf16Len int) (string, error) {
	s, _, err := decodeMUTF8(b, off, utf16Len)
	return s, err
}

// decodeMUTF8 decodes modified UTF-8. Paired surrogates are combined into
// one rune; lone surrogates are kept as their 3-byte encoding so that
// UTF16Units can recover them exactly.
func decodeMUTF8(b Buffer, off, utf16Len int) (string, int, error) {
	units := make([]uint16, 0, utf16Len)
	pos := off
	for len(units) < utf16Len {
		b0, err := b.Uint8(pos)
		if err != nil {
			return "", 0, err
		}
		switch {
		case b0 < 0x80:
			units = append(units, uint16(b0))
			pos++
		case b0&0xe0 == 0xc0:
			b1, err := b.Uint8(pos + 1)
			if err != nil {
				return "", 0, err
			}
			if b1&0xc0 != 0x80 {
				return "", 0, &MalformedVarIntError{Offset: pos, Msg: "bad second byte in mutf-8 sequence"}
			}
			units = append(units, uint16(b0&0x1f)<<6|uint16(b1&0x3f))
			pos += 2
		case b0&0xf0 == 0xe0:
			p, err := b.Slice(pos+1, 2)
			if err != nil {
				return "", 0, err
			}
			if p[0]&0xc0 != 0x80 || p[1]&0xc0 != 0x80 {
				return "", 0, &MalformedVarIntError{Offset: pos, Msg: "bad continuation byte in mutf-8 sequence"}
			}
			units = append(units, uint16(b0&0x0f)<<12|uint16(p[0]&0x3f)<<6|uint16(p[1]&0x3f))
			pos += 3
		default:
			return "", 0, &MalformedVarIntError{Offset: pos, Msg: "illegal mutf-8 lead byte"}
		}
	}
	return encodeWTF8(units), pos - off, nil
}

func encodeWTF8(units []uint16) string {
	out := make([]byte, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := rune(units[i])
		if utf16.IsSurrogate(u) {
			if u < 0xdc00 && i+1 < len(units) {
				if r := utf16.DecodeRune(u, rune(units[i+1])); r != utf8.RuneError {
					out = utf8.AppendRune(out, r)
					i++
					continue
				}
			}
			out = append(out, 0xe0|byte(u>>12), 0x80|byte(u>>6)&0x3f, 0x80|byte(u)&0x3f)
			continue
		}
		out = utf8.AppendRune(out, u)
	}
	return string(out)
}

// UTF16Units converts a decoded string back to UTF-16 code units,
// recovering lone surrogates preserved by the decoder.
func UTF16Units(s string) []uint16 {
	units := make([]uint16, 0, len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			if s[i] == 0xed && i+2 < len(s) && s[i+1] >= 0xa0 && s[i+1] <= 0xbf {
				units = append(units, 0xd000|uint16(s[i+1]&0x3f)<<6|uint16(s[i+2]&0x3f))
				i += 3
				continue
			}
			units = append(units, uint16(s[i]))
			i++
			continue
		}
		if r >= 0x10000 {
			hi, lo := utf16.EncodeRune(r)
			units = append(units, uint16(hi), uint16(lo))
		} else {
			units = append(units, uint16(r))
		}
		i += size
	}
	return units
}
