package smali

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
)

// signedHex formats v as 0x.. or -0x.. with an L suffix when v does not
// fit in an int.
func signedHex(v int64) string {
	var s string
	if v < 0 {
		s = "-0x" + strconv.FormatUint(uint64(-v), 16)
	} else {
		s = "0x" + strconv.FormatUint(uint64(v), 16)
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		s += "L"
	}
	return s
}

func hex32(v int32) string {
	if v < 0 {
		return "-0x" + strconv.FormatUint(uint64(-int64(v)), 16)
	}
	return "0x" + strconv.FormatUint(uint64(v), 16)
}

func byteLiteral(v int64) string  { return hex32(int32(int8(v))) + "t" }
func shortLiteral(v int64) string { return hex32(int32(int16(v))) + "s" }
func intLiteral(v int64) string   { return hex32(int32(v)) }

func longLiteral(v int64) string {
	if v < 0 {
		return "-0x" + strconv.FormatUint(uint64(-v), 16) + "L"
	}
	return "0x" + strconv.FormatUint(uint64(v), 16) + "L"
}

// escapeUnit appends the escaped form of one UTF-16 unit.
func escapeUnit(b *strings.Builder, c uint16) {
	if c >= ' ' && c < 0x7f {
		if c == '\'' || c == '"' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(byte(c))
		return
	}
	switch c {
	case '\n':
		b.WriteString(`\n`)
		return
	case '\r':
		b.WriteString(`\r`)
		return
	case '\t':
		b.WriteString(`\t`)
		return
	}
	b.WriteString(`\u`)
	h := strconv.FormatUint(uint64(c), 16)
	b.WriteString(strings.Repeat("0", 4-len(h)))
	b.WriteString(h)
}

// Escape escapes s for use inside a quoted smali string. Non-ASCII text is
// written as \uXXXX escapes of its UTF-16 units.
func Escape(s string) string {
	var b strings.Builder
	for _, c := range utf16.Encode([]rune(s)) {
		escapeUnit(&b, c)
	}
	return b.String()
}

// Quote returns s escaped and surrounded by double quotes.
func Quote(s string) string { return `"` + Escape(s) + `"` }

func charLiteral(c uint16) string {
	var b strings.Builder
	b.WriteByte('\'')
	escapeUnit(&b, c)
	b.WriteByte('\'')
	return b.String()
}

// javaFloat formats a float like Java's Float.toString.
func javaFloat(f float32) string { return javaDecimal(float64(f), 32) }

// javaDouble formats a double like Java's Double.toString.
func javaDouble(d float64) string { return javaDecimal(d, 64) }

func javaDecimal(v float64, bits int) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case v == 0:
		if math.Signbit(v) {
			return "-0.0"
		}
		return "0.0"
	}
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	digits, exp := shortestDigits(v, bits)
	if v >= 1e-3 && v < 1e7 {
		if exp >= 0 {
			var ip, fp string
			if exp+1 >= len(digits) {
				ip = digits + strings.Repeat("0", exp+1-len(digits))
				fp = "0"
			} else {
				ip, fp = digits[:exp+1], digits[exp+1:]
			}
			return sign + ip + "." + fp
		}
		return sign + "0." + strings.Repeat("0", -exp-1) + digits
	}
	frac := digits[1:]
	if frac == "" {
		frac = "0"
	}
	return sign + digits[:1] + "." + frac + "E" + strconv.Itoa(exp)
}

// shortestDigits returns the shortest round-tripping decimal digits of a
// positive v and the exponent of the first digit.
func shortestDigits(v float64, bits int) (string, int) {
	s := strconv.FormatFloat(v, 'e', -1, bits)
	mant, e, _ := strings.Cut(s, "e")
	exp, _ := strconv.Atoi(e)
	return strings.Replace(mant, ".", "", 1), exp
}

// sciNotation renders a value the way a "0.####################E0"
// decimal pattern does. It only feeds length comparisons.
func sciNotation(neg bool, digits string, exp int) string {
	digits = strings.TrimRight(digits, "0")
	if digits == "" {
		return "0E0"
	}
	s := digits[:1]
	if len(digits) > 1 {
		s += "." + digits[1:]
	}
	s += "E" + strconv.Itoa(exp)
	if neg {
		s = "-" + s
	}
	return s
}

func sciInt(v int64) string {
	if v == 0 {
		return "0E0"
	}
	neg := v < 0
	u := uint64(v)
	if neg {
		u = uint64(-v)
	}
	d := strconv.FormatUint(u, 10)
	return sciNotation(neg, d, len(d)-1)
}

func sciFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "∞"
	case math.IsInf(v, -1):
		return "-∞"
	case v == 0:
		return "0E0"
	}
	neg := v < 0
	d, exp := shortestDigits(math.Abs(v), 64)
	s := sciNotation(neg, d, exp)
	// Strip trailing imprecision such as 1.2000001E3 or 1.1999999E3.
	dot, e := strings.IndexByte(s, '.'), strings.IndexByte(s, 'E')
	if z := strings.Index(s, "000"); z > dot && dot >= 0 && z < e {
		return s[:z] + s[e:]
	}
	if n := strings.Index(s, "999"); n > dot && dot >= 0 && n < e {
		return s[:n] + s[e:]
	}
	return s
}

func runeLen(s string) int { return len([]rune(s)) }

const (
	floatNaNBits  = 0x7fc00000
	floatMaxBits  = 0x7f7fffff
	floatPiBits   = 0x40490fdb
	floatEBits    = 0x402df854
	doubleNaNBits = 0x7ff8000000000000
	doubleMaxBits = 0x7fefffffffffffff
	doublePiBits  = 0x400921fb54442d18
	doubleEBits   = 0x4005bf0a8b145769
)

// likelyFloat guesses whether an int literal is really float bits: the
// shorter scientific rendering wins, ints win ties.
func likelyFloat(v int32) bool {
	switch uint32(v) {
	case floatNaNBits, floatMaxBits, floatPiBits, floatEBits:
		return true
	}
	if v == math.MaxInt32 || v == math.MinInt32 {
		return false
	}
	pkg, typ, id := v>>24, v>>16&0xff, v&0xffff
	if (pkg == 0x7f || pkg == 1) && typ < 0x1f && id < 0xfff {
		return false
	}
	f := math.Float32frombits(uint32(v))
	if math.IsNaN(float64(f)) {
		return false
	}
	// The pattern formats the float widened to double.
	return runeLen(sciFloat(float64(f))) < runeLen(sciInt(int64(v)))
}

func likelyDouble(v int64) bool {
	switch uint64(v) {
	case doubleNaNBits, doubleMaxBits, doublePiBits, doubleEBits:
		return true
	}
	if v == math.MaxInt64 || v == math.MinInt64 {
		return false
	}
	d := math.Float64frombits(uint64(v))
	if math.IsNaN(d) {
		return false
	}
	return runeLen(sciFloat(d)) < runeLen(sciInt(v))
}

func floatComment(v int32) string {
	f := math.Float32frombits(uint32(v))
	switch {
	case math.IsInf(float64(f), 1):
		return "Float.POSITIVE_INFINITY"
	case math.IsInf(float64(f), -1):
		return "Float.NEGATIVE_INFINITY"
	case math.IsNaN(float64(f)):
		return "Float.NaN"
	case f == math.MaxFloat32:
		return "Float.MAX_VALUE"
	case f == float32(math.Pi):
		return "(float)Math.PI"
	case f == float32(math.E):
		return "(float)Math.E"
	}
	return javaFloat(f) + "f"
}

func doubleComment(v int64) string {
	d := math.Float64frombits(uint64(v))
	switch {
	case math.IsInf(d, 1):
		return "Double.POSITIVE_INFINITY"
	case math.IsInf(d, -1):
		return "Double.NEGATIVE_INFINITY"
	case math.IsNaN(d):
		return "Double.NaN"
	case d == math.MaxFloat64:
		return "Double.MAX_VALUE"
	case d == math.Pi:
		return "Math.PI"
	case d == math.E:
		return "Math.E"
	}
	return javaDouble(d)
}
