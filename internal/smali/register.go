package smali

import "strconv"

// registerFormatter names registers v0.. or, for the trailing argument
// window, p0...
type registerFormatter struct {
	registers int
	params    int // argument registers, receiver included
	pnames    bool
}

func (rf registerFormatter) base() int { return rf.registers - rf.params }

func (rf registerFormatter) isParam(r int) bool {
	return rf.pnames && r >= rf.base()
}

func (rf registerFormatter) reg(r int) string {
	if rf.isParam(r) {
		return "p" + strconv.Itoa(r-rf.base())
	}
	return "v" + strconv.Itoa(r)
}

func (rf registerFormatter) list(regs []int) string {
	s := "{"
	for i, r := range regs {
		if i > 0 {
			s += ", "
		}
		s += rf.reg(r)
	}
	return s + "}"
}

// rangeOf renders {vA .. vB}. Both ends use the argument names only when
// both fall in the argument window.
func (rf registerFormatter) rangeOf(start, count int) string {
	if count == 0 {
		return "{}"
	}
	last := start + count - 1
	if rf.isParam(start) && rf.isParam(last) {
		return "{p" + strconv.Itoa(start-rf.base()) + " .. p" + strconv.Itoa(last-rf.base()) + "}"
	}
	return "{v" + strconv.Itoa(start) + " .. v" + strconv.Itoa(last) + "}"
}
