package smali

import (
	"cmp"
	"math"
	"slices"

	"undex/internal/dexfile"
)

// Sort orders of render units sharing a code address.
const (
	orderCodeOffset  = -1000
	orderPrologue    = -4 // .prologue and .epilogue
	orderSourceFile  = -3
	orderLine        = -2
	orderLocal       = -1
	orderLabel       = 0
	orderAccessor    = 99.8
	orderPreRegInfo  = 99.9
	orderInstruction = 100
	orderPostRegInfo = 100.1
	orderTryEnd      = 101
	orderCatch       = 102
	orderBlank       = math.MaxFloat64
	orderAnalysisErr = math.MinInt32
)

type itemKind uint8

const (
	itemInstruction itemKind = iota
	itemLabel
	itemCatch
	itemDebug
	itemComment
	itemBlank
	itemPreRegInfo
	itemPostRegInfo
)

// methodItem is one render unit of a method body. Which payload fields
// apply depends on kind.
type methodItem struct {
	kind  itemKind
	addr  int
	order float64

	inst  int     // itemInstruction, itemPreRegInfo, itemPostRegInfo
	label LabelID // itemLabel
	catch catchDirective
	debug *dexfile.DebugItem
	text  string // itemComment, without the leading "#"

	regs  []int // register-info registers to print
	merge []int // registers printed with full merge detail
}

type catchDirective struct {
	typ     string // empty for catch-all
	start   LabelID
	end     LabelID
	handler LabelID
}

// sortItems orders units by address, then sort order, then label prefix.
func sortItems(items []methodItem, labels *LabelCache) {
	slices.SortStableFunc(items, func(a, b methodItem) int {
		if c := cmp.Or(cmp.Compare(a.addr, b.addr), cmp.Compare(a.order, b.order)); c != 0 {
			return c
		}
		if a.kind == itemLabel && b.kind == itemLabel {
			return cmp.Compare(labels.Prefix(a.label), labels.Prefix(b.label))
		}
		return 0
	})
}
