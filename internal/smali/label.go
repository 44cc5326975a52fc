package smali

import (
	"cmp"
	"slices"
	"strconv"
)

// Label prefixes.
const (
	prefixCond         = "cond_"
	prefixGoto         = "goto_"
	prefixPackedData   = "pswitch_data_"
	prefixSparseData   = "sswitch_data_"
	prefixArray        = "array_"
	prefixPackedTarget = "pswitch_"
	prefixSparseTarget = "sswitch_"
	prefixTryStart     = "try_start_"
	prefixTryEnd       = "try_end_"
	prefixCatch        = "catch_"
	prefixCatchAll     = "catchall_"
)

// LabelID indexes a label in its LabelCache.
type LabelID int

type labelKey struct {
	addr   int
	prefix string
}

type label struct {
	labelKey
	pos   int     // address of the render unit
	order float64 // sort order of the render unit
	seq   int
}

// LabelCache holds at most one label per (address, prefix) for one method.
// Render units refer to labels by LabelID.
type LabelCache struct {
	ids    map[labelKey]LabelID
	labels []label
}

func NewLabelCache() *LabelCache {
	return &LabelCache{ids: make(map[labelKey]LabelID)}
}

// Intern returns the label for addr and prefix, creating it on first use.
func (c *LabelCache) Intern(addr int, prefix string) LabelID {
	return c.intern(addr, prefix, addr, orderLabel)
}

// InternTryEnd returns the end label of a try range ending at end. The
// label is placed after the last covered instruction at lastCovered.
func (c *LabelCache) InternTryEnd(end, lastCovered int) LabelID {
	return c.intern(end, prefixTryEnd, lastCovered, orderTryEnd)
}

func (c *LabelCache) intern(addr int, prefix string, pos int, order float64) LabelID {
	k := labelKey{addr, prefix}
	if id, ok := c.ids[k]; ok {
		return id
	}
	id := LabelID(len(c.labels))
	c.labels = append(c.labels, label{labelKey: k, pos: pos, order: order})
	c.ids[k] = id
	return id
}

// Len returns the number of distinct labels.
func (c *LabelCache) Len() int { return len(c.labels) }

// Address returns the address a label names.
func (c *LabelCache) Address(id LabelID) int { return c.labels[id].addr }

// Prefix returns the label's prefix.
func (c *LabelCache) Prefix(id LabelID) string { return c.labels[id].prefix }

// Name returns the label text including the leading colon.
func (c *LabelCache) Name(id LabelID, sequential bool) string {
	l := c.labels[id]
	if sequential {
		return ":" + l.prefix + strconv.FormatInt(int64(l.seq), 16)
	}
	return ":" + l.prefix + strconv.FormatInt(int64(l.addr), 16)
}

// sorted returns label ids in render order.
func (c *LabelCache) sorted() []LabelID {
	ids := make([]LabelID, len(c.labels))
	for i := range ids {
		ids[i] = LabelID(i)
	}
	slices.SortStableFunc(ids, func(a, b LabelID) int {
		la, lb := c.labels[a], c.labels[b]
		return cmp.Or(
			cmp.Compare(la.pos, lb.pos),
			cmp.Compare(la.order, lb.order),
			cmp.Compare(la.prefix, lb.prefix),
		)
	})
	return ids
}

// Sequence numbers labels per prefix in render order.
func (c *LabelCache) Sequence() {
	next := make(map[string]int)
	for _, id := range c.sorted() {
		l := &c.labels[id]
		l.seq = next[l.prefix]
		next[l.prefix]++
	}
}
