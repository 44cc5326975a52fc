package dexfile

import (
	"fmt"

	"undex/internal/dexfmt"
)

// CodeItem is a method's code_item.
type CodeItem struct {
	Offset       int
	Registers    int
	Ins          int
	Outs         int
	DebugInfoOff int
	Units        int    // instruction size in 16-bit code units
	Insns        []byte // Units*2 bytes, little endian
	Tries        []TryBlock
}

// TryBlock is one try_item with its resolved handler list.
type TryBlock struct {
	Start      int // first covered code unit
	Count      int // covered code units
	HandlerOff int // offset of the handler list, relative to the list pool
	Handlers   []Handler
	CatchAll   int // handler address, -1 when absent
}

// End returns the exclusive end address of the range.
func (t TryBlock) End() int { return t.Start + t.Count }

// HasCatchAll reports whether the block has a catch-all handler.
func (t TryBlock) HasCatchAll() bool { return t.CatchAll >= 0 }

// Handler is a typed catch handler.
type Handler struct {
	Type string
	Addr int
}

type handlerList struct {
	handlers []Handler
	catchAll int
}

// CodeAt decodes the code_item at off. Handler lists shared by several try
// blocks are decoded once.
func (f *File) CodeAt(off int) (*CodeItem, error) {
	r := f.buf.ReaderAt(off)
	var hdr [4]uint16
	for i := range hdr {
		v, err := r.ReadUint16()
		if err != nil {
			return nil, fmt.Errorf("dexfile: code item at 0x%x: %w", off, err)
		}
		hdr[i] = v
	}
	debugOff, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	units, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if units > uint32(f.buf.Len()) {
		return nil, dexfmt.Structuralf(off, "code item claims %d code units", units)
	}
	insns, err := r.ReadBytes(int(units) * 2)
	if err != nil {
		return nil, fmt.Errorf("dexfile: code item at 0x%x: instructions: %w", off, err)
	}
	c := &CodeItem{
		Offset:       off,
		Registers:    int(hdr[0]),
		Ins:          int(hdr[1]),
		Outs:         int(hdr[2]),
		DebugInfoOff: int(debugOff),
		Units:        int(units),
		Insns:        insns,
	}
	triesSize := int(hdr[3])
	if triesSize == 0 {
		return c, nil
	}
	if units%2 == 1 {
		if err := r.Skip(2); err != nil {
			return nil, err
		}
	}
	type rawTry struct {
		start, count, hoff int
	}
	raw := make([]rawTry, triesSize)
	for i := range raw {
		start, err := r.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("dexfile: code item at 0x%x: try %d: %w", off, i, err)
		}
		count, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		hoff, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		raw[i] = rawTry{int(start), int(count), int(hoff)}
	}
	pool := r.Position()
	lists := make(map[int]handlerList, triesSize)
	c.Tries = make([]TryBlock, triesSize)
	for i, t := range raw {
		hl, ok := lists[t.hoff]
		if !ok {
			if hl, err = f.readHandlerList(pool + t.hoff); err != nil {
				return nil, fmt.Errorf("dexfile: code item at 0x%x: try %d: %w", off, i, err)
			}
			lists[t.hoff] = hl
		}
		c.Tries[i] = TryBlock{
			Start:      t.start,
			Count:      t.count,
			HandlerOff: t.hoff,
			Handlers:   hl.handlers,
			CatchAll:   hl.catchAll,
		}
	}
	return c, nil
}

// readHandlerList decodes an encoded_catch_handler. A size of N > 0 means
// N typed handlers; N <= 0 means -N typed handlers followed by a catch-all.
func (f *File) readHandlerList(off int) (handlerList, error) {
	r := f.buf.ReaderAt(off)
	size, err := r.ReadSleb128()
	if err != nil {
		return handlerList{}, err
	}
	n := int(size)
	if n < 0 {
		n = -n
	}
	hl := handlerList{catchAll: -1}
	if n > 0 {
		hl.handlers = make([]Handler, 0, min(n, 64))
	}
	for i := 0; i < n; i++ {
		ti, err := r.ReadSmallUleb128()
		if err != nil {
			return handlerList{}, err
		}
		addr, err := r.ReadSmallUleb128()
		if err != nil {
			return handlerList{}, err
		}
		t, err := f.Type(ti)
		if err != nil {
			return handlerList{}, err
		}
		hl.handlers = append(hl.handlers, Handler{Type: t, Addr: addr})
	}
	if size <= 0 {
		if hl.catchAll, err = r.ReadSmallUleb128(); err != nil {
			return handlerList{}, err
		}
	}
	return hl, nil
}

// Unit returns code unit i of the instruction stream.
func (c *CodeItem) Unit(i int) uint16 {
	return uint16(c.Insns[2*i]) | uint16(c.Insns[2*i+1])<<8
}
