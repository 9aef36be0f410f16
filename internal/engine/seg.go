// SPDX-License-Identifier: Apache-2.0

package engine

import "github.com/bits-and-blooms/bitset"

// Seg is a grain-aligned run of arena memory owned by one pool. Every byte
// of a segment is formatted (objects, forwarding markers or padding) except
// the unused part of an attached buffer.
type Seg struct {
	Base, Limit Addr

	pool *Pool
	buf  *Buffer

	white  bool // condemned by the current cycle
	nailed bool // objects stay put this cycle
	marks  *bitset.BitSet

	// holes are padded runs an AMS pool may hand to a buffer.
	holes []span
	// padded is the number of bytes the engine has padded and not handed
	// out again. The rest of the segment holds objects or buffer space.
	padded uintptr

	// summary is the zone set of references found the last time the
	// segment was scanned.
	summary uint64
}

func (s *Seg) size() uintptr {
	return uintptr(s.Limit - s.Base)
}

// live returns the bytes of the segment not known to be padding.
func (s *Seg) live() uintptr {
	return s.size() - s.padded
}

// Summary returns the zone set of the references scanned in the segment
// during the last cycle that condemned it.
func (s *Seg) Summary() uint64 {
	return s.summary
}

// unformatted returns the part of the segment an attached buffer has not
// committed yet.
func (s *Seg) unformatted() (Addr, Addr, bool) {
	b := s.buf
	if b == nil {
		return 0, 0, false
	}
	from := Addr(b.Init.Load())
	if b.trapped {
		from = b.flipInit
	}
	if from >= b.bufLimit {
		return 0, 0, false
	}
	return from, b.bufLimit, true
}

func (s *Seg) markIndex(p Addr) uint {
	return uint(uintptr(p-s.Base) / s.pool.fmt.Align)
}

// walk visits every formatted object of the segment in address order.
// visit returning false stops the walk.
func (s *Seg) walk(visit func(obj, next Addr) bool) {
	skip := s.pool.fmt.Skip
	gapFrom, gapTo, gap := s.unformatted()
	for p := s.Base; p < s.Limit; {
		if gap && p == gapFrom {
			p = gapTo
			continue
		}
		next := skip(p)
		if !visit(p, next) {
			return
		}
		p = next
	}
}

// objectContaining returns the formatted object whose extent holds p, or 0.
func (s *Seg) objectContaining(p Addr) Addr {
	var found Addr
	s.walk(func(obj, next Addr) bool {
		if p < obj {
			return false
		}
		if p < next {
			found = obj
			return false
		}
		return true
	})
	return found
}
