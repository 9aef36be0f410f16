// SPDX-License-Identifier: Apache-2.0

package engine

// ScanState is handed to a format's scan method. ZoneShift and White let
// the scanner decide cheaply whether a reference can possibly need fixing:
// a reference whose zone is not in White never does. The scanner ORs the
// zone of every reference it looks at into Unfixed before the scan returns.
type ScanState struct {
	ZoneShift uint
	White     uint64
	Unfixed   uint64

	arena *Arena
	cycle *cycle
	// fixed is the zone set of references passed to Fix2.
	fixed uint64
}

// Zone returns the zone bit of p.
func (ss *ScanState) Zone(p Addr) uint64 {
	return 1 << ((uintptr(p) >> ss.ZoneShift) & 63)
}

// Fix2 is the second stage of fixing: it preserves the object *ref refers
// to and stores its current address back into *ref.
func (ss *ScanState) Fix2(ref *Addr) Res {
	p := *ref
	ss.fixed |= ss.Zone(p)
	a := ss.arena
	seg := a.segOf(p)
	if seg == nil || !seg.white {
		return ResOK
	}
	c := ss.cycle
	pool := seg.pool

	if pool.class.moving() {
		if to := pool.fmt.IsFwd(p); to != 0 {
			*ref = to
			return ResOK
		}
		if !seg.nailed && !c.emergency && !seg.marked(p) {
			if to, ok := c.copy(seg, p); ok {
				*ref = to
				return ResOK
			}
		}
		// Whatever is marked in place pins its segment.
		if !seg.nailed {
			seg.nailed = true
			a.stats.Nailed++
		}
	}
	c.mark(seg, p)
	return ResOK
}
