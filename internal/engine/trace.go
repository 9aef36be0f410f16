// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"time"

	"github.com/bits-and-blooms/bitset"
)

// copyRegion is the to-space a moving pool copies survivors into.
type copyRegion struct {
	seg          *Seg
	alloc, limit Addr
}

type cycle struct {
	arena     *Arena
	white     uint64
	grey      []Addr
	condemned []*Seg
	copies    []*copyRegion
	moving    bool
	emergency bool
	summary   uint64
	// liveBefore is the live bytes of the condemned segments at the flip.
	liveBefore uintptr
}

func (s *Seg) marked(p Addr) bool {
	return s.marks != nil && s.marks.Test(s.markIndex(p))
}

// collect runs one whole cycle: flip, condemn, trace from the roots, then
// reclaim. Called with mu held.
func (a *Arena) collect(reason string) {
	start := time.Now()
	c := &cycle{arena: a}
	a.cycle = c
	defer func() { a.cycle = nil }()

	for _, b := range a.buffers {
		b.flip()
	}
	a.stats.Flips++
	c.condemn()

	ss := c.newScanState()
	for _, r := range a.roots {
		if r.rank == RankAmbig {
			for _, p := range r.slots {
				c.fixAmbig(p)
			}
		}
	}
	for _, r := range a.roots {
		if r.rank == RankExact {
			for i := range r.slots {
				if r.slots[i] != 0 {
					ss.Fix2(&r.slots[i])
				}
			}
		}
	}
	c.drain()
	reclaimed := c.reclaim()

	a.collections.Add(1)
	if c.moving {
		a.movedCollections.Add(1)
	}
	a.allocSince = 0
	a.pending = false
	a.stats.LastSummary = c.summary
	a.stats.BytesReclaimed += uint64(reclaimed)

	pause := time.Since(start)
	a.stats.LastPause = pause
	budget := a.PauseTime()
	if budget > 0 && pause.Seconds() > budget {
		a.stats.LongPauses++
		a.log.Info("collection exceeded pause time", "reason", reason, "pause", pause, "budget", budget)
	}
	a.log.Debug("collection finished",
		"reason", reason,
		"condemned", len(c.condemned),
		"reclaimed", reclaimed,
		"moved", c.moving,
		"emergency", c.emergency,
		"pause", pause,
	)
}

// condemn whitens every segment of every pool. Segments with an attached
// buffer are nailed: the mutator may hold addresses into them.
func (c *cycle) condemn() {
	a := c.arena
	for _, p := range a.pools {
		for _, seg := range p.segs {
			seg.white = true
			seg.nailed = seg.buf != nil
			seg.summary = 0
			c.liveBefore += seg.live()
			seg.marks = bitset.New(uint(seg.size() / p.fmt.Align))
			c.condemned = append(c.condemned, seg)
			c.white |= a.zonesOf(seg.Base, seg.Limit)
			if p.class.moving() {
				c.moving = true
			}
		}
	}
}

func (c *cycle) newScanState() *ScanState {
	return &ScanState{
		ZoneShift: c.arena.zoneShift,
		White:     c.white,
		arena:     c.arena,
		cycle:     c,
	}
}

// fixAmbig preserves whatever object p points into, without moving it.
func (c *cycle) fixAmbig(p Addr) {
	seg := c.arena.segOf(p)
	if seg == nil || !seg.white {
		return
	}
	obj := seg.objectContaining(p)
	if obj == 0 || (obj != p && !seg.pool.interior) {
		return
	}
	if seg.pool.class.moving() && !seg.nailed {
		seg.nailed = true
		c.arena.stats.Nailed++
	}
	c.mark(seg, obj)
}

func (c *cycle) mark(seg *Seg, obj Addr) {
	i := seg.markIndex(obj)
	if seg.marks.Test(i) {
		return
	}
	seg.marks.Set(i)
	c.arena.stats.ObjectsMarked++
	c.grey = append(c.grey, obj)
}

// copy moves obj out of seg into the pool's to-space. It fails when no
// to-space can be had.
func (c *cycle) copy(seg *Seg, obj Addr) (Addr, bool) {
	a := c.arena
	pool := seg.pool
	size := uintptr(pool.fmt.Skip(obj) - obj)
	r := pool.copy
	if r == nil || uintptr(r.limit-r.alloc) < size {
		if r != nil {
			c.closeRegion(r)
		}
		to, res := a.allocSeg(pool, max(size, pool.extendBy))
		if res != ResOK {
			a.log.Warn("to-space allocation failed", "size", size, "res", res.String())
			pool.copy = nil
			return 0, false
		}
		r = &copyRegion{seg: to, alloc: to.Base, limit: to.Limit}
		pool.copy = r
		c.copies = append(c.copies, r)
	}
	to := r.alloc
	r.alloc += Addr(size)
	copy(a.bytes(to, size), a.bytes(obj, size))
	pool.fmt.Fwd(obj, to)
	a.stats.ObjectsMoved++
	c.grey = append(c.grey, to)
	return to, true
}

func (c *cycle) closeRegion(r *copyRegion) {
	if r.alloc < r.limit {
		r.seg.pool.fmt.Pad(r.alloc, uintptr(r.limit-r.alloc))
		r.seg.padded += uintptr(r.limit - r.alloc)
		r.alloc = r.limit
	}
}

// drain scans grey objects until there are none.
func (c *cycle) drain() {
	for len(c.grey) > 0 {
		obj := c.grey[len(c.grey)-1]
		c.grey = c.grey[:len(c.grey)-1]
		c.scan(obj)
	}
}

// scan runs the format's scan method over one object. A failed scan puts
// the cycle in emergency mode, where nothing moves, and the object is
// scanned again. Failing twice is fatal.
func (c *cycle) scan(obj Addr) {
	a := c.arena
	seg := a.segOf(obj)
	pool := seg.pool
	limit := pool.fmt.Skip(obj)
	for attempt := 0; ; attempt++ {
		ss := c.newScanState()
		res := pool.fmt.Scan(ss, obj, limit)
		c.account(seg, ss)
		if res == ResOK {
			return
		}
		if attempt > 0 {
			panic("engine: scan failed in emergency mode: " + res.String())
		}
		a.stats.EmergencyScans++
		a.log.Warn("scan failed, entering emergency mode", "base", uintptr(obj), "res", res.String())
		c.emergency = true
	}
}

// account folds a finished scan's tallies into the segment and the cycle.
func (c *cycle) account(seg *Seg, ss *ScanState) {
	if ss.fixed&^ss.Unfixed != 0 {
		c.arena.stats.SummaryViolations++
		c.arena.log.Error("reference fixed without being tallied",
			"segment", uintptr(seg.Base), "fixed", ss.fixed, "tallied", ss.Unfixed)
	}
	seg.summary |= ss.Unfixed
	c.summary |= ss.Unfixed
}

// reclaim frees or sweeps the condemned segments and closes the to-space.
// It returns the number of bytes reclaimed: the fall in live bytes between
// the flip and the end of the cycle, so padding swept again is not counted
// twice.
func (c *cycle) reclaim() uintptr {
	a := c.arena
	var liveAfter uintptr
	for _, seg := range c.condemned {
		seg.white = false
		if seg.pool.class.moving() && !seg.nailed && seg.buf == nil {
			a.freeSeg(seg)
			continue
		}
		if c.sweep(seg) {
			liveAfter += seg.live()
		}
	}
	for _, r := range c.copies {
		c.closeRegion(r)
		liveAfter += r.seg.live()
		if r.seg.pool.copy == r {
			r.seg.pool.copy = nil
		}
	}
	for _, seg := range c.condemned {
		seg.marks = nil
		seg.nailed = false
	}
	if liveAfter > c.liveBefore {
		return 0
	}
	return c.liveBefore - liveAfter
}

// sweep pads every unmarked run of seg. A non-moving segment records the
// runs as holes. A segment left with nothing live is freed, and sweep
// reports whether seg survived.
func (c *cycle) sweep(seg *Seg) bool {
	a := c.arena
	pool := seg.pool
	var (
		dead  []span
		run   span
		inRun bool
		live  bool
	)
	flush := func() {
		if inRun {
			dead = append(dead, run)
			inRun = false
		}
	}
	seg.walk(func(obj, next Addr) bool {
		if seg.marks.Test(seg.markIndex(obj)) {
			live = true
			flush()
			return true
		}
		if inRun && run.limit == obj {
			run.limit = next
		} else {
			flush()
			run, inRun = span{obj, next}, true
		}
		return true
	})
	flush()

	if !live && seg.buf == nil {
		a.freeSeg(seg)
		return false
	}
	seg.holes = seg.holes[:0]
	seg.padded = 0
	for _, d := range dead {
		pool.fmt.Pad(d.base, d.size())
		if pool.class == ClassAMS {
			seg.holes = append(seg.holes, d)
		}
		seg.padded += d.size()
	}
	return true
}
