// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"slices"

	"github.com/wundergraph/go-mps/internal/vm"
)

// FormatMethods is the raw method table of an object format. Every method
// must be total over any formatted address handed to it, including
// forwarding and padding markers.
type FormatMethods struct {
	Align uintptr
	Scan  func(ss *ScanState, base, limit Addr) Res
	Skip  func(obj Addr) Addr
	Fwd   func(old, new Addr)
	IsFwd func(obj Addr) Addr
	Pad   func(addr Addr, size uintptr)
}

// Format is a registered object format.
type Format struct {
	arena   *Arena
	methods FormatMethods
	pools   []*Pool
	dead    bool
}

// NewFormat registers m with the arena.
func (a *Arena) NewFormat(m FormatMethods) (*Format, Res) {
	if m.Align == 0 || m.Align&(m.Align-1) != 0 || m.Align > a.grain {
		return nil, ResParam
	}
	if m.Scan == nil || m.Skip == nil || m.Fwd == nil || m.IsFwd == nil || m.Pad == nil {
		return nil, ResParam
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.formats++
	return &Format{arena: a, methods: m}, ResOK
}

// Destroy unregisters the format. It panics if a pool that still needs the
// format is alive.
func (f *Format) Destroy() {
	a := f.arena
	a.mu.Lock()
	defer a.mu.Unlock()
	if f.dead {
		panic("engine: format destroyed twice")
	}
	for _, p := range f.pools {
		if !p.class.detachesFormat() {
			panic("engine: format destroyed before its " + p.class.String() + " pool")
		}
	}
	f.dead = true
	a.formats--
}

// Class selects a pool's management policy.
type Class int

const (
	// ClassAMS is automatic mark-sweep: non-moving.
	ClassAMS Class = iota
	// ClassAMC is automatic mostly-copying: moving, except where nailed.
	ClassAMC
)

func (c Class) String() string {
	switch c {
	case ClassAMS:
		return "AMS"
	case ClassAMC:
		return "AMC"
	}
	return "unknown"
}

// detachesFormat reports whether pools of the class copy the format's
// methods at creation, so the format may be destroyed before the pool.
func (c Class) detachesFormat() bool {
	return c == ClassAMS
}

func (c Class) moving() bool {
	return c == ClassAMC
}

// PoolConfig carries pool creation parameters.
type PoolConfig struct {
	Class  Class
	Format *Format
	// Interior lets ambiguous references to the inside of an object keep
	// it alive.
	Interior bool
	ExtendBy uintptr
	// Fence is splatted over unused buffer space and checked on detach.
	Fence []byte
}

// Pool groups segments managed under one class and one format.
type Pool struct {
	arena    *Arena
	class    Class
	format   *Format
	fmt      FormatMethods
	interior bool
	extendBy uintptr
	fence    []byte

	segs    []*Seg
	buffers []*Buffer
	copy    *copyRegion
	dead    bool
}

// NewPool creates a pool.
func (a *Arena) NewPool(cfg PoolConfig) (*Pool, Res) {
	f := cfg.Format
	if f == nil || f.dead || f.arena != a {
		return nil, ResParam
	}
	if cfg.Class != ClassAMS && cfg.Class != ClassAMC {
		return nil, ResUnimpl
	}
	if cfg.ExtendBy == 0 {
		cfg.ExtendBy = 4 * a.grain
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	p := &Pool{
		arena:    a,
		class:    cfg.Class,
		format:   f,
		fmt:      f.methods,
		interior: cfg.Interior,
		extendBy: vm.RoundUp(cfg.ExtendBy, a.grain),
		fence:    slices.Clone(cfg.Fence),
	}
	f.pools = append(f.pools, p)
	a.pools = append(a.pools, p)
	a.log.Debug("pool created", "class", p.class.String(), "extendBy", p.extendBy)
	return p, ResOK
}

// Destroy releases every segment and detaches every buffer of the pool.
func (p *Pool) Destroy() {
	a := p.arena
	a.mu.Lock()
	defer a.mu.Unlock()
	if p.dead {
		panic("engine: pool destroyed twice")
	}
	for _, b := range slices.Clone(p.buffers) {
		b.destroyLocked()
	}
	for _, seg := range slices.Clone(p.segs) {
		a.freeSeg(seg)
	}
	if i := slices.Index(p.format.pools, p); i >= 0 {
		p.format.pools = slices.Delete(p.format.pools, i, i+1)
	}
	if i := slices.Index(a.pools, p); i >= 0 {
		a.pools = slices.Delete(a.pools, i, i+1)
	}
	p.dead = true
}

// TotalSize returns the bytes of segments the pool owns.
func (p *Pool) TotalSize() uintptr {
	a := p.arena
	a.mu.Lock()
	defer a.mu.Unlock()
	var total uintptr
	for _, seg := range p.segs {
		total += seg.size()
	}
	return total
}

// FreeSize returns the bytes the pool owns but holds no objects in.
func (p *Pool) FreeSize() uintptr {
	a := p.arena
	a.mu.Lock()
	defer a.mu.Unlock()
	var free uintptr
	for _, seg := range p.segs {
		for _, h := range seg.holes {
			free += h.size()
		}
	}
	for _, b := range p.buffers {
		if b.seg != nil {
			free += uintptr(b.bufLimit - Addr(b.Alloc.Load()))
		}
	}
	return free
}

// fillRegion finds room for a buffer of at least size bytes.
func (p *Pool) fillRegion(size uintptr) (*Seg, Addr, Addr, Res) {
	if p.class == ClassAMS {
		for _, seg := range p.segs {
			if seg.buf != nil {
				continue
			}
			if i := firstFit(seg.holes, size); i >= 0 {
				h := seg.holes[i]
				seg.holes = slices.Delete(seg.holes, i, i+1)
				seg.padded -= h.size()
				return seg, h.base, h.limit, ResOK
			}
		}
	}
	seg, res := p.arena.allocSeg(p, max(size, p.extendBy))
	if res != ResOK {
		p.arena.log.Warn("segment allocation failed", "class", p.class.String(), "size", size, "res", res.String())
		return nil, 0, 0, res
	}
	return seg, seg.Base, seg.Limit, ResOK
}

// splat writes the fence template over [from, to).
func (p *Pool) splat(seg *Seg, from, to Addr) {
	if len(p.fence) == 0 || from >= to {
		return
	}
	b := p.arena.bytes(from, uintptr(to-from))
	phase := int(uintptr(from-seg.Base) % uintptr(len(p.fence)))
	for i := range b {
		b[i] = p.fence[(phase+i)%len(p.fence)]
	}
}

// fenceIntact reports whether [from, to) still holds the fence template.
func (p *Pool) fenceIntact(seg *Seg, from, to Addr) bool {
	if len(p.fence) == 0 || from >= to {
		return true
	}
	b := p.arena.bytes(from, uintptr(to-from))
	phase := int(uintptr(from-seg.Base) % uintptr(len(p.fence)))
	for i := range b {
		if b[i] != p.fence[(phase+i)%len(p.fence)] {
			return false
		}
	}
	return true
}
