// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"slices"
	"sync/atomic"
)

// Buffer is the engine half of an allocation point. The mutator owns the
// fast path: it bumps Alloc while it stays under Limit, and publishes an
// object by storing Init = Alloc and then loading Limit. A flip stores
// Limit = 0 and then loads Init, so one of the two sides always sees the
// other.
//
// Init, Alloc and Limit are zero while the buffer is detached.
type Buffer struct {
	Init  atomic.Uintptr
	Alloc atomic.Uintptr
	Limit atomic.Uintptr

	pool     *Pool
	seg      *Seg
	bufBase  Addr
	bufLimit Addr

	// trapped is set by a flip; everything from flipInit on was not
	// committed in time and is thrown away by the next trip or fill.
	trapped  bool
	flipInit Addr
	dead     bool
}

// NewBuffer creates a detached buffer on p.
func (p *Pool) NewBuffer() (*Buffer, Res) {
	a := p.arena
	a.mu.Lock()
	defer a.mu.Unlock()
	if p.dead {
		return nil, ResParam
	}
	b := &Buffer{pool: p}
	p.buffers = append(p.buffers, b)
	a.buffers = append(a.buffers, b)
	return b, ResOK
}

// Fill detaches the current region, polls for a collection and attaches a
// fresh region holding at least size bytes. On success the first size bytes
// are already reserved: Init is the returned address and Alloc is past it.
func (b *Buffer) Fill(size uintptr) (Addr, Res) {
	a := b.pool.arena
	a.mu.Lock()
	defer a.mu.Unlock()
	if b.dead {
		return 0, ResParam
	}
	if a.threads == 0 {
		return 0, ResParam
	}
	if size == 0 || size%b.pool.fmt.Align != 0 {
		return 0, ResParam
	}
	b.detach()
	a.poll()

	seg, base, limit, res := b.pool.fillRegion(size)
	if res != ResOK {
		return 0, res
	}
	b.attach(seg, base, limit)
	a.allocSince += uintptr(limit - base)
	a.stats.BytesAllocated += uint64(limit - base)

	b.Init.Store(uintptr(base))
	b.Alloc.Store(uintptr(base) + size)
	b.Limit.Store(uintptr(limit))
	return base, ResOK
}

// Trip is the commit slow path, entered when the mutator saw Limit == 0
// after publishing Init. It reports whether the object just committed is
// valid. An invalid object has already been padded and the buffer detached.
func (b *Buffer) Trip() bool {
	a := b.pool.arena
	a.mu.Lock()
	defer a.mu.Unlock()
	if !b.trapped {
		return true
	}
	a.stats.Trips++
	b.detach()
	return false
}

// Destroy detaches the buffer and unregisters it.
func (b *Buffer) Destroy() {
	a := b.pool.arena
	a.mu.Lock()
	defer a.mu.Unlock()
	if b.dead {
		panic("engine: buffer destroyed twice")
	}
	b.destroyLocked()
}

func (b *Buffer) destroyLocked() {
	a := b.pool.arena
	b.detach()
	b.dead = true
	if i := slices.Index(b.pool.buffers, b); i >= 0 {
		b.pool.buffers = slices.Delete(b.pool.buffers, i, i+1)
	}
	if i := slices.Index(a.buffers, b); i >= 0 {
		a.buffers = slices.Delete(a.buffers, i, i+1)
	}
}

func (b *Buffer) attach(seg *Seg, base, limit Addr) {
	b.seg = seg
	b.bufBase = base
	b.bufLimit = limit
	b.trapped = false
	b.flipInit = 0
	seg.buf = b
	b.pool.splat(seg, base, limit)
}

// detach formats whatever the buffer has not committed and hands the
// segment back to its pool.
func (b *Buffer) detach() {
	seg := b.seg
	if seg == nil {
		return
	}
	a := b.pool.arena
	alloc := Addr(b.Alloc.Load())
	if !b.pool.fenceIntact(seg, alloc, b.bufLimit) {
		a.stats.FenceViolations++
		a.log.Error("buffer fence overwritten", "base", uintptr(alloc), "limit", uintptr(b.bufLimit))
	}
	if from, to, ok := seg.unformatted(); ok {
		b.pool.fmt.Pad(from, uintptr(to-from))
		seg.padded += uintptr(to - from)
		if b.pool.class == ClassAMS {
			insertHole(seg, span{from, to})
		}
	}
	seg.buf = nil
	b.seg = nil
	b.Limit.Store(0)
	b.Init.Store(0)
	b.Alloc.Store(0)
	b.bufBase, b.bufLimit = 0, 0
	b.trapped = false
}

// flip invalidates the buffer's uncommitted space for the coming cycle.
func (b *Buffer) flip() {
	if b.seg == nil || b.trapped {
		return
	}
	b.Limit.Store(0)
	b.flipInit = Addr(b.Init.Load())
	b.trapped = true
}

func insertHole(seg *Seg, h span) {
	insert(&seg.holes, h)
}
