// SPDX-License-Identifier: Apache-2.0

package mps

import (
	"github.com/wundergraph/go-mps/internal/engine"
)

// AllocationPoint allocates objects in a pool with a two-phase protocol:
// Reserve memory, initialize it so that the format can scan it, then
// Commit. Commit returns false if a collection happened in between; the
// object is then gone and the whole sequence must be repeated.
//
// An allocation point belongs to one goroutine at a time.
type AllocationPoint struct {
	pool  *pool
	b     *engine.Buffer
	align uintptr
	fmt   Format

	outstanding bool
	resAddr     Addr
	resSize     uintptr
}

// Pool returns the pool the allocation point allocates in.
func (ap *AllocationPoint) Pool() Pool {
	return ap.pool.owner
}

// Reserve reserves size bytes. The memory is not seen by the collector
// until it is committed, and must be initialized to a formatted object
// before that. size must be a nonzero multiple of the format's alignment,
// and no other reservation may be outstanding.
func (ap *AllocationPoint) Reserve(size uintptr) (Addr, error) {
	if ap.b == nil {
		return 0, wrapRes("reserve on destroyed allocation point", engine.ResParam)
	}
	if size == 0 || size%ap.align != 0 {
		return 0, wrapRes("reserve", engine.ResParam)
	}
	if ap.outstanding {
		return 0, wrapRes("reserve with a reservation outstanding", engine.ResParam)
	}

	b := ap.b
	p := Addr(b.Alloc.Load())
	next := p + Addr(size)
	if p != 0 && next > p && uintptr(next) <= b.Limit.Load() {
		b.Alloc.Store(uintptr(next))
	} else {
		var res engine.Res
		p, res = b.Fill(size)
		if err := wrapRes("reserve", res); err != nil {
			return 0, err
		}
	}
	ap.outstanding = true
	ap.resAddr, ap.resSize = p, size
	return p, nil
}

// Commit publishes the object reserved at addr. It reports whether the
// object is valid: false means a collection ran since Reserve and the
// memory has been reclaimed. It panics if (addr, size) is not the
// outstanding reservation.
func (ap *AllocationPoint) Commit(addr Addr, size uintptr) bool {
	if !ap.outstanding || addr != ap.resAddr || size != ap.resSize {
		panic("mps: commit does not match the outstanding reservation")
	}
	ap.outstanding = false
	b := ap.b
	b.Init.Store(b.Alloc.Load())
	if b.Limit.Load() != 0 {
		return true
	}
	return b.Trip()
}

// Abandon gives up an outstanding reservation. The memory is padded and
// committed as padding, so it does not need to have been initialized.
func (ap *AllocationPoint) Abandon(addr Addr, size uintptr) {
	if !ap.outstanding || addr != ap.resAddr || size != ap.resSize {
		panic("mps: abandon does not match the outstanding reservation")
	}
	ap.fmt.Pad(addr, size)
	ap.Commit(addr, size)
}

// Destroy destroys the allocation point. Any outstanding reservation is
// discarded.
func (ap *AllocationPoint) Destroy() {
	if ap.b == nil {
		panic("mps: allocation point destroyed twice")
	}
	ap.pool.forget(ap)
	ap.destroy()
}

func (ap *AllocationPoint) destroy() {
	ap.b.Destroy()
	ap.b = nil
	ap.outstanding = false
}

// AllocWith allocates size bytes on ap, runs init on them and commits,
// starting over for as long as a collection invalidates the object.
func AllocWith(ap *AllocationPoint, size uintptr, init func(addr Addr)) (Addr, error) {
	for {
		p, err := ap.Reserve(size)
		if err != nil {
			return 0, err
		}
		init(p)
		if ap.Commit(p, size) {
			return p, nil
		}
	}
}
