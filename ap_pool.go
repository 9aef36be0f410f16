// SPDX-License-Identifier: Apache-2.0

package mps

import (
	"sync"

	"github.com/wundergraph/go-mps/internal/engine"
)

// APPool hands out allocation points of one pool to goroutines. An
// allocation point is used by one goroutine at a time, so concurrent
// mutators each Acquire their own and Release it when they are done;
// released allocation points keep their buffer and are handed out again.
type APPool struct {
	pool Pool
	mu   sync.Mutex
	// idle holds released allocation points, most recently released last.
	idle []*AllocationPoint
	// live counts allocation points handed out and not yet released.
	live int
	dead bool
}

// NewAPPool creates an allocation point pool for p.
func NewAPPool(p Pool) *APPool {
	return &APPool{pool: p}
}

// Acquire returns an idle allocation point or creates a new one.
func (p *APPool) Acquire() (*AllocationPoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return nil, wrapRes("acquire allocation point", engine.ResParam)
	}

	for n := len(p.idle); n > 0; n = len(p.idle) {
		ap := p.idle[n-1]
		p.idle = p.idle[:n-1]
		if ap.b == nil {
			continue
		}
		p.live++
		return ap, nil
	}

	ap, err := p.pool.CreateAllocationPoint()
	if err != nil {
		return nil, err
	}
	p.live++
	return ap, nil
}

// Release returns ap for reuse. An outstanding reservation is abandoned.
func (p *APPool) Release(ap *AllocationPoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.release(ap)
}

// ReleaseMany returns several allocation points at once.
func (p *APPool) ReleaseMany(aps []*AllocationPoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ap := range aps {
		p.release(ap)
	}
}

func (p *APPool) release(ap *AllocationPoint) {
	if ap.outstanding {
		ap.Abandon(ap.resAddr, ap.resSize)
	}
	p.live--
	if ap.b == nil {
		// Destroyed along with its pool.
		return
	}
	if p.dead {
		ap.Destroy()
		return
	}
	p.idle = append(p.idle, ap)
}

// Idle returns the number of allocation points waiting to be reused.
func (p *APPool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Destroy destroys the idle allocation points. Allocation points still
// acquired are destroyed as they are released.
func (p *APPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dead = true
	if p.live > 0 {
		p.pool.Arena().log.Debug("allocation point pool destroyed while in use", "acquired", p.live)
	}
	for _, ap := range p.idle {
		// The pool may have destroyed it already.
		if ap.b != nil {
			ap.Destroy()
		}
	}
	p.idle = nil
}
