// SPDX-License-Identifier: Apache-2.0

package mps

import (
	"slices"
	"sync"

	"github.com/wundergraph/go-mps/internal/engine"
)

// Pool is a region of managed memory with one management policy and one
// object format.
type Pool interface {
	// Arena returns the arena the pool belongs to.
	Arena() *Arena

	// IsAutomatic reports whether the collector reclaims unreachable
	// objects of the pool.
	IsAutomatic() bool

	// TotalSize returns the bytes of memory the pool owns.
	TotalSize() uintptr

	// FreeSize returns the bytes the pool owns but does not use for
	// objects.
	FreeSize() uintptr

	// CreateAllocationPoint creates an allocation point on the pool.
	CreateAllocationPoint() (*AllocationPoint, error)

	// Destroy destroys the pool's remaining allocation points, the pool and
	// its format, in the order the pool class requires.
	Destroy()
}

type pool struct {
	arena  *Arena
	e      *engine.Pool
	format *ObjectFormat
	owner  Pool

	mu   sync.Mutex
	aps  []*AllocationPoint
	dead bool
}

func newPool(arena *Arena, format *ObjectFormat, cfg engine.PoolConfig) (*pool, error) {
	if format == nil || format.arena != arena || format.owned || format.dead {
		return nil, wrapRes("create pool", engine.ResParam)
	}
	cfg.Format = format.e
	e, res := arena.e.NewPool(cfg)
	if err := wrapRes("create pool", res); err != nil {
		return nil, err
	}
	format.owned = true
	return &pool{arena: arena, e: e, format: format}, nil
}

func (p *pool) Arena() *Arena      { return p.arena }
func (p *pool) IsAutomatic() bool  { return true }
func (p *pool) TotalSize() uintptr { return p.e.TotalSize() }
func (p *pool) FreeSize() uintptr  { return p.e.FreeSize() }

func (p *pool) CreateAllocationPoint() (*AllocationPoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return nil, wrapRes("create allocation point", engine.ResParam)
	}
	b, res := p.e.NewBuffer()
	if err := wrapRes("create allocation point", res); err != nil {
		return nil, err
	}
	ap := &AllocationPoint{pool: p, b: b, align: p.format.align, fmt: p.format.methods}
	p.aps = append(p.aps, ap)
	return ap, nil
}

func (p *pool) forget(ap *AllocationPoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i := slices.Index(p.aps, ap); i >= 0 {
		p.aps = slices.Delete(p.aps, i, i+1)
	}
}

// shutdown destroys the remaining allocation points and marks the pool
// dead.
func (p *pool) shutdown() {
	p.mu.Lock()
	if p.dead {
		p.mu.Unlock()
		panic("mps: pool destroyed twice")
	}
	p.dead = true
	aps := p.aps
	p.aps = nil
	p.mu.Unlock()
	for _, ap := range aps {
		ap.destroy()
	}
}

// AutoMarkSweepPool is an automatic mark-sweep pool: objects never move
// and ambiguous references into it can be tolerated.
type AutoMarkSweepPool struct {
	*pool
}

// Destroy destroys the pool. The format goes first: the pool keeps what
// it needs of it.
func (p *AutoMarkSweepPool) Destroy() {
	p.shutdown()
	p.format.destroy()
	p.e.Destroy()
}

// AutoMarkSweepBuilder configures an AutoMarkSweepPool.
type AutoMarkSweepBuilder struct {
	arena     *Arena
	ambiguous bool
	fence     []byte
}

// NewAutoMarkSweep starts building a mark-sweep pool on arena.
func NewAutoMarkSweep(arena *Arena) *AutoMarkSweepBuilder {
	return &AutoMarkSweepBuilder{arena: arena, ambiguous: true}
}

// AllowAmbiguous sets whether ambiguous references, including ones into
// the middle of an object, keep objects of the pool alive. It defaults to
// true.
func (b *AutoMarkSweepBuilder) AllowAmbiguous(allow bool) *AutoMarkSweepBuilder {
	b.ambiguous = allow
	return b
}

// FenceTemplate enables debug fencing: template is written over memory
// handed to allocation points but not yet reserved, and checked when the
// memory is given back. Overwrites are counted in ArenaStats.
func (b *AutoMarkSweepBuilder) FenceTemplate(template []byte) *AutoMarkSweepBuilder {
	b.fence = template
	return b
}

// Build creates the pool. The pool takes ownership of format.
func (b *AutoMarkSweepBuilder) Build(format *ObjectFormat) (*AutoMarkSweepPool, error) {
	p, err := newPool(b.arena, format, engine.PoolConfig{
		Class:    engine.ClassAMS,
		Interior: b.ambiguous,
		Fence:    b.fence,
	})
	if err != nil {
		return nil, err
	}
	amsp := &AutoMarkSweepPool{pool: p}
	p.owner = amsp
	return amsp, nil
}

// AutoMostlyCopyingPool is an automatic mostly-copying pool: surviving
// objects are moved unless an ambiguous reference pins them.
type AutoMostlyCopyingPool struct {
	*pool
}

// Destroy destroys the pool, then its format.
func (p *AutoMostlyCopyingPool) Destroy() {
	p.shutdown()
	p.e.Destroy()
	p.format.destroy()
}

// AutoMostlyCopyingBuilder configures an AutoMostlyCopyingPool.
type AutoMostlyCopyingBuilder struct {
	arena    *Arena
	interior bool
	extendBy uintptr
}

// DefaultExtendBy is the default size of the segments a mostly-copying
// pool asks the arena for.
const DefaultExtendBy = 16 << 10

// NewAutoMostlyCopying starts building a mostly-copying pool on arena.
func NewAutoMostlyCopying(arena *Arena) *AutoMostlyCopyingBuilder {
	return &AutoMostlyCopyingBuilder{arena: arena, interior: true, extendBy: DefaultExtendBy}
}

// AllowInterior sets whether ambiguous references into the middle of an
// object keep it alive. It defaults to true.
func (b *AutoMostlyCopyingBuilder) AllowInterior(allow bool) *AutoMostlyCopyingBuilder {
	b.interior = allow
	return b
}

// ExtendBy sets the size of the segments the pool asks the arena for. It
// is rounded up to the arena's grain.
func (b *AutoMostlyCopyingBuilder) ExtendBy(size uintptr) *AutoMostlyCopyingBuilder {
	b.extendBy = size
	return b
}

// Build creates the pool. The pool takes ownership of format.
func (b *AutoMostlyCopyingBuilder) Build(format *ObjectFormat) (*AutoMostlyCopyingPool, error) {
	p, err := newPool(b.arena, format, engine.PoolConfig{
		Class:    engine.ClassAMC,
		Interior: b.interior,
		ExtendBy: b.extendBy,
	})
	if err != nil {
		return nil, err
	}
	amcp := &AutoMostlyCopyingPool{pool: p}
	p.owner = amcp
	return amcp, nil
}
