// SPDX-License-Identifier: Apache-2.0

package mps

import "github.com/wundergraph/go-mps/internal/engine"

// Rank says how the collector may treat the references in a root.
type Rank = engine.Rank

const (
	// RankAmbiguous slots may hold anything. Objects they point at are
	// kept alive and never moved, and the slots are never rewritten.
	RankAmbiguous = engine.RankAmbig
	// RankExact slots hold 0 or the address of an object, and are
	// rewritten when the object moves.
	RankExact = engine.RankExact
)

// Thread is a registered mutator. At least one thread must be registered
// before allocation points can obtain memory.
type Thread struct {
	arena *Arena
	t     *engine.Thread
}

// Root is a registered table of reference slots.
type Root struct {
	r *engine.Root
}

// RegisterThread registers a mutator with the arena.
func (a *Arena) RegisterThread() (*Thread, error) {
	t, res := a.e.RegisterThread()
	if err := wrapRes("register thread", res); err != nil {
		return nil, err
	}
	return &Thread{arena: a, t: t}, nil
}

// RegisterRoots registers slots as the thread's ambiguous roots, standing
// in for its stack and registers. The collector reads the slots during
// every collection, so they must stay valid until the root is destroyed.
func (t *Thread) RegisterRoots(slots []Addr) (*Root, error) {
	r, res := t.arena.e.RegisterRoot(t.t, slots, engine.RankAmbig)
	if err := wrapRes("register thread roots", res); err != nil {
		return nil, err
	}
	return &Root{r: r}, nil
}

// Destroy unregisters the thread. It panics if roots of the thread remain.
func (t *Thread) Destroy() {
	t.t.Destroy()
}

// RegisterRoot registers a table of slots of the given rank. Exact slots
// are rewritten in place when the objects they refer to move.
func (a *Arena) RegisterRoot(slots []Addr, rank Rank) (*Root, error) {
	r, res := a.e.RegisterRoot(nil, slots, rank)
	if err := wrapRes("register root", res); err != nil {
		return nil, err
	}
	return &Root{r: r}, nil
}

// Destroy unregisters the root.
func (r *Root) Destroy() {
	r.r.Destroy()
}
