// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// The test format has 16-byte cells. Word 0 is size<<8 | tag, word 1 is a
// reference (cell), the new address (forwarded) or unused (pad).
const (
	tagCell = 1
	tagFwd  = 2
	tagPad  = 3

	cellSize = 16
)

func word(p Addr) *uintptr {
	return (*uintptr)(unsafe.Pointer(uintptr(p)))
}

func testMethods() FormatMethods {
	return FormatMethods{
		Align: cellSize,
		Scan: func(ss *ScanState, base, limit Addr) Res {
			for p := base; p < limit; p += Addr(*word(p) >> 8) {
				if *word(p)&0xff != tagCell {
					continue
				}
				ref := (*Addr)(unsafe.Pointer(uintptr(p) + 8))
				if *ref == 0 {
					continue
				}
				ss.Unfixed |= ss.Zone(*ref)
				if ss.Zone(*ref)&ss.White == 0 {
					continue
				}
				if res := ss.Fix2(ref); res != ResOK {
					return res
				}
			}
			return ResOK
		},
		Skip: func(p Addr) Addr {
			return p + Addr(*word(p)>>8)
		},
		Fwd: func(old, new Addr) {
			*word(old) = cellSize<<8 | tagFwd
			*word(old + 8) = uintptr(new)
		},
		IsFwd: func(p Addr) Addr {
			if *word(p)&0xff == tagFwd {
				return Addr(*word(p + 8))
			}
			return 0
		},
		Pad: func(p Addr, size uintptr) {
			*word(p) = size<<8 | tagPad
		},
	}
}

func writeCell(p, ref Addr) {
	*word(p) = cellSize<<8 | tagCell
	*word(p + 8) = uintptr(ref)
}

type fixture struct {
	arena  *Arena
	format *Format
	pool   *Pool
	thread *Thread
	buf    *Buffer
}

func newFixture(t *testing.T, pc PoolConfig, cfg Config) *fixture {
	t.Helper()
	return newFixtureWith(t, testMethods(), pc, cfg)
}

func newFixtureWith(t *testing.T, m FormatMethods, pc PoolConfig, cfg Config) *fixture {
	t.Helper()
	if cfg.Size == 0 {
		cfg.Size = 4 << 20
	}
	a, res := NewArena(cfg)
	require.Equal(t, ResOK, res)
	f, res := a.NewFormat(m)
	require.Equal(t, ResOK, res)
	pc.Format = f
	p, res := a.NewPool(pc)
	require.Equal(t, ResOK, res)
	th, res := a.RegisterThread()
	require.Equal(t, ResOK, res)
	b, res := p.NewBuffer()
	require.Equal(t, ResOK, res)
	fx := &fixture{arena: a, format: f, pool: p, thread: th, buf: b}
	t.Cleanup(fx.destroy)
	return fx
}

func (fx *fixture) destroy() {
	fx.buf.Destroy()
	if fx.pool.class == ClassAMS {
		fx.format.Destroy()
		fx.pool.Destroy()
	} else {
		fx.pool.Destroy()
		fx.format.Destroy()
	}
	fx.thread.Destroy()
	fx.arena.Destroy()
}

// alloc plays the mutator side of the buffer protocol for one cell.
func (fx *fixture) alloc(t *testing.T, ref Addr) Addr {
	t.Helper()
	for {
		p := Addr(fx.buf.Alloc.Load())
		if next := p + cellSize; p != 0 && uintptr(next) <= fx.buf.Limit.Load() {
			fx.buf.Alloc.Store(uintptr(next))
		} else {
			var res Res
			p, res = fx.buf.Fill(cellSize)
			require.Equal(t, ResOK, res)
		}
		writeCell(p, ref)
		fx.buf.Init.Store(fx.buf.Alloc.Load())
		if fx.buf.Limit.Load() != 0 || fx.buf.Trip() {
			return p
		}
	}
}
