// SPDX-License-Identifier: Apache-2.0

package mps

import (
	"github.com/wundergraph/go-mps/internal/engine"
)

// Format describes the layout of client objects to the collector. The
// collector never interprets object memory itself: it calls these methods,
// usually during a pause, on any formatted address of a pool, which
// includes forwarding markers and padding as well as live objects. The
// methods must therefore be total over all three.
type Format interface {
	// Scan fixes every reference held by the formatted objects in
	// [base, limit). A returned error aborts the scan.
	Scan(ss *ScanState, base, limit Addr) error

	// Skip returns the address just past the object at addr.
	Skip(addr Addr) Addr

	// Forward replaces the object at old with a forwarding marker pointing
	// to new, where a copy of it now lives. The marker must keep the
	// object's size so that Skip still works.
	Forward(old, new Addr)

	// IsForwarded returns the forwarding address if addr holds a
	// forwarding marker.
	IsForwarded(addr Addr) (Addr, bool)

	// Pad writes a padding object covering size bytes at addr. size is
	// any nonzero multiple of the format's alignment.
	Pad(addr Addr, size uintptr)
}

// ObjectFormat is a Format registered with an arena. It is owned by the
// pool it is handed to.
type ObjectFormat struct {
	arena   *Arena
	align   uintptr
	methods Format
	e       *engine.Format
	owned   bool
	dead    bool
}

// NewObjectFormat registers methods as a format for objects aligned to
// align bytes. It fails with ErrInvalidParam unless align is a nonzero
// power of two.
func NewObjectFormat(arena *Arena, align uintptr, methods Format) (*ObjectFormat, error) {
	if align == 0 || align&(align-1) != 0 || methods == nil {
		return nil, wrapRes("create format", engine.ResParam)
	}
	f := &ObjectFormat{arena: arena, align: align, methods: methods}
	e, res := arena.e.NewFormat(engine.FormatMethods{
		Align: align,
		Scan:  f.scan,
		Skip:  methods.Skip,
		Fwd:   methods.Forward,
		IsFwd: func(addr Addr) Addr {
			if to, ok := methods.IsForwarded(addr); ok {
				return to
			}
			return 0
		},
		Pad: methods.Pad,
	})
	if err := wrapRes("create format", res); err != nil {
		return nil, err
	}
	f.e = e
	return f, nil
}

// Align returns the format's alignment.
func (f *ObjectFormat) Align() uintptr {
	return f.align
}

// Destroy unregisters a format that was never handed to a pool. Formats
// owned by a pool are destroyed with it.
func (f *ObjectFormat) Destroy() {
	if f.owned {
		panic("mps: format is owned by a pool")
	}
	f.destroy()
}

func (f *ObjectFormat) destroy() {
	if f.dead {
		panic("mps: format destroyed twice")
	}
	f.dead = true
	f.e.Destroy()
}

func (f *ObjectFormat) scan(ess *engine.ScanState, base, limit Addr) engine.Res {
	ss := &ScanState{e: ess}
	if err := f.methods.Scan(ss, base, limit); err != nil {
		f.arena.log.Debug("scan failed", "base", uintptr(base), "limit", uintptr(limit), "error", err)
		if res := engine.Res(ResultCode(err)); res != engine.ResOK {
			return res
		}
		return engine.ResFail
	}
	return engine.ResOK
}
